package authsync

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

const (
	DefaultCookieName         = "blog_auth_session"
	DefaultCredentialKey      = "blog_auth_token"
	DefaultLoginPath          = "/login"
	DefaultHeartbeatInterval  = 5 * time.Minute
	DefaultMaxRetries         = 3
	DefaultProbeTimeout       = 10 * time.Second
	DefaultCookiePollInterval = 5 * time.Second
	DefaultKnownGoodTTL       = 30 * time.Second
	DefaultTokenRefreshWindow = 2 * time.Minute

	// EnvPrefix prefixes every environment override, e.g. AUTHSYNC_BASE_URL.
	EnvPrefix = "AUTHSYNC_"
)

// Duration decodes TOML and env strings such as "5m" or "10s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the engine settings.
type Config struct {
	BaseURL              string   `toml:"base_url"`
	CookieName           string   `toml:"cookie_name"`
	CredentialKey        string   `toml:"credential_key"`
	StorePath            string   `toml:"store_path"`
	LoginPath            string   `toml:"login_path"`
	HeartbeatInterval    Duration `toml:"heartbeat_interval"`
	HeartbeatMinInterval Duration `toml:"heartbeat_min_interval"`
	HeartbeatMaxInterval Duration `toml:"heartbeat_max_interval"`
	MaxRetries           int      `toml:"max_retries"`
	ProbeTimeout         Duration `toml:"probe_timeout"`
	CookiePollInterval   Duration `toml:"cookie_poll_interval"`
	KnownGoodTTL         Duration `toml:"known_good_ttl"`
	TokenRefreshWindow   Duration `toml:"token_refresh_window"`
	RequestsPerSecond    float64  `toml:"requests_per_second"`
	RequestBurst         int      `toml:"request_burst"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		CookieName:           DefaultCookieName,
		CredentialKey:        DefaultCredentialKey,
		LoginPath:            DefaultLoginPath,
		HeartbeatInterval:    Duration(DefaultHeartbeatInterval),
		HeartbeatMinInterval: Duration(30 * time.Second),
		HeartbeatMaxInterval: Duration(30 * time.Minute),
		MaxRetries:           DefaultMaxRetries,
		ProbeTimeout:         Duration(DefaultProbeTimeout),
		CookiePollInterval:   Duration(DefaultCookiePollInterval),
		KnownGoodTTL:         Duration(DefaultKnownGoodTTL),
		TokenRefreshWindow:   Duration(DefaultTokenRefreshWindow),
		RequestsPerSecond:    10,
		RequestBurst:         5,
	}
}

// LoadConfig reads a TOML file on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode config file").
			WithMetadata(map[string]any{"path": path})
	}
	return cfg, nil
}

// EnvFromFiles merges .env files (missing files are skipped) with the process
// environment. Process values win.
func EnvFromFiles(files ...string) (map[string]string, error) {
	env := map[string]string{}
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			continue
		}
		values, err := godotenv.Read(f)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read env file").
				WithMetadata(map[string]any{"path": f})
		}
		for k, v := range values {
			env[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}
	return env, nil
}

// ApplyEnv overrides fields from AUTHSYNC_* keys. Unparsable values are ignored.
func (c *Config) ApplyEnv(env map[string]string) {
	get := func(key string) (string, bool) {
		v, ok := env[EnvPrefix+key]
		return v, ok && v != ""
	}
	if v, ok := get("BASE_URL"); ok {
		c.BaseURL = v
	}
	if v, ok := get("COOKIE_NAME"); ok {
		c.CookieName = v
	}
	if v, ok := get("CREDENTIAL_KEY"); ok {
		c.CredentialKey = v
	}
	if v, ok := get("STORE_PATH"); ok {
		c.StorePath = v
	}
	if v, ok := get("LOGIN_PATH"); ok {
		c.LoginPath = v
	}
	durations := map[string]*Duration{
		"HEARTBEAT_INTERVAL":   &c.HeartbeatInterval,
		"PROBE_TIMEOUT":        &c.ProbeTimeout,
		"COOKIE_POLL_INTERVAL": &c.CookiePollInterval,
		"KNOWN_GOOD_TTL":       &c.KnownGoodTTL,
		"TOKEN_REFRESH_WINDOW": &c.TokenRefreshWindow,
	}
	for key, target := range durations {
		if v, ok := get(key); ok {
			var d Duration
			if err := d.UnmarshalText([]byte(v)); err == nil {
				*target = d
			}
		}
	}
	if v, ok := get("MAX_RETRIES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v, ok := get("REQUESTS_PER_SECOND"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RequestsPerSecond = f
		}
	}
}

// Validate checks ranges and required fields.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, is.URL),
		validation.Field(&c.CookieName, validation.Required),
		validation.Field(&c.CredentialKey, validation.Required),
		validation.Field(&c.HeartbeatInterval, validation.Required, validation.Min(Duration(time.Second))),
		validation.Field(&c.MaxRetries, validation.Required, validation.Min(1)),
		validation.Field(&c.ProbeTimeout, validation.Required, validation.Min(Duration(100*time.Millisecond))),
		validation.Field(&c.CookiePollInterval, validation.Required, validation.Min(Duration(10*time.Millisecond))),
		validation.Field(&c.KnownGoodTTL, validation.Min(Duration(0))),
		validation.Field(&c.TokenRefreshWindow, validation.Min(Duration(0))),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration").
			WithTextCode(TextCodeValidation)
	}
	return nil
}

// withDefaults fills zero values so hand-built configs behave like DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CookieName == "" {
		c.CookieName = def.CookieName
	}
	if c.CredentialKey == "" {
		c.CredentialKey = def.CredentialKey
	}
	if c.LoginPath == "" {
		c.LoginPath = def.LoginPath
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatMinInterval <= 0 {
		c.HeartbeatMinInterval = def.HeartbeatMinInterval
	}
	if c.HeartbeatMaxInterval <= 0 {
		c.HeartbeatMaxInterval = def.HeartbeatMaxInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.CookiePollInterval <= 0 {
		c.CookiePollInterval = def.CookiePollInterval
	}
	if c.KnownGoodTTL < 0 {
		c.KnownGoodTTL = 0
	}
	if c.TokenRefreshWindow < 0 {
		c.TokenRefreshWindow = 0
	}
	return c
}
