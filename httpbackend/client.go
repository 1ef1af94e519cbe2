// Package httpbackend implements authsync.Backend over the blog's REST API.
// Cookies set by the server land in a cookie jar that doubles as the
// engine's read-only CookieSource.
package httpbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	authsync "github.com/goliatone/go-authsync"
	"github.com/goliatone/go-authsync/internal/wire"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const maxErrorBody = 4 << 10

var (
	_ authsync.Backend           = (*Client)(nil)
	_ authsync.IntegrityVerifier = (*Client)(nil)
	_ authsync.TokenRenewer      = (*Client)(nil)
	_ authsync.SessionExtender   = (*Client)(nil)
	_ authsync.AlertReporter     = (*Client)(nil)
)

// Option customizes a Client.
type Option func(*Client)

// WithTimeout sets the per request timeout of the underlying http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithTransport replaces the round tripper (proxies, fault injection).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.http.Transport = rt
		}
	}
}

// WithRateLimit caps outgoing requests. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(logger authsync.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Client talks to the blog backend.
type Client struct {
	base      *url.URL
	http      *http.Client
	jar       *cookiejar.Jar
	limiter   *rate.Limiter
	logger    authsync.Logger
	userAgent string
	now       func() time.Time
}

// New returns a Client for baseURL with a fresh cookie jar.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		if err == nil {
			err = goerrors.New("base url needs a scheme and host", goerrors.CategoryBadInput)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid backend url").
			WithMetadata(map[string]any{"base_url": baseURL})
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create cookie jar")
	}

	c := &Client{
		base:      base,
		http:      &http.Client{Jar: jar, Timeout: authsync.DefaultProbeTimeout},
		jar:       jar,
		logger:    authsync.DefaultLogger("httpbackend"),
		userAgent: "go-authsync",
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// NewFromConfig builds a Client from the engine configuration.
func NewFromConfig(cfg authsync.Config, logger authsync.Logger) (*Client, error) {
	return New(cfg.BaseURL,
		WithTimeout(cfg.ProbeTimeout.Std()),
		WithRateLimit(cfg.RequestsPerSecond, cfg.RequestBurst),
		WithLogger(logger),
	)
}

// Cookies returns the jar backed CookieSource.
func (c *Client) Cookies() *JarCookies {
	return NewJarCookies(c.jar, c.base)
}

// Login implements authsync.Backend.
func (c *Client) Login(ctx context.Context, username, password string) (authsync.LoginResult, error) {
	var out wire.LoginResponse
	err := c.do(ctx, http.MethodPost, wire.PathLogin, "", wire.LoginRequest{
		Username: username,
		Password: password,
	}, &out)
	if err != nil {
		return authsync.LoginResult{}, err
	}
	return c.loginResult(out), nil
}

// Logout implements authsync.Backend.
func (c *Client) Logout(ctx context.Context, token string, reason authsync.LogoutReason) error {
	var out wire.MessageResponse
	return c.do(ctx, http.MethodPost, wire.PathLogout, token, wire.LogoutRequest{Reason: string(reason)}, &out)
}

// CheckSession implements authsync.Backend.
func (c *Client) CheckSession(ctx context.Context, token string) (authsync.SessionCheck, error) {
	var out wire.ValidateResponse
	if err := c.do(ctx, http.MethodGet, wire.PathValidate, token, nil, &out); err != nil {
		return authsync.SessionCheck{}, err
	}
	if !out.IsValid || out.SessionInfo == nil {
		return authsync.SessionCheck{}, authsync.NewAuthRejectedError("session is not valid")
	}
	return authsync.SessionCheck{
		User:      out.User.ToUser(),
		SessionID: out.SessionInfo.SessionID,
		IssuedAt:  out.SessionInfo.CreatedAt,
		ExpiresAt: out.SessionInfo.ExpiresAt,
	}, nil
}

// HeartbeatPing implements authsync.Backend.
func (c *Client) HeartbeatPing(ctx context.Context, token, sessionID string) (authsync.HeartbeatResult, error) {
	var out wire.HeartbeatResponse
	err := c.do(ctx, http.MethodPost, wire.PathHeartbeat, token, wire.HeartbeatRequest{
		Timestamp:    c.now().UTC(),
		ActivityData: map[string]any{"session_id": sessionID},
	}, &out)
	if err != nil {
		return authsync.HeartbeatResult{}, err
	}
	if out.SessionID != "" && sessionID != "" && out.SessionID != sessionID {
		return authsync.HeartbeatResult{}, authsync.NewAuthRejectedError("heartbeat answered for another session")
	}
	return authsync.HeartbeatResult{
		Status:          out.Status,
		ServerTimestamp: out.ServerTimestamp,
		NextPingIn:      time.Duration(out.NextPingIn) * time.Second,
		Token:           out.AccessToken,
	}, nil
}

// VerifyCookieIntegrity implements authsync.IntegrityVerifier.
func (c *Client) VerifyCookieIntegrity(ctx context.Context, token, cookieValue, expectedUserID string) (authsync.ServerIntegrity, error) {
	var out wire.IntegrityResponse
	err := c.do(ctx, http.MethodPost, wire.PathIntegrity, token, wire.IntegrityRequest{
		CookieValue:    cookieValue,
		ExpectedUserID: expectedUserID,
	}, &out)
	if err != nil {
		return authsync.ServerIntegrity{}, err
	}
	return authsync.ServerIntegrity{
		IntegrityValid:  out.IntegrityValid,
		SessionMatch:    out.SessionMatch,
		UserMatch:       out.UserMatch,
		ExpiryValid:     out.ExpiryValid,
		SecurityScore:   out.SecurityScore,
		Issues:          out.Issues,
		Recommendations: out.Recommendations,
	}, nil
}

// RefreshToken implements authsync.TokenRenewer. The backend revokes the
// presented token and resets the session cookie.
func (c *Client) RefreshToken(ctx context.Context, token string) (authsync.LoginResult, error) {
	var out wire.RefreshResponse
	if err := c.do(ctx, http.MethodPost, wire.PathRefresh, token, nil, &out); err != nil {
		return authsync.LoginResult{}, err
	}
	return c.loginResult(out.LoginResponse), nil
}

// ExtendSession implements authsync.SessionExtender.
func (c *Client) ExtendSession(ctx context.Context, token, sessionID string, by time.Duration) (time.Time, error) {
	var out wire.ExtendResponse
	err := c.do(ctx, http.MethodPost, wire.PathExtend, token, wire.ExtendRequest{
		SessionID:     sessionID,
		ExtendSeconds: int(by / time.Second),
	}, &out)
	if err != nil {
		return time.Time{}, err
	}
	return out.ExpiresAt, nil
}

// ReportCookieAlert implements authsync.AlertReporter.
func (c *Client) ReportCookieAlert(ctx context.Context, token string, alert authsync.CookieAlert) error {
	var out wire.AlertResponse
	err := c.do(ctx, http.MethodPost, wire.PathAlert, token, wire.AlertRequest{
		Message:       alert.Message,
		SessionID:     alert.SessionID,
		CookieValue:   alert.CookieValue,
		SecurityScore: alert.SecurityScore,
		Issues:        alert.Issues,
		DetectedAt:    alert.DetectedAt.UTC(),
	}, &out)
	if err != nil {
		return err
	}
	c.logger.Debug("cookie alert recorded id=%s", out.AlertID)
	return nil
}

func (c *Client) loginResult(out wire.LoginResponse) authsync.LoginResult {
	res := authsync.LoginResult{
		Token:     out.AccessToken,
		User:      out.User.ToUser(),
		SessionID: out.SessionID,
	}
	if out.ExpiresIn > 0 {
		res.ExpiresAt = c.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return res
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return authsync.NewNetworkError(err, "request throttled")
		}
	}

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode request")
		}
		payload = bytes.NewReader(raw)
	}

	endpoint := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), payload)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(wire.HeaderRequestID, reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("%s %s request_id=%s failed: %v", method, path, reqID, err)
		return authsync.NewNetworkError(err, "backend unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readDetail(resp.Body)
		c.logger.Debug("%s %s request_id=%s status=%d", method, path, reqID, resp.StatusCode)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return authsync.NewAuthRejectedError(msg)
		case http.StatusForbidden:
			return authsync.NewForbiddenError(msg)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return authsync.NewNetworkError(nil, orDefault(msg, http.StatusText(resp.StatusCode)))
		default:
			return authsync.NewServerError(resp.StatusCode, orDefault(msg, http.StatusText(resp.StatusCode)))
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode backend response").
			WithTextCode(authsync.TextCodeInvalidResponse).
			WithMetadata(map[string]any{"path": path, "request_id": reqID})
	}
	return nil
}

func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var e wire.ErrorResponse
	if json.Unmarshal(raw, &e) == nil && e.Detail != "" {
		return e.Detail
	}
	return strings.TrimSpace(string(raw))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
