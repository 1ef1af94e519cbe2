package authsync

import (
	"context"
	"sync"
	"time"
)

// CookieEventKind names a cookie transition.
type CookieEventKind string

const (
	CookieCreated CookieEventKind = "created"
	CookieChanged CookieEventKind = "changed"
	CookieCleared CookieEventKind = "cleared"
)

// CookieObservation is the last polled cookie state. Value is truncated.
type CookieObservation struct {
	Exists      bool      `json:"exists"`
	Value       string    `json:"value,omitempty"`
	LastChecked time.Time `json:"last_checked"`
	ChangeCount int       `json:"change_count"`
}

// CookieEvent is delivered to OnChange listeners. Values are truncated and
// meant for diagnostics only.
type CookieEvent struct {
	Kind        CookieEventKind
	Name        string
	OldValue    string
	NewValue    string
	At          time.Time
	Observation CookieObservation
}

// CookieListener receives cookie transitions.
type CookieListener func(CookieEvent)

type cookieListener struct {
	id uint64
	fn CookieListener
}

// CookieMonitorOption customizes a CookieMonitor.
type CookieMonitorOption func(*CookieMonitor)

// WithCookieVerifier enables the server side integrity cross-check.
func WithCookieVerifier(v IntegrityVerifier) CookieMonitorOption {
	return func(c *CookieMonitor) {
		c.verifier = v
	}
}

// WithCookieReporter sends an alert to the backend before an integrity
// violation is escalated.
func WithCookieReporter(r AlertReporter) CookieMonitorOption {
	return func(c *CookieMonitor) {
		c.reporter = r
	}
}

// WithCookieRecoverer sets where cookie anomalies are escalated.
func WithCookieRecoverer(r Recoverer) CookieMonitorOption {
	return func(c *CookieMonitor) {
		c.recoverer = r
	}
}

// WithCookieLogger overrides the logger.
func WithCookieLogger(logger Logger) CookieMonitorOption {
	return func(c *CookieMonitor) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCookieClock injects a custom clock.
func WithCookieClock(clock func() time.Time) CookieMonitorOption {
	return func(c *CookieMonitor) {
		if clock != nil {
			c.now = clock
		}
	}
}

// CookieMonitor watches the session cookie for removal or tampering. It
// never writes the cookie and never logs the user out by itself; anomalies
// seen while authenticated are handed to the Recoverer.
type CookieMonitor struct {
	name      string
	source    CookieSource
	state     StateReader
	verifier  IntegrityVerifier
	reporter  AlertReporter
	recoverer Recoverer
	logger    Logger
	now       func() time.Time
	interval  time.Duration
	timeout   time.Duration

	mu        sync.Mutex
	obs       CookieObservation
	raw       string
	baselined bool
	warnings  []string
	listeners []cookieListener
	nextID    uint64
	visible   bool
	running   bool
	gen       uint64
	stop      chan struct{}
	kick      chan struct{}
}

// NewCookieMonitor builds a monitor for cfg.CookieName read from source.
func NewCookieMonitor(source CookieSource, state StateReader, cfg Config, opts ...CookieMonitorOption) *CookieMonitor {
	cfg = cfg.withDefaults()
	c := &CookieMonitor{
		name:     cfg.CookieName,
		source:   source,
		state:    state,
		logger:   defLogger{name: "cookies"},
		now:      time.Now,
		interval: cfg.CookiePollInterval.Std(),
		timeout:  cfg.ProbeTimeout.Std(),
		visible:  true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Start begins polling. The first observation is the baseline and fires no
// event. Calling Start on a running monitor is a no-op.
func (c *CookieMonitor) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.gen++
	gen := c.gen
	c.stop = make(chan struct{})
	c.kick = make(chan struct{}, 1)
	stop, kick := c.stop, c.kick
	c.mu.Unlock()

	c.check(ctx, gen)
	go c.loop(ctx, gen, stop, kick)
	c.logger.Debug("cookie monitor started for %s every %s", c.name, c.interval)
}

// Stop halts polling. Safe to call repeatedly; results of a poll still in
// progress are dropped.
func (c *CookieMonitor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.gen++
	close(c.stop)
	c.stop, c.kick = nil, nil
	c.baselined = false
}

// Running reports whether the poll loop is active.
func (c *CookieMonitor) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Trigger asks the running loop for an out-of-cycle poll without blocking.
func (c *CookieMonitor) Trigger() {
	c.mu.Lock()
	kick := c.kick
	c.mu.Unlock()
	if kick == nil {
		return
	}
	select {
	case kick <- struct{}{}:
	default:
	}
}

// SetVisible records foreground visibility; becoming visible polls at once.
func (c *CookieMonitor) SetVisible(visible bool) {
	c.mu.Lock()
	was := c.visible
	c.visible = visible
	c.mu.Unlock()
	if visible && !was {
		c.Trigger()
	}
}

// Check polls the cookie once and dispatches any transition.
func (c *CookieMonitor) Check(ctx context.Context) CookieObservation {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	return c.check(ctx, gen)
}

// Observation returns the last observation.
func (c *CookieMonitor) Observation() CookieObservation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.obs
}

// OnChange registers a listener. The returned func unsubscribes it.
func (c *CookieMonitor) OnChange(fn CookieListener) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, cookieListener{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Warnings returns the issues of the last integrity report.
func (c *CookieMonitor) Warnings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.warnings...)
}

// ClearWarnings drops stored integrity warnings.
func (c *CookieMonitor) ClearWarnings() {
	c.mu.Lock()
	c.warnings = nil
	c.mu.Unlock()
}

// ValidateCookieIntegrity cross-references the cookie, the credential claims
// and the machine's session copy. With no state change between calls it
// returns the same verdict and score.
func (c *CookieMonitor) ValidateCookieIntegrity(ctx context.Context) IntegrityReport {
	st := c.state.State()
	value, exists := c.source.Cookie(c.name)
	now := c.now()

	sessionMatch, userMatch, expiryValid := true, true, true
	var extra []string

	if st.IsAuthenticated() {
		sessionMatch = exists && value == st.SessionID
		expiryValid = !st.Session.Expired(now)

		if claims, err := InspectToken(st.Token); err == nil {
			if uid := claims.UserID(); uid != "" && st.User != nil && uid != st.User.ID {
				userMatch = false
			}
			if claims.SessionID != "" && claims.SessionID != st.SessionID {
				sessionMatch = false
			}
			if claims.Expired(now) {
				expiryValid = false
			}
		}

		if c.verifier != nil && exists && st.User != nil {
			vctx, cancel := context.WithTimeout(ctx, c.timeout)
			srv, err := c.verifier.VerifyCookieIntegrity(vctx, st.Token, value, st.User.ID)
			cancel()
			if err != nil {
				c.logger.Debug("server integrity check unavailable: %s", ErrorMessage(err))
			} else {
				sessionMatch = sessionMatch && srv.SessionMatch
				userMatch = userMatch && srv.UserMatch
				expiryValid = expiryValid && srv.ExpiryValid
				extra = srv.Issues
			}
		}
	} else if exists {
		sessionMatch = false
	}

	report := ScoreIntegrity(sessionMatch, userMatch, expiryValid)
	for _, issue := range extra {
		report.Issues = appendUnique(report.Issues, issue)
	}
	report.CheckedAt = now

	c.mu.Lock()
	c.warnings = append([]string(nil), report.Issues...)
	c.mu.Unlock()

	if !report.IntegrityValid {
		c.logger.Warn("cookie integrity score=%d issues=%v", report.SecurityScore, report.Issues)
	}
	return report
}

func (c *CookieMonitor) loop(ctx context.Context, gen uint64, stop, kick <-chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			c.check(ctx, gen)
		case <-kick:
			c.check(ctx, gen)
		}
	}
}

func (c *CookieMonitor) check(ctx context.Context, gen uint64) CookieObservation {
	value, exists := c.source.Cookie(c.name)
	now := c.now()

	c.mu.Lock()
	if gen != c.gen {
		obs := c.obs
		c.mu.Unlock()
		return obs
	}
	prev, prevRaw := c.obs, c.raw
	obs := CookieObservation{
		Exists:      exists,
		Value:       truncate(value, 8),
		LastChecked: now,
		ChangeCount: prev.ChangeCount,
	}

	var evt *CookieEvent
	if c.baselined {
		switch {
		case prev.Exists && !exists:
			evt = &CookieEvent{Kind: CookieCleared, OldValue: prev.Value}
		case !prev.Exists && exists:
			evt = &CookieEvent{Kind: CookieCreated, NewValue: obs.Value}
		case exists && value != prevRaw:
			evt = &CookieEvent{Kind: CookieChanged, OldValue: prev.Value, NewValue: obs.Value}
		}
	}
	if evt != nil {
		obs.ChangeCount++
		evt.Name = c.name
		evt.At = now
		evt.Observation = obs
	}
	c.baselined = true
	c.obs = obs
	c.raw = value
	listeners := append([]cookieListener(nil), c.listeners...)
	c.mu.Unlock()

	if evt == nil {
		return obs
	}

	c.logger.Info("cookie %s %s old=%q new=%q", c.name, evt.Kind, evt.OldValue, evt.NewValue)
	for _, l := range listeners {
		if !c.current(gen) {
			return obs
		}
		l.fn(*evt)
	}
	c.escalate(ctx, gen, *evt)
	return obs
}

func (c *CookieMonitor) escalate(ctx context.Context, gen uint64, evt CookieEvent) {
	if c.recoverer == nil || !c.current(gen) || !c.state.State().IsAuthenticated() {
		return
	}

	switch evt.Kind {
	case CookieCleared:
		if _, err := c.recoverer.Recover(ctx, TriggerCookieCleared); err != nil {
			c.logger.Warn("recovery after cookie clear failed: %v", err)
		}
	case CookieChanged, CookieCreated:
		report := c.ValidateCookieIntegrity(ctx)
		if !report.IdentityMismatch() || !c.current(gen) {
			return
		}
		c.report(ctx, report)
		if _, err := c.recoverer.Recover(ctx, TriggerIntegrityViolation); err != nil {
			c.logger.Warn("recovery after integrity violation failed: %v", err)
		}
	}
}

func (c *CookieMonitor) report(ctx context.Context, report IntegrityReport) {
	if c.reporter == nil {
		return
	}
	st := c.state.State()
	value, _ := c.source.Cookie(c.name)
	alert := CookieAlert{
		Message:       "session cookie failed the integrity check",
		SessionID:     st.SessionID,
		CookieValue:   truncate(value, 8),
		SecurityScore: report.SecurityScore,
		Issues:        append([]string(nil), report.Issues...),
		DetectedAt:    report.CheckedAt,
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.reporter.ReportCookieAlert(rctx, st.Token, alert); err != nil {
		c.logger.Debug("cookie alert not delivered: %s", ErrorMessage(err))
	}
}

func (c *CookieMonitor) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func appendUnique(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}
