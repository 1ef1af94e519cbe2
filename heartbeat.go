package authsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// HeartbeatStatus is a snapshot of the scheduler.
type HeartbeatStatus struct {
	Status          HeartbeatState `json:"status"`
	FailedCount     int            `json:"failed_count"`
	LastHeartbeat   time.Time      `json:"last_heartbeat,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
	ServerTimestamp time.Time      `json:"server_timestamp,omitempty"`
	NextPingIn      time.Duration  `json:"next_ping_in,omitempty"`
	Interval        time.Duration  `json:"interval"`
	Running         bool           `json:"running"`
}

// SessionKeeper is the heartbeat's handle on the machine.
type SessionKeeper interface {
	StateReader
	ApplyTokenRefresh(ctx context.Context, token string) error
	ForceAuthCheck(ctx context.Context) (AuthState, error)
	RefreshToken(ctx context.Context) (AuthState, error)
}

// HeartbeatOption customizes a Heartbeat.
type HeartbeatOption func(*Heartbeat)

// WithHeartbeatRecoverer sets where failures are escalated.
func WithHeartbeatRecoverer(r Recoverer) HeartbeatOption {
	return func(h *Heartbeat) {
		h.recoverer = r
	}
}

// WithHeartbeatLogger overrides the logger.
func WithHeartbeatLogger(logger Logger) HeartbeatOption {
	return func(h *Heartbeat) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHeartbeatClock injects a custom clock.
func WithHeartbeatClock(clock func() time.Time) HeartbeatOption {
	return func(h *Heartbeat) {
		if clock != nil {
			h.now = clock
		}
	}
}

// Heartbeat periodically confirms that the session the machine believes in
// is still alive server side.
type Heartbeat struct {
	backend     Backend
	machine     SessionKeeper
	recoverer   Recoverer
	logger      Logger
	now         func() time.Time
	maxRetries  int
	timeout     time.Duration
	minInterval time.Duration
	maxInterval time.Duration
	// refreshWindow is how close to expiry a token gets before the heartbeat
	// asks for a fresh one. Zero disables it.
	refreshWindow time.Duration

	inFlight atomic.Bool

	mu       sync.Mutex
	status   HeartbeatStatus
	interval time.Duration
	tripped  bool
	visible  bool
	running  bool
	gen      uint64
	stop     chan struct{}
	kick     chan struct{}
	rearm    chan time.Duration
}

// NewHeartbeat builds a stopped scheduler.
func NewHeartbeat(backend Backend, machine SessionKeeper, cfg Config, opts ...HeartbeatOption) *Heartbeat {
	cfg = cfg.withDefaults()
	h := &Heartbeat{
		backend:     backend,
		machine:     machine,
		logger:      defLogger{name: "heartbeat"},
		now:         time.Now,
		maxRetries:  cfg.MaxRetries,
		timeout:     cfg.ProbeTimeout.Std(),
		minInterval: cfg.HeartbeatMinInterval.Std(),
		maxInterval: cfg.HeartbeatMaxInterval.Std(),
		interval:    cfg.HeartbeatInterval.Std(),
		visible:     true,
		status:      HeartbeatStatus{Status: HeartbeatDisconnected},

		refreshWindow: cfg.TokenRefreshWindow.Std(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Start arms the timer and fires one immediate probe in the background.
// Calling Start on a running scheduler is a no-op.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.gen++
	gen := h.gen
	h.stop = make(chan struct{})
	h.kick = make(chan struct{}, 1)
	h.rearm = make(chan time.Duration, 1)
	stop, kick, rearm := h.stop, h.kick, h.rearm
	interval := h.interval
	h.mu.Unlock()

	go h.loop(ctx, gen, interval, stop, kick, rearm)
	h.logger.Debug("heartbeat started every %s", interval)
}

// Stop cancels the timer. Safe to call repeatedly from any state; results of
// a probe still in flight are dropped.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	h.gen++
	close(h.stop)
	h.stop, h.kick, h.rearm = nil, nil, nil
	h.status.Status = HeartbeatDisconnected
	h.logger.Debug("heartbeat stopped")
}

// SetVisible records foreground visibility; becoming visible probes at once.
func (h *Heartbeat) SetVisible(visible bool) {
	h.mu.Lock()
	was := h.visible
	h.visible = visible
	kick := h.kick
	h.mu.Unlock()
	if !visible || was || kick == nil {
		return
	}
	select {
	case kick <- struct{}{}:
	default:
	}
}

// ResetFailures zeroes the failure counter and re-arms threshold detection.
func (h *Heartbeat) ResetFailures() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status.FailedCount = 0
	h.status.LastError = ""
	h.tripped = false
	if h.running {
		h.status.Status = HeartbeatHealthy
	}
}

// Status returns a snapshot.
func (h *Heartbeat) Status() HeartbeatStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.status
	st.Interval = h.interval
	st.Running = h.running
	return st
}

// Probe sends one liveness probe now. It returns immediately when another
// probe is in flight.
func (h *Heartbeat) Probe(ctx context.Context) HeartbeatStatus {
	h.mu.Lock()
	gen := h.gen
	h.mu.Unlock()
	h.probe(ctx, gen)
	return h.Status()
}

func (h *Heartbeat) loop(ctx context.Context, gen uint64, interval time.Duration, stop, kick <-chan struct{}, rearm <-chan time.Duration) {
	h.probe(ctx, gen)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			h.probe(ctx, gen)
		case <-kick:
			h.probe(ctx, gen)
		case d := <-rearm:
			ticker.Reset(d)
		}
	}
}

func (h *Heartbeat) probe(ctx context.Context, gen uint64) {
	if !h.inFlight.CompareAndSwap(false, true) {
		h.logger.Debug("probe already in flight, skipping")
		return
	}
	defer h.inFlight.Store(false)

	if !h.current(gen) {
		return
	}

	st := h.machine.State()
	if !st.IsAuthenticated() {
		h.mu.Lock()
		h.status.Status = HeartbeatDisconnected
		h.status.SessionID = ""
		h.mu.Unlock()
		return
	}

	pctx, cancel := context.WithTimeout(ctx, h.timeout)
	res, err := h.backend.HeartbeatPing(pctx, st.Token, st.SessionID)
	cancel()

	h.mu.Lock()
	if gen != h.gen {
		h.mu.Unlock()
		h.logger.Debug("dropping heartbeat result after stop")
		return
	}
	h.status.SessionID = st.SessionID

	switch {
	case err == nil:
		h.status.Status = HeartbeatHealthy
		h.status.FailedCount = 0
		h.status.LastError = ""
		h.status.LastHeartbeat = h.now()
		h.status.ServerTimestamp = res.ServerTimestamp
		h.status.NextPingIn = res.NextPingIn
		h.tripped = false
		next := h.nextInterval(res.NextPingIn)
		var rearm chan time.Duration
		if next != h.interval {
			h.interval = next
			rearm = h.rearm
		}
		h.mu.Unlock()

		if rearm != nil {
			select {
			case rearm <- next:
			default:
			}
		}
		if res.Token != "" && res.Token != st.Token {
			if err := h.machine.ApplyTokenRefresh(ctx, res.Token); err != nil {
				h.logger.Warn("ignoring rotated token: %s", ErrorMessage(err))
			}
			return
		}
		h.renew(ctx, gen, st.Token)

	case IsAuthRejected(err):
		// the probe may carry a token that is being refreshed; only the
		// authoritative check decides.
		h.status.Status = HeartbeatWarning
		h.status.LastError = ErrorMessage(err)
		h.mu.Unlock()
		h.logger.Info("heartbeat rejected, asking for re-verification")
		h.verify(ctx, gen)

	default:
		h.status.FailedCount++
		h.status.LastError = ErrorMessage(err)
		h.status.Status = HeartbeatWarning
		fire := false
		if h.status.FailedCount >= h.maxRetries {
			h.status.Status = HeartbeatError
			if !h.tripped {
				h.tripped = true
				fire = true
			}
		}
		count := h.status.FailedCount
		h.mu.Unlock()
		h.logger.Warn("heartbeat failed (%d/%d): %s", count, h.maxRetries, ErrorMessage(err))
		if fire {
			h.recover(ctx, gen, TriggerHeartbeatThreshold)
		}
	}
}

// verify runs a forced session check. Only a rejection of that check ends
// the session; a failed check keeps it.
func (h *Heartbeat) verify(ctx context.Context, gen uint64) {
	if !h.current(gen) {
		return
	}
	_, err := h.machine.ForceAuthCheck(ctx)
	switch {
	case err == nil:
		h.logger.Debug("session re-verified after rejected heartbeat")
	case IsAuthRejected(err):
		h.logger.Info("session check confirmed the rejection")
	default:
		h.logger.Warn("re-verification failed, keeping session: %s", ErrorMessage(err))
	}
}

// renew refreshes token when it expires within the refresh window.
func (h *Heartbeat) renew(ctx context.Context, gen uint64, token string) {
	if h.refreshWindow <= 0 || !h.current(gen) {
		return
	}
	claims, err := InspectToken(token)
	if err != nil {
		return
	}
	exp := claims.Expires()
	if exp.IsZero() || exp.Sub(h.now()) > h.refreshWindow {
		return
	}
	if _, err := h.machine.RefreshToken(ctx); err != nil && !errors.Is(err, ErrUnsupported) {
		h.logger.Warn("token refresh before expiry failed: %s", ErrorMessage(err))
	}
}

func (h *Heartbeat) recover(ctx context.Context, gen uint64, trigger RecoveryTrigger) {
	if h.recoverer == nil || !h.current(gen) {
		return
	}
	if _, err := h.recoverer.Recover(ctx, trigger); err != nil {
		h.logger.Warn("recovery (%s) failed: %v", trigger, err)
	}
}

func (h *Heartbeat) nextInterval(hint time.Duration) time.Duration {
	if hint <= 0 || hint < h.minInterval || hint > h.maxInterval {
		return h.interval
	}
	return hint
}

func (h *Heartbeat) current(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return gen == h.gen
}
