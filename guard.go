package authsync

import (
	"context"
	"sync"
	"time"
)

// GuardOption customizes a Guard.
type GuardOption func(*guardOptions)

type guardOptions struct {
	cfg            Config
	store          CredentialStore
	publisher      Publisher
	loggerProvider LoggerProvider
	clock          func() time.Time
	hooks          []TransitionHook
}

// WithConfig sets the engine configuration.
func WithConfig(cfg Config) GuardOption {
	return func(o *guardOptions) {
		o.cfg = cfg
	}
}

// WithCredentialStore sets the durable credential store.
func WithCredentialStore(store CredentialStore) GuardOption {
	return func(o *guardOptions) {
		o.store = store
	}
}

// WithPublisher sets the event sink for state changes.
func WithPublisher(p Publisher) GuardOption {
	return func(o *guardOptions) {
		o.publisher = p
	}
}

// WithLoggerProvider hands each component a named logger.
func WithLoggerProvider(provider LoggerProvider) GuardOption {
	return func(o *guardOptions) {
		o.loggerProvider = provider
	}
}

// WithClock injects a custom clock into every component.
func WithClock(clock func() time.Time) GuardOption {
	return func(o *guardOptions) {
		o.clock = clock
	}
}

// WithHook registers an extra transition hook.
func WithHook(h TransitionHook) GuardOption {
	return func(o *guardOptions) {
		o.hooks = append(o.hooks, h)
	}
}

// Guard wires the machine, heartbeat, cookie monitor and recovery for one
// client. Heartbeat and cookie monitor run only while authenticated.
type Guard struct {
	cfg       Config
	machine   *Machine
	heartbeat *Heartbeat
	monitor   *CookieMonitor
	recovery  *Recovery
	logger    Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewGuard builds a Guard. The backend and cookie source are required.
func NewGuard(backend Backend, cookies CookieSource, opts ...GuardOption) (*Guard, error) {
	o := guardOptions{cfg: DefaultConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if backend == nil || cookies == nil {
		return nil, NewValidationError(errMissingCollaborator)
	}
	cfg := o.cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if o.store == nil {
		o.store = NewMemoryStore(cfg.CredentialKey)
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	g := &Guard{
		cfg:    cfg,
		logger: loggerFrom(o.loggerProvider, "guard"),
	}
	g.ctx, g.cancel = context.WithCancel(context.Background())

	machineOpts := []MachineOption{
		WithMachineConfig(cfg),
		WithMachineStore(o.store),
		WithMachinePublisher(o.publisher),
		WithMachineLogger(loggerFrom(o.loggerProvider, "machine")),
		WithMachineClock(o.clock),
		WithTransitionHook(g.onTransition),
	}
	for _, h := range o.hooks {
		machineOpts = append(machineOpts, WithTransitionHook(h))
	}
	g.machine = NewMachine(backend, machineOpts...)
	g.recovery = NewRecovery(g.machine, loggerFrom(o.loggerProvider, "recovery"))
	g.heartbeat = NewHeartbeat(backend, g.machine, cfg,
		WithHeartbeatRecoverer(g.recovery),
		WithHeartbeatLogger(loggerFrom(o.loggerProvider, "heartbeat")),
		WithHeartbeatClock(o.clock),
	)

	monitorOpts := []CookieMonitorOption{
		WithCookieRecoverer(g.recovery),
		WithCookieLogger(loggerFrom(o.loggerProvider, "cookies")),
		WithCookieClock(o.clock),
	}
	if v, ok := backend.(IntegrityVerifier); ok {
		monitorOpts = append(monitorOpts, WithCookieVerifier(v))
	}
	if r, ok := backend.(AlertReporter); ok {
		monitorOpts = append(monitorOpts, WithCookieReporter(r))
	}
	g.monitor = NewCookieMonitor(cookies, g.machine, cfg, monitorOpts...)
	g.recovery.Attach(g.heartbeat, g.monitor)

	return g, nil
}

// Start runs the startup check, re-attaching to a persisted session if one
// exists. A network error leaves the machine in error; the next natural
// trigger retries.
func (g *Guard) Start(ctx context.Context) (AuthState, error) {
	return g.machine.CheckAuthStatus(ctx)
}

// Login delegates to the machine.
func (g *Guard) Login(ctx context.Context, username, password string) (AuthState, error) {
	return g.machine.Login(ctx, LoginRequest{Username: username, Password: password})
}

// Logout is a user initiated logout.
func (g *Guard) Logout(ctx context.Context) error {
	return g.machine.Logout(ctx, ReasonUser)
}

// RefreshToken asks the backend for a fresh credential of the live session.
func (g *Guard) RefreshToken(ctx context.Context) (AuthState, error) {
	return g.machine.RefreshToken(ctx)
}

// ExtendSession pushes the server side session expiry forward by d.
func (g *Guard) ExtendSession(ctx context.Context, d time.Duration) (AuthState, error) {
	return g.machine.ExtendSession(ctx, d)
}

// Recover runs a user triggered recovery attempt.
func (g *Guard) Recover(ctx context.Context) (RecoveryResult, error) {
	return g.recovery.Recover(ctx, TriggerUser)
}

// State returns the current auth tuple.
func (g *Guard) State() AuthState {
	return g.machine.State()
}

// SetVisible forwards foreground visibility changes.
func (g *Guard) SetVisible(visible bool) {
	g.heartbeat.SetVisible(visible)
	g.monitor.SetVisible(visible)
}

// Machine returns the auth state machine.
func (g *Guard) Machine() *Machine { return g.machine }

// Heartbeat returns the heartbeat scheduler.
func (g *Guard) Heartbeat() *Heartbeat { return g.heartbeat }

// CookieMonitor returns the cookie integrity monitor.
func (g *Guard) CookieMonitor() *CookieMonitor { return g.monitor }

// Recovery returns the recovery protocol.
func (g *Guard) Recovery() *Recovery { return g.recovery }

// Config returns the effective configuration.
func (g *Guard) Config() Config { return g.cfg }

// Close stops all timers. No callback fires after Close returns.
func (g *Guard) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	g.heartbeat.Stop()
	g.monitor.Stop()
	g.cancel()
	return nil
}

func (g *Guard) onTransition(_ context.Context, tr Transition) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return
	}

	switch {
	case tr.To == StatusAuthenticated:
		g.heartbeat.Start(g.ctx)
		g.monitor.Start(g.ctx)
	case tr.From == StatusAuthenticated:
		g.heartbeat.Stop()
		g.monitor.Stop()
	}
}
