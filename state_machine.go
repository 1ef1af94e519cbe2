package authsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const checkFlightKey = "auth-check"

// Transition describes a committed state change handed to hooks.
type Transition struct {
	From  AuthStatus
	To    AuthStatus
	Event EventType
	State AuthState
}

// TransitionHook runs after a transition was committed, in commit order.
// Hooks must not block on Login or a session check; start those on another
// goroutine.
type TransitionHook func(ctx context.Context, tr Transition)

// MachineOption customizes Machine construction.
type MachineOption func(*Machine)

// WithMachineClock injects a custom clock (useful for tests).
func WithMachineClock(clock func() time.Time) MachineOption {
	return func(m *Machine) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithMachinePublisher sets the Publisher receiving state events.
func WithMachinePublisher(p Publisher) MachineOption {
	return func(m *Machine) {
		m.publisher = normalizePublisher(p)
	}
}

// WithMachineStore sets the durable credential store.
func WithMachineStore(store CredentialStore) MachineOption {
	return func(m *Machine) {
		if store != nil {
			m.store = store
		}
	}
}

// WithMachineLogger overrides the logger.
func WithMachineLogger(logger Logger) MachineOption {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMachineConfig applies timeouts, TTLs and paths from cfg.
func WithMachineConfig(cfg Config) MachineOption {
	return func(m *Machine) {
		cfg = cfg.withDefaults()
		m.knownGoodTTL = cfg.KnownGoodTTL.Std()
		m.checkTimeout = cfg.ProbeTimeout.Std()
		m.loginPath = cfg.LoginPath
		m.credentialKey = cfg.CredentialKey
	}
}

// WithTransitionHook registers a hook executed after every transition.
func WithTransitionHook(h TransitionHook) MachineOption {
	return func(m *Machine) {
		if h != nil {
			m.hooks = append(m.hooks, h)
		}
	}
}

// Machine is the auth state machine. It exclusively owns the
// {status, user, token, sessionId, error} tuple; other components read it
// through State and request changes through the exported operations.
type Machine struct {
	backend       Backend
	store         CredentialStore
	publisher     Publisher
	logger        Logger
	now           func() time.Time
	transitions   map[AuthStatus]map[AuthStatus]struct{}
	hooks         []TransitionHook
	knownGoodTTL  time.Duration
	checkTimeout  time.Duration
	loginPath     string
	credentialKey string

	mu       sync.Mutex
	state    AuthState
	pending  string
	queue    []Transition
	draining bool

	logouts uint64
	reason  LogoutReason

	// opMu serializes Login with session checks.
	opMu    sync.Mutex
	storeMu sync.Mutex
	flight  singleflight.Group
	checks  atomic.Int64
}

// NewMachine returns a Machine in the idle state.
func NewMachine(backend Backend, opts ...MachineOption) *Machine {
	def := DefaultConfig()
	m := &Machine{
		backend:   backend,
		store:     NewMemoryStore(def.CredentialKey),
		publisher: noopPublisher{},
		logger:    defLogger{name: "machine"},
		now:       time.Now,
		transitions: map[AuthStatus]map[AuthStatus]struct{}{
			StatusIdle: {
				StatusChecking:        {},
				StatusUnauthenticated: {},
			},
			StatusChecking: {
				StatusAuthenticated:   {},
				StatusUnauthenticated: {},
				StatusError:           {},
			},
			StatusAuthenticated: {
				StatusChecking:        {},
				StatusUnauthenticated: {},
			},
			StatusUnauthenticated: {
				StatusChecking: {},
			},
			StatusError: {
				StatusChecking:        {},
				StatusAuthenticated:   {},
				StatusUnauthenticated: {},
			},
		},
		knownGoodTTL:  def.KnownGoodTTL.Std(),
		checkTimeout:  def.ProbeTimeout.Std(),
		loginPath:     def.LoginPath,
		credentialKey: def.CredentialKey,
		state:         AuthState{Status: StatusIdle},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// State returns a snapshot of the current tuple.
func (m *Machine) State() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Checks returns how many session checks reached the backend.
func (m *Machine) Checks() int64 {
	return m.checks.Load()
}

// Login authenticates with the backend. Input is validated locally first.
// A failed attempt while a session is already live keeps that session.
// Login and session checks never interleave: a check arriving during a login
// waits for it and verifies the fresh credential. A logout committed while the
// request is in flight wins; the late credential is dropped and invalidated.
func (m *Machine) Login(ctx context.Context, req LoginRequest) (AuthState, error) {
	if err := req.Validate(); err != nil {
		return m.State(), err
	}

	m.opMu.Lock()
	st, stale, err := m.login(ctx, req)
	m.opMu.Unlock()
	m.flush(ctx)

	if stale != "" {
		_ = m.revoke(ctx, stale, st.LastReason)
	}
	return st, err
}

func (m *Machine) login(ctx context.Context, req LoginRequest) (AuthState, string, error) {
	m.mu.Lock()
	wasAuth := m.state.IsAuthenticated()
	if !wasAuth {
		if err := m.moveLocked(StatusChecking, EventStatusChanged, func(s *AuthState) {
			s.Error = ""
		}); err != nil {
			st := m.state.clone()
			m.mu.Unlock()
			return st, "", err
		}
	}
	logouts := m.logouts
	m.mu.Unlock()
	m.flush(ctx)

	res, err := m.backend.Login(ctx, req.Username, req.Password)
	if err == nil {
		err = validateLogin(res)
	}
	if err != nil {
		m.logger.Warn("login failed for %s: %s", req.Username, ErrorMessage(err))
		return m.failLogin(logouts, wasAuth, err), "", err
	}

	m.mu.Lock()
	if m.logouts != logouts {
		st := m.state.clone()
		m.mu.Unlock()
		m.logger.Info("dropping login for %s: logged out while the request was in flight", req.Username)
		return st, res.Token, ErrLoginSuperseded
	}
	prev := m.state
	event := EventLoginSuccess
	if prev.IsAuthenticated() && prev.SessionID == res.SessionID {
		event = EventTokenRefresh
	}
	m.commitLocked(m.sessionState(res), event)
	m.pending = ""
	cred := m.credentialLocked()
	state := m.state.clone()
	m.storeMu.Lock()
	m.mu.Unlock()
	m.saveCredential(ctx, cred)
	m.storeMu.Unlock()

	m.logger.Info("login succeeded user=%s sid=%s", res.User.Username, truncate(res.SessionID, 8))
	return state, "", nil
}

func (m *Machine) sessionState(res LoginResult) AuthState {
	now := m.now()
	return AuthState{
		Status:    StatusAuthenticated,
		User:      res.User.Clone(),
		Token:     res.Token,
		SessionID: res.SessionID,
		Session: Session{
			UserID:    res.User.ID,
			SessionID: res.SessionID,
			IssuedAt:  now,
			ExpiresAt: res.ExpiresAt,
		},
		LastVerified: now,
	}
}

func (m *Machine) failLogin(logouts uint64, wasAuth bool, cause error) AuthState {
	msg := ErrorMessage(cause)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.logouts != logouts:
	case wasAuth && m.state.IsAuthenticated():
		m.state.Error = msg
		m.state.Version++
		m.enqueueLocked(Transition{
			From:  m.state.Status,
			To:    m.state.Status,
			Event: EventError,
			State: m.state.clone(),
		})
	case !wasAuth:
		_ = m.moveLocked(StatusError, EventError, func(s *AuthState) {
			s.clearTuple()
			s.Error = msg
		})
	}
	return m.state.clone()
}

// revoke invalidates token server side. Failures are only logged.
func (m *Machine) revoke(ctx context.Context, token string, reason LogoutReason) error {
	if token == "" || m.backend == nil {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()
	if err := m.backend.Logout(lctx, token, reason); err != nil {
		m.logger.Warn("server logout failed (local state already cleared): %s", ErrorMessage(err))
		return err
	}
	return nil
}

// Logout always ends unauthenticated with the tuple and the persisted
// credential cleared. The server side invalidation is best effort and runs
// after the local clear; its error is returned for information only.
func (m *Machine) Logout(ctx context.Context, reason LogoutReason) error {
	if reason == "" {
		reason = ReasonUser
	}

	m.mu.Lock()
	token := m.state.Token
	if token == "" {
		token = m.pending
	}
	if m.state.Status == StatusUnauthenticated && token == "" {
		m.mu.Unlock()
		return nil
	}
	m.pending = ""
	m.forceLocked(AuthState{Status: StatusUnauthenticated, LastReason: reason}, EventLogout)
	m.storeMu.Lock()
	m.mu.Unlock()
	m.clearCredential(ctx)
	m.storeMu.Unlock()
	m.flush(ctx)

	m.logger.Info("logged out reason=%s", reason)
	return m.revoke(ctx, token, reason)
}

// CheckAuthStatus re-verifies the credential. A session verified within the
// known-good window is returned without a network call. Concurrent callers
// share one in-flight check.
func (m *Machine) CheckAuthStatus(ctx context.Context) (AuthState, error) {
	if st, ok := m.knownGood(); ok {
		return st, nil
	}
	return m.check(ctx, false, ReasonSessionExpired)
}

// ForceAuthCheck always asks the backend, joining a check already in flight.
func (m *Machine) ForceAuthCheck(ctx context.Context) (AuthState, error) {
	return m.check(ctx, true, ReasonSessionExpired)
}

// ApplyTokenRefresh replaces the credential of the live session in place.
func (m *Machine) ApplyTokenRefresh(ctx context.Context, token string) error {
	if token == "" {
		return NewValidationError(errors.New("refreshed token is empty"))
	}

	if claims, err := InspectToken(token); err == nil {
		m.mu.Lock()
		sid := m.state.SessionID
		m.mu.Unlock()
		if claims.SessionID != "" && sid != "" && claims.SessionID != sid {
			return NewIntegrityViolationError("refreshed token belongs to another session")
		}
	}

	m.mu.Lock()
	if !m.state.IsAuthenticated() {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	if m.state.Token == token {
		m.mu.Unlock()
		return nil
	}
	next := m.state.clone()
	next.Token = token
	m.commitLocked(next, EventTokenRefresh)
	cred := m.credentialLocked()
	m.storeMu.Lock()
	m.mu.Unlock()
	m.saveCredential(ctx, cred)
	m.storeMu.Unlock()
	m.flush(ctx)

	m.logger.Debug("token refreshed for sid=%s", truncate(cred.SessionID, 8))
	return nil
}

// RefreshToken asks the backend for a fresh credential of the live session
// and commits it as a token refresh. When the backend replaced the session the
// new one is committed as a login. A rejected refresh hands over to an
// authoritative session check.
func (m *Machine) RefreshToken(ctx context.Context) (AuthState, error) {
	renewer, ok := m.backend.(TokenRenewer)
	if !ok {
		return m.State(), ErrUnsupported
	}

	m.opMu.Lock()
	st, err := m.refreshToken(ctx, renewer)
	m.opMu.Unlock()
	m.flush(ctx)

	if IsAuthRejected(err) {
		st, _ = m.ForceAuthCheck(ctx)
	}
	return st, err
}

func (m *Machine) refreshToken(ctx context.Context, renewer TokenRenewer) (AuthState, error) {
	m.mu.Lock()
	if !m.state.IsAuthenticated() {
		st := m.state.clone()
		m.mu.Unlock()
		return st, ErrNotAuthenticated
	}
	token, version := m.state.Token, m.state.Version
	m.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	res, err := renewer.RefreshToken(rctx, token)
	cancel()
	if err == nil {
		err = validateLogin(res)
	}
	if err != nil {
		m.logger.Warn("token refresh failed: %s", ErrorMessage(err))
		return m.State(), err
	}

	m.mu.Lock()
	if m.state.Version != version {
		st := m.state.clone()
		m.mu.Unlock()
		m.logger.Debug("dropping refreshed token: state moved while the request was in flight")
		return st, nil
	}
	if m.state.SessionID == res.SessionID {
		next := m.state.clone()
		next.Token = res.Token
		next.User = res.User.Clone()
		if !res.ExpiresAt.IsZero() {
			next.Session.ExpiresAt = res.ExpiresAt
		}
		next.LastVerified = m.now()
		next.Error = ""
		m.commitLocked(next, EventTokenRefresh)
	} else {
		m.logger.Info("backend replaced session %s with %s", truncate(m.state.SessionID, 8), truncate(res.SessionID, 8))
		m.forceLocked(m.sessionState(res), EventLoginSuccess)
	}
	cred := m.credentialLocked()
	st := m.state.clone()
	m.storeMu.Lock()
	m.mu.Unlock()
	m.saveCredential(ctx, cred)
	m.storeMu.Unlock()
	return st, nil
}

// ExtendSession pushes the server side session expiry forward by d and
// updates the session copy in place.
func (m *Machine) ExtendSession(ctx context.Context, d time.Duration) (AuthState, error) {
	ext, ok := m.backend.(SessionExtender)
	if !ok {
		return m.State(), ErrUnsupported
	}
	if d <= 0 {
		return m.State(), NewValidationError(errors.New("extension must be positive"))
	}

	m.mu.Lock()
	if !m.state.IsAuthenticated() {
		st := m.state.clone()
		m.mu.Unlock()
		return st, ErrNotAuthenticated
	}
	token, sid := m.state.Token, m.state.SessionID
	m.mu.Unlock()

	ectx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	expires, err := ext.ExtendSession(ectx, token, sid, d)
	cancel()
	if err != nil {
		m.logger.Warn("session extension failed: %s", ErrorMessage(err))
		if IsAuthRejected(err) {
			st, _ := m.ForceAuthCheck(ctx)
			return st, err
		}
		return m.State(), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.IsAuthenticated() && m.state.SessionID == sid && !expires.IsZero() {
		m.state.Session.ExpiresAt = expires
	}
	return m.state.clone(), nil
}

func (m *Machine) knownGood() (AuthState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	if st.IsAuthenticated() && m.knownGoodTTL > 0 && !st.LastVerified.IsZero() &&
		m.now().Sub(st.LastVerified) < m.knownGoodTTL {
		return st.clone(), true
	}
	return AuthState{}, false
}

func (m *Machine) check(ctx context.Context, force bool, reason LogoutReason) (AuthState, error) {
	// callers joining a running check can still raise the logout reason it
	// commits on rejection.
	m.mu.Lock()
	m.reason = strongerReason(m.reason, reason)
	m.mu.Unlock()

	ch := m.flight.DoChan(checkFlightKey, func() (any, error) {
		// raises that arrive after the result was committed die with the flight.
		defer m.clearReason()

		if !force {
			if st, ok := m.knownGood(); ok {
				return st, nil
			}
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.checkTimeout)
		defer cancel()
		return m.verify(fctx, reason)
	})

	select {
	case res := <-ch:
		st, ok := res.Val.(AuthState)
		if !ok {
			st = m.State()
		}
		return st, res.Err
	case <-ctx.Done():
		return m.State(), ctx.Err()
	}
}

func (m *Machine) clearReason() {
	m.mu.Lock()
	m.reason = ""
	m.mu.Unlock()
}

func (m *Machine) verify(ctx context.Context, reason LogoutReason) (AuthState, error) {
	m.opMu.Lock()
	st, err := m.verifyLocked(ctx, reason)
	m.opMu.Unlock()
	m.flush(ctx)
	return st, err
}

// verifyLocked runs with opMu held.
func (m *Machine) verifyLocked(ctx context.Context, reason LogoutReason) (AuthState, error) {
	token := m.currentToken(ctx)

	m.mu.Lock()
	if token == "" {
		m.reason = ""
		if m.state.Status != StatusUnauthenticated {
			_ = m.moveLocked(StatusUnauthenticated, EventStatusChanged, func(s *AuthState) {
				s.clearTuple()
			})
		}
		st := m.state.clone()
		m.mu.Unlock()
		return st, nil
	}

	wasAuth := m.state.IsAuthenticated()
	if wasAuth {
		m.state.Verifying = true
	} else {
		if err := m.moveLocked(StatusChecking, EventStatusChanged, func(s *AuthState) {
			s.clearTuple()
		}); err != nil {
			st := m.state.clone()
			m.mu.Unlock()
			return st, err
		}
		m.pending = token
	}
	version := m.state.Version
	m.mu.Unlock()
	m.flush(ctx)

	m.checks.Add(1)
	res, err := m.backend.CheckSession(ctx, token)
	if err == nil && (res.User == nil || res.SessionID == "") {
		err = newInvalidResponseError("session check returned an incomplete session")
	}

	m.mu.Lock()
	reason = strongerReason(reason, m.reason)
	m.reason = ""
	m.state.Verifying = false
	if m.state.Version != version {
		// a logout or token refresh committed meanwhile; this result is stale.
		st := m.state.clone()
		m.mu.Unlock()
		return st, nil
	}

	switch {
	case err == nil:
		m.acceptCheckLocked(token, res)
		cred := m.credentialLocked()
		st := m.state.clone()
		m.storeMu.Lock()
		m.mu.Unlock()
		m.saveCredential(ctx, cred)
		m.storeMu.Unlock()
		return st, nil

	case IsAuthRejected(err):
		m.pending = ""
		if wasAuth {
			m.forceLocked(AuthState{Status: StatusUnauthenticated, LastReason: reason}, EventLogout)
		} else {
			_ = m.moveLocked(StatusUnauthenticated, EventStatusChanged, func(s *AuthState) {
				s.clearTuple()
				s.Error = ErrorMessage(err)
			})
		}
		st := m.state.clone()
		m.storeMu.Lock()
		m.mu.Unlock()
		m.clearCredential(ctx)
		m.storeMu.Unlock()
		m.logger.Info("credential rejected by backend: %s", ErrorMessage(err))
		return st, err

	default:
		msg := ErrorMessage(err)
		if wasAuth {
			// transient; keep the session and let the next natural trigger retry.
			m.state.Error = msg
		} else {
			_ = m.moveLocked(StatusError, EventError, func(s *AuthState) {
				s.clearTuple()
				s.Error = msg
			})
		}
		st := m.state.clone()
		m.mu.Unlock()
		m.logger.Warn("session check failed: %s", msg)
		return st, err
	}
}

func (m *Machine) acceptCheckLocked(token string, res SessionCheck) {
	prev := m.state
	next := AuthState{
		Status:    StatusAuthenticated,
		User:      res.User.Clone(),
		Token:     token,
		SessionID: res.SessionID,
		Session: Session{
			UserID:    res.User.ID,
			SessionID: res.SessionID,
			IssuedAt:  res.IssuedAt,
			ExpiresAt: res.ExpiresAt,
		},
		LastVerified: m.now(),
	}
	m.pending = ""

	if prev.IsAuthenticated() && prev.SessionID == res.SessionID {
		// same session: refresh the copy without a transition.
		prev.User = next.User
		prev.Session = next.Session
		prev.LastVerified = next.LastVerified
		prev.Error = ""
		m.state = prev
		return
	}
	if prev.IsAuthenticated() {
		m.forceLocked(next, EventLoginSuccess)
		return
	}
	m.commitLocked(next, EventLoginSuccess)
}

func (m *Machine) currentToken(ctx context.Context) string {
	m.mu.Lock()
	token := m.state.Token
	if token == "" {
		token = m.pending
	}
	m.mu.Unlock()
	if token != "" {
		return token
	}

	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	cred, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Error("failed to load stored credential: %v", err)
		return ""
	}
	if cred == nil || cred.Token == "" {
		return ""
	}
	if claims, err := InspectToken(cred.Token); err == nil && claims.Expired(m.now()) {
		m.logger.Info("stored credential expired, discarding")
		if err := m.store.Clear(ctx); err != nil {
			m.logger.Error("failed to clear expired credential: %v", err)
		}
		return ""
	}
	return cred.Token
}

// moveLocked validates and applies a status change. mutate runs on the next
// state before it is committed.
func (m *Machine) moveLocked(to AuthStatus, event EventType, mutate func(*AuthState)) error {
	from := m.state.Status
	if from == to {
		return nil
	}
	if !m.canTransition(from, to) {
		m.logger.Error("rejected transition %s -> %s", from, to)
		return ErrInvalidTransition
	}
	next := m.state.clone()
	next.Status = to
	if mutate != nil {
		mutate(&next)
	}
	m.commitLocked(next, event)
	return nil
}

// commitLocked swaps in next after validating the edge; an invalid edge is
// logged and forced, the tuple invariant always wins.
func (m *Machine) commitLocked(next AuthState, event EventType) {
	if from := m.state.Status; from != next.Status && !m.canTransition(from, next.Status) {
		m.logger.Error("forcing unexpected transition %s -> %s", from, next.Status)
	}
	m.forceLocked(next, event)
}

func (m *Machine) forceLocked(next AuthState, event EventType) {
	from := m.state.Status
	if next.Status != StatusAuthenticated {
		next.clearTuple()
	}
	next.Version = m.state.Version + 1
	if event == EventLogout {
		m.logouts++
	}
	m.state = next
	m.enqueueLocked(Transition{
		From:  from,
		To:    next.Status,
		Event: event,
		State: next.clone(),
	})
}

func (m *Machine) enqueueLocked(tr Transition) {
	m.queue = append(m.queue, tr)
}

// flush dispatches queued transitions in commit order. Only one goroutine
// drains at a time; re-entrant commits from hooks or subscribers are picked
// up by the active drainer.
func (m *Machine) flush(ctx context.Context) {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.queue) > 0 {
		tr := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		m.dispatch(ctx, tr)
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}

func (m *Machine) dispatch(ctx context.Context, tr Transition) {
	for _, hook := range m.hooks {
		hook(ctx, tr)
	}

	evt := Event{
		ID:         uuid.NewString(),
		Type:       tr.Event,
		From:       tr.From,
		To:         tr.To,
		OccurredAt: m.now(),
	}
	switch tr.Event {
	case EventLoginSuccess:
		evt.User = tr.State.User.Clone()
		evt.Token = tr.State.Token
		evt.SessionID = tr.State.SessionID
	case EventTokenRefresh:
		evt.Token = tr.State.Token
		evt.SessionID = tr.State.SessionID
	case EventLogout:
		evt.Reason = tr.State.LastReason
		if evt.Reason.Forced() {
			evt.RedirectTo = m.loginPath
		}
	case EventError:
		evt.Message = tr.State.Error
	}

	if err := m.publisher.Publish(ctx, evt); err != nil {
		m.logger.Warn("publish %s failed: %v", evt.Type, err)
	}
}

func (m *Machine) canTransition(from, to AuthStatus) bool {
	if allowed, ok := m.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (m *Machine) credentialLocked() StoredCredential {
	cred := StoredCredential{
		Key:       m.credentialKey,
		Token:     m.state.Token,
		SessionID: m.state.SessionID,
		SavedAt:   m.now(),
	}
	if m.state.User != nil {
		cred.UserID = m.state.User.ID
	}
	return cred
}

func (m *Machine) saveCredential(ctx context.Context, cred StoredCredential) {
	if cred.Token == "" {
		return
	}
	if err := m.store.Save(ctx, cred); err != nil {
		m.logger.Error("failed to persist credential: %v", err)
	}
}

func (m *Machine) clearCredential(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("failed to clear persisted credential: %v", err)
	}
}

// strongerReason keeps the more specific of two forced logout reasons.
func strongerReason(a, b LogoutReason) LogoutReason {
	rank := func(r LogoutReason) int {
		switch r {
		case ReasonIntegrityViolation:
			return 2
		case ReasonSessionExpired:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func validateLogin(res LoginResult) error {
	if res.Token == "" || res.User == nil || res.SessionID == "" {
		return newInvalidResponseError("login response is missing token, user or session")
	}
	return nil
}

func (s *AuthState) clearTuple() {
	s.User = nil
	s.Token = ""
	s.SessionID = ""
	s.Session = Session{}
	s.Verifying = false
	s.LastVerified = time.Time{}
}
