package authsync_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	authsync "github.com/goliatone/go-authsync"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBackend implements authsync.Backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Login(ctx context.Context, username, password string) (authsync.LoginResult, error) {
	args := m.Called(ctx, username, password)
	return args.Get(0).(authsync.LoginResult), args.Error(1)
}

func (m *MockBackend) Logout(ctx context.Context, token string, reason authsync.LogoutReason) error {
	args := m.Called(ctx, token, reason)
	return args.Error(0)
}

func (m *MockBackend) CheckSession(ctx context.Context, token string) (authsync.SessionCheck, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(authsync.SessionCheck), args.Error(1)
}

func (m *MockBackend) HeartbeatPing(ctx context.Context, token, sessionID string) (authsync.HeartbeatResult, error) {
	args := m.Called(ctx, token, sessionID)
	return args.Get(0).(authsync.HeartbeatResult), args.Error(1)
}

// MockRecoverer implements authsync.Recoverer
type MockRecoverer struct {
	mock.Mock
}

func (m *MockRecoverer) Recover(ctx context.Context, trigger authsync.RecoveryTrigger) (authsync.RecoveryResult, error) {
	args := m.Called(ctx, trigger)
	return args.Get(0).(authsync.RecoveryResult), args.Error(1)
}

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

type quietProvider struct{}

func (quietProvider) GetLogger(string) authsync.Logger { return quietLogger{} }

var testUser = authsync.User{ID: "user-1", Username: "ada", Email: "ada@example.com"}

func mintToken(t *testing.T, uid, sid string, exp time.Time) string {
	t.Helper()
	claims := &authsync.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        fmt.Sprintf("%s-%d", sid, time.Now().UnixNano()),
		},
		UID:       uid,
		SessionID: sid,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

// fakeBackend is a stateful in-memory backend. Gates block the matching call
// until a value is sent or the channel is closed.
type fakeBackend struct {
	t *testing.T

	mu        sync.Mutex
	tokens    map[string]string
	revoked   map[string]bool
	nextSID   int
	checkErr  error
	pingErr   error
	logoutErr error
	pingToken string

	checkGate    chan struct{}
	checkStarted chan struct{}
	pingGate     chan struct{}
	pingStarted  chan struct{}
	loginGate    chan struct{}
	loginStarted chan struct{}

	// replaceSession makes RefreshToken answer for a brand new session.
	replaceSession bool
	alerts         []authsync.CookieAlert

	logins   atomic.Int32
	checks   atomic.Int32
	pings    atomic.Int32
	logouts  atomic.Int32
	renewals atomic.Int32
}

func newFakeBackend(t *testing.T) *fakeBackend {
	return &fakeBackend{
		t:            t,
		tokens:       map[string]string{},
		revoked:      map[string]bool{},
		checkStarted: make(chan struct{}, 16),
		pingStarted:  make(chan struct{}, 16),
		loginStarted: make(chan struct{}, 16),
	}
}

func (f *fakeBackend) Login(ctx context.Context, username, password string) (authsync.LoginResult, error) {
	f.logins.Add(1)
	signal(f.loginStarted)
	if err := wait(ctx, f.gate(&f.loginGate)); err != nil {
		return authsync.LoginResult{}, err
	}
	if username != testUser.Username || password != "pw" {
		return authsync.LoginResult{}, authsync.NewAuthRejectedError("Incorrect username or password")
	}
	f.mu.Lock()
	f.nextSID++
	sid := fmt.Sprintf("session-%04d", f.nextSID)
	f.mu.Unlock()

	token := f.issue(sid)
	u := testUser
	return authsync.LoginResult{
		Token:     token,
		User:      &u,
		SessionID: sid,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeBackend) issue(sid string) string {
	token := mintToken(f.t, testUser.ID, sid, time.Now().Add(time.Hour))
	f.register(token, sid)
	return token
}

func (f *fakeBackend) register(token, sid string) {
	f.mu.Lock()
	f.tokens[token] = sid
	f.mu.Unlock()
}

func (f *fakeBackend) live(token string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sid, ok := f.tokens[token]
	return sid, ok && !f.revoked[sid]
}

func (f *fakeBackend) RefreshToken(_ context.Context, token string) (authsync.LoginResult, error) {
	f.renewals.Add(1)
	sid, ok := f.live(token)
	if !ok {
		return authsync.LoginResult{}, authsync.NewAuthRejectedError("Could not validate credentials")
	}
	f.mu.Lock()
	if f.replaceSession {
		f.nextSID++
		sid = fmt.Sprintf("session-%04d", f.nextSID)
	}
	f.mu.Unlock()

	u := testUser
	return authsync.LoginResult{
		Token:     f.issue(sid),
		User:      &u,
		SessionID: sid,
		ExpiresAt: time.Now().Add(2 * time.Hour),
	}, nil
}

func (f *fakeBackend) ExtendSession(_ context.Context, token, sessionID string, by time.Duration) (time.Time, error) {
	sid, ok := f.live(token)
	if !ok {
		return time.Time{}, authsync.NewAuthRejectedError("Session expired or invalid")
	}
	if sid != sessionID {
		return time.Time{}, authsync.NewServerError(404, "Session not found")
	}
	return time.Now().Add(time.Hour + by), nil
}

func (f *fakeBackend) ReportCookieAlert(_ context.Context, _ string, alert authsync.CookieAlert) error {
	f.mu.Lock()
	f.alerts = append(f.alerts, alert)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) reported() []authsync.CookieAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]authsync.CookieAlert(nil), f.alerts...)
}

func (f *fakeBackend) Logout(_ context.Context, token string, _ authsync.LogoutReason) error {
	f.logouts.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logoutErr != nil {
		return f.logoutErr
	}
	if sid, ok := f.tokens[token]; ok {
		f.revoked[sid] = true
	}
	return nil
}

func (f *fakeBackend) CheckSession(ctx context.Context, token string) (authsync.SessionCheck, error) {
	f.checks.Add(1)
	signal(f.checkStarted)
	if err := wait(ctx, f.gate(&f.checkGate)); err != nil {
		return authsync.SessionCheck{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return authsync.SessionCheck{}, f.checkErr
	}
	sid, ok := f.tokens[token]
	if !ok || f.revoked[sid] {
		return authsync.SessionCheck{}, authsync.NewAuthRejectedError("Session expired or invalid")
	}
	u := testUser
	return authsync.SessionCheck{
		User:      &u,
		SessionID: sid,
		IssuedAt:  time.Now().Add(-time.Minute),
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeBackend) HeartbeatPing(ctx context.Context, token, sessionID string) (authsync.HeartbeatResult, error) {
	f.pings.Add(1)
	signal(f.pingStarted)
	if err := wait(ctx, f.gate(&f.pingGate)); err != nil {
		return authsync.HeartbeatResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pingErr != nil {
		return authsync.HeartbeatResult{}, f.pingErr
	}
	sid, ok := f.tokens[token]
	if !ok || f.revoked[sid] || sid != sessionID {
		return authsync.HeartbeatResult{}, authsync.NewAuthRejectedError("Session expired or invalid")
	}
	return authsync.HeartbeatResult{
		Status:          "pong",
		ServerTimestamp: time.Now(),
		NextPingIn:      5 * time.Minute,
		Token:           f.pingToken,
	}, nil
}

func (f *fakeBackend) gate(ch *chan struct{}) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *ch
}

func (f *fakeBackend) holdChecks() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkGate = make(chan struct{})
	return f.checkGate
}

func (f *fakeBackend) holdLogins() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginGate = make(chan struct{})
	return f.loginGate
}

func (f *fakeBackend) holdPings() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingGate = make(chan struct{})
	return f.pingGate
}

func (f *fakeBackend) setCheckErr(err error) {
	f.mu.Lock()
	f.checkErr = err
	f.mu.Unlock()
}

func (f *fakeBackend) setPingErr(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

func (f *fakeBackend) setLogoutErr(err error) {
	f.mu.Lock()
	f.logoutErr = err
	f.mu.Unlock()
}

func (f *fakeBackend) revoke(sid string) {
	f.mu.Lock()
	f.revoked[sid] = true
	f.mu.Unlock()
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// eventRecorder is a Publisher keeping every event in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []authsync.Event
}

func (r *eventRecorder) Publish(_ context.Context, e authsync.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) all() []authsync.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]authsync.Event(nil), r.events...)
}

func (r *eventRecorder) types() []authsync.EventType {
	var out []authsync.EventType
	for _, e := range r.all() {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) ofType(t authsync.EventType) []authsync.Event {
	var out []authsync.Event
	for _, e := range r.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeCookies is a mutable CookieSource.
type fakeCookies struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeCookies() *fakeCookies {
	return &fakeCookies{values: map[string]string{}}
}

func (c *fakeCookies) Cookie(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[name]
	return v, ok
}

func (c *fakeCookies) set(name, value string) {
	c.mu.Lock()
	c.values[name] = value
	c.mu.Unlock()
}

func (c *fakeCookies) del(name string) {
	c.mu.Lock()
	delete(c.values, name)
	c.mu.Unlock()
}

// stateStub is a fixed SessionKeeper. Forced checks answer with checkErr and
// leave the state untouched.
type stateStub struct {
	mu        sync.Mutex
	state     authsync.AuthState
	refreshed []string
	checkErr  error
	forced    int
	renewals  int
}

func (s *stateStub) State() authsync.AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stateStub) set(st authsync.AuthState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *stateStub) ApplyTokenRefresh(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed = append(s.refreshed, token)
	s.state.Token = token
	return nil
}

func (s *stateStub) ForceAuthCheck(context.Context) (authsync.AuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced++
	return s.state, s.checkErr
}

func (s *stateStub) RefreshToken(context.Context) (authsync.AuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renewals++
	return s.state, nil
}

func (s *stateStub) counts() (forced, renewals int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forced, s.renewals
}

func authenticatedState(token, sid string) authsync.AuthState {
	u := testUser
	return authsync.AuthState{
		Status:    authsync.StatusAuthenticated,
		User:      &u,
		Token:     token,
		SessionID: sid,
		Session: authsync.Session{
			UserID:    u.ID,
			SessionID: sid,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
}

// countingRecoverer records triggers.
type countingRecoverer struct {
	mu       sync.Mutex
	triggers []authsync.RecoveryTrigger
}

func (r *countingRecoverer) Recover(_ context.Context, trigger authsync.RecoveryTrigger) (authsync.RecoveryResult, error) {
	r.mu.Lock()
	r.triggers = append(r.triggers, trigger)
	r.mu.Unlock()
	return authsync.RecoveryResult{Trigger: trigger, Outcome: authsync.OutcomeRevalidated}, nil
}

func (r *countingRecoverer) calls() []authsync.RecoveryTrigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]authsync.RecoveryTrigger(nil), r.triggers...)
}

func newTestMachine(backend authsync.Backend, opts ...authsync.MachineOption) (*authsync.Machine, *eventRecorder, *authsync.MemoryStore) {
	rec := &eventRecorder{}
	store := authsync.NewMemoryStore("")
	cfg := authsync.DefaultConfig()
	cfg.ProbeTimeout = authsync.Duration(2 * time.Second)
	base := []authsync.MachineOption{
		authsync.WithMachineConfig(cfg),
		authsync.WithMachinePublisher(rec),
		authsync.WithMachineStore(store),
		authsync.WithMachineLogger(quietLogger{}),
	}
	return authsync.NewMachine(backend, append(base, opts...)...), rec, store
}
