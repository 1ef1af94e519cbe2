// Package devserver is a small in-memory implementation of the blog backend's
// auth, session, heartbeat and cookie integrity endpoints. It backs the
// end-to-end tests and the `authsync serve` command.
package devserver

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	authsync "github.com/goliatone/go-authsync"
	"github.com/goliatone/go-authsync/internal/wire"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type account struct {
	user *authsync.User
	hash string
}

type session struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
	Revoked      bool
}

// Option customizes a Server.
type Option func(*Server)

// WithSigningKey sets the HS256 key.
func WithSigningKey(key []byte) Option {
	return func(s *Server) {
		if len(key) > 0 {
			s.signingKey = key
		}
	}
}

// WithTokenTTL sets how long minted tokens live.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithSessionTTL sets how long sessions live.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Server) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithCookieName sets the session cookie name.
func WithCookieName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.cookieName = name
		}
	}
}

// WithSecureCookies marks the session cookie Secure. Leave off for plain
// http on loopback.
func WithSecureCookies(secure bool) Option {
	return func(s *Server) {
		s.secureCookies = secure
	}
}

// WithNextPingIn sets the heartbeat interval hint returned to clients.
func WithNextPingIn(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.nextPingIn = d
		}
	}
}

// WithTokenRotation makes every heartbeat return a fresh token for the same
// session.
func WithTokenRotation(enabled bool) Option {
	return func(s *Server) {
		s.rotateTokens = enabled
	}
}

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Server) {
		s.bcryptCost = cost
	}
}

// WithLogger sets the logger.
func WithLogger(logger authsync.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Server is the development backend.
type Server struct {
	app           *fiber.App
	tokens        *TokenService
	logger        authsync.Logger
	now           func() time.Time
	signingKey    []byte
	tokenTTL      time.Duration
	sessionTTL    time.Duration
	cookieName    string
	secureCookies bool
	nextPingIn    time.Duration
	rotateTokens  bool
	bcryptCost    int

	mu               sync.RWMutex
	accounts         map[string]*account
	sessions         map[string]*session
	revokedTokens    map[string]struct{}
	alerts           []wire.AlertRequest
	heartbeatFailure int

	hitsMu sync.Mutex
	hits   map[string]*atomic.Int64
}

// New builds a Server with its routes registered.
func New(opts ...Option) *Server {
	s := &Server{
		logger:     authsync.DefaultLogger("devserver"),
		now:        time.Now,
		signingKey: []byte(uuid.NewString()),
		tokenTTL:   time.Hour,
		sessionTTL: 24 * time.Hour,
		cookieName: authsync.DefaultCookieName,
		nextPingIn: authsync.DefaultHeartbeatInterval,
		bcryptCost: 10,
		accounts:   map[string]*account{},
		sessions:   map[string]*session{},
		hits:       map[string]*atomic.Int64{},

		revokedTokens: map[string]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.tokens = NewTokenService(s.signingKey, "authsync-devserver", s.tokenTTL, s.logger)
	s.tokens.now = s.now

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Use(s.countHits)
	s.app.Post(wire.PathLogin, s.login)
	s.app.Post(wire.PathLogout, s.logout)
	s.app.Get(wire.PathValidate, s.validate)
	s.app.Post(wire.PathHeartbeat, s.heartbeat)
	s.app.Post(wire.PathIntegrity, s.integrity)
	s.app.Post(wire.PathRefresh, s.refresh)
	s.app.Post(wire.PathExtend, s.extend)
	s.app.Post(wire.PathAlert, s.alert)
}

// App exposes the fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// AddUser registers an account.
func (s *Server) AddUser(username, password, email string) (*authsync.User, error) {
	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	user := &authsync.User{
		ID:       uuid.NewString(),
		Username: username,
		Email:    email,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[username]; ok {
		return nil, errors.New("username already registered", errors.CategoryConflict).
			WithCode(errors.CodeConflict)
	}
	s.accounts[username] = &account{user: user, hash: hash}
	return user.Clone(), nil
}

// RevokeSession invalidates a session server side.
func (s *Server) RevokeSession(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Revoked {
		return false
	}
	sess.Revoked = true
	return true
}

// ActiveSessions counts live sessions.
func (s *Server) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	now := s.now()
	for _, sess := range s.sessions {
		if !sess.Revoked && now.Before(sess.ExpiresAt) {
			n++
		}
	}
	return n
}

// Alerts returns the cookie alerts received so far.
func (s *Server) Alerts() []wire.AlertRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]wire.AlertRequest(nil), s.alerts...)
}

// SessionExpiry returns when a session expires.
func (s *Server) SessionExpiry(sessionID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return time.Time{}, false
	}
	return sess.ExpiresAt, true
}

// SetHeartbeatFailure makes the heartbeat endpoint answer with status. Zero
// restores normal behavior.
func (s *Server) SetHeartbeatFailure(status int) {
	s.mu.Lock()
	s.heartbeatFailure = status
	s.mu.Unlock()
}

// Hits returns how many requests reached path.
func (s *Server) Hits(path string) int64 {
	s.hitsMu.Lock()
	defer s.hitsMu.Unlock()
	if c, ok := s.hits[path]; ok {
		return c.Load()
	}
	return 0
}

func (s *Server) countHits(c *fiber.Ctx) error {
	path := strings.Clone(c.Path())
	s.hitsMu.Lock()
	counter, ok := s.hits[path]
	if !ok {
		counter = &atomic.Int64{}
		s.hits[path] = counter
	}
	s.hitsMu.Unlock()
	counter.Add(1)
	return c.Next()
}

func (s *Server) login(c *fiber.Ctx) error {
	var req wire.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return detail(c, fiber.StatusBadRequest, "malformed request body")
	}
	if req.Username == "" || req.Password == "" {
		return detail(c, fiber.StatusBadRequest, "username and password are required")
	}

	s.mu.RLock()
	acc, ok := s.accounts[req.Username]
	s.mu.RUnlock()
	if !ok {
		return detail(c, fiber.StatusUnauthorized, "Incorrect username or password")
	}
	if err := ComparePasswordAndHash(req.Password, acc.hash); err != nil {
		s.logger.Info("login rejected for %s", req.Username)
		return detail(c, fiber.StatusUnauthorized, "Incorrect username or password")
	}

	now := s.now()
	sess := s.newSession(acc.user.ID, now)
	token, exp, err := s.tokens.Generate(acc.user, sess.ID)
	if err != nil {
		return err
	}

	s.setSessionCookie(c, sess.ID, sess.ExpiresAt)
	s.logger.Info("login user=%s sid=%s", acc.user.Username, sess.ID[:8])

	return c.JSON(wire.LoginResponse{
		AccessToken: token,
		TokenType:   wire.TokenType,
		ExpiresIn:   int64(exp.Sub(now).Seconds()),
		SessionID:   sess.ID,
		User:        wire.FromUser(acc.user),
	})
}

func (s *Server) logout(c *fiber.Ctx) error {
	var req wire.LogoutRequest
	_ = c.BodyParser(&req)

	if claims, err := s.tokens.Validate(bearer(c)); err == nil {
		s.RevokeSession(claims.SessionID)
		s.revokeToken(claims)
		s.logger.Info("logout sid=%s reason=%s", claims.SessionID[:8], req.Reason)
	}
	s.clearSessionCookie(c)
	return c.JSON(wire.MessageResponse{Message: "Successfully logged out"})
}

func (s *Server) validate(c *fiber.Ctx) error {
	claims, sess, user, err := s.authorize(c)
	if err != nil {
		return detail(c, fiber.StatusUnauthorized, err.Error())
	}
	return c.JSON(wire.ValidateResponse{
		IsValid: true,
		SessionInfo: &wire.SessionInfo{
			SessionID:    claims.SessionID,
			UserID:       sess.UserID,
			CreatedAt:    sess.CreatedAt,
			ExpiresAt:    sess.ExpiresAt,
			LastActivity: sess.LastActivity,
		},
		User: wire.FromUser(user),
	})
}

func (s *Server) heartbeat(c *fiber.Ctx) error {
	s.mu.RLock()
	failure := s.heartbeatFailure
	s.mu.RUnlock()
	if failure != 0 {
		return detail(c, failure, "heartbeat unavailable")
	}

	_, sess, user, err := s.authorize(c)
	if err != nil {
		return detail(c, fiber.StatusUnauthorized, err.Error())
	}

	now := s.now()
	s.mu.Lock()
	sess.LastActivity = now
	s.mu.Unlock()

	res := wire.HeartbeatResponse{
		Status:          "pong",
		UserID:          user.ID,
		SessionID:       sess.ID,
		ServerTimestamp: now,
		NextPingIn:      int(s.nextPingIn / time.Second),
	}
	if s.rotateTokens {
		token, _, err := s.tokens.Generate(user, sess.ID)
		if err != nil {
			return err
		}
		res.AccessToken = token
	}
	return c.JSON(res)
}

func (s *Server) integrity(c *fiber.Ctx) error {
	var req wire.IntegrityRequest
	if err := c.BodyParser(&req); err != nil {
		return detail(c, fiber.StatusBadRequest, "malformed request body")
	}
	claims, sess, _, err := s.authorize(c)
	if err != nil {
		return detail(c, fiber.StatusUnauthorized, err.Error())
	}

	report := authsync.ScoreIntegrity(
		req.CookieValue == claims.SessionID,
		req.ExpectedUserID == "" || req.ExpectedUserID == claims.UserID(),
		s.now().Before(sess.ExpiresAt),
	)
	return c.JSON(wire.IntegrityResponse{
		IntegrityValid:  report.IntegrityValid,
		SessionMatch:    report.SessionMatch,
		UserMatch:       report.UserMatch,
		ExpiryValid:     report.ExpiryValid,
		SecurityScore:   report.SecurityScore,
		Issues:          nonNil(report.Issues),
		Recommendations: nonNil(report.Recommendations),
	})
}

// refresh revokes the presented token and mints a new one. The session named
// by the cookie is kept when it is live and owned by the caller; otherwise the
// bearer's session is used, and a new session is created when neither is live.
func (s *Server) refresh(c *fiber.Ctx) error {
	claims, user, err := s.bearerUser(c)
	if err != nil {
		return detail(c, fiber.StatusUnauthorized, err.Error())
	}

	now := s.now()
	s.mu.Lock()
	sess := s.liveSessionLocked(c.Cookies(s.cookieName), user.ID, now)
	if sess == nil {
		sess = s.liveSessionLocked(claims.SessionID, user.ID, now)
	}
	if sess != nil {
		sess.LastActivity = now
		sess.ExpiresAt = now.Add(s.sessionTTL)
	}
	s.mu.Unlock()
	if sess == nil {
		sess = s.newSession(user.ID, now)
		s.logger.Info("refresh replaced a dead session for user=%s", user.Username)
	}
	s.revokeToken(claims)

	token, exp, err := s.tokens.Generate(user, sess.ID)
	if err != nil {
		return err
	}
	s.setSessionCookie(c, sess.ID, sess.ExpiresAt)

	return c.JSON(wire.RefreshResponse{
		LoginResponse: wire.LoginResponse{
			AccessToken: token,
			TokenType:   wire.TokenType,
			ExpiresIn:   int64(exp.Sub(now).Seconds()),
			SessionID:   sess.ID,
			User:        wire.FromUser(user),
		},
		RefreshTime: now,
	})
}

func (s *Server) extend(c *fiber.Ctx) error {
	var req wire.ExtendRequest
	if err := c.BodyParser(&req); err != nil {
		return detail(c, fiber.StatusBadRequest, "malformed request body")
	}
	_, _, user, err := s.authorize(c)
	if err != nil {
		return detail(c, fiber.StatusUnauthorized, err.Error())
	}
	if req.ExtendSeconds <= 0 {
		req.ExtendSeconds = 3600
	}

	s.mu.Lock()
	sess := s.liveSessionLocked(req.SessionID, user.ID, s.now())
	if sess == nil {
		s.mu.Unlock()
		return detail(c, fiber.StatusNotFound, "Session not found")
	}
	sess.ExpiresAt = sess.ExpiresAt.Add(time.Duration(req.ExtendSeconds) * time.Second)
	expires := sess.ExpiresAt
	s.mu.Unlock()

	return c.JSON(wire.ExtendResponse{
		Message:         "Session extended",
		SessionID:       req.SessionID,
		ExtendedSeconds: req.ExtendSeconds,
		ExpiresAt:       expires,
	})
}

func (s *Server) alert(c *fiber.Ctx) error {
	var req wire.AlertRequest
	if err := c.BodyParser(&req); err != nil {
		return detail(c, fiber.StatusBadRequest, "malformed request body")
	}
	_, _, user, err := s.authorize(c)
	if err != nil {
		return detail(c, fiber.StatusUnauthorized, err.Error())
	}

	now := s.now()
	s.mu.Lock()
	s.alerts = append(s.alerts, req)
	s.mu.Unlock()
	s.logger.Warn("cookie alert user=%s score=%d: %s", user.Username, req.SecurityScore, req.Message)

	return c.JSON(wire.AlertResponse{
		AlertID:   "cookie_alert_" + uuid.NewString(),
		Message:   "Alert recorded",
		Timestamp: now,
		UserID:    user.ID,
	})
}

// authorize resolves the bearer token to a live session and its user.
func (s *Server) authorize(c *fiber.Ctx) (*authsync.TokenClaims, *session, *authsync.User, error) {
	claims, user, err := s.bearerUser(c)
	if err != nil {
		return nil, nil, nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	sess := s.liveSessionLocked(claims.SessionID, user.ID, s.now())
	if sess == nil {
		return nil, nil, nil, errors.New("Session expired or invalid", errors.CategoryAuth)
	}
	return claims, sess, user, nil
}

// bearerUser validates the bearer token and resolves its user. The session is
// not checked.
func (s *Server) bearerUser(c *fiber.Ctx) (*authsync.TokenClaims, *authsync.User, error) {
	claims, err := s.tokens.Validate(bearer(c))
	if err != nil {
		return nil, nil, errors.New("Could not validate credentials", errors.CategoryAuth)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, revoked := s.revokedTokens[claims.ID]; revoked {
		return nil, nil, errors.New("Token has been revoked", errors.CategoryAuth)
	}
	for _, acc := range s.accounts {
		if acc.user.ID == claims.UserID() {
			return claims, acc.user.Clone(), nil
		}
	}
	return nil, nil, errors.New("User not found", errors.CategoryAuth)
}

func (s *Server) liveSessionLocked(id, userID string, now time.Time) *session {
	sess, ok := s.sessions[id]
	if !ok || sess.Revoked || sess.UserID != userID || !now.Before(sess.ExpiresAt) {
		return nil
	}
	return sess
}

func (s *Server) newSession(userID string, now time.Time) *session {
	sess := &session{
		ID:           uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.sessionTTL),
		LastActivity: now,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

func (s *Server) revokeToken(claims *authsync.TokenClaims) {
	if claims == nil || claims.ID == "" {
		return
	}
	s.mu.Lock()
	s.revokedTokens[claims.ID] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) setSessionCookie(c *fiber.Ctx, sessionID string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     s.cookieName,
		Value:    sessionID,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   s.secureCookies,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  s.now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   s.secureCookies,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	var rich *errors.Error
	if errors.As(err, &rich) && rich.Code != 0 {
		code = rich.Code
	}
	s.logger.Error("request %s %s failed: %v", c.Method(), c.Path(), err)
	return detail(c, code, err.Error())
}

func detail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(wire.ErrorResponse{Detail: msg})
}

func bearer(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
