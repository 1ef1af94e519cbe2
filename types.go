package authsync

import (
	"context"
	"fmt"
	"time"
)

// Logger is the logging contract used by every component in the package.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// LoggerProvider hands out named loggers, one per component.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// Backend is the REST backend the engine talks to. Implementations must map
// transport failures to NetworkError, 401 to AuthRejected and 403 to
// Forbidden (see errors.go).
type Backend interface {
	Login(ctx context.Context, username, password string) (LoginResult, error)
	Logout(ctx context.Context, token string, reason LogoutReason) error
	CheckSession(ctx context.Context, token string) (SessionCheck, error)
	HeartbeatPing(ctx context.Context, token, sessionID string) (HeartbeatResult, error)
}

// IntegrityVerifier is optionally implemented by backends that can
// cross-check the session cookie server side.
type IntegrityVerifier interface {
	VerifyCookieIntegrity(ctx context.Context, token, cookieValue, expectedUserID string) (ServerIntegrity, error)
}

// TokenRenewer is optionally implemented by backends that can mint a fresh
// credential for the live session. A result for another session id means the
// backend replaced a session it no longer recognized.
type TokenRenewer interface {
	RefreshToken(ctx context.Context, token string) (LoginResult, error)
}

// SessionExtender is optionally implemented by backends that can push the
// server side session expiry forward. It returns the new expiry.
type SessionExtender interface {
	ExtendSession(ctx context.Context, token, sessionID string, by time.Duration) (time.Time, error)
}

// AlertReporter is optionally implemented by backends that collect cookie
// integrity alerts.
type AlertReporter interface {
	ReportCookieAlert(ctx context.Context, token string, alert CookieAlert) error
}

// CredentialStore persists the bearer credential so a restarted client can
// re-attach to its session. Load returns nil, nil when nothing is stored.
type CredentialStore interface {
	Load(ctx context.Context) (*StoredCredential, error)
	Save(ctx context.Context, cred StoredCredential) error
	Clear(ctx context.Context) error
}

// CookieSource gives read-only access to the cookies the backend set.
type CookieSource interface {
	Cookie(name string) (string, bool)
}

// StateReader exposes read-only snapshots of the auth tuple.
type StateReader interface {
	State() AuthState
}

// Service is the lifecycle contract of registry-managed collaborators.
type Service interface {
	Initialize(ctx context.Context) error
	Dispose(ctx context.Context) error
}

type defLogger struct {
	name string
}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf(d.prefix("ERR")+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf(d.prefix("WRN")+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf(d.prefix("INF")+newline(format), args...)
}

// Debug is dropped by the fallback logger.
func (d defLogger) Debug(string, ...any) {}

func (d defLogger) prefix(level string) string {
	if d.name == "" {
		return "[" + level + "] AUTHSYNC "
	}
	return "[" + level + "] AUTHSYNC " + d.name + ": "
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func loggerFrom(provider LoggerProvider, name string) Logger {
	if provider == nil {
		return defLogger{name: name}
	}
	if lgr := provider.GetLogger(name); lgr != nil {
		return lgr
	}
	return defLogger{name: name}
}
