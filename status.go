package authsync

// AuthStatus is the client's belief about the login state.
type AuthStatus string

const (
	StatusIdle            AuthStatus = "idle"
	StatusChecking        AuthStatus = "checking"
	StatusAuthenticated   AuthStatus = "authenticated"
	StatusUnauthenticated AuthStatus = "unauthenticated"
	StatusError           AuthStatus = "error"
)

// HeartbeatState summarizes heartbeat health.
type HeartbeatState string

const (
	HeartbeatHealthy      HeartbeatState = "healthy"
	HeartbeatWarning      HeartbeatState = "warning"
	HeartbeatError        HeartbeatState = "error"
	HeartbeatDisconnected HeartbeatState = "disconnected"
)

// LogoutReason travels with every logout so listeners can pick messaging and
// redirects.
type LogoutReason string

const (
	ReasonUser               LogoutReason = "user"
	ReasonSessionExpired     LogoutReason = "session-expired"
	ReasonIntegrityViolation LogoutReason = "integrity-violation"
)

// Forced reports whether the logout was not requested by the user.
func (r LogoutReason) Forced() bool {
	return r != "" && r != ReasonUser
}

// RecoveryTrigger names the component that asked for recovery.
type RecoveryTrigger string

const (
	TriggerHeartbeatThreshold RecoveryTrigger = "heartbeat-threshold"
	TriggerAuthRejected       RecoveryTrigger = "auth-rejected"
	TriggerCookieCleared      RecoveryTrigger = "cookie-cleared"
	TriggerIntegrityViolation RecoveryTrigger = "integrity-violation"
	TriggerUser               RecoveryTrigger = "user"
)

// RecoveryOutcome is one of the two terminal results of a recovery.
type RecoveryOutcome string

const (
	OutcomeRevalidated RecoveryOutcome = "revalidated"
	OutcomeLoggedOut   RecoveryOutcome = "logged-out"
)
