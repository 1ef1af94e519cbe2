package authsync

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// User is the client copy of the backend user.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"full_name,omitempty"`
	IsSuperuser bool   `json:"is_superuser,omitempty"`
}

// Clone returns a deep copy, nil safe.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// StoredCredential is what a CredentialStore persists.
type StoredCredential struct {
	Key       string    `json:"key"`
	Token     string    `json:"token"`
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	SavedAt   time.Time `json:"saved_at"`
}

// LoginRequest carries the credentials typed by the user.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate checks the request locally; failures never reach the network.
func (r LoginRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(1, 150)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 256)),
	)
	if err != nil {
		return NewValidationError(err)
	}
	return nil
}

// LoginResult is the backend response to a successful login.
type LoginResult struct {
	Token     string
	User      *User
	SessionID string
	ExpiresAt time.Time
}

// SessionCheck is the backend's view of the session behind a token.
type SessionCheck struct {
	User      *User
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HeartbeatResult is the backend's answer to a liveness probe. Token is set
// when the backend rotated the credential.
type HeartbeatResult struct {
	Status          string
	ServerTimestamp time.Time
	NextPingIn      time.Duration
	Token           string
}

// ServerIntegrity is the backend's own verdict on the session cookie.
type ServerIntegrity struct {
	IntegrityValid  bool
	SessionMatch    bool
	UserMatch       bool
	ExpiryValid     bool
	SecurityScore   int
	Issues          []string
	Recommendations []string
}

// CookieAlert is reported to the backend when the cookie monitor escalates an
// integrity violation. CookieValue is truncated.
type CookieAlert struct {
	Message       string
	SessionID     string
	CookieValue   string
	SecurityScore int
	Issues        []string
	DetectedAt    time.Time
}
