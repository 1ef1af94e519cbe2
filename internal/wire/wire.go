// Package wire holds the JSON payloads exchanged with the blog backend.
package wire

import (
	"time"

	authsync "github.com/goliatone/go-authsync"
)

const (
	PathLogin     = "/api/v1/auth/login"
	PathLogout    = "/api/v1/auth/logout"
	PathValidate  = "/api/v1/session/validate"
	PathHeartbeat = "/api/v1/heartbeat/ping"
	PathIntegrity = "/api/v1/cookie-monitor/integrity"
	PathRefresh   = "/api/v1/auth/refresh-token"
	PathExtend    = "/api/v1/session/extend"
	PathAlert     = "/api/v1/cookie-monitor/monitor/alert"

	HeaderRequestID = "X-Request-ID"
	TokenType       = "bearer"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	IsSuperuser bool   `json:"is_superuser"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	SessionID   string `json:"session_id"`
	User        *User  `json:"user"`
}

type LogoutRequest struct {
	Reason string `json:"reason,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse follows the backend's {"detail": "..."} error shape.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}

type ValidateResponse struct {
	IsValid     bool         `json:"is_valid"`
	SessionInfo *SessionInfo `json:"session_info,omitempty"`
	User        *User        `json:"user,omitempty"`
}

type HeartbeatRequest struct {
	Timestamp    time.Time      `json:"timestamp"`
	ActivityData map[string]any `json:"activity_data,omitempty"`
}

type HeartbeatResponse struct {
	Status          string    `json:"status"`
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id"`
	ServerTimestamp time.Time `json:"server_timestamp"`
	NextPingIn      int       `json:"next_ping_in"`
	AccessToken     string    `json:"access_token,omitempty"`
}

type IntegrityRequest struct {
	CookieValue    string `json:"cookie_value"`
	ExpectedUserID string `json:"expected_user_id"`
}

type IntegrityResponse struct {
	IntegrityValid  bool     `json:"integrity_valid"`
	SessionMatch    bool     `json:"session_match"`
	UserMatch       bool     `json:"user_match"`
	ExpiryValid     bool     `json:"expiry_valid"`
	SecurityScore   int      `json:"security_score"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// RefreshResponse is LoginResponse plus the server's refresh time.
type RefreshResponse struct {
	LoginResponse
	RefreshTime time.Time `json:"refresh_time"`
}

type ExtendRequest struct {
	SessionID     string `json:"session_id"`
	ExtendSeconds int    `json:"extend_seconds"`
}

type ExtendResponse struct {
	Message         string    `json:"message"`
	SessionID       string    `json:"session_id"`
	ExtendedSeconds int       `json:"extended_seconds"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type AlertRequest struct {
	Message       string    `json:"message"`
	SessionID     string    `json:"session_id,omitempty"`
	CookieValue   string    `json:"cookie_value,omitempty"`
	SecurityScore int       `json:"security_score"`
	Issues        []string  `json:"issues,omitempty"`
	DetectedAt    time.Time `json:"detected_at"`
}

type AlertResponse struct {
	AlertID   string    `json:"alert_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
}

// ToUser converts a payload into the engine's user copy.
func (u *User) ToUser() *authsync.User {
	if u == nil {
		return nil
	}
	return &authsync.User{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.FullName,
		IsSuperuser: u.IsSuperuser,
	}
}

// FromUser converts the engine's user into a payload.
func FromUser(u *authsync.User) *User {
	if u == nil {
		return nil
	}
	return &User{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FullName:    u.DisplayName,
		IsSuperuser: u.IsSuperuser,
	}
}
