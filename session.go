package authsync

import (
	"fmt"
	"time"
)

// Session is the client copy of the server-tracked session record. The server
// copy is authoritative; the client never creates one on its own.
type Session struct {
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	IssuedAt  time.Time `json:"issued_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the session has a known expiry before now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !s.ExpiresAt.After(now)
}

func (s Session) String() string {
	expires := "<none>"
	if !s.ExpiresAt.IsZero() {
		expires = s.ExpiresAt.Format(time.RFC1123)
	}
	return fmt.Sprintf("user=%s sid=%s exp=%s", s.UserID, truncate(s.SessionID, 8), expires)
}

// AuthState is the canonical tuple owned by Machine. Status authenticated
// implies User, Token and SessionID are all set; any other status implies all
// three are empty.
type AuthState struct {
	Status       AuthStatus   `json:"status"`
	User         *User        `json:"user,omitempty"`
	Token        string       `json:"-"`
	SessionID    string       `json:"session_id,omitempty"`
	Session      Session      `json:"session"`
	Error        string       `json:"error,omitempty"`
	Verifying    bool         `json:"verifying,omitempty"`
	LastVerified time.Time    `json:"last_verified,omitempty"`
	LastReason   LogoutReason `json:"last_reason,omitempty"`
	Version      uint64       `json:"version"`
}

// IsAuthenticated reports whether the state holds a live session.
func (s AuthState) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated
}

// Consistent reports whether the status/tuple invariant holds.
func (s AuthState) Consistent() bool {
	complete := s.User != nil && s.Token != "" && s.SessionID != ""
	empty := s.User == nil && s.Token == "" && s.SessionID == ""
	if s.Status == StatusAuthenticated {
		return complete
	}
	return empty
}

func (s AuthState) clone() AuthState {
	c := s
	c.User = s.User.Clone()
	return c
}

// truncate keeps n leading characters of token material for diagnostics.
func truncate(v string, n int) string {
	if v == "" {
		return ""
	}
	if len(v) <= n {
		return v[:len(v)/2] + "..."
	}
	return v[:n] + "..."
}
