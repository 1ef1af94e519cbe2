package authsync

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the claim set the blog backend puts in its bearer tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
	UID       string `json:"uid,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Username  string `json:"username,omitempty"`
}

// UserID returns the user id claim, falling back to the subject.
func (c *TokenClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject
}

// Expires returns the expiration time, zero when absent.
func (c *TokenClaims) Expires() time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}

// Expired reports whether the token carries an expiry before now.
func (c *TokenClaims) Expired(now time.Time) bool {
	exp := c.Expires()
	return !exp.IsZero() && !exp.After(now)
}

// InspectToken decodes the claims of a bearer token without verifying its
// signature. The client never holds the signing key; the decoded claims are
// only used to cross-check identity and expiry against the session copy.
func InspectToken(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
