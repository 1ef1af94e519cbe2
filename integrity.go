package authsync

import "time"

// Integrity weights. Identity checks weigh more than freshness.
const (
	SessionMismatchPenalty = 30
	UserMismatchPenalty    = 40
	ExpiryPenalty          = 25
	MinSecurityScore       = 70
)

// IntegrityReport is the result of one ValidateCookieIntegrity call. It is
// computed from the observed state only; nothing in it accumulates.
type IntegrityReport struct {
	IntegrityValid  bool      `json:"integrity_valid"`
	SessionMatch    bool      `json:"session_match"`
	UserMatch       bool      `json:"user_match"`
	ExpiryValid     bool      `json:"expiry_valid"`
	SecurityScore   int       `json:"security_score"`
	Issues          []string  `json:"issues,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// IdentityMismatch reports a session or user mismatch, the severe kind.
func (r IntegrityReport) IdentityMismatch() bool {
	return !r.SessionMatch || !r.UserMatch
}

// ScoreIntegrity derives the score and verdict from the three checks.
func ScoreIntegrity(sessionMatch, userMatch, expiryValid bool) IntegrityReport {
	r := IntegrityReport{
		SessionMatch:  sessionMatch,
		UserMatch:     userMatch,
		ExpiryValid:   expiryValid,
		SecurityScore: 100,
	}
	if !sessionMatch {
		r.SecurityScore -= SessionMismatchPenalty
		r.Issues = append(r.Issues, "session id mismatch between cookie and client state")
		r.Recommendations = append(r.Recommendations, "re-verify the session with the backend")
	}
	if !userMatch {
		r.SecurityScore -= UserMismatchPenalty
		r.Issues = append(r.Issues, "user id mismatch between credential and client state")
		r.Recommendations = append(r.Recommendations, "log out and sign in again")
	}
	if !expiryValid {
		r.SecurityScore -= ExpiryPenalty
		r.Issues = append(r.Issues, "session or credential expired")
		r.Recommendations = append(r.Recommendations, "refresh the session")
	}
	if r.SecurityScore < 0 {
		r.SecurityScore = 0
	}
	r.IntegrityValid = sessionMatch && userMatch && expiryValid && r.SecurityScore >= MinSecurityScore
	return r
}
