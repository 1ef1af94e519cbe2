package devserver

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	authsync "github.com/goliatone/go-authsync"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired = errors.New("token expired", errors.CategoryAuth).
			WithTextCode(errors.TextCodeTokenExpired).
			WithCode(errors.CodeUnauthorized)
	ErrTokenMalformed = errors.New("token malformed", errors.CategoryAuth).
				WithTextCode(errors.TextCodeTokenMalformed).
				WithCode(errors.CodeUnauthorized)
)

// TokenService mints and validates HS256 bearer tokens carrying the user id
// and session id.
type TokenService struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
	logger     authsync.Logger
}

// NewTokenService creates a TokenService.
func NewTokenService(signingKey []byte, issuer string, ttl time.Duration, logger authsync.Logger) *TokenService {
	if logger == nil {
		logger = authsync.DefaultLogger("devserver.tokens")
	}
	return &TokenService{
		signingKey: signingKey,
		issuer:     issuer,
		ttl:        ttl,
		now:        time.Now,
		logger:     logger,
	}
}

// Generate creates a token for user bound to sessionID.
func (ts *TokenService) Generate(user *authsync.User, sessionID string) (string, time.Time, error) {
	now := ts.now()
	exp := now.Add(ts.ttl)
	claims := &authsync.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UID:       user.ID,
		SessionID: sessionID,
		Username:  user.Username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}
	return signed, exp, nil
}

// Validate parses and verifies tokenString.
func (ts *TokenService) Validate(tokenString string) (*authsync.TokenClaims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(ts.now)}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &authsync.TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("unexpected signing method %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode)
	}

	claims, ok := token.Claims.(*authsync.TokenClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
