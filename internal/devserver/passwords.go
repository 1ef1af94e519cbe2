package devserver

import (
	"github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNoEmptyString = errors.New("password can't be an empty string", errors.CategoryValidation).
				WithTextCode(errors.TextCodeEmptyPassword)
	ErrMismatchedHashAndPassword = errors.New("incorrect username or password", errors.CategoryAuth).
					WithTextCode(errors.TextCodeInvalidCredentials).
					WithCode(errors.CodeUnauthorized)
)

// HashPassword will generate a password hash.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext password matches
// the hashed password.
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}
