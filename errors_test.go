package authsync_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	authsync "github.com/goliatone/go-authsync"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	network := authsync.NewNetworkError(errors.New("connection refused"), "backend unreachable")
	rejected := authsync.NewAuthRejectedError("")
	forbidden := authsync.NewForbiddenError("")
	server := authsync.NewServerError(503, "maintenance")
	integrity := authsync.NewIntegrityViolationError("cookie mismatch")
	validation := authsync.NewValidationError(errors.New("username required"))

	tests := []struct {
		name      string
		err       error
		network   bool
		rejected  bool
		forbidden bool
		valid     bool
		integrity bool
	}{
		{name: "network", err: network, network: true},
		{name: "deadline", err: context.DeadlineExceeded, network: true},
		{name: "rejected", err: rejected, rejected: true},
		{name: "forbidden", err: forbidden, rejected: true, forbidden: true},
		{name: "server", err: server},
		{name: "integrity", err: integrity, integrity: true},
		{name: "validation", err: validation, valid: true},
		{name: "wrapped rejection", err: fmt.Errorf("check: %w", rejected), rejected: true},
		{name: "plain", err: errors.New("boom")},
		{name: "nil", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.network, authsync.IsNetworkError(tt.err))
			assert.Equal(t, tt.rejected, authsync.IsAuthRejected(tt.err))
			assert.Equal(t, tt.forbidden, authsync.IsForbidden(tt.err))
			assert.Equal(t, tt.valid, authsync.IsValidationError(tt.err))
			assert.Equal(t, tt.integrity, authsync.IsIntegrityViolation(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "", authsync.ErrorMessage(nil))
	assert.Equal(t, "credential rejected", authsync.ErrorMessage(authsync.NewAuthRejectedError("")))
	assert.Equal(t, "maintenance", authsync.ErrorMessage(authsync.NewServerError(503, "maintenance")))
	assert.Equal(t, "boom", authsync.ErrorMessage(errors.New("boom")))
}

func TestErrorCodes(t *testing.T) {
	var rich *goerrors.Error

	assert.True(t, goerrors.As(authsync.NewAuthRejectedError("x"), &rich))
	assert.Equal(t, goerrors.CodeUnauthorized, rich.Code)
	assert.Equal(t, authsync.TextCodeAuthRejected, rich.TextCode)

	assert.True(t, goerrors.As(authsync.NewServerError(502, "bad gateway"), &rich))
	assert.Equal(t, 502, rich.Code)

	assert.True(t, goerrors.As(authsync.ErrNotAuthenticated, &rich))
	assert.Equal(t, authsync.TextCodeNotAuthenticated, rich.TextCode)

	assert.True(t, goerrors.As(authsync.NewNetworkError(nil, "offline"), &rich))
	assert.Equal(t, authsync.TextCodeNetwork, rich.TextCode)
}
