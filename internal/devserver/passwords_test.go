package devserver_test

import (
	"testing"

	"github.com/goliatone/go-authsync/internal/devserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{name: "valid password", password: "securePassword123!"},
		{name: "empty password", password: "", wantErr: true},
		{name: "unicode password", password: "пароль🔒"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := devserver.HashPassword(tt.password, bcrypt.MinCost)
			if tt.wantErr {
				assert.ErrorIs(t, err, devserver.ErrNoEmptyString)
				assert.Empty(t, hash)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, tt.password, hash)
			assert.NoError(t, devserver.ComparePasswordAndHash(tt.password, hash))
		})
	}
}

func TestComparePasswordAndHash(t *testing.T) {
	hash, err := devserver.HashPassword("correct", bcrypt.MinCost)
	require.NoError(t, err)

	assert.ErrorIs(t, devserver.ComparePasswordAndHash("wrong", hash), devserver.ErrMismatchedHashAndPassword)
	assert.Error(t, devserver.ComparePasswordAndHash("correct", "not-a-hash"))
}
