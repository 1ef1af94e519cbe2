package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	authsync "github.com/goliatone/go-authsync"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// CredentialModel is the Bun model for persisted bearer credentials.
type CredentialModel struct {
	bun.BaseModel `bun:"table:credentials"`

	Key       string    `bun:"cred_key,pk"`
	Token     string    `bun:"token,notnull"`
	SessionID string    `bun:"session_id"`
	UserID    string    `bun:"user_id"`
	SavedAt   time.Time `bun:"saved_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// CredentialStore implements authsync.CredentialStore using Bun. It holds
// one row per key.
type CredentialStore struct {
	db  bun.IDB
	key string
}

// NewCredentialStore creates a store for key.
func NewCredentialStore(db bun.IDB, key string) *CredentialStore {
	if key == "" {
		key = authsync.DefaultCredentialKey
	}
	return &CredentialStore{db: db, key: key}
}

// Key returns the fixed storage key.
func (r *CredentialStore) Key() string {
	return r.key
}

// CreateTable creates the credentials table if missing.
func (r *CredentialStore) CreateTable(ctx context.Context) error {
	_, err := r.db.NewCreateTable().
		Model((*CredentialModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create credentials table")
	}
	return nil
}

// Load implements authsync.CredentialStore.
func (r *CredentialStore) Load(ctx context.Context) (*authsync.StoredCredential, error) {
	var model CredentialModel
	err := r.db.NewSelect().
		Model(&model).
		Where("cred_key = ?", r.key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load credential").
			WithMetadata(map[string]any{"key": r.key})
	}
	return toCredential(&model), nil
}

// Save implements authsync.CredentialStore.
func (r *CredentialStore) Save(ctx context.Context, cred authsync.StoredCredential) error {
	model := fromCredential(cred)
	model.Key = r.key
	model.UpdatedAt = time.Now()
	if model.SavedAt.IsZero() {
		model.SavedAt = model.UpdatedAt
	}

	_, err := r.db.NewInsert().
		Model(model).
		On("CONFLICT (cred_key) DO UPDATE").
		Set("token = EXCLUDED.token").
		Set("session_id = EXCLUDED.session_id").
		Set("user_id = EXCLUDED.user_id").
		Set("saved_at = EXCLUDED.saved_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save credential").
			WithMetadata(map[string]any{"key": r.key})
	}
	return nil
}

// Clear implements authsync.CredentialStore.
func (r *CredentialStore) Clear(ctx context.Context) error {
	_, err := r.db.NewDelete().
		Model((*CredentialModel)(nil)).
		Where("cred_key = ?", r.key).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear credential").
			WithMetadata(map[string]any{"key": r.key})
	}
	return nil
}

func toCredential(m *CredentialModel) *authsync.StoredCredential {
	return &authsync.StoredCredential{
		Key:       m.Key,
		Token:     m.Token,
		SessionID: m.SessionID,
		UserID:    m.UserID,
		SavedAt:   m.SavedAt,
	}
}

func fromCredential(c authsync.StoredCredential) *CredentialModel {
	return &CredentialModel{
		Key:       c.Key,
		Token:     c.Token,
		SessionID: c.SessionID,
		UserID:    c.UserID,
		SavedAt:   c.SavedAt,
	}
}
