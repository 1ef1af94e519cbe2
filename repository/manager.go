package repository

import (
	"context"
	"database/sql"
	"errors"

	authsync "github.com/goliatone/go-authsync"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Manager owns the database handle and the repositories built on it. It
// implements the Initialize/Dispose lifecycle expected by service registries.
type Manager struct {
	db          *bun.DB
	credentials *CredentialStore
}

var _ authsync.Service = (*Manager)(nil)

// Open opens a SQLite database at dsn (":memory:" for a throwaway one).
func Open(dsn, credentialKey string) (*Manager, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open credential database").
			WithMetadata(map[string]any{"dsn": dsn})
	}
	sqldb.SetMaxOpenConns(1)
	return NewManager(bun.NewDB(sqldb, sqlitedialect.New()), credentialKey), nil
}

// NewManager wraps an existing Bun database.
func NewManager(db *bun.DB, credentialKey string) *Manager {
	return &Manager{
		db:          db,
		credentials: NewCredentialStore(db, credentialKey),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository database should be initialized")
	}
	if m.credentials == nil {
		return errors.New("repository credentials should be initialized")
	}
	return nil
}

// Initialize creates the schema in a single transaction.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return m.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return NewCredentialStore(tx, m.credentials.Key()).CreateTable(ctx)
	})
}

// Dispose closes the database.
func (m *Manager) Dispose(context.Context) error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m *Manager) Credentials() *CredentialStore {
	return m.credentials
}
