/*
Package sqlite provides a SQLite-backed implementation of budget.TxStore.

PURPOSE:
  Persists the three workspaces (line items, distance days, parameters) and
  the global change log in one SQLite database. Workspaces are isolated by a
  workspace column; no query spans two workspaces.

KEY TABLES:
  line_items:    priced entries; unique (workspace, category, subcategory, description, auto)
  distance_days: one row per (workspace, day)
  parameters:    one row per workspace
  change_log:    append-only field-level history

MIGRATIONS:
  Versioned SQL files under migrations/ are embedded and applied with goose
  on New(). WithSchemaVersion stops at an older version, which is how the
  schema-mismatch path is exercised.

CONNECTIONS:
  The pool is limited to one connection. Statements are serialized by
  database/sql, and ":memory:" databases stay a single database.

SCHEMA MISMATCH:
  "no such column" errors from the driver become budget.StoreError values
  with MissingField set, so callers can name the field that is missing.

SEE ALSO:
  - budget/store.go: interface definitions
  - budget/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/warp/trip-budget/budget"
)

//go:embed migrations/*.sql
var migrations embed.FS

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements budget.TxStore using SQLite.
type Store struct {
	repo
	db *sql.DB
}

type options struct {
	schemaVersion int64
}

type Option func(*options)

// WithSchemaVersion migrates only up to version v instead of the latest.
func WithSchemaVersion(v int64) Option {
	return func(o *options) { o.schemaVersion = v }
}

// New opens the database at dbPath and applies migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(context.Background(), db, o.schemaVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{repo: repo{q: db}, db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB, version int64) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return err
	}
	if version > 0 {
		_, err = provider.UpTo(ctx, version)
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// TRANSACTIONAL STORE (budget.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store budget.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Reset deletes every row. Development only.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"line_items", "distance_days", "parameters", "change_log"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

var (
	_ budget.TxStore = (*Store)(nil)
	_ budget.Store   = (*repo)(nil)
)
