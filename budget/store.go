/*
store.go - Persistence interface for workspace state and the change log

PURPOSE:
  Defines the boundary between the ledger logic and the database. Each
  workspace owns an isolated triple of collections (line items, distance
  days, parameters); the change log is one global append-only collection.

KEY INTERFACES:
  Store:   per-statement operations; each call is atomic on its own
  TxStore: Store plus WithTx for multi-statement atomicity

IDENTIFIERS:
  Inserts ignore the ID of the passed record and return the stored record
  with a fresh identifier assigned by the store.

IMPLEMENTATIONS:
  - budget/store/memory.go: in-memory, for tests and development
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - ledger.go: higher-level service on top of Store
  - promotion.go: uses WithTx when available
*/
package budget

import "context"

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// LineItems returns all items of a workspace ordered by category, then creation.
	LineItems(ctx context.Context, ws Workspace) ([]LineItem, error)
	InsertLineItem(ctx context.Context, item LineItem) (LineItem, error)
	UpdateLineItem(ctx context.Context, item LineItem) error
	DeleteLineItem(ctx context.Context, ws Workspace, id string) error
	// DeleteLineItems removes every item of a workspace.
	DeleteLineItems(ctx context.Context, ws Workspace) error

	// DistanceDays returns all days of a workspace ordered by sequence.
	DistanceDays(ctx context.Context, ws Workspace) ([]DistanceDay, error)
	InsertDistanceDay(ctx context.Context, day DistanceDay) (DistanceDay, error)
	UpdateDistanceDay(ctx context.Context, day DistanceDay) error
	DeleteDistanceDay(ctx context.Context, ws Workspace, id string) error
	DeleteDistanceDays(ctx context.Context, ws Workspace) error

	// Parameters returns the workspace's record or a NotFoundError.
	Parameters(ctx context.Context, ws Workspace) (Parameters, error)
	// UpsertParameters updates the record in place or inserts it. Never partial.
	UpsertParameters(ctx context.Context, p Parameters) (Parameters, error)

	// AppendChange persists one change log entry. Append-only.
	AppendChange(ctx context.Context, entry ChangeLogEntry) error
	// Changes returns matching entries newest-first.
	Changes(ctx context.Context, filter ChangeFilter) ([]ChangeLogEntry, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
