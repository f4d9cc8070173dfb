package storage

import (
	"context"

	"supplyTrace/internal/model"
)

// Mirror is the local relational copy of ledger state plus the event log.
// Every write is a single-row statement; there are no cross-table transactions.
type Mirror interface {
	// Migrate creates tables and indexes if they do not exist.
	Migrate(ctx context.Context) error

	// InsertProduct inserts a snapshot. An existing row with the same ledger
	// id is left untouched and inserted=false is returned.
	InsertProduct(ctx context.Context, product model.Product) (inserted bool, err error)
	// UpdateProductStatus sets status and updated_at. A missing row is not an
	// error; updated=false is returned.
	UpdateProductStatus(ctx context.Context, ledgerID uint64, status string) (updated bool, err error)
	// AppendEvent stores an event and returns it with id and timestamp set.
	// An event whose Source was already recorded is skipped (appended=false).
	AppendEvent(ctx context.Context, event model.Event) (stored model.Event, appended bool, err error)

	// History lists a product's events, oldest first.
	History(ctx context.Context, ledgerID uint64) ([]model.Event, error)
	// Products lists all snapshots, newest registration first.
	Products(ctx context.Context) ([]model.Product, error)

	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, value uint64) error

	Close()
}
