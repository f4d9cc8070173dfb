package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"supplyTrace/internal/model"
	"supplyTrace/internal/storage"
)

var _ storage.Mirror = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id            BIGSERIAL PRIMARY KEY,
	ledger_id     BIGINT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	origin        TEXT NOT NULL,
	category      TEXT NOT NULL,
	status        TEXT NOT NULL,
	owner_address TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS supply_chain_events (
	id          BIGSERIAL PRIMARY KEY,
	product_id  BIGINT NOT NULL,
	event_type  TEXT NOT NULL,
	description TEXT NOT NULL,
	location    TEXT NOT NULL DEFAULT '',
	timestamp   TIMESTAMPTZ NOT NULL,
	tx_hash     TEXT,
	log_index   BIGINT,
	UNIQUE (tx_hash, log_index)
);

CREATE INDEX IF NOT EXISTS supply_chain_events_product_idx
	ON supply_chain_events (product_id, timestamp, id);

CREATE TABLE IF NOT EXISTS sync_state (
	name       TEXT PRIMARY KEY,
	value      BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Store provides Postgres persistence for the mirror.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, now: time.Now}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// InsertProduct inserts a snapshot unless the ledger id is already present.
func (s *Store) InsertProduct(ctx context.Context, p model.Product) (bool, error) {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO products (
			ledger_id, name, origin, category, status, owner_address, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (ledger_id) DO NOTHING
	`,
		int64(p.LedgerID),
		p.Name,
		p.Origin,
		p.Category,
		p.Status,
		p.Owner,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("insert product %d: %w", p.LedgerID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateProductStatus updates status and updated_at for a ledger id.
func (s *Store) UpdateProductStatus(ctx context.Context, ledgerID uint64, status string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE products SET status = $2, updated_at = $3 WHERE ledger_id = $1
	`, int64(ledgerID), status, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("update product %d: %w", ledgerID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendEvent inserts an event. Ledger-derived events are unique per log.
func (s *Store) AppendEvent(ctx context.Context, event model.Event) (model.Event, bool, error) {
	event.Timestamp = s.now().UTC()

	var txHash *string
	var logIndex *int64
	if event.Source != nil {
		hash := event.Source.TxHash
		index := int64(event.Source.LogIndex)
		txHash, logIndex = &hash, &index
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO supply_chain_events (
			product_id, event_type, description, location, timestamp, tx_hash, log_index
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING id
	`,
		int64(event.ProductID),
		event.EventType,
		event.Description,
		event.Location,
		event.Timestamp,
		txHash,
		logIndex,
	)
	if err := row.Scan(&event.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event, false, nil
		}
		return event, false, fmt.Errorf("append event for %d: %w", event.ProductID, err)
	}
	return event, true, nil
}

// History returns a product's events in insertion order.
func (s *Store) History(ctx context.Context, ledgerID uint64) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, event_type, description, location, timestamp, tx_hash, log_index
		FROM supply_chain_events
		WHERE product_id = $1
		ORDER BY timestamp ASC, id ASC
	`, int64(ledgerID))
	if err != nil {
		return nil, fmt.Errorf("query history %d: %w", ledgerID, err)
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		var (
			e         model.Event
			productID int64
			txHash    *string
			logIndex  *int64
		)
		if err := rows.Scan(&e.ID, &productID, &e.EventType, &e.Description, &e.Location, &e.Timestamp, &txHash, &logIndex); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.ProductID = uint64(productID)
		if txHash != nil && logIndex != nil {
			e.Source = &model.FactSource{TxHash: *txHash, LogIndex: uint(*logIndex)}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Products returns every snapshot, newest first.
func (s *Store) Products(ctx context.Context) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ledger_id, name, origin, category, status, owner_address, created_at, updated_at
		FROM products
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]model.Product, 0)
	for rows.Next() {
		var (
			p        model.Product
			ledgerID int64
		)
		if err := rows.Scan(&ledgerID, &p.Name, &p.Origin, &p.Category, &p.Status, &p.Owner, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.LedgerID = uint64(ledgerID)
		products = append(products, p)
	}
	return products, rows.Err()
}

// LoadState returns the stored value for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var value int64
	row := s.pool.QueryRow(ctx, `SELECT value FROM sync_state WHERE name=$1`, name)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(value), true, nil
}

// SaveState upserts the value for a name.
func (s *Store) SaveState(ctx context.Context, name string, value uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (name, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, name, int64(value), s.now().UTC())
	return err
}
