// Package sqlite is the embedded mirror backend, used when no Postgres DSN is
// configured.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"supplyTrace/internal/model"
	"supplyTrace/internal/storage"
)

var _ storage.Mirror = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ledger_id     INTEGER NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	origin        TEXT NOT NULL,
	category      TEXT NOT NULL,
	status        TEXT NOT NULL,
	owner_address TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS supply_chain_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id  INTEGER NOT NULL,
	event_type  TEXT NOT NULL,
	description TEXT NOT NULL,
	location    TEXT NOT NULL DEFAULT '',
	timestamp   INTEGER NOT NULL,
	tx_hash     TEXT,
	log_index   INTEGER,
	UNIQUE (tx_hash, log_index)
);

CREATE INDEX IF NOT EXISTS supply_chain_events_product_idx
	ON supply_chain_events (product_id, timestamp, id);

CREATE TABLE IF NOT EXISTS sync_state (
	name       TEXT PRIMARY KEY,
	value      INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store keeps the mirror in a single SQLite file. Timestamps are stored as
// unix nanoseconds.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens (and creates) the database at path. ":memory:" is accepted.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; also keeps a ":memory:" database on a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) InsertProduct(ctx context.Context, p model.Product) (bool, error) {
	now := s.now().UnixNano()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			ledger_id, name, origin, category, status, owner_address, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ledger_id) DO NOTHING
	`, int64(p.LedgerID), p.Name, p.Origin, p.Category, p.Status, p.Owner, now, now)
	if err != nil {
		return false, fmt.Errorf("insert product %d: %w", p.LedgerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) UpdateProductStatus(ctx context.Context, ledgerID uint64, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET status = ?, updated_at = ? WHERE ledger_id = ?
	`, status, s.now().UnixNano(), int64(ledgerID))
	if err != nil {
		return false, fmt.Errorf("update product %d: %w", ledgerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) AppendEvent(ctx context.Context, event model.Event) (model.Event, bool, error) {
	now := s.now()
	event.Timestamp = time.Unix(0, now.UnixNano()).UTC()

	var txHash sql.NullString
	var logIndex sql.NullInt64
	if event.Source != nil {
		txHash = sql.NullString{String: event.Source.TxHash, Valid: true}
		logIndex = sql.NullInt64{Int64: int64(event.Source.LogIndex), Valid: true}
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO supply_chain_events (
			product_id, event_type, description, location, timestamp, tx_hash, log_index
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING id
	`, int64(event.ProductID), event.EventType, event.Description, event.Location, now.UnixNano(), txHash, logIndex)
	if err := row.Scan(&event.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return event, false, nil
		}
		return event, false, fmt.Errorf("append event for %d: %w", event.ProductID, err)
	}
	return event, true, nil
}

func (s *Store) History(ctx context.Context, ledgerID uint64) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, event_type, description, location, timestamp, tx_hash, log_index
		FROM supply_chain_events
		WHERE product_id = ?
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
			ts        int64
			txHash    sql.NullString
			logIndex  sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &productID, &e.EventType, &e.Description, &e.Location, &ts, &txHash, &logIndex); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.ProductID = uint64(productID)
		e.Timestamp = time.Unix(0, ts).UTC()
		if txHash.Valid && logIndex.Valid {
			e.Source = &model.FactSource{TxHash: txHash.String, LogIndex: uint(logIndex.Int64)}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) Products(ctx context.Context) ([]model.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
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
			p                  model.Product
			ledgerID           int64
			createdAt, updated int64
		)
		if err := rows.Scan(&ledgerID, &p.Name, &p.Origin, &p.Category, &p.Status, &p.Owner, &createdAt, &updated); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.LedgerID = uint64(ledgerID)
		p.CreatedAt = time.Unix(0, createdAt).UTC()
		p.UpdatedAt = time.Unix(0, updated).UTC()
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var value int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE name = ?`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(value), true, nil
}

func (s *Store) SaveState(ctx context.Context, name string, value uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (name, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at
	`, name, int64(value), s.now().UnixNano())
	return err
}
