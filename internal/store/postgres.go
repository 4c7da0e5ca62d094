// Package store persists the reservation ledger in Postgres.
package store

import (
	"context"
	"fmt"
	"time"

	"reservationservice/internal/ledger"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS stock_records (
	sku                 TEXT PRIMARY KEY,
	available           INTEGER NOT NULL CHECK (available >= 0),
	low_stock_threshold INTEGER NOT NULL CHECK (low_stock_threshold >= 0)
);
CREATE TABLE IF NOT EXISTS reservations (
	id         TEXT PRIMARY KEY,
	sku        TEXT NOT NULL REFERENCES stock_records (sku),
	quantity   INTEGER NOT NULL CHECK (quantity > 0),
	state      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	closed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS reservations_held_idx ON reservations (sku) WHERE state = 'held';
`

const (
	selectStockRecords = `SELECT sku, available, low_stock_threshold FROM stock_records ORDER BY sku`
	selectReservations = `SELECT id, sku, quantity, state, created_at, expires_at, closed_at FROM reservations ORDER BY sku, id`

	upsertStockRecord = `INSERT INTO stock_records (sku, available, low_stock_threshold)
VALUES ($1, $2, $3)
ON CONFLICT (sku) DO UPDATE SET available = EXCLUDED.available, low_stock_threshold = EXCLUDED.low_stock_threshold`

	upsertReservation = `INSERT INTO reservations (id, sku, quantity, state, created_at, expires_at, closed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, closed_at = EXCLUDED.closed_at`
)

type stockRow struct {
	SKU               string `db:"sku"`
	Available         int    `db:"available"`
	LowStockThreshold int    `db:"low_stock_threshold"`
}

type reservationRow struct {
	ID        string     `db:"id"`
	SKU       string     `db:"sku"`
	Quantity  int        `db:"quantity"`
	State     string     `db:"state"`
	CreatedAt time.Time  `db:"created_at"`
	ExpiresAt time.Time  `db:"expires_at"`
	ClosedAt  *time.Time `db:"closed_at"`
}

// Store reads and writes ledger snapshots.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres at dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(db), nil
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Load returns every stock record and reservation.
func (s *Store) Load(ctx context.Context) ([]ledger.StockRecord, []ledger.Reservation, error) {
	var stockRows []stockRow
	if err := s.db.SelectContext(ctx, &stockRows, selectStockRecords); err != nil {
		return nil, nil, fmt.Errorf("load stock records: %w", err)
	}
	var reservationRows []reservationRow
	if err := s.db.SelectContext(ctx, &reservationRows, selectReservations); err != nil {
		return nil, nil, fmt.Errorf("load reservations: %w", err)
	}

	records := make([]ledger.StockRecord, len(stockRows))
	for i, row := range stockRows {
		records[i] = ledger.StockRecord{
			SKU:               row.SKU,
			Available:         row.Available,
			LowStockThreshold: row.LowStockThreshold,
		}
	}
	reservations := make([]ledger.Reservation, len(reservationRows))
	for i, row := range reservationRows {
		r := ledger.Reservation{
			ID:        row.ID,
			SKU:       row.SKU,
			Quantity:  row.Quantity,
			State:     ledger.State(row.State),
			CreatedAt: row.CreatedAt,
			ExpiresAt: row.ExpiresAt,
		}
		if row.ClosedAt != nil {
			r.ClosedAt = *row.ClosedAt
		}
		reservations[i] = r
	}
	return records, reservations, nil
}

// Save upserts a snapshot in a single transaction. Reservation quantities
// and timestamps are immutable once written; only state and closed_at move.
func (s *Store) Save(ctx context.Context, records []ledger.StockRecord, reservations []ledger.Reservation) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, rec := range records {
		if _, err = tx.ExecContext(ctx, upsertStockRecord, rec.SKU, rec.Available, rec.LowStockThreshold); err != nil {
			return fmt.Errorf("save stock record %s: %w", rec.SKU, err)
		}
	}
	for _, r := range reservations {
		var closedAt *time.Time
		if !r.ClosedAt.IsZero() {
			closedAt = &r.ClosedAt
		}
		if _, err = tx.ExecContext(ctx, upsertReservation,
			r.ID, r.SKU, r.Quantity, string(r.State), r.CreatedAt, r.ExpiresAt, closedAt,
		); err != nil {
			return fmt.Errorf("save reservation %s: %w", r.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}
