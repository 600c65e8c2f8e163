package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	ledger "flexmarket/internal/ledger/domain"
)

const defaultCurrency = "EUR"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS market_ledger (
	id BIGSERIAL PRIMARY KEY,
	timeslot_market TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	bidder_id TEXT NOT NULL,
	buyer_id TEXT NOT NULL,
	flexibility_quantity DOUBLE PRECISION NOT NULL,
	flexibility_unit TEXT NOT NULL DEFAULT 'MW',
	price DOUBLE PRECISION NOT NULL,
	reward DOUBLE PRECISION NOT NULL,
	accepted BOOLEAN NOT NULL,
	currency TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS market_ledger_slot_idx ON market_ledger (timeslot_market);
CREATE INDEX IF NOT EXISTS market_ledger_bidder_idx ON market_ledger (bidder_id);
`

// Repository persists market ledger entries in PostgreSQL.
type Repository struct {
	db       *sql.DB
	currency string
}

// Option customizes the repository.
type Option func(*Repository)

// WithCurrency overrides the default ledger currency.
func WithCurrency(currency string) Option {
	return func(r *Repository) {
		if currency != "" {
			r.currency = currency
		}
	}
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB, opts ...Option) *Repository {
	r := &Repository{db: db, currency: defaultCurrency}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureSchema creates the ledger table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("market ledger repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, schemaDDL)
	return err
}

// Append inserts a ledger entry.
func (r *Repository) Append(ctx context.Context, entry ledger.MarketEntry) error {
	if r == nil || r.db == nil {
		return errors.New("market ledger repo: nil db")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	currency := entry.Currency
	if currency == "" {
		currency = r.currency
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO market_ledger (
	timeslot_market, created_at, bidder_id, buyer_id,
	flexibility_quantity, price, reward, accepted, currency
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.TimeSlot.UTC(), createdAt, entry.BidderID, entry.BuyerID,
		entry.Power, entry.Price, entry.Reward, entry.Accepted, currency)
	return err
}

// ListBySlot returns entries for a time slot ordered by insertion.
func (r *Repository) ListBySlot(ctx context.Context, slot time.Time) ([]ledger.MarketEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("market ledger repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT timeslot_market, created_at, bidder_id, buyer_id,
	flexibility_quantity, price, reward, accepted, currency
FROM market_ledger
WHERE timeslot_market = $1
ORDER BY id`, slot.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByBidder returns entries for a bidder ordered by insertion.
func (r *Repository) ListByBidder(ctx context.Context, bidderID string) ([]ledger.MarketEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("market ledger repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT timeslot_market, created_at, bidder_id, buyer_id,
	flexibility_quantity, price, reward, accepted, currency
FROM market_ledger
WHERE bidder_id = $1
ORDER BY id`, bidderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]ledger.MarketEntry, error) {
	var out []ledger.MarketEntry
	for rows.Next() {
		var entry ledger.MarketEntry
		err := rows.Scan(
			&entry.TimeSlot, &entry.CreatedAt, &entry.BidderID, &entry.BuyerID,
			&entry.Power, &entry.Price, &entry.Reward, &entry.Accepted, &entry.Currency,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
