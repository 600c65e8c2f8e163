package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidEntry is returned when a ledger entry fails validation.
	ErrInvalidEntry = errors.New("ledger: invalid entry")
	// ErrNilRepository is returned when a ledger sink is missing.
	ErrNilRepository = errors.New("ledger: nil repository")
)

// MarketEntry is one settled (or rejected) bid persisted to the market
// ledger after clearing. Entries are append-only.
type MarketEntry struct {
	TimeSlot  time.Time
	CreatedAt time.Time
	BidderID  string
	BuyerID   string
	Power     float64
	Price     float64
	Reward    float64
	Accepted  bool
	Currency  string
}

// Validate checks the entry fields.
func (e MarketEntry) Validate() error {
	if e.TimeSlot.IsZero() || e.BidderID == "" || e.BuyerID == "" {
		return ErrInvalidEntry
	}
	return nil
}

// Repository is the durable sink for market ledger entries. The clearing
// core never writes here itself; the orchestrator persists after Clear.
type Repository interface {
	Append(ctx context.Context, entry MarketEntry) error
	ListBySlot(ctx context.Context, slot time.Time) ([]MarketEntry, error)
	ListByBidder(ctx context.Context, bidderID string) ([]MarketEntry, error)
}
