package memory

import (
	"context"
	"sync"
	"time"

	ledger "flexmarket/internal/ledger/domain"
)

// Repository is an in-memory market ledger used by simulations and tests.
type Repository struct {
	mu      sync.RWMutex
	entries []ledger.MarketEntry
}

// NewRepository constructs an empty repository.
func NewRepository() *Repository {
	return &Repository{}
}

// Append stores an entry.
func (r *Repository) Append(ctx context.Context, entry ledger.MarketEntry) error {
	_ = ctx
	if err := entry.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return nil
}

// ListBySlot returns entries for a time slot in insertion order.
func (r *Repository) ListBySlot(ctx context.Context, slot time.Time) ([]ledger.MarketEntry, error) {
	_ = ctx
	slot = slot.UTC()
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ledger.MarketEntry
	for _, entry := range r.entries {
		if entry.TimeSlot.Equal(slot) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// ListByBidder returns entries for a bidder in insertion order.
func (r *Repository) ListByBidder(ctx context.Context, bidderID string) ([]ledger.MarketEntry, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ledger.MarketEntry
	for _, entry := range r.entries {
		if entry.BidderID == bidderID {
			out = append(out, entry)
		}
	}
	return out, nil
}

// Len returns the number of stored entries.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
