package bidding

import "time"

// HistoryRecord is one remembered offer outcome for a buyer.
type HistoryRecord struct {
	Time     time.Time
	Price    float64
	Power    float64
	Accepted bool
}

// BuyerStats summarizes a bidder's history with one buyer. All fields are
// zero when no history exists.
type BuyerStats struct {
	AvgAcceptedPrice float64
	AvgRejectedPrice float64
	SuccessRatio     float64
	MinAcceptedPrice float64
	MaxAcceptedPrice float64
}

// Memory is a bounded per-buyer history of past offers. Inserting beyond the
// depth evicts the oldest record first.
type Memory struct {
	depth   int
	records map[string][]HistoryRecord
}

// NewMemory constructs a memory with the given depth. A non-positive depth
// falls back to DefaultMemoryDepth.
func NewMemory(depth int) *Memory {
	if depth <= 0 {
		depth = DefaultMemoryDepth
	}
	return &Memory{
		depth:   depth,
		records: make(map[string][]HistoryRecord),
	}
}

// Depth returns the memory bound.
func (m *Memory) Depth() int { return m.depth }

// Record appends an outcome for a buyer, evicting the oldest record when the
// bound is exceeded. It always succeeds.
func (m *Memory) Record(buyerID string, record HistoryRecord) {
	records := append(m.records[buyerID], record)
	if len(records) > m.depth {
		records = records[1:]
	}
	m.records[buyerID] = records
}

// Len returns the number of records held for a buyer.
func (m *Memory) Len(buyerID string) int {
	return len(m.records[buyerID])
}

// Last returns the most recent record for a buyer.
func (m *Memory) Last(buyerID string) (HistoryRecord, bool) {
	records := m.records[buyerID]
	if len(records) == 0 {
		return HistoryRecord{}, false
	}
	return records[len(records)-1], true
}

// Records returns a copy of the history for a buyer, oldest first.
func (m *Memory) Records(buyerID string) []HistoryRecord {
	records := m.records[buyerID]
	out := make([]HistoryRecord, len(records))
	copy(out, records)
	return out
}

// Stats computes buyer statistics from the bounded history.
func (m *Memory) Stats(buyerID string) BuyerStats {
	records := m.records[buyerID]
	if len(records) == 0 {
		return BuyerStats{}
	}

	var acceptedSum, rejectedSum float64
	var acceptedCount, rejectedCount int
	var minAccepted, maxAccepted float64
	for _, r := range records {
		if r.Accepted {
			if acceptedCount == 0 || r.Price < minAccepted {
				minAccepted = r.Price
			}
			if acceptedCount == 0 || r.Price > maxAccepted {
				maxAccepted = r.Price
			}
			acceptedSum += r.Price
			acceptedCount++
		} else {
			rejectedSum += r.Price
			rejectedCount++
		}
	}

	stats := BuyerStats{
		SuccessRatio:     float64(acceptedCount) / float64(len(records)),
		MinAcceptedPrice: minAccepted,
		MaxAcceptedPrice: maxAccepted,
	}
	if acceptedCount > 0 {
		stats.AvgAcceptedPrice = acceptedSum / float64(acceptedCount)
	}
	if rejectedCount > 0 {
		stats.AvgRejectedPrice = rejectedSum / float64(rejectedCount)
	}
	return stats
}
