package bidding

import (
	"testing"
	"time"
)

func record(hour int, price float64, accepted bool) HistoryRecord {
	return HistoryRecord{
		Time:     time.Date(2025, 3, 1, hour, 0, 0, 0, time.UTC),
		Price:    price,
		Power:    10,
		Accepted: accepted,
	}
}

func TestMemoryBound(t *testing.T) {
	m := NewMemory(3)
	for i := 0; i < 10; i++ {
		m.Record("dso", record(i, float64(i), true))
	}
	if got := m.Len("dso"); got != 3 {
		t.Fatalf("len = %d, want 3", got)
	}
	// Oldest evicted first: only the last three survive.
	records := m.Records("dso")
	if records[0].Price != 7 || records[2].Price != 9 {
		t.Fatalf("records = %+v", records)
	}
}

func TestMemoryDefaultDepth(t *testing.T) {
	m := NewMemory(0)
	if got := m.Depth(); got != DefaultMemoryDepth {
		t.Fatalf("depth = %d, want %d", got, DefaultMemoryDepth)
	}
}

func TestMemoryLast(t *testing.T) {
	m := NewMemory(3)
	if _, ok := m.Last("dso"); ok {
		t.Fatal("empty memory must have no last record")
	}
	m.Record("dso", record(1, 10, true))
	m.Record("dso", record(2, 20, false))
	last, ok := m.Last("dso")
	if !ok || last.Price != 20 || last.Accepted {
		t.Fatalf("last = %+v", last)
	}
}

func TestMemoryPerBuyerIsolation(t *testing.T) {
	m := NewMemory(3)
	m.Record("a", record(1, 10, true))
	if got := m.Len("b"); got != 0 {
		t.Fatalf("buyer b len = %d, want 0", got)
	}
}

func TestStatsEmpty(t *testing.T) {
	m := NewMemory(3)
	stats := m.Stats("dso")
	if stats != (BuyerStats{}) {
		t.Fatalf("stats = %+v, want zero value", stats)
	}
}

func TestStats(t *testing.T) {
	m := NewMemory(10)
	m.Record("dso", record(1, 10, true))
	m.Record("dso", record(2, 30, true))
	m.Record("dso", record(3, 50, false))
	m.Record("dso", record(4, 70, false))

	stats := m.Stats("dso")
	if stats.AvgAcceptedPrice != 20 {
		t.Fatalf("avg accepted = %v, want 20", stats.AvgAcceptedPrice)
	}
	if stats.AvgRejectedPrice != 60 {
		t.Fatalf("avg rejected = %v, want 60", stats.AvgRejectedPrice)
	}
	if stats.SuccessRatio != 0.5 {
		t.Fatalf("success ratio = %v, want 0.5", stats.SuccessRatio)
	}
	if stats.MinAcceptedPrice != 10 || stats.MaxAcceptedPrice != 30 {
		t.Fatalf("min/max accepted = %v/%v", stats.MinAcceptedPrice, stats.MaxAcceptedPrice)
	}
}

func TestStatsWindowFollowsEviction(t *testing.T) {
	m := NewMemory(2)
	m.Record("dso", record(1, 10, false))
	m.Record("dso", record(2, 20, true))
	m.Record("dso", record(3, 40, true))

	// The rejected record fell out of the window.
	stats := m.Stats("dso")
	if stats.SuccessRatio != 1.0 {
		t.Fatalf("success ratio = %v, want 1.0", stats.SuccessRatio)
	}
	if stats.AvgAcceptedPrice != 30 {
		t.Fatalf("avg accepted = %v, want 30", stats.AvgAcceptedPrice)
	}
	if stats.AvgRejectedPrice != 0 {
		t.Fatalf("avg rejected = %v, want 0", stats.AvgRejectedPrice)
	}
}

func TestRecordsReturnsCopy(t *testing.T) {
	m := NewMemory(3)
	m.Record("dso", record(1, 10, true))
	records := m.Records("dso")
	records[0].Price = 99
	if got := m.Records("dso")[0].Price; got != 10 {
		t.Fatalf("internal record mutated via copy: %v", got)
	}
}
