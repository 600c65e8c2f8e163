package baseline

import (
	"testing"
	"time"
)

var dayStart = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func TestSlotIndex(t *testing.T) {
	index := SlotIndex(dayStart, 4, 15*time.Minute)
	if len(index) != 4 {
		t.Fatalf("len = %d, want 4", len(index))
	}
	if !index[0].Equal(dayStart) {
		t.Fatalf("first slot = %s", index[0])
	}
	if !index[3].Equal(dayStart.Add(45 * time.Minute)) {
		t.Fatalf("last slot = %s", index[3])
	}
}

func TestGenerateRepeatsCycle(t *testing.T) {
	segments := []Segment{{Value: 1, Slots: 2}, {Value: 2, Slots: 1}}
	index := SlotIndex(dayStart, 7, time.Hour)
	series := Generate(segments, index)

	want := []float64{1, 1, 2, 1, 1, 2, 1}
	for i, slot := range index {
		value, ok := series.At(slot)
		if !ok || value != want[i] {
			t.Fatalf("slot %d = %v, want %v", i, value, want[i])
		}
	}
}

func TestGenerateEmptySegments(t *testing.T) {
	series := Generate(nil, SlotIndex(dayStart, 4, time.Hour))
	if series.Len() != 0 {
		t.Fatalf("len = %d, want 0", series.Len())
	}
}

func TestDailyProfilesCoverFullDay(t *testing.T) {
	// Each profile's cycle length is one day at 15-minute cadence.
	index := SlotIndex(dayStart, 96, 15*time.Minute)
	for name, generate := range Profiles {
		series := generate(index)
		if series.Len() != 96 {
			t.Fatalf("profile %s: len = %d, want 96", name, series.Len())
		}
	}
}

func TestResidentialShape(t *testing.T) {
	index := SlotIndex(dayStart, 96, 15*time.Minute)
	series := Residential(index)

	night, _ := series.At(dayStart.Add(2 * time.Hour))
	evening, _ := series.At(dayStart.Add(18 * time.Hour))
	if night != 0.05 || evening != 0.45 {
		t.Fatalf("night = %v, evening = %v", night, evening)
	}
}

func TestBatteryDischarges(t *testing.T) {
	index := SlotIndex(dayStart, 96, 15*time.Minute)
	series := Battery(index)
	value, _ := series.At(dayStart.Add(5 * time.Hour))
	if value >= 0 {
		t.Fatalf("battery at 5:00 = %v, want negative (discharging)", value)
	}
}
