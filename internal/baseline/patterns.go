package baseline

import (
	"time"

	"flexmarket/internal/timeseries"
)

// slotsPerHour assumes the 15-minute market cadence the profiles below are
// drawn for.
const slotsPerHour = 4

// Segment is a constant-value stretch of a daily profile.
type Segment struct {
	Value float64
	Slots int
}

// SlotIndex builds n consecutive slot timestamps from start.
func SlotIndex(start time.Time, n int, step time.Duration) []time.Time {
	index := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		index = append(index, start.Add(time.Duration(i)*step).UTC())
	}
	return index
}

// Generate expands the segments over the slot index, repeating the pattern
// when the index is longer than one cycle.
func Generate(segments []Segment, index []time.Time) *timeseries.Series {
	var cycle []float64
	for _, segment := range segments {
		for i := 0; i < segment.Slots; i++ {
			cycle = append(cycle, segment.Value)
		}
	}

	series := timeseries.New()
	if len(cycle) == 0 {
		return series
	}
	for i, slot := range index {
		series.Set(slot, cycle[i%len(cycle)])
	}
	return series
}

// Residential is a household-like daily load profile.
func Residential(index []time.Time) *timeseries.Series {
	return Generate([]Segment{
		{Value: 0.05, Slots: 6 * slotsPerHour}, // 0:00-6:00
		{Value: 0.20, Slots: 2 * slotsPerHour}, // 6:00-8:00
		{Value: 0.35, Slots: 8 * slotsPerHour}, // 8:00-16:00
		{Value: 0.45, Slots: 4 * slotsPerHour}, // 16:00-20:00
		{Value: 0.15, Slots: 4 * slotsPerHour}, // 20:00-24:00
	}, index)
}

// Office is an office-building daily load profile.
func Office(index []time.Time) *timeseries.Series {
	return Generate([]Segment{
		{Value: 0.01, Slots: 7 * slotsPerHour}, // 0:00-7:00
		{Value: 0.25, Slots: 1 * slotsPerHour}, // 7:00-8:00
		{Value: 0.40, Slots: 9 * slotsPerHour}, // 8:00-17:00
		{Value: 0.30, Slots: 3 * slotsPerHour}, // 17:00-20:00
		{Value: 0.10, Slots: 4 * slotsPerHour}, // 20:00-24:00
	}, index)
}

// Commercial1 is a retail-like daily load profile.
func Commercial1(index []time.Time) *timeseries.Series {
	return Generate([]Segment{
		{Value: 0.10, Slots: 6 * slotsPerHour},
		{Value: 0.20, Slots: 6 * slotsPerHour},
		{Value: 0.45, Slots: 6 * slotsPerHour},
		{Value: 0.30, Slots: 6 * slotsPerHour},
	}, index)
}

// Commercial2 is a mixed-use daily load profile.
func Commercial2(index []time.Time) *timeseries.Series {
	return Generate([]Segment{
		{Value: 0.05, Slots: 6 * slotsPerHour},
		{Value: 0.20, Slots: 2 * slotsPerHour},
		{Value: 0.40, Slots: 8 * slotsPerHour},
		{Value: 0.35, Slots: 4 * slotsPerHour},
		{Value: 0.15, Slots: 4 * slotsPerHour},
	}, index)
}

// Battery is a storage profile that discharges (negative load) twice a day.
func Battery(index []time.Time) *timeseries.Series {
	return Generate([]Segment{
		{Value: 0.30, Slots: 4 * slotsPerHour},  // 0:00-4:00 charging
		{Value: -0.20, Slots: 2 * slotsPerHour}, // 4:00-6:00 discharging
		{Value: 0.25, Slots: 10 * slotsPerHour}, // 6:00-16:00 charging
		{Value: -0.15, Slots: 4 * slotsPerHour}, // 16:00-20:00 discharging
		{Value: 0.10, Slots: 4 * slotsPerHour},  // 20:00-24:00 light charging
	}, index)
}

// Duck is a demand profile with suppressed midday net load and a steep
// evening ramp.
func Duck(index []time.Time) *timeseries.Series {
	return Generate([]Segment{
		{Value: 60, Slots: 6 * slotsPerHour},  // 0:00-6:00
		{Value: 80, Slots: 3 * slotsPerHour},  // 6:00-9:00 morning rise
		{Value: 30, Slots: 7 * slotsPerHour},  // 9:00-16:00 midday belly
		{Value: 110, Slots: 5 * slotsPerHour}, // 16:00-21:00 evening ramp
		{Value: 70, Slots: 3 * slotsPerHour},  // 21:00-24:00
	}, index)
}

// Bus is a fleet-depot demand profile with overnight charging blocks.
func Bus(index []time.Time) *timeseries.Series {
	return Generate([]Segment{
		{Value: 120, Slots: 5 * slotsPerHour}, // 0:00-5:00 depot charging
		{Value: 40, Slots: 4 * slotsPerHour},  // 5:00-9:00 morning pull-out
		{Value: 60, Slots: 6 * slotsPerHour},  // 9:00-15:00 midday top-ups
		{Value: 45, Slots: 6 * slotsPerHour},  // 15:00-21:00 service
		{Value: 100, Slots: 3 * slotsPerHour}, // 21:00-24:00 return charging
	}, index)
}

// Profiles maps profile names usable in configuration to generators.
var Profiles = map[string]func([]time.Time) *timeseries.Series{
	"residential": Residential,
	"office":      Office,
	"commercial1": Commercial1,
	"commercial2": Commercial2,
	"battery":     Battery,
	"duck":        Duck,
	"bus":         Bus,
}
