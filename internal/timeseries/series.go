package timeseries

import (
	"sort"
	"time"
)

// Point is a single timestamped value.
type Point struct {
	Time  time.Time
	Value float64
}

// Series is a time-indexed float64 series kept in ascending time order.
// Timestamps are normalized to UTC so that lookups do not depend on the
// caller's location or monotonic clock readings.
type Series struct {
	times  []time.Time
	values []float64
}

// New constructs an empty series.
func New() *Series {
	return &Series{}
}

// FromPoints constructs a series from points, overwriting duplicates in order.
func FromPoints(points []Point) *Series {
	s := New()
	for _, p := range points {
		s.Set(p.Time, p.Value)
	}
	return s
}

func normalize(t time.Time) time.Time {
	return t.UTC()
}

func (s *Series) search(t time.Time) int {
	return sort.Search(len(s.times), func(i int) bool {
		return !s.times[i].Before(t)
	})
}

// Set inserts or overwrites the value at t.
func (s *Series) Set(t time.Time, value float64) {
	t = normalize(t)
	i := s.search(t)
	if i < len(s.times) && s.times[i].Equal(t) {
		s.values[i] = value
		return
	}
	s.times = append(s.times, time.Time{})
	s.values = append(s.values, 0)
	copy(s.times[i+1:], s.times[i:])
	copy(s.values[i+1:], s.values[i:])
	s.times[i] = t
	s.values[i] = value
}

// At returns the value at t and whether it exists.
func (s *Series) At(t time.Time) (float64, bool) {
	if s == nil {
		return 0, false
	}
	t = normalize(t)
	i := s.search(t)
	if i < len(s.times) && s.times[i].Equal(t) {
		return s.values[i], true
	}
	return 0, false
}

// Delete removes the entry at t and reports whether it existed.
func (s *Series) Delete(t time.Time) bool {
	t = normalize(t)
	i := s.search(t)
	if i >= len(s.times) || !s.times[i].Equal(t) {
		return false
	}
	s.times = append(s.times[:i], s.times[i+1:]...)
	s.values = append(s.values[:i], s.values[i+1:]...)
	return true
}

// Range returns all points in [from, to], inclusive on both ends.
func (s *Series) Range(from, to time.Time) []Point {
	if s == nil {
		return nil
	}
	from = normalize(from)
	to = normalize(to)
	var out []Point
	start := s.search(from)
	for i := start; i < len(s.times); i++ {
		if s.times[i].After(to) {
			break
		}
		out = append(out, Point{Time: s.times[i], Value: s.values[i]})
	}
	return out
}

// Timestamps returns the sorted timestamps of the series.
func (s *Series) Timestamps() []time.Time {
	if s == nil {
		return nil
	}
	out := make([]time.Time, len(s.times))
	copy(out, s.times)
	return out
}

// Len returns the number of entries.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.times)
}

// Scale returns a detached copy with every value multiplied by factor.
func (s *Series) Scale(factor float64) *Series {
	out := s.Clone()
	if out == nil {
		return nil
	}
	for i := range out.values {
		out.values[i] *= factor
	}
	return out
}

// Clone returns a detached copy.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	out := &Series{
		times:  make([]time.Time, len(s.times)),
		values: make([]float64, len(s.values)),
	}
	copy(out.times, s.times)
	copy(out.values, s.values)
	return out
}
