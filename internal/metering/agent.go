package metering

import (
	"errors"
	"time"

	"flexmarket/internal/timeseries"
)

// ErrEmptyMeteringPointID is returned when a metering point id is empty.
var ErrEmptyMeteringPointID = errors.New("metering: empty metering point id")

// Agent gathers metered energy values per metering point. It is the source
// of the "actual" series the market operator settles against.
type Agent struct {
	data map[string]*timeseries.Series
}

// NewAgent constructs an empty agent.
func NewAgent() *Agent {
	return &Agent{data: make(map[string]*timeseries.Series)}
}

// AddMeteringPoint registers a metering point with an empty series. Known
// points are left untouched.
func (a *Agent) AddMeteringPoint(meteringPointID string) error {
	if meteringPointID == "" {
		return ErrEmptyMeteringPointID
	}
	if _, ok := a.data[meteringPointID]; !ok {
		a.data[meteringPointID] = timeseries.New()
	}
	return nil
}

// AddEnergyMeasure records an energy measure for a point and slot,
// registering the point when unknown.
func (a *Agent) AddEnergyMeasure(meteringPointID string, slot time.Time, energy float64) error {
	if err := a.AddMeteringPoint(meteringPointID); err != nil {
		return err
	}
	a.data[meteringPointID].Set(slot, energy)
	return nil
}

// EnergyAt returns the measure for a point at a slot and whether it exists.
func (a *Agent) EnergyAt(meteringPointID string, slot time.Time) (float64, bool) {
	return a.data[meteringPointID].At(slot)
}

// EnergyData returns a detached copy of the series for a point, empty when
// the point is unknown.
func (a *Agent) EnergyData(meteringPointID string) *timeseries.Series {
	series, ok := a.data[meteringPointID]
	if !ok {
		return timeseries.New()
	}
	return series.Clone()
}
