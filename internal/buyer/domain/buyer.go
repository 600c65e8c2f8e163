package buyer

import (
	"errors"
	"time"

	market "flexmarket/internal/market/domain"
	"flexmarket/internal/timeseries"
)

var (
	// ErrEmptyBuyerID is returned when the buyer id is empty.
	ErrEmptyBuyerID = errors.New("buyer: empty buyer id")
	// ErrEntryNotFound is returned when updating or removing a missing
	// series entry.
	ErrEntryNotFound = errors.New("buyer: entry not found")
	// ErrNoDemand is returned when no demand entry exists for a slot.
	ErrNoDemand = errors.New("buyer: no demand for slot")
	// ErrNoWillingness is returned when no willingness-to-pay entry exists
	// for a slot.
	ErrNoWillingness = errors.New("buyer: no willingness to pay for slot")
)

// Buyer holds a time-indexed demand curve and willingness-to-pay curve and
// turns them into per-slot flexibility requests.
type Buyer struct {
	id               string
	demandCurve      *timeseries.Series
	willingnessToPay *timeseries.Series
}

// New constructs a buyer. Nil curves start empty.
func New(id string, demandCurve, willingnessToPay *timeseries.Series) (*Buyer, error) {
	if id == "" {
		return nil, ErrEmptyBuyerID
	}
	if demandCurve == nil {
		demandCurve = timeseries.New()
	}
	if willingnessToPay == nil {
		willingnessToPay = timeseries.New()
	}
	return &Buyer{
		id:               id,
		demandCurve:      demandCurve,
		willingnessToPay: willingnessToPay,
	}, nil
}

// ID returns the buyer identifier.
func (b *Buyer) ID() string { return b.id }

// Demand returns the demand at a slot.
func (b *Buyer) Demand(slot time.Time) (float64, error) {
	value, ok := b.demandCurve.At(slot)
	if !ok {
		return 0, ErrNoDemand
	}
	return value, nil
}

// WillingnessToPay returns the maximum acceptable unit price at a slot.
func (b *Buyer) WillingnessToPay(slot time.Time) (float64, error) {
	value, ok := b.willingnessToPay.At(slot)
	if !ok {
		return 0, ErrNoWillingness
	}
	return value, nil
}

// AddDemandEntry inserts or overwrites a demand entry.
func (b *Buyer) AddDemandEntry(slot time.Time, demand float64) {
	b.demandCurve.Set(slot, demand)
}

// UpdateDemandEntry updates an existing demand entry.
func (b *Buyer) UpdateDemandEntry(slot time.Time, demand float64) error {
	if _, ok := b.demandCurve.At(slot); !ok {
		return ErrEntryNotFound
	}
	b.demandCurve.Set(slot, demand)
	return nil
}

// RemoveDemandEntry removes an existing demand entry.
func (b *Buyer) RemoveDemandEntry(slot time.Time) error {
	if !b.demandCurve.Delete(slot) {
		return ErrEntryNotFound
	}
	return nil
}

// AddWillingnessEntry inserts or overwrites a willingness-to-pay entry.
func (b *Buyer) AddWillingnessEntry(slot time.Time, price float64) {
	b.willingnessToPay.Set(slot, price)
}

// UpdateWillingnessEntry updates an existing willingness-to-pay entry.
func (b *Buyer) UpdateWillingnessEntry(slot time.Time, price float64) error {
	if _, ok := b.willingnessToPay.At(slot); !ok {
		return ErrEntryNotFound
	}
	b.willingnessToPay.Set(slot, price)
	return nil
}

// RemoveWillingnessEntry removes an existing willingness-to-pay entry.
func (b *Buyer) RemoveWillingnessEntry(slot time.Time) error {
	if !b.willingnessToPay.Delete(slot) {
		return ErrEntryNotFound
	}
	return nil
}

// RequestFlexibility builds the buyer's request for one slot.
func (b *Buyer) RequestFlexibility(slot time.Time) (market.BuyerRequest, error) {
	demand, err := b.Demand(slot)
	if err != nil {
		return market.BuyerRequest{}, err
	}
	price, err := b.WillingnessToPay(slot)
	if err != nil {
		return market.BuyerRequest{}, err
	}
	return market.BuyerRequest{
		BuyerID:          b.id,
		RequestedPower:   demand,
		WillingnessToPay: price,
	}, nil
}

// WindowRequest aggregates a time window into a single request: total demand
// over the window and the mean willingness to pay.
type WindowRequest struct {
	BuyerID         string
	From            time.Time
	To              time.Time
	TotalDemand     float64
	AveragePriceCap float64
}

// RequestWindow aggregates demand and willingness to pay over [from, to].
func (b *Buyer) RequestWindow(from, to time.Time) (WindowRequest, error) {
	demandPoints := b.demandCurve.Range(from, to)
	if len(demandPoints) == 0 {
		return WindowRequest{}, ErrNoDemand
	}
	pricePoints := b.willingnessToPay.Range(from, to)
	if len(pricePoints) == 0 {
		return WindowRequest{}, ErrNoWillingness
	}

	var totalDemand float64
	for _, p := range demandPoints {
		totalDemand += p.Value
	}
	var priceSum float64
	for _, p := range pricePoints {
		priceSum += p.Value
	}

	return WindowRequest{
		BuyerID:         b.id,
		From:            from,
		To:              to,
		TotalDemand:     totalDemand,
		AveragePriceCap: priceSum / float64(len(pricePoints)),
	}, nil
}
