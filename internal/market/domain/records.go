package market

// BuyerRequest is a buyer's flexibility request for a single time slot.
type BuyerRequest struct {
	BuyerID          string
	RequestedPower   float64
	WillingnessToPay float64
}

// Validate checks the request fields.
func (r BuyerRequest) Validate() error {
	if r.BuyerID == "" {
		return ErrEmptyBuyerID
	}
	if r.RequestedPower < 0 {
		return ErrNegativePower
	}
	if r.WillingnessToPay < 0 {
		return ErrNegativePrice
	}
	return nil
}

// BidderBid is a pay-as-bid flexibility offer targeting one buyer in one slot.
type BidderBid struct {
	BidderID string
	BuyerID  string
	Power    float64
	Price    float64
}

// Validate checks the bid fields.
func (b BidderBid) Validate() error {
	if b.BidderID == "" {
		return ErrEmptyBidderID
	}
	if b.BuyerID == "" {
		return ErrEmptyBuyerID
	}
	if b.Power < 0 {
		return ErrNegativePower
	}
	if b.Price <= 0 {
		return ErrNonPositivePrice
	}
	return nil
}

// Allocation records one bidder's share of a cleared buyer request.
type Allocation struct {
	BidderID             string
	BiddedFlexibility    float64
	ProvidedFlexibility  float64
	AllocatedFlexibility float64
	BaselineValue        float64
	ActualValue          float64
	Price                float64
	Reward               float64
}

// ClearingResult is the per-buyer outcome of clearing one time slot.
// It is immutable once produced.
type ClearingResult struct {
	BuyerID           string
	Allocations       []Allocation
	UnfulfilledDemand float64
}
