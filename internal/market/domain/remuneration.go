package market

import "math"

// RemunerationPolicy holds the settlement coefficients.
//
// Alpha scales the under-delivery penalty, Beta scales the over-delivery
// adjustment, Threshold is the tolerance band expressed as a fraction of the
// requested power. Within the band neither penalty nor adjustment applies.
type RemunerationPolicy struct {
	Alpha     float64
	Beta      float64
	Threshold float64
}

// Reward computes the pay-as-bid settlement for one accepted bid.
//
// Base pay covers the lesser of requested and delivered flexibility at the
// bid price. Under-delivery beyond the tolerance band is penalized, delivery
// beyond the band above the request is adjusted by Beta (which may be zero
// or negative depending on market rules).
func (p RemunerationPolicy) Reward(price, realFlexibility, powerRequested float64) float64 {
	band := p.Threshold * powerRequested
	base := math.Min(powerRequested, realFlexibility) * price
	penalty := p.Alpha * math.Max(powerRequested-realFlexibility-band, 0) * price
	adjustment := p.Beta * math.Max(realFlexibility-powerRequested-band, 0) * price
	return base - penalty + adjustment
}
