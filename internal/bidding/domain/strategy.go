package bidding

import (
	"time"

	market "flexmarket/internal/market/domain"
)

// Default strategy parameters.
const (
	DefaultAlpha       = 0.05
	DefaultBeta        = 0.05
	DefaultGamma       = 0.5
	DefaultMemoryDepth = 7
	DefaultWeight      = 1.0
	DefaultPowerRef    = 100.0
	DefaultPriceRef    = 50.0

	fallbackSeedPrice = 1.0
	minOfferPrice     = 0.01

	highSuccessRatio = 0.7
	lowSuccessRatio  = 0.3
)

// Params are the tunable strategy parameters. Zero-valued fields are
// replaced by the package defaults.
type Params struct {
	// Alpha is added (scaled by Gamma) after an accepted offer, Beta is
	// subtracted after a rejected one.
	Alpha float64
	Beta  float64
	// Gamma dampens both the incremental steps and the success-ratio
	// rescaling.
	Gamma float64
	// MemoryDepth bounds the per-buyer history.
	MemoryDepth int
	// W1..W3 weight requested power, average accepted price and failure
	// ratio in the buyer priority.
	W1, W2, W3 float64
	// PowerRef and PriceRef seed the market-wide reference values until the
	// operator supplies rolling ones.
	PowerRef float64
	PriceRef float64
}

func (p Params) withDefaults() Params {
	if p.Alpha == 0 {
		p.Alpha = DefaultAlpha
	}
	if p.Beta == 0 {
		p.Beta = DefaultBeta
	}
	if p.Gamma == 0 {
		p.Gamma = DefaultGamma
	}
	if p.MemoryDepth <= 0 {
		p.MemoryDepth = DefaultMemoryDepth
	}
	if p.W1 == 0 {
		p.W1 = DefaultWeight
	}
	if p.W2 == 0 {
		p.W2 = DefaultWeight
	}
	if p.W3 == 0 {
		p.W3 = DefaultWeight
	}
	if p.PowerRef == 0 {
		p.PowerRef = DefaultPowerRef
	}
	if p.PriceRef == 0 {
		p.PriceRef = DefaultPriceRef
	}
	return p
}

// Bidder is a flexibility seller with a memory-driven pay-as-bid strategy:
// past outcomes per buyer shape both which buyer to serve and the price of
// the next offer.
type Bidder struct {
	id     string
	params Params
	memory *Memory

	powerRef float64
	priceRef float64

	// current is scratch state for the bid of the slot being simulated,
	// overwritten every slot.
	current market.BidderBid
}

// NewBidder constructs a bidder. Zero-valued params fall back to defaults.
func NewBidder(id string, params Params) (*Bidder, error) {
	if id == "" {
		return nil, market.ErrEmptyBidderID
	}
	params = params.withDefaults()
	return &Bidder{
		id:       id,
		params:   params,
		memory:   NewMemory(params.MemoryDepth),
		powerRef: params.PowerRef,
		priceRef: params.PriceRef,
	}, nil
}

// ID returns the bidder identifier.
func (b *Bidder) ID() string { return b.id }

// Memory exposes the bounded per-buyer history.
func (b *Bidder) Memory() *Memory { return b.memory }

// RecordOutcome stores the result of a past offer. It always succeeds.
func (b *Bidder) RecordOutcome(buyerID string, slot time.Time, price, power float64, accepted bool) {
	b.memory.Record(buyerID, HistoryRecord{
		Time:     slot,
		Price:    price,
		Power:    power,
		Accepted: accepted,
	})
}

// SetReferenceValues updates the market-wide recalibration inputs. A zero
// value means "no update", never a reset; the references must stay non-zero
// because Priority divides by them.
func (b *Bidder) SetReferenceValues(powerRef, priceRef float64) {
	if powerRef != 0.0 {
		b.powerRef = powerRef
	}
	if priceRef != 0.0 {
		b.priceRef = priceRef
	}
}

// Priority scores a buyer: weighted normalized requested power plus weighted
// normalized average accepted price minus a weighted failure ratio. Higher
// is better.
func (b *Bidder) Priority(buyerID string, requestedPower float64) float64 {
	stats := b.memory.Stats(buyerID)
	normalizedPower := requestedPower / b.powerRef
	normalizedPrice := stats.AvgAcceptedPrice / b.priceRef
	return b.params.W1*normalizedPower + b.params.W2*normalizedPrice - b.params.W3*(1.0-stats.SuccessRatio)
}

// SelectBuyer returns the candidate with the strictly highest priority. Ties
// keep the first-seen candidate, so iteration order is deterministic. The
// second return value is false when candidates is empty.
func (b *Bidder) SelectBuyer(candidates []market.BuyerRequest) (market.BuyerRequest, bool) {
	if len(candidates) == 0 {
		return market.BuyerRequest{}, false
	}
	best := candidates[0]
	bestPriority := b.Priority(best.BuyerID, best.RequestedPower)
	for _, candidate := range candidates[1:] {
		priority := b.Priority(candidate.BuyerID, candidate.RequestedPower)
		if priority > bestPriority {
			bestPriority = priority
			best = candidate
		}
	}
	return best, true
}

// BuildOffer computes the price and power to offer a buyer. The price seeds
// from the average accepted price (falling back to the average rejected
// price, then a fixed default), is rescaled by the success ratio, nudged by
// the last outcome and floored at a minimum. Offered power is the lesser of
// the requested and the maximum offerable power. Pure computation: the
// caller records the eventual outcome via RecordOutcome.
func (b *Bidder) BuildOffer(buyerID string, requestedPower, maxOfferablePower float64) (price, power float64) {
	stats := b.memory.Stats(buyerID)

	price = stats.AvgAcceptedPrice
	if price <= 0 {
		price = stats.AvgRejectedPrice
	}
	if price <= 0 {
		price = fallbackSeedPrice
	}

	switch {
	case stats.SuccessRatio > highSuccessRatio:
		price *= 1.0 + b.params.Gamma*0.5
	case stats.SuccessRatio < lowSuccessRatio:
		price *= 1.0 - b.params.Gamma*0.5
	}

	if last, ok := b.memory.Last(buyerID); ok {
		if last.Accepted {
			price += b.params.Gamma * b.params.Alpha
		} else {
			price -= b.params.Gamma * b.params.Beta
		}
	}

	if price < minOfferPrice {
		price = minOfferPrice
	}

	power = requestedPower
	if maxOfferablePower < power {
		power = maxOfferablePower
	}
	return price, power
}

// UpdateCurrentBid overwrites the scratch bid for the slot being simulated
// and returns it.
func (b *Bidder) UpdateCurrentBid(buyerID string, power, price float64) market.BidderBid {
	b.current = market.BidderBid{
		BidderID: b.id,
		BuyerID:  buyerID,
		Power:    power,
		Price:    price,
	}
	return b.current
}

// CurrentBid returns the scratch bid of the slot being simulated.
func (b *Bidder) CurrentBid() market.BidderBid { return b.current }
