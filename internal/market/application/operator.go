package application

import (
	"log"
	"sort"
	"time"

	market "flexmarket/internal/market/domain"
	"flexmarket/internal/observability/metrics"
	"flexmarket/internal/timeseries"
)

// Operator is the market clearing and settlement authority.
//
// It ingests buyer requests and bidder bids per time slot, solves the
// pay-as-bid market and settles accepted bids against the gap between the
// reported baseline and the metered actual value. A time slot is OPEN until
// Clear selects it, after which it is permanently CLEARED and never
// reconsidered.
//
// The operator is not safe for concurrent use: the simulation pipeline is
// single-threaded and mutates it only through sequential calls.
type Operator struct {
	policy   market.RemunerationPolicy
	powerRef float64
	priceRef float64

	buyerRequests map[time.Time][]market.BuyerRequest
	bidderBids    map[time.Time][]market.BidderBid

	bidderBaselines map[string]*timeseries.Series
	bidderActuals   map[string]*timeseries.Series

	cleared map[time.Time]struct{}

	requestedPowers []float64
	acceptedPrices  []float64
	settledPrices   map[time.Time][]float64

	history map[time.Time][]market.ClearingResult

	logger *log.Logger
}

// NewOperator constructs an operator with the given settlement policy and
// initial reference values.
func NewOperator(policy market.RemunerationPolicy, powerRef, priceRef float64, logger *log.Logger) *Operator {
	if logger == nil {
		logger = log.Default()
	}
	return &Operator{
		policy:          policy,
		powerRef:        powerRef,
		priceRef:        priceRef,
		buyerRequests:   make(map[time.Time][]market.BuyerRequest),
		bidderBids:      make(map[time.Time][]market.BidderBid),
		bidderBaselines: make(map[string]*timeseries.Series),
		bidderActuals:   make(map[string]*timeseries.Series),
		cleared:         make(map[time.Time]struct{}),
		settledPrices:   make(map[time.Time][]float64),
		history:         make(map[time.Time][]market.ClearingResult),
		logger:          logger,
	}
}

func normalizeSlot(slot time.Time) time.Time {
	return slot.UTC()
}

// ReceiveBuyerRequest appends a buyer request to the slot. Requests are never
// merged or de-duplicated; the requested power also feeds the rolling
// reference list.
func (o *Operator) ReceiveBuyerRequest(slot time.Time, request market.BuyerRequest) error {
	if slot.IsZero() {
		return market.ErrZeroTimeSlot
	}
	if err := request.Validate(); err != nil {
		return err
	}
	slot = normalizeSlot(slot)
	o.buyerRequests[slot] = append(o.buyerRequests[slot], request)
	o.requestedPowers = append(o.requestedPowers, request.RequestedPower)
	return nil
}

// ReceiveBidFromBidder appends a bid to the slot.
func (o *Operator) ReceiveBidFromBidder(slot time.Time, bid market.BidderBid) error {
	if slot.IsZero() {
		return market.ErrZeroTimeSlot
	}
	if err := bid.Validate(); err != nil {
		return err
	}
	slot = normalizeSlot(slot)
	o.bidderBids[slot] = append(o.bidderBids[slot], bid)
	return nil
}

// StoreBidderBaseline replaces the expected-power series for a bidder. The
// series is cloned; later caller mutation does not leak into the operator.
func (o *Operator) StoreBidderBaseline(bidderID string, baseline *timeseries.Series) error {
	if bidderID == "" {
		return market.ErrEmptyBidderID
	}
	if baseline == nil {
		return market.ErrNilBaseline
	}
	o.bidderBaselines[bidderID] = baseline.Clone()
	return nil
}

// StoreBidderActual records a metered value for a bidder at a slot,
// overwriting an earlier value for the same slot.
func (o *Operator) StoreBidderActual(bidderID string, slot time.Time, value float64) error {
	if bidderID == "" {
		return market.ErrEmptyBidderID
	}
	if slot.IsZero() {
		return market.ErrZeroTimeSlot
	}
	series, ok := o.bidderActuals[bidderID]
	if !ok {
		series = timeseries.New()
		o.bidderActuals[bidderID] = series
	}
	series.Set(slot, value)
	return nil
}

// BidderBaseline returns the baseline value for a bidder at a slot, 0.0 when
// the series or the slot is absent. Missing data means no flexibility.
func (o *Operator) BidderBaseline(bidderID string, slot time.Time) float64 {
	value, _ := o.bidderBaselines[bidderID].At(slot)
	return value
}

// BidderActual returns the metered value for a bidder at a slot, 0.0 when
// absent.
func (o *Operator) BidderActual(bidderID string, slot time.Time) float64 {
	value, _ := o.bidderActuals[bidderID].At(slot)
	return value
}

// RequestsForSlot returns a copy of the slot's buyer requests.
func (o *Operator) RequestsForSlot(slot time.Time) []market.BuyerRequest {
	requests := o.buyerRequests[normalizeSlot(slot)]
	out := make([]market.BuyerRequest, len(requests))
	copy(out, requests)
	return out
}

// BidsForSlot returns a copy of the slot's bids.
func (o *Operator) BidsForSlot(slot time.Time) []market.BidderBid {
	bids := o.bidderBids[normalizeSlot(slot)]
	out := make([]market.BidderBid, len(bids))
	copy(out, bids)
	return out
}

// IsCleared reports whether the slot has been cleared.
func (o *Operator) IsCleared(slot time.Time) bool {
	_, ok := o.cleared[normalizeSlot(slot)]
	return ok
}

// AverageLastNRequestedPowers returns the mean of the last n requested
// powers, 0.0 when the rolling list is empty.
func (o *Operator) AverageLastNRequestedPowers(n int) float64 {
	return tailAverage(o.requestedPowers, n)
}

// AverageLastNAcceptedPrices returns the mean of the last n accepted prices,
// 0.0 when the rolling list is empty.
func (o *Operator) AverageLastNAcceptedPrices(n int) float64 {
	return tailAverage(o.acceptedPrices, n)
}

func tailAverage(values []float64, n int) float64 {
	if len(values) == 0 || n <= 0 {
		return 0.0
	}
	if n > len(values) {
		n = len(values)
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// RecordSettlement records a settled bid price for ComputePriceRef. The
// orchestrator calls it after persisting accepted bids to the ledger.
func (o *Operator) RecordSettlement(slot time.Time, price float64) {
	slot = normalizeSlot(slot)
	o.settledPrices[slot] = append(o.settledPrices[slot], price)
}

// ComputePowerRef recomputes the reference power as the average of all
// requested powers seen so far, 0.0 when none.
func (o *Operator) ComputePowerRef() float64 {
	var sum float64
	var count int
	for _, requests := range o.buyerRequests {
		for _, request := range requests {
			sum += request.RequestedPower
			count++
		}
	}
	if count == 0 {
		o.powerRef = 0.0
	} else {
		o.powerRef = sum / float64(count)
	}
	return o.powerRef
}

// ComputePriceRef recomputes the reference price as the average of all
// settled bid prices, 0.0 when none.
func (o *Operator) ComputePriceRef() float64 {
	var sum float64
	var count int
	for _, prices := range o.settledPrices {
		for _, price := range prices {
			sum += price
			count++
		}
	}
	if count == 0 {
		o.priceRef = 0.0
	} else {
		o.priceRef = sum / float64(count)
	}
	return o.priceRef
}

// PowerRef returns the current reference power.
func (o *Operator) PowerRef() float64 { return o.powerRef }

// PriceRef returns the current reference price.
func (o *Operator) PriceRef() float64 { return o.priceRef }

// Results returns a copy of the clearing results for a slot.
func (o *Operator) Results(slot time.Time) []market.ClearingResult {
	results := o.history[normalizeSlot(slot)]
	out := make([]market.ClearingResult, len(results))
	copy(out, results)
	return out
}

// History returns a copy of the full clearing history keyed by slot.
func (o *Operator) History() map[time.Time][]market.ClearingResult {
	out := make(map[time.Time][]market.ClearingResult, len(o.history))
	for slot, results := range o.history {
		copied := make([]market.ClearingResult, len(results))
		copy(copied, results)
		out[slot] = copied
	}
	return out
}

// Clear solves the pay-as-bid market for up to batchSize uncleared slots in
// ascending chronological order and returns the accepted and non-accepted
// bids per slot.
//
// Per buyer request the slot's bids are filtered to that buyer within the
// willingness-to-pay budget, sorted ascending by price (stable, insertion
// order breaks ties) and walked greedily: each bid is allocated
// min(realFlexibility, remainingDemand) where realFlexibility is baseline
// minus actual. A bid with no delivered flexibility is rejected but the walk
// continues, since a later bidder may still deliver. Bids never reached by
// any buyer walk (no matching request, or over budget) are non-accepted.
//
// Cleared slots are recorded permanently; calling Clear again with no new
// slots is a no-op returning empty maps.
func (o *Operator) Clear(batchSize int) (map[time.Time][]market.BidderBid, map[time.Time][]market.BidderBid) {
	started := time.Now()
	accepted := make(map[time.Time][]market.BidderBid)
	nonAccepted := make(map[time.Time][]market.BidderBid)
	if batchSize <= 0 {
		return accepted, nonAccepted
	}

	var slots []time.Time
	for slot := range o.buyerRequests {
		if _, done := o.cleared[slot]; !done {
			slots = append(slots, slot)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	if len(slots) > batchSize {
		slots = slots[:batchSize]
	}

	var acceptedCount, rejectedCount int
	for _, slot := range slots {
		bids := o.bidderBids[slot]
		accepted[slot] = []market.BidderBid{}
		nonAccepted[slot] = []market.BidderBid{}
		touched := make([]bool, len(bids))
		var results []market.ClearingResult

		for _, request := range o.buyerRequests[slot] {
			if request.RequestedPower <= 0 {
				// Zero-demand requests are skipped entirely, neither
				// accepting nor rejecting their bids here.
				continue
			}

			type candidate struct {
				index int
				bid   market.BidderBid
			}
			var candidates []candidate
			for i, bid := range bids {
				if bid.BuyerID == request.BuyerID && bid.Price <= request.WillingnessToPay {
					candidates = append(candidates, candidate{index: i, bid: bid})
				}
			}
			sort.SliceStable(candidates, func(i, j int) bool {
				return candidates[i].bid.Price < candidates[j].bid.Price
			})

			allocations := []market.Allocation{}
			remaining := request.RequestedPower
			for _, c := range candidates {
				touched[c.index] = true
				baselineValue := o.BidderBaseline(c.bid.BidderID, slot)
				actualValue := o.BidderActual(c.bid.BidderID, slot)
				realFlexibility := baselineValue - actualValue

				allocated := realFlexibility
				if remaining < allocated {
					allocated = remaining
				}
				if allocated > 0 {
					reward := o.policy.Reward(c.bid.Price, realFlexibility, request.RequestedPower)
					allocations = append(allocations, market.Allocation{
						BidderID:             c.bid.BidderID,
						BiddedFlexibility:    c.bid.Power,
						ProvidedFlexibility:  realFlexibility,
						AllocatedFlexibility: allocated,
						BaselineValue:        baselineValue,
						ActualValue:          actualValue,
						Price:                c.bid.Price,
						Reward:               reward,
					})
					remaining -= allocated
					accepted[slot] = append(accepted[slot], c.bid)
					o.acceptedPrices = append(o.acceptedPrices, c.bid.Price)
					if remaining <= 0 {
						break
					}
				} else {
					nonAccepted[slot] = append(nonAccepted[slot], c.bid)
				}
			}

			results = append(results, market.ClearingResult{
				BuyerID:           request.BuyerID,
				Allocations:       allocations,
				UnfulfilledDemand: remaining,
			})
		}

		for i, bid := range bids {
			if !touched[i] {
				nonAccepted[slot] = append(nonAccepted[slot], bid)
			}
		}

		o.cleared[slot] = struct{}{}
		o.history[slot] = results
		acceptedCount += len(accepted[slot])
		rejectedCount += len(nonAccepted[slot])
		o.logger.Printf("cleared slot %s: %d accepted, %d non-accepted bids",
			slot.Format(time.RFC3339), len(accepted[slot]), len(nonAccepted[slot]))
	}

	metrics.ObserveClearing(metrics.ResultSuccess, len(slots), time.Since(started))
	metrics.AddBidsAccepted(acceptedCount)
	metrics.AddBidsRejected(rejectedCount)
	return accepted, nonAccepted
}
