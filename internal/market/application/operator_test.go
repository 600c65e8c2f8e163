package application

import (
	"errors"
	"io"
	"log"
	"math"
	"testing"
	"time"

	market "flexmarket/internal/market/domain"
	"flexmarket/internal/timeseries"
)

var testPolicy = market.RemunerationPolicy{Alpha: 0.5, Beta: 0.1, Threshold: 0.1}

func newTestOperator() *Operator {
	return NewOperator(testPolicy, 100, 50, log.New(io.Discard, "", 0))
}

func slotAt(hour int) time.Time {
	return time.Date(2025, 3, 1, hour, 0, 0, 0, time.UTC)
}

// storeFlexibility stores a baseline equal to flex and an actual of zero, so
// the bidder's real flexibility for the slot is exactly flex.
func storeFlexibility(t *testing.T, op *Operator, bidderID string, slot time.Time, flex float64) {
	t.Helper()
	series := timeseries.New()
	series.Set(slot, flex)
	if err := op.StoreBidderBaseline(bidderID, series); err != nil {
		t.Fatalf("StoreBidderBaseline: %v", err)
	}
	if err := op.StoreBidderActual(bidderID, slot, 0); err != nil {
		t.Fatalf("StoreBidderActual: %v", err)
	}
}

func receiveRequest(t *testing.T, op *Operator, slot time.Time, request market.BuyerRequest) {
	t.Helper()
	if err := op.ReceiveBuyerRequest(slot, request); err != nil {
		t.Fatalf("ReceiveBuyerRequest: %v", err)
	}
}

func receiveBid(t *testing.T, op *Operator, slot time.Time, bid market.BidderBid) {
	t.Helper()
	if err := op.ReceiveBidFromBidder(slot, bid); err != nil {
		t.Fatalf("ReceiveBidFromBidder: %v", err)
	}
}

func TestReceiveValidation(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)

	if err := op.ReceiveBuyerRequest(time.Time{}, market.BuyerRequest{BuyerID: "b", RequestedPower: 1, WillingnessToPay: 1}); !errors.Is(err, market.ErrZeroTimeSlot) {
		t.Fatalf("zero slot err = %v", err)
	}
	if err := op.ReceiveBuyerRequest(slot, market.BuyerRequest{RequestedPower: 1}); !errors.Is(err, market.ErrEmptyBuyerID) {
		t.Fatalf("empty buyer err = %v", err)
	}
	if err := op.ReceiveBuyerRequest(slot, market.BuyerRequest{BuyerID: "b", RequestedPower: -1}); !errors.Is(err, market.ErrNegativePower) {
		t.Fatalf("negative power err = %v", err)
	}
	if err := op.ReceiveBidFromBidder(slot, market.BidderBid{BidderID: "s", BuyerID: "b", Power: 10, Price: 0}); !errors.Is(err, market.ErrNonPositivePrice) {
		t.Fatalf("zero price err = %v", err)
	}
	if err := op.StoreBidderBaseline("", timeseries.New()); !errors.Is(err, market.ErrEmptyBidderID) {
		t.Fatalf("empty bidder err = %v", err)
	}
	if err := op.StoreBidderBaseline("s", nil); !errors.Is(err, market.ErrNilBaseline) {
		t.Fatalf("nil baseline err = %v", err)
	}
}

func TestMissingDataDefaultsToZero(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)

	if got := op.BidderBaseline("unknown", slot); got != 0 {
		t.Fatalf("baseline = %v, want 0", got)
	}
	if got := op.BidderActual("unknown", slot); got != 0 {
		t.Fatalf("actual = %v, want 0", got)
	}

	series := timeseries.New()
	series.Set(slot, 42)
	if err := op.StoreBidderBaseline("s", series); err != nil {
		t.Fatalf("StoreBidderBaseline: %v", err)
	}
	if got := op.BidderBaseline("s", slotAt(11)); got != 0 {
		t.Fatalf("baseline for absent slot = %v, want 0", got)
	}

	// The stored series is a clone, later mutation must not leak in.
	series.Set(slot, 99)
	if got := op.BidderBaseline("s", slot); got != 42 {
		t.Fatalf("baseline = %v, want 42", got)
	}
}

func TestStoreBidderActualOverwrites(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)

	if err := op.StoreBidderActual("s", slot, 5); err != nil {
		t.Fatalf("StoreBidderActual: %v", err)
	}
	if err := op.StoreBidderActual("s", slot, 7); err != nil {
		t.Fatalf("StoreBidderActual: %v", err)
	}
	if got := op.BidderActual("s", slot); got != 7 {
		t.Fatalf("actual = %v, want 7", got)
	}
}

func TestRewardExactDelivery(t *testing.T) {
	policy := market.RemunerationPolicy{Alpha: 0.5, Beta: 0.1, Threshold: 0}
	if got := policy.Reward(40, 100, 100); got != 100*40.0 {
		t.Fatalf("reward = %v, want %v", got, 100*40.0)
	}
}

func TestRewardPenaltyAndBonus(t *testing.T) {
	// Under-delivery beyond the band: requested 100, delivered 50, band 10.
	got := testPolicy.Reward(40, 50, 100)
	want := 50*40.0 - 0.5*(100-50-10)*40.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("under-delivery reward = %v, want %v", got, want)
	}

	// Over-delivery beyond the band: requested 100, delivered 200.
	got = testPolicy.Reward(40, 200, 100)
	want = 100*40.0 + 0.1*(200-100-10)*40.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("over-delivery reward = %v, want %v", got, want)
	}

	// Within the band neither term applies.
	got = testPolicy.Reward(40, 95, 100)
	want = 95 * 40.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("in-band reward = %v, want %v", got, want)
	}
}

func TestClearSingleBidPartialDemand(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)

	receiveRequest(t, op, slot, market.BuyerRequest{BuyerID: "dso", RequestedPower: 100, WillingnessToPay: 50})
	receiveBid(t, op, slot, market.BidderBid{BidderID: "s1", BuyerID: "dso", Power: 50, Price: 40})
	storeFlexibility(t, op, "s1", slot, 50)

	accepted, nonAccepted := op.Clear(1)
	if len(accepted[slot]) != 1 || len(nonAccepted[slot]) != 0 {
		t.Fatalf("accepted %d, non-accepted %d, want 1 and 0", len(accepted[slot]), len(nonAccepted[slot]))
	}

	results := op.Results(slot)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	result := results[0]
	if result.UnfulfilledDemand != 50 {
		t.Fatalf("unfulfilled = %v, want 50", result.UnfulfilledDemand)
	}
	if len(result.Allocations) != 1 {
		t.Fatalf("allocations = %d, want 1", len(result.Allocations))
	}
	alloc := result.Allocations[0]
	if alloc.AllocatedFlexibility != 50 || alloc.ProvidedFlexibility != 50 {
		t.Fatalf("allocation = %+v", alloc)
	}
	wantReward := testPolicy.Reward(40, 50, 100)
	if math.Abs(alloc.Reward-wantReward) > 1e-9 {
		t.Fatalf("reward = %v, want %v", alloc.Reward, wantReward)
	}
}

func TestClearBudgetFilter(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)

	receiveRequest(t, op, slot, market.BuyerRequest{BuyerID: "dso", RequestedPower: 100, WillingnessToPay: 50})
	receiveBid(t, op, slot, market.BidderBid{BidderID: "s1", BuyerID: "dso", Power: 50, Price: 60})
	storeFlexibility(t, op, "s1", slot, 200)

	accepted, nonAccepted := op.Clear(1)
	if len(accepted[slot]) != 0 || len(nonAccepted[slot]) != 1 {
		t.Fatalf("accepted %d, non-accepted %d, want 0 and 1", len(accepted[slot]), len(nonAccepted[slot]))
	}
	results := op.Results(slot)
	if len(results) != 1 || len(results[0].Allocations) != 0 || results[0].UnfulfilledDemand != 100 {
		t.Fatalf("results = %+v", results)
	}
}

func TestClearBudgetEqualityAccepted(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)

	receiveRequest(t, op, slot, market.BuyerRequest{BuyerID: "dso", RequestedPower: 100, WillingnessToPay: 50})
	receiveBid(t, op, slot, market.BidderBid{BidderID: "s1", BuyerID: "dso", Power: 50, Price: 50})
	storeFlexibility(t, op, "s1", slot, 50)

	accepted, _ := op.Clear(1)
	if len(accepted[slot]) != 1 {
		t.Fatalf("bid at exactly the willingness to pay must be accepted")
	}
}

func TestClearPriceOrdering(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)

	receiveRequest(t, op, slot, market.BuyerRequest{BuyerID: "dso", RequestedPower: 100, WillingnessToPay: 50})
	// Inserted expensive-first; clearing must walk cheapest-first.
	receiveBid(t, op, slot, market.BidderBid{BidderID: "s2", BuyerID: "dso", Power: 50, Price: 45})
	receiveBid(t, op, slot, market.BidderBid{BidderID: "s1", BuyerID: "dso", Power: 50, Price: 40})
	storeFlexibility(t, op, "s1", slot, 50)
	storeFlexibility(t, op, "s2", slot, 50)

	accepted, _ := op.Clear(1)
	bids := accepted[slot]
	if len(bids) != 2 {
		t.Fatalf("accepted = %d, want 2", len(bids))
	}
	if bids[0].BidderID != "s1" || bids[1].BidderID != "s2" {
		t.Fatalf("accepted order = %s, %s; want s1, s2", bids[0].BidderID, bids[1].BidderID)
	}

	result := op.Results(slot)[0]
	if result.UnfulfilledDemand != 0 {
		t.Fatalf("unfulfilled = %v, want 0", result.UnfulfilledDemand)
	}
	for i := 1; i < len(result.Allocations); i++ {
		if result.Allocations[i].Price < result.Allocations[i-1].Price {
			t.Fatalf("allocations not in ascending price order: %+v", result.Allocations)
		}
	}
}

func TestClearPriceTieKeepsInsertionOrder(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)

	receiveRequest(t, op, slot, market.BuyerRequest{BuyerID: "dso", RequestedPower: 60, WillingnessToPay: 50})
	receiveBid(t, op, slot, market.BidderBid{BidderID: "first", BuyerID: "dso", Power: 50, Price: 40})
	receiveBid(t, op, slot, market.BidderBid{BidderID: "second", BuyerID: "dso", Power: 50, Price: 40})
	storeFlexibility(t, op, "first", slot, 50)
	storeFlexibility(t, op, "second", slot, 50)

	accepted, _ := op.Clear(1)
	bids := accepted[slot]
	if len(bids) != 2 || bids[0].BidderID != "first" {
		t.Fatalf("tie must keep insertion order, got %+v", bids)
	}
	// The first-inserted bid takes the demand it can serve first.
	allocs := op.Results(slot)[0].Allocations
	if allocs[0].BidderID != "first" || allocs[0].AllocatedFlexibility != 50 {
		t.Fatalf("allocations = %+v", allocs)
	}
	if allocs[1].BidderID != "second" || allocs[1].AllocatedFlexibility != 10 {
		t.Fatalf("allocations = %+v", allocs)
	}
}

func TestClearZeroDemandRequestSkipped(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)

	receiveRequest(t, op, slot, market.BuyerRequest{BuyerID: "dso", RequestedPower: 0, WillingnessToPay: 50})

	accepted, nonAccepted := op.Clear(1)
	if len(accepted[slot]) != 0 || len(nonAccepted[slot]) != 0 {
		t.Fatalf("zero-demand request must accept and reject nothing")
	}
	if len(op.Results(slot)) != 0 {
		t.Fatalf("zero-demand request must not emit a clearing result")
	}
	if !op.IsCleared(slot) {
		t.Fatal("slot must still transition to cleared")
	}
}

func TestClearZeroFlexibilityContinuesWalk(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)

	receiveRequest(t, op, slot, market.BuyerRequest{BuyerID: "dso", RequestedPower: 100, WillingnessToPay: 50})
	// The cheapest bidder delivered nothing; the walk must continue to the
	// next bid instead of stopping.
	receiveBid(t, op, slot, market.BidderBid{BidderID: "s1", BuyerID: "dso", Power: 50, Price: 40})
	receiveBid(t, op, slot, market.BidderBid{BidderID: "s2", BuyerID: "dso", Power: 100, Price: 45})
	storeFlexibility(t, op, "s1", slot, 0)
	storeFlexibility(t, op, "s2", slot, 100)

	accepted, nonAccepted := op.Clear(1)
	if len(accepted[slot]) != 1 || accepted[slot][0].BidderID != "s2" {
		t.Fatalf("accepted = %+v, want only s2", accepted[slot])
	}
	if len(nonAccepted[slot]) != 1 || nonAccepted[slot][0].BidderID != "s1" {
		t.Fatalf("non-accepted = %+v, want only s1", nonAccepted[slot])
	}
	if got := op.Results(slot)[0].UnfulfilledDemand; got != 0 {
		t.Fatalf("unfulfilled = %v, want 0", got)
	}
}

func TestClearUnmatchedBidNonAccepted(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)

	receiveRequest(t, op, slot, market.BuyerRequest{BuyerID: "dso", RequestedPower: 50, WillingnessToPay: 50})
	receiveBid(t, op, slot, market.BidderBid{BidderID: "s1", BuyerID: "other-dso", Power: 50, Price: 40})
	storeFlexibility(t, op, "s1", slot, 50)

	accepted, nonAccepted := op.Clear(1)
	if len(accepted[slot]) != 0 || len(nonAccepted[slot]) != 1 {
		t.Fatalf("bid for an absent buyer must be non-accepted")
	}
}

func TestClearIdempotent(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)

	receiveRequest(t, op, slot, market.BuyerRequest{BuyerID: "dso", RequestedPower: 100, WillingnessToPay: 50})
	receiveBid(t, op, slot, market.BidderBid{BidderID: "s1", BuyerID: "dso", Power: 50, Price: 40})
	storeFlexibility(t, op, "s1", slot, 50)

	op.Clear(1)
	historyBefore := op.History()

	accepted, nonAccepted := op.Clear(1)
	if len(accepted) != 0 || len(nonAccepted) != 0 {
		t.Fatalf("re-clearing with no new slots must return empty maps, got %d/%d", len(accepted), len(nonAccepted))
	}
	historyAfter := op.History()
	if len(historyAfter) != len(historyBefore) {
		t.Fatalf("history mutated by re-clear: %d -> %d", len(historyBefore), len(historyAfter))
	}
	if len(historyAfter[slot]) != len(historyBefore[slot]) {
		t.Fatal("slot results mutated by re-clear")
	}
}

func TestClearChronologicalBatches(t *testing.T) {
	op := newTestOperator()
	early, mid, late := slotAt(8), slotAt(9), slotAt(10)

	// Inserted out of order; clearing must still pick the earliest first.
	for _, slot := range []time.Time{late, early, mid} {
		receiveRequest(t, op, slot, market.BuyerRequest{BuyerID: "dso", RequestedPower: 10, WillingnessToPay: 50})
	}

	op.Clear(2)
	if !op.IsCleared(early) || !op.IsCleared(mid) {
		t.Fatal("batch must clear the two earliest slots")
	}
	if op.IsCleared(late) {
		t.Fatal("slot beyond the batch must stay open")
	}

	op.Clear(2)
	if !op.IsCleared(late) {
		t.Fatal("next batch must clear the remaining slot")
	}
}

func TestClearBatchSizeNonPositive(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)
	receiveRequest(t, op, slot, market.BuyerRequest{BuyerID: "dso", RequestedPower: 10, WillingnessToPay: 50})

	accepted, nonAccepted := op.Clear(0)
	if len(accepted) != 0 || len(nonAccepted) != 0 {
		t.Fatal("zero batch size must clear nothing")
	}
	if op.IsCleared(slot) {
		t.Fatal("slot must stay open")
	}
}

func TestDemandConservation(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)

	requested := 120.0
	receiveRequest(t, op, slot, market.BuyerRequest{BuyerID: "dso", RequestedPower: requested, WillingnessToPay: 50})
	receiveBid(t, op, slot, market.BidderBid{BidderID: "s1", BuyerID: "dso", Power: 50, Price: 40})
	receiveBid(t, op, slot, market.BidderBid{BidderID: "s2", BuyerID: "dso", Power: 60, Price: 42})
	receiveBid(t, op, slot, market.BidderBid{BidderID: "s3", BuyerID: "dso", Power: 80, Price: 55})
	storeFlexibility(t, op, "s1", slot, 45)
	storeFlexibility(t, op, "s2", slot, 30)
	storeFlexibility(t, op, "s3", slot, 80)

	op.Clear(1)
	result := op.Results(slot)[0]

	var allocated float64
	for _, alloc := range result.Allocations {
		allocated += alloc.AllocatedFlexibility
		if alloc.Price > 50 {
			t.Fatalf("allocation above willingness to pay: %+v", alloc)
		}
	}
	if math.Abs(allocated+result.UnfulfilledDemand-requested) > 1e-9 {
		t.Fatalf("allocated %v + unfulfilled %v != requested %v", allocated, result.UnfulfilledDemand, requested)
	}
}

func TestClearMultipleBuyersIndependent(t *testing.T) {
	op := newTestOperator()
	slot := slotAt(10)

	receiveRequest(t, op, slot, market.BuyerRequest{BuyerID: "dso-a", RequestedPower: 50, WillingnessToPay: 50})
	receiveRequest(t, op, slot, market.BuyerRequest{BuyerID: "dso-b", RequestedPower: 30, WillingnessToPay: 20})
	receiveBid(t, op, slot, market.BidderBid{BidderID: "s1", BuyerID: "dso-a", Power: 50, Price: 40})
	receiveBid(t, op, slot, market.BidderBid{BidderID: "s2", BuyerID: "dso-b", Power: 30, Price: 15})
	storeFlexibility(t, op, "s1", slot, 50)
	storeFlexibility(t, op, "s2", slot, 30)

	accepted, _ := op.Clear(1)
	if len(accepted[slot]) != 2 {
		t.Fatalf("accepted = %d, want 2", len(accepted[slot]))
	}
	results := op.Results(slot)
	if len(results) != 2 {
		t.Fatalf("results = %d, want one per buyer", len(results))
	}
	if results[0].BuyerID != "dso-a" || results[1].BuyerID != "dso-b" {
		t.Fatalf("results must keep request insertion order, got %s, %s", results[0].BuyerID, results[1].BuyerID)
	}
}

func TestRollingAverages(t *testing.T) {
	op := newTestOperator()

	// Scenario: averages over an empty rolling list are 0.0, not an error.
	if got := op.AverageLastNAcceptedPrices(7); got != 0 {
		t.Fatalf("empty accepted average = %v, want 0", got)
	}
	if got := op.AverageLastNRequestedPowers(7); got != 0 {
		t.Fatalf("empty requested average = %v, want 0", got)
	}

	slot := slotAt(10)
	for i, power := range []float64{10, 20, 30, 40} {
		receiveRequest(t, op, slot.Add(time.Duration(i)*time.Hour), market.BuyerRequest{BuyerID: "dso", RequestedPower: power, WillingnessToPay: 50})
	}
	if got := op.AverageLastNRequestedPowers(2); got != 35 {
		t.Fatalf("window average = %v, want 35", got)
	}
	// A window larger than the list averages what exists.
	if got := op.AverageLastNRequestedPowers(10); got != 25 {
		t.Fatalf("oversized window average = %v, want 25", got)
	}
}

func TestReferenceRecomputation(t *testing.T) {
	op := newTestOperator()

	if got := op.ComputePowerRef(); got != 0 {
		t.Fatalf("power ref with no requests = %v, want 0", got)
	}
	if got := op.ComputePriceRef(); got != 0 {
		t.Fatalf("price ref with no settlements = %v, want 0", got)
	}

	receiveRequest(t, op, slotAt(10), market.BuyerRequest{BuyerID: "dso", RequestedPower: 100, WillingnessToPay: 50})
	receiveRequest(t, op, slotAt(11), market.BuyerRequest{BuyerID: "dso", RequestedPower: 50, WillingnessToPay: 50})
	if got := op.ComputePowerRef(); got != 75 {
		t.Fatalf("power ref = %v, want 75", got)
	}
	if got := op.PowerRef(); got != 75 {
		t.Fatalf("PowerRef = %v, want 75", got)
	}

	op.RecordSettlement(slotAt(10), 40)
	op.RecordSettlement(slotAt(11), 20)
	if got := op.ComputePriceRef(); got != 30 {
		t.Fatalf("price ref = %v, want 30", got)
	}
}

func TestSlotKeyNormalization(t *testing.T) {
	op := newTestOperator()
	cet := time.FixedZone("CET", 3600)
	local := time.Date(2025, 3, 1, 11, 0, 0, 0, cet)
	utc := local.UTC()

	receiveRequest(t, op, local, market.BuyerRequest{BuyerID: "dso", RequestedPower: 10, WillingnessToPay: 50})
	if got := len(op.RequestsForSlot(utc)); got != 1 {
		t.Fatalf("requests via UTC key = %d, want 1", got)
	}
}
