package bidding

import (
	"errors"
	"math"
	"testing"
	"time"

	market "flexmarket/internal/market/domain"
)

func newTestBidder(t *testing.T, params Params) *Bidder {
	t.Helper()
	b, err := NewBidder("bidder-1", params)
	if err != nil {
		t.Fatalf("NewBidder: %v", err)
	}
	return b
}

func outcomeAt(b *Bidder, buyerID string, hour int, price float64, accepted bool) {
	b.RecordOutcome(buyerID, time.Date(2025, 3, 1, hour, 0, 0, 0, time.UTC), price, 10, accepted)
}

func TestNewBidderEmptyID(t *testing.T) {
	if _, err := NewBidder("", Params{}); !errors.Is(err, market.ErrEmptyBidderID) {
		t.Fatalf("err = %v, want ErrEmptyBidderID", err)
	}
}

func TestParamsDefaults(t *testing.T) {
	b := newTestBidder(t, Params{})
	if got := b.Memory().Depth(); got != DefaultMemoryDepth {
		t.Fatalf("depth = %d, want %d", got, DefaultMemoryDepth)
	}
	if b.params.Alpha != DefaultAlpha || b.params.Gamma != DefaultGamma {
		t.Fatalf("params = %+v", b.params)
	}
	if b.powerRef != DefaultPowerRef || b.priceRef != DefaultPriceRef {
		t.Fatalf("references = %v/%v", b.powerRef, b.priceRef)
	}
}

func TestSetReferenceValuesIgnoresZero(t *testing.T) {
	b := newTestBidder(t, Params{})
	b.SetReferenceValues(200, 80)
	if b.powerRef != 200 || b.priceRef != 80 {
		t.Fatalf("references = %v/%v", b.powerRef, b.priceRef)
	}
	// Zero means "no update", never a reset.
	b.SetReferenceValues(0, 0)
	if b.powerRef != 200 || b.priceRef != 80 {
		t.Fatalf("references reset by zero update: %v/%v", b.powerRef, b.priceRef)
	}
}

func TestPriority(t *testing.T) {
	b := newTestBidder(t, Params{W1: 1, W2: 1, W3: 1, PowerRef: 100, PriceRef: 50})
	outcomeAt(b, "dso", 1, 40, true)
	outcomeAt(b, "dso", 2, 40, false)

	// success ratio 0.5, avg accepted 40.
	want := 1.0*(80.0/100.0) + 1.0*(40.0/50.0) - 1.0*(1.0-0.5)
	if got := b.Priority("dso", 80); math.Abs(got-want) > 1e-9 {
		t.Fatalf("priority = %v, want %v", got, want)
	}

	// With no history, priority is driven by requested power alone minus the
	// full failure weight.
	want = 1.0*(80.0/100.0) - 1.0
	if got := b.Priority("unknown", 80); math.Abs(got-want) > 1e-9 {
		t.Fatalf("no-history priority = %v, want %v", got, want)
	}
}

func TestSelectBuyer(t *testing.T) {
	b := newTestBidder(t, Params{W1: 1, W2: 1, W3: 1, PowerRef: 100, PriceRef: 50})

	if _, ok := b.SelectBuyer(nil); ok {
		t.Fatal("empty candidate set must select nothing")
	}

	// Bigger request wins when histories are equal.
	small := market.BuyerRequest{BuyerID: "small", RequestedPower: 10, WillingnessToPay: 50}
	big := market.BuyerRequest{BuyerID: "big", RequestedPower: 90, WillingnessToPay: 50}
	selected, ok := b.SelectBuyer([]market.BuyerRequest{small, big})
	if !ok || selected.BuyerID != "big" {
		t.Fatalf("selected = %+v", selected)
	}

	// A good history outweighs a bigger request.
	outcomeAt(b, "small", 1, 45, true)
	outcomeAt(b, "small", 2, 45, true)
	selected, _ = b.SelectBuyer([]market.BuyerRequest{small, big})
	if selected.BuyerID != "small" {
		t.Fatalf("selected = %s, want small", selected.BuyerID)
	}
}

func TestSelectBuyerTieKeepsFirstSeen(t *testing.T) {
	b := newTestBidder(t, Params{})
	first := market.BuyerRequest{BuyerID: "first", RequestedPower: 50, WillingnessToPay: 50}
	second := market.BuyerRequest{BuyerID: "second", RequestedPower: 50, WillingnessToPay: 50}
	selected, ok := b.SelectBuyer([]market.BuyerRequest{first, second})
	if !ok || selected.BuyerID != "first" {
		t.Fatalf("tie must keep the first-seen candidate, got %+v", selected)
	}
}

func TestBuildOfferSeeding(t *testing.T) {
	b := newTestBidder(t, Params{Alpha: 0.05, Beta: 0.05, Gamma: 0.5})

	// No history at all: fixed fallback seed, no nudge.
	price, power := b.BuildOffer("dso", 80, 100)
	if price != fallbackSeedPrice {
		t.Fatalf("price = %v, want fallback %v", price, fallbackSeedPrice)
	}
	if power != 80 {
		t.Fatalf("power = %v, want 80", power)
	}

	// Only rejections: seed from the average rejected price. Success ratio 0
	// rescales down, last outcome nudges down.
	outcomeAt(b, "dso", 1, 40, false)
	outcomeAt(b, "dso", 2, 60, false)
	price, _ = b.BuildOffer("dso", 80, 100)
	want := 50.0*(1.0-0.5*0.5) - 0.5*0.05
	if math.Abs(price-want) > 1e-9 {
		t.Fatalf("price = %v, want %v", price, want)
	}
}

func TestBuildOfferHighSuccessRaises(t *testing.T) {
	b := newTestBidder(t, Params{Alpha: 0.05, Beta: 0.05, Gamma: 0.5})
	for hour := 0; hour < 4; hour++ {
		outcomeAt(b, "dso", hour, 40, true)
	}

	// Success ratio 1.0 > 0.7: rescale up; last accepted: nudge up.
	price, _ := b.BuildOffer("dso", 80, 100)
	want := 40.0*(1.0+0.5*0.5) + 0.5*0.05
	if math.Abs(price-want) > 1e-9 {
		t.Fatalf("price = %v, want %v", price, want)
	}
}

func TestBuildOfferNeutralSuccessKeepsSeed(t *testing.T) {
	b := newTestBidder(t, Params{Alpha: 0.05, Beta: 0.05, Gamma: 0.5})
	outcomeAt(b, "dso", 1, 40, true)
	outcomeAt(b, "dso", 2, 40, false)

	// Success ratio 0.5 is between the thresholds: no rescaling, only the
	// last-outcome nudge applies.
	price, _ := b.BuildOffer("dso", 80, 100)
	want := 40.0 - 0.5*0.05
	if math.Abs(price-want) > 1e-9 {
		t.Fatalf("price = %v, want %v", price, want)
	}
}

func TestBuildOfferPriceFloor(t *testing.T) {
	b := newTestBidder(t, Params{Alpha: 10, Beta: 10, Gamma: 1})
	outcomeAt(b, "dso", 1, 0.02, false)

	price, _ := b.BuildOffer("dso", 80, 100)
	if price != minOfferPrice {
		t.Fatalf("price = %v, want floor %v", price, minOfferPrice)
	}
}

func TestBuildOfferPowerCap(t *testing.T) {
	b := newTestBidder(t, Params{})
	if _, power := b.BuildOffer("dso", 80, 30); power != 30 {
		t.Fatalf("power = %v, want capped 30", power)
	}
	if _, power := b.BuildOffer("dso", 20, 30); power != 20 {
		t.Fatalf("power = %v, want requested 20", power)
	}
}

func TestCurrentBid(t *testing.T) {
	b := newTestBidder(t, Params{})
	bid := b.UpdateCurrentBid("dso", 30, 42)
	if bid.BidderID != "bidder-1" || bid.BuyerID != "dso" || bid.Power != 30 || bid.Price != 42 {
		t.Fatalf("bid = %+v", bid)
	}
	if got := b.CurrentBid(); got != bid {
		t.Fatalf("CurrentBid = %+v, want %+v", got, bid)
	}
}

func TestAdaptiveLoopConverges(t *testing.T) {
	// A bidder that keeps getting rejected must lower its price over time.
	b := newTestBidder(t, Params{Alpha: 0.05, Beta: 0.05, Gamma: 0.5})
	first, _ := b.BuildOffer("dso", 80, 100)
	price := first
	for hour := 0; hour < 10; hour++ {
		b.RecordOutcome("dso", time.Date(2025, 3, 1, hour, 0, 0, 0, time.UTC), price, 80, false)
		price, _ = b.BuildOffer("dso", 80, 100)
	}
	if price >= first {
		t.Fatalf("price did not fall after repeated rejections: %v -> %v", first, price)
	}
}
