package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"time"

	"flexmarket/internal/baseline"
	bidding "flexmarket/internal/bidding/domain"
	buyer "flexmarket/internal/buyer/domain"
	ledger "flexmarket/internal/ledger/domain"
	"flexmarket/internal/market/application"
	market "flexmarket/internal/market/domain"
	"flexmarket/internal/metering"
	"flexmarket/internal/observability/metrics"
	portfolio "flexmarket/internal/portfolio/domain"
	"flexmarket/internal/timeseries"
)

// Runner drives the market simulation slot by slot: buyers request
// flexibility, bidders respond with adaptive offers, the metering agent
// records delivered consumption, and the operator clears and settles the
// market on the configured cadence. Accepted and rejected bids are persisted
// to the market ledger.
type Runner struct {
	cfg      Config
	operator *application.Operator
	buyers   []*buyer.Buyer
	bidders  []*bidding.Bidder

	bidderBaselines map[string]*timeseries.Series
	offerShares     map[string]float64
	portfolios      map[string]*portfolio.Portfolio

	meter *metering.Agent
	repo  ledger.Repository
	rng   *rand.Rand

	logger *log.Logger
}

// NewRunner builds the simulation world from the config.
func NewRunner(cfg Config, repo ledger.Repository, logger *log.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, ledger.ErrNilRepository
	}
	if logger == nil {
		logger = log.Default()
	}

	index := baseline.SlotIndex(cfg.Start, cfg.Slots, cfg.SlotStep.Std())

	policy := market.RemunerationPolicy{
		Alpha:     cfg.Remuneration.Alpha,
		Beta:      cfg.Remuneration.Beta,
		Threshold: cfg.Remuneration.Threshold,
	}
	operator := application.NewOperator(policy, bidding.DefaultPowerRef, bidding.DefaultPriceRef, logger)

	buyers := make([]*buyer.Buyer, 0, len(cfg.Buyers))
	for _, bc := range cfg.Buyers {
		demand := baseline.Profiles[bc.DemandProfile](index)
		willingness := timeseries.New()
		for _, slot := range index {
			willingness.Set(slot, bc.WillingnessToPay)
		}
		b, err := buyer.New(bc.ID, demand, willingness)
		if err != nil {
			return nil, err
		}
		buyers = append(buyers, b)
	}

	meter := metering.NewAgent()
	bidders := make([]*bidding.Bidder, 0, len(cfg.Bidders))
	baselines := make(map[string]*timeseries.Series, len(cfg.Bidders))
	offerShares := make(map[string]float64, len(cfg.Bidders))
	portfolios := make(map[string]*portfolio.Portfolio, len(cfg.Bidders))
	for _, bc := range cfg.Bidders {
		b, err := bidding.NewBidder(bc.ID, bidding.Params{
			Alpha:       bc.Alpha,
			Beta:        bc.Beta,
			Gamma:       bc.Gamma,
			MemoryDepth: bc.MemoryDepth,
			W1:          bc.W1,
			W2:          bc.W2,
			W3:          bc.W3,
		})
		if err != nil {
			return nil, err
		}
		bidders = append(bidders, b)

		series := baseline.Profiles[bc.BaselineProfile](index)
		baselines[bc.ID] = series
		if err := operator.StoreBidderBaseline(bc.ID, series); err != nil {
			return nil, err
		}

		p, err := buildPortfolio(bc)
		if err != nil {
			return nil, err
		}
		portfolios[bc.ID] = p
		for _, mpid := range p.AssetMPIDs() {
			if err := meter.AddMeteringPoint(mpid); err != nil {
				return nil, err
			}
		}

		share := bc.OfferShare
		if share == 0 {
			share = 1.0
		}
		offerShares[bc.ID] = share
	}

	return &Runner{
		cfg:             cfg,
		operator:        operator,
		buyers:          buyers,
		bidders:         bidders,
		bidderBaselines: baselines,
		offerShares:     offerShares,
		portfolios:      portfolios,
		meter:           meter,
		repo:            repo,
		rng:             rand.New(rand.NewSource(cfg.Seed)),
		logger:          logger,
	}, nil
}

// buildPortfolio groups a bidder's configured assets into a portfolio. A
// bidder without configured assets gets a single asset metered under its
// own id.
func buildPortfolio(bc BidderConfig) (*portfolio.Portfolio, error) {
	p, err := portfolio.NewPortfolio(bc.ID, nil)
	if err != nil {
		return nil, err
	}
	assets := bc.Assets
	if len(assets) == 0 {
		assets = []AssetConfig{{ID: bc.ID}}
	}
	for _, ac := range assets {
		asset, err := portfolio.NewAsset(ac.ID, nil)
		if err != nil {
			return nil, err
		}
		mpid := ac.MPID
		if mpid == "" {
			mpid = ac.ID
		}
		asset.SetMPID(mpid)
		p.AddAsset(asset)
	}
	return p, nil
}

// Operator exposes the market operator, for reporting after a run.
func (r *Runner) Operator() *application.Operator { return r.operator }

// Meter exposes the metering agent.
func (r *Runner) Meter() *metering.Agent { return r.meter }

// Portfolios returns each bidder's asset portfolio.
func (r *Runner) Portfolios() map[string]*portfolio.Portfolio {
	out := make(map[string]*portfolio.Portfolio, len(r.portfolios))
	for id, p := range r.portfolios {
		out[id] = p
	}
	return out
}

// BidderBaselines returns a copy of the baseline series per bidder.
func (r *Runner) BidderBaselines() map[string]*timeseries.Series {
	out := make(map[string]*timeseries.Series, len(r.bidderBaselines))
	for id, series := range r.bidderBaselines {
		out[id] = series.Clone()
	}
	return out
}

// Run executes the full simulation horizon.
func (r *Runner) Run(ctx context.Context) error {
	for i := 0; i < r.cfg.Slots; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		slot := r.cfg.Start.Add(time.Duration(i) * r.cfg.SlotStep.Std())
		r.step(slot)
		metrics.IncSimulationSlot()

		if (i+1)%r.cfg.ClearingInterval == 0 {
			if err := r.clearAndSettle(ctx, r.cfg.ClearingInterval); err != nil {
				return err
			}
		}
	}
	// Flush slots left open by a horizon that is not a multiple of the
	// clearing interval.
	return r.clearAndSettle(ctx, r.cfg.Slots)
}

// step runs the bidding pipeline for one slot.
func (r *Runner) step(slot time.Time) {
	powerRef := r.operator.AverageLastNRequestedPowers(r.cfg.ReferenceWindow)
	priceRef := r.operator.AverageLastNAcceptedPrices(r.cfg.ReferenceWindow)
	for _, b := range r.bidders {
		b.SetReferenceValues(powerRef, priceRef)
	}

	var requests []market.BuyerRequest
	for _, b := range r.buyers {
		request, err := b.RequestFlexibility(slot)
		if err != nil {
			if !errors.Is(err, buyer.ErrNoDemand) {
				r.logger.Printf("buyer %s: no request for %s: %v", b.ID(), slot.Format(time.RFC3339), err)
			}
			continue
		}
		if err := r.operator.ReceiveBuyerRequest(slot, request); err != nil {
			r.logger.Printf("buyer %s: request rejected: %v", b.ID(), err)
			continue
		}
		requests = append(requests, request)
	}

	for _, b := range r.bidders {
		selected, ok := b.SelectBuyer(requests)
		if !ok {
			continue
		}
		baselineValue, _ := r.bidderBaselines[b.ID()].At(slot)
		maxOfferable := baselineValue * r.offerShares[b.ID()]
		price, power := b.BuildOffer(selected.BuyerID, selected.RequestedPower, maxOfferable)
		bid := b.UpdateCurrentBid(selected.BuyerID, power, price)
		if power <= 0 {
			continue
		}
		if err := r.operator.ReceiveBidFromBidder(slot, bid); err != nil {
			r.logger.Printf("bidder %s: bid rejected: %v", b.ID(), err)
			continue
		}

		// The delivered consumption is the baseline minus the bid power,
		// with metering noise on the delivered share. The metered actual
		// is split evenly across the portfolio's metering points.
		delivered := bid.Power * (1.0 + r.cfg.NoiseAmplitude*r.rng.NormFloat64())
		actual := baselineValue - delivered
		mpids := r.portfolios[b.ID()].AssetMPIDs()
		perAsset := actual / float64(len(mpids))
		for _, mpid := range mpids {
			if err := r.meter.AddEnergyMeasure(mpid, slot, perAsset); err != nil {
				r.logger.Printf("metering %s: %v", mpid, err)
			}
		}
		if err := r.operator.StoreBidderActual(b.ID(), slot, actual); err != nil {
			r.logger.Printf("bidder %s: store actual: %v", b.ID(), err)
		}
	}
}

// clearAndSettle clears up to batchSize slots, persists the outcome to the
// ledger, records settlements for the reference price and feeds the outcome
// back into each bidder's memory.
func (r *Runner) clearAndSettle(ctx context.Context, batchSize int) error {
	accepted, nonAccepted := r.operator.Clear(batchSize)

	// Outcomes are fed back slot by slot in chronological order so that a
	// bidder's memory keeps its most recent record last across multi-slot
	// batches, and the ledger write order stays deterministic.
	for _, slot := range sortedSlots(accepted, nonAccepted) {
		for _, bid := range accepted[slot] {
			reward := r.rewardFor(slot, bid)
			if err := r.persist(ctx, slot, bid, reward, true); err != nil {
				return err
			}
			r.operator.RecordSettlement(slot, bid.Price)
			if b := r.bidderByID(bid.BidderID); b != nil {
				b.RecordOutcome(bid.BuyerID, slot, bid.Price, bid.Power, true)
			}
		}
		for _, bid := range nonAccepted[slot] {
			if err := r.persist(ctx, slot, bid, 0, false); err != nil {
				return err
			}
			if b := r.bidderByID(bid.BidderID); b != nil {
				b.RecordOutcome(bid.BuyerID, slot, bid.Price, bid.Power, false)
			}
		}
	}

	r.operator.ComputePowerRef()
	r.operator.ComputePriceRef()
	return nil
}

// sortedSlots returns the union of slot keys in ascending time order.
func sortedSlots(groups ...map[time.Time][]market.BidderBid) []time.Time {
	seen := make(map[time.Time]struct{})
	var slots []time.Time
	for _, group := range groups {
		for slot := range group {
			if _, ok := seen[slot]; ok {
				continue
			}
			seen[slot] = struct{}{}
			slots = append(slots, slot)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots
}

func (r *Runner) persist(ctx context.Context, slot time.Time, bid market.BidderBid, reward float64, wasAccepted bool) error {
	entry := ledger.MarketEntry{
		TimeSlot:  slot,
		CreatedAt: time.Now().UTC(),
		BidderID:  bid.BidderID,
		BuyerID:   bid.BuyerID,
		Power:     bid.Power,
		Price:     bid.Price,
		Reward:    reward,
		Accepted:  wasAccepted,
		Currency:  r.cfg.Currency,
	}
	started := time.Now()
	if err := r.repo.Append(ctx, entry); err != nil {
		metrics.ObserveLedgerWrite(metrics.ResultError, time.Since(started))
		return fmt.Errorf("sim: persist ledger entry: %w", err)
	}
	metrics.ObserveLedgerWrite(metrics.ResultSuccess, time.Since(started))
	return nil
}

// rewardFor looks up the settled reward of an accepted bid in the slot's
// clearing results.
func (r *Runner) rewardFor(slot time.Time, bid market.BidderBid) float64 {
	for _, result := range r.operator.Results(slot) {
		if result.BuyerID != bid.BuyerID {
			continue
		}
		for _, alloc := range result.Allocations {
			if alloc.BidderID == bid.BidderID {
				return alloc.Reward
			}
		}
	}
	return 0
}

func (r *Runner) bidderByID(id string) *bidding.Bidder {
	for _, b := range r.bidders {
		if b.ID() == id {
			return b
		}
	}
	return nil
}
