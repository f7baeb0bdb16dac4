package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"settlex/internal/metrics"
	"settlex/internal/model"
)

// AllocatorConfig tunes the eligibility filters.
type AllocatorConfig struct {
	// MinTraderBalance is the deposit floor: a trader whose available+trust
	// is below it receives no traffic even for small deals.
	MinTraderBalance decimal.Decimal
	// DeviceLiveness is how long a device may stay silent before its
	// requisites are considered offline.
	DeviceLiveness time.Duration
}

// Allocator routes an incoming deal to one eligible trader requisite and
// freezes the trader's balance against it.
type Allocator struct {
	requisites RequisiteStore
	balances   BalanceStore
	deals      DealStore
	methods    MethodStore
	oracle     RateSource
	cfg        AllocatorConfig
	now        func() time.Time
}

func NewAllocator(requisites RequisiteStore, balances BalanceStore, deals DealStore, methods MethodStore, oracle RateSource, cfg AllocatorConfig) *Allocator {
	if cfg.DeviceLiveness <= 0 {
		cfg.DeviceLiveness = 5 * time.Minute
	}
	return &Allocator{
		requisites: requisites,
		balances:   balances,
		deals:      deals,
		methods:    methods,
		oracle:     oracle,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Allocate picks a requisite for the deal, claims its capacity, freezes the
// owning trader's balance and moves the deal to IN_PROGRESS. ErrNoCapacity
// when no candidate qualifies; the deal then stays CREATED, which is a normal
// outcome, not an error to roll back.
func (a *Allocator) Allocate(ctx context.Context, deal *model.Deal) (*model.Requisite, error) {
	method, err := a.methods.Get(ctx, deal.MethodType)
	if err != nil {
		return nil, fmt.Errorf("allocator: load method %q: %w", deal.MethodType, err)
	}
	rate := a.oracle.RateWithCorrection(ctx, method.Correction)

	candidates, err := a.eligible(ctx, deal, rate)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		metrics.AllocationNoCapacity.Inc()
		return nil, ErrNoCapacity
	}

	// Deterministic order: least loaded first, then least recently used,
	// then id. The claim below is the exclusivity point; losing a claim race
	// just moves on to the next candidate.
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := candidates[i].Requisite, candidates[j].Requisite
		if ri.OpenDeals != rj.OpenDeals {
			return ri.OpenDeals < rj.OpenDeals
		}
		if !ri.LastUsedAt.Equal(rj.LastUsedAt) {
			return ri.LastUsedAt.Before(rj.LastUsedAt)
		}
		return ri.ID < rj.ID
	})

	now := a.now()
	for _, c := range candidates {
		req := c.Requisite
		if err := a.requisites.Claim(ctx, req.ID, deal.AmountFiat, now); err != nil {
			if errors.Is(err, ErrConflict) {
				metrics.AllocationClaimConflicts.Inc()
				continue
			}
			return nil, fmt.Errorf("allocator: claim requisite %s: %w", req.ID, err)
		}

		frozen, commission, total := Quote(deal.AmountFiat, rate, c.Trader.RewardPercent)
		if err := a.balances.Freeze(ctx, req.TraderID, deal.ID, total); err != nil {
			if releaseErr := a.requisites.ReleaseClaim(ctx, req.ID, deal.AmountFiat); releaseErr != nil {
				slog.Error("allocator: failed to release claim after freeze failure",
					"requisite_id", req.ID, "error", releaseErr)
			}
			if errors.Is(err, ErrInsufficient) {
				continue
			}
			return nil, fmt.Errorf("allocator: freeze for deal %s: %w", deal.ID, err)
		}

		deal.RequisiteID = &req.ID
		deal.TraderID = &req.TraderID
		deal.Rate = rate
		deal.CommissionPct = c.Trader.RewardPercent
		deal.Commission = commission
		deal.FrozenAmount = frozen.Add(commission)
		deal.Status = model.DealInProgress

		if err := a.deals.MarkAllocated(ctx, deal); err != nil {
			if unfreezeErr := a.balances.Unfreeze(ctx, req.TraderID, deal.ID); unfreezeErr != nil {
				slog.Error("allocator: failed to unfreeze after allocation failure",
					"deal_id", deal.ID, "error", unfreezeErr)
			}
			if releaseErr := a.requisites.ReleaseClaim(ctx, req.ID, deal.AmountFiat); releaseErr != nil {
				slog.Error("allocator: failed to release claim after allocation failure",
					"requisite_id", req.ID, "error", releaseErr)
			}
			return nil, fmt.Errorf("allocator: mark allocated %s: %w", deal.ID, err)
		}

		metrics.DealsTotal.WithLabelValues(string(model.DealInProgress)).Inc()
		slog.Info("allocator: deal routed",
			"deal_id", deal.ID,
			"requisite_id", req.ID,
			"trader_id", req.TraderID,
			"rate", rate.String(),
			"frozen", deal.FrozenAmount.String(),
		)
		return &req, nil
	}

	metrics.AllocationNoCapacity.Inc()
	return nil, ErrNoCapacity
}

// eligible applies the static and dynamic filters: flags, method, per-deal
// bounds, remaining limits, device liveness, and the trader balance floor
// against this deal's freeze total.
func (a *Allocator) eligible(ctx context.Context, deal *model.Deal, rate decimal.Decimal) ([]*Candidate, error) {
	scanned, err := a.requisites.FindCandidates(ctx, CandidateQuery{
		MethodType: deal.MethodType,
		Currency:   deal.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("allocator: scan candidates: %w", err)
	}

	now := a.now()
	filtered := make([]*Candidate, 0, len(scanned))
	traderIDs := make([]string, 0, len(scanned))
	for _, c := range scanned {
		r := c.Requisite
		if !r.IsActive || r.IsArchived || r.MethodType != deal.MethodType {
			continue
		}
		if c.Trader.IsBanned || !c.Trader.TrafficEnabled {
			continue
		}
		if !r.FitsAmount(deal.AmountFiat) {
			continue
		}
		if c.Device != nil && !c.Device.Alive(now, a.cfg.DeviceLiveness) {
			continue
		}
		filtered = append(filtered, c)
		traderIDs = append(traderIDs, r.TraderID)
	}
	if len(filtered) == 0 {
		return nil, nil
	}

	balances, err := a.balances.GetBatch(ctx, traderIDs)
	if err != nil {
		return nil, fmt.Errorf("allocator: load balances: %w", err)
	}

	result := make([]*Candidate, 0, len(filtered))
	for _, c := range filtered {
		bal, ok := balances[c.Requisite.TraderID]
		if !ok {
			continue
		}
		_, _, total := Quote(deal.AmountFiat, rate, c.Trader.RewardPercent)
		if bal.Spendable().LessThan(total) || bal.Spendable().LessThan(a.cfg.MinTraderBalance) {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}
