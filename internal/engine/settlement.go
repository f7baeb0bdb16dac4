package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"settlex/internal/model"
)

// SettlementEngine aggregates a merchant's completed deals and payouts into
// periodic settlement requests with an approve/cancel lifecycle.
type SettlementEngine struct {
	store     SettlementStore
	merchants MerchantStore
	methods   MethodStore
	now       func() time.Time
}

func NewSettlementEngine(store SettlementStore, merchants MerchantStore, methods MethodStore) *SettlementEngine {
	return &SettlementEngine{store: store, merchants: merchants, methods: methods, now: time.Now}
}

// ComputePending returns the merchant's unsettled earnings:
//
//	pending = Σ ready-deal amount − Σ deal commission
//	        − Σ completed-payout amount − Σ payout commission
//	        − Σ already-settled amounts
//
// Commissions come from each method's configured payin/payout percentage at
// aggregation time. When the merchant is configured for rate-equivalent
// accounting, every amount is first converted at its own stored rate.
func (e *SettlementEngine) ComputePending(ctx context.Context, merchantID string) (decimal.Decimal, error) {
	merchant, err := e.merchants.Get(ctx, merchantID)
	if err != nil {
		return decimal.Zero, err
	}
	totals, err := e.store.MerchantTotals(ctx, merchantID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("settlement: aggregate merchant %s: %w", merchantID, err)
	}

	methods := map[string]*model.PaymentMethod{}
	method := func(code string) (*model.PaymentMethod, error) {
		if m, ok := methods[code]; ok {
			return m, nil
		}
		m, err := e.methods.Get(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("settlement: load method %q: %w", code, err)
		}
		methods[code] = m
		return m, nil
	}

	pending := decimal.Zero
	for _, d := range totals.Deals {
		m, err := method(d.Method)
		if err != nil {
			return decimal.Zero, err
		}
		amount := e.convert(merchant, d.Amount, d.Rate)
		pending = pending.Add(amount).Sub(Commission(amount, m.PayinPercent))
	}
	for _, p := range totals.Payouts {
		m, err := method(p.Method)
		if err != nil {
			return decimal.Zero, err
		}
		amount := e.convert(merchant, p.Amount, p.Rate)
		pending = pending.Sub(amount).Sub(Commission(amount, m.PayoutPercent))
	}
	return pending.Sub(totals.Settled), nil
}

// convert applies rate-equivalent accounting when the merchant is configured
// for it: the fiat amount is converted at the deal's own stored rate, rounded
// down since it is owed out of the platform.
func (e *SettlementEngine) convert(merchant *model.Merchant, amount, rate decimal.Decimal) decimal.Decimal {
	if !merchant.RateEquivalent || rate.IsZero() {
		return amount
	}
	return amount.Div(rate).RoundFloor(2)
}

// CreateSettlement snapshots the merchant's pending balance into a new
// request. The single-pending-per-merchant rule is enforced by the owning
// collaborator; this engine only records the snapshot.
func (e *SettlementEngine) CreateSettlement(ctx context.Context, merchantID string) (*model.SettlementRequest, error) {
	pending, err := e.ComputePending(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	req := &model.SettlementRequest{
		ID:         uuid.New().String(),
		MerchantID: merchantID,
		Amount:     pending,
		Status:     model.SettlementPending,
		CreatedAt:  e.now(),
	}
	if err := e.store.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("settlement: create request: %w", err)
	}
	slog.Info("settlement: request created",
		"settlement_id", req.ID, "merchant_id", merchantID, "amount", pending.String())
	return req, nil
}

// ApproveSettlement completes a pending request, stamping the acting
// operator. ErrInvalidState when the request is not pending.
func (e *SettlementEngine) ApproveSettlement(ctx context.Context, id, actor string) (*model.SettlementRequest, error) {
	return e.finalize(ctx, id, model.SettlementCompleted, actor, "")
}

// CancelSettlement cancels a pending request with a reason.
func (e *SettlementEngine) CancelSettlement(ctx context.Context, id, actor, reason string) (*model.SettlementRequest, error) {
	return e.finalize(ctx, id, model.SettlementCanceled, actor, reason)
}

func (e *SettlementEngine) finalize(ctx context.Context, id string, status model.SettlementStatus, actor, reason string) (*model.SettlementRequest, error) {
	req, err := e.store.Finalize(ctx, id, status, actor, reason, e.now())
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: settlement %s is not pending", ErrInvalidState, id)
		}
		return nil, err
	}
	slog.Info("settlement: request finalized", "settlement_id", id, "status", string(status), "actor", actor)
	return req, nil
}
