package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"settlex/internal/metrics"
	"settlex/internal/model"
)

// DealEngine owns the deal lifecycle: creation with allocation and freeze,
// administrative confirmation and cancellation, expiry sweeping, and the
// shared completion path used by the notification matcher and dispute
// resolution.
type DealEngine struct {
	deals      DealStore
	requisites RequisiteStore
	balances   BalanceStore
	allocator  *Allocator
	callbacks  *CallbackDispatcher
	bus        Bus
	dealTTL    time.Duration
	now        func() time.Time
}

func NewDealEngine(deals DealStore, requisites RequisiteStore, balances BalanceStore, allocator *Allocator, callbacks *CallbackDispatcher, bus Bus, dealTTL time.Duration) *DealEngine {
	if dealTTL <= 0 {
		dealTTL = 15 * time.Minute
	}
	return &DealEngine{
		deals:      deals,
		requisites: requisites,
		balances:   balances,
		allocator:  allocator,
		callbacks:  callbacks,
		bus:        bus,
		dealTTL:    dealTTL,
		now:        time.Now,
	}
}

// CreateDeal registers an inbound deal and tries to route it. A deal for
// which no requisite qualifies is returned in CREATED status with no error:
// the caller decides whether to retry or expire it.
func (e *DealEngine) CreateDeal(ctx context.Context, req model.CreateDealRequest) (*model.Deal, error) {
	if !req.AmountFiat.IsPositive() {
		return nil, fmt.Errorf("create deal: amount must be positive")
	}

	now := e.now()
	deal := &model.Deal{
		ID:              uuid.New().String(),
		MerchantID:      req.MerchantID,
		MerchantOrderID: req.MerchantOrderID,
		AmountFiat:      req.AmountFiat,
		Currency:        req.Currency,
		MethodType:      req.MethodType,
		Status:          model.DealCreated,
		CallbackURL:     req.CallbackURL,
		CreatedAt:       now,
		ExpiresAt:       now.Add(e.dealTTL),
	}
	if err := e.deals.Create(ctx, deal); err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}
	metrics.DealsTotal.WithLabelValues(string(model.DealCreated)).Inc()
	e.publish(TopicDealCreated, deal)

	if _, err := e.allocator.Allocate(ctx, deal); err != nil {
		if errors.Is(err, ErrNoCapacity) {
			slog.Info("deals: no capacity for deal", "deal_id", deal.ID, "amount", deal.AmountFiat.String())
			return deal, nil
		}
		return nil, err
	}

	go e.callbacks.Deliver(context.WithoutCancel(ctx), deal)
	return deal, nil
}

// ConfirmDeal is the administrative fallback for completing a deal whose bank
// notification never arrived or stayed ambiguous.
func (e *DealEngine) ConfirmDeal(ctx context.Context, id, actor string) (*model.Deal, error) {
	deal, err := e.deals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	completed, err := e.complete(ctx, deal, "")
	if err != nil {
		return nil, err
	}
	slog.Info("deals: deal confirmed manually", "deal_id", id, "actor", actor)
	return completed, nil
}

// CancelDeal manually cancels an open or disputed deal and restores the
// frozen balance.
func (e *DealEngine) CancelDeal(ctx context.Context, id string) (*model.Deal, error) {
	return e.close(ctx, id,
		[]model.DealStatus{model.DealCreated, model.DealInProgress, model.DealDispute}, model.DealCanceled)
}

// MarkMilk moves an open deal to the MILK terminal state: a failure owed to
// the merchant side or an undetermined cause, kept for metrics. Disputed
// deals resolve through the dispute outcome, never to MILK.
func (e *DealEngine) MarkMilk(ctx context.Context, id string) (*model.Deal, error) {
	return e.close(ctx, id,
		[]model.DealStatus{model.DealCreated, model.DealInProgress}, model.DealMilk)
}

// close is the shared failure path: conditional transition, balance restore,
// requisite capacity release.
func (e *DealEngine) close(ctx context.Context, id string, from []model.DealStatus, to model.DealStatus) (*model.Deal, error) {
	deal, err := e.deals.Transition(ctx, id, from, to, e.now())
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: deal %s cannot move to %s", ErrInvalidState, id, to)
		}
		return nil, err
	}
	e.releaseFailed(ctx, deal)
	metrics.DealsTotal.WithLabelValues(string(to)).Inc()
	go e.callbacks.Deliver(context.WithoutCancel(ctx), deal)
	return deal, nil
}

// ExpireDue transitions overdue open deals to EXPIRED and releases their
// frozen balance. Safe to run concurrently: the transition is conditional and
// the unfreeze is idempotent per deal.
func (e *DealEngine) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := e.deals.FindExpired(ctx, now, 100)
	if err != nil {
		return 0, fmt.Errorf("expire deals: %w", err)
	}

	expired := 0
	for _, d := range due {
		deal, err := e.deals.Transition(ctx, d.ID,
			[]model.DealStatus{model.DealCreated, model.DealInProgress}, model.DealExpired, now)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				continue // resolved by someone else between scan and sweep
			}
			return expired, err
		}
		e.releaseFailed(ctx, deal)
		metrics.DealsTotal.WithLabelValues(string(model.DealExpired)).Inc()
		e.publish(TopicDealExpired, deal)
		go e.callbacks.Deliver(context.WithoutCancel(ctx), deal)
		expired++
	}
	return expired, nil
}

// settleReconcileWindow bounds how far back the settlement sweep rescans
// READY deals. Settle is idempotent per deal, so rescanning already-settled
// deals is a no-op.
const settleReconcileWindow = 24 * time.Hour

// ReconcileSettlements retries balance settlement for recently completed
// deals. A deal whose Settle call failed after the READY transition keeps its
// freeze held until this sweep picks it up.
func (e *DealEngine) ReconcileSettlements(ctx context.Context, now time.Time) (int, error) {
	ready, err := e.deals.FindUnsettled(ctx, now.Add(-settleReconcileWindow), 100)
	if err != nil {
		return 0, fmt.Errorf("reconcile settlements: %w", err)
	}

	settled := 0
	for _, d := range ready {
		if d.TraderID == nil {
			continue
		}
		profit := TraderProfit(d.AmountFiat, d.Rate, d.CommissionPct)
		if err := e.balances.Settle(ctx, *d.TraderID, d.ID, profit); err != nil {
			slog.Error("deals: reconcile settle failed", "deal_id", d.ID, "error", err)
			continue
		}
		settled++
	}
	return settled, nil
}

// complete is the success path shared by the matcher, manual confirmation and
// dispute acceptance: conditional READY transition, frozen balance consumed,
// trader profit credited, capacity released, merchant notified.
// notificationID links the triggering bank notification when there is one.
func (e *DealEngine) complete(ctx context.Context, deal *model.Deal, notificationID string) (*model.Deal, error) {
	now := e.now()

	var completed *model.Deal
	var err error
	if notificationID != "" {
		completed, err = e.deals.CompleteWithNotification(ctx, deal.ID, notificationID, now)
	} else {
		// Only allocated deals can complete: a CREATED deal has no trader,
		// no frozen balance and nothing to settle.
		completed, err = e.deals.Transition(ctx, deal.ID,
			[]model.DealStatus{model.DealInProgress, model.DealDispute}, model.DealReady, now)
	}
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: deal %s is not open", ErrInvalidState, deal.ID)
		}
		return nil, err
	}

	if completed.TraderID != nil {
		profit := TraderProfit(completed.AmountFiat, completed.Rate, completed.CommissionPct)
		if err := e.balances.Settle(ctx, *completed.TraderID, completed.ID, profit); err != nil {
			// The deal stays READY; ReconcileSettlements retries the idempotent
			// settle on the next sweep.
			slog.Error("deals: settle balance failed", "deal_id", completed.ID, "error", err)
		}
	}
	if completed.RequisiteID != nil {
		if err := e.requisites.ReleaseOpen(ctx, *completed.RequisiteID); err != nil {
			slog.Error("deals: release open counter failed", "requisite_id", *completed.RequisiteID, "error", err)
		}
	}

	metrics.DealsTotal.WithLabelValues(string(model.DealReady)).Inc()
	e.publish(TopicDealCompleted, completed)
	go e.callbacks.Deliver(context.WithoutCancel(ctx), completed)
	return completed, nil
}

// releaseFailed restores what an open deal held: frozen balance, open-deal
// counter, and daily/monthly usage.
func (e *DealEngine) releaseFailed(ctx context.Context, deal *model.Deal) {
	if deal.TraderID != nil {
		if err := e.balances.Unfreeze(ctx, *deal.TraderID, deal.ID); err != nil {
			slog.Error("deals: unfreeze failed", "deal_id", deal.ID, "error", err)
		}
	}
	if deal.RequisiteID != nil {
		if err := e.requisites.ReleaseOpen(ctx, *deal.RequisiteID); err != nil {
			slog.Error("deals: release open counter failed", "requisite_id", *deal.RequisiteID, "error", err)
		}
		if err := e.requisites.ReleaseUsage(ctx, *deal.RequisiteID, deal.AmountFiat); err != nil {
			slog.Error("deals: release usage failed", "requisite_id", *deal.RequisiteID, "error", err)
		}
	}
}

func (e *DealEngine) publish(topic string, deal *model.Deal) {
	if e.bus == nil {
		return
	}
	traderID := ""
	if deal.TraderID != nil {
		traderID = *deal.TraderID
	}
	data, _ := json.Marshal(DealEvent{
		DealID:     deal.ID,
		MerchantID: deal.MerchantID,
		TraderID:   traderID,
		Status:     string(deal.Status),
		AmountFiat: deal.AmountFiat,
		Currency:   deal.Currency,
		At:         e.now(),
	})
	if err := e.bus.Publish(topic, data); err != nil {
		slog.Error("deals: publish event failed", "topic", topic, "deal_id", deal.ID, "error", err)
	}
}
