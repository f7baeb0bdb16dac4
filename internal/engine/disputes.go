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

// ShiftConfig defines the SLA schedule. The shift is evaluated at the
// dispute's opening time, so deadlines never move afterwards.
type ShiftConfig struct {
	DayStartHour int
	DayEndHour   int
	DaySLA       time.Duration
	NightSLA     time.Duration
}

// DefaultShift is the production schedule: 09:00-21:00 day shift with a
// 30 minute SLA, 60 minutes at night.
func DefaultShift() ShiftConfig {
	return ShiftConfig{DayStartHour: 9, DayEndHour: 21, DaySLA: 30 * time.Minute, NightSLA: 60 * time.Minute}
}

// DisputeEngine opens disputes, resolves them, and sweeps the ones whose SLA
// expired without a trader response.
type DisputeEngine struct {
	disputes DisputeStore
	deals    DealStore
	engine   *DealEngine
	bus      Bus
	shift    ShiftConfig
	now      func() time.Time
}

func NewDisputeEngine(disputes DisputeStore, deals DealStore, engine *DealEngine, bus Bus, shift ShiftConfig) *DisputeEngine {
	if shift.DaySLA <= 0 {
		shift = DefaultShift()
	}
	return &DisputeEngine{
		disputes: disputes,
		deals:    deals,
		engine:   engine,
		bus:      bus,
		shift:    shift,
		now:      time.Now,
	}
}

// ComputeDeadline returns the SLA deadline for a dispute opened at openedAt.
func (e *DisputeEngine) ComputeDeadline(openedAt time.Time) time.Time {
	h := openedAt.Hour()
	if h >= e.shift.DayStartHour && h < e.shift.DayEndHour {
		return openedAt.Add(e.shift.DaySLA)
	}
	return openedAt.Add(e.shift.NightSLA)
}

// OpenDispute opens a dispute against a deal or payout. A deal subject must
// currently be READY or IN_PROGRESS and is moved to DISPUTE. At most one open
// dispute per subject is allowed (ErrDisputeOpen otherwise).
func (e *DisputeEngine) OpenDispute(ctx context.Context, req model.OpenDisputeRequest) (*model.Dispute, error) {
	now := e.now()

	if req.SubjectType == model.SubjectDeal {
		if _, err := e.deals.Transition(ctx, req.SubjectID,
			[]model.DealStatus{model.DealReady, model.DealInProgress}, model.DealDispute, now); err != nil {
			if errors.Is(err, ErrConflict) {
				return nil, fmt.Errorf("%w: deal %s cannot be disputed", ErrInvalidState, req.SubjectID)
			}
			return nil, err
		}
		metrics.DealsTotal.WithLabelValues(string(model.DealDispute)).Inc()
	}

	d := &model.Dispute{
		ID:          uuid.New().String(),
		SubjectType: req.SubjectType,
		SubjectID:   req.SubjectID,
		Reason:      req.Reason,
		ProofURL:    req.ProofURL,
		Status:      model.DisputeOpened,
		OpenedAt:    now,
		DeadlineAt:  e.ComputeDeadline(now),
	}
	if err := e.disputes.Create(ctx, d); err != nil {
		return nil, err
	}

	slog.Info("disputes: dispute opened",
		"dispute_id", d.ID,
		"subject", string(d.SubjectType)+"/"+d.SubjectID,
		"deadline_at", d.DeadlineAt,
	)
	return d, nil
}

// Resolve closes a dispute with the given outcome. Acceptance (merchant's
// favor) completes a deal subject; rejection cancels it. Resolving an already
// closed dispute returns ErrInvalidState.
func (e *DisputeEngine) Resolve(ctx context.Context, id string, outcome model.DisputeOutcome, actor string) (*model.Dispute, error) {
	d, err := e.disputes.Resolve(ctx, id, outcome, actor, e.now())
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: dispute %s is already closed", ErrInvalidState, id)
		}
		return nil, err
	}

	if d.SubjectType == model.SubjectDeal {
		if err := e.applyDealOutcome(ctx, d, outcome); err != nil {
			return nil, err
		}
	}

	slog.Info("disputes: dispute resolved", "dispute_id", id, "outcome", string(outcome), "actor", actor)
	return d, nil
}

func (e *DisputeEngine) applyDealOutcome(ctx context.Context, d *model.Dispute, outcome model.DisputeOutcome) error {
	deal, err := e.deals.Get(ctx, d.SubjectID)
	if err != nil {
		return err
	}
	if outcome == model.DisputeAccepted {
		_, err = e.engine.complete(ctx, deal, "")
	} else {
		_, err = e.engine.CancelDeal(ctx, deal.ID)
	}
	// The deal may already sit in the target state when a dispute was opened
	// against a READY deal and rejected resolution races a manual action;
	// idempotent balance ops make this safe to ignore.
	if err != nil && !errors.Is(err, ErrInvalidState) {
		return err
	}
	return nil
}

// SweepExpired auto-accepts open disputes past their deadline: trader silence
// counts as non-response, so the merchant wins by default. Idempotent and
// safe to run concurrently; disputes closed by a human between scan and sweep
// are skipped.
func (e *DisputeEngine) SweepExpired(ctx context.Context) ([]*model.Dispute, error) {
	expired, err := e.disputes.FindExpired(ctx, e.now())
	if err != nil {
		return nil, fmt.Errorf("disputes: find expired: %w", err)
	}

	resolved := make([]*model.Dispute, 0, len(expired))
	for _, d := range expired {
		closed, err := e.Resolve(ctx, d.ID, model.DisputeAccepted, "sla-sweep")
		if err != nil {
			if errors.Is(err, ErrInvalidState) {
				continue
			}
			return resolved, err
		}
		metrics.DisputesAutoAccepted.Inc()
		e.publishAutoClose(closed)
		resolved = append(resolved, closed)
	}
	return resolved, nil
}

func (e *DisputeEngine) publishAutoClose(d *model.Dispute) {
	if e.bus == nil {
		return
	}
	data, _ := json.Marshal(DisputeEvent{
		DisputeID:   d.ID,
		SubjectType: string(d.SubjectType),
		SubjectID:   d.SubjectID,
		Outcome:     string(d.Outcome),
		At:          e.now(),
	})
	if err := e.bus.Publish(TopicDisputeAutoClosed, data); err != nil {
		slog.Error("disputes: publish event failed", "dispute_id", d.ID, "error", err)
	}
}
