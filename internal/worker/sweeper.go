package worker

import (
	"context"
	"log/slog"
	"time"

	"settlex/internal/engine"
)

// Sweeper drives the time-based transitions: expiring overdue deals and
// auto-accepting disputes past their deadline.
type Sweeper struct {
	deals    *engine.DealEngine
	disputes *engine.DisputeEngine
	interval time.Duration
}

func NewSweeper(deals *engine.DealEngine, disputes *engine.DisputeEngine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{deals: deals, disputes: disputes, interval: interval}
}

// Start runs sweep passes on a fixed ticker until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Sweeper is running", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sweeper shutting down")
			return nil
		case now := <-ticker.C:
			s.sweep(ctx, now)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, now time.Time) {
	expired, err := s.deals.ExpireDue(ctx, now)
	if err != nil {
		slog.Error("sweeper: deal expiry pass failed", "error", err)
	} else if expired > 0 {
		slog.Info("sweeper: expired overdue deals", "count", expired)
	}

	accepted, err := s.disputes.SweepExpired(ctx)
	if err != nil {
		slog.Error("sweeper: dispute sweep failed", "error", err)
	} else if len(accepted) > 0 {
		slog.Info("sweeper: auto-accepted overdue disputes", "count", len(accepted))
	}

	settled, err := s.deals.ReconcileSettlements(ctx, now)
	if err != nil {
		slog.Error("sweeper: settlement reconcile failed", "error", err)
	} else if settled > 0 {
		slog.Info("sweeper: reconciled missed settlements", "count", settled)
	}
}

func (s *Sweeper) Stop(ctx context.Context) error {
	return nil
}
