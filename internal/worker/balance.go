package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"settlex/internal/repository"
)

// BalanceWorker listens on the balance.changed NATS subject and syncs each
// Redis balance mutation into the Postgres balances mirror. The mirror is
// what warm-up reads after a Redis flush.
type BalanceWorker struct {
	db       *pgxpool.Pool
	natsConn *nats.Conn
}

func NewBalanceWorker(db *pgxpool.Pool, nc *nats.Conn) *BalanceWorker {
	return &BalanceWorker{db: db, natsConn: nc}
}

// Start subscribes and blocks until ctx is cancelled.
func (w *BalanceWorker) Start(ctx context.Context) error {
	// QueueSubscribe: with several instances running, each event is mirrored
	// exactly once.
	sub, err := w.natsConn.QueueSubscribe(repository.TopicBalanceChanged, "settlex_balance_mirror", func(m *nats.Msg) {
		var event repository.BalanceEvent
		if err := json.Unmarshal(m.Data, &event); err != nil {
			slog.Error("worker: failed to unmarshal balance event", "error", err)
			return
		}

		_, err := w.db.Exec(ctx, `
			INSERT INTO balances (trader_id, available, frozen, trust, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (trader_id) DO UPDATE
			SET available = EXCLUDED.available,
			    frozen = EXCLUDED.frozen,
			    trust = EXCLUDED.trust,
			    updated_at = EXCLUDED.updated_at
			WHERE balances.updated_at <= EXCLUDED.updated_at`,
			event.TraderID, event.Available, event.Frozen, event.Trust, event.At,
		)
		if err != nil {
			slog.Error("worker: failed to sync balance mirror",
				"trader_id", event.TraderID,
				"deal_id", event.DealID,
				"error", err,
			)
			return
		}

		slog.Info("worker: balance mirrored",
			"trader_id", event.TraderID,
			"op", event.Op,
		)
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to NATS: %w", err)
	}

	slog.Info("Balance mirror worker is running")

	<-ctx.Done()

	slog.Info("Balance worker received shutdown signal, draining subscription...")
	return sub.Drain()
}

func (w *BalanceWorker) Stop(ctx context.Context) error {
	return nil
}
