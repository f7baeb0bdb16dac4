package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"settlex/internal/engine"
	"settlex/internal/model"
)

// NotificationRepo is the append-only audit trail of inbound bank messages.
// Match linkage is written by DealRepo.CompleteWithNotification inside the
// match transaction; nothing here ever deletes a record.
type NotificationRepo struct {
	db *pgxpool.Pool
}

func NewNotificationRepo(db *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func (r *NotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notifications (id, device_id, text, sender, amount, is_processed, received_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
		n.ID, n.DeviceID, n.Text, n.Sender, n.Amount, n.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("notifications: insert: %w", err)
	}
	return nil
}

func (r *NotificationRepo) Get(ctx context.Context, id string) (*model.Notification, error) {
	var n model.Notification
	err := r.db.QueryRow(ctx, `
		SELECT id, device_id, text, sender, amount, is_processed, deal_id, received_at
		FROM notifications WHERE id = $1`, id,
	).Scan(&n.ID, &n.DeviceID, &n.Text, &n.Sender, &n.Amount, &n.IsProcessed, &n.DealID, &n.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, engine.ErrNotFound
		}
		return nil, fmt.Errorf("notifications: get: %w", err)
	}
	return &n, nil
}
