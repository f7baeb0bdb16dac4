package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"settlex/internal/model"
	"settlex/internal/service"
)

// Handler consumes inbound device notifications from NATS and feeds them to
// the matcher. QueueSubscribe keeps each message on exactly one instance when
// the service is scaled out.
type Handler struct {
	svc  service.NotificationService
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewHandler(svc service.NotificationService, nc *nats.Conn) *Handler {
	return &Handler{svc: svc, nc: nc}
}

// Start subscribes to notification subjects and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.nc.QueueSubscribe("notifications.received", "settlex_matcher", func(m *nats.Msg) {
		var in model.InboundNotification
		if err := json.Unmarshal(m.Data, &in); err != nil {
			slog.Error("nats: failed to unmarshal notification", "error", err)
			return
		}
		res, err := h.svc.ProcessNotification(ctx, in)
		if err != nil {
			slog.Error("nats: notification processing failed", "device_id", in.DeviceID, "error", err)
			return
		}
		slog.Info("nats: notification processed", "device_id", in.DeviceID, "outcome", res.Outcome)
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, sub)

	slog.Info("NATS notification handler is running")

	<-ctx.Done()
	slog.Info("NATS notification handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
