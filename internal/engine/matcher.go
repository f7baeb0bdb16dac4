package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"settlex/internal/metrics"
	"settlex/internal/model"
)

// Matcher resolves inbound bank notifications against open deals. A
// notification settles a deal only when the device and the extracted amount
// identify exactly one candidate; anything else is left for manual
// resolution, never guessed.
type Matcher struct {
	notifications NotificationStore
	devices       DeviceStore
	deals         DealStore
	engine        *DealEngine
	extractors    []AmountExtractor
	now           func() time.Time
}

func NewMatcher(notifications NotificationStore, devices DeviceStore, deals DealStore, engine *DealEngine, extractors []AmountExtractor) *Matcher {
	if len(extractors) == 0 {
		extractors = DefaultExtractors()
	}
	return &Matcher{
		notifications: notifications,
		devices:       devices,
		deals:         deals,
		engine:        engine,
		extractors:    extractors,
		now:           time.Now,
	}
}

// ProcessNotification records the notification, extracts an amount, and
// settles the single matching deal if there is exactly one. The notification
// record is kept in every outcome; only a successful match marks it
// processed (inside the same transaction that completes the deal).
func (m *Matcher) ProcessNotification(ctx context.Context, in model.InboundNotification) (*model.MatchResult, error) {
	now := m.now()
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}

	if err := m.devices.Heartbeat(ctx, in.DeviceID, now); err != nil {
		slog.Warn("matcher: device heartbeat failed", "device_id", in.DeviceID, "error", err)
	}

	n := &model.Notification{
		ID:         uuid.New().String(),
		DeviceID:   in.DeviceID,
		Text:       in.Text,
		Sender:     in.Sender,
		ReceivedAt: receivedAt,
	}

	amount, bank, ok := ExtractAmount(m.extractors, in.Text)
	if ok {
		n.Amount = amount
	}
	if err := m.notifications.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("matcher: store notification: %w", err)
	}

	result := &model.MatchResult{NotificationID: n.ID}
	if !ok {
		result.Outcome = model.MatchNoAmount
		metrics.MatchResults.WithLabelValues(string(result.Outcome)).Inc()
		slog.Info("matcher: no confident amount", "notification_id", n.ID, "device_id", in.DeviceID)
		return result, nil
	}

	candidates, err := m.deals.FindOpenByDeviceAmount(ctx, in.DeviceID, amount, now)
	if err != nil {
		return nil, fmt.Errorf("matcher: find candidates: %w", err)
	}

	switch len(candidates) {
	case 1:
		deal, err := m.engine.complete(ctx, candidates[0], n.ID)
		if err != nil {
			if errors.Is(err, ErrInvalidState) {
				// Lost to a concurrent match or sweep; the notification stays
				// unprocessed for manual follow-up.
				result.Outcome = model.MatchNoDeal
				metrics.MatchResults.WithLabelValues(string(result.Outcome)).Inc()
				return result, nil
			}
			return nil, err
		}
		result.Outcome = model.MatchMatched
		result.DealID = deal.ID
		slog.Info("matcher: deal matched",
			"notification_id", n.ID,
			"deal_id", deal.ID,
			"bank", bank,
			"amount", amount.String(),
		)
	case 0:
		result.Outcome = model.MatchNoDeal
		slog.Info("matcher: no open deal for amount",
			"notification_id", n.ID, "device_id", in.DeviceID, "amount", amount.String())
	default:
		// Several open deals with the same amount on one device: matching by
		// amount alone would risk misattributing funds.
		result.Outcome = model.MatchAmbiguous
		slog.Warn("matcher: ambiguous match left for manual resolution",
			"notification_id", n.ID, "device_id", in.DeviceID,
			"amount", amount.String(), "candidates", len(candidates))
	}

	metrics.MatchResults.WithLabelValues(string(result.Outcome)).Inc()
	return result, nil
}
