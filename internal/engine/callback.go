package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"settlex/internal/metrics"
	"settlex/internal/model"
)

// CallbackRecord is the audit trail of one delivery attempt.
type CallbackRecord struct {
	URL        string
	StatusCode int
	Body       string
	Error      string
	At         time.Time
}

// CallbackStore persists delivery outcomes for audit.
type CallbackStore interface {
	Record(ctx context.Context, dealID string, rec CallbackRecord) error
}

// callbackPayload is the merchant-facing body: the merchant's own order id,
// the fiat amount and the new status.
type callbackPayload struct {
	ID     string           `json:"id"`
	Amount json.Number      `json:"amount"`
	Status model.DealStatus `json:"status"`
}

// CallbackDispatcher POSTs deal updates to the merchant's callback URL.
// Failures are recorded and logged, never retried: the deal's state does not
// depend on the merchant hearing about it.
type CallbackDispatcher struct {
	client *http.Client
	store  CallbackStore
	now    func() time.Time
}

func NewCallbackDispatcher(client *http.Client, store CallbackStore) *CallbackDispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CallbackDispatcher{client: client, store: store, now: time.Now}
}

// Deliver sends the deal's current status to its callback URL. A deal without
// a callback URL is a no-op.
func (d *CallbackDispatcher) Deliver(ctx context.Context, deal *model.Deal) {
	if deal.CallbackURL == "" {
		return
	}

	rec := CallbackRecord{URL: deal.CallbackURL, At: d.now()}
	payload, _ := json.Marshal(callbackPayload{
		ID:     deal.MerchantOrderID,
		Amount: json.Number(deal.AmountFiat.String()),
		Status: deal.Status,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, deal.CallbackURL, bytes.NewReader(payload))
	if err != nil {
		rec.Error = err.Error()
		d.finish(ctx, deal.ID, rec, "error")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		rec.Error = err.Error()
		d.finish(ctx, deal.ID, rec, "error")
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	rec.StatusCode = resp.StatusCode
	rec.Body = string(body)

	outcome := "ok"
	if resp.StatusCode >= 300 {
		outcome = "rejected"
	}
	d.finish(ctx, deal.ID, rec, outcome)
}

func (d *CallbackDispatcher) finish(ctx context.Context, dealID string, rec CallbackRecord, outcome string) {
	metrics.CallbackDeliveries.WithLabelValues(outcome).Inc()
	if outcome != "ok" {
		slog.Warn("callback: delivery failed",
			"deal_id", dealID,
			"url", rec.URL,
			"code", rec.StatusCode,
			"error", rec.Error,
		)
	}
	if d.store == nil {
		return
	}
	if err := d.store.Record(ctx, dealID, rec); err != nil {
		slog.Error("callback: failed to record delivery", "deal_id", dealID, "error", err)
	}
}
