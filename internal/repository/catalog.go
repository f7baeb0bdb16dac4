package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"settlex/internal/engine"
	"settlex/internal/model"
)

// CatalogRepo serves the slow-changing configuration entities: payment
// methods, merchants and device liveness.
type CatalogRepo struct {
	db *pgxpool.Pool
}

func NewCatalogRepo(db *pgxpool.Pool) *CatalogRepo {
	return &CatalogRepo{db: db}
}

// MethodStore facet.

type MethodRepo struct{ *CatalogRepo }

func (r *CatalogRepo) Methods() *MethodRepo { return &MethodRepo{r} }

func (r *MethodRepo) Get(ctx context.Context, code string) (*model.PaymentMethod, error) {
	var m model.PaymentMethod
	err := r.db.QueryRow(ctx, `
		SELECT code, correction, payin_percent, payout_percent
		FROM payment_methods WHERE code = $1`, code,
	).Scan(&m.Code, &m.Correction, &m.PayinPercent, &m.PayoutPercent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, engine.ErrNotFound
		}
		return nil, fmt.Errorf("catalog: get method: %w", err)
	}
	return &m, nil
}

// MerchantStore facet.

type MerchantRepo struct{ *CatalogRepo }

func (r *CatalogRepo) Merchants() *MerchantRepo { return &MerchantRepo{r} }

func (r *MerchantRepo) Get(ctx context.Context, id string) (*model.Merchant, error) {
	var m model.Merchant
	err := r.db.QueryRow(ctx, `
		SELECT id, name, callback_url, rate_equivalent
		FROM merchants WHERE id = $1`, id,
	).Scan(&m.ID, &m.Name, &m.CallbackURL, &m.RateEquivalent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, engine.ErrNotFound
		}
		return nil, fmt.Errorf("catalog: get merchant: %w", err)
	}
	return &m, nil
}

// DeviceStore facet.

type DeviceRepo struct{ *CatalogRepo }

func (r *CatalogRepo) Devices() *DeviceRepo { return &DeviceRepo{r} }

// Heartbeat marks the device online and bumps last-activity; every inbound
// notification lands here.
func (r *DeviceRepo) Heartbeat(ctx context.Context, deviceID string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE devices SET is_online = TRUE, last_seen_at = $2 WHERE id = $1`,
		deviceID, at,
	)
	if err != nil {
		return fmt.Errorf("catalog: heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrNotFound
	}
	return nil
}

// CallbackStore facet: audit log of merchant callback deliveries.

type CallbackLogRepo struct{ *CatalogRepo }

func (r *CatalogRepo) Callbacks() *CallbackLogRepo { return &CallbackLogRepo{r} }

func (r *CallbackLogRepo) Record(ctx context.Context, dealID string, rec engine.CallbackRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO callback_log (deal_id, url, status_code, body, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		dealID, rec.URL, rec.StatusCode, rec.Body, rec.Error, rec.At,
	)
	if err != nil {
		return fmt.Errorf("catalog: record callback: %w", err)
	}
	return nil
}
