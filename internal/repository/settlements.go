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

const settlementColumns = `id, merchant_id, amount, status, processed_by, cancel_reason, created_at, processed_at`

type SettlementRepo struct {
	db *pgxpool.Pool
}

func NewSettlementRepo(db *pgxpool.Pool) *SettlementRepo {
	return &SettlementRepo{db: db}
}

// MerchantTotals gathers the raw material of ComputePending: every READY
// deal and COMPLETED payout with its own stored rate and method, plus the sum
// of non-canceled settlement requests.
func (r *SettlementRepo) MerchantTotals(ctx context.Context, merchantID string) (*engine.MerchantTotals, error) {
	totals := &engine.MerchantTotals{}

	rows, err := r.db.Query(ctx, `
		SELECT amount_fiat, rate, method_type
		FROM deals
		WHERE merchant_id = $1 AND status = $2`,
		merchantID, model.DealReady,
	)
	if err != nil {
		return nil, fmt.Errorf("settlements: deal totals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t engine.DealTotal
		if err := rows.Scan(&t.Amount, &t.Rate, &t.Method); err != nil {
			return nil, fmt.Errorf("settlements: scan deal total: %w", err)
		}
		totals.Deals = append(totals.Deals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(ctx, `
		SELECT amount_fiat, rate, method_type
		FROM payouts
		WHERE merchant_id = $1 AND status = $2`,
		merchantID, model.PayoutCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("settlements: payout totals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t engine.PayoutTotal
		if err := rows.Scan(&t.Amount, &t.Rate, &t.Method); err != nil {
			return nil, fmt.Errorf("settlements: scan payout total: %w", err)
		}
		totals.Payouts = append(totals.Payouts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM settlement_requests
		WHERE merchant_id = $1 AND status != $2`,
		merchantID, model.SettlementCanceled,
	).Scan(&totals.Settled)
	if err != nil {
		return nil, fmt.Errorf("settlements: settled sum: %w", err)
	}
	return totals, nil
}

func (r *SettlementRepo) Create(ctx context.Context, req *model.SettlementRequest) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO settlement_requests (id, merchant_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		req.ID, req.MerchantID, req.Amount, req.Status, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("settlements: insert: %w", err)
	}
	return nil
}

func (r *SettlementRepo) Get(ctx context.Context, id string) (*model.SettlementRequest, error) {
	return scanSettlement(r.db.QueryRow(ctx,
		`SELECT `+settlementColumns+` FROM settlement_requests WHERE id = $1`, id))
}

// Finalize completes or cancels a request, conditional on it being PENDING.
func (r *SettlementRepo) Finalize(ctx context.Context, id string, status model.SettlementStatus, by, reason string, at time.Time) (*model.SettlementRequest, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE settlement_requests
		SET status = $2, processed_by = $3, cancel_reason = $4, processed_at = $5
		WHERE id = $1 AND status = $6
		RETURNING `+settlementColumns,
		id, status, by, reason, at, model.SettlementPending,
	)
	req, err := scanSettlement(row)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			if _, getErr := r.Get(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, engine.ErrConflict
		}
		return nil, err
	}
	return req, nil
}

func scanSettlement(row pgx.Row) (*model.SettlementRequest, error) {
	var s model.SettlementRequest
	err := row.Scan(&s.ID, &s.MerchantID, &s.Amount, &s.Status,
		&s.ProcessedBy, &s.CancelReason, &s.CreatedAt, &s.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, engine.ErrNotFound
		}
		return nil, fmt.Errorf("settlements: scan: %w", err)
	}
	return &s, nil
}
