package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"settlex/internal/engine"
	"settlex/internal/model"
)

const dealColumns = `id, seq_id, merchant_id, merchant_order_id, amount_fiat, currency, method_type,
	requisite_id, trader_id, rate, commission_pct, commission, frozen_amount,
	status, callback_url, created_at, accepted_at, expires_at`

type DealRepo struct {
	db *pgxpool.Pool
}

func NewDealRepo(db *pgxpool.Pool) *DealRepo {
	return &DealRepo{db: db}
}

func (r *DealRepo) Create(ctx context.Context, d *model.Deal) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO deals (id, merchant_id, merchant_order_id, amount_fiat, currency, method_type,
			rate, commission_pct, commission, frozen_amount, status, callback_url, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING seq_id`,
		d.ID, d.MerchantID, d.MerchantOrderID, d.AmountFiat, d.Currency, d.MethodType,
		d.Rate, d.CommissionPct, d.Commission, d.FrozenAmount, d.Status, d.CallbackURL,
		d.CreatedAt, d.ExpiresAt,
	).Scan(&d.SeqID)
	if err != nil {
		return fmt.Errorf("deals: insert: %w", err)
	}
	return nil
}

func (r *DealRepo) Get(ctx context.Context, id string) (*model.Deal, error) {
	row := r.db.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id)
	return scanDeal(row)
}

// MarkAllocated records the routing decision and money snapshot, conditional
// on the deal still being unrouted.
func (r *DealRepo) MarkAllocated(ctx context.Context, d *model.Deal) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE deals
		SET requisite_id = $2, trader_id = $3, rate = $4, commission_pct = $5,
			commission = $6, frozen_amount = $7, status = $8
		WHERE id = $1 AND status = $9`,
		d.ID, d.RequisiteID, d.TraderID, d.Rate, d.CommissionPct,
		d.Commission, d.FrozenAmount, model.DealInProgress, model.DealCreated,
	)
	if err != nil {
		return fmt.Errorf("deals: mark allocated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrConflict
	}
	return nil
}

// Transition is the conditional status update every lifecycle path goes
// through: it succeeds only while the current status is one of from, which is
// what keeps concurrent sweeps, matches and manual actions exclusive.
func (r *DealRepo) Transition(ctx context.Context, id string, from []model.DealStatus, to model.DealStatus, at time.Time) (*model.Deal, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	row := r.db.QueryRow(ctx, `
		UPDATE deals
		SET status = $2,
			accepted_at = CASE WHEN $2 = 'READY' THEN $3 ELSE accepted_at END
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+dealColumns,
		id, to, at, statuses,
	)
	deal, err := scanDeal(row)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return nil, r.missingOrConflict(ctx, id)
		}
		return nil, err
	}
	return deal, nil
}

// CompleteWithNotification moves an open deal to READY and marks the
// notification processed with a back-reference in one transaction, so a match
// either fully commits or leaves both records untouched.
func (r *DealRepo) CompleteWithNotification(ctx context.Context, dealID, notificationID string, at time.Time) (*model.Deal, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("deals: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE deals
		SET status = $2, accepted_at = $3
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+dealColumns,
		dealID, model.DealReady, at, []string{string(model.DealInProgress)},
	)
	deal, err := scanDeal(row)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return nil, r.missingOrConflict(ctx, dealID)
		}
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE notifications
		SET is_processed = TRUE, deal_id = $2
		WHERE id = $1 AND is_processed = FALSE`,
		notificationID, dealID,
	)
	if err != nil {
		return nil, fmt.Errorf("deals: link notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, engine.ErrConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("deals: commit match: %w", err)
	}
	return deal, nil
}

func (r *DealRepo) FindOpenByDeviceAmount(ctx context.Context, deviceID string, amount decimal.Decimal, now time.Time) ([]*model.Deal, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+prefixed("d", dealColumns)+`
		FROM deals d
		JOIN requisites r ON r.id = d.requisite_id
		WHERE r.device_id = $1
		  AND d.amount_fiat = $2
		  AND d.status = ANY($3)
		  AND d.expires_at > $4
		ORDER BY d.created_at`,
		deviceID, amount, []string{string(model.DealCreated), string(model.DealInProgress)}, now,
	)
	if err != nil {
		return nil, fmt.Errorf("deals: find by device+amount: %w", err)
	}
	defer rows.Close()
	return scanDeals(rows)
}

func (r *DealRepo) FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Deal, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+dealColumns+`
		FROM deals
		WHERE status = ANY($1) AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3`,
		[]string{string(model.DealCreated), string(model.DealInProgress)}, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("deals: find expired: %w", err)
	}
	defer rows.Close()
	return scanDeals(rows)
}

func (r *DealRepo) FindUnsettled(ctx context.Context, since time.Time, limit int) ([]*model.Deal, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+dealColumns+`
		FROM deals
		WHERE status = $1 AND accepted_at >= $2
		ORDER BY accepted_at
		LIMIT $3`,
		model.DealReady, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("deals: find unsettled: %w", err)
	}
	defer rows.Close()
	return scanDeals(rows)
}

// missingOrConflict tells a vanished deal apart from one in the wrong status.
func (r *DealRepo) missingOrConflict(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return engine.ErrConflict
}

// prefixed qualifies a column list with a table alias for joined queries.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanDeal(row pgx.Row) (*model.Deal, error) {
	var d model.Deal
	err := row.Scan(
		&d.ID, &d.SeqID, &d.MerchantID, &d.MerchantOrderID, &d.AmountFiat, &d.Currency, &d.MethodType,
		&d.RequisiteID, &d.TraderID, &d.Rate, &d.CommissionPct, &d.Commission, &d.FrozenAmount,
		&d.Status, &d.CallbackURL, &d.CreatedAt, &d.AcceptedAt, &d.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, engine.ErrNotFound
		}
		return nil, fmt.Errorf("deals: scan: %w", err)
	}
	return &d, nil
}

func scanDeals(rows pgx.Rows) ([]*model.Deal, error) {
	var deals []*model.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}
