package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"settlex/internal/engine"
	"settlex/internal/model"
)

type RequisiteRepo struct {
	db *pgxpool.Pool
}

func NewRequisiteRepo(db *pgxpool.Pool) *RequisiteRepo {
	return &RequisiteRepo{db: db}
}

// FindCandidates scans one payment corridor, joining each requisite with its
// trader flags and optional device. Static exclusions (archived, inactive,
// banned, traffic off) happen here; the amount, limit, liveness and balance
// filters are the allocator's.
func (r *RequisiteRepo) FindCandidates(ctx context.Context, q engine.CandidateQuery) ([]*engine.Candidate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT r.id, r.trader_id, r.method_type, r.card_number, r.owner, r.bank_code,
			r.min_amount, r.max_amount, r.daily_limit, r.monthly_limit,
			r.day_used, r.month_used, r.open_deals,
			r.is_active, r.is_archived, r.device_id, r.last_used_at,
			t.is_banned, t.traffic_enabled, t.reward_percent,
			d.id, d.trader_id, d.is_online, d.is_working, d.last_seen_at
		FROM requisites r
		JOIN traders t ON t.id = r.trader_id
		LEFT JOIN devices d ON d.id = r.device_id
		WHERE r.method_type = $1
		  AND r.currency = $2
		  AND r.is_active
		  AND NOT r.is_archived
		  AND NOT t.is_banned
		  AND t.traffic_enabled`,
		q.MethodType, q.Currency,
	)
	if err != nil {
		return nil, fmt.Errorf("requisites: scan candidates: %w", err)
	}
	defer rows.Close()

	var out []*engine.Candidate
	for rows.Next() {
		var c engine.Candidate
		var devID, devTrader *string
		var devOnline, devWorking *bool
		var devSeen *time.Time
		err := rows.Scan(
			&c.Requisite.ID, &c.Requisite.TraderID, &c.Requisite.MethodType,
			&c.Requisite.CardNumber, &c.Requisite.Owner, &c.Requisite.BankCode,
			&c.Requisite.MinAmount, &c.Requisite.MaxAmount,
			&c.Requisite.DailyLimit, &c.Requisite.MonthlyLimit,
			&c.Requisite.DayUsed, &c.Requisite.MonthUsed, &c.Requisite.OpenDeals,
			&c.Requisite.IsActive, &c.Requisite.IsArchived,
			&c.Requisite.DeviceID, &c.Requisite.LastUsedAt,
			&c.Trader.IsBanned, &c.Trader.TrafficEnabled, &c.Trader.RewardPercent,
			&devID, &devTrader, &devOnline, &devWorking, &devSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("requisites: scan row: %w", err)
		}
		c.Trader.ID = c.Requisite.TraderID
		if devID != nil {
			c.Device = &model.Device{
				ID:         *devID,
				TraderID:   *devTrader,
				IsOnline:   *devOnline,
				IsWorking:  *devWorking,
				LastSeenAt: *devSeen,
			}
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Claim is the exclusivity point of allocation: a single conditional update
// that re-validates flags and remaining capacity while bumping the usage
// counters, so two concurrent deals cannot oversubscribe one requisite.
func (r *RequisiteRepo) Claim(ctx context.Context, requisiteID string, amount decimal.Decimal, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE requisites
		SET day_used = day_used + $2,
			month_used = month_used + $2,
			open_deals = open_deals + 1,
			last_used_at = $3
		WHERE id = $1
		  AND is_active
		  AND NOT is_archived
		  AND day_used + $2 <= daily_limit
		  AND month_used + $2 <= monthly_limit`,
		requisiteID, amount, at,
	)
	if err != nil {
		return fmt.Errorf("requisites: claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrConflict
	}
	return nil
}

// ReleaseClaim undoes a claim whose deal never froze balance.
func (r *RequisiteRepo) ReleaseClaim(ctx context.Context, requisiteID string, amount decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `
		UPDATE requisites
		SET day_used = GREATEST(day_used - $2, 0),
			month_used = GREATEST(month_used - $2, 0),
			open_deals = GREATEST(open_deals - 1, 0)
		WHERE id = $1`,
		requisiteID, amount,
	)
	if err != nil {
		return fmt.Errorf("requisites: release claim: %w", err)
	}
	return nil
}

func (r *RequisiteRepo) ReleaseOpen(ctx context.Context, requisiteID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE requisites
		SET open_deals = GREATEST(open_deals - 1, 0)
		WHERE id = $1`,
		requisiteID,
	)
	if err != nil {
		return fmt.Errorf("requisites: release open: %w", err)
	}
	return nil
}

// ReleaseUsage returns a failed deal's amount to the daily/monthly capacity.
func (r *RequisiteRepo) ReleaseUsage(ctx context.Context, requisiteID string, amount decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `
		UPDATE requisites
		SET day_used = GREATEST(day_used - $2, 0),
			month_used = GREATEST(month_used - $2, 0)
		WHERE id = $1`,
		requisiteID, amount,
	)
	if err != nil {
		return fmt.Errorf("requisites: release usage: %w", err)
	}
	return nil
}
