package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"settlex/internal/engine"
	"settlex/internal/model"
)

//go:embed freeze.lua
var freezeScript string

//go:embed release.lua
var releaseScript string

//go:embed settle.lua
var settleScript string

// BalanceRepo keeps trader balances in Redis as the authoritative store,
// mutated only through Lua scripts so freeze/settle/release are atomic and
// idempotent per deal. Postgres holds a mirror synced from balance.changed
// events and serves as the cold-start source.
type BalanceRepo struct {
	rdb *redis.Client
	db  *pgxpool.Pool
	bus MessageBus
}

func NewBalanceRepo(rdb *redis.Client, db *pgxpool.Pool, bus MessageBus) *BalanceRepo {
	return &BalanceRepo{rdb: rdb, db: db, bus: bus}
}

func balanceKey(traderID string) string { return "balance:" + traderID }
func freezeKey(dealID string) string    { return "freeze:" + dealID }

// toCents converts a 2-decimal money amount to integer cents for Lua, which
// only does float arithmetic.
func toCents(d decimal.Decimal) int64 { return d.Shift(2).IntPart() }

func fromCents(v int64) decimal.Decimal { return decimal.NewFromInt(v).Shift(-2) }

// Freeze reserves total against the deal, drawing available first and trust
// for the remainder. Idempotent per deal. A trader absent from Redis is
// warmed up once from the Postgres balances mirror.
func (r *BalanceRepo) Freeze(ctx context.Context, traderID, dealID string, total decimal.Decimal) error {
	status, snap, err := r.eval(ctx, freezeScript, traderID, dealID, toCents(total))
	if err != nil {
		return err
	}
	if status == -1 {
		if err := r.warmUp(ctx, traderID); err != nil {
			return err
		}
		status, snap, err = r.eval(ctx, freezeScript, traderID, dealID, toCents(total))
		if err != nil {
			return err
		}
	}

	switch status {
	case 1:
		r.publish(traderID, dealID, "freeze", total, snap)
		return nil
	case 0:
		return nil // already frozen for this deal
	case -1:
		return engine.ErrInsufficient // no balance record anywhere
	case -2:
		return engine.ErrInsufficient
	default:
		return fmt.Errorf("balances: unexpected freeze status %d", status)
	}
}

// Unfreeze restores exactly what Freeze reserved. Idempotent: releasing a
// deal twice, or one that never froze, is a no-op.
func (r *BalanceRepo) Unfreeze(ctx context.Context, traderID, dealID string) error {
	status, snap, err := r.eval(ctx, releaseScript, traderID, dealID, 0)
	if err != nil {
		return err
	}
	if status == 1 {
		r.publish(traderID, dealID, "unfreeze", decimal.Zero, snap)
	}
	return nil
}

// Settle consumes the frozen reservation and credits the trader profit.
// Idempotent per deal.
func (r *BalanceRepo) Settle(ctx context.Context, traderID, dealID string, profit decimal.Decimal) error {
	status, snap, err := r.eval(ctx, settleScript, traderID, dealID, toCents(profit))
	if err != nil {
		return err
	}
	if status == 1 {
		r.publish(traderID, dealID, "settle", profit, snap)
	}
	return nil
}

func (r *BalanceRepo) Get(ctx context.Context, traderID string) (*model.Balance, error) {
	balances, err := r.GetBatch(ctx, []string{traderID})
	if err != nil {
		return nil, err
	}
	b, ok := balances[traderID]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return &b, nil
}

// GetBatch reads balances for the given traders, warming absent ones from
// Postgres. Traders with no balance record anywhere are omitted.
func (r *BalanceRepo) GetBatch(ctx context.Context, traderIDs []string) (map[string]model.Balance, error) {
	result := make(map[string]model.Balance, len(traderIDs))

	pipe := r.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(traderIDs))
	for _, id := range traderIDs {
		if _, seen := cmds[id]; seen {
			continue
		}
		cmds[id] = pipe.HGetAll(ctx, balanceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("balances: pipeline: %w", err)
	}

	for id, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			if err := r.warmUp(ctx, id); err != nil {
				if errors.Is(err, engine.ErrNotFound) {
					continue
				}
				return nil, err
			}
			fields = r.rdb.HGetAll(ctx, balanceKey(id)).Val()
		}
		result[id] = model.Balance{
			TraderID:  id,
			Available: centsField(fields, "available"),
			Frozen:    centsField(fields, "frozen"),
			Trust:     centsField(fields, "trust"),
		}
	}
	return result, nil
}

func centsField(fields map[string]string, name string) decimal.Decimal {
	d, err := decimal.NewFromString(fields[name])
	if err != nil {
		return decimal.Zero
	}
	return d.Shift(-2)
}

func (r *BalanceRepo) eval(ctx context.Context, script, traderID, dealID string, arg int64) (int64, model.Balance, error) {
	keys := []string{balanceKey(traderID), freezeKey(dealID)}
	raw, err := r.rdb.Eval(ctx, script, keys, arg).Result()
	if err != nil {
		return 0, model.Balance{}, fmt.Errorf("balances: eval script: %w", err)
	}
	arr, ok := raw.([]interface{})
	if !ok || len(arr) < 4 {
		return 0, model.Balance{}, fmt.Errorf("balances: unexpected script reply %v", raw)
	}
	snap := model.Balance{
		TraderID:  traderID,
		Available: fromCents(arr[1].(int64)),
		Frozen:    fromCents(arr[2].(int64)),
		Trust:     fromCents(arr[3].(int64)),
	}
	return arr[0].(int64), snap, nil
}

// warmUp loads the trader's balance mirror from Postgres into Redis. Cold
// starts after a Redis flush land here once per trader.
func (r *BalanceRepo) warmUp(ctx context.Context, traderID string) error {
	var available, frozen, trust decimal.Decimal
	err := r.db.QueryRow(ctx,
		`SELECT available, frozen, trust FROM balances WHERE trader_id = $1`, traderID,
	).Scan(&available, &frozen, &trust)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.ErrNotFound
		}
		return fmt.Errorf("balances: warm up %s: %w", traderID, err)
	}

	slog.Info("balances: cold start, warming cache from postgres", "trader_id", traderID)
	return r.rdb.HSet(ctx, balanceKey(traderID),
		"available", toCents(available),
		"frozen", toCents(frozen),
		"trust", toCents(trust),
	).Err()
}

func (r *BalanceRepo) publish(traderID, dealID, op string, amount decimal.Decimal, snap model.Balance) {
	if r.bus == nil {
		return
	}
	data, _ := json.Marshal(BalanceEvent{
		TraderID:  traderID,
		DealID:    dealID,
		Op:        op,
		Amount:    amount,
		Available: snap.Available,
		Frozen:    snap.Frozen,
		Trust:     snap.Trust,
		At:        time.Now(),
	})
	if err := r.bus.Publish(TopicBalanceChanged, data); err != nil {
		slog.Error("balances: publish event failed", "trader_id", traderID, "error", err)
	}
}
