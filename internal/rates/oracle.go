// Package rates fetches and caches the spot settlement rate from an external
// market-data feed.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"settlex/internal/metrics"
)

const lastGoodKeyPrefix = "rates:last_good:"

// Config tunes the oracle. Fallback is the hard-coded last resort used when
// neither the feed nor any cached value is available; the oracle never fails,
// it only degrades to staler values.
type Config struct {
	FeedURL      string
	Symbol       string
	TTL          time.Duration
	FetchTimeout time.Duration
	Fallback     decimal.Decimal
}

// Oracle serves the most recent bar's high price with a TTL-bound in-process
// cache, a Redis-held last-good value surviving restarts, and a constant
// fallback. Concurrent refreshes may race; last write wins and both writes
// are equally fresh, so that is harmless.
type Oracle struct {
	cfg    Config
	client *http.Client
	rdb    *redis.Client

	mu        sync.Mutex
	cached    decimal.Decimal
	fetchedAt time.Time

	now func() time.Time
}

func New(cfg Config, client *http.Client, rdb *redis.Client) *Oracle {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 3 * time.Second
	}
	if cfg.Fallback.IsZero() {
		cfg.Fallback = decimal.NewFromInt(100)
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	return &Oracle{cfg: cfg, client: client, rdb: rdb, now: time.Now}
}

// Rate returns the raw market rate. It never fails and always returns a
// positive number: a degraded feed yields the cached value, then the
// Redis-held last-good value, then the configured fallback constant.
func (o *Oracle) Rate(ctx context.Context) decimal.Decimal {
	o.mu.Lock()
	cached, fetchedAt := o.cached, o.fetchedAt
	o.mu.Unlock()

	now := o.now()
	if !cached.IsZero() && now.Sub(fetchedAt) < o.cfg.TTL {
		metrics.RateAge.Set(now.Sub(fetchedAt).Seconds())
		return cached
	}

	fresh, err := o.fetch(ctx)
	if err != nil {
		metrics.RateFetchFailures.Inc()
		slog.Warn("rates: fetch failed, serving stale value", "symbol", o.cfg.Symbol, "error", err)
		if !cached.IsZero() {
			return cached
		}
		if lastGood := o.loadLastGood(ctx); !lastGood.IsZero() {
			return lastGood
		}
		return o.cfg.Fallback
	}

	o.mu.Lock()
	o.cached = fresh
	o.fetchedAt = now
	o.mu.Unlock()
	o.storeLastGood(ctx, fresh)
	metrics.RateAge.Set(0)
	return fresh
}

// RateWithCorrection applies the per-method correction percentage:
// rate * (1 - pct/100), rounded to 2 decimals.
func (o *Oracle) RateWithCorrection(ctx context.Context, pct decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(pct.Div(decimal.NewFromInt(100)))
	return o.Rate(ctx).Mul(factor).Round(2)
}

// fetch queries the feed for the latest bar and returns its high value. The
// feed answers with a time-ordered array of [ts, open, high, low, close,
// volume] bars, numbers or numeric strings.
func (o *Oracle) fetch(ctx context.Context) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	var rate decimal.Decimal
	backoff := retry.WithMaxRetries(2, retry.NewConstant(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := o.fetchOnce(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		rate = r
		return nil
	})
	return rate, err
}

func (o *Oracle) fetchOnce(ctx context.Context) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s?symbol=%s&interval=1m&limit=1", o.cfg.FeedURL, url.QueryEscape(o.cfg.Symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("feed status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, err
	}
	var bars [][]any
	if err := json.Unmarshal(body, &bars); err != nil {
		return decimal.Zero, fmt.Errorf("decode feed response: %w", err)
	}
	if len(bars) == 0 {
		return decimal.Zero, fmt.Errorf("feed returned no bars")
	}
	last := bars[len(bars)-1]
	if len(last) < 3 {
		return decimal.Zero, fmt.Errorf("feed bar too short: %d fields", len(last))
	}

	high, err := toDecimal(last[2])
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse high: %w", err)
	}
	if !high.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive high %s", high)
	}
	return high, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case string:
		return decimal.NewFromString(x)
	case float64:
		return decimal.NewFromFloat(x), nil
	case json.Number:
		return decimal.NewFromString(x.String())
	default:
		return decimal.Zero, fmt.Errorf("unsupported bar field type %T", v)
	}
}

func (o *Oracle) loadLastGood(ctx context.Context) decimal.Decimal {
	if o.rdb == nil {
		return decimal.Zero
	}
	val, err := o.rdb.Get(ctx, lastGoodKeyPrefix+o.cfg.Symbol).Result()
	if err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (o *Oracle) storeLastGood(ctx context.Context, rate decimal.Decimal) {
	if o.rdb == nil {
		return
	}
	if err := o.rdb.Set(ctx, lastGoodKeyPrefix+o.cfg.Symbol, rate.String(), 0).Err(); err != nil {
		slog.Warn("rates: failed to persist last-good rate", "error", err)
	}
}
