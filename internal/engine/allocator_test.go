package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlex/internal/model"
)

func newDeal(amount string) *model.Deal {
	return &model.Deal{
		ID:         uuid.New().String(),
		MerchantID: "m-1",
		AmountFiat: dec(amount),
		Currency:   "RUB",
		MethodType: "card",
		Status:     model.DealCreated,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(15 * time.Minute),
	}
}

func TestAllocate_InactiveRequisiteExcluded(t *testing.T) {
	inactive := candidate("req-1", "t-1", nil)
	inactive.Requisite.IsActive = false
	r := newRig(inactive)
	r.balances.set("t-1", dec("1000"))

	deal := newDeal("10000")
	require.NoError(t, r.deals.Create(context.Background(), deal))

	_, err := r.allocator.Allocate(context.Background(), deal)
	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.Equal(t, model.DealCreated, deal.Status)
}

func TestAllocate_BannedAndDisabledTradersExcluded(t *testing.T) {
	banned := candidate("req-1", "t-1", nil)
	banned.Trader.IsBanned = true
	disabled := candidate("req-2", "t-2", nil)
	disabled.Trader.TrafficEnabled = false
	r := newRig(banned, disabled)
	r.balances.set("t-1", dec("1000"))
	r.balances.set("t-2", dec("1000"))

	deal := newDeal("10000")
	require.NoError(t, r.deals.Create(context.Background(), deal))

	_, err := r.allocator.Allocate(context.Background(), deal)
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestAllocate_DeviceGating(t *testing.T) {
	now := time.Now()

	deadDevice := "dev-dead"
	dead := candidate("req-a", "t-1", &deadDevice)
	dead.Device = &model.Device{ID: deadDevice, IsOnline: true, IsWorking: false, LastSeenAt: now}

	liveDevice := "dev-live"
	live := candidate("req-b", "t-2", &liveDevice)
	live.Device = &model.Device{ID: liveDevice, IsOnline: true, IsWorking: true, LastSeenAt: now}

	r := newRig(dead, live)
	r.balances.set("t-1", dec("1000"))
	r.balances.set("t-2", dec("1000"))

	deal := newDeal("10000")
	require.NoError(t, r.deals.Create(context.Background(), deal))

	req, err := r.allocator.Allocate(context.Background(), deal)
	require.NoError(t, err)
	assert.Equal(t, "req-b", req.ID)
}

func TestAllocate_RequisiteWithoutDeviceEligible(t *testing.T) {
	r := newRig(candidate("req-1", "t-1", nil))
	r.balances.set("t-1", dec("1000"))

	deal := newDeal("10000")
	require.NoError(t, r.deals.Create(context.Background(), deal))

	req, err := r.allocator.Allocate(context.Background(), deal)
	require.NoError(t, err)
	assert.Equal(t, "req-1", req.ID)
	assert.Equal(t, model.DealInProgress, deal.Status)
}

func TestAllocate_SilentDeviceExcluded(t *testing.T) {
	deviceID := "dev-1"
	c := candidate("req-1", "t-1", &deviceID)
	c.Device = &model.Device{
		ID:         deviceID,
		IsOnline:   true,
		IsWorking:  true,
		LastSeenAt: time.Now().Add(-time.Hour),
	}
	r := newRig(c)
	r.balances.set("t-1", dec("1000"))

	deal := newDeal("10000")
	require.NoError(t, r.deals.Create(context.Background(), deal))

	_, err := r.allocator.Allocate(context.Background(), deal)
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestAllocate_AmountBoundsRespected(t *testing.T) {
	c := candidate("req-1", "t-1", nil)
	c.Requisite.MaxAmount = dec("5000")
	r := newRig(c)
	r.balances.set("t-1", dec("1000"))

	deal := newDeal("10000")
	require.NoError(t, r.deals.Create(context.Background(), deal))

	_, err := r.allocator.Allocate(context.Background(), deal)
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestAllocate_InsufficientBalanceSkipsTrader(t *testing.T) {
	poor := candidate("req-1", "t-1", nil)
	rich := candidate("req-2", "t-2", nil)
	// Bias ordering toward the poor trader so the skip path is exercised.
	rich.Requisite.OpenDeals = 5
	r := newRig(poor, rich)
	r.balances.set("t-1", dec("110"))
	r.balances.set("t-2", dec("1000"))

	// 10000 at adjusted rate 97 freezes 105.17; a second deal does not fit
	// into t-1's remaining 4.83.
	first := newDeal("10000")
	require.NoError(t, r.deals.Create(context.Background(), first))
	_, err := r.allocator.Allocate(context.Background(), first)
	require.NoError(t, err)
	require.Equal(t, "req-1", *first.RequisiteID)

	second := newDeal("10000")
	require.NoError(t, r.deals.Create(context.Background(), second))
	_, err = r.allocator.Allocate(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, "req-2", *second.RequisiteID)
}

func TestAllocate_PrefersLeastLoaded(t *testing.T) {
	busy := candidate("req-1", "t-1", nil)
	busy.Requisite.OpenDeals = 3
	idle := candidate("req-2", "t-2", nil)
	r := newRig(busy, idle)
	r.balances.set("t-1", dec("1000"))
	r.balances.set("t-2", dec("1000"))

	deal := newDeal("10000")
	require.NoError(t, r.deals.Create(context.Background(), deal))

	req, err := r.allocator.Allocate(context.Background(), deal)
	require.NoError(t, err)
	assert.Equal(t, "req-2", req.ID)
}

func TestAllocate_ConcurrentSingleSlot(t *testing.T) {
	// One qualifying trader whose balance covers exactly one freeze: two
	// concurrent allocations must yield one success and one no-capacity.
	r := newRig(candidate("req-1", "t-1", nil))
	r.balances.set("t-1", dec("105.17"))

	deals := []*model.Deal{newDeal("10000"), newDeal("10000")}
	for _, d := range deals {
		require.NoError(t, r.deals.Create(context.Background(), d))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(deals))
	for i, d := range deals {
		wg.Add(1)
		go func(i int, d *model.Deal) {
			defer wg.Done()
			_, errs[i] = r.allocator.Allocate(context.Background(), d)
		}(i, d)
	}
	wg.Wait()

	var ok, noCapacity int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrNoCapacity):
			noCapacity++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, noCapacity)
}
