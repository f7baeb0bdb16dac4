package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlex/internal/model"
)

func newSettlementRig() (*SettlementEngine, *fakeSettlements, *fakeMerchants) {
	store := newFakeSettlements()
	merchants := &fakeMerchants{byID: map[string]*model.Merchant{
		"m-1": {ID: "m-1", Name: "acme"},
	}}
	methods := &fakeMethods{byCode: map[string]*model.PaymentMethod{
		"card": {Code: "card", PayinPercent: dec("5")},
		"sbp":  {Code: "sbp", PayoutPercent: dec("2")},
	}}
	return NewSettlementEngine(store, merchants, methods), store, merchants
}

func TestComputePending(t *testing.T) {
	engine, store, _ := newSettlementRig()
	store.totals["m-1"] = &MerchantTotals{
		Deals: []DealTotal{
			{Amount: dec("1000"), Rate: dec("97"), Method: "card"},
			{Amount: dec("2000"), Rate: dec("97"), Method: "card"},
		},
		Payouts: []PayoutTotal{
			{Amount: dec("500"), Rate: dec("97"), Method: "sbp"},
		},
	}

	// 1000 + 2000 - (50 + 100) - 500 - 10 = 2340
	pending, err := engine.ComputePending(context.Background(), "m-1")
	require.NoError(t, err)
	assert.True(t, pending.Equal(dec("2340")), "pending = %s", pending)
}

func TestComputePending_SubtractsPriorSettlements(t *testing.T) {
	engine, store, _ := newSettlementRig()
	store.totals["m-1"] = &MerchantTotals{
		Deals:   []DealTotal{{Amount: dec("1000"), Method: "card"}},
		Settled: dec("900"),
	}

	pending, err := engine.ComputePending(context.Background(), "m-1")
	require.NoError(t, err)
	assert.True(t, pending.Equal(dec("50")), "pending = %s", pending)
}

func TestComputePending_RateEquivalent(t *testing.T) {
	engine, store, merchants := newSettlementRig()
	merchants.byID["m-1"].RateEquivalent = true
	store.totals["m-1"] = &MerchantTotals{
		Deals: []DealTotal{{Amount: dec("970"), Rate: dec("97"), Method: "card"}},
	}

	// 970 / 97 = 10.00, minus 5% commission on the converted amount.
	pending, err := engine.ComputePending(context.Background(), "m-1")
	require.NoError(t, err)
	assert.True(t, pending.Equal(dec("9.50")), "pending = %s", pending)
}

func TestComputePending_UnknownMerchant(t *testing.T) {
	engine, _, _ := newSettlementRig()

	_, err := engine.ComputePending(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSettlement_SnapshotsPending(t *testing.T) {
	engine, store, _ := newSettlementRig()
	store.totals["m-1"] = &MerchantTotals{
		Deals: []DealTotal{{Amount: dec("1000"), Method: "card"}},
	}

	req, err := engine.CreateSettlement(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, model.SettlementPending, req.Status)
	assert.True(t, req.Amount.Equal(dec("950")), "amount = %s", req.Amount)
}

func TestApproveSettlement(t *testing.T) {
	engine, store, _ := newSettlementRig()
	store.totals["m-1"] = &MerchantTotals{}

	req, err := engine.CreateSettlement(context.Background(), "m-1")
	require.NoError(t, err)

	approved, err := engine.ApproveSettlement(context.Background(), req.ID, "finops")
	require.NoError(t, err)
	assert.Equal(t, model.SettlementCompleted, approved.Status)
	assert.Equal(t, "finops", approved.ProcessedBy)
	require.NotNil(t, approved.ProcessedAt)

	// Terminal transitions require a pending request.
	_, err = engine.ApproveSettlement(context.Background(), req.ID, "finops")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = engine.CancelSettlement(context.Background(), req.ID, "finops", "dup")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelSettlement(t *testing.T) {
	engine, store, _ := newSettlementRig()
	store.totals["m-1"] = &MerchantTotals{}

	req, err := engine.CreateSettlement(context.Background(), "m-1")
	require.NoError(t, err)

	canceled, err := engine.CancelSettlement(context.Background(), req.ID, "finops", "merchant request")
	require.NoError(t, err)
	assert.Equal(t, model.SettlementCanceled, canceled.Status)
	assert.Equal(t, "merchant request", canceled.CancelReason)
}
