package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlex/internal/model"
)

type disputeRig struct {
	*rig
	disputes *fakeDisputes
	dispute  *DisputeEngine
}

func newDisputeRig(candidates ...*Candidate) *disputeRig {
	r := newRig(candidates...)
	disputes := newFakeDisputes()
	return &disputeRig{
		rig:      r,
		disputes: disputes,
		dispute:  NewDisputeEngine(disputes, r.deals, r.engine, r.bus, DefaultShift()),
	}
}

func at(hour int) time.Time {
	return time.Date(2026, time.March, 10, hour, 0, 0, 0, time.UTC)
}

func TestComputeDeadline_ShiftSchedule(t *testing.T) {
	d := newDisputeRig()

	// 10:00 falls in the day shift, 23:00 and 08:59 in the night shift.
	assert.Equal(t, at(10).Add(30*time.Minute), d.dispute.ComputeDeadline(at(10)))
	assert.Equal(t, at(23).Add(60*time.Minute), d.dispute.ComputeDeadline(at(23)))
	assert.Equal(t, at(8).Add(60*time.Minute), d.dispute.ComputeDeadline(at(8)))
	// The day shift is inclusive of its start hour, exclusive of its end.
	assert.Equal(t, at(9).Add(30*time.Minute), d.dispute.ComputeDeadline(at(9)))
	assert.Equal(t, at(21).Add(60*time.Minute), d.dispute.ComputeDeadline(at(21)))
}

func TestOpenDispute_MovesDealToDispute(t *testing.T) {
	d := newDisputeRig(candidate("req-1", "t-1", nil))
	d.balances.set("t-1", dec("200"))
	deal, err := d.engine.CreateDeal(context.Background(), createRequest("10000"))
	require.NoError(t, err)
	d.dispute.now = func() time.Time { return at(10) }

	dispute, err := d.dispute.OpenDispute(context.Background(), model.OpenDisputeRequest{
		SubjectType: model.SubjectDeal,
		SubjectID:   deal.ID,
		Reason:      "payment not received",
	})
	require.NoError(t, err)
	assert.Equal(t, model.DisputeOpened, dispute.Status)
	assert.Equal(t, dispute.OpenedAt.Add(30*time.Minute), dispute.DeadlineAt)

	got, err := d.deals.Get(context.Background(), deal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealDispute, got.Status)

	// An already disputed deal cannot be disputed again.
	_, err = d.dispute.OpenDispute(context.Background(), model.OpenDisputeRequest{
		SubjectType: model.SubjectDeal,
		SubjectID:   deal.ID,
	})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestOpenDispute_OneOpenPerSubject(t *testing.T) {
	d := newDisputeRig()

	_, err := d.dispute.OpenDispute(context.Background(), model.OpenDisputeRequest{
		SubjectType: model.SubjectPayout,
		SubjectID:   "p-1",
	})
	require.NoError(t, err)

	_, err = d.dispute.OpenDispute(context.Background(), model.OpenDisputeRequest{
		SubjectType: model.SubjectPayout,
		SubjectID:   "p-1",
	})
	assert.ErrorIs(t, err, ErrDisputeOpen)
}

func TestOpenDispute_CreatedDealNotDisputable(t *testing.T) {
	d := newDisputeRig()
	deal, err := d.engine.CreateDeal(context.Background(), createRequest("10000"))
	require.NoError(t, err)
	require.Equal(t, model.DealCreated, deal.Status)

	_, err = d.dispute.OpenDispute(context.Background(), model.OpenDisputeRequest{
		SubjectType: model.SubjectDeal,
		SubjectID:   deal.ID,
	})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestResolve_AcceptedCompletesDeal(t *testing.T) {
	d := newDisputeRig(candidate("req-1", "t-1", nil))
	d.balances.set("t-1", dec("200"))
	deal, err := d.engine.CreateDeal(context.Background(), createRequest("10000"))
	require.NoError(t, err)

	dispute, err := d.dispute.OpenDispute(context.Background(), model.OpenDisputeRequest{
		SubjectType: model.SubjectDeal,
		SubjectID:   deal.ID,
	})
	require.NoError(t, err)

	resolved, err := d.dispute.Resolve(context.Background(), dispute.ID, model.DisputeAccepted, "support")
	require.NoError(t, err)
	assert.Equal(t, model.DisputeResolved, resolved.Status)
	assert.Equal(t, model.DisputeAccepted, resolved.Outcome)
	assert.Equal(t, "support", resolved.ResolvedBy)

	got, err := d.deals.Get(context.Background(), deal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealReady, got.Status)
	assert.True(t, d.balances.settled[deal.ID].Equal(dec("2.06")))
}

func TestResolve_RejectedCancelsDeal(t *testing.T) {
	d := newDisputeRig(candidate("req-1", "t-1", nil))
	d.balances.set("t-1", dec("200"))
	deal, err := d.engine.CreateDeal(context.Background(), createRequest("10000"))
	require.NoError(t, err)

	dispute, err := d.dispute.OpenDispute(context.Background(), model.OpenDisputeRequest{
		SubjectType: model.SubjectDeal,
		SubjectID:   deal.ID,
	})
	require.NoError(t, err)

	_, err = d.dispute.Resolve(context.Background(), dispute.ID, model.DisputeRejected, "support")
	require.NoError(t, err)

	got, err := d.deals.Get(context.Background(), deal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealCanceled, got.Status)

	bal, err := d.balances.Get(context.Background(), "t-1")
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(dec("200")), "available = %s", bal.Available)
}

func TestResolve_ClosedDisputeRejected(t *testing.T) {
	d := newDisputeRig(candidate("req-1", "t-1", nil))
	d.balances.set("t-1", dec("200"))
	deal, err := d.engine.CreateDeal(context.Background(), createRequest("10000"))
	require.NoError(t, err)

	dispute, err := d.dispute.OpenDispute(context.Background(), model.OpenDisputeRequest{
		SubjectType: model.SubjectDeal,
		SubjectID:   deal.ID,
	})
	require.NoError(t, err)
	_, err = d.dispute.Resolve(context.Background(), dispute.ID, model.DisputeAccepted, "support")
	require.NoError(t, err)

	_, err = d.dispute.Resolve(context.Background(), dispute.ID, model.DisputeRejected, "support")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSweepExpired_AutoAcceptsOnce(t *testing.T) {
	d := newDisputeRig(candidate("req-1", "t-1", nil))
	d.balances.set("t-1", dec("200"))
	deal, err := d.engine.CreateDeal(context.Background(), createRequest("10000"))
	require.NoError(t, err)

	opened := at(10)
	d.dispute.now = func() time.Time { return opened }
	_, err = d.dispute.OpenDispute(context.Background(), model.OpenDisputeRequest{
		SubjectType: model.SubjectDeal,
		SubjectID:   deal.ID,
	})
	require.NoError(t, err)

	// Before the deadline nothing happens.
	d.dispute.now = func() time.Time { return opened.Add(29 * time.Minute) }
	resolved, err := d.dispute.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Empty(t, resolved)

	// Past the deadline the dispute resolves in the merchant's favor.
	d.dispute.now = func() time.Time { return opened.Add(31 * time.Minute) }
	resolved, err = d.dispute.SweepExpired(context.Background())
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, model.DisputeAccepted, resolved[0].Outcome)
	assert.Equal(t, "sla-sweep", resolved[0].ResolvedBy)

	got, err := d.deals.Get(context.Background(), deal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealReady, got.Status)

	// The second sweep is a no-op.
	resolved, err = d.dispute.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Empty(t, resolved)
}
