package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"settlex/internal/model"
)

var (
	// ErrNoCapacity means no eligible requisite qualified for a deal. This is
	// a normal business outcome, not a failure.
	ErrNoCapacity = errors.New("no eligible requisite available")
	// ErrConflict means a conditional update lost to a concurrent writer.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrInsufficient means the trader's available+trust balance cannot cover
	// a freeze.
	ErrInsufficient = errors.New("insufficient trader balance")
	// ErrInvalidState means the entity is not in the status the operation
	// requires (approving a non-pending settlement, resolving a closed
	// dispute, cancelling a terminal deal).
	ErrInvalidState = errors.New("invalid state for operation")
	// ErrDisputeOpen means the subject already has an open dispute.
	ErrDisputeOpen = errors.New("subject already has an open dispute")
	// ErrNotFound is returned by stores for missing entities.
	ErrNotFound = errors.New("not found")
)

// DealStore is the persistence contract for deals. Conditional methods return
// ErrConflict when the status precondition no longer holds, which is how
// concurrent sweeps, matches and manual actions stay exclusive.
type DealStore interface {
	Create(ctx context.Context, deal *model.Deal) error
	Get(ctx context.Context, id string) (*model.Deal, error)

	// MarkAllocated records the requisite assignment and the money snapshot,
	// moving the deal CREATED -> IN_PROGRESS.
	MarkAllocated(ctx context.Context, deal *model.Deal) error

	// Transition applies a conditional status update: it succeeds only while
	// the current status is one of from.
	Transition(ctx context.Context, id string, from []model.DealStatus, to model.DealStatus, at time.Time) (*model.Deal, error)

	// CompleteWithNotification moves an open deal to READY and links the
	// notification to it in the same transaction.
	CompleteWithNotification(ctx context.Context, dealID, notificationID string, at time.Time) (*model.Deal, error)

	// FindOpenByDeviceAmount returns unexpired CREATED/IN_PROGRESS deals whose
	// assigned requisite belongs to the device and whose fiat amount matches
	// exactly.
	FindOpenByDeviceAmount(ctx context.Context, deviceID string, amount decimal.Decimal, now time.Time) ([]*model.Deal, error)

	// FindExpired returns open deals past their expiry timestamp.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Deal, error)

	// FindUnsettled returns READY deals accepted since the given time, for the
	// settlement reconciliation sweep. Settle idempotency makes rescanning
	// already-settled deals safe.
	FindUnsettled(ctx context.Context, since time.Time, limit int) ([]*model.Deal, error)
}

// Candidate is a requisite joined with its owning trader and optional device,
// as returned by the allocation scan.
type Candidate struct {
	Requisite model.Requisite
	Trader    model.Trader
	Device    *model.Device
}

// CandidateQuery narrows the allocation scan to one payment corridor.
type CandidateQuery struct {
	MethodType string
	Currency   string
}

// RequisiteStore is the persistence contract for requisites. Claim and its
// inverse are the serialization point of allocation: Claim re-checks limits
// and bumps the usage counters in a single conditional write.
type RequisiteStore interface {
	FindCandidates(ctx context.Context, q CandidateQuery) ([]*Candidate, error)

	// Claim atomically increments day/month usage and the open-deal counter,
	// re-validating flags and limits. ErrConflict when the requisite no longer
	// has capacity for the amount.
	Claim(ctx context.Context, requisiteID string, amount decimal.Decimal, at time.Time) error

	// ReleaseClaim undoes a Claim whose deal never froze balance.
	ReleaseClaim(ctx context.Context, requisiteID string, amount decimal.Decimal) error

	// ReleaseOpen decrements the open-deal counter when a deal leaves an open
	// state. Usage counters are kept for READY deals.
	ReleaseOpen(ctx context.Context, requisiteID string) error

	// ReleaseUsage returns the deal's amount to the daily/monthly capacity of
	// a requisite whose deal failed (expired or canceled).
	ReleaseUsage(ctx context.Context, requisiteID string, amount decimal.Decimal) error
}

// BalanceStore is the trader settlement-currency balance. Freeze, Unfreeze
// and Settle are idempotent per deal: repeated calls for the same deal id are
// no-ops, which makes concurrent sweeps and matches safe.
type BalanceStore interface {
	// Freeze reserves total against the deal, drawing from available first
	// and the trust sub-balance for the remainder. ErrInsufficient when both
	// together cannot cover it.
	Freeze(ctx context.Context, traderID, dealID string, total decimal.Decimal) error

	// Unfreeze restores exactly what Freeze reserved for the deal.
	Unfreeze(ctx context.Context, traderID, dealID string) error

	// Settle consumes the frozen reservation (the deal completed; the
	// settlement currency is owed to the merchant) and credits the trader's
	// profit to available.
	Settle(ctx context.Context, traderID, dealID string, profit decimal.Decimal) error

	Get(ctx context.Context, traderID string) (*model.Balance, error)
	GetBatch(ctx context.Context, traderIDs []string) (map[string]model.Balance, error)
}

// NotificationStore persists inbound bank-message records. Records are
// append-only; match linkage goes through DealStore.CompleteWithNotification.
type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
	Get(ctx context.Context, id string) (*model.Notification, error)
}

// DeviceStore tracks device liveness.
type DeviceStore interface {
	Heartbeat(ctx context.Context, deviceID string, at time.Time) error
}

// DisputeStore is the persistence contract for disputes. Create enforces the
// one-open-dispute-per-subject invariant; Resolve is conditional on the
// dispute still being open.
type DisputeStore interface {
	Create(ctx context.Context, d *model.Dispute) error
	Get(ctx context.Context, id string) (*model.Dispute, error)
	FindExpired(ctx context.Context, now time.Time) ([]*model.Dispute, error)
	Resolve(ctx context.Context, id string, outcome model.DisputeOutcome, by string, at time.Time) (*model.Dispute, error)
}

// DealTotal is one READY deal as seen by settlement aggregation.
type DealTotal struct {
	Amount decimal.Decimal
	Rate   decimal.Decimal
	Method string
}

// PayoutTotal is one COMPLETED payout as seen by settlement aggregation.
type PayoutTotal struct {
	Amount decimal.Decimal
	Rate   decimal.Decimal
	Method string
}

// MerchantTotals is the raw material of ComputePending.
type MerchantTotals struct {
	Deals   []DealTotal
	Payouts []PayoutTotal
	// Settled is the sum of prior settlement requests that were not canceled.
	Settled decimal.Decimal
}

// SettlementStore aggregates merchant earnings and owns the settlement
// request lifecycle.
type SettlementStore interface {
	MerchantTotals(ctx context.Context, merchantID string) (*MerchantTotals, error)
	Create(ctx context.Context, req *model.SettlementRequest) error
	Get(ctx context.Context, id string) (*model.SettlementRequest, error)

	// Finalize moves a PENDING request to COMPLETED or CANCELED. ErrConflict
	// when the request is no longer pending.
	Finalize(ctx context.Context, id string, status model.SettlementStatus, by, reason string, at time.Time) (*model.SettlementRequest, error)
}

// MethodStore reads persisted per-method configuration.
type MethodStore interface {
	Get(ctx context.Context, code string) (*model.PaymentMethod, error)
}

// MerchantStore reads merchant accounting configuration.
type MerchantStore interface {
	Get(ctx context.Context, id string) (*model.Merchant, error)
}

// RateSource yields the corrected settlement rate. Implementations never
// fail: a degraded feed falls back to cached or constant values.
type RateSource interface {
	RateWithCorrection(ctx context.Context, pct decimal.Decimal) decimal.Decimal
}

// Bus publishes engine lifecycle events.
type Bus interface {
	Publish(topic string, data []byte) error
}
