package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type DealStatus string

const (
	DealCreated    DealStatus = "CREATED"
	DealInProgress DealStatus = "IN_PROGRESS"
	DealReady      DealStatus = "READY"
	DealExpired    DealStatus = "EXPIRED"
	DealCanceled   DealStatus = "CANCELED"
	DealDispute    DealStatus = "DISPUTE"
	// DealMilk is a terminal failure attributed to the merchant side or an
	// undetermined cause. It is counted in metrics and never transitions onward.
	DealMilk       DealStatus = "MILK"
)

// dealTransitions is the closed transition table for the deal state machine.
// Anything not listed here is an illegal transition.
var dealTransitions = map[DealStatus][]DealStatus{
	DealCreated:    {DealInProgress, DealExpired, DealCanceled, DealMilk},
	DealInProgress: {DealReady, DealExpired, DealCanceled, DealDispute, DealMilk},
	DealReady:      {DealDispute},
	DealDispute:    {DealReady, DealCanceled},
}

// CanTransition reports whether moving from s to next is legal.
func (s DealStatus) CanTransition(next DealStatus) bool {
	for _, allowed := range dealTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Open reports whether the deal can still be matched by a bank notification.
func (s DealStatus) Open() bool {
	return s == DealCreated || s == DealInProgress
}

// Deal is a single fiat inflow request from a merchant.
type Deal struct {
	ID              string
	SeqID           int64
	MerchantID      string
	MerchantOrderID string
	AmountFiat      decimal.Decimal
	Currency        string
	MethodType      string

	// Set once the allocator routes the deal to a trader requisite.
	RequisiteID *string
	TraderID    *string

	// Rate and money snapshot taken at freeze time.
	Rate          decimal.Decimal
	CommissionPct decimal.Decimal
	Commission    decimal.Decimal
	FrozenAmount  decimal.Decimal

	Status      DealStatus
	CallbackURL string

	CreatedAt  time.Time
	AcceptedAt *time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the deal's confirmation deadline has passed.
func (d *Deal) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}
