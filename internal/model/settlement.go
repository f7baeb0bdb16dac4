package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "PENDING"
	SettlementCompleted SettlementStatus = "COMPLETED"
	SettlementCanceled  SettlementStatus = "CANCELED"
)

// SettlementRequest is a merchant's claim on accumulated net earnings. The
// amount is a snapshot of the pending balance at creation time.
type SettlementRequest struct {
	ID         string
	MerchantID string
	Amount     decimal.Decimal
	Status     SettlementStatus

	ProcessedBy  string
	CancelReason string

	CreatedAt   time.Time
	ProcessedAt *time.Time
}

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "PENDING"
	PayoutCompleted PayoutStatus = "COMPLETED"
	PayoutCanceled  PayoutStatus = "CANCELED"
)

// Payout is an outbound withdrawal fulfilled by a trader for a merchant.
// Completed payouts reduce the merchant's pending settlement balance.
type Payout struct {
	ID         string
	MerchantID string
	TraderID   string
	MethodType string
	AmountFiat decimal.Decimal
	Currency   string
	Rate       decimal.Decimal
	Status     PayoutStatus
	CreatedAt  time.Time
}

// Merchant carries the accounting configuration consulted at settlement time.
type Merchant struct {
	ID          string
	Name        string
	CallbackURL string

	// RateEquivalent switches ComputePending to convert each deal at its own
	// stored rate before summation.
	RateEquivalent bool
}
