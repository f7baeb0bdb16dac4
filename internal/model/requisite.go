package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Requisite is a trader's payment instrument (card or account) that can
// receive a deal's fiat transfer.
type Requisite struct {
	ID         string
	TraderID   string
	MethodType string
	CardNumber string
	Owner      string
	BankCode   string

	MinAmount    decimal.Decimal
	MaxAmount    decimal.Decimal
	DailyLimit   decimal.Decimal
	MonthlyLimit decimal.Decimal

	// Running usage counters, bumped atomically by the claim step.
	DayUsed   decimal.Decimal
	MonthUsed decimal.Decimal
	OpenDeals int

	IsActive   bool
	IsArchived bool

	// Optional owning device. When set, the device's liveness gates
	// eligibility; requisites without a device skip that check.
	DeviceID *string

	LastUsedAt time.Time
}

// FitsAmount reports whether a deal of the given fiat amount is inside the
// requisite's per-deal bounds and remaining daily/monthly capacity.
func (r *Requisite) FitsAmount(amount decimal.Decimal) bool {
	if amount.LessThan(r.MinAmount) || amount.GreaterThan(r.MaxAmount) {
		return false
	}
	if r.DayUsed.Add(amount).GreaterThan(r.DailyLimit) {
		return false
	}
	if r.MonthUsed.Add(amount).GreaterThan(r.MonthlyLimit) {
		return false
	}
	return true
}

// Trader carries the traffic flags consulted during allocation. Balances live
// in the balance store, not here.
type Trader struct {
	ID             string
	IsBanned       bool
	TrafficEnabled bool
	RewardPercent  decimal.Decimal
}
