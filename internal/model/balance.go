package model

import "github.com/shopspring/decimal"

// Balance is a trader's settlement-currency position. Trust is an insurance
// sub-balance that substitutes for available when a freeze exceeds it.
type Balance struct {
	TraderID  string
	Available decimal.Decimal
	Frozen    decimal.Decimal
	Trust     decimal.Decimal
}

// Spendable is the total a freeze may draw from.
func (b *Balance) Spendable() decimal.Decimal {
	return b.Available.Add(b.Trust)
}
