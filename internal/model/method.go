package model

import "github.com/shopspring/decimal"

// PaymentMethod is the persisted per-method configuration: the rate
// correction percentage ("KKK") applied to the market rate and the
// commissions used by settlement aggregation.
type PaymentMethod struct {
	Code          string
	Correction    decimal.Decimal
	PayinPercent  decimal.Decimal
	PayoutPercent decimal.Decimal
}
