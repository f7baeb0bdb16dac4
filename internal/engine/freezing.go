package engine

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Money math for the freeze cycle. Rounding is asymmetric on purpose:
// amounts owed to the platform round up, amounts owed to the trader round
// down, so accumulated rounding never costs the platform.

// FrozenAmount converts a fiat amount into the settlement currency at the
// corrected rate, rounded up to 2 decimals.
func FrozenAmount(amountFiat, adjustedRate decimal.Decimal) decimal.Decimal {
	return amountFiat.Div(adjustedRate).RoundCeil(2)
}

// Commission is the platform commission on a frozen amount, rounded up to
// 2 decimals.
func Commission(frozenAmount, commissionPct decimal.Decimal) decimal.Decimal {
	return frozenAmount.Mul(commissionPct).Div(hundred).RoundCeil(2)
}

// Quote computes the full freeze for a deal: the converted principal, the
// commission on it, and their sum, which is what gets frozen on the trader.
func Quote(amountFiat, adjustedRate, commissionPct decimal.Decimal) (frozen, commission, total decimal.Decimal) {
	frozen = FrozenAmount(amountFiat, adjustedRate)
	commission = Commission(frozen, commissionPct)
	return frozen, commission, frozen.Add(commission)
}

// TraderProfit is the trader's reward credited when a deal completes,
// rounded down to 2 decimals.
func TraderProfit(amountFiat, dealRate, commissionPct decimal.Decimal) decimal.Decimal {
	return amountFiat.Div(dealRate).Mul(commissionPct).Div(hundred).RoundFloor(2)
}
