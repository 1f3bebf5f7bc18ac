package cashback

import "github.com/shopspring/decimal"

var oneHundred = decimal.NewFromInt(100)

// ComputeCashback calculates the reward for a purchase under the given config.
// Percentage configs compute amount * percent / 100; fixed configs return the
// fixed amount regardless of purchase size. The result is rounded half-up to
// two decimal places before applying the per-transaction cap. A cap of zero
// means uncapped.
func ComputeCashback(purchase PurchaseAmount, config CashbackConfig) AmountCents {
	var cents AmountCents
	if config.IsPercent() {
		raw := purchase.Decimal().Mul(config.Percent).Div(oneHundred)
		// decimal.Round is half away from zero; amounts here are positive,
		// so this is round-half-up.
		cents = AmountCents(raw.Round(2).Shift(2).IntPart())
	} else {
		cents = config.FixedCents
	}
	if config.MaxPerTransactionCents > 0 && cents > config.MaxPerTransactionCents {
		cents = config.MaxPerTransactionCents
	}
	return cents
}

// ComputePercentCashback applies a bare percentage rate, used for the company
// base rate fallback when no promotion wins.
func ComputePercentCashback(purchase PurchaseAmount, percent decimal.Decimal) AmountCents {
	if percent.Sign() <= 0 {
		return 0
	}
	raw := purchase.Decimal().Mul(percent).Div(oneHundred)
	return AmountCents(raw.Round(2).Shift(2).IntPart())
}
