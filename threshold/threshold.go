package threshold

import (
	"github.com/shopspring/decimal"

	"github.com/michaelpento.lv/dualarb/types"
)

var hundred = decimal.NewFromInt(100)

// MinProfitRequired returns the profit an opportunity between chainA and chainB must clear.
// Percent mode scales maxPositionSize by minProfitPercent; fixed mode uses minProfitFixed.
// Gas estimates for both chains are added on top; a chain without an estimate adds zero.
func MinProfitRequired(settings types.Settings, chainA, chainB uint64) decimal.Decimal {
	var required decimal.Decimal
	switch settings.ThresholdMode {
	case types.ThresholdPercent:
		required = settings.MaxPositionSize.Mul(settings.MinProfitPercent).Div(hundred)
	default:
		required = settings.MinProfitFixed
	}
	return required.Add(gasFor(settings, chainA)).Add(gasFor(settings, chainB))
}

// Clears reports whether estimatedProfit meets the required minimum
func Clears(estimatedProfit decimal.Decimal, settings types.Settings, chainA, chainB uint64) bool {
	return estimatedProfit.GreaterThanOrEqual(MinProfitRequired(settings, chainA, chainB))
}

func gasFor(settings types.Settings, chainID uint64) decimal.Decimal {
	if settings.GasEstimates == nil {
		return decimal.Zero
	}
	return settings.GasEstimates[chainID]
}
