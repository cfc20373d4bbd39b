package conversion

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToSmallestUnit scales amount by 10^decimals and truncates toward zero, so the
// on-chain amount never exceeds the sourced value.
func ToSmallestUnit(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}
	return amount.Shift(decimals).Truncate(0).BigInt(), nil
}

// FromSmallestUnit converts an on-chain integer amount back into a decimal amount.
func FromSmallestUnit(units *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(units, -decimals)
}

// Truncate drops digits beyond the given precision.
func Truncate(amount decimal.Decimal, decimals int32) decimal.Decimal {
	return amount.Truncate(decimals)
}

// ScaleUnits converts a smallest-unit amount between token precisions and applies
// rate, truncating the result.
func ScaleUnits(units *big.Int, fromDecimals, toDecimals int32, rate decimal.Decimal) (*big.Int, error) {
	amount := FromSmallestUnit(units, fromDecimals)
	return ToSmallestUnit(mul(amount, rate), toDecimals)
}
