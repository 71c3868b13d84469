package precision

import (
	"math/big"
)

// All USD values, rate factors, and per-size indices share a single
// fixed-point scale of 1e30. Token amounts are integers in the token's
// smallest unit, and a price is USD (Float-scaled) per smallest unit.
// int64 cannot carry this scale, so stored values are *big.Int.

// FloatDecimals is the number of decimal places in the shared scale.
const FloatDecimals = 30

// Float is the shared fixed-point scale (10^30).
var Float = Exp10(FloatDecimals)

// RoundingMode selects the direction of the final division step.
type RoundingMode int

const (
	RoundDown RoundingMode = iota // Truncate toward zero (default)
	RoundUp                       // Away from zero
)

// Exp10 returns 10^n as a fresh big.Int.
func Exp10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// FloatFromInt64 scales a whole-unit value to Float precision.
// FloatFromInt64(200_000) is $200k.
func FloatFromInt64(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), Float)
}

// MulDiv computes a * b / denom with the given rounding mode.
// Inputs may be negative; rounding is relative to zero.
func MulDiv(a, b, denom *big.Int, mode RoundingMode) *big.Int {
	num := new(big.Int).Mul(a, b)
	return Div(num, denom, mode)
}

// Div divides num by denom with the given rounding mode.
// denom must be positive.
func Div(num, denom *big.Int, mode RoundingMode) *big.Int {
	q, r := new(big.Int).QuoRem(num, denom, new(big.Int))
	if mode == RoundUp && r.Sign() != 0 {
		if num.Sign() >= 0 {
			q.Add(q, oneInt)
		} else {
			q.Sub(q, oneInt)
		}
	}
	return q
}

var oneInt = big.NewInt(1)

// ApplyFactor multiplies a Float-scaled value by a Float-scaled factor,
// truncating toward zero.
func ApplyFactor(value, factor *big.Int) *big.Int {
	return MulDiv(value, factor, Float, RoundDown)
}

// ToFactor returns value/divisor at Float precision (floor).
// Used for open-interest imbalance ratios.
func ToFactor(value, divisor *big.Int) *big.Int {
	if divisor.Sign() == 0 {
		return new(big.Int)
	}
	return MulDiv(value, Float, divisor, RoundDown)
}

// Pow raises a Float-scaled base to a small non-negative integer
// exponent, truncating at each step. Pow(x, 1) == x; Pow(x, 0) == Float.
func Pow(base *big.Int, exponent uint32) *big.Int {
	result := new(big.Int).Set(Float)
	for i := uint32(0); i < exponent; i++ {
		result = ApplyFactor(result, base)
	}
	return result
}

// UsdToTokenAmount converts a Float-scaled USD value to a token amount
// at the given price (Float-scaled USD per smallest token unit).
// Amounts owed by a position round up; amounts credited round down, so
// rounding never leaks value out of the pool.
func UsdToTokenAmount(usd, price *big.Int, mode RoundingMode) *big.Int {
	if price.Sign() <= 0 {
		return new(big.Int)
	}
	return Div(usd, price, mode)
}

// TokenAmountToUsd converts a token amount to Float-scaled USD.
func TokenAmountToUsd(amount, price *big.Int) *big.Int {
	return new(big.Int).Mul(amount, price)
}

// PriceFromUsd builds a price (Float-scaled USD per smallest token
// unit) from a whole-token USD price and the token's decimals.
// PriceFromUsd(5000, 18) is $5,000 per 10^18 units.
func PriceFromUsd(usdPerToken int64, decimals uint32) *big.Int {
	p := new(big.Int).Mul(big.NewInt(usdPerToken), Float)
	return p.Quo(p, Exp10(int(decimals)))
}
