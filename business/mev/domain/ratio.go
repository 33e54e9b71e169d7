// Package domain holds the MEV risk model and the signal types it consumes.
package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// RatioScale is the fixed-point denominator of Ratio.
const RatioScale = 1_000_000_000

var bigRatioScale = big.NewInt(RatioScale)

// Ratio is a fraction in [0,1] scaled by 1e9. Profit math multiplies by a
// Ratio exactly; floats only appear in metrics.
type Ratio int64

const (
	RatioZero Ratio = 0
	RatioOne  Ratio = RatioScale
)

// RatioFromDecimal converts d, clamping into [0,1].
func RatioFromDecimal(d decimal.Decimal) Ratio {
	return Ratio(d.Shift(9).Truncate(0).IntPart()).Clamp()
}

// RatioFromFraction returns num/den, clamped, rounding down.
func RatioFromFraction(num, den int64) Ratio {
	if den <= 0 || num <= 0 {
		return RatioZero
	}
	r := new(big.Int).Mul(big.NewInt(num), bigRatioScale)
	r.Quo(r, big.NewInt(den))
	if !r.IsInt64() {
		return RatioOne
	}
	return Ratio(r.Int64()).Clamp()
}

// Clamp bounds r into [0,1].
func (r Ratio) Clamp() Ratio {
	switch {
	case r < 0:
		return RatioZero
	case r > RatioOne:
		return RatioOne
	default:
		return r
	}
}

// Min returns the smaller of r and o.
func (r Ratio) Min(o Ratio) Ratio {
	if o < r {
		return o
	}
	return r
}

// MulRatio multiplies two ratios, rounding down.
func (r Ratio) MulRatio(o Ratio) Ratio {
	return Ratio(int64(r) * int64(o) / RatioScale)
}

// Apply returns x*r, rounding down.
func (r Ratio) Apply(x *big.Int) *big.Int {
	out := new(big.Int).Mul(x, big.NewInt(int64(r)))
	return out.Quo(out, bigRatioScale)
}

// Decimal returns r as a decimal for logs and reports.
func (r Ratio) Decimal() decimal.Decimal {
	return decimal.New(int64(r), -9)
}

// Float64 is for metrics only.
func (r Ratio) Float64() float64 {
	return float64(r) / RatioScale
}

func (r Ratio) String() string {
	return r.Decimal().StringFixed(4)
}
