package asset

import "math/big"

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10_000

var (
	bigZero = big.NewInt(0)
	bigOne  = big.NewInt(1)
	bigBps  = big.NewInt(BpsDenominator)
)

// MulDiv returns x*y/d rounded toward zero. Operands are not modified.
func MulDiv(x, y, d *big.Int) *big.Int {
	out := new(big.Int).Mul(x, y)
	return out.Quo(out, d)
}

// MulDivUp returns ceil(x*y/d) for non-negative operands.
func MulDivUp(x, y, d *big.Int) *big.Int {
	out := new(big.Int).Mul(x, y)
	q, r := new(big.Int).QuoRem(out, d, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, bigOne)
	}
	return q
}

// ApplyBps returns x*bps/10000 rounded down.
func ApplyBps(x *big.Int, bps uint32) *big.Int {
	return MulDiv(x, new(big.Int).SetUint64(uint64(bps)), bigBps)
}

// ApplyBpsUp returns ceil(x*bps/10000). Used for fees owed, never for amounts received.
func ApplyBpsUp(x *big.Int, bps uint32) *big.Int {
	return MulDivUp(x, new(big.Int).SetUint64(uint64(bps)), bigBps)
}

// LessBps returns x*(10000-bps)/10000 rounded down.
func LessBps(x *big.Int, bps uint32) *big.Int {
	if bps >= BpsDenominator {
		return new(big.Int)
	}
	return MulDiv(x, big.NewInt(int64(BpsDenominator-bps)), bigBps)
}

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// MinBig returns the smaller of a and b (no copy).
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MaxBig returns the larger of a and b (no copy).
func MaxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// IsPositive reports x > 0, treating nil as zero.
func IsPositive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}

// Sqrt returns floor(sqrt(x)) for x >= 0.
func Sqrt(x *big.Int) *big.Int {
	if x.Cmp(bigZero) <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sqrt(x)
}
