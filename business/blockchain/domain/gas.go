package domain

import (
	"math/big"
	"time"
)

// DefaultMaxFeePerGas caps what the oracle will ever quote (500 gwei).
var DefaultMaxFeePerGas = big.NewInt(500_000_000_000)

// FeeQuote is an EIP-1559 fee suggestion for the next block.
type FeeQuote struct {
	BaseFee     *big.Int
	PriorityFee *big.Int
	// MaxFee is 2*baseFee + priorityFee, capped.
	MaxFee *big.Int
	Block  uint64
	At     time.Time
}

// NewFeeQuote derives MaxFee from base and tip, capping every field at maxFee.
func NewFeeQuote(baseFee, tip, maxFee *big.Int, block uint64, at time.Time) FeeQuote {
	base := new(big.Int).Set(baseFee)
	prio := new(big.Int).Set(tip)
	max := new(big.Int).Lsh(base, 1)
	max.Add(max, prio)
	if maxFee != nil {
		if max.Cmp(maxFee) > 0 {
			max.Set(maxFee)
		}
		if prio.Cmp(max) > 0 {
			prio.Set(max)
		}
		if base.Cmp(max) > 0 {
			base.Set(max)
		}
	}
	return FeeQuote{BaseFee: base, PriorityFee: prio, MaxFee: max, Block: block, At: at}
}

// EffectivePerGas is what a transaction included in the next block pays per
// gas unit: baseFee + priorityFee, never above MaxFee.
func (q FeeQuote) EffectivePerGas() *big.Int {
	p := new(big.Int).Add(q.BaseFee, q.PriorityFee)
	if q.MaxFee != nil && p.Cmp(q.MaxFee) > 0 {
		p.Set(q.MaxFee)
	}
	return p
}

// Cost is the wei cost of gasUnits at the effective price.
func (q FeeQuote) Cost(gasUnits uint64) *big.Int {
	return new(big.Int).Mul(q.EffectivePerGas(), new(big.Int).SetUint64(gasUnits))
}

// BumpPriority returns a copy with the tip raised by bps, keeping MaxFee
// at least base + tip.
func (q FeeQuote) BumpPriority(bps uint32) FeeQuote {
	prio := new(big.Int).Mul(q.PriorityFee, big.NewInt(int64(10_000+bps)))
	prio.Quo(prio, big.NewInt(10_000))
	if prio.Cmp(q.PriorityFee) == 0 {
		prio.Add(prio, big.NewInt(1))
	}
	max := new(big.Int).Set(q.MaxFee)
	if floor := new(big.Int).Add(q.BaseFee, prio); max.Cmp(floor) < 0 {
		max = floor
	}
	return FeeQuote{BaseFee: q.BaseFee, PriorityFee: prio, MaxFee: max, Block: q.Block, At: q.At}
}

// Gwei converts wei to gwei for metrics and logs only.
func Gwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return f
}
