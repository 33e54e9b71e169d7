package domain

import (
	liqdomain "github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	mevdomain "github.com/fd1az/mev-arbitrage/business/mev/domain"
	"github.com/fd1az/mev-arbitrage/internal/asset"
)

// Gas model in units.
const (
	GasBase    uint64 = 100_000
	GasPerLoan uint64 = 150_000

	GasConstantProduct       uint64 = 120_000
	GasConcentratedLiquidity uint64 = 180_000
	GasStableSwap            uint64 = 160_000
)

// DefaultGasBufferBps is the 1.2x uplift applied to the estimate.
const DefaultGasBufferBps = 2_000

// HopGas is the swap gas of one venue kind.
func HopGas(kind liqdomain.ProtocolKind) uint64 {
	switch kind {
	case liqdomain.ConcentratedLiquidity:
		return GasConcentratedLiquidity
	case liqdomain.StableSwap:
		return GasStableSwap
	default:
		return GasConstantProduct
	}
}

// GasUnits estimates the execution gas of a path funded by loans flash loans,
// including the buffer.
func GasUnits(path Path, loans int, bufferBps uint32) uint64 {
	units := GasBase + GasPerLoan*uint64(loans)
	for _, h := range path.Hops {
		units += HopGas(h.Venue.Protocol)
	}
	return units + units*uint64(bufferBps)/asset.BpsDenominator
}

// protocolRisk scores venue kinds for the opportunity risk score.
func protocolRisk(kind liqdomain.ProtocolKind) mevdomain.Ratio {
	switch kind {
	case liqdomain.ConcentratedLiquidity:
		return mevdomain.RatioFromFraction(15, 100)
	case liqdomain.StableSwap:
		return mevdomain.RatioFromFraction(20, 100)
	default:
		return mevdomain.RatioFromFraction(10, 100)
	}
}

// RiskScore is an operational score reported with each opportunity. It is
// not a gate. It weighs the riskiest venue kind by 0.3, a hop penalty of
// min(0.05*hops, 0.3) by 0.2, a flat flash-loan factor of 0.1 by 0.2 and the
// slippage allowance by 0.3.
func RiskScore(path Path, slippageBps uint32) mevdomain.Ratio {
	proto := mevdomain.RatioZero
	for _, h := range path.Hops {
		if r := protocolRisk(h.Venue.Protocol); r > proto {
			proto = r
		}
	}
	hops := mevdomain.RatioFromFraction(int64(5*len(path.Hops)), 100).Min(mevdomain.RatioFromFraction(30, 100))
	slip := mevdomain.RatioFromFraction(int64(slippageBps), asset.BpsDenominator)

	w3 := mevdomain.RatioFromFraction(3, 10)
	w2 := mevdomain.RatioFromFraction(2, 10)
	flash := mevdomain.RatioFromFraction(1, 10)

	score := proto.MulRatio(w3) + hops.MulRatio(w2) + flash.MulRatio(w2) + slip.MulRatio(w3)
	return score.Clamp()
}
