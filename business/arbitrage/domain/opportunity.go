// Package domain contains the path graph, opportunities and their cost
// breakdown for the arbitrage context.
package domain

import (
	"cmp"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	bcdomain "github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	fldomain "github.com/fd1az/mev-arbitrage/business/flashloan/domain"
	liqdomain "github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	mevdomain "github.com/fd1az/mev-arbitrage/business/mev/domain"
	"github.com/fd1az/mev-arbitrage/internal/asset"
)

// Costs is the exact breakdown of an opportunity, in anchor raw units.
//
//	NetProfit = GrossOutput - (TradingFee + ProtocolFee) - GasEstimate - SlippageBuffer - MEVRisk
type Costs struct {
	GrossOutput    *big.Int // fee-free final output minus the borrow
	TradingFee     *big.Int // venue fees, compounded across hops
	ProtocolFee    *big.Int // capital cost
	GasEstimate    *big.Int
	SlippageBuffer *big.Int
	MEVRisk        *big.Int
	NetProfit      *big.Int
}

// Net recomputes NetProfit from the components.
func (c Costs) Net() *big.Int {
	n := new(big.Int).Set(c.GrossOutput)
	n.Sub(n, c.TradingFee)
	n.Sub(n, c.ProtocolFee)
	n.Sub(n, c.GasEstimate)
	n.Sub(n, c.SlippageBuffer)
	return n.Sub(n, c.MEVRisk)
}

// Opportunity is a sized, costed path. It is immutable once produced.
type Opportunity struct {
	ID          string
	ChainID     uint64
	Path        Path
	Anchor      *asset.Asset
	Block       uint64
	Priced      []liqdomain.SnapshotRef // per hop, the snapshot version quoted
	DetectedAt  time.Time
	SignalsAt   time.Time
	Fee         bcdomain.FeeQuote
	Capital     fldomain.CapitalSource
	Costs       Costs
	Borrow      *big.Int
	HopOutputs  []*big.Int // fee-inclusive expected output of each hop
	GasUnits    uint64
	SlippageBps uint32
	Risk        mevdomain.Ratio // MEV leakage fraction
	Confidence  mevdomain.Ratio
	RiskScore   mevdomain.Ratio
	Congestion  mevdomain.CongestionLevel
}

// TradingFees is venue fees plus the capital cost.
func (o Opportunity) TradingFees() *big.Int {
	return new(big.Int).Add(o.Costs.TradingFee, o.Costs.ProtocolFee)
}

// ExpectedOutput is the fee-inclusive output of the final hop.
func (o Opportunity) ExpectedOutput() *big.Int {
	if len(o.HopOutputs) == 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(o.HopOutputs[len(o.HopOutputs)-1])
}

// ValueAtRisk is the surplus an extractor could take.
func (o Opportunity) ValueAtRisk() *big.Int {
	v := new(big.Int).Sub(o.Costs.GrossOutput, o.TradingFees())
	if v.Sign() < 0 {
		return v.SetInt64(0)
	}
	return v
}

// ProfitBps is net profit over the borrow in basis points, rounded down.
func (o Opportunity) ProfitBps() int64 {
	if !asset.IsPositive(o.Borrow) {
		return 0
	}
	b := new(big.Int).Mul(o.Costs.NetProfit, big.NewInt(asset.BpsDenominator))
	return b.Quo(b, o.Borrow).Int64()
}

// Snapshots lists the snapshot versions the opportunity was priced on.
func (o Opportunity) Snapshots() []liqdomain.SnapshotRef {
	return o.Priced
}

// AnchorAddress is the borrowed token.
func (o Opportunity) AnchorAddress() common.Address {
	return o.Path.Anchor
}

// Display converts a raw anchor amount for logs and reports.
func (o Opportunity) Display(raw *big.Int) string {
	if o.Anchor == nil {
		return raw.String()
	}
	return asset.NewAmount(o.Anchor, raw).String()
}

// Rank orders opportunities per anchor: highest net profit first, then the
// lowest MEV risk, then the fewest hops, then ID.
func Rank(opps []Opportunity) []Opportunity {
	out := slices.Clone(opps)
	slices.SortStableFunc(out, compareRank)
	return out
}

func compareRank(a, b Opportunity) int {
	if c := a.Path.Anchor.Cmp(b.Path.Anchor); c != 0 {
		return c
	}
	if c := b.Costs.NetProfit.Cmp(a.Costs.NetProfit); c != 0 {
		return c
	}
	if c := a.Costs.MEVRisk.Cmp(b.Costs.MEVRisk); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Path.Len(), b.Path.Len()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SelectTop takes the best opportunity of each anchor from a ranked list,
// skipping any that shares a venue with one already taken.
func SelectTop(ranked []Opportunity) []Opportunity {
	var (
		taken  []Opportunity
		anchor common.Address
		done   bool
	)
	for i, o := range ranked {
		if i == 0 || o.Path.Anchor != anchor {
			anchor, done = o.Path.Anchor, false
		}
		if done {
			continue
		}
		overlap := false
		for _, t := range taken {
			if t.Path.SharesVenue(o.Path) {
				overlap = true
				break
			}
		}
		if overlap {
			continue
		}
		taken = append(taken, o)
		done = true
	}
	return taken
}
