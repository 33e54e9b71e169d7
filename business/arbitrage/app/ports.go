// Package app contains the path finder, the profitability engine and the
// evaluation pipeline of the arbitrage context.
package app

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/business/arbitrage/domain"
	bcdomain "github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	exdomain "github.com/fd1az/mev-arbitrage/business/execution/domain"
	fldomain "github.com/fd1az/mev-arbitrage/business/flashloan/domain"
	liqdomain "github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	mevdomain "github.com/fd1az/mev-arbitrage/business/mev/domain"
	subapp "github.com/fd1az/mev-arbitrage/business/submission/app"
	subdomain "github.com/fd1az/mev-arbitrage/business/submission/domain"
	"github.com/fd1az/mev-arbitrage/internal/asset"
)

// CapitalQuoter decides how a borrow would be funded without committing to it.
type CapitalQuoter interface {
	Quote(ctx context.Context, chainID uint64, token common.Address, amount *big.Int) (fldomain.CapitalSource, error)
}

// CapitalSelector makes the funding decision for a plan.
type CapitalSelector interface {
	Select(ctx context.Context, chainID uint64, token common.Address, amount *big.Int) (fldomain.CapitalSource, error)
}

// RiskAssessor prices MEV leakage.
type RiskAssessor interface {
	Assess(value *big.Int, class mevdomain.TxClass, anchor string, sig mevdomain.Signals, now time.Time) mevdomain.Assessment
}

// FeeSource quotes next-block fees.
type FeeSource interface {
	FeeQuote(ctx context.Context, chainID uint64) (bcdomain.FeeQuote, error)
}

// SnapshotSource is the read side of the liquidity store.
type SnapshotSource interface {
	Fresh(chainID uint64, now time.Time) []liqdomain.Snapshot
	Validate(refs []liqdomain.SnapshotRef, now time.Time) error
	ReferencePrice(chainID uint64, from, to *asset.Asset, now time.Time) (asset.Price, error)
	Rewind(chainID, from uint64) int
}

// SignalSource returns the latest blended MEV signals of a network.
type SignalSource interface {
	Latest(chainID uint64) mevdomain.Signals
}

// PriceSource converts between instruments of one network.
type PriceSource interface {
	ReferencePrice(chainID uint64, from, to *asset.Asset, now time.Time) (asset.Price, error)
}

// PlanBuilder turns a funded opportunity into an executable plan.
type PlanBuilder interface {
	Build(ctx context.Context, opp domain.Opportunity, capital fldomain.CapitalSource) (exdomain.Plan, error)
}

// PlanSubmitter delivers a plan and reports its terminal state. The result
// is never nil.
type PlanSubmitter interface {
	Submit(ctx context.Context, req subapp.Request) (*subdomain.Result, error)
}

// BlockSource broadcasts new heads per network.
type BlockSource interface {
	Blocks(chainID uint64) (<-chan *bcdomain.Block, func(), error)
}

// Reporter receives what the pipeline produces.
type Reporter interface {
	Start(ctx context.Context) error
	Report(ctx context.Context, res *subdomain.Result)
	ReportSpatial(ctx context.Context, c domain.SpatialCandidate)
	Alert(ctx context.Context, a domain.Alert)
	Stop() error
}
