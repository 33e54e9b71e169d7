// Package app turns accepted opportunities into execution plans.
package app

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	arbdomain "github.com/fd1az/mev-arbitrage/business/arbitrage/domain"
	"github.com/fd1az/mev-arbitrage/business/execution/domain"
	fldomain "github.com/fd1az/mev-arbitrage/business/flashloan/domain"
	liqdomain "github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/asset"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

const (
	tracerName = "github.com/fd1az/mev-arbitrage/business/execution/app"
	meterName  = "github.com/fd1az/mev-arbitrage/business/execution/app"
)

// SnapshotReader is the read side of the liquidity store the builder needs.
type SnapshotReader interface {
	Get(key liqdomain.VenueKey) (liqdomain.Snapshot, bool)
	Validate(refs []liqdomain.SnapshotRef, now time.Time) error
}

// BuilderConfig holds per-network executors and the profit split.
type BuilderConfig struct {
	Executors        map[uint64]common.Address
	Treasury         common.Address
	Operator         common.Address
	TreasuryShareBps uint32
	DeadlineBlocks   uint64
}

type builderMetrics struct {
	built    metric.Int64Counter
	rejected metric.Int64Counter
}

// Builder re-prices an opportunity on the snapshots it was priced on and
// freezes it into a plan. Any replaced snapshot voids the opportunity.
type Builder struct {
	cfg     BuilderConfig
	snaps   SnapshotReader
	logger  logger.LoggerInterface
	tracer  trace.Tracer
	metrics *builderMetrics
	now     func() time.Time
}

// BuilderOption customizes a Builder.
type BuilderOption func(*Builder)

// WithClock replaces the clock used for staleness checks.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a plan builder.
func NewBuilder(cfg BuilderConfig, snaps SnapshotReader, log logger.LoggerInterface, opts ...BuilderOption) *Builder {
	b := &Builder{
		cfg:    cfg,
		snaps:  snaps,
		logger: log,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	meter := otel.Meter(meterName)
	b.metrics = &builderMetrics{}
	b.metrics.built, _ = meter.Int64Counter("execution_plans_built_total",
		metric.WithDescription("Execution plans built"))
	b.metrics.rejected, _ = meter.Int64Counter("execution_plans_rejected_total",
		metric.WithDescription("Opportunities that could not be planned, by code"))
	return b
}

// Build checks that every priced snapshot is still current and fresh,
// re-quotes every hop, sets minimum outputs and encodes the executor call.
func (b *Builder) Build(ctx context.Context, opp arbdomain.Opportunity, capital fldomain.CapitalSource) (domain.Plan, error) {
	ctx, span := b.tracer.Start(ctx, "execution.build",
		trace.WithAttributes(
			attribute.String("opportunity_id", opp.ID),
			attribute.Int64("chain_id", int64(opp.ChainID)),
			attribute.String("capital", capital.Kind.String()),
		),
	)
	defer span.End()

	plan, err := b.build(opp, capital)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plan rejected")
		b.metrics.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("code", string(apperror.GetCode(err)))))
		return domain.Plan{}, err
	}

	b.metrics.built.Add(ctx, 1)
	b.logger.Debug(ctx, "plan built",
		"opportunity_id", opp.ID,
		"hops", len(plan.Hops()),
		"min_profit", plan.MinProfit().String(),
		"deadline_block", plan.DeadlineBlock(),
	)
	return plan, nil
}

func (b *Builder) build(opp arbdomain.Opportunity, capital fldomain.CapitalSource) (domain.Plan, error) {
	priced := opp.Snapshots()
	if len(priced) != opp.Path.Len() {
		return domain.Plan{}, apperror.New(apperror.CodeInvalidPlan,
			apperror.WithContext("opportunity does not pin its snapshots"))
	}
	if err := b.snaps.Validate(priced, b.now()); err != nil {
		return domain.Plan{}, err
	}
	if err := capital.Validate(); err != nil {
		return domain.Plan{}, err
	}
	if capital.Total().Cmp(opp.Borrow) != 0 {
		return domain.Plan{}, apperror.New(apperror.CodeInvalidPlan,
			apperror.WithContext("capital "+capital.Total().String()+" does not match borrow "+opp.Borrow.String()))
	}
	executor, ok := b.cfg.Executors[opp.ChainID]
	if !ok {
		return domain.Plan{}, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("no executor on the network"))
	}

	loans := make([]domain.Loan, len(capital.Legs))
	for i, l := range capital.Legs {
		loans[i] = domain.Loan{
			Provider: l.Provider.Name,
			ZeroFee:  l.Provider.Kind == fldomain.ZeroFee,
			Vault:    l.Provider.Vault,
			Token:    capital.Token,
			Amount:   l.Amount,
			Fee:      l.Fee,
		}
	}
	owed := capital.Repay()

	hops := make([]domain.HopCall, 0, opp.Path.Len())
	in := opp.Borrow
	for i, h := range opp.Path.Hops {
		snap, ok := b.snaps.Get(h.Venue.Key())
		if !ok || !priced[i].Matches(snap) {
			return domain.Plan{}, apperror.New(apperror.CodeStaleData,
				apperror.WithContext(h.Venue.Key().String()+" changed since pricing"))
		}
		pricer, err := liqdomain.NewPricer(snap)
		if err != nil {
			return domain.Plan{}, err
		}
		expected, err := pricer.QuoteOutput(in, h.TokenIn)
		if err != nil {
			return domain.Plan{}, err
		}
		if i < len(opp.HopOutputs) && expected.Cmp(opp.HopOutputs[i]) != 0 {
			return domain.Plan{}, apperror.New(apperror.CodeStaleData,
				apperror.WithContext("hop "+h.Venue.Key().String()+" no longer quotes as priced"))
		}
		minOut := asset.LessBps(expected, opp.SlippageBps)
		if i == opp.Path.Len()-1 {
			if expected.Cmp(owed) < 0 {
				return domain.Plan{}, apperror.New(apperror.CodeInvalidPlan,
					apperror.WithContext("current quotes no longer repay the loans"))
			}
			minOut = asset.MaxBig(minOut, owed)
		}
		call, err := pricer.BuildHopCall(liqdomain.HopCallParams{
			TokenIn:     h.TokenIn,
			AmountIn:    in,
			ExpectedOut: expected,
			MinOut:      minOut,
			Recipient:   executor,
		})
		if err != nil {
			return domain.Plan{}, err
		}
		hops = append(hops, domain.HopCall{
			Call:        call,
			Venue:       h.Venue.Key(),
			TokenIn:     h.TokenIn,
			TokenOut:    h.TokenOut,
			AmountIn:    in,
			ExpectedOut: expected,
			MinOut:      minOut,
		})
		in = expected
	}

	return domain.NewPlan(domain.PlanParams{
		OpportunityID: opp.ID,
		ChainID:       opp.ChainID,
		Executor:      executor,
		Anchor:        opp.Path.Anchor,
		Loans:         loans,
		Hops:          hops,
		Split: domain.Split{
			Treasury:    b.cfg.Treasury,
			Operator:    b.cfg.Operator,
			TreasuryBps: b.cfg.TreasuryShareBps,
		},
		GasLimit:             opp.GasUnits,
		MaxFeePerGas:         opp.Fee.MaxFee,
		MaxPriorityFeePerGas: opp.Fee.PriorityFee,
		DeadlineBlock:        max(opp.Block, opp.Fee.Block) + b.cfg.DeadlineBlocks,
		Snapshots:            opp.Path.VenueKeys(),
	})
}
