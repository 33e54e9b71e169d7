package app

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-arbitrage/business/arbitrage/domain"
	liqdomain "github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	mevdomain "github.com/fd1az/mev-arbitrage/business/mev/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/asset"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

const (
	tracerName = "github.com/fd1az/mev-arbitrage/business/arbitrage/app"
	meterName  = "github.com/fd1az/mev-arbitrage/business/arbitrage/app"
)

// EngineConfig holds the gates and buffers of the profitability engine.
// A zero gate is trivially met, but net profit must always be positive.
type EngineConfig struct {
	MinProfit               map[string]decimal.Decimal // anchor symbol -> display units
	MinProfitBps            uint32
	MinConfidence           mevdomain.Ratio
	SlippageBps             uint32
	LowLiquiditySlippageBps uint32
	// A hop whose input exceeds this share of the venue depth uses
	// LowLiquiditySlippageBps.
	LowLiquidityImpactBps uint32
	GasBufferBps          uint32
	// Borrow is capped at this share of the shallowest hop input depth.
	MaxBorrowReserveBps uint32
}

type engineMetrics struct {
	evaluations metric.Int64Counter
	netProfit   metric.Float64Histogram
}

// Engine sizes and costs candidate paths.
type Engine struct {
	cfg     EngineConfig
	capital CapitalQuoter
	risk    RiskAssessor
	fees    FeeSource
	prices  PriceSource
	tokens  TokenDirectory
	logger  logger.LoggerInterface
	tracer  trace.Tracer
	metrics *engineMetrics
	now     func() time.Time
}

// NewEngine creates a profitability engine.
func NewEngine(
	cfg EngineConfig,
	capital CapitalQuoter,
	risk RiskAssessor,
	fees FeeSource,
	prices PriceSource,
	tokens TokenDirectory,
	log logger.LoggerInterface,
) *Engine {
	if cfg.MaxBorrowReserveBps == 0 || cfg.MaxBorrowReserveBps > asset.BpsDenominator {
		cfg.MaxBorrowReserveBps = asset.BpsDenominator
	}
	e := &Engine{
		cfg:     cfg,
		capital: capital,
		risk:    risk,
		fees:    fees,
		prices:  prices,
		tokens:  tokens,
		logger:  log,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	e.initMetrics()
	return e
}

func (e *Engine) initMetrics() {
	meter := otel.Meter(meterName)
	e.metrics = &engineMetrics{}
	e.metrics.evaluations, _ = meter.Int64Counter("arbitrage_evaluations_total",
		metric.WithDescription("Paths evaluated, by outcome"))
	e.metrics.netProfit, _ = meter.Float64Histogram("arbitrage_net_profit",
		metric.WithDescription("Net profit of accepted opportunities in anchor units"))
}

// walk is a path priced at one borrow amount.
type walk struct {
	outputs []*big.Int // fee-inclusive, per hop
	inputs  []*big.Int
	gross   *big.Int // fee-free final output
}

// Evaluate sizes the borrow, costs it and applies the gates. Paths that fail
// a gate return CodeBelowProfitFloor or CodeLowConfidence.
func (e *Engine) Evaluate(ctx context.Context, path domain.Path, g *domain.Graph, sig mevdomain.Signals) (domain.Opportunity, error) {
	ctx, span := e.tracer.Start(ctx, "arbitrage.evaluate",
		trace.WithAttributes(
			attribute.Int64("chain_id", int64(path.ChainID)),
			attribute.String("path", path.Key()),
			attribute.Int("hops", path.Len()),
		),
	)
	defer span.End()

	opp, err := e.evaluate(ctx, path, g, sig)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rejected")
		e.metrics.evaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(apperror.GetCode(err)))))
		return domain.Opportunity{}, err
	}

	e.metrics.evaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "accepted")))
	net, _ := asset.NewAmount(opp.Anchor, opp.Costs.NetProfit).ToDecimal().Float64()
	e.metrics.netProfit.Record(ctx, net, metric.WithAttributes(attribute.String("anchor", opp.Anchor.Symbol())))
	span.SetAttributes(
		attribute.String("borrow", opp.Borrow.String()),
		attribute.String("net_profit", opp.Costs.NetProfit.String()),
	)
	return opp, nil
}

func (e *Engine) evaluate(ctx context.Context, path domain.Path, g *domain.Graph, sig mevdomain.Signals) (domain.Opportunity, error) {
	if err := path.Validate(); err != nil {
		return domain.Opportunity{}, err
	}
	anchor, ok := e.tokens.GetToken(path.ChainID, path.Anchor)
	if !ok {
		return domain.Opportunity{}, apperror.New(apperror.CodeUnsupportedToken,
			apperror.WithContext("anchor "+path.Anchor.Hex()+" not registered"))
	}

	pools := make([]domain.Pool, path.Len())
	for i, h := range path.Hops {
		p, ok := g.PoolFor(h.Venue.Key())
		if !ok {
			return domain.Opportunity{}, apperror.New(apperror.CodeStaleData,
				apperror.WithContext("no snapshot for "+h.Venue.Key().String()))
		}
		pools[i] = p
	}

	limit := e.borrowCap(path, pools)
	if limit.Sign() <= 0 {
		return domain.Opportunity{}, apperror.New(apperror.CodeInsufficientLiquidity,
			apperror.WithContext("no depth on "+path.String()))
	}
	borrow, w := e.size(path, pools, limit)
	if w == nil {
		return domain.Opportunity{}, apperror.New(apperror.CodeInsufficientLiquidity,
			apperror.WithContext("path cannot be quoted at any size"))
	}
	final := w.outputs[len(w.outputs)-1]
	if final.Cmp(borrow) <= 0 {
		return domain.Opportunity{}, apperror.New(apperror.CodeBelowProfitFloor,
			apperror.WithContext("no surplus after venue fees"))
	}

	capital, err := e.capital.Quote(ctx, path.ChainID, path.Anchor, borrow)
	if err != nil {
		return domain.Opportunity{}, err
	}
	fee, err := e.fees.FeeQuote(ctx, path.ChainID)
	if err != nil {
		return domain.Opportunity{}, err
	}

	now := e.now()
	slippageBps := e.slippageBps(path, pools, w)
	gasUnits := domain.GasUnits(path, len(capital.Legs), e.cfg.GasBufferBps)
	gas, err := e.gasInAnchor(path.ChainID, anchor, fee.Cost(gasUnits), now)
	if err != nil {
		return domain.Opportunity{}, err
	}

	costs := domain.Costs{
		GrossOutput:    new(big.Int).Sub(w.gross, borrow),
		TradingFee:     new(big.Int).Sub(w.gross, final),
		ProtocolFee:    capital.Fee(),
		GasEstimate:    gas,
		SlippageBuffer: asset.ApplyBpsUp(final, slippageBps),
	}
	value := new(big.Int).Sub(costs.GrossOutput, costs.TradingFee)
	value.Sub(value, costs.ProtocolFee)
	if value.Sign() < 0 {
		value.SetInt64(0)
	}
	assessment := e.risk.Assess(value, mevdomain.FlashLoanArbitrage, anchor.Symbol(), sig, now)
	costs.MEVRisk = assessment.Amount
	costs.NetProfit = costs.Net()

	var block uint64
	priced := make([]liqdomain.SnapshotRef, len(pools))
	for i, p := range pools {
		block = max(block, p.Snapshot.Block)
		priced[i] = p.Snapshot.Ref()
	}

	opp := domain.Opportunity{
		ID:          uuid.NewString(),
		ChainID:     path.ChainID,
		Path:        path,
		Anchor:      anchor,
		Block:       block,
		Priced:      priced,
		DetectedAt:  now,
		SignalsAt:   sig.PublishedAt,
		Fee:         fee,
		Capital:     capital,
		Costs:       costs,
		Borrow:      borrow,
		HopOutputs:  w.outputs,
		GasUnits:    gasUnits,
		SlippageBps: slippageBps,
		Risk:        assessment.Risk,
		Confidence:  assessment.Confidence,
		RiskScore:   domain.RiskScore(path, slippageBps),
		Congestion:  assessment.Level,
	}
	if err := e.gate(opp); err != nil {
		return domain.Opportunity{}, err
	}
	return opp, nil
}

// borrowCap limits the borrow to MaxBorrowReserveBps of every hop's input
// depth, carried back to anchor units through the spot rates.
func (e *Engine) borrowCap(path domain.Path, pools []domain.Pool) *big.Int {
	var limit *big.Int
	rate := new(big.Int).Set(domain.ScoreOne) // hop input per anchor, scaled
	for i, h := range path.Hops {
		depth := asset.ApplyBps(pools[i].Snapshot.Depth(h.TokenIn), e.cfg.MaxBorrowReserveBps)
		inAnchor := asset.MulDiv(depth, domain.ScoreOne, rate)
		if limit == nil || inAnchor.Cmp(limit) < 0 {
			limit = inAnchor
		}
		num, den := pools[i].Pricer.SpotRate(h.TokenIn)
		if !asset.IsPositive(num) || !asset.IsPositive(den) {
			return new(big.Int)
		}
		rate = asset.MulDiv(rate, num, den)
		if rate.Sign() == 0 {
			return new(big.Int)
		}
	}
	return limit
}

// size runs an integer ternary search over [1, limit] for the borrow that
// maximises the fee-inclusive surplus. Ties go to the smaller borrow.
func (e *Engine) size(path domain.Path, pools []domain.Pool, limit *big.Int) (*big.Int, *walk) {
	surplus := func(amount *big.Int) *big.Int {
		out, err := quoteChain(path, pools, amount, false)
		if err != nil {
			return nil
		}
		return new(big.Int).Sub(out[len(out)-1], amount)
	}
	better := func(a, b *big.Int) bool { // a strictly better than b
		if a == nil {
			return false
		}
		return b == nil || a.Cmp(b) > 0
	}

	lo, hi := big.NewInt(1), new(big.Int).Set(limit)
	two := big.NewInt(2)
	for new(big.Int).Sub(hi, lo).Cmp(two) > 0 {
		third := new(big.Int).Sub(hi, lo)
		third.Quo(third, big.NewInt(3))
		m1 := new(big.Int).Add(lo, third)
		m2 := new(big.Int).Sub(hi, third)
		if better(surplus(m2), surplus(m1)) {
			lo = m1.Add(m1, big.NewInt(1))
		} else {
			hi = m2
		}
	}

	var best, bestSurplus *big.Int
	for a := new(big.Int).Set(lo); a.Cmp(hi) <= 0; a.Add(a, big.NewInt(1)) {
		if s := surplus(a); better(s, bestSurplus) {
			best, bestSurplus = new(big.Int).Set(a), s
		}
	}
	if best == nil {
		return nil, nil
	}

	outputs, err := quoteChain(path, pools, best, false)
	if err != nil {
		return nil, nil
	}
	gross, err := quoteChain(path, pools, best, true)
	if err != nil {
		return nil, nil
	}
	inputs := make([]*big.Int, len(outputs))
	inputs[0] = new(big.Int).Set(best)
	for i := 1; i < len(outputs); i++ {
		inputs[i] = outputs[i-1]
	}
	return best, &walk{outputs: outputs, inputs: inputs, gross: gross[len(gross)-1]}
}

// quoteChain walks the path from amount. Gross quotes ignore venue fees.
func quoteChain(path domain.Path, pools []domain.Pool, amount *big.Int, gross bool) ([]*big.Int, error) {
	out := make([]*big.Int, len(path.Hops))
	in := amount
	for i, h := range path.Hops {
		var (
			q   *big.Int
			err error
		)
		if gross {
			q, err = pools[i].Pricer.QuoteGross(in, h.TokenIn)
		} else {
			q, err = pools[i].Pricer.QuoteOutput(in, h.TokenIn)
		}
		if err != nil {
			return nil, err
		}
		if q.Sign() <= 0 {
			return nil, apperror.New(apperror.CodeInsufficientLiquidity, apperror.WithContext("zero output"))
		}
		out[i], in = q, q
	}
	return out, nil
}

// slippageBps is the largest allowance across hops.
func (e *Engine) slippageBps(path domain.Path, pools []domain.Pool, w *walk) uint32 {
	bps := e.cfg.SlippageBps
	for i, h := range path.Hops {
		depth := pools[i].Snapshot.Depth(h.TokenIn)
		impact := new(big.Int).Mul(w.inputs[i], big.NewInt(asset.BpsDenominator))
		if impact.Cmp(new(big.Int).Mul(depth, big.NewInt(int64(e.cfg.LowLiquidityImpactBps)))) > 0 {
			bps = max(bps, e.cfg.LowLiquiditySlippageBps)
		}
	}
	return bps
}

func (e *Engine) gasInAnchor(chainID uint64, anchor *asset.Asset, wei *big.Int, now time.Time) (*big.Int, error) {
	native, ok := e.tokens.GetToken(chainID, common.Address{})
	if !ok {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("native asset not registered"))
	}
	price, err := e.prices.ReferencePrice(chainID, native, anchor, now)
	if err != nil {
		return nil, err
	}
	return price.ConvertRawUp(wei), nil
}

func (e *Engine) gate(o domain.Opportunity) error {
	net := o.Costs.NetProfit
	if net.Sign() <= 0 {
		return belowFloor(o, "net profit not positive")
	}
	if floor, ok := e.cfg.MinProfit[o.Anchor.Symbol()]; ok && floor.IsPositive() {
		floorRaw, err := asset.ParseDecimal(o.Anchor, floor)
		if err != nil {
			return err
		}
		if net.Cmp(floorRaw.Raw()) < 0 {
			return belowFloor(o, "below absolute floor")
		}
	}
	if e.cfg.MinProfitBps > 0 {
		lhs := new(big.Int).Mul(net, big.NewInt(asset.BpsDenominator))
		rhs := new(big.Int).Mul(o.Borrow, big.NewInt(int64(e.cfg.MinProfitBps)))
		if lhs.Cmp(rhs) < 0 {
			return belowFloor(o, "below bps floor")
		}
	}
	if o.Confidence < e.cfg.MinConfidence {
		return apperror.New(apperror.CodeLowConfidence,
			apperror.WithContext("confidence "+o.Confidence.String()+" below "+e.cfg.MinConfidence.String()))
	}
	return nil
}

func belowFloor(o domain.Opportunity, why string) error {
	return apperror.New(apperror.CodeBelowProfitFloor,
		apperror.WithContext(why+": net "+o.Display(o.Costs.NetProfit)))
}
