package app

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/mev-arbitrage/business/arbitrage/domain"
	bcdomain "github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	mevdomain "github.com/fd1az/mev-arbitrage/business/mev/domain"
	subapp "github.com/fd1az/mev-arbitrage/business/submission/app"
	subdomain "github.com/fd1az/mev-arbitrage/business/submission/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

const (
	defaultWorkers         = 4
	defaultSpatialInterval = 12 * time.Second
)

// Pipeline stages, used in logs, metrics and alerts.
const (
	StageSelect   = "select"
	StageValidate = "validate"
	StageBuild    = "build"
	StageSubmit   = "submit"
)

// PipelineConfig holds the search and concurrency settings of one cycle.
type PipelineConfig struct {
	Anchors []string // symbols
	MaxHops int
	Workers int // concurrent path evaluations per network

	CrossNetwork    bool
	BridgeCostBps   uint32
	SpatialInterval time.Duration
}

type pipelineMetrics struct {
	cycles        metric.Int64Counter
	dropped       metric.Int64Counter
	cycleDuration metric.Float64Histogram
}

// Pipeline runs detection through submission for a set of networks.
type Pipeline struct {
	cfg       PipelineConfig
	store     SnapshotSource
	signals   SignalSource
	tokens    TokenDirectory
	finder    *PathFinder
	engine    *Engine
	capital   CapitalSelector
	builder   PlanBuilder
	submitter PlanSubmitter
	reporter  Reporter
	logger    logger.LoggerInterface
	tracer    trace.Tracer
	metrics   *pipelineMetrics
	now       func() time.Time
}

// NewPipeline wires the pipeline stages together.
func NewPipeline(
	cfg PipelineConfig,
	store SnapshotSource,
	signals SignalSource,
	tokens TokenDirectory,
	finder *PathFinder,
	engine *Engine,
	capital CapitalSelector,
	builder PlanBuilder,
	submitter PlanSubmitter,
	reporter Reporter,
	log logger.LoggerInterface,
) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.SpatialInterval <= 0 {
		cfg.SpatialInterval = defaultSpatialInterval
	}
	cfg.MaxHops = ClampHops(cfg.MaxHops)

	p := &Pipeline{
		cfg:       cfg,
		store:     store,
		signals:   signals,
		tokens:    tokens,
		finder:    finder,
		engine:    engine,
		capital:   capital,
		builder:   builder,
		submitter: submitter,
		reporter:  reporter,
		logger:    log,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	p.initMetrics()
	return p
}

func (p *Pipeline) initMetrics() {
	meter := otel.Meter(meterName)
	p.metrics = &pipelineMetrics{}
	p.metrics.cycles, _ = meter.Int64Counter("arbitrage_cycles_total",
		metric.WithDescription("Evaluation cycles per network"))
	p.metrics.dropped, _ = meter.Int64Counter("arbitrage_dropped_total",
		metric.WithDescription("Opportunities dropped after ranking, by stage and code"))
	p.metrics.cycleDuration, _ = meter.Float64Histogram("arbitrage_cycle_duration_seconds",
		metric.WithDescription("Wall time of one network cycle"))
}

// Evaluate runs one cycle for every network in scope. Only opportunities
// that reach the submitter produce a result. The channel is closed once all
// networks finish or ctx is canceled.
func (p *Pipeline) Evaluate(ctx context.Context, scope []uint64) <-chan *subdomain.Result {
	out := make(chan *subdomain.Result, len(scope))
	go func() {
		defer close(out)
		var wg sync.WaitGroup
		for _, chainID := range scope {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.cycle(ctx, chainID, out)
			}()
		}
		wg.Wait()
	}()
	return out
}

func (p *Pipeline) cycle(ctx context.Context, chainID uint64, out chan<- *subdomain.Result) {
	ctx, span := p.tracer.Start(ctx, "arbitrage.cycle",
		trace.WithAttributes(attribute.Int64("chain_id", int64(chainID))))
	defer span.End()

	began := time.Now()
	chainAttr := metric.WithAttributes(attribute.Int64("chain_id", int64(chainID)))
	p.metrics.cycles.Add(ctx, 1, chainAttr)
	defer func() {
		p.metrics.cycleDuration.Record(ctx, time.Since(began).Seconds(), chainAttr)
	}()

	snaps := p.store.Fresh(chainID, p.now())
	if len(snaps) == 0 {
		p.logger.Debug(ctx, "no fresh snapshots", "chain_id", chainID)
		return
	}
	g := domain.BuildGraph(chainID, snaps)
	anchors := p.anchors(chainID)
	if len(anchors) == 0 {
		return
	}
	sig := p.signals.Latest(chainID)

	opps := p.evaluateAll(ctx, g, anchors, sig)
	top := domain.SelectTop(domain.Rank(opps))
	span.SetAttributes(
		attribute.Int("snapshots", len(snaps)),
		attribute.Int("accepted", len(opps)),
		attribute.Int("selected", len(top)),
	)

	for _, opp := range top {
		if ctx.Err() != nil {
			return
		}
		res := p.execute(ctx, opp)
		if res == nil {
			continue
		}
		select {
		case out <- res:
		case <-ctx.Done():
			return
		}
	}
}

// evaluateAll prices candidate paths on a bounded worker pool. Rejected
// paths are dropped at debug level.
func (p *Pipeline) evaluateAll(ctx context.Context, g *domain.Graph, anchors []common.Address, sig mevdomain.Signals) []domain.Opportunity {
	var (
		mu   sync.Mutex
		opps []domain.Opportunity
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.Workers)
	for path := range p.finder.Find(g, anchors, p.cfg.MaxHops) {
		if ectx.Err() != nil {
			break
		}
		eg.Go(func() error {
			opp, err := p.engine.Evaluate(ectx, path, g, sig)
			if err != nil {
				p.logger.Debug(ectx, "path rejected",
					"chain_id", path.ChainID,
					"path", path.String(),
					"code", apperror.GetCode(err))
				return nil
			}
			mu.Lock()
			opps = append(opps, opp)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return opps
}

// execute funds, re-checks, builds and submits one selected opportunity.
func (p *Pipeline) execute(ctx context.Context, opp domain.Opportunity) *subdomain.Result {
	capital, err := p.capital.Select(ctx, opp.ChainID, opp.AnchorAddress(), opp.Borrow)
	if err != nil {
		p.drop(ctx, opp, StageSelect, err)
		return nil
	}
	if err := p.store.Validate(opp.Snapshots(), p.now()); err != nil {
		p.drop(ctx, opp, StageValidate, err)
		return nil
	}
	plan, err := p.builder.Build(ctx, opp, capital)
	if err != nil {
		p.drop(ctx, opp, StageBuild, err)
		return nil
	}

	p.logger.Info(ctx, "submitting opportunity",
		"opportunity_id", opp.ID,
		"chain_id", opp.ChainID,
		"path", opp.Path.String(),
		"borrow", opp.Display(opp.Borrow),
		"net_profit", opp.Display(opp.Costs.NetProfit),
		"mev_risk", opp.Display(opp.Costs.MEVRisk),
		"risk_score", opp.RiskScore.String(),
		"capital", capital.Kind)

	res, err := p.submitter.Submit(ctx, subapp.Request{
		Plan:   plan,
		Anchor: opp.Anchor.Symbol(),
		Value:  opp.ValueAtRisk(),
	})
	if err != nil {
		p.drop(ctx, opp, StageSubmit, err)
	}
	return res
}

// drop logs a failure by severity and forwards the ones operators must see.
func (p *Pipeline) drop(ctx context.Context, opp domain.Opportunity, stage string, err error) {
	code := apperror.GetCode(err)
	p.metrics.dropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("code", string(code)),
	))
	args := []any{
		"opportunity_id", opp.ID,
		"chain_id", opp.ChainID,
		"stage", stage,
		"code", code,
		"error", err,
	}

	switch {
	case code == apperror.CodeStaleData:
		p.logger.Debug(ctx, "opportunity dropped", args...)
	case code == apperror.CodeInsufficientLiquidity, code == apperror.CodeNoCapitalSource:
		p.logger.Info(ctx, "opportunity dropped", args...)
	case apperror.MustSurface(err):
		p.logger.Error(ctx, "opportunity failed", args...)
		p.reporter.Alert(ctx, domain.Alert{
			OpportunityID: opp.ID,
			ChainID:       opp.ChainID,
			Stage:         stage,
			Code:          string(code),
			Message:       err.Error(),
			At:            p.now(),
		})
	default:
		p.logger.Warn(ctx, "opportunity failed", args...)
	}
}

func (p *Pipeline) anchors(chainID uint64) []common.Address {
	out := make([]common.Address, 0, len(p.cfg.Anchors))
	for _, sym := range p.cfg.Anchors {
		if a, ok := p.tokens.GetBySymbolAndChain(sym, chainID); ok {
			out = append(out, a.Address())
		}
	}
	return out
}

// Spatial reports cross-network candidates over the fresh snapshots of scope.
func (p *Pipeline) Spatial(ctx context.Context, scope []uint64) int {
	now := p.now()
	graphs := make(map[uint64]*domain.Graph, len(scope))
	for _, chainID := range scope {
		if snaps := p.store.Fresh(chainID, now); len(snaps) > 0 {
			graphs[chainID] = domain.BuildGraph(chainID, snaps)
		}
	}
	if len(graphs) < 2 {
		return 0
	}
	n := 0
	for c := range p.finder.FindSpatial(graphs, p.cfg.Anchors, p.tokens, p.cfg.BridgeCostBps) {
		p.reporter.ReportSpatial(ctx, c)
		n++
	}
	return n
}

// Run evaluates each network on every new block and forwards results to the
// reporter until ctx ends. Blocks that arrive during a cycle collapse into
// the latest one.
func (p *Pipeline) Run(ctx context.Context, blocks BlockSource, scope []uint64) error {
	if err := p.reporter.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := p.reporter.Stop(); err != nil {
			p.logger.Warn(ctx, "reporter stop failed", "error", err)
		}
	}()

	feeds := make([]<-chan *bcdomain.Block, len(scope))
	for i, chainID := range scope {
		feed, cancel, err := blocks.Blocks(chainID)
		if err != nil {
			return err
		}
		defer cancel()
		feeds[i] = feed
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, chainID := range scope {
		g.Go(func() error {
			p.follow(ctx, chainID, feeds[i])
			return nil
		})
	}
	if p.cfg.CrossNetwork && len(scope) > 1 {
		g.Go(func() error {
			ticker := time.NewTicker(p.cfg.SpatialInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					p.Spatial(ctx, scope)
				}
			}
		})
	}

	p.logger.Info(ctx, "arbitrage pipeline running", "networks", len(scope), "anchors", p.cfg.Anchors)
	return g.Wait()
}

func (p *Pipeline) follow(ctx context.Context, chainID uint64, feed <-chan *bcdomain.Block) {
	for {
		var block *bcdomain.Block
		select {
		case <-ctx.Done():
			return
		case b, ok := <-feed:
			if !ok {
				p.logger.Warn(ctx, "block feed closed", "chain_id", chainID)
				return
			}
			block = b
		}
		orphaned := block.OrphanedFrom
	drain:
		for {
			select {
			case b, ok := <-feed:
				if !ok {
					break drain
				}
				block = b
				if b.Reorged() && (orphaned == 0 || b.OrphanedFrom < orphaned) {
					orphaned = b.OrphanedFrom
				}
			default:
				break drain
			}
		}

		if orphaned != 0 {
			n := p.store.Rewind(chainID, orphaned)
			p.logger.Warn(ctx, "reorg: dropped orphaned snapshots",
				"chain_id", chainID, "from", orphaned, "snapshots", n)
		}
		p.logger.Debug(ctx, "cycle", "chain_id", chainID, "block", block.Number)
		for res := range p.Evaluate(ctx, []uint64{chainID}) {
			p.reporter.Report(ctx, res)
		}
	}
}
