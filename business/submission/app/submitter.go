package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	bcdomain "github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	exdomain "github.com/fd1az/mev-arbitrage/business/execution/domain"
	"github.com/fd1az/mev-arbitrage/business/submission/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

const (
	tracerName = "github.com/fd1az/mev-arbitrage/business/submission/app"
	meterName  = "github.com/fd1az/mev-arbitrage/business/submission/app"
)

// SubmitterConfig controls waiting, retries and fallback.
type SubmitterConfig struct {
	InclusionBlocks    uint64
	MaxRetries         int
	PriorityFeeBumpBps uint32
	PublicFallback     bool
	RaceMode           bool
	Privacy            domain.PrivacyPolicy
}

// Route is everything needed to submit on one chain.
type Route struct {
	Sequencer *Sequencer
	Simulator Simulator
	// Protected channels in priority order; the first is primary.
	Protected []Channel
	// Public may be nil.
	Public Channel
}

// Request is a plan plus what the privacy and fallback rules need to know
// about the opportunity behind it.
type Request struct {
	Plan   exdomain.Plan
	Anchor string
	// Value is the opportunity's value at risk in anchor units.
	Value *big.Int
}

type submitterMetrics struct {
	results  metric.Int64Counter
	attempts metric.Int64Counter
}

// Submitter simulates plans and pushes them through protected channels.
type Submitter struct {
	cfg     SubmitterConfig
	routes  map[uint64]Route
	signer  Signer
	watcher InclusionWatcher
	heads   HeadSource
	logger  logger.LoggerInterface
	tracer  trace.Tracer
	metrics *submitterMetrics
	now     func() time.Time
}

// NewSubmitter creates a submitter over per-chain routes.
func NewSubmitter(cfg SubmitterConfig, routes map[uint64]Route, signer Signer, watcher InclusionWatcher, heads HeadSource, log logger.LoggerInterface) *Submitter {
	if cfg.InclusionBlocks == 0 {
		cfg.InclusionBlocks = 3
	}
	s := &Submitter{
		cfg:     cfg,
		routes:  routes,
		signer:  signer,
		watcher: watcher,
		heads:   heads,
		logger:  log,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	meter := otel.Meter(meterName)
	s.metrics = &submitterMetrics{}
	s.metrics.results, _ = meter.Int64Counter("submission_results_total",
		metric.WithDescription("Submissions by terminal state"))
	s.metrics.attempts, _ = meter.Int64Counter("submission_attempts_total",
		metric.WithDescription("Sends by channel"))
	return s
}

// Sequencer returns the sequencer for chainID, if routed.
func (s *Submitter) Sequencer(chainID uint64) (*Sequencer, bool) {
	r, ok := s.routes[chainID]
	if !ok {
		return nil, false
	}
	return r.Sequencer, true
}

// Submit runs a plan from Built to a terminal state. The returned result is
// never nil; the error is nil only for Confirmed.
func (s *Submitter) Submit(ctx context.Context, req Request) (*domain.Result, error) {
	plan := req.Plan
	ctx, span := s.tracer.Start(ctx, "submission.submit",
		trace.WithAttributes(
			attribute.String("opportunity_id", plan.OpportunityID()),
			attribute.Int64("chain_id", int64(plan.ChainID())),
			attribute.Bool("race", s.cfg.RaceMode),
		),
	)
	defer span.End()

	privacy := s.cfg.Privacy.Select(req.Anchor, req.Value)
	res := domain.NewResult(plan.OpportunityID(), plan.ChainID(), privacy, s.now())

	res, err := s.submit(ctx, req, res)
	s.metrics.results.Add(ctx, 1, metric.WithAttributes(attribute.String("state", res.State.String())))
	span.SetAttributes(
		attribute.String("state", res.State.String()),
		attribute.Int("attempts", len(res.Attempts)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperror.GetCode(err)))
	}
	return res, err
}

func (s *Submitter) submit(ctx context.Context, req Request, res *domain.Result) (*domain.Result, error) {
	plan := req.Plan
	route, ok := s.routes[plan.ChainID()]
	if !ok {
		return s.discard(ctx, res, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext(fmt.Sprintf("no submission route for chain %d", plan.ChainID()))))
	}
	if err := plan.Validate(); err != nil {
		return s.discard(ctx, res, err)
	}

	public := s.publicAllowed(route, req)
	if len(route.Protected) == 0 && !public {
		return s.discard(ctx, res, apperror.New(apperror.CodeProtectionViolation,
			apperror.WithContext("no protected channel and public fallback not allowed")))
	}

	lease, err := route.Sequencer.Acquire(ctx)
	if err != nil {
		return s.discard(ctx, res, err)
	}

	tx, err := s.signer.SignPlan(plan, lease.Nonce())
	if err != nil {
		lease.Fail()
		return s.discard(ctx, res, err)
	}

	sim, err := route.Simulator.Simulate(ctx, s.signer.Address(), tx)
	if err != nil {
		lease.Fail()
		return s.discard(ctx, res, err)
	}
	if err := res.Transition(domain.StateSimulated); err != nil {
		lease.Fail()
		return res, err
	}
	s.logger.Debug(ctx, "plan simulated",
		"opportunity_id", plan.OpportunityID(),
		"gas_used", sim.GasUsed,
		"profit", sim.Profit)

	run := &run{
		s:       s,
		route:   route,
		plan:    plan,
		lease:   lease,
		res:     res,
		sim:     sim,
		privacy: res.Privacy,
	}

	var inc *landing
	if s.cfg.RaceMode {
		inc, err = run.race(ctx, tx)
	} else {
		inc, err = run.sequential(ctx, tx)
	}
	if inc == nil && err == nil && public {
		inc, err = run.tryPublic(ctx)
	}
	return run.finish(ctx, inc, err)
}

// publicAllowed applies the protection threshold: the public mempool is only
// an option for opportunities at or below it.
func (s *Submitter) publicAllowed(route Route, req Request) bool {
	if !s.cfg.PublicFallback || route.Public == nil || route.Public.Protected() {
		return false
	}
	return !s.cfg.Privacy.AboveThreshold(req.Anchor, req.Value)
}

func (s *Submitter) discard(ctx context.Context, res *domain.Result, err error) (*domain.Result, error) {
	_ = res.Transition(domain.StateDiscarded)
	res.Fail(err)
	res.Finish(domain.OutcomeRejected, s.now())

	logf := s.logger.Warn
	if apperror.MustSurface(err) {
		logf = s.logger.Error
	}
	logf(ctx, "plan discarded",
		"opportunity_id", res.OpportunityID,
		"code", apperror.GetCode(err),
		"error", err)
	return res, err
}

// landing is a winning inclusion and the channel that produced it.
type landing struct {
	channel string
	id      common.Hash
	tx      *types.Transaction
	inc     Inclusion
}

// run is one submission's mutable state between simulation and terminal.
type run struct {
	s       *Submitter
	route   Route
	plan    exdomain.Plan
	lease   *Lease
	sim     Simulation
	privacy domain.PrivacyTradeoff

	mu  sync.Mutex
	res *domain.Result

	// set once a send reports a stale nonce
	conflict atomic.Bool
}

// sequential tries the primary with fee-bumped retries, then each
// secondary once. A nil landing with nil error means nothing landed.
func (r *run) sequential(ctx context.Context, tx *types.Transaction) (*landing, error) {
	primary := r.route.Protected
	if len(primary) == 0 {
		return nil, nil
	}

	current := tx
	for i := 0; i <= r.s.cfg.MaxRetries; i++ {
		if i > 0 {
			next, err := r.bump()
			if err != nil {
				return nil, err
			}
			current = next
		}
		l, err := r.attempt(ctx, primary[0], current)
		if l != nil || stop(ctx, err) {
			return l, err
		}
	}

	for _, ch := range primary[1:] {
		l, err := r.attempt(ctx, ch, current)
		if l != nil || stop(ctx, err) {
			return l, err
		}
	}
	return nil, nil
}

// race sends to every protected channel at once. The first inclusion wins
// and cancels the rest.
func (r *run) race(ctx context.Context, tx *types.Transaction) (*landing, error) {
	if len(r.route.Protected) == 0 {
		return nil, nil
	}
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		won    atomic.Bool
		winner *landing
		fatal  error
	)
	if err := r.enterSubmitted(); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(raceCtx)
	for _, ch := range r.route.Protected {
		g.Go(func() error {
			l, err := r.send(gctx, ch, tx)
			if l == nil {
				if apperror.HasCode(err, apperror.CodeSequenceConflict) {
					r.mu.Lock()
					fatal = err
					r.mu.Unlock()
					cancel()
				}
				return nil
			}
			if won.CompareAndSwap(false, true) {
				r.mu.Lock()
				winner = l
				r.mu.Unlock()
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	if winner != nil {
		return winner, nil
	}
	if fatal != nil {
		return nil, fatal
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (r *run) tryPublic(ctx context.Context) (*landing, error) {
	current := r.currentTx()
	if current == nil {
		return nil, nil
	}
	l, err := r.attempt(ctx, r.route.Public, current)
	if l != nil {
		return l, nil
	}
	if stop(ctx, err) {
		return nil, err
	}
	return nil, nil
}

// attempt moves to Submitted and sends once.
func (r *run) attempt(ctx context.Context, ch Channel, tx *types.Transaction) (*landing, error) {
	if err := r.enterSubmitted(); err != nil {
		return nil, err
	}
	return r.send(ctx, ch, tx)
}

func (r *run) enterSubmitted() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.res.Transition(domain.StateSubmitted)
}

// send offers tx for the next InclusionBlocks blocks, capped at the plan's
// deadline, and waits for it.
func (r *run) send(ctx context.Context, ch Channel, tx *types.Transaction) (*landing, error) {
	chainID := r.plan.ChainID()
	head, ok := r.s.heads.Latest(chainID)
	if !ok {
		return nil, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithContext(fmt.Sprintf("no head for chain %d", chainID)))
	}
	deadline := r.plan.DeadlineBlock()
	if head.Number >= deadline {
		return nil, errDeadline(deadline)
	}
	minBlock := head.Number + 1
	maxBlock := min(head.Number+r.s.cfg.InclusionBlocks, deadline)

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, apperror.New(apperror.CodeEncodingFailed, apperror.WithCause(err))
	}

	att := domain.Attempt{
		Channel:        ch.Name(),
		Protected:      ch.Protected(),
		Nonce:          tx.Nonce(),
		MaxPriorityFee: tx.GasTipCap(),
		MinBlock:       minBlock,
		MaxBlock:       maxBlock,
		TxHash:         tx.Hash(),
		At:             r.s.now(),
	}
	r.s.metrics.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", ch.Name())))

	id, err := ch.Send(ctx, Bundle{
		ChainID:  chainID,
		Tx:       tx,
		Raw:      raw,
		MinBlock: minBlock,
		MaxBlock: maxBlock,
		Privacy:  r.privacy,
	})
	if err != nil {
		err = classifySendError(err)
		att.Error = err.Error()
		r.record(att)
		if apperror.HasCode(err, apperror.CodeSequenceConflict) {
			r.conflict.Store(true)
		}
		r.s.logger.Warn(ctx, "send failed", "channel", ch.Name(), "code", apperror.GetCode(err), "error", err)
		return nil, err
	}
	att.ID = id
	r.record(att)

	inc, err := r.s.watcher.Wait(ctx, chainID, tx.Hash(), maxBlock)
	if err != nil {
		r.s.logger.Debug(ctx, "not included", "channel", ch.Name(), "max_block", maxBlock, "error", err)
		return nil, err
	}
	return &landing{channel: ch.Name(), id: id, tx: tx, inc: inc}, nil
}

func (r *run) record(att domain.Attempt) {
	r.mu.Lock()
	r.res.Record(att)
	r.mu.Unlock()
}

// bump re-signs the plan with the same nonce and a higher tip.
func (r *run) bump() (*types.Transaction, error) {
	tip := r.plan.MaxPriorityFeePerGas()
	maxFee := r.plan.MaxFeePerGas()
	base := new(big.Int).Sub(maxFee, tip)
	if base.Sign() < 0 {
		base.SetInt64(0)
	}
	q := bcdomain.FeeQuote{BaseFee: base, PriorityFee: tip, MaxFee: maxFee}.BumpPriority(r.s.cfg.PriorityFeeBumpBps)

	plan, err := r.plan.WithFees(q.MaxFee, q.PriorityFee)
	if err != nil {
		return nil, err
	}
	r.plan = plan
	return r.s.signer.SignPlan(plan, r.lease.Nonce())
}

// currentTx signs the plan at its current fees.
func (r *run) currentTx() *types.Transaction {
	tx, err := r.s.signer.SignPlan(r.plan, r.lease.Nonce())
	if err != nil {
		return nil
	}
	return tx
}

// finish settles the lease and stamps the terminal state.
func (r *run) finish(ctx context.Context, l *landing, err error) (*domain.Result, error) {
	s := r.s
	res := r.res

	switch {
	case l != nil && l.inc.Success:
		_ = res.Transition(domain.StateConfirmed)
		res.Channel = l.channel
		res.BundleHash = l.id
		res.TxHash = l.tx.Hash()
		res.InclusionBlock = l.inc.Block
		res.GasUsed = l.inc.GasUsed
		if r.sim.Profit != nil {
			res.RealizedProfit = new(big.Int).Set(r.sim.Profit)
		}
		res.Finish(domain.OutcomeAccepted, s.now())
		r.lease.Confirm()
		s.logger.Info(ctx, "plan confirmed",
			"opportunity_id", res.OpportunityID,
			"channel", l.channel,
			"block", l.inc.Block,
			"profit", res.RealizedProfit)
		return res, nil

	case l != nil:
		err = apperror.New(apperror.CodeTransactionReverted,
			apperror.WithContext(fmt.Sprintf("%s in block %d", l.tx.Hash().Hex(), l.inc.Block)))
		_ = res.Transition(domain.StateReverted)
		res.Channel = l.channel
		res.BundleHash = l.id
		res.TxHash = l.tx.Hash()
		res.InclusionBlock = l.inc.Block
		res.GasUsed = l.inc.GasUsed
		res.Fail(err)
		res.Finish(domain.OutcomeAccepted, s.now())
		r.lease.Fail()
		s.logger.Error(ctx, "plan reverted on chain", "opportunity_id", res.OpportunityID, "error", err)
		return res, err
	}

	outcome := domain.OutcomeTimedOut
	if r.conflict.Load() || apperror.HasCode(err, apperror.CodeSequenceConflict) {
		if err == nil || !apperror.HasCode(err, apperror.CodeSequenceConflict) {
			err = apperror.New(apperror.CodeSequenceConflict, apperror.WithContext("nonce too low"))
		}
		outcome = domain.OutcomeRejected
		r.lease.Conflict()
	} else {
		if err == nil || !apperror.HasCode(err, apperror.CodeSubmissionTimeout) {
			err = apperror.New(apperror.CodeSubmissionTimeout,
				apperror.WithCause(err),
				apperror.WithContext(fmt.Sprintf("%d attempts", len(res.Attempts))))
		}
		r.lease.Fail()
	}

	if res.State == domain.StateSimulated {
		_ = res.Transition(domain.StateSubmitted)
	}
	_ = res.Transition(domain.StateExpired)
	res.Fail(err)
	res.Finish(outcome, s.now())
	return res, err
}

// stop reports whether the fallback chain should end early.
func stop(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return apperror.HasCode(err, apperror.CodeSequenceConflict) || isDeadline(err)
}

var errDeadlinePassed = errors.New("deadline block passed")

func errDeadline(block uint64) error {
	return apperror.New(apperror.CodeSubmissionTimeout,
		apperror.WithCause(errDeadlinePassed),
		apperror.WithContext(fmt.Sprintf("deadline block %d", block)))
}

func isDeadline(err error) bool {
	return errors.Is(err, errDeadlinePassed)
}

// classifySendError maps a stale-nonce rejection to CodeSequenceConflict.
func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "nonce too low") || strings.Contains(msg, "nonce has already been used") {
		return apperror.New(apperror.CodeSequenceConflict, apperror.WithCause(err))
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.New(apperror.CodeRelayError, apperror.WithCause(err))
}
