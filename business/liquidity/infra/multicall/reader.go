// Package multicall reads venue state in batches through Multicall3.
package multicall

import (
	"cmp"
	"context"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-arbitrage/business/liquidity/app"
	"github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/circuitbreaker"
	"github.com/fd1az/mev-arbitrage/internal/logger"
	"github.com/fd1az/mev-arbitrage/internal/ratelimit"
)

const (
	tracerName = "multicall"
	meterName  = "multicall"

	// DefaultBatchSize is the number of calls per aggregate3 request.
	DefaultBatchSize = 200
	// DefaultTickWindow is the number of tick spacings read on each side of the current tick.
	DefaultTickWindow = 8
)

var _ app.StateReader = (*Reader)(nil)

// ContractCaller is the chain read interface; *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config configures a Reader for one network.
type Config struct {
	ChainID    uint64
	Address    common.Address
	BatchSize  int
	TickWindow int
}

type readerMetrics struct {
	rpcTotal    metric.Int64Counter
	callsTotal  metric.Int64Counter
	failedCalls metric.Int64Counter
	latency     metric.Float64Histogram
}

// Reader batches venue state reads for one network.
type Reader struct {
	cfg     Config
	client  ContractCaller
	limiter *ratelimit.Limiter
	cb      *circuitbreaker.CircuitBreaker[[]byte]
	abi     abi.ABI
	logger  logger.LoggerInterface
	tracer  trace.Tracer
	metrics *readerMetrics
}

// NewReader creates a batched reader. A nil limiter means unlimited.
func NewReader(cfg Config, client ContractCaller, limiter *ratelimit.Limiter, log logger.LoggerInterface) (*Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(Multicall3ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse multicall ABI: %w", err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.TickWindow <= 0 {
		cfg.TickWindow = DefaultTickWindow
	}
	if limiter == nil {
		limiter = ratelimit.New(0)
	}

	r := &Reader{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		cb:      circuitbreaker.New[[]byte](circuitbreaker.DefaultConfig(fmt.Sprintf("multicall-%d", cfg.ChainID))),
		abi:     parsed,
		logger:  log,
		tracer:  otel.Tracer(tracerName),
	}
	if err := r.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	return r, nil
}

func (r *Reader) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error
	r.metrics = &readerMetrics{}

	r.metrics.rpcTotal, err = meter.Int64Counter("multicall_rpc_total",
		metric.WithDescription("aggregate3 round trips"))
	if err != nil {
		return err
	}
	r.metrics.callsTotal, err = meter.Int64Counter("multicall_calls_total",
		metric.WithDescription("Calls carried inside aggregate3 requests"))
	if err != nil {
		return err
	}
	r.metrics.failedCalls, err = meter.Int64Counter("multicall_failed_calls_total",
		metric.WithDescription("Inner calls that reverted"))
	if err != nil {
		return err
	}
	r.metrics.latency, err = meter.Float64Histogram("multicall_latency_ms",
		metric.WithDescription("aggregate3 latency in milliseconds"),
		metric.WithUnit("ms"))
	return err
}

// request is one inner call plus where its answer goes.
type request struct {
	target common.Address
	data   []byte
	apply  func(ret []byte) error
}

// ReadVenues reads all venues. Concentrated pools need a second round for
// the ticks around their current tick; everything else fits in the first.
func (r *Reader) ReadVenues(ctx context.Context, venues []domain.Venue) ([]domain.Snapshot, error) {
	ctx, span := r.tracer.Start(ctx, "multicall.read_venues",
		trace.WithAttributes(
			attribute.Int64("chain_id", int64(r.cfg.ChainID)),
			attribute.Int("venues", len(venues)),
		),
	)
	defer span.End()

	snaps := make([]domain.Snapshot, len(venues))
	ok := make([]bool, len(venues))
	var reqs []request
	for i, v := range venues {
		snaps[i] = domain.Snapshot{Venue: v}
		built, err := r.stateRequests(&snaps[i], &ok[i])
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "encode failed")
			return nil, err
		}
		reqs = append(reqs, built...)
	}

	block, err := r.execute(ctx, reqs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "state round failed")
		return nil, err
	}

	var tickReqs []request
	for i := range snaps {
		if ok[i] && snaps[i].Venue.Protocol == domain.ConcentratedLiquidity {
			tickReqs = append(tickReqs, r.tickRequests(&snaps[i])...)
		}
	}
	if len(tickReqs) > 0 {
		if _, err := r.execute(ctx, tickReqs); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tick round failed")
			return nil, err
		}
	}

	now := time.Now()
	out := make([]domain.Snapshot, 0, len(snaps))
	for i := range snaps {
		if !ok[i] {
			r.logger.Debug(ctx, "venue read incomplete", "venue", snaps[i].Key().String())
			continue
		}
		snaps[i].Block = block
		snaps[i].FetchedAt = now
		sortTicks(snaps[i].Ticks)
		out = append(out, snaps[i])
	}

	span.SetAttributes(attribute.Int("snapshots", len(out)), attribute.Int64("block", int64(block)))
	span.SetStatus(codes.Ok, "read")
	return out, nil
}

// stateRequests builds the first-round calls of one venue. ok flips to true
// only when every call of the venue decoded.
func (r *Reader) stateRequests(snap *domain.Snapshot, ok *bool) ([]request, error) {
	v := snap.Venue
	pending := 0
	done := func() {
		pending--
		if pending == 0 {
			*ok = true
		}
	}
	add := func(reqs []request, contract abi.ABI, method string, apply func([]interface{}) error, args ...interface{}) ([]request, error) {
		data, err := contract.Pack(method, args...)
		if err != nil {
			return nil, apperror.New(apperror.CodeEncodingFailed, apperror.WithCause(err), apperror.WithContext(method))
		}
		pending++
		return append(reqs, request{
			target: v.Address,
			data:   data,
			apply: func(ret []byte) error {
				vals, err := contract.Unpack(method, ret)
				if err != nil {
					return err
				}
				if err := apply(vals); err != nil {
					return err
				}
				done()
				return nil
			},
		}), nil
	}

	var (
		reqs []request
		err  error
	)
	switch v.Protocol {
	case domain.ConstantProduct:
		reqs, err = add(reqs, domain.PairContract, "getReserves", func(vals []interface{}) error {
			snap.Reserve0 = vals[0].(*big.Int)
			snap.Reserve1 = vals[1].(*big.Int)
			return nil
		})
	case domain.ConcentratedLiquidity:
		reqs, err = add(reqs, domain.PoolContract, "slot0", func(vals []interface{}) error {
			snap.SqrtPriceX96 = vals[0].(*big.Int)
			snap.Tick = int32(vals[1].(*big.Int).Int64())
			return nil
		})
		if err == nil {
			reqs, err = add(reqs, domain.PoolContract, "liquidity", func(vals []interface{}) error {
				snap.Liquidity = vals[0].(*big.Int)
				return nil
			})
		}
	case domain.StableSwap:
		reqs, err = add(reqs, domain.CurveContract, "balances", func(vals []interface{}) error {
			snap.Reserve0 = vals[0].(*big.Int)
			return nil
		}, big.NewInt(0))
		if err == nil {
			reqs, err = add(reqs, domain.CurveContract, "balances", func(vals []interface{}) error {
				snap.Reserve1 = vals[0].(*big.Int)
				return nil
			}, big.NewInt(1))
		}
		if err == nil {
			reqs, err = add(reqs, domain.CurveContract, "A", func(vals []interface{}) error {
				snap.Amp = vals[0].(*big.Int)
				return nil
			})
		}
	default:
		return nil, apperror.New(apperror.CodeUnsupportedProtocol, apperror.WithContext(v.Protocol.String()))
	}
	return reqs, err
}

// tickRequests reads the initialized ticks within the window around the current tick.
func (r *Reader) tickRequests(snap *domain.Snapshot) []request {
	spacing := snap.Venue.TickSpacing
	if spacing <= 0 {
		spacing = 60
	}
	base := snap.Tick / spacing * spacing
	if snap.Tick < 0 && snap.Tick%spacing != 0 {
		base -= spacing
	}

	var reqs []request
	for i := -r.cfg.TickWindow; i <= r.cfg.TickWindow; i++ {
		idx := base + int32(i)*spacing
		if idx < domain.MinTick || idx > domain.MaxTick {
			continue
		}
		data, err := domain.PoolContract.Pack("ticks", big.NewInt(int64(idx)))
		if err != nil {
			continue
		}
		reqs = append(reqs, request{
			target: snap.Venue.Address,
			data:   data,
			apply: func(ret []byte) error {
				vals, err := domain.PoolContract.Unpack("ticks", ret)
				if err != nil {
					return err
				}
				if initialized, _ := vals[7].(bool); initialized {
					snap.Ticks = append(snap.Ticks, domain.TickInfo{Index: idx, LiquidityNet: vals[1].(*big.Int)})
				}
				return nil
			},
		})
	}
	return reqs
}

// execute sends reqs in batches and applies each successful result. The
// block number rides along as the first call of every batch.
func (r *Reader) execute(ctx context.Context, reqs []request) (uint64, error) {
	blockCall, err := r.abi.Pack("getBlockNumber")
	if err != nil {
		return 0, apperror.New(apperror.CodeEncodingFailed, apperror.WithCause(err))
	}

	var block uint64
	per := r.cfg.BatchSize
	for start := 0; start < len(reqs); start += per {
		end := min(start+per, len(reqs))
		batch := reqs[start:end]

		calls := make([]Call3, 0, len(batch)+1)
		calls = append(calls, Call3{Target: r.cfg.Address, AllowFailure: true, CallData: blockCall})
		for _, req := range batch {
			calls = append(calls, Call3{Target: req.target, AllowFailure: true, CallData: req.data})
		}

		results, err := r.aggregate(ctx, calls)
		if err != nil {
			return 0, err
		}
		if len(results) != len(calls) {
			return 0, apperror.New(apperror.CodeMulticallFailed,
				apperror.WithContext(fmt.Sprintf("got %d results for %d calls", len(results), len(calls))))
		}

		if results[0].Success {
			if vals, err := r.abi.Unpack("getBlockNumber", results[0].ReturnData); err == nil {
				if n := vals[0].(*big.Int).Uint64(); n > block {
					block = n
				}
			}
		}
		for i, req := range batch {
			res := results[i+1]
			if !res.Success {
				r.metrics.failedCalls.Add(ctx, 1)
				continue
			}
			if err := req.apply(res.ReturnData); err != nil {
				r.metrics.failedCalls.Add(ctx, 1)
				r.logger.Debug(ctx, "multicall decode failed", "target", req.target.Hex(), "error", err)
			}
		}
	}
	return block, nil
}

func (r *Reader) aggregate(ctx context.Context, calls []Call3) ([]Result, error) {
	data, err := r.abi.Pack("aggregate3", calls)
	if err != nil {
		return nil, apperror.New(apperror.CodeEncodingFailed, apperror.WithCause(err), apperror.WithContext("aggregate3"))
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, apperror.New(apperror.CodeRateLimitExceeded, apperror.WithCause(err))
	}

	start := time.Now()
	raw, err := r.cb.Execute(func() ([]byte, error) {
		return r.client.CallContract(ctx, ethereum.CallMsg{To: &r.cfg.Address, Data: data}, nil)
	})
	r.metrics.rpcTotal.Add(ctx, 1)
	r.metrics.callsTotal.Add(ctx, int64(len(calls)))
	r.metrics.latency.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return nil, apperror.New(apperror.CodeMulticallFailed, apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("chain %d", r.cfg.ChainID)))
	}

	vals, err := r.abi.Unpack("aggregate3", raw)
	if err != nil {
		return nil, apperror.New(apperror.CodeMulticallFailed, apperror.WithCause(err), apperror.WithContext("decode aggregate3"))
	}
	results := *abi.ConvertType(vals[0], new([]Result)).(*[]Result)
	return results, nil
}

func sortTicks(ticks []domain.TickInfo) {
	slices.SortFunc(ticks, func(a, b domain.TickInfo) int { return cmp.Compare(a.Index, b.Index) })
}

// BalanceQuery asks for the ERC20 balance of Holder in Token.
type BalanceQuery struct {
	Token  common.Address
	Holder common.Address
}

// Balances reads many ERC20 balances in one batch. A reverted read yields zero.
func (r *Reader) Balances(ctx context.Context, queries []BalanceQuery) ([]*big.Int, error) {
	ctx, span := r.tracer.Start(ctx, "multicall.balances",
		trace.WithAttributes(attribute.Int("queries", len(queries))))
	defer span.End()

	out := make([]*big.Int, len(queries))
	reqs := make([]request, 0, len(queries))
	for i, q := range queries {
		out[i] = new(big.Int)
		data, err := domain.ERC20Contract.Pack("balanceOf", q.Holder)
		if err != nil {
			return nil, apperror.New(apperror.CodeEncodingFailed, apperror.WithCause(err), apperror.WithContext("balanceOf"))
		}
		reqs = append(reqs, request{
			target: q.Token,
			data:   data,
			apply: func(ret []byte) error {
				vals, err := domain.ERC20Contract.Unpack("balanceOf", ret)
				if err != nil {
					return err
				}
				out[i] = vals[0].(*big.Int)
				return nil
			},
		})
	}
	if _, err := r.execute(ctx, reqs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "balances failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "read")
	return out, nil
}
