package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-arbitrage/business/blockchain/app"
	"github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/cache"
	"github.com/fd1az/mev-arbitrage/internal/circuitbreaker"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

var _ app.GasOracle = (*GasOracle)(nil)

// FeeReader is the RPC surface the oracle needs; *ethclient.Client satisfies it.
type FeeReader interface {
	HeaderReader
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// GasOracleConfig holds configuration for the gas oracle.
type GasOracleConfig struct {
	ChainID      uint64
	CacheTTL     time.Duration // about one block
	MaxFeePerGas *big.Int      // never quote above this
}

// DefaultGasOracleConfig caches a quote for one block time.
func DefaultGasOracleConfig(chainID uint64, blockTime time.Duration) GasOracleConfig {
	if blockTime <= 0 {
		blockTime = 12 * time.Second
	}
	return GasOracleConfig{
		ChainID:      chainID,
		CacheTTL:     blockTime,
		MaxFeePerGas: domain.DefaultMaxFeePerGas,
	}
}

type gasOracleMetrics struct {
	fetches     metric.Int64Counter
	baseFeeGwei metric.Float64Gauge
	tipGwei     metric.Float64Gauge
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
}

type feeSample struct {
	header *types.Header
	tip    *big.Int
}

// GasOracle quotes next-block EIP-1559 fees from the latest header and the
// node's tip suggestion.
type GasOracle struct {
	config GasOracleConfig
	logger logger.LoggerInterface
	client FeeReader

	quotes *cache.Cache[string, domain.FeeQuote]
	cb     *circuitbreaker.CircuitBreaker[feeSample]
	now    func() time.Time

	tracer  trace.Tracer
	metrics *gasOracleMetrics
	attrs   metric.MeasurementOption
}

const quoteKey = "next"

// NewGasOracle creates a gas oracle over client.
func NewGasOracle(cfg GasOracleConfig, client FeeReader, log logger.LoggerInterface) (*GasOracle, error) {
	if cfg.MaxFeePerGas == nil {
		cfg.MaxFeePerGas = domain.DefaultMaxFeePerGas
	}
	quotes, err := cache.New[string, domain.FeeQuote](cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("fee cache: %w", err)
	}

	g := &GasOracle{
		config: cfg,
		logger: log,
		client: client,
		quotes: quotes,
		cb:     circuitbreaker.New[feeSample](circuitbreaker.DefaultConfig(fmt.Sprintf("gas-oracle-%d", cfg.ChainID))),
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
		attrs:  metric.WithAttributes(attribute.Int64("chain_id", int64(cfg.ChainID))),
	}
	if err := g.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return g, nil
}

func (g *GasOracle) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	g.metrics = &gasOracleMetrics{}

	g.metrics.fetches, err = meter.Int64Counter(
		"eth_fee_quote_fetches_total",
		metric.WithDescription("Fee quotes fetched from the node"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return err
	}

	g.metrics.baseFeeGwei, err = meter.Float64Gauge(
		"eth_base_fee_gwei",
		metric.WithDescription("Base fee of the latest block"),
		metric.WithUnit("gwei"),
	)
	if err != nil {
		return err
	}

	g.metrics.tipGwei, err = meter.Float64Gauge(
		"eth_priority_fee_gwei",
		metric.WithDescription("Suggested priority fee"),
		metric.WithUnit("gwei"),
	)
	if err != nil {
		return err
	}

	g.metrics.cacheHits, err = meter.Int64Counter(
		"eth_fee_cache_hits_total",
		metric.WithDescription("Fee quote cache hits"),
	)
	if err != nil {
		return err
	}

	g.metrics.cacheMisses, err = meter.Int64Counter(
		"eth_fee_cache_misses_total",
		metric.WithDescription("Fee quote cache misses"),
	)
	return err
}

// FeeQuote returns the cached quote or fetches a fresh one.
func (g *GasOracle) FeeQuote(ctx context.Context) (domain.FeeQuote, error) {
	ctx, span := g.tracer.Start(ctx, "eth.fee_quote",
		trace.WithAttributes(attribute.Int64("chain_id", int64(g.config.ChainID))),
	)
	defer span.End()

	if q, ok := g.quotes.Get(ctx, quoteKey); ok {
		g.metrics.cacheHits.Add(ctx, 1, g.attrs)
		return q, nil
	}
	g.metrics.cacheMisses.Add(ctx, 1, g.attrs)

	sample, err := g.cb.Execute(func() (feeSample, error) {
		header, err := g.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return feeSample{}, err
		}
		tip, err := g.client.SuggestGasTipCap(ctx)
		if err != nil {
			return feeSample{}, err
		}
		return feeSample{header: header, tip: tip}, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fee fetch failed")
		if apperror.HasCode(err, apperror.CodeCircuitOpen) {
			return domain.FeeQuote{}, err
		}
		return domain.FeeQuote{}, apperror.New(apperror.CodeGasEstimationFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("chain %d", g.config.ChainID)))
	}
	g.metrics.fetches.Add(ctx, 1, g.attrs)

	base := sample.header.BaseFee
	if base == nil {
		// pre-London chains: treat the whole price as tip
		base = new(big.Int)
	}
	q := domain.NewFeeQuote(base, sample.tip, g.config.MaxFeePerGas, sample.header.Number.Uint64(), g.now())

	g.metrics.baseFeeGwei.Record(ctx, domain.Gwei(q.BaseFee), g.attrs)
	g.metrics.tipGwei.Record(ctx, domain.Gwei(q.PriorityFee), g.attrs)
	span.SetAttributes(
		attribute.Int64("block", int64(q.Block)),
		attribute.String("max_fee", q.MaxFee.String()),
	)

	g.quotes.Set(ctx, quoteKey, q, g.config.CacheTTL)
	return q, nil
}

// Invalidate drops the cached quote, e.g. when a new head arrives.
func (g *GasOracle) Invalidate() {
	g.quotes.Delete(quoteKey)
}

// Close releases the cache.
func (g *GasOracle) Close() {
	g.quotes.Close()
}
