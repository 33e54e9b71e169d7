// Package app selects the capital source for an opportunity.
package app

import (
	"cmp"
	"context"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-arbitrage/business/flashloan/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

const (
	tracerName = "flashloan"
	meterName  = "flashloan"
)

// DepthReader returns how much of token each vault can lend on chainID.
type DepthReader interface {
	Depths(ctx context.Context, chainID uint64, token common.Address, vaults []common.Address) ([]*big.Int, error)
}

type selectorMetrics struct {
	selections metric.Int64Counter
	rejections metric.Int64Counter
}

// Selector decides between a zero-fee pool, a fee-based lender and a split
// across both. The decision is a pure function of provider depths.
type Selector struct {
	providers []domain.Provider
	depths    DepthReader
	logger    logger.LoggerInterface
	tracer    trace.Tracer
	metrics   *selectorMetrics
}

// NewSelector creates a selector over providers.
func NewSelector(providers []domain.Provider, depths DepthReader, log logger.LoggerInterface) *Selector {
	s := &Selector{
		providers: providers,
		depths:    depths,
		logger:    log,
		tracer:    otel.Tracer(tracerName),
	}
	meter := otel.Meter(meterName)
	s.metrics = &selectorMetrics{}
	s.metrics.selections, _ = meter.Int64Counter("flashloan_selections_total",
		metric.WithDescription("Capital sources selected, by kind"))
	s.metrics.rejections, _ = meter.Int64Counter("flashloan_no_source_total",
		metric.WithDescription("Requests no provider could serve"))
	return s
}

type candidate struct {
	provider domain.Provider
	depth    *big.Int
}

// Quote makes the selection decision without recording it.
func (s *Selector) Quote(ctx context.Context, chainID uint64, token common.Address, amount *big.Int) (domain.CapitalSource, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.CapitalSource{}, apperror.New(apperror.CodeInvalidAmount,
			apperror.WithContext("borrow amount must be positive"))
	}

	available := make([]domain.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		if p.On(chainID) {
			available = append(available, p)
		}
	}
	if len(available) == 0 {
		return domain.CapitalSource{}, noSource("no provider on network")
	}

	vaults := make([]common.Address, len(available))
	for i, p := range available {
		vaults[i] = p.Vault
	}
	depths, err := s.depths.Depths(ctx, chainID, token, vaults)
	if err != nil {
		return domain.CapitalSource{}, err
	}

	var zero, fee []candidate
	for i, p := range available {
		d := depths[i]
		if d == nil || d.Sign() <= 0 {
			continue
		}
		c := candidate{provider: p, depth: d}
		if p.Kind == domain.ZeroFee {
			zero = append(zero, c)
		} else {
			fee = append(fee, c)
		}
	}
	// zero-fee: deepest first. fee-based: cheapest, then deepest.
	slices.SortFunc(zero, func(a, b candidate) int {
		if c := b.depth.Cmp(a.depth); c != 0 {
			return c
		}
		return cmp.Compare(a.provider.Name, b.provider.Name)
	})
	slices.SortFunc(fee, func(a, b candidate) int {
		if c := cmp.Compare(a.provider.FeeBps, b.provider.FeeBps); c != 0 {
			return c
		}
		if c := b.depth.Cmp(a.depth); c != 0 {
			return c
		}
		return cmp.Compare(a.provider.Name, b.provider.Name)
	})

	src := domain.CapitalSource{ChainID: chainID, Token: token}

	if len(zero) > 0 && zero[0].depth.Cmp(amount) >= 0 {
		src.Kind = domain.ZeroFeeSource
		src.Legs = []domain.Leg{leg(zero[0], amount)}
		return src, nil
	}

	for _, c := range fee {
		if c.depth.Cmp(amount) >= 0 {
			src.Kind = domain.FeeBasedSource
			src.Legs = []domain.Leg{leg(c, amount)}
			return src, nil
		}
	}

	// Hybrid: drain the deepest zero-fee pool, borrow the rest from the
	// cheapest lender deep enough to cover it.
	if len(zero) > 0 {
		d := zero[0].depth
		rem := new(big.Int).Sub(amount, d)
		for _, c := range fee {
			if c.depth.Cmp(rem) >= 0 {
				src.Kind = domain.HybridSplit
				src.Legs = []domain.Leg{leg(zero[0], d), leg(c, rem)}
				return src, nil
			}
		}
	}

	return domain.CapitalSource{}, noSource("insufficient depth across providers")
}

// Select is Quote plus tracing, metrics and logging.
func (s *Selector) Select(ctx context.Context, chainID uint64, token common.Address, amount *big.Int) (domain.CapitalSource, error) {
	ctx, span := s.tracer.Start(ctx, "flashloan.select",
		trace.WithAttributes(
			attribute.Int64("chain_id", int64(chainID)),
			attribute.String("token", token.Hex()),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	src, err := s.Quote(ctx, chainID, token, amount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no capital source")
		if apperror.HasCode(err, apperror.CodeNoCapitalSource) {
			s.metrics.rejections.Add(ctx, 1)
			s.logger.Info(ctx, "no capital source", "chain_id", chainID, "token", token.Hex(), "amount", amount.String())
		}
		return domain.CapitalSource{}, err
	}

	s.metrics.selections.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", src.Kind.String())))
	span.SetAttributes(attribute.String("kind", src.Kind.String()), attribute.String("fee", src.Fee().String()))
	return src, nil
}

func leg(c candidate, amount *big.Int) domain.Leg {
	return domain.Leg{
		Provider: c.provider,
		Amount:   new(big.Int).Set(amount),
		Fee:      c.provider.FeeFor(amount),
		Depth:    new(big.Int).Set(c.depth),
	}
}

func noSource(why string) error {
	return apperror.New(apperror.CodeNoCapitalSource, apperror.WithContext(why))
}
