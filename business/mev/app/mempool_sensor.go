package app

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/business/mev/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

// PendingTx is the part of a pending transaction the sensor looks at.
type PendingTx struct {
	To       *common.Address
	Selector [4]byte
	Value    *big.Int
	GasPrice *big.Int
	Seen     time.Time
}

// PendingSource streams pending transactions of one network.
type PendingSource interface {
	Pending(ctx context.Context) (<-chan PendingTx, error)
}

// TxFilter keeps pending transactions by target, selector and value range.
// Every non-empty criterion must match.
type TxFilter struct {
	Targets   map[common.Address]struct{}
	Selectors map[[4]byte]struct{}
	MinValue  *big.Int
	MaxValue  *big.Int // nil is unbounded
}

// Match reports whether tx passes the filter.
func (f TxFilter) Match(tx PendingTx) bool {
	if len(f.Targets) > 0 {
		if tx.To == nil {
			return false
		}
		if _, ok := f.Targets[*tx.To]; !ok {
			return false
		}
	}
	if len(f.Selectors) > 0 {
		if _, ok := f.Selectors[tx.Selector]; !ok {
			return false
		}
	}
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	if f.MinValue != nil && value.Cmp(f.MinValue) < 0 {
		return false
	}
	if f.MaxValue != nil && value.Cmp(f.MaxValue) > 0 {
		return false
	}
	return true
}

const (
	// highGasMultiple marks a pending tx as competitive when its gas price
	// exceeds this multiple of the window average.
	highGasMultiple = 5
	// densityCountSaturation is the pending count at which the activity term saturates.
	densityCountSaturation = 50
	// pressureSaturation is the per-window arrival count read as full congestion.
	pressureSaturation = 200
)

// MempoolSensor watches a pending transaction stream and scores searcher
// density. It never triggers execution.
type MempoolSensor struct {
	chainID uint64
	source  PendingSource
	filter  TxFilter
	routers map[common.Address]struct{}
	window  time.Duration
	logger  logger.LoggerInterface
	now     func() time.Time

	mu      sync.Mutex
	pending []PendingTx
	live    atomic.Bool
}

// NewMempoolSensor scores transactions seen within window.
func NewMempoolSensor(chainID uint64, source PendingSource, filter TxFilter, routers []common.Address, window time.Duration, log logger.LoggerInterface) *MempoolSensor {
	if window <= 0 {
		window = domain.DefaultInterval
	}
	set := make(map[common.Address]struct{}, len(routers))
	for _, r := range routers {
		set[r] = struct{}{}
	}
	return &MempoolSensor{
		chainID: chainID,
		source:  source,
		filter:  filter,
		routers: set,
		window:  window,
		logger:  log,
		now:     time.Now,
	}
}

func (s *MempoolSensor) Name() string { return "mempool" }

// Run consumes the stream until ctx ends or the stream closes.
func (s *MempoolSensor) Run(ctx context.Context) error {
	txs, err := s.source.Pending(ctx)
	if err != nil {
		return err
	}
	s.live.Store(true)
	defer s.live.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tx, ok := <-txs:
			if !ok {
				s.logger.Warn(ctx, "pending transaction stream closed", "chain_id", s.chainID)
				return nil
			}
			s.Observe(tx)
		}
	}
}

// Observe records tx if it passes the filter.
func (s *MempoolSensor) Observe(tx PendingTx) {
	if !s.filter.Match(tx) {
		return
	}
	if tx.Seen.IsZero() {
		tx.Seen = s.now()
	}
	s.mu.Lock()
	s.pending = append(s.pending, tx)
	s.mu.Unlock()
}

// Read scores the transactions within the window:
// density = 0.4*highGasShare + 0.4*routerShare + 0.2*min(count/50, 1).
func (s *MempoolSensor) Read(ctx context.Context, chainID uint64) (domain.Reading, error) {
	if chainID != s.chainID {
		return domain.Reading{}, apperror.New(apperror.CodeNotFound,
			apperror.WithContext("mempool sensor not attached to this network"))
	}
	if !s.live.Load() {
		return domain.Reading{}, apperror.New(apperror.CodeInvalidState,
			apperror.WithContext("pending transaction stream is down"))
	}

	now := s.now()
	window := s.prune(now)
	count := int64(len(window))
	if count == 0 {
		return domain.Reading{ChainID: chainID, At: now}, nil
	}

	total := new(big.Int)
	for _, tx := range window {
		if tx.GasPrice != nil {
			total.Add(total, tx.GasPrice)
		}
	}
	// gasPrice > 5*avg  <=>  count*gasPrice > 5*total
	threshold := new(big.Int).Mul(total, big.NewInt(highGasMultiple))
	var highGas, routed int64
	for _, tx := range window {
		if tx.GasPrice != nil {
			scaled := new(big.Int).Mul(tx.GasPrice, big.NewInt(count))
			if scaled.Cmp(threshold) > 0 {
				highGas++
			}
		}
		if tx.To != nil {
			if _, ok := s.routers[*tx.To]; ok {
				routed++
			}
		}
	}

	const (
		w4 domain.Ratio = 400_000_000
		w2 domain.Ratio = 200_000_000
	)
	density := w4.MulRatio(domain.RatioFromFraction(highGas, count)) +
		w4.MulRatio(domain.RatioFromFraction(routed, count)) +
		w2.MulRatio(domain.RatioFromFraction(count, densityCountSaturation))

	return domain.Reading{
		ChainID:    chainID,
		Congestion: domain.RatioFromFraction(count, pressureSaturation),
		Density:    density.Clamp(),
		Samples:    int(count),
		At:         now,
	}, nil
}

func (s *MempoolSensor) prune(now time.Time) []PendingTx {
	cutoff := now.Add(-s.window)
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.pending[:0]
	for _, tx := range s.pending {
		if !tx.Seen.Before(cutoff) {
			kept = append(kept, tx)
		}
	}
	s.pending = kept
	return append([]PendingTx(nil), kept...)
}
