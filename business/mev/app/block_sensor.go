package app

import (
	"context"
	"math/big"

	bcdomain "github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	"github.com/fd1az/mev-arbitrage/business/mev/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

// BlockHistory yields recent blocks, oldest first.
type BlockHistory interface {
	History(chainID uint64, n int) []*bcdomain.Block
}

// halfRatio caps the base-fee term and weights utilization.
const halfRatio domain.Ratio = domain.RatioOne / 2

// BlockSensor derives signals from recent block headers.
type BlockSensor struct {
	history BlockHistory
	window  int
}

// NewBlockSensor reads the last window blocks (at least two).
func NewBlockSensor(history BlockHistory, window int) *BlockSensor {
	if window < 2 {
		window = 20
	}
	return &BlockSensor{history: history, window: window}
}

func (s *BlockSensor) Name() string { return "block" }

// Read computes congestion as min(|base fee change|, 0.5) + 0.5 * mean
// utilization over the window, and density as the coefficient of variation
// of gas used, which spikes when competing bundles land.
func (s *BlockSensor) Read(ctx context.Context, chainID uint64) (domain.Reading, error) {
	blocks := s.history.History(chainID, s.window)
	if len(blocks) < 2 {
		return domain.Reading{}, apperror.New(apperror.CodeInvalidState,
			apperror.WithContext("not enough blocks for block sensor"))
	}
	first, last := blocks[0], blocks[len(blocks)-1]

	feeTerm := domain.RatioZero
	if first.BaseFee != nil && last.BaseFee != nil && first.BaseFee.Sign() > 0 {
		delta := new(big.Int).Sub(last.BaseFee, first.BaseFee)
		delta.Abs(delta)
		delta.Mul(delta, big.NewInt(domain.RatioScale))
		delta.Quo(delta, first.BaseFee)
		if delta.IsInt64() {
			feeTerm = domain.Ratio(delta.Int64())
		} else {
			feeTerm = domain.RatioOne
		}
		feeTerm = feeTerm.Min(halfRatio)
	}

	var utilPPM uint64
	used := make([]int64, 0, len(blocks))
	for _, b := range blocks {
		utilPPM += b.UtilizationPPM()
		used = append(used, int64(b.GasUsed))
	}
	meanUtil := domain.RatioFromFraction(int64(utilPPM), int64(len(blocks))*1_000_000)
	congestion := feeTerm + halfRatio.MulRatio(meanUtil)

	return domain.Reading{
		ChainID:    chainID,
		Congestion: congestion.Clamp(),
		Density:    variation(used),
		Samples:    len(blocks),
		At:         last.Timestamp,
	}, nil
}

// variation is stddev/mean of xs as a ratio, capped at one.
func variation(xs []int64) domain.Ratio {
	n := int64(len(xs))
	if n == 0 {
		return domain.RatioZero
	}
	var sum int64
	for _, x := range xs {
		sum += x
	}
	if sum == 0 {
		return domain.RatioZero
	}
	// n^2 * var = n*sum(x^2) - sum^2
	sq := new(big.Int)
	for _, x := range xs {
		v := big.NewInt(x)
		sq.Add(sq, v.Mul(v, v))
	}
	sq.Mul(sq, big.NewInt(n))
	s := big.NewInt(sum)
	sq.Sub(sq, s.Mul(s, s))
	if sq.Sign() <= 0 {
		return domain.RatioZero
	}
	// stddev/mean = sqrt(n^2 var) / sum
	std := new(big.Int).Sqrt(sq.Mul(sq, big.NewInt(domain.RatioScale*domain.RatioScale)))
	std.Quo(std, big.NewInt(sum))
	if !std.IsInt64() {
		return domain.RatioOne
	}
	return domain.Ratio(std.Int64()).Clamp()
}
