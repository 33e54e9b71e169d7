// Package app fans chain heads out to the pipeline, sensors and inclusion
// watchers, and routes fee quotes to the right network.
package app

import (
	"context"

	"github.com/fd1az/mev-arbitrage/business/blockchain/domain"
)

// BlockSubscriber follows the heads of one network. The channel carries
// each height once, except when a reorg replaces it (Block.Reorged).
type BlockSubscriber interface {
	Subscribe(ctx context.Context) (<-chan *domain.Block, error)
	State() domain.ConnectionState
}

// GasOracle quotes EIP-1559 fees for the next block.
type GasOracle interface {
	FeeQuote(ctx context.Context) (domain.FeeQuote, error)
}
