// Package inclusion watches new blocks for submitted transactions.
package inclusion

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	bcdomain "github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	"github.com/fd1az/mev-arbitrage/business/submission/app"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

// BlockFeed is the block broadcast; *blockchain/app.Registry satisfies it.
type BlockFeed interface {
	Blocks(chainID uint64) (<-chan *bcdomain.Block, func(), error)
}

// ReceiptReader is satisfied by *ethclient.Client.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ app.InclusionWatcher = (*Watcher)(nil)

// Watcher checks for a receipt on every new block until the deadline.
type Watcher struct {
	blocks   BlockFeed
	receipts map[uint64]ReceiptReader
	logger   logger.LoggerInterface
}

// NewWatcher creates a watcher with one receipt reader per chain.
func NewWatcher(blocks BlockFeed, receipts map[uint64]ReceiptReader, log logger.LoggerInterface) *Watcher {
	return &Watcher{blocks: blocks, receipts: receipts, logger: log}
}

// Wait returns once tx has a receipt, or fails with CodeSubmissionTimeout
// after the deadline block passes without one.
func (w *Watcher) Wait(ctx context.Context, chainID uint64, tx common.Hash, deadline uint64) (app.Inclusion, error) {
	reader, ok := w.receipts[chainID]
	if !ok {
		return app.Inclusion{}, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext(fmt.Sprintf("no receipt reader for chain %d", chainID)))
	}
	blocks, cancel, err := w.blocks.Blocks(chainID)
	if err != nil {
		return app.Inclusion{}, err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return app.Inclusion{}, ctx.Err()
		case b, ok := <-blocks:
			if !ok {
				return app.Inclusion{}, apperror.New(apperror.CodeEthereumSubscribeFailed,
					apperror.WithContext(fmt.Sprintf("block feed closed for chain %d", chainID)))
			}
			rcpt, err := reader.TransactionReceipt(ctx, tx)
			switch {
			case err == nil && rcpt != nil:
				inc := app.Inclusion{
					GasUsed: rcpt.GasUsed,
					Success: rcpt.Status == types.ReceiptStatusSuccessful,
				}
				if rcpt.BlockNumber != nil {
					inc.Block = rcpt.BlockNumber.Uint64()
				}
				return inc, nil
			case err != nil && !errors.Is(err, ethereum.NotFound):
				w.logger.Debug(ctx, "receipt lookup failed", "chain_id", chainID, "tx", tx.Hex(), "error", err)
			}
			if b.Number >= deadline {
				return app.Inclusion{}, apperror.New(apperror.CodeSubmissionTimeout,
					apperror.WithContext(fmt.Sprintf("%s not included by block %d", tx.Hex(), deadline)))
			}
		}
	}
}
