// Package public sends transactions to the open mempool. It is the last
// resort and only ever used below the protection threshold.
package public

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/fd1az/mev-arbitrage/business/submission/app"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

// TxSender is satisfied by *ethclient.Client.
type TxSender interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

var _ app.Channel = (*Channel)(nil)

// Channel broadcasts through a node's eth_sendRawTransaction.
type Channel struct {
	name   string
	sender TxSender
}

// NewChannel creates a public channel over sender.
func NewChannel(name string, sender TxSender) *Channel {
	return &Channel{name: name, sender: sender}
}

func (c *Channel) Name() string { return c.name }

// Protected is always false.
func (c *Channel) Protected() bool { return false }

// Send broadcasts the transaction. The block range is not enforceable in the
// public mempool; the executor's deadline bounds it instead.
func (c *Channel) Send(ctx context.Context, b app.Bundle) (common.Hash, error) {
	if err := c.sender.SendTransaction(ctx, b.Tx); err != nil {
		return common.Hash{}, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext(c.name+": "+err.Error()))
	}
	return b.Tx.Hash(), nil
}
