// Package mempool streams pending transactions from a node's txpool.
package mempool

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/fd1az/mev-arbitrage/business/mev/app"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

var _ app.PendingSource = (*Stream)(nil)

const (
	bufferSize     = 1024
	reconnectDelay = 5 * time.Second
)

// Stream subscribes to full pending transactions over a WebSocket endpoint
// and resubscribes when the subscription drops.
type Stream struct {
	url    string
	logger logger.LoggerInterface
}

// NewStream creates a stream against wsURL.
func NewStream(wsURL string, log logger.LoggerInterface) *Stream {
	return &Stream{url: wsURL, logger: log}
}

// Pending returns a channel of pending transactions that closes when ctx ends.
func (s *Stream) Pending(ctx context.Context) (<-chan app.PendingTx, error) {
	if s.url == "" {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("mempool stream needs a websocket url"))
	}
	client, sub, raw, err := s.subscribe(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan app.PendingTx, bufferSize)
	go func() {
		defer close(out)
		for {
			s.forward(ctx, sub, raw, out)
			sub.Unsubscribe()
			client.Close()
			if ctx.Err() != nil {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			client, sub, raw, err = s.subscribe(ctx)
			if err != nil {
				s.logger.Warn(ctx, "pending transaction resubscribe failed", "error", err)
				return
			}
		}
	}()
	return out, nil
}

func (s *Stream) subscribe(ctx context.Context) (*rpc.Client, *rpc.ClientSubscription, chan *types.Transaction, error) {
	client, err := rpc.DialContext(ctx, s.url)
	if err != nil {
		return nil, nil, nil, apperror.New(apperror.CodeEthereumConnectionFailed, apperror.WithCause(err))
	}
	raw := make(chan *types.Transaction, bufferSize)
	sub, err := gethclient.New(client).SubscribeFullPendingTransactions(ctx, raw)
	if err != nil {
		client.Close()
		return nil, nil, nil, apperror.New(apperror.CodeEthereumSubscribeFailed,
			apperror.WithCause(err),
			apperror.WithContext("full pending transactions"))
	}
	return client, sub, raw, nil
}

func (s *Stream) forward(ctx context.Context, sub *rpc.ClientSubscription, raw <-chan *types.Transaction, out chan<- app.PendingTx) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			s.logger.Warn(ctx, "pending transaction subscription dropped", "error", err)
			return
		case tx := <-raw:
			if tx == nil {
				continue
			}
			select {
			case out <- toPending(tx, time.Now()):
			default:
				// consumer behind; the sensor only needs a sample
			}
		}
	}
}

func toPending(tx *types.Transaction, seen time.Time) app.PendingTx {
	p := app.PendingTx{
		To:       tx.To(),
		Value:    tx.Value(),
		GasPrice: tx.GasPrice(),
		Seen:     seen,
	}
	if data := tx.Data(); len(data) >= 4 {
		copy(p.Selector[:], data[:4])
	}
	return p
}
