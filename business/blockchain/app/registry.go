package app

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

const meterName = "blockchain"

// DefaultHistory is how many recent blocks each chain keeps for sensors.
const DefaultHistory = 64

// Chain bundles the per-network block feed and fee oracle.
type Chain struct {
	ChainID    uint64
	Subscriber BlockSubscriber
	Oracle     GasOracle
}

type chainState struct {
	chain Chain

	mu        sync.RWMutex
	history   []*domain.Block // oldest first, at most historyLen
	listeners map[int]chan *domain.Block
	nextID    int
}

// Registry owns every network's chain and fans its blocks out to any
// number of listeners. Slow listeners miss blocks rather than stall the feed.
type Registry struct {
	chains     map[uint64]*chainState
	order      []uint64
	historyLen int
	logger     logger.LoggerInterface
	dropped    metric.Int64Counter
	reorgs     metric.Int64Counter
}

// NewRegistry creates an empty registry.
func NewRegistry(historyLen int, log logger.LoggerInterface) *Registry {
	if historyLen <= 0 {
		historyLen = DefaultHistory
	}
	meter := otel.Meter(meterName)
	dropped, _ := meter.Int64Counter("blockchain_blocks_dropped_total",
		metric.WithDescription("Blocks not delivered to a slow listener"))
	reorgs, _ := meter.Int64Counter("blockchain_reorgs_total",
		metric.WithDescription("Heads that replaced an already published block"))
	return &Registry{
		chains:     make(map[uint64]*chainState),
		historyLen: historyLen,
		logger:     log,
		dropped:    dropped,
		reorgs:     reorgs,
	}
}

// Add registers a chain. It must be called before Start.
func (r *Registry) Add(c Chain) {
	r.chains[c.ChainID] = &chainState{chain: c, listeners: make(map[int]chan *domain.Block)}
	r.order = append(r.order, c.ChainID)
}

// ChainIDs lists registered chains in registration order.
func (r *Registry) ChainIDs() []uint64 {
	return append([]uint64(nil), r.order...)
}

// Start subscribes every chain and pumps blocks until ctx ends.
func (r *Registry) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range r.order {
		cs := r.chains[id]
		blocks, err := cs.chain.Subscriber.Subscribe(ctx)
		if err != nil {
			return err
		}
		g.Go(func() error {
			r.pump(ctx, cs, blocks)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
	}()
	return nil
}

func (r *Registry) pump(ctx context.Context, cs *chainState, blocks <-chan *domain.Block) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-blocks:
			if !ok {
				return
			}
			r.Publish(ctx, cs.chain.ChainID, b)
		}
	}
}

// Publish records b in the chain history and delivers it to listeners.
// A reorged head first rewinds the history to below the fork; any other
// head at or below the latest is ignored.
func (r *Registry) Publish(ctx context.Context, chainID uint64, b *domain.Block) {
	cs, ok := r.chains[chainID]
	if !ok {
		return
	}
	b.ChainID = chainID
	attrs := metric.WithAttributes(attribute.Int64("chain_id", int64(chainID)))

	cs.mu.Lock()
	if n := len(cs.history); n > 0 {
		switch {
		case b.Reorged():
			depth := n
			cs.history = rewind(cs.history, b.OrphanedFrom)
			depth -= len(cs.history)
			r.reorgs.Add(ctx, 1, attrs)
			r.logger.Warn(ctx, "chain reorganized",
				"chain_id", chainID, "from", b.OrphanedFrom, "head", b.Number, "replaced", depth, "hash", b.Hash.Hex())
		case cs.history[n-1].Number >= b.Number:
			cs.mu.Unlock()
			return
		}
	}
	cs.history = append(cs.history, b)
	if len(cs.history) > r.historyLen {
		cs.history = cs.history[len(cs.history)-r.historyLen:]
	}
	for _, ch := range cs.listeners {
		select {
		case ch <- b:
		default:
			r.dropped.Add(ctx, 1, attrs)
		}
	}
	cs.mu.Unlock()
}

// rewind drops the blocks at or above height; history is ascending.
func rewind(history []*domain.Block, height uint64) []*domain.Block {
	i, _ := slices.BinarySearchFunc(history, height, func(b *domain.Block, h uint64) int {
		return cmp.Compare(b.Number, h)
	})
	clear(history[i:])
	return history[:i]
}

// Blocks returns a channel of new blocks of chainID and a cancel func that
// unregisters and closes it.
func (r *Registry) Blocks(chainID uint64) (<-chan *domain.Block, func(), error) {
	cs, ok := r.chains[chainID]
	if !ok {
		return nil, nil, apperror.New(apperror.CodeNotFound,
			apperror.WithContext("chain not registered"))
	}
	ch := make(chan *domain.Block, 8)

	cs.mu.Lock()
	id := cs.nextID
	cs.nextID++
	cs.listeners[id] = ch
	cs.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cs.mu.Lock()
			delete(cs.listeners, id)
			cs.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Latest returns the newest block seen on chainID.
func (r *Registry) Latest(chainID uint64) (*domain.Block, bool) {
	cs, ok := r.chains[chainID]
	if !ok {
		return nil, false
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if len(cs.history) == 0 {
		return nil, false
	}
	return cs.history[len(cs.history)-1], true
}

// History returns up to n most recent blocks, oldest first.
func (r *Registry) History(chainID uint64, n int) []*domain.Block {
	cs, ok := r.chains[chainID]
	if !ok {
		return nil
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if n > len(cs.history) || n <= 0 {
		n = len(cs.history)
	}
	return append([]*domain.Block(nil), cs.history[len(cs.history)-n:]...)
}

// FeeQuote asks chainID's oracle for next-block fees.
func (r *Registry) FeeQuote(ctx context.Context, chainID uint64) (domain.FeeQuote, error) {
	cs, ok := r.chains[chainID]
	if !ok {
		return domain.FeeQuote{}, apperror.New(apperror.CodeNotFound,
			apperror.WithContext("chain not registered"))
	}
	return cs.chain.Oracle.FeeQuote(ctx)
}

// State reports chainID's subscriber state.
func (r *Registry) State(chainID uint64) domain.ConnectionState {
	cs, ok := r.chains[chainID]
	if !ok {
		return domain.StateDisconnected
	}
	return cs.chain.Subscriber.State()
}
