// Package ethereum adapts go-ethereum nodes to the blockchain ports: a head
// subscriber and an EIP-1559 fee oracle per network.
package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-arbitrage/business/blockchain/app"
	"github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/circuitbreaker"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

const (
	tracerName = "github.com/fd1az/mev-arbitrage/business/blockchain/infra/ethereum"
	meterName  = tracerName
)

// Head sources and outcomes, as metric attributes.
const (
	sourceStream = "ws"
	sourcePoll   = "http"

	outcomeDelivered = "delivered"
	outcomeDuplicate = "duplicate"
	outcomeReorg     = "reorg"
	outcomeOverflow  = "overflow"
)

var _ app.BlockSubscriber = (*Subscriber)(nil)

// HeaderReader polls the latest header; *ethclient.Client satisfies it.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// HeadStream opens a push subscription for new heads.
type HeadStream interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// SubscriberConfig configures the head follower of one network.
type SubscriberConfig struct {
	ChainID uint64
	WSURL   string // empty means poll only
	// PollInterval is the HTTP period while the stream is down.
	PollInterval time.Duration
	// FallbackWindow is how long to poll before dialing the stream again.
	FallbackWindow time.Duration
	BufferSize     int
	// ReorgDepth is how many heights are remembered for reorg detection.
	ReorgDepth uint64
}

// DefaultSubscriberConfig polls once per blockTime when falling back.
func DefaultSubscriberConfig(chainID uint64, wsURL string, blockTime time.Duration) SubscriberConfig {
	if blockTime <= 0 {
		blockTime = 12 * time.Second
	}
	return SubscriberConfig{
		ChainID:        chainID,
		WSURL:          wsURL,
		PollInterval:   blockTime,
		FallbackWindow: 30 * time.Second,
		BufferSize:     16,
		ReorgDepth:     64,
	}
}

// Subscriber follows heads over eth_subscribe and polls over HTTP while the
// stream is unavailable. Heads from both paths go through one hash window,
// so switching transports never re-delivers a height.
type Subscriber struct {
	cfg    SubscriberConfig
	logger logger.LoggerInterface

	http    HeaderReader
	dial    func(ctx context.Context, url string) (HeadStream, func(), error)
	breaker *circuitbreaker.CircuitBreaker[*types.Header]
	window  *headWindow

	state atomic.Value // domain.ConnectionState
	out   chan *domain.Block
	done  chan struct{}
	start sync.Once
	stop  sync.Once

	tracer trace.Tracer
	heads  metric.Int64Counter
	errs   metric.Int64Counter
	gauge  metric.Int64Gauge
	delay  metric.Float64Histogram
	chain  attribute.KeyValue
}

// NewSubscriber creates a subscriber that polls through node.
func NewSubscriber(cfg SubscriberConfig, node HeaderReader, log logger.LoggerInterface) (*Subscriber, error) {
	def := DefaultSubscriberConfig(cfg.ChainID, cfg.WSURL, cfg.PollInterval)
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = def.FallbackWindow
	}

	s := &Subscriber{
		cfg:    cfg,
		logger: log,
		http:   node,
		dial:   dialHeadStream,
		window: newHeadWindow(cfg.ReorgDepth),
		out:    make(chan *domain.Block, cfg.BufferSize),
		done:   make(chan struct{}),
		tracer: otel.Tracer(tracerName),
		chain:  attribute.Int64("chain_id", int64(cfg.ChainID)),
	}

	meter := otel.Meter(meterName)
	var err error
	if s.heads, err = meter.Int64Counter("eth_heads_total",
		metric.WithDescription("Heads seen, by source and outcome")); err != nil {
		return nil, fmt.Errorf("eth_heads_total: %w", err)
	}
	if s.errs, err = meter.Int64Counter("eth_head_errors_total",
		metric.WithDescription("Failed dials, subscriptions and polls, by source")); err != nil {
		return nil, fmt.Errorf("eth_head_errors_total: %w", err)
	}
	if s.gauge, err = meter.Int64Gauge("eth_connection_state",
		metric.WithDescription("0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 polling")); err != nil {
		return nil, fmt.Errorf("eth_connection_state: %w", err)
	}
	if s.delay, err = meter.Float64Histogram("eth_head_delay_ms",
		metric.WithDescription("Block timestamp to receipt"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("eth_head_delay_ms: %w", err)
	}
	s.setState(domain.StateDisconnected)

	bcfg := circuitbreaker.DefaultConfig(fmt.Sprintf("eth-http-%d", cfg.ChainID))
	bcfg.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn(context.Background(), "head poll breaker", "breaker", name, "from", from.String(), "to", to.String())
	}
	s.breaker = circuitbreaker.New[*types.Header](bcfg)
	return s, nil
}

func dialHeadStream(ctx context.Context, url string) (HeadStream, func(), error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// Subscribe starts following heads. Every call returns the same channel.
func (s *Subscriber) Subscribe(ctx context.Context) (<-chan *domain.Block, error) {
	select {
	case <-s.done:
		return nil, apperror.New(apperror.CodeInvalidState, apperror.WithContext("subscriber is closed"))
	default:
	}
	s.start.Do(func() {
		s.setState(domain.StateConnecting)
		go s.run(ctx)
	})
	return s.out, nil
}

// run alternates between the stream and a bounded polling window.
func (s *Subscriber) run(ctx context.Context) {
	for !s.stopped(ctx) {
		if s.cfg.WSURL == "" {
			s.setState(domain.StatePolling)
			s.poll(ctx, 0)
			return
		}
		if err := s.follow(ctx); err != nil && !s.stopped(ctx) {
			s.errs.Add(ctx, 1, metric.WithAttributes(s.chain, attribute.String("source", sourceStream)))
			s.logger.Warn(ctx, "head stream down, polling",
				"chain_id", s.cfg.ChainID, "error", err, "for", s.cfg.FallbackWindow)
		}
		if s.stopped(ctx) {
			return
		}
		s.setState(domain.StatePolling)
		s.poll(ctx, s.cfg.FallbackWindow)
		s.setState(domain.StateReconnecting)
	}
}

func (s *Subscriber) stopped(ctx context.Context) bool {
	select {
	case <-s.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// follow consumes the push stream until it fails or the subscriber stops.
func (s *Subscriber) follow(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "eth.heads.follow", trace.WithAttributes(s.chain))
	defer span.End()

	stream, closeStream, err := s.dial(ctx, s.cfg.WSURL)
	if err != nil {
		span.SetStatus(codes.Error, "dial")
		return apperror.New(apperror.CodeEthereumConnectionFailed, apperror.WithCause(err))
	}
	defer closeStream()

	headers := make(chan *types.Header, s.cfg.BufferSize)
	sub, err := stream.SubscribeNewHead(ctx, headers)
	if err != nil {
		span.SetStatus(codes.Error, "subscribe")
		return apperror.New(apperror.CodeEthereumSubscribeFailed, apperror.WithCause(err))
	}
	defer sub.Unsubscribe()

	s.setState(domain.StateConnected)
	s.logger.Info(ctx, "following new heads", "chain_id", s.cfg.ChainID, "from", s.window.head())

	for {
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = apperror.New(apperror.CodeEthereumSubscribeFailed, apperror.WithContext("subscription ended"))
			}
			span.RecordError(err)
			return err
		case h := <-headers:
			if h != nil {
				s.emit(ctx, h, sourceStream)
			}
		}
	}
}

// poll reads the latest head every PollInterval for window, or until the
// subscriber stops when window is zero.
func (s *Subscriber) poll(ctx context.Context, window time.Duration) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var until <-chan time.Time
	if window > 0 {
		t := time.NewTimer(window)
		defer t.Stop()
		until = t.C
	}

	for {
		s.pollOnce(ctx)
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-until:
			return
		case <-ticker.C:
		}
	}
}

func (s *Subscriber) pollOnce(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "eth.heads.poll", trace.WithAttributes(s.chain))
	defer span.End()

	h, err := s.breaker.Execute(func() (*types.Header, error) {
		return s.http.HeaderByNumber(ctx, nil)
	})
	if err != nil {
		span.RecordError(err)
		s.errs.Add(ctx, 1, metric.WithAttributes(s.chain, attribute.String("source", sourcePoll)))
		s.logger.Debug(ctx, "head poll failed", "chain_id", s.cfg.ChainID, "error", err)
		return
	}
	s.emit(ctx, h, sourcePoll)
}

// emit runs a header through the hash window and forwards it if it is new
// or replaces a delivered head. A full buffer drops the head; consumers only
// care about the latest one anyway.
func (s *Subscriber) emit(ctx context.Context, h *types.Header, source string) {
	block := s.toBlock(h)
	deliver, orphaned := s.window.observe(block.Number, block.Hash, block.ParentHash)

	outcome := outcomeDelivered
	switch {
	case !deliver:
		outcome = outcomeDuplicate
	case orphaned != 0:
		outcome = outcomeReorg
		block.OrphanedFrom = orphaned
		s.logger.Warn(ctx, "head replaced",
			"chain_id", s.cfg.ChainID, "number", block.Number, "orphaned_from", orphaned, "source", source)
	}

	if deliver {
		s.delay.Record(ctx, float64(block.Age(time.Now()).Milliseconds()), metric.WithAttributes(s.chain))
		select {
		case s.out <- block:
		default:
			outcome = outcomeOverflow
			s.logger.Warn(ctx, "head buffer full", "chain_id", s.cfg.ChainID, "number", block.Number)
		}
	}
	s.heads.Add(ctx, 1, metric.WithAttributes(s.chain,
		attribute.String("source", source), attribute.String("outcome", outcome)))
}

func (s *Subscriber) toBlock(h *types.Header) *domain.Block {
	return &domain.Block{
		ChainID:    s.cfg.ChainID,
		Number:     h.Number.Uint64(),
		Hash:       h.Hash(),
		ParentHash: h.ParentHash,
		Timestamp:  time.Unix(int64(h.Time), 0),
		GasLimit:   h.GasLimit,
		GasUsed:    h.GasUsed,
		BaseFee:    h.BaseFee,
	}
}

// State reports how heads are currently arriving.
func (s *Subscriber) State() domain.ConnectionState {
	return s.state.Load().(domain.ConnectionState)
}

// Close stops the follower. The block channel stays open; consumers stop on
// their own context.
func (s *Subscriber) Close() error {
	s.stop.Do(func() {
		close(s.done)
		s.setState(domain.StateDisconnected)
	})
	return nil
}

func (s *Subscriber) setState(st domain.ConnectionState) {
	s.state.Store(st)
	s.gauge.Record(context.Background(), st.Gauge(), metric.WithAttributes(s.chain))
}
