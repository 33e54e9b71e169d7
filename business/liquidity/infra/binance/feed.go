package binance

import (
	"context"
	"sync"
	"time"

	"github.com/fd1az/mev-arbitrage/business/liquidity/app"
	"github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

var _ app.BookFeed = (*Feed)(nil)

// FeedConfig holds the feed settings.
type FeedConfig struct {
	Stream       StreamConfig
	REST         RESTConfig
	StaleTimeout time.Duration
	// RESTDepth is the level count requested on fallback.
	RESTDepth int
}

// Feed turns Binance depth snapshots into order-book liquidity snapshots.
// The stream is primary; a watchdog refetches over REST any market that
// has been quiet for longer than StaleTimeout.
type Feed struct {
	cfg     FeedConfig
	stream  *Stream
	rest    *REST
	sink    app.SnapshotSink
	markets map[string]domain.Venue
	logger  logger.LoggerInterface
	now     func() time.Time

	mu         sync.Mutex
	lastUpdate map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFeed builds a feed for venues, keyed by venue.Symbol. Every venue must
// be an order-book venue with Token0 as base.
func NewFeed(cfg FeedConfig, venues []domain.Venue, sink app.SnapshotSink, log logger.LoggerInterface) (*Feed, error) {
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 5 * time.Second
	}
	if cfg.RESTDepth == 0 {
		cfg.RESTDepth = 20
	}

	markets := make(map[string]domain.Venue, len(venues))
	symbols := make([]string, 0, len(venues))
	for _, v := range venues {
		markets[v.Symbol] = v
		symbols = append(symbols, v.Symbol)
	}

	f := &Feed{
		cfg:        cfg,
		sink:       sink,
		markets:    markets,
		logger:     log,
		now:        time.Now,
		lastUpdate: make(map[string]time.Time, len(venues)),
	}

	var err error
	if f.stream, err = NewStream(cfg.Stream, symbols, f.apply, log); err != nil {
		return nil, err
	}
	if f.rest, err = NewREST(cfg.REST); err != nil {
		return nil, err
	}
	return f, nil
}

// Connect starts the stream and the staleness watchdog. A failed stream
// connect is not fatal: the watchdog keeps the books fresh over REST.
func (f *Feed) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	if err := f.stream.Connect(runCtx); err != nil {
		f.logger.Warn(ctx, "binance stream unavailable, using REST only", "error", err)
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.watchdog(runCtx)
	}()
	return nil
}

// Close stops the watchdog and the stream.
func (f *Feed) Close() error {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	return f.stream.Close()
}

func (f *Feed) watchdog(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.StaleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.RefreshStale(ctx)
		}
	}
}

// RefreshStale refetches every market whose last update is older than the
// stale timeout.
func (f *Feed) RefreshStale(ctx context.Context) {
	now := f.now()
	for symbol := range f.markets {
		f.mu.Lock()
		last := f.lastUpdate[symbol]
		f.mu.Unlock()
		if !last.IsZero() && now.Sub(last) <= f.cfg.StaleTimeout {
			continue
		}

		depth, err := f.rest.Depth(ctx, symbol, f.cfg.RESTDepth)
		if err != nil {
			f.logger.Warn(ctx, "binance REST fallback failed", "symbol", symbol, "error", err)
			if apperror.HasCode(err, apperror.CodeRateLimitExceeded) {
				return
			}
			continue
		}
		f.apply(ctx, depth)
	}
}

// apply converts a depth update into a snapshot of its venue. One-sided
// books are not stored, so a market that only ever sends them goes stale.
func (f *Feed) apply(ctx context.Context, d *Depth) {
	venue, ok := f.markets[d.Symbol]
	if !ok {
		return
	}

	bids, err := bookSide(d.Bids, venue.Decimals0, venue.Decimals1)
	if err != nil {
		f.logger.Warn(ctx, "binance: bad bid levels", "symbol", d.Symbol, "error", err)
		return
	}
	asks, err := bookSide(d.Asks, venue.Decimals0, venue.Decimals1)
	if err != nil {
		f.logger.Warn(ctx, "binance: bad ask levels", "symbol", d.Symbol, "error", err)
		return
	}

	snap := domain.Snapshot{
		Venue:     venue,
		Bids:      bids,
		Asks:      asks,
		FetchedAt: f.now(),
	}
	if !snap.HasLiquidity() {
		return
	}
	f.sink.Put(snap)

	f.mu.Lock()
	f.lastUpdate[d.Symbol] = snap.FetchedAt
	f.mu.Unlock()

	f.logger.Debug(ctx, "order book updated",
		"symbol", d.Symbol,
		"bid_levels", len(snap.Bids),
		"bid_base", sumBase(snap.Bids).String())
}
