package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

const tracerName = "liquidity"

type refresherMetrics struct {
	refreshLatency metric.Float64Histogram
	refreshErrors  metric.Int64Counter
	venuesRead     metric.Int64Counter
}

type networkFeed struct {
	reader StateReader
	venues []domain.Venue
}

// Refresher periodically reads every configured venue through its network's
// batched reader and writes the results to the store.
type Refresher struct {
	store    *Store
	interval time.Duration
	logger   logger.LoggerInterface
	tracer   trace.Tracer
	metrics  *refresherMetrics

	mu    sync.RWMutex
	feeds map[uint64]networkFeed
}

// NewRefresher creates a refresher writing into store every interval.
func NewRefresher(store *Store, interval time.Duration, log logger.LoggerInterface) *Refresher {
	if interval <= 0 {
		interval = time.Second
	}
	r := &Refresher{
		store:    store,
		interval: interval,
		logger:   log,
		tracer:   otel.Tracer(tracerName),
		feeds:    make(map[uint64]networkFeed),
	}
	r.initMetrics()
	return r
}

func (r *Refresher) initMetrics() {
	meter := otel.Meter(meterName)
	r.metrics = &refresherMetrics{}
	r.metrics.refreshLatency, _ = meter.Float64Histogram("liquidity_refresh_latency_ms",
		metric.WithDescription("Latency of one batched venue refresh"),
		metric.WithUnit("ms"))
	r.metrics.refreshErrors, _ = meter.Int64Counter("liquidity_refresh_errors_total",
		metric.WithDescription("Failed batched venue refreshes"))
	r.metrics.venuesRead, _ = meter.Int64Counter("liquidity_venues_read_total",
		metric.WithDescription("Venue snapshots read from chain"))
}

// AddNetwork registers the venues of chainID and the reader serving them.
func (r *Refresher) AddNetwork(chainID uint64, reader StateReader, venues []domain.Venue) {
	r.mu.Lock()
	r.feeds[chainID] = networkFeed{reader: reader, venues: venues}
	r.mu.Unlock()
}

// Refresh reads all networks concurrently once. Every network is attempted;
// the first failure is returned.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.feeds))
	for id := range r.feeds {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error { return r.RefreshNetwork(ctx, id) })
	}
	return g.Wait()
}

// RefreshNetwork reads one network's venues and stores the snapshots.
func (r *Refresher) RefreshNetwork(ctx context.Context, chainID uint64) error {
	r.mu.RLock()
	feed, ok := r.feeds[chainID]
	r.mu.RUnlock()
	if !ok || len(feed.venues) == 0 {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "liquidity.refresh",
		trace.WithAttributes(
			attribute.Int64("chain_id", int64(chainID)),
			attribute.Int("venues", len(feed.venues)),
		),
	)
	defer span.End()

	start := time.Now()
	snaps, err := feed.reader.ReadVenues(ctx, feed.venues)
	r.metrics.refreshLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.Int64("chain_id", int64(chainID))))
	if err != nil {
		r.metrics.refreshErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		r.logger.Warn(ctx, "venue refresh failed", "chain_id", chainID, "error", err)
		return err
	}

	for _, snap := range snaps {
		r.store.Put(snap)
	}
	r.metrics.venuesRead.Add(ctx, int64(len(snaps)))
	span.SetStatus(codes.Ok, "refreshed")
	r.logger.Debug(ctx, "venues refreshed", "chain_id", chainID, "count", len(snaps),
		"latency_ms", time.Since(start).Milliseconds())
	return nil
}

// Run refreshes on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	_ = r.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = r.Refresh(ctx)
		}
	}
}
