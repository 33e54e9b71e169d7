package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-arbitrage/business/mev/domain"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

const (
	tracerName = "mev"
	meterName  = "mev"
)

var _ SignalSource = (*SensorHub)(nil)

type hubMetrics struct {
	publications metric.Int64Counter
	sensorErrors metric.Int64Counter
	congestion   metric.Float64Gauge
	density      metric.Float64Gauge
}

// SensorHub runs every sensor on a fixed interval per network and keeps the
// latest blend behind an atomic pointer, so readers never wait on sensors.
type SensorHub struct {
	interval  time.Duration
	timeout   time.Duration // per sensor read
	sensors   []Sensor
	publisher SignalPublisher
	logger    logger.LoggerInterface
	now       func() time.Time

	// built once in NewSensorHub, read-only afterwards
	latest map[uint64]*atomic.Pointer[domain.Signals]
	chains []uint64

	tracer  trace.Tracer
	metrics *hubMetrics
}

// NewSensorHub creates a hub for chainIDs. publisher may be nil.
func NewSensorHub(interval time.Duration, chainIDs []uint64, sensors []Sensor, publisher SignalPublisher, log logger.LoggerInterface) *SensorHub {
	if interval <= 0 {
		interval = domain.DefaultInterval
	}
	h := &SensorHub{
		interval:  interval,
		timeout:   interval,
		sensors:   sensors,
		publisher: publisher,
		logger:    log,
		now:       time.Now,
		latest:    make(map[uint64]*atomic.Pointer[domain.Signals], len(chainIDs)),
		chains:    append([]uint64(nil), chainIDs...),
		tracer:    otel.Tracer(tracerName),
	}
	for _, id := range chainIDs {
		h.latest[id] = &atomic.Pointer[domain.Signals]{}
	}
	h.initMetrics()
	return h
}

func (h *SensorHub) initMetrics() {
	meter := otel.Meter(meterName)
	h.metrics = &hubMetrics{}
	h.metrics.publications, _ = meter.Int64Counter("mev_signal_publications_total",
		metric.WithDescription("Signal blends published"))
	h.metrics.sensorErrors, _ = meter.Int64Counter("mev_sensor_errors_total",
		metric.WithDescription("Sensor reads that failed"))
	h.metrics.congestion, _ = meter.Float64Gauge("mev_congestion",
		metric.WithDescription("Blended congestion signal"))
	h.metrics.density, _ = meter.Float64Gauge("mev_searcher_density",
		metric.WithDescription("Blended searcher density signal"))
}

// Interval is the publication period.
func (h *SensorHub) Interval() time.Duration { return h.interval }

// Start publishes immediately and then every interval until ctx ends.
func (h *SensorHub) Start(ctx context.Context) {
	h.Publish(ctx)
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Publish(ctx)
			}
		}
	}()
}

// Publish runs one round of every sensor on every network. A network where
// no sensor reported keeps its previous signals, which then age.
func (h *SensorHub) Publish(ctx context.Context) {
	ctx, span := h.tracer.Start(ctx, "mev.publish")
	defer span.End()

	for _, chainID := range h.chains {
		readings := h.read(ctx, chainID)
		if len(readings) == 0 {
			continue
		}
		sig := domain.Blend(chainID, readings, h.now())
		h.latest[chainID].Store(&sig)

		attrs := metric.WithAttributes(attribute.Int64("chain_id", int64(chainID)))
		h.metrics.publications.Add(ctx, 1, attrs)
		h.metrics.congestion.Record(ctx, sig.Congestion.Float64(), attrs)
		h.metrics.density.Record(ctx, sig.Density.Float64(), attrs)
		h.logger.Debug(ctx, "signals published",
			"chain_id", chainID,
			"congestion", sig.Congestion.String(),
			"density", sig.Density.String(),
			"level", string(sig.Level()),
			"sensors", sig.Sensors)

		if h.publisher != nil {
			if err := h.publisher.PublishSignals(ctx, sig); err != nil {
				h.logger.Warn(ctx, "signal bus publish failed", "chain_id", chainID, "error", err)
			}
		}
	}
}

func (h *SensorHub) read(ctx context.Context, chainID uint64) []domain.Reading {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		readings = make([]domain.Reading, 0, len(h.sensors))
	)
	for _, s := range h.sensors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.readOne(ctx, s, chainID)
			if err != nil {
				h.metrics.sensorErrors.Add(ctx, 1, metric.WithAttributes(
					attribute.String("sensor", s.Name()),
					attribute.Int64("chain_id", int64(chainID))))
				h.logger.Debug(ctx, "sensor read failed", "sensor", s.Name(), "chain_id", chainID, "error", err)
				return
			}
			r.Sensor = s.Name()
			mu.Lock()
			readings = append(readings, r)
			mu.Unlock()
		}()
	}
	wg.Wait()
	slices.SortFunc(readings, func(a, b domain.Reading) int { return strings.Compare(a.Sensor, b.Sensor) })
	return readings
}

// readOne bounds a sensor read by the hub timeout. A sensor that ignores its
// context is abandoned and finishes on its own.
func (h *SensorHub) readOne(ctx context.Context, s Sensor, chainID uint64) (domain.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	type outcome struct {
		r   domain.Reading
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := s.Read(ctx, chainID)
		done <- outcome{r, err}
	}()

	select {
	case o := <-done:
		return o.r, o.err
	case <-ctx.Done():
		return domain.Reading{}, fmt.Errorf("sensor %s: %w", s.Name(), ctx.Err())
	}
}

// Latest returns the last published signals of chainID without blocking.
// Signals that were never published come back with Valid false.
func (h *SensorHub) Latest(chainID uint64) domain.Signals {
	p, ok := h.latest[chainID]
	if !ok {
		return domain.Signals{ChainID: chainID}
	}
	if s := p.Load(); s != nil {
		return *s
	}
	return domain.Signals{ChainID: chainID}
}

// Age is how old chainID's signals are; ok is false if none were published.
func (h *SensorHub) Age(chainID uint64) (time.Duration, bool) {
	s := h.Latest(chainID)
	if !s.Valid {
		return 0, false
	}
	return h.now().Sub(s.PublishedAt), true
}
