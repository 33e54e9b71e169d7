package binance

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/logger"
	"github.com/fd1az/mev-arbitrage/internal/wsconn"
)

const (
	tracerName = "github.com/fd1az/mev-arbitrage/business/liquidity/infra/binance"
	meterName  = tracerName

	DefaultStreamURL = "wss://stream.binance.com:9443"

	// Binance closes connections that stay silent for too long.
	keepAliveEvery = 2 * time.Minute
)

// Frame kinds counted by binance_stream_frames_total.
const (
	frameDepth   = "depth"
	frameControl = "control"
	frameIgnored = "ignored"
	frameInvalid = "invalid"
)

// StreamConfig configures the depth stream connection.
type StreamConfig struct {
	URL          string
	SpeedMs      int // 100 or 1000
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		URL:          DefaultStreamURL,
		SpeedMs:      100,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Stream receives partial depth for a fixed symbol set over one combined
// connection. onDepth runs on the read goroutine.
type Stream struct {
	cfg     StreamConfig
	symbols []string
	onDepth func(context.Context, *Depth)
	logger  logger.LoggerInterface
	tracer  trace.Tracer
	frames  metric.Int64Counter

	nextID atomic.Int64

	mu   sync.Mutex
	conn *wsconn.Client
	done chan struct{}
	once sync.Once
}

// NewStream creates an unconnected stream.
func NewStream(cfg StreamConfig, symbols []string, onDepth func(context.Context, *Depth), log logger.LoggerInterface) (*Stream, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultStreamURL
	}
	if cfg.SpeedMs != 100 && cfg.SpeedMs != 1000 {
		cfg.SpeedMs = 100
	}

	frames, err := otel.Meter(meterName).Int64Counter("binance_stream_frames_total",
		metric.WithDescription("Depth stream frames by kind"))
	if err != nil {
		return nil, err
	}

	return &Stream{
		cfg:     cfg,
		symbols: symbols,
		onDepth: onDepth,
		logger:  log,
		tracer:  otel.Tracer(tracerName),
		frames:  frames,
		done:    make(chan struct{}),
	}, nil
}

// streamURL builds base/stream?streams=a@depth20@100ms/b@depth20@100ms.
// Subscriptions live in the URL so wsconn's reconnects restore them.
func streamURL(base string, symbols []string, speedMs int) (string, error) {
	if len(symbols) == 0 {
		return "", apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("binance: no markets to stream"))
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", apperror.New(apperror.CodeConfigurationError, apperror.WithCause(err))
	}
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = depthStream(s, speedMs)
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + strings.Join(names, "/")
	return u.String(), nil
}

// Connect dials with retry and starts the keep-alive loop.
func (s *Stream) Connect(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "binance.stream.connect",
		trace.WithAttributes(attribute.StringSlice("symbols", s.symbols)))
	defer span.End()

	target, err := streamURL(s.cfg.URL, s.symbols, s.cfg.SpeedMs)
	if err != nil {
		span.RecordError(err)
		return err
	}

	wsCfg := wsconn.DefaultConfig(target, "binance-depth")
	if s.cfg.ReadTimeout > 0 {
		wsCfg.ReadTimeout = s.cfg.ReadTimeout
	}
	if s.cfg.WriteTimeout > 0 {
		wsCfg.WriteTimeout = s.cfg.WriteTimeout
	}
	conn, err := wsconn.New(wsCfg)
	if err != nil {
		return err
	}
	conn.OnMessage(s.dispatch)
	conn.OnStateChange(func(st wsconn.State, err error) {
		if err != nil {
			s.logger.Warn(context.Background(), "binance stream state", "state", st, "error", err)
		}
	})

	if err := conn.ConnectWithRetry(ctx); err != nil {
		span.RecordError(err)
		return apperror.New(apperror.CodeWebSocketConnectionError,
			apperror.WithCause(err), apperror.WithContext("binance depth stream"))
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	go s.keepAlive(ctx, conn)

	s.logger.Info(ctx, "binance depth stream connected", "markets", len(s.symbols), "speed_ms", s.cfg.SpeedMs)
	return nil
}

// dispatch decodes one frame and hands depth frames to onDepth.
func (s *Stream) dispatch(ctx context.Context, data []byte) {
	kind := s.decode(ctx, data)
	s.frames.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (s *Stream) decode(ctx context.Context, data []byte) string {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Debug(ctx, "binance: undecodable frame", "error", err, "bytes", len(data))
		return frameInvalid
	}
	switch {
	case f.Stream == "" && f.ID != nil:
		return frameControl
	case !strings.Contains(f.Stream, "@depth"):
		return frameIgnored
	}

	d := &Depth{Symbol: symbolOf(f.Stream)}
	if err := json.Unmarshal(f.Data, d); err != nil {
		s.logger.Warn(ctx, "binance: bad depth payload", "stream", f.Stream, "error", err)
		return frameInvalid
	}
	if s.onDepth != nil {
		s.onDepth(ctx, d)
	}
	return frameDepth
}

func (s *Stream) keepAlive(ctx context.Context, conn *wsconn.Client) {
	t := time.NewTicker(keepAliveEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-t.C:
			req := controlRequest{Method: "LIST_SUBSCRIPTIONS", ID: s.nextID.Add(1)}
			if err := conn.SendJSON(ctx, req); err != nil {
				s.logger.Warn(ctx, "binance keep-alive failed", "error", err)
			}
		}
	}
}

// Connected reports whether the websocket is up.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.IsConnected()
}

// Close stops the keep-alive loop and the connection. Safe to call twice.
func (s *Stream) Close() error {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
