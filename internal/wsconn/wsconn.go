// Package wsconn provides a WebSocket client with reconnection and backoff.
package wsconn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

const meterName = "wsconn"

// State represents the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Config holds WebSocket client configuration.
type Config struct {
	URL            string
	Name           string
	ReadTimeout    time.Duration // 0 = no read deadline
	WriteTimeout   time.Duration
	MaxMessageSize int64
	PingInterval   time.Duration // 0 = no pings
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxReconnects  int // 0 = infinite
	AutoReconnect  bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(url, name string) Config {
	return Config{
		URL:            url,
		Name:           name,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1 << 20,
		PingInterval:   30 * time.Second,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		AutoReconnect:  true,
	}
}

type clientMetrics struct {
	messages   metric.Int64Counter
	reconnects metric.Int64Counter
	errors     metric.Int64Counter
}

// Client is a WebSocket client. Handlers run on the read goroutine.
type Client struct {
	config Config

	connMu  sync.RWMutex
	conn    *websocket.Conn
	gen     uint64
	writeMu sync.Mutex

	stateMu sync.RWMutex
	state   State

	handlersMu    sync.RWMutex
	onMessage     func(ctx context.Context, data []byte)
	onStateChange func(State, error)

	runCtx    context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once

	attrs   metric.MeasurementOption
	metrics *clientMetrics
}

// New creates a new WebSocket client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, apperror.New(apperror.CodeConfigurationError, apperror.WithContext("websocket url is empty"))
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config: cfg,
		state:  StateDisconnected,
		runCtx: ctx,
		cancel: cancel,
		attrs:  metric.WithAttributes(attribute.String("conn", cfg.Name)),
	}
	if err := c.initMetrics(); err != nil {
		cancel()
		return nil, err
	}
	return c, nil
}

func (c *Client) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error
	c.metrics = &clientMetrics{}

	c.metrics.messages, err = meter.Int64Counter("wsconn_messages_total",
		metric.WithDescription("Messages received"))
	if err != nil {
		return err
	}
	c.metrics.reconnects, err = meter.Int64Counter("wsconn_reconnects_total",
		metric.WithDescription("Reconnection attempts"))
	if err != nil {
		return err
	}
	c.metrics.errors, err = meter.Int64Counter("wsconn_errors_total",
		metric.WithDescription("Read, write and dial errors"))
	return err
}

// OnMessage registers the message handler.
func (c *Client) OnMessage(fn func(ctx context.Context, data []byte)) {
	c.handlersMu.Lock()
	c.onMessage = fn
	c.handlersMu.Unlock()
}

// OnStateChange registers a handler called on every state transition.
func (c *Client) OnStateChange(fn func(State, error)) {
	c.handlersMu.Lock()
	c.onStateChange = fn
	c.handlersMu.Unlock()
}

// Connect dials once.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return apperror.New(apperror.CodeWebSocketClosed, apperror.WithContext(c.config.Name))
	}
	c.setState(StateConnecting, nil)

	conn, _, err := websocket.Dial(ctx, c.config.URL, nil)
	if err != nil {
		c.metrics.errors.Add(ctx, 1, c.attrs)
		c.setState(StateDisconnected, err)
		return apperror.New(apperror.CodeWebSocketConnectionError,
			apperror.WithCause(err), apperror.WithContext(c.config.Name))
	}
	if c.config.MaxMessageSize > 0 {
		conn.SetReadLimit(c.config.MaxMessageSize)
	}

	c.connMu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.connMu.Unlock()

	c.setState(StateConnected, nil)
	go c.readLoop(conn, gen)
	if c.config.PingInterval > 0 {
		go c.pingLoop(conn, gen)
	}
	return nil
}

// ConnectWithRetry dials with exponential backoff until it succeeds, ctx is
// done, or MaxReconnects attempts failed.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	backoff := c.config.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		if c.closed.Load() {
			return err
		}
		if c.config.MaxReconnects > 0 && attempt >= c.config.MaxReconnects {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.runCtx.Done():
			return apperror.New(apperror.CodeWebSocketClosed, apperror.WithContext(c.config.Name))
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.config.MaxBackoff)
	}
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		ctx := c.runCtx
		var cancel context.CancelFunc = func() {}
		if c.config.ReadTimeout > 0 {
			ctx, cancel = context.WithTimeout(c.runCtx, c.config.ReadTimeout)
		}
		_, data, err := conn.Read(ctx)
		cancel()
		if err != nil {
			conn.CloseNow()
			c.handleDisconnect(gen, err)
			return
		}

		c.metrics.messages.Add(c.runCtx, 1, c.attrs)
		c.handlersMu.RLock()
		fn := c.onMessage
		c.handlersMu.RUnlock()
		if fn != nil {
			fn(c.runCtx, data)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case <-ticker.C:
			if !c.current(gen) {
				return
			}
			ctx, cancel := context.WithTimeout(c.runCtx, c.config.WriteTimeout)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				c.metrics.errors.Add(c.runCtx, 1, c.attrs)
				return
			}
		}
	}
}

func (c *Client) current(gen uint64) bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.gen == gen
}

// handleDisconnect runs once per lost connection.
func (c *Client) handleDisconnect(gen uint64, err error) {
	if c.closed.Load() {
		return
	}
	c.connMu.Lock()
	if c.gen != gen {
		c.connMu.Unlock()
		return
	}
	c.conn = nil
	c.connMu.Unlock()

	c.metrics.errors.Add(c.runCtx, 1, c.attrs)
	if !c.config.AutoReconnect {
		c.setState(StateDisconnected, err)
		return
	}
	c.setState(StateReconnecting, err)
	go func() {
		select {
		case <-c.runCtx.Done():
			return
		case <-time.After(c.config.InitialBackoff):
		}
		c.metrics.reconnects.Add(c.runCtx, 1, c.attrs)
		if rerr := c.ConnectWithRetry(c.runCtx); rerr != nil && !c.closed.Load() {
			c.setState(StateDisconnected, rerr)
		}
	}()
}

// Send writes a text message.
func (c *Client) Send(ctx context.Context, data []byte) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil || c.closed.Load() {
		return apperror.New(apperror.CodeWebSocketClosed, apperror.WithContext(c.config.Name))
	}

	if c.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.WriteTimeout)
		defer cancel()
	}

	c.writeMu.Lock()
	err := conn.Write(ctx, websocket.MessageText, data)
	c.writeMu.Unlock()
	if err != nil {
		c.metrics.errors.Add(ctx, 1, c.attrs)
		return apperror.New(apperror.CodeWebSocketSendError, apperror.WithCause(err), apperror.WithContext(c.config.Name))
	}
	return nil
}

// SendJSON marshals v and sends it.
func (c *Client) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperror.New(apperror.CodeEncodingFailed, apperror.WithCause(err))
	}
	return c.Send(ctx, data)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// IsConnected reports whether the client holds a live connection.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Close closes the connection and stops reconnecting. It is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()

		c.connMu.Lock()
		conn := c.conn
		c.conn = nil
		c.connMu.Unlock()

		if conn != nil {
			if err := conn.Close(websocket.StatusNormalClosure, "client closing"); err != nil {
				conn.CloseNow()
			}
		}
		c.forceState(StateClosed, nil)
	})
	return nil
}

func (c *Client) setState(s State, err error) {
	if c.closed.Load() {
		return
	}
	c.forceState(s, err)
}

func (c *Client) forceState(s State, err error) {
	c.stateMu.Lock()
	changed := c.state != s
	c.state = s
	c.stateMu.Unlock()

	if !changed && err == nil {
		return
	}
	c.handlersMu.RLock()
	fn := c.onStateChange
	c.handlersMu.RUnlock()
	if fn != nil {
		fn(s, err)
	}
}

// Name returns the configured connection name.
func (c *Client) Name() string { return c.config.Name }
