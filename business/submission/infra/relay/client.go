// Package relay talks JSON-RPC to private bundle relays.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-arbitrage/business/submission/app"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/circuitbreaker"
	"github.com/fd1az/mev-arbitrage/internal/httpclient"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

const (
	tracerName = "github.com/fd1az/mev-arbitrage/business/submission/infra/relay"

	defaultTimeout = 5 * time.Second

	// SignatureHeader carries "<address>:<signature>" over the request body.
	SignatureHeader = "X-Flashbots-Signature"
)

// Mode selects the relay API.
type Mode string

const (
	// ModeBundle uses eth_sendBundle, one request per target block.
	ModeBundle Mode = "bundle"
	// ModeShare uses mev_sendBundle with privacy hints and a refund.
	ModeShare Mode = "share"
)

// ParseMode accepts the config spelling; empty means bundle.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeBundle:
		return ModeBundle, nil
	case ModeShare:
		return ModeShare, nil
	default:
		return "", apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("unknown relay mode "+s))
	}
}

// PayloadSigner authenticates request bodies.
type PayloadSigner interface {
	SignPayload(body []byte) (string, error)
}

// Config configures one relay.
type Config struct {
	Name     string
	URL      string
	Mode     Mode
	Priority int
	Timeout  time.Duration
}

var _ app.Channel = (*Client)(nil)

// Client is a protected submission channel.
type Client struct {
	cfg     Config
	http    httpclient.Client
	signer  PayloadSigner
	breaker *circuitbreaker.CircuitBreaker[json.RawMessage]
	logger  logger.LoggerInterface
	tracer  trace.Tracer
	nextID  atomic.Int64
}

// NewClient creates a relay client.
func NewClient(cfg Config, signer PayloadSigner, log logger.LoggerInterface) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeBundle
	}

	tracer := otel.Tracer(tracerName)
	hc, err := httpclient.NewInstrumentedClient(
		httpclient.WithProviderName("relay-"+cfg.Name),
		httpclient.WithRequestTimeout(cfg.Timeout),
		httpclient.WithTraceOptions(tracer, httpclient.TraceRequest),
		httpclient.WithHeaders(map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	breakerCfg := circuitbreaker.DefaultConfig("relay-" + cfg.Name)
	breakerCfg.ConsecutiveFailures = 3
	breakerCfg.IsSuccessful = func(err error) bool {
		// a JSON-RPC error is an answer, not an outage
		return err == nil || isRPCError(err)
	}

	return &Client{
		cfg:     cfg,
		http:    hc,
		signer:  signer,
		breaker: circuitbreaker.New[json.RawMessage](breakerCfg),
		logger:  log,
		tracer:  tracer,
	}, nil
}

// Name is the relay's configured name.
func (c *Client) Name() string { return c.cfg.Name }

// Protected is always true for relays.
func (c *Client) Protected() bool { return true }

// Priority orders relays; lower goes first.
func (c *Client) Priority() int { return c.cfg.Priority }

// Send submits the bundle for every block in its range and returns the
// bundle hash.
func (c *Client) Send(ctx context.Context, b app.Bundle) (common.Hash, error) {
	ctx, span := c.tracer.Start(ctx, "relay.send",
		trace.WithAttributes(
			attribute.String("relay", c.cfg.Name),
			attribute.String("mode", string(c.cfg.Mode)),
			attribute.Int64("min_block", int64(b.MinBlock)),
			attribute.Int64("max_block", int64(b.MaxBlock)),
		),
	)
	defer span.End()

	var (
		hash common.Hash
		err  error
	)
	if c.cfg.Mode == ModeShare {
		hash, err = c.sendShare(ctx, b)
	} else {
		hash, err = c.sendBundle(ctx, b)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return common.Hash{}, err
	}
	span.SetAttributes(attribute.String("bundle_hash", hash.Hex()))
	return hash, nil
}

type sendBundleParams struct {
	Txs         []string `json:"txs"`
	BlockNumber string   `json:"blockNumber"`
}

type bundleResult struct {
	BundleHash common.Hash `json:"bundleHash"`
}

func (c *Client) sendBundle(ctx context.Context, b app.Bundle) (common.Hash, error) {
	raw := hexutil.Encode(b.Raw)
	var first common.Hash
	for block := b.MinBlock; block <= b.MaxBlock; block++ {
		var res bundleResult
		err := c.call(ctx, "eth_sendBundle", []any{sendBundleParams{
			Txs:         []string{raw},
			BlockNumber: hexutil.EncodeUint64(block),
		}}, &res)
		if err != nil {
			return common.Hash{}, err
		}
		if block == b.MinBlock {
			first = res.BundleHash
		}
	}
	return first, nil
}

type mevBundle struct {
	Version   string       `json:"version"`
	Inclusion inclusion    `json:"inclusion"`
	Body      []bundleItem `json:"body"`
	Validity  *validity    `json:"validity,omitempty"`
	Privacy   *privacy     `json:"privacy,omitempty"`
}

type inclusion struct {
	Block    string `json:"block"`
	MaxBlock string `json:"maxBlock"`
}

type bundleItem struct {
	Tx        string `json:"tx"`
	CanRevert bool   `json:"canRevert"`
}

type validity struct {
	Refund []refund `json:"refund"`
}

type refund struct {
	BodyIdx int `json:"bodyIdx"`
	Percent int `json:"percent"`
}

type privacy struct {
	Hints []string `json:"hints,omitempty"`
}

func (c *Client) sendShare(ctx context.Context, b app.Bundle) (common.Hash, error) {
	bundle := mevBundle{
		Version: "v0.1",
		Inclusion: inclusion{
			Block:    hexutil.EncodeUint64(b.MinBlock),
			MaxBlock: hexutil.EncodeUint64(b.MaxBlock),
		},
		Body: []bundleItem{{Tx: hexutil.Encode(b.Raw)}},
	}
	if b.Privacy.RefundPercent > 0 {
		bundle.Validity = &validity{Refund: []refund{{BodyIdx: 0, Percent: b.Privacy.RefundPercent}}}
	}
	if len(b.Privacy.Hints) > 0 {
		bundle.Privacy = &privacy{Hints: b.Privacy.Hints}
	}

	var res bundleResult
	if err := c.call(ctx, "mev_sendBundle", []any{bundle}, &res); err != nil {
		return common.Hash{}, err
	}
	return res.BundleHash, nil
}

type callBundleParams struct {
	Txs              []string `json:"txs"`
	BlockNumber      string   `json:"blockNumber"`
	StateBlockNumber string   `json:"stateBlockNumber"`
}

type callBundleResult struct {
	Results []struct {
		GasUsed uint64 `json:"gasUsed"`
		Error   string `json:"error,omitempty"`
		Revert  string `json:"revert,omitempty"`
	} `json:"results"`
	TotalGasUsed uint64 `json:"totalGasUsed"`
}

// CallBundle simulates raw on top of the latest state as if mined in block.
// A reverting transaction comes back as CodeSimulationFailure.
func (c *Client) CallBundle(ctx context.Context, raw []byte, block uint64) (uint64, error) {
	ctx, span := c.tracer.Start(ctx, "relay.call_bundle",
		trace.WithAttributes(attribute.String("relay", c.cfg.Name)))
	defer span.End()

	var res callBundleResult
	err := c.call(ctx, "eth_callBundle", []any{callBundleParams{
		Txs:              []string{hexutil.Encode(raw)},
		BlockNumber:      hexutil.EncodeUint64(block),
		StateBlockNumber: "latest",
	}}, &res)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	for i, r := range res.Results {
		if r.Error != "" || r.Revert != "" {
			reason := r.Revert
			if reason == "" {
				reason = r.Error
			}
			return 0, apperror.New(apperror.CodeSimulationFailure,
				apperror.WithContext(fmt.Sprintf("%s: tx %d: %s", c.cfg.Name, i, reason)))
		}
	}
	return res.TotalGasUsed, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func isRPCError(err error) bool {
	var rpcErr *rpcError
	return errors.As(err, &rpcErr)
}

// call signs and posts one JSON-RPC request through the breaker.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return apperror.New(apperror.CodeEncodingFailed, apperror.WithCause(err))
	}
	sig, err := c.signer.SignPayload(body)
	if err != nil {
		return err
	}

	result, err := c.breaker.Execute(func() (json.RawMessage, error) {
		var rpcResp rpcResponse
		resp, err := c.http.NewRequestWithOptions(
			httpclient.WithLabels(httpclient.NewLabel("method", method)),
		).
			SetHeader(SignatureHeader, sig).
			SetBody(body).
			SetResult(&rpcResp).
			Post(ctx, c.cfg.URL)
		if err != nil {
			return nil, apperror.New(apperror.CodeRelayError,
				apperror.WithCause(err),
				apperror.WithContext(c.cfg.Name+" "+method))
		}
		if rpcResp.Error != nil {
			return nil, apperror.New(apperror.CodeRelayError,
				apperror.WithCause(rpcResp.Error),
				apperror.WithContext(c.cfg.Name+" "+method+": "+rpcResp.Error.Message))
		}
		if resp.IsError() {
			return nil, apperror.New(apperror.CodeRelayError,
				apperror.WithContext(fmt.Sprintf("%s %s: HTTP %d", c.cfg.Name, method, resp.StatusCode)))
		}
		return rpcResp.Result, nil
	})
	if err != nil {
		c.logger.Debug(ctx, "relay call failed", "relay", c.cfg.Name, "method", method, "error", err)
		return err
	}

	if out != nil && len(result) > 0 {
		if err := json.Unmarshal(result, out); err != nil {
			return apperror.New(apperror.CodeRelayError,
				apperror.WithCause(err),
				apperror.WithContext(c.cfg.Name+" "+method+": bad result"))
		}
	}
	return nil
}
