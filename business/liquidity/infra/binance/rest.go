package binance

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/httpclient"
	"github.com/fd1az/mev-arbitrage/internal/ratelimit"
)

const (
	DefaultRESTURL = "https://api.binance.com"

	depthPath   = "/api/v3/depth"
	restTimeout = 5 * time.Second
	// A depth20 call weighs 1; this stays far below the 6000/min IP budget.
	restRPM = 1200
)

// depthLimits are the limit values the depth endpoint accepts.
var depthLimits = []int{5, 10, 20, 50, 100, 500, 1000, 5000}

// RESTConfig configures the REST fallback.
type RESTConfig struct {
	URL     string
	Timeout time.Duration
	RPM     int
}

func DefaultRESTConfig() RESTConfig {
	return RESTConfig{URL: DefaultRESTURL, Timeout: restTimeout, RPM: restRPM}
}

// REST refetches books when the stream is quiet.
type REST struct {
	http   httpclient.Client
	tracer trace.Tracer
}

func NewREST(cfg RESTConfig) (*REST, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultRESTURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = restTimeout
	}
	if cfg.RPM <= 0 {
		cfg.RPM = restRPM
	}

	tracer := otel.Tracer(tracerName)
	hc, err := httpclient.NewInstrumentedClient(
		httpclient.WithProviderName("binance"),
		httpclient.WithBaseURL(cfg.URL),
		httpclient.WithRequestTimeout(cfg.Timeout),
		httpclient.WithRateLimiter(ratelimit.New(cfg.RPM)),
		httpclient.WithTraceOptions(tracer, httpclient.TraceResponse),
		httpclient.WithHeaders(map[string]string{"Accept": "application/json"}),
	)
	if err != nil {
		return nil, fmt.Errorf("binance rest client: %w", err)
	}
	return &REST{http: hc, tracer: tracer}, nil
}

// depthLimit rounds n up to an accepted limit, capped at the largest.
func depthLimit(n int) int {
	i, _ := slices.BinarySearch(depthLimits, n)
	if i == len(depthLimits) {
		i--
	}
	return depthLimits[i]
}

// Depth fetches the top levels of symbol.
func (r *REST) Depth(ctx context.Context, symbol string, levels int) (*Depth, error) {
	limit := depthLimit(levels)
	ctx, span := r.tracer.Start(ctx, "binance.rest.depth",
		trace.WithAttributes(attribute.String("symbol", symbol), attribute.Int("limit", limit)))
	defer span.End()

	d := &Depth{Symbol: symbol}
	_, err := r.http.NewRequestWithOptions(
		httpclient.WithLabels(httpclient.NewLabel("endpoint", "depth")),
		httpclient.WithResponseErrorHandler(apiErrorFrom),
	).
		SetQueryParam("symbol", symbol).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(d).
		Get(ctx, depthPath)
	if err != nil {
		span.RecordError(err)
		code := apperror.CodeOrderbookFetchFailed
		if apperror.HasCode(err, apperror.CodeRateLimitExceeded) {
			code = apperror.CodeRateLimitExceeded
		}
		return nil, apperror.New(code, apperror.WithCause(err), apperror.WithContext(symbol))
	}
	d.Symbol = symbol

	span.SetAttributes(attribute.Int("bids", len(d.Bids)), attribute.Int("asks", len(d.Asks)))
	return d, nil
}

// APIError is the body Binance returns with a 4xx.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return "binance " + strconv.Itoa(e.Code) + ": " + e.Message
}

// apiErrorFrom maps error responses. 429 and 418 mean the IP is being
// throttled or banned.
func apiErrorFrom(status int, body []byte) error {
	if status < http.StatusBadRequest {
		return nil
	}
	var cause error = fmt.Errorf("HTTP %d", status)
	var ae APIError
	if json.Unmarshal(body, &ae) == nil && ae.Code != 0 {
		cause = &ae
	}
	if status == http.StatusTooManyRequests || status == http.StatusTeapot {
		return apperror.New(apperror.CodeRateLimitExceeded, apperror.WithCause(cause))
	}
	return cause
}
