// Package httpclient is the traced, metered and rate limited HTTP client used
// for venue REST endpoints and private relays.
package httpclient

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-arbitrage/internal/ratelimit"
)

// TraceOption selects which payloads are attached to the request span.
type TraceOption string

const (
	TraceRequest  TraceOption = "request"
	TraceResponse TraceOption = "response"
)

type clientSettings struct {
	provider     string
	baseURL      string
	timeout      time.Duration
	headers      map[string]string
	limiter      *ratelimit.Limiter
	tracer       trace.Tracer
	traceBodyIn  bool
	traceBodyOut bool
}

// ClientOption configures NewInstrumentedClient.
type ClientOption func(*clientSettings)

// WithProviderName tags spans and metrics, e.g. "binance" or "relay-flashbots".
func WithProviderName(name string) ClientOption {
	return func(s *clientSettings) { s.provider = name }
}

// WithBaseURL is prepended to relative request paths.
func WithBaseURL(url string) ClientOption {
	return func(s *clientSettings) { s.baseURL = url }
}

func WithRequestTimeout(d time.Duration) ClientOption {
	return func(s *clientSettings) { s.timeout = d }
}

// WithHeaders are sent on every request unless the request overrides them.
func WithHeaders(h map[string]string) ClientOption {
	return func(s *clientSettings) {
		if s.headers == nil {
			s.headers = make(map[string]string, len(h))
		}
		for k, v := range h {
			s.headers[k] = v
		}
	}
}

// WithRateLimiter makes each request wait for a token before dialing.
func WithRateLimiter(l *ratelimit.Limiter) ClientOption {
	return func(s *clientSettings) { s.limiter = l }
}

// WithTraceOptions sets the tracer and which bodies land on the span.
// Relay payloads carry signed transactions, so only enable TraceResponse
// where the answer is public data.
func WithTraceOptions(tracer trace.Tracer, opts ...TraceOption) ClientOption {
	return func(s *clientSettings) {
		s.tracer = tracer
		for _, o := range opts {
			switch o {
			case TraceRequest:
				s.traceBodyIn = true
			case TraceResponse:
				s.traceBodyOut = true
			}
		}
	}
}

// ResponseErrorHandler maps a venue's error payload to an error; nil means
// the response is acceptable.
type ResponseErrorHandler func(statusCode int, body []byte) error

// Label is an extra metric attribute, e.g. endpoint or JSON-RPC method.
type Label struct {
	Key   string
	Value string
}

func NewLabel(key, value string) *Label {
	return &Label{Key: key, Value: value}
}

type requestSettings struct {
	onError ResponseErrorHandler
	labels  []*Label
}

// RequestOption configures a single request.
type RequestOption func(*requestSettings)

func WithResponseErrorHandler(h ResponseErrorHandler) RequestOption {
	return func(s *requestSettings) { s.onError = h }
}

func WithLabels(labels ...*Label) RequestOption {
	return func(s *requestSettings) { s.labels = append(s.labels, labels...) }
}
