package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Request is a one-shot request builder.
type Request interface {
	Get(ctx context.Context, path string) (*Response, error)
	Post(ctx context.Context, path string) (*Response, error)

	// SetBody accepts []byte or string verbatim; anything else is JSON
	// encoded and defaults Content-Type to application/json.
	SetBody(body any) Request
	SetHeader(key, value string) Request
	SetQueryParam(key, value string) Request
	// SetResult decodes a 2xx JSON body into v.
	SetResult(v any) Request
}

// Response is the drained http.Response.
type Response struct {
	*http.Response
	body []byte
}

func (r *Response) Body() []byte { return r.body }

// IsError reports a 4xx or 5xx status.
func (r *Response) IsError() bool { return r.StatusCode >= http.StatusBadRequest }

type request struct {
	client *InstrumentedClient
	opts   requestSettings
	header http.Header
	query  url.Values
	body   any
	result any
}

func (r *request) Get(ctx context.Context, path string) (*Response, error) {
	return r.do(ctx, http.MethodGet, path)
}

func (r *request) Post(ctx context.Context, path string) (*Response, error) {
	return r.do(ctx, http.MethodPost, path)
}

func (r *request) SetBody(body any) Request {
	r.body = body
	return r
}

func (r *request) SetHeader(key, value string) Request {
	r.header.Set(key, value)
	return r
}

func (r *request) SetQueryParam(key, value string) Request {
	if r.query == nil {
		r.query = url.Values{}
	}
	r.query.Set(key, value)
	return r
}

func (r *request) SetResult(v any) Request {
	r.result = v
	return r
}

func (r *request) url(path string) string {
	s := r.client.settings
	full := path
	if s.baseURL != "" && !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		full = strings.TrimRight(s.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}
	if len(r.query) == 0 {
		return full
	}
	sep := "?"
	if strings.Contains(full, "?") {
		sep = "&"
	}
	return full + sep + r.query.Encode()
}

// payload returns the encoded body, or nil when there is none.
func (r *request) payload() ([]byte, error) {
	switch b := r.body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("httpclient: encode body: %w", err)
		}
		if r.header.Get("Content-Type") == "" {
			r.header.Set("Content-Type", "application/json")
		}
		return data, nil
	}
}

func (r *request) do(ctx context.Context, method, path string) (*Response, error) {
	c := r.client
	target := r.url(path)

	ctx, span := c.settings.tracer.Start(ctx, "http.client "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", target),
			attribute.String("provider", c.settings.provider),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := r.send(ctx, span, method, target)
	c.inst.latency.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", c.settings.provider)))

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	r.count(ctx, status, err)

	if err != nil {
		markFailed(span, err)
	}
	return resp, err
}

func (r *request) send(ctx context.Context, span trace.Span, method, target string) (*Response, error) {
	s := r.client.settings

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("httpclient: %s rate limit: %w", s.provider, err)
		}
	}

	data, err := r.payload()
	if err != nil {
		return nil, err
	}
	var rd io.Reader
	if data != nil {
		rd = bytes.NewReader(data)
		if s.traceBodyIn {
			span.AddEvent("request.body", trace.WithAttributes(attribute.String("body", string(data))))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}
	req.Header = r.header

	hr, err := r.client.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer hr.Body.Close()

	body, err := io.ReadAll(hr.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read %s response: %w", s.provider, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", hr.StatusCode))
	if s.traceBodyOut {
		span.AddEvent("response.body", trace.WithAttributes(attribute.String("body", string(body))))
	}

	resp := &Response{Response: hr, body: body}
	if r.opts.onError != nil {
		if err := r.opts.onError(hr.StatusCode, body); err != nil {
			return resp, err
		}
	}
	if r.result != nil && !resp.IsError() && len(body) > 0 {
		if err := json.Unmarshal(body, r.result); err != nil {
			return resp, fmt.Errorf("httpclient: decode %s response: %w", s.provider, err)
		}
	}
	return resp, nil
}

func (r *request) count(ctx context.Context, status int, err error) {
	outcome := "ok"
	switch {
	case err != nil && status == 0:
		outcome = "transport_error"
	case err != nil || status >= http.StatusBadRequest:
		outcome = "error"
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider", r.client.settings.provider),
		attribute.String("outcome", outcome),
		attribute.String("status", strconv.Itoa(status)),
	}
	for _, l := range r.opts.labels {
		attrs = append(attrs, attribute.String(l.Key, l.Value))
	}
	r.client.inst.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func markFailed(span trace.Span, err error) {
	span.RecordError(err)
	var ne net.Error
	switch {
	case errors.Is(err, context.Canceled):
		span.SetAttributes(attribute.Bool("http.canceled", true))
	case errors.As(err, &ne) && ne.Timeout():
		span.SetAttributes(attribute.Bool("http.timeout", true))
	}
	span.SetStatus(codes.Error, err.Error())
}
