package infra

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/fd1az/mev-arbitrage/business/arbitrage/domain"
	subdomain "github.com/fd1az/mev-arbitrage/business/submission/domain"
	"github.com/fd1az/mev-arbitrage/internal/logger"
	"github.com/fd1az/mev-arbitrage/internal/redis"
)

// mockLogger implements logger.LoggerInterface for testing.
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Info(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Warn(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Error(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Debugc(ctx context.Context, caller int, msg string, args ...any) {}
func (m *mockLogger) Infoc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Warnc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Errorc(ctx context.Context, caller int, msg string, args ...any) {}

var _ logger.LoggerInterface = (*mockLogger)(nil)

type entry struct {
	dest    string
	stream  bool
	payload []byte
}

type recordingBus struct {
	entries []entry
	err     error
}

func (b *recordingBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.entries = append(b.entries, entry{dest: channel, payload: payload})
	return b.err
}

func (b *recordingBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.entries = append(b.entries, entry{dest: stream, stream: true, payload: payload})
	return b.err
}

func confirmedResult() *subdomain.Result {
	now := time.Unix(1_700_000_000, 0)
	res := subdomain.NewResult("opp-1", 1, subdomain.PrivacyHigh.Tradeoff(), now)
	_ = res.Transition(subdomain.StateSimulated)
	_ = res.Transition(subdomain.StateSubmitted)
	_ = res.Transition(subdomain.StateConfirmed)
	res.RealizedProfit = big.NewInt(4200)
	res.Finish(subdomain.OutcomeAccepted, now.Add(time.Second))
	return res
}

func TestRedisReporter_Destinations(t *testing.T) {
	bus := &recordingBus{}
	r := NewRedisReporter(bus, &mockLogger{})
	ctx := context.Background()

	r.Report(ctx, confirmedResult())
	r.ReportSpatial(ctx, domain.SpatialCandidate{
		Buy:           domain.Path{ChainID: 1},
		Sell:          domain.Path{ChainID: 10},
		Symbol:        "WETH",
		BridgeCostBps: 20,
		Score:         big.NewInt(1),
	})
	r.Alert(ctx, domain.Alert{OpportunityID: "opp-2", Code: "SIMULATION_FAILURE"})

	want := []struct {
		dest   string
		stream bool
	}{
		{redis.StreamResults, true},
		{redis.StreamSpatial, true},
		{redis.ChannelAlerts, false},
	}
	if len(bus.entries) != len(want) {
		t.Fatalf("entries = %d, want %d", len(bus.entries), len(want))
	}
	for i, tt := range want {
		if bus.entries[i].dest != tt.dest || bus.entries[i].stream != tt.stream {
			t.Errorf("entry %d = %s (stream %v), want %s (stream %v)",
				i, bus.entries[i].dest, bus.entries[i].stream, tt.dest, tt.stream)
		}
	}

	var got struct {
		OpportunityID  string `json:"opportunity_id"`
		State          string `json:"state"`
		RealizedProfit int64  `json:"realized_profit"`
	}
	if err := json.Unmarshal(bus.entries[0].payload, &got); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if got.OpportunityID != "opp-1" || got.State != "confirmed" || got.RealizedProfit != 4200 {
		t.Errorf("result payload = %+v", got)
	}

	var spatial SpatialMessage
	if err := json.Unmarshal(bus.entries[1].payload, &spatial); err != nil {
		t.Fatalf("decode spatial: %v", err)
	}
	if spatial.BuyChainID != 1 || spatial.SellChainID != 10 || spatial.Score != "1" {
		t.Errorf("spatial payload = %+v", spatial)
	}
}

func TestRedisReporter_WriteErrorsAreSwallowed(t *testing.T) {
	bus := &recordingBus{err: errors.New("connection refused")}
	r := NewRedisReporter(bus, &mockLogger{})

	r.Report(context.Background(), confirmedResult())
	if len(bus.entries) != 1 {
		t.Errorf("entries = %d, want 1", len(bus.entries))
	}
}

type countingReporter struct {
	started, reports, spatial, alerts, stopped int
	startErr, stopErr                          error
}

func (c *countingReporter) Start(ctx context.Context) error { c.started++; return c.startErr }
func (c *countingReporter) Report(ctx context.Context, res *subdomain.Result) {
	c.reports++
}
func (c *countingReporter) ReportSpatial(ctx context.Context, s domain.SpatialCandidate) {
	c.spatial++
}
func (c *countingReporter) Alert(ctx context.Context, a domain.Alert) { c.alerts++ }
func (c *countingReporter) Stop() error                              { c.stopped++; return c.stopErr }

func TestMultiReporter_FansOut(t *testing.T) {
	a, b := &countingReporter{}, &countingReporter{stopErr: errors.New("flush failed")}
	m := NewMultiReporter(a, nil, b)
	ctx := context.Background()

	if len(m) != 2 {
		t.Fatalf("len = %d, want 2", len(m))
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Report(ctx, confirmedResult())
	m.ReportSpatial(ctx, domain.SpatialCandidate{})
	m.Alert(ctx, domain.Alert{})
	if err := m.Stop(); err == nil {
		t.Error("Stop should surface the failing reporter")
	}

	for i, r := range []*countingReporter{a, b} {
		if r.started != 1 || r.reports != 1 || r.spatial != 1 || r.alerts != 1 || r.stopped != 1 {
			t.Errorf("reporter %d = %+v", i, *r)
		}
	}
}

func TestMultiReporter_StartStopsAtFirstFailure(t *testing.T) {
	a := &countingReporter{startErr: errors.New("no tty")}
	b := &countingReporter{}
	if err := NewMultiReporter(a, b).Start(context.Background()); err == nil {
		t.Fatal("Start should fail")
	}
	if b.started != 0 {
		t.Error("second reporter started after a failure")
	}
}
