package binance

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"

	"github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/logger"
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

type sinkRecorder struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
}

func (s *sinkRecorder) Put(snap domain.Snapshot) {
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
}

func (s *sinkRecorder) last(t *testing.T) domain.Snapshot {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps) == 0 {
		t.Fatal("no snapshot written")
	}
	return s.snaps[len(s.snaps)-1]
}

func ethUSDCVenue() domain.Venue {
	return domain.Venue{
		ChainID:   1,
		Protocol:  domain.OrderBook,
		Address:   domain.OrderBookAddress("binance", "ETHUSDC"),
		FeeBps:    10,
		Token0:    common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		Token1:    common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Decimals0: 18,
		Decimals1: 6,
		Symbol:    "ETHUSDC",
	}
}

func bigStr(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad int %q", s)
	}
	return v
}

func TestFeed_RESTFallback(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.URL.Query().Get("symbol"); got != "ETHUSDC" {
			t.Errorf("symbol = %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Depth{
			UpdateID: 12345,
			Bids:     [][]string{{"3400.50", "10.5"}, {"3400.00", "20.0"}},
			Asks:     [][]string{{"3401.00", "8.0"}, {"3401.50", "0"}},
		})
	}))
	defer server.Close()

	sink := &sinkRecorder{}
	cfg := FeedConfig{
		REST:         RESTConfig{URL: server.URL},
		StaleTimeout: time.Second,
	}
	feed, err := NewFeed(cfg, []domain.Venue{ethUSDCVenue()}, sink, &mockLogger{})
	if err != nil {
		t.Fatalf("NewFeed() error = %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	feed.now = func() time.Time { return now }

	ctx := context.Background()
	feed.RefreshStale(ctx)

	snap := sink.last(t)
	if snap.Venue.Symbol != "ETHUSDC" || !snap.FetchedAt.Equal(now) {
		t.Errorf("snapshot venue/time = %s %v", snap.Venue.Symbol, snap.FetchedAt)
	}
	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("levels = %d bids %d asks", len(snap.Bids), len(snap.Asks))
	}
	if want := bigStr(t, "10500000000000000000"); snap.Bids[0].Base.Cmp(want) != 0 {
		t.Errorf("bid base = %s, want %s", snap.Bids[0].Base, want)
	}
	if want := bigStr(t, "35705250000"); snap.Bids[0].Quote.Cmp(want) != 0 {
		t.Errorf("bid quote = %s, want %s", snap.Bids[0].Quote, want)
	}

	// Fresh market is not refetched.
	feed.RefreshStale(ctx)
	if calls.Load() != 1 {
		t.Errorf("REST calls = %d, want 1", calls.Load())
	}

	now = now.Add(2 * time.Second)
	feed.RefreshStale(ctx)
	if calls.Load() != 2 {
		t.Errorf("REST calls after stale = %d, want 2", calls.Load())
	}
}

func TestFeed_StreamMessage(t *testing.T) {
	sink := &sinkRecorder{}
	feed, err := NewFeed(FeedConfig{}, []domain.Venue{ethUSDCVenue()}, sink, &mockLogger{})
	if err != nil {
		t.Fatalf("NewFeed() error = %v", err)
	}

	msg := []byte(`{"stream":"ethusdc@depth20@100ms","data":{"lastUpdateId":1,"bids":[["2000","1"]],"asks":[["2001","2"]]}}`)
	feed.stream.dispatch(context.Background(), msg)

	snap := sink.last(t)
	if want := bigStr(t, "4002000000"); snap.Asks[0].Quote.Cmp(want) != 0 {
		t.Errorf("ask quote = %s, want %s", snap.Asks[0].Quote, want)
	}
	if snap.Key() != ethUSDCVenue().Key() {
		t.Errorf("key = %s", snap.Key())
	}

	// Control replies and unknown symbols are ignored.
	feed.stream.dispatch(context.Background(), []byte(`{"result":null,"id":3}`))
	feed.stream.dispatch(context.Background(), []byte(`{"stream":"btcusdt@depth20@100ms","data":{"bids":[["1","1"]],"asks":[["1","1"]]}}`))
	if len(sink.snaps) != 1 {
		t.Errorf("snapshots = %d, want 1", len(sink.snaps))
	}
}

func TestFeed_OneSidedBookDropped(t *testing.T) {
	sink := &sinkRecorder{}
	feed, err := NewFeed(FeedConfig{}, []domain.Venue{ethUSDCVenue()}, sink, &mockLogger{})
	if err != nil {
		t.Fatalf("NewFeed() error = %v", err)
	}
	feed.apply(context.Background(), &Depth{
		Symbol: "ETHUSDC",
		Bids:   [][]string{{"2000", "1"}},
	})
	if len(sink.snaps) != 0 {
		t.Errorf("one-sided book should not be stored")
	}
}

func TestBookSide(t *testing.T) {
	tests := []struct {
		name      string
		raw       [][]string
		wantBase  []string
		wantQuote []string
		wantErr   bool
	}{
		{
			name:      "whole units",
			raw:       [][]string{{"2000", "1.5"}},
			wantBase:  []string{"1500000000000000000"},
			wantQuote: []string{"3000000000"},
		},
		{
			name:      "quote truncated",
			raw:       [][]string{{"0.3333333", "1"}},
			wantBase:  []string{"1000000000000000000"},
			wantQuote: []string{"333333"},
		},
		{
			name: "dust and empty levels dropped",
			raw:  [][]string{{"0.0000001", "0.000000000000000001"}, {"2000", "0"}, {"2000"}},
		},
		{
			name:    "malformed price",
			raw:     [][]string{{"abc", "1"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bookSide(tt.raw, 18, 6)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.wantBase) {
				t.Fatalf("levels = %d, want %d", len(got), len(tt.wantBase))
			}
			for i := range got {
				if got[i].Base.String() != tt.wantBase[i] || got[i].Quote.String() != tt.wantQuote[i] {
					t.Errorf("level %d = %s/%s", i, got[i].Base, got[i].Quote)
				}
			}
		})
	}
}

func TestStreamURL(t *testing.T) {
	got, err := streamURL(DefaultStreamURL, []string{"ETHUSDC", "WBTCUSDT"}, 1000)
	if err != nil {
		t.Fatalf("streamURL: %v", err)
	}
	want := "wss://stream.binance.com:9443/stream?streams=ethusdc@depth20@1000ms/wbtcusdt@depth20@1000ms"
	if got != want {
		t.Errorf("url = %s, want %s", got, want)
	}
	if _, err := streamURL(DefaultStreamURL, nil, 100); !apperror.HasCode(err, apperror.CodeConfigurationError) {
		t.Errorf("no symbols err = %v", err)
	}
	if s := symbolOf("wbtcusdt@depth20@1000ms"); s != "WBTCUSDT" {
		t.Errorf("symbolOf = %s", s)
	}
}

func TestDepthLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 5}, {5, 5}, {20, 20}, {21, 50}, {9999, 5000},
	}
	for _, tt := range tests {
		if got := depthLimit(tt.in); got != tt.want {
			t.Errorf("depthLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFeed_RateLimitStopsRefresh(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
	}))
	defer server.Close()

	second := ethUSDCVenue()
	second.Symbol = "ETHUSDT"
	second.Address = domain.OrderBookAddress("binance", "ETHUSDT")

	sink := &sinkRecorder{}
	feed, err := NewFeed(FeedConfig{REST: RESTConfig{URL: server.URL}}, []domain.Venue{ethUSDCVenue(), second}, sink, &mockLogger{})
	if err != nil {
		t.Fatalf("NewFeed() error = %v", err)
	}
	feed.RefreshStale(context.Background())

	if calls.Load() != 1 {
		t.Errorf("REST calls = %d, want 1 after a 429", calls.Load())
	}
	if len(sink.snaps) != 0 {
		t.Errorf("snapshots = %d, want 0", len(sink.snaps))
	}
}
