package app

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	bcdomain "github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	"github.com/fd1az/mev-arbitrage/business/mev/domain"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Info(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Warn(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Error(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Debugc(ctx context.Context, caller int, msg string, args ...any) {}
func (m *mockLogger) Infoc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Warnc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Errorc(ctx context.Context, caller int, msg string, args ...any) {}

type fixedSensor struct {
	name    string
	reading domain.Reading
	err     error
}

func (s fixedSensor) Name() string { return s.name }
func (s fixedSensor) Read(ctx context.Context, chainID uint64) (domain.Reading, error) {
	r := s.reading
	r.ChainID = chainID
	return r, s.err
}

type countingPublisher struct {
	n atomic.Int32
}

func (p *countingPublisher) PublishSignals(ctx context.Context, s domain.Signals) error {
	p.n.Add(1)
	return nil
}

func TestSensorHub_PublishAndLatest(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	pub := &countingPublisher{}
	hub := NewSensorHub(5*time.Second, []uint64{1, 10}, []Sensor{
		fixedSensor{name: "block", reading: domain.Reading{Congestion: 200_000_000, Density: 100_000_000}},
		fixedSensor{name: "mempool", reading: domain.Reading{Congestion: 400_000_000, Density: 500_000_000}},
		fixedSensor{name: "broken", err: errors.New("no data")},
	}, pub, &mockLogger{})
	hub.now = func() time.Time { return now }

	if hub.Latest(1).Valid {
		t.Fatal("signals valid before first publication")
	}

	hub.Publish(context.Background())

	got := hub.Latest(1)
	if !got.Valid || got.Congestion != 300_000_000 || got.Density != 300_000_000 {
		t.Errorf("Latest(1) = %+v", got)
	}
	if len(got.Sensors) != 2 || got.Sensors[0] != "block" || got.Sensors[1] != "mempool" {
		t.Errorf("Sensors = %v, want [block mempool]", got.Sensors)
	}
	if !got.PublishedAt.Equal(now) {
		t.Errorf("PublishedAt = %v, want %v", got.PublishedAt, now)
	}
	if pub.n.Load() != 2 {
		t.Errorf("publisher calls = %d, want 2", pub.n.Load())
	}

	hub.now = func() time.Time { return now.Add(7 * time.Second) }
	if age, ok := hub.Age(10); !ok || age != 7*time.Second {
		t.Errorf("Age = %v, %v", age, ok)
	}
	if hub.Latest(99).Valid {
		t.Error("unknown chain returned valid signals")
	}
}

func TestSensorHub_FailedRoundKeepsPrevious(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := &toggleSensor{}
	hub := NewSensorHub(time.Second, []uint64{1}, []Sensor{s}, nil, &mockLogger{})
	hub.now = func() time.Time { return now }

	hub.Publish(context.Background())
	first := hub.Latest(1)

	s.fail.Store(true)
	hub.now = func() time.Time { return now.Add(time.Minute) }
	hub.Publish(context.Background())

	if got := hub.Latest(1); !got.PublishedAt.Equal(first.PublishedAt) {
		t.Errorf("failed round replaced signals: %v", got.PublishedAt)
	}
}

// hungSensor never answers and ignores its context.
type hungSensor struct{ release chan struct{} }

func (s hungSensor) Name() string { return "hung" }
func (s hungSensor) Read(ctx context.Context, chainID uint64) (domain.Reading, error) {
	<-s.release
	return domain.Reading{}, errors.New("released")
}

// One sensor that never returns does not hold back the others or any network.
func TestSensorHub_HungSensorTimesOut(t *testing.T) {
	hung := hungSensor{release: make(chan struct{})}
	defer close(hung.release)

	hub := NewSensorHub(time.Second, []uint64{1, 10}, []Sensor{
		hung,
		fixedSensor{name: "block", reading: domain.Reading{Congestion: 200_000_000}},
	}, nil, &mockLogger{})
	hub.timeout = 20 * time.Millisecond

	done := make(chan struct{})
	go func() {
		hub.Publish(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a hung sensor")
	}

	for _, id := range []uint64{1, 10} {
		got := hub.Latest(id)
		if !got.Valid || len(got.Sensors) != 1 || got.Sensors[0] != "block" {
			t.Errorf("Latest(%d) = %+v, want the block sensor alone", id, got)
		}
	}
}

type toggleSensor struct{ fail atomic.Bool }

func (s *toggleSensor) Name() string { return "toggle" }
func (s *toggleSensor) Read(ctx context.Context, chainID uint64) (domain.Reading, error) {
	if s.fail.Load() {
		return domain.Reading{}, errors.New("down")
	}
	return domain.Reading{Congestion: 100_000_000}, nil
}

type fakeHistory []*bcdomain.Block

func (h fakeHistory) History(chainID uint64, n int) []*bcdomain.Block {
	if n > len(h) {
		n = len(h)
	}
	return h[len(h)-n:]
}

func TestBlockSensor_Read(t *testing.T) {
	block := func(n uint64, baseFee int64, used uint64) *bcdomain.Block {
		return &bcdomain.Block{Number: n, BaseFee: big.NewInt(baseFee), GasLimit: 30_000_000, GasUsed: used, Timestamp: time.Unix(int64(n), 0)}
	}

	tests := []struct {
		name           string
		blocks         fakeHistory
		wantCongestion domain.Ratio
		wantDensity    domain.Ratio
		wantErr        bool
	}{
		{
			name:           "flat half full",
			blocks:         fakeHistory{block(1, 100, 15_000_000), block(2, 100, 15_000_000)},
			wantCongestion: 250_000_000,
			wantDensity:    0,
		},
		{
			name:           "base fee up 10 percent",
			blocks:         fakeHistory{block(1, 100, 15_000_000), block(2, 110, 15_000_000)},
			wantCongestion: 100_000_000 + 250_000_000,
			wantDensity:    0,
		},
		{
			name:           "base fee doubled is capped",
			blocks:         fakeHistory{block(1, 100, 30_000_000), block(2, 200, 30_000_000)},
			wantCongestion: 500_000_000 + 500_000_000,
			wantDensity:    0,
		},
		{
			name:           "uneven gas used",
			blocks:         fakeHistory{block(1, 100, 10_000_000), block(2, 100, 30_000_000)},
			wantCongestion: 333_333_250,
			wantDensity:    500_000_000,
		},
		{
			name:    "single block",
			blocks:  fakeHistory{block(1, 100, 1)},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewBlockSensor(tt.blocks, 20)
			r, err := s.Read(context.Background(), 1)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if r.Congestion != tt.wantCongestion {
				t.Errorf("Congestion = %d, want %d", r.Congestion, tt.wantCongestion)
			}
			if r.Density != tt.wantDensity {
				t.Errorf("Density = %d, want %d", r.Density, tt.wantDensity)
			}
		})
	}
}

func TestTxFilter_Match(t *testing.T) {
	router := common.HexToAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d")
	other := common.HexToAddress("0x1111111111111111111111111111111111111111")
	swap := [4]byte{0x38, 0xed, 0x17, 0x39}

	f := TxFilter{
		Targets:   map[common.Address]struct{}{router: {}},
		Selectors: map[[4]byte]struct{}{swap: {}},
		MinValue:  big.NewInt(10),
		MaxValue:  big.NewInt(1000),
	}
	tests := []struct {
		name string
		tx   PendingTx
		want bool
	}{
		{"match", PendingTx{To: &router, Selector: swap, Value: big.NewInt(100)}, true},
		{"wrong target", PendingTx{To: &other, Selector: swap, Value: big.NewInt(100)}, false},
		{"contract creation", PendingTx{Selector: swap, Value: big.NewInt(100)}, false},
		{"wrong selector", PendingTx{To: &router, Value: big.NewInt(100)}, false},
		{"below min", PendingTx{To: &router, Selector: swap, Value: big.NewInt(9)}, false},
		{"above max", PendingTx{To: &router, Selector: swap, Value: big.NewInt(1001)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Match(tt.tx); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

type chanSource chan PendingTx

func (c chanSource) Pending(ctx context.Context) (<-chan PendingTx, error) { return c, nil }

func TestMempoolSensor_Density(t *testing.T) {
	router := common.HexToAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d")
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	now := time.Unix(1_700_000_000, 0)

	s := NewMempoolSensor(1, make(chanSource), TxFilter{}, []common.Address{router}, 5*time.Second, &mockLogger{})
	s.now = func() time.Time { return now }

	if _, err := s.Read(context.Background(), 1); err == nil {
		t.Fatal("expected error before the stream is live")
	}
	s.live.Store(true)

	// 10 txs: 1 at 100 gwei, 9 at 1 gwei; avg 10.9, so one is high-gas.
	// 5 go to the router.
	for i := 0; i < 10; i++ {
		gp := big.NewInt(1)
		if i == 0 {
			gp = big.NewInt(100)
		}
		to := other
		if i%2 == 0 {
			to = router
		}
		s.Observe(PendingTx{To: &to, GasPrice: gp, Value: new(big.Int), Seen: now.Add(-time.Second)})
	}
	// outside the window
	s.Observe(PendingTx{To: &other, GasPrice: big.NewInt(1), Seen: now.Add(-time.Minute)})

	r, err := s.Read(context.Background(), 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	// 0.4*0.1 + 0.4*0.5 + 0.2*0.2 = 0.28
	if r.Density != 280_000_000 {
		t.Errorf("Density = %d, want 280000000", r.Density)
	}
	if r.Samples != 10 {
		t.Errorf("Samples = %d, want 10", r.Samples)
	}
	if r.Congestion != 50_000_000 {
		t.Errorf("Congestion = %d, want 50000000", r.Congestion)
	}
}

func TestMempoolSensor_Run(t *testing.T) {
	src := make(chanSource)
	s := NewMempoolSensor(1, src, TxFilter{MinValue: big.NewInt(5)}, nil, time.Minute, &mockLogger{})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	src <- PendingTx{Value: big.NewInt(1)}
	src <- PendingTx{Value: big.NewInt(10)}
	close(src)

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.live.Load() {
		t.Error("sensor still live after stream closed")
	}
	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	if n != 1 {
		t.Errorf("pending = %d, want 1 (filtered by value)", n)
	}
}
