package app

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	arbdomain "github.com/fd1az/mev-arbitrage/business/arbitrage/domain"
	bcdomain "github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	fldomain "github.com/fd1az/mev-arbitrage/business/flashloan/domain"
	liqdomain "github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/asset"
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

var (
	now      = time.Unix(1_700_000_000, 0)
	ether    = asset.Pow10(18)
	weth     = asset.AddrWETHEthereum
	usdc     = asset.AddrUSDCEthereum
	executor = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	poolA    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	poolB    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

// fakeSnapshots serves fixed snapshots; stale keys fail validation.
type fakeSnapshots struct {
	snaps map[liqdomain.VenueKey]liqdomain.Snapshot
	stale bool
}

func (f *fakeSnapshots) Get(key liqdomain.VenueKey) (liqdomain.Snapshot, bool) {
	s, ok := f.snaps[key]
	return s, ok
}

func (f *fakeSnapshots) Validate(refs []liqdomain.SnapshotRef, now time.Time) error {
	if f.stale {
		return apperror.New(apperror.CodeStaleData, apperror.WithContext(refs[0].Key.String()))
	}
	return nil
}

func pool(addr common.Address, usdcReserve int64) liqdomain.Snapshot {
	return liqdomain.Snapshot{
		Venue: liqdomain.Venue{
			ChainID: 1, Protocol: liqdomain.ConstantProduct, Address: addr, FeeBps: 30,
			Token0: usdc, Token1: weth,
		},
		Reserve0:  new(big.Int).Mul(big.NewInt(usdcReserve), asset.Pow10(6)),
		Reserve1:  new(big.Int).Mul(big.NewInt(1_000), ether),
		Block:     100,
		FetchedAt: now,
	}
}

func fixture() (*fakeSnapshots, arbdomain.Opportunity) {
	a, b := pool(poolA, 2_000_000), pool(poolB, 2_020_000)
	snaps := &fakeSnapshots{snaps: map[liqdomain.VenueKey]liqdomain.Snapshot{a.Key(): a, b.Key(): b}}

	opp := arbdomain.Opportunity{
		ID:      "opp-1",
		ChainID: 1,
		Path: arbdomain.Path{ChainID: 1, Anchor: weth, Cycle: true, Hops: []arbdomain.Hop{
			{Venue: b.Venue, TokenIn: weth, TokenOut: usdc},
			{Venue: a.Venue, TokenIn: usdc, TokenOut: weth},
		}},
		Block:       100,
		Priced:      []liqdomain.SnapshotRef{b.Ref(), a.Ref()},
		Fee:         bcdomain.NewFeeQuote(big.NewInt(1_000_000_000), big.NewInt(100_000_000), nil, 100, now),
		Borrow:      new(big.Int).Set(ether),
		HopOutputs:  []*big.Int{big.NewInt(2_011_934_101), mustBig("1001944250215052192")},
		GasUnits:    588_000,
		SlippageBps: 50,
	}
	return snaps, opp
}

func mustBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad integer " + s)
	}
	return n
}

func zeroFee(amount *big.Int) fldomain.CapitalSource {
	return fldomain.CapitalSource{
		Kind:    fldomain.ZeroFeeSource,
		ChainID: 1,
		Token:   weth,
		Legs: []fldomain.Leg{{
			Provider: fldomain.Provider{Name: "balancer", Kind: fldomain.ZeroFee},
			Amount:   amount, Fee: new(big.Int), Depth: new(big.Int).Mul(amount, big.NewInt(100)),
		}},
	}
}

func testBuilder(snaps SnapshotReader) *Builder {
	return NewBuilder(BuilderConfig{
		Executors:        map[uint64]common.Address{1: executor},
		Treasury:         common.HexToAddress("0x7e"),
		Operator:         common.HexToAddress("0x0b"),
		TreasuryShareBps: 8_000,
		DeadlineBlocks:   3,
	}, snaps, &mockLogger{}, WithClock(func() time.Time { return now }))
}

func TestBuilder_Build(t *testing.T) {
	snaps, opp := fixture()
	plan, err := testBuilder(snaps).Build(context.Background(), opp, zeroFee(opp.Borrow))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	hops := plan.Hops()
	tests := []struct {
		name string
		got  *big.Int
		want string
	}{
		{"hop 0 expected", hops[0].ExpectedOut, "2011934101"},
		{"hop 0 min out", hops[0].MinOut, "2001874430"}, // 50 bps below
		{"hop 1 expected", hops[1].ExpectedOut, "1001944250215052192"},
		{"hop 1 min out raised to repay", hops[1].MinOut, "1000000000000000000"},
		{"hop 1 spends hop 0 output", hops[1].AmountIn, "2011934101"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got.String() != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}

	if plan.DeadlineBlock() != 103 {
		t.Errorf("DeadlineBlock() = %d, want 103", plan.DeadlineBlock())
	}
	if plan.Executor() != executor || hops[0].Call.Target != poolB {
		t.Errorf("plan targets %s / %s", plan.Executor().Hex(), hops[0].Call.Target.Hex())
	}
	if err := plan.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestBuilder_BuildRejects(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*fakeSnapshots, *arbdomain.Opportunity) fldomain.CapitalSource
		wantCode apperror.Code
	}{
		{
			name: "stale snapshot",
			setup: func(s *fakeSnapshots, o *arbdomain.Opportunity) fldomain.CapitalSource {
				s.stale = true
				return zeroFee(o.Borrow)
			},
			wantCode: apperror.CodeStaleData,
		},
		{
			// a newer block moved pool B after pricing; its surplus no
			// longer covers gas, so the plan must not be built on it
			name: "pool replaced at a newer block",
			setup: func(s *fakeSnapshots, o *arbdomain.Opportunity) fldomain.CapitalSource {
				moved := pool(poolB, 2_018_000)
				moved.Block = 101
				moved.FetchedAt = now.Add(time.Second)
				s.snaps[moved.Key()] = moved
				return zeroFee(o.Borrow)
			},
			wantCode: apperror.CodeStaleData,
		},
		{
			name: "priced outputs disagree with the snapshot",
			setup: func(s *fakeSnapshots, o *arbdomain.Opportunity) fldomain.CapitalSource {
				o.HopOutputs[0] = big.NewInt(2_020_000_000)
				return zeroFee(o.Borrow)
			},
			wantCode: apperror.CodeStaleData,
		},
		{
			name: "snapshots not pinned",
			setup: func(s *fakeSnapshots, o *arbdomain.Opportunity) fldomain.CapitalSource {
				o.Priced = nil
				return zeroFee(o.Borrow)
			},
			wantCode: apperror.CodeInvalidPlan,
		},
		{
			name: "capital does not match borrow",
			setup: func(s *fakeSnapshots, o *arbdomain.Opportunity) fldomain.CapitalSource {
				return zeroFee(big.NewInt(1))
			},
			wantCode: apperror.CodeInvalidPlan,
		},
		{
			name: "loan fee larger than the surplus",
			setup: func(s *fakeSnapshots, o *arbdomain.Opportunity) fldomain.CapitalSource {
				c := zeroFee(o.Borrow)
				c.Legs[0].Fee = new(big.Int).Quo(ether, big.NewInt(100))
				return c
			},
			wantCode: apperror.CodeInvalidPlan,
		},
		{
			name: "no executor on network",
			setup: func(s *fakeSnapshots, o *arbdomain.Opportunity) fldomain.CapitalSource {
				o.ChainID = 10
				return zeroFee(o.Borrow)
			},
			wantCode: apperror.CodeConfigurationError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snaps, opp := fixture()
			capital := tt.setup(snaps, &opp)
			_, err := testBuilder(snaps).Build(context.Background(), opp, capital)
			if !apperror.HasCode(err, tt.wantCode) {
				t.Errorf("Build() error = %v, want %s", err, tt.wantCode)
			}
		})
	}
}
