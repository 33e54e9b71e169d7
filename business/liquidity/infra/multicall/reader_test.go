package multicall

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/internal/logger"
)

// fakeChain answers aggregate3 requests from in-memory venue state.
type fakeChain struct {
	t        *testing.T
	rpcs     int
	block    int64
	reserves map[common.Address][2]*big.Int
	pools    map[common.Address]int64 // tick
	netAt    map[int64]*big.Int
	balances map[common.Address]*big.Int
	fail     error
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.rpcs++
	if f.fail != nil {
		return nil, f.fail
	}
	mc, err := abi.JSON(strings.NewReader(Multicall3ABI))
	if err != nil {
		f.t.Fatalf("abi: %v", err)
	}
	args, err := mc.Methods["aggregate3"].Inputs.Unpack(msg.Data[4:])
	if err != nil {
		f.t.Fatalf("unpack aggregate3: %v", err)
	}
	calls := *abi.ConvertType(args[0], new([]Call3)).(*[]Call3)

	results := make([]Result, len(calls))
	for i, c := range calls {
		sel := c.CallData[:4]
		var ret []byte
		switch {
		case bytes.Equal(sel, mc.Methods["getBlockNumber"].ID):
			ret, err = mc.Methods["getBlockNumber"].Outputs.Pack(big.NewInt(f.block))
		case bytes.Equal(sel, domain.PairContract.Methods["getReserves"].ID):
			r, ok := f.reserves[c.Target]
			if !ok {
				continue
			}
			ret, err = domain.PairContract.Methods["getReserves"].Outputs.Pack(r[0], r[1], uint32(0))
		case bytes.Equal(sel, domain.PoolContract.Methods["slot0"].ID):
			tick := f.pools[c.Target]
			ret, err = domain.PoolContract.Methods["slot0"].Outputs.Pack(
				domain.SqrtRatioAtTick(int32(tick)), big.NewInt(tick), uint16(0), uint16(1), uint16(1), uint8(0), true)
		case bytes.Equal(sel, domain.PoolContract.Methods["liquidity"].ID):
			ret, err = domain.PoolContract.Methods["liquidity"].Outputs.Pack(big.NewInt(1_000_000_000))
		case bytes.Equal(sel, domain.PoolContract.Methods["ticks"].ID):
			in, _ := domain.PoolContract.Methods["ticks"].Inputs.Unpack(c.CallData[4:])
			idx := in[0].(*big.Int).Int64()
			net, initialized := f.netAt[idx]
			if !initialized {
				net = new(big.Int)
			}
			z := new(big.Int)
			ret, err = domain.PoolContract.Methods["ticks"].Outputs.Pack(new(big.Int).Abs(net), net, z, z, z, z, uint32(0), initialized)
		case bytes.Equal(sel, domain.ERC20Contract.Methods["balanceOf"].ID):
			ret, err = domain.ERC20Contract.Methods["balanceOf"].Outputs.Pack(f.balances[c.Target])
		default:
			continue
		}
		if err != nil {
			f.t.Fatalf("pack result: %v", err)
		}
		results[i] = Result{Success: true, ReturnData: ret}
	}
	return mc.Methods["aggregate3"].Outputs.Pack(results)
}

func newTestReader(t *testing.T, chain *fakeChain) *Reader {
	t.Helper()
	r, err := NewReader(Config{ChainID: 1, Address: common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")},
		chain, nil, logger.New(io.Discard, logger.LevelError, "test", nil))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	return r
}

func TestReadVenuesBatchesIntoOneRoundTrip(t *testing.T) {
	chain := &fakeChain{t: t, block: 19_000_000, reserves: map[common.Address][2]*big.Int{}}
	var venues []domain.Venue
	for i := 1; i <= 10; i++ {
		addr := common.BigToAddress(big.NewInt(int64(0x1000 + i)))
		chain.reserves[addr] = [2]*big.Int{big.NewInt(int64(i) * 1000), big.NewInt(int64(i) * 2000)}
		venues = append(venues, domain.Venue{ChainID: 1, Protocol: domain.ConstantProduct, Address: addr})
	}
	// a venue whose call reverts is dropped, not fatal
	venues = append(venues, domain.Venue{ChainID: 1, Protocol: domain.ConstantProduct, Address: common.HexToAddress("0xdead")})

	snaps, err := newTestReader(t, chain).ReadVenues(context.Background(), venues)
	if err != nil {
		t.Fatalf("ReadVenues() error = %v", err)
	}
	if chain.rpcs != 1 {
		t.Errorf("round trips = %d, want 1 for 11 venues", chain.rpcs)
	}
	if len(snaps) != 10 {
		t.Fatalf("snapshots = %d, want 10", len(snaps))
	}
	for _, s := range snaps {
		want := chain.reserves[s.Venue.Address]
		if s.Reserve0.Cmp(want[0]) != 0 || s.Reserve1.Cmp(want[1]) != 0 {
			t.Errorf("%s reserves = %s/%s", s.Venue.Address.Hex(), s.Reserve0, s.Reserve1)
		}
		if s.Block != 19_000_000 || s.FetchedAt.IsZero() {
			t.Errorf("block = %d, fetchedAt = %v", s.Block, s.FetchedAt)
		}
	}
}

func TestReadVenuesConcentratedReadsTicks(t *testing.T) {
	addr := common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")
	chain := &fakeChain{
		t:     t,
		block: 1,
		pools: map[common.Address]int64{addr: 125},
		netAt: map[int64]*big.Int{60: big.NewInt(500), 240: big.NewInt(-500)},
	}
	venue := domain.Venue{ChainID: 1, Protocol: domain.ConcentratedLiquidity, Address: addr, TickSpacing: 60}

	snaps, err := newTestReader(t, chain).ReadVenues(context.Background(), []domain.Venue{venue})
	if err != nil {
		t.Fatalf("ReadVenues() error = %v", err)
	}
	if chain.rpcs != 2 {
		t.Errorf("round trips = %d, want 2 (state + ticks)", chain.rpcs)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d", len(snaps))
	}
	s := snaps[0]
	if s.Tick != 125 || s.Liquidity.Int64() != 1_000_000_000 {
		t.Errorf("tick = %d, liquidity = %s", s.Tick, s.Liquidity)
	}
	if len(s.Ticks) != 2 || s.Ticks[0].Index != 60 || s.Ticks[1].Index != 240 {
		t.Errorf("ticks = %+v", s.Ticks)
	}
}

func TestBalancesAndFailure(t *testing.T) {
	token := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	chain := &fakeChain{t: t, balances: map[common.Address]*big.Int{token: big.NewInt(42)}}
	r := newTestReader(t, chain)

	got, err := r.Balances(context.Background(), []BalanceQuery{{Token: token, Holder: common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")}})
	if err != nil {
		t.Fatalf("Balances() error = %v", err)
	}
	if got[0].Int64() != 42 {
		t.Errorf("balance = %s, want 42", got[0])
	}

	chain.fail = errors.New("connection refused")
	if _, err := r.ReadVenues(context.Background(), []domain.Venue{{Protocol: domain.ConstantProduct}}); err == nil {
		t.Error("expected an RPC error")
	}
}
