package depth

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/business/liquidity/infra/multicall"
)

type fakeBalances struct {
	balances map[common.Address]*big.Int
	calls    int
	queried  int
}

func (f *fakeBalances) Balances(ctx context.Context, queries []multicall.BalanceQuery) ([]*big.Int, error) {
	f.calls++
	f.queried += len(queries)
	out := make([]*big.Int, len(queries))
	for i, q := range queries {
		if b, ok := f.balances[q.Holder]; ok {
			out[i] = b
		} else {
			out[i] = new(big.Int)
		}
	}
	return out, nil
}

func TestReader_Depths(t *testing.T) {
	weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	balancer := common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
	aave := common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")

	fake := &fakeBalances{balances: map[common.Address]*big.Int{
		balancer: big.NewInt(500),
		aave:     big.NewInt(9000),
	}}
	r, err := NewReader(map[uint64]BalanceReader{1: fake}, time.Minute)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	got, err := r.Depths(ctx, 1, weth, []common.Address{balancer, aave})
	if err != nil {
		t.Fatalf("Depths: %v", err)
	}
	if got[0].Int64() != 500 || got[1].Int64() != 9000 {
		t.Errorf("Depths = %v", got)
	}

	r.cache.Wait()
	if _, err := r.Depths(ctx, 1, weth, []common.Address{aave, balancer}); err != nil {
		t.Fatalf("second Depths: %v", err)
	}
	if fake.calls != 1 {
		t.Errorf("balance calls = %d, want 1 (cached)", fake.calls)
	}

	if _, err := r.Depths(ctx, 5, weth, []common.Address{aave}); err == nil {
		t.Error("expected error for unknown chain")
	}
}
