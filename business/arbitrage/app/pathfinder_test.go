package app

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/business/arbitrage/domain"
	liqdomain "github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/internal/asset"
)

func collect(f *PathFinder, g *domain.Graph, anchors []common.Address, maxHops int) []domain.Path {
	var out []domain.Path
	for p := range f.Find(g, anchors, maxHops) {
		out = append(out, p)
	}
	return out
}

func TestPathFinder_TwoPoolCycle(t *testing.T) {
	g := domain.BuildGraph(1, discrepancy(2_020))
	paths := collect(NewPathFinder(0), g, []common.Address{weth}, 3)

	if len(paths) != 1 {
		t.Fatalf("Find() yielded %d paths, want 1", len(paths))
	}
	p := paths[0]
	if p.Hops[0].Venue.Address != poolB || p.Hops[1].Venue.Address != poolA {
		t.Errorf("path sells into %s first, want the richer pool", p.Hops[0].Venue.Address.Hex())
	}
	want := new(big.Int).Mul(big.NewInt(101), asset.Pow10(16)) // 1.01
	if p.Score.Cmp(want) != 0 {
		t.Errorf("Score = %s, want %s", p.Score, want)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestPathFinder_NoGainNoPath(t *testing.T) {
	g := domain.BuildGraph(1, discrepancy(2_000))
	if paths := collect(NewPathFinder(0), g, []common.Address{weth}, 3); len(paths) != 0 {
		t.Errorf("Find() yielded %d paths on equal pools", len(paths))
	}
}

func TestPathFinder_OrderingAndBounds(t *testing.T) {
	snaps := append(discrepancy(2_020),
		// a richer pair, and a DAI pool that closes no cycle
		pairSnapshot(poolC, usdc, weth, units(2_040_000, usd), units(1_000, ether)),
		pairSnapshot(poolD, dai, weth, new(big.Int).Mul(big.NewInt(2_030_000), ether), units(1_000, ether)),
	)
	g := domain.BuildGraph(1, snaps)

	tests := []struct {
		name          string
		maxHops       int
		maxCandidates int
		wantLen       int
	}{
		{name: "two hops", maxHops: 2, maxCandidates: 10, wantLen: 3},
		{name: "clamped below", maxHops: 1, maxCandidates: 10, wantLen: 3},
		{name: "bounded", maxHops: 2, maxCandidates: 2, wantLen: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths := collect(NewPathFinder(tt.maxCandidates), g, []common.Address{weth}, tt.maxHops)
			if len(paths) != tt.wantLen {
				t.Fatalf("Find() yielded %d paths, want %d", len(paths), tt.wantLen)
			}
			for i := 1; i < len(paths); i++ {
				if paths[i-1].Score.Cmp(paths[i].Score) < 0 {
					t.Errorf("path %d scores above path %d", i, i-1)
				}
			}
			// best: sell into C (2040), buy back on A (2000)
			if paths[0].Hops[0].Venue.Address != poolC || paths[0].Hops[1].Venue.Address != poolA {
				t.Errorf("best path = %s", paths[0].Key())
			}
		})
	}
}

// A bounded search keeps exactly the best of what an unbounded one finds.
func TestPathFinder_BoundedKeepsBest(t *testing.T) {
	snaps := discrepancy(2_020)
	for i, price := range []int64{2_030, 2_040, 2_050, 2_060} {
		addr := common.BigToAddress(big.NewInt(int64(0xe0 + i)))
		snaps = append(snaps, pairSnapshot(addr, usdc, weth, units(price*1_000, usd), units(1_000, ether)))
	}
	g := domain.BuildGraph(1, snaps)

	all := collect(NewPathFinder(1_000), g, []common.Address{weth}, 3)
	for _, k := range []int{1, 3, 7} {
		got := collect(NewPathFinder(k), g, []common.Address{weth}, 3)
		if len(got) != min(k, len(all)) {
			t.Fatalf("k=%d: yielded %d paths", k, len(got))
		}
		for i := range got {
			if got[i].Key() != all[i].Key() {
				t.Errorf("k=%d: path %d = %s, want %s", k, i, got[i].Key(), all[i].Key())
			}
		}
	}
}

func TestPathFinder_ExpansionBudget(t *testing.T) {
	g := domain.BuildGraph(1, discrepancy(2_020))

	// pool A sorts first, so the losing A->B cycle is walked before B->A
	tests := []struct {
		budget int
		want   int
	}{{1, 0}, {3, 0}, {4, 1}}
	for _, tt := range tests {
		f := NewPathFinder(0)
		f.maxExpansions = tt.budget
		if paths := collect(f, g, []common.Address{weth}, 3); len(paths) != tt.want {
			t.Errorf("budget %d: Find() yielded %d paths, want %d", tt.budget, len(paths), tt.want)
		}
	}
}

func TestPathFinder_EarlyStop(t *testing.T) {
	snaps := append(discrepancy(2_020),
		pairSnapshot(poolC, usdc, weth, units(2_040_000, usd), units(1_000, ether)))
	g := domain.BuildGraph(1, snaps)

	n := 0
	for range NewPathFinder(0).Find(g, []common.Address{weth}, 5) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("consumer saw %d paths after break", n)
	}
}

func TestClampHops(t *testing.T) {
	tests := []struct{ in, want int }{{0, 2}, {2, 2}, {4, 4}, {9, 5}}
	for _, tt := range tests {
		if got := ClampHops(tt.in); got != tt.want {
			t.Errorf("ClampHops(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPathFinder_FindSpatial(t *testing.T) {
	l2weth := common.HexToAddress("0x4200000000000000000000000000000000000006")
	l2usdc := common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85")
	tokens := asset.DefaultRegistry()
	_ = tokens.Register(asset.NewToken(10, l2weth, "WETH", 18))
	_ = tokens.Register(asset.NewToken(10, l2usdc, "USDC", 6))

	l1 := domain.BuildGraph(1, []liqdomain.Snapshot{
		pairSnapshot(poolA, usdc, weth, units(2_000_000, usd), units(1_000, ether)),
	})
	l2snap := pairSnapshot(poolB, l2weth, l2usdc, units(1_000, ether), units(2_100_000, usd))
	l2snap.Venue.ChainID = 10
	l2 := domain.BuildGraph(10, []liqdomain.Snapshot{l2snap})

	graphs := map[uint64]*domain.Graph{1: l1, 10: l2}

	var got []domain.SpatialCandidate
	for c := range NewPathFinder(0).FindSpatial(graphs, []string{"USDC"}, tokens, 15) {
		got = append(got, c)
	}
	if len(got) != 1 {
		t.Fatalf("FindSpatial() yielded %d candidates, want 1", len(got))
	}
	c := got[0]
	if c.Buy.ChainID != 1 || c.Sell.ChainID != 10 || c.Symbol != "WETH" {
		t.Errorf("candidate = buy %d sell %d via %s", c.Buy.ChainID, c.Sell.ChainID, c.Symbol)
	}
	// 2100/2000 less 15 bps
	want := asset.LessBps(new(big.Int).Mul(big.NewInt(105), asset.Pow10(16)), 15)
	if c.Score.Cmp(want) != 0 {
		t.Errorf("Score = %s, want %s", c.Score, want)
	}
	if err := c.Buy.Validate(); err != nil {
		t.Errorf("buy leg: %v", err)
	}
}
