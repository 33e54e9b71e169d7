package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	liqdomain "github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

var (
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	dai  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

func cpVenue(addr string, t0, t1 common.Address) liqdomain.Venue {
	return liqdomain.Venue{
		ChainID:  1,
		Protocol: liqdomain.ConstantProduct,
		Address:  common.HexToAddress(addr),
		FeeBps:   30,
		Token0:   t0,
		Token1:   t1,
	}
}

func cpSnapshot(v liqdomain.Venue, r0, r1 int64) liqdomain.Snapshot {
	return liqdomain.Snapshot{
		Venue:     v,
		Reserve0:  big.NewInt(r0),
		Reserve1:  big.NewInt(r1),
		FetchedAt: time.Unix(1_700_000_000, 0),
	}
}

func TestPath_Validate(t *testing.T) {
	a := cpVenue("0x01", usdc, weth)
	b := cpVenue("0x02", usdc, weth)
	c := cpVenue("0x03", dai, usdc)

	tests := []struct {
		name    string
		path    Path
		wantErr bool
	}{
		{
			name: "two hop cycle",
			path: Path{ChainID: 1, Anchor: weth, Cycle: true, Hops: []Hop{
				{Venue: a, TokenIn: weth, TokenOut: usdc},
				{Venue: b, TokenIn: usdc, TokenOut: weth},
			}},
		},
		{
			name: "single hop cycle",
			path: Path{ChainID: 1, Anchor: weth, Cycle: true, Hops: []Hop{
				{Venue: a, TokenIn: weth, TokenOut: usdc},
			}},
			wantErr: true,
		},
		{
			name: "single hop open leg",
			path: Path{ChainID: 1, Anchor: weth, Hops: []Hop{
				{Venue: a, TokenIn: weth, TokenOut: usdc},
			}},
		},
		{
			name: "continuity break",
			path: Path{ChainID: 1, Anchor: weth, Cycle: true, Hops: []Hop{
				{Venue: a, TokenIn: weth, TokenOut: usdc},
				{Venue: c, TokenIn: dai, TokenOut: usdc},
			}},
			wantErr: true,
		},
		{
			name: "not closed",
			path: Path{ChainID: 1, Anchor: weth, Cycle: true, Hops: []Hop{
				{Venue: a, TokenIn: weth, TokenOut: usdc},
				{Venue: c, TokenIn: usdc, TokenOut: dai},
			}},
			wantErr: true,
		},
		{
			name: "venue repeated in the same direction",
			path: Path{ChainID: 1, Anchor: weth, Cycle: true, Hops: []Hop{
				{Venue: a, TokenIn: weth, TokenOut: usdc},
				{Venue: b, TokenIn: usdc, TokenOut: weth},
				{Venue: a, TokenIn: weth, TokenOut: usdc},
				{Venue: b, TokenIn: usdc, TokenOut: weth},
			}},
			wantErr: true,
		},
		{
			name: "venue does not trade the hop",
			path: Path{ChainID: 1, Anchor: weth, Cycle: true, Hops: []Hop{
				{Venue: c, TokenIn: weth, TokenOut: usdc},
				{Venue: b, TokenIn: usdc, TokenOut: weth},
			}},
			wantErr: true,
		},
		{
			name: "six hops",
			path: Path{ChainID: 1, Anchor: weth, Cycle: true, Hops: make([]Hop, 6)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.path.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperror.HasCode(err, apperror.CodeInvalidPath) {
				t.Errorf("code = %s, want %s", apperror.GetCode(err), apperror.CodeInvalidPath)
			}
		})
	}
}

func TestBuildGraph(t *testing.T) {
	a := cpSnapshot(cpVenue("0x01", usdc, weth), 2_000_000, 1_000)
	b := cpSnapshot(cpVenue("0x02", usdc, weth), 0, 1_000) // drained
	book := liqdomain.Snapshot{
		Venue: liqdomain.Venue{ChainID: 1, Protocol: liqdomain.OrderBook, Address: common.HexToAddress("0x03"), Token0: weth, Token1: usdc},
		Bids:  []liqdomain.BookLevel{{Base: big.NewInt(1), Quote: big.NewInt(2000)}},
		Asks:  []liqdomain.BookLevel{{Base: big.NewInt(1), Quote: big.NewInt(2001)}},
	}
	other := cpSnapshot(liqdomain.Venue{ChainID: 10, Protocol: liqdomain.ConstantProduct, Address: common.HexToAddress("0x04"), Token0: usdc, Token1: weth}, 1, 1)

	g := BuildGraph(1, []liqdomain.Snapshot{book, b, a, other})

	if g.NumPools() != 1 {
		t.Fatalf("NumPools() = %d, want 1", g.NumPools())
	}
	if g.NumTokens() != 2 {
		t.Fatalf("NumTokens() = %d, want 2", g.NumTokens())
	}
	i, ok := g.TokenIndex(weth)
	if !ok {
		t.Fatal("weth not indexed")
	}
	edges := g.Edges(i)
	if len(edges) != 1 || g.Token(edges[0].To) != usdc {
		t.Errorf("edges from weth = %+v", edges)
	}
	if _, ok := g.PoolFor(a.Key()); !ok {
		t.Error("PoolFor missed the live pool")
	}
}
