package domain

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"

	liqdomain "github.com/fd1az/mev-arbitrage/business/liquidity/domain"
)

// Pool is a priced venue inside a graph.
type Pool struct {
	Snapshot liqdomain.Snapshot
	Pricer   liqdomain.Pricer
}

// Venue returns the pool's venue.
func (p Pool) Venue() liqdomain.Venue { return p.Snapshot.Venue }

// Edge leads to token To through venue Venue. Both are arena indexes.
type Edge struct {
	To    int
	Venue int
}

// Graph is the token graph of one network. Tokens and pools live in flat
// arenas and edges refer to them by index.
type Graph struct {
	chainID  uint64
	tokens   []common.Address
	tokenIdx map[common.Address]int
	pools    []Pool
	edges    [][]Edge
}

// BuildGraph indexes the snapshots of one network. Venues that cannot take
// part in an atomic transaction, or have no liquidity, are left out.
func BuildGraph(chainID uint64, snaps []liqdomain.Snapshot) *Graph {
	g := &Graph{chainID: chainID, tokenIdx: make(map[common.Address]int)}

	sorted := slices.Clone(snaps)
	slices.SortFunc(sorted, func(a, b liqdomain.Snapshot) int {
		return a.Venue.Address.Cmp(b.Venue.Address)
	})

	for _, snap := range sorted {
		v := snap.Venue
		if v.ChainID != chainID || !v.Atomic() || !snap.HasLiquidity() {
			continue
		}
		pricer, err := liqdomain.NewPricer(snap)
		if err != nil {
			continue
		}
		idx := len(g.pools)
		g.pools = append(g.pools, Pool{Snapshot: snap, Pricer: pricer})

		t0, t1 := g.token(v.Token0), g.token(v.Token1)
		g.edges[t0] = append(g.edges[t0], Edge{To: t1, Venue: idx})
		g.edges[t1] = append(g.edges[t1], Edge{To: t0, Venue: idx})
	}
	return g
}

func (g *Graph) token(addr common.Address) int {
	if i, ok := g.tokenIdx[addr]; ok {
		return i
	}
	i := len(g.tokens)
	g.tokens = append(g.tokens, addr)
	g.tokenIdx[addr] = i
	g.edges = append(g.edges, nil)
	return i
}

// ChainID is the network the graph was built for.
func (g *Graph) ChainID() uint64 { return g.chainID }

// NumTokens is the size of the token arena.
func (g *Graph) NumTokens() int { return len(g.tokens) }

// NumPools is the size of the pool arena.
func (g *Graph) NumPools() int { return len(g.pools) }

// Token returns the address at index i.
func (g *Graph) Token(i int) common.Address { return g.tokens[i] }

// TokenIndex looks up a token.
func (g *Graph) TokenIndex(addr common.Address) (int, bool) {
	i, ok := g.tokenIdx[addr]
	return i, ok
}

// Pool returns the pool at index i.
func (g *Graph) Pool(i int) Pool { return g.pools[i] }

// Edges returns the outgoing edges of token i.
func (g *Graph) Edges(i int) []Edge { return g.edges[i] }

// PoolFor finds the pool of a venue key.
func (g *Graph) PoolFor(key liqdomain.VenueKey) (Pool, bool) {
	for _, p := range g.pools {
		if p.Snapshot.Key() == key {
			return p, true
		}
	}
	return Pool{}, false
}
