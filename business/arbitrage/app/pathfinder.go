package app

import (
	"cmp"
	"container/heap"
	"iter"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/business/arbitrage/domain"
	"github.com/fd1az/mev-arbitrage/internal/asset"
)

const (
	// DefaultMaxCandidates bounds how many paths one search keeps and yields.
	DefaultMaxCandidates = 256
	// DefaultMaxExpansions bounds how many edges one search may follow.
	DefaultMaxExpansions = 1 << 20
)

// PathFinder enumerates closed cycles through a graph.
type PathFinder struct {
	maxCandidates int
	maxExpansions int
}

// NewPathFinder creates a finder yielding at most maxCandidates paths per search.
func NewPathFinder(maxCandidates int) *PathFinder {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	return &PathFinder{maxCandidates: maxCandidates, maxExpansions: DefaultMaxExpansions}
}

// ClampHops bounds a configured hop limit into [MinHops, MaxHops].
func ClampHops(maxHops int) int {
	return min(max(maxHops, domain.MinHops), domain.MaxHops)
}

// bitset marks pool indexes already used on the current branch.
type bitset []uint64

func newBitset(n int) bitset { return make(bitset, (n+63)/64) }

func (b bitset) has(i int) bool { return b[i/64]&(1<<(i%64)) != 0 }
func (b bitset) set(i int)      { b[i/64] |= 1 << (i % 64) }
func (b bitset) clear(i int)    { b[i/64] &^= 1 << (i % 64) }

// Find yields cycles that start and close on one of anchors, best spot-rate
// product first. Ties go to fewer hops, then the lexically smaller venue
// sequence. Only cycles gaining at spot rates are yielded, since fees and
// price impact can only lower the realised rate.
//
// Only the best maxCandidates cycles are held during the search, and the
// search stops after maxExpansions edges.
func (f *PathFinder) Find(g *domain.Graph, anchors []common.Address, maxHops int) iter.Seq[domain.Path] {
	return func(yield func(domain.Path) bool) {
		paths := f.enumerate(g, anchors, ClampHops(maxHops))
		slices.SortFunc(paths, comparePaths)
		for _, p := range paths {
			if !yield(p) {
				return
			}
		}
	}
}

func comparePaths(a, b domain.Path) int {
	if c := b.Score.Cmp(a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Len(), b.Len()); c != 0 {
		return c
	}
	return cmp.Compare(a.Key(), b.Key())
}

// worstFirst is a heap of paths with the weakest candidate at the root.
type worstFirst []domain.Path

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return comparePaths(h[i], h[j]) > 0 }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(domain.Path)) }
func (h *worstFirst) Pop() any {
	old := *h
	p := old[len(old)-1]
	*h = old[:len(old)-1]
	return p
}

type frame struct {
	token int
	edge  domain.Edge
}

func (f *PathFinder) enumerate(g *domain.Graph, anchors []common.Address, maxHops int) []domain.Path {
	best := make(worstFirst, 0, min(f.maxCandidates, 64))
	used := newBitset(g.NumPools())
	stack := make([]frame, 0, maxHops)
	budget := f.maxExpansions

	keep := func(anchor common.Address, score *big.Int) {
		if len(best) == f.maxCandidates && score.Cmp(best[0].Score) < 0 {
			return
		}
		p := buildPath(g, anchor, stack, score)
		if len(best) < f.maxCandidates {
			heap.Push(&best, p)
			return
		}
		if comparePaths(p, best[0]) < 0 {
			best[0] = p
			heap.Fix(&best, 0)
		}
	}

	for _, anchor := range anchors {
		start, ok := g.TokenIndex(anchor)
		if !ok {
			continue
		}

		var walk func(at int, score *big.Int)
		walk = func(at int, score *big.Int) {
			for _, e := range g.Edges(at) {
				if budget <= 0 {
					return
				}
				if used.has(e.Venue) {
					continue
				}
				budget--
				next := hopScore(g, at, e, score)
				if next == nil {
					continue
				}
				stack = append(stack, frame{token: at, edge: e})
				used.set(e.Venue)

				if e.To == start {
					if len(stack) >= domain.MinHops && next.Cmp(domain.ScoreOne) > 0 {
						keep(anchor, next)
					}
				} else if len(stack) < maxHops {
					walk(e.To, next)
				}

				used.clear(e.Venue)
				stack = stack[:len(stack)-1]
			}
		}
		walk(start, new(big.Int).Set(domain.ScoreOne))
	}
	return best
}

// hopScore multiplies score by the spot rate of the edge, or returns nil when
// the venue quotes nothing.
func hopScore(g *domain.Graph, from int, e domain.Edge, score *big.Int) *big.Int {
	num, den := g.Pool(e.Venue).Pricer.SpotRate(g.Token(from))
	if !asset.IsPositive(num) || !asset.IsPositive(den) {
		return nil
	}
	return asset.MulDiv(score, num, den)
}

func buildPath(g *domain.Graph, anchor common.Address, stack []frame, score *big.Int) domain.Path {
	hops := make([]domain.Hop, len(stack))
	for i, fr := range stack {
		hops[i] = domain.Hop{
			Venue:    g.Pool(fr.edge.Venue).Venue(),
			TokenIn:  g.Token(fr.token),
			TokenOut: g.Token(fr.edge.To),
		}
	}
	return domain.Path{
		ChainID: g.ChainID(),
		Anchor:  anchor,
		Hops:    hops,
		Cycle:   true,
		Score:   score,
	}
}
