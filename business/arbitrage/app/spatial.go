package app

import (
	"cmp"
	"iter"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/business/arbitrage/domain"
	"github.com/fd1az/mev-arbitrage/internal/asset"
)

// TokenDirectory resolves instruments across networks by symbol.
type TokenDirectory interface {
	GetToken(chainID uint64, addr common.Address) (*asset.Asset, bool)
	GetBySymbolAndChain(symbol string, chainID uint64) (*asset.Asset, bool)
}

// FindSpatial pairs a buy on one network with a sell of the same instrument
// on another. Scores are the round trip at spot rates, decimals normalised,
// less bridgeCostBps. Candidates are for reporting only.
func (f *PathFinder) FindSpatial(graphs map[uint64]*domain.Graph, anchors []string, tokens TokenDirectory, bridgeCostBps uint32) iter.Seq[domain.SpatialCandidate] {
	return func(yield func(domain.SpatialCandidate) bool) {
		chains := make([]uint64, 0, len(graphs))
		for id := range graphs {
			chains = append(chains, id)
		}
		slices.Sort(chains)

		var out []domain.SpatialCandidate
		for _, a := range chains {
			for _, b := range chains {
				if a == b {
					continue
				}
				for _, sym := range anchors {
					out = append(out, spatialPairs(graphs[a], graphs[b], sym, tokens, bridgeCostBps)...)
				}
			}
		}

		slices.SortStableFunc(out, func(x, y domain.SpatialCandidate) int {
			if c := y.Score.Cmp(x.Score); c != 0 {
				return c
			}
			return cmp.Compare(x.Buy.Key()+x.Sell.Key(), y.Buy.Key()+y.Sell.Key())
		})
		for i, c := range out {
			if i >= f.maxCandidates || !yield(c) {
				return
			}
		}
	}
}

func spatialPairs(ga, gb *domain.Graph, symbol string, tokens TokenDirectory, bridgeCostBps uint32) []domain.SpatialCandidate {
	anchorA, okA := tokens.GetBySymbolAndChain(symbol, ga.ChainID())
	anchorB, okB := tokens.GetBySymbolAndChain(symbol, gb.ChainID())
	if !okA || !okB {
		return nil
	}
	startA, okA := ga.TokenIndex(anchorA.Address())
	endB, okB := gb.TokenIndex(anchorB.Address())
	if !okA || !okB {
		return nil
	}

	var out []domain.SpatialCandidate
	for _, buy := range ga.Edges(startA) {
		xA, ok := tokens.GetToken(ga.ChainID(), ga.Token(buy.To))
		if !ok {
			continue
		}
		xB, ok := tokens.GetBySymbolAndChain(xA.Symbol(), gb.ChainID())
		if !ok {
			continue
		}
		fromB, ok := gb.TokenIndex(xB.Address())
		if !ok {
			continue
		}
		for _, sell := range gb.Edges(fromB) {
			if sell.To != endB {
				continue
			}
			score := hopScore(ga, startA, buy, domain.ScoreOne)
			if score == nil {
				continue
			}
			score = hopScore(gb, fromB, sell, score)
			if score == nil {
				continue
			}
			// raw xA -> raw xB, raw anchorB -> raw anchorA
			score = asset.MulDiv(score,
				new(big.Int).Mul(asset.Pow10(xB.Decimals()), asset.Pow10(anchorA.Decimals())),
				new(big.Int).Mul(asset.Pow10(xA.Decimals()), asset.Pow10(anchorB.Decimals())))
			score = asset.LessBps(score, bridgeCostBps)
			if score.Cmp(domain.ScoreOne) <= 0 {
				continue
			}
			out = append(out, domain.SpatialCandidate{
				Buy:           openPath(ga, startA, buy),
				Sell:          openPath(gb, fromB, sell),
				Symbol:        xA.Symbol(),
				BridgeCostBps: bridgeCostBps,
				Score:         score,
			})
		}
	}
	return out
}

func openPath(g *domain.Graph, from int, e domain.Edge) domain.Path {
	return domain.Path{
		ChainID: g.ChainID(),
		Anchor:  g.Token(from),
		Hops: []domain.Hop{{
			Venue:    g.Pool(e.Venue).Venue(),
			TokenIn:  g.Token(from),
			TokenOut: g.Token(e.To),
		}},
		Score: hopScore(g, from, e, domain.ScoreOne),
	}
}
