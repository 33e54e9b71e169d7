package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	liqdomain "github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

// Hop bounds.
const (
	MinHops = 2
	MaxHops = 5
)

// ScoreOne is the fixed-point unit of path scores (1e18). A cycle scoring
// above ScoreOne gains at the spot rates of its venues.
var ScoreOne = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Hop is one swap of a path.
type Hop struct {
	Venue    liqdomain.Venue
	TokenIn  common.Address
	TokenOut common.Address
}

// Path is an ordered sequence of hops. Cycle paths start and end on Anchor;
// open paths are the single-network legs of a spatial candidate.
type Path struct {
	ChainID uint64
	Anchor  common.Address
	Hops    []Hop
	Cycle   bool
	// Score is the product of the hops' spot rates scaled by ScoreOne.
	Score *big.Int
}

// Len is the hop count.
func (p Path) Len() int { return len(p.Hops) }

// VenueKeys lists the venues the path touches, in hop order.
func (p Path) VenueKeys() []liqdomain.VenueKey {
	keys := make([]liqdomain.VenueKey, len(p.Hops))
	for i, h := range p.Hops {
		keys[i] = h.Venue.Key()
	}
	return keys
}

// Key is a stable textual identity, also used for lexical tie breaks.
func (p Path) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", p.ChainID)
	for _, h := range p.Hops {
		b.WriteString(":")
		b.WriteString(strings.ToLower(h.Venue.Address.Hex()))
		if h.Venue.ZeroForOne(h.TokenIn) {
			b.WriteString("+")
		} else {
			b.WriteString("-")
		}
	}
	return b.String()
}

func (p Path) String() string {
	parts := make([]string, 0, len(p.Hops)+1)
	for i, h := range p.Hops {
		if i == 0 {
			parts = append(parts, short(h.TokenIn))
		}
		parts = append(parts, short(h.TokenOut))
	}
	return strings.Join(parts, "->")
}

func short(a common.Address) string {
	h := a.Hex()
	return h[:6] + ".." + h[len(h)-4:]
}

// Validate checks hop count, token continuity, cycle closure and that no
// venue is used twice in the same direction.
func (p Path) Validate() error {
	minHops := MinHops
	if !p.Cycle {
		minHops = 1
	}
	if len(p.Hops) < minHops || len(p.Hops) > MaxHops {
		return invalidPath(fmt.Sprintf("%d hops outside [%d,%d]", len(p.Hops), minHops, MaxHops))
	}
	if p.Hops[0].TokenIn != p.Anchor {
		return invalidPath("first hop does not spend the anchor")
	}

	type dirKey struct {
		venue      liqdomain.VenueKey
		zeroForOne bool
	}
	seen := make(map[dirKey]struct{}, len(p.Hops))
	for i, h := range p.Hops {
		if h.Venue.ChainID != p.ChainID {
			return invalidPath(fmt.Sprintf("hop %d on chain %d", i, h.Venue.ChainID))
		}
		out, ok := h.Venue.Other(h.TokenIn)
		if !ok || out != h.TokenOut {
			return invalidPath(fmt.Sprintf("hop %d: venue does not swap %s to %s", i, short(h.TokenIn), short(h.TokenOut)))
		}
		if i > 0 && p.Hops[i-1].TokenOut != h.TokenIn {
			return invalidPath(fmt.Sprintf("hop %d breaks token continuity", i))
		}
		k := dirKey{venue: h.Venue.Key(), zeroForOne: h.Venue.ZeroForOne(h.TokenIn)}
		if _, dup := seen[k]; dup {
			return invalidPath(fmt.Sprintf("hop %d repeats venue %s", i, k.venue))
		}
		seen[k] = struct{}{}
	}
	if p.Cycle && p.Hops[len(p.Hops)-1].TokenOut != p.Anchor {
		return invalidPath("cycle does not close on the anchor")
	}
	return nil
}

// SharesVenue reports whether p and o touch a common venue.
func (p Path) SharesVenue(o Path) bool {
	for _, a := range p.Hops {
		for _, b := range o.Hops {
			if a.Venue.Key() == b.Venue.Key() {
				return true
			}
		}
	}
	return false
}

func invalidPath(why string) error {
	return apperror.New(apperror.CodeInvalidPath, apperror.WithContext(why))
}

// SpatialCandidate pairs a buy leg on one network with a sell leg on another.
// It is reported only: a bridged transfer cannot be atomic.
type SpatialCandidate struct {
	Buy           Path
	Sell          Path
	Symbol        string // instrument carried across
	BridgeCostBps uint32
	// Score is the round trip at spot rates net of the bridge cost, scaled by ScoreOne.
	Score *big.Int
}
