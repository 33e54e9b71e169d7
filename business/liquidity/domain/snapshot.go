package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultMaxAge is the staleness bound beyond which a snapshot must not feed a decision.
const DefaultMaxAge = 2 * time.Second

// TickInfo is an initialized tick of a concentrated-liquidity pool.
type TickInfo struct {
	Index        int32
	LiquidityNet *big.Int
}

// BookLevel is the raw base and quote available at one price level.
// The level price is Quote/Base in raw units.
type BookLevel struct {
	Base  *big.Int
	Quote *big.Int
}

// Snapshot is the observed state of one venue. Snapshots are owned by the
// store and read-shared; no consumer mutates the big.Int fields.
type Snapshot struct {
	Venue Venue

	// Constant product reserves or stable-swap balances, in token order.
	Reserve0 *big.Int
	Reserve1 *big.Int

	// Concentrated liquidity.
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int32
	Ticks        []TickInfo // ascending by Index

	// Stable swap amplification coefficient.
	Amp *big.Int

	// Order book, best first. Bids buy Token0 for Token1, asks sell Token0.
	Bids []BookLevel
	Asks []BookLevel

	Block     uint64
	FetchedAt time.Time
}

// Key returns the venue key.
func (s Snapshot) Key() VenueKey { return s.Venue.Key() }

// SnapshotRef pins one version of a venue's state.
type SnapshotRef struct {
	Key       VenueKey
	Block     uint64
	FetchedAt time.Time
}

// Ref identifies this version of the snapshot.
func (s Snapshot) Ref() SnapshotRef {
	return SnapshotRef{Key: s.Key(), Block: s.Block, FetchedAt: s.FetchedAt}
}

// Matches reports whether snap is the version r was taken from.
func (r SnapshotRef) Matches(snap Snapshot) bool {
	return snap.Key() == r.Key && snap.Block == r.Block && snap.FetchedAt.Equal(r.FetchedAt)
}

// Age is the time since the snapshot was fetched.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// Stale reports whether the snapshot is older than maxAge, or was never fetched.
func (s Snapshot) Stale(now time.Time, maxAge time.Duration) bool {
	return s.FetchedAt.IsZero() || s.Age(now) > maxAge
}

// HasLiquidity reports whether the venue can quote anything at all.
func (s Snapshot) HasLiquidity() bool {
	switch s.Venue.Protocol {
	case ConstantProduct, StableSwap:
		return positive(s.Reserve0) && positive(s.Reserve1)
	case ConcentratedLiquidity:
		return positive(s.Liquidity) && positive(s.SqrtPriceX96)
	case OrderBook:
		return len(s.Bids) > 0 && len(s.Asks) > 0
	default:
		return false
	}
}

// ReserveOf returns the venue balance of token where the protocol tracks one.
func (s Snapshot) ReserveOf(token common.Address) *big.Int {
	switch {
	case token == s.Venue.Token0 && s.Reserve0 != nil:
		return s.Reserve0
	case token == s.Venue.Token1 && s.Reserve1 != nil:
		return s.Reserve1
	default:
		return nil
	}
}

func positive(x *big.Int) bool { return x != nil && x.Sign() > 0 }

// Depth approximates how much of token the venue holds. Concentrated pools
// report the virtual reserve of the active range and books the summed levels.
func (s Snapshot) Depth(token common.Address) *big.Int {
	v := s.Venue
	if !v.Trades(token) {
		return new(big.Int)
	}
	switch v.Protocol {
	case ConstantProduct, StableSwap:
		if r := s.ReserveOf(token); r != nil {
			return new(big.Int).Set(r)
		}
	case ConcentratedLiquidity:
		if !s.HasLiquidity() {
			break
		}
		// x = L*2^96/sqrtP, y = L*sqrtP/2^96
		if token == v.Token0 {
			d := new(big.Int).Lsh(s.Liquidity, 96)
			return d.Quo(d, s.SqrtPriceX96)
		}
		d := new(big.Int).Mul(s.Liquidity, s.SqrtPriceX96)
		return d.Rsh(d, 96)
	case OrderBook:
		total := new(big.Int)
		base := token == v.Token0
		for _, lvl := range append(append([]BookLevel{}, s.Bids...), s.Asks...) {
			if base && lvl.Base != nil {
				total.Add(total, lvl.Base)
			} else if !base && lvl.Quote != nil {
				total.Add(total, lvl.Quote)
			}
		}
		return total
	}
	return new(big.Int)
}
