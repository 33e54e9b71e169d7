package app

import (
	"context"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/asset"
)

const meterName = "liquidity"

type storeMetrics struct {
	putsTotal     metric.Int64Counter
	staleTotal    metric.Int64Counter
	orphanedTotal metric.Int64Counter
	snapshots     metric.Int64ObservableGauge
}

// Store holds the latest snapshot per venue. It is the only owner of
// snapshots; readers get value copies whose big.Ints they must not mutate.
type Store struct {
	mu      sync.RWMutex
	snaps   map[domain.VenueKey]domain.Snapshot
	wrapped map[uint64]common.Address
	maxAge  time.Duration
	metrics *storeMetrics
}

// NewStore creates a store that treats snapshots older than maxAge as invalid.
func NewStore(maxAge time.Duration) *Store {
	if maxAge <= 0 {
		maxAge = domain.DefaultMaxAge
	}
	s := &Store{
		snaps:   make(map[domain.VenueKey]domain.Snapshot),
		wrapped: make(map[uint64]common.Address),
		maxAge:  maxAge,
	}
	s.initMetrics()
	return s
}

func (s *Store) initMetrics() {
	meter := otel.Meter(meterName)
	s.metrics = &storeMetrics{}
	s.metrics.putsTotal, _ = meter.Int64Counter("liquidity_snapshot_puts_total",
		metric.WithDescription("Snapshots written to the store"))
	s.metrics.staleTotal, _ = meter.Int64Counter("liquidity_stale_rejections_total",
		metric.WithDescription("Snapshots rejected as stale at a decision point"))
	s.metrics.orphanedTotal, _ = meter.Int64Counter("liquidity_orphaned_snapshots_total",
		metric.WithDescription("Snapshots dropped because their block was reorganized away"))
	s.metrics.snapshots, _ = meter.Int64ObservableGauge("liquidity_snapshots",
		metric.WithDescription("Venues currently held"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s.mu.RLock()
			n := len(s.snaps)
			s.mu.RUnlock()
			o.Observe(int64(n))
			return nil
		}))
}

// MaxAge returns the staleness bound.
func (s *Store) MaxAge() time.Duration { return s.maxAge }

// SetWrappedNative tells the store which token stands in for the native coin of chainID.
func (s *Store) SetWrappedNative(chainID uint64, token common.Address) {
	s.mu.Lock()
	s.wrapped[chainID] = token
	s.mu.Unlock()
}

// Put upserts a snapshot. Older snapshots never replace newer ones.
func (s *Store) Put(snap domain.Snapshot) {
	key := snap.Key()
	s.mu.Lock()
	if cur, ok := s.snaps[key]; ok && cur.FetchedAt.After(snap.FetchedAt) {
		s.mu.Unlock()
		return
	}
	s.snaps[key] = snap
	s.mu.Unlock()

	s.metrics.putsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("protocol", snap.Venue.Protocol.String())))
}

// Rewind drops the on-chain snapshots of chainID read at block from or
// later, after a reorg orphaned those blocks. Off-chain books carry no
// block and are kept. It returns how many were dropped.
func (s *Store) Rewind(chainID, from uint64) int {
	s.mu.Lock()
	dropped := 0
	for key, snap := range s.snaps {
		if key.ChainID == chainID && snap.Block != 0 && snap.Block >= from {
			delete(s.snaps, key)
			dropped++
		}
	}
	s.mu.Unlock()

	if dropped > 0 {
		s.metrics.orphanedTotal.Add(context.Background(), int64(dropped),
			metric.WithAttributes(attribute.Int64("chain_id", int64(chainID))))
	}
	return dropped
}

// Get returns the snapshot for key regardless of age.
func (s *Store) Get(key domain.VenueKey) (domain.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[key]
	return snap, ok
}

// Fresh returns the snapshots of chainID within max age that can quote,
// ordered by venue key.
func (s *Store) Fresh(chainID uint64, now time.Time) []domain.Snapshot {
	s.mu.RLock()
	out := make([]domain.Snapshot, 0, len(s.snaps))
	for key, snap := range s.snaps {
		if key.ChainID != chainID || snap.Stale(now, s.maxAge) || !snap.HasLiquidity() {
			continue
		}
		out = append(out, snap)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Snapshot) int {
		return a.Venue.Address.Cmp(b.Venue.Address)
	})
	return out
}

// Validate returns STALE_DATA if any pinned snapshot is missing, older than
// max age, or has been replaced since it was pinned.
func (s *Store) Validate(refs []domain.SnapshotRef, now time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ref := range refs {
		snap, ok := s.snaps[ref.Key]
		reason := ""
		switch {
		case !ok:
			reason = "missing"
		case snap.Stale(now, s.maxAge):
			reason = "expired"
		case !ref.Matches(snap):
			reason = "replaced"
		default:
			continue
		}
		s.metrics.staleTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
		return apperror.New(apperror.CodeStaleData, apperror.WithContext(ref.Key.String()+" "+reason))
	}
	return nil
}

// Networks returns the chain ids with at least one snapshot, ascending.
func (s *Store) Networks() []uint64 {
	s.mu.RLock()
	seen := make(map[uint64]struct{})
	for key := range s.snaps {
		seen[key.ChainID] = struct{}{}
	}
	s.mu.RUnlock()

	out := make([]uint64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// ReferencePrice returns the price of from in units of to on chainID, taken
// from the deepest fresh venue trading the pair. The native coin resolves
// through its wrapped token at 1:1.
func (s *Store) ReferencePrice(chainID uint64, from, to *asset.Asset, now time.Time) (asset.Price, error) {
	fromAddr, toAddr := s.resolve(chainID, from), s.resolve(chainID, to)
	if fromAddr == toAddr {
		return asset.Identity(from, to, now), nil
	}

	var (
		best      domain.Snapshot
		bestDepth *big.Int
	)
	for _, snap := range s.Fresh(chainID, now) {
		v := snap.Venue
		if !v.Trades(fromAddr) || !v.Trades(toAddr) {
			continue
		}
		d := snap.Depth(fromAddr)
		if bestDepth == nil || d.Cmp(bestDepth) > 0 {
			best, bestDepth = snap, d
		}
	}
	if bestDepth == nil {
		return asset.Price{}, apperror.New(apperror.CodeStaleData,
			apperror.WithContext("no fresh venue prices "+from.Symbol()+"/"+to.Symbol()))
	}

	pricer, err := domain.NewPricer(best)
	if err != nil {
		return asset.Price{}, err
	}
	num, den := pricer.SpotRate(fromAddr)
	return asset.NewPriceFromRaw(from, to, num, den, best.FetchedAt)
}

func (s *Store) resolve(chainID uint64, a *asset.Asset) common.Address {
	if !a.IsNative() {
		return a.Address()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wrapped[chainID]
}
