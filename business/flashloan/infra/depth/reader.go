// Package depth reads flash-loan provider depth as vault token balances.
package depth

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/business/flashloan/app"
	"github.com/fd1az/mev-arbitrage/business/liquidity/infra/multicall"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/cache"
)

var _ app.DepthReader = (*Reader)(nil)

// BalanceReader batches ERC20 balanceOf reads; *multicall.Reader satisfies it.
type BalanceReader interface {
	Balances(ctx context.Context, queries []multicall.BalanceQuery) ([]*big.Int, error)
}

// Reader caches depths for about a block so a scan cycle reads each vault once.
type Reader struct {
	readers map[uint64]BalanceReader
	cache   *cache.Cache[string, *big.Int]
	ttl     time.Duration
}

// NewReader creates a reader over per-network balance readers.
func NewReader(readers map[uint64]BalanceReader, ttl time.Duration) (*Reader, error) {
	if ttl <= 0 {
		ttl = 12 * time.Second
	}
	c, err := cache.NewWithConfig[string, *big.Int](cache.DefaultConfig("flashloan_depth", ttl))
	if err != nil {
		return nil, fmt.Errorf("depth cache: %w", err)
	}
	return &Reader{readers: readers, cache: c, ttl: ttl}, nil
}

func cacheKey(chainID uint64, token, vault common.Address) string {
	return fmt.Sprintf("%d:%s:%s", chainID, token.Hex(), vault.Hex())
}

// Depths returns the token balance of each vault, reading only cache misses.
func (r *Reader) Depths(ctx context.Context, chainID uint64, token common.Address, vaults []common.Address) ([]*big.Int, error) {
	out := make([]*big.Int, len(vaults))
	var (
		queries []multicall.BalanceQuery
		slots   []int
	)
	for i, v := range vaults {
		if d, ok := r.cache.Get(ctx, cacheKey(chainID, token, v)); ok {
			out[i] = new(big.Int).Set(d)
			continue
		}
		queries = append(queries, multicall.BalanceQuery{Token: token, Holder: v})
		slots = append(slots, i)
	}
	if len(queries) == 0 {
		return out, nil
	}

	reader, ok := r.readers[chainID]
	if !ok {
		return nil, apperror.New(apperror.CodeNotFound,
			apperror.WithContext(fmt.Sprintf("no balance reader for chain %d", chainID)))
	}
	balances, err := reader.Balances(ctx, queries)
	if err != nil {
		return nil, err
	}
	for j, b := range balances {
		i := slots[j]
		out[i] = new(big.Int).Set(b)
		r.cache.Set(ctx, cacheKey(chainID, token, vaults[i]), new(big.Int).Set(b), r.ttl)
	}
	return out, nil
}

// Close releases the cache.
func (r *Reader) Close() {
	r.cache.Close()
}
