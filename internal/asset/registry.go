package asset

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// chainAssets indexes one network. The native coin lives under the zero
// address.
type chainAssets struct {
	byAddr   map[common.Address]*Asset
	bySymbol map[string]*Asset
}

// Registry resolves tokens per network. Anchors and venue tokens are always
// looked up within one chain, so a symbol must be unique on its chain but may
// repeat across chains.
type Registry struct {
	mu     sync.RWMutex
	chains map[uint64]*chainAssets
	count  int
}

func NewRegistry() *Registry {
	return &Registry{chains: make(map[uint64]*chainAssets)}
}

// Register adds a. Re-registering an identical asset is a no-op. A second
// asset at the same address with other decimals, or a second address for the
// same symbol on one chain, is rejected.
func (r *Registry) Register(a *Asset) error {
	if a == nil {
		return ErrNilAsset
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.chains[a.ChainID()]
	if !ok {
		c = &chainAssets{
			byAddr:   make(map[common.Address]*Asset),
			bySymbol: make(map[string]*Asset),
		}
		r.chains[a.ChainID()] = c
	}

	if prev, ok := c.byAddr[a.Address()]; ok {
		if prev.Decimals() != a.Decimals() {
			return fmt.Errorf("asset: %s on chain %d has %d decimals, not %d",
				prev.Symbol(), a.ChainID(), prev.Decimals(), a.Decimals())
		}
		return nil
	}
	sym := strings.ToUpper(a.Symbol())
	if prev, ok := c.bySymbol[sym]; ok {
		return fmt.Errorf("asset: symbol %s on chain %d already maps to %s",
			a.Symbol(), a.ChainID(), prev.Address().Hex())
	}

	c.byAddr[a.Address()] = a
	c.bySymbol[sym] = a
	r.count++
	return nil
}

// GetToken resolves an address on chainID; the zero address is the native
// coin.
func (r *Registry) GetToken(chainID uint64, address common.Address) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[chainID]
	if !ok {
		return nil, false
	}
	a, ok := c.byAddr[address]
	return a, ok
}

// GetBySymbolAndChain resolves a symbol case-insensitively, since config
// keys arrive lower-cased.
func (r *Registry) GetBySymbolAndChain(symbol string, chainID uint64) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[chainID]
	if !ok {
		return nil, false
	}
	a, ok := c.bySymbol[strings.ToUpper(symbol)]
	return a, ok
}

// OnChain lists chainID's assets ordered by address.
func (r *Registry) OnChain(chainID uint64) []*Asset {
	r.mu.RLock()
	c, ok := r.chains[chainID]
	var out []*Asset
	if ok {
		out = make([]*Asset, 0, len(c.byAddr))
		for _, a := range c.byAddr {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Asset) int {
		return bytes.Compare(a.Address().Bytes(), b.Address().Bytes())
	})
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
