// Package domain holds capital providers and the capital source decision.
package domain

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/asset"
)

// ProviderKind is how a provider charges for a loan.
type ProviderKind uint8

const (
	ZeroFee ProviderKind = iota + 1
	FeeBased
)

func (k ProviderKind) String() string {
	switch k {
	case ZeroFee:
		return "zero_fee"
	case FeeBased:
		return "fee_based"
	default:
		return "unknown"
	}
}

// ParseProviderKind maps a config string onto a kind.
func ParseProviderKind(s string) (ProviderKind, error) {
	switch s {
	case "zero_fee":
		return ZeroFee, nil
	case "fee_based":
		return FeeBased, nil
	default:
		return 0, fmt.Errorf("unknown provider kind %q", s)
	}
}

// DefaultFeeBasedBps is the usual fee of an Aave-style lender.
const DefaultFeeBasedBps = 9

// Provider is one flash-loan source. Its available depth for a token is the
// token balance of Vault.
type Provider struct {
	Name     string
	Kind     ProviderKind
	FeeBps   uint32
	ChainIDs []uint64
	Vault    common.Address
}

// On reports whether the provider lends on chainID.
func (p Provider) On(chainID uint64) bool {
	return slices.Contains(p.ChainIDs, chainID)
}

// FeeFor is the fee owed on amount, rounded up.
func (p Provider) FeeFor(amount *big.Int) *big.Int {
	if p.Kind == ZeroFee || p.FeeBps == 0 {
		return new(big.Int)
	}
	return asset.ApplyBpsUp(amount, p.FeeBps)
}

// SourceKind is the outcome of capital selection.
type SourceKind uint8

const (
	ZeroFeeSource SourceKind = iota + 1
	FeeBasedSource
	HybridSplit
)

func (k SourceKind) String() string {
	switch k {
	case ZeroFeeSource:
		return "zero_fee"
	case FeeBasedSource:
		return "fee_based"
	case HybridSplit:
		return "hybrid_split"
	default:
		return "unknown"
	}
}

// Leg is one borrow from one provider.
type Leg struct {
	Provider Provider
	Amount   *big.Int
	Fee      *big.Int
	Depth    *big.Int // provider depth at decision time
}

// CapitalSource is a pure decision: which providers lend how much.
type CapitalSource struct {
	Kind    SourceKind
	ChainID uint64
	Token   common.Address
	Legs    []Leg
}

// Total is the borrowed amount.
func (c CapitalSource) Total() *big.Int {
	t := new(big.Int)
	for _, l := range c.Legs {
		t.Add(t, l.Amount)
	}
	return t
}

// Fee is the summed fee of every leg.
func (c CapitalSource) Fee() *big.Int {
	f := new(big.Int)
	for _, l := range c.Legs {
		f.Add(f, l.Fee)
	}
	return f
}

// Repay is what must flow back to the providers.
func (c CapitalSource) Repay() *big.Int {
	return new(big.Int).Add(c.Total(), c.Fee())
}

// Validate checks that no leg borrows more than its depth.
func (c CapitalSource) Validate() error {
	if len(c.Legs) == 0 {
		return apperror.New(apperror.CodeNoCapitalSource, apperror.WithContext("no legs"))
	}
	for _, l := range c.Legs {
		if !asset.IsPositive(l.Amount) {
			return apperror.New(apperror.CodeInvalidPlan, apperror.WithContext(l.Provider.Name+": empty leg"))
		}
		if l.Depth == nil || l.Amount.Cmp(l.Depth) > 0 {
			return apperror.New(apperror.CodeInsufficientLiquidity,
				apperror.WithContext(l.Provider.Name+": leg exceeds provider depth"))
		}
	}
	return nil
}
