// Package domain holds venue, snapshot and exact venue math for the liquidity context.
package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

// ProtocolKind is the closed set of venue invariants the pipeline can price.
type ProtocolKind uint8

const (
	ProtocolUnknown ProtocolKind = iota
	ConstantProduct
	ConcentratedLiquidity
	StableSwap
	OrderBook
)

func (k ProtocolKind) String() string {
	switch k {
	case ConstantProduct:
		return "constant_product"
	case ConcentratedLiquidity:
		return "concentrated_liquidity"
	case StableSwap:
		return "stable_swap"
	case OrderBook:
		return "order_book"
	default:
		return "unknown"
	}
}

// ParseProtocol maps a config string onto a ProtocolKind.
func ParseProtocol(s string) (ProtocolKind, error) {
	switch strings.ToLower(s) {
	case "constant_product", "uniswap_v2", "sushiswap":
		return ConstantProduct, nil
	case "concentrated_liquidity", "uniswap_v3":
		return ConcentratedLiquidity, nil
	case "stable_swap", "curve":
		return StableSwap, nil
	case "order_book":
		return OrderBook, nil
	default:
		return ProtocolUnknown, apperror.New(apperror.CodeUnsupportedProtocol, apperror.WithContext(s))
	}
}

// VenueKey identifies a venue across networks.
type VenueKey struct {
	ChainID uint64
	Address common.Address
}

func (k VenueKey) String() string {
	return fmt.Sprintf("%d:%s", k.ChainID, k.Address.Hex())
}

// Venue is an immutable liquidity source. Token0/Token1 follow the venue's
// own ordering (for order books Token0 is the base asset).
type Venue struct {
	ChainID     uint64
	Protocol    ProtocolKind
	Address     common.Address
	FeeBps      uint32
	Token0      common.Address
	Token1      common.Address
	Decimals0   uint8
	Decimals1   uint8
	TickSpacing int32
	Symbol      string
}

// Key returns the venue's identity.
func (v Venue) Key() VenueKey {
	return VenueKey{ChainID: v.ChainID, Address: v.Address}
}

// Trades reports whether the venue trades token.
func (v Venue) Trades(token common.Address) bool {
	return token == v.Token0 || token == v.Token1
}

// Other returns the counter token of tokenIn.
func (v Venue) Other(tokenIn common.Address) (common.Address, bool) {
	switch tokenIn {
	case v.Token0:
		return v.Token1, true
	case v.Token1:
		return v.Token0, true
	default:
		return common.Address{}, false
	}
}

// ZeroForOne reports the swap direction for tokenIn.
func (v Venue) ZeroForOne(tokenIn common.Address) bool {
	return tokenIn == v.Token0
}

// Atomic reports whether the venue can be part of a single on-chain transaction.
func (v Venue) Atomic() bool {
	return v.Protocol != OrderBook && v.Protocol != ProtocolUnknown
}

// OrderBookAddress derives a stable pseudo-address for an off-chain market
// so books share the VenueKey space with pools.
func OrderBookAddress(exchange, symbol string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(exchange + ":" + strings.ToUpper(symbol))))
}
