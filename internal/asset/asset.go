// Package asset models on-chain instruments and exact integer amounts.
// The core uses big.Int for exact on-chain representation.
// decimal.Decimal is only used at boundaries (config, logs, display).
package asset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AssetID uniquely identifies an instrument by chain and contract address.
// For the native coin, address is zero.
type AssetID struct {
	chainID uint64
	address common.Address
}

// NewNativeAssetID creates an AssetID for a chain's native coin.
func NewNativeAssetID(chainID uint64) AssetID {
	return AssetID{chainID: chainID}
}

// NewTokenAssetID creates an AssetID for an ERC20 token.
func NewTokenAssetID(chainID uint64, addr common.Address) AssetID {
	if addr == (common.Address{}) {
		panic("token address cannot be zero - use NewNativeAssetID for native coins")
	}
	return AssetID{chainID: chainID, address: addr}
}

// ChainID returns the network the instrument lives on.
func (id AssetID) ChainID() uint64 { return id.chainID }

// Address returns the token contract address (zero for native coins).
func (id AssetID) Address() common.Address { return id.address }

// IsNative returns true if this is the chain's native coin.
func (id AssetID) IsNative() bool { return id.address == (common.Address{}) }

func (id AssetID) String() string {
	if id.IsNative() {
		return fmt.Sprintf("chain:%d/native", id.chainID)
	}
	return fmt.Sprintf("chain:%d/%s", id.chainID, id.address.Hex())
}

// Equals compares two AssetIDs for equality.
func (id AssetID) Equals(other AssetID) bool {
	return id.chainID == other.chainID && id.address == other.address
}

// Asset is a tradable instrument: (network, contract address, decimals).
// Decimals are authoritative for every scaling operation.
// The symbol is NOT identity - just metadata for display.
type Asset struct {
	id       AssetID
	symbol   string
	decimals uint8
}

// NewAsset creates a new Asset with the given parameters.
func NewAsset(id AssetID, symbol string, decimals uint8) *Asset {
	if symbol == "" {
		panic("asset: empty symbol")
	}
	if decimals > 30 {
		panic("asset: suspicious decimals (>30)")
	}
	return &Asset{id: id, symbol: symbol, decimals: decimals}
}

// NewToken is shorthand for an ERC20 instrument.
func NewToken(chainID uint64, addr common.Address, symbol string, decimals uint8) *Asset {
	return NewAsset(NewTokenAssetID(chainID, addr), symbol, decimals)
}

// ID returns the unique identifier for this asset.
func (a *Asset) ID() AssetID { return a.id }

// Symbol returns the ticker symbol (e.g., "WETH", "USDC").
func (a *Asset) Symbol() string { return a.symbol }

// Decimals returns the number of decimal places.
func (a *Asset) Decimals() uint8 { return a.decimals }

// ChainID returns the network id.
func (a *Asset) ChainID() uint64 { return a.id.ChainID() }

// Address returns the token contract address (zero for native coins).
func (a *Asset) Address() common.Address { return a.id.Address() }

// IsNative returns true if this is a native coin.
func (a *Asset) IsNative() bool { return a.id.IsNative() }

func (a *Asset) String() string { return a.symbol }

// Equals compares two Assets by their ID.
func (a *Asset) Equals(other *Asset) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.id.Equals(other.id)
}
