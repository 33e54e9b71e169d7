package asset

import "github.com/ethereum/go-ethereum/common"

const (
	ChainIDEthereum = 1
	ChainIDOptimism = 10
	ChainIDPolygon  = 137
	ChainIDBase     = 8453
	ChainIDArbitrum = 42161
)

// AddrMulticall3 is the CREATE2 deployment shared by every EVM network used
// here; snapshot reads batch through it.
var AddrMulticall3 = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

// Mainnet anchors and common intermediate hops.
var (
	AddrWETHEthereum = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	AddrUSDCEthereum = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	AddrUSDTEthereum = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	AddrDAIEthereum  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	AddrWBTCEthereum = common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")
)

// Arbitrum One anchors, so cross-network scans work without extra config.
var (
	AddrWETHArbitrum = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	AddrUSDCArbitrum = common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
)

var (
	ETH  = NewAsset(NewNativeAssetID(ChainIDEthereum), "ETH", 18)
	WETH = NewToken(ChainIDEthereum, AddrWETHEthereum, "WETH", 18)
	USDC = NewToken(ChainIDEthereum, AddrUSDCEthereum, "USDC", 6)
	USDT = NewToken(ChainIDEthereum, AddrUSDTEthereum, "USDT", 6)
	DAI  = NewToken(ChainIDEthereum, AddrDAIEthereum, "DAI", 18)
	WBTC = NewToken(ChainIDEthereum, AddrWBTCEthereum, "WBTC", 8)

	ArbETH  = NewAsset(NewNativeAssetID(ChainIDArbitrum), "ETH", 18)
	ArbWETH = NewToken(ChainIDArbitrum, AddrWETHArbitrum, "WETH", 18)
	ArbUSDC = NewToken(ChainIDArbitrum, AddrUSDCArbitrum, "USDC", 6)
)

// DefaultRegistry holds the built-in mainnet and Arbitrum instruments.
// Configured instruments are added on top at startup.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range []*Asset{ETH, WETH, USDC, USDT, DAI, WBTC, ArbETH, ArbWETH, ArbUSDC} {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}
