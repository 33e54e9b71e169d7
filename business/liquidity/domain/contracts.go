package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// PairABI covers the constant-product pair surface (Uniswap V2 / Sushiswap).
const PairABI = `[
	{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
	{"name":"swap","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"amount0Out","type":"uint256"},{"name":"amount1Out","type":"uint256"},{"name":"to","type":"address"},{"name":"data","type":"bytes"}],
	 "outputs":[]}
]`

// PoolABI covers the concentrated-liquidity pool surface (Uniswap V3).
const PoolABI = `[
	{"name":"slot0","type":"function","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"observationIndex","type":"uint16"},
	            {"name":"observationCardinality","type":"uint16"},{"name":"observationCardinalityNext","type":"uint16"},
	            {"name":"feeProtocol","type":"uint8"},{"name":"unlocked","type":"bool"}]},
	{"name":"liquidity","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]},
	{"name":"ticks","type":"function","stateMutability":"view","inputs":[{"name":"tick","type":"int24"}],
	 "outputs":[{"name":"liquidityGross","type":"uint128"},{"name":"liquidityNet","type":"int128"},
	            {"name":"feeGrowthOutside0X128","type":"uint256"},{"name":"feeGrowthOutside1X128","type":"uint256"},
	            {"name":"tickCumulativeOutside","type":"int56"},{"name":"secondsPerLiquidityOutsideX128","type":"uint160"},
	            {"name":"secondsOutside","type":"uint32"},{"name":"initialized","type":"bool"}]},
	{"name":"swap","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"recipient","type":"address"},{"name":"zeroForOne","type":"bool"},{"name":"amountSpecified","type":"int256"},
	           {"name":"sqrtPriceLimitX96","type":"uint160"},{"name":"data","type":"bytes"}],
	 "outputs":[{"name":"amount0","type":"int256"},{"name":"amount1","type":"int256"}]}
]`

// CurveABI covers the two-coin stable-swap pool surface.
const CurveABI = `[
	{"name":"balances","type":"function","stateMutability":"view","inputs":[{"name":"i","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"A","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"exchange","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"i","type":"int128"},{"name":"j","type":"int128"},{"name":"dx","type":"uint256"},{"name":"min_dy","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

// ERC20ABI is the slice of ERC20 the pipeline reads.
const ERC20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// Parsed ABIs, shared read-only.
var (
	PairContract  = mustABI(PairABI)
	PoolContract  = mustABI(PoolABI)
	CurveContract = mustABI(CurveABI)
	ERC20Contract = mustABI(ERC20ABI)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("liquidity: invalid ABI: " + err.Error())
	}
	return parsed
}
