package domain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ExecutorABI is the on-chain executor. execute borrows every loan, runs the
// hops in order checking each minOut against its own balance, repays the
// lenders and splits what is left. Any failed check reverts everything.
const ExecutorABI = `[
	{"name":"execute","type":"function","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"loans","type":"tuple[]","components":[
			{"name":"vault","type":"address"},{"name":"kind","type":"uint8"},
			{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"fee","type":"uint256"}]},
		{"name":"hops","type":"tuple[]","components":[
			{"name":"target","type":"address"},{"name":"data","type":"bytes"},
			{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
			{"name":"amountIn","type":"uint256"},{"name":"minOut","type":"uint256"}]},
		{"name":"split","type":"tuple","components":[
			{"name":"treasury","type":"address"},{"name":"operator","type":"address"},{"name":"treasuryBps","type":"uint16"}]},
		{"name":"deadline","type":"uint256"}],
	 "outputs":[{"name":"profit","type":"uint256"}]},
	{"type":"error","name":"MinOutNotMet","inputs":[{"name":"hop","type":"uint256"},{"name":"out","type":"uint256"},{"name":"minOut","type":"uint256"}]},
	{"type":"error","name":"RepayShortfall","inputs":[{"name":"owed","type":"uint256"},{"name":"balance","type":"uint256"}]},
	{"type":"error","name":"DeadlinePassed","inputs":[{"name":"deadline","type":"uint256"}]}
]`

// ExecutorContract is the parsed executor ABI, shared read-only.
var ExecutorContract = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(ExecutorABI))
	if err != nil {
		panic("execution: invalid executor ABI: " + err.Error())
	}
	return parsed
}()

// abi tuple mirrors; field names follow the ABI component names.
type loanArg struct {
	Vault  common.Address
	Kind   uint8
	Token  common.Address
	Amount *big.Int
	Fee    *big.Int
}

type hopArg struct {
	Target   common.Address
	Data     []byte
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
	MinOut   *big.Int
}

type splitArg struct {
	Treasury    common.Address
	Operator    common.Address
	TreasuryBps uint16
}
