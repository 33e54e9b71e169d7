package multicall

import "github.com/ethereum/go-ethereum/common"

// Multicall3ABI is the subset of Multicall3 the reader uses.
const Multicall3ABI = `[
	{"name":"aggregate3","type":"function","stateMutability":"payable",
	 "inputs":[{"name":"calls","type":"tuple[]","components":[
	    {"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"callData","type":"bytes"}]}],
	 "outputs":[{"name":"returnData","type":"tuple[]","components":[
	    {"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}]}]},
	{"name":"getBlockNumber","type":"function","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"blockNumber","type":"uint256"}]}
]`

// Call3 is one aggregate3 input.
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Result is one aggregate3 output.
type Result struct {
	Success    bool
	ReturnData []byte
}
