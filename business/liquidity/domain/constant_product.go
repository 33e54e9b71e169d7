package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/asset"
)

type constantProduct struct {
	snap Snapshot
}

func (c constantProduct) Venue() Venue       { return c.snap.Venue }
func (c constantProduct) Kind() ProtocolKind { return ConstantProduct }

func (c constantProduct) SupportsInstrument(token common.Address) bool {
	return c.snap.Venue.Trades(token)
}

func (c constantProduct) QuoteOutput(amountIn *big.Int, tokenIn common.Address) (*big.Int, error) {
	return c.quote(amountIn, tokenIn, c.snap.Venue.FeeBps)
}

func (c constantProduct) QuoteGross(amountIn *big.Int, tokenIn common.Address) (*big.Int, error) {
	return c.quote(amountIn, tokenIn, 0)
}

// quote applies x*y=k with the fee taken from the input:
// out = in*(10000-fee)*rOut / (rIn*10000 + in*(10000-fee))
func (c constantProduct) quote(amountIn *big.Int, tokenIn common.Address, feeBps uint32) (*big.Int, error) {
	v := c.snap.Venue
	if err := checkQuoteInput(v, amountIn, tokenIn); err != nil {
		return nil, err
	}
	rIn, rOut := c.reserves(tokenIn)
	if rIn.Sign() <= 0 || rOut.Sign() <= 0 {
		return nil, insufficient(v, "empty reserves")
	}
	return GetAmountOut(amountIn, rIn, rOut, feeBps), nil
}

// GetAmountOut is the constant-product output formula with an input fee in bps.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(asset.BpsDenominator-feeBps)))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(asset.BpsDenominator))
	den.Add(den, inWithFee)
	return num.Quo(num, den)
}

func (c constantProduct) SpotRate(tokenIn common.Address) (*big.Int, *big.Int) {
	rIn, rOut := c.reserves(tokenIn)
	return rOut, rIn
}

func (c constantProduct) reserves(tokenIn common.Address) (*big.Int, *big.Int) {
	if tokenIn == c.snap.Venue.Token0 {
		return c.snap.Reserve0, c.snap.Reserve1
	}
	return c.snap.Reserve1, c.snap.Reserve0
}

// BuildHopCall encodes pair.swap for the expected output. The executor
// transfers AmountIn to the pair first and enforces MinOut on its own
// balance delta, so a moved pool reverts the whole plan.
func (c constantProduct) BuildHopCall(p HopCallParams) (Call, error) {
	v := c.snap.Venue
	out0, out1 := new(big.Int), new(big.Int)
	if v.ZeroForOne(p.TokenIn) {
		out1.Set(p.ExpectedOut)
	} else {
		out0.Set(p.ExpectedOut)
	}
	data, err := PairContract.Pack("swap", out0, out1, p.Recipient, []byte{})
	if err != nil {
		return Call{}, apperror.New(apperror.CodeEncodingFailed, apperror.WithCause(err), apperror.WithContext("pair.swap"))
	}
	return Call{Target: v.Address, Data: data, Value: new(big.Int)}, nil
}
