package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/asset"
)

// orderBook prices an off-chain market by walking its levels. Books are not
// atomic with on-chain execution, so they only quote; they never build calls.
type orderBook struct {
	snap Snapshot
}

func (o orderBook) Venue() Venue       { return o.snap.Venue }
func (o orderBook) Kind() ProtocolKind { return OrderBook }

func (o orderBook) SupportsInstrument(token common.Address) bool {
	return o.snap.Venue.Trades(token)
}

func (o orderBook) QuoteOutput(amountIn *big.Int, tokenIn common.Address) (*big.Int, error) {
	out, err := o.QuoteGross(amountIn, tokenIn)
	if err != nil {
		return nil, err
	}
	return asset.LessBps(out, o.snap.Venue.FeeBps), nil
}

// QuoteGross sells into bids when tokenIn is the base, buys from asks otherwise.
func (o orderBook) QuoteGross(amountIn *big.Int, tokenIn common.Address) (*big.Int, error) {
	v := o.snap.Venue
	if err := checkQuoteInput(v, amountIn, tokenIn); err != nil {
		return nil, err
	}
	sellBase := v.ZeroForOne(tokenIn)
	levels := o.snap.Asks
	if sellBase {
		levels = o.snap.Bids
	}

	remaining := new(big.Int).Set(amountIn)
	out := new(big.Int)
	for _, lvl := range levels {
		if remaining.Sign() == 0 {
			break
		}
		have, give := lvl.Quote, lvl.Base
		if sellBase {
			have, give = lvl.Base, lvl.Quote
		}
		if !asset.IsPositive(have) || !asset.IsPositive(give) {
			continue
		}
		take := asset.MinBig(remaining, have)
		out.Add(out, asset.MulDiv(take, give, have))
		remaining.Sub(remaining, take)
	}
	if remaining.Sign() > 0 {
		return nil, insufficient(v, "order exceeds book depth")
	}
	return out, nil
}

// SpotRate is the mid of the top of book, as out per in.
func (o orderBook) SpotRate(tokenIn common.Address) (*big.Int, *big.Int) {
	if len(o.snap.Bids) == 0 || len(o.snap.Asks) == 0 {
		return new(big.Int), big.NewInt(1)
	}
	bid, ask := o.snap.Bids[0], o.snap.Asks[0]
	// quote per base = (bidQ/bidB + askQ/askB) / 2
	num := new(big.Int).Mul(bid.Quote, ask.Base)
	num.Add(num, new(big.Int).Mul(ask.Quote, bid.Base))
	den := new(big.Int).Mul(bid.Base, ask.Base)
	den.Lsh(den, 1)
	if o.snap.Venue.ZeroForOne(tokenIn) {
		return num, den
	}
	return den, num
}

func (o orderBook) BuildHopCall(HopCallParams) (Call, error) {
	return Call{}, apperror.New(apperror.CodeInvalidPlan,
		apperror.WithContext("order book "+o.snap.Venue.Symbol+" is not atomic"))
}
