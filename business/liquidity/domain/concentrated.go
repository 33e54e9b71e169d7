package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/asset"
)

// feePipsDenominator is the pool fee resolution (1e6 = 100%).
const feePipsDenominator = 1_000_000

// maxSwapSteps bounds tick crossings per quote.
const maxSwapSteps = 512

type concentrated struct {
	snap Snapshot
}

func (c concentrated) Venue() Venue       { return c.snap.Venue }
func (c concentrated) Kind() ProtocolKind { return ConcentratedLiquidity }

func (c concentrated) SupportsInstrument(token common.Address) bool {
	return c.snap.Venue.Trades(token)
}

func (c concentrated) QuoteOutput(amountIn *big.Int, tokenIn common.Address) (*big.Int, error) {
	return c.quote(amountIn, tokenIn, c.snap.Venue.FeeBps*100)
}

func (c concentrated) QuoteGross(amountIn *big.Int, tokenIn common.Address) (*big.Int, error) {
	return c.quote(amountIn, tokenIn, 0)
}

// quote simulates an exact-input swap step by step, crossing the initialized
// ticks carried by the snapshot. Running out of the known tick window with
// input left is reported as insufficient liquidity rather than guessed.
func (c concentrated) quote(amountIn *big.Int, tokenIn common.Address, feePips uint32) (*big.Int, error) {
	v := c.snap.Venue
	if err := checkQuoteInput(v, amountIn, tokenIn); err != nil {
		return nil, err
	}
	if !c.snap.HasLiquidity() {
		return nil, insufficient(v, "no active liquidity")
	}

	zeroForOne := v.ZeroForOne(tokenIn)
	sqrtP := new(big.Int).Set(c.snap.SqrtPriceX96)
	liquidity := new(big.Int).Set(c.snap.Liquidity)
	tick := c.snap.Tick
	remaining := new(big.Int).Set(amountIn)
	out := new(big.Int)

	for step := 0; remaining.Sign() > 0; step++ {
		if step >= maxSwapSteps {
			return nil, insufficient(v, "too many tick crossings")
		}

		next, ok := c.nextTick(tick, zeroForOne)
		var target *big.Int
		switch {
		case ok:
			target = SqrtRatioAtTick(next.Index)
		case len(c.snap.Ticks) == 0:
			// no tick data: active liquidity is taken as full range
			if zeroForOne {
				target = new(big.Int).Add(MinSqrtRatio, big.NewInt(1))
			} else {
				target = new(big.Int).Sub(MaxSqrtRatio, big.NewInt(1))
			}
		default:
			return nil, insufficient(v, "swap exceeds known tick window")
		}

		if liquidity.Sign() > 0 {
			var in, o, fee *big.Int
			sqrtP, in, o, fee = computeSwapStep(sqrtP, target, liquidity, remaining, feePips)
			remaining.Sub(remaining, in)
			remaining.Sub(remaining, fee)
			out.Add(out, o)
		} else {
			sqrtP = target
		}

		if sqrtP.Cmp(target) != 0 {
			break
		}
		if !ok {
			if remaining.Sign() > 0 {
				return nil, insufficient(v, "price bound reached")
			}
			break
		}
		// cross the initialized tick
		if zeroForOne {
			liquidity.Sub(liquidity, next.LiquidityNet)
			tick = next.Index - 1
		} else {
			liquidity.Add(liquidity, next.LiquidityNet)
			tick = next.Index
		}
		if liquidity.Sign() < 0 {
			return nil, insufficient(v, "negative liquidity after crossing")
		}
	}
	return out, nil
}

// nextTick returns the next initialized tick in the swap direction.
func (c concentrated) nextTick(tick int32, zeroForOne bool) (TickInfo, bool) {
	ticks := c.snap.Ticks
	if zeroForOne {
		for i := len(ticks) - 1; i >= 0; i-- {
			if ticks[i].Index <= tick {
				return ticks[i], true
			}
		}
		return TickInfo{}, false
	}
	for _, t := range ticks {
		if t.Index > tick {
			return t, true
		}
	}
	return TickInfo{}, false
}

// computeSwapStep mirrors SwapMath.computeSwapStep for exact input.
func computeSwapStep(sqrtP, target, liquidity, remaining *big.Int, feePips uint32) (next, amountIn, amountOut, fee *big.Int) {
	zeroForOne := sqrtP.Cmp(target) >= 0
	pipsLeft := big.NewInt(int64(feePipsDenominator - feePips))
	remainingLessFee := asset.MulDiv(remaining, pipsLeft, big.NewInt(feePipsDenominator))

	if zeroForOne {
		amountIn = amount0Delta(target, sqrtP, liquidity, true)
	} else {
		amountIn = amount1Delta(sqrtP, target, liquidity, true)
	}

	if remainingLessFee.Cmp(amountIn) >= 0 {
		next = new(big.Int).Set(target)
	} else {
		next = nextSqrtPriceFromInput(sqrtP, liquidity, remainingLessFee, zeroForOne)
	}
	reached := next.Cmp(target) == 0

	if zeroForOne {
		if !reached {
			amountIn = amount0Delta(next, sqrtP, liquidity, true)
		}
		amountOut = amount1Delta(next, sqrtP, liquidity, false)
	} else {
		if !reached {
			amountIn = amount1Delta(sqrtP, next, liquidity, true)
		}
		amountOut = amount0Delta(sqrtP, next, liquidity, false)
	}

	if !reached {
		fee = new(big.Int).Sub(remaining, amountIn)
	} else {
		fee = asset.MulDivUp(amountIn, big.NewInt(int64(feePips)), pipsLeft)
	}
	return next, amountIn, amountOut, fee
}

// amount0Delta = L * 2^96 * (b - a) / (a * b) with a <= b.
func amount0Delta(a, b, liquidity *big.Int, roundUp bool) *big.Int {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	num1 := new(big.Int).Lsh(liquidity, 96)
	num2 := new(big.Int).Sub(b, a)
	if roundUp {
		inner := asset.MulDivUp(num1, num2, b)
		return asset.MulDivUp(inner, big.NewInt(1), a)
	}
	q := asset.MulDiv(num1, num2, b)
	return q.Quo(q, a)
}

// amount1Delta = L * (b - a) / 2^96 with a <= b.
func amount1Delta(a, b, liquidity *big.Int, roundUp bool) *big.Int {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	diff := new(big.Int).Sub(b, a)
	if roundUp {
		return asset.MulDivUp(liquidity, diff, q96)
	}
	return asset.MulDiv(liquidity, diff, q96)
}

func nextSqrtPriceFromInput(sqrtP, liquidity, amount *big.Int, zeroForOne bool) *big.Int {
	if zeroForOne {
		// L*2^96*P / (L*2^96 + amount*P), rounded up
		num := new(big.Int).Lsh(liquidity, 96)
		den := new(big.Int).Mul(amount, sqrtP)
		den.Add(den, num)
		return asset.MulDivUp(num, sqrtP, den)
	}
	// P + amount*2^96/L, rounded down
	step := asset.MulDiv(amount, q96, liquidity)
	return step.Add(step, sqrtP)
}

// SpotRate is P^2 / 2^192 (token1 per token0) or its inverse.
func (c concentrated) SpotRate(tokenIn common.Address) (*big.Int, *big.Int) {
	sq := new(big.Int).Mul(c.snap.SqrtPriceX96, c.snap.SqrtPriceX96)
	if c.snap.Venue.ZeroForOne(tokenIn) {
		return sq, new(big.Int).Set(q192)
	}
	return new(big.Int).Set(q192), sq
}

// BuildHopCall encodes pool.swap with an exact input and a permissive price
// limit; the executor's balance check enforces MinOut.
func (c concentrated) BuildHopCall(p HopCallParams) (Call, error) {
	v := c.snap.Venue
	zeroForOne := v.ZeroForOne(p.TokenIn)
	limit := new(big.Int).Add(MinSqrtRatio, big.NewInt(1))
	if !zeroForOne {
		limit = new(big.Int).Sub(MaxSqrtRatio, big.NewInt(1))
	}
	data, err := PoolContract.Pack("swap", p.Recipient, zeroForOne, new(big.Int).Set(p.AmountIn), limit,
		common.LeftPadBytes(p.TokenIn.Bytes(), 32))
	if err != nil {
		return Call{}, apperror.New(apperror.CodeEncodingFailed, apperror.WithCause(err), apperror.WithContext("pool.swap"))
	}
	return Call{Target: v.Address, Data: data, Value: new(big.Int)}, nil
}
