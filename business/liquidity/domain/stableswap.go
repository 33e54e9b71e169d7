package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/asset"
)

const (
	stableCoins         = 2
	stableMaxIterations = 255
	stablePrecisionDec  = 18
)

type stableSwap struct {
	snap Snapshot
}

func (s stableSwap) Venue() Venue       { return s.snap.Venue }
func (s stableSwap) Kind() ProtocolKind { return StableSwap }

func (s stableSwap) SupportsInstrument(token common.Address) bool {
	return s.snap.Venue.Trades(token)
}

func (s stableSwap) QuoteOutput(amountIn *big.Int, tokenIn common.Address) (*big.Int, error) {
	return s.quote(amountIn, tokenIn, s.snap.Venue.FeeBps)
}

func (s stableSwap) QuoteGross(amountIn *big.Int, tokenIn common.Address) (*big.Int, error) {
	return s.quote(amountIn, tokenIn, 0)
}

// quote runs the two-coin stable-swap invariant on balances normalized to
// 18 decimals. The fee is charged on the output, as the pool does.
func (s stableSwap) quote(amountIn *big.Int, tokenIn common.Address, feeBps uint32) (*big.Int, error) {
	v := s.snap.Venue
	if err := checkQuoteInput(v, amountIn, tokenIn); err != nil {
		return nil, err
	}
	if !s.snap.HasLiquidity() || s.snap.Amp == nil || s.snap.Amp.Sign() <= 0 {
		return nil, insufficient(v, "empty pool or missing amplification")
	}

	i, j := 0, 1
	if !v.ZeroForOne(tokenIn) {
		i, j = 1, 0
	}
	rates := [stableCoins]*big.Int{rate(v.Decimals0), rate(v.Decimals1)}
	xp := [stableCoins]*big.Int{
		new(big.Int).Mul(s.snap.Reserve0, rates[0]),
		new(big.Int).Mul(s.snap.Reserve1, rates[1]),
	}

	x := new(big.Int).Mul(amountIn, rates[i])
	x.Add(x, xp[i])
	y, ok := stableY(i, j, x, xp, s.snap.Amp)
	if !ok {
		return nil, insufficient(v, "invariant did not converge")
	}
	dy := new(big.Int).Sub(xp[j], y)
	dy.Sub(dy, big.NewInt(1))
	if dy.Sign() <= 0 {
		return nil, insufficient(v, "output rounds to zero")
	}
	dy = asset.LessBps(dy, feeBps)
	return dy.Quo(dy, rates[j]), nil
}

func rate(decimals uint8) *big.Int {
	if decimals >= stablePrecisionDec {
		return big.NewInt(1)
	}
	return asset.Pow10(stablePrecisionDec - decimals)
}

// stableD solves the invariant for D by Newton iteration.
func stableD(xp [stableCoins]*big.Int, amp *big.Int) (*big.Int, bool) {
	n := big.NewInt(stableCoins)
	sum := new(big.Int).Add(xp[0], xp[1])
	if sum.Sign() == 0 {
		return new(big.Int), true
	}
	ann := new(big.Int).Mul(amp, n)
	d := new(big.Int).Set(sum)
	for range stableMaxIterations {
		dp := new(big.Int).Set(d)
		for _, x := range xp {
			dp.Mul(dp, d)
			dp.Quo(dp, new(big.Int).Mul(x, n))
		}
		prev := new(big.Int).Set(d)
		// (Ann*S + Dp*N) * D / ((Ann-1)*D + (N+1)*Dp)
		num := new(big.Int).Mul(ann, sum)
		num.Add(num, new(big.Int).Mul(dp, n))
		num.Mul(num, d)
		den := new(big.Int).Mul(new(big.Int).Sub(ann, big.NewInt(1)), d)
		den.Add(den, new(big.Int).Mul(big.NewInt(stableCoins+1), dp))
		d = num.Quo(num, den)
		if within1(d, prev) {
			return d, true
		}
	}
	return nil, false
}

// stableY returns the new balance of coin j when coin i is set to x.
func stableY(i, j int, x *big.Int, xp [stableCoins]*big.Int, amp *big.Int) (*big.Int, bool) {
	d, ok := stableD(xp, amp)
	if !ok {
		return nil, false
	}
	n := big.NewInt(stableCoins)
	ann := new(big.Int).Mul(amp, n)

	c := new(big.Int).Set(d)
	sum := new(big.Int)
	for k := range stableCoins {
		if k == j {
			continue
		}
		xk := xp[k]
		if k == i {
			xk = x
		}
		sum.Add(sum, xk)
		c.Mul(c, d)
		c.Quo(c, new(big.Int).Mul(xk, n))
	}
	c.Mul(c, d)
	c.Quo(c, new(big.Int).Mul(ann, n))
	b := new(big.Int).Quo(d, ann)
	b.Add(b, sum)

	y := new(big.Int).Set(d)
	for range stableMaxIterations {
		prev := new(big.Int).Set(y)
		// (y^2 + c) / (2y + b - D)
		num := new(big.Int).Mul(y, y)
		num.Add(num, c)
		den := new(big.Int).Lsh(y, 1)
		den.Add(den, b)
		den.Sub(den, d)
		if den.Sign() <= 0 {
			return nil, false
		}
		y = num.Quo(num, den)
		if within1(y, prev) {
			return y, true
		}
	}
	return nil, false
}

func within1(a, b *big.Int) bool {
	diff := new(big.Int).Sub(a, b)
	return diff.CmpAbs(big.NewInt(1)) <= 0
}

// SpotRate quotes one whole unit without fee. Heuristic only.
func (s stableSwap) SpotRate(tokenIn common.Address) (*big.Int, *big.Int) {
	dec := s.snap.Venue.Decimals0
	if !s.snap.Venue.ZeroForOne(tokenIn) {
		dec = s.snap.Venue.Decimals1
	}
	unit := asset.Pow10(dec)
	out, err := s.QuoteGross(unit, tokenIn)
	if err != nil {
		return new(big.Int), big.NewInt(1)
	}
	return out, unit
}

func (s stableSwap) BuildHopCall(p HopCallParams) (Call, error) {
	v := s.snap.Venue
	i, j := big.NewInt(0), big.NewInt(1)
	if !v.ZeroForOne(p.TokenIn) {
		i, j = j, i
	}
	data, err := CurveContract.Pack("exchange", i, j, new(big.Int).Set(p.AmountIn), new(big.Int).Set(p.MinOut))
	if err != nil {
		return Call{}, apperror.New(apperror.CodeEncodingFailed, apperror.WithCause(err), apperror.WithContext("curve.exchange"))
	}
	return Call{Target: v.Address, Data: data, Value: new(big.Int)}, nil
}
