package asset

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// PricePrecision is the precision of Price.Rate for display.
const PricePrecision = 18

// Price is an exact exchange rate between the smallest units of two assets:
// one raw unit of base is worth num/den raw units of quote.
// Keeping the ratio unreduced avoids any rounding until Convert.
type Price struct {
	num, den   *big.Int
	base       *Asset
	quote      *Asset
	observedAt time.Time
}

// NewPriceFromRaw creates a price from a raw-unit ratio (e.g. pool reserves quote/base).
func NewPriceFromRaw(base, quote *Asset, num, den *big.Int, observedAt time.Time) (Price, error) {
	if base == nil || quote == nil {
		return Price{}, ErrNilAsset
	}
	if num == nil || den == nil || den.Sign() <= 0 || num.Sign() < 0 {
		return Price{}, ErrDivisionByZero
	}
	return Price{
		num:        new(big.Int).Set(num),
		den:        new(big.Int).Set(den),
		base:       base,
		quote:      quote,
		observedAt: observedAt,
	}, nil
}

// NewPrice creates a price from a human rate (1 base = rate quote), handling decimals.
func NewPrice(base, quote *Asset, rate decimal.Decimal, observedAt time.Time) (Price, error) {
	if rate.IsNegative() {
		return Price{}, ErrNegativeAmount
	}
	// raw quote per raw base = rate * 10^qd / 10^bd
	scaled := rate.Shift(PricePrecision)
	num := new(big.Int).Mul(scaled.BigInt(), Pow10(quote.Decimals()))
	den := new(big.Int).Mul(Pow10(PricePrecision), Pow10(base.Decimals()))
	return NewPriceFromRaw(base, quote, num, den, observedAt)
}

// Identity returns a 1:1 raw-unit price (e.g. native coin to its wrapped token).
func Identity(base, quote *Asset, observedAt time.Time) Price {
	p, _ := NewPriceFromRaw(base, quote, bigOne, bigOne, observedAt)
	return p
}

// Base returns the base asset.
func (p Price) Base() *Asset { return p.base }

// Quote returns the quote asset.
func (p Price) Quote() *Asset { return p.quote }

// ObservedAt returns when the underlying state was observed.
func (p Price) ObservedAt() time.Time { return p.observedAt }

// IsZero returns true if the price is unset or zero.
func (p Price) IsZero() bool {
	return p.num == nil || p.num.Sign() == 0
}

// Rate returns the human rate (1 base = Rate quote) for display.
func (p Price) Rate() decimal.Decimal {
	if p.IsZero() {
		return decimal.Zero
	}
	shift := int32(p.base.Decimals()) - int32(p.quote.Decimals())
	r := decimal.NewFromBigInt(p.num, shift).DivRound(decimal.NewFromBigInt(p.den, 0), PricePrecision)
	return r
}

// Invert returns quote→base.
func (p Price) Invert() (Price, error) {
	if p.IsZero() {
		return Price{}, ErrDivisionByZero
	}
	return NewPriceFromRaw(p.quote, p.base, p.den, p.num, p.observedAt)
}

// ConvertRaw converts a raw base amount to raw quote units, rounding down.
func (p Price) ConvertRaw(raw *big.Int) *big.Int {
	if p.IsZero() {
		return new(big.Int)
	}
	return MulDiv(raw, p.num, p.den)
}

// ConvertRawUp converts rounding up. Costs are converted with this so they are never understated.
func (p Price) ConvertRawUp(raw *big.Int) *big.Int {
	if p.IsZero() {
		return new(big.Int)
	}
	return MulDivUp(raw, p.num, p.den)
}

// Convert converts an amount in base to quote.
func (p Price) Convert(amount Amount) (Amount, error) {
	if amount.Asset() == nil {
		return Amount{}, ErrNilAsset
	}
	if !amount.Asset().ID().Equals(p.base.ID()) {
		return Amount{}, fmt.Errorf("%w: expected %s, got %s",
			ErrAssetMismatch, p.base.Symbol(), amount.Asset().Symbol())
	}
	return NewAmount(p.quote, p.ConvertRaw(amount.Raw())), nil
}

// IsStale returns true if the price is older than maxAge at now.
func (p Price) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(p.observedAt) > maxAge
}

func (p Price) String() string {
	if p.base == nil || p.quote == nil {
		return "???/???"
	}
	return fmt.Sprintf("%s %s/%s", p.Rate().String(), p.base.Symbol(), p.quote.Symbol())
}
