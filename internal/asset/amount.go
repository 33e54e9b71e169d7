package asset

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	ErrNilAsset        = errors.New("asset: missing asset")
	ErrNegativeAmount  = errors.New("asset: amount must not be negative")
	ErrAssetMismatch   = errors.New("asset: assets differ")
	ErrTooManyDecimals = errors.New("asset: more fractional digits than the asset supports")
	ErrDivisionByZero  = errors.New("asset: zero denominator")
)

// Amount is a signed quantity of one asset in base units. Profits, deltas
// and costs all use it, so a negative value is legal; only parsed input is
// required to be non-negative.
type Amount struct {
	units *big.Int
	of    *Asset
}

// NewAmount wraps raw base units of a. raw is copied; nil reads as zero.
func NewAmount(a *Asset, raw *big.Int) Amount {
	units := new(big.Int)
	if raw != nil {
		units.Set(raw)
	}
	return Amount{units: units, of: a}
}

// Raw returns a copy of the base units.
func (a Amount) Raw() *big.Int {
	if a.units == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.units)
}

func (a Amount) Asset() *Asset { return a.of }

func (a Amount) Sign() int {
	if a.units == nil {
		return 0
	}
	return a.units.Sign()
}

func (a Amount) IsZero() bool { return a.Sign() == 0 }

// Add returns a+b. Both sides must hold the same asset.
func (a Amount) Add(b Amount) (Amount, error) {
	if err := sameAsset(a, b); err != nil {
		return Amount{}, err
	}
	return Amount{units: new(big.Int).Add(a.Raw(), b.Raw()), of: a.of}, nil
}

// Sub returns a-b, which may be negative.
func (a Amount) Sub(b Amount) (Amount, error) {
	if err := sameAsset(a, b); err != nil {
		return Amount{}, err
	}
	return Amount{units: new(big.Int).Sub(a.Raw(), b.Raw()), of: a.of}, nil
}

// Cmp compares two amounts of the same asset.
func (a Amount) Cmp(b Amount) (int, error) {
	if err := sameAsset(a, b); err != nil {
		return 0, err
	}
	return a.Raw().Cmp(b.Raw()), nil
}

// ToDecimal scales the base units by the asset's decimals. Reports and
// metrics only; trading math stays in base units.
func (a Amount) ToDecimal() decimal.Decimal {
	if a.of == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.Raw(), -int32(a.of.Decimals()))
}

// String renders e.g. "-0.0125 WETH".
func (a Amount) String() string {
	if a.of == nil {
		return a.Raw().String()
	}
	return a.ToDecimal().String() + " " + a.of.Symbol()
}

// ParseDecimal converts a human quantity such as a config threshold to base
// units. Fractional digits beyond the asset's decimals are rejected rather
// than truncated.
func ParseDecimal(a *Asset, d decimal.Decimal) (Amount, error) {
	switch {
	case a == nil:
		return Amount{}, ErrNilAsset
	case d.IsNegative():
		return Amount{}, ErrNegativeAmount
	}
	scaled := d.Shift(int32(a.Decimals()))
	if !scaled.IsInteger() {
		return Amount{}, fmt.Errorf("%w: %s %s", ErrTooManyDecimals, d, a.Symbol())
	}
	return NewAmount(a, scaled.BigInt()), nil
}

// ParseString is ParseDecimal for text input.
func ParseString(a *Asset, s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("asset: parse %q: %w", s, err)
	}
	return ParseDecimal(a, d)
}

func sameAsset(a, b Amount) error {
	if a.of == nil || b.of == nil {
		return ErrNilAsset
	}
	if !a.of.ID().Equals(b.of.ID()) {
		return fmt.Errorf("%w: %s and %s", ErrAssetMismatch, a.of.Symbol(), b.of.Symbol())
	}
	return nil
}
