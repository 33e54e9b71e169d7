package domain

import (
	"fmt"
	"maps"
	"math/big"
	"time"
)

// MaxRisk caps the leakage estimate at 95% of value.
const MaxRisk Ratio = 950_000_000

// MaxMultiplier bounds a class multiplier. Anything larger saturates the
// base term on its own.
const MaxMultiplier int64 = 1_000

// DefaultInterval is the sensor publication period confidence is measured against.
const DefaultInterval = 5 * time.Second

// RiskParameters calibrate the model. They are read-only once built.
type RiskParameters struct {
	BaseRisk              Ratio
	ValueSensitivity      Ratio
	CongestionFactor      Ratio
	SearcherDensityFactor Ratio
	// SaturationScale is the value, in anchor raw units, at which the value
	// term reaches half its weight.
	SaturationScale map[string]*big.Int
	Multipliers     map[TxClass]int64
	Interval        time.Duration
}

// DefaultRiskParameters are 0.001 / 0.15 / 0.3 / 0.25.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		BaseRisk:              1_000_000,
		ValueSensitivity:      150_000_000,
		CongestionFactor:      300_000_000,
		SearcherDensityFactor: 250_000_000,
		SaturationScale:       map[string]*big.Int{},
		Multipliers:           DefaultMultipliers(),
		Interval:              DefaultInterval,
	}
}

// Assessment is the model output for one transaction.
type Assessment struct {
	Class      TxClass
	Risk       Ratio
	Amount     *big.Int // value * Risk, never above 95% of value
	Confidence Ratio
	Level      CongestionLevel
}

// RiskModel estimates value leaked to competing extractors.
type RiskModel struct {
	params RiskParameters
}

// NewRiskModel validates params.
func NewRiskModel(p RiskParameters) (*RiskModel, error) {
	for name, r := range map[string]Ratio{
		"base_risk":               p.BaseRisk,
		"value_sensitivity":       p.ValueSensitivity,
		"congestion_factor":       p.CongestionFactor,
		"searcher_density_factor": p.SearcherDensityFactor,
	} {
		if r < 0 || r > RatioOne {
			return nil, fmt.Errorf("%s out of range: %s", name, r)
		}
	}
	if p.Multipliers == nil {
		p.Multipliers = DefaultMultipliers()
	}
	p.Multipliers = maps.Clone(p.Multipliers)
	for class, m := range p.Multipliers {
		if m < 0 || m > MaxMultiplier {
			return nil, fmt.Errorf("multiplier for %s out of range [0, %d]: %d", class, MaxMultiplier, m)
		}
	}
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.SaturationScale == nil {
		p.SaturationScale = map[string]*big.Int{}
	}
	return &RiskModel{params: p}, nil
}

// Params returns the calibration.
func (m *RiskModel) Params() RiskParameters { return m.params }

// Assess computes the risk of a transaction worth value (anchor raw units).
func (m *RiskModel) Assess(value *big.Int, class TxClass, anchor string, sig Signals, now time.Time) Assessment {
	risk := m.Risk(value, class, anchor, sig)

	amount := new(big.Int)
	if value != nil && value.Sign() > 0 {
		amount = risk.Apply(value)
	}
	return Assessment{
		Class:      class,
		Risk:       risk,
		Amount:     amount,
		Confidence: m.Confidence(sig, now),
		Level:      sig.Level(),
	}
}

// Risk is base*mult + vs*f(value) + cf*congestion + df*density, capped at MaxRisk.
func (m *RiskModel) Risk(value *big.Int, class TxClass, anchor string, sig Signals) Ratio {
	mult, ok := m.params.Multipliers[class]
	if !ok {
		mult = 1
	}
	base := int64(m.params.BaseRisk)
	if mult > 0 && base > int64(MaxRisk)/mult {
		return MaxRisk
	}
	total := base * mult
	if total >= int64(MaxRisk) {
		return MaxRisk
	}
	total += int64(m.params.ValueSensitivity.MulRatio(m.saturation(value, anchor)))
	total += int64(m.params.CongestionFactor.MulRatio(sig.Congestion.Clamp()))
	total += int64(m.params.SearcherDensityFactor.MulRatio(sig.Density.Clamp()))
	if total > int64(MaxRisk) {
		return MaxRisk
	}
	return Ratio(total)
}

// saturation is v/(v+scale): zero at zero, monotonic, below one. With no
// scale configured for anchor the term is fully saturated.
func (m *RiskModel) saturation(value *big.Int, anchor string) Ratio {
	if value == nil || value.Sign() <= 0 {
		return RatioZero
	}
	scale := m.params.SaturationScale[anchor]
	if scale == nil || scale.Sign() <= 0 {
		return RatioOne
	}
	den := new(big.Int).Add(value, scale)
	f := new(big.Int).Mul(value, bigRatioScale)
	f.Quo(f, den)
	return Ratio(f.Int64()).Clamp()
}

// Confidence is 1 while the signals are younger than the interval and
// decays linearly to 0 at four intervals. Unpublished signals score 0.
func (m *RiskModel) Confidence(sig Signals, now time.Time) Ratio {
	if !sig.Valid || sig.PublishedAt.IsZero() {
		return RatioZero
	}
	age := now.Sub(sig.PublishedAt)
	interval := m.params.Interval
	switch {
	case age <= interval:
		return RatioOne
	case age >= 4*interval:
		return RatioZero
	}
	remaining := int64(4*interval - age)
	return RatioFromFraction(remaining, int64(3*interval))
}
