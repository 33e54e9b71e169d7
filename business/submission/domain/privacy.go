package domain

import (
	"math/big"
	"slices"
	"strings"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

// PrivacyLevel controls how much of a bundle a relay may share with
// searchers in exchange for a refund.
type PrivacyLevel string

const (
	PrivacyMax    PrivacyLevel = "max"
	PrivacyHigh   PrivacyLevel = "high"
	PrivacyMedium PrivacyLevel = "medium"
	PrivacyLow    PrivacyLevel = "low"
)

// Hints understood by MEV-Share style relays.
const (
	HintHash             = "hash"
	HintContractAddress  = "contract_address"
	HintFunctionSelector = "function_selector"
	HintCalldata         = "calldata"
	HintLogs             = "logs"
)

// PrivacyTradeoff is what a submission reveals and what it gets back.
type PrivacyTradeoff struct {
	Level         PrivacyLevel `json:"level"`
	Hints         []string     `json:"hints"`
	RefundPercent int          `json:"refund_percent"`
}

var tradeoffs = map[PrivacyLevel]PrivacyTradeoff{
	PrivacyMax:    {Level: PrivacyMax, Hints: nil, RefundPercent: 0},
	PrivacyHigh:   {Level: PrivacyHigh, Hints: []string{HintHash}, RefundPercent: 10},
	PrivacyMedium: {Level: PrivacyMedium, Hints: []string{HintHash, HintContractAddress, HintFunctionSelector}, RefundPercent: 50},
	PrivacyLow: {Level: PrivacyLow, Hints: []string{
		HintHash, HintContractAddress, HintFunctionSelector, HintCalldata, HintLogs,
	}, RefundPercent: 90},
}

// ParsePrivacyLevel accepts the config spelling of a level.
func ParsePrivacyLevel(s string) (PrivacyLevel, error) {
	l := PrivacyLevel(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tradeoffs[l]; !ok {
		return "", apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("unknown privacy level "+s))
	}
	return l, nil
}

// Tradeoff returns the hints and refund for l.
func (l PrivacyLevel) Tradeoff() PrivacyTradeoff {
	t := tradeoffs[l]
	t.Hints = slices.Clone(t.Hints)
	return t
}

// PrivacyPolicy picks the tradeoff for one submission.
type PrivacyPolicy struct {
	Default PrivacyLevel
	// Threshold is the protection threshold per anchor symbol in raw units.
	Threshold map[string]*big.Int
}

// Select returns the tradeoff for an opportunity of value in anchor units.
// Values above the anchor's protection threshold always get full privacy.
func (p PrivacyPolicy) Select(anchor string, value *big.Int) PrivacyTradeoff {
	if p.AboveThreshold(anchor, value) {
		return PrivacyMax.Tradeoff()
	}
	level := p.Default
	if _, ok := tradeoffs[level]; !ok {
		level = PrivacyHigh
	}
	return level.Tradeoff()
}

// AboveThreshold reports whether value exceeds the anchor's protection
// threshold. An anchor without a threshold counts as above it.
func (p PrivacyPolicy) AboveThreshold(anchor string, value *big.Int) bool {
	limit, ok := p.Threshold[anchor]
	if !ok || limit == nil {
		return true
	}
	return value != nil && value.Cmp(limit) > 0
}
