package domain

import (
	"fmt"
	"strings"
)

// TxClass classifies a transaction by its exposure to front-running.
type TxClass uint8

const (
	Transfer TxClass = iota
	LiquidityProvision
	ArbitrageSwap
	FlashLoanArbitrage
	FrontRunnable
)

var txClassNames = [...]string{
	Transfer:           "transfer",
	LiquidityProvision: "liquidity_provision",
	ArbitrageSwap:      "arbitrage_swap",
	FlashLoanArbitrage: "flash_loan_arbitrage",
	FrontRunnable:      "front_runnable",
}

func (c TxClass) String() string {
	if int(c) < len(txClassNames) {
		return txClassNames[c]
	}
	return "unknown"
}

// ParseTxClass maps a config key onto a class.
func ParseTxClass(s string) (TxClass, error) {
	s = strings.ToLower(s)
	for i, name := range txClassNames {
		if name == s {
			return TxClass(i), nil
		}
	}
	return 0, fmt.Errorf("unknown transaction class %q", s)
}

// DefaultMultipliers scale the base risk per class.
func DefaultMultipliers() map[TxClass]int64 {
	return map[TxClass]int64{
		Transfer:           1,
		LiquidityProvision: 2,
		ArbitrageSwap:      7,
		FlashLoanArbitrage: 8,
		FrontRunnable:      9,
	}
}
