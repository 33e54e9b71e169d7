package domain

import (
	"math/big"
	"testing"
	"time"
)

func gwei(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000)) }

func TestNewFeeQuote(t *testing.T) {
	tests := []struct {
		name     string
		base     *big.Int
		tip      *big.Int
		cap      *big.Int
		wantMax  *big.Int
		wantPrio *big.Int
	}{
		{"uncapped", gwei(20), gwei(2), DefaultMaxFeePerGas, gwei(42), gwei(2)},
		{"capped", gwei(300), gwei(5), DefaultMaxFeePerGas, gwei(500), gwei(5)},
		{"tip above cap", gwei(1), gwei(600), DefaultMaxFeePerGas, gwei(500), gwei(500)},
		{"no cap", gwei(300), gwei(5), nil, gwei(605), gwei(5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewFeeQuote(tt.base, tt.tip, tt.cap, 1, time.Time{})
			if q.MaxFee.Cmp(tt.wantMax) != 0 {
				t.Errorf("MaxFee = %s, want %s", q.MaxFee, tt.wantMax)
			}
			if q.PriorityFee.Cmp(tt.wantPrio) != 0 {
				t.Errorf("PriorityFee = %s, want %s", q.PriorityFee, tt.wantPrio)
			}
		})
	}
}

func TestFeeQuote_CostAndBump(t *testing.T) {
	q := NewFeeQuote(gwei(20), gwei(2), DefaultMaxFeePerGas, 1, time.Time{})
	if got, want := q.Cost(100_000), gwei(2_200_000); got.Cmp(want) != 0 {
		t.Errorf("Cost = %s, want %s", got, want)
	}

	bumped := q.BumpPriority(1250)
	if want := big.NewInt(2_250_000_000); bumped.PriorityFee.Cmp(want) != 0 {
		t.Errorf("bumped tip = %s, want %s", bumped.PriorityFee, want)
	}
	if q.PriorityFee.Cmp(gwei(2)) != 0 {
		t.Error("BumpPriority mutated the receiver")
	}

	zero := NewFeeQuote(gwei(20), big.NewInt(0), nil, 1, time.Time{}).BumpPriority(1250)
	if zero.PriorityFee.Sign() <= 0 {
		t.Error("bumping a zero tip must still raise it")
	}
}

func TestBlock_UtilizationPPM(t *testing.T) {
	b := &Block{GasLimit: 30_000_000, GasUsed: 15_000_000}
	if got := b.UtilizationPPM(); got != 500_000 {
		t.Errorf("UtilizationPPM = %d", got)
	}
	if (&Block{}).UtilizationPPM() != 0 {
		t.Error("zero gas limit must report 0")
	}
}
