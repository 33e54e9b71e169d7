package app

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/mev-arbitrage/business/arbitrage/domain"
	mevdomain "github.com/fd1az/mev-arbitrage/business/mev/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

func firstPath(t *testing.T, g *domain.Graph) domain.Path {
	t.Helper()
	for p := range NewPathFinder(0).Find(g, []common.Address{weth}, 3) {
		return p
	}
	t.Fatal("no path found")
	return domain.Path{}
}

func TestEngine_Evaluate(t *testing.T) {
	g := domain.BuildGraph(1, discrepancy(2_020))
	path := firstPath(t, g)

	opp, err := testEngine(testEngineConfig(), zeroFeeQuoter{}).Evaluate(context.Background(), path, g, freshSignals())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	// The surplus of this pair peaks just under 1 WETH.
	lo := new(big.Int).Mul(big.NewInt(98), new(big.Int).Quo(ether, big.NewInt(100)))
	hi := new(big.Int).Mul(big.NewInt(99), new(big.Int).Quo(ether, big.NewInt(100)))
	if opp.Borrow.Cmp(lo) < 0 || opp.Borrow.Cmp(hi) > 0 {
		t.Errorf("Borrow = %s, want within [0.98, 0.99] WETH", opp.Display(opp.Borrow))
	}

	c := opp.Costs
	if c.NetProfit.Cmp(c.Net()) != 0 {
		t.Errorf("NetProfit %s does not match its components %s", c.NetProfit, c.Net())
	}
	if c.NetProfit.Sign() <= 0 {
		t.Errorf("NetProfit = %s, want positive", c.NetProfit)
	}
	if c.ProtocolFee.Sign() != 0 {
		t.Errorf("ProtocolFee = %s on a zero-fee loan", c.ProtocolFee)
	}
	// 588k units at 1 gwei, converted 1:1 into WETH
	if c.GasEstimate.Cmp(big.NewInt(588_000_000_000_000)) != 0 {
		t.Errorf("GasEstimate = %s, want 588000 gwei", c.GasEstimate)
	}
	if opp.GasUnits != 588_000 {
		t.Errorf("GasUnits = %d, want 588000", opp.GasUnits)
	}
	wantMEV := opp.Risk.Apply(opp.ValueAtRisk())
	if c.MEVRisk.Cmp(wantMEV) != 0 {
		t.Errorf("MEVRisk = %s, want %s", c.MEVRisk, wantMEV)
	}
	if opp.Confidence != mevdomain.RatioOne {
		t.Errorf("Confidence = %s, want 1", opp.Confidence)
	}
	if opp.SlippageBps != 1 {
		t.Errorf("SlippageBps = %d, want 1", opp.SlippageBps)
	}

	// fee-inclusive surplus plus venue fees is the gross output
	surplus := new(big.Int).Sub(opp.ExpectedOutput(), opp.Borrow)
	if new(big.Int).Add(surplus, c.TradingFee).Cmp(c.GrossOutput) != 0 {
		t.Errorf("GrossOutput %s != surplus %s + fees %s", c.GrossOutput, surplus, c.TradingFee)
	}
}

func TestEngine_Gates(t *testing.T) {
	tests := []struct {
		name     string
		pools    int64
		mutate   func(*EngineConfig)
		signals  mevdomain.Signals
		quoter   zeroFeeQuoter
		wantCode apperror.Code
	}{
		{
			name:     "fees eat the discrepancy",
			pools:    2_010,
			signals:  freshSignals(),
			wantCode: apperror.CodeBelowProfitFloor,
		},
		{
			name:     "absolute floor",
			pools:    2_020,
			mutate:   func(c *EngineConfig) { c.MinProfit = map[string]decimal.Decimal{"WETH": decimal.RequireFromString("0.01")} },
			signals:  freshSignals(),
			wantCode: apperror.CodeBelowProfitFloor,
		},
		{
			name:     "bps floor",
			pools:    2_020,
			mutate:   func(c *EngineConfig) { c.MinProfitBps = 100 },
			signals:  freshSignals(),
			wantCode: apperror.CodeBelowProfitFloor,
		},
		{
			name:  "stale signals",
			pools: 2_020,
			signals: mevdomain.Signals{
				ChainID:     1,
				PublishedAt: testNow.Add(-time.Minute),
				Valid:       true,
			},
			wantCode: apperror.CodeLowConfidence,
		},
		{
			name:     "no capital",
			pools:    2_020,
			signals:  freshSignals(),
			quoter:   zeroFeeQuoter{err: apperror.New(apperror.CodeNoCapitalSource)},
			wantCode: apperror.CodeNoCapitalSource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testEngineConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			g := domain.BuildGraph(1, discrepancy(tt.pools))
			path := firstPath(t, g)

			_, err := testEngine(cfg, tt.quoter).Evaluate(context.Background(), path, g, tt.signals)
			if !apperror.HasCode(err, tt.wantCode) {
				t.Errorf("Evaluate() error = %v, want %s", err, tt.wantCode)
			}
		})
	}
}

func TestEngine_ZeroGatesStillNeedProfit(t *testing.T) {
	cfg := testEngineConfig()
	cfg.MinProfitBps = 0
	cfg.MinConfidence = 0
	cfg.SlippageBps = 500 // eats everything

	g := domain.BuildGraph(1, discrepancy(2_020))
	_, err := testEngine(cfg, zeroFeeQuoter{}).Evaluate(context.Background(), firstPath(t, g), g, mevdomain.Signals{})
	if !apperror.HasCode(err, apperror.CodeBelowProfitFloor) {
		t.Errorf("Evaluate() error = %v, want %s", err, apperror.CodeBelowProfitFloor)
	}
}
