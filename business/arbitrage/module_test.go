package arbitrage

import (
	"testing"

	"github.com/shopspring/decimal"

	mevdomain "github.com/fd1az/mev-arbitrage/business/mev/domain"
	"github.com/fd1az/mev-arbitrage/internal/config"
)

func TestBuildEngineConfig(t *testing.T) {
	tests := []struct {
		name    string
		profit  config.ProfitConfig
		wantErr bool
		check   func(t *testing.T, minWETH decimal.Decimal, conf mevdomain.Ratio)
	}{
		{
			name: "lower-cased keys resolve to anchor symbols",
			profit: config.ProfitConfig{
				MinProfit:     map[string]string{"weth": "0.005", "usdc": "10"},
				MinConfidence: "0.6",
			},
			check: func(t *testing.T, minWETH decimal.Decimal, conf mevdomain.Ratio) {
				if !minWETH.Equal(decimal.RequireFromString("0.005")) {
					t.Errorf("WETH floor = %s", minWETH)
				}
				if conf != mevdomain.RatioFromFraction(3, 5) {
					t.Errorf("MinConfidence = %s, want 0.6", conf)
				}
			},
		},
		{
			name:    "negative floor",
			profit:  config.ProfitConfig{MinProfit: map[string]string{"weth": "-1"}},
			wantErr: true,
		},
		{
			name:    "confidence above one",
			profit:  config.ProfitConfig{MinConfidence: "1.5"},
			wantErr: true,
		},
		{
			name:    "not a number",
			profit:  config.ProfitConfig{MinProfit: map[string]string{"usdc": "ten"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				PathFinder: config.PathFinderConfig{Anchors: []string{"WETH", "USDC"}},
				Profit:     tt.profit,
			}
			ec, err := BuildEngineConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, ec.MinProfit["WETH"], ec.MinConfidence)
			}
		})
	}
}

func TestBuildPipelineConfig(t *testing.T) {
	cfg := &config.Config{
		PathFinder: config.PathFinderConfig{MaxHops: 4, Anchors: []string{"WETH"}, CrossNetwork: true, BridgeCostBps: 25},
		Profit:     config.ProfitConfig{Workers: 8},
	}
	pc := BuildPipelineConfig(cfg)
	if pc.MaxHops != 4 || pc.Workers != 8 || !pc.CrossNetwork || pc.BridgeCostBps != 25 || len(pc.Anchors) != 1 {
		t.Errorf("config = %+v", pc)
	}
}
