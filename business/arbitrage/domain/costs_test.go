package domain

import (
	"testing"

	liqdomain "github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	mevdomain "github.com/fd1az/mev-arbitrage/business/mev/domain"
)

func TestGasUnits(t *testing.T) {
	tests := []struct {
		name      string
		kinds     []liqdomain.ProtocolKind
		loans     int
		bufferBps uint32
		want      uint64
	}{
		{
			name:      "two constant product hops, one loan, 1.2x",
			kinds:     []liqdomain.ProtocolKind{liqdomain.ConstantProduct, liqdomain.ConstantProduct},
			loans:     1,
			bufferBps: DefaultGasBufferBps,
			want:      588_000, // (100k + 150k + 2*120k) * 1.2
		},
		{
			name:      "mixed kinds, hybrid loan",
			kinds:     []liqdomain.ProtocolKind{liqdomain.ConstantProduct, liqdomain.ConcentratedLiquidity, liqdomain.StableSwap},
			loans:     2,
			bufferBps: DefaultGasBufferBps,
			want:      1_032_000, // (100k + 300k + 120k + 180k + 160k) * 1.2
		},
		{
			name:  "no buffer",
			kinds: []liqdomain.ProtocolKind{liqdomain.ConstantProduct, liqdomain.ConstantProduct},
			want:  340_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := Path{}
			for _, k := range tt.kinds {
				path.Hops = append(path.Hops, Hop{Venue: liqdomain.Venue{Protocol: k}})
			}
			if got := GasUnits(path, tt.loans, tt.bufferBps); got != tt.want {
				t.Errorf("GasUnits() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name        string
		kinds       []liqdomain.ProtocolKind
		slippageBps uint32
		want        mevdomain.Ratio
	}{
		{
			name:        "two constant product hops",
			kinds:       []liqdomain.ProtocolKind{liqdomain.ConstantProduct, liqdomain.ConstantProduct},
			slippageBps: 50,
			want:        71_500_000, // .03 + .02 + .02 + .0015
		},
		{
			name: "five hops through a stable pool",
			kinds: []liqdomain.ProtocolKind{
				liqdomain.ConstantProduct, liqdomain.StableSwap, liqdomain.ConstantProduct,
				liqdomain.ConcentratedLiquidity, liqdomain.ConstantProduct,
			},
			slippageBps: 150,
			want:        134_500_000, // .06 + .05 + .02 + .0045
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := Path{}
			for _, k := range tt.kinds {
				path.Hops = append(path.Hops, Hop{Venue: liqdomain.Venue{Protocol: k}})
			}
			if got := RiskScore(path, tt.slippageBps); got != tt.want {
				t.Errorf("RiskScore() = %d, want %d", got, tt.want)
			}
		})
	}
}
