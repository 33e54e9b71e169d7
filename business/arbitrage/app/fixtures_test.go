package app

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	bcdomain "github.com/fd1az/mev-arbitrage/business/blockchain/domain"
	fldomain "github.com/fd1az/mev-arbitrage/business/flashloan/domain"
	liqdomain "github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	mevdomain "github.com/fd1az/mev-arbitrage/business/mev/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
	"github.com/fd1az/mev-arbitrage/internal/asset"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Info(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Warn(ctx context.Context, msg string, args ...any)               {}
func (m *mockLogger) Error(ctx context.Context, msg string, args ...any)              {}
func (m *mockLogger) Debugc(ctx context.Context, caller int, msg string, args ...any) {}
func (m *mockLogger) Infoc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Warnc(ctx context.Context, caller int, msg string, args ...any)  {}
func (m *mockLogger) Errorc(ctx context.Context, caller int, msg string, args ...any) {}

var (
	testNow = time.Unix(1_700_000_000, 0)
	ether   = asset.Pow10(18)
	usd     = asset.Pow10(6)

	weth = asset.AddrWETHEthereum
	usdc = asset.AddrUSDCEthereum
	dai  = asset.AddrDAIEthereum

	poolA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	poolB = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	poolC = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	poolD = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

func units(n int64, scale *big.Int) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), scale)
}

// pairSnapshot is a 30 bps constant-product pool on mainnet.
func pairSnapshot(addr, t0, t1 common.Address, r0, r1 *big.Int) liqdomain.Snapshot {
	return liqdomain.Snapshot{
		Venue: liqdomain.Venue{
			ChainID:  1,
			Protocol: liqdomain.ConstantProduct,
			Address:  addr,
			FeeBps:   30,
			Token0:   t0,
			Token1:   t1,
		},
		Reserve0:  r0,
		Reserve1:  r1,
		Block:     100,
		FetchedAt: testNow,
	}
}

// discrepancy returns two WETH/USDC pools, the second pricing WETH usdcPerWeth
// higher than the first's 2000.
func discrepancy(usdcPerWeth int64) []liqdomain.Snapshot {
	return []liqdomain.Snapshot{
		pairSnapshot(poolA, usdc, weth, units(2_000_000, usd), units(1_000, ether)),
		pairSnapshot(poolB, usdc, weth, units(usdcPerWeth*1_000, usd), units(1_000, ether)),
	}
}

// zeroFeeQuoter funds everything from one zero-fee vault.
type zeroFeeQuoter struct {
	err error
}

func (q zeroFeeQuoter) Quote(ctx context.Context, chainID uint64, token common.Address, amount *big.Int) (fldomain.CapitalSource, error) {
	if q.err != nil {
		return fldomain.CapitalSource{}, q.err
	}
	return fldomain.CapitalSource{
		Kind:    fldomain.ZeroFeeSource,
		ChainID: chainID,
		Token:   token,
		Legs: []fldomain.Leg{{
			Provider: fldomain.Provider{Name: "balancer", Kind: fldomain.ZeroFee, ChainIDs: []uint64{chainID}},
			Amount:   new(big.Int).Set(amount),
			Fee:      new(big.Int),
			Depth:    new(big.Int).Mul(amount, big.NewInt(10)),
		}},
	}, nil
}

func (q zeroFeeQuoter) Select(ctx context.Context, chainID uint64, token common.Address, amount *big.Int) (fldomain.CapitalSource, error) {
	return q.Quote(ctx, chainID, token, amount)
}

// fixedFees quotes 1 gwei base fee and no tip.
type fixedFees struct{}

func (fixedFees) FeeQuote(ctx context.Context, chainID uint64) (bcdomain.FeeQuote, error) {
	return bcdomain.NewFeeQuote(big.NewInt(1_000_000_000), new(big.Int), bcdomain.DefaultMaxFeePerGas, 100, testNow), nil
}

// identityPrices only converts the native coin into WETH.
type identityPrices struct{}

func (identityPrices) ReferencePrice(chainID uint64, from, to *asset.Asset, now time.Time) (asset.Price, error) {
	if (from.IsNative() || from.Address() == weth) && to.Address() == weth {
		return asset.Identity(from, to, now), nil
	}
	return asset.Price{}, apperror.New(apperror.CodeStaleData, apperror.WithContext("no price"))
}

func freshSignals() mevdomain.Signals {
	return mevdomain.Signals{ChainID: 1, PublishedAt: testNow, Valid: true}
}

func testRiskModel() *mevdomain.RiskModel {
	p := mevdomain.DefaultRiskParameters()
	p.SaturationScale = map[string]*big.Int{"WETH": units(100, ether)}
	m, err := mevdomain.NewRiskModel(p)
	if err != nil {
		panic(err)
	}
	return m
}

func testEngineConfig() EngineConfig {
	return EngineConfig{
		MinProfitBps:            5,
		MinConfidence:           mevdomain.RatioFromFraction(1, 2),
		SlippageBps:             1,
		LowLiquiditySlippageBps: 150,
		LowLiquidityImpactBps:   100,
		GasBufferBps:            2_000,
		MaxBorrowReserveBps:     3_000,
	}
}

func testEngine(cfg EngineConfig, quoter CapitalQuoter) *Engine {
	e := NewEngine(cfg, quoter, testRiskModel(), fixedFees{}, identityPrices{}, asset.DefaultRegistry(), &mockLogger{})
	e.now = func() time.Time { return testNow }
	return e
}
