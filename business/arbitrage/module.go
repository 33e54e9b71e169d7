// Package arbitrage implements the arbitrage bounded context: path search,
// profitability and the per-block evaluation pipeline.
package arbitrage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fd1az/mev-arbitrage/business/arbitrage/app"
	arbitrageDI "github.com/fd1az/mev-arbitrage/business/arbitrage/di"
	"github.com/fd1az/mev-arbitrage/business/arbitrage/infra"
	blockchainDI "github.com/fd1az/mev-arbitrage/business/blockchain/di"
	executionDI "github.com/fd1az/mev-arbitrage/business/execution/di"
	flashloanDI "github.com/fd1az/mev-arbitrage/business/flashloan/di"
	liquidityDI "github.com/fd1az/mev-arbitrage/business/liquidity/di"
	mevDI "github.com/fd1az/mev-arbitrage/business/mev/di"
	mevdomain "github.com/fd1az/mev-arbitrage/business/mev/domain"
	submissionDI "github.com/fd1az/mev-arbitrage/business/submission/di"
	"github.com/fd1az/mev-arbitrage/internal/asset"
	"github.com/fd1az/mev-arbitrage/internal/config"
	"github.com/fd1az/mev-arbitrage/internal/di"
	"github.com/fd1az/mev-arbitrage/internal/logger"
	"github.com/fd1az/mev-arbitrage/internal/monolith"
	"github.com/fd1az/mev-arbitrage/internal/redis"
)

// Module implements the arbitrage bounded context.
type Module struct{}

// RegisterServices registers all arbitrage services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, arbitrageDI.Finder, func(sr di.ServiceRegistry) *app.PathFinder {
		cfg := sr.Get("config").(*config.Config)
		return app.NewPathFinder(cfg.PathFinder.MaxCandidates)
	})

	di.RegisterToken(c, arbitrageDI.Engine, func(sr di.ServiceRegistry) *app.Engine {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		assets := sr.Get("assetRegistry").(*asset.Registry)

		engineCfg, err := BuildEngineConfig(cfg)
		if err != nil {
			panic("invalid profit config: " + err.Error())
		}
		store := liquidityDI.GetStore(sr)
		return app.NewEngine(engineCfg,
			flashloanDI.GetSelector(sr),
			mevDI.GetRiskModel(sr),
			blockchainDI.GetRegistry(sr),
			store,
			assets,
			log)
	})

	di.RegisterToken(c, arbitrageDI.Reporter, func(sr di.ServiceRegistry) app.Reporter {
		log := sr.Get("logger").(logger.LoggerInterface)
		rdb, _ := sr.Get("redis").(*redis.Client)

		var stream app.Reporter
		if rdb != nil {
			stream = infra.NewRedisReporter(redis.NewSignalBus(rdb), log)
		}
		return infra.NewMultiReporter(infra.NewConsoleReporter(log), stream)
	})

	di.RegisterToken(c, arbitrageDI.Pipeline, func(sr di.ServiceRegistry) *app.Pipeline {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		assets := sr.Get("assetRegistry").(*asset.Registry)

		return app.NewPipeline(BuildPipelineConfig(cfg),
			liquidityDI.GetStore(sr),
			mevDI.GetSensorHub(sr),
			assets,
			arbitrageDI.GetFinder(sr),
			arbitrageDI.GetEngine(sr),
			flashloanDI.GetSelector(sr),
			executionDI.GetBuilder(sr),
			submissionDI.GetSubmitter(sr),
			arbitrageDI.GetReporter(sr),
			log)
	})

	return nil
}

// Startup runs the pipeline on every network until ctx ends.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	sr := mono.Services()
	cfg := mono.Config()

	pipeline := arbitrageDI.GetPipeline(sr)
	scope := make([]uint64, 0, len(cfg.Networks))
	for _, n := range cfg.Networks {
		scope = append(scope, n.ChainID)
	}

	go func() {
		if err := pipeline.Run(ctx, blockchainDI.GetRegistry(sr), scope); err != nil && ctx.Err() == nil {
			log.Error(ctx, "arbitrage pipeline stopped", "error", err)
		}
	}()
	return nil
}

// BuildPipelineConfig collects the search settings.
func BuildPipelineConfig(cfg *config.Config) app.PipelineConfig {
	return app.PipelineConfig{
		Anchors:       cfg.PathFinder.Anchors,
		MaxHops:       cfg.PathFinder.MaxHops,
		Workers:       cfg.Profit.Workers,
		CrossNetwork:  cfg.PathFinder.CrossNetwork,
		BridgeCostBps: cfg.PathFinder.BridgeCostBps,
	}
}

// BuildEngineConfig parses the profit section. Floors stay in display units
// keyed by anchor symbol; the engine converts them with each network's
// anchor decimals.
func BuildEngineConfig(cfg *config.Config) (app.EngineConfig, error) {
	pc := cfg.Profit
	ec := app.EngineConfig{
		MinProfit:               make(map[string]decimal.Decimal, len(pc.MinProfit)),
		MinProfitBps:            pc.MinProfitBps,
		SlippageBps:             pc.SlippageBps,
		LowLiquiditySlippageBps: pc.LowLiquiditySlippageBps,
		LowLiquidityImpactBps:   pc.LowLiquidityImpactBps,
		GasBufferBps:            pc.GasBufferBps,
		MaxBorrowReserveBps:     pc.MaxBorrowReserveBps,
	}
	for _, sym := range cfg.PathFinder.Anchors {
		s, ok := config.Lookup(pc.MinProfit, sym)
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return ec, fmt.Errorf("min_profit %s: %w", sym, err)
		}
		if d.IsNegative() {
			return ec, fmt.Errorf("min_profit %s is negative", sym)
		}
		ec.MinProfit[sym] = d
	}
	if pc.MinConfidence != "" {
		d, err := config.Fraction(pc.MinConfidence)
		if err != nil {
			return ec, err
		}
		ec.MinConfidence = mevdomain.RatioFromDecimal(d)
	}
	return ec, nil
}
