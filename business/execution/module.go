// Package execution implements the execution bounded context: turning an
// accepted opportunity into one atomic executor call.
package execution

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/mev-arbitrage/business/execution/app"
	executionDI "github.com/fd1az/mev-arbitrage/business/execution/di"
	liquidityDI "github.com/fd1az/mev-arbitrage/business/liquidity/di"
	"github.com/fd1az/mev-arbitrage/internal/config"
	"github.com/fd1az/mev-arbitrage/internal/di"
	"github.com/fd1az/mev-arbitrage/internal/logger"
	"github.com/fd1az/mev-arbitrage/internal/monolith"
)

// Module implements the execution bounded context.
type Module struct{}

// RegisterServices registers all execution services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, executionDI.Builder, func(sr di.ServiceRegistry) *app.Builder {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		return app.NewBuilder(BuildBuilderConfig(cfg), liquidityDI.GetStore(sr), log)
	})
	return nil
}

// Startup has nothing to start; plans are built on demand.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	return nil
}

// BuildBuilderConfig collects executors and the profit split from config.
func BuildBuilderConfig(cfg *config.Config) app.BuilderConfig {
	executors := make(map[uint64]common.Address, len(cfg.Networks))
	for _, n := range cfg.Networks {
		executors[n.ChainID] = config.HexAddress(n.ExecutorAddress)
	}
	return app.BuilderConfig{
		Executors:        executors,
		Treasury:         config.HexAddress(cfg.Execution.Treasury),
		Operator:         config.HexAddress(cfg.Execution.Operator),
		TreasuryShareBps: cfg.Execution.TreasuryShareBps,
		DeadlineBlocks:   cfg.Execution.DeadlineBlocks,
	}
}
