// Package blockchain implements the blockchain bounded context: chain heads
// and fee quotes for every configured network.
package blockchain

import (
	"context"
	"fmt"

	"github.com/fd1az/mev-arbitrage/business/blockchain/app"
	blockchainDI "github.com/fd1az/mev-arbitrage/business/blockchain/di"
	"github.com/fd1az/mev-arbitrage/business/blockchain/infra/ethereum"
	"github.com/fd1az/mev-arbitrage/internal/config"
	"github.com/fd1az/mev-arbitrage/internal/di"
	"github.com/fd1az/mev-arbitrage/internal/logger"
	"github.com/fd1az/mev-arbitrage/internal/monolith"
)

// Module implements the blockchain bounded context.
type Module struct{}

// RegisterServices registers all blockchain services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, blockchainDI.GasOracles, func(sr di.ServiceRegistry) map[uint64]*ethereum.GasOracle {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		nets := sr.Get("networks").(*monolith.Networks)

		oracles := make(map[uint64]*ethereum.GasOracle, len(cfg.Networks))
		for _, n := range cfg.Networks {
			client, ok := nets.Eth(n.ChainID)
			if !ok {
				panic(fmt.Sprintf("no client for chain %d", n.ChainID))
			}
			oracle, err := ethereum.NewGasOracle(ethereum.DefaultGasOracleConfig(n.ChainID, n.BlockTime), client, log)
			if err != nil {
				panic("failed to create gas oracle: " + err.Error())
			}
			oracles[n.ChainID] = oracle
		}
		return oracles
	})

	di.RegisterToken(c, blockchainDI.Registry, func(sr di.ServiceRegistry) *app.Registry {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		nets := sr.Get("networks").(*monolith.Networks)
		oracles := blockchainDI.GetGasOracles(sr)

		registry := app.NewRegistry(app.DefaultHistory, log)
		for _, n := range cfg.Networks {
			client, _ := nets.Eth(n.ChainID)
			sub, err := ethereum.NewSubscriber(
				ethereum.DefaultSubscriberConfig(n.ChainID, n.WebSocketURL, n.BlockTime), client, log)
			if err != nil {
				panic("failed to create subscriber: " + err.Error())
			}
			registry.Add(app.Chain{ChainID: n.ChainID, Subscriber: sub, Oracle: oracles[n.ChainID]})
		}
		return registry
	})

	return nil
}

// Startup subscribes every network and drops cached fee quotes on each new head.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	registry := blockchainDI.GetRegistry(mono.Services())

	if err := registry.Start(ctx); err != nil {
		log.Error(ctx, "failed to start block subscriptions", "error", err)
		return err
	}

	for chainID, oracle := range blockchainDI.GetGasOracles(mono.Services()) {
		blocks, cancel, err := registry.Blocks(chainID)
		if err != nil {
			return err
		}
		go func() {
			defer cancel()
			defer oracle.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case <-blocks:
					oracle.Invalidate()
				}
			}
		}()
	}

	log.Info(ctx, "blockchain module started", "networks", len(registry.ChainIDs()))
	return nil
}
