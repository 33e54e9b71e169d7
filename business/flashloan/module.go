// Package flashloan implements the capital sourcing bounded context.
package flashloan

import (
	"context"
	"fmt"

	"github.com/fd1az/mev-arbitrage/business/flashloan/app"
	flashloanDI "github.com/fd1az/mev-arbitrage/business/flashloan/di"
	"github.com/fd1az/mev-arbitrage/business/flashloan/domain"
	"github.com/fd1az/mev-arbitrage/business/flashloan/infra/depth"
	liquidityDI "github.com/fd1az/mev-arbitrage/business/liquidity/di"
	"github.com/fd1az/mev-arbitrage/internal/config"
	"github.com/fd1az/mev-arbitrage/internal/di"
	"github.com/fd1az/mev-arbitrage/internal/logger"
	"github.com/fd1az/mev-arbitrage/internal/monolith"
)

// Module implements the flashloan bounded context.
type Module struct{}

// RegisterServices registers all flashloan services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, flashloanDI.DepthReader, func(sr di.ServiceRegistry) *depth.Reader {
		cfg := sr.Get("config").(*config.Config)

		balances := make(map[uint64]depth.BalanceReader)
		for chainID, r := range liquidityDI.GetReaders(sr) {
			balances[chainID] = r
		}
		reader, err := depth.NewReader(balances, cfg.FlashLoan.DepthCacheTTL)
		if err != nil {
			panic("failed to create depth reader: " + err.Error())
		}
		return reader
	})

	di.RegisterToken(c, flashloanDI.Selector, func(sr di.ServiceRegistry) *app.Selector {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		providers, err := BuildProviders(cfg.FlashLoan)
		if err != nil {
			panic("invalid flash loan providers: " + err.Error())
		}
		return app.NewSelector(providers, flashloanDI.GetDepthReader(sr), log)
	})

	return nil
}

// Startup logs the configured providers.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	cfg := mono.Config()
	for _, p := range cfg.FlashLoan.Providers {
		mono.Logger().Info(ctx, "flash loan provider",
			"name", p.Name, "kind", p.Kind, "fee_bps", p.FeeBps, "chains", p.ChainIDs)
	}
	return nil
}

// BuildProviders converts configured providers. Fee-based providers without
// an explicit fee get DefaultFeeBasedBps.
func BuildProviders(cfg config.FlashLoanConfig) ([]domain.Provider, error) {
	out := make([]domain.Provider, 0, len(cfg.Providers))
	for i, p := range cfg.Providers {
		kind, err := domain.ParseProviderKind(p.Kind)
		if err != nil {
			return nil, fmt.Errorf("providers[%d]: %w", i, err)
		}
		fee := p.FeeBps
		switch {
		case kind == domain.ZeroFee:
			fee = 0
		case fee == 0:
			fee = domain.DefaultFeeBasedBps
		}
		out = append(out, domain.Provider{
			Name:     p.Name,
			Kind:     kind,
			FeeBps:   fee,
			ChainIDs: p.ChainIDs,
			Vault:    config.HexAddress(p.Vault),
		})
	}
	return out, nil
}
