// Package liquidity implements the liquidity bounded context: venue
// snapshots, their refresh from chain and order-book feeds.
package liquidity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fd1az/mev-arbitrage/business/liquidity/app"
	liquidityDI "github.com/fd1az/mev-arbitrage/business/liquidity/di"
	"github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/business/liquidity/infra/binance"
	"github.com/fd1az/mev-arbitrage/business/liquidity/infra/multicall"
	"github.com/fd1az/mev-arbitrage/internal/asset"
	"github.com/fd1az/mev-arbitrage/internal/config"
	"github.com/fd1az/mev-arbitrage/internal/di"
	"github.com/fd1az/mev-arbitrage/internal/logger"
	"github.com/fd1az/mev-arbitrage/internal/monolith"
)

// Module implements the liquidity bounded context.
type Module struct{}

// RegisterServices registers all liquidity services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, liquidityDI.Venues, func(sr di.ServiceRegistry) []domain.Venue {
		cfg := sr.Get("config").(*config.Config)
		registry := sr.Get("assetRegistry").(*asset.Registry)

		venues, err := BuildVenues(cfg.Liquidity.Venues, registry)
		if err != nil {
			panic("failed to build venues: " + err.Error())
		}
		return venues
	})

	di.RegisterToken(c, liquidityDI.Store, func(sr di.ServiceRegistry) *app.Store {
		cfg := sr.Get("config").(*config.Config)

		store := app.NewStore(cfg.Liquidity.MaxAge)
		for _, n := range cfg.Networks {
			store.SetWrappedNative(n.ChainID, config.HexAddress(n.WrappedNative))
		}
		return store
	})

	di.RegisterToken(c, liquidityDI.Readers, func(sr di.ServiceRegistry) map[uint64]*multicall.Reader {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		nets := sr.Get("networks").(*monolith.Networks)

		readers := make(map[uint64]*multicall.Reader, len(cfg.Networks))
		for _, n := range cfg.Networks {
			client, ok := nets.Eth(n.ChainID)
			if !ok {
				panic(fmt.Sprintf("no client for chain %d", n.ChainID))
			}
			addr := asset.AddrMulticall3
			if n.MulticallAddress != "" {
				addr = config.HexAddress(n.MulticallAddress)
			}
			reader, err := multicall.NewReader(multicall.Config{
				ChainID:   n.ChainID,
				Address:   addr,
				BatchSize: cfg.Liquidity.BatchSize,
			}, client, nets.Limiter(n.ChainID), log)
			if err != nil {
				panic("failed to create multicall reader: " + err.Error())
			}
			readers[n.ChainID] = reader
		}
		return readers
	})

	di.RegisterToken(c, liquidityDI.Refresher, func(sr di.ServiceRegistry) *app.Refresher {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		refresher := app.NewRefresher(liquidityDI.GetStore(sr), cfg.Liquidity.RefreshInterval, log)
		readers := liquidityDI.GetReaders(sr)
		byChain := make(map[uint64][]domain.Venue)
		for _, v := range liquidityDI.GetVenues(sr) {
			byChain[v.ChainID] = append(byChain[v.ChainID], v)
		}
		for chainID, venues := range byChain {
			refresher.AddNetwork(chainID, readers[chainID], venues)
		}
		return refresher
	})

	cfg := c.Get("config").(*config.Config)
	if cfg.OrderBook.Enabled {
		di.RegisterToken(c, liquidityDI.BookFeed, func(sr di.ServiceRegistry) app.BookFeed {
			log := sr.Get("logger").(logger.LoggerInterface)
			registry := sr.Get("assetRegistry").(*asset.Registry)

			venues, err := BuildBookVenues(cfg.OrderBook.Markets, registry)
			if err != nil {
				panic("failed to build order book markets: " + err.Error())
			}
			streamCfg := binance.DefaultStreamConfig()
			streamCfg.URL = cfg.OrderBook.WebSocketURL
			streamCfg.SpeedMs = cfg.OrderBook.DepthSpeedMs

			restCfg := binance.DefaultRESTConfig()
			restCfg.URL = cfg.OrderBook.RESTURL

			feed, err := binance.NewFeed(binance.FeedConfig{
				Stream:       streamCfg,
				REST:         restCfg,
				StaleTimeout: cfg.OrderBook.StaleTimeout,
			}, venues, liquidityDI.GetStore(sr), log)
			if err != nil {
				panic("failed to create binance feed: " + err.Error())
			}
			return feed
		})
	}

	return nil
}

// Startup performs a first refresh and starts the refresh loop and book feed.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	sr := mono.Services()

	refresher := liquidityDI.GetRefresher(sr)
	firstCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := refresher.Refresh(firstCtx); err != nil {
		log.Warn(ctx, "initial liquidity refresh failed, continuing", "error", err)
	}
	cancel()

	go func() {
		if err := refresher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error(ctx, "liquidity refresher stopped", "error", err)
		}
	}()

	if sr.Has(liquidityDI.BookFeed.Name()) {
		feed := liquidityDI.GetBookFeed(sr)
		if err := feed.Connect(ctx); err != nil {
			log.Warn(ctx, "order book feed failed to start", "error", err)
		}
		go func() {
			<-ctx.Done()
			_ = feed.Close()
		}()
	}

	log.Info(ctx, "liquidity module started", "venues", len(liquidityDI.GetVenues(sr)))
	return nil
}

// BuildVenues resolves configured pools against the asset registry, which is
// authoritative for decimals.
func BuildVenues(cfgs []config.VenueConfig, registry *asset.Registry) ([]domain.Venue, error) {
	venues := make([]domain.Venue, 0, len(cfgs))
	for i, vc := range cfgs {
		kind, err := domain.ParseProtocol(vc.Protocol)
		if err != nil {
			return nil, fmt.Errorf("venues[%d]: %w", i, err)
		}
		t0, ok := registry.GetToken(vc.ChainID, config.HexAddress(vc.Token0))
		if !ok {
			return nil, fmt.Errorf("venues[%d]: unknown token0 %s", i, vc.Token0)
		}
		t1, ok := registry.GetToken(vc.ChainID, config.HexAddress(vc.Token1))
		if !ok {
			return nil, fmt.Errorf("venues[%d]: unknown token1 %s", i, vc.Token1)
		}
		venues = append(venues, domain.Venue{
			ChainID:     vc.ChainID,
			Protocol:    kind,
			Address:     config.HexAddress(vc.Address),
			FeeBps:      vc.FeeBps,
			Token0:      t0.Address(),
			Token1:      t1.Address(),
			Decimals0:   t0.Decimals(),
			Decimals1:   t1.Decimals(),
			TickSpacing: vc.TickSpacing,
			Symbol:      t0.Symbol() + "/" + t1.Symbol(),
		})
	}
	return venues, nil
}

// BuildBookVenues maps exchange markets onto order-book venues. Base and
// quote are instrument symbols on the market's chain.
func BuildBookVenues(markets []config.OrderBookMarket, registry *asset.Registry) ([]domain.Venue, error) {
	venues := make([]domain.Venue, 0, len(markets))
	for _, mk := range markets {
		base, ok := registry.GetBySymbolAndChain(mk.Base, mk.ChainID)
		if !ok {
			return nil, fmt.Errorf("market %s: unknown base %s", mk.Symbol, mk.Base)
		}
		quote, ok := registry.GetBySymbolAndChain(mk.Quote, mk.ChainID)
		if !ok {
			return nil, fmt.Errorf("market %s: unknown quote %s", mk.Symbol, mk.Quote)
		}
		symbol := strings.ToUpper(mk.Symbol)
		venues = append(venues, domain.Venue{
			ChainID:   mk.ChainID,
			Protocol:  domain.OrderBook,
			Address:   domain.OrderBookAddress("binance", symbol),
			FeeBps:    mk.FeeBps,
			Token0:    base.Address(),
			Token1:    quote.Address(),
			Decimals0: base.Decimals(),
			Decimals1: quote.Decimals(),
			Symbol:    symbol,
		})
	}
	return venues, nil
}
