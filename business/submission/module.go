// Package submission implements the submission bounded context: simulation,
// nonce sequencing and protected delivery of execution plans.
package submission

import (
	"context"
	"fmt"
	"math/big"
	"slices"

	"github.com/shopspring/decimal"

	blockchainDI "github.com/fd1az/mev-arbitrage/business/blockchain/di"
	"github.com/fd1az/mev-arbitrage/business/submission/app"
	submissionDI "github.com/fd1az/mev-arbitrage/business/submission/di"
	"github.com/fd1az/mev-arbitrage/business/submission/domain"
	"github.com/fd1az/mev-arbitrage/business/submission/infra/inclusion"
	"github.com/fd1az/mev-arbitrage/business/submission/infra/public"
	"github.com/fd1az/mev-arbitrage/business/submission/infra/relay"
	"github.com/fd1az/mev-arbitrage/business/submission/infra/signer"
	"github.com/fd1az/mev-arbitrage/business/submission/infra/simulator"
	"github.com/fd1az/mev-arbitrage/internal/asset"
	"github.com/fd1az/mev-arbitrage/internal/config"
	"github.com/fd1az/mev-arbitrage/internal/di"
	"github.com/fd1az/mev-arbitrage/internal/logger"
	"github.com/fd1az/mev-arbitrage/internal/monolith"
	"github.com/fd1az/mev-arbitrage/internal/redis"
)

const lockPrefix = "arb:lock:"

// Module implements the submission bounded context.
type Module struct{}

// RegisterServices registers all submission services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, submissionDI.Signer, func(sr di.ServiceRegistry) *signer.Local {
		cfg := sr.Get("config").(*config.Config)
		s, err := signer.FromEnv(cfg.Submission.SignerKeyEnv)
		if err != nil {
			panic("failed to load signer: " + err.Error())
		}
		return s
	})

	di.RegisterToken(c, submissionDI.Routes, func(sr di.ServiceRegistry) map[uint64]app.Route {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		nets := sr.Get("networks").(*monolith.Networks)
		rdb, _ := sr.Get("redis").(*redis.Client)
		registry := blockchainDI.GetRegistry(sr)
		sgn := submissionDI.GetSigner(sr)

		var locker app.Locker
		if rdb != nil {
			locker = redis.NewLockManager(rdb, lockPrefix)
		}

		routes := make(map[uint64]app.Route, len(cfg.Networks))
		for _, n := range cfg.Networks {
			client, ok := nets.Eth(n.ChainID)
			if !ok {
				panic(fmt.Sprintf("no client for chain %d", n.ChainID))
			}

			relays, err := BuildRelays(cfg.Submission, n.ChainID, sgn, log)
			if err != nil {
				panic("invalid relay config: " + err.Error())
			}
			protected := make([]app.Channel, 0, len(relays))
			for _, r := range relays {
				protected = append(protected, r)
			}

			// the primary relay doubles as the bundle simulator
			var bundle simulator.BundleCaller
			if len(relays) > 0 {
				bundle = relays[0]
			}

			routes[n.ChainID] = app.Route{
				Sequencer: app.NewSequencer(n.ChainID, sgn.Address(), client, locker, log),
				Simulator: simulator.New(n.ChainID, client, bundle, registry),
				Protected: protected,
				Public:    public.NewChannel(n.Name+"-public", client),
			}
		}
		return routes
	})

	di.RegisterToken(c, submissionDI.Submitter, func(sr di.ServiceRegistry) *app.Submitter {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		nets := sr.Get("networks").(*monolith.Networks)
		assets := sr.Get("assetRegistry").(*asset.Registry)
		registry := blockchainDI.GetRegistry(sr)

		subCfg, err := BuildSubmitterConfig(cfg, assets)
		if err != nil {
			panic("invalid submission config: " + err.Error())
		}

		receipts := make(map[uint64]inclusion.ReceiptReader, len(cfg.Networks))
		for _, n := range cfg.Networks {
			if client, ok := nets.Eth(n.ChainID); ok {
				receipts[n.ChainID] = client
			}
		}
		watcher := inclusion.NewWatcher(registry, receipts, log)

		return app.NewSubmitter(subCfg, submissionDI.GetRoutes(sr), submissionDI.GetSigner(sr), watcher, registry, log)
	})

	return nil
}

// Startup syncs every sequencer so the first submission does not pay for it.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	sr := mono.Services()

	// built eagerly so a missing signer key fails startup, not the first submission
	submissionDI.GetSubmitter(sr)

	for chainID, route := range submissionDI.GetRoutes(sr) {
		if err := route.Sequencer.Resync(ctx); err != nil {
			log.Warn(ctx, "initial nonce sync failed", "chain_id", chainID, "error", err)
		}
		log.Info(ctx, "submission route ready",
			"chain_id", chainID,
			"account", route.Sequencer.Account().Hex(),
			"relays", len(route.Protected))
	}
	return nil
}

// BuildRelays creates the relays serving chainID sorted by priority. A relay
// without a chain id serves every network.
func BuildRelays(cfg config.SubmissionConfig, chainID uint64, sgn relay.PayloadSigner, log logger.LoggerInterface) ([]*relay.Client, error) {
	var out []*relay.Client
	for _, rc := range cfg.Relays {
		if rc.ChainID != 0 && rc.ChainID != chainID {
			continue
		}
		mode, err := relay.ParseMode(rc.Mode)
		if err != nil {
			return nil, err
		}
		client, err := relay.NewClient(relay.Config{
			Name:     rc.Name,
			URL:      rc.URL,
			Mode:     mode,
			Priority: rc.Priority,
			Timeout:  cfg.RelayTimeout,
		}, sgn, log)
		if err != nil {
			return nil, err
		}
		out = append(out, client)
	}
	slices.SortStableFunc(out, func(a, b *relay.Client) int {
		return a.Priority() - b.Priority()
	})
	return out, nil
}

// BuildSubmitterConfig converts the submission section. Protection
// thresholds are decimal anchor units, converted with the anchor's decimals
// on the first network that lists it.
func BuildSubmitterConfig(cfg *config.Config, assets *asset.Registry) (app.SubmitterConfig, error) {
	sc := cfg.Submission
	level := domain.PrivacyHigh
	if sc.PrivacyLevel != "" {
		l, err := domain.ParsePrivacyLevel(sc.PrivacyLevel)
		if err != nil {
			return app.SubmitterConfig{}, err
		}
		level = l
	}

	thresholds := make(map[string]*big.Int, len(sc.ProtectionThreshold))
	for _, anchor := range cfg.PathFinder.Anchors {
		s, ok := config.Lookup(sc.ProtectionThreshold, anchor)
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return app.SubmitterConfig{}, fmt.Errorf("protection_threshold %s: %w", anchor, err)
		}
		raw, err := anchorUnits(cfg, assets, anchor, d)
		if err != nil {
			return app.SubmitterConfig{}, err
		}
		thresholds[anchor] = raw
	}

	return app.SubmitterConfig{
		InclusionBlocks:    sc.InclusionBlocks,
		MaxRetries:         sc.MaxRetries,
		PriorityFeeBumpBps: sc.PriorityFeeBumpBps,
		PublicFallback:     sc.PublicFallback,
		RaceMode:           sc.RaceMode,
		Privacy: domain.PrivacyPolicy{
			Default:   level,
			Threshold: thresholds,
		},
	}, nil
}

func anchorUnits(cfg *config.Config, assets *asset.Registry, symbol string, d decimal.Decimal) (*big.Int, error) {
	for _, n := range cfg.Networks {
		if a, ok := assets.GetBySymbolAndChain(symbol, n.ChainID); ok {
			amt, err := asset.ParseDecimal(a, d)
			if err != nil {
				return nil, err
			}
			return amt.Raw(), nil
		}
	}
	return nil, fmt.Errorf("anchor %s not registered on any network", symbol)
}
