// Package mev implements the MEV bounded context: the leakage risk model and
// the sensors that feed it.
package mev

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	blockchainDI "github.com/fd1az/mev-arbitrage/business/blockchain/di"
	"github.com/fd1az/mev-arbitrage/business/mev/app"
	mevDI "github.com/fd1az/mev-arbitrage/business/mev/di"
	"github.com/fd1az/mev-arbitrage/business/mev/domain"
	"github.com/fd1az/mev-arbitrage/business/mev/infra/mempool"
	"github.com/fd1az/mev-arbitrage/business/mev/infra/signalbus"
	"github.com/fd1az/mev-arbitrage/internal/asset"
	"github.com/fd1az/mev-arbitrage/internal/config"
	"github.com/fd1az/mev-arbitrage/internal/di"
	"github.com/fd1az/mev-arbitrage/internal/logger"
	"github.com/fd1az/mev-arbitrage/internal/monolith"
	"github.com/fd1az/mev-arbitrage/internal/redis"
)

// Module implements the mev bounded context.
type Module struct{}

// RegisterServices registers all mev services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, mevDI.RiskModel, func(sr di.ServiceRegistry) *domain.RiskModel {
		cfg := sr.Get("config").(*config.Config)
		registry := sr.Get("assetRegistry").(*asset.Registry)

		params, err := BuildRiskParameters(cfg, registry)
		if err != nil {
			panic("invalid risk parameters: " + err.Error())
		}
		model, err := domain.NewRiskModel(params)
		if err != nil {
			panic("failed to create risk model: " + err.Error())
		}
		return model
	})

	di.RegisterToken(c, mevDI.MempoolSensors, func(sr di.ServiceRegistry) []*app.MempoolSensor {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		if !cfg.Sensors.MempoolEnabled {
			return nil
		}

		filter, err := BuildTxFilter(cfg.Sensors)
		if err != nil {
			panic("invalid mempool filter: " + err.Error())
		}
		routers := make([]common.Address, 0, len(cfg.Sensors.KnownRouters))
		for _, r := range cfg.Sensors.KnownRouters {
			routers = append(routers, common.HexToAddress(r))
		}

		sensors := make([]*app.MempoolSensor, 0, len(cfg.Networks))
		for _, n := range cfg.Networks {
			if n.WebSocketURL == "" {
				log.Warn(context.Background(), "mempool sensor skipped, no websocket url", "chain_id", n.ChainID)
				continue
			}
			sensors = append(sensors, app.NewMempoolSensor(n.ChainID,
				mempool.NewStream(n.WebSocketURL, log), filter, routers, cfg.Sensors.Interval, log))
		}
		return sensors
	})

	di.RegisterToken(c, mevDI.SensorHub, func(sr di.ServiceRegistry) *app.SensorHub {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		rdb, _ := sr.Get("redis").(*redis.Client)

		sensors := []app.Sensor{app.NewBlockSensor(blockchainDI.GetRegistry(sr), cfg.Sensors.BlockWindow)}
		for _, s := range mevDI.GetMempoolSensors(sr) {
			sensors = append(sensors, s)
		}

		var publisher app.SignalPublisher
		if rdb != nil {
			publisher = signalbus.NewPublisher(redis.NewSignalBus(rdb))
		}

		chainIDs := make([]uint64, 0, len(cfg.Networks))
		for _, n := range cfg.Networks {
			chainIDs = append(chainIDs, n.ChainID)
		}
		return app.NewSensorHub(cfg.Sensors.Interval, chainIDs, sensors, publisher, log)
	})

	return nil
}

// Startup starts the mempool streams and the publication loop.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	sr := mono.Services()

	for _, s := range mevDI.GetMempoolSensors(sr) {
		go func() {
			if err := s.Run(ctx); err != nil && ctx.Err() == nil {
				log.Warn(ctx, "mempool sensor stopped", "error", err)
			}
		}()
	}

	mevDI.GetSensorHub(sr).Start(ctx)
	log.Info(ctx, "mev module started", "mempool_sensors", len(mevDI.GetMempoolSensors(sr)))
	return nil
}

// BuildRiskParameters converts the risk section into model parameters.
// Saturation scales are decimal anchor units converted with the anchor's
// decimals on the first network that lists it.
func BuildRiskParameters(cfg *config.Config, registry *asset.Registry) (domain.RiskParameters, error) {
	p := domain.DefaultRiskParameters()
	p.Interval = cfg.Sensors.Interval
	if p.Interval <= 0 {
		p.Interval = domain.DefaultInterval
	}

	for _, f := range []struct {
		src string
		dst *domain.Ratio
	}{
		{cfg.Risk.BaseRisk, &p.BaseRisk},
		{cfg.Risk.ValueSensitivity, &p.ValueSensitivity},
		{cfg.Risk.CongestionFactor, &p.CongestionFactor},
		{cfg.Risk.SearcherDensityFactor, &p.SearcherDensityFactor},
	} {
		if f.src == "" {
			continue
		}
		d, err := config.Fraction(f.src)
		if err != nil {
			return p, err
		}
		*f.dst = domain.RatioFromDecimal(d)
	}

	for name, mult := range cfg.Risk.ClassMultipliers {
		class, err := domain.ParseTxClass(name)
		if err != nil {
			return p, err
		}
		p.Multipliers[class] = mult
	}

	for _, anchor := range cfg.PathFinder.Anchors {
		s, ok := config.Lookup(cfg.Risk.SaturationScale, anchor)
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return p, fmt.Errorf("saturation_scale %s: %w", anchor, err)
		}
		raw, err := anchorUnits(cfg, registry, anchor, d)
		if err != nil {
			return p, err
		}
		p.SaturationScale[anchor] = raw
	}
	return p, nil
}

func anchorUnits(cfg *config.Config, registry *asset.Registry, symbol string, d decimal.Decimal) (*big.Int, error) {
	for _, n := range cfg.Networks {
		if a, ok := registry.GetBySymbolAndChain(symbol, n.ChainID); ok {
			amt, err := asset.ParseDecimal(a, d)
			if err != nil {
				return nil, err
			}
			return amt.Raw(), nil
		}
	}
	return nil, fmt.Errorf("anchor %s not registered on any network", symbol)
}

// BuildTxFilter parses the mempool filter settings.
func BuildTxFilter(cfg config.SensorsConfig) (app.TxFilter, error) {
	f := app.TxFilter{
		Targets:   make(map[common.Address]struct{}, len(cfg.MempoolTargets)),
		Selectors: make(map[[4]byte]struct{}, len(cfg.MempoolSelectors)),
	}
	for _, t := range cfg.MempoolTargets {
		if !common.IsHexAddress(t) {
			return f, fmt.Errorf("invalid mempool target %q", t)
		}
		f.Targets[common.HexToAddress(t)] = struct{}{}
	}
	for _, s := range cfg.MempoolSelectors {
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil || len(b) != 4 {
			return f, fmt.Errorf("invalid selector %q", s)
		}
		f.Selectors[[4]byte(b)] = struct{}{}
	}
	var ok bool
	if cfg.MempoolMinValue != "" {
		if f.MinValue, ok = new(big.Int).SetString(cfg.MempoolMinValue, 10); !ok {
			return f, fmt.Errorf("invalid mempool_min_value %q", cfg.MempoolMinValue)
		}
	}
	if cfg.MempoolMaxValue != "" {
		if f.MaxValue, ok = new(big.Int).SetString(cfg.MempoolMaxValue, 10); !ok {
			return f, fmt.Errorf("invalid mempool_max_value %q", cfg.MempoolMaxValue)
		}
	}
	return f, nil
}
