// Package monolith provides the application container and module interface.
package monolith

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/fd1az/mev-arbitrage/internal/asset"
	"github.com/fd1az/mev-arbitrage/internal/config"
	"github.com/fd1az/mev-arbitrage/internal/di"
	"github.com/fd1az/mev-arbitrage/internal/logger"
	"github.com/fd1az/mev-arbitrage/internal/ratelimit"
	"github.com/fd1az/mev-arbitrage/internal/redis"
)

// Monolith is the main application container providing access to shared infrastructure.
type Monolith interface {
	Config() *config.Config
	Logger() logger.LoggerInterface
	Networks() *Networks
	AssetRegistry() *asset.Registry
	// Redis is nil when the redis backend is disabled.
	Redis() *redis.Client
	Services() di.ServiceRegistry
}

// Module represents a bounded context module that can register services and start up.
type Module interface {
	RegisterServices(di.Container) error
	Startup(context.Context, Monolith) error
}

// Networks holds one RPC connection and rate limiter per configured chain.
type Networks struct {
	rpc      map[uint64]*rpc.Client
	eth      map[uint64]*ethclient.Client
	limiters *ratelimit.Group
	order    []uint64
}

// Eth returns the ethclient for chainID.
func (n *Networks) Eth(chainID uint64) (*ethclient.Client, bool) {
	c, ok := n.eth[chainID]
	return c, ok
}

// RPC returns the raw rpc client for chainID.
func (n *Networks) RPC(chainID uint64) (*rpc.Client, bool) {
	c, ok := n.rpc[chainID]
	return c, ok
}

// Limiter returns the RPC budget shared by everything talking to chainID.
func (n *Networks) Limiter(chainID uint64) *ratelimit.Limiter {
	return n.limiters.For(fmt.Sprint(chainID))
}

// ChainIDs lists the configured chains in config order.
func (n *Networks) ChainIDs() []uint64 {
	return append([]uint64(nil), n.order...)
}

func (n *Networks) close() {
	for _, c := range n.rpc {
		c.Close()
	}
}

// app implements the Monolith interface.
type app struct {
	config        *config.Config
	logger        logger.LoggerInterface
	networks      *Networks
	assetRegistry *asset.Registry
	redis         *redis.Client
	container     di.Container
}

// New dials every configured network and builds the shared container.
func New(ctx context.Context, cfg *config.Config, log logger.LoggerInterface) (*app, error) {
	nets := &Networks{
		rpc: make(map[uint64]*rpc.Client, len(cfg.Networks)),
		eth: make(map[uint64]*ethclient.Client, len(cfg.Networks)),
	}
	budgets := make(map[string]int, len(cfg.Networks))
	for _, n := range cfg.Networks {
		rc, err := rpc.DialContext(ctx, n.HTTPURL)
		if err != nil {
			nets.close()
			return nil, fmt.Errorf("dial %s: %w", n.Name, err)
		}
		nets.rpc[n.ChainID] = rc
		nets.eth[n.ChainID] = ethclient.NewClient(rc)
		nets.order = append(nets.order, n.ChainID)
		budgets[fmt.Sprint(n.ChainID)] = n.MaxRPM
	}
	nets.limiters = ratelimit.NewGroup(0, budgets)

	assetRegistry, err := buildRegistry(cfg)
	if err != nil {
		nets.close()
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			nets.close()
			return nil, err
		}
	}

	container := di.NewContainer()

	// Register global services
	container.Register("config", cfg)
	container.Register("logger", log)
	container.Register("networks", nets)
	container.Register("assetRegistry", assetRegistry)
	container.Register("redis", rdb)

	return &app{
		config:        cfg,
		logger:        log,
		networks:      nets,
		assetRegistry: assetRegistry,
		redis:         rdb,
		container:     container,
	}, nil
}

// buildRegistry starts from the well-known mainnet assets and adds the
// configured instruments plus each network's native currency.
func buildRegistry(cfg *config.Config) (*asset.Registry, error) {
	r := asset.DefaultRegistry()
	for _, n := range cfg.Networks {
		sym := n.NativeSymbol
		if sym == "" {
			sym = "ETH"
		}
		if err := r.Register(asset.NewAsset(asset.NewNativeAssetID(n.ChainID), sym, 18)); err != nil {
			return nil, err
		}
	}
	for _, in := range cfg.Liquidity.Instruments {
		tok := asset.NewToken(in.ChainID, config.HexAddress(in.Address), in.Symbol, in.Decimals)
		if err := r.Register(tok); err != nil {
			return nil, fmt.Errorf("instrument %s: %w", in.Symbol, err)
		}
	}
	return r, nil
}

func (a *app) Config() *config.Config {
	return a.config
}

func (a *app) Logger() logger.LoggerInterface {
	return a.logger
}

func (a *app) Networks() *Networks {
	return a.networks
}

func (a *app) AssetRegistry() *asset.Registry {
	return a.assetRegistry
}

func (a *app) Redis() *redis.Client {
	return a.redis
}

func (a *app) Services() di.ServiceRegistry {
	return a.container
}

// Container returns the DI container for module registration.
func (a *app) Container() di.Container {
	return a.container
}

// RegisterModules registers all provided modules.
func (a *app) RegisterModules(modules ...Module) error {
	for _, m := range modules {
		if err := m.RegisterServices(a.container); err != nil {
			return err
		}
	}
	return nil
}

// StartModules starts all provided modules.
func (a *app) StartModules(ctx context.Context, modules ...Module) error {
	for _, m := range modules {
		if err := m.Startup(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all resources.
func (a *app) Close() error {
	a.networks.close()
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
