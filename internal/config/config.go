// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Networks   []NetworkConfig  `mapstructure:"networks"`
	Liquidity  LiquidityConfig  `mapstructure:"liquidity"`
	OrderBook  OrderBookConfig  `mapstructure:"orderbook"`
	PathFinder PathFinderConfig `mapstructure:"pathfinder"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Profit     ProfitConfig     `mapstructure:"profit"`
	FlashLoan  FlashLoanConfig  `mapstructure:"flashloan"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Sensors    SensorsConfig    `mapstructure:"sensors"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// NetworkConfig describes one chain the pipeline scans.
type NetworkConfig struct {
	Name             string        `mapstructure:"name"`
	ChainID          uint64        `mapstructure:"chain_id"`
	HTTPURL          string        `mapstructure:"http_url"`
	WebSocketURL     string        `mapstructure:"websocket_url"`
	MulticallAddress string        `mapstructure:"multicall_address"`
	ExecutorAddress  string        `mapstructure:"executor_address"`
	WrappedNative    string        `mapstructure:"wrapped_native"`
	NativeSymbol     string        `mapstructure:"native_symbol"`
	MaxRPM           int           `mapstructure:"max_rpm"`
	BlockTime        time.Duration `mapstructure:"block_time"`
	MaxReconnects    int           `mapstructure:"max_reconnects"`
}

// InstrumentConfig registers a tradable token.
type InstrumentConfig struct {
	ChainID  uint64 `mapstructure:"chain_id"`
	Address  string `mapstructure:"address"`
	Symbol   string `mapstructure:"symbol"`
	Decimals uint8  `mapstructure:"decimals"`
}

// VenueConfig registers a pool. Protocol is one of constant_product,
// concentrated_liquidity or stable_swap.
type VenueConfig struct {
	ChainID     uint64 `mapstructure:"chain_id"`
	Protocol    string `mapstructure:"protocol"`
	Address     string `mapstructure:"address"`
	Token0      string `mapstructure:"token0"`
	Token1      string `mapstructure:"token1"`
	FeeBps      uint32 `mapstructure:"fee_bps"`
	TickSpacing int32  `mapstructure:"tick_spacing"`
}

// LiquidityConfig configures snapshot refresh and the venue universe.
type LiquidityConfig struct {
	MaxAge          time.Duration      `mapstructure:"max_age"`
	RefreshInterval time.Duration      `mapstructure:"refresh_interval"`
	BatchSize       int                `mapstructure:"batch_size"`
	Instruments     []InstrumentConfig `mapstructure:"instruments"`
	Venues          []VenueConfig      `mapstructure:"venues"`
}

// OrderBookMarket maps an exchange symbol onto two on-chain instruments.
type OrderBookMarket struct {
	Symbol  string `mapstructure:"symbol"`
	ChainID uint64 `mapstructure:"chain_id"`
	Base    string `mapstructure:"base"`
	Quote   string `mapstructure:"quote"`
	FeeBps  uint32 `mapstructure:"fee_bps"` // taker fee
}

// OrderBookConfig holds the centralized order-book feed settings.
type OrderBookConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	WebSocketURL string            `mapstructure:"websocket_url"` // wss://stream.binance.com:9443 or wss://stream.binance.us:9443 for US
	RESTURL      string            `mapstructure:"rest_url"`
	DepthSpeedMs int               `mapstructure:"depth_speed_ms"`
	StaleTimeout time.Duration     `mapstructure:"stale_timeout"`
	Markets      []OrderBookMarket `mapstructure:"markets"`
}

// PathFinderConfig bounds the cycle search.
type PathFinderConfig struct {
	MaxHops       int      `mapstructure:"max_hops"`
	Anchors       []string `mapstructure:"anchors"`
	MaxCandidates int      `mapstructure:"max_candidates"`
	CrossNetwork  bool     `mapstructure:"cross_network"`
	BridgeCostBps uint32   `mapstructure:"bridge_cost_bps"`
}

// RiskConfig holds MEV risk calibration. Fractions are decimal strings in [0,1].
// Map keys are lower-cased by viper; look them up with Lookup.
type RiskConfig struct {
	BaseRisk              string            `mapstructure:"base_risk"`
	ValueSensitivity      string            `mapstructure:"value_sensitivity"`
	CongestionFactor      string            `mapstructure:"congestion_factor"`
	SearcherDensityFactor string            `mapstructure:"searcher_density_factor"`
	SaturationScale       map[string]string `mapstructure:"saturation_scale"`
	ClassMultipliers      map[string]int64  `mapstructure:"class_multipliers"`
}

// ProfitConfig holds the gates and cost buffers of the profitability engine.
type ProfitConfig struct {
	MinProfit               map[string]string `mapstructure:"min_profit"` // anchor symbol -> decimal units
	MinProfitBps            uint32            `mapstructure:"min_profit_bps"`
	MinConfidence           string            `mapstructure:"min_confidence"`
	SlippageBps             uint32            `mapstructure:"slippage_bps"`
	LowLiquiditySlippageBps uint32            `mapstructure:"low_liquidity_slippage_bps"`
	LowLiquidityImpactBps   uint32            `mapstructure:"low_liquidity_impact_bps"`
	GasBufferBps            uint32            `mapstructure:"gas_buffer_bps"`
	MaxBorrowReserveBps     uint32            `mapstructure:"max_borrow_reserve_bps"`
	Workers                 int               `mapstructure:"workers"`
}

// FlashLoanProvider describes one capital source.
type FlashLoanProvider struct {
	Name     string   `mapstructure:"name"`
	Kind     string   `mapstructure:"kind"` // zero_fee | fee_based
	FeeBps   uint32   `mapstructure:"fee_bps"`
	ChainIDs []uint64 `mapstructure:"chain_ids"`
	Vault    string   `mapstructure:"vault"`
}

// FlashLoanConfig lists capital sources.
type FlashLoanConfig struct {
	Providers     []FlashLoanProvider `mapstructure:"providers"`
	DepthCacheTTL time.Duration       `mapstructure:"depth_cache_ttl"`
}

// ExecutionConfig holds the profit split and plan deadline.
type ExecutionConfig struct {
	Treasury         string `mapstructure:"treasury"`
	Operator         string `mapstructure:"operator"`
	TreasuryShareBps uint32 `mapstructure:"treasury_share_bps"`
	DeadlineBlocks   uint64 `mapstructure:"deadline_blocks"`
}

// RelayConfig is one protected submission channel.
type RelayConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Priority int    `mapstructure:"priority"`
	Mode     string `mapstructure:"mode"` // bundle | share
	ChainID  uint64 `mapstructure:"chain_id"`
}

// SubmissionConfig configures the protected submitter.
type SubmissionConfig struct {
	Relays              []RelayConfig     `mapstructure:"relays"`
	SignerKeyEnv        string            `mapstructure:"signer_key_env"`
	InclusionBlocks     uint64            `mapstructure:"inclusion_blocks"`
	MaxRetries          int               `mapstructure:"max_retries"`
	PriorityFeeBumpBps  uint32            `mapstructure:"priority_fee_bump_bps"`
	ProtectionThreshold map[string]string `mapstructure:"protection_threshold"` // anchor symbol -> decimal units
	PublicFallback      bool              `mapstructure:"public_fallback"`
	PrivacyLevel        string            `mapstructure:"privacy_level"`
	RaceMode            bool              `mapstructure:"race_mode"`
	RelayTimeout        time.Duration     `mapstructure:"relay_timeout"`
}

// SensorsConfig configures MEV signal publication.
type SensorsConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	BlockWindow      int           `mapstructure:"block_window"`
	MempoolEnabled   bool          `mapstructure:"mempool_enabled"`
	MempoolTargets   []string      `mapstructure:"mempool_targets"`
	MempoolSelectors []string      `mapstructure:"mempool_selectors"`
	MempoolMinValue  string        `mapstructure:"mempool_min_value"` // wei
	MempoolMaxValue  string        `mapstructure:"mempool_max_value"` // wei, empty = unbounded
	KnownRouters     []string      `mapstructure:"known_routers"`
}

// RedisConfig configures the optional signal bus and lock backend.
type RedisConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	PoolSize   int    `mapstructure:"pool_size"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	Exporter       string  `mapstructure:"exporter"` // zipkin | otlp | console
	ZipkinURL      string  `mapstructure:"zipkin_url"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate"`
	PrometheusPort int     `mapstructure:"prometheus_port"`
	HealthPort     int     `mapstructure:"health_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "ARB_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "ARB_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "ARB_LOG_LEVEL", "LOG_LEVEL")

	// Execution
	v.BindEnv("execution.treasury", "ARB_TREASURY", "TREASURY_ADDRESS")
	v.BindEnv("execution.operator", "ARB_OPERATOR", "OPERATOR_ADDRESS")

	// Submission
	v.BindEnv("submission.signer_key_env", "ARB_SIGNER_KEY_ENV")
	v.BindEnv("submission.public_fallback", "ARB_PUBLIC_FALLBACK")

	// Redis
	v.BindEnv("redis.enabled", "ARB_REDIS_ENABLED", "REDIS_ENABLED")
	v.BindEnv("redis.addr", "ARB_REDIS_ADDR", "REDIS_ADDR")
	v.BindEnv("redis.password", "ARB_REDIS_PASSWORD", "REDIS_PASSWORD")

	// Telemetry
	v.BindEnv("telemetry.enabled", "ARB_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "ARB_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.zipkin_url", "ARB_ZIPKIN_URL", "ZIPKIN_URL")
	v.BindEnv("telemetry.otlp_endpoint", "ARB_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "mev-arbitrage")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Liquidity defaults
	v.SetDefault("liquidity.max_age", "2s")
	v.SetDefault("liquidity.refresh_interval", "1s")
	v.SetDefault("liquidity.batch_size", 100)

	// Order book defaults
	v.SetDefault("orderbook.enabled", false)
	v.SetDefault("orderbook.websocket_url", "wss://stream.binance.com:9443")
	v.SetDefault("orderbook.rest_url", "https://api.binance.com")
	v.SetDefault("orderbook.depth_speed_ms", 100)
	v.SetDefault("orderbook.stale_timeout", "5s")

	// Path finder defaults
	v.SetDefault("pathfinder.max_hops", 3)
	v.SetDefault("pathfinder.anchors", []string{"WETH"})
	v.SetDefault("pathfinder.max_candidates", 256)
	v.SetDefault("pathfinder.bridge_cost_bps", 15)

	// Risk defaults
	v.SetDefault("risk.base_risk", "0.001")
	v.SetDefault("risk.value_sensitivity", "0.15")
	v.SetDefault("risk.congestion_factor", "0.3")
	v.SetDefault("risk.searcher_density_factor", "0.25")

	// Profit defaults
	v.SetDefault("profit.min_profit_bps", 5)
	v.SetDefault("profit.min_confidence", "0.5")
	v.SetDefault("profit.slippage_bps", 50)
	v.SetDefault("profit.low_liquidity_slippage_bps", 150)
	v.SetDefault("profit.low_liquidity_impact_bps", 100)
	v.SetDefault("profit.gas_buffer_bps", 2000)
	v.SetDefault("profit.max_borrow_reserve_bps", 3000)
	v.SetDefault("profit.workers", 8)

	// Flash loan defaults
	v.SetDefault("flashloan.depth_cache_ttl", "12s")

	// Execution defaults
	v.SetDefault("execution.treasury_share_bps", 8000)
	v.SetDefault("execution.deadline_blocks", 3)

	// Submission defaults
	v.SetDefault("submission.signer_key_env", "ARB_SIGNER_KEY")
	v.SetDefault("submission.inclusion_blocks", 3)
	v.SetDefault("submission.max_retries", 2)
	v.SetDefault("submission.priority_fee_bump_bps", 1250)
	v.SetDefault("submission.public_fallback", false)
	v.SetDefault("submission.privacy_level", "high")
	v.SetDefault("submission.relay_timeout", "5s")

	// Sensor defaults
	v.SetDefault("sensors.interval", "5s")
	v.SetDefault("sensors.block_window", 20)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "mev-arbitrage")
	v.SetDefault("telemetry.exporter", "zipkin")
	v.SetDefault("telemetry.zipkin_url", "http://localhost:9411/api/v2/spans")
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("telemetry.prometheus_port", 9090)
	v.SetDefault("telemetry.health_port", 8081)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network is required")
	}
	chains := make(map[uint64]bool, len(c.Networks))
	for i, n := range c.Networks {
		if n.ChainID == 0 {
			return fmt.Errorf("networks[%d].chain_id is required", i)
		}
		if n.HTTPURL == "" {
			return fmt.Errorf("networks[%d].http_url is required", i)
		}
		if err := checkAddress(fmt.Sprintf("networks[%d].executor_address", i), n.ExecutorAddress); err != nil {
			return err
		}
		if n.MulticallAddress != "" && !common.IsHexAddress(n.MulticallAddress) {
			return fmt.Errorf("invalid networks[%d].multicall_address: %s", i, n.MulticallAddress)
		}
		if err := checkAddress(fmt.Sprintf("networks[%d].wrapped_native", i), n.WrappedNative); err != nil {
			return err
		}
		chains[n.ChainID] = true
	}

	for i, in := range c.Liquidity.Instruments {
		if err := checkAddress(fmt.Sprintf("liquidity.instruments[%d].address", i), in.Address); err != nil {
			return err
		}
		if in.Symbol == "" {
			return fmt.Errorf("liquidity.instruments[%d].symbol is required", i)
		}
	}
	for i, v := range c.Liquidity.Venues {
		if !chains[v.ChainID] {
			return fmt.Errorf("liquidity.venues[%d] references unknown chain %d", i, v.ChainID)
		}
		switch v.Protocol {
		case "constant_product", "concentrated_liquidity", "stable_swap":
		default:
			return fmt.Errorf("liquidity.venues[%d].protocol %q not supported", i, v.Protocol)
		}
		for _, a := range []string{v.Address, v.Token0, v.Token1} {
			if err := checkAddress(fmt.Sprintf("liquidity.venues[%d]", i), a); err != nil {
				return err
			}
		}
		if v.FeeBps >= 10_000 {
			return fmt.Errorf("liquidity.venues[%d].fee_bps must be < 10000", i)
		}
	}
	if c.Liquidity.MaxAge <= 0 {
		return fmt.Errorf("liquidity.max_age must be positive")
	}

	if c.PathFinder.MaxHops < 2 || c.PathFinder.MaxHops > 5 {
		return fmt.Errorf("pathfinder.max_hops must be between 2 and 5, got %d", c.PathFinder.MaxHops)
	}
	if len(c.PathFinder.Anchors) == 0 {
		return fmt.Errorf("pathfinder.anchors cannot be empty")
	}

	for name, s := range map[string]string{
		"risk.base_risk":               c.Risk.BaseRisk,
		"risk.value_sensitivity":       c.Risk.ValueSensitivity,
		"risk.congestion_factor":       c.Risk.CongestionFactor,
		"risk.searcher_density_factor": c.Risk.SearcherDensityFactor,
		"profit.min_confidence":        c.Profit.MinConfidence,
	} {
		if _, err := Fraction(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	for i, p := range c.FlashLoan.Providers {
		switch p.Kind {
		case "zero_fee", "fee_based":
		default:
			return fmt.Errorf("flashloan.providers[%d].kind %q not supported", i, p.Kind)
		}
		if err := checkAddress(fmt.Sprintf("flashloan.providers[%d].vault", i), p.Vault); err != nil {
			return err
		}
	}

	if c.Execution.TreasuryShareBps > 10_000 {
		return fmt.Errorf("execution.treasury_share_bps must be <= 10000")
	}
	for _, a := range []string{c.Execution.Treasury, c.Execution.Operator} {
		if a != "" && !common.IsHexAddress(a) {
			return fmt.Errorf("invalid execution address: %s", a)
		}
	}

	for i, r := range c.Submission.Relays {
		if r.URL == "" {
			return fmt.Errorf("submission.relays[%d].url is required", i)
		}
		switch r.Mode {
		case "", "bundle", "share":
		default:
			return fmt.Errorf("submission.relays[%d].mode %q not supported", i, r.Mode)
		}
	}
	switch c.Submission.PrivacyLevel {
	case "max", "high", "medium", "low":
	default:
		return fmt.Errorf("submission.privacy_level %q not supported", c.Submission.PrivacyLevel)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	return nil
}

// Network returns the network config for chainID.
func (c *Config) Network(chainID uint64) (NetworkConfig, bool) {
	for _, n := range c.Networks {
		if n.ChainID == chainID {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

// Lookup reads a symbol-keyed map regardless of the key casing viper applied.
func Lookup(m map[string]string, symbol string) (string, bool) {
	if v, ok := m[symbol]; ok {
		return v, true
	}
	v, ok := m[strings.ToLower(symbol)]
	return v, ok
}

// Fraction parses a decimal string that must lie in [0,1].
func Fraction(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%s is outside [0,1]", s)
	}
	return d, nil
}

func checkAddress(field, addr string) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid %s: %q", field, addr)
	}
	if common.HexToAddress(addr) == (common.Address{}) {
		return fmt.Errorf("invalid %s: zero address", field)
	}
	return nil
}

// HexAddress converts a validated address string.
func HexAddress(s string) common.Address {
	return common.HexToAddress(s)
}
