// Package main is the entry point for the MEV-aware arbitrage daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/mev-arbitrage/business/arbitrage"
	"github.com/fd1az/mev-arbitrage/business/blockchain"
	blockchainDI "github.com/fd1az/mev-arbitrage/business/blockchain/di"
	"github.com/fd1az/mev-arbitrage/business/execution"
	"github.com/fd1az/mev-arbitrage/business/flashloan"
	"github.com/fd1az/mev-arbitrage/business/liquidity"
	liquidityDI "github.com/fd1az/mev-arbitrage/business/liquidity/di"
	"github.com/fd1az/mev-arbitrage/business/mev"
	mevDI "github.com/fd1az/mev-arbitrage/business/mev/di"
	"github.com/fd1az/mev-arbitrage/business/submission"
	submissionDI "github.com/fd1az/mev-arbitrage/business/submission/di"
	"github.com/fd1az/mev-arbitrage/internal/apm"
	"github.com/fd1az/mev-arbitrage/internal/config"
	"github.com/fd1az/mev-arbitrage/internal/health"
	"github.com/fd1az/mev-arbitrage/internal/logger"
	"github.com/fd1az/mev-arbitrage/internal/metrics"
	"github.com/fd1az/mev-arbitrage/internal/monolith"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mev-arbitrage %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(os.Stderr, logger.ParseLevel(cfg.App.LogLevel), cfg.App.Name, traceID)
	log.Info(ctx, "starting mev-arbitrage",
		"version", version,
		"environment", cfg.App.Environment,
		"networks", len(cfg.Networks))

	if cfg.Telemetry.Enabled {
		tp, err := startTracing(cfg.Telemetry, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := tp.Stop(); err != nil {
				log.Warn(ctx, "trace provider shutdown failed", "error", err)
			}
		}()

		provider, err := metrics.NewMetricProvider(metrics.WithServiceName(cfg.Telemetry.ServiceName))
		if err != nil {
			return err
		}
		defer provider.Shutdown(context.Background())

		metricsServer := metrics.NewServer(cfg.Telemetry.PrometheusPort, nil, log)
		metricsServer.Start(ctx)
		defer metricsServer.Stop(context.Background())
	}

	mono, err := monolith.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create monolith: %w", err)
	}
	defer mono.Close()

	// Dependency order: each module only reads services registered before it.
	modules := []monolith.Module{
		&blockchain.Module{},
		&liquidity.Module{},
		&mev.Module{},
		&flashloan.Module{},
		&execution.Module{},
		&submission.Module{},
		&arbitrage.Module{},
	}

	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}
	if err := mono.StartModules(ctx, modules...); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}

	healthServer := health.NewServer(cfg.Telemetry.HealthPort, version, log)
	registerChecks(healthServer, mono, cfg)
	healthServer.Start(ctx)

	log.Info(ctx, "all modules started")
	<-ctx.Done()
	log.Info(ctx, "shutting down", "reason", context.Cause(ctx))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthServer.Stop(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "health server shutdown failed", "error", err)
	}
	return nil
}

func startTracing(tc config.TelemetryConfig, log logger.LoggerInterface) (apm.TraceProvider, error) {
	provider, err := apm.ParseProvider(tc.Exporter)
	if err != nil {
		return nil, err
	}
	endpoint := tc.ZipkinURL
	if provider == apm.OTLPProvider {
		endpoint = tc.OTLPEndpoint
	}
	return apm.NewTraceProvider(apm.Config{
		ServiceName: tc.ServiceName,
		Provider:    provider,
		Endpoint:    endpoint,
		SampleRate:  tc.SampleRate,
	}, log)
}

// registerChecks adds, per network, the RPC connection, snapshot freshness
// and the sequencer halt flag. Stale sensors only lower confidence, so their
// check is advisory.
func registerChecks(s *health.Server, mono monolith.Monolith, cfg *config.Config) {
	sr := mono.Services()
	registry := blockchainDI.GetRegistry(sr)
	store := liquidityDI.GetStore(sr)
	hub := mevDI.GetSensorHub(sr)
	submitter := submissionDI.GetSubmitter(sr)

	for _, n := range cfg.Networks {
		chainID := n.ChainID
		suffix := ":" + strconv.FormatUint(chainID, 10)

		s.RegisterCheck("rpc"+suffix, func(ctx context.Context) (bool, string) {
			state := registry.State(chainID)
			return state.Healthy(), string(state)
		})
		s.RegisterCheck("snapshots"+suffix, health.Not(func() bool {
			return len(store.Fresh(chainID, time.Now())) == 0
		}, "no snapshot within "+store.MaxAge().String()))
		s.RegisterAdvisory("sensors"+suffix, health.MaxAge(func() (time.Duration, bool) {
			return hub.Age(chainID)
		}, 3*hub.Interval()))
		if seq, ok := submitter.Sequencer(chainID); ok {
			s.RegisterCheck("sequencer"+suffix, health.Not(seq.Halted, "halted on nonce conflict"))
		}
	}
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
