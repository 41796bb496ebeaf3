package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/perpmind/perpmind/internal/config"
	"github.com/perpmind/perpmind/internal/exchange"
	"github.com/perpmind/perpmind/internal/ledger"
	"github.com/perpmind/perpmind/internal/logging"
	"github.com/perpmind/perpmind/internal/market"
	"github.com/perpmind/perpmind/internal/oracle"
	"github.com/perpmind/perpmind/internal/orchestrator"
	"github.com/perpmind/perpmind/internal/risk"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.Environment)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting trader",
		zap.String("trader_id", cfg.TraderID),
		zap.String("environment", cfg.Environment),
		zap.Strings("symbols", cfg.Trading.Symbols))

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	tradeLedger := ledger.New(store, cfg.TraderID)
	tradeLedger.SetLogger(logger)
	defer func() { _ = tradeLedger.Close() }()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := tradeLedger.Migrate(migrateCtx); err != nil {
		return fmt.Errorf("failed to migrate ledger: %w", err)
	}

	provider := exchange.NewBinanceProvider(cfg.Exchange)
	provider.SetLogger(logger)

	var cache *market.Cache
	if cfg.Redis.Addr != "" {
		cache, err = market.NewCache(cfg.Redis, 30*time.Second)
		if err != nil {
			logger.Warn("market cache unavailable, continuing without", zap.Error(err))
		} else {
			cache.SetLogger(logger)
			defer func() { _ = cache.Close() }()
		}
	}

	fetcher := market.NewFetcher(provider, cache, cfg.Market)
	fetcher.SetLogger(logger)

	decisionOracle := oracle.NewOpenAIOracle(cfg.Oracle)
	decisionOracle.SetLogger(logger)
	defer func() { _ = decisionOracle.Close() }()

	gate := risk.NewGate(cfg.Risk)

	orch := orchestrator.New(provider, decisionOracle, tradeLedger, gate, fetcher, cfg.Trading)
	orch.SetLogger(logger)

	if err := orch.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutdown signal received, waiting for in-flight cycle")
	orch.Stop()
	logger.Info("trader stopped")
	return nil
}

func openStore(cfg *config.Config) (ledger.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return ledger.NewPostgresStore(ctx, cfg.Database.DatabaseURL)
	default:
		if dir := filepath.Dir(cfg.Database.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return ledger.NewSQLiteStore(cfg.Database.SQLitePath)
	}
}
