package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/esports-arb/internal/bus"
	"github.com/mselser95/esports-arb/internal/catalog"
	"github.com/mselser95/esports-arb/internal/execution"
	"github.com/mselser95/esports-arb/internal/feeds"
	"github.com/mselser95/esports-arb/internal/risk"
	"github.com/mselser95/esports-arb/internal/router"
	"github.com/mselser95/esports-arb/internal/storage"
	"github.com/mselser95/esports-arb/internal/trading"
	"github.com/mselser95/esports-arb/internal/truth"
	"github.com/mselser95/esports-arb/pkg/cache"
	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/mselser95/esports-arb/pkg/healthprobe"
	"github.com/mselser95/esports-arb/pkg/httpserver"
	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap"
)

// New creates a new application instance. Every log line of the run carries a
// short run_id so overlapping deploys stay distinguishable.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	logger = logger.With(zap.String("run_id", uuid.NewString()[:8]))

	ctx, cancel := context.WithCancel(context.Background())

	healthChecker := setupHealthChecker()
	clk := clock.NewSystemClock()

	eventBus, err := setupBus(cfg, logger, clk)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup bus: %w", err)
	}

	registry, err := setupCatalog(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup catalog: %w", err)
	}

	store, err := setupStorage(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	riskMonitor, err := setupRiskMonitor(cfg, logger, clk, eventBus)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup risk monitor: %w", err)
	}

	eventRouter, err := setupRouter(cfg, logger, clk, eventBus, registry, riskMonitor, store)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	executor, err := setupExecutor(cfg, logger, clk, eventBus, eventRouter)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup executor: %w", err)
	}

	// The router hands intents to the executor and the executor reports
	// outcomes back through the router; attaching closes the cycle.
	eventRouter.AttachExecutor(executor)

	adapters, err := setupFeeds(cfg, logger, clk, eventBus, registry)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup feeds: %w", err)
	}

	httpServer, err := setupHTTPServer(cfg, logger, healthChecker, eventBus, eventRouter)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup http server: %w", err)
	}

	return &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: healthChecker,
		clk:           clk,
		bus:           eventBus,
		catalog:       registry,
		riskMonitor:   riskMonitor,
		router:        eventRouter,
		executor:      executor,
		storage:       store,
		feeds:         adapters,
		httpServer:    httpServer,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

func setupHealthChecker() *healthprobe.HealthChecker {
	return healthprobe.New()
}

func setupBus(cfg *config.Config, logger *zap.Logger, clk clock.Clock) (*bus.Bus, error) {
	busCfg := &bus.Config{
		Logger:           logger,
		Clock:            clk,
		MaxQueueSize:     cfg.EventBus.MaxQueueSize,
		OverflowPolicy:   bus.OverflowPolicy(cfg.EventBus.OverflowPolicy),
		HandlerTimeout:   time.Duration(cfg.EventBus.HandlerTimeoutMs) * time.Millisecond,
		MaxRetryAttempts: cfg.EventBus.MaxRetryAttempts,
		RetryBaseDelay:   time.Duration(cfg.EventBus.RetryBaseDelayMs) * time.Millisecond,
	}

	if busCfg.OverflowPolicy == bus.PolicyCoalesce {
		busCfg.Coalescer = coalesceBooks
	}

	return bus.New(busCfg)
}

// coalesceBooks keeps the newest book snapshot when a partition overflows.
// Any other kind keeps the pending event, which amounts to dropping the
// incoming one; lifecycle events must not overwrite each other.
func coalesceBooks(pending, incoming types.Event) types.Event {
	if _, ok := incoming.(*types.BookUpdate); ok {
		return incoming
	}

	return pending
}

func setupCatalog(cfg *config.Config, logger *zap.Logger) (*catalog.Registry, error) {
	lookupCache, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000, // 10x expected max items (1000 markets)
		MaxCost:     1000,  // Maximum 1000 items in cache
		BufferItems: 64,    // Buffer size for Get operations
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create lookup cache: %w", err)
	}

	return catalog.New(&catalog.Config{
		Logger:       logger,
		MappingsFile: cfg.Catalog.MappingsFile,
		Cache:        lookupCache,
		CacheTTL:     time.Duration(cfg.Catalog.CacheTTLMs) * time.Millisecond,
	})
}

func setupStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.Storage.Backend == "postgres" {
		pgStorage, err := storage.NewPostgresStorage(&storage.PostgresConfig{
			Host:     cfg.Storage.Postgres.Host,
			Port:     cfg.Storage.Postgres.Port,
			User:     cfg.Storage.Postgres.User,
			Password: cfg.Storage.Postgres.Password,
			Database: cfg.Storage.Postgres.Database,
			SSLMode:  cfg.Storage.Postgres.SSLMode,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres storage: %w", err)
		}

		return pgStorage, nil
	}

	return storage.NewConsoleStorage(logger), nil
}

func setupRiskMonitor(cfg *config.Config, logger *zap.Logger, clk clock.Clock, eventBus *bus.Bus) (*risk.Monitor, error) {
	return risk.New(&risk.Config{
		Logger:               logger,
		Clock:                clk,
		Publisher:            eventBus,
		MaxDailyLoss:         cfg.Risk.MaxDailyLoss,
		MaxPositionPerMarket: cfg.Risk.MaxPositionPerMarket,
		MaxTotalExposure:     cfg.Risk.MaxTotalExposure,
		FeeRate:              cfg.Trading.FeeRate,
	})
}

func setupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	clk clock.Clock,
	eventBus *bus.Bus,
	registry *catalog.Registry,
	riskMonitor *risk.Monitor,
	store storage.Storage,
) (*router.Router, error) {
	truthFactory := func(matchID, teamAID, teamBID string) (*truth.Engine, error) {
		return truth.New(&truth.Config{
			Logger:                  logger,
			Clock:                   clk,
			MatchID:                 matchID,
			TeamAID:                 teamAID,
			TeamBID:                 teamBID,
			ConfirmThreshold:        cfg.Truth.ConfirmThreshold,
			MaxWaitMs:               cfg.Truth.MaxWaitMs,
			RequiredSourcesForFinal: cfg.Truth.RequiredSourcesForFinal,
			AllowedSkewMs:           cfg.Truth.AllowedSkewMs,
			TierASources:            cfg.Truth.TierASources,
		})
	}

	tradingFactory := func(marketID string) (*trading.Engine, error) {
		return trading.New(&trading.Config{
			Logger:                      logger,
			Clock:                       clk,
			MarketID:                    marketID,
			IdleAfterNoOpportunityTicks: cfg.Trading.IdleAfterNoOpportunityTicks,
			TemporalSignalTTLMs:         cfg.Trading.TemporalSignalTTLMs,
			PairCostCap:                 cfg.Trading.PairCostCap,
			FeeRate:                     cfg.Trading.FeeRate,
			StepUSDC:                    cfg.Trading.StepUSDC,
			MaxTotalCost:                cfg.Trading.MaxTotalCost,
			MaxLegImbalanceUSDC:         cfg.Trading.MaxLegImbalanceUSDC,
			MaxConsecutiveRejects:       cfg.Trading.MaxConsecutiveRejects,
			MaxCancelFailures:           cfg.Trading.MaxCancelFailures,
			LegSelectThresholdShares:    cfg.Trading.LegSelectThresholdShares,
		})
	}

	return router.New(&router.Config{
		Logger:         logger,
		Bus:            eventBus,
		Catalog:        registry,
		Risk:           riskMonitor,
		Storage:        store,
		TruthFactory:   truthFactory,
		TradingFactory: tradingFactory,
	})
}

func setupExecutor(
	cfg *config.Config,
	logger *zap.Logger,
	clk clock.Clock,
	eventBus *bus.Bus,
	eventRouter *router.Router,
) (*execution.Executor, error) {
	return execution.New(&execution.Config{
		Logger:            logger,
		Clock:             clk,
		Publisher:         eventBus,
		Callbacks:         eventRouter,
		Mode:              cfg.Execution.Mode,
		SettlementTimeout: time.Duration(cfg.Execution.SettlementTimeoutMs) * time.Millisecond,
	})
}

// setupFeeds picks the market-data source. Without a websocket URL the
// deterministic sim feed drives paper trading; with one, a WSFeed connects to
// the provider named by the first tier-A source.
func setupFeeds(
	cfg *config.Config,
	logger *zap.Logger,
	clk clock.Clock,
	eventBus *bus.Bus,
	registry *catalog.Registry,
) ([]feeds.Adapter, error) {
	if cfg.Feeds.WSURL == "" {
		sim, err := feeds.NewSimFeed(&feeds.SimConfig{
			Logger:            logger,
			Clock:             clk,
			Bus:               eventBus,
			Catalog:           registry,
			BookUpdatesPerSec: cfg.Feeds.BookUpdatesPerSec,
		})
		if err != nil {
			return nil, fmt.Errorf("create sim feed: %w", err)
		}

		return []feeds.Adapter{sim}, nil
	}

	provider := "ws"
	if len(cfg.Truth.TierASources) > 0 {
		provider = cfg.Truth.TierASources[0]
	}

	ws, err := feeds.NewWSFeed(&feeds.WSConfig{
		Logger:  logger,
		Clock:   clk,
		Bus:     eventBus,
		Catalog: registry,
		Name:    provider,
		URL:     cfg.Feeds.WSURL,
		Tier: feeds.TierForSource(provider,
			cfg.Truth.TierASources, cfg.Truth.TierBSources, cfg.Truth.TierCSources),
	})
	if err != nil {
		return nil, fmt.Errorf("create ws feed: %w", err)
	}

	return []feeds.Adapter{ws}, nil
}

func setupHTTPServer(
	cfg *config.Config,
	logger *zap.Logger,
	healthChecker *healthprobe.HealthChecker,
	eventBus *bus.Bus,
	eventRouter *router.Router,
) (*httpserver.Server, error) {
	return httpserver.New(&httpserver.Config{
		Port:    cfg.Server.Port,
		Logger:  logger,
		Health:  healthChecker,
		Bus:     eventBus,
		Engines: eventRouter,
	})
}
