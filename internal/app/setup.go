package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mselser95/updown-pairs/internal/assets"
	"github.com/mselser95/updown-pairs/internal/circuitbreaker"
	"github.com/mselser95/updown-pairs/internal/discovery"
	"github.com/mselser95/updown-pairs/internal/storage"
	"github.com/mselser95/updown-pairs/pkg/cache"
	"github.com/mselser95/updown-pairs/pkg/config"
	"github.com/mselser95/updown-pairs/pkg/healthprobe"
	"github.com/mselser95/updown-pairs/pkg/httpserver"
)

// New creates a new application instance.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	runID := uuid.NewString()
	healthChecker := setupHealthChecker()

	marketCache, err := setupCache(logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	discoveryService := setupDiscovery(cfg, logger, marketCache)

	store, breaker, err := setupStorage(cfg, logger, runID, opts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	managers, err := setupAssetManagers(cfg, logger, discoveryService, store, opts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup asset managers: %w", err)
	}

	startedAt := time.Now()
	httpServer := setupHTTPServer(cfg, logger, healthChecker, runID, startedAt, managers, breaker)

	return &App{
		cfg:           cfg,
		logger:        logger,
		opts:          opts,
		runID:         runID,
		startedAt:     startedAt,
		healthChecker: healthChecker,
		httpServer:    httpServer,
		marketCache:   marketCache,
		store:         store,
		breaker:       breaker,
		managers:      managers,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

func setupHealthChecker() *healthprobe.HealthChecker {
	return healthprobe.New()
}

func setupCache(logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000, // 10x expected max items (1000 windows)
		MaxCost:     1000,  // Maximum 1000 items in cache
		BufferItems: 64,    // Buffer size for Get operations
		Logger:      logger,
	})
}

func setupDiscovery(cfg *config.Config, logger *zap.Logger, marketCache cache.Cache) *discovery.Service {
	client := discovery.NewClient(cfg.PolymarketGammaURL, logger)
	return discovery.New(&discovery.Config{
		Client:           client,
		Cache:            marketCache,
		MarketType:       cfg.MarketType,
		PreDiscoveryLead: cfg.PreDiscoveryLead,
		Logger:           logger,
	})
}

// setupStorage builds the journaling backend and wraps it with the write
// breaker so a dead database degrades the run instead of stalling it.
func setupStorage(cfg *config.Config, logger *zap.Logger, runID string, opts *Options) (storage.Storage, *circuitbreaker.WriteBreaker, error) {
	var inner storage.Storage
	switch {
	case cfg.StorageMode == "postgres" && !opts.DryRun:
		pgStorage, err := storage.NewPostgresStorage(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			RunID:    runID,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create postgres storage: %w", err)
		}
		inner = pgStorage
	default:
		if opts.DryRun && cfg.StorageMode == "postgres" {
			logger.Info("storage-dry-run",
				zap.String("note", "postgres disabled, rows logged to console"))
		}
		inner = storage.NewConsoleStorage(logger)
	}

	breaker, err := circuitbreaker.New(&circuitbreaker.Config{
		Threshold: cfg.StorageBreakerThreshold,
		Cooldown:  cfg.StorageBreakerCooldown,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create write breaker: %w", err)
	}

	return storage.NewGuard(inner, breaker), breaker, nil
}

func setupAssetManagers(
	cfg *config.Config,
	logger *zap.Logger,
	discoveryService *discovery.Service,
	store storage.Storage,
	opts *Options,
) ([]*assets.Manager, error) {
	assetNames := cfg.CryptoAssets
	if opts.SingleMarket != "" {
		asset, err := discovery.AssetFromSlug(opts.SingleMarket)
		if err != nil {
			return nil, err
		}
		assetNames = []string{asset}
	}
	if len(assetNames) == 0 {
		return nil, fmt.Errorf("no assets configured")
	}

	managers := make([]*assets.Manager, 0, len(assetNames))
	for _, asset := range assetNames {
		managers = append(managers, assets.New(&assets.Config{
			Asset:         asset,
			ParameterSets: cfg.ParameterSets,
			Discovery:     discoveryService,
			Store:         store,
			AppConfig:     cfg,
			Logger:        logger,
		}))
	}
	return managers, nil
}

func setupHTTPServer(
	cfg *config.Config,
	logger *zap.Logger,
	healthChecker *healthprobe.HealthChecker,
	runID string,
	startedAt time.Time,
	managers []*assets.Manager,
	breaker *circuitbreaker.WriteBreaker,
) *httpserver.Server {
	return httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		RunID:         runID,
		StartedAt:     startedAt,
		Managers:      managers,
		Breaker:       breaker,
	})
}
