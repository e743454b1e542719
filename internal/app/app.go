package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/updown-pairs/internal/assets"
	"github.com/mselser95/updown-pairs/internal/circuitbreaker"
	"github.com/mselser95/updown-pairs/internal/storage"
	"github.com/mselser95/updown-pairs/pkg/cache"
	"github.com/mselser95/updown-pairs/pkg/config"
	"github.com/mselser95/updown-pairs/pkg/healthprobe"
	"github.com/mselser95/updown-pairs/pkg/httpserver"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	opts          *Options
	runID         string
	startedAt     time.Time
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	marketCache   cache.Cache
	store         storage.Storage
	breaker       *circuitbreaker.WriteBreaker
	managers      []*assets.Manager
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// Options holds application options.
type Options struct {
	DryRun       bool   // Force console storage regardless of STORAGE_MODE
	SingleMarket string // For debugging: slug of one window to measure, then exit
}
