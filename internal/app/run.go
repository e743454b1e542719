package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/updown-pairs/internal/assets"
	"github.com/mselser95/updown-pairs/internal/circuitbreaker"
	"github.com/mselser95/updown-pairs/internal/storage"
)

// statusReportInterval is the cadence of the periodic per-asset heartbeat.
const statusReportInterval = 30 * time.Second

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("run-id", a.runID),
		zap.String("sampling-mode", string(a.cfg.SamplingMode)),
		zap.String("storage-mode", a.storageMode()),
		zap.String("log-level", a.cfg.LogLevel))

	if a.opts.SingleMarket != "" {
		a.logger.Info("single-market-mode", zap.String("slug", a.opts.SingleMarket))
	}

	err := a.registerParameterSets()
	if err != nil {
		return fmt.Errorf("register parameter sets: %w", err)
	}

	a.startComponents()

	// Mark as ready
	a.healthChecker.SetReady(true)

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort),
		zap.String("ws-url", a.cfg.PolymarketWSURL),
		zap.Int("asset-managers", len(a.managers)),
		zap.Int("parameter-sets", len(a.cfg.ParameterSets)))

	// Wait for shutdown signal
	return a.waitForShutdown()
}

// registerParameterSets persists run identity before any monitor starts.
// The database IDs are written back into the shared config slice so every
// manager journals attempts under the right set.
func (a *App) registerParameterSets() error {
	run := storage.RunSettings{
		SamplingMode:            a.cfg.SamplingMode,
		CycleIntervalSeconds:    a.cfg.CycleInterval.Seconds(),
		CyclesPerMarket:         a.cfg.CyclesPerMarket,
		FeedGapThresholdSeconds: a.cfg.FeedGapThreshold.Seconds(),
	}

	for i := range a.cfg.ParameterSets {
		ps := &a.cfg.ParameterSets[i]
		id, err := a.store.InsertParameterSet(a.ctx, ps, run)
		if err != nil {
			return fmt.Errorf("insert parameter set %s: %w", ps.Name, err)
		}
		ps.ID = id

		a.logger.Info("parameter-set-registered",
			zap.Int64("id", id),
			zap.String("name", ps.Name),
			zap.Int("s0-points", ps.S0Points),
			zap.Int("delta-points", ps.DeltaPoints),
			zap.Int("stop-loss-points", ps.StopLossThresholdPoints))
	}

	return nil
}

func (a *App) startComponents() {
	// Start HTTP server
	a.wg.Add(1)
	go a.runHTTPServer()

	// Give HTTP server a moment to start
	time.Sleep(100 * time.Millisecond)

	// Start one rotation loop per asset
	for _, mgr := range a.managers {
		a.wg.Add(1)
		go a.runAssetManager(mgr)
	}

	// Start heartbeat reporter
	a.wg.Add(1)
	go a.runStatusReporter()
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) runAssetManager(mgr *assets.Manager) {
	defer a.wg.Done()

	var err error
	if a.opts.SingleMarket != "" {
		err = mgr.RunSingle(a.ctx, a.opts.SingleMarket)
		// A single-window run ends on its own; stop the rest of the app.
		a.cancel()
	} else {
		err = mgr.Run(a.ctx)
	}

	if err != nil && a.ctx.Err() == nil {
		a.logger.Error("asset-manager-error", zap.Error(err))
	}
}

// runStatusReporter logs a periodic heartbeat per asset and mirrors the
// write-breaker state onto the readiness probe.
func (a *App) runStatusReporter() {
	defer a.wg.Done()

	ticker := time.NewTicker(statusReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.reportStatus()
		}
	}
}

func (a *App) reportStatus() {
	a.healthChecker.SetStorageDegraded(a.breaker.State() != circuitbreaker.StateClosed)

	for _, mgr := range a.managers {
		st := mgr.Status()
		a.logger.Info("asset-status",
			zap.String("asset", st.Asset),
			zap.String("state", st.State),
			zap.Int("markets-completed", st.MarketsCompleted),
			zap.Int("total-attempts", st.TotalAttempts),
			zap.Int("total-pairs", st.TotalPairs),
			zap.Float64("pair-rate", st.PairRate))
	}
}

func (a *App) storageMode() string {
	if a.opts.DryRun {
		return "console"
	}
	return a.cfg.StorageMode
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
