package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	httpShutdownTimeout = 10 * time.Second
	// drainTimeout bounds the wait for managers to settle their active
	// attempts and write the final summaries.
	drainTimeout = 30 * time.Second
)

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Cancel context to signal all components
	a.cancel()

	// Shutdown HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownCancel()

	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	// Managers settle active attempts with bot_shutdown and persist their
	// summaries on cancellation; give them a bounded window to finish.
	a.waitForWorkers()

	a.logSessionSummary()

	// Close storage
	err = a.store.Close()
	if err != nil {
		a.logger.Error("storage-close-error", zap.Error(err))
	}

	a.marketCache.Close()

	a.logger.Info("application-shutdown-complete")

	return nil
}

func (a *App) waitForWorkers() {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		a.logger.Warn("shutdown-drain-timeout", zap.Duration("waited", drainTimeout))
	}
}

func (a *App) logSessionSummary() {
	for _, mgr := range a.managers {
		st := mgr.Status()
		a.logger.Info("session-summary",
			zap.String("run-id", a.runID),
			zap.String("asset", st.Asset),
			zap.Duration("uptime", time.Since(a.startedAt).Round(time.Second)),
			zap.Int("markets-completed", st.MarketsCompleted),
			zap.Int("total-attempts", st.TotalAttempts),
			zap.Int("total-pairs", st.TotalPairs),
			zap.Float64("pair-rate", st.PairRate))
	}
}
