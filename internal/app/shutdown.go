package app

import (
	"context"

	"github.com/solsol/solsol/internal/logger"
)

// RequestClose is what a window close button calls. It asks for
// confirmation when app.confirm_closing is set.
func (a *App) RequestClose() {
	a.core.Lifecycle.RequestClose()
}

// Shutdown closes the application without asking.
func (a *App) Shutdown() {
	a.core.Lifecycle.Shutdown()
}

// watch turns a cancelled ctx into a shutdown and closes the UI loop once the
// orchestrator has terminated.
func (a *App) watch(ctx context.Context, cancel context.CancelFunc) {
	terminated := a.core.Lifecycle.Terminated()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested", logger.Field{Key: "reason", Value: context.Cause(ctx).Error()})
		a.core.Lifecycle.Shutdown()
	case <-terminated:
	}

	<-terminated
	cancel()
	a.core.Dispatcher.Close()
}

// stopMetrics stops the metrics endpoint once.
func (a *App) stopMetrics() error {
	if a.metricsServer == nil {
		return nil
	}
	a.metricsOnce.Do(func() {
		a.metricsErr = a.metricsServer.Stop()
	})
	return a.metricsErr
}
