package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Cancel context to stop the feeds and the tick loop
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop the bus; Stop waits for in-flight handlers to finish
	a.bus.Stop()

	// Remove router subscriptions
	a.router.Stop()

	// Close executor
	err := a.shutdownExecutor()
	if err != nil {
		a.logger.Error("executor-close-error", zap.Error(err))
	}

	// Close storage
	err = a.shutdownStorage()
	if err != nil {
		a.logger.Error("storage-close-error", zap.Error(err))
	}

	// Shutdown HTTP server
	err = a.shutdownHTTPServer(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	// Wait for all goroutines
	a.wg.Wait()

	a.logger.Info("application-shutdown-complete")

	return nil
}

func (a *App) shutdownHTTPServer(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

func (a *App) shutdownExecutor() error {
	return a.executor.Close()
}

func (a *App) shutdownStorage() error {
	return a.storage.Close()
}
