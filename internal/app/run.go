package app

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mselser95/esports-arb/internal/feeds"
	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap"
)

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("mode", a.cfg.Execution.Mode),
		zap.String("storage-backend", a.cfg.Storage.Backend),
		zap.Int("markets", a.catalog.Size()),
		zap.String("log-level", a.cfg.Bot.LogLevel))

	// Start all components
	err := a.startComponents()
	if err != nil {
		return err
	}

	// Mark as ready
	a.healthChecker.SetReady(true)

	a.logger.Info("application-ready",
		zap.Int("http-port", a.cfg.Server.Port),
		zap.Int("feeds", len(a.feeds)))

	// Wait for shutdown signal
	return a.waitForShutdown()
}

func (a *App) startComponents() error {
	// Start the bus first so subscriptions land on a running instance
	err := a.bus.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start bus: %w", err)
	}

	// Register router subscriptions
	err = a.router.Start()
	if err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	// Start HTTP server
	a.wg.Add(1)
	go a.runHTTPServer()

	// Start feed adapters
	for _, adapter := range a.feeds {
		a.wg.Add(1)
		go a.runFeed(adapter)
	}

	// Start clock tick loop
	a.wg.Add(1)
	go a.runTickLoop()

	return nil
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()

	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) runFeed(adapter feeds.Adapter) {
	defer a.wg.Done()

	err := adapter.Run(a.ctx)
	if err != nil && !errors.Is(err, a.ctx.Err()) {
		a.logger.Error("feed-error",
			zap.String("feed", adapter.Name()),
			zap.Error(err))
	}
}

// runTickLoop publishes a clock tick to the global partition once a second.
// Ticks drive truth finalization timeouts, trading idle reversion, risk
// evaluation and the settlement sweep.
func (a *App) runTickLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			now := a.clk.NowMs()
			a.bus.Publish(&types.ClockTick{
				BaseEvent: types.NewBase(now),
				NowMs:     now,
			})
		}
	}
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
