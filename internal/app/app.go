package app

import (
	"context"
	"sync"

	"github.com/mselser95/esports-arb/internal/bus"
	"github.com/mselser95/esports-arb/internal/catalog"
	"github.com/mselser95/esports-arb/internal/execution"
	"github.com/mselser95/esports-arb/internal/feeds"
	"github.com/mselser95/esports-arb/internal/risk"
	"github.com/mselser95/esports-arb/internal/router"
	"github.com/mselser95/esports-arb/internal/storage"
	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/mselser95/esports-arb/pkg/healthprobe"
	"github.com/mselser95/esports-arb/pkg/httpserver"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	clk           clock.Clock
	bus           *bus.Bus
	catalog       *catalog.Registry
	riskMonitor   *risk.Monitor
	router        *router.Router
	executor      *execution.Executor
	storage       storage.Storage
	feeds         []feeds.Adapter
	httpServer    *httpserver.Server
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}
