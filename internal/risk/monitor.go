// Package risk aggregates fills into exposure and worst-case loss figures
// and trips a global kill switch when a configured limit is breached. The
// monitor is advisory bookkeeping on top of the per-market engines; it halts
// the system, it never adjusts orders.
package risk

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap"
)

// Rule names carried in halt reasons as "risk:<rule>".
const (
	RuleMaxDailyLoss         = "max_daily_loss"
	RuleMaxPositionPerMarket = "max_position_per_market"
	RuleMaxTotalExposure     = "max_total_exposure"
)

// Publisher publishes events onto the bus. Satisfied by *bus.Bus.
type Publisher interface {
	Publish(ev types.Event) bool
}

// Config holds risk monitor configuration.
type Config struct {
	Logger    *zap.Logger
	Clock     clock.Clock
	Publisher Publisher

	// Limits; zero values fall back to the configured defaults.
	MaxDailyLoss         float64
	MaxPositionPerMarket float64
	MaxTotalExposure     float64

	// FeeRate applies to the worst-case PnL of tracked positions.
	FeeRate float64
}

// Status is a point-in-time view for debugging and the state endpoint.
type Status struct {
	Tripped        bool
	TripReason     string
	TrippedAt      time.Time
	DailyLoss      float64
	TotalExposure  float64
	MarketExposure map[string]float64
}

// Monitor tracks fills across every market and evaluates the limits on
// clock ticks.
type Monitor struct {
	logger    *zap.Logger
	clock     clock.Clock
	publisher Publisher

	maxDailyLoss         float64
	maxPositionPerMarket float64
	maxTotalExposure     float64
	feeRate              float64

	tripped atomic.Bool // lock-free reads on hot paths

	mu           sync.RWMutex
	positions    map[string]*types.PairPosition
	releasedLoss float64
	tripReason   string
	trippedAt    time.Time
}

// New creates a risk monitor.
func New(cfg *Config) (*Monitor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}

	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}

	maxDailyLoss := cfg.MaxDailyLoss
	if maxDailyLoss <= 0 {
		maxDailyLoss = 500
	}

	maxPositionPerMarket := cfg.MaxPositionPerMarket
	if maxPositionPerMarket <= 0 {
		maxPositionPerMarket = 1500
	}

	maxTotalExposure := cfg.MaxTotalExposure
	if maxTotalExposure <= 0 {
		maxTotalExposure = 5000
	}

	m := &Monitor{
		logger:               cfg.Logger,
		clock:                cfg.Clock,
		publisher:            cfg.Publisher,
		maxDailyLoss:         maxDailyLoss,
		maxPositionPerMarket: maxPositionPerMarket,
		maxTotalExposure:     maxTotalExposure,
		feeRate:              cfg.FeeRate,
		positions:            make(map[string]*types.PairPosition),
	}

	KillSwitchActive.Set(0)

	m.logger.Info("risk-monitor-initialized",
		zap.Float64("max_daily_loss", maxDailyLoss),
		zap.Float64("max_position_per_market", maxPositionPerMarket),
		zap.Float64("max_total_exposure", maxTotalExposure))

	return m, nil
}

// Tripped reports whether the kill switch is active. Lock-free.
func (m *Monitor) Tripped() bool {
	return m.tripped.Load()
}

// OnFill folds an execution into the per-market position.
func (m *Monitor) OnFill(marketID string, side types.Side, qty, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[marketID]
	if !ok {
		pos = types.NewPairPosition(marketID, m.feeRate)
		m.positions[marketID] = pos
	}

	err := pos.ApplyFill(types.Fill{Side: side, Qty: qty, Price: price, TsMs: m.clock.NowMs()})
	if err != nil {
		return fmt.Errorf("apply fill: %w", err)
	}

	MarketExposureUSDC.WithLabelValues(marketID).Set(pos.TotalCost())

	return nil
}

// ReleaseMarket drops a resolved market from exposure. A position whose
// worst-case PnL is negative realizes that floor into the daily loss; a
// profit-locked pair cannot lose and realizes nothing here.
func (m *Monitor) ReleaseMarket(marketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[marketID]
	if !ok {
		return
	}

	if pnl := pos.GuaranteedPnL(); pnl < 0 {
		m.releasedLoss += -pnl
	}

	delete(m.positions, marketID)
	MarketExposureUSDC.DeleteLabelValues(marketID)

	m.logger.Info("market-released",
		zap.String("market_id", marketID),
		zap.Float64("released_loss", m.releasedLoss))
}

// OnTick evaluates every limit. The first breached rule trips the kill
// switch and publishes one system halt; further breaches in the same episode
// are silent until Reset.
func (m *Monitor) OnTick(nowMs int64) {
	dailyLoss, totalExposure, worstMarket, worstExposure := m.aggregate()

	DailyLossUSDC.Set(dailyLoss)
	TotalExposureUSDC.Set(totalExposure)

	if m.tripped.Load() {
		return
	}

	var rule string

	switch {
	case dailyLoss > m.maxDailyLoss:
		rule = RuleMaxDailyLoss
	case worstExposure > m.maxPositionPerMarket:
		rule = RuleMaxPositionPerMarket
	case totalExposure > m.maxTotalExposure:
		rule = RuleMaxTotalExposure
	default:
		return
	}

	m.trip(rule, nowMs, dailyLoss, totalExposure, worstMarket, worstExposure)
}

// Reset clears positions, realized loss, and the kill switch for day
// rollover. Halted engines stay halted; resuming them is a manual operation.
func (m *Monitor) Reset() {
	m.mu.Lock()
	for marketID := range m.positions {
		MarketExposureUSDC.DeleteLabelValues(marketID)
	}

	m.positions = make(map[string]*types.PairPosition)
	m.releasedLoss = 0
	m.tripReason = ""
	m.trippedAt = time.Time{}
	m.mu.Unlock()

	m.tripped.Store(false)
	KillSwitchActive.Set(0)
	DailyLossUSDC.Set(0)
	TotalExposureUSDC.Set(0)

	m.logger.Info("risk-monitor-reset")
}

// GetStatus returns the current risk picture.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dailyLoss := m.releasedLoss
	totalExposure := 0.0
	perMarket := make(map[string]float64, len(m.positions))

	for marketID, pos := range m.positions {
		cost := pos.TotalCost()
		perMarket[marketID] = cost
		totalExposure += cost

		if pnl := pos.GuaranteedPnL(); pnl < 0 {
			dailyLoss += -pnl
		}
	}

	return Status{
		Tripped:        m.tripped.Load(),
		TripReason:     m.tripReason,
		TrippedAt:      m.trippedAt,
		DailyLoss:      dailyLoss,
		TotalExposure:  totalExposure,
		MarketExposure: perMarket,
	}
}

// aggregate computes the loss and exposure figures under the read lock.
func (m *Monitor) aggregate() (dailyLoss, totalExposure float64, worstMarket string, worstExposure float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dailyLoss = m.releasedLoss

	for marketID, pos := range m.positions {
		cost := pos.TotalCost()
		totalExposure += cost

		if cost > worstExposure {
			worstMarket = marketID
			worstExposure = cost
		}

		if pnl := pos.GuaranteedPnL(); pnl < 0 {
			dailyLoss += -pnl
		}
	}

	return dailyLoss, totalExposure, worstMarket, worstExposure
}

func (m *Monitor) trip(rule string, nowMs int64, dailyLoss, totalExposure float64, worstMarket string, worstExposure float64) {
	if !m.tripped.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	m.tripReason = "risk:" + rule
	m.trippedAt = m.clock.Now().WallTime
	reason := m.tripReason
	m.mu.Unlock()

	KillSwitchActive.Set(1)
	TripsTotal.WithLabelValues(rule).Inc()

	m.logger.Warn("risk-limit-breached",
		zap.String("rule", rule),
		zap.Float64("daily_loss", dailyLoss),
		zap.Float64("total_exposure", totalExposure),
		zap.String("worst_market", worstMarket),
		zap.Float64("worst_exposure", worstExposure))

	halt := &types.SystemHalt{
		BaseEvent: types.NewBase(nowMs),
		Reason:    reason,
	}

	if !m.publisher.Publish(halt) {
		m.logger.Error("halt-publish-rejected", zap.String("reason", reason))
	}
}
