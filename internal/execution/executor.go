// Package execution turns order intents into order flow. Paper mode places
// and fully fills orders immediately at the intent price, publishing the fill
// back onto the bus; live mode is a guarded boundary that refuses to
// construct while no exchange order client ships.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap"
)

// Execution modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Publisher publishes events back onto the bus. Satisfied by *bus.Bus.
type Publisher interface {
	Publish(ev types.Event) bool
}

// Callbacks receives execution outcomes. The router implements these to
// drive the owning trading engine's lifecycle methods.
type Callbacks interface {
	// OrderPlaced reports a successful placement. The order is in PENDING;
	// the receiver tracks it and advances it to PLACED.
	OrderPlaced(order *types.Order)

	// OrderRejected reports an intent refused before placement.
	OrderRejected(marketID, orderID, reason string)

	// CancelSucceeded reports an acknowledged cancel.
	CancelSucceeded(marketID, orderID string)

	// CancelFailed reports a cancel the venue refused.
	CancelFailed(marketID, orderID string)
}

// Config holds executor configuration.
type Config struct {
	Logger    *zap.Logger
	Clock     clock.Clock
	Publisher Publisher
	Callbacks Callbacks

	// Mode selects paper or live order flow. Empty means paper.
	Mode string

	// SettlementTimeout bounds how long a filled order may await settlement
	// before the stub sweep forgets it. Zero means 60s.
	SettlementTimeout time.Duration
}

// Executor consumes order and cancel intents.
type Executor struct {
	logger            *zap.Logger
	clock             clock.Clock
	publisher         Publisher
	callbacks         Callbacks
	mode              string
	settlementTimeout time.Duration

	mu          sync.Mutex
	seenIntents map[string]string // idempotency key -> order id
	settlements map[string]int64  // order id -> deadline wall ms
}

// New creates an executor. Live mode fails: there is no exchange order client
// in this build, so live intents have nowhere to go.
func New(cfg *Config) (*Executor, error) {
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

	if cfg.Callbacks == nil {
		return nil, fmt.Errorf("callbacks cannot be nil")
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModePaper
	}

	switch mode {
	case ModePaper:
	case ModeLive:
		return nil, fmt.Errorf("live execution is not available: no exchange order client is built in")
	default:
		return nil, fmt.Errorf("unknown execution mode %q", mode)
	}

	settlementTimeout := cfg.SettlementTimeout
	if settlementTimeout <= 0 {
		settlementTimeout = 60 * time.Second
	}

	cfg.Logger.Info("executor-initialized",
		zap.String("mode", mode),
		zap.Duration("settlement_timeout", settlementTimeout))

	return &Executor{
		logger:            cfg.Logger,
		clock:             cfg.Clock,
		publisher:         cfg.Publisher,
		callbacks:         cfg.Callbacks,
		mode:              mode,
		settlementTimeout: settlementTimeout,
		seenIntents:       make(map[string]string),
		settlements:       make(map[string]int64),
	}, nil
}

// Mode returns the configured execution mode.
func (e *Executor) Mode() string {
	return e.mode
}

// PendingSettlements returns the number of fills awaiting the settlement
// sweep.
func (e *Executor) PendingSettlements() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.settlements)
}

// HandleOrderIntent places the order and, in paper mode, fills it in full at
// the intent price. Duplicate idempotency keys are dropped silently.
func (e *Executor) HandleOrderIntent(_ context.Context, intent *types.OrderIntent) error {
	IntentsReceivedTotal.WithLabelValues("order").Inc()

	if reason, ok := rejectReason(intent); ok {
		OrdersRejectedTotal.Inc()
		e.logger.Warn("intent-rejected",
			zap.String("intent_id", intent.IntentID),
			zap.String("market_id", intent.MarketID),
			zap.String("reason", reason))
		e.callbacks.OrderRejected(intent.MarketID, uuid.NewString(), reason)

		return nil
	}

	now := e.clock.Now()
	nowMs := now.WallTime.UnixMilli()

	e.mu.Lock()
	if intent.IdempotencyKey != "" {
		if priorOrderID, seen := e.seenIntents[intent.IdempotencyKey]; seen {
			e.mu.Unlock()
			DuplicateIntentsTotal.Inc()
			e.logger.Debug("duplicate-intent-ignored",
				zap.String("intent_id", intent.IntentID),
				zap.String("idempotency_key", intent.IdempotencyKey),
				zap.String("order_id", priorOrderID))

			return nil
		}
	}

	orderID := uuid.NewString()
	if intent.IdempotencyKey != "" {
		e.seenIntents[intent.IdempotencyKey] = orderID
	}

	e.settlements[orderID] = nowMs + e.settlementTimeout.Milliseconds()
	e.mu.Unlock()

	order := &types.Order{
		ID:             orderID,
		MarketID:       intent.MarketID,
		Side:           intent.Side,
		Price:          intent.Price,
		Size:           intent.SizeUSDC,
		Status:         types.OrderPending,
		IdempotencyKey: intent.IdempotencyKey,
		CreatedAt:      now.WallTime,
	}

	OrdersPlacedTotal.Inc()
	e.callbacks.OrderPlaced(order)

	// Full fill at the intent price; size is quote, fills carry shares.
	qty := intent.SizeUSDC / intent.Price
	fill := &types.OrderFill{
		BaseEvent: types.NewBase(nowMs),
		MarketID:  intent.MarketID,
		OrderID:   orderID,
		Side:      intent.Side,
		Qty:       qty,
		Price:     intent.Price,
	}

	FillsSimulatedTotal.Inc()

	if !e.publisher.Publish(fill) {
		e.logger.Error("fill-publish-rejected",
			zap.String("market_id", intent.MarketID),
			zap.String("order_id", orderID))
	}

	e.logger.Info("paper-order-filled",
		zap.String("market_id", intent.MarketID),
		zap.String("order_id", orderID),
		zap.String("side", string(intent.Side)),
		zap.Float64("price", intent.Price),
		zap.Float64("qty", qty),
		zap.Float64("size_usdc", intent.SizeUSDC))

	return nil
}

// HandleCancelIntent acknowledges the cancel. Paper cancels always succeed.
func (e *Executor) HandleCancelIntent(_ context.Context, cancel *types.CancelIntent) error {
	IntentsReceivedTotal.WithLabelValues("cancel").Inc()

	e.mu.Lock()
	delete(e.settlements, cancel.OrderID)
	e.mu.Unlock()

	OrdersCancelledTotal.Inc()
	e.logger.Info("paper-order-cancelled",
		zap.String("market_id", cancel.MarketID),
		zap.String("order_id", cancel.OrderID),
		zap.String("reason", cancel.Reason))
	e.callbacks.CancelSucceeded(cancel.MarketID, cancel.OrderID)

	return nil
}

// Tick sweeps fills whose settlement window has elapsed. Settlement is a
// stub: elapsed orders are treated as settled and forgotten.
func (e *Executor) Tick(nowMs int64) {
	e.mu.Lock()
	var settled []string

	for orderID, deadline := range e.settlements {
		if deadline <= nowMs {
			settled = append(settled, orderID)
			delete(e.settlements, orderID)
		}
	}
	e.mu.Unlock()

	for _, orderID := range settled {
		SettlementsTotal.Inc()
		e.logger.Debug("settlement-window-elapsed", zap.String("order_id", orderID))
	}
}

// Close gracefully closes the executor.
func (e *Executor) Close() error {
	e.mu.Lock()
	pending := len(e.settlements)
	placed := len(e.seenIntents)
	e.mu.Unlock()

	e.logger.Info("executor-closed",
		zap.String("mode", e.mode),
		zap.Int("intents_seen", placed),
		zap.Int("pending_settlements", pending))

	return nil
}

// rejectReason validates an intent before placement.
func rejectReason(intent *types.OrderIntent) (string, bool) {
	if intent.Price <= 0 || intent.Price > 1 {
		return "invalid_price", true
	}

	if intent.SizeUSDC <= 0 {
		return "invalid_size", true
	}

	return "", false
}
