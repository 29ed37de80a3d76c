// Package trading runs the per-market execution state machine for the YES/NO
// pair strategy. One engine owns one market; its methods are called from that
// market's bus partition, so processing is serial. The engine emits order and
// cancel intents and never talks to an exchange itself.
package trading

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/types"
)

// Config holds the configuration for one trading engine.
type Config struct {
	Logger *zap.Logger
	Clock  clock.Clock

	MarketID string

	// IdleAfterNoOpportunityTicks returns BUILDING_PAIR to IDLE after this
	// many ticks without an approved buy. Default 100.
	IdleAfterNoOpportunityTicks int
	// TemporalSignalTTLMs expires a temporal signal after this long. Default 5000.
	TemporalSignalTTLMs int64
	// PairCostCap is the maximum acceptable average cost of one YES+NO pair.
	// Default 0.975.
	PairCostCap float64
	// FeeRate is the fraction of gross payout deducted at resolution. Default 0.02.
	FeeRate float64
	// StepUSDC is the quote size of each buy. Default 25.
	StepUSDC float64
	// MaxTotalCost bounds the quote spent across both legs. Default 1500.
	MaxTotalCost float64
	// MaxLegImbalanceUSDC bounds the cost disparity between legs. Default 100.
	MaxLegImbalanceUSDC float64
	// MaxConsecutiveRejects trips the circuit breaker. Default 3.
	MaxConsecutiveRejects int
	// MaxCancelFailures trips the circuit breaker. Default 3.
	MaxCancelFailures int
	// LegSelectThresholdShares is the share imbalance beyond which the lagging
	// leg is bought regardless of price. Default 20.
	LegSelectThresholdShares float64
}

// Engine is the per-market trading state machine.
type Engine struct {
	logger *zap.Logger
	clock  clock.Clock

	idleAfterNoOpportunityTicks int
	temporalSignalTTLMs         int64
	pairCostCap                 float64
	stepUSDC                    float64
	maxTotalCost                float64
	maxLegImbalanceUSDC         float64
	maxConsecutiveRejects       int
	maxCancelFailures           int
	legSelectThresholdShares    float64

	mu                 sync.Mutex
	state              *types.TradingState
	noOpportunityTicks int
	temporalSignalAtMs int64
	rebalanceSide      types.Side
}

// New creates a new trading engine in IDLE with an empty position.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}

	if cfg.MarketID == "" {
		return nil, fmt.Errorf("market id cannot be empty")
	}

	idleTicks := cfg.IdleAfterNoOpportunityTicks
	if idleTicks <= 0 {
		idleTicks = 100
	}

	ttlMs := cfg.TemporalSignalTTLMs
	if ttlMs <= 0 {
		ttlMs = 5000
	}

	pairCostCap := cfg.PairCostCap
	if pairCostCap <= 0 {
		pairCostCap = 0.975
	}

	feeRate := cfg.FeeRate
	if feeRate <= 0 {
		feeRate = 0.02
	}

	stepUSDC := cfg.StepUSDC
	if stepUSDC <= 0 {
		stepUSDC = 25.0
	}

	maxTotalCost := cfg.MaxTotalCost
	if maxTotalCost <= 0 {
		maxTotalCost = 1500.0
	}

	maxImbalance := cfg.MaxLegImbalanceUSDC
	if maxImbalance <= 0 {
		maxImbalance = 100.0
	}

	maxRejects := cfg.MaxConsecutiveRejects
	if maxRejects <= 0 {
		maxRejects = 3
	}

	maxCancelFailures := cfg.MaxCancelFailures
	if maxCancelFailures <= 0 {
		maxCancelFailures = 3
	}

	legThreshold := cfg.LegSelectThresholdShares
	if legThreshold <= 0 {
		legThreshold = 20.0
	}

	return &Engine{
		logger:                      cfg.Logger.With(zap.String("market_id", cfg.MarketID)),
		clock:                       cfg.Clock,
		idleAfterNoOpportunityTicks: idleTicks,
		temporalSignalTTLMs:         ttlMs,
		pairCostCap:                 pairCostCap,
		stepUSDC:                    stepUSDC,
		maxTotalCost:                maxTotalCost,
		maxLegImbalanceUSDC:         maxImbalance,
		maxConsecutiveRejects:       maxRejects,
		maxCancelFailures:           maxCancelFailures,
		legSelectThresholdShares:    legThreshold,
		state:                       types.NewTradingState(cfg.MarketID, feeRate, cfg.Clock.Now().WallTime),
	}, nil
}

// MarketID returns the market this engine owns.
func (e *Engine) MarketID() string {
	return e.state.MarketID
}

// State returns an independent snapshot of the trading state.
func (e *Engine) State() types.TradingState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.Snapshot()
}

// CanPlaceOrders reports whether new order intents may be emitted.
func (e *Engine) CanPlaceOrders() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.Status == types.TradingBuildingPair ||
		e.state.Status == types.TradingTemporalActive
}

// IsActive reports whether the engine still reacts to market data.
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.Status != types.TradingResolved &&
		e.state.Status != types.TradingHalt
}

// GetAllowedActions lists what the engine may do in its current state.
func (e *Engine) GetAllowedActions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state.Status {
	case types.TradingIdle, types.TradingLockedPair:
		return []string{"watch"}
	case types.TradingBuildingPair:
		return []string{"buy_yes", "buy_no", "cancel"}
	case types.TradingTemporalActive:
		return []string{"buy_winner", "cancel"}
	case types.TradingFinalizing, types.TradingHalt:
		return []string{"cancel_all"}
	}

	return nil
}

// Halt stops trading on this market and returns cancel intents for every
// order still live on the book. Halting a halted or resolved market is
// refused with no intents.
func (e *Engine) Halt(reason string) []*types.CancelIntent {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.haltLocked(reason)
}

// ResumeFromHalt returns a halted market to IDLE with fresh breaker counters.
// It reports whether the engine actually resumed.
func (e *Engine) ResumeFromHalt() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status != types.TradingHalt {
		return false
	}

	e.state.ConsecutiveRejects = 0
	e.state.ConsecutiveCancelFailures = 0
	e.transitionTo(types.TradingIdle, "manual_resume")

	return true
}

// Finalize enters FINALIZING ahead of match resolution and returns cancel
// intents for every live order. Resolved and halted markets are left alone.
func (e *Engine) Finalize() []*types.CancelIntent {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status == types.TradingResolved || e.state.Status == types.TradingHalt {
		return nil
	}

	e.transitionTo(types.TradingFinalizing, "match_ending")

	return e.cancelAll()
}

// Resolve marks the market settled. RESOLVED is terminal.
func (e *Engine) Resolve() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status == types.TradingResolved {
		return
	}

	e.transitionTo(types.TradingResolved, "market_settled")
}

// OnOrderBookUpdate evaluates fresh YES/NO books and returns an order intent
// when the pair strategy wants the next step, nil otherwise.
func (e *Engine) OnOrderBookUpdate(bookYes, bookNo *types.OrderBook) *types.OrderIntent {
	e.mu.Lock()
	defer e.mu.Unlock()

	if bookYes == nil || bookNo == nil {
		return nil
	}

	e.state.LastActivityAt = e.clock.Now().WallTime

	switch e.state.Status {
	case types.TradingIdle:
		intent := e.evaluatePairArb(bookYes, bookNo)
		if intent != nil {
			e.transitionTo(types.TradingBuildingPair, "pair_arb_opportunity")
			e.noOpportunityTicks = 0
		}

		return intent

	case types.TradingBuildingPair:
		intent := e.evaluatePairArb(bookYes, bookNo)
		if intent != nil {
			e.noOpportunityTicks = 0

			return intent
		}

		e.noOpportunityTicks++

		return nil

	case types.TradingTemporalActive:
		// Waits on a fill or signal expiry.
		return nil
	}

	return nil
}

// OnFill applies an execution to the position and drops the order from
// tracking. A fill priced outside [0,1] is refused without mutation.
func (e *Engine) OnFill(side types.Side, qty, price float64, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fill := types.Fill{Side: side, Qty: qty, Price: price, TsMs: e.clock.NowMs()}
	if err := e.state.Position.ApplyFill(fill); err != nil {
		return err
	}

	e.state.LastActivityAt = e.clock.Now().WallTime
	delete(e.state.OpenOrders, orderID)

	pnl := e.state.Position.GuaranteedPnL()

	e.logger.Info("fill-applied",
		zap.String("side", string(side)),
		zap.Float64("qty", qty),
		zap.Float64("price", price),
		zap.Float64("guaranteed_pnl", pnl),
	)
	FillsAppliedTotal.WithLabelValues(string(side)).Inc()
	GuaranteedPnL.WithLabelValues(e.state.MarketID).Set(pnl)

	switch e.state.Status {
	case types.TradingBuildingPair:
		e.handleBuildingFill()
	case types.TradingTemporalActive:
		e.handleTemporalFill()
	}

	return nil
}

// OnPlacementSuccess records a confirmed placement and resets the reject
// streak.
func (e *Engine) OnPlacementSuccess(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.ConsecutiveRejects = 0
	e.state.LastActivityAt = e.clock.Now().WallTime

	if ord, ok := e.state.OpenOrders[orderID]; ok {
		if err := ord.Transition(types.OrderPlaced, e.clock.Now().WallTime); err != nil {
			e.logger.Debug("order-transition-refused",
				zap.String("order_id", orderID), zap.Error(err))
		}
	}
}

// OnOrderRejected records a rejection and returns cancel intents when the
// reject streak trips the circuit breaker.
func (e *Engine) OnOrderRejected(orderID, reason string) []*types.CancelIntent {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.ConsecutiveRejects++
	e.state.LastActivityAt = e.clock.Now().WallTime

	if ord, ok := e.state.OpenOrders[orderID]; ok {
		ord.RejectReason = reason

		if err := ord.Transition(types.OrderRejected, e.clock.Now().WallTime); err != nil {
			e.logger.Debug("order-transition-refused",
				zap.String("order_id", orderID), zap.Error(err))
		}
	}

	e.logger.Warn("order-rejected",
		zap.String("order_id", orderID),
		zap.String("reason", reason),
		zap.Int("consecutive_rejects", e.state.ConsecutiveRejects),
	)

	return e.tripBreaker()
}

// OnCancelSuccess drops the cancelled order and resets the cancel-failure
// streak.
func (e *Engine) OnCancelSuccess(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.ConsecutiveCancelFailures = 0

	if ord, ok := e.state.OpenOrders[orderID]; ok {
		if err := ord.Transition(types.OrderCancelled, e.clock.Now().WallTime); err != nil {
			e.logger.Debug("order-transition-refused",
				zap.String("order_id", orderID), zap.Error(err))
		}

		delete(e.state.OpenOrders, orderID)
	}
}

// OnCancelFailure records a failed cancel and returns cancel intents when the
// failure streak trips the circuit breaker.
func (e *Engine) OnCancelFailure(orderID string) []*types.CancelIntent {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.ConsecutiveCancelFailures++

	e.logger.Warn("cancel-failed",
		zap.String("order_id", orderID),
		zap.Int("consecutive_cancel_failures", e.state.ConsecutiveCancelFailures),
	)

	return e.tripBreaker()
}

// OnTick runs the periodic timeout checks: the no-opportunity countdown in
// BUILDING_PAIR and signal expiry in TEMPORAL_ACTIVE. Expiry returns cancel
// intents for every live order.
func (e *Engine) OnTick(nowMs int64) []*types.CancelIntent {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state.Status {
	case types.TradingBuildingPair:
		e.noOpportunityTicks++
		if e.noOpportunityTicks >= e.idleAfterNoOpportunityTicks {
			e.transitionTo(types.TradingIdle, "no_opportunity_timeout")
			e.noOpportunityTicks = 0
		}

	case types.TradingTemporalActive:
		if e.temporalSignalAtMs != 0 && nowMs-e.temporalSignalAtMs >= e.temporalSignalTTLMs {
			e.logger.Info("temporal-signal-expired",
				zap.Int64("elapsed_ms", nowMs-e.temporalSignalAtMs))

			intents := e.cancelAll()
			e.transitionTo(types.TradingIdle, "signal_expired")
			e.temporalSignalAtMs = 0

			return intents
		}
	}

	return nil
}

// OnTemporalSignal arms the temporal strategy. Only an IDLE market accepts
// the signal; it reports whether the engine entered TEMPORAL_ACTIVE.
func (e *Engine) OnTemporalSignal(nowMs int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status != types.TradingIdle {
		return false
	}

	e.temporalSignalAtMs = nowMs
	e.transitionTo(types.TradingTemporalActive, "temporal_signal")

	return true
}

// TrackOrder registers a placed order for lifecycle tracking.
func (e *Engine) TrackOrder(o *types.Order) {
	if o == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.OpenOrders[o.ID] = o
}

func (e *Engine) evaluatePairArb(bookYes, bookNo *types.OrderBook) *types.OrderIntent {
	side := e.selectLeg(bookYes, bookNo)
	if side == "" {
		return nil
	}

	book := bookYes
	if side == types.SideNo {
		book = bookNo
	}

	ask, ok := book.BestAsk()
	if !ok {
		return nil
	}

	// RequireImprove would refuse the first leg of every pair (one leg alone
	// always lowers guaranteed PnL), so step buys rely on the cost caps and
	// the imbalance bound instead.
	allowed, reason := types.ShouldBuyMore(e.state.Position, side, e.stepUSDC, ask.Price, types.BuyParams{
		PairCostCap:          e.pairCostCap,
		MaxTotalCost:         e.maxTotalCost,
		MaxLegImbalanceQuote: e.maxLegImbalanceUSDC,
	})
	if !allowed {
		e.logger.Debug("pair-arb-rejected",
			zap.String("side", string(side)),
			zap.String("reason", string(reason)),
		)

		return nil
	}

	IntentsEmittedTotal.WithLabelValues(string(side)).Inc()

	return &types.OrderIntent{
		BaseEvent:      types.NewBase(e.clock.NowMs()),
		IntentID:       uuid.NewString(),
		MarketID:       e.state.MarketID,
		Side:           side,
		Price:          ask.Price,
		SizeUSDC:       e.stepUSDC,
		Strategy:       "pair_arb",
		Reason:         e.intentReason(),
		IdempotencyKey: uuid.NewString(),
	}
}

// selectLeg picks the next leg to buy. A pending rebalance mark wins, then
// PreferredLeg decides from the position and the books.
func (e *Engine) selectLeg(bookYes, bookNo *types.OrderBook) types.Side {
	if e.rebalanceSide != "" {
		side := e.rebalanceSide
		e.rebalanceSide = ""

		return side
	}

	return PreferredLeg(e.state.Position, bookYes, bookNo, e.legSelectThresholdShares)
}

// PreferredLeg picks the leg to buy next: a share imbalance beyond
// thresholdShares forces the lagging leg, otherwise the cheaper ask wins with
// YES on ties. Returns "" when neither book quotes an ask. Pure; the offline
// simulator drives the same selection the live engine uses.
func PreferredLeg(pos *types.PairPosition, bookYes, bookNo *types.OrderBook, thresholdShares float64) types.Side {
	imbalance := pos.QYes - pos.QNo
	if imbalance > thresholdShares {
		return types.SideNo
	}

	if imbalance < -thresholdShares {
		return types.SideYes
	}

	yesAsk, okYes := bookYes.BestAsk()
	noAsk, okNo := bookNo.BestAsk()

	switch {
	case !okYes && !okNo:
		return ""
	case !okYes:
		return types.SideNo
	case !okNo:
		return types.SideYes
	}

	if noAsk.Price < yesAsk.Price {
		return types.SideNo
	}

	return types.SideYes
}

func (e *Engine) intentReason() string {
	pc, ok := e.state.Position.PairCostAvg()
	if !ok {
		return "pair_cost_avg=n/a"
	}

	return fmt.Sprintf("pair_cost_avg=%.4f", pc)
}

func (e *Engine) handleBuildingFill() {
	if e.state.Position.GuaranteedPnL() > 0 {
		e.transitionTo(types.TradingLockedPair, "profit_locked")

		return
	}

	imbalance := e.state.Position.LegImbalanceQuote()
	if imbalance > e.maxLegImbalanceUSDC {
		side := types.SideYes
		if e.state.Position.CYes > e.state.Position.CNo {
			side = types.SideNo
		}

		e.rebalanceSide = side

		e.logger.Info("rebalance-needed",
			zap.Float64("imbalance_usdc", imbalance),
			zap.String("side", string(side)),
		)
	}
}

func (e *Engine) handleTemporalFill() {
	if e.state.Position.GuaranteedPnL() > 0 {
		e.transitionTo(types.TradingLockedPair, "temporal_to_locked")
	} else {
		e.transitionTo(types.TradingIdle, "temporal_filled")
	}

	e.temporalSignalAtMs = 0
}

// tripBreaker halts the market when either failure streak has reached its
// limit. The returned cancel intents cover every order still live.
func (e *Engine) tripBreaker() []*types.CancelIntent {
	if e.state.Status == types.TradingHalt {
		return nil
	}

	var reason, trigger string

	if e.state.ConsecutiveRejects >= e.maxConsecutiveRejects {
		reason = fmt.Sprintf("consecutive_rejects:%d", e.state.ConsecutiveRejects)
		trigger = "consecutive_rejects"
	}

	if e.state.ConsecutiveCancelFailures >= e.maxCancelFailures {
		reason = fmt.Sprintf("cancel_failures:%d", e.state.ConsecutiveCancelFailures)
		trigger = "cancel_failures"
	}

	if reason == "" {
		return nil
	}

	e.logger.Warn("circuit-breaker-trip", zap.String("reason", reason))
	BreakerTripsTotal.WithLabelValues(trigger).Inc()

	return e.haltLocked(reason)
}

func (e *Engine) haltLocked(reason string) []*types.CancelIntent {
	if e.state.Status == types.TradingHalt || e.state.Status == types.TradingResolved {
		return nil
	}

	e.transitionTo(types.TradingHalt, reason)

	return e.cancelAll()
}

// cancelAll builds cancel intents for every PENDING or PLACED order, ordered
// by order id so sweeps are deterministic.
func (e *Engine) cancelAll() []*types.CancelIntent {
	ids := make([]string, 0, len(e.state.OpenOrders))
	for id, ord := range e.state.OpenOrders {
		if ord.Status == types.OrderPending || ord.Status == types.OrderPlaced {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	nowMs := e.clock.NowMs()
	intents := make([]*types.CancelIntent, 0, len(ids))

	for _, id := range ids {
		intents = append(intents, &types.CancelIntent{
			BaseEvent: types.NewBase(nowMs),
			IntentID:  uuid.NewString(),
			MarketID:  e.state.MarketID,
			OrderID:   id,
			Reason:    "cancel_all",
		})
	}

	CancelIntentsTotal.Add(float64(len(intents)))

	return intents
}

func (e *Engine) transitionTo(next types.TradingStatus, reason string) {
	prev := e.state.Status
	now := e.clock.Now().WallTime

	e.state.Status = next
	e.state.EnteredStateAt = now
	e.state.LastActivityAt = now

	e.logger.Info("trading-state-transition",
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.String("reason", reason),
	)
	StateTransitionsTotal.WithLabelValues(string(next)).Inc()
}
