// Package router connects the event bus to the engines. It owns the per-match
// truth engines and per-market trading engines, creating each lazily the first
// time an event arrives for a market the catalog knows, and republishes
// whatever the engines emit. The router also implements the executor's
// callback surface so placement and cancel outcomes flow back into the owning
// trading engine.
//
// Subscription priorities are fixed: the risk monitor sees fills and ticks
// before the router's own handlers, and the storage recorder runs last.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mselser95/esports-arb/internal/bus"
	"github.com/mselser95/esports-arb/internal/catalog"
	"github.com/mselser95/esports-arb/internal/risk"
	"github.com/mselser95/esports-arb/internal/storage"
	"github.com/mselser95/esports-arb/internal/trading"
	"github.com/mselser95/esports-arb/internal/truth"
	"github.com/mselser95/esports-arb/pkg/types"
)

// Handler priorities. Higher runs first within one event.
const (
	PriorityRisk     = 100
	PriorityRouter   = 50
	PriorityRecorder = 10
)

// EventBus is the subset of the event bus the router drives.
type EventBus interface {
	Subscribe(kind types.EventKind, name string, priority int, fn bus.Handler) *bus.Subscription
	Unsubscribe(sub *bus.Subscription) bool
	Publish(ev types.Event) bool
}

// IntentExecutor consumes the intents the engines emit. Outcomes come back
// through the router's callback methods.
type IntentExecutor interface {
	HandleOrderIntent(ctx context.Context, intent *types.OrderIntent) error
	HandleCancelIntent(ctx context.Context, cancel *types.CancelIntent) error
	Tick(nowMs int64)
}

// TruthFactory builds the truth engine for one match.
type TruthFactory func(matchID, teamAID, teamBID string) (*truth.Engine, error)

// TradingFactory builds the trading engine for one market.
type TradingFactory func(marketID string) (*trading.Engine, error)

// Config holds the configuration for the router.
type Config struct {
	Logger         *zap.Logger
	Bus            EventBus
	Catalog        *catalog.Registry
	Risk           *risk.Monitor
	Storage        storage.Storage
	TruthFactory   TruthFactory
	TradingFactory TradingFactory
}

// Router routes bus events to engines and engine output back to the bus.
type Router struct {
	logger         *zap.Logger
	bus            EventBus
	catalog        *catalog.Registry
	risk           *risk.Monitor
	storage        storage.Storage
	truthFactory   TruthFactory
	tradingFactory TradingFactory

	executor IntentExecutor

	mu       sync.RWMutex
	truths   map[string]*truth.Engine
	tradings map[string]*trading.Engine

	subs []*bus.Subscription
}

// New creates a new router. The executor is attached separately because its
// callbacks point back at the router.
func New(cfg *Config) (*Router, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}

	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog cannot be nil")
	}

	if cfg.Risk == nil {
		return nil, fmt.Errorf("risk monitor cannot be nil")
	}

	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}

	if cfg.TruthFactory == nil {
		return nil, fmt.Errorf("truth factory cannot be nil")
	}

	if cfg.TradingFactory == nil {
		return nil, fmt.Errorf("trading factory cannot be nil")
	}

	return &Router{
		logger:         cfg.Logger,
		bus:            cfg.Bus,
		catalog:        cfg.Catalog,
		risk:           cfg.Risk,
		storage:        cfg.Storage,
		truthFactory:   cfg.TruthFactory,
		tradingFactory: cfg.TradingFactory,
		truths:         make(map[string]*truth.Engine),
		tradings:       make(map[string]*trading.Engine),
	}, nil
}

// AttachExecutor wires in the executor after both sides exist. Must be called
// before Start.
func (r *Router) AttachExecutor(exec IntentExecutor) {
	r.executor = exec
}

// Start registers every bus subscription.
func (r *Router) Start() error {
	if r.executor == nil {
		return fmt.Errorf("executor cannot be nil")
	}

	r.subs = []*bus.Subscription{
		r.bus.Subscribe(types.KindFill, "risk-fill", PriorityRisk, r.riskFill),
		r.bus.Subscribe(types.KindClockTick, "risk-tick", PriorityRisk, r.riskTick),
		r.bus.Subscribe(types.KindMatchEvent, "router-match-event", PriorityRouter, r.handleMatchEvent),
		r.bus.Subscribe(types.KindTruth, "router-truth", PriorityRouter, r.handleTruth),
		r.bus.Subscribe(types.KindBookUpdate, "router-book-update", PriorityRouter, r.handleBookUpdate),
		r.bus.Subscribe(types.KindFill, "router-fill", PriorityRouter, r.handleFill),
		r.bus.Subscribe(types.KindClockTick, "router-tick", PriorityRouter, r.handleTick),
		r.bus.Subscribe(types.KindSystemHalt, "router-halt", PriorityRouter, r.handleSystemHalt),
		r.bus.Subscribe(types.KindOrderIntent, "router-order-intent", PriorityRouter, r.handleOrderIntent),
		r.bus.Subscribe(types.KindCancelIntent, "router-cancel-intent", PriorityRouter, r.handleCancelIntent),
		r.bus.Subscribe(types.KindOrderIntent, "recorder-order-intent", PriorityRecorder, r.recordIntent),
		r.bus.Subscribe(types.KindTruthFinal, "recorder-truth-final", PriorityRecorder, r.recordTruthFinal),
	}

	r.logger.Info("router-started", zap.Int("subscriptions", len(r.subs)))

	return nil
}

// Stop removes the router's subscriptions from the bus.
func (r *Router) Stop() {
	for _, sub := range r.subs {
		r.bus.Unsubscribe(sub)
	}

	r.subs = nil
	r.logger.Info("router-stopped")
}

// TradingStates returns a per-market snapshot of every trading engine.
func (r *Router) TradingStates() map[string]types.TradingState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]types.TradingState, len(r.tradings))
	for id, eng := range r.tradings {
		out[id] = eng.State()
	}

	return out
}

// TruthStates returns a per-match snapshot of every truth engine.
func (r *Router) TruthStates() map[string]types.TruthState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]types.TruthState, len(r.truths))
	for id, eng := range r.truths {
		out[id] = eng.State()
	}

	return out
}

// riskFill feeds executions into the risk ledger ahead of the trading engine.
func (r *Router) riskFill(_ context.Context, ev types.Event) error {
	fill, ok := ev.(*types.OrderFill)
	if !ok {
		return nil
	}

	if err := r.risk.OnFill(fill.MarketID, fill.Side, fill.Qty, fill.Price); err != nil {
		r.logger.Warn("risk-fill-refused",
			zap.String("market_id", fill.MarketID),
			zap.String("order_id", fill.OrderID),
			zap.Error(err),
		)
	}

	return nil
}

// riskTick evaluates risk limits before any engine sees the tick.
func (r *Router) riskTick(_ context.Context, ev types.Event) error {
	tick, ok := ev.(*types.ClockTick)
	if !ok {
		return nil
	}

	r.risk.OnTick(tick.NowMs)

	return nil
}

// handleMatchEvent feeds a feed event to the match's truth engine and
// republishes the resulting delta or final.
func (r *Router) handleMatchEvent(_ context.Context, ev types.Event) error {
	me, ok := ev.(*types.MatchEvent)
	if !ok {
		return nil
	}

	eng, ok := r.truthEngine(me.MatchID)
	if !ok {
		return nil
	}

	if out := eng.OnEvent(me); out != nil {
		r.publish(out)
	}

	return nil
}

// handleTruth reacts to truth updates. A final is decisive on its own, even
// when a confirmation timeout finalized at low confidence. A delta drives
// markets only once the engine considers the outcome effectively final, which
// lets markets start closing during the confirmation window.
func (r *Router) handleTruth(_ context.Context, ev types.Event) error {
	switch tv := ev.(type) {
	case *types.TruthFinal:
		if tv.WinnerTeamID == "" {
			return nil
		}

		r.finalizeMatchMarkets(tv.MatchID, tv.WinnerTeamID)

	case *types.TruthDelta:
		eng := r.truthOf(tv.MatchID)
		if eng == nil {
			return nil
		}

		winner, ok := eng.WinnerIfFinal()
		if !ok {
			return nil
		}

		r.finalizeMatchMarkets(tv.MatchID, winner)
	}

	return nil
}

// handleBookUpdate runs the pair strategy on fresh books. This is the path
// that births trading engines.
func (r *Router) handleBookUpdate(_ context.Context, ev types.Event) error {
	update, ok := ev.(*types.BookUpdate)
	if !ok {
		return nil
	}

	eng, ok := r.tradingEngine(update.MarketID)
	if !ok {
		return nil
	}

	if intent := eng.OnOrderBookUpdate(update.Yes, update.No); intent != nil {
		r.publish(intent)
	}

	return nil
}

// handleFill applies an execution to the owning trading engine. A refused
// fill is permanent, so it is logged rather than retried.
func (r *Router) handleFill(_ context.Context, ev types.Event) error {
	fill, ok := ev.(*types.OrderFill)
	if !ok {
		return nil
	}

	eng := r.tradingOf(fill.MarketID)
	if eng == nil {
		return nil
	}

	if err := eng.OnFill(fill.Side, fill.Qty, fill.Price, fill.OrderID); err != nil {
		r.logger.Warn("fill-refused",
			zap.String("market_id", fill.MarketID),
			zap.String("order_id", fill.OrderID),
			zap.Error(err),
		)
	}

	return nil
}

// handleTick drives every engine's periodic work: truth confirmation windows,
// trading timeouts, settlement of finalizing markets and the executor's
// settlement sweep.
func (r *Router) handleTick(_ context.Context, ev types.Event) error {
	tick, ok := ev.(*types.ClockTick)
	if !ok {
		return nil
	}

	for _, eng := range r.truthSnapshot() {
		if final := eng.Tick(tick.NowMs); final != nil {
			r.publish(final)
		}
	}

	for _, eng := range r.tradingSnapshot() {
		r.publishCancels(eng.OnTick(tick.NowMs))
		r.maybeResolve(eng)
	}

	r.executor.Tick(tick.NowMs)

	return nil
}

// handleSystemHalt halts every trading engine and republishes the cancel
// sweeps.
func (r *Router) handleSystemHalt(_ context.Context, ev types.Event) error {
	halt, ok := ev.(*types.SystemHalt)
	if !ok {
		return nil
	}

	engines := r.tradingSnapshot()
	r.logger.Warn("halting-all-markets",
		zap.String("reason", halt.Reason),
		zap.Int("markets", len(engines)),
	)

	for _, eng := range engines {
		r.publishCancels(eng.Halt(halt.Reason))
	}

	return nil
}

func (r *Router) handleOrderIntent(ctx context.Context, ev types.Event) error {
	intent, ok := ev.(*types.OrderIntent)
	if !ok {
		return nil
	}

	return r.executor.HandleOrderIntent(ctx, intent)
}

func (r *Router) handleCancelIntent(ctx context.Context, ev types.Event) error {
	cancel, ok := ev.(*types.CancelIntent)
	if !ok {
		return nil
	}

	return r.executor.HandleCancelIntent(ctx, cancel)
}

// recordIntent persists order intents. Errors propagate so the bus retries
// and eventually dead-letters without touching the trading path.
func (r *Router) recordIntent(ctx context.Context, ev types.Event) error {
	intent, ok := ev.(*types.OrderIntent)
	if !ok {
		return nil
	}

	return r.storage.StoreIntent(ctx, intent)
}

func (r *Router) recordTruthFinal(ctx context.Context, ev types.Event) error {
	final, ok := ev.(*types.TruthFinal)
	if !ok {
		return nil
	}

	return r.storage.StoreTruthFinal(ctx, final)
}

// OrderPlaced registers a freshly placed order with the owning engine. Part
// of the executor callback surface.
func (r *Router) OrderPlaced(order *types.Order) {
	if order == nil {
		return
	}

	eng := r.tradingOf(order.MarketID)
	if eng == nil {
		r.logger.Warn("order-placed-for-unknown-market",
			zap.String("market_id", order.MarketID),
			zap.String("order_id", order.ID),
		)

		return
	}

	eng.TrackOrder(order)
	eng.OnPlacementSuccess(order.ID)
}

// OrderRejected records the rejection and republishes any breaker sweep.
func (r *Router) OrderRejected(marketID, orderID, reason string) {
	eng := r.tradingOf(marketID)
	if eng == nil {
		return
	}

	r.publishCancels(eng.OnOrderRejected(orderID, reason))
}

// CancelSucceeded confirms a cancel with the owning engine.
func (r *Router) CancelSucceeded(marketID, orderID string) {
	eng := r.tradingOf(marketID)
	if eng == nil {
		return
	}

	eng.OnCancelSuccess(orderID)
}

// CancelFailed records the failure and republishes any breaker sweep.
func (r *Router) CancelFailed(marketID, orderID string) {
	eng := r.tradingOf(marketID)
	if eng == nil {
		return
	}

	r.publishCancels(eng.OnCancelFailure(orderID))
}

// finalizeMatchMarkets drives every tradeable market of a decided match into
// FINALIZING. Markets already finalizing, resolved or halted are left alone,
// as are markets that never built an engine.
func (r *Router) finalizeMatchMarkets(matchID, winnerTeamID string) {
	for _, mapping := range r.catalog.MarketsForMatch(matchID) {
		eng := r.tradingOf(mapping.MarketID)
		if eng == nil {
			continue
		}

		status := eng.State().Status
		if status == types.TradingFinalizing || status == types.TradingResolved || status == types.TradingHalt {
			continue
		}

		side, _ := mapping.SideForWinner(winnerTeamID)
		r.logger.Info("market-finalizing",
			zap.String("market_id", mapping.MarketID),
			zap.String("match_id", matchID),
			zap.String("winner_team_id", winnerTeamID),
			zap.String("winning_side", string(side)),
		)
		r.publishCancels(eng.Finalize())
	}
}

// maybeResolve settles a FINALIZING market once its last live order is off
// the book, then releases its exposure from the risk ledger.
func (r *Router) maybeResolve(eng *trading.Engine) {
	snap := eng.State()
	if snap.Status != types.TradingFinalizing {
		return
	}

	for _, ord := range snap.OpenOrders {
		if ord.Status == types.OrderPending || ord.Status == types.OrderPlaced {
			return
		}
	}

	eng.Resolve()
	r.risk.ReleaseMarket(eng.MarketID())
}

// truthEngine returns the engine for a match, creating it on first use from
// the catalog's team mapping. Matches absent from the catalog are dropped.
func (r *Router) truthEngine(matchID string) (*truth.Engine, bool) {
	r.mu.RLock()
	eng, ok := r.truths[matchID]
	r.mu.RUnlock()

	if ok {
		return eng, true
	}

	mappings := r.catalog.MarketsForMatch(matchID)
	if len(mappings) == 0 {
		r.logger.Debug("match-not-in-catalog", zap.String("match_id", matchID))

		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if eng, ok := r.truths[matchID]; ok {
		return eng, true
	}

	eng, err := r.truthFactory(matchID, mappings[0].TeamYesID, mappings[0].TeamNoID)
	if err != nil {
		r.logger.Error("truth-engine-create-failed",
			zap.String("match_id", matchID), zap.Error(err))

		return nil, false
	}

	r.truths[matchID] = eng
	r.logger.Info("truth-engine-created",
		zap.String("match_id", matchID),
		zap.String("team_a", mappings[0].TeamYesID),
		zap.String("team_b", mappings[0].TeamNoID),
	)

	return eng, true
}

// tradingEngine returns the engine for a market, creating it on first use.
// Markets absent from the catalog are dropped.
func (r *Router) tradingEngine(marketID string) (*trading.Engine, bool) {
	r.mu.RLock()
	eng, ok := r.tradings[marketID]
	r.mu.RUnlock()

	if ok {
		return eng, true
	}

	if _, ok := r.catalog.MappingForMarket(marketID); !ok {
		r.logger.Debug("market-not-in-catalog", zap.String("market_id", marketID))

		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if eng, ok := r.tradings[marketID]; ok {
		return eng, true
	}

	eng, err := r.tradingFactory(marketID)
	if err != nil {
		r.logger.Error("trading-engine-create-failed",
			zap.String("market_id", marketID), zap.Error(err))

		return nil, false
	}

	r.tradings[marketID] = eng
	r.logger.Info("trading-engine-created", zap.String("market_id", marketID))

	return eng, true
}

// truthOf returns an existing truth engine without creating one.
func (r *Router) truthOf(matchID string) *truth.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.truths[matchID]
}

// tradingOf returns an existing trading engine without creating one.
func (r *Router) tradingOf(marketID string) *trading.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.tradings[marketID]
}

// truthSnapshot lists the truth engines in match-id order.
func (r *Router) truthSnapshot() []*truth.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.truths))
	for id := range r.truths {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	engines := make([]*truth.Engine, 0, len(ids))
	for _, id := range ids {
		engines = append(engines, r.truths[id])
	}

	return engines
}

// tradingSnapshot lists the trading engines in market-id order.
func (r *Router) tradingSnapshot() []*trading.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.tradings))
	for id := range r.tradings {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	engines := make([]*trading.Engine, 0, len(ids))
	for _, id := range ids {
		engines = append(engines, r.tradings[id])
	}

	return engines
}

func (r *Router) publish(ev types.Event) {
	if !r.bus.Publish(ev) {
		r.logger.Warn("republish-rejected",
			zap.String("kind", string(ev.Kind())),
			zap.String("partition", ev.PartitionKey()),
		)
	}
}

func (r *Router) publishCancels(intents []*types.CancelIntent) {
	for _, cancel := range intents {
		r.publish(cancel)
	}
}
