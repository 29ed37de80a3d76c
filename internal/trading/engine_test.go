package trading

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/types"
)

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *clock.MockClock) {
	t.Helper()

	clk := clock.NewMockClock()
	cfg := &Config{
		Logger:                      zaptest.NewLogger(t),
		Clock:                       clk,
		MarketID:                    "mkt-1",
		IdleAfterNoOpportunityTicks: 100,
		TemporalSignalTTLMs:         5000,
		PairCostCap:                 0.975,
		FeeRate:                     0.02,
		StepUSDC:                    25,
		MaxTotalCost:                1500,
		MaxLegImbalanceUSDC:         100,
		MaxConsecutiveRejects:       3,
		MaxCancelFailures:           3,
		LegSelectThresholdShares:    20,
	}

	if mutate != nil {
		mutate(cfg)
	}

	eng, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng, clk
}

func bookWithAsk(price, size float64) *types.OrderBook {
	return &types.OrderBook{Asks: []types.Level{{Price: price, Size: size}}}
}

func emptyBook() *types.OrderBook {
	return &types.OrderBook{}
}

func testOrder(id string, status types.OrderStatus) *types.Order {
	return &types.Order{
		ID:       id,
		MarketID: "mkt-1",
		Side:     types.SideYes,
		Price:    0.5,
		Size:     25,
		Status:   status,
	}
}

// enterBuilding drives a fresh engine from IDLE into BUILDING_PAIR.
func enterBuilding(t *testing.T, eng *Engine) {
	t.Helper()

	if intent := eng.OnOrderBookUpdate(bookWithAsk(0.45, 1000), bookWithAsk(0.50, 1000)); intent == nil {
		t.Fatal("expected an opportunity intent")
	}

	if got := eng.State().Status; got != types.TradingBuildingPair {
		t.Fatalf("status = %s, want BUILDING_PAIR", got)
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	clk := clock.NewMockClock()
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil-config", nil},
		{"nil-logger", &Config{Clock: clk, MarketID: "m"}},
		{"nil-clock", &Config{Logger: logger, MarketID: "m"}},
		{"empty-market-id", &Config{Logger: logger, Clock: clk}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := New(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestInitialState(t *testing.T) {
	t.Parallel()

	eng, clk := newTestEngine(t, nil)
	st := eng.State()

	if st.Status != types.TradingIdle {
		t.Errorf("status = %s, want IDLE", st.Status)
	}

	if st.MarketID != "mkt-1" {
		t.Errorf("market id = %q, want mkt-1", st.MarketID)
	}

	if got := st.Position.TotalCost(); got != 0 {
		t.Errorf("total cost = %v, want 0", got)
	}

	if len(st.OpenOrders) != 0 {
		t.Errorf("open orders = %d, want 0", len(st.OpenOrders))
	}

	if !st.EnteredStateAt.Equal(clk.Now().WallTime) {
		t.Errorf("entered state at = %v, want %v", st.EnteredStateAt, clk.Now().WallTime)
	}

	if eng.CanPlaceOrders() {
		t.Error("CanPlaceOrders = true in IDLE")
	}

	if !eng.IsActive() {
		t.Error("IsActive = false in IDLE")
	}
}

func TestAllowedActionsPerState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, eng *Engine)
		want  []string
	}{
		{
			name:  "idle",
			setup: func(t *testing.T, eng *Engine) {},
			want:  []string{"watch"},
		},
		{
			name: "building-pair",
			setup: func(t *testing.T, eng *Engine) {
				enterBuilding(t, eng)
			},
			want: []string{"buy_yes", "buy_no", "cancel"},
		},
		{
			name: "locked-pair",
			setup: func(t *testing.T, eng *Engine) {
				enterBuilding(t, eng)
				if err := eng.OnFill(types.SideYes, 100, 0.45, "o1"); err != nil {
					t.Fatalf("fill yes: %v", err)
				}
				if err := eng.OnFill(types.SideNo, 100, 0.50, "o2"); err != nil {
					t.Fatalf("fill no: %v", err)
				}
			},
			want: []string{"watch"},
		},
		{
			name: "temporal-active",
			setup: func(t *testing.T, eng *Engine) {
				if !eng.OnTemporalSignal(1000) {
					t.Fatal("temporal signal refused")
				}
			},
			want: []string{"buy_winner", "cancel"},
		},
		{
			name: "finalizing",
			setup: func(t *testing.T, eng *Engine) {
				eng.Finalize()
			},
			want: []string{"cancel_all"},
		},
		{
			name: "resolved",
			setup: func(t *testing.T, eng *Engine) {
				eng.Resolve()
			},
			want: nil,
		},
		{
			name: "halt",
			setup: func(t *testing.T, eng *Engine) {
				eng.Halt("test")
			},
			want: []string{"cancel_all"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			eng, _ := newTestEngine(t, nil)
			tt.setup(t, eng)

			if got := eng.GetAllowedActions(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("allowed actions = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOpportunityEntersBuildingPair(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)

	intent := eng.OnOrderBookUpdate(bookWithAsk(0.45, 1000), bookWithAsk(0.50, 1000))
	if intent == nil {
		t.Fatal("expected an intent")
	}

	if intent.MarketID != "mkt-1" {
		t.Errorf("market id = %q, want mkt-1", intent.MarketID)
	}

	if intent.Side != types.SideYes {
		t.Errorf("side = %s, want YES", intent.Side)
	}

	if !almostEqual(intent.Price, 0.45) {
		t.Errorf("price = %v, want 0.45", intent.Price)
	}

	if !almostEqual(intent.SizeUSDC, 25) {
		t.Errorf("size = %v, want 25", intent.SizeUSDC)
	}

	if intent.Strategy != "pair_arb" {
		t.Errorf("strategy = %q, want pair_arb", intent.Strategy)
	}

	if intent.Reason != "pair_cost_avg=n/a" {
		t.Errorf("reason = %q, want pair_cost_avg=n/a", intent.Reason)
	}

	if intent.IntentID == "" || intent.IdempotencyKey == "" || intent.EventID() == "" {
		t.Error("intent ids must be populated")
	}

	if got := eng.State().Status; got != types.TradingBuildingPair {
		t.Errorf("status = %s, want BUILDING_PAIR", got)
	}

	if !eng.CanPlaceOrders() {
		t.Error("CanPlaceOrders = false in BUILDING_PAIR")
	}
}

func TestLegSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fills    []types.Fill
		bookYes  *types.OrderBook
		bookNo   *types.OrderBook
		wantSide types.Side
		wantNil  bool
	}{
		{
			name:     "yes-ahead-buys-no",
			fills:    []types.Fill{{Side: types.SideYes, Qty: 25, Price: 0.5}},
			bookYes:  bookWithAsk(0.45, 1000),
			bookNo:   bookWithAsk(0.45, 1000),
			wantSide: types.SideNo,
		},
		{
			name:     "no-ahead-buys-yes",
			fills:    []types.Fill{{Side: types.SideNo, Qty: 25, Price: 0.5}},
			bookYes:  bookWithAsk(0.45, 1000),
			bookNo:   bookWithAsk(0.45, 1000),
			wantSide: types.SideYes,
		},
		{
			name:     "balanced-buys-cheaper-yes",
			bookYes:  bookWithAsk(0.45, 1000),
			bookNo:   bookWithAsk(0.50, 1000),
			wantSide: types.SideYes,
		},
		{
			name:     "balanced-buys-cheaper-no",
			bookYes:  bookWithAsk(0.50, 1000),
			bookNo:   bookWithAsk(0.45, 1000),
			wantSide: types.SideNo,
		},
		{
			name:     "tie-buys-yes",
			bookYes:  bookWithAsk(0.48, 1000),
			bookNo:   bookWithAsk(0.48, 1000),
			wantSide: types.SideYes,
		},
		{
			name:     "yes-ask-missing-buys-no",
			bookYes:  emptyBook(),
			bookNo:   bookWithAsk(0.50, 1000),
			wantSide: types.SideNo,
		},
		{
			name:     "no-ask-missing-buys-yes",
			bookYes:  bookWithAsk(0.50, 1000),
			bookNo:   emptyBook(),
			wantSide: types.SideYes,
		},
		{
			name:    "both-asks-missing-no-op",
			bookYes: emptyBook(),
			bookNo:  emptyBook(),
			wantNil: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			eng, _ := newTestEngine(t, nil)
			for _, f := range tt.fills {
				if err := eng.OnFill(f.Side, f.Qty, f.Price, "seed"); err != nil {
					t.Fatalf("seed fill: %v", err)
				}
			}

			intent := eng.OnOrderBookUpdate(tt.bookYes, tt.bookNo)
			if tt.wantNil {
				if intent != nil {
					t.Fatalf("intent = %+v, want nil", intent)
				}
				return
			}

			if intent == nil {
				t.Fatal("expected an intent")
			}

			if intent.Side != tt.wantSide {
				t.Errorf("side = %s, want %s", intent.Side, tt.wantSide)
			}
		})
	}
}

func TestNoOpportunityTicksReturnToIdle(t *testing.T) {
	t.Parallel()

	t.Run("ticks-alone", func(t *testing.T) {
		t.Parallel()

		eng, clk := newTestEngine(t, func(cfg *Config) {
			cfg.IdleAfterNoOpportunityTicks = 3
		})
		enterBuilding(t, eng)

		for i := 0; i < 2; i++ {
			eng.OnTick(clk.NowMs())
		}

		if got := eng.State().Status; got != types.TradingBuildingPair {
			t.Fatalf("status after 2 ticks = %s, want BUILDING_PAIR", got)
		}

		eng.OnTick(clk.NowMs())

		if got := eng.State().Status; got != types.TradingIdle {
			t.Errorf("status after 3 ticks = %s, want IDLE", got)
		}
	})

	t.Run("empty-book-updates-count", func(t *testing.T) {
		t.Parallel()

		eng, clk := newTestEngine(t, func(cfg *Config) {
			cfg.IdleAfterNoOpportunityTicks = 3
		})
		enterBuilding(t, eng)

		eng.OnOrderBookUpdate(emptyBook(), emptyBook())
		eng.OnOrderBookUpdate(emptyBook(), emptyBook())
		eng.OnTick(clk.NowMs())

		if got := eng.State().Status; got != types.TradingIdle {
			t.Errorf("status = %s, want IDLE", got)
		}
	})

	t.Run("approved-intent-resets-counter", func(t *testing.T) {
		t.Parallel()

		eng, clk := newTestEngine(t, func(cfg *Config) {
			cfg.IdleAfterNoOpportunityTicks = 3
		})
		enterBuilding(t, eng)

		eng.OnTick(clk.NowMs())
		eng.OnTick(clk.NowMs())

		if intent := eng.OnOrderBookUpdate(bookWithAsk(0.45, 1000), bookWithAsk(0.50, 1000)); intent == nil {
			t.Fatal("expected an intent")
		}

		eng.OnTick(clk.NowMs())
		eng.OnTick(clk.NowMs())

		if got := eng.State().Status; got != types.TradingBuildingPair {
			t.Fatalf("status = %s, want BUILDING_PAIR after counter reset", got)
		}

		eng.OnTick(clk.NowMs())

		if got := eng.State().Status; got != types.TradingIdle {
			t.Errorf("status = %s, want IDLE", got)
		}
	})
}

func TestPairLockTransition(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)
	enterBuilding(t, eng)

	if err := eng.OnFill(types.SideYes, 100, 0.45, "o1"); err != nil {
		t.Fatalf("fill yes: %v", err)
	}

	if got := eng.State().Status; got != types.TradingBuildingPair {
		t.Fatalf("status after one leg = %s, want BUILDING_PAIR", got)
	}

	if err := eng.OnFill(types.SideNo, 100, 0.50, "o2"); err != nil {
		t.Fatalf("fill no: %v", err)
	}

	st := eng.State()

	if st.Status != types.TradingLockedPair {
		t.Errorf("status = %s, want LOCKED_PAIR", st.Status)
	}

	if got := st.Position.TotalCost(); !almostEqual(got, 95) {
		t.Errorf("total cost = %v, want 95", got)
	}

	if got := st.Position.GuaranteedPnL(); !almostEqual(got, 3) {
		t.Errorf("guaranteed pnl = %v, want 3", got)
	}

	if got := eng.GetAllowedActions(); !reflect.DeepEqual(got, []string{"watch"}) {
		t.Errorf("allowed actions = %v, want [watch]", got)
	}
}

func TestFillMarksLaggingSideForRebalance(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, func(cfg *Config) {
		cfg.StepUSDC = 5
		cfg.MaxLegImbalanceUSDC = 8
	})

	bookYes := bookWithAsk(0.10, 1000)
	bookNo := bookWithAsk(0.12, 1000)

	// Cheaper YES ask starts the pair.
	first := eng.OnOrderBookUpdate(bookYes, bookNo)
	if first == nil || first.Side != types.SideYes {
		t.Fatalf("first intent = %+v, want YES", first)
	}

	// Fills leave shares nearly balanced but quote imbalanced beyond the cap,
	// with no locked profit, so the NO leg gets marked for rebalancing.
	if err := eng.OnFill(types.SideYes, 100, 0.55, "o1"); err != nil {
		t.Fatalf("fill yes: %v", err)
	}
	if err := eng.OnFill(types.SideNo, 90, 0.50, "o2"); err != nil {
		t.Fatalf("fill no: %v", err)
	}

	if got := eng.State().Status; got != types.TradingBuildingPair {
		t.Fatalf("status = %s, want BUILDING_PAIR", got)
	}

	// The mark overrides the cheaper-ask rule on the next evaluation.
	second := eng.OnOrderBookUpdate(bookYes, bookNo)
	if second == nil {
		t.Fatal("expected a rebalance intent")
	}

	if second.Side != types.SideNo {
		t.Errorf("rebalance side = %s, want NO", second.Side)
	}

	if !almostEqual(second.Price, 0.12) {
		t.Errorf("rebalance price = %v, want 0.12", second.Price)
	}

	// The mark is consumed: the next evaluation falls back to the cheaper YES
	// ask, which the imbalance cap then rejects.
	third := eng.OnOrderBookUpdate(bookYes, bookNo)
	if third != nil {
		t.Errorf("third intent = %+v, want nil", third)
	}
}

func TestBreakerTripsOnConsecutiveRejects(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)
	enterBuilding(t, eng)

	eng.TrackOrder(testOrder("o1", types.OrderPending))
	eng.TrackOrder(testOrder("o2", types.OrderPlaced))
	eng.TrackOrder(testOrder("o3", types.OrderRejected))

	if got := eng.OnOrderRejected("ext-1", "insufficient_funds"); len(got) != 0 {
		t.Fatalf("intents after 1 reject = %d, want 0", len(got))
	}

	if got := eng.OnOrderRejected("ext-2", "insufficient_funds"); len(got) != 0 {
		t.Fatalf("intents after 2 rejects = %d, want 0", len(got))
	}

	intents := eng.OnOrderRejected("ext-3", "insufficient_funds")
	if len(intents) != 2 {
		t.Fatalf("intents after 3 rejects = %d, want 2", len(intents))
	}

	wantOrder := []string{"o1", "o2"}
	for i, ci := range intents {
		if ci.OrderID != wantOrder[i] {
			t.Errorf("intent[%d] order = %q, want %q", i, ci.OrderID, wantOrder[i])
		}

		if ci.Reason != "cancel_all" {
			t.Errorf("intent[%d] reason = %q, want cancel_all", i, ci.Reason)
		}

		if ci.MarketID != "mkt-1" {
			t.Errorf("intent[%d] market = %q, want mkt-1", i, ci.MarketID)
		}
	}

	st := eng.State()

	if st.Status != types.TradingHalt {
		t.Errorf("status = %s, want HALT", st.Status)
	}

	if st.ConsecutiveRejects != 3 {
		t.Errorf("consecutive rejects = %d, want 3", st.ConsecutiveRejects)
	}

	if eng.IsActive() {
		t.Error("IsActive = true in HALT")
	}

	if intent := eng.OnOrderBookUpdate(bookWithAsk(0.45, 1000), bookWithAsk(0.50, 1000)); intent != nil {
		t.Errorf("halted engine emitted intent %+v", intent)
	}
}

func TestBreakerTripsOnCancelFailures(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)
	eng.TrackOrder(testOrder("o1", types.OrderPlaced))

	if got := eng.OnCancelFailure("o1"); len(got) != 0 {
		t.Fatalf("intents after 1 failure = %d, want 0", len(got))
	}

	if got := eng.OnCancelFailure("o1"); len(got) != 0 {
		t.Fatalf("intents after 2 failures = %d, want 0", len(got))
	}

	intents := eng.OnCancelFailure("o1")
	if len(intents) != 1 {
		t.Fatalf("intents after 3 failures = %d, want 1", len(intents))
	}

	if intents[0].OrderID != "o1" {
		t.Errorf("intent order = %q, want o1", intents[0].OrderID)
	}

	st := eng.State()

	if st.Status != types.TradingHalt {
		t.Errorf("status = %s, want HALT", st.Status)
	}

	if st.ConsecutiveCancelFailures != 3 {
		t.Errorf("consecutive cancel failures = %d, want 3", st.ConsecutiveCancelFailures)
	}
}

func TestResumeFromHalt(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)

	if eng.ResumeFromHalt() {
		t.Fatal("resume succeeded outside HALT")
	}

	eng.OnOrderRejected("x", "r")
	eng.OnOrderRejected("x", "r")
	eng.OnOrderRejected("x", "r")

	if got := eng.State().Status; got != types.TradingHalt {
		t.Fatalf("status = %s, want HALT", got)
	}

	if !eng.ResumeFromHalt() {
		t.Fatal("resume refused in HALT")
	}

	st := eng.State()

	if st.Status != types.TradingIdle {
		t.Errorf("status = %s, want IDLE", st.Status)
	}

	if st.ConsecutiveRejects != 0 || st.ConsecutiveCancelFailures != 0 {
		t.Errorf("breaker counters = %d/%d, want 0/0",
			st.ConsecutiveRejects, st.ConsecutiveCancelFailures)
	}
}

func TestHaltRefusedWhenAlreadyHalted(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)
	eng.TrackOrder(testOrder("o1", types.OrderPlaced))

	if got := eng.Halt("first"); len(got) != 1 {
		t.Fatalf("intents from first halt = %d, want 1", len(got))
	}

	if got := eng.Halt("second"); len(got) != 0 {
		t.Errorf("intents from repeat halt = %d, want 0", len(got))
	}

	if got := eng.State().Status; got != types.TradingHalt {
		t.Errorf("status = %s, want HALT", got)
	}
}

func TestHaltRefusedWhenResolved(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)
	eng.Resolve()

	if got := eng.Halt("late"); len(got) != 0 {
		t.Errorf("intents = %d, want 0", len(got))
	}

	if got := eng.State().Status; got != types.TradingResolved {
		t.Errorf("status = %s, want RESOLVED", got)
	}
}

func TestFinalizeCancelsOpenOrders(t *testing.T) {
	t.Parallel()

	t.Run("sweeps-live-orders", func(t *testing.T) {
		t.Parallel()

		eng, _ := newTestEngine(t, nil)
		eng.TrackOrder(testOrder("o1", types.OrderPending))
		eng.TrackOrder(testOrder("o2", types.OrderPlaced))
		eng.TrackOrder(testOrder("o3", types.OrderCancelled))

		intents := eng.Finalize()
		if len(intents) != 2 {
			t.Fatalf("intents = %d, want 2", len(intents))
		}

		if intents[0].OrderID != "o1" || intents[1].OrderID != "o2" {
			t.Errorf("intent orders = [%q %q], want [o1 o2]",
				intents[0].OrderID, intents[1].OrderID)
		}

		if got := eng.State().Status; got != types.TradingFinalizing {
			t.Errorf("status = %s, want FINALIZING", got)
		}
	})

	t.Run("refused-from-halt", func(t *testing.T) {
		t.Parallel()

		eng, _ := newTestEngine(t, nil)
		eng.Halt("stop")
		eng.TrackOrder(testOrder("o1", types.OrderPlaced))

		if got := eng.Finalize(); len(got) != 0 {
			t.Errorf("intents = %d, want 0", len(got))
		}

		if got := eng.State().Status; got != types.TradingHalt {
			t.Errorf("status = %s, want HALT", got)
		}
	})

	t.Run("refused-from-resolved", func(t *testing.T) {
		t.Parallel()

		eng, _ := newTestEngine(t, nil)
		eng.Resolve()

		if got := eng.Finalize(); len(got) != 0 {
			t.Errorf("intents = %d, want 0", len(got))
		}
	})
}

func TestResolveIsTerminal(t *testing.T) {
	t.Parallel()

	eng, clk := newTestEngine(t, nil)
	eng.Resolve()

	entered := eng.State().EnteredStateAt

	clk.Advance(10 * time.Second)
	eng.Resolve()

	if got := eng.State().EnteredStateAt; !got.Equal(entered) {
		t.Errorf("repeat resolve restamped entered time: %v != %v", got, entered)
	}

	if intent := eng.OnOrderBookUpdate(bookWithAsk(0.45, 1000), bookWithAsk(0.50, 1000)); intent != nil {
		t.Errorf("resolved engine emitted intent %+v", intent)
	}

	if eng.OnTemporalSignal(clk.NowMs()) {
		t.Error("resolved engine accepted temporal signal")
	}
}

func TestTemporalSignalLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("accepted-from-idle", func(t *testing.T) {
		t.Parallel()

		eng, clk := newTestEngine(t, nil)

		if !eng.OnTemporalSignal(clk.NowMs()) {
			t.Fatal("signal refused in IDLE")
		}

		if got := eng.State().Status; got != types.TradingTemporalActive {
			t.Errorf("status = %s, want TEMPORAL_ACTIVE", got)
		}
	})

	t.Run("refused-outside-idle", func(t *testing.T) {
		t.Parallel()

		eng, clk := newTestEngine(t, nil)
		enterBuilding(t, eng)

		if eng.OnTemporalSignal(clk.NowMs()) {
			t.Error("signal accepted in BUILDING_PAIR")
		}

		if got := eng.State().Status; got != types.TradingBuildingPair {
			t.Errorf("status = %s, want BUILDING_PAIR", got)
		}
	})

	t.Run("expiry-cancels-and-returns-to-idle", func(t *testing.T) {
		t.Parallel()

		eng, clk := newTestEngine(t, nil)
		start := clk.NowMs()

		if !eng.OnTemporalSignal(start) {
			t.Fatal("signal refused")
		}
		eng.TrackOrder(testOrder("o1", types.OrderPending))

		if got := eng.OnTick(start + 4999); len(got) != 0 {
			t.Fatalf("intents before expiry = %d, want 0", len(got))
		}

		if got := eng.State().Status; got != types.TradingTemporalActive {
			t.Fatalf("status before expiry = %s, want TEMPORAL_ACTIVE", got)
		}

		intents := eng.OnTick(start + 5000)
		if len(intents) != 1 {
			t.Fatalf("intents at expiry = %d, want 1", len(intents))
		}

		if intents[0].OrderID != "o1" || intents[0].Reason != "cancel_all" {
			t.Errorf("intent = %+v, want cancel_all for o1", intents[0])
		}

		if got := eng.State().Status; got != types.TradingIdle {
			t.Errorf("status after expiry = %s, want IDLE", got)
		}
	})

	t.Run("profitable-fill-locks", func(t *testing.T) {
		t.Parallel()

		eng, clk := newTestEngine(t, nil)

		// Seeded inventory from an earlier build round.
		if err := eng.OnFill(types.SideYes, 100, 0.45, "seed"); err != nil {
			t.Fatalf("seed fill: %v", err)
		}

		if !eng.OnTemporalSignal(clk.NowMs()) {
			t.Fatal("signal refused")
		}

		if err := eng.OnFill(types.SideNo, 100, 0.50, "o1"); err != nil {
			t.Fatalf("fill: %v", err)
		}

		if got := eng.State().Status; got != types.TradingLockedPair {
			t.Errorf("status = %s, want LOCKED_PAIR", got)
		}
	})

	t.Run("unprofitable-fill-returns-to-idle", func(t *testing.T) {
		t.Parallel()

		eng, clk := newTestEngine(t, nil)
		start := clk.NowMs()

		if !eng.OnTemporalSignal(start) {
			t.Fatal("signal refused")
		}

		if err := eng.OnFill(types.SideYes, 10, 0.50, "o1"); err != nil {
			t.Fatalf("fill: %v", err)
		}

		if got := eng.State().Status; got != types.TradingIdle {
			t.Errorf("status = %s, want IDLE", got)
		}

		// Signal timestamp is cleared with the exit, so a later tick finds
		// nothing to expire.
		if got := eng.OnTick(start + 10000); len(got) != 0 {
			t.Errorf("intents after exit = %d, want 0", len(got))
		}
	})
}

func TestOrderLifecycleCallbacks(t *testing.T) {
	t.Parallel()

	t.Run("placement-success-marks-placed-and-resets-rejects", func(t *testing.T) {
		t.Parallel()

		eng, _ := newTestEngine(t, nil)
		eng.TrackOrder(testOrder("o1", types.OrderPending))
		eng.OnOrderRejected("ext", "r")

		if got := eng.State().ConsecutiveRejects; got != 1 {
			t.Fatalf("consecutive rejects = %d, want 1", got)
		}

		eng.OnPlacementSuccess("o1")
		st := eng.State()

		if st.ConsecutiveRejects != 0 {
			t.Errorf("consecutive rejects = %d, want 0", st.ConsecutiveRejects)
		}

		if got := st.OpenOrders["o1"].Status; got != types.OrderPlaced {
			t.Errorf("order status = %s, want PLACED", got)
		}
	})

	t.Run("rejection-records-reason-and-keeps-order", func(t *testing.T) {
		t.Parallel()

		eng, _ := newTestEngine(t, nil)
		eng.TrackOrder(testOrder("o2", types.OrderPending))
		eng.OnOrderRejected("o2", "bad_price")

		st := eng.State()

		ord, ok := st.OpenOrders["o2"]
		if !ok {
			t.Fatal("rejected order dropped from tracking")
		}

		if ord.Status != types.OrderRejected {
			t.Errorf("order status = %s, want REJECTED", ord.Status)
		}

		if ord.RejectReason != "bad_price" {
			t.Errorf("reject reason = %q, want bad_price", ord.RejectReason)
		}

		if st.ConsecutiveRejects != 1 {
			t.Errorf("consecutive rejects = %d, want 1", st.ConsecutiveRejects)
		}
	})

	t.Run("cancel-success-removes-and-resets-failures", func(t *testing.T) {
		t.Parallel()

		eng, _ := newTestEngine(t, nil)
		eng.TrackOrder(testOrder("o3", types.OrderPlaced))
		eng.OnCancelFailure("o3")

		if got := eng.State().ConsecutiveCancelFailures; got != 1 {
			t.Fatalf("consecutive cancel failures = %d, want 1", got)
		}

		eng.OnCancelSuccess("o3")
		st := eng.State()

		if st.ConsecutiveCancelFailures != 0 {
			t.Errorf("consecutive cancel failures = %d, want 0", st.ConsecutiveCancelFailures)
		}

		if _, ok := st.OpenOrders["o3"]; ok {
			t.Error("cancelled order still tracked")
		}
	})
}

func TestFillRejectsBadPrice(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)

	err := eng.OnFill(types.SideYes, 10, 1.5, "o1")
	if err == nil {
		t.Fatal("expected error for price outside [0,1]")
	}

	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("error type = %T, want *types.ValidationError", err)
	}

	if got := eng.State().Position.TotalCost(); got != 0 {
		t.Errorf("position mutated by refused fill: total cost = %v", got)
	}
}

func TestTransitionsStampTimestamps(t *testing.T) {
	t.Parallel()

	eng, clk := newTestEngine(t, nil)

	clk.Advance(5 * time.Second)
	enterBuilding(t, eng)

	st := eng.State()

	if !st.EnteredStateAt.Equal(clk.Now().WallTime) {
		t.Errorf("entered state at = %v, want %v", st.EnteredStateAt, clk.Now().WallTime)
	}

	if !st.LastActivityAt.Equal(clk.Now().WallTime) {
		t.Errorf("last activity at = %v, want %v", st.LastActivityAt, clk.Now().WallTime)
	}
}

func TestStateSnapshotIsolation(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)
	eng.TrackOrder(testOrder("o1", types.OrderPending))

	snap := eng.State()
	snap.OpenOrders["extra"] = testOrder("extra", types.OrderPending)
	snap.OpenOrders["o1"].Status = types.OrderFailed
	snap.Position.QYes = 999

	fresh := eng.State()

	if _, ok := fresh.OpenOrders["extra"]; ok {
		t.Error("snapshot mutation leaked a new order")
	}

	if got := fresh.OpenOrders["o1"].Status; got != types.OrderPending {
		t.Errorf("order status = %s, want PENDING", got)
	}

	if fresh.Position.QYes != 0 {
		t.Errorf("position q_yes = %v, want 0", fresh.Position.QYes)
	}
}

func BenchmarkOnOrderBookUpdate(b *testing.B) {
	clk := clock.NewMockClock()
	eng, err := New(&Config{
		Logger:   zaptest.NewLogger(b),
		Clock:    clk,
		MarketID: "bench",
	})
	if err != nil {
		b.Fatalf("New: %v", err)
	}

	bookYes := bookWithAsk(0.45, 1000)
	bookNo := bookWithAsk(0.50, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		eng.OnOrderBookUpdate(bookYes, bookNo)
	}
}
