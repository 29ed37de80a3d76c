package app

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/mselser95/esports-arb/internal/bus"
	"github.com/mselser95/esports-arb/internal/catalog"
	"github.com/mselser95/esports-arb/internal/execution"
	"github.com/mselser95/esports-arb/internal/risk"
	"github.com/mselser95/esports-arb/internal/router"
	"github.com/mselser95/esports-arb/internal/testutil"
	"github.com/mselser95/esports-arb/internal/trading"
	"github.com/mselser95/esports-arb/internal/truth"
	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap/zaptest"
)

// TestE2E_PairHappyPath_FillsBothLegsAndResolves drives the complete pair
// flow through a live bus.
//
// Flow:
// 1. A tier-B MATCH_STARTED brings the match to LIVE
// 2. A book quoting YES 0.45 + NO 0.50 = 0.95 < 0.975 arms the market and
//    buys the YES leg (cheaper ask first)
// 3. The paper executor fills at the intent price; the fill lands back on
//    the bus and grows the position
// 4. A second identical book forces the lagging NO leg (share imbalance
//    beyond the threshold overrides price)
// 5. Tier-B then tier-A MATCH_ENDED events finalize the truth state
// 6. A clock tick settles the market: FINALIZING with no live orders
//    resolves, and the recorder has both intents plus the final.
func TestE2E_PairHappyPath_FillsBothLegsAndResolves(t *testing.T) {
	const (
		matchID  = "match-og-liquid"
		marketID = "mkt-og-series"
		yesToken = "tok-yes-3"
		noToken  = "tok-no-3"
		winner   = "og"
	)

	logger := zaptest.NewLogger(t)
	clk := clock.NewSystemClock()

	eventBus, err := bus.New(&bus.Config{
		Logger:           logger,
		Clock:            clk,
		MaxQueueSize:     1000,
		OverflowPolicy:   bus.PolicyDrop,
		HandlerTimeout:   5 * time.Second,
		MaxRetryAttempts: 3,
		RetryBaseDelay:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("create bus: %v", err)
	}

	registry, err := catalog.New(&catalog.Config{
		Logger:       logger,
		MappingsFile: testutil.WriteMappings(t, testutil.SampleMappingsYAML),
	})
	if err != nil {
		t.Fatalf("create catalog: %v", err)
	}

	riskMonitor, err := risk.New(&risk.Config{
		Logger:               logger,
		Clock:                clk,
		Publisher:            eventBus,
		MaxDailyLoss:         500,
		MaxPositionPerMarket: 1500,
		MaxTotalExposure:     5000,
		FeeRate:              0.02,
	})
	if err != nil {
		t.Fatalf("create risk monitor: %v", err)
	}

	store := testutil.NewMockStorage()

	rt, err := router.New(&router.Config{
		Logger:  logger,
		Bus:     eventBus,
		Catalog: registry,
		Risk:    riskMonitor,
		Storage: store,
		TruthFactory: func(id, teamA, teamB string) (*truth.Engine, error) {
			return truth.New(&truth.Config{
				Logger:                  logger,
				Clock:                   clk,
				MatchID:                 id,
				TeamAID:                 teamA,
				TeamBID:                 teamB,
				TierASources:            []string{"grid"},
				RequiredSourcesForFinal: 2,
			})
		},
		TradingFactory: func(id string) (*trading.Engine, error) {
			return trading.New(&trading.Config{
				Logger:   logger,
				Clock:    clk,
				MarketID: id,
			})
		},
	})
	if err != nil {
		t.Fatalf("create router: %v", err)
	}

	executor, err := execution.New(&execution.Config{
		Logger:    logger,
		Clock:     clk,
		Publisher: eventBus,
		Callbacks: rt,
	})
	if err != nil {
		t.Fatalf("create executor: %v", err)
	}

	rt.AttachExecutor(executor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eventBus.Start(ctx); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	defer eventBus.Stop()

	if err := rt.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	defer rt.Stop()

	// === MATCH GOES LIVE ===
	publish(t, eventBus, testutil.MatchStarted(matchID, "pandascore", types.TierB, clk.NowMs()))

	testutil.WaitFor(t, 5*time.Second, func() bool {
		st, ok := rt.TruthStates()[matchID]
		return ok && st.Status == types.TruthLive
	}, "match to reach LIVE")

	// === FIRST LEG: YES at the cheaper ask ===
	publish(t, eventBus, testutil.Book(marketID, yesToken, noToken, 0.45, 0.50, clk.NowMs()))

	testutil.WaitFor(t, 5*time.Second, func() bool {
		st, ok := rt.TradingStates()[marketID]
		return ok && st.Position != nil && st.Position.QYes > 0
	}, "YES leg to fill")

	// === SECOND LEG: share imbalance forces NO ===
	publish(t, eventBus, testutil.Book(marketID, yesToken, noToken, 0.45, 0.50, clk.NowMs()))

	testutil.WaitFor(t, 5*time.Second, func() bool {
		st, ok := rt.TradingStates()[marketID]
		return ok && st.Position != nil && st.Position.QNo > 0
	}, "NO leg to fill")

	snap := rt.TradingStates()[marketID]
	if snap.Status != types.TradingBuildingPair {
		t.Errorf("expected BUILDING_PAIR after two fills, got %s", snap.Status)
	}

	if cost := snap.Position.TotalCost(); math.Abs(cost-50) > 1e-9 {
		t.Errorf("expected 50 USDC spent across both legs, got %.2f", cost)
	}

	// === MATCH ENDS: tier-B report, tier-A confirmation ===
	publish(t, eventBus, testutil.MatchEnded(matchID, "pandascore", winner, types.TierB, clk.NowMs()))
	publish(t, eventBus, testutil.MatchEnded(matchID, "grid", winner, types.TierA, clk.NowMs()))

	testutil.WaitFor(t, 5*time.Second, func() bool {
		st, ok := rt.TruthStates()[matchID]
		return ok && st.Status == types.TruthFinalized
	}, "truth to finalize")

	if st := rt.TruthStates()[matchID]; st.WinnerTeamID != winner {
		t.Errorf("expected winner %q, got %q", winner, st.WinnerTeamID)
	}

	// === SETTLEMENT: a tick resolves the finalizing market ===
	now := clk.NowMs()
	publish(t, eventBus, &types.ClockTick{BaseEvent: types.NewBase(now), NowMs: now})

	testutil.WaitFor(t, 5*time.Second, func() bool {
		return rt.TradingStates()[marketID].Status == types.TradingResolved
	}, "market to resolve")

	// === RECORDER SAW THE FLOW ===
	intents := store.Intents()
	if len(intents) != 2 {
		t.Fatalf("expected 2 recorded intents, got %d", len(intents))
	}

	sides := map[types.Side]bool{}
	for _, intent := range intents {
		sides[intent.Side] = true

		if intent.MarketID != marketID {
			t.Errorf("intent for unexpected market %q", intent.MarketID)
		}

		if intent.Strategy != "pair_arb" {
			t.Errorf("expected pair_arb strategy, got %q", intent.Strategy)
		}
	}

	if !sides[types.SideYes] || !sides[types.SideNo] {
		t.Errorf("expected one intent per side, got %v", sides)
	}

	finals := store.Finals()
	if len(finals) != 1 {
		t.Fatalf("expected 1 recorded final, got %d", len(finals))
	}

	if finals[0].MatchID != matchID || finals[0].WinnerTeamID != winner {
		t.Errorf("recorded final %s/%s, want %s/%s",
			finals[0].MatchID, finals[0].WinnerTeamID, matchID, winner)
	}

	if n := eventBus.DLQSize(); n != 0 {
		t.Errorf("expected empty DLQ, got %d entries", n)
	}
}

func publish(t *testing.T, eventBus *bus.Bus, ev types.Event) {
	t.Helper()

	if !eventBus.Publish(ev) {
		t.Fatalf("publish %s rejected", ev.Kind())
	}
}
