// Package testutil provides fixtures and mocks shared by integration tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/mselser95/esports-arb/pkg/types"
)

// SampleMappingsYAML maps three binary markets onto two matches: a two-map
// CS2 series and a single Dota 2 series market. Team and token ids line up
// with the event builders below.
const SampleMappingsYAML = `
markets:
  - market_id: mkt-navi-map1
    match_id: match-navi-faze
    slug: navi-vs-faze-map1
    game: cs2
    yes_token_id: tok-yes-1
    no_token_id: tok-no-1
    team_yes_id: navi
    team_no_id: faze
  - market_id: mkt-navi-map2
    match_id: match-navi-faze
    slug: navi-vs-faze-map2
    game: cs2
    yes_token_id: tok-yes-2
    no_token_id: tok-no-2
    team_yes_id: navi
    team_no_id: faze
  - market_id: mkt-og-series
    match_id: match-og-liquid
    slug: og-vs-liquid
    game: dota2
    yes_token_id: tok-yes-3
    no_token_id: tok-no-3
    team_yes_id: og
    team_no_id: liquid
`

// WriteMappings writes a mappings file into a per-test temp dir and returns
// its path.
func WriteMappings(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "markets.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write mappings file: %v", err)
	}

	return path
}

// MatchStarted builds a MATCH_STARTED event from the given source. Every
// builder stamps a fresh provider event id so truth-engine dedup never
// collapses two fixture events.
func MatchStarted(matchID, source string, tier types.Tier, nowMs int64) *types.MatchEvent {
	return &types.MatchEvent{
		BaseEvent:     types.NewBase(nowMs),
		MatchID:       matchID,
		EventType:     types.MatchStarted,
		Source:        source,
		SourceTier:    tier,
		SourceEventID: uuid.NewString(),
	}
}

// MatchEnded builds a MATCH_ENDED event naming the winner.
func MatchEnded(matchID, source, winnerTeamID string, tier types.Tier, nowMs int64) *types.MatchEvent {
	return &types.MatchEvent{
		BaseEvent:     types.NewBase(nowMs),
		MatchID:       matchID,
		EventType:     types.MatchEnded,
		Source:        source,
		SourceTier:    tier,
		SourceEventID: uuid.NewString(),
		Payload: map[string]interface{}{
			"winner_team_id": winnerTeamID,
		},
	}
}

// ScoreUpdate builds a SCORE_UPDATE event carrying absolute scores.
func ScoreUpdate(matchID, source string, scoreA, scoreB int, tier types.Tier, nowMs int64) *types.MatchEvent {
	return &types.MatchEvent{
		BaseEvent:     types.NewBase(nowMs),
		MatchID:       matchID,
		EventType:     types.ScoreUpdate,
		Source:        source,
		SourceTier:    tier,
		SourceEventID: uuid.NewString(),
		Payload: map[string]interface{}{
			"team_a_score": scoreA,
			"team_b_score": scoreB,
		},
	}
}

// Book builds a one-level book snapshot quoting an ask and a slightly lower
// bid on both sides.
func Book(marketID, yesTokenID, noTokenID string, yesAsk, noAsk float64, nowMs int64) *types.BookUpdate {
	return &types.BookUpdate{
		BaseEvent: types.NewBase(nowMs),
		MarketID:  marketID,
		Yes: &types.OrderBook{
			TokenID: yesTokenID,
			Bids:    []types.Level{{Price: yesAsk - 0.01, Size: 100}},
			Asks:    []types.Level{{Price: yesAsk, Size: 200}},
		},
		No: &types.OrderBook{
			TokenID: noTokenID,
			Bids:    []types.Level{{Price: noAsk - 0.01, Size: 100}},
			Asks:    []types.Level{{Price: noAsk, Size: 200}},
		},
	}
}
