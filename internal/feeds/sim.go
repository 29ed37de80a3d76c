package feeds

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mselser95/esports-arb/internal/catalog"
	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/types"
)

// The sim plays two imaginary providers: a tier-B live scorer that drives
// the match and a tier-A official feed that confirms the outcome one round
// later.
const (
	simLiveSource     = "sim-live"
	simOfficialSource = "sim-official"
)

const (
	// meanReversion pulls the mid back toward 0.5 each step.
	meanReversion = 0.08

	// scoreEveryRounds spaces SCORE_UPDATE events while a match is live.
	scoreEveryRounds = 5
)

// SimConfig configures the deterministic paper-mode feed.
type SimConfig struct {
	Logger  *zap.Logger
	Clock   clock.Clock
	Bus     Publisher
	Catalog *catalog.Registry

	// BookUpdatesPerSec caps the publish rate. Defaults to 10.
	BookUpdatesPerSec float64

	// Seed fixes the random walk; the same seed replays the same session.
	// Defaults to 1.
	Seed int64

	// Spread is the quoted bid/ask width. Defaults to 0.02.
	Spread float64

	// Volatility is the per-step noise on the mid and on each side's quote.
	// Defaults to 0.02.
	Volatility float64

	// RoundsToStart and RoundsToEnd place MATCH_STARTED and MATCH_ENDED on
	// the round counter, where one round is a full sweep over the catalog.
	// Default to 3 and 40.
	RoundsToStart int
	RoundsToEnd   int
}

// matchScript tracks one simulated match through its lifecycle.
type matchScript struct {
	matchID   string
	teamA     string
	teamB     string
	scoreA    int
	scoreB    int
	started   bool
	ended     bool
	confirmed bool
	winner    string
}

// SimFeed publishes a scripted session: mean-reverting books for every
// catalog market plus start/score/end match events for every catalog match.
// Quotes are deliberately a little inefficient so the pair strategy finds
// entries. Everything derives from the seed; replays are exact.
type SimFeed struct {
	logger *zap.Logger
	clk    clock.Clock
	bus    Publisher

	updatesPerSec float64
	spread        float64
	vol           float64
	roundsToStart int
	roundsToEnd   int

	rng     *rand.Rand
	markets []*types.MarketMapping
	prices  map[string]float64
	scripts []*matchScript
	seq     map[string]int64

	cursor int
	round  int
}

// NewSimFeed builds the feed from the catalog snapshot.
func NewSimFeed(cfg *SimConfig) (*SimFeed, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}

	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}

	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog cannot be nil")
	}

	if cfg.BookUpdatesPerSec <= 0 {
		cfg.BookUpdatesPerSec = 10
	}

	if cfg.Seed == 0 {
		cfg.Seed = 1
	}

	if cfg.Spread <= 0 {
		cfg.Spread = 0.02
	}

	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.02
	}

	if cfg.RoundsToStart <= 0 {
		cfg.RoundsToStart = 3
	}

	if cfg.RoundsToEnd <= 0 {
		cfg.RoundsToEnd = 40
	}

	if cfg.RoundsToEnd <= cfg.RoundsToStart {
		return nil, fmt.Errorf("rounds_to_end (%d) must be greater than rounds_to_start (%d)",
			cfg.RoundsToEnd, cfg.RoundsToStart)
	}

	markets := cfg.Catalog.All()
	if len(markets) == 0 {
		return nil, fmt.Errorf("catalog has no markets")
	}

	f := &SimFeed{
		logger:        cfg.Logger.With(zap.String("feed", "sim")),
		clk:           cfg.Clock,
		bus:           cfg.Bus,
		updatesPerSec: cfg.BookUpdatesPerSec,
		spread:        cfg.Spread,
		vol:           cfg.Volatility,
		roundsToStart: cfg.RoundsToStart,
		roundsToEnd:   cfg.RoundsToEnd,
		rng:           rand.New(rand.NewSource(cfg.Seed)),
		markets:       markets,
		prices:        make(map[string]float64, len(markets)),
		seq:           make(map[string]int64),
	}

	for _, m := range markets {
		f.prices[m.MarketID] = 0.5
	}

	// One script per match, teams taken from its first mapping. All() is
	// sorted by market id, so the choice is stable across runs.
	seen := make(map[string]bool)
	for _, m := range markets {
		if seen[m.MatchID] {
			continue
		}

		seen[m.MatchID] = true
		f.scripts = append(f.scripts, &matchScript{
			matchID: m.MatchID,
			teamA:   m.TeamYesID,
			teamB:   m.TeamNoID,
		})
	}

	sort.Slice(f.scripts, func(i, j int) bool { return f.scripts[i].matchID < f.scripts[j].matchID })

	return f, nil
}

// Name implements Adapter.
func (f *SimFeed) Name() string { return "sim" }

// Run publishes until ctx ends, pacing book updates with a rate limiter.
// Match events ride along on round boundaries and are not counted against
// the cap.
func (f *SimFeed) Run(ctx context.Context) error {
	f.logger.Info("sim-feed-starting",
		zap.Int("markets", len(f.markets)),
		zap.Int("matches", len(f.scripts)),
		zap.Float64("book_updates_per_sec", f.updatesPerSec))

	limiter := rate.NewLimiter(rate.Limit(f.updatesPerSec), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				f.logger.Info("sim-feed-stopped")
				return nil
			}

			return fmt.Errorf("rate limit wait: %w", err)
		}

		f.step()
	}
}

// step emits one book update and, when a sweep over the catalog completes,
// advances every match script by one round.
func (f *SimFeed) step() {
	f.publish(f.nextBook(f.markets[f.cursor]))

	f.cursor++
	if f.cursor == len(f.markets) {
		f.cursor = 0
		f.round++
		f.advanceScripts()
	}
}

// nextBook advances the market's mid and quotes both sides around it. Each
// side carries its own noise, so the YES+NO ask sum dips below fair now and
// then instead of sitting pinned at 1 + spread.
func (f *SimFeed) nextBook(m *types.MarketMapping) *types.BookUpdate {
	mid := f.prices[m.MarketID]
	mid += meanReversion*(0.5-mid) + f.vol*f.rng.NormFloat64()
	mid = clamp(mid, 0.05, 0.95)
	f.prices[m.MarketID] = mid

	half := f.spread / 2
	yesAsk := clamp(mid+half+f.vol*f.rng.NormFloat64(), 0.02, 0.99)
	noAsk := clamp(1-mid+half+f.vol*f.rng.NormFloat64(), 0.02, 0.99)

	return &types.BookUpdate{
		BaseEvent: types.NewBase(f.clk.NowMs()),
		MarketID:  m.MarketID,
		Yes:       f.sideBook(m.YesTokenID, yesAsk),
		No:        f.sideBook(m.NoTokenID, noAsk),
	}
}

// sideBook quotes one token: a best ask, a deeper second ask, and a bid one
// spread below.
func (f *SimFeed) sideBook(tokenID string, ask float64) *types.OrderBook {
	size := 200 + f.rng.Float64()*300

	return &types.OrderBook{
		TokenID: tokenID,
		Bids: []types.Level{
			{Price: clamp(ask-f.spread, 0.01, 0.98), Size: size},
		},
		Asks: []types.Level{
			{Price: ask, Size: size},
			{Price: clamp(ask+0.01, 0.02, 0.99), Size: size * 2},
		},
	}
}

// advanceScripts moves every match one round forward. A match starts at
// roundsToStart, takes a score update every scoreEveryRounds rounds, ends at
// roundsToEnd from the live scorer, and is confirmed by the official feed on
// the following round. Confirmed matches go quiet.
func (f *SimFeed) advanceScripts() {
	for _, s := range f.scripts {
		if s.confirmed {
			continue
		}

		switch {
		case !s.started && f.round >= f.roundsToStart:
			s.started = true
			f.publish(f.matchEvent(s, simLiveSource, types.TierB, types.MatchStarted, nil))
			f.logger.Info("sim-match-started", zap.String("match_id", s.matchID))

		case s.started && !s.ended && f.round >= f.roundsToEnd:
			s.ended = true
			s.winner = f.pickWinner(s)
			f.publish(f.matchEvent(s, simLiveSource, types.TierB, types.MatchEnded, map[string]interface{}{
				"winner_team_id": s.winner,
				"team_a_score":   s.scoreA,
				"team_b_score":   s.scoreB,
			}))
			f.logger.Info("sim-match-ended",
				zap.String("match_id", s.matchID),
				zap.String("winner_team_id", s.winner))

		case s.ended:
			s.confirmed = true
			f.publish(f.matchEvent(s, simOfficialSource, types.TierA, types.MatchEnded, map[string]interface{}{
				"winner_team_id": s.winner,
			}))
			f.logger.Info("sim-match-confirmed", zap.String("match_id", s.matchID))

		case s.started && (f.round-f.roundsToStart)%scoreEveryRounds == 0:
			if f.rng.Intn(2) == 0 {
				s.scoreA++
			} else {
				s.scoreB++
			}

			f.publish(f.matchEvent(s, simLiveSource, types.TierB, types.ScoreUpdate, map[string]interface{}{
				"team_a_score": s.scoreA,
				"team_b_score": s.scoreB,
			}))
		}
	}
}

// pickWinner takes the score leader, or a coin flip on a tie.
func (f *SimFeed) pickWinner(s *matchScript) string {
	switch {
	case s.scoreA > s.scoreB:
		return s.teamA
	case s.scoreB > s.scoreA:
		return s.teamB
	}

	if f.rng.Intn(2) == 0 {
		return s.teamA
	}

	return s.teamB
}

// matchEvent builds an event with a per-source sequence number and a
// provider-style event id.
func (f *SimFeed) matchEvent(s *matchScript, source string, tier types.Tier,
	et types.MatchEventType, payload map[string]interface{}) *types.MatchEvent {
	key := s.matchID + "|" + source
	f.seq[key]++
	seq := f.seq[key]

	return &types.MatchEvent{
		BaseEvent:     types.NewBase(f.clk.NowMs()),
		MatchID:       s.matchID,
		EventType:     et,
		Source:        source,
		SourceTier:    tier,
		SourceEventID: fmt.Sprintf("%s-%s-%d", source, s.matchID, seq),
		Seq:           &seq,
		Payload:       payload,
	}
}

func (f *SimFeed) publish(ev types.Event) {
	if !f.bus.Publish(ev) {
		f.logger.Debug("sim-publish-rejected",
			zap.String("kind", string(ev.Kind())),
			zap.String("partition", ev.PartitionKey()))
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
