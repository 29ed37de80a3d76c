// Package truth turns best-effort multi-source match events into a monotone
// per-match view with an explicit confidence. One engine owns one match; its
// methods are called from that match's bus partition, so processing is
// serial. Readers get value snapshots.
package truth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"sync"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/types"
)

// Confidence seeded by the tier of the source reporting MATCH_ENDED, and the
// per-tier bump and ceiling applied by later agreeing sources.
const (
	seedTierA = 0.90
	seedTierB = 0.80
	seedTierC = 0.70

	bumpTierA, capTierA = 0.10, 1.0
	bumpTierB, capTierB = 0.08, 0.95
	bumpTierC, capTierC = 0.03, 0.90
)

// Config holds the configuration for one truth engine.
type Config struct {
	Logger *zap.Logger
	Clock  clock.Clock

	MatchID string
	TeamAID string
	TeamBID string

	// ConfirmThreshold finalizes once confidence reaches it. Default 0.90.
	ConfirmThreshold float64
	// MaxWaitMs finalizes PENDING_CONFIRM on tick after this long. Default 10000.
	MaxWaitMs int64
	// RequiredSourcesForFinal finalizes once this many sources agree. Default 2.
	RequiredSourcesForFinal int
	// AllowedSkewMs tolerates timestamps this far behind the newest seen. Default 2000.
	AllowedSkewMs int64
	// TierASources finalize on their own confirmation.
	TierASources []string
}

// Engine is the per-match truth state machine.
type Engine struct {
	logger *zap.Logger
	clock  clock.Clock

	confirmThreshold float64
	maxWaitMs        int64
	requiredSources  int
	allowedSkewMs    int64
	tierASources     map[string]struct{}

	mu    sync.Mutex
	state *types.TruthState
}

// New creates a new truth engine in PRE_MATCH.
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

	if cfg.MatchID == "" {
		return nil, fmt.Errorf("match id cannot be empty")
	}

	confirmThreshold := cfg.ConfirmThreshold
	if confirmThreshold <= 0 {
		confirmThreshold = 0.90
	}

	maxWaitMs := cfg.MaxWaitMs
	if maxWaitMs <= 0 {
		maxWaitMs = 10000
	}

	requiredSources := cfg.RequiredSourcesForFinal
	if requiredSources <= 0 {
		requiredSources = 2
	}

	allowedSkewMs := cfg.AllowedSkewMs
	if allowedSkewMs <= 0 {
		allowedSkewMs = 2000
	}

	tierA := make(map[string]struct{}, len(cfg.TierASources))
	for _, src := range cfg.TierASources {
		tierA[src] = struct{}{}
	}

	return &Engine{
		logger:           cfg.Logger.With(zap.String("match_id", cfg.MatchID)),
		clock:            cfg.Clock,
		confirmThreshold: confirmThreshold,
		maxWaitMs:        maxWaitMs,
		requiredSources:  requiredSources,
		allowedSkewMs:    allowedSkewMs,
		tierASources:     tierA,
		state:            types.NewTruthState(cfg.MatchID, cfg.TeamAID, cfg.TeamBID),
	}, nil
}

// MatchID returns the match this engine owns.
func (e *Engine) MatchID() string {
	return e.state.MatchID
}

// State returns an independent snapshot of the current truth state.
func (e *Engine) State() types.TruthState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.Snapshot()
}

// IsEffectivelyFinal reports whether the outcome is settled enough to trade on.
func (e *Engine) IsEffectivelyFinal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.IsEffectivelyFinal()
}

// WinnerIfFinal returns the winner only when the outcome is effectively final.
func (e *Engine) WinnerIfFinal() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.WinnerIfFinal()
}

// OnEvent processes one normalized match event. It returns a *types.TruthDelta
// when observable state changed, a *types.TruthFinal when the outcome
// finalized, or nil. Duplicates and out-of-order events are dropped, so
// replaying an admitted stream is idempotent.
func (e *Engine) OnEvent(ev *types.MatchEvent) types.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isDuplicate(ev) {
		EventsDroppedTotal.WithLabelValues("duplicate").Inc()
		e.logger.Debug("truth-duplicate-event-ignored",
			zap.String("source_event_id", ev.SourceEventID),
			zap.String("source", ev.Source),
		)
		return nil
	}

	if e.isOutOfOrder(ev) {
		EventsDroppedTotal.WithLabelValues("out_of_order").Inc()
		e.logger.Warn("truth-out-of-order-event-dropped",
			zap.Int64("event_ts", ev.TimestampMs()),
			zap.Int64("last_ts", e.state.LastEventMs),
			zap.String("source", ev.Source),
		)
		return nil
	}

	if ev.TimestampMs() > e.state.LastEventMs {
		e.state.LastEventMs = ev.TimestampMs()
	}

	EventsProcessedTotal.WithLabelValues(string(ev.EventType)).Inc()

	switch e.state.Status {
	case types.TruthPreMatch:
		return e.onPreMatch(ev)
	case types.TruthLive:
		return e.onLive(ev)
	case types.TruthPaused:
		return e.onPaused(ev)
	case types.TruthPendingConfirm:
		return e.onPending(ev)
	case types.TruthFinalized:
		e.onFinal(ev)
		return nil
	}

	return nil
}

// Tick finalizes a PENDING_CONFIRM match whose confirmation window expired.
// Call it on every clock tick.
func (e *Engine) Tick(nowMs int64) *types.TruthFinal {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status != types.TruthPendingConfirm || e.state.EndedAtMs == 0 {
		return nil
	}

	elapsed := nowMs - e.state.EndedAtMs
	if elapsed < e.maxWaitMs {
		return nil
	}

	e.logger.Info("truth-finalizing-on-timeout", zap.Int64("elapsed_ms", elapsed))

	return e.finalize("timeout")
}

func (e *Engine) onPreMatch(ev *types.MatchEvent) types.Event {
	switch ev.EventType {
	case types.MatchStarted:
		e.state.Status = types.TruthLive
		e.logger.Info("truth-match-started", zap.String("source", ev.Source))
		return e.delta(e.state.Confidence, "status")

	case types.MatchPaused:
		// Rare but allowed: pre-match technical pause.
		e.state.Status = types.TruthPaused
		return e.delta(e.state.Confidence, "status")
	}

	return nil
}

func (e *Engine) onLive(ev *types.MatchEvent) types.Event {
	switch ev.EventType {
	case types.MatchPaused:
		e.state.Status = types.TruthPaused
		return e.delta(e.state.Confidence, "status")

	case types.ScoreUpdate:
		oldA, oldB := e.state.ScoreA, e.state.ScoreB
		e.state.ScoreA = payloadInt(ev.Payload, "team_a_score", e.state.ScoreA)
		e.state.ScoreB = payloadInt(ev.Payload, "team_b_score", e.state.ScoreB)

		if e.state.ScoreA != oldA || e.state.ScoreB != oldB {
			return e.delta(e.state.Confidence, "score")
		}
		return nil

	case types.RoundEnded:
		e.state.RoundIndex = payloadInt(ev.Payload, "round_index", e.state.RoundIndex)
		return e.delta(0.6, "round")

	case types.MapEnded:
		e.state.MapIndex = payloadInt(ev.Payload, "map_index", e.state.MapIndex)
		return e.delta(0.75, "map")

	case types.MatchEnded:
		return e.enterPendingConfirm(ev)
	}

	return nil
}

func (e *Engine) onPaused(ev *types.MatchEvent) types.Event {
	switch ev.EventType {
	case types.MatchResumed:
		e.state.Status = types.TruthLive
		return e.delta(e.state.Confidence, "status")

	case types.MatchEnded:
		return e.enterPendingConfirm(ev)
	}

	return nil
}

func (e *Engine) onPending(ev *types.MatchEvent) types.Event {
	if ev.EventType != types.MatchEnded {
		return nil
	}

	winner := payloadString(ev.Payload, "winner_team_id")
	if winner == e.state.WinnerTeamID {
		e.addConfirmation(ev.Source, ev.SourceTier)

		if e.shouldFinalize() {
			return e.finalize("confirmation")
		}
		return nil
	}

	// Contradiction: the reported outcome disagrees with the pending one.
	// Everything outcome-related resets and the match goes back to LIVE.
	ContradictionsTotal.Inc()
	e.logger.Warn("truth-contradiction-detected",
		zap.String("expected_winner", e.state.WinnerTeamID),
		zap.String("received_winner", winner),
		zap.String("source", ev.Source),
	)

	e.state.Status = types.TruthLive
	e.state.WinnerTeamID = ""
	e.state.Confidence = 0
	e.state.SourcesConfirming = make(map[string]struct{})
	e.state.EndedAtMs = 0
	Confidence.WithLabelValues(e.state.MatchID).Set(0)

	return e.delta(0, "contradiction")
}

func (e *Engine) onFinal(ev *types.MatchEvent) {
	if ev.EventType == types.Correction {
		e.logger.Warn("truth-correction-after-final", zap.Any("payload", ev.Payload))
	}
}

// enterPendingConfirm records the reported outcome, seeds confidence from the
// source tier, and finalizes immediately when the seeding source alone
// satisfies a finalization criterion.
func (e *Engine) enterPendingConfirm(ev *types.MatchEvent) types.Event {
	e.state.Status = types.TruthPendingConfirm
	e.state.WinnerTeamID = payloadString(ev.Payload, "winner_team_id")
	e.state.EndedAtMs = ev.TimestampMs()
	e.state.SourcesConfirming = map[string]struct{}{ev.Source: {}}

	switch ev.SourceTier {
	case types.TierA:
		e.state.Confidence = seedTierA
	case types.TierB:
		e.state.Confidence = seedTierB
	default:
		e.state.Confidence = seedTierC
	}
	Confidence.WithLabelValues(e.state.MatchID).Set(e.state.Confidence)

	e.logger.Info("truth-match-ended-pending-confirmation",
		zap.String("winner", e.state.WinnerTeamID),
		zap.Float64("confidence", e.state.Confidence),
		zap.String("source", ev.Source),
	)

	if e.shouldFinalize() {
		return e.finalize("seed")
	}

	return e.delta(e.state.Confidence, "status")
}

func (e *Engine) addConfirmation(source string, tier types.Tier) {
	if _, counted := e.state.SourcesConfirming[source]; counted {
		return
	}
	e.state.SourcesConfirming[source] = struct{}{}

	switch tier {
	case types.TierA:
		e.state.Confidence = math.Min(capTierA, e.state.Confidence+bumpTierA)
	case types.TierB:
		e.state.Confidence = math.Min(capTierB, e.state.Confidence+bumpTierB)
	default:
		e.state.Confidence = math.Min(capTierC, e.state.Confidence+bumpTierC)
	}
	Confidence.WithLabelValues(e.state.MatchID).Set(e.state.Confidence)

	e.logger.Debug("truth-confirmation-added",
		zap.String("source", source),
		zap.String("tier", string(tier)),
		zap.Float64("confidence", e.state.Confidence),
		zap.Int("sources", len(e.state.SourcesConfirming)),
	)
}

func (e *Engine) shouldFinalize() bool {
	if e.state.Confidence >= e.confirmThreshold {
		return true
	}

	for src := range e.state.SourcesConfirming {
		if _, ok := e.tierASources[src]; ok {
			return true
		}
	}

	return len(e.state.SourcesConfirming) >= e.requiredSources
}

func (e *Engine) finalize(trigger string) *types.TruthFinal {
	e.state.Status = types.TruthFinalized
	e.state.FinalizedAtMs = e.clock.NowMs()

	confirmed := make([]string, 0, len(e.state.SourcesConfirming))
	for src := range e.state.SourcesConfirming {
		confirmed = append(confirmed, src)
	}
	sort.Strings(confirmed)

	FinalizationsTotal.WithLabelValues(trigger).Inc()
	e.logger.Info("truth-match-finalized",
		zap.String("winner", e.state.WinnerTeamID),
		zap.Float64("confidence", e.state.Confidence),
		zap.Strings("confirmed_by", confirmed),
		zap.String("trigger", trigger),
	)

	return &types.TruthFinal{
		BaseEvent:     types.NewBase(e.state.FinalizedAtMs),
		MatchID:       e.state.MatchID,
		WinnerTeamID:  e.state.WinnerTeamID,
		Confidence:    e.state.Confidence,
		ConfirmedBy:   confirmed,
		FinalizedAtMs: e.state.FinalizedAtMs,
	}
}

func (e *Engine) delta(confidence float64, reason string) *types.TruthDelta {
	return &types.TruthDelta{
		BaseEvent:  types.NewBase(e.clock.NowMs()),
		MatchID:    e.state.MatchID,
		Status:     e.state.Status,
		ScoreA:     e.state.ScoreA,
		ScoreB:     e.state.ScoreB,
		MapIndex:   e.state.MapIndex,
		RoundIndex: e.state.RoundIndex,
		Confidence: confidence,
		Reason:     reason,
	}
}

// isDuplicate records the event's identity and reports whether it was seen
// before. Events without a source id are identified by a content hash.
func (e *Engine) isDuplicate(ev *types.MatchEvent) bool {
	id := ev.SourceEventID
	if id == "" {
		id = hashEvent(ev)
	}

	if _, seen := e.state.SeenEventIDs[id]; seen {
		return true
	}
	e.state.SeenEventIDs[id] = struct{}{}

	return false
}

// hashEvent derives a stable 16-character identity from the event content.
func hashEvent(ev *types.MatchEvent) string {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		payload = []byte("{}")
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", ev.EventType, ev.TimestampMs(), payload)))

	return hex.EncodeToString(sum[:])[:16]
}

// isOutOfOrder enforces per-source-sequence monotonicity when both sides
// carry a sequence, falling back to the timestamp skew window otherwise.
func (e *Engine) isOutOfOrder(ev *types.MatchEvent) bool {
	if ev.Seq != nil && e.state.LastSeq != nil {
		if *ev.Seq <= *e.state.LastSeq {
			return true
		}
		seq := *ev.Seq
		e.state.LastSeq = &seq
		return false
	}

	if ev.TimestampMs() < e.state.LastEventMs-e.allowedSkewMs {
		return true
	}

	if ev.Seq != nil {
		seq := *ev.Seq
		e.state.LastSeq = &seq
	}

	return false
}

func payloadInt(payload map[string]interface{}, key string, fallback int) int {
	switch n := payload[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}

	return fallback
}

func payloadString(payload map[string]interface{}, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}

	return ""
}
