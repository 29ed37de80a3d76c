package types

// TruthStatus is the truth engine's view of match progress.
type TruthStatus string

const (
	TruthPreMatch       TruthStatus = "PRE_MATCH"
	TruthLive           TruthStatus = "LIVE"
	TruthPaused         TruthStatus = "PAUSED"
	TruthPendingConfirm TruthStatus = "PENDING_CONFIRM"
	TruthFinalized      TruthStatus = "FINAL"
)

// TruthState is the authoritative view of one match. Owned by a single truth
// engine; readers get value copies via Snapshot.
type TruthState struct {
	MatchID           string
	TeamAID           string
	TeamBID           string
	Status            TruthStatus
	ScoreA            int
	ScoreB            int
	MapIndex          int
	RoundIndex        int
	Confidence        float64
	WinnerTeamID      string
	LastEventMs       int64
	EndedAtMs         int64
	FinalizedAtMs     int64
	SeenEventIDs      map[string]struct{}
	LastSeq           *int64
	SourcesConfirming map[string]struct{}
}

// NewTruthState returns the PRE_MATCH state for a match.
func NewTruthState(matchID, teamAID, teamBID string) *TruthState {
	return &TruthState{
		MatchID:           matchID,
		TeamAID:           teamAID,
		TeamBID:           teamBID,
		Status:            TruthPreMatch,
		SeenEventIDs:      make(map[string]struct{}),
		SourcesConfirming: make(map[string]struct{}),
	}
}

// Snapshot returns an independent copy safe to hand to readers.
func (s *TruthState) Snapshot() TruthState {
	cp := *s

	cp.SeenEventIDs = make(map[string]struct{}, len(s.SeenEventIDs))
	for id := range s.SeenEventIDs {
		cp.SeenEventIDs[id] = struct{}{}
	}

	cp.SourcesConfirming = make(map[string]struct{}, len(s.SourcesConfirming))
	for src := range s.SourcesConfirming {
		cp.SourcesConfirming[src] = struct{}{}
	}

	if s.LastSeq != nil {
		seq := *s.LastSeq
		cp.LastSeq = &seq
	}

	return cp
}

// IsEffectivelyFinal reports whether the outcome is settled enough to trade on.
func (s *TruthState) IsEffectivelyFinal() bool {
	if s.Status != TruthPendingConfirm && s.Status != TruthFinalized {
		return false
	}

	return s.Confidence >= 0.85
}

// WinnerIfFinal returns the winner only when the state is effectively final.
func (s *TruthState) WinnerIfFinal() (string, bool) {
	if !s.IsEffectivelyFinal() || s.WinnerTeamID == "" {
		return "", false
	}

	return s.WinnerTeamID, true
}
