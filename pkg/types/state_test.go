package types

import (
	"testing"
	"time"
)

func TestTruthState_Snapshot_Independent(t *testing.T) {
	t.Parallel()

	state := NewTruthState("match-1", "team-a", "team-b")
	state.Status = TruthPendingConfirm
	state.Confidence = 0.8
	state.SeenEventIDs["ev-1"] = struct{}{}
	state.SourcesConfirming["pandascore"] = struct{}{}
	seq := int64(10)
	state.LastSeq = &seq

	snap := state.Snapshot()

	state.SeenEventIDs["ev-2"] = struct{}{}
	state.SourcesConfirming["opendota"] = struct{}{}
	*state.LastSeq = 99

	if len(snap.SeenEventIDs) != 1 {
		t.Errorf("snapshot seen ids = %d, want 1", len(snap.SeenEventIDs))
	}
	if len(snap.SourcesConfirming) != 1 {
		t.Errorf("snapshot confirming = %d, want 1", len(snap.SourcesConfirming))
	}
	if snap.LastSeq == nil || *snap.LastSeq != 10 {
		t.Error("snapshot seq should be a copy")
	}
}

func TestTruthState_IsEffectivelyFinal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     TruthStatus
		confidence float64
		winner     string
		want       bool
	}{
		{"final-high-confidence", TruthFinalized, 0.95, "team-a", true},
		{"pending-high-confidence", TruthPendingConfirm, 0.85, "team-a", true},
		{"pending-low-confidence", TruthPendingConfirm, 0.80, "team-a", false},
		{"live-high-confidence", TruthLive, 0.95, "team-a", false},
		{"pre-match", TruthPreMatch, 0, "", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			state := NewTruthState("match-1", "team-a", "team-b")
			state.Status = tt.status
			state.Confidence = tt.confidence
			state.WinnerTeamID = tt.winner

			if got := state.IsEffectivelyFinal(); got != tt.want {
				t.Errorf("effectively final = %v, want %v", got, tt.want)
			}

			winner, ok := state.WinnerIfFinal()
			if ok != (tt.want && tt.winner != "") {
				t.Errorf("winner ok = %v, want %v", ok, tt.want)
			}
			if ok && winner != tt.winner {
				t.Errorf("winner = %q, want %q", winner, tt.winner)
			}
		})
	}
}

func TestTradingState_Snapshot_Independent(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	state := NewTradingState("market-1", 0.02, now)

	_ = state.Position.ApplyFill(Fill{Side: SideYes, Qty: 100, Price: 0.45})
	state.OpenOrders["order-1"] = &Order{ID: "order-1", Status: OrderPlaced}

	snap := state.Snapshot()

	_ = state.Position.ApplyFill(Fill{Side: SideYes, Qty: 100, Price: 0.45})
	state.OpenOrders["order-1"].Status = OrderCancelled
	state.OpenOrders["order-2"] = &Order{ID: "order-2"}

	if !almostEqual(snap.Position.QYes, 100) {
		t.Errorf("snapshot q_yes = %v, want 100", snap.Position.QYes)
	}
	if len(snap.OpenOrders) != 1 {
		t.Errorf("snapshot open orders = %d, want 1", len(snap.OpenOrders))
	}
	if snap.OpenOrders["order-1"].Status != OrderPlaced {
		t.Error("snapshot order status should be a copy")
	}
}
