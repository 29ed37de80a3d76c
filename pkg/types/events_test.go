package types

import (
	"testing"
)

func TestEventKind_Is(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		kind     EventKind
		ancestor EventKind
		want     bool
	}{
		{"self-match", KindTruthDelta, KindTruthDelta, true},
		{"parent-match", KindTruthDelta, KindTruth, true},
		{"root-matches-everything", KindTruthDelta, KindEvent, true},
		{"final-under-truth", KindTruthFinal, KindTruth, true},
		{"book-under-market-data", KindBookUpdate, KindMarketData, true},
		{"fill-under-market-data", KindFill, KindMarketData, true},
		{"order-intent-under-intent", KindOrderIntent, KindIntent, true},
		{"cancel-intent-under-intent", KindCancelIntent, KindIntent, true},
		{"tick-under-root", KindClockTick, KindEvent, true},
		{"sibling-no-match", KindTruthDelta, KindMarketData, false},
		{"no-downward-match", KindTruth, KindTruthDelta, false},
		{"root-not-under-leaf", KindEvent, KindClockTick, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.kind.Is(tt.ancestor); got != tt.want {
				t.Errorf("%q.Is(%q) = %v, want %v", tt.kind, tt.ancestor, got, tt.want)
			}
		})
	}
}

func TestEvents_PartitionKeys(t *testing.T) {
	t.Parallel()

	tick := &ClockTick{BaseEvent: NewBase(1000), NowMs: 1000}
	if got := tick.PartitionKey(); got != GlobalPartition {
		t.Errorf("clock tick partition = %q, want global", got)
	}

	halt := &SystemHalt{BaseEvent: NewBase(1000), Reason: "risk:max_daily_loss"}
	if got := halt.PartitionKey(); got != GlobalPartition {
		t.Errorf("system halt partition = %q, want global", got)
	}

	me := &MatchEvent{BaseEvent: NewBase(1000), MatchID: "match-7"}
	if got := me.PartitionKey(); got != "match-7" {
		t.Errorf("match event partition = %q, want match-7", got)
	}

	update := &BookUpdate{BaseEvent: NewBase(1000), MarketID: "market-9"}
	if got := update.PartitionKey(); got != "market-9" {
		t.Errorf("book update partition = %q, want market-9", got)
	}

	intent := &OrderIntent{BaseEvent: NewBase(1000), MarketID: "market-9"}
	if got := intent.PartitionKey(); got != "market-9" {
		t.Errorf("order intent partition = %q, want market-9", got)
	}
}

func TestNewBase_UniqueIDs(t *testing.T) {
	t.Parallel()

	a := NewBase(5)
	b := NewBase(5)

	if a.EventID() == "" || b.EventID() == "" {
		t.Fatal("expected non-empty event ids")
	}
	if a.EventID() == b.EventID() {
		t.Error("expected unique event ids")
	}
	if a.TimestampMs() != 5 {
		t.Errorf("timestamp = %d, want 5", a.TimestampMs())
	}
}
