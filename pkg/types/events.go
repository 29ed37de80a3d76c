package types

import (
	"github.com/google/uuid"
)

// GlobalPartition is the sentinel partition for cross-cutting events such as
// clock ticks and system halts.
const GlobalPartition = "__global__"

// EventKind tags an event variant. Kinds form a tree; subscribing to a kind
// also receives every descendant kind.
type EventKind string

const (
	// KindEvent is the root of the kind tree; it matches everything.
	KindEvent EventKind = "event"

	KindClockTick  EventKind = "clock_tick"
	KindSystemHalt EventKind = "system_halt"
	KindMatchEvent EventKind = "match_event"

	// KindTruth covers both truth outputs.
	KindTruth      EventKind = "truth"
	KindTruthDelta EventKind = "truth_delta"
	KindTruthFinal EventKind = "truth_final"

	// KindMarketData covers order-book updates and fills.
	KindMarketData EventKind = "market_data"
	KindBookUpdate EventKind = "book_update"
	KindFill       EventKind = "fill"

	// KindIntent covers engine outputs destined for the executor.
	KindIntent       EventKind = "intent"
	KindOrderIntent  EventKind = "order_intent"
	KindCancelIntent EventKind = "cancel_intent"
)

// kindParent declares the ancestry of every non-root kind. Kind matching
// walks this table instead of inspecting runtime types.
var kindParent = map[EventKind]EventKind{
	KindClockTick:    KindEvent,
	KindSystemHalt:   KindEvent,
	KindMatchEvent:   KindEvent,
	KindTruth:        KindEvent,
	KindTruthDelta:   KindTruth,
	KindTruthFinal:   KindTruth,
	KindMarketData:   KindEvent,
	KindBookUpdate:   KindMarketData,
	KindFill:         KindMarketData,
	KindIntent:       KindEvent,
	KindOrderIntent:  KindIntent,
	KindCancelIntent: KindIntent,
}

// Is reports whether k equals ancestor or descends from it.
func (k EventKind) Is(ancestor EventKind) bool {
	for cur := k; ; {
		if cur == ancestor {
			return true
		}

		parent, ok := kindParent[cur]
		if !ok {
			return false
		}

		cur = parent
	}
}

// Event is the unit of delivery on the bus.
type Event interface {
	EventID() string
	Kind() EventKind
	TimestampMs() int64

	// PartitionKey names the FIFO queue the event is delivered on, usually a
	// market or match id, or GlobalPartition for cross-cutting events.
	PartitionKey() string
}

// BaseEvent carries the fields every event shares.
type BaseEvent struct {
	ID   string
	TsMs int64
}

// NewBase builds a BaseEvent with a fresh id at the given wall-clock ms.
func NewBase(nowMs int64) BaseEvent {
	return BaseEvent{ID: uuid.NewString(), TsMs: nowMs}
}

func (b BaseEvent) EventID() string    { return b.ID }
func (b BaseEvent) TimestampMs() int64 { return b.TsMs }

// ClockTick is published at ~1 Hz on the global partition.
type ClockTick struct {
	BaseEvent
	NowMs int64
}

func (ClockTick) Kind() EventKind      { return KindClockTick }
func (ClockTick) PartitionKey() string { return GlobalPartition }

// SystemHalt instructs every trading engine to halt.
type SystemHalt struct {
	BaseEvent
	Reason string
}

func (SystemHalt) Kind() EventKind      { return KindSystemHalt }
func (SystemHalt) PartitionKey() string { return GlobalPartition }

// Tier classifies the quality of a match-event source.
type Tier string

const (
	TierA Tier = "A" // authoritative, low latency
	TierB Tier = "B" // standard
	TierC Tier = "C" // confirmation only
)

// MatchEventType enumerates normalized match happenings.
type MatchEventType string

const (
	MatchCreated MatchEventType = "MATCH_CREATED"
	MatchStarted MatchEventType = "MATCH_STARTED"
	MatchPaused  MatchEventType = "PAUSED"
	MatchResumed MatchEventType = "RESUMED"
	MapStarted   MatchEventType = "MAP_STARTED"
	RoundEnded   MatchEventType = "ROUND_ENDED"
	MapEnded     MatchEventType = "MAP_ENDED"
	ScoreUpdate  MatchEventType = "SCORE_UPDATE"
	MatchEnded   MatchEventType = "MATCH_ENDED"
	Correction   MatchEventType = "CORRECTION"
)

// MatchEvent is a normalized observation from one feed source.
type MatchEvent struct {
	BaseEvent
	MatchID       string
	EventType     MatchEventType
	Source        string
	SourceTier    Tier
	SourceEventID string // provider id when available; used for dedup
	Seq           *int64 // provider sequence number when available
	Payload       map[string]interface{}
}

func (e *MatchEvent) Kind() EventKind      { return KindMatchEvent }
func (e *MatchEvent) PartitionKey() string { return e.MatchID }

// TruthDelta reports an incremental change in a match's truth state.
type TruthDelta struct {
	BaseEvent
	MatchID    string
	Status     TruthStatus
	ScoreA     int
	ScoreB     int
	MapIndex   int
	RoundIndex int
	Confidence float64
	Reason     string
}

func (d *TruthDelta) Kind() EventKind      { return KindTruthDelta }
func (d *TruthDelta) PartitionKey() string { return d.MatchID }

// TruthFinal reports a finalized match outcome.
type TruthFinal struct {
	BaseEvent
	MatchID       string
	WinnerTeamID  string
	Confidence    float64
	ConfirmedBy   []string
	FinalizedAtMs int64
}

func (f *TruthFinal) Kind() EventKind      { return KindTruthFinal }
func (f *TruthFinal) PartitionKey() string { return f.MatchID }

// BookUpdate carries fresh YES/NO books for one market.
type BookUpdate struct {
	BaseEvent
	MarketID string
	Yes      *OrderBook
	No       *OrderBook
}

func (u *BookUpdate) Kind() EventKind      { return KindBookUpdate }
func (u *BookUpdate) PartitionKey() string { return u.MarketID }

// OrderFill reports an execution against one of our orders.
type OrderFill struct {
	BaseEvent
	MarketID string
	OrderID  string
	Side     Side
	Qty      float64
	Price    float64
}

func (f *OrderFill) Kind() EventKind      { return KindFill }
func (f *OrderFill) PartitionKey() string { return f.MarketID }

// OrderIntent asks the executor to place an order.
type OrderIntent struct {
	BaseEvent
	IntentID        string
	MarketID        string
	Side            Side
	Price           float64
	SizeUSDC        float64
	Strategy        string
	Reason          string
	TruthConfidence float64
	ExpectedEdge    float64
	IdempotencyKey  string
}

func (i *OrderIntent) Kind() EventKind      { return KindOrderIntent }
func (i *OrderIntent) PartitionKey() string { return i.MarketID }

// CancelIntent asks the executor to cancel an open order.
type CancelIntent struct {
	BaseEvent
	IntentID string
	MarketID string
	OrderID  string
	Reason   string
}

func (c *CancelIntent) Kind() EventKind      { return KindCancelIntent }
func (c *CancelIntent) PartitionKey() string { return c.MarketID }
