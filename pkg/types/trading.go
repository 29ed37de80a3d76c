package types

import (
	"time"
)

// TradingStatus is the trading engine's per-market execution state.
type TradingStatus string

const (
	TradingIdle           TradingStatus = "IDLE"
	TradingBuildingPair   TradingStatus = "BUILDING_PAIR"
	TradingLockedPair     TradingStatus = "LOCKED_PAIR"
	TradingTemporalActive TradingStatus = "TEMPORAL_ACTIVE"
	TradingFinalizing     TradingStatus = "FINALIZING"
	TradingResolved       TradingStatus = "RESOLVED"
	TradingHalt           TradingStatus = "HALT"
)

// TradingState is the per-market execution state. Owned by one trading
// engine; readers get value copies via Snapshot.
type TradingState struct {
	MarketID                  string
	Status                    TradingStatus
	Position                  *PairPosition
	OpenOrders                map[string]*Order
	ConsecutiveRejects        int
	ConsecutiveCancelFailures int
	EnteredStateAt            time.Time
	LastActivityAt            time.Time
}

// NewTradingState returns the IDLE state with an empty position.
func NewTradingState(marketID string, feeRate float64, now time.Time) *TradingState {
	return &TradingState{
		MarketID:       marketID,
		Status:         TradingIdle,
		Position:       NewPairPosition(marketID, feeRate),
		OpenOrders:     make(map[string]*Order),
		EnteredStateAt: now,
		LastActivityAt: now,
	}
}

// Snapshot returns an independent copy safe to hand to readers.
func (s *TradingState) Snapshot() TradingState {
	cp := *s
	cp.Position = s.Position.Copy()

	cp.OpenOrders = make(map[string]*Order, len(s.OpenOrders))
	for id, o := range s.OpenOrders {
		oc := *o
		cp.OpenOrders[id] = &oc
	}

	return cp
}
