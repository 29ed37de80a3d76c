package types

import (
	"time"
)

// OrderStatus tracks an order through its lifecycle.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPlaced    OrderStatus = "PLACED"
	OrderMatched   OrderStatus = "MATCHED"
	OrderMined     OrderStatus = "MINED"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderFailed    OrderStatus = "FAILED"
)

// orderTransitions lists the legal status successors.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderPlaced, OrderRejected, OrderCancelled, OrderFailed},
	OrderPlaced:  {OrderMatched, OrderRejected, OrderCancelled, OrderFailed},
	OrderMatched: {OrderMined, OrderCancelled, OrderFailed},
	OrderMined:   {OrderConfirmed, OrderFailed},
}

// IsTerminal reports whether no further transitions are legal.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderConfirmed, OrderRejected, OrderCancelled, OrderFailed:
		return true
	}

	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// Order is one order we manage on a market.
type Order struct {
	ID             string
	MarketID       string
	Side           Side
	Price          float64
	Size           float64 // quote units
	Status         OrderStatus
	IdempotencyKey string
	CreatedAt      time.Time
	PlacedAt       *time.Time
	MatchedAt      *time.Time
	FilledSize     float64
	AvgFillPrice   *float64
	RejectReason   string
}

// Transition moves the order to next, refusing illegal moves without mutation.
func (o *Order) Transition(next OrderStatus, at time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{
			Entity: "order " + o.ID,
			From:   string(o.Status),
			To:     string(next),
		}
	}

	o.Status = next

	switch next {
	case OrderPlaced:
		o.PlacedAt = &at
	case OrderMatched:
		o.MatchedAt = &at
	}

	return nil
}
