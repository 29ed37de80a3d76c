package types

import (
	"math"
)

// BookSide distinguishes which side of the book a query walks.
type BookSide string

const (
	BookBuy  BookSide = "BUY"  // walk asks
	BookSell BookSide = "SELL" // walk bids
)

// Level is a single price level.
type Level struct {
	Price float64
	Size  float64 // shares available at Price
}

// OrderBook is a point-in-time view of one token's book.
// Bids are price-descending, asks price-ascending.
type OrderBook struct {
	TokenID string
	Bids    []Level
	Asks    []Level
}

// BestBid returns the highest bid; ok is false on an empty side.
func (b *OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}

	return b.Bids[0], true
}

// BestAsk returns the lowest ask; ok is false on an empty side.
func (b *OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}

	return b.Asks[0], true
}

// Mid returns the midpoint of the best bid and ask.
func (b *OrderBook) Mid() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()

	if !okBid || !okAsk {
		return 0, false
	}

	return (bid.Price + ask.Price) / 2, true
}

// SpreadBps returns the bid-ask spread in basis points of the mid.
func (b *OrderBook) SpreadBps() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()

	if !okBid || !okAsk {
		return 0, false
	}

	mid := (bid.Price + ask.Price) / 2
	if mid <= 0 {
		return 0, false
	}

	return (ask.Price - bid.Price) / mid * 10000, true
}

// EffectivePriceForSize walks the book until quoteAmount is spent and returns
// the volume-weighted fill price. It returns +Inf when the visible depth
// cannot absorb the amount.
func (b *OrderBook) EffectivePriceForSize(side BookSide, quoteAmount float64) float64 {
	if quoteAmount <= 0 {
		return math.Inf(1)
	}

	levels := b.Asks
	if side == BookSell {
		levels = b.Bids
	}

	remaining := quoteAmount
	totalQty := 0.0
	totalCost := 0.0

	for _, lvl := range levels {
		if lvl.Price <= 0 || lvl.Size <= 0 {
			continue
		}

		levelQuote := lvl.Price * lvl.Size
		take := math.Min(remaining, levelQuote)

		totalQty += take / lvl.Price
		totalCost += take
		remaining -= take

		if remaining <= 1e-12 {
			break
		}
	}

	if remaining > 1e-12 || totalQty <= 0 {
		return math.Inf(1)
	}

	return totalCost / totalQty
}
