package types

import (
	"math"
)

// Side identifies one leg of a binary market.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Opposite returns the other leg.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}

	return SideYes
}

// Fill is a single execution applied to a pair position.
type Fill struct {
	Side  Side
	Qty   float64 // shares
	Price float64 // [0,1]
	TsMs  int64
}

// PairPosition tracks YES/NO inventory and cost for one market.
// All quantities are shares, all costs are quote units (USDC).
type PairPosition struct {
	MarketID string
	FeeRate  float64 // fraction of gross payout deducted at resolution
	QYes     float64
	QNo      float64
	CYes     float64
	CNo      float64
}

// NewPairPosition creates an empty position for a market.
func NewPairPosition(marketID string, feeRate float64) *PairPosition {
	return &PairPosition{
		MarketID: marketID,
		FeeRate:  feeRate,
	}
}

// ApplyFill adds a fill to the position. Fills with qty <= 0 are ignored.
// A price outside [0,1] is refused without mutating the position.
func (p *PairPosition) ApplyFill(f Fill) error {
	if f.Qty <= 0 {
		return nil
	}

	if f.Price < 0 || f.Price > 1 {
		return &ValidationError{Field: "price", Msg: "must be in [0,1]"}
	}

	if f.Side == SideYes {
		p.QYes += f.Qty
		p.CYes += f.Qty * f.Price
	} else {
		p.QNo += f.Qty
		p.CNo += f.Qty * f.Price
	}

	return nil
}

// TotalCost is the quote spent across both legs.
func (p *PairPosition) TotalCost() float64 {
	return p.CYes + p.CNo
}

// QMin is the number of complete pairs held.
func (p *PairPosition) QMin() float64 {
	return math.Min(p.QYes, p.QNo)
}

// PayoutNet is the guaranteed payout at resolution after fees.
func (p *PairPosition) PayoutNet() float64 {
	return p.QMin() * (1.0 - p.FeeRate)
}

// GuaranteedPnL is the worst-case profit at resolution.
func (p *PairPosition) GuaranteedPnL() float64 {
	return p.PayoutNet() - p.TotalCost()
}

// AvgYes returns the average YES entry price; ok is false with no YES inventory.
func (p *PairPosition) AvgYes() (float64, bool) {
	if p.QYes <= 0 {
		return 0, false
	}

	return p.CYes / p.QYes, true
}

// AvgNo returns the average NO entry price; ok is false with no NO inventory.
func (p *PairPosition) AvgNo() (float64, bool) {
	if p.QNo <= 0 {
		return 0, false
	}

	return p.CNo / p.QNo, true
}

// PairCostAvg is the combined average cost of one YES+NO pair.
// ok is false unless both legs have inventory.
func (p *PairPosition) PairCostAvg() (float64, bool) {
	ay, okYes := p.AvgYes()
	an, okNo := p.AvgNo()

	if !okYes || !okNo {
		return 0, false
	}

	return ay + an, true
}

// LegImbalanceQuote is the absolute cost disparity between legs.
func (p *PairPosition) LegImbalanceQuote() float64 {
	return math.Abs(p.CYes - p.CNo)
}

// LegImbalanceShares is the absolute share disparity between legs.
func (p *PairPosition) LegImbalanceShares() float64 {
	return math.Abs(p.QYes - p.QNo)
}

// Copy returns an independent copy of the position.
func (p *PairPosition) Copy() *PairPosition {
	cp := *p

	return &cp
}

// HypoBuy projects the position after spending usdcAmount on one leg at price.
// It never mutates the receiver. Non-positive amount or price yields a plain copy.
func (p *PairPosition) HypoBuy(side Side, usdcAmount, price float64) *PairPosition {
	next := p.Copy()

	if usdcAmount <= 0 || price <= 0 {
		return next
	}

	qty := usdcAmount / price

	// Price already validated positive; ApplyFill only rejects out-of-range.
	_ = next.ApplyFill(Fill{Side: side, Qty: qty, Price: price})

	return next
}

// BuyReason enumerates ShouldBuyMore outcomes. Rejection reasons are ordered;
// callers and tests depend on the precedence below.
type BuyReason string

const (
	BuyApproved           BuyReason = "approved"
	BuyZeroAmount         BuyReason = "zero_amount"
	BuyExceedsMaxTotal    BuyReason = "exceeds_max_total"
	BuyPairCostExceedsNet BuyReason = "pair_cost_exceeds_net"
	BuyPairCostExceedsCap BuyReason = "pair_cost_exceeds_cap"
	BuyLegImbalance       BuyReason = "leg_imbalance"
	BuyNoPnLImprovement   BuyReason = "no_pnl_improvement"
)

// BuyParams carries the configured limits for ShouldBuyMore.
type BuyParams struct {
	PairCostCap          float64
	MaxTotalCost         float64
	MaxLegImbalanceQuote float64
	RequireImprove       bool
}

// ShouldBuyMore is the single gate for adding to a pair position.
//
// Checks run in a fixed order: amount, total-cost budget, post-buy pair cost
// against the fee-adjusted payout, post-buy pair cost against the configured
// cap, post-buy leg imbalance, and finally PnL improvement. Checks beyond the
// budget evaluate a HypoBuy projection, never the live position.
func ShouldBuyMore(pos *PairPosition, side Side, quoteAmount, price float64, params BuyParams) (bool, BuyReason) {
	if quoteAmount <= 0 {
		return false, BuyZeroAmount
	}

	if pos.TotalCost()+quoteAmount > params.MaxTotalCost {
		return false, BuyExceedsMaxTotal
	}

	next := pos.HypoBuy(side, quoteAmount, price)

	if pc, ok := next.PairCostAvg(); ok {
		netCap := 1.0 - next.FeeRate
		if pc >= netCap {
			return false, BuyPairCostExceedsNet
		}

		if pc >= params.PairCostCap {
			return false, BuyPairCostExceedsCap
		}
	}

	if next.LegImbalanceQuote() > params.MaxLegImbalanceQuote {
		return false, BuyLegImbalance
	}

	if params.RequireImprove && next.GuaranteedPnL() <= pos.GuaranteedPnL() {
		return false, BuyNoPnLImprovement
	}

	return true, BuyApproved
}
