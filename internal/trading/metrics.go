package trading

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StateTransitionsTotal tracks engine state changes by destination.
	StateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esports_arb_trading_state_transitions_total",
			Help: "Total number of trading state transitions",
		},
		[]string{"to_status"},
	)

	// IntentsEmittedTotal tracks order intents by leg.
	IntentsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esports_arb_trading_intents_emitted_total",
			Help: "Total number of order intents emitted",
		},
		[]string{"side"},
	)

	// FillsAppliedTotal tracks fills applied to positions by leg.
	FillsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esports_arb_trading_fills_applied_total",
			Help: "Total number of fills applied to pair positions",
		},
		[]string{"side"},
	)

	// BreakerTripsTotal tracks circuit breaker trips by trigger.
	BreakerTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esports_arb_trading_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"trigger"},
	)

	// CancelIntentsTotal tracks cancel intents emitted by cancel-all sweeps.
	CancelIntentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_trading_cancel_intents_total",
		Help: "Total number of cancel intents emitted",
	})

	// GuaranteedPnL tracks the worst-case resolution profit per market.
	GuaranteedPnL = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "esports_arb_trading_guaranteed_pnl_usdc",
			Help: "Guaranteed PnL of the pair position per market",
		},
		[]string{"market_id"},
	)
)
