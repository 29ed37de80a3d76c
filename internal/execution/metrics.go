package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	IntentsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esports_arb_execution_intents_received_total",
			Help: "Total intents received by the executor",
		},
		[]string{"kind"},
	)

	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_execution_orders_placed_total",
		Help: "Total orders placed",
	})

	OrdersRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_execution_orders_rejected_total",
		Help: "Total intents refused before placement",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_execution_orders_cancelled_total",
		Help: "Total cancels acknowledged",
	})

	FillsSimulatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_execution_fills_simulated_total",
		Help: "Total fills simulated in paper mode",
	})

	DuplicateIntentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_execution_duplicate_intents_total",
		Help: "Total intents dropped by idempotency-key dedup",
	})

	SettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_execution_settlements_total",
		Help: "Total fills swept by the settlement timer",
	})
)
