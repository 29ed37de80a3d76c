package truth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessedTotal tracks admitted match events by type.
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esports_arb_truth_events_processed_total",
			Help: "Total number of match events admitted by truth engines",
		},
		[]string{"event_type"},
	)

	// EventsDroppedTotal tracks events refused at admission.
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esports_arb_truth_events_dropped_total",
			Help: "Total number of match events dropped at admission",
		},
		[]string{"reason"},
	)

	// ContradictionsTotal tracks PENDING_CONFIRM resets back to LIVE.
	ContradictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_truth_contradictions_total",
		Help: "Total number of contradiction resets",
	})

	// FinalizationsTotal tracks matches reaching FINAL by trigger.
	FinalizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esports_arb_truth_finalizations_total",
			Help: "Total number of match finalizations",
		},
		[]string{"trigger"},
	)

	// Confidence tracks the current outcome confidence per match.
	Confidence = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "esports_arb_truth_confidence",
			Help: "Current outcome confidence per match",
		},
		[]string{"match_id"},
	)
)
