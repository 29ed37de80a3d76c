package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublishedTotal tracks events accepted onto a partition queue.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esports_arb_bus_events_published_total",
			Help: "Total number of events accepted by the bus",
		},
		[]string{"kind"},
	)

	// EventsRejectedTotal tracks publishes refused by a full partition.
	EventsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esports_arb_bus_events_rejected_total",
			Help: "Total number of events rejected on publish",
		},
		[]string{"policy"},
	)

	// EventsCoalescedTotal tracks events merged into a pending event.
	EventsCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_bus_events_coalesced_total",
		Help: "Total number of events merged into a pending same-kind event",
	})

	// EventsDispatchedTotal tracks events handed to at least one handler.
	EventsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esports_arb_bus_events_dispatched_total",
			Help: "Total number of events dispatched to handlers",
		},
		[]string{"kind"},
	)

	// HandlerRetriesTotal tracks failed handler attempts that were retried.
	HandlerRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esports_arb_bus_handler_retries_total",
		Help: "Total number of handler attempts that failed and were retried",
	})

	// HandlerFailuresTotal tracks handlers that exhausted all retry attempts.
	HandlerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esports_arb_bus_handler_failures_total",
			Help: "Total number of handler executions that exhausted retries",
		},
		[]string{"handler"},
	)

	// HandlerDurationSeconds tracks successful handler attempt latency.
	HandlerDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "esports_arb_bus_handler_duration_seconds",
		Help:    "Duration of successful handler executions",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// QueueDepth tracks the number of pending events per partition.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "esports_arb_bus_queue_depth",
			Help: "Number of events waiting in a partition queue",
		},
		[]string{"partition"},
	)

	// DLQDepth tracks the number of failed events parked in the DLQ.
	DLQDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "esports_arb_bus_dlq_depth",
		Help: "Number of failed events currently in the dead letter queue",
	})
)
