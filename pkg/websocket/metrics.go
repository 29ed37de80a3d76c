package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// ActiveConnections tracks whether a feed's connection is up.
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "esports_arb_ws_active_connections",
		Help: "Whether the feed's WebSocket connection is up",
	}, []string{"feed"})

	// ReconnectAttemptsTotal counts reconnection attempts per feed.
	ReconnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esports_arb_ws_reconnect_attempts_total",
		Help: "Total number of WebSocket reconnection attempts",
	}, []string{"feed"})

	// ReconnectFailuresTotal counts failed reconnection attempts per feed.
	ReconnectFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esports_arb_ws_reconnect_failures_total",
		Help: "Total number of failed WebSocket reconnection attempts",
	}, []string{"feed"})

	// FramesReceivedTotal counts raw frames read per feed.
	FramesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esports_arb_ws_frames_received_total",
		Help: "Total number of WebSocket frames received",
	}, []string{"feed"})

	// FramesDroppedTotal counts frames dropped before delivery.
	FramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esports_arb_ws_frames_dropped_total",
		Help: "Total number of WebSocket frames dropped",
	}, []string{"feed", "reason"})

	// SubscriptionCount tracks recorded subscribe payloads per feed.
	SubscriptionCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "esports_arb_ws_subscription_count",
		Help: "Number of recorded feed subscriptions",
	}, []string{"feed"})

	// ConnectionDuration observes how long connections live before dropping.
	ConnectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "esports_arb_ws_connection_duration_seconds",
		Help:    "Duration of WebSocket connections before disconnect",
		Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800, 43200, 86400},
	}, []string{"feed"})
)
