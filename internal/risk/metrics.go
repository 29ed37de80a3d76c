package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	DailyLossUSDC = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "esports_arb_risk_daily_loss_usdc",
		Help: "Worst-case daily loss across tracked positions",
	})

	TotalExposureUSDC = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "esports_arb_risk_total_exposure_usdc",
		Help: "Quote spent across all tracked markets",
	})

	MarketExposureUSDC = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "esports_arb_risk_market_exposure_usdc",
			Help: "Quote spent per market",
		},
		[]string{"market_id"},
	)

	TripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esports_arb_risk_trips_total",
			Help: "Kill-switch trips by rule",
		},
		[]string{"rule"},
	)

	KillSwitchActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "esports_arb_risk_kill_switch_active",
		Help: "Whether the risk kill switch is active (1) or clear (0)",
	})
)
