// Package simulator runs offline price-walk studies of the pair strategy.
// No bus, no IO: each step quotes synthetic YES/NO books and offers the
// strategy a buy through the same leg selection and gate the live engine
// uses, then the sweep compares pair-cost caps over many seeded runs.
package simulator

import (
	"fmt"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/mselser95/esports-arb/internal/trading"
	"github.com/mselser95/esports-arb/pkg/types"
)

// meanReversion pulls the walk back toward 0.5 each step, matching the
// paper-mode feed.
const meanReversion = 0.08

// defaultCaps is the sweep grid around the production default.
var defaultCaps = []float64{0.99, 0.985, 0.98, 0.975, 0.97}

// Config parameterizes one study.
type Config struct {
	Logger *zap.Logger

	// Runs is the number of seeded walks per cap. Defaults to 200.
	Runs int

	// StepsPerRun is the walk length. Defaults to 500.
	StepsPerRun int

	// Seed anchors the run seeds; run i uses Seed+i for every cap, so a cap
	// comparison sees identical price paths. Defaults to 1.
	Seed int64

	// Walk shape. Default 0.02 / 0.02.
	Volatility float64
	Spread     float64

	// SlippageBps is added to the displayed ask on every buy. Defaults to 10.
	SlippageBps float64

	// Strategy parameters, defaulted to the production values.
	FeeRate                  float64
	StepUSDC                 float64
	MaxTotalCost             float64
	MaxLegImbalanceUSDC      float64
	LegSelectThresholdShares float64

	// Caps is the pair_cost_cap grid. Defaults to defaultCaps.
	Caps []float64
}

// RunResult is the outcome of one walk under one cap.
type RunResult struct {
	Cap       float64
	PnL       float64
	Fills     int
	TotalCost float64
}

// CapSummary aggregates all runs for one cap.
type CapSummary struct {
	Cap       float64
	Runs      int
	MeanPnL   float64
	P5PnL     float64
	P50PnL    float64
	P95PnL    float64
	MeanFills float64
	MeanCost  float64
}

// Simulator sweeps the cap grid.
type Simulator struct {
	logger *zap.Logger

	runs        int
	stepsPerRun int
	seed        int64
	vol         float64
	spread      float64
	slippageBps float64

	feeRate         float64
	stepUSDC        float64
	maxTotalCost    float64
	maxLegImbalance float64
	legThreshold    float64

	caps []float64
}

// New validates the config and fills production defaults.
func New(cfg *Config) (*Simulator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if cfg.Runs <= 0 {
		cfg.Runs = 200
	}

	if cfg.StepsPerRun <= 0 {
		cfg.StepsPerRun = 500
	}

	if cfg.Seed == 0 {
		cfg.Seed = 1
	}

	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.02
	}

	if cfg.Spread <= 0 {
		cfg.Spread = 0.02
	}

	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = 10
	}

	if cfg.SlippageBps < 0 {
		return nil, fmt.Errorf("slippage cannot be negative, got %v", cfg.SlippageBps)
	}

	if cfg.FeeRate <= 0 {
		cfg.FeeRate = 0.02
	}

	if cfg.StepUSDC <= 0 {
		cfg.StepUSDC = 25
	}

	if cfg.MaxTotalCost <= 0 {
		cfg.MaxTotalCost = 1500
	}

	if cfg.MaxLegImbalanceUSDC <= 0 {
		cfg.MaxLegImbalanceUSDC = 100
	}

	if cfg.LegSelectThresholdShares <= 0 {
		cfg.LegSelectThresholdShares = 20
	}

	if len(cfg.Caps) == 0 {
		cfg.Caps = defaultCaps
	}

	for _, pairCap := range cfg.Caps {
		if pairCap <= 0 || pairCap >= 1 {
			return nil, fmt.Errorf("pair cost cap %v must be in (0,1)", pairCap)
		}
	}

	return &Simulator{
		logger:          cfg.Logger,
		runs:            cfg.Runs,
		stepsPerRun:     cfg.StepsPerRun,
		seed:            cfg.Seed,
		vol:             cfg.Volatility,
		spread:          cfg.Spread,
		slippageBps:     cfg.SlippageBps,
		feeRate:         cfg.FeeRate,
		stepUSDC:        cfg.StepUSDC,
		maxTotalCost:    cfg.MaxTotalCost,
		maxLegImbalance: cfg.MaxLegImbalanceUSDC,
		legThreshold:    cfg.LegSelectThresholdShares,
		caps:            cfg.Caps,
	}, nil
}

// Run sweeps every cap over the same set of seeded walks and returns one
// summary per cap, in grid order.
func (s *Simulator) Run() []CapSummary {
	s.logger.Info("simulation-starting",
		zap.Int("runs", s.runs),
		zap.Int("steps_per_run", s.stepsPerRun),
		zap.Int("caps", len(s.caps)))

	summaries := make([]CapSummary, 0, len(s.caps))

	for _, pairCap := range s.caps {
		summary := summarize(pairCap, s.sweep(pairCap))
		summaries = append(summaries, summary)

		s.logger.Info("cap-swept",
			zap.Float64("pair_cost_cap", pairCap),
			zap.Float64("mean_pnl", summary.MeanPnL),
			zap.Float64("mean_fills", summary.MeanFills))
	}

	return summaries
}

// sweep runs every seeded walk under one cap.
func (s *Simulator) sweep(pairCap float64) []RunResult {
	results := make([]RunResult, s.runs)

	for i := 0; i < s.runs; i++ {
		rng := rand.New(rand.NewSource(s.seed + int64(i)))
		results[i] = s.runOnce(rng, pairCap)
	}

	return results
}

// runOnce walks one price path. The walk consumes a fixed three draws per
// step whether or not a buy happens, so the same run seed replays the same
// path under every cap.
func (s *Simulator) runOnce(rng *rand.Rand, pairCap float64) RunResult {
	pos := types.NewPairPosition("sim", s.feeRate)
	mid := 0.5
	fills := 0

	for i := 0; i < s.stepsPerRun; i++ {
		mid += meanReversion*(0.5-mid) + s.vol*rng.NormFloat64()
		mid = clamp(mid, 0.05, 0.95)

		yesAsk := clamp(mid+s.spread/2+s.vol*rng.NormFloat64(), 0.02, 0.99)
		noAsk := clamp(1-mid+s.spread/2+s.vol*rng.NormFloat64(), 0.02, 0.99)

		bookYes := &types.OrderBook{Asks: []types.Level{{Price: yesAsk, Size: 1000}}}
		bookNo := &types.OrderBook{Asks: []types.Level{{Price: noAsk, Size: 1000}}}

		side := trading.PreferredLeg(pos, bookYes, bookNo, s.legThreshold)
		if side == "" {
			continue
		}

		ask := yesAsk
		if side == types.SideNo {
			ask = noAsk
		}

		allowed, _ := types.ShouldBuyMore(pos, side, s.stepUSDC, ask, types.BuyParams{
			PairCostCap:          pairCap,
			MaxTotalCost:         s.maxTotalCost,
			MaxLegImbalanceQuote: s.maxLegImbalance,
		})
		if !allowed {
			continue
		}

		// The gate sees the displayed ask; the fill pays slippage on top.
		price := clamp(ask*(1+s.slippageBps/10000), 0.01, 0.999)
		_ = pos.ApplyFill(types.Fill{Side: side, Qty: s.stepUSDC / price, Price: price})
		fills++
	}

	return RunResult{
		Cap:       pairCap,
		PnL:       pos.GuaranteedPnL(),
		Fills:     fills,
		TotalCost: pos.TotalCost(),
	}
}

func summarize(pairCap float64, results []RunResult) CapSummary {
	pnls := make([]float64, len(results))

	var pnlSum, fillSum, costSum float64

	for i, r := range results {
		pnls[i] = r.PnL
		pnlSum += r.PnL
		fillSum += float64(r.Fills)
		costSum += r.TotalCost
	}

	sort.Float64s(pnls)
	n := float64(len(results))

	return CapSummary{
		Cap:       pairCap,
		Runs:      len(results),
		MeanPnL:   pnlSum / n,
		P5PnL:     percentile(pnls, 0.05),
		P50PnL:    percentile(pnls, 0.50),
		P95PnL:    percentile(pnls, 0.95),
		MeanFills: fillSum / n,
		MeanCost:  costSum / n,
	}
}

// percentile takes the nearest-rank value from an ascending slice.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	idx := int(q * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
