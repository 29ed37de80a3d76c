package cmd

import (
	"fmt"
	"os"

	"github.com/mselser95/esports-arb/internal/simulator"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an offline pair-strategy study",
	Long: `Runs seeded price walks through the pair strategy without any bus or
feed, sweeping a grid of pair cost caps. Every cap sees the same walks,
so the printed PnL percentiles compare caps rather than luck.

Strategy parameters (fee rate, step size, budget) come from the config
file; walk shape and the cap grid come from flags.`,
	RunE: runSimulate,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringP("config", "c", "", "Path to the config file (default config.yaml)")
	simulateCmd.Flags().IntP("runs", "r", 0, "Price walks per cap (default 200)")
	simulateCmd.Flags().Int("steps", 0, "Steps per walk (default 500)")
	simulateCmd.Flags().Int64("seed", 1, "Base seed; walk i uses seed+i under every cap")
	simulateCmd.Flags().Float64("volatility", 0, "Per-step mid-price noise (default 0.02)")
	simulateCmd.Flags().Float64("spread", 0, "Quoted spread around the mid (default 0.02)")
	simulateCmd.Flags().Float64("slippage-bps", 0, "Added to the displayed ask on every buy (default 10)")
	simulateCmd.Flags().Float64Slice("caps", nil, "Pair cost cap grid (default 0.99,0.985,0.98,0.975,0.97)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	// Get flags
	configPath, _ := cmd.Flags().GetString("config")
	runs, _ := cmd.Flags().GetInt("runs")
	steps, _ := cmd.Flags().GetInt("steps")
	seed, _ := cmd.Flags().GetInt64("seed")
	volatility, _ := cmd.Flags().GetFloat64("volatility")
	spread, _ := cmd.Flags().GetFloat64("spread")
	slippageBps, _ := cmd.Flags().GetFloat64("slippage-bps")
	caps, _ := cmd.Flags().GetFloat64Slice("caps")

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create logger
	logger, err := config.NewLogger(cfg.Bot.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	sim, err := simulator.New(&simulator.Config{
		Logger:                   logger,
		Runs:                     runs,
		StepsPerRun:              steps,
		Seed:                     seed,
		Volatility:               volatility,
		Spread:                   spread,
		SlippageBps:              slippageBps,
		FeeRate:                  cfg.Trading.FeeRate,
		StepUSDC:                 cfg.Trading.StepUSDC,
		MaxTotalCost:             cfg.Trading.MaxTotalCost,
		MaxLegImbalanceUSDC:      cfg.Trading.MaxLegImbalanceUSDC,
		LegSelectThresholdShares: cfg.Trading.LegSelectThresholdShares,
		Caps:                     caps,
	})
	if err != nil {
		return fmt.Errorf("create simulator: %w", err)
	}

	summaries := sim.Run()
	simulator.RenderSummary(os.Stdout, summaries)

	return nil
}
