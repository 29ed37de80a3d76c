package cmd

import (
	"fmt"

	"github.com/mselser95/esports-arb/internal/app"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the pair bot",
	Long: `Starts the esports pair bot, which will:
1. Load the market catalog binding exchange markets to matches
2. Open the configured feed (simulated books when no ws_url is set)
3. Track match truth per match and arm trading while it is LIVE
4. Build YES+NO pairs in paper trading mode when asks price under the cap

Use --config to point at an alternative YAML file.`,
	RunE: runBot,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("config", "c", "", "Path to the config file (default config.yaml)")
}

func runBot(cmd *cobra.Command, args []string) error {
	// Get flags
	configPath, _ := cmd.Flags().GetString("config")

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	// Create logger
	logger, err := config.NewLogger(cfg.Bot.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	for _, warning := range cfg.Warnings() {
		logger.Warn("config-warning", zap.String("detail", warning))
	}

	// Create app
	application, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	// Run app
	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
