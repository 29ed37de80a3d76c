package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/esports-arb/internal/bus"
	"github.com/mselser95/esports-arb/internal/catalog"
	"github.com/mselser95/esports-arb/internal/feeds"
	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/mselser95/esports-arb/pkg/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var watchCmd = &cobra.Command{
	Use:   "watch <market-id>",
	Short: "Watch book updates for a catalog market",
	Long: `Opens the configured feed and displays book updates for one market.
Useful for debugging mappings and understanding market dynamics before
letting the bot trade. Without a ws_url the simulated feed plays a
session, so the command also works offline.

Example:
  esports-arb watch mkt-navi-map1`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringP("config", "c", "", "Path to the config file (default config.yaml)")
	watchCmd.Flags().BoolP("json", "j", false, "Output raw update events as JSON")
}

func runWatch(cmd *cobra.Command, args []string) error {
	marketID := args[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Get flags
	configPath, _ := cmd.Flags().GetString("config")
	jsonOutput, _ := cmd.Flags().GetBool("json")

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

	registry, err := catalog.New(&catalog.Config{
		Logger:       logger,
		MappingsFile: cfg.Catalog.MappingsFile,
	})
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	mapping, ok := registry.MappingForMarket(marketID)
	if !ok {
		return fmt.Errorf("market %q is not in the catalog", marketID)
	}

	fmt.Printf("Market: %s\n", mapping.MarketID)
	fmt.Printf("Match: %s (%s)\n", mapping.MatchID, mapping.Game)
	fmt.Printf("YES Token: %s\n", mapping.YesTokenID)
	fmt.Printf("NO Token: %s\n\n", mapping.NoTokenID)

	clk := clock.NewSystemClock()

	eventBus, err := bus.New(&bus.Config{
		Logger:           logger,
		Clock:            clk,
		MaxQueueSize:     1024,
		MaxRetryAttempts: 1,
	})
	if err != nil {
		return fmt.Errorf("create bus: %w", err)
	}

	adapter, err := watchFeed(cfg, logger, clk, eventBus, registry)
	if err != nil {
		return fmt.Errorf("create feed: %w", err)
	}

	// Create tabwriter for formatted output
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	eventBus.Subscribe(types.KindBookUpdate, "watch", 0, func(_ context.Context, ev types.Event) error {
		update, ok := ev.(*types.BookUpdate)
		if !ok || update.MarketID != marketID {
			return nil
		}

		if jsonOutput {
			raw, _ := json.MarshalIndent(update, "", "  ")
			fmt.Println(string(raw))
			return nil
		}

		printBookLine(w, update)

		return nil
	})

	err = eventBus.Start(ctx)
	if err != nil {
		return fmt.Errorf("start bus: %w", err)
	}
	defer eventBus.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- adapter.Run(ctx)
	}()

	fmt.Printf("Watching %s on feed %q...\n", marketID, adapter.Name())

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\nShutting down...")
		cancel()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, ctx.Err()) {
			return fmt.Errorf("feed: %w", err)
		}
		return nil
	}
}

// watchFeed builds the same adapter the bot would run: simulated books when
// no ws_url is configured, the provider feed otherwise.
func watchFeed(cfg *config.Config, logger *zap.Logger, clk clock.Clock, eventBus *bus.Bus, registry *catalog.Registry) (feeds.Adapter, error) {
	if cfg.Feeds.WSURL == "" {
		adapter, err := feeds.NewSimFeed(&feeds.SimConfig{
			Logger:            logger,
			Clock:             clk,
			Bus:               eventBus,
			Catalog:           registry,
			BookUpdatesPerSec: cfg.Feeds.BookUpdatesPerSec,
		})
		if err != nil {
			return nil, err
		}

		return adapter, nil
	}

	provider := "ws"
	if len(cfg.Truth.TierASources) > 0 {
		provider = cfg.Truth.TierASources[0]
	}

	adapter, err := feeds.NewWSFeed(&feeds.WSConfig{
		Logger:  logger,
		Clock:   clk,
		Bus:     eventBus,
		Catalog: registry,
		Name:    provider,
		URL:     cfg.Feeds.WSURL,
		Tier:    feeds.TierForSource(provider, cfg.Truth.TierASources, cfg.Truth.TierBSources, cfg.Truth.TierCSources),
	})
	if err != nil {
		return nil, err
	}

	return adapter, nil
}

func printBookLine(w *tabwriter.Writer, update *types.BookUpdate) {
	timestamp := time.UnixMilli(update.TsMs).Format("15:04:05.000")

	fmt.Fprintf(w, "[%s]\tYES %s\tNO %s\tPair ask: %s\n",
		timestamp, formatSide(update.Yes), formatSide(update.No), formatPairAsk(update))

	w.Flush()
}

// formatSide renders one book side as "bid@size / ask@size".
func formatSide(book *types.OrderBook) string {
	bid := "N/A"
	ask := "N/A"

	if book != nil {
		if level, ok := book.BestBid(); ok {
			bid = fmt.Sprintf("%.3f@%.0f", level.Price, level.Size)
		}

		if level, ok := book.BestAsk(); ok {
			ask = fmt.Sprintf("%.3f@%.0f", level.Price, level.Size)
		}
	}

	return bid + " / " + ask
}

// formatPairAsk renders the combined best-ask cost, the number the pair
// strategy compares against its cap.
func formatPairAsk(update *types.BookUpdate) string {
	if update.Yes == nil || update.No == nil {
		return "N/A"
	}

	yesAsk, okYes := update.Yes.BestAsk()
	noAsk, okNo := update.No.BestAsk()

	if !okYes || !okNo {
		return "N/A"
	}

	return fmt.Sprintf("%.3f", yesAsk.Price+noAsk.Price)
}
