package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mselser95/esports-arb/internal/catalog"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "List markets from the catalog",
	Long:  `Loads the mappings file and displays the market-to-match table the bot would trade from.`,
	RunE:  runMarkets,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(marketsCmd)
	marketsCmd.Flags().StringP("config", "c", "", "Path to the config file (default config.yaml)")
	marketsCmd.Flags().StringP("game", "g", "", "Only show markets for one game (e.g. cs2)")
	marketsCmd.Flags().BoolP("verbose", "v", false, "Show token and team identifiers")
}

func runMarkets(cmd *cobra.Command, args []string) error {
	// Get flags
	configPath, _ := cmd.Flags().GetString("config")
	game, _ := cmd.Flags().GetString("game")
	verbose, _ := cmd.Flags().GetBool("verbose")

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

	mappings := registry.All()
	if game != "" {
		filtered := mappings[:0]
		for _, m := range mappings {
			if m.Game == game {
				filtered = append(filtered, m)
			}
		}
		mappings = filtered
	}

	if len(mappings) == 0 {
		fmt.Println("No markets in the catalog.")
		return nil
	}

	// Display markets
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "MARKET\tMATCH\tGAME\tYES TEAM\tNO TEAM\n")
	fmt.Fprintf(w, "------\t-----\t----\t--------\t-------\n")

	for _, m := range mappings {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.MarketID, m.MatchID, m.Game, m.TeamYesID, m.TeamNoID)

		if verbose {
			fmt.Fprintf(w, "\tSlug: %s\n", m.Slug)
			fmt.Fprintf(w, "\tYES Token: %s\n", m.YesTokenID)
			fmt.Fprintf(w, "\tNO Token: %s\n", m.NoTokenID)
			fmt.Fprintf(w, "\n")
		}
	}

	w.Flush()

	fmt.Printf("\nTotal: %d markets\n", len(mappings))

	return nil
}
