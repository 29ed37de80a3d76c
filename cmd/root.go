package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "esports-arb",
	Short: "Esports prediction-market pair bot",
	Long: `Esports pair bot for binary YES/NO match-winner markets.

The bot consumes match events and order books through feed adapters,
maintains a per-match truth state machine, and buys YES and NO legs in
steps whenever the combined ask cost stays under the pair cost cap,
locking a payout above cost net of fees. Orders run through a paper
executor; risk limits halt trading when breached.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	// Flags can be added here if needed
}
