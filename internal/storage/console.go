package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap"
)

const consoleRule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// ConsoleStorage implements Storage by pretty-printing to console.
type ConsoleStorage struct {
	logger *zap.Logger
}

// NewConsoleStorage creates a new console storage.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	logger.Info("console-storage-initialized")

	return &ConsoleStorage{
		logger: logger,
	}
}

// StoreIntent pretty-prints an order intent to console.
func (c *ConsoleStorage) StoreIntent(_ context.Context, intent *types.OrderIntent) error {
	fmt.Println("\n" + consoleRule)
	fmt.Printf("🎯 ORDER INTENT\n")
	fmt.Println(consoleRule)
	fmt.Printf("Intent:   %s\n", shortID(intent.IntentID))
	fmt.Printf("Market:   %s\n", intent.MarketID)
	fmt.Printf("Side:     %s\n", intent.Side)
	fmt.Printf("Price:    %.4f\n", intent.Price)
	fmt.Printf("Size:     $%.2f\n", intent.SizeUSDC)
	fmt.Printf("Strategy: %s\n", intent.Strategy)
	fmt.Printf("Reason:   %s\n", intent.Reason)
	fmt.Printf("Time:     %s\n", formatMs(intent.TsMs))
	fmt.Println(consoleRule)

	return nil
}

// StoreTruthFinal pretty-prints a finalized outcome to console.
func (c *ConsoleStorage) StoreTruthFinal(_ context.Context, final *types.TruthFinal) error {
	fmt.Println("\n" + consoleRule)
	fmt.Printf("🏁 MATCH FINALIZED\n")
	fmt.Println(consoleRule)
	fmt.Printf("Match:      %s\n", final.MatchID)
	fmt.Printf("Winner:     %s\n", final.WinnerTeamID)
	fmt.Printf("Confidence: %.2f\n", final.Confidence)
	fmt.Printf("Sources:    %s\n", strings.Join(final.ConfirmedBy, ", "))
	fmt.Printf("Time:       %s\n", formatMs(final.FinalizedAtMs))
	fmt.Println(consoleRule)

	return nil
}

// Close is a no-op for console storage.
func (c *ConsoleStorage) Close() error {
	c.logger.Info("closing-console-storage")

	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}

func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}
