// Package storage records order intents and finalized match outcomes. It is a
// fire-and-forget bookkeeping sink, not a persistence layer; trading state
// never round-trips through it.
package storage

import (
	"context"

	"github.com/mselser95/esports-arb/pkg/types"
)

// Storage is the interface for the recording sink.
type Storage interface {
	// StoreIntent records an order intent emitted by a trading engine.
	StoreIntent(ctx context.Context, intent *types.OrderIntent) error

	// StoreTruthFinal records a finalized match outcome.
	StoreTruthFinal(ctx context.Context, final *types.TruthFinal) error

	// Close closes the storage connection.
	Close() error
}
