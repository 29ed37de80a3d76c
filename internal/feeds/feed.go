// Package feeds runs the adapters that push market data and match events
// onto the bus. Paper mode runs the deterministic SimFeed; live mode runs
// one WSFeed per provider on top of pkg/websocket.
package feeds

import (
	"context"

	"github.com/mselser95/esports-arb/pkg/types"
)

// Adapter is a data source the app runs for its lifetime. Run blocks until
// ctx ends or the feed fails beyond recovery; a nil return is a clean stop.
type Adapter interface {
	Name() string
	Run(ctx context.Context) error
}

// Publisher publishes events onto the bus. Satisfied by *bus.Bus.
type Publisher interface {
	Publish(ev types.Event) bool
}

// TierForSource resolves a provider name to its quality tier from the
// configured tier lists. Unlisted providers count as tier C: an unknown
// source may confirm an outcome but never drive one.
func TierForSource(source string, tierA, tierB, tierC []string) types.Tier {
	for _, name := range tierA {
		if name == source {
			return types.TierA
		}
	}

	for _, name := range tierB {
		if name == source {
			return types.TierB
		}
	}

	for _, name := range tierC {
		if name == source {
			return types.TierC
		}
	}

	return types.TierC
}
