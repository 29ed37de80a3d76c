package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mselser95/esports-arb/pkg/types"
)

func TestFormatSide(t *testing.T) {
	tests := []struct {
		name     string
		book     *types.OrderBook
		expected string
	}{
		{
			name:     "nil-book",
			book:     nil,
			expected: "N/A / N/A",
		},
		{
			name:     "empty-sides",
			book:     &types.OrderBook{TokenID: "tok-yes-1"},
			expected: "N/A / N/A",
		},
		{
			name: "both-sides-quoted",
			book: &types.OrderBook{
				TokenID: "tok-yes-1",
				Bids:    []types.Level{{Price: 0.44, Size: 100}},
				Asks:    []types.Level{{Price: 0.45, Size: 200}},
			},
			expected: "0.440@100 / 0.450@200",
		},
		{
			name: "ask-only",
			book: &types.OrderBook{
				TokenID: "tok-no-1",
				Asks:    []types.Level{{Price: 0.52, Size: 80}},
			},
			expected: "N/A / 0.520@80",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatSide(tt.book))
		})
	}
}

func TestFormatPairAsk(t *testing.T) {
	yes := &types.OrderBook{
		TokenID: "tok-yes-1",
		Asks:    []types.Level{{Price: 0.45, Size: 200}},
	}
	no := &types.OrderBook{
		TokenID: "tok-no-1",
		Asks:    []types.Level{{Price: 0.52, Size: 80}},
	}

	tests := []struct {
		name     string
		update   *types.BookUpdate
		expected string
	}{
		{
			name:     "both-asks-quoted",
			update:   &types.BookUpdate{MarketID: "mkt-1", Yes: yes, No: no},
			expected: "0.970",
		},
		{
			name:     "missing-no-book",
			update:   &types.BookUpdate{MarketID: "mkt-1", Yes: yes},
			expected: "N/A",
		},
		{
			name: "empty-ask-side",
			update: &types.BookUpdate{
				MarketID: "mkt-1",
				Yes:      yes,
				No:       &types.OrderBook{TokenID: "tok-no-1"},
			},
			expected: "N/A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatPairAsk(tt.update))
		})
	}
}
