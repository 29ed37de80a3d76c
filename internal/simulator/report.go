package simulator

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// RenderSummary writes the sweep results to w as a table, one row per cap in
// grid order.
func RenderSummary(w io.Writer, summaries []CapSummary) {
	table := tablewriter.NewWriter(w)
	table.Header("Cap", "Runs", "Mean PnL", "P5 PnL", "P50 PnL", "P95 PnL", "Fills", "Avg Cost")

	for _, s := range summaries {
		table.Append(
			fmt.Sprintf("%.3f", s.Cap),
			fmt.Sprintf("%d", s.Runs),
			fmt.Sprintf("$%.2f", s.MeanPnL),
			fmt.Sprintf("$%.2f", s.P5PnL),
			fmt.Sprintf("$%.2f", s.P50PnL),
			fmt.Sprintf("$%.2f", s.P95PnL),
			fmt.Sprintf("%.1f", s.MeanFills),
			fmt.Sprintf("$%.0f", s.MeanCost),
		)
	}

	table.Render()
}
