package analytics

import (
	"fmt"
	"io"

	"paper-trader/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
)

// WriteSessionReport prints a human-readable summary of the portfolio and its
// realized performance, used when the trader shuts down.
func WriteSessionReport(w io.Writer, state *models.PortfolioState, prices map[string]decimal.Decimal) {
	m := Calculate(state.Transactions)

	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetTitle("Session Summary")
	summary.AppendRows([]table.Row{
		{"Created", state.CreatedAt.Format("2006-01-02 15:04:05")},
		{"Initial balance", state.InitialBalance.StringFixed(2)},
		{"Cash balance", state.Balance.StringFixed(2)},
		{"Realized PnL", m.RealizedPnL.StringFixed(2)},
		{"Win rate", m.WinRate.StringFixed(2) + " %"},
		{"Sell trades", m.TotalTrades},
		{"Total volume", m.TotalVolume.StringFixed(2)},
	})
	summary.Render()

	if len(state.Positions) > 0 {
		positions := table.NewWriter()
		positions.SetOutputMirror(w)
		positions.SetTitle("Open Positions")
		positions.AppendHeader(table.Row{"Symbol", "Quantity", "Avg Cost", "Last", "Unrealized"})
		for sym, p := range state.Positions {
			last := "-"
			unrealized := "-"
			if price, ok := prices[sym]; ok {
				last = price.String()
				unrealized = p.Quantity.Mul(price).Sub(p.TotalCost()).StringFixed(2)
			}
			positions.AppendRow(table.Row{sym, p.Quantity.String(), p.AverageCost.String(), last, unrealized})
		}
		positions.Render()
	}

	if len(state.Transactions) > 0 {
		history := table.NewWriter()
		history.SetOutputMirror(w)
		history.SetTitle(fmt.Sprintf("Transactions (%d)", len(state.Transactions)))
		header := table.Row{}
		for _, col := range ExportHeader {
			header = append(header, col)
		}
		history.AppendHeader(header)
		for _, row := range ExportRows(SortByTimeDesc(state.Transactions)) {
			r := table.Row{}
			for _, cell := range row {
				r = append(r, cell)
			}
			history.AppendRow(r)
		}
		history.Render()
	}
}
