package analytics

import (
	"encoding/csv"
	"io"
	"sort"

	"paper-trader/internal/models"

	"github.com/shopspring/decimal"
)

// Metrics summarizes realized trading performance derived from the
// transaction log. Trades are completed sells; buys only contribute volume.
type Metrics struct {
	TotalTrades      int
	ProfitableTrades int
	WinRate          decimal.Decimal // percentage, 0 when there are no sells
	RealizedPnL      decimal.Decimal
	TotalVolume      decimal.Decimal
}

// SortByTimeDesc returns a copy of the transactions ordered most recent
// first. Display ordering is a read-time transform; the stored log stays in
// creation order.
func SortByTimeDesc(transactions []models.Transaction) []models.Transaction {
	out := make([]models.Transaction, len(transactions))
	copy(out, transactions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// RealizedPnL sums the profit locked in by every sell, using the buy-weighted
// average cost at the time of each sale.
func RealizedPnL(transactions []models.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, pnl := range perSellPnL(transactions) {
		total = total.Add(pnl)
	}
	return total
}

// Calculate derives the full metrics set from a transaction log.
func Calculate(transactions []models.Transaction) Metrics {
	m := Metrics{
		WinRate:     decimal.Zero,
		RealizedPnL: decimal.Zero,
		TotalVolume: decimal.Zero,
	}

	for _, txn := range transactions {
		m.TotalVolume = m.TotalVolume.Add(txn.TotalValue())
	}

	sellPnLs := perSellPnL(transactions)
	m.TotalTrades = len(sellPnLs)
	for _, pnl := range sellPnLs {
		m.RealizedPnL = m.RealizedPnL.Add(pnl)
		if pnl.Sign() > 0 {
			m.ProfitableTrades++
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.ProfitableTrades)).
			Div(decimal.NewFromInt(int64(m.TotalTrades))).
			Mul(decimal.NewFromInt(100))
	}
	return m
}

// perSellPnL replays the log in chronological order, tracking a weighted
// average cost basis per symbol, and returns the PnL of each sell.
func perSellPnL(transactions []models.Transaction) []decimal.Decimal {
	type basis struct {
		qty  decimal.Decimal
		cost decimal.Decimal
	}
	costBasis := make(map[string]basis)

	ordered := make([]models.Transaction, len(transactions))
	copy(ordered, transactions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var pnls []decimal.Decimal
	for _, txn := range ordered {
		b := costBasis[txn.Symbol]
		switch txn.Side {
		case models.Buy:
			costBasis[txn.Symbol] = basis{
				qty:  b.qty.Add(txn.Quantity),
				cost: b.cost.Add(txn.TotalValue()),
			}
		case models.Sell:
			if b.qty.Sign() <= 0 {
				// Sell without a tracked basis; counts as a flat trade.
				pnls = append(pnls, decimal.Zero)
				continue
			}
			avgCost := b.cost.Div(b.qty)
			pnls = append(pnls, txn.Price.Sub(avgCost).Mul(txn.Quantity))

			remaining := b.qty.Sub(txn.Quantity)
			if remaining.Sign() > 0 {
				costBasis[txn.Symbol] = basis{qty: remaining, cost: avgCost.Mul(remaining)}
			} else {
				costBasis[txn.Symbol] = basis{qty: decimal.Zero, cost: decimal.Zero}
			}
		}
	}
	return pnls
}

// ExportHeader is the column set for tabular transaction exports.
var ExportHeader = []string{"id", "symbol", "side", "quantity", "price", "total_value", "timestamp"}

// ExportRows renders every transaction field as strings, one row per
// transaction, in the order given.
func ExportRows(transactions []models.Transaction) [][]string {
	rows := make([][]string, 0, len(transactions))
	for _, txn := range transactions {
		rows = append(rows, []string{
			txn.ID,
			txn.Symbol,
			string(txn.Side),
			txn.Quantity.String(),
			txn.Price.String(),
			txn.TotalValue().String(),
			txn.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
		})
	}
	return rows
}

// WriteCSV writes the transaction history as CSV, header first.
func WriteCSV(w io.Writer, transactions []models.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return err
	}
	for _, row := range ExportRows(transactions) {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
