package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Position is the currently held quantity and average cost basis for one
// symbol. A position exists only while Quantity > 0; selling down to exactly
// zero removes it from the portfolio.
type Position struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
}

// TotalCost returns the cost basis of the whole position.
func (p Position) TotalCost() decimal.Decimal {
	return p.Quantity.Mul(p.AverageCost)
}

// Transaction is one completed trade. Transactions are immutable once created
// and form an append-only log.
type Transaction struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// TotalValue returns the notional value of the transaction.
func (t Transaction) TotalValue() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// NewTransactionID returns a compact, unique transaction identifier.
func NewTransactionID() string {
	u := uuid.New()
	return base62.EncodeToString(u[:])
}

// PortfolioState is the root aggregate of the paper trading ledger and the
// unit of persistence. Decimal fields marshal as quoted strings, so a JSON
// round trip loses no precision.
type PortfolioState struct {
	Balance        decimal.Decimal      `json:"balance"`
	InitialBalance decimal.Decimal      `json:"initial_balance"`
	CreatedAt      time.Time            `json:"created_at"`
	Positions      map[string]*Position `json:"positions"`
	Transactions   []Transaction        `json:"transactions"`
}
