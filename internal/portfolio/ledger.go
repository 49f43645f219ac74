package portfolio

import (
	"errors"
	"sync"
	"time"

	"paper-trader/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when a buy would overdraw the cash
	// balance. The ledger is left untouched.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientHoldings is returned when a sell exceeds the held
	// quantity. The ledger is left untouched.
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
)

// Ledger owns the paper trading balance, positions and transaction log. Every
// mutation goes through it, is validated before any state changes, and runs
// under one mutex so concurrent orders never interleave into an inconsistent
// balance. All arithmetic uses decimals; binary floating point never touches
// money or quantity.
type Ledger struct {
	mu    sync.Mutex
	state *models.PortfolioState
}

// New creates a fresh ledger with the given starting balance and no positions.
func New(initialBalance decimal.Decimal) *Ledger {
	return &Ledger{
		state: &models.PortfolioState{
			Balance:        initialBalance,
			InitialBalance: initialBalance,
			CreatedAt:      time.Now(),
			Positions:      make(map[string]*models.Position),
		},
	}
}

// NewFromState restores a ledger from a persisted snapshot.
func NewFromState(state *models.PortfolioState) *Ledger {
	if state.Positions == nil {
		state.Positions = make(map[string]*models.Position)
	}
	return &Ledger{state: state}
}

// Balance returns the current available cash balance.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Balance
}

// InitialBalance returns the balance the ledger was created (or last reset) with.
func (l *Ledger) InitialBalance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.InitialBalance
}

// CreatedAt returns the creation time of the portfolio.
func (l *Ledger) CreatedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.CreatedAt
}

// Position returns a copy of the position for one symbol, or false if none is
// held.
func (l *Ledger) Position(symbol string) (models.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.state.Positions[symbol]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// Positions returns a copy of all open positions keyed by symbol.
func (l *Ledger) Positions() map[string]models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]models.Position, len(l.state.Positions))
	for sym, p := range l.state.Positions {
		out[sym] = *p
	}
	return out
}

// Transactions returns a copy of the transaction log in creation order.
func (l *Ledger) Transactions() []models.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Transaction, len(l.state.Transactions))
	copy(out, l.state.Transactions)
	return out
}

// ApplyBuy debits quantity*price from the balance, upserts the position with a
// buy-weighted average cost and appends a BUY transaction. It fails with
// ErrInsufficientBalance before any mutation if the balance cannot cover the
// order.
func (l *Ledger) ApplyBuy(symbol string, quantity, price decimal.Decimal) (models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if quantity.Sign() <= 0 {
		return models.Transaction{}, ErrInvalidQuantity
	}

	orderValue := quantity.Mul(price)
	if orderValue.GreaterThan(l.state.Balance) {
		return models.Transaction{}, ErrInsufficientBalance
	}

	l.state.Balance = l.state.Balance.Sub(orderValue)

	if existing, ok := l.state.Positions[symbol]; ok {
		totalQty := existing.Quantity.Add(quantity)
		totalCost := existing.TotalCost().Add(orderValue)
		existing.Quantity = totalQty
		existing.AverageCost = totalCost.Div(totalQty)
	} else {
		l.state.Positions[symbol] = &models.Position{
			Symbol:      symbol,
			Quantity:    quantity,
			AverageCost: price,
		}
	}

	return l.appendTransaction(symbol, models.Buy, quantity, price), nil
}

// ApplySell credits quantity*price to the balance, reduces the position and
// appends a SELL transaction. A sell never changes the average cost; reaching
// exactly zero removes the position. It fails with ErrInsufficientHoldings
// before any mutation if the held quantity is too small.
func (l *Ledger) ApplySell(symbol string, quantity, price decimal.Decimal) (models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if quantity.Sign() <= 0 {
		return models.Transaction{}, ErrInvalidQuantity
	}

	position, ok := l.state.Positions[symbol]
	if !ok || quantity.GreaterThan(position.Quantity) {
		return models.Transaction{}, ErrInsufficientHoldings
	}

	l.state.Balance = l.state.Balance.Add(quantity.Mul(price))

	remaining := position.Quantity.Sub(quantity)
	if remaining.IsZero() {
		delete(l.state.Positions, symbol)
	} else {
		position.Quantity = remaining
	}

	return l.appendTransaction(symbol, models.Sell, quantity, price), nil
}

func (l *Ledger) appendTransaction(symbol string, side models.Side, quantity, price decimal.Decimal) models.Transaction {
	txn := models.Transaction{
		ID:        models.NewTransactionID(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Timestamp: time.Now(),
	}
	l.state.Transactions = append(l.state.Transactions, txn)
	return txn
}

// PortfolioValue returns balance plus the market value of all positions at the
// given prices. A symbol with no available price contributes zero; it is not
// silently dropped from the positions map, only from the valuation.
func (l *Ledger) PortfolioValue(prices map[string]decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.state.Balance
	for sym, position := range l.state.Positions {
		if price, ok := prices[sym]; ok {
			total = total.Add(position.Quantity.Mul(price))
		}
	}
	return total
}

// UnrealizedPnL returns the paper profit of one position at the current price,
// zero when the symbol is not held.
func (l *Ledger) UnrealizedPnL(symbol string, currentPrice decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	position, ok := l.state.Positions[symbol]
	if !ok {
		return decimal.Zero
	}
	return position.Quantity.Mul(currentPrice).Sub(position.TotalCost())
}

// Reset discards all positions and transactions and restores the balance to
// the given initial value.
func (l *Ledger) Reset(initialBalance decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.Balance = initialBalance
	l.state.InitialBalance = initialBalance
	l.state.Positions = make(map[string]*models.Position)
	l.state.Transactions = nil
}

// Snapshot returns a deep copy of the portfolio state for safe concurrent
// reading and persistence.
func (l *Ledger) Snapshot() *models.PortfolioState {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := *l.state
	snap.Positions = make(map[string]*models.Position, len(l.state.Positions))
	for sym, p := range l.state.Positions {
		cp := *p
		snap.Positions[sym] = &cp
	}
	snap.Transactions = make([]models.Transaction, len(l.state.Transactions))
	copy(snap.Transactions, l.state.Transactions)
	return &snap
}
