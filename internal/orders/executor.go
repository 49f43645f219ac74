package orders

import (
	"errors"
	"fmt"
	"sync"

	"paper-trader/internal/models"
	"paper-trader/internal/portfolio"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderStatus is the terminal state of a submitted order. A rejected order is
// never retried by the executor.
type OrderStatus string

const (
	StatusExecuted OrderStatus = "EXECUTED"
	StatusRejected OrderStatus = "REJECTED"
)

// RejectionReason classifies why an order was not executed.
type RejectionReason string

const (
	ReasonNone                 RejectionReason = ""
	ReasonNoPriceData          RejectionReason = "NO_PRICE_DATA"
	ReasonInvalidQuantity      RejectionReason = "INVALID_QUANTITY"
	ReasonInsufficientBalance  RejectionReason = "INSUFFICIENT_BALANCE"
	ReasonInsufficientHoldings RejectionReason = "INSUFFICIENT_HOLDINGS"
	ReasonShutdown             RejectionReason = "SHUTDOWN"
)

// Result carries the outcome of an order submission. Errors never cross this
// boundary; rejections come back as a structured reason plus a human-readable
// message.
type Result struct {
	Status      OrderStatus
	Transaction *models.Transaction
	Reason      RejectionReason
	Message     string
}

// Executed reports whether the order went through.
func (r Result) Executed() bool { return r.Status == StatusExecuted }

// PriceSource is the slice of the price feed the executor needs: the latest
// price for a symbol and whether any tier is currently authoritative.
type PriceSource interface {
	CurrentPrice(symbol string) (decimal.Decimal, bool)
	IsConnected() bool
}

// Executor validates and executes market buy/sell requests against the ledger
// using the current quote from the price feed. The price lookup and the ledger
// mutation run under one mutex, so no other submission can act on a price that
// changed in between.
type Executor struct {
	mu     sync.Mutex
	feed   PriceSource
	ledger *portfolio.Ledger
	logger *zap.SugaredLogger
	closed bool

	subsMu sync.Mutex
	subs   []chan Result
}

// NewExecutor creates an order executor over the given feed and ledger.
func NewExecutor(feed PriceSource, ledger *portfolio.Ledger, logger *zap.SugaredLogger) *Executor {
	return &Executor{
		feed:   feed,
		ledger: ledger,
		logger: logger,
	}
}

// Subscribe returns a buffered channel of order results, intended for UI-style
// consumers rendering toasts. Slow consumers miss results rather than blocking
// order flow.
func (e *Executor) Subscribe() <-chan Result {
	ch := make(chan Result, 64)
	e.subsMu.Lock()
	e.subs = append(e.subs, ch)
	e.subsMu.Unlock()
	return ch
}

func (e *Executor) publish(res Result) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- res:
		default:
		}
	}
}

// Close stops the executor. Submissions after Close are rejected; no order
// begins execution once shutdown has been signaled.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.subsMu.Lock()
	for _, ch := range e.subs {
		close(ch)
	}
	e.subs = nil
	e.subsMu.Unlock()
}

// SubmitBuy submits an immediate market buy for the given quantity.
func (e *Executor) SubmitBuy(symbol string, quantity decimal.Decimal) Result {
	return e.submit(symbol, models.Buy, quantity)
}

// SubmitSell submits an immediate market sell for the given quantity.
func (e *Executor) SubmitSell(symbol string, quantity decimal.Decimal) Result {
	return e.submit(symbol, models.Sell, quantity)
}

func (e *Executor) submit(symbol string, side models.Side, quantity decimal.Decimal) Result {
	symbol = models.NormalizeSymbol(symbol)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return e.reject(symbol, side, ReasonShutdown, "executor is shut down")
	}

	if quantity.Sign() <= 0 {
		return e.reject(symbol, side, ReasonInvalidQuantity, "quantity must be greater than zero")
	}

	price, ok := e.feed.CurrentPrice(symbol)
	if !ok {
		return e.reject(symbol, side, ReasonNoPriceData,
			fmt.Sprintf("no price data available for %s", symbol))
	}

	var (
		txn models.Transaction
		err error
	)
	if side == models.Buy {
		txn, err = e.ledger.ApplyBuy(symbol, quantity, price)
	} else {
		txn, err = e.ledger.ApplySell(symbol, quantity, price)
	}

	if err != nil {
		switch {
		case errors.Is(err, portfolio.ErrInsufficientBalance):
			return e.reject(symbol, side, ReasonInsufficientBalance,
				fmt.Sprintf("insufficient balance: need %s, have %s",
					quantity.Mul(price), e.ledger.Balance()))
		case errors.Is(err, portfolio.ErrInsufficientHoldings):
			held := decimal.Zero
			if pos, ok := e.ledger.Position(symbol); ok {
				held = pos.Quantity
			}
			return e.reject(symbol, side, ReasonInsufficientHoldings,
				fmt.Sprintf("insufficient holdings: need %s, have %s", quantity, held))
		default:
			return e.reject(symbol, side, ReasonInvalidQuantity, err.Error())
		}
	}

	verb := "Bought"
	if side == models.Sell {
		verb = "Sold"
	}
	res := Result{
		Status:      StatusExecuted,
		Transaction: &txn,
		Message:     fmt.Sprintf("%s %s %s at %s", verb, quantity, symbol, price),
	}
	e.logger.Infow("order executed",
		"id", txn.ID, "symbol", symbol, "side", side, "quantity", quantity, "price", price)
	e.publish(res)
	return res
}

func (e *Executor) reject(symbol string, side models.Side, reason RejectionReason, msg string) Result {
	res := Result{Status: StatusRejected, Reason: reason, Message: msg}
	e.logger.Infow("order rejected",
		"symbol", symbol, "side", side, "reason", reason, "message", msg)
	e.publish(res)
	return res
}
