package orders

import (
	"testing"

	"paper-trader/internal/models"
	"paper-trader/internal/portfolio"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// mockPriceSource is a PriceSource with fixed prices for testing.
type mockPriceSource struct {
	prices    map[string]decimal.Decimal
	connected bool
}

func (m *mockPriceSource) CurrentPrice(symbol string) (decimal.Decimal, bool) {
	p, ok := m.prices[symbol]
	return p, ok
}

func (m *mockPriceSource) IsConnected() bool { return m.connected }

func newTestExecutor(prices map[string]decimal.Decimal, balance string) (*Executor, *portfolio.Ledger) {
	ledger := portfolio.New(d(balance))
	feed := &mockPriceSource{prices: prices, connected: true}
	return NewExecutor(feed, ledger, zap.NewNop().Sugar()), ledger
}

func TestSubmitBuyExecuted(t *testing.T) {
	ex, ledger := newTestExecutor(map[string]decimal.Decimal{"BTCUSDT": d("50000")}, "10000")

	res := ex.SubmitBuy("BTCUSDT", d("0.1"))

	require.Equal(t, StatusExecuted, res.Status)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, models.Buy, res.Transaction.Side)
	assert.True(t, res.Transaction.Price.Equal(d("50000")))
	assert.NotEmpty(t, res.Message)
	assert.True(t, ledger.Balance().Equal(d("5000")))
}

func TestSubmitBuyNormalizesSymbol(t *testing.T) {
	ex, _ := newTestExecutor(map[string]decimal.Decimal{"BTCUSDT": d("50000")}, "10000")

	res := ex.SubmitBuy("btc/usdt", d("0.1"))

	require.Equal(t, StatusExecuted, res.Status)
	assert.Equal(t, "BTCUSDT", res.Transaction.Symbol)
}

func TestSubmitBuyNoPriceData(t *testing.T) {
	ex, ledger := newTestExecutor(map[string]decimal.Decimal{}, "10000")

	res := ex.SubmitBuy("BTCUSDT", d("0.1"))

	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, ReasonNoPriceData, res.Reason)
	assert.Nil(t, res.Transaction)
	assert.True(t, ledger.Balance().Equal(d("10000")), "a rejected order must not touch the ledger")
}

func TestSubmitBuyInvalidQuantity(t *testing.T) {
	ex, ledger := newTestExecutor(map[string]decimal.Decimal{"BTCUSDT": d("50000")}, "10000")

	for _, qty := range []decimal.Decimal{decimal.Zero, d("-0.5")} {
		res := ex.SubmitBuy("BTCUSDT", qty)
		assert.Equal(t, StatusRejected, res.Status)
		assert.Equal(t, ReasonInvalidQuantity, res.Reason)
	}
	assert.Empty(t, ledger.Transactions())
}

func TestSubmitBuyInsufficientBalance(t *testing.T) {
	ex, ledger := newTestExecutor(map[string]decimal.Decimal{"BTCUSDT": d("50000")}, "1000")

	res := ex.SubmitBuy("BTCUSDT", d("0.1"))

	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, ReasonInsufficientBalance, res.Reason)
	assert.Contains(t, res.Message, "insufficient balance")
	assert.True(t, ledger.Balance().Equal(d("1000")))
}

func TestSubmitSellInsufficientHoldings(t *testing.T) {
	ex, ledger := newTestExecutor(map[string]decimal.Decimal{"BTCUSDT": d("50000")}, "10000")

	res := ex.SubmitSell("BTCUSDT", d("0.1"))

	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, ReasonInsufficientHoldings, res.Reason)
	assert.Contains(t, res.Message, "insufficient holdings")
	assert.True(t, ledger.Balance().Equal(d("10000")))
}

func TestSubmitSellExecuted(t *testing.T) {
	ex, ledger := newTestExecutor(map[string]decimal.Decimal{"BTCUSDT": d("70000")}, "10000")
	_, err := ledger.ApplyBuy("BTCUSDT", d("0.1"), d("50000"))
	require.NoError(t, err)

	res := ex.SubmitSell("BTCUSDT", d("0.1"))

	require.Equal(t, StatusExecuted, res.Status)
	assert.Equal(t, models.Sell, res.Transaction.Side)
	// 5000 after the buy, plus 7000 proceeds.
	assert.True(t, ledger.Balance().Equal(d("12000")))
	_, held := ledger.Position("BTCUSDT")
	assert.False(t, held)
}

func TestSubmitAfterCloseRejected(t *testing.T) {
	ex, ledger := newTestExecutor(map[string]decimal.Decimal{"BTCUSDT": d("50000")}, "10000")
	ex.Close()

	res := ex.SubmitBuy("BTCUSDT", d("0.1"))

	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, ReasonShutdown, res.Reason)
	assert.Empty(t, ledger.Transactions())
}

func TestSubscriberReceivesResults(t *testing.T) {
	ex, _ := newTestExecutor(map[string]decimal.Decimal{"BTCUSDT": d("50000")}, "10000")
	results := ex.Subscribe()

	ex.SubmitBuy("BTCUSDT", d("0.1"))
	ex.SubmitSell("ETHUSDT", d("1"))

	first := <-results
	assert.Equal(t, StatusExecuted, first.Status)

	second := <-results
	assert.Equal(t, StatusRejected, second.Status)
	assert.Equal(t, ReasonNoPriceData, second.Reason)
}

func TestConcurrentSubmissionsNeverOverdraw(t *testing.T) {
	ex, ledger := newTestExecutor(map[string]decimal.Decimal{"BTCUSDT": d("50000")}, "10000")

	// Balance covers exactly two 0.1 BTC buys; the rest must be rejected.
	done := make(chan Result, 10)
	for i := 0; i < 10; i++ {
		go func() {
			done <- ex.SubmitBuy("BTCUSDT", d("0.1"))
		}()
	}

	executed := 0
	for i := 0; i < 10; i++ {
		if res := <-done; res.Executed() {
			executed++
		}
	}

	assert.Equal(t, 2, executed)
	assert.True(t, ledger.Balance().Equal(d("0")), "got %s", ledger.Balance())
	assert.True(t, ledger.Balance().Sign() >= 0, "balance must never go negative")
}
