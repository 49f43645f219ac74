package feed

import (
	"context"
	"fmt"
	"time"

	"paper-trader/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// BinanceTickerClient fetches 24h ticker statistics from the Binance spot
// REST API. It is the first fallback tier: same exchange as the stream, so
// prices are exact, just slower.
type BinanceTickerClient struct {
	client *binance.Client
}

// NewBinanceTickerClient builds a client. Public market data needs no keys.
func NewBinanceTickerClient() *BinanceTickerClient {
	return &BinanceTickerClient{client: binance.NewClient("", "")}
}

func (c *BinanceTickerClient) Name() string { return "binance" }

// FetchTicker fetches the 24h statistics for one symbol.
func (c *BinanceTickerClient) FetchTicker(ctx context.Context, symbol string) (models.Quote, error) {
	stats, err := c.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return models.Quote{}, fmt.Errorf("binance 24h ticker for %s: %w", symbol, err)
	}
	if len(stats) == 0 {
		return models.Quote{}, fmt.Errorf("binance returned no ticker for %s", symbol)
	}

	s := stats[0]
	last, err := decimal.NewFromString(s.LastPrice)
	if err != nil {
		return models.Quote{}, fmt.Errorf("binance ticker for %s has bad price %q", symbol, s.LastPrice)
	}

	return models.Quote{
		Symbol:      symbol,
		Last:        last,
		ChangePct:   parseFloat(s.PriceChangePercent),
		High:        parseFloat(s.HighPrice),
		Low:         parseFloat(s.LowPrice),
		Volume:      parseFloat(s.Volume),
		QuoteVolume: parseFloat(s.QuoteVolume),
		Bid:         parseFloat(s.BidPrice),
		Ask:         parseFloat(s.AskPrice),
		Ts:          time.Now(),
	}, nil
}
