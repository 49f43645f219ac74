package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"paper-trader/internal/models"

	"github.com/shopspring/decimal"
)

const coinbaseBaseURL = "https://api.exchange.coinbase.com"

// CoinbaseTickerClient fetches approximate USD quotes from the Coinbase
// Exchange public API. USDT pairs are mapped to the matching BASE-USD
// product; other pairs are unsupported on this tier.
type CoinbaseTickerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewCoinbaseTickerClient builds a client with the given request timeout.
func NewCoinbaseTickerClient(timeout time.Duration) *CoinbaseTickerClient {
	return &CoinbaseTickerClient{
		baseURL:    coinbaseBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *CoinbaseTickerClient) Name() string { return "coinbase" }

// toProduct converts "BTCUSDT" / "BTCUSD" into the Coinbase product id
// "BTC-USD". Pairs without a USD(T) quote have no product here.
func toProduct(symbol string) (string, bool) {
	sym := models.NormalizeSymbol(symbol)
	var base string
	switch {
	case strings.HasSuffix(sym, "USDT"):
		base = strings.TrimSuffix(sym, "USDT")
	case strings.HasSuffix(sym, "USD"):
		base = strings.TrimSuffix(sym, "USD")
	}
	if base == "" {
		return "", false
	}
	return base + "-USD", true
}

type coinbaseTicker struct {
	Price string `json:"price"`
	Bid   string `json:"bid"`
	Ask   string `json:"ask"`
}

type coinbaseStats struct {
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Volume string `json:"volume"`
	Last   string `json:"last"`
}

// FetchTicker fetches the product ticker and 24h stats for one symbol. Two
// sequential requests per symbol; the caller's spacing applies between
// symbols, not between the pair of calls.
func (c *CoinbaseTickerClient) FetchTicker(ctx context.Context, symbol string) (models.Quote, error) {
	product, ok := toProduct(symbol)
	if !ok {
		return models.Quote{}, ErrUnsupportedSymbol
	}

	var ticker coinbaseTicker
	if err := c.getJSON(ctx, fmt.Sprintf("%s/products/%s/ticker", c.baseURL, product), &ticker); err != nil {
		return models.Quote{}, err
	}

	var stats coinbaseStats
	if err := c.getJSON(ctx, fmt.Sprintf("%s/products/%s/stats", c.baseURL, product), &stats); err != nil {
		return models.Quote{}, err
	}

	lastStr := stats.Last
	if lastStr == "" {
		lastStr = ticker.Price
	}
	last, err := decimal.NewFromString(lastStr)
	if err != nil {
		return models.Quote{}, fmt.Errorf("coinbase ticker for %s has bad price %q", symbol, lastStr)
	}

	open := parseFloat(stats.Open)
	lastF, _ := last.Float64()
	changePct := 0.0
	if open != 0 {
		changePct = (lastF - open) / open * 100
	}
	volume := parseFloat(stats.Volume)

	return models.Quote{
		Symbol:      models.NormalizeSymbol(symbol),
		Last:        last,
		ChangePct:   changePct,
		High:        parseFloat(stats.High),
		Low:         parseFloat(stats.Low),
		Volume:      volume,
		QuoteVolume: lastF * volume,
		Bid:         parseFloat(ticker.Bid),
		Ask:         parseFloat(ticker.Ask),
		Ts:          time.Now(),
	}, nil
}

func (c *CoinbaseTickerClient) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "paper-trader/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Provider: c.Name(), StatusCode: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
