package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"paper-trader/internal/models"

	"github.com/shopspring/decimal"
)

const coinGeckoBaseURL = "https://api.coingecko.com/api/v3"

// coinGeckoIDs maps the canonical USDT pairs to CoinGecko coin ids. Symbols
// outside this map are unsupported on this tier; the prices are approximate
// USD quotes, acceptable for fallback use only.
var coinGeckoIDs = map[string]string{
	"BTCUSDT":  "bitcoin",
	"ETHUSDT":  "ethereum",
	"BNBUSDT":  "binancecoin",
	"SOLUSDT":  "solana",
	"XRPUSDT":  "ripple",
	"ADAUSDT":  "cardano",
	"DOGEUSDT": "dogecoin",
}

// CoinGeckoTickerClient fetches approximate USD prices from the CoinGecko
// simple price endpoint, one coin per request.
type CoinGeckoTickerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewCoinGeckoTickerClient builds a client with the given request timeout.
func NewCoinGeckoTickerClient(timeout time.Duration) *CoinGeckoTickerClient {
	return &CoinGeckoTickerClient{
		baseURL:    coinGeckoBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *CoinGeckoTickerClient) Name() string { return "coingecko" }

// FetchTicker fetches the USD price and 24h change for one symbol.
func (c *CoinGeckoTickerClient) FetchTicker(ctx context.Context, symbol string) (models.Quote, error) {
	id, ok := coinGeckoIDs[models.NormalizeSymbol(symbol)]
	if !ok {
		return models.Quote{}, ErrUnsupportedSymbol
	}

	params := url.Values{}
	params.Set("ids", id)
	params.Set("vs_currencies", "usd")
	params.Set("include_24hr_change", "true")
	params.Set("include_24hr_vol", "true")

	reqURL := fmt.Sprintf("%s/simple/price?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return models.Quote{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Quote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Quote{}, &StatusError{Provider: c.Name(), StatusCode: resp.StatusCode}
	}

	var payload map[string]struct {
		USD       float64 `json:"usd"`
		USDChange float64 `json:"usd_24h_change"`
		USDVolume float64 `json:"usd_24h_vol"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.Quote{}, fmt.Errorf("coingecko response for %s: %w", symbol, err)
	}

	entry, ok := payload[id]
	if !ok || entry.USD == 0 {
		return models.Quote{}, fmt.Errorf("coingecko returned no price for %s", id)
	}

	return models.Quote{
		Symbol:      models.NormalizeSymbol(symbol),
		Last:        decimal.NewFromFloat(entry.USD),
		ChangePct:   entry.USDChange,
		QuoteVolume: entry.USDVolume,
		Ts:          time.Now(),
	}, nil
}
