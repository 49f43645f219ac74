package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ConnectionState describes the health of a single market data source.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	// Degraded means the source is reachable but returning stale or
	// error-prone data for part of its symbols.
	Degraded
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Degraded:
		return "DEGRADED"
	default:
		return "UNKNOWN"
	}
}

// Quote is a snapshot of one symbol's last price and 24h statistics from a
// single source. Quotes are replaced wholesale on every update and are never
// persisted.
type Quote struct {
	Symbol      string
	Last        decimal.Decimal
	ChangePct   float64
	High        float64
	Low         float64
	Volume      float64
	QuoteVolume float64
	Bid         float64
	Ask         float64
	Ts          time.Time
	// Source names the provider the quote came from, e.g. "binance-ws" or
	// "coingecko", so consumers can display provenance.
	Source string
}

// NormalizeSymbol converts user or provider spellings ("btc/usdt", "BTC-USDT")
// into the canonical key used across all sources ("BTCUSDT").
func NormalizeSymbol(s string) string {
	r := strings.NewReplacer("/", "", "-", "", " ", "")
	return strings.ToUpper(r.Replace(s))
}
