package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"paper-trader/internal/models"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	streamReadTimeout  = 90 * time.Second
	streamPingInterval = 30 * time.Second
	sourceBinanceWS    = "binance-ws"
)

// StreamSource keeps one persistent Binance combined-ticker websocket
// subscription open for a set of symbols and caches the latest quote per
// symbol. It reconnects forever with capped exponential backoff; deciding when
// to fail over to another source is the aggregator's job, not this one's.
type StreamSource struct {
	wsBaseURL string
	logger    *zap.SugaredLogger

	// onQuote is set by the owning feed before Start.
	onQuote func(models.Quote)

	mu      sync.RWMutex
	symbols []string
	quotes  map[string]models.Quote
	state   models.ConnectionState

	resub chan struct{}

	reconnectMin    time.Duration
	reconnectMax    time.Duration
	reconnectFactor float64
}

// NewStreamSource creates a streaming source for the given websocket base URL
// (e.g. "wss://stream.binance.com:9443").
func NewStreamSource(cfg models.FeedConfig, logger *zap.SugaredLogger) *StreamSource {
	return &StreamSource{
		wsBaseURL:       strings.TrimRight(cfg.StreamURL, "/"),
		logger:          logger,
		quotes:          make(map[string]models.Quote),
		state:           models.Disconnected,
		resub:           make(chan struct{}, 1),
		reconnectMin:    time.Duration(cfg.ReconnectMinDelayMs) * time.Millisecond,
		reconnectMax:    time.Duration(cfg.ReconnectMaxDelaySec) * time.Second,
		reconnectFactor: cfg.ReconnectFactor,
	}
}

// Name identifies the provider in quote provenance and logs.
func (s *StreamSource) Name() string { return sourceBinanceWS }

// Subscribe replaces the symbol set. A changed set forces a reconnect so the
// combined stream URL matches the new subscription.
func (s *StreamSource) Subscribe(symbols []string) {
	norm := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		norm = append(norm, models.NormalizeSymbol(sym))
	}

	s.mu.Lock()
	changed := !equalSymbols(s.symbols, norm)
	s.symbols = norm
	s.mu.Unlock()

	if changed {
		select {
		case s.resub <- struct{}{}:
		default:
		}
	}
}

func equalSymbols(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Current returns the latest cached quote for a symbol. It never blocks on
// the network.
func (s *StreamSource) Current(symbol string) (models.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[models.NormalizeSymbol(symbol)]
	return q, ok
}

// State returns the current connectivity of the stream.
func (s *StreamSource) State() models.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *StreamSource) setState(state models.ConnectionState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if changed {
		s.logger.Infow("stream connection state changed", "source", s.Name(), "state", state.String())
	}
}

// SetQuoteSink registers the callback invoked for every accepted quote. Must
// be called before Start.
func (s *StreamSource) SetQuoteSink(fn func(models.Quote)) {
	s.onQuote = fn
}

// Start launches the receive loop on its own goroutine. The loop runs until
// the context is cancelled.
func (s *StreamSource) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *StreamSource) run(ctx context.Context) {
	b := &backoff.Backoff{
		Min:    s.reconnectMin,
		Max:    s.reconnectMax,
		Factor: s.reconnectFactor,
		Jitter: true,
	}

	for ctx.Err() == nil {
		url := s.streamURL()
		if url == "" {
			// Nothing subscribed yet; wait for a symbol set.
			select {
			case <-ctx.Done():
				return
			case <-s.resub:
				continue
			}
		}

		s.setState(models.Connecting)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			s.setState(models.Disconnected)
			delay := b.Duration()
			s.logger.Warnw("stream connect failed", "url", url, "retry_in", delay, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-s.resub:
			case <-time.After(delay):
			}
			continue
		}

		b.Reset()
		s.setState(models.Connected)
		s.readLoop(ctx, conn)
		s.setState(models.Disconnected)

		delay := b.Duration()
		select {
		case <-ctx.Done():
			return
		case <-s.resub:
		case <-time.After(delay):
		}
	}
}

func (s *StreamSource) streamURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.symbols) == 0 {
		return ""
	}
	streams := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		streams = append(streams, strings.ToLower(sym)+"@ticker")
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.wsBaseURL, strings.Join(streams, "/"))
}

// readLoop pumps messages from one connection until it fails, the context is
// cancelled or a resubscription is requested.
func (s *StreamSource) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	// Sole writer: keepalive pings plus closing the connection when the
	// context ends or the symbol set changes.
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-s.resub:
				s.logger.Infow("stream resubscribing", "source", s.Name())
				conn.Close()
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warnw("stream read failed", "error", err)
			}
			conn.Close()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		s.handleMessage(msg, time.Now())
	}
}

// combinedFrame is one message of the Binance combined stream. All numeric
// fields arrive as strings.
type combinedFrame struct {
	Stream string    `json:"stream"`
	Data   tickerMsg `json:"data"`
}

type tickerMsg struct {
	EventType   string `json:"e"`
	EventTimeMs int64  `json:"E"`
	Symbol      string `json:"s"`
	Last        string `json:"c"`
	ChangePct   string `json:"P"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Volume      string `json:"v"`
	QuoteVolume string `json:"q"`
	Bid         string `json:"b"`
	Ask         string `json:"a"`
}

func (s *StreamSource) handleMessage(msg []byte, now time.Time) {
	var frame combinedFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		s.logger.Debugw("dropping unparseable stream message", "error", err)
		return
	}
	data := frame.Data
	if data.Symbol == "" || data.Last == "" {
		return
	}

	last, err := decimal.NewFromString(data.Last)
	if err != nil {
		s.logger.Debugw("dropping stream message with bad price", "symbol", data.Symbol, "last", data.Last)
		return
	}

	ts := now
	if data.EventTimeMs > 0 {
		ts = time.UnixMilli(data.EventTimeMs)
	}

	quote := models.Quote{
		Symbol:      models.NormalizeSymbol(data.Symbol),
		Last:        last,
		ChangePct:   parseFloat(data.ChangePct),
		High:        parseFloat(data.High),
		Low:         parseFloat(data.Low),
		Volume:      parseFloat(data.Volume),
		QuoteVolume: parseFloat(data.QuoteVolume),
		Bid:         parseFloat(data.Bid),
		Ask:         parseFloat(data.Ask),
		Ts:          ts,
		Source:      s.Name(),
	}

	s.mu.Lock()
	// Tolerate duplicates and out-of-order delivery: keep the newer quote.
	if existing, ok := s.quotes[quote.Symbol]; ok && quote.Ts.Before(existing.Ts) {
		s.mu.Unlock()
		return
	}
	s.quotes[quote.Symbol] = quote
	s.mu.Unlock()

	if s.onQuote != nil {
		s.onQuote(quote)
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
