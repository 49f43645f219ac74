package feed

import (
	"context"
	"sync"
	"time"

	"paper-trader/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// supervisorInterval is how often the feed re-evaluates source health.
const supervisorInterval = time.Second

// streamingSource is the slice of StreamSource the aggregator depends on.
type streamingSource interface {
	Name() string
	Subscribe(symbols []string)
	Start(ctx context.Context)
	Current(symbol string) (models.Quote, bool)
	State() models.ConnectionState
	SetQuoteSink(fn func(models.Quote))
}

// pollingSource is the slice of PollingSource the aggregator depends on.
type pollingSource interface {
	Name() string
	Start(ctx context.Context)
	Stop()
	Reset()
	Current(symbol string) (models.Quote, bool)
	State() models.ConnectionState
	SetQuoteSink(fn func(models.Quote))
}

// PriceFeed aggregates the streaming source and the ordered polling fallback
// chain into one logical feed. It owns the failover state machine: exactly one
// tier is authoritative at any moment, streaming is always preferred when
// healthy, and only the authoritative fallback poller is actively polling.
type PriceFeed struct {
	cfg     models.FeedConfig
	symbols []string
	logger  *zap.SugaredLogger

	stream  streamingSource
	pollers []pollingSource

	ctx context.Context

	mu              sync.RWMutex
	active          Tier
	streamDownSince time.Time
	allDownSince    time.Time

	lastStates map[string]models.ConnectionState

	subsMu sync.Mutex
	subs   []chan Event
}

// New builds the production feed: Binance websocket stream, then Binance
// REST, CoinGecko and Coinbase polling fallbacks, in that order of
// preference.
func New(cfg models.FeedConfig, symbols []string, logger *zap.SugaredLogger) *PriceFeed {
	timeout := cfg.RequestTimeout()
	clients := []TickerClient{
		NewBinanceTickerClient(),
		NewCoinGeckoTickerClient(timeout),
		NewCoinbaseTickerClient(timeout),
	}

	stream := NewStreamSource(cfg, logger)
	pollers := make([]pollingSource, 0, len(clients))
	for _, client := range clients {
		pollers = append(pollers, NewPollingSource(client, symbols, cfg, logger))
	}
	return newPriceFeed(cfg, symbols, logger, stream, pollers)
}

func newPriceFeed(cfg models.FeedConfig, symbols []string, logger *zap.SugaredLogger,
	stream streamingSource, pollers []pollingSource) *PriceFeed {

	norm := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm = append(norm, models.NormalizeSymbol(s))
	}

	f := &PriceFeed{
		cfg:        cfg,
		symbols:    norm,
		logger:     logger,
		stream:     stream,
		pollers:    pollers,
		active:     TierPrimary,
		lastStates: make(map[string]models.ConnectionState),
	}

	stream.SetQuoteSink(f.quoteSink(TierPrimary))
	for i, p := range pollers {
		p.SetQuoteSink(f.quoteSink(Tier(i + 1)))
	}
	return f
}

// Start connects the stream and launches the failover supervisor. It returns
// immediately; all work happens on background goroutines until the context is
// cancelled.
func (f *PriceFeed) Start(ctx context.Context) {
	f.ctx = ctx
	f.stream.Subscribe(f.symbols)
	f.stream.Start(ctx)
	go f.supervise(ctx)
}

func (f *PriceFeed) supervise(ctx context.Context) {
	ticker := time.NewTicker(supervisorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for _, p := range f.pollers {
				p.Stop()
			}
			return
		case now := <-ticker.C:
			f.evaluate(now)
		}
	}
}

// evaluate runs one supervision pass. It is the only writer of the
// authoritative-tier state.
func (f *PriceFeed) evaluate(now time.Time) {
	f.publishStateChanges()

	streamState := f.stream.State()
	if streamState == models.Connected {
		f.mu.Lock()
		f.streamDownSince = time.Time{}
		f.mu.Unlock()

		// Streaming is always preferred when healthy: return immediately,
		// no grace window in this direction.
		if f.ActiveTier() != TierPrimary {
			for _, p := range f.pollers {
				p.Stop()
				p.Reset()
			}
			f.setActive(TierPrimary)
		}
		return
	}

	f.mu.Lock()
	if f.streamDownSince.IsZero() {
		f.streamDownSince = now
	}
	downFor := now.Sub(f.streamDownSince)
	active := f.active
	allDownFor := now.Sub(f.allDownSince)
	f.mu.Unlock()

	switch {
	case active == TierPrimary:
		// A short grace window avoids failing over on momentary blips.
		if downFor >= f.cfg.GraceWindow() {
			f.logger.Warnw("stream down past grace window, failing over",
				"down_for", downFor.Round(time.Second))
			f.advance(1, now)
		}
	case active == TierAllDown:
		if allDownFor >= f.cfg.ReprobeInterval() {
			f.logger.Infow("re-probing fallback chain")
			for _, p := range f.pollers {
				p.Reset()
			}
			f.advance(1, now)
		}
	default:
		if f.pollers[int(active)-1].State() == models.Disconnected {
			f.advance(int(active)+1, now)
		}
	}
}

// advance activates the first usable fallback tier at or after start, or
// declares ALL_DOWN when the chain is exhausted. The streaming source keeps
// reconnecting on its own backoff the whole time.
func (f *PriceFeed) advance(start int, now time.Time) {
	for i := start; i <= len(f.pollers); i++ {
		if f.pollers[i-1].State() == models.Disconnected {
			continue
		}
		for j, p := range f.pollers {
			if j != i-1 {
				p.Stop()
			}
		}
		f.pollers[i-1].Start(f.ctx)
		f.setActive(Tier(i))
		return
	}

	for _, p := range f.pollers {
		p.Stop()
	}
	f.mu.Lock()
	f.allDownSince = now
	f.mu.Unlock()
	f.setActive(TierAllDown)
}

func (f *PriceFeed) setActive(tier Tier) {
	f.mu.Lock()
	changed := f.active != tier
	f.active = tier
	f.mu.Unlock()
	if !changed {
		return
	}

	f.logger.Infow("authoritative tier changed", "tier", tier.String())
	f.publish(Event{Type: TierChanged, Tier: tier})
}

// publishStateChanges emits a ConnectionChanged event for every source whose
// state moved since the last pass.
func (f *PriceFeed) publishStateChanges() {
	check := func(name string, state models.ConnectionState) {
		if last, ok := f.lastStates[name]; !ok || last != state {
			f.lastStates[name] = state
			f.publish(Event{Type: ConnectionChanged, Source: name, State: state})
		}
	}
	check(f.stream.Name(), f.stream.State())
	for _, p := range f.pollers {
		check(p.Name(), p.State())
	}
}

// ActiveTier returns the currently authoritative tier.
func (f *PriceFeed) ActiveTier() Tier {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active
}

// IsConnected reports whether any tier is authoritative. False only in
// ALL_DOWN.
func (f *PriceFeed) IsConnected() bool {
	return f.ActiveTier() != TierAllDown
}

// Current returns the quote for a symbol from the authoritative tier,
// annotated with its source. Absence means "price unavailable" — the symbol
// may be unsupported by the active tier or its fallback quote may be too
// stale — and must not be treated as an error by callers.
func (f *PriceFeed) Current(symbol string) (models.Quote, bool) {
	sym := models.NormalizeSymbol(symbol)
	active := f.ActiveTier()

	switch active {
	case TierAllDown:
		return models.Quote{}, false
	case TierPrimary:
		return f.stream.Current(sym)
	default:
		q, ok := f.pollers[int(active)-1].Current(sym)
		if !ok {
			return models.Quote{}, false
		}
		if time.Since(q.Ts) > f.cfg.FallbackStaleness() {
			return models.Quote{}, false
		}
		return q, true
	}
}

// CurrentPrice returns just the last price, for order execution.
func (f *PriceFeed) CurrentPrice(symbol string) (decimal.Decimal, bool) {
	q, ok := f.Current(symbol)
	if !ok {
		return decimal.Decimal{}, false
	}
	return q.Last, true
}

// Prices returns the last price of every symbol the authoritative tier can
// currently serve, for portfolio valuation.
func (f *PriceFeed) Prices() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(f.symbols))
	for _, sym := range f.symbols {
		if q, ok := f.Current(sym); ok {
			out[sym] = q.Last
		}
	}
	return out
}

// Subscribe returns a buffered channel of feed events. Publishes never block;
// a slow consumer misses events rather than stalling the feed.
func (f *PriceFeed) Subscribe() <-chan Event {
	ch := make(chan Event, 256)
	f.subsMu.Lock()
	f.subs = append(f.subs, ch)
	f.subsMu.Unlock()
	return ch
}

func (f *PriceFeed) publish(ev Event) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// quoteSink returns the per-source callback. Quotes are always cached by the
// source itself; only quotes from the authoritative tier are published to
// subscribers.
func (f *PriceFeed) quoteSink(tier Tier) func(models.Quote) {
	return func(q models.Quote) {
		if f.ActiveTier() != tier {
			return
		}
		quote := q
		f.publish(Event{Type: QuoteUpdated, Quote: &quote})
	}
}
