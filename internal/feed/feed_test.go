package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"paper-trader/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStream is a scriptable streamingSource.
type fakeStream struct {
	mu         sync.Mutex
	state      models.ConnectionState
	quotes     map[string]models.Quote
	sink       func(models.Quote)
	subscribed []string
	started    bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{state: models.Connecting, quotes: make(map[string]models.Quote)}
}

func (s *fakeStream) Name() string { return "fake-stream" }

func (s *fakeStream) Subscribe(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = symbols
}

func (s *fakeStream) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
}

func (s *fakeStream) Current(symbol string) (models.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[symbol]
	return q, ok
}

func (s *fakeStream) State() models.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeStream) SetQuoteSink(fn func(models.Quote)) { s.sink = fn }

func (s *fakeStream) setState(state models.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *fakeStream) setQuote(q models.Quote) {
	s.mu.Lock()
	s.quotes[q.Symbol] = q
	s.mu.Unlock()
}

// fakePoller is a scriptable pollingSource that records lifecycle calls.
type fakePoller struct {
	mu      sync.Mutex
	name    string
	state   models.ConnectionState
	quotes  map[string]models.Quote
	sink    func(models.Quote)
	started bool
	stops   int
	resets  int
}

func newFakePoller(name string) *fakePoller {
	return &fakePoller{name: name, state: models.Connecting, quotes: make(map[string]models.Quote)}
}

func (p *fakePoller) Name() string { return p.name }

func (p *fakePoller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
}

func (p *fakePoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	p.stops++
}

func (p *fakePoller) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	if p.state == models.Disconnected {
		p.state = models.Connecting
	}
}

func (p *fakePoller) Current(symbol string) (models.Quote, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.quotes[symbol]
	return q, ok
}

func (p *fakePoller) State() models.ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePoller) SetQuoteSink(fn func(models.Quote)) { p.sink = fn }

func (p *fakePoller) setState(state models.ConnectionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

func (p *fakePoller) setQuote(q models.Quote) {
	p.mu.Lock()
	p.quotes[q.Symbol] = q
	p.mu.Unlock()
}

func (p *fakePoller) isStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func testFeedConfig() models.FeedConfig {
	return models.FeedConfig{
		PollIntervalSec:      10,
		RequestTimeoutSec:    5,
		FailureThreshold:     3,
		GraceWindowSec:       10,
		FallbackStalenessSec: 60,
		ReprobeIntervalSec:   30,
	}
}

func newTestFeed(t *testing.T) (*PriceFeed, *fakeStream, []*fakePoller) {
	t.Helper()
	stream := newFakeStream()
	pollers := []*fakePoller{newFakePoller("poller-a"), newFakePoller("poller-b"), newFakePoller("poller-c")}

	sources := make([]pollingSource, len(pollers))
	for i, p := range pollers {
		sources[i] = p
	}

	f := newPriceFeed(testFeedConfig(), []string{"BTCUSDT", "ETHUSDT"}, zap.NewNop().Sugar(), stream, sources)
	// evaluate/advance are driven directly, without Start.
	f.ctx = context.Background()
	return f, stream, pollers
}

func quote(symbol, price string, ts time.Time) models.Quote {
	return models.Quote{Symbol: symbol, Last: decimal.RequireFromString(price), Ts: ts}
}

func TestFailoverActivatesFreshlyBuiltPollers(t *testing.T) {
	// Real polling sources, exactly as New wires them: never started, no
	// sweep has run yet. The first failover must still find them usable.
	client := newScriptedClient()
	client.serve("BTCUSDT", "50000")

	cfg := testFeedConfig()
	cfg.RequestSpacingMs = 0
	log := zap.NewNop().Sugar()

	sources := make([]pollingSource, 0, 3)
	for i := 0; i < 3; i++ {
		sources = append(sources, NewPollingSource(client, []string{"BTCUSDT"}, cfg, log))
	}

	stream := newFakeStream()
	stream.setState(models.Disconnected)
	f := newPriceFeed(cfg, []string{"BTCUSDT"}, log, stream, sources)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.ctx = ctx

	t0 := time.Now()
	f.evaluate(t0)
	f.evaluate(t0.Add(10 * time.Second))

	assert.Equal(t, Tier(1), f.ActiveTier(),
		"the grace-window failover must land on the first fallback, not ALL_DOWN")
	assert.True(t, f.IsConnected())
}

func TestStaysOnPrimaryWithinGraceWindow(t *testing.T) {
	f, stream, pollers := newTestFeed(t)
	stream.setState(models.Disconnected)

	t0 := time.Now()
	f.evaluate(t0)
	f.evaluate(t0.Add(5 * time.Second))

	assert.Equal(t, TierPrimary, f.ActiveTier(), "a blip shorter than the grace window must not fail over")
	assert.False(t, pollers[0].isStarted())
}

func TestFailsOverAfterGraceWindow(t *testing.T) {
	f, stream, pollers := newTestFeed(t)
	stream.setState(models.Disconnected)

	t0 := time.Now()
	f.evaluate(t0)
	f.evaluate(t0.Add(10 * time.Second))

	assert.Equal(t, Tier(1), f.ActiveTier())
	assert.True(t, pollers[0].isStarted(), "the first fallback poller must be polling")
	assert.False(t, pollers[1].isStarted(), "only the authoritative poller polls")
	assert.False(t, pollers[2].isStarted())
}

func TestFailoverSkipsDisconnectedPoller(t *testing.T) {
	f, stream, pollers := newTestFeed(t)
	stream.setState(models.Disconnected)
	pollers[0].setState(models.Disconnected)

	t0 := time.Now()
	f.evaluate(t0)
	f.evaluate(t0.Add(10 * time.Second))

	assert.Equal(t, Tier(2), f.ActiveTier())
	assert.False(t, pollers[0].isStarted())
	assert.True(t, pollers[1].isStarted())
}

func TestActiveFallbackFailureAdvancesChain(t *testing.T) {
	f, stream, pollers := newTestFeed(t)
	stream.setState(models.Disconnected)

	t0 := time.Now()
	f.evaluate(t0)
	f.evaluate(t0.Add(10 * time.Second))
	require.Equal(t, Tier(1), f.ActiveTier())

	pollers[0].setState(models.Disconnected)
	f.evaluate(t0.Add(20 * time.Second))

	assert.Equal(t, Tier(2), f.ActiveTier())
	assert.False(t, pollers[0].isStarted())
	assert.True(t, pollers[1].isStarted())
}

func TestExhaustedChainGoesAllDown(t *testing.T) {
	f, stream, pollers := newTestFeed(t)
	stream.setState(models.Disconnected)
	for _, p := range pollers {
		p.setState(models.Disconnected)
	}

	t0 := time.Now()
	f.evaluate(t0)
	f.evaluate(t0.Add(10 * time.Second))

	assert.Equal(t, TierAllDown, f.ActiveTier())
	assert.False(t, f.IsConnected())
	_, ok := f.Current("BTCUSDT")
	assert.False(t, ok, "no prices are served in ALL_DOWN")
	for _, p := range pollers {
		assert.False(t, p.isStarted())
	}
}

func TestAllDownReprobesAfterInterval(t *testing.T) {
	f, stream, pollers := newTestFeed(t)
	stream.setState(models.Disconnected)
	for _, p := range pollers {
		p.setState(models.Disconnected)
	}

	t0 := time.Now()
	f.evaluate(t0)
	f.evaluate(t0.Add(10 * time.Second))
	require.Equal(t, TierAllDown, f.ActiveTier())

	// Before the re-probe interval: still ALL_DOWN, no resets.
	f.evaluate(t0.Add(20 * time.Second))
	assert.Equal(t, TierAllDown, f.ActiveTier())

	// After the interval every poller is reset and the chain retried.
	f.evaluate(t0.Add(41 * time.Second))
	assert.Equal(t, Tier(1), f.ActiveTier())
	assert.True(t, pollers[0].isStarted())
	assert.GreaterOrEqual(t, pollers[0].resets, 1)
}

func TestStreamRecoveryReturnsToPrimaryImmediately(t *testing.T) {
	f, stream, pollers := newTestFeed(t)
	stream.setState(models.Disconnected)

	t0 := time.Now()
	f.evaluate(t0)
	f.evaluate(t0.Add(10 * time.Second))
	require.Equal(t, Tier(1), f.ActiveTier())

	stream.setState(models.Connected)
	f.evaluate(t0.Add(11 * time.Second))

	assert.Equal(t, TierPrimary, f.ActiveTier(), "recovery must be immediate, no grace window")
	assert.False(t, pollers[0].isStarted())
	assert.GreaterOrEqual(t, pollers[0].resets, 1, "pollers are reset on recovery")
}

func TestCurrentFromPrimaryUsesStream(t *testing.T) {
	f, stream, _ := newTestFeed(t)
	stream.setState(models.Connected)
	stream.setQuote(quote("BTCUSDT", "50000", time.Now()))

	q, ok := f.Current("btc/usdt")
	require.True(t, ok, "symbol lookup must normalize")
	assert.True(t, q.Last.Equal(decimal.RequireFromString("50000")))

	price, ok := f.CurrentPrice("BTCUSDT")
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("50000")))
}

func TestCurrentWithholdsStaleFallbackQuote(t *testing.T) {
	f, stream, pollers := newTestFeed(t)
	stream.setState(models.Disconnected)

	t0 := time.Now()
	f.evaluate(t0)
	f.evaluate(t0.Add(10 * time.Second))
	require.Equal(t, Tier(1), f.ActiveTier())

	pollers[0].setQuote(quote("BTCUSDT", "50000", time.Now().Add(-2*time.Minute)))
	_, ok := f.Current("BTCUSDT")
	assert.False(t, ok, "a fallback quote past the staleness limit is unavailable")

	pollers[0].setQuote(quote("BTCUSDT", "50100", time.Now()))
	q, ok := f.Current("BTCUSDT")
	require.True(t, ok)
	assert.True(t, q.Last.Equal(decimal.RequireFromString("50100")))
}

func TestPricesCoversServableSymbolsOnly(t *testing.T) {
	f, stream, _ := newTestFeed(t)
	stream.setState(models.Connected)
	stream.setQuote(quote("BTCUSDT", "50000", time.Now()))

	prices := f.Prices()

	require.Len(t, prices, 1)
	assert.True(t, prices["BTCUSDT"].Equal(decimal.RequireFromString("50000")))
}

func TestTierChangeEventsPublished(t *testing.T) {
	f, stream, _ := newTestFeed(t)
	events := f.Subscribe()
	stream.setState(models.Disconnected)

	t0 := time.Now()
	f.evaluate(t0)
	f.evaluate(t0.Add(10 * time.Second))

	var tierEvents []Event
	for {
		select {
		case ev := <-events:
			if ev.Type == TierChanged {
				tierEvents = append(tierEvents, ev)
			}
			continue
		default:
		}
		break
	}

	require.Len(t, tierEvents, 1)
	assert.Equal(t, Tier(1), tierEvents[0].Tier)
	assert.Equal(t, "FALLBACK_0", tierEvents[0].Tier.String())
}

func TestQuotePublishedOnlyFromAuthoritativeTier(t *testing.T) {
	f, stream, pollers := newTestFeed(t)
	events := f.Subscribe()
	stream.setState(models.Connected)
	f.evaluate(time.Now())

	// Drain connection-state events from the first pass.
	for len(events) > 0 {
		<-events
	}

	// On PRIMARY, a poller quote must be cached but never published.
	pollers[0].sink(quote("BTCUSDT", "49000", time.Now()))
	assert.Empty(t, events)

	stream.sink(quote("BTCUSDT", "50000", time.Now()))
	require.Len(t, events, 1)
	ev := <-events
	require.Equal(t, QuoteUpdated, ev.Type)
	require.NotNil(t, ev.Quote)
	assert.True(t, ev.Quote.Last.Equal(decimal.RequireFromString("50000")))
}

func TestConnectionChangeEventsPublishedOncePerTransition(t *testing.T) {
	f, stream, _ := newTestFeed(t)
	events := f.Subscribe()

	stream.setState(models.Connected)
	f.evaluate(time.Now())
	f.evaluate(time.Now().Add(time.Second))

	streamEvents := 0
	for len(events) > 0 {
		if ev := <-events; ev.Type == ConnectionChanged && ev.Source == "fake-stream" {
			streamEvents++
			assert.Equal(t, models.Connected, ev.State)
		}
	}
	assert.Equal(t, 1, streamEvents, "an unchanged state must not re-publish")
}

func TestTierStrings(t *testing.T) {
	assert.Equal(t, "ALL_DOWN", TierAllDown.String())
	assert.Equal(t, "PRIMARY", TierPrimary.String())
	assert.Equal(t, "FALLBACK_0", Tier(1).String())
	assert.Equal(t, "FALLBACK_2", Tier(3).String())
}
