package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"paper-trader/internal/models"

	"go.uber.org/zap"
)

// ErrUnsupportedSymbol is returned by ticker clients for symbols the provider
// cannot serve (e.g. non-USD pairs on USD-based fallbacks). It is not counted
// as a provider failure.
var ErrUnsupportedSymbol = errors.New("symbol not supported by this provider")

// StatusError is an HTTP-level provider error.
type StatusError struct {
	Provider   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Provider, e.StatusCode)
}

// IsRateLimit reports whether the error is a provider rate-limit response.
func IsRateLimit(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == 429 || se.StatusCode == 418
	}
	return false
}

// TickerClient is the capability one REST provider implements: fetch the 24h
// ticker for a single symbol. Requests are always per-symbol, never batched,
// to avoid provider-side batch-size errors.
type TickerClient interface {
	Name() string
	FetchTicker(ctx context.Context, symbol string) (models.Quote, error)
}

// PollingSource queries one REST provider per symbol on a fixed interval and
// caches the results. Requests within a sweep are issued sequentially with a
// minimum inter-request delay to respect the provider's rate limit. A single
// failed symbol only marks that quote stale; only consecutive fully-failed
// sweeps past the threshold flip the source to Disconnected.
type PollingSource struct {
	client  TickerClient
	symbols []string
	logger  *zap.SugaredLogger

	interval       time.Duration
	spacing        time.Duration
	requestTimeout time.Duration
	failThreshold  int

	onQuote func(models.Quote)

	mu           sync.RWMutex
	quotes       map[string]models.Quote
	stale        map[string]bool
	state        models.ConnectionState
	failedSweeps int

	runMu  sync.Mutex
	cancel context.CancelFunc
}

// NewPollingSource builds a polling source over one ticker client.
func NewPollingSource(client TickerClient, symbols []string, cfg models.FeedConfig, logger *zap.SugaredLogger) *PollingSource {
	norm := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm = append(norm, models.NormalizeSymbol(s))
	}
	return &PollingSource{
		client:         client,
		symbols:        norm,
		logger:         logger,
		interval:       cfg.PollInterval(),
		spacing:        cfg.RequestSpacing(),
		requestTimeout: cfg.RequestTimeout(),
		failThreshold:  cfg.FailureThreshold,
		quotes:         make(map[string]models.Quote),
		stale:          make(map[string]bool),
		// Connecting until the first sweep delivers a verdict, so a source
		// that has never run is still eligible for failover.
		state: models.Connecting,
	}
}

// Name identifies the provider.
func (p *PollingSource) Name() string { return p.client.Name() }

// Current returns the latest quote for a symbol. Quotes marked stale by a
// failed refresh are withheld.
func (p *PollingSource) Current(symbol string) (models.Quote, bool) {
	sym := models.NormalizeSymbol(symbol)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stale[sym] {
		return models.Quote{}, false
	}
	q, ok := p.quotes[sym]
	return q, ok
}

// State returns the provider's overall connectivity.
func (p *PollingSource) State() models.ConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *PollingSource) setState(state models.ConnectionState) {
	p.mu.Lock()
	changed := p.state != state
	p.state = state
	p.mu.Unlock()

	if changed {
		p.logger.Infow("polling source state changed", "source", p.Name(), "state", state.String())
	}
}

// SetQuoteSink registers the callback invoked for every refreshed quote. Must
// be called before Start.
func (p *PollingSource) SetQuoteSink(fn func(models.Quote)) {
	p.onQuote = fn
}

// Reset clears the failure count so the source gets a fresh chance after an
// ALL_DOWN re-probe or a return to the primary tier.
func (p *PollingSource) Reset() {
	p.mu.Lock()
	p.failedSweeps = 0
	if p.state == models.Disconnected {
		p.state = models.Connecting
	}
	p.mu.Unlock()
}

// Start begins the timer-driven poll loop. Starting an already-running source
// is a no-op.
func (p *PollingSource) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.setState(models.Connecting)
	go p.run(runCtx)
}

// Stop halts the poll loop. In-flight requests are cancelled via context.
func (p *PollingSource) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
}

func (p *PollingSource) run(ctx context.Context) {
	// First sweep immediately, then on the interval.
	p.sweep(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep issues one request per symbol, sequentially.
func (p *PollingSource) sweep(ctx context.Context) {
	attempted := 0
	failed := 0

	for i, sym := range p.symbols {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.spacing):
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
		quote, err := p.client.FetchTicker(reqCtx, sym)
		cancel()

		if errors.Is(err, ErrUnsupportedSymbol) {
			continue
		}
		attempted++

		if err != nil {
			failed++
			p.mu.Lock()
			p.stale[sym] = true
			p.mu.Unlock()
			if IsRateLimit(err) {
				p.logger.Warnw("polling source rate limited", "source", p.Name(), "symbol", sym)
			} else {
				p.logger.Warnw("poll failed", "source", p.Name(), "symbol", sym, "error", err)
			}
			continue
		}

		quote.Symbol = models.NormalizeSymbol(quote.Symbol)
		quote.Source = p.Name()
		p.mu.Lock()
		p.quotes[quote.Symbol] = quote
		p.stale[quote.Symbol] = false
		p.mu.Unlock()
		if p.onQuote != nil {
			p.onQuote(quote)
		}
	}

	if ctx.Err() != nil {
		return
	}
	if attempted == 0 {
		// Every symbol was unsupported. The mappings are static, so this
		// provider can never serve anything; report it down immediately
		// instead of pinning the chain to a useless tier.
		p.setState(models.Disconnected)
		return
	}

	switch {
	case failed == 0:
		p.mu.Lock()
		p.failedSweeps = 0
		p.mu.Unlock()
		p.setState(models.Connected)
	case failed < attempted:
		// Partial failure: individual quotes are stale but the provider is
		// still serving data.
		p.mu.Lock()
		p.failedSweeps = 0
		p.mu.Unlock()
		p.setState(models.Degraded)
	default:
		p.mu.Lock()
		p.failedSweeps++
		exceeded := p.failedSweeps >= p.failThreshold
		p.mu.Unlock()
		if exceeded {
			p.setState(models.Disconnected)
		}
	}
}
