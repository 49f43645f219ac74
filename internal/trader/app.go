package trader

import (
	"context"
	"os"
	"time"

	"paper-trader/internal/analytics"
	"paper-trader/internal/feed"
	"paper-trader/internal/models"
	"paper-trader/internal/orders"
	"paper-trader/internal/persistence"
	"paper-trader/internal/portfolio"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// App wires the price feed, ledger, order executor and persistence gateway
// into one runnable paper trading service.
type App struct {
	cfg      *models.Config
	logger   *zap.SugaredLogger
	feed     *feed.PriceFeed
	ledger   *portfolio.Ledger
	executor *orders.Executor
	gateway  *persistence.Gateway
}

// New restores the portfolio (or creates a fresh one) and assembles the
// service. The feed is not started until Run.
func New(cfg *models.Config, gateway *persistence.Gateway, logger *zap.SugaredLogger) (*App, error) {
	state, err := gateway.LoadPortfolio()
	if err != nil {
		return nil, err
	}

	var ledger *portfolio.Ledger
	if state != nil {
		logger.Infow("restored portfolio",
			"balance", state.Balance, "positions", len(state.Positions), "transactions", len(state.Transactions))
		ledger = portfolio.NewFromState(state)
	} else {
		initial := decimal.NewFromFloat(cfg.Trading.InitialBalance)
		logger.Infow("starting fresh portfolio", "initial_balance", initial)
		ledger = portfolio.New(initial)
	}

	priceFeed := feed.New(cfg.Feed, cfg.Symbols, logger)
	executor := orders.NewExecutor(priceFeed, ledger, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		feed:     priceFeed,
		ledger:   ledger,
		executor: executor,
		gateway:  gateway,
	}, nil
}

// Feed exposes the price feed boundary (UI, order flow).
func (a *App) Feed() *feed.PriceFeed { return a.feed }

// Ledger exposes the read-only portfolio accessors.
func (a *App) Ledger() *portfolio.Ledger { return a.ledger }

// Executor exposes order submission.
func (a *App) Executor() *orders.Executor { return a.executor }

// ResetPortfolio discards positions and transactions, restores the configured
// initial balance and persists the fresh state.
func (a *App) ResetPortfolio() error {
	a.ledger.Reset(decimal.NewFromFloat(a.cfg.Trading.InitialBalance))
	a.logger.Infow("portfolio reset", "initial_balance", a.cfg.Trading.InitialBalance)
	return a.save()
}

// Run starts the feed and blocks until the context is cancelled, autosaving
// the portfolio on the configured interval. On shutdown it stops order
// intake, saves a final snapshot and prints the session report.
func (a *App) Run(ctx context.Context) error {
	a.feed.Start(ctx)
	events := a.feed.Subscribe()

	autosave := time.NewTicker(time.Duration(a.cfg.Trading.AutosaveIntervalSec) * time.Second)
	defer autosave.Stop()

	for {
		select {
		case <-ctx.Done():
			return a.shutdown()

		case <-autosave.C:
			if err := a.save(); err != nil {
				a.logger.Errorw("autosave failed", "error", err)
			}

		case ev := <-events:
			switch ev.Type {
			case feed.ConnectionChanged:
				a.logger.Infow("connection status", "source", ev.Source, "state", ev.State.String())
			case feed.TierChanged:
				if ev.Tier == feed.TierAllDown {
					a.logger.Warnw("all price sources down, prices unavailable")
				} else {
					a.logger.Infow("price source switched", "tier", ev.Tier.String())
				}
			}
		}
	}
}

func (a *App) shutdown() error {
	// No order may begin execution once shutdown has been signaled.
	a.executor.Close()

	err := a.save()
	if err != nil {
		a.logger.Errorw("final save failed", "error", err)
	} else {
		a.logger.Info("portfolio saved")
	}

	analytics.WriteSessionReport(os.Stdout, a.ledger.Snapshot(), a.feed.Prices())
	return err
}

func (a *App) save() error {
	return a.gateway.SavePortfolio(a.ledger.Snapshot())
}
