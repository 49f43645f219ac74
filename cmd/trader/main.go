package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"paper-trader/internal/analytics"
	"paper-trader/internal/config"
	"paper-trader/internal/logger"
	"paper-trader/internal/models"
	"paper-trader/internal/persistence"
	"paper-trader/internal/trader"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	exportPath := flag.String("export", "", "write the transaction history as CSV to this path and exit")
	reset := flag.Bool("reset", false, "reset the portfolio to the configured initial balance and exit")
	flag.Parse()

	// A default logger is needed before the config is loaded.
	logger.Init(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("no .env file found, using system environment")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.S().Fatalf("failed to load config: %v", err)
	}

	logger.Init(cfg.Log)
	defer logger.S().Sync()

	repo, err := openRepository(cfg.Storage)
	if err != nil {
		logger.S().Fatalf("failed to open storage backend: %v", err)
	}
	gateway := persistence.NewGateway(repo, logger.S())
	defer gateway.Close()

	app, err := trader.New(cfg, gateway, logger.S())
	if err != nil {
		logger.S().Fatalf("failed to initialize trader: %v", err)
	}

	if *reset {
		if err := app.ResetPortfolio(); err != nil {
			logger.S().Fatalf("failed to reset portfolio: %v", err)
		}
		return
	}

	if *exportPath != "" {
		exportTransactions(app, *exportPath)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.S().Infow("paper trader starting", "symbols", cfg.Symbols, "storage", cfg.Storage.Backend)
	if err := app.Run(ctx); err != nil {
		logger.S().Errorf("trader exited with error: %v", err)
	}
}

func openRepository(cfg models.StorageConfig) (persistence.Repository, error) {
	if cfg.Backend == "sqlite" {
		return persistence.NewSQLiteRepository(cfg.Path)
	}
	return persistence.NewBadgerRepository(cfg.Path)
}

func exportTransactions(app *trader.App, path string) {
	transactions := analytics.SortByTimeDesc(app.Ledger().Transactions())

	file, err := os.Create(path)
	if err != nil {
		logger.S().Fatalf("failed to create export file: %v", err)
	}
	defer file.Close()

	if err := analytics.WriteCSV(file, transactions); err != nil {
		logger.S().Fatalf("failed to write export: %v", err)
	}
	logger.S().Infow("transaction history exported", "path", path, "count", len(transactions))
}
