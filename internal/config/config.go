package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"paper-trader/internal/models"
)

// Load reads the JSON configuration file, fills in defaults and validates the
// result.
func Load(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := &models.Config{}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *models.Config) {
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT"}
	}
	for i, s := range cfg.Symbols {
		cfg.Symbols[i] = models.NormalizeSymbol(s)
	}

	f := &cfg.Feed
	if f.StreamURL == "" {
		f.StreamURL = "wss://stream.binance.com:9443"
	}
	if f.PollIntervalSec <= 0 {
		f.PollIntervalSec = 10
	}
	if f.RequestSpacingMs <= 0 {
		f.RequestSpacingMs = 250
	}
	if f.RequestTimeoutSec <= 0 {
		f.RequestTimeoutSec = 5
	}
	if f.FailureThreshold <= 0 {
		f.FailureThreshold = 3
	}
	if f.GraceWindowSec <= 0 {
		f.GraceWindowSec = 10
	}
	if f.ReconnectMinDelayMs <= 0 {
		f.ReconnectMinDelayMs = 500
	}
	if f.ReconnectMaxDelaySec <= 0 {
		f.ReconnectMaxDelaySec = 30
	}
	if f.FallbackStalenessSec <= 0 {
		f.FallbackStalenessSec = 60
	}
	if f.ReprobeIntervalSec <= 0 {
		f.ReprobeIntervalSec = 30
	}
	if f.ReconnectFactor <= 1 {
		f.ReconnectFactor = 2
	}

	t := &cfg.Trading
	if t.InitialBalance <= 0 {
		t.InitialBalance = 10000
	}
	if t.MinInitialBalance <= 0 {
		t.MinInitialBalance = 100
	}
	if t.MaxInitialBalance <= 0 {
		t.MaxInitialBalance = 1000000
	}
	if t.AutosaveIntervalSec <= 0 {
		t.AutosaveIntervalSec = 60
	}

	s := &cfg.Storage
	if s.Backend == "" {
		s.Backend = "badger"
	}
	if s.Path == "" {
		s.Path = "data/portfolio"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "console"
	}
}

func validate(cfg *models.Config) error {
	if cfg.Trading.MinInitialBalance > cfg.Trading.MaxInitialBalance {
		return errors.New("trading.min_initial_balance exceeds trading.max_initial_balance")
	}
	if cfg.Trading.InitialBalance < cfg.Trading.MinInitialBalance ||
		cfg.Trading.InitialBalance > cfg.Trading.MaxInitialBalance {
		return fmt.Errorf("trading.initial_balance %.2f outside [%.2f, %.2f]",
			cfg.Trading.InitialBalance, cfg.Trading.MinInitialBalance, cfg.Trading.MaxInitialBalance)
	}
	switch cfg.Storage.Backend {
	case "badger", "sqlite":
	default:
		return fmt.Errorf("unknown storage backend %q (want \"badger\" or \"sqlite\")", cfg.Storage.Backend)
	}
	return nil
}
