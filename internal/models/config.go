package models

import "time"

// Config is the root application configuration, loaded from a JSON file.
type Config struct {
	Symbols []string      `json:"symbols"` // trading pairs, e.g. ["BTCUSDT", "ETHUSDT"]
	Feed    FeedConfig    `json:"feed"`
	Trading TradingConfig `json:"trading"`
	Storage StorageConfig `json:"storage"`
	Log     LogConfig     `json:"log"`
}

// FeedConfig tunes the price feed aggregator and its sources.
type FeedConfig struct {
	StreamURL            string  `json:"stream_url"`              // websocket base, e.g. "wss://stream.binance.com:9443"
	PollIntervalSec      int     `json:"poll_interval_sec"`       // seconds between polling sweeps
	RequestSpacingMs     int     `json:"request_spacing_ms"`      // minimum delay between per-symbol requests in one sweep
	RequestTimeoutSec    int     `json:"request_timeout_sec"`     // per-request timeout for REST calls
	FailureThreshold     int     `json:"failure_threshold"`       // consecutive failed sweeps before a poller reports DISCONNECTED
	GraceWindowSec       int     `json:"grace_window_sec"`        // how long the stream may stay down before failing over
	ReconnectMinDelayMs  int     `json:"reconnect_min_delay_ms"`  // stream reconnect backoff floor
	ReconnectMaxDelaySec int     `json:"reconnect_max_delay_sec"` // stream reconnect backoff cap
	FallbackStalenessSec int     `json:"fallback_staleness_sec"`  // fallback quotes older than this are unavailable
	ReprobeIntervalSec   int     `json:"reprobe_interval_sec"`    // ALL_DOWN re-probe period
	ReconnectFactor      float64 `json:"reconnect_factor"`        // backoff growth factor
}

// TradingConfig bounds the simulated ledger.
type TradingConfig struct {
	InitialBalance     float64 `json:"initial_balance"`      // starting quote-currency balance
	MinInitialBalance  float64 `json:"min_initial_balance"`  // lower bound for a user-chosen balance
	MaxInitialBalance  float64 `json:"max_initial_balance"`  // upper bound for a user-chosen balance
	AutosaveIntervalSec int    `json:"autosave_interval_sec"` // periodic portfolio snapshot interval
}

// StorageConfig selects and locates the persistence backend.
type StorageConfig struct {
	Backend string `json:"backend"` // "badger" or "sqlite"
	Path    string `json:"path"`    // directory (badger) or file (sqlite)
}

// LogConfig configures the zap logger and file rotation.
type LogConfig struct {
	Level      string `json:"level"`       // "debug", "info", "warn", "error"
	Output     string `json:"output"`      // "console", "file", "both"
	File       string `json:"file"`        // log file path when output includes "file"
	MaxSize    int    `json:"max_size"`    // max size of one log file in MB
	MaxBackups int    `json:"max_backups"` // rotated files to keep
	MaxAge     int    `json:"max_age"`     // days to keep rotated files
	Compress   bool   `json:"compress"`    // gzip rotated files
}

// PollInterval returns the polling sweep interval as a duration.
func (c FeedConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// RequestSpacing returns the minimum inter-request delay as a duration.
func (c FeedConfig) RequestSpacing() time.Duration {
	return time.Duration(c.RequestSpacingMs) * time.Millisecond
}

// RequestTimeout returns the per-request timeout as a duration.
func (c FeedConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// GraceWindow returns the primary-tier grace window as a duration.
func (c FeedConfig) GraceWindow() time.Duration {
	return time.Duration(c.GraceWindowSec) * time.Second
}

// FallbackStaleness returns the fallback quote staleness limit as a duration.
func (c FeedConfig) FallbackStaleness() time.Duration {
	return time.Duration(c.FallbackStalenessSec) * time.Second
}

// ReprobeInterval returns the ALL_DOWN re-probe period as a duration.
func (c FeedConfig) ReprobeInterval() time.Duration {
	return time.Duration(c.ReprobeIntervalSec) * time.Second
}
