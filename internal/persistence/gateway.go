package persistence

import (
	"encoding/json"
	"fmt"

	"paper-trader/internal/models"

	"go.uber.org/zap"
)

// portfolioKey is the single key the portfolio snapshot lives under.
const portfolioKey = "portfolio_state"

// Gateway serializes and restores the portfolio state through a Repository.
// Decimal and timestamp fields survive the round trip without precision loss.
type Gateway struct {
	repo   Repository
	logger *zap.SugaredLogger
}

// NewGateway wraps a repository.
func NewGateway(repo Repository, logger *zap.SugaredLogger) *Gateway {
	return &Gateway{repo: repo, logger: logger}
}

// SavePortfolio persists the full portfolio snapshot.
func (g *Gateway) SavePortfolio(state *models.PortfolioState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode portfolio state: %w", err)
	}
	return g.repo.Save(portfolioKey, data)
}

// LoadPortfolio restores the persisted portfolio state. A missing key returns
// (nil, nil). A corrupted payload is logged and also returns (nil, nil), so
// the caller falls back to a freshly initialized portfolio instead of
// crashing.
func (g *Gateway) LoadPortfolio() (*models.PortfolioState, error) {
	data, err := g.repo.Load(portfolioKey)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var state models.PortfolioState
	if err := json.Unmarshal(data, &state); err != nil {
		g.logger.Warnw("persisted portfolio state is corrupted, starting fresh", "error", err)
		return nil, nil
	}
	return &state, nil
}

// DeletePortfolio removes the persisted snapshot.
func (g *Gateway) DeletePortfolio() error {
	return g.repo.Delete(portfolioKey)
}

// Close closes the underlying repository.
func (g *Gateway) Close() error {
	return g.repo.Close()
}
