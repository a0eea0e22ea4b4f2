package api

import (
	"time"

	"github.com/arblens/core/pkg/models"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServiceInfoResponse is the root banner served at /
type ServiceInfoResponse struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

// ArbitrageResponse wraps a list of opportunities
type ArbitrageResponse struct {
	Arbitrage []models.Opportunity `json:"arbitrage"`
	Count     int                  `json:"count"`
	Timestamp time.Time            `json:"timestamp"`
}

// OddsResponse wraps the latest events snapshot
type OddsResponse struct {
	Odds  []models.Event `json:"odds"`
	Count int            `json:"count"`
}

// SportsResponse wraps the sports catalogue snapshot
type SportsResponse struct {
	Sports []models.Sport `json:"sports"`
	Count  int            `json:"count"`
}

// ConfiguredResponse reports the effective detection configuration
type ConfiguredResponse struct {
	APIKeyConfigured bool     `json:"api_key_configured"`
	RefreshIntervalS int      `json:"refresh_interval_seconds"`
	SportsTracked    []string `json:"sports_tracked"`
	Markets          []string `json:"markets"`
	Regions          []string `json:"regions"`
	MinProfitPct     float64  `json:"min_profit_pct"`
	OddsFormat       string   `json:"odds_format"`
}

// StatusResponse is the full application status
type StatusResponse struct {
	Configured ConfiguredResponse    `json:"configured"`
	LastRun    *models.RefreshResult `json:"last_run"`
	Quota      *models.QuotaSnapshot `json:"quota"`
}

// ErrorResponse is the uniform error body
type ErrorResponse struct {
	Error string `json:"error"`
}
