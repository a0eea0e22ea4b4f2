package models

import (
	"fmt"
	"time"
)

// Leg is a single wager inside a proposed arbitrage. StakeShare is the
// exact fraction of a unit bankroll (shares across legs sum to 1);
// StakePct is its display rounding per 100 units staked.
type Leg struct {
	Outcome      string   `json:"outcome"`
	Point        *float64 `json:"point,omitempty"`
	Bookmaker    string   `json:"bookmaker"`
	Price        string   `json:"price"`
	DecimalPrice float64  `json:"decimal_price"`
	ImpliedProb  float64  `json:"implied_prob"`
	StakeShare   float64  `json:"stake_share"`
	StakePct     float64  `json:"stake_pct"`
}

// Opportunity is one detected arbitrage: a set of legs whose combined
// implied probability falls strictly below 1. Immutable once emitted.
type Opportunity struct {
	RunID            string    `json:"run_id,omitempty"`
	SportKey         string    `json:"sport_key"`
	EventID          string    `json:"event_id"`
	EventSlug        string    `json:"event_slug"`
	EventName        string    `json:"event_name"`
	HomeTeam         string    `json:"home_team"`
	AwayTeam         string    `json:"away_team"`
	CommenceTime     time.Time `json:"commence_time"`
	Market           string    `json:"market"`
	TotalImpliedProb float64   `json:"total_implied_prob"`
	ProfitPct        float64   `json:"profit_pct"`
	Legs             []Leg     `json:"legs"`
	DetectedAt       time.Time `json:"detected_at"`
}

// Fingerprint buckets detection to the minute, so a double-fired refresh
// cannot append duplicate rows for the same find.
func (o Opportunity) Fingerprint() string {
	return fmt.Sprintf("%s|%d|%s|%s|%s|%s",
		o.SportKey, o.CommenceTime.UTC().Unix(), o.HomeTeam, o.AwayTeam,
		o.Market, o.DetectedAt.UTC().Format("2006-01-02T15:04"))
}

// RefreshStatus classifies how a refresh cycle ended.
type RefreshStatus string

const (
	RefreshOK        RefreshStatus = "ok"
	RefreshPartial   RefreshStatus = "partial"
	RefreshFailed    RefreshStatus = "failed"
	RefreshCancelled RefreshStatus = "cancelled"
)

// RefreshResult summarises one refresh cycle. Published whole; callers
// never see a partially written result.
type RefreshResult struct {
	RunID         string         `json:"run_id"`
	Status        RefreshStatus  `json:"status"`
	SportsChecked int            `json:"sports_checked"`
	EventsFetched int            `json:"events_fetched"`
	Detected      int            `json:"detected"`
	Persisted     int            `json:"persisted"`
	DurationMs    int64          `json:"duration_ms"`
	Errors        []string       `json:"errors"`
	Quota         *QuotaSnapshot `json:"quota,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
}
