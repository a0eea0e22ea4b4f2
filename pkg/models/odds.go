package models

import (
	"fmt"
	"time"
)

// Sport is one entry of the upstream catalogue. The catalogue is replaced
// wholesale on sync, never mutated in place.
type Sport struct {
	Key         string    `json:"key"`
	Group       string    `json:"group"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	HasOutcomes bool      `json:"has_outcomes"`
	SyncedAt    time.Time `json:"synced_at,omitempty"`
}

// Outcome is a single priced selection. Point carries the spread or total
// line and is nil for h2h markets.
type Outcome struct {
	Name  string   `json:"name"`
	Price float64  `json:"price"`
	Point *float64 `json:"point,omitempty"`
}

// MarketQuote is one bookmaker's view of a market.
type MarketQuote struct {
	Key        string    `json:"key"`
	LastUpdate time.Time `json:"last_update"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Bookmaker carries one book's market quotes within an event.
type Bookmaker struct {
	Key        string        `json:"key"`
	Title      string        `json:"title"`
	LastUpdate time.Time     `json:"last_update"`
	Markets    []MarketQuote `json:"markets"`
}

// Event is one upstream fixture with every book quoting it. All times are UTC.
type Event struct {
	ID           string      `json:"id"`
	SportKey     string      `json:"sport_key"`
	SportTitle   string      `json:"sport_title,omitempty"`
	CommenceTime time.Time   `json:"commence_time"`
	HomeTeam     string      `json:"home_team"`
	AwayTeam     string      `json:"away_team"`
	Bookmakers   []Bookmaker `json:"bookmakers"`
}

// Fingerprint is the identity used for dedup and joins across refreshes.
// Upstream event IDs are not stable across books, so identity comes from
// the fixture itself.
func (e Event) Fingerprint() string {
	return fmt.Sprintf("%s|%d|%s|%s", e.SportKey, e.CommenceTime.UTC().Unix(), e.HomeTeam, e.AwayTeam)
}

// Name renders the conventional matchup label, away side first.
func (e Event) Name() string {
	return fmt.Sprintf("%s @ %s", e.AwayTeam, e.HomeTeam)
}

// QuotaSnapshot is the request allowance last observed on feed response
// headers. Advisory only.
type QuotaSnapshot struct {
	Remaining  int       `json:"requests_remaining"`
	Used       int       `json:"requests_used"`
	ObservedAt time.Time `json:"observed_at"`
}
