package models

// Wire shapes for The Odds API v4 feed. Timestamps stay strings until
// normalisation so one malformed record is dropped alone instead of
// failing the whole payload.

type FeedSport struct {
	Key         string `json:"key"`
	Group       string `json:"group"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
	HasOutcomes bool   `json:"has_outcomes"`
}

type FeedOutcome struct {
	Name  string   `json:"name"`
	Price float64  `json:"price"`
	Point *float64 `json:"point,omitempty"`
}

type FeedMarket struct {
	Key        string        `json:"key"`
	LastUpdate string        `json:"last_update"`
	Outcomes   []FeedOutcome `json:"outcomes"`
}

type FeedBookmaker struct {
	Key        string       `json:"key"`
	Title      string       `json:"title"`
	LastUpdate string       `json:"last_update"`
	Markets    []FeedMarket `json:"markets"`
}

type FeedEvent struct {
	ID           string          `json:"id"`
	SportKey     string          `json:"sport_key"`
	SportTitle   string          `json:"sport_title"`
	CommenceTime string          `json:"commence_time"`
	HomeTeam     string          `json:"home_team"`
	AwayTeam     string          `json:"away_team"`
	Bookmakers   []FeedBookmaker `json:"bookmakers"`
}
