package oddsapi

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/arblens/core/pkg/models"
	"github.com/arblens/core/pkg/oddsmath"
)

var (
	errMissingTeams    = errors.New("missing home or away team")
	errMissingCommence = errors.New("missing commence time")
)

// normaliseEvent turns one wire event into the domain shape: UTC timestamps,
// outcomes sorted by (name, point), invalid prices and thin markets dropped.
// An error means the event itself is unusable and must be skipped whole.
func (c *Client) normaliseEvent(fe models.FeedEvent, sportKey string, fetchedAt time.Time) (models.Event, error) {
	if fe.CommenceTime == "" {
		return models.Event{}, errMissingCommence
	}
	commence, err := parseFeedTime(fe.CommenceTime)
	if err != nil {
		return models.Event{}, fmt.Errorf("commence_time: %w", err)
	}
	if fe.HomeTeam == "" || fe.AwayTeam == "" {
		return models.Event{}, errMissingTeams
	}
	if fe.SportKey != "" {
		sportKey = fe.SportKey
	}

	ev := models.Event{
		ID:           fe.ID,
		SportKey:     sportKey,
		SportTitle:   fe.SportTitle,
		CommenceTime: commence,
		HomeTeam:     fe.HomeTeam,
		AwayTeam:     fe.AwayTeam,
		Bookmakers:   make([]models.Bookmaker, 0, len(fe.Bookmakers)),
	}

	seenBooks := make(map[string]bool, len(fe.Bookmakers))
	for _, fb := range fe.Bookmakers {
		if fb.Key == "" {
			c.logger.Warn().
				Str("action", "payload_drop").
				Str("event_id", fe.ID).
				Msg("Dropping bookmaker without key")
			continue
		}
		if seenBooks[fb.Key] {
			c.logger.Warn().
				Str("action", "payload_drop").
				Str("event_id", fe.ID).
				Str("bookmaker", fb.Key).
				Msg("Dropping duplicate bookmaker entry")
			continue
		}
		seenBooks[fb.Key] = true

		book := models.Bookmaker{
			Key:        fb.Key,
			Title:      fb.Title,
			LastUpdate: parseFeedTimeOr(fb.LastUpdate, fetchedAt),
			Markets:    make([]models.MarketQuote, 0, len(fb.Markets)),
		}

		seenMarkets := make(map[string]bool, len(fb.Markets))
		for _, fm := range fb.Markets {
			if fm.Key == "" {
				continue
			}
			if seenMarkets[fm.Key] {
				c.logger.Warn().
					Str("action", "payload_drop").
					Str("event_id", fe.ID).
					Str("bookmaker", fb.Key).
					Str("market", fm.Key).
					Msg("Dropping duplicate market quote")
				continue
			}
			seenMarkets[fm.Key] = true

			outcomes := c.normaliseOutcomes(fm.Outcomes, fe.ID, fb.Key, fm.Key)
			if len(outcomes) < 2 {
				c.logger.Warn().
					Str("action", "payload_drop").
					Str("event_id", fe.ID).
					Str("bookmaker", fb.Key).
					Str("market", fm.Key).
					Int("outcomes", len(outcomes)).
					Msg("Dropping market with fewer than two outcomes")
				continue
			}

			book.Markets = append(book.Markets, models.MarketQuote{
				Key:        fm.Key,
				LastUpdate: parseFeedTimeOr(fm.LastUpdate, book.LastUpdate),
				Outcomes:   outcomes,
			})
		}

		if len(book.Markets) == 0 {
			continue
		}
		ev.Bookmakers = append(ev.Bookmakers, book)
	}

	return ev, nil
}

// normaliseOutcomes validates prices against the wire format and returns the
// survivors sorted by (name, point).
func (c *Client) normaliseOutcomes(raw []models.FeedOutcome, eventID, bookKey, marketKey string) []models.Outcome {
	outcomes := make([]models.Outcome, 0, len(raw))
	for _, fo := range raw {
		if fo.Name == "" {
			continue
		}
		if _, err := oddsmath.ToDecimal(fo.Price, c.wireFormat); err != nil {
			c.logger.Warn().
				Str("action", "payload_drop").
				Str("event_id", eventID).
				Str("bookmaker", bookKey).
				Str("market", marketKey).
				Str("outcome", fo.Name).
				Float64("price", fo.Price).
				Msg("Dropping outcome with invalid price")
			continue
		}
		outcomes = append(outcomes, models.Outcome{
			Name:  fo.Name,
			Price: fo.Price,
			Point: fo.Point,
		})
	}

	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Name != outcomes[j].Name {
			return outcomes[i].Name < outcomes[j].Name
		}
		return pointValue(outcomes[i].Point) < pointValue(outcomes[j].Point)
	})
	return outcomes
}

// parseFeedTime accepts RFC3339 instants only; anything without an explicit
// offset (a naive local time) is rejected.
func parseFeedTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

func parseFeedTimeOr(value string, fallback time.Time) time.Time {
	t, err := parseFeedTime(value)
	if err != nil {
		return fallback.UTC()
	}
	return t
}

func pointValue(p *float64) float64 {
	if p == nil {
		return math.Inf(-1)
	}
	return *p
}
