// Package oddsapi talks to The Odds API v4 feed: request construction,
// quota observation, payload normalisation and error classification.
package oddsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/arblens/core/internal/config"
	"github.com/arblens/core/pkg/logger"
	"github.com/arblens/core/pkg/models"
	"github.com/arblens/core/pkg/oddsmath"
)

const (
	userAgent      = "arblens/1.0"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 300
)

// Client is the upstream odds feed client. Safe for concurrent use; the
// quota snapshot has a single writer (whichever call last saw headers).
type Client struct {
	baseURL    string
	apiKey     string
	regions    string
	markets    string
	wireFormat oddsmath.Format
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *logger.Logger

	mu        sync.RWMutex
	lastQuota *models.QuotaSnapshot
}

// New builds a feed client from configuration. Fractional display degrades
// to decimal on the wire since the feed quotes american and decimal only.
func New(cfg config.OddsAPIConfig, log *logger.Logger) (*Client, error) {
	format, err := oddsmath.ParseFormat(cfg.OddsFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to configure odds client: %w", err)
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		regions:    strings.Join(cfg.Regions, ","),
		markets:    strings.Join(cfg.Markets, ","),
		wireFormat: format.Upstream(),
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "oddsapi",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Intentional non-200s (auth, quota, bad request) are answers,
		// not strain; only transport failures and 5xx trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("action", "breaker_state").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return c, nil
}

// ListSports fetches the upstream sports catalogue.
func (c *Client) ListSports(ctx context.Context) ([]models.Sport, error) {
	body, err := c.get(ctx, "/sports", url.Values{})
	if err != nil {
		return nil, err
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, &StatusError{Kind: KindTransient, Message: fmt.Sprintf("malformed catalogue payload: %v", err)}
	}

	sports := make([]models.Sport, 0, len(records))
	for _, rec := range records {
		var fs models.FeedSport
		if err := json.Unmarshal(rec, &fs); err != nil || fs.Key == "" {
			c.logger.Warn().
				Str("action", "payload_drop").
				Err(err).
				Msg("Dropping malformed sport record")
			continue
		}
		sports = append(sports, models.Sport{
			Key:         fs.Key,
			Group:       fs.Group,
			Title:       fs.Title,
			Description: fs.Description,
			Active:      fs.Active,
			HasOutcomes: fs.HasOutcomes,
		})
	}
	return sports, nil
}

// GetOdds fetches and normalises the odds page for one sport. The returned
// quota snapshot is the latest header observation, also kept on the client.
func (c *Client) GetOdds(ctx context.Context, sportKey string) ([]models.Event, *models.QuotaSnapshot, error) {
	params := url.Values{}
	params.Set("regions", c.regions)
	params.Set("markets", c.markets)
	params.Set("oddsFormat", string(c.wireFormat))
	params.Set("dateFormat", "iso")

	body, err := c.get(ctx, "/sports/"+url.PathEscape(sportKey)+"/odds", params)
	if err != nil {
		return nil, c.LastQuota(), err
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, c.LastQuota(), &StatusError{Kind: KindTransient, Message: fmt.Sprintf("malformed odds payload: %v", err)}
	}

	fetchedAt := time.Now().UTC()
	events := make([]models.Event, 0, len(records))
	for _, rec := range records {
		var fe models.FeedEvent
		if err := json.Unmarshal(rec, &fe); err != nil {
			c.logger.Warn().
				Str("action", "payload_drop").
				Str("sport_key", sportKey).
				Err(err).
				Msg("Dropping malformed event record")
			continue
		}
		ev, err := c.normaliseEvent(fe, sportKey, fetchedAt)
		if err != nil {
			c.logger.Warn().
				Str("action", "payload_drop").
				Str("sport_key", sportKey).
				Str("event_id", fe.ID).
				Err(err).
				Msg("Dropping invalid event")
			continue
		}
		events = append(events, ev)
	}

	return events, c.LastQuota(), nil
}

// LastQuota returns a copy of the most recently observed quota snapshot,
// or nil before the first response.
func (c *Client) LastQuota() *models.QuotaSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastQuota == nil {
		return nil
	}
	snap := *c.lastQuota
	return &snap
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	params.Set("apiKey", c.apiKey)
	fullURL := c.baseURL + path + "?" + params.Encode()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRequest(ctx, fullURL, path)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &StatusError{Kind: KindTransient, Message: "circuit breaker open"}
		}
		return nil, err
	}
	return result.([]byte), nil
}

// doRequest performs one HTTP round trip. The logged URL carries no query
// string so the API key never reaches the logs.
func (c *Client) doRequest(ctx context.Context, fullURL, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.LogAPICall(http.MethodGet, c.baseURL+path, 0, time.Since(start), err)
		}
		return nil, fmt.Errorf("failed to reach odds feed: %w", err)
	}
	defer resp.Body.Close()

	c.observeQuota(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.LogAPICall(http.MethodGet, c.baseURL+path, resp.StatusCode, time.Since(start), err)
		return nil, fmt.Errorf("failed to read feed response: %w", err)
	}

	c.logger.LogAPICall(http.MethodGet, c.baseURL+path, resp.StatusCode, time.Since(start), nil)

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, resp.Header, body)
	}
	return body, nil
}

func (c *Client) observeQuota(header http.Header) {
	remaining, err := strconv.Atoi(header.Get("x-requests-remaining"))
	if err != nil {
		return
	}
	used, _ := strconv.Atoi(header.Get("x-requests-used"))

	c.mu.Lock()
	c.lastQuota = &models.QuotaSnapshot{
		Remaining:  remaining,
		Used:       used,
		ObservedAt: time.Now().UTC(),
	}
	c.mu.Unlock()
}

func classifyStatus(status int, header http.Header, body []byte) *StatusError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}

	switch {
	case status == http.StatusUnauthorized:
		return &StatusError{Kind: KindAuth, StatusCode: status, Message: msg}
	case status == http.StatusTooManyRequests:
		return &StatusError{
			Kind:       KindQuota,
			StatusCode: status,
			Message:    msg,
			ResetAt:    parseRetryAfter(header.Get("Retry-After"), time.Now()),
		}
	case status >= 500:
		return &StatusError{Kind: KindTransient, StatusCode: status, Message: msg}
	default:
		// 422 and any other 4xx: the request itself is wrong, retrying
		// cannot help.
		return &StatusError{Kind: KindBadRequest, StatusCode: status, Message: msg}
	}
}

func parseRetryAfter(value string, now time.Time) time.Time {
	if value == "" {
		return time.Time{}
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return now.Add(time.Duration(secs) * time.Second)
	}
	if at, err := http.ParseTime(value); err == nil {
		return at
	}
	return time.Time{}
}
