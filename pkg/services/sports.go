// Package services holds the business operations between the feed client,
// the store and the callers (scheduler, jobs, HTTP handlers).
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/arblens/core/pkg/logger"
	"github.com/arblens/core/pkg/models"
)

// Catalogue is the store side of the sports catalogue.
type Catalogue interface {
	ReplaceSports(ctx context.Context, sports []models.Sport) error
	ListSports(ctx context.Context) ([]models.Sport, error)
}

// CatalogueFeed lists the sports the upstream feed currently serves.
type CatalogueFeed interface {
	ListSports(ctx context.Context) ([]models.Sport, error)
}

// SportService keeps the local sports catalogue in sync with the feed and
// resolves which sport keys a refresh should sweep.
type SportService struct {
	store   Catalogue
	feed    CatalogueFeed
	allowed []string
	logger  *logger.Logger
}

// NewSportService builds the service. allowed is the configured sport
// allow-list; empty means every active sport in the catalogue.
func NewSportService(store Catalogue, feed CatalogueFeed, allowed []string, log *logger.Logger) *SportService {
	return &SportService{
		store:   store,
		feed:    feed,
		allowed: append([]string(nil), allowed...),
		logger:  log,
	}
}

// SyncSports replaces the local catalogue with the feed's, wholesale.
// It returns how many sports the new catalogue holds.
func (s *SportService) SyncSports(ctx context.Context) (int, error) {
	sports, err := s.feed.ListSports(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch sports catalogue: %w", err)
	}

	syncedAt := time.Now().UTC()
	for i := range sports {
		sports[i].SyncedAt = syncedAt
	}
	if err := s.store.ReplaceSports(ctx, sports); err != nil {
		return 0, fmt.Errorf("failed to store sports catalogue: %w", err)
	}

	s.logger.Info().
		Str("action", "catalogue_sync").
		Int("sports", len(sports)).
		Msg("Sports catalogue replaced")
	return len(sports), nil
}

// ListSports returns the catalogue snapshot.
func (s *SportService) ListSports(ctx context.Context) ([]models.Sport, error) {
	sports, err := s.store.ListSports(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sports: %w", err)
	}
	return sports, nil
}

// ActiveKeys resolves the sport keys a refresh sweeps: the configured
// allow-list narrowed to the active catalogue, or every active sport when
// no allow-list is set. An empty catalogue (first run) is synced from the
// feed before resolving.
func (s *SportService) ActiveKeys(ctx context.Context) ([]string, error) {
	cat, err := s.store.ListSports(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read sports catalogue: %w", err)
	}
	if len(cat) == 0 {
		if _, err := s.SyncSports(ctx); err != nil {
			// An allow-listed deployment can still sweep without a
			// catalogue; resolving "all active" cannot.
			if len(s.allowed) > 0 {
				s.logger.Warn().Err(err).
					Str("action", "catalogue_sync").
					Msg("Catalogue unavailable; sweeping the configured allow-list as-is")
				return append([]string(nil), s.allowed...), nil
			}
			return nil, err
		}
		cat, err = s.store.ListSports(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read sports catalogue: %w", err)
		}
	}

	activeSet := make(map[string]bool, len(cat))
	active := make([]string, 0, len(cat))
	for _, sp := range cat {
		if sp.Active {
			activeSet[sp.Key] = true
			active = append(active, sp.Key)
		}
	}
	if len(s.allowed) == 0 {
		return active, nil
	}

	keys := make([]string, 0, len(s.allowed))
	for _, k := range s.allowed {
		if activeSet[k] {
			keys = append(keys, k)
			continue
		}
		s.logger.Warn().
			Str("action", "sport_skipped").
			Str("sport_key", k).
			Msg("Configured sport not active in the catalogue; skipping")
	}
	return keys, nil
}
