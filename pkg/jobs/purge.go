package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/arblens/core/pkg/logger"
)

const defaultRetentionDays = 30

// OpportunityPurger trims the opportunity log.
type OpportunityPurger interface {
	PurgeOpportunities(ctx context.Context, olderThan time.Time) (int64, error)
}

// PurgeJob enforces retention on the append-only opportunity log.
type PurgeJob struct {
	store     OpportunityPurger
	retention time.Duration
}

// NewPurgeJob creates a new purge job keeping retentionDays of history.
func NewPurgeJob(store OpportunityPurger, retentionDays int) Job {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	return &PurgeJob{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

func (j *PurgeJob) Execute(ctx context.Context) error {
	log := logger.WithContext(ctx, "purge")
	cutoff := time.Now().UTC().Add(-j.retention)

	deleted, err := j.store.PurgeOpportunities(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge opportunities: %w", err)
	}

	log.Info().
		Str("action", "purge_complete").
		Time("older_than", cutoff).
		Int64("deleted", deleted).
		Msg("Opportunity log purged")
	return nil
}

func (j *PurgeJob) Name() string {
	return "purge_opportunities"
}

func (j *PurgeJob) Schedule() string {
	return "@every 6h"
}
