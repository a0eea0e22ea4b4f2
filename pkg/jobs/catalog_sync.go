package jobs

import "context"

// CatalogueSyncer replaces the local sports catalogue from the feed.
type CatalogueSyncer interface {
	SyncSports(ctx context.Context) (int, error)
}

// CatalogSyncJob keeps the sports catalogue current. It is registered as a
// startup job so the first refresh resolves sports against a fresh catalogue.
type CatalogSyncJob struct {
	sports CatalogueSyncer
}

// NewCatalogSyncJob creates a new catalogue sync job
func NewCatalogSyncJob(sports CatalogueSyncer) Job {
	return &CatalogSyncJob{sports: sports}
}

func (j *CatalogSyncJob) Execute(ctx context.Context) error {
	_, err := j.sports.SyncSports(ctx)
	return err
}

func (j *CatalogSyncJob) Name() string {
	return "catalog_sync"
}

func (j *CatalogSyncJob) Schedule() string {
	// The upstream catalogue changes rarely; twice a day is plenty.
	return "@every 12h"
}
