// Package jobs schedules the recurring work around the refresh pipeline:
// the refresh tick, the sports catalogue sync and the opportunity-log purge.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/arblens/core/pkg/logger"
)

// runTimeout bounds a single job execution. A refresh tick returns
// immediately; the budget exists for the catalogue sync and the purge.
const runTimeout = 10 * time.Minute

type cronJobManager struct {
	cron    *cron.Cron
	jobs    []Job
	startup []Job
	logger  *logger.Logger

	// baseCtx parents every execution so Stop can cut short a job that is
	// blocked on I/O.
	baseCtx  context.Context
	baseStop context.CancelFunc
	wg       sync.WaitGroup
}

// NewJobManager creates a cron-backed job manager. Schedules run in UTC.
func NewJobManager(log *logger.Logger) JobManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &cronJobManager{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		jobs:     make([]Job, 0),
		logger:   log,
		baseCtx:  ctx,
		baseStop: cancel,
	}
}

func (m *cronJobManager) RegisterJob(job Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}

	m.logger.Info().
		Str("action", "register_job").
		Str("job_name", job.Name()).
		Str("schedule", job.Schedule()).
		Msg("Registering job")

	_, err := m.cron.AddFunc(job.Schedule(), func() {
		m.execute(job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.Name(), err)
	}

	m.jobs = append(m.jobs, job)
	return nil
}

// RegisterStartupJob schedules the job and additionally queues it to run
// once when Start is called, before its first scheduled firing.
func (m *cronJobManager) RegisterStartupJob(job Job) error {
	if err := m.RegisterJob(job); err != nil {
		return err
	}
	m.startup = append(m.startup, job)
	return nil
}

// Start runs the startup jobs in registration order off the caller's
// goroutine, then begins the cron schedules.
func (m *cronJobManager) Start() {
	m.logger.Info().
		Str("action", "start").
		Int("job_count", len(m.jobs)).
		Int("startup_count", len(m.startup)).
		Msg("Starting job manager")

	startup := append([]Job(nil), m.startup...)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for _, job := range startup {
			m.execute(job)
		}
	}()

	m.cron.Start()
}

// Stop cancels running executions, waits for them to unwind and stops the
// cron loop.
func (m *cronJobManager) Stop() {
	m.logger.Info().
		Str("action", "stop_initiated").
		Msg("Stopping job manager")

	m.baseStop()
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.wg.Wait()

	m.logger.Info().
		Str("action", "stopped").
		Msg("Job manager stopped")
}

func (m *cronJobManager) GetJobs() []Job {
	return append([]Job(nil), m.jobs...)
}

// execute runs one job under a fresh request ID and the run timeout.
func (m *cronJobManager) execute(job Job) {
	if m.baseCtx.Err() != nil {
		return
	}

	requestID := uuid.New().String()
	jobLogger := m.logger.WithRequestID(requestID).WithJob(job.Name())

	ctx, cancel := context.WithTimeout(m.baseCtx, runTimeout)
	defer cancel()
	ctx = jobLogger.ToContext(ctx)

	jobLogger.LogJobStart(job.Name(), job.Schedule())
	start := time.Now()

	if err := job.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			jobLogger.Info().
				Str("action", "job_cancelled").
				Dur("duration", time.Since(start)).
				Msg("Job cancelled during shutdown")
			return
		}
		jobLogger.Error().
			Err(err).
			Str("action", "job_failed").
			Dur("duration", time.Since(start)).
			Msg("Job execution failed")
		return
	}

	jobLogger.LogJobComplete(job.Name(), time.Since(start), 0, 0)
}
