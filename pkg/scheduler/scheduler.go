// Package scheduler coordinates the refresh pipeline: fetch odds per sport,
// detect arbitrage, persist. Exactly one refresh runs at a time; ticks that
// arrive mid-flight are dropped and manual triggers piggyback on the
// in-flight run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arblens/core/pkg/logger"
	"github.com/arblens/core/pkg/models"
	"github.com/arblens/core/pkg/oddsapi"
)

const (
	maxAttempts   = 3
	baseBackoff   = time.Second
	backoffJitter = 0.10
	drainTimeout  = 5 * time.Second
)

// ErrStopped is returned by Trigger once the scheduler has shut down.
var ErrStopped = errors.New("scheduler stopped")

// OddsSource fetches the odds page for one sport.
type OddsSource interface {
	GetOdds(ctx context.Context, sportKey string) ([]models.Event, *models.QuotaSnapshot, error)
}

// SportResolver yields the sport keys a refresh should sweep.
type SportResolver interface {
	ActiveKeys(ctx context.Context) ([]string, error)
}

// Store is the subset of the persistence layer a refresh writes to.
type Store interface {
	ReplaceLatest(ctx context.Context, events []models.Event, fetchedAt time.Time) error
	AppendOpportunities(ctx context.Context, ops []models.Opportunity) (int, error)
	RecordQuota(ctx context.Context, q models.QuotaSnapshot) error
}

// Detector turns an event sweep into opportunities.
type Detector interface {
	Detect(events []models.Event, now time.Time) []models.Opportunity
}

// flight is one refresh execution. The result is written before done is
// closed, so every waiter reads a complete result.
type flight struct {
	done   chan struct{}
	result models.RefreshResult
}

// Scheduler is the single logical refresh worker. Runs execute under the
// scheduler's own context, not the triggering caller's, so an HTTP client
// disconnecting cannot cancel a run other callers are waiting on.
type Scheduler struct {
	odds     OddsSource
	sports   SportResolver
	store    Store
	detector Detector
	logger   *logger.Logger

	// Seams for tests; real runs use time.Now and a context-aware sleep.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rnd   *rand.Rand

	baseCtx  context.Context
	baseStop context.CancelFunc

	mu              sync.Mutex
	inflight        *flight
	lastRun         *models.RefreshResult
	suppressedUntil time.Time
	stopped         bool

	wg sync.WaitGroup
}

// New builds a scheduler around its collaborators. Call Stop to shut down.
func New(odds OddsSource, sports SportResolver, st Store, det Detector, log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		odds:     odds,
		sports:   sports,
		store:    st,
		detector: det,
		logger:   log,
		now:      time.Now,
		sleep:    sleepContext,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		baseCtx:  ctx,
		baseStop: cancel,
	}
}

// Trigger starts a refresh, or joins the one already in flight, and waits
// for its result. Manual triggers ignore quota suppression. The ctx bounds
// the wait only; a started run always completes under the scheduler.
func (s *Scheduler) Trigger(ctx context.Context) (models.RefreshResult, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return models.RefreshResult{}, ErrStopped
	}
	fl := s.inflight
	if fl == nil {
		fl = s.launchLocked()
	} else {
		s.logger.Debug().
			Str("action", "refresh_piggyback").
			Msg("Joining the in-flight refresh")
	}
	s.mu.Unlock()

	select {
	case <-fl.done:
		return fl.result, nil
	case <-ctx.Done():
		return models.RefreshResult{}, ctx.Err()
	}
}

// TryTick starts a refresh if the scheduler is idle and not quota-suppressed.
// It never waits and never queues; it reports whether a run started.
func (s *Scheduler) TryTick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if s.inflight != nil {
		s.logger.Info().
			Str("action", "tick_dropped").
			Str("reason", "refresh_in_flight").
			Msg("Tick dropped; a refresh is already running")
		return false
	}
	if now := s.now(); now.Before(s.suppressedUntil) {
		s.logger.Warn().
			Str("action", "tick_dropped").
			Str("reason", "quota_suppressed").
			Time("suppressed_until", s.suppressedUntil).
			Msg("Tick dropped; waiting out the quota window")
		return false
	}
	s.launchLocked()
	return true
}

// LastRun returns the most recently completed refresh result, or nil before
// the first run finishes.
func (s *Scheduler) LastRun() *models.RefreshResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	cp := *s.lastRun
	return &cp
}

// Stop cancels the in-flight refresh and drains. It returns once the worker
// has exited, the ctx ends, or the drain window elapses.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.baseStop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("refresh did not drain within %s", drainTimeout)
	}
}

// launchLocked starts a new flight. Callers hold s.mu.
func (s *Scheduler) launchLocked() *flight {
	fl := &flight{done: make(chan struct{})}
	s.inflight = fl
	s.wg.Add(1)
	go s.run(fl)
	return fl
}

func (s *Scheduler) run(fl *flight) {
	defer s.wg.Done()

	res, suppressUntil := s.refresh(s.baseCtx)

	s.mu.Lock()
	cp := res
	s.lastRun = &cp
	s.inflight = nil
	if suppressUntil.After(s.suppressedUntil) {
		s.suppressedUntil = suppressUntil
	}
	s.mu.Unlock()

	fl.result = res
	close(fl.done)
}

// refresh executes one cycle: resolve sports, fetch each with retries,
// detect, persist. It returns the run result and, when the feed reported a
// quota reset instant, the time until which automatic ticks should pause.
func (s *Scheduler) refresh(ctx context.Context) (models.RefreshResult, time.Time) {
	runID := uuid.New().String()
	log := s.logger.WithRun(runID)
	started := s.now()

	res := models.RefreshResult{
		RunID:     runID,
		Status:    models.RefreshOK,
		Errors:    []string{},
		StartedAt: started,
	}
	var suppressUntil time.Time

	log.Info().Str("action", "refresh_start").Msg("Starting refresh cycle")

	keys, err := s.sports.ActiveKeys(ctx)
	if err != nil {
		if ctx.Err() != nil {
			res.Status = models.RefreshCancelled
		} else {
			res.Status = models.RefreshFailed
			res.Errors = append(res.Errors, fmt.Sprintf("resolve sports: %v", err))
		}
		return s.finish(ctx, log, res, started), suppressUntil
	}

	var (
		all     []models.Event
		okCount int
		aborted bool
	)

	for _, key := range keys {
		// Safe point: abort between sport fetches on shutdown.
		if ctx.Err() != nil {
			res.Status = models.RefreshCancelled
			aborted = true
			break
		}
		res.SportsChecked++

		events, quota, err := s.fetchSport(ctx, log, key)
		if quota != nil {
			res.Quota = quota
		}
		if err == nil {
			okCount++
			all = append(all, events...)
			res.EventsFetched += len(events)
			continue
		}

		switch {
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			res.Status = models.RefreshCancelled
			aborted = true

		case oddsapi.IsAuth(err):
			res.Status = models.RefreshFailed
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", key, err))
			log.Error().Err(err).Str("action", "refresh_abort").Str("sport_key", key).
				Msg("Credential rejected; aborting the cycle")
			aborted = true

		case oddsapi.IsQuotaExhausted(err):
			if okCount > 0 {
				res.Status = models.RefreshPartial
			} else {
				res.Status = models.RefreshFailed
			}
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", key, err))
			if resetAt, ok := oddsapi.QuotaResetAt(err); ok {
				suppressUntil = resetAt
			}
			log.Warn().Err(err).Str("action", "refresh_abort").Str("sport_key", key).
				Time("suppressed_until", suppressUntil).
				Msg("Quota exhausted; aborting the cycle")
			aborted = true

		default:
			// Transient exhaustion or a bad sport key: skip this sport,
			// the rest of the sweep proceeds.
			res.Status = models.RefreshPartial
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", key, err))
			log.Warn().Err(err).Str("action", "sport_skipped").Str("sport_key", key).
				Msg("Sport skipped for this cycle")
		}
		if aborted {
			break
		}
	}

	if res.Status == models.RefreshCancelled {
		return s.finish(ctx, log, res, started), suppressUntil
	}
	if aborted {
		// Auth or quota abort: the previous snapshot stays authoritative.
		return s.finish(ctx, log, res, started), suppressUntil
	}
	if okCount == 0 && len(res.Errors) > 0 {
		res.Status = models.RefreshFailed
		return s.finish(ctx, log, res, started), suppressUntil
	}

	detectedAt := s.now()
	ops := s.detector.Detect(all, detectedAt)
	res.Detected = len(ops)
	for i := range ops {
		ops[i].RunID = runID
	}

	if err := s.retryOnce(log, "replace_latest", func() error {
		return s.store.ReplaceLatest(ctx, all, detectedAt)
	}); err != nil {
		res.Status = models.RefreshFailed
		res.Errors = append(res.Errors, fmt.Sprintf("replace_latest: %v", err))
		return s.finish(ctx, log, res, started), suppressUntil
	}

	var persisted int
	if err := s.retryOnce(log, "append_opportunities", func() error {
		n, err := s.store.AppendOpportunities(ctx, ops)
		persisted = n
		return err
	}); err != nil {
		// The snapshot landed; losing the log rows is survivable.
		res.Errors = append(res.Errors, fmt.Sprintf("append_opportunities: %v", err))
		log.Error().Err(err).Str("action", "store_error").
			Msg("Opportunity rows lost for this run")
	} else {
		res.Persisted = persisted
	}

	return s.finish(ctx, log, res, started), suppressUntil
}

// finish stamps timing, records the quota observation and logs the outcome.
func (s *Scheduler) finish(ctx context.Context, log *logger.Logger, res models.RefreshResult, started time.Time) models.RefreshResult {
	finished := s.now()
	res.FinishedAt = finished
	res.DurationMs = finished.Sub(started).Milliseconds()

	if res.Quota != nil && res.Status != models.RefreshCancelled {
		if err := s.store.RecordQuota(ctx, *res.Quota); err != nil {
			log.Warn().Err(err).Str("action", "store_error").Msg("Quota observation not recorded")
		}
		log.LogQuota(res.Quota.Remaining, res.Quota.Used)
	}

	evt := log.Info()
	if res.Status == models.RefreshFailed {
		evt = log.Error()
	}
	evt.Str("action", "refresh_complete").
		Str("status", string(res.Status)).
		Int("sports_checked", res.SportsChecked).
		Int("events_fetched", res.EventsFetched).
		Int("detected", res.Detected).
		Int("persisted", res.Persisted).
		Int64("duration_ms", res.DurationMs).
		Int("error_count", len(res.Errors)).
		Msg("Refresh cycle finished")
	return res
}

// fetchSport calls the feed with the retry policy: up to maxAttempts tries
// on transient failures, doubling backoff with jitter between them.
func (s *Scheduler) fetchSport(ctx context.Context, log *logger.Logger, key string) ([]models.Event, *models.QuotaSnapshot, error) {
	var (
		lastErr error
		quota   *models.QuotaSnapshot
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		events, q, err := s.odds.GetOdds(ctx, key)
		if q != nil {
			quota = q
		}
		if err == nil {
			return events, quota, nil
		}
		lastErr = err
		if !oddsapi.IsTransient(err) || attempt == maxAttempts {
			break
		}

		delay := s.backoff(attempt)
		log.Warn().Err(err).
			Str("action", "fetch_retry").
			Str("sport_key", key).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Transient feed failure; backing off")
		if err := s.sleep(ctx, delay); err != nil {
			return nil, quota, err
		}
	}
	return nil, quota, lastErr
}

// retryOnce runs a store write, retrying a single time on failure.
func (s *Scheduler) retryOnce(log *logger.Logger, operation string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	log.Warn().Err(err).
		Str("action", "store_retry").
		Str("operation", operation).
		Msg("Store write failed; retrying once")
	return fn()
}

// backoff returns the delay before the retry following the given attempt:
// 1s after the first failure, doubling after that, ±10% jitter.
func (s *Scheduler) backoff(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	j := (s.rnd.Float64()*2 - 1) * backoffJitter
	return d + time.Duration(float64(d)*j)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
