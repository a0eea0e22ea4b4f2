package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arblens/core/pkg/logger"
	"github.com/arblens/core/pkg/models"
	"github.com/arblens/core/pkg/oddsapi"
)

type scriptedFeed struct {
	mu      sync.Mutex
	calls   []string
	handler func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error)
}

func (f *scriptedFeed) GetOdds(ctx context.Context, key string) ([]models.Event, *models.QuotaSnapshot, error) {
	f.mu.Lock()
	f.calls = append(f.calls, key)
	n := len(f.calls)
	f.mu.Unlock()
	return f.handler(ctx, n, key)
}

func (f *scriptedFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type staticSports struct {
	keys []string
	err  error
}

func (s staticSports) ActiveKeys(ctx context.Context) ([]string, error) {
	return s.keys, s.err
}

type recordingStore struct {
	mu           sync.Mutex
	replaced     [][]models.Event
	appended     [][]models.Opportunity
	quotas       []models.QuotaSnapshot
	replaceErrs  []error
	appendErrs   []error
	replaceCalls int
	appendCalls  int
}

func (r *recordingStore) ReplaceLatest(ctx context.Context, events []models.Event, fetchedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaceCalls++
	if len(r.replaceErrs) > 0 {
		err := r.replaceErrs[0]
		r.replaceErrs = r.replaceErrs[1:]
		if err != nil {
			return err
		}
	}
	r.replaced = append(r.replaced, events)
	return nil
}

func (r *recordingStore) AppendOpportunities(ctx context.Context, ops []models.Opportunity) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendCalls++
	if len(r.appendErrs) > 0 {
		err := r.appendErrs[0]
		r.appendErrs = r.appendErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	r.appended = append(r.appended, ops)
	return len(ops), nil
}

func (r *recordingStore) RecordQuota(ctx context.Context, q models.QuotaSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotas = append(r.quotas, q)
	return nil
}

func (r *recordingStore) snapshotWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replaced)
}

type staticDetector struct {
	ops []models.Opportunity
}

func (d staticDetector) Detect(events []models.Event, now time.Time) []models.Opportunity {
	return append([]models.Opportunity(nil), d.ops...)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestScheduler(t *testing.T, feed OddsSource, sports SportResolver, st Store, det Detector) *Scheduler {
	t.Helper()
	s := New(feed, sports, st, det, logger.New("test"))
	s.sleep = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		idle := s.inflight == nil
		s.mu.Unlock()
		if idle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Refresh did not go idle in time")
}

func feedEvent(key string) models.Event {
	return models.Event{
		ID:           key + "-1",
		SportKey:     key,
		CommenceTime: time.Now().Add(24 * time.Hour).UTC(),
		HomeTeam:     "Home",
		AwayTeam:     "Away",
	}
}

func transientErr() error {
	return &oddsapi.StatusError{Kind: oddsapi.KindTransient, StatusCode: 500, Message: "upstream down"}
}

func TestTriggerRunsFullCycle(t *testing.T) {
	quota := &models.QuotaSnapshot{Remaining: 480, Used: 20, ObservedAt: time.Now().UTC()}
	feed := &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		return []models.Event{feedEvent(key)}, quota, nil
	}}
	st := &recordingStore{}
	det := staticDetector{ops: []models.Opportunity{{SportKey: "s1", Market: "h2h", ProfitPct: 2.0}}}
	s := newTestScheduler(t, feed, staticSports{keys: []string{"s1", "s2"}}, st, det)

	res, err := s.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	if res.Status != models.RefreshOK {
		t.Errorf("Expected ok status, got %s (errors %v)", res.Status, res.Errors)
	}
	if res.RunID == "" {
		t.Error("Expected a run ID")
	}
	if res.SportsChecked != 2 || res.EventsFetched != 2 {
		t.Errorf("Expected 2 sports and 2 events, got %d/%d", res.SportsChecked, res.EventsFetched)
	}
	if res.Detected != 1 || res.Persisted != 1 {
		t.Errorf("Expected 1 detected and persisted, got %d/%d", res.Detected, res.Persisted)
	}
	if len(res.Errors) != 0 {
		t.Errorf("Expected no errors, got %v", res.Errors)
	}
	if res.Quota == nil || res.Quota.Remaining != 480 {
		t.Errorf("Expected the quota observation on the result, got %+v", res.Quota)
	}

	if len(st.replaced) != 1 || len(st.replaced[0]) != 2 {
		t.Fatalf("Expected one snapshot write with 2 events, got %+v", st.replaced)
	}
	if len(st.appended) != 1 || len(st.appended[0]) != 1 {
		t.Fatalf("Expected one opportunity append, got %+v", st.appended)
	}
	if st.appended[0][0].RunID != res.RunID {
		t.Errorf("Expected opportunities stamped with the run ID, got %q", st.appended[0][0].RunID)
	}
	if len(st.quotas) != 1 || st.quotas[0].Remaining != 480 {
		t.Errorf("Expected the quota recorded, got %+v", st.quotas)
	}

	last := s.LastRun()
	if last == nil || last.RunID != res.RunID {
		t.Errorf("Expected LastRun to match the trigger result, got %+v", last)
	}
}

func TestTriggerPiggybacksOnInFlightRun(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	feed := &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		entered <- struct{}{}
		<-release
		return []models.Event{feedEvent(key)}, nil, nil
	}}
	st := &recordingStore{}
	s := newTestScheduler(t, feed, staticSports{keys: []string{"s1"}}, st, staticDetector{})

	results := make(chan models.RefreshResult, 2)
	go func() {
		res, err := s.Trigger(context.Background())
		if err != nil {
			t.Errorf("First trigger failed: %v", err)
		}
		results <- res
	}()
	<-entered

	go func() {
		res, err := s.Trigger(context.Background())
		if err != nil {
			t.Errorf("Second trigger failed: %v", err)
		}
		results <- res
	}()
	time.Sleep(100 * time.Millisecond) // let the second trigger join
	close(release)

	a, b := <-results, <-results
	if a.RunID != b.RunID {
		t.Errorf("Expected both callers to share one run, got %s and %s", a.RunID, b.RunID)
	}
	if n := feed.callCount(); n != 1 {
		t.Errorf("Expected a single upstream call, got %d", n)
	}
	if st.snapshotWrites() != 1 {
		t.Errorf("Expected a single snapshot write, got %d", st.snapshotWrites())
	}
}

func TestTryTickDropsWhileRunning(t *testing.T) {
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	feed := &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		entered <- struct{}{}
		<-release
		return []models.Event{feedEvent(key)}, nil, nil
	}}
	st := &recordingStore{}
	s := newTestScheduler(t, feed, staticSports{keys: []string{"s1"}}, st, staticDetector{})

	if !s.TryTick() {
		t.Fatal("Expected the first tick to start a run")
	}
	<-entered
	if s.TryTick() {
		t.Error("Expected a mid-flight tick to be dropped")
	}
	close(release)
	waitIdle(t, s)

	if !s.TryTick() {
		t.Error("Expected a tick to start once idle again")
	}
	<-entered
	waitIdle(t, s)

	if n := feed.callCount(); n != 2 {
		t.Errorf("Expected 2 runs worth of calls, got %d", n)
	}
}

func TestQuotaSuppressionAndManualBypass(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	reset := base.Add(60 * time.Second)
	feed := &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		if call == 1 {
			return nil, &models.QuotaSnapshot{Remaining: 0, Used: 500, ObservedAt: base},
				&oddsapi.StatusError{Kind: oddsapi.KindQuota, StatusCode: 429, Message: "quota spent", ResetAt: reset}
		}
		return []models.Event{feedEvent(key)}, &models.QuotaSnapshot{Remaining: 500, Used: 0, ObservedAt: base}, nil
	}}
	st := &recordingStore{}
	s := newTestScheduler(t, feed, staticSports{keys: []string{"s1"}}, st, staticDetector{})
	clock := &testClock{t: base}
	s.now = clock.now

	if !s.TryTick() {
		t.Fatal("Expected the first tick to start a run")
	}
	waitIdle(t, s)

	last := s.LastRun()
	if last == nil || last.Status != models.RefreshFailed {
		t.Fatalf("Expected a failed run with no successful sports, got %+v", last)
	}
	if st.snapshotWrites() != 0 {
		t.Error("Expected the snapshot untouched on a quota abort")
	}

	// Automatic ticks wait out the quota window; manual triggers do not.
	clock.advance(time.Second)
	if s.TryTick() {
		t.Error("Expected ticks suppressed inside the quota window")
	}
	res, err := s.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Failed to trigger manually: %v", err)
	}
	if res.Status != models.RefreshOK {
		t.Errorf("Expected the manual run to succeed, got %s", res.Status)
	}

	clock.advance(60 * time.Second)
	if !s.TryTick() {
		t.Error("Expected ticks to resume after the reset instant")
	}
	waitIdle(t, s)
}

func TestQuotaExhaustedMidCycle(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	reset := base.Add(60 * time.Second)
	feed := &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		if key == "s1" {
			return []models.Event{feedEvent(key)}, &models.QuotaSnapshot{Remaining: 1, Used: 499, ObservedAt: base}, nil
		}
		return nil, &models.QuotaSnapshot{Remaining: 0, Used: 500, ObservedAt: base},
			&oddsapi.StatusError{Kind: oddsapi.KindQuota, StatusCode: 429, Message: "quota spent", ResetAt: reset}
	}}
	st := &recordingStore{}
	s := newTestScheduler(t, feed, staticSports{keys: []string{"s1", "s2"}}, st, staticDetector{})
	clock := &testClock{t: base}
	s.now = clock.now

	res, err := s.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	if res.Status != models.RefreshPartial {
		t.Errorf("Expected partial after one successful sport, got %s", res.Status)
	}
	if len(res.Errors) != 1 {
		t.Errorf("Expected one error entry, got %v", res.Errors)
	}
	if res.SportsChecked != 2 || res.EventsFetched != 1 {
		t.Errorf("Expected 2 checked / 1 fetched, got %d/%d", res.SportsChecked, res.EventsFetched)
	}

	// The cycle aborted: no snapshot write, but the exhausted quota is
	// recorded and ticks are suppressed until the reset instant.
	if st.snapshotWrites() != 0 {
		t.Error("Expected the snapshot untouched on a quota abort")
	}
	if len(st.quotas) != 1 || st.quotas[0].Remaining != 0 {
		t.Errorf("Expected the exhausted quota recorded, got %+v", st.quotas)
	}
	if s.TryTick() {
		t.Error("Expected ticks suppressed inside the quota window")
	}
	clock.advance(61 * time.Second)
	if !s.TryTick() {
		t.Error("Expected ticks to resume after the reset instant")
	}
	waitIdle(t, s)
}

func TestAuthErrorAbortsCycle(t *testing.T) {
	feed := &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		if key == "s1" {
			return []models.Event{feedEvent(key)}, nil, nil
		}
		return nil, nil, &oddsapi.StatusError{Kind: oddsapi.KindAuth, StatusCode: 401, Message: "bad key"}
	}}
	st := &recordingStore{}
	s := newTestScheduler(t, feed, staticSports{keys: []string{"s1", "s2", "s3"}}, st, staticDetector{})

	res, err := s.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	if res.Status != models.RefreshFailed {
		t.Errorf("Expected failed on auth error, got %s", res.Status)
	}
	if res.SportsChecked != 2 {
		t.Errorf("Expected the abort before the third sport, got %d checked", res.SportsChecked)
	}
	if st.snapshotWrites() != 0 || st.appendCalls != 0 {
		t.Error("Expected the store untouched on an auth abort")
	}
	// Auth failures do not suppress ticks; the next tick may retry.
	if !s.TryTick() {
		t.Error("Expected ticks to continue after an auth failure")
	}
	waitIdle(t, s)
}

func TestTransientRetriesThenSkipsSport(t *testing.T) {
	feed := &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		return nil, nil, transientErr()
	}}
	st := &recordingStore{}
	s := newTestScheduler(t, feed, staticSports{keys: []string{"s1"}}, st, staticDetector{})

	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	s.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	res, err := s.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	if res.Status != models.RefreshFailed {
		t.Errorf("Expected failed with zero successful sports, got %s", res.Status)
	}
	if n := feed.callCount(); n != 3 {
		t.Errorf("Expected 3 attempts, got %d", n)
	}
	if st.snapshotWrites() != 0 {
		t.Error("Expected the snapshot untouched when every sport failed")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delays) != 2 {
		t.Fatalf("Expected 2 backoff sleeps, got %d", len(delays))
	}
	if delays[0] < 900*time.Millisecond || delays[0] > 1100*time.Millisecond {
		t.Errorf("Expected first backoff near 1s, got %v", delays[0])
	}
	if delays[1] < 1800*time.Millisecond || delays[1] > 2200*time.Millisecond {
		t.Errorf("Expected second backoff near 2s, got %v", delays[1])
	}
}

func TestTransientRecoversWithinRetries(t *testing.T) {
	feed := &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		if call < 3 {
			return nil, nil, transientErr()
		}
		return []models.Event{feedEvent(key)}, nil, nil
	}}
	st := &recordingStore{}
	s := newTestScheduler(t, feed, staticSports{keys: []string{"s1"}}, st, staticDetector{})

	res, err := s.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	if res.Status != models.RefreshOK {
		t.Errorf("Expected recovery within the retry budget, got %s (errors %v)", res.Status, res.Errors)
	}
	if res.EventsFetched != 1 {
		t.Errorf("Expected 1 event fetched, got %d", res.EventsFetched)
	}
	if n := feed.callCount(); n != 3 {
		t.Errorf("Expected 3 attempts, got %d", n)
	}
}

func TestPartialCycleWritesRemainingSports(t *testing.T) {
	feed := &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		if key == "s1" {
			return nil, nil, transientErr()
		}
		return []models.Event{feedEvent(key), feedEvent(key + "b")}, nil, nil
	}}
	st := &recordingStore{}
	det := staticDetector{ops: []models.Opportunity{{SportKey: "s2", Market: "h2h", ProfitPct: 1.0}}}
	s := newTestScheduler(t, feed, staticSports{keys: []string{"s1", "s2"}}, st, det)

	res, err := s.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	if res.Status != models.RefreshPartial {
		t.Errorf("Expected partial, got %s", res.Status)
	}
	if len(res.Errors) != 1 {
		t.Errorf("Expected one error for the skipped sport, got %v", res.Errors)
	}
	if res.EventsFetched != 2 || res.Persisted != 1 {
		t.Errorf("Expected the surviving sport written, got %d fetched / %d persisted", res.EventsFetched, res.Persisted)
	}
	if len(st.replaced) != 1 || len(st.replaced[0]) != 2 {
		t.Fatalf("Expected a snapshot with the surviving sport's events, got %+v", st.replaced)
	}
}

func TestReplaceLatestRetriedOnce(t *testing.T) {
	feed := &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		return []models.Event{feedEvent(key)}, nil, nil
	}}

	// First write fails, the retry lands.
	st := &recordingStore{replaceErrs: []error{errors.New("disk hiccup")}}
	s := newTestScheduler(t, feed, staticSports{keys: []string{"s1"}}, st, staticDetector{})
	res, err := s.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	if res.Status != models.RefreshOK {
		t.Errorf("Expected ok after a successful retry, got %s", res.Status)
	}
	if st.replaceCalls != 2 || st.snapshotWrites() != 1 {
		t.Errorf("Expected 2 attempts and 1 write, got %d/%d", st.replaceCalls, st.snapshotWrites())
	}

	// Both attempts fail: the run is failed and opportunities are skipped.
	st2 := &recordingStore{replaceErrs: []error{errors.New("disk gone"), errors.New("disk gone")}}
	s2 := newTestScheduler(t, feed, staticSports{keys: []string{"s1"}}, st2, staticDetector{ops: []models.Opportunity{{Market: "h2h"}}})
	res2, err := s2.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	if res2.Status != models.RefreshFailed {
		t.Errorf("Expected failed after exhausted store retry, got %s", res2.Status)
	}
	if st2.replaceCalls != 2 {
		t.Errorf("Expected exactly one retry, got %d attempts", st2.replaceCalls)
	}
	if st2.appendCalls != 0 {
		t.Error("Expected opportunity persistence skipped after a failed snapshot write")
	}
}

func TestAppendFailureIsNonFatal(t *testing.T) {
	feed := &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		return []models.Event{feedEvent(key)}, nil, nil
	}}
	st := &recordingStore{appendErrs: []error{errors.New("locked"), errors.New("locked")}}
	det := staticDetector{ops: []models.Opportunity{{Market: "h2h", ProfitPct: 3.0}}}
	s := newTestScheduler(t, feed, staticSports{keys: []string{"s1"}}, st, det)

	res, err := s.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	if res.Status != models.RefreshOK {
		t.Errorf("Expected the snapshot write to stay authoritative, got %s", res.Status)
	}
	if res.Detected != 1 || res.Persisted != 0 {
		t.Errorf("Expected 1 detected and 0 persisted, got %d/%d", res.Detected, res.Persisted)
	}
	if len(res.Errors) != 1 {
		t.Errorf("Expected the append failure surfaced in errors, got %v", res.Errors)
	}
	if st.appendCalls != 2 {
		t.Errorf("Expected the append retried once, got %d attempts", st.appendCalls)
	}
}

func TestStopCancelsInFlightRun(t *testing.T) {
	entered := make(chan struct{}, 1)
	feed := &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		entered <- struct{}{}
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}}
	st := &recordingStore{}
	s := newTestScheduler(t, feed, staticSports{keys: []string{"s1", "s2"}}, st, staticDetector{})

	results := make(chan models.RefreshResult, 1)
	go func() {
		res, err := s.Trigger(context.Background())
		if err != nil {
			t.Errorf("Trigger failed: %v", err)
		}
		results <- res
	}()
	<-entered

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Failed to stop: %v", err)
	}

	res := <-results
	if res.Status != models.RefreshCancelled {
		t.Errorf("Expected cancelled status, got %s", res.Status)
	}
	if st.snapshotWrites() != 0 {
		t.Error("Expected the store untouched on cancellation")
	}

	if _, err := s.Trigger(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped after shutdown, got %v", err)
	}
	if s.TryTick() {
		t.Error("Expected ticks rejected after shutdown")
	}
}

func TestTriggerWaiterCanDetachWithoutKillingRun(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	feed := &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		entered <- struct{}{}
		<-release
		return []models.Event{feedEvent(key)}, nil, nil
	}}
	st := &recordingStore{}
	s := newTestScheduler(t, feed, staticSports{keys: []string{"s1"}}, st, staticDetector{})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := s.Trigger(ctx)
		errs <- err
	}()
	<-entered

	// The waiter gives up; the run it started must still finish and publish.
	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected the waiter's context error, got %v", err)
	}
	close(release)
	waitIdle(t, s)

	if last := s.LastRun(); last == nil || last.Status != models.RefreshOK {
		t.Errorf("Expected the run to complete after the waiter left, got %+v", last)
	}
	if st.snapshotWrites() != 1 {
		t.Errorf("Expected the snapshot written, got %d writes", st.snapshotWrites())
	}
}

func TestResolverErrorFailsRun(t *testing.T) {
	feed := &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		return nil, nil, nil
	}}
	st := &recordingStore{}
	s := newTestScheduler(t, feed, staticSports{err: errors.New("catalogue empty")}, st, staticDetector{})

	res, err := s.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}
	if res.Status != models.RefreshFailed {
		t.Errorf("Expected failed on resolver error, got %s", res.Status)
	}
	if feed.callCount() != 0 {
		t.Errorf("Expected no upstream calls, got %d", feed.callCount())
	}
}

func TestBackoffWithinJitterBounds(t *testing.T) {
	s := newTestScheduler(t, &scriptedFeed{handler: func(ctx context.Context, call int, key string) ([]models.Event, *models.QuotaSnapshot, error) {
		return nil, nil, nil
	}}, staticSports{}, &recordingStore{}, staticDetector{})

	for i := 0; i < 100; i++ {
		if d := s.backoff(1); d < 900*time.Millisecond || d > 1100*time.Millisecond {
			t.Fatalf("First backoff out of bounds: %v", d)
		}
		if d := s.backoff(2); d < 1800*time.Millisecond || d > 2200*time.Millisecond {
			t.Fatalf("Second backoff out of bounds: %v", d)
		}
	}
}
