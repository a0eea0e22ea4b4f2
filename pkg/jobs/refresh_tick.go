package jobs

import (
	"context"
	"fmt"
	"time"
)

// Ticker is the scheduler input a timer tick drives. TryTick reports whether
// a refresh started; a dropped tick is not an error.
type Ticker interface {
	TryTick() bool
}

// RefreshTickJob fires the periodic refresh. Registered only when the
// configured interval is positive; an interval of 0 means manual-only mode.
type RefreshTickJob struct {
	scheduler Ticker
	interval  time.Duration
}

// NewRefreshTickJob creates the refresh tick with the configured interval.
func NewRefreshTickJob(scheduler Ticker, interval time.Duration) Job {
	return &RefreshTickJob{scheduler: scheduler, interval: interval}
}

// Execute forwards the tick. The scheduler owns overlap and quota handling:
// a tick landing on a running or suppressed scheduler is dropped and logged
// there, and the run itself executes under the scheduler's own context.
func (j *RefreshTickJob) Execute(ctx context.Context) error {
	j.scheduler.TryTick()
	return nil
}

func (j *RefreshTickJob) Name() string {
	return "refresh_tick"
}

func (j *RefreshTickJob) Schedule() string {
	return fmt.Sprintf("@every %ds", int(j.interval/time.Second))
}
