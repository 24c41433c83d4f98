package purge

import (
	"context"
	"time"

	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/log"
	"github.com/Vaayujeet/encore/pkg/queue"
)

// Enqueuer queues a task. Satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task, delay time.Duration) error
}

// Scheduler enqueues both purge jobs once a day at the configured UTC
// hour. Every replica runs one; the job locks keep the work single.
type Scheduler struct {
	queue   Enqueuer
	hourUTC int
	now     func() time.Time
}

// NewScheduler builds the daily scheduler.
func NewScheduler(q Enqueuer, hourUTC int) *Scheduler {
	return &Scheduler{queue: q, hourUTC: hourUTC, now: time.Now}
}

// Run fires the purge jobs daily until the context ends.
func (s *Scheduler) Run(ctx context.Context) {
	logger := log.WithComponent("purge-scheduler")
	logger.Info().Int("hour_utc", s.hourUTC).Msg("purge scheduler started")

	for {
		wait := time.Until(nextRun(s.now(), s.hourUTC))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info().Msg("purge scheduler stopped")
			return
		case <-timer.C:
		}

		for _, name := range []string{dispatch.TaskPurgeDB, dispatch.TaskPurgeIndices} {
			if err := s.queue.Enqueue(ctx, queue.Task{Name: name}, 0); err != nil {
				logger.Warn().Err(err).Str("task", name).Msg("enqueueing purge job")
			}
		}
	}
}

// nextRun returns the next occurrence of the given UTC hour strictly
// after now.
func nextRun(now time.Time, hourUTC int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
