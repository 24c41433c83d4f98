package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Vaayujeet/encore/pkg/log"
	"github.com/Vaayujeet/encore/pkg/metrics"
	"github.com/Vaayujeet/encore/pkg/queue"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// Spec declares one task: its guards and its handler. Exactly one of
// the handler fields is set. Event tasks get their row locked and saved
// by the dispatcher; log tasks manage their log row themselves; jobs
// run without a locked row.
type Spec struct {
	Name string

	// ValidStatuses guards event tasks: an event outside these statuses
	// is reported and skipped. Empty means any status.
	ValidStatuses []types.EventStatus
	// ValidTypes guards event tasks the same way for the event type.
	ValidTypes []types.EventType

	HandleEvent func(ctx context.Context, dc *Context, event *store.EventRecord) error
	HandleLog   func(ctx context.Context, dc *Context, l *store.IngressLog) error
	HandleJob   func(ctx context.Context, dc *Context) error
}

// Enqueuer puts tasks back on the queue. Satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task, delay time.Duration) error
}

// EventReader loads event rows without locking them. Satisfied by
// *store.Store.
type EventReader interface {
	GetEvent(ctx context.Context, db store.DB, id int64) (*store.EventRecord, error)
}

// LogWriter updates ingress log rows. Satisfied by *store.Store.
type LogWriter interface {
	SetIngressLogStatus(ctx context.Context, db store.DB, id int64, status types.LogStatus, message string) error
}

// Dispatcher owns the task registry and the per-task transaction flow.
type Dispatcher struct {
	pool     *pgxpool.Pool
	store    *store.Store
	events   EventReader
	logs     LogWriter
	queue    Enqueuer
	reporter Reporter
	specs    map[string]Spec
}

// New builds a dispatcher.
func New(pool *pgxpool.Pool, s *store.Store, q *queue.Queue, r Reporter) *Dispatcher {
	return &Dispatcher{
		pool:     pool,
		store:    s,
		events:   s,
		logs:     s,
		queue:    q,
		reporter: r,
		specs:    map[string]Spec{},
	}
}

// Register adds one task spec. Panics on duplicates; specs are wired at
// startup.
func (d *Dispatcher) Register(spec Spec) {
	if _, exists := d.specs[spec.Name]; exists {
		panic("duplicate task spec: " + spec.Name)
	}
	d.specs[spec.Name] = spec
}

// Dispatch runs one queued task to completion: begin, lock, guard,
// handle, save, commit, then flush the deferred follow-on tasks.
func (d *Dispatcher) Dispatch(ctx context.Context, task *queue.Task) error {
	spec, ok := d.specs[task.Name]
	if !ok {
		return fmt.Errorf("unknown task %q", task.Name)
	}

	start := time.Now()
	outcome, err := d.run(ctx, spec, task)
	metrics.HandlerRuns.WithLabelValues(task.Name, outcome).Inc()
	metrics.HandlerDuration.WithLabelValues(task.Name).Observe(time.Since(start).Seconds())
	return err
}

func (d *Dispatcher) run(ctx context.Context, spec Spec, task *queue.Task) (string, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return "error", fmt.Errorf("beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	dc := &Context{
		TaskID:   task.ID,
		Task:     task.Name,
		DB:       tx,
		Store:    d.store,
		Logger:   log.WithTaskID(task.ID).With().Str("task", task.Name).Logger(),
		reporter: d.reporter,
	}

	var handlerErr error
	switch {
	case spec.HandleEvent != nil:
		event, err := d.store.GetEventForUpdate(ctx, tx, task.EventID)
		if errors.Is(err, store.ErrLockBusy) {
			_ = tx.Rollback(ctx)
			committed = true
			d.reportLockBusy(ctx, dc, task)
			return "lock_busy", nil
		}
		if errors.Is(err, store.ErrNotFound) {
			dc.Logger.Warn().Int64("event_id", task.EventID).Msg("event row missing")
			return "missing", nil
		}
		if err != nil {
			return "error", err
		}

		if len(spec.ValidStatuses) > 0 && !statusIn(event.Status, spec.ValidStatuses) {
			if err := dc.Report(ctx, event, InvalidStatusMessage(task.Name), false, false); err != nil {
				return "error", err
			}
			return d.commit(ctx, tx, dc, &committed, "invalid")
		}
		if len(spec.ValidTypes) > 0 && !typeIn(event.EventType, spec.ValidTypes) {
			if err := dc.Report(ctx, event, InvalidTypeMessage(task.Name), false, false); err != nil {
				return "error", err
			}
			return d.commit(ctx, tx, dc, &committed, "invalid")
		}

		handlerErr = spec.HandleEvent(ctx, dc, event)
		if handlerErr == nil {
			if err := d.store.SaveEvent(ctx, tx, event); err != nil {
				return "error", fmt.Errorf("saving event %d: %w", event.ID, err)
			}
			if name, delay, ok := FollowUp(event); ok {
				dc.EnqueueAfterCommit(queue.Task{Name: name, EventID: event.ID}, delay)
			}
		}

	case spec.HandleLog != nil:
		l, err := d.store.GetIngressLogForUpdate(ctx, tx, task.LogID)
		if errors.Is(err, store.ErrLockBusy) {
			metrics.LockContention.WithLabelValues(task.Name).Inc()
			dc.Logger.Warn().Int64("log_id", task.LogID).Msg("ingress log locked by another worker")
			return "lock_busy", nil
		}
		if errors.Is(err, store.ErrNotFound) {
			dc.Logger.Warn().Int64("log_id", task.LogID).Msg("ingress log row missing")
			return "missing", nil
		}
		if err != nil {
			return "error", err
		}
		if err := d.claimLog(ctx, tx, l); err != nil {
			return "error", err
		}
		handlerErr = spec.HandleLog(ctx, dc, l)

	case spec.HandleJob != nil:
		handlerErr = spec.HandleJob(ctx, dc)

	default:
		return "error", fmt.Errorf("task %q has no handler", spec.Name)
	}

	if handlerErr != nil {
		var fatal *FatalError
		if errors.As(handlerErr, &fatal) {
			dc.Logger.Error().Str("reason", fatal.Message).Msg("task aborted")
			return "fatal", nil
		}
		_ = tx.Rollback(ctx)
		committed = true
		if spec.HandleJob == nil && d.recoverTask(ctx, dc, task, handlerErr) {
			return "fatal", nil
		}
		return "error", handlerErr
	}

	return d.commit(ctx, tx, dc, &committed, "ok")
}

// claimLog marks a locked log row as picked up. Rolls back with the
// transaction if the handler fails, so a retry sees the row fresh.
func (d *Dispatcher) claimLog(ctx context.Context, db store.DB, l *store.IngressLog) error {
	if err := d.logs.SetIngressLogStatus(ctx, db, l.ID, types.LogStatusInProgress, ""); err != nil {
		return err
	}
	l.Status = types.LogStatusInProgress
	return nil
}

// recoverTask keeps an event or log alive after its task failed and the
// transaction rolled back. The queue entry is already consumed, so
// without a fresh one nothing would ever look at the row again. The
// failure is recorded against the event from outside the transaction;
// once the same failure has repeated past the threshold the event is
// abandoned instead. Returns true when abandoned.
func (d *Dispatcher) recoverTask(ctx context.Context, dc *Context, task *queue.Task, cause error) bool {
	if task.EventID > 0 {
		event, err := d.events.GetEvent(ctx, d.pool, task.EventID)
		if err != nil {
			dc.Logger.Warn().Err(err).Int64("event_id", task.EventID).Msg("reading failed event")
		} else {
			poolCtx := &Context{
				TaskID: dc.TaskID, Task: dc.Task, DB: d.pool, Store: d.store,
				Logger: dc.Logger, reporter: d.reporter,
			}
			msg := fmt.Sprintf("%v [Task: %s]", cause, task.Name)
			rerr := poolCtx.Report(ctx, event, msg, false, true)
			var fatal *FatalError
			if errors.As(rerr, &fatal) {
				dc.Logger.Error().Str("reason", fatal.Message).Msg("task abandoned")
				return true
			}
			if rerr != nil {
				dc.Logger.Warn().Err(rerr).Msg("recording task failure")
			}
		}
	}

	retry := *task
	if err := d.queue.Enqueue(ctx, retry, shortRecheck); err != nil {
		dc.Logger.Error().Err(err).Str("task", task.Name).Msg("re-enqueueing failed task")
	}
	return false
}

func (d *Dispatcher) commit(ctx context.Context, tx interface {
	Commit(context.Context) error
}, dc *Context, committed *bool, outcome string) (string, error) {
	if err := tx.Commit(ctx); err != nil {
		return "error", fmt.Errorf("committing transaction: %w", err)
	}
	*committed = true

	// The transaction already committed, so a follow-on that never
	// makes it onto the queue leaves its event stuck. Ride out short
	// queue outages before giving up.
	for _, dt := range dc.deferred {
		dt := dt
		err := backoff.Retry(func() error {
			return d.queue.Enqueue(ctx, dt.task, dt.delay)
		}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx))
		if err != nil {
			dc.Logger.Error().Err(err).Str("follow_on", dt.task.Name).Msg("follow-on task lost")
		}
	}
	return outcome, nil
}

// reportLockBusy records the contention against the event without a row
// lock. The retry count stays untouched; the event's own recheck cycle
// continues regardless.
func (d *Dispatcher) reportLockBusy(ctx context.Context, dc *Context, task *queue.Task) {
	metrics.LockContention.WithLabelValues(task.Name).Inc()
	dc.Logger.Warn().Int64("event_id", task.EventID).Msg("event row locked by another worker")

	event, err := d.store.GetEvent(ctx, d.pool, task.EventID)
	if err != nil {
		dc.Logger.Warn().Err(err).Int64("event_id", task.EventID).Msg("reading contended event")
		return
	}
	poolCtx := &Context{
		TaskID: dc.TaskID, Task: dc.Task, DB: d.pool, Store: d.store,
		Logger: dc.Logger, reporter: d.reporter,
	}
	msg := fmt.Sprintf("Row Lock Busy [Task: %s]", task.Name)
	if err := poolCtx.Report(ctx, event, msg, false, false); err != nil {
		dc.Logger.Warn().Err(err).Msg("recording lock contention")
	}
}

func statusIn(s types.EventStatus, list []types.EventStatus) bool {
	for _, v := range list {
		if s == v {
			return true
		}
	}
	return false
}

func typeIn(t types.EventType, list []types.EventType) bool {
	for _, v := range list {
		if t == v {
			return true
		}
	}
	return false
}
