// Package dispatch runs queued tasks. Every task gets its own database
// transaction with the target row locked, so concurrent workers never
// process the same event twice. Follow-on tasks requested by a handler
// are buffered and only enqueued after the transaction commits.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Vaayujeet/encore/pkg/queue"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// Task names on the queue.
const (
	TaskIngestEvent  = "IngestEvent"
	TaskNewUp        = "NewUpEvent"
	TaskNewDown      = "NewDownEvent"
	TaskSuppressed   = "SuppressedDownEvent"
	TaskCreateTicket = "CreateTicketEvent"
	TaskAlerted      = "AlertedDownEvent"
	TaskResolving    = "ResolvingEvent"
	TaskResolve      = "ResolveEvent"
	TaskPurgeDB      = "PurgeEventsIngressLogs"
	TaskPurgeIndices = "PurgeEventIndices"
)

// FatalError aborts the task and rolls back its transaction. Raised
// when an event keeps failing the same way and retrying is pointless.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return e.Message
}

// Records is the relational surface handlers reach through the
// Context. Satisfied by *store.Store.
type Records interface {
	GetOrCreateToolIP(ctx context.Context, db store.DB, ip string) (*store.MonitorToolIP, error)
	CreateEvent(ctx context.Context, db store.DB, e *store.EventRecord) error
	SetIngressLogStatus(ctx context.Context, db store.DB, id int64, status types.LogStatus, message string) error
	EventsByTicket(ctx context.Context, db store.DB, ticketID int64) ([]*store.EventRecord, error)
	ResolveErrorLogs(ctx context.Context, db store.DB, eventID int64) error
}

// Context carries everything a handler needs for one task run. DB is
// the open transaction.
type Context struct {
	TaskID string
	Task   string
	DB     store.DB
	Store  Records
	Logger zerolog.Logger

	reporter Reporter
	deferred []deferredTask
}

// NewContext assembles a handler context. The dispatcher builds its own
// per task; this is the entry point for handler tests.
func NewContext(taskID, task string, db store.DB, records Records, logger zerolog.Logger, r Reporter) *Context {
	return &Context{
		TaskID:   taskID,
		Task:     task,
		DB:       db,
		Store:    records,
		Logger:   logger,
		reporter: r,
	}
}

type deferredTask struct {
	task  queue.Task
	delay time.Duration
}

// DeferredTask is one buffered follow-on.
type DeferredTask struct {
	Task  queue.Task
	Delay time.Duration
}

// DeferredTasks lists the follow-on tasks buffered so far.
func (c *Context) DeferredTasks() []DeferredTask {
	out := make([]DeferredTask, 0, len(c.deferred))
	for _, dt := range c.deferred {
		out = append(out, DeferredTask{Task: dt.task, Delay: dt.delay})
	}
	return out
}

// EnqueueAfterCommit schedules a follow-on task. It is queued only once
// the surrounding transaction commits; a rollback drops it.
func (c *Context) EnqueueAfterCommit(task queue.Task, delay time.Duration) {
	c.deferred = append(c.deferred, deferredTask{task: task, delay: delay})
}

// Report records a handler error against the event. Fatal errors (the
// same failure repeating past the threshold) come back as *FatalError
// and must be returned by the handler.
func (c *Context) Report(ctx context.Context, event *store.EventRecord, message string, incrementRetry, checkRepeat bool) error {
	return c.reporter.Report(ctx, c, event, message, incrementRetry, checkRepeat)
}

// InvalidStatusMessage is the guard failure recorded when a task finds
// its event in a status it does not handle.
func InvalidStatusMessage(task string) string {
	return fmt.Sprintf("Invalid Status [Task: %s]", task)
}

// InvalidTypeMessage is the guard failure recorded when a task finds
// its event with a type it does not handle.
func InvalidTypeMessage(task string) string {
	return fmt.Sprintf("Invalid Event Type [Task: %s]", task)
}
