package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vaayujeet/encore/pkg/queue"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

func TestFollowUpMap(t *testing.T) {
	cases := []struct {
		name      string
		event     store.EventRecord
		wantTask  string
		wantDelay time.Duration
		wantOK    bool
	}{
		{
			name:      "new down",
			event:     store.EventRecord{Status: types.StatusNew, EventType: types.EventTypeDown},
			wantTask:  TaskNewDown,
			wantDelay: 10 * time.Second,
			wantOK:    true,
		},
		{
			name:      "new up",
			event:     store.EventRecord{Status: types.StatusNew, EventType: types.EventTypeUp},
			wantTask:  TaskNewUp,
			wantDelay: 10 * time.Second,
			wantOK:    true,
		},
		{
			name:   "new neutral needs no correlation",
			event:  store.EventRecord{Status: types.StatusNew, EventType: types.EventTypeNeutral},
			wantOK: false,
		},
		{
			name:      "suppressed",
			event:     store.EventRecord{Status: types.StatusSuppressed, EventType: types.EventTypeDown},
			wantTask:  TaskSuppressed,
			wantDelay: 10 * time.Second,
			wantOK:    true,
		},
		{
			name: "suppressed after ticket comment",
			event: store.EventRecord{
				Status: types.StatusSuppressed, EventType: types.EventTypeDown,
				Extras: types.Extras{AssetDownComment: true},
			},
			wantTask:  TaskSuppressed,
			wantDelay: 30 * time.Second,
			wantOK:    true,
		},
		{
			name:      "creating ticket",
			event:     store.EventRecord{Status: types.StatusCreatingTicket, EventType: types.EventTypeDown},
			wantTask:  TaskCreateTicket,
			wantDelay: 10 * time.Second,
			wantOK:    true,
		},
		{
			name:      "alerted",
			event:     store.EventRecord{Status: types.StatusAlerted, EventType: types.EventTypeDown},
			wantTask:  TaskAlerted,
			wantDelay: 30 * time.Second,
			wantOK:    true,
		},
		{
			name:      "resolving",
			event:     store.EventRecord{Status: types.StatusResolving, EventType: types.EventTypeDown},
			wantTask:  TaskResolving,
			wantDelay: 30 * time.Second,
			wantOK:    true,
		},
		{
			name:   "resolved is terminal",
			event:  store.EventRecord{Status: types.StatusResolved, EventType: types.EventTypeDown},
			wantOK: false,
		},
		{
			name:   "deduped is terminal",
			event:  store.EventRecord{Status: types.StatusDeduped, EventType: types.EventTypeDown},
			wantOK: false,
		},
		{
			name:   "error is terminal",
			event:  store.EventRecord{Status: types.StatusError, EventType: types.EventTypeDown},
			wantOK: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			name, delay, ok := FollowUp(&tc.event)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantTask, name)
				assert.Equal(t, tc.wantDelay, delay)
			}
		})
	}
}

func TestEnqueueAfterCommitBuffers(t *testing.T) {
	dc := &Context{}
	dc.EnqueueAfterCommit(queue.Task{Name: TaskNewDown, EventID: 1}, 10*time.Second)
	dc.EnqueueAfterCommit(queue.Task{Name: TaskResolving, EventID: 2}, 30*time.Second)

	require.Len(t, dc.deferred, 2)
	assert.Equal(t, TaskNewDown, dc.deferred[0].task.Name)
	assert.Equal(t, 30*time.Second, dc.deferred[1].delay)
}

func TestAccumulatorIncrementsRetry(t *testing.T) {
	acc := NewAccumulatorWithUpsert(func(ctx context.Context, db store.DB, eventID int64, status types.EventStatus, message string) (int, error) {
		return 1, nil
	})
	dc := &Context{Logger: zerolog.Nop(), reporter: acc}
	event := &store.EventRecord{ID: 5, Status: types.StatusNew, RetryCount: 2}

	require.NoError(t, dc.Report(context.Background(), event, "Missing Down Event", true, true))
	assert.Equal(t, 3, event.RetryCount)

	require.NoError(t, dc.Report(context.Background(), event, "Invalid Status [Task: NewUpEvent]", false, false))
	assert.Equal(t, 3, event.RetryCount)
}

func TestAccumulatorFatalPastThreshold(t *testing.T) {
	repeat := 0
	acc := NewAccumulatorWithUpsert(func(ctx context.Context, db store.DB, eventID int64, status types.EventStatus, message string) (int, error) {
		repeat++
		return repeat, nil
	})
	dc := &Context{Logger: zerolog.Nop(), reporter: acc}
	event := &store.EventRecord{ID: 5, Status: types.StatusCreatingTicket}

	for i := 0; i < maxErrorRepeat; i++ {
		require.NoError(t, dc.Report(context.Background(), event, "ticket create failed", false, true))
	}

	err := dc.Report(context.Background(), event, "ticket create failed", false, true)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Contains(t, fatal.Message, "ticket create failed")
}

func TestAccumulatorSkipsRepeatCheckWhenDisabled(t *testing.T) {
	acc := NewAccumulatorWithUpsert(func(ctx context.Context, db store.DB, eventID int64, status types.EventStatus, message string) (int, error) {
		return 99, nil
	})
	dc := &Context{Logger: zerolog.Nop(), reporter: acc}
	event := &store.EventRecord{ID: 5, Status: types.StatusAlerted}

	assert.NoError(t, dc.Report(context.Background(), event, "bulk resolve failed", false, false))
}

func TestGuardMessages(t *testing.T) {
	assert.Equal(t, "Invalid Status [Task: NewDownEvent]", InvalidStatusMessage(TaskNewDown))
	assert.Equal(t, "Invalid Event Type [Task: NewUpEvent]", InvalidTypeMessage(TaskNewUp))
}

type fakeEnqueuer struct {
	tasks  []queue.Task
	delays []time.Duration
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, task queue.Task, delay time.Duration) error {
	f.tasks = append(f.tasks, task)
	f.delays = append(f.delays, delay)
	return nil
}

type fakeEventReader struct {
	event *store.EventRecord
	err   error
}

func (f *fakeEventReader) GetEvent(ctx context.Context, db store.DB, id int64) (*store.EventRecord, error) {
	return f.event, f.err
}

func recoveryDispatcher(events EventReader, q Enqueuer, r Reporter) *Dispatcher {
	return &Dispatcher{events: events, queue: q, reporter: r, specs: map[string]Spec{}}
}

func TestRecoverTaskReEnqueuesAndReports(t *testing.T) {
	var reported []string
	acc := NewAccumulatorWithUpsert(func(ctx context.Context, db store.DB, eventID int64, status types.EventStatus, message string) (int, error) {
		reported = append(reported, message)
		return 1, nil
	})
	q := &fakeEnqueuer{}
	event := &store.EventRecord{ID: 7, Status: types.StatusCreatingTicket}
	d := recoveryDispatcher(&fakeEventReader{event: event}, q, acc)
	dc := &Context{TaskID: "t-1", Task: TaskCreateTicket, Logger: zerolog.Nop(), reporter: acc}

	task := &queue.Task{ID: "t-1", Name: TaskCreateTicket, EventID: 7}
	abandoned := d.recoverTask(context.Background(), dc, task, assert.AnError)

	// The failed task goes back on the queue; without that the consumed
	// entry would leave the event stuck forever.
	assert.False(t, abandoned)
	require.Len(t, q.tasks, 1)
	assert.Equal(t, TaskCreateTicket, q.tasks[0].Name)
	assert.EqualValues(t, 7, q.tasks[0].EventID)
	assert.Equal(t, shortRecheck, q.delays[0])

	require.Len(t, reported, 1)
	assert.Contains(t, reported[0], "[Task: CreateTicketEvent]")
}

func TestRecoverTaskAbandonsPastThreshold(t *testing.T) {
	acc := NewAccumulatorWithUpsert(func(ctx context.Context, db store.DB, eventID int64, status types.EventStatus, message string) (int, error) {
		return maxErrorRepeat + 1, nil
	})
	q := &fakeEnqueuer{}
	event := &store.EventRecord{ID: 7, Status: types.StatusCreatingTicket}
	d := recoveryDispatcher(&fakeEventReader{event: event}, q, acc)
	dc := &Context{TaskID: "t-1", Task: TaskCreateTicket, Logger: zerolog.Nop(), reporter: acc}

	task := &queue.Task{ID: "t-1", Name: TaskCreateTicket, EventID: 7}
	abandoned := d.recoverTask(context.Background(), dc, task, assert.AnError)

	assert.True(t, abandoned)
	assert.Empty(t, q.tasks)
}

type fakeLogWriter struct {
	statuses []types.LogStatus
}

func (f *fakeLogWriter) SetIngressLogStatus(ctx context.Context, db store.DB, id int64, status types.LogStatus, message string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func TestClaimLogMarksInProgress(t *testing.T) {
	lw := &fakeLogWriter{}
	d := &Dispatcher{logs: lw, specs: map[string]Spec{}}
	l := &store.IngressLog{ID: 12, Status: types.LogStatusNew}

	require.NoError(t, d.claimLog(context.Background(), nil, l))

	assert.Equal(t, []types.LogStatus{types.LogStatusInProgress}, lw.statuses)
	assert.Equal(t, types.LogStatusInProgress, l.Status)
}

func TestRecoverTaskLogTask(t *testing.T) {
	q := &fakeEnqueuer{}
	d := recoveryDispatcher(&fakeEventReader{}, q, nil)
	dc := &Context{TaskID: "t-2", Task: TaskIngestEvent, Logger: zerolog.Nop()}

	task := &queue.Task{ID: "t-2", Name: TaskIngestEvent, LogID: 12}
	abandoned := d.recoverTask(context.Background(), dc, task, assert.AnError)

	assert.False(t, abandoned)
	require.Len(t, q.tasks, 1)
	assert.EqualValues(t, 12, q.tasks[0].LogID)
	assert.Equal(t, shortRecheck, q.delays[0])
}
