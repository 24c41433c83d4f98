package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Vaayujeet/encore/pkg/queue"
)

type scriptedQueue struct {
	mu    sync.Mutex
	tasks []*queue.Task
	errs  int
}

func (s *scriptedQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs > 0 {
		s.errs--
		return nil, errors.New("redis gone")
	}
	if len(s.tasks) == 0 {
		return nil, nil
	}
	t := s.tasks[0]
	s.tasks = s.tasks[1:]
	return t, nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, task *queue.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, task.Name)
	return r.err
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestPoolDispatchesAndStops(t *testing.T) {
	q := &scriptedQueue{tasks: []*queue.Task{
		{ID: "1", Name: "NewDownEvent"},
		{ID: "2", Name: "ResolvingEvent"},
	}}
	d := &recordingDispatcher{}
	pool := NewPool(q, d, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return d.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

func TestPoolSurvivesDispatchErrors(t *testing.T) {
	q := &scriptedQueue{
		errs:  1,
		tasks: []*queue.Task{{ID: "1", Name: "IngestEvent"}},
	}
	d := &recordingDispatcher{err: errors.New("handler blew up")}
	pool := NewPool(q, d, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	// The dequeue error backs off, then the task still gets dispatched.
	assert.Eventually(t, func() bool { return d.count() == 1 }, 3*time.Second, 10*time.Millisecond)
}
