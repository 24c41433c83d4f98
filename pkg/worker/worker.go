// Package worker runs the task-consuming loop: a fixed pool of
// goroutines popping tasks off the queue and handing them to the
// dispatcher.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Vaayujeet/encore/pkg/log"
	"github.com/Vaayujeet/encore/pkg/queue"
)

// dequeueTimeout bounds each blocking pop so workers notice shutdown.
const dequeueTimeout = 5 * time.Second

// Dequeuer pops ready tasks. Satisfied by *queue.Queue.
type Dequeuer interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Task, error)
}

// Dispatcher runs one task. Satisfied by *dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *queue.Task) error
}

// Pool is a fixed-size worker pool.
type Pool struct {
	queue      Dequeuer
	dispatcher Dispatcher
	size       int
}

// NewPool builds a pool of size workers.
func NewPool(q Dequeuer, d Dispatcher, size int) *Pool {
	return &Pool{queue: q, dispatcher: d, size: size}
}

// Run blocks until the context ends and every worker has drained.
func (p *Pool) Run(ctx context.Context) {
	logger := log.WithComponent("worker")
	logger.Info().Int("workers", p.size).Msg("worker pool started")

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	wg.Wait()
	logger.Info().Msg("worker pool stopped")
}

func (p *Pool) work(ctx context.Context, id int) {
	logger := log.WithComponent("worker").With().Int("worker", id).Logger()

	// Backs off on queue errors so a broken redis connection does not
	// spin the loop; any successful pop resets it.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}

		task, err := p.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			logger.Warn().Err(err).Dur("retry_in", wait).Msg("dequeueing task")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		if task == nil {
			continue
		}

		if err := p.dispatcher.Dispatch(ctx, task); err != nil {
			logger.Error().Err(err).Str("task", task.Name).Str("task_id", task.ID).
				Msg("task failed")
		}
	}
}
