// Package queue is the redis-backed task queue. Tasks are JSON blobs on
// a ready list, consumed with a blocking pop. Delayed tasks park in a
// sorted set scored by their ready time and a promoter loop moves them
// onto the ready list when due.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Vaayujeet/encore/pkg/config"
	"github.com/Vaayujeet/encore/pkg/log"
	"github.com/Vaayujeet/encore/pkg/metrics"
)

const (
	readyKey   = "encore:tasks:ready"
	delayedKey = "encore:tasks:delayed"
)

// Task is one unit of queued work. Exactly one of EventID and LogID is
// set, depending on what the task operates on.
type Task struct {
	// ID is a per-enqueue identifier used in logs.
	ID   string `json:"id"`
	Name string `json:"name"`

	EventID int64 `json:"event_id,omitempty"`
	LogID   int64 `json:"log_id,omitempty"`
}

// Queue wraps the redis connection.
type Queue struct {
	rdb *redis.Client
}

// NewClient opens the redis connection shared by queue and locks.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
}

// New builds a queue over an open client.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Ping checks the connection.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Enqueue queues one task, immediately or after a delay. The task id is
// assigned here when the caller left it empty.
func (q *Queue) Enqueue(ctx context.Context, task Task, delay time.Duration) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	if delay <= 0 {
		if err := q.rdb.LPush(ctx, readyKey, payload).Err(); err != nil {
			return fmt.Errorf("enqueueing %s: %w", task.Name, err)
		}
	} else {
		score := float64(time.Now().Add(delay).UnixMilli())
		if err := q.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: score, Member: payload}).Err(); err != nil {
			return fmt.Errorf("delaying %s: %w", task.Name, err)
		}
	}

	metrics.TasksEnqueued.WithLabelValues(task.Name).Inc()
	log.Logger.Debug().Str("task", task.Name).Str("task_id", task.ID).
		Dur("delay", delay).Msg("task enqueued")
	return nil
}

// Dequeue blocks for up to timeout waiting for a ready task. Returns
// (nil, nil) on timeout so worker loops can check for shutdown.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	res, err := q.rdb.BRPop(ctx, timeout, readyKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("decoding task payload: %w", err)
	}
	return &task, nil
}

// Promote moves every due delayed task onto the ready list. Returns the
// number of tasks promoted.
func (q *Queue) Promote(ctx context.Context) (int, error) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	due, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, payload := range due {
		// Only the remover pushes, so a task promoted by a racing
		// instance is not duplicated.
		removed, err := q.rdb.ZRem(ctx, delayedKey, payload).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, readyKey, payload).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// RunPromoter promotes due tasks on an interval until the context ends.
func (q *Queue) RunPromoter(ctx context.Context, interval time.Duration) {
	logger := log.WithComponent("queue-promoter")
	logger.Info().Dur("interval", interval).Msg("promoter started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("promoter stopped")
			return
		case <-ticker.C:
			if _, err := q.Promote(ctx); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("promoting delayed tasks")
			}
			q.reportDepths(ctx)
		}
	}
}

func (q *Queue) reportDepths(ctx context.Context) {
	if ready, err := q.rdb.LLen(ctx, readyKey).Result(); err == nil {
		metrics.QueueDepth.WithLabelValues("ready").Set(float64(ready))
	}
	if delayed, err := q.rdb.ZCard(ctx, delayedKey).Result(); err == nil {
		metrics.QueueDepth.WithLabelValues("delayed").Set(float64(delayed))
	}
}
