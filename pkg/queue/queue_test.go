package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr, rdb
}

func TestEnqueueDequeue(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{Name: "IngestEvent", LogID: 7}, 0))

	task, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "IngestEvent", task.Name)
	assert.EqualValues(t, 7, task.LogID)
	assert.NotEmpty(t, task.ID)
}

func TestDequeueTimeout(t *testing.T) {
	q, _, _ := newTestQueue(t)

	task, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestDelayedTaskNotReadyBeforePromotion(t *testing.T) {
	q, _, rdb := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{Name: "NewDownEvent", EventID: 1}, time.Hour))

	ready, err := rdb.LLen(ctx, readyKey).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, ready)

	delayed, err := rdb.ZCard(ctx, delayedKey).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, delayed)

	moved, err := q.Promote(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
}

func TestPromoteMovesDueTasks(t *testing.T) {
	q, _, rdb := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{Name: "AlertedDownEvent", EventID: 2}, time.Millisecond))
	require.NoError(t, q.Enqueue(ctx, Task{Name: "ResolvingEvent", EventID: 3}, time.Hour))
	time.Sleep(10 * time.Millisecond)

	moved, err := q.Promote(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	task, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "AlertedDownEvent", task.Name)

	delayed, err := rdb.ZCard(ctx, delayedKey).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, delayed)
}

func TestLockExclusive(t *testing.T) {
	_, _, rdb := newTestQueue(t)
	locker := NewLocker(rdb)
	ctx := context.Background()

	lock, ok, err := locker.Acquire(ctx, "purge-events", 3*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.Acquire(ctx, "purge-events", 3*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx))

	_, ok, err = locker.Acquire(ctx, "purge-events", 3*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockReleaseAfterExpiry(t *testing.T) {
	_, mr, rdb := newTestQueue(t)
	locker := NewLocker(rdb)
	ctx := context.Background()

	lock, ok, err := locker.Acquire(ctx, "purge-indices", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	// Someone else takes the lock after the lease ran out. Release must
	// not steal it back.
	other, ok, err := locker.Acquire(ctx, "purge-indices", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Release(ctx))

	_, ok, err = locker.Acquire(ctx, "purge-indices", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, other.Release(ctx))
}
