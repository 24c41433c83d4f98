package purge

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vaayujeet/encore/pkg/config"
	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/store"
)

type fakeLease struct{ released bool }

func (f *fakeLease) Release(ctx context.Context) error {
	f.released = true
	return nil
}

type fakeLocker struct {
	held   bool
	leases []*fakeLease
}

func (f *fakeLocker) Acquire(ctx context.Context, name string, lease time.Duration) (Lease, bool, error) {
	if f.held {
		return nil, false, nil
	}
	l := &fakeLease{}
	f.leases = append(f.leases, l)
	return l, true, nil
}

type fakePurger struct {
	cutoffs []time.Time
	events  int64
	logs    int64
}

func (f *fakePurger) PurgeTerminalEvents(ctx context.Context, db store.DB, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.events, nil
}

func (f *fakePurger) PurgeOrphanLogs(ctx context.Context, db store.DB, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.logs, nil
}

type fakeIndices struct {
	names   []string
	live    map[string]bool
	deleted []string
}

func (f *fakeIndices) ListEventIndices(ctx context.Context) ([]string, error) { return f.names, nil }

func (f *fakeIndices) IndexHasNonTerminal(ctx context.Context, index string) (bool, error) {
	return f.live[index], nil
}

func (f *fakeIndices) DeleteIndex(ctx context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func newJobs(p EventPurger, i IndexStore, l Locker, cfg config.PurgeConfig, now time.Time) *Jobs {
	j := NewJobs(p, i, l, cfg)
	j.logger = zerolog.Nop()
	j.now = func() time.Time { return now }
	return j
}

func jobContext() *dispatch.Context {
	return dispatch.NewContext("t-1", dispatch.TaskPurgeDB, nil, nil, zerolog.Nop(), nil)
}

func TestPurgeDBUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2024, 5, 17, 2, 0, 0, 0, time.UTC)
	purger := &fakePurger{events: 12, logs: 4}
	locker := &fakeLocker{}
	j := newJobs(purger, nil, locker, config.PurgeConfig{EventRetentionDays: 30}, now)

	require.NoError(t, j.purgeDB(context.Background(), jobContext()))

	require.Len(t, purger.cutoffs, 2)
	want := time.Date(2024, 4, 17, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, want, purger.cutoffs[0])
	assert.Equal(t, want, purger.cutoffs[1])
	require.Len(t, locker.leases, 1)
	assert.True(t, locker.leases[0].released)
}

func TestPurgeDBSkipsWhenLockHeld(t *testing.T) {
	purger := &fakePurger{}
	j := newJobs(purger, nil, &fakeLocker{held: true}, config.PurgeConfig{EventRetentionDays: 30}, time.Now())

	require.NoError(t, j.purgeDB(context.Background(), jobContext()))
	assert.Empty(t, purger.cutoffs)
}

func TestPurgeIndicesDeletesOldIdleOnly(t *testing.T) {
	now := time.Date(2024, 5, 17, 2, 0, 0, 0, time.UTC)
	indices := &fakeIndices{
		names: []string{
			"events-20220101", // old, idle: deleted
			"events-20230101", // old but still live: kept
			"events-20240516", // recent: kept
			"not-an-event-index",
		},
		live: map[string]bool{"events-20230101": true},
	}
	j := newJobs(nil, indices, &fakeLocker{}, config.PurgeConfig{IndexRetentionDays: 365}, now)

	require.NoError(t, j.purgeIndices(context.Background(), jobContext()))

	assert.Equal(t, []string{"events-20220101"}, indices.deleted)
}

func TestNextRun(t *testing.T) {
	now := time.Date(2024, 5, 17, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 17, 2, 0, 0, 0, time.UTC), nextRun(now, 2))

	// Already past today's slot: tomorrow.
	now = time.Date(2024, 5, 17, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 18, 2, 0, 0, 0, time.UTC), nextRun(now, 2))

	now = time.Date(2024, 5, 17, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 18, 2, 0, 0, 0, time.UTC), nextRun(now, 2))
}
