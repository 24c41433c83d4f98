// Package purge holds the housekeeping jobs: dropping terminal event
// rows and orphaned ingress logs past their retention window, and
// deleting daily event indices that are old enough and hold no live
// events. The jobs run through the dispatcher like any other task and
// take a distributed lock so multiple replicas never purge twice.
package purge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Vaayujeet/encore/pkg/config"
	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/log"
	"github.com/Vaayujeet/encore/pkg/metrics"
	"github.com/Vaayujeet/encore/pkg/queue"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// jobLease bounds how long a replica may be presumed purging.
const jobLease = 3 * time.Minute

// EventPurger is the relational purge surface. Satisfied by
// *store.Store.
type EventPurger interface {
	PurgeTerminalEvents(ctx context.Context, db store.DB, cutoff time.Time) (int64, error)
	PurgeOrphanLogs(ctx context.Context, db store.DB, cutoff time.Time) (int64, error)
}

// IndexStore is the index purge surface. Satisfied by *elastic.Client.
type IndexStore interface {
	ListEventIndices(ctx context.Context) ([]string, error)
	IndexHasNonTerminal(ctx context.Context, index string) (bool, error)
	DeleteIndex(ctx context.Context, name string) error
}

// Lease is one held job lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out named job locks.
type Locker interface {
	Acquire(ctx context.Context, name string, lease time.Duration) (Lease, bool, error)
}

// RedisLocker adapts *queue.Locker to the Locker interface.
type RedisLocker struct {
	L *queue.Locker
}

func (r RedisLocker) Acquire(ctx context.Context, name string, lease time.Duration) (Lease, bool, error) {
	return r.L.Acquire(ctx, name, lease)
}

// Jobs bundles the purge handlers.
type Jobs struct {
	events  EventPurger
	indices IndexStore
	locker  Locker
	cfg     config.PurgeConfig
	logger  zerolog.Logger
	now     func() time.Time
}

// NewJobs builds the purge jobs.
func NewJobs(events EventPurger, indices IndexStore, locker Locker, cfg config.PurgeConfig) *Jobs {
	return &Jobs{
		events:  events,
		indices: indices,
		locker:  locker,
		cfg:     cfg,
		logger:  log.WithComponent("purge"),
		now:     time.Now,
	}
}

// Register wires the purge tasks into the dispatcher.
func (j *Jobs) Register(d *dispatch.Dispatcher) {
	d.Register(dispatch.Spec{Name: dispatch.TaskPurgeDB, HandleJob: j.purgeDB})
	d.Register(dispatch.Spec{Name: dispatch.TaskPurgeIndices, HandleJob: j.purgeIndices})
}

func (j *Jobs) purgeDB(ctx context.Context, dc *dispatch.Context) error {
	lock, ok, err := j.locker.Acquire(ctx, "purge-db", jobLease)
	if err != nil {
		return err
	}
	if !ok {
		j.logger.Info().Msg("db purge already running elsewhere")
		return nil
	}
	defer func() { _ = lock.Release(ctx) }()

	cutoff := j.now().AddDate(0, 0, -j.cfg.EventRetentionDays)
	events, err := j.events.PurgeTerminalEvents(ctx, dc.DB, cutoff)
	if err != nil {
		return err
	}
	logs, err := j.events.PurgeOrphanLogs(ctx, dc.DB, cutoff)
	if err != nil {
		return err
	}

	metrics.PurgedEvents.Add(float64(events))
	j.logger.Info().Time("cutoff", cutoff).Int64("events", events).Int64("logs", logs).
		Msg("db purge completed")
	return nil
}

func (j *Jobs) purgeIndices(ctx context.Context, dc *dispatch.Context) error {
	lock, ok, err := j.locker.Acquire(ctx, "purge-indices", jobLease)
	if err != nil {
		return err
	}
	if !ok {
		j.logger.Info().Msg("index purge already running elsewhere")
		return nil
	}
	defer func() { _ = lock.Release(ctx) }()

	indices, err := j.indices.ListEventIndices(ctx)
	if err != nil {
		return err
	}
	cutoff := j.now().AddDate(0, 0, -j.cfg.IndexRetentionDays)

	deleted := 0
	for _, index := range indices {
		date, err := types.IndexDate(index)
		if err != nil {
			j.logger.Warn().Str("index", index).Msg("skipping index with unparsable date")
			continue
		}
		if !date.Before(cutoff) {
			continue
		}
		// An old index can still hold an event stuck in a live status;
		// it stays until that event reaches a terminal state.
		busy, err := j.indices.IndexHasNonTerminal(ctx, index)
		if err != nil {
			return err
		}
		if busy {
			j.logger.Info().Str("index", index).Msg("index past retention but still holds live events")
			continue
		}
		if err := j.indices.DeleteIndex(ctx, index); err != nil {
			return err
		}
		metrics.PurgedIndices.Inc()
		deleted++
		j.logger.Info().Str("index", index).Msg("index deleted")
	}

	j.logger.Info().Time("cutoff", cutoff).Int("deleted", deleted).Msg("index purge completed")
	return nil
}
