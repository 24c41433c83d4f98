package store

import (
	"context"
	"time"
)

// PurgeTerminalEvents deletes event rows that reached a terminal status
// before the cutoff, along with their error logs. Returns the number of
// events removed.
func (s *Store) PurgeTerminalEvents(ctx context.Context, db DB, cutoff time.Time) (int64, error) {
	if _, err := db.Exec(ctx, `
		DELETE FROM error_logs
		WHERE event_id IN (
			SELECT id FROM event_records
			WHERE status IN ('resolved', 'deduped', 'error') AND updated < $1
		)`, cutoff); err != nil {
		return 0, err
	}

	tag, err := db.Exec(ctx, `
		DELETE FROM event_records
		WHERE status IN ('resolved', 'deduped', 'error') AND updated < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeOrphanLogs deletes old ingress log rows that no event references
// anymore. Returns the number of logs removed.
func (s *Store) PurgeOrphanLogs(ctx context.Context, db DB, cutoff time.Time) (int64, error) {
	tag, err := db.Exec(ctx, `
		DELETE FROM ingress_logs l
		WHERE l.created < $1
		AND NOT EXISTS (
			SELECT 1 FROM event_records e WHERE e.ingress_log_id = l.id
		)`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
