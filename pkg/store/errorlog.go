package store

import (
	"context"

	"github.com/Vaayujeet/encore/pkg/types"
)

// UpsertErrorLog records a handler error against an event. A repeat of
// the same (event, status, message) bumps the counter and clears the
// resolved flag instead of inserting a new row. Returns the repeat count
// after the write.
func (s *Store) UpsertErrorLog(ctx context.Context, db DB, eventID int64, status types.EventStatus, message string) (int, error) {
	var repeat int
	err := db.QueryRow(ctx, `
		INSERT INTO error_logs (event_id, event_status, message)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, event_status, message)
		DO UPDATE SET repeat_count = error_logs.repeat_count + 1,
			resolved = false, updated = now()
		RETURNING repeat_count`,
		eventID, status, message).Scan(&repeat)
	return repeat, err
}

// ResolveErrorLogs marks all error rows of an event resolved. Called
// when the event finally leaves the status that kept failing.
func (s *Store) ResolveErrorLogs(ctx context.Context, db DB, eventID int64) error {
	_, err := db.Exec(ctx, `
		UPDATE error_logs SET resolved = true, updated = now()
		WHERE event_id = $1 AND NOT resolved`, eventID)
	return err
}
