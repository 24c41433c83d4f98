package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Vaayujeet/encore/pkg/types"
)

// EventRecord is the relational row for one stored event document. The
// document in the event store is the source of truth for correlation
// fields; the row mirrors enough of it to drive scheduling, locking and
// purging without a document read.
type EventRecord struct {
	ID      int64
	Created time.Time
	Updated time.Time

	DocID    string
	DocIndex string

	Status     types.EventStatus
	EventType  types.EventType
	EventLevel int64
	EventTitle string
	EventTS    time.Time
	ToolName   string

	AssetUniqueID       string
	AssetType           string
	AssetRegion         string
	ParentAssetUniqueID string
	ParentAssetType     string

	RetryCount   int
	Extras       types.Extras
	IngressLogID int64
}

const eventColumns = `id, created, updated, doc_id, doc_index, status, event_type,
	event_level, event_title, event_ts, tool_name, asset_unique_id, asset_type,
	asset_region, parent_asset_unique_id, parent_asset_type, retry_count, extras,
	ingress_log_id`

func scanEvent(row pgx.Row) (*EventRecord, error) {
	var e EventRecord
	err := row.Scan(&e.ID, &e.Created, &e.Updated, &e.DocID, &e.DocIndex, &e.Status,
		&e.EventType, &e.EventLevel, &e.EventTitle, &e.EventTS, &e.ToolName,
		&e.AssetUniqueID, &e.AssetType, &e.AssetRegion, &e.ParentAssetUniqueID,
		&e.ParentAssetType, &e.RetryCount, &e.Extras, &e.IngressLogID)
	if err != nil {
		return nil, lockErr(err)
	}
	return &e, nil
}

// CreateEvent inserts a new event row and fills in its id and timestamps.
func (s *Store) CreateEvent(ctx context.Context, db DB, e *EventRecord) error {
	row := db.QueryRow(ctx, `
		INSERT INTO event_records (doc_id, doc_index, status, event_type, event_level,
			event_title, event_ts, tool_name, asset_unique_id, asset_type, asset_region,
			parent_asset_unique_id, parent_asset_type, retry_count, extras, ingress_log_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created, updated`,
		e.DocID, e.DocIndex, e.Status, e.EventType, e.EventLevel, e.EventTitle,
		e.EventTS, e.ToolName, e.AssetUniqueID, e.AssetType, e.AssetRegion,
		e.ParentAssetUniqueID, e.ParentAssetType, e.RetryCount, e.Extras, e.IngressLogID)
	return row.Scan(&e.ID, &e.Created, &e.Updated)
}

// GetEvent reads one event row.
func (s *Store) GetEvent(ctx context.Context, db DB, id int64) (*EventRecord, error) {
	return scanEvent(db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM event_records WHERE id = $1`, id))
}

// GetEventForUpdate locks one event row for the current transaction.
// NOWAIT turns lock contention into ErrLockBusy instead of blocking the
// worker behind a long-running handler.
func (s *Store) GetEventForUpdate(ctx context.Context, db DB, id int64) (*EventRecord, error) {
	return scanEvent(db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM event_records WHERE id = $1 FOR UPDATE NOWAIT`, id))
}

// SaveEvent writes back the mutable fields of a locked row.
func (s *Store) SaveEvent(ctx context.Context, db DB, e *EventRecord) error {
	_, err := db.Exec(ctx, `
		UPDATE event_records
		SET status = $2, retry_count = $3, extras = $4, updated = now()
		WHERE id = $1`,
		e.ID, e.Status, e.RetryCount, e.Extras)
	return err
}

// EventsByTicket finds alerted down events carrying a ticket id. Manual
// resolution requires exactly one; the caller decides what a different
// count means.
func (s *Store) EventsByTicket(ctx context.Context, db DB, ticketID int64) ([]*EventRecord, error) {
	rows, err := db.Query(ctx, `
		SELECT `+eventColumns+` FROM event_records
		WHERE status = $1 AND event_type = $2 AND (extras->>'ticket_id')::bigint = $3`,
		types.StatusAlerted, types.EventTypeDown, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
