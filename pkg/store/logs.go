package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Vaayujeet/encore/pkg/types"
)

// IngressLog is one inbound request, recorded before any processing so
// nothing that reached the correlator is ever silently lost.
type IngressLog struct {
	ID      int64
	Created time.Time

	RemoteIP string
	Method   types.LogMethod
	Task     types.LogTask
	Status   types.LogStatus
	Payload  map[string]string
	Message  string
}

// CreateIngressLog inserts a log row and fills in its id and created
// time. The created time is the event's received timestamp.
func (s *Store) CreateIngressLog(ctx context.Context, db DB, l *IngressLog) error {
	row := db.QueryRow(ctx, `
		INSERT INTO ingress_logs (remote_ip, method, task, status, payload, message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created`,
		l.RemoteIP, l.Method, l.Task, l.Status, l.Payload, l.Message)
	return row.Scan(&l.ID, &l.Created)
}

func scanIngressLog(row pgx.Row) (*IngressLog, error) {
	var l IngressLog
	err := row.Scan(&l.ID, &l.Created, &l.RemoteIP, &l.Method, &l.Task, &l.Status,
		&l.Payload, &l.Message)
	if err != nil {
		return nil, lockErr(err)
	}
	return &l, nil
}

const ingressLogColumns = `id, created, remote_ip, method, task, status, payload, message`

// GetIngressLog reads one log row.
func (s *Store) GetIngressLog(ctx context.Context, db DB, id int64) (*IngressLog, error) {
	return scanIngressLog(db.QueryRow(ctx,
		`SELECT `+ingressLogColumns+` FROM ingress_logs WHERE id = $1`, id))
}

// GetIngressLogForUpdate locks one log row for the current transaction.
func (s *Store) GetIngressLogForUpdate(ctx context.Context, db DB, id int64) (*IngressLog, error) {
	return scanIngressLog(db.QueryRow(ctx,
		`SELECT `+ingressLogColumns+` FROM ingress_logs WHERE id = $1 FOR UPDATE NOWAIT`, id))
}

// SetIngressLogStatus records the processing outcome of a log row.
func (s *Store) SetIngressLogStatus(ctx context.Context, db DB, id int64, status types.LogStatus, message string) error {
	_, err := db.Exec(ctx, `
		UPDATE ingress_logs SET status = $2, message = $3 WHERE id = $1`,
		id, status, message)
	return err
}
