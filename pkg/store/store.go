// Package store is the relational side of the correlator: event records,
// ingress logs, error accumulation, monitor tool registration and the
// correlation rule tables.
//
// Every method takes a DB so the same queries run against the pool or
// inside a transaction. Handlers always run inside one transaction per
// task; see the dispatch package.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Vaayujeet/encore/pkg/config"
)

// ErrLockBusy is returned when a row lock is already held by another
// worker. Callers back off instead of waiting; the task will come back.
var ErrLockBusy = errors.New("row locked by another worker")

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("row not found")

// DB is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store carries the relational queries. It is stateless; the DB handle
// is passed per call.
type Store struct{}

// New returns a Store.
func New() *Store {
	return &Store{}
}

// Connect opens the connection pool.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

// lockErr maps the lock_not_available error onto ErrLockBusy and leaves
// everything else untouched.
func lockErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "55P03" {
		return ErrLockBusy
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
