package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Vaayujeet/encore/pkg/elastic"
	"github.com/Vaayujeet/encore/pkg/log"
	"github.com/Vaayujeet/encore/pkg/metrics"
	"github.com/Vaayujeet/encore/pkg/queue"
	"github.com/Vaayujeet/encore/pkg/store"
)

// LogRecorder persists one ingress log row. The row must be durable
// before the caller enqueues work referencing it.
type LogRecorder interface {
	RecordLog(ctx context.Context, l *store.IngressLog) error
}

// Enqueuer queues a processing task. Satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task, delay time.Duration) error
}

// EventReader reads stored event documents. Satisfied by
// *elastic.Client.
type EventReader interface {
	GetEvent(ctx context.Context, index, id string) (*elastic.Document, error)
}

// Pinger checks one dependency for the readiness endpoint.
type Pinger func(ctx context.Context) error

// Server is the ingress HTTP server.
type Server struct {
	logs   LogRecorder
	queue  Enqueuer
	docs   EventReader
	checks map[string]Pinger
	logger zerolog.Logger

	router chi.Router
	http   *http.Server
}

// NewServer assembles the server and its routes. checks maps dependency
// names to their ping for /healthz; nil is allowed.
func NewServer(logs LogRecorder, q Enqueuer, docs EventReader, checks map[string]Pinger) *Server {
	s := &Server{
		logs:   logs,
		queue:  q,
		docs:   docs,
		checks: checks,
		logger: log.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)

	// The event and resolve endpoints accept any method and record the
	// invalid ones as failed log rows, so misconfigured tools stay
	// visible to operators.
	r.HandleFunc("/event/", s.handleEvent)
	r.Get("/event/{index}/{id}", s.handleEventInfo)
	r.HandleFunc("/resolve/", s.handleResolve)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metrics.Handler())

	s.router = r
	return s
}

// Router exposes the handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("api server listening")

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// requestMetrics records per-request counters and latency.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// handleHealthz pings every registered dependency. Any failure turns
// the response into a 503 listing the broken checks.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	body := "ok\n"
	for name, ping := range s.checks {
		if err := ping(ctx); err != nil {
			if status == http.StatusOK {
				status = http.StatusServiceUnavailable
				body = ""
			}
			body += fmt.Sprintf("%s: %v\n", name, err)
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// TxRecorder is the production LogRecorder: one transaction per log
// row, matching the task side which reads the row in its own
// transaction.
type TxRecorder struct {
	Pool  *pgxpool.Pool
	Store *store.Store
}

func (t TxRecorder) RecordLog(ctx context.Context, l *store.IngressLog) error {
	tx, err := t.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := t.Store.CreateIngressLog(ctx, tx, l); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
