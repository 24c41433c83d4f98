package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/Vaayujeet/encore/pkg/api"
	"github.com/Vaayujeet/encore/pkg/correlator"
	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/elastic"
	"github.com/Vaayujeet/encore/pkg/itsm"
	"github.com/Vaayujeet/encore/pkg/log"
	"github.com/Vaayujeet/encore/pkg/purge"
	"github.com/Vaayujeet/encore/pkg/queue"
	"github.com/Vaayujeet/encore/pkg/rules"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the correlator: ingress API, task workers and purge jobs",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	logger := log.WithComponent("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb := queue.NewClient(cfg.Redis)
	defer rdb.Close()
	q := queue.New(rdb)

	es, err := elastic.New(cfg.Elastic)
	if err != nil {
		return err
	}

	if err := waitFor(ctx, "postgres", db.Ping); err != nil {
		return err
	}
	if err := waitFor(ctx, "redis", q.Ping); err != nil {
		return err
	}
	if err := waitFor(ctx, "elasticsearch", es.Ping); err != nil {
		return err
	}

	st := store.New()
	resolver := rules.New(func(ctx context.Context) ([]store.CorrelationRule, error) {
		return st.ListCorrelationRules(ctx, db)
	})
	processor := correlator.New(
		es,
		correlator.NewTicketer(itsm.New(cfg.ITSM)),
		resolver,
		cfg.Environment,
		cfg.ITSM.AssignGroupID,
	)

	dispatcher := dispatch.New(db, st, q, dispatch.NewAccumulator(st))
	processor.Register(dispatcher)
	purge.NewJobs(st, es, purge.RedisLocker{L: queue.NewLocker(rdb)}, cfg.Purge).Register(dispatcher)

	server := api.NewServer(
		api.TxRecorder{Pool: db, Store: st},
		q,
		es,
		map[string]api.Pinger{
			"postgres":      db.Ping,
			"redis":         q.Ping,
			"elasticsearch": es.Ping,
		},
	)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		worker.NewPool(q, dispatcher, cfg.Workers).Run(ctx)
	}()
	go func() {
		defer wg.Done()
		q.RunPromoter(ctx, time.Second)
	}()
	go func() {
		defer wg.Done()
		purge.NewScheduler(q, cfg.Purge.HourUTC).Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.HTTP.Addr)
	}()
	logger.Info().Str("addr", cfg.HTTP.Addr).Str("env", cfg.Environment).
		Int("workers", cfg.Workers).Msg("correlator started")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api server shutdown")
	}
	stop()
	wg.Wait()
	logger.Info().Msg("correlator stopped")
	return serveErr
}

// waitFor pings a dependency with exponential backoff until it answers
// or the deadline passes. Lets the correlator ride out a slow database
// or cluster start instead of crash-looping.
func waitFor(ctx context.Context, name string, ping func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute

	return backoff.Retry(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := ping(pingCtx); err != nil {
			logger := log.WithComponent("serve")
			logger.Warn().Err(err).Str("dependency", name).
				Msg("waiting for dependency")
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}
