package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/Vaayujeet/encore/pkg/api"
	"github.com/Vaayujeet/encore/pkg/assets"
	"github.com/Vaayujeet/encore/pkg/elastic"
	"github.com/Vaayujeet/encore/pkg/log"
	"github.com/Vaayujeet/encore/pkg/pipeline"
	"github.com/Vaayujeet/encore/pkg/queue"
	"github.com/Vaayujeet/encore/pkg/snmp"
	"github.com/Vaayujeet/encore/pkg/store"
)

var snmpListenerCmd = &cobra.Command{
	Use:   "snmp-listener",
	Short: "Run the SNMP trap listener",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

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

		if err := waitFor(ctx, "postgres", db.Ping); err != nil {
			return err
		}
		if err := waitFor(ctx, "redis", q.Ping); err != nil {
			return err
		}

		listener, err := snmp.NewListener(cfg.SNMP, api.TxRecorder{Pool: db, Store: store.New()}, q)
		if err != nil {
			return err
		}
		return listener.Run(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		if err := store.Migrate(cfg.DB.DSN); err != nil {
			return err
		}
		logger := log.WithComponent("migrate")
		logger.Info().Msg("migrations applied")
		return nil
	},
}

var updatePipelinesCmd = &cobra.Command{
	Use:   "update-pipelines",
	Short: "Compile tool pipeline rules and push the ingest pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		db, err := pgxpool.New(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		es, err := elastic.New(cfg.Elastic)
		if err != nil {
			return err
		}
		return pipeline.Apply(ctx, es, store.New(), db)
	},
}

var updateIndexTemplateCmd = &cobra.Command{
	Use:   "update-index-template",
	Short: "Push the daily event index template",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		es, err := elastic.New(cfg.Elastic)
		if err != nil {
			return err
		}
		return pipeline.ApplyIndexTemplate(cmd.Context(), es, cfg.Elastic)
	},
}

var loadAssetMappingCmd = &cobra.Command{
	Use:   "load-asset-mapping FILE",
	Short: "Load the asset mapping JSON file into the asset index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		enrich, _ := cmd.Flags().GetBool("enrich")

		es, err := elastic.New(cfg.Elastic)
		if err != nil {
			return err
		}
		return assets.LoadFile(cmd.Context(), es, es, args[0], enrich)
	},
}

func init() {
	loadAssetMappingCmd.Flags().BoolP("enrich", "e", false, "Execute the enrich policy after loading")
}
