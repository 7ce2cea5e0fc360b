package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/pageaudit/pkg/api"
	"github.com/ethpandaops/pageaudit/pkg/snapshot"
	"github.com/ethpandaops/pageaudit/pkg/telemetry"
	"github.com/spf13/cobra"
)

var serveSnapshot string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	Long: `Serve run summaries, per-run breakdowns, trends, the snapshot table and
raw reports over HTTP. With --snapshot the data comes from a snapshot file
instead of the database and raw reports are not served.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveSnapshot, "snapshot", "",
		"Serve from this snapshot file instead of the database")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("validating api config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src := api.Sources{
		Metrics:       telemetry.New(),
		SnapshotLimit: cfg.Snapshot.Limit,
	}

	if serveSnapshot != "" {
		table, err := snapshot.ReadFile(serveSnapshot)
		if err != nil {
			return err
		}

		log.WithField("path", serveSnapshot).
			WithField("records", len(table)).
			Info("Serving from snapshot file")

		src.Records = table
	} else {
		store, _, err := storageFor(ctx, cfg)
		if err != nil {
			return err
		}

		defer func() {
			if err := store.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop report store")
			}
		}()

		src.Records = store
		src.Reports = store
	}

	srv := api.NewServer(log, &cfg.API, src)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	<-ctx.Done()
	log.Info("Shutting down API server")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
