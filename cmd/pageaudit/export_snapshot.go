package main

import (
	"context"
	"os"

	"github.com/docker/go-units"
	"github.com/ethpandaops/pageaudit/pkg/fsutil"
	"github.com/ethpandaops/pageaudit/pkg/snapshot"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	snapshotOutput string
	snapshotLimit  int
)

var exportSnapshotCmd = &cobra.Command{
	Use:   "export-snapshot",
	Short: "Export metric records as a flat JSON table",
	Long: `Read up to --limit metric records (at most 10000) in storage order and
write them as a JSON array for static dashboard consumption. Use --output -
to write to stdout.`,
	RunE: runExportSnapshot,
}

func init() {
	rootCmd.AddCommand(exportSnapshotCmd)
	exportSnapshotCmd.Flags().StringVar(&snapshotOutput, "output", "",
		"Output file (default: snapshot.path from config)")
	exportSnapshotCmd.Flags().IntVar(&snapshotLimit, "limit", 0,
		"Maximum number of records (default: snapshot.limit from config)")
}

func runExportSnapshot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	store, owner, err := storageFor(ctx, cfg)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop report store")
		}
	}()

	output := snapshotOutput
	if output == "" {
		output = cfg.Snapshot.Path
	}

	limit := snapshotLimit
	if limit <= 0 {
		limit = cfg.Snapshot.Limit
	}

	if output == "-" {
		table, err := snapshot.Export(ctx, store, limit)
		if err != nil {
			return err
		}

		return table.Encode(cmd.OutOrStdout())
	}

	return exportSnapshot(ctx, store, owner, output, limit)
}

// exportSnapshot writes the bounded record table to path.
func exportSnapshot(
	ctx context.Context,
	store snapshot.RecordQuerier,
	owner *fsutil.Owner,
	path string,
	limit int,
) error {
	table, err := snapshot.Export(ctx, store, limit)
	if err != nil {
		return err
	}

	if err := table.WriteFile(path, owner); err != nil {
		return err
	}

	fields := logrus.Fields{
		"path":    path,
		"records": len(table),
	}

	if info, err := os.Stat(path); err == nil {
		fields["size"] = units.HumanSize(float64(info.Size()))
	}

	log.WithFields(fields).Info("Snapshot exported")

	if len(table) == limit {
		log.WithField("limit", limit).Warn("Snapshot hit the row limit, later records were left out")
	}

	return nil
}
