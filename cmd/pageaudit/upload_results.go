package main

import (
	"fmt"
	"os"

	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/snapshot"
	"github.com/ethpandaops/pageaudit/pkg/telemetry"
	"github.com/ethpandaops/pageaudit/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	uploadMethod       string
	uploadRunID        string
	uploadWithSnapshot bool
)

var uploadResultsCmd = &cobra.Command{
	Use:   "upload-results",
	Short: "Upload a run's raw reports to remote storage",
	Long: `Upload the raw reports of one run to S3-compatible storage using the
config file settings. --with-snapshot also uploads the snapshot file.`,
	RunE: runUploadResults,
}

func init() {
	rootCmd.AddCommand(uploadResultsCmd)
	uploadResultsCmd.Flags().StringVar(&uploadMethod, "method", "s3",
		"Upload method (currently only \"s3\")")
	uploadResultsCmd.Flags().StringVar(&uploadRunID, "run-id", "",
		"Run id whose report directory is uploaded")
	uploadResultsCmd.Flags().BoolVar(&uploadWithSnapshot, "with-snapshot", false,
		"Also upload the snapshot file at snapshot.path")

	_ = uploadResultsCmd.MarkFlagRequired("run-id")
}

func runUploadResults(cmd *cobra.Command, _ []string) error {
	if uploadMethod != "s3" {
		return fmt.Errorf("unsupported method %q (only \"s3\" is supported)", uploadMethod)
	}

	runID, err := audit.ParseRunID(uploadRunID)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if !cfg.Upload.Enabled() {
		return fmt.Errorf("S3 upload is not configured or not enabled in config")
	}

	ctx := cmd.Context()

	store, _, err := storageFor(ctx, cfg)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop report store")
		}
	}()

	uploader, err := upload.NewS3Uploader(log, cfg.Upload.S3, telemetry.New())
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	if err := uploader.Preflight(ctx); err != nil {
		return fmt.Errorf("checking S3 access: %w", err)
	}

	dir := store.RunDir(runID)

	log.WithField("dir", dir).Info("Uploading results")

	n, err := uploader.UploadRun(ctx, dir)
	if err != nil {
		return fmt.Errorf("uploading results: %w", err)
	}

	if uploadWithSnapshot {
		data, err := os.ReadFile(cfg.Snapshot.Path)
		if err != nil {
			return fmt.Errorf("reading snapshot: %w", err)
		}

		if _, err := snapshot.Decode(data); err != nil {
			return fmt.Errorf("refusing to upload %s: %w", cfg.Snapshot.Path, err)
		}

		if err := uploader.UploadSnapshot(ctx, cfg.Snapshot.Path, data); err != nil {
			return fmt.Errorf("uploading snapshot: %w", err)
		}
	}

	log.WithField("objects", n).Info("Upload completed successfully")

	return nil
}
