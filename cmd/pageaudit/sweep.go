package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/auditor"
	"github.com/ethpandaops/pageaudit/pkg/config"
	"github.com/ethpandaops/pageaudit/pkg/fsutil"
	"github.com/ethpandaops/pageaudit/pkg/hostinfo"
	"github.com/ethpandaops/pageaudit/pkg/reportstore"
	"github.com/ethpandaops/pageaudit/pkg/runner"
	"github.com/ethpandaops/pageaudit/pkg/telemetry"
	"github.com/ethpandaops/pageaudit/pkg/upload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	limitPages      []string
	overrideModes   []string
	failurePolicy   string
	skipSnapshot    bool
	metricsTextfile string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Audit every configured page in every mode",
	Long: `Run one sweep: audit all configured pages in all configured modes under
a single run id, store the raw reports and metric records, then refresh the
snapshot file.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().StringSliceVar(&limitPages, "limit-page", nil,
		"Limit to pages with these names (comma-separated or repeated flag)")
	sweepCmd.Flags().StringSliceVar(&overrideModes, "mode", nil,
		"Override the configured modes (mobile, desktop)")
	sweepCmd.Flags().StringVar(&failurePolicy, "failure-policy", "",
		"Override sweep.failure_policy (fail_fast or isolate)")
	sweepCmd.Flags().BoolVar(&skipSnapshot, "skip-snapshot", false,
		"Do not export the snapshot file after the sweep")
	sweepCmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "",
		"Write sweep metrics in Prometheus text format to this file")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if len(overrideModes) > 0 {
		cfg.Sweep.Modes = overrideModes
	}

	if failurePolicy != "" {
		cfg.Sweep.FailurePolicy = failurePolicy
	}

	if err := cfg.ValidateSweep(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	pages, err := filterPages(cfg.Sweep.Pages, limitPages)
	if err != nil {
		return err
	}

	modes, err := cfg.Modes()
	if err != nil {
		return err
	}

	variant, err := cfg.Variant()
	if err != nil {
		return err
	}

	owner, err := fsutil.ParseOwner(cfg.Global.ResultsOwner)
	if err != nil {
		return fmt.Errorf("parsing results_owner: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.New()

	store := reportstore.NewStore(log, &cfg.Storage, owner)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting report store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop report store")
		}
	}()

	aud := auditor.NewLighthouse(log, &auditor.Config{
		LighthouseBin: cfg.Auditor.LighthouseBin,
		ChromeBin:     cfg.Auditor.ChromeBin,
		ChromeFlags:   cfg.Auditor.ChromeFlags,
		ExtraArgs:     cfg.Auditor.ExtraArgs,
	}, nil)

	opts := []runner.Option{
		runner.WithMetrics(metrics),
		runner.WithHostProbe(hostinfo.NewProbe(log, 0)),
	}

	if cfg.Sweep.UploadAfterSweep && cfg.Upload.Enabled() {
		uploader, err := upload.NewS3Uploader(log, cfg.Upload.S3, metrics)
		if err != nil {
			return fmt.Errorf("creating S3 uploader: %w", err)
		}

		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("checking S3 access: %w", err)
		}

		opts = append(opts, runner.WithUploader(uploader))
	}

	r := runner.NewRunner(log, &runner.Config{
		Variant:            variant,
		Throttling:         cfg.Sweep.Throttling,
		FailurePolicy:      cfg.Sweep.FailurePolicy,
		AuditTimeout:       cfg.Sweep.AuditTimeout,
		HostCPUWarnPercent: cfg.Sweep.HostCPUWarnPercent,
	}, aud, store, opts...)

	result, sweepErr := r.RunSweep(ctx, pages, modes)
	if result != nil {
		logFailures(result)

		// Cells recorded before a failure are part of the dataset too.
		if !skipSnapshot && result.Recorded() > 0 {
			if err := exportSnapshot(context.WithoutCancel(ctx), store, owner,
				cfg.Snapshot.Path, cfg.Snapshot.Limit); err != nil {
				log.WithError(err).Error("Failed to export snapshot")

				if sweepErr == nil {
					sweepErr = err
				}
			}
		}
	}

	if metricsTextfile != "" {
		if err := prometheus.WriteToTextfile(metricsTextfile, metrics.Registry()); err != nil {
			log.WithError(err).Warn("Failed to write metrics textfile")
		}
	}

	if sweepErr != nil {
		return fmt.Errorf("running sweep: %w", sweepErr)
	}

	return nil
}

// filterPages keeps the named pages in configured order.
func filterPages(pages []audit.Page, names []string) ([]audit.Page, error) {
	if len(names) == 0 {
		return pages, nil
	}

	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}

	out := make([]audit.Page, 0, len(names))

	for _, p := range pages {
		if _, ok := want[p.Name]; ok {
			out = append(out, p)
			delete(want, p.Name)
		}
	}

	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for _, n := range names {
			if _, ok := want[n]; ok {
				missing = append(missing, n)
			}
		}

		return nil, fmt.Errorf("unknown pages: %v", missing)
	}

	return out, nil
}

func logFailures(result *runner.SweepResult) {
	for _, cell := range result.Failures() {
		log.WithFields(logrus.Fields{
			"run_id": result.RunID,
			"page":   cell.Page,
			"mode":   cell.Mode,
			"report": cell.Path,
		}).WithError(cell.Err).Warn("Cell failed")
	}

	if result.UploadErr != nil {
		log.WithError(result.UploadErr).Warn("Run artifacts were not uploaded")
	}
}

// storageFor opens the report store for read-side commands.
func storageFor(ctx context.Context, cfg *config.Config) (reportstore.Store, *fsutil.Owner, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, nil, fmt.Errorf("validating config: %w", err)
	}

	owner, err := fsutil.ParseOwner(cfg.Global.ResultsOwner)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing results_owner: %w", err)
	}

	store := reportstore.NewStore(log, &cfg.Storage, owner)
	if err := store.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("starting report store: %w", err)
	}

	return store, owner, nil
}
