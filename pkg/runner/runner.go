// Package runner drives a sweep: every configured page audited in every
// device mode, one at a time, under a single run id.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/auditor"
	"github.com/ethpandaops/pageaudit/pkg/config"
	"github.com/ethpandaops/pageaudit/pkg/errkind"
	"github.com/ethpandaops/pageaudit/pkg/hostinfo"
	"github.com/ethpandaops/pageaudit/pkg/reportstore"
	"github.com/ethpandaops/pageaudit/pkg/telemetry"
	"github.com/ethpandaops/pageaudit/pkg/upload"
	"github.com/sirupsen/logrus"
)

// Runner orchestrates sweeps.
type Runner interface {
	// RunSweep audits pages x modes, modes outer and pages inner, and
	// returns the run id with per-cell results.
	RunSweep(ctx context.Context, pages []audit.Page, modes []audit.Mode) (*SweepResult, error)
}

// Config for the runner.
type Config struct {
	Variant            audit.SchemaVariant
	Throttling         audit.Throttling
	FailurePolicy      string
	AuditTimeout       time.Duration
	HostCPUWarnPercent float64
}

// Option configures optional runner collaborators.
type Option func(*runner)

// WithClock overrides the wall clock used for run ids.
func WithClock(now func() time.Time) Option {
	return func(r *runner) { r.now = now }
}

// WithMetrics records sweep telemetry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *runner) { r.metrics = m }
}

// WithHostProbe samples host load before each sweep.
func WithHostProbe(p hostinfo.Probe) Option {
	return func(r *runner) { r.probe = p }
}

// WithUploader uploads the run directory after a sweep.
func WithUploader(u upload.Uploader) Option {
	return func(r *runner) { r.uploader = u }
}

// NewRunner creates a new runner instance.
func NewRunner(
	log logrus.FieldLogger,
	cfg *Config,
	aud auditor.Auditor,
	store reportstore.Store,
	opts ...Option,
) Runner {
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = config.DefaultAuditTimeout
	}

	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = config.FailurePolicyFailFast
	}

	r := &runner{
		log:     log.WithField("component", "runner"),
		cfg:     cfg,
		auditor: aud,
		store:   store,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

type runner struct {
	log      logrus.FieldLogger
	cfg      *Config
	auditor  auditor.Auditor
	store    reportstore.Store
	now      func() time.Time
	metrics  *telemetry.Metrics
	probe    hostinfo.Probe
	uploader upload.Uploader
}

// Ensure interface compliance.
var _ Runner = (*runner)(nil)

// RunSweep runs the full matrix. Under fail_fast the first failing cell
// aborts the sweep; cells persisted before it are kept and listed in the
// result. Under isolate failures are collected and the sweep only fails
// when no cell succeeded.
func (r *runner) RunSweep(
	ctx context.Context, pages []audit.Page, modes []audit.Mode,
) (*SweepResult, error) {
	if err := r.validate(pages, modes); err != nil {
		return nil, err
	}

	started := r.now()
	result := &SweepResult{
		RunID:   audit.NewRunID(started),
		Started: started,
	}

	log := r.log.WithFields(logrus.Fields{
		"run_id": result.RunID,
		"pages":  len(pages),
		"modes":  len(modes),
		"policy": r.cfg.FailurePolicy,
	})

	r.logHostLoad(ctx, log)

	log.Info("Starting sweep")

	if err := r.auditor.Start(ctx); err != nil {
		return nil, errkind.New(errkind.Audit, "start auditor", err)
	}

	defer func() {
		if err := r.auditor.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop auditor")
		}
	}()

	sweepErr := r.runMatrix(ctx, log, result, pages, modes)
	result.Finished = r.now()

	r.metrics.ObserveSweep(result.RunID, result.Recorded(), sweepErr != nil)

	fields := logrus.Fields{
		"recorded": result.Recorded(),
		"failed":   len(result.Failures()),
		"duration": units.HumanDuration(result.Finished.Sub(result.Started)),
	}

	if sweepErr != nil {
		log.WithFields(fields).WithError(sweepErr).Error("Sweep failed")

		return result, sweepErr
	}

	log.WithFields(fields).Info("Sweep completed")

	r.uploadRun(ctx, log, result)

	return result, nil
}

func (r *runner) validate(pages []audit.Page, modes []audit.Mode) error {
	if len(pages) == 0 {
		return fmt.Errorf("no pages to audit")
	}

	if len(modes) == 0 {
		return fmt.Errorf("no modes to audit")
	}

	if r.cfg.Variant == audit.LegacySingleMode && len(modes) != 1 {
		return fmt.Errorf("legacy schema variant requires exactly one mode, got %d", len(modes))
	}

	// Each page and mode maps to exactly one artifact file.
	names := make(map[string]struct{}, len(pages))

	for _, p := range pages {
		if err := p.Validate(); err != nil {
			return err
		}

		if _, ok := names[p.Name]; ok {
			return fmt.Errorf("duplicate page name %q", p.Name)
		}

		names[p.Name] = struct{}{}
	}

	seen := make(map[audit.Mode]struct{}, len(modes))

	for _, m := range modes {
		if _, ok := seen[m]; ok {
			return fmt.Errorf("duplicate mode %q", m)
		}

		seen[m] = struct{}{}
	}

	return nil
}

func (r *runner) runMatrix(
	ctx context.Context,
	log logrus.FieldLogger,
	result *SweepResult,
	pages []audit.Page,
	modes []audit.Mode,
) error {
	for _, mode := range modes {
		for _, page := range pages {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("sweep cancelled: %w", err)
			}

			cell := r.runCell(ctx, log, result.RunID, page, mode)
			result.Cells = append(result.Cells, cell)

			if cell.Err == nil {
				continue
			}

			if r.cfg.FailurePolicy != config.FailurePolicyIsolate {
				return fmt.Errorf("auditing %s (%s): %w", page.Name, mode, cell.Err)
			}

			// A cancelled sweep stops even when cells are isolated.
			if ctx.Err() != nil {
				return fmt.Errorf("sweep cancelled: %w", ctx.Err())
			}
		}
	}

	failures := result.Failures()
	if len(failures) > 0 && len(failures) == len(result.Cells) {
		errs := make([]error, 0, len(failures))
		for _, f := range failures {
			errs = append(errs, fmt.Errorf("%s (%s): %w", f.Page, f.Mode, f.Err))
		}

		return fmt.Errorf("all %d audits failed: %w", len(failures), errors.Join(errs...))
	}

	return nil
}

func (r *runner) logHostLoad(ctx context.Context, log logrus.FieldLogger) {
	if r.probe == nil {
		return
	}

	snap, err := r.probe.Sample(ctx)
	if err != nil {
		log.WithError(err).Debug("Host probe failed")

		return
	}

	if snap.Busy(r.cfg.HostCPUWarnPercent) {
		log.WithFields(snap.Fields()).Warn("Host is busy, audit scores may be skewed")

		return
	}

	log.WithFields(snap.Fields()).Debug("Host load")
}

func (r *runner) uploadRun(ctx context.Context, log logrus.FieldLogger, result *SweepResult) {
	if r.uploader == nil || result.Recorded() == 0 {
		return
	}

	n, err := r.uploader.UploadRun(ctx, r.store.RunDir(result.RunID))
	if err != nil {
		result.UploadErr = err
		log.WithError(err).Warn("Failed to upload run artifacts")

		return
	}

	result.Uploaded = n
}
