package runner

import (
	"context"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/errkind"
	"github.com/ethpandaops/pageaudit/pkg/extract"
	"github.com/ethpandaops/pageaudit/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

// CellResult is the outcome of one page x mode audit.
type CellResult struct {
	Page     string
	Mode     audit.Mode
	JSONFile string
	// Path is set once the raw report was written.
	Path     string
	Recorded bool
	Duration time.Duration
	Err      error
}

// SweepResult summarizes a sweep.
type SweepResult struct {
	RunID    audit.RunID
	Started  time.Time
	Finished time.Time
	Cells    []CellResult

	Uploaded  int
	UploadErr error
}

// Recorded returns the number of cells with a persisted metric record.
func (s *SweepResult) Recorded() int {
	n := 0

	for _, c := range s.Cells {
		if c.Recorded {
			n++
		}
	}

	return n
}

// Failures returns the failed cells in sweep order.
func (s *SweepResult) Failures() []CellResult {
	var out []CellResult

	for _, c := range s.Cells {
		if c.Err != nil {
			out = append(out, c)
		}
	}

	return out
}

// runCell audits one page in one mode and persists the raw report
// followed by its metric record.
func (r *runner) runCell(
	ctx context.Context,
	log logrus.FieldLogger,
	runID audit.RunID,
	page audit.Page,
	mode audit.Mode,
) CellResult {
	cell := CellResult{
		Page:     page.Name,
		Mode:     mode,
		JSONFile: audit.ArtifactFilename(runID, page.Name, mode, r.cfg.Variant),
	}

	log = log.WithFields(logrus.Fields{
		"page": page.Name,
		"mode": mode,
	})

	started := time.Now()

	raw, err := r.audit(ctx, page, mode)
	cell.Duration = time.Since(started)

	if err != nil {
		outcome := telemetry.OutcomeFailure
		if errkind.KindOf(err) == errkind.Timeout {
			outcome = telemetry.OutcomeTimeout
		}

		r.metrics.ObserveAudit(mode, outcome, cell.Duration)
		log.WithError(err).Error("Audit failed")

		cell.Err = err

		return cell
	}

	r.metrics.ObserveAudit(mode, telemetry.OutcomeSuccess, cell.Duration)

	path, err := r.store.WriteRawReport(ctx, runID, cell.JSONFile, raw)
	if err != nil {
		cell.Err = err

		return cell
	}

	cell.Path = path

	metrics, err := extract.Metrics(raw, r.cfg.Variant)
	if err != nil {
		log.WithError(err).Error("Report extraction failed")

		cell.Err = err

		return cell
	}

	r.logReportMeta(log, raw)

	rec := &audit.Record{
		RunID:    runID,
		Name:     page.Name,
		Mode:     mode,
		Variant:  r.cfg.Variant,
		Metrics:  metrics,
		JSONFile: cell.JSONFile,
	}

	if r.cfg.Variant == audit.LegacySingleMode {
		rec.Mode = ""
	}

	if err := r.store.InsertMetricRecord(ctx, rec); err != nil {
		log.WithError(err).Error("Failed to record metrics")

		cell.Err = err

		return cell
	}

	cell.Recorded = true

	r.metrics.ObserveRecord(rec)

	log.WithFields(logrus.Fields{
		"file":     cell.JSONFile,
		"size":     units.HumanSize(float64(len(raw))),
		"duration": cell.Duration.Round(time.Millisecond),
	}).Info("Audit recorded")

	return cell
}

// audit runs the auditor under the per-audit deadline.
func (r *runner) audit(ctx context.Context, page audit.Page, mode audit.Mode) ([]byte, error) {
	actx, cancel := context.WithTimeout(ctx, r.cfg.AuditTimeout)
	defer cancel()

	raw, err := r.auditor.Audit(actx, audit.NewProfile(page, mode, r.cfg.Throttling))
	if err != nil {
		if errkind.KindOf(err) != 0 {
			return nil, err
		}

		return nil, errkind.FromContext(actx, errkind.Audit, "audit "+page.URL, err)
	}

	return raw, nil
}

// logReportMeta surfaces page load problems Lighthouse reported inline.
func (r *runner) logReportMeta(log logrus.FieldLogger, raw []byte) {
	meta, err := extract.ReportMeta(raw)
	if err != nil {
		return
	}

	log = log.WithField("lighthouse", meta.LighthouseVersion)

	if meta.RuntimeError != nil && meta.RuntimeError.Code != "" {
		log.WithFields(logrus.Fields{
			"code":    meta.RuntimeError.Code,
			"message": meta.RuntimeError.Message,
		}).Warn("Lighthouse reported a runtime error")

		return
	}

	if meta.FinalURL != "" && meta.FinalURL != meta.RequestedURL {
		log.WithFields(logrus.Fields{
			"requested": meta.RequestedURL,
			"final":     meta.FinalURL,
		}).Debug("Page redirected")
	}
}
