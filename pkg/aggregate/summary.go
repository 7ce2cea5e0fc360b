package aggregate

import (
	"time"

	"github.com/ethpandaops/pageaudit/pkg/audit"
)

// WidgetKeys are the metrics summarized for the latest run.
var WidgetKeys = []audit.MetricKey{
	audit.FirstContentfulPaint,
	audit.LargestContentfulPaint,
	audit.FirstMeaningfulPaint,
	audit.Interactive,
}

// AllKeys lists every metric column of both variants in display order.
var AllKeys = []audit.MetricKey{
	audit.FirstContentfulPaint,
	audit.LargestContentfulPaint,
	audit.FirstMeaningfulPaint,
	audit.CumulativeLayoutShift,
	audit.LoadFastEnoughForPwa,
	audit.SpeedIndex,
	audit.Interactive,
}

// MetricSummary is the average of one metric over a run.
type MetricSummary struct {
	Key      audit.MetricKey
	Average  float64
	Severity Severity
}

// Defined reports whether the average had records to work with.
func (m MetricSummary) Defined() bool {
	return !IsUndefined(m.Average)
}

// Summarize averages keys over the run's records in mode. Keys no record
// of the run carries are skipped.
func Summarize(run Run, keys []audit.MetricKey, mode audit.Mode, bands Bands) []MetricSummary {
	out := make([]MetricSummary, 0, len(keys))

	for _, key := range keys {
		if !carries(run, key) {
			continue
		}

		avg := Average(run, key, mode)
		out = append(out, MetricSummary{
			Key:      key,
			Average:  avg,
			Severity: bands.ClassifyPercent(avg),
		})
	}

	return out
}

// carries reports whether any record of the run has the key's column.
func carries(run Run, key audit.MetricKey) bool {
	for _, rec := range run.Records {
		if rec.Variant.Has(key) {
			return true
		}
	}

	return false
}

// TrendPoint is one run's average of a metric.
type TrendPoint struct {
	RunID   audit.RunID
	Time    time.Time
	Average float64
}

// Trend returns the metric's average per run, oldest run first. Runs where
// the mode filter matches nothing are left out.
func Trend(runs []Run, key audit.MetricKey, mode audit.Mode) []TrendPoint {
	sorted := SortRuns(runs, false)
	points := make([]TrendPoint, 0, len(sorted))

	for _, run := range sorted {
		if !carries(run, key) {
			continue
		}

		avg := Average(run, key, mode)
		if IsUndefined(avg) {
			continue
		}

		points = append(points, TrendPoint{
			RunID:   run.ID,
			Time:    run.ID.Time(),
			Average: avg,
		})
	}

	return points
}
