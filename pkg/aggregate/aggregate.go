// Package aggregate turns a flat metric table into per-run statistics for
// the dashboard. Every function is pure and safe for concurrent use.
package aggregate

import (
	"math"
	"sort"

	"github.com/ethpandaops/pageaudit/pkg/audit"
)

// Run groups the records of one sweep.
type Run struct {
	ID      audit.RunID
	Records []audit.Record
}

// GroupByRun groups records by run id. Runs appear in the order their id
// is first seen; records keep their input order.
func GroupByRun(table []audit.Record) []Run {
	var runs []Run

	index := make(map[audit.RunID]int)

	for _, rec := range table {
		i, ok := index[rec.RunID]
		if !ok {
			i = len(runs)
			index[rec.RunID] = i
			runs = append(runs, Run{ID: rec.RunID})
		}

		runs[i].Records = append(runs[i].Records, rec)
	}

	return runs
}

// Rows returns the run's records in the given mode. An empty mode returns
// every record.
func Rows(run Run, mode audit.Mode) []audit.Record {
	if mode == "" {
		return run.Records
	}

	var out []audit.Record

	for _, rec := range run.Records {
		if rec.Mode == mode {
			out = append(out, rec)
		}
	}

	return out
}

// Average returns the mean score of key as a rounded percentage. Records
// without a score count as zero. When the mode filter leaves no records the
// result is NaN; use IsUndefined to test for it.
func Average(run Run, key audit.MetricKey, mode audit.Mode) float64 {
	rows := Rows(run, mode)
	if len(rows) == 0 {
		return math.NaN()
	}

	var sum float64

	for _, rec := range rows {
		if v := rec.Metric(key); v.Score.Valid {
			sum += v.Score.Float64
		}
	}

	return math.Round(sum * 100 / float64(len(rows)))
}

// IsUndefined reports whether an Average had no records to average.
func IsUndefined(v float64) bool {
	return math.IsNaN(v)
}

// Modes lists the distinct modes present in a run, in first-seen order.
// Legacy records contribute no mode.
func Modes(run Run) []audit.Mode {
	var modes []audit.Mode

	seen := make(map[audit.Mode]struct{})

	for _, rec := range run.Records {
		if rec.Mode == "" {
			continue
		}

		if _, ok := seen[rec.Mode]; ok {
			continue
		}

		seen[rec.Mode] = struct{}{}
		modes = append(modes, rec.Mode)
	}

	return modes
}

// SortRuns returns a copy of runs ordered by run id, oldest first unless
// desc is set.
func SortRuns(runs []Run, desc bool) []Run {
	out := make([]Run, len(runs))
	copy(out, runs)

	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return out[i].ID > out[j].ID
		}

		return out[i].ID < out[j].ID
	})

	return out
}

// Latest returns the run with the highest id.
func Latest(runs []Run) (Run, bool) {
	if len(runs) == 0 {
		return Run{}, false
	}

	latest := runs[0]
	for _, r := range runs[1:] {
		if r.ID > latest.ID {
			latest = r
		}
	}

	return latest, true
}

// Find returns the run with the given id.
func Find(runs []Run, id audit.RunID) (Run, bool) {
	for _, r := range runs {
		if r.ID == id {
			return r, true
		}
	}

	return Run{}, false
}
