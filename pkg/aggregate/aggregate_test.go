package aggregate

import (
	"testing"

	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

func record(runID audit.RunID, name string, mode audit.Mode, scores map[audit.MetricKey]float64) audit.Record {
	metrics := make(map[audit.MetricKey]audit.Value, len(audit.DualMode.Keys()))
	for _, key := range audit.DualMode.Keys() {
		metrics[key] = audit.Value{}
	}

	for key, s := range scores {
		metrics[key] = audit.Value{Score: null.FloatFrom(s)}
	}

	return audit.Record{
		RunID:    runID,
		Name:     name,
		Mode:     mode,
		Variant:  audit.DualMode,
		Metrics:  metrics,
		JSONFile: audit.ArtifactFilename(runID, name, mode, audit.DualMode),
	}
}

func fcp(s float64) map[audit.MetricKey]float64 {
	return map[audit.MetricKey]float64{audit.FirstContentfulPaint: s}
}

func TestGroupByRun(t *testing.T) {
	table := []audit.Record{
		record(20, "a", audit.ModeMobile, nil),
		record(10, "a", audit.ModeMobile, nil),
		record(20, "b", audit.ModeMobile, nil),
		record(10, "b", audit.ModeMobile, nil),
		record(20, "c", audit.ModeMobile, nil),
	}

	runs := GroupByRun(table)
	require.Len(t, runs, 2)

	assert.Equal(t, audit.RunID(20), runs[0].ID)
	assert.Len(t, runs[0].Records, 3)
	assert.Equal(t, []string{"a", "b", "c"}, names(runs[0].Records))

	assert.Equal(t, audit.RunID(10), runs[1].ID)
	assert.Len(t, runs[1].Records, 2)

	assert.Empty(t, GroupByRun(nil))
}

func names(records []audit.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Name)
	}

	return out
}

func TestAverage(t *testing.T) {
	tests := []struct {
		name    string
		records []audit.Record
		mode    audit.Mode
		want    float64
	}{
		{
			name: "all perfect",
			records: []audit.Record{
				record(1, "a", audit.ModeMobile, fcp(1)),
				record(1, "b", audit.ModeMobile, fcp(1)),
				record(1, "c", audit.ModeMobile, fcp(1)),
			},
			mode: audit.ModeMobile,
			want: 100,
		},
		{
			name: "rounded",
			records: []audit.Record{
				record(1, "a", audit.ModeMobile, fcp(0.5)),
				record(1, "b", audit.ModeMobile, fcp(0.6)),
				record(1, "c", audit.ModeMobile, fcp(0.7)),
			},
			mode: audit.ModeMobile,
			want: 60,
		},
		{
			name: "rounds to nearest",
			records: []audit.Record{
				record(1, "a", audit.ModeMobile, fcp(0.5)),
				record(1, "b", audit.ModeMobile, fcp(0.505)),
			},
			mode: audit.ModeMobile,
			want: 50,
		},
		{
			name: "null counts as zero",
			records: []audit.Record{
				record(1, "a", audit.ModeMobile, fcp(0.8)),
				record(1, "b", audit.ModeMobile, nil),
			},
			mode: audit.ModeMobile,
			want: 40,
		},
		{
			name: "filters by mode",
			records: []audit.Record{
				record(1, "a", audit.ModeMobile, fcp(0.2)),
				record(1, "a", audit.ModeDesktop, fcp(0.9)),
			},
			mode: audit.ModeDesktop,
			want: 90,
		},
		{
			name: "no mode filter",
			records: []audit.Record{
				record(1, "a", audit.ModeMobile, fcp(0.2)),
				record(1, "a", audit.ModeDesktop, fcp(0.8)),
			},
			want: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := Run{ID: 1, Records: tt.records}
			assert.InDelta(t, tt.want, Average(run, audit.FirstContentfulPaint, tt.mode), 0)
		})
	}
}

func TestAverage_EmptySubsetIsUndefined(t *testing.T) {
	run := Run{ID: 1, Records: []audit.Record{record(1, "a", audit.ModeMobile, fcp(1))}}

	avg := Average(run, audit.FirstContentfulPaint, audit.ModeDesktop)
	assert.True(t, IsUndefined(avg))

	assert.True(t, IsUndefined(Average(Run{ID: 2}, audit.SpeedIndex, "")))
	assert.False(t, IsUndefined(Average(run, audit.FirstContentfulPaint, audit.ModeMobile)))
}

func TestRows(t *testing.T) {
	run := Run{ID: 1, Records: []audit.Record{
		record(1, "a", audit.ModeMobile, nil),
		record(1, "a", audit.ModeDesktop, nil),
		record(1, "b", audit.ModeMobile, nil),
	}}

	assert.Equal(t, []string{"a", "b"}, names(Rows(run, audit.ModeMobile)))
	assert.Equal(t, []string{"a"}, names(Rows(run, audit.ModeDesktop)))
	assert.Len(t, Rows(run, ""), 3)
}

func TestModes(t *testing.T) {
	legacy := record(1, "x", "", nil)
	legacy.Variant = audit.LegacySingleMode

	run := Run{ID: 1, Records: []audit.Record{
		record(1, "a", audit.ModeDesktop, nil),
		legacy,
		record(1, "a", audit.ModeMobile, nil),
		record(1, "b", audit.ModeDesktop, nil),
	}}

	assert.Equal(t, []audit.Mode{audit.ModeDesktop, audit.ModeMobile}, Modes(run))
}

func TestSortLatestFind(t *testing.T) {
	runs := []Run{{ID: 20}, {ID: 5}, {ID: 30}}

	asc := SortRuns(runs, false)
	assert.Equal(t, []audit.RunID{5, 20, 30}, ids(asc))

	desc := SortRuns(runs, true)
	assert.Equal(t, []audit.RunID{30, 20, 5}, ids(desc))

	// Input is left untouched.
	assert.Equal(t, []audit.RunID{20, 5, 30}, ids(runs))

	latest, ok := Latest(runs)
	require.True(t, ok)
	assert.Equal(t, audit.RunID(30), latest.ID)

	_, ok = Latest(nil)
	assert.False(t, ok)

	found, ok := Find(runs, 5)
	require.True(t, ok)
	assert.Equal(t, audit.RunID(5), found.ID)

	_, ok = Find(runs, 6)
	assert.False(t, ok)
}

func ids(runs []Run) []audit.RunID {
	out := make([]audit.RunID, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID)
	}

	return out
}
