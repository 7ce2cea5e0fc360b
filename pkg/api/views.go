package api

import (
	"time"

	"github.com/ethpandaops/pageaudit/pkg/aggregate"
	"github.com/ethpandaops/pageaudit/pkg/audit"
	"gopkg.in/guregu/null.v3"
)

type metricView struct {
	Key string `json:"key"`
	// Average is null when the mode filter matched no records.
	Average  null.Float         `json:"average"`
	Severity aggregate.Severity `json:"severity"`
}

type runView struct {
	RunID   int64        `json:"runId"`
	Time    time.Time    `json:"time"`
	Variant string       `json:"variant"`
	Records int          `json:"records"`
	Modes   []audit.Mode `json:"modes"`
	Summary []metricView `json:"summary"`
}

type cellView struct {
	Key          string             `json:"key"`
	Score        null.Float         `json:"score"`
	DisplayValue null.String        `json:"displayValue"`
	Severity     aggregate.Severity `json:"severity"`
}

type rowView struct {
	Name     string     `json:"name"`
	Mode     audit.Mode `json:"mode,omitempty"`
	JSONFile string     `json:"jsonFile"`
	Metrics  []cellView `json:"metrics"`
}

type runDetailView struct {
	runView
	Rows []rowView `json:"rows"`
}

type trendView struct {
	RunID    int64              `json:"runId"`
	Time     time.Time          `json:"time"`
	Average  float64            `json:"average"`
	Severity aggregate.Severity `json:"severity"`
}

func newRunView(run aggregate.Run, keys []audit.MetricKey, mode audit.Mode, bands aggregate.Bands) runView {
	v := runView{
		RunID:   int64(run.ID),
		Time:    run.ID.Time().UTC(),
		Records: len(aggregate.Rows(run, mode)),
		Modes:   aggregate.Modes(run),
		Summary: []metricView{},
	}

	if v.Modes == nil {
		v.Modes = []audit.Mode{}
	}

	if len(run.Records) > 0 {
		v.Variant = run.Records[0].Variant.String()
	}

	for _, m := range aggregate.Summarize(run, keys, mode, bands) {
		v.Summary = append(v.Summary, metricView{
			Key:      string(m.Key),
			Average:  null.NewFloat(m.Average, m.Defined()),
			Severity: m.Severity,
		})
	}

	return v
}

func newRowView(rec *audit.Record, bands aggregate.Bands) rowView {
	keys := rec.Variant.Keys()

	v := rowView{
		Name:     rec.Name,
		Mode:     rec.Mode,
		JSONFile: rec.JSONFile,
		Metrics:  make([]cellView, 0, len(keys)),
	}

	for _, key := range keys {
		val := rec.Metric(key)
		v.Metrics = append(v.Metrics, cellView{
			Key:          string(key),
			Score:        val.Score,
			DisplayValue: val.DisplayValue,
			Severity:     bands.ClassifyValue(val),
		})
	}

	return v
}
