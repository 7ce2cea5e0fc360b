package reportstore

import (
	"github.com/ethpandaops/pageaudit/pkg/audit"
	"gopkg.in/guregu/null.v3"
)

// reportRow is one row of the reports table. The table is the superset of
// both schema variants; columns a variant does not carry stay NULL.
type reportRow struct {
	ID       uint        `gorm:"primaryKey"`
	RunID    int64       `gorm:"column:runId;not null;index;uniqueIndex:idx_reports_cell"`
	Name     string      `gorm:"column:name;type:text;not null;uniqueIndex:idx_reports_cell"`
	Mode     null.String `gorm:"column:mode;type:text;uniqueIndex:idx_reports_cell"`
	JSONFile string      `gorm:"column:jsonFile;type:text;not null"`

	FirstContentfulPaint               null.Float  `gorm:"column:firstContentfulPaint;type:double precision"`
	FirstContentfulPaintDisplayValue   null.String `gorm:"column:firstContentfulPaintDisplayValue;type:text"`
	LargestContentfulPaint             null.Float  `gorm:"column:largestContentfulPaint;type:double precision"`
	LargestContentfulPaintDisplayValue null.String `gorm:"column:largestContentfulPaintDisplayValue;type:text"`
	FirstMeaningfulPaint               null.Float  `gorm:"column:firstMeaningfulPaint;type:double precision"`
	FirstMeaningfulPaintDisplayValue   null.String `gorm:"column:firstMeaningfulPaintDisplayValue;type:text"`
	CumulativeLayoutShift              null.Float  `gorm:"column:cumulativeLayoutShift;type:double precision"`
	CumulativeLayoutShiftDisplayValue  null.String `gorm:"column:cumulativeLayoutShiftDisplayValue;type:text"`
	LoadFastEnoughForPwa               null.Float  `gorm:"column:loadFastEnoughForPwa;type:double precision"`
	LoadFastEnoughForPwaDisplayValue   null.String `gorm:"column:loadFastEnoughForPwaDisplayValue;type:text"`
	SpeedIndex                         null.Float  `gorm:"column:speedIndex;type:double precision"`
	SpeedIndexDisplayValue             null.String `gorm:"column:speedIndexDisplayValue;type:text"`
	Interactive                        null.Float  `gorm:"column:interactive;type:double precision"`
	InteractiveDisplayValue            null.String `gorm:"column:interactiveDisplayValue;type:text"`
}

// TableName pins the table name.
func (reportRow) TableName() string {
	return "reports"
}

// fields returns pointers to the score and display columns of a key.
func (r *reportRow) fields(key audit.MetricKey) (*null.Float, *null.String) {
	switch key {
	case audit.FirstContentfulPaint:
		return &r.FirstContentfulPaint, &r.FirstContentfulPaintDisplayValue
	case audit.LargestContentfulPaint:
		return &r.LargestContentfulPaint, &r.LargestContentfulPaintDisplayValue
	case audit.FirstMeaningfulPaint:
		return &r.FirstMeaningfulPaint, &r.FirstMeaningfulPaintDisplayValue
	case audit.CumulativeLayoutShift:
		return &r.CumulativeLayoutShift, &r.CumulativeLayoutShiftDisplayValue
	case audit.LoadFastEnoughForPwa:
		return &r.LoadFastEnoughForPwa, &r.LoadFastEnoughForPwaDisplayValue
	case audit.SpeedIndex:
		return &r.SpeedIndex, &r.SpeedIndexDisplayValue
	case audit.Interactive:
		return &r.Interactive, &r.InteractiveDisplayValue
	default:
		return nil, nil
	}
}

// rowFromRecord flattens a record. Only the variant's keys are written.
func rowFromRecord(rec *audit.Record) *reportRow {
	row := &reportRow{
		RunID:    int64(rec.RunID),
		Name:     rec.Name,
		JSONFile: rec.JSONFile,
	}

	if rec.Variant == audit.DualMode {
		row.Mode = null.StringFrom(string(rec.Mode))
	}

	for _, key := range rec.Variant.Keys() {
		score, display := row.fields(key)
		v := rec.Metric(key)
		*score = v.Score
		*display = v.DisplayValue
	}

	return row
}

// record rebuilds a record. A populated mode marks the dual-mode variant.
func (r *reportRow) record() audit.Record {
	rec := audit.Record{
		RunID:    audit.RunID(r.RunID),
		Name:     r.Name,
		JSONFile: r.JSONFile,
		Variant:  audit.LegacySingleMode,
	}

	if r.Mode.Valid && r.Mode.String != "" {
		rec.Mode = audit.Mode(r.Mode.String)
		rec.Variant = audit.DualMode
	}

	keys := rec.Variant.Keys()
	rec.Metrics = make(map[audit.MetricKey]audit.Value, len(keys))

	for _, key := range keys {
		score, display := r.fields(key)
		rec.Metrics[key] = audit.Value{Score: *score, DisplayValue: *display}
	}

	return rec
}
