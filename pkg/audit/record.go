package audit

import (
	"fmt"

	"gopkg.in/guregu/null.v3"
)

// MetricKey is the persisted name of one extracted performance audit.
type MetricKey string

const (
	FirstContentfulPaint   MetricKey = "firstContentfulPaint"
	LargestContentfulPaint MetricKey = "largestContentfulPaint"
	FirstMeaningfulPaint   MetricKey = "firstMeaningfulPaint"
	CumulativeLayoutShift  MetricKey = "cumulativeLayoutShift"
	LoadFastEnoughForPwa   MetricKey = "loadFastEnoughForPwa"
	SpeedIndex             MetricKey = "speedIndex"
	Interactive            MetricKey = "interactive"
)

// auditIDs maps metric keys to the audit ids used in raw reports.
var auditIDs = map[MetricKey]string{
	FirstContentfulPaint:   "first-contentful-paint",
	LargestContentfulPaint: "largest-contentful-paint",
	FirstMeaningfulPaint:   "first-meaningful-paint",
	CumulativeLayoutShift:  "cumulative-layout-shift",
	LoadFastEnoughForPwa:   "load-fast-enough-for-pwa",
	SpeedIndex:             "speed-index",
	Interactive:            "interactive",
}

// AuditID returns the raw report audit id of the key.
func (k MetricKey) AuditID() string {
	return auditIDs[k]
}

// DisplayKey returns the column name of the key's display value.
func (k MetricKey) DisplayKey() string {
	return string(k) + "DisplayValue"
}

// ParseMetricKey validates a metric key name.
func ParseMetricKey(s string) (MetricKey, error) {
	k := MetricKey(s)
	if _, ok := auditIDs[k]; !ok {
		return "", fmt.Errorf("unknown metric %q", s)
	}

	return k, nil
}

// SchemaVariant tells which metric columns a record carries.
type SchemaVariant int

const (
	// DualMode records carry a mode and cumulative layout shift.
	DualMode SchemaVariant = iota

	// LegacySingleMode records have no mode and carry first meaningful
	// paint instead of cumulative layout shift.
	LegacySingleMode
)

var (
	dualModeKeys = []MetricKey{
		FirstContentfulPaint,
		LargestContentfulPaint,
		CumulativeLayoutShift,
		LoadFastEnoughForPwa,
		SpeedIndex,
		Interactive,
	}

	legacyKeys = []MetricKey{
		FirstContentfulPaint,
		LargestContentfulPaint,
		FirstMeaningfulPaint,
		LoadFastEnoughForPwa,
		SpeedIndex,
		Interactive,
	}
)

// Keys returns the variant's metric keys in column order.
func (v SchemaVariant) Keys() []MetricKey {
	switch v {
	case LegacySingleMode:
		return legacyKeys
	default:
		return dualModeKeys
	}
}

// Has reports whether the variant persists the key.
func (v SchemaVariant) Has(key MetricKey) bool {
	for _, k := range v.Keys() {
		if k == key {
			return true
		}
	}

	return false
}

// String implements fmt.Stringer.
func (v SchemaVariant) String() string {
	switch v {
	case LegacySingleMode:
		return "legacy"
	default:
		return "dual"
	}
}

// ParseSchemaVariant converts a config string to a SchemaVariant.
func ParseSchemaVariant(s string) (SchemaVariant, error) {
	switch s {
	case "", "dual":
		return DualMode, nil
	case "legacy":
		return LegacySingleMode, nil
	default:
		return 0, fmt.Errorf("unknown schema variant %q (use \"dual\" or \"legacy\")", s)
	}
}

// Value is one extracted (score, displayValue) pair. Both halves are null
// when the audit was absent from the report.
type Value struct {
	Score        null.Float
	DisplayValue null.String
}

// Present reports whether the audit produced a score.
func (v Value) Present() bool {
	return v.Score.Valid
}

// Record is one persisted metric row: a single page audited in a single
// mode during one run.
type Record struct {
	RunID    RunID
	Name     string
	Mode     Mode
	Variant  SchemaVariant
	Metrics  map[MetricKey]Value
	JSONFile string
}

// Metric returns the value stored for key, or a null value.
func (r *Record) Metric(key MetricKey) Value {
	return r.Metrics[key]
}

// ArtifactFilename derives the raw report file name for a cell. The mode
// suffix is omitted in the legacy variant.
func ArtifactFilename(runID RunID, pageName string, mode Mode, variant SchemaVariant) string {
	if variant == LegacySingleMode || mode == "" {
		return fmt.Sprintf("%s-%s.json", runID, pageName)
	}

	return fmt.Sprintf("%s-%s-%s.json", runID, pageName, mode)
}
