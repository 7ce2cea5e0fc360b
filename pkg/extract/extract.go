// Package extract pulls the persisted metric subset out of raw audit reports.
// Reports are read schema-on-read: absent audits yield null values, only a
// report without an audits object is rejected.
package extract

import (
	"errors"

	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/errkind"
	"github.com/mitchellh/mapstructure"
	"github.com/tidwall/gjson"
	"gopkg.in/guregu/null.v3"
)

var (
	// ErrInvalidJSON is returned when the report cannot be parsed.
	ErrInvalidJSON = errors.New("report is not valid JSON")

	// ErrMissingAudits is returned when the report has no audits object.
	ErrMissingAudits = errors.New("report has no audits object")
)

// Metrics extracts the variant's metric keys from a raw report.
func Metrics(raw []byte, variant audit.SchemaVariant) (map[audit.MetricKey]audit.Value, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errkind.New(errkind.Extraction, "parse report", ErrInvalidJSON)
	}

	audits := gjson.GetBytes(raw, "audits")
	if !audits.IsObject() {
		return nil, errkind.New(errkind.Extraction, "read audits", ErrMissingAudits)
	}

	keys := variant.Keys()
	out := make(map[audit.MetricKey]audit.Value, len(keys))

	for _, key := range keys {
		out[key] = valueOf(audits.Get(gjson.Escape(key.AuditID())))
	}

	return out, nil
}

// valueOf converts one audit entry. Lighthouse reports a null score for
// informative or not-applicable audits, which is kept as null.
func valueOf(entry gjson.Result) audit.Value {
	var v audit.Value

	if !entry.IsObject() {
		return v
	}

	if score := entry.Get("score"); score.Type == gjson.Number {
		v.Score = null.FloatFrom(score.Float())
	}

	if display := entry.Get("displayValue"); display.Type == gjson.String {
		v.DisplayValue = null.StringFrom(display.String())
	}

	return v
}

// RuntimeError is the error Lighthouse embeds when a page failed to load
// but a report was still produced.
type RuntimeError struct {
	Code    string `mapstructure:"code"`
	Message string `mapstructure:"message"`
}

// Meta is the report header information logged alongside each audit.
type Meta struct {
	LighthouseVersion string        `mapstructure:"lighthouseVersion"`
	RequestedURL      string        `mapstructure:"requestedUrl"`
	FinalURL          string        `mapstructure:"finalUrl"`
	FetchTime         string        `mapstructure:"fetchTime"`
	UserAgent         string        `mapstructure:"userAgent"`
	RuntimeError      *RuntimeError `mapstructure:"runtimeError"`
}

// metaPath selects the header fields with gjson's multipath syntax.
const metaPath = `{lighthouseVersion,requestedUrl,finalUrl,fetchTime,userAgent,runtimeError}`

// ReportMeta decodes the report header. Missing fields are left empty.
func ReportMeta(raw []byte) (*Meta, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errkind.New(errkind.Extraction, "parse report", ErrInvalidJSON)
	}

	fields, ok := gjson.GetBytes(raw, metaPath).Value().(map[string]any)
	if !ok {
		return &Meta{}, nil
	}

	var meta Meta
	if err := mapstructure.Decode(fields, &meta); err != nil {
		return nil, errkind.New(errkind.Extraction, "decode report meta", err)
	}

	return &meta, nil
}
