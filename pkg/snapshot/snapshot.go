// Package snapshot exports metric records as a flat JSON table for static
// consumption by the dashboard, and reads such tables back.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/fsutil"
	"github.com/ethpandaops/pageaudit/pkg/reportstore"
	"github.com/tidwall/gjson"
	"gopkg.in/guregu/null.v3"
)

// Table is an ordered sequence of metric records.
type Table []audit.Record

// RecordQuerier is the read side of the report store.
type RecordQuerier interface {
	QueryMetricRecords(ctx context.Context, limit int) ([]audit.Record, error)
}

var (
	_ RecordQuerier = (reportstore.Store)(nil)
	_ RecordQuerier = Table(nil)
)

// Export reads up to limit records in storage order. No transformation is
// applied.
func Export(ctx context.Context, store RecordQuerier, limit int) (Table, error) {
	records, err := store.QueryMetricRecords(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("exporting snapshot: %w", err)
	}

	return Table(records), nil
}

// QueryMetricRecords serves a loaded table like the report store would,
// so a snapshot file can back the API.
func (t Table) QueryMetricRecords(ctx context.Context, limit int) ([]audit.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > reportstore.MaxQueryLimit {
		limit = reportstore.MaxQueryLimit
	}

	if limit > len(t) {
		limit = len(t)
	}

	return t[:limit], nil
}

// MarshalJSON renders the table as an array of flat objects. Keys follow
// column order; null values become empty strings.
func (t Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('[')

	for i := range t {
		if i > 0 {
			buf.WriteByte(',')
		}

		if err := encodeRecord(&buf, &t[i]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte(']')

	return buf.Bytes(), nil
}

func encodeRecord(buf *bytes.Buffer, rec *audit.Record) error {
	fields := make([]field, 0, 4+2*len(rec.Variant.Keys()))
	fields = append(fields,
		field{"runId", int64(rec.RunID)},
		field{"name", rec.Name},
	)

	if rec.Variant == audit.DualMode {
		fields = append(fields, field{"mode", string(rec.Mode)})
	}

	for _, key := range rec.Variant.Keys() {
		v := rec.Metric(key)
		fields = append(fields,
			field{string(key), scoreOrEmpty(v.Score)},
			field{key.DisplayKey(), v.DisplayValue.ValueOrZero()},
		)
	}

	fields = append(fields, field{"jsonFile", rec.JSONFile})

	buf.WriteByte('{')

	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}

		name, err := json.Marshal(f.name)
		if err != nil {
			return err
		}

		value, err := json.Marshal(f.value)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", f.name, err)
		}

		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}

	buf.WriteByte('}')

	return nil
}

type field struct {
	name  string
	value any
}

func scoreOrEmpty(s null.Float) any {
	if !s.Valid {
		return ""
	}

	return s.Float64
}

// Encode writes the table as JSON followed by a newline.
func (t Table) Encode(w io.Writer) error {
	data, err := t.MarshalJSON()
	if err != nil {
		return err
	}

	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	return nil
}

// WriteFile atomically replaces path with the encoded table.
func (t Table) WriteFile(path string, owner *fsutil.Owner) error {
	var buf bytes.Buffer
	if err := t.Encode(&buf); err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := fsutil.MkdirAll(dir, 0o755, owner); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
	}

	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644, owner); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}

	return nil
}

// Decode parses a flat table. A non-empty mode marks a dual-mode record;
// empty strings read back as null values.
func Decode(data []byte) (Table, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("snapshot is not valid JSON")
	}

	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("snapshot must be a JSON array")
	}

	var (
		table Table
		err   error
	)

	root.ForEach(func(idx, obj gjson.Result) bool {
		var rec audit.Record

		rec, err = decodeRecord(obj)
		if err != nil {
			err = fmt.Errorf("record %d: %w", idx.Int(), err)

			return false
		}

		table = append(table, rec)

		return true
	})

	if err != nil {
		return nil, err
	}

	return table, nil
}

// ReadFile decodes the snapshot stored at path.
func ReadFile(path string) (Table, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	return Decode(data)
}

func decodeRecord(obj gjson.Result) (audit.Record, error) {
	if !obj.IsObject() {
		return audit.Record{}, fmt.Errorf("not an object")
	}

	runID := obj.Get("runId")
	if runID.Type != gjson.Number || runID.Int() <= 0 {
		return audit.Record{}, fmt.Errorf("missing or invalid runId")
	}

	rec := audit.Record{
		RunID:    audit.RunID(runID.Int()),
		Name:     obj.Get("name").String(),
		JSONFile: obj.Get("jsonFile").String(),
		Variant:  audit.LegacySingleMode,
	}

	if mode := obj.Get("mode").String(); mode != "" {
		m, err := audit.ParseMode(mode)
		if err != nil {
			return audit.Record{}, err
		}

		rec.Mode = m
		rec.Variant = audit.DualMode
	}

	keys := rec.Variant.Keys()
	rec.Metrics = make(map[audit.MetricKey]audit.Value, len(keys))

	for _, key := range keys {
		var v audit.Value

		if score := obj.Get(string(key)); score.Type == gjson.Number {
			v.Score = null.FloatFrom(score.Float())
		}

		if display := obj.Get(key.DisplayKey()).String(); display != "" {
			v.DisplayValue = null.StringFrom(display)
		}

		rec.Metrics[key] = v
	}

	return rec, nil
}
