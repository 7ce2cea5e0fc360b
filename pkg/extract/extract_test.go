package extract

import (
	"testing"

	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const desktopReport = `{
  "lighthouseVersion": "9.6.8",
  "requestedUrl": "https://example.com/",
  "finalUrl": "https://example.com/",
  "fetchTime": "2024-03-01T12:00:00.000Z",
  "audits": {
    "first-contentful-paint": {"score": 0.98, "displayValue": "0.6 s"},
    "largest-contentful-paint": {"score": 0.5, "displayValue": "2.9 s"},
    "cumulative-layout-shift": {"score": 1, "displayValue": "0.001"},
    "speed-index": {"score": 0.71, "displayValue": "1.4 s"},
    "interactive": {"score": 0.2, "displayValue": "7.5 s"},
    "first-meaningful-paint": {"score": null}
  }
}`

func TestMetrics_DualMode(t *testing.T) {
	got, err := Metrics([]byte(desktopReport), audit.DualMode)
	require.NoError(t, err)
	require.Len(t, got, 6)

	fcp := got[audit.FirstContentfulPaint]
	assert.True(t, fcp.Present())
	assert.Equal(t, 0.98, fcp.Score.Float64)
	assert.Equal(t, "0.6 s", fcp.DisplayValue.String)

	cls := got[audit.CumulativeLayoutShift]
	assert.Equal(t, 1.0, cls.Score.Float64)

	// The PWA audit is absent in this report; both halves are null.
	pwa := got[audit.LoadFastEnoughForPwa]
	assert.False(t, pwa.Score.Valid)
	assert.False(t, pwa.DisplayValue.Valid)
}

func TestMetrics_LegacyNullScore(t *testing.T) {
	got, err := Metrics([]byte(desktopReport), audit.LegacySingleMode)
	require.NoError(t, err)

	fmp, ok := got[audit.FirstMeaningfulPaint]
	require.True(t, ok)
	assert.False(t, fmp.Present())

	_, ok = got[audit.CumulativeLayoutShift]
	assert.False(t, ok)
}

func TestMetrics_MissingOptionalAuditsNeverFail(t *testing.T) {
	for _, raw := range []string{
		`{"audits": {}}`,
		`{"audits": {"speed-index": "not-an-object"}}`,
		`{"audits": {"interactive": {"displayValue": 12}}}`,
	} {
		got, err := Metrics([]byte(raw), audit.DualMode)
		require.NoError(t, err, raw)

		for _, key := range audit.DualMode.Keys() {
			assert.False(t, got[key].Score.Valid, "%s in %s", key, raw)
			assert.False(t, got[key].DisplayValue.Valid, "%s in %s", key, raw)
		}
	}
}

func TestMetrics_MalformedReport(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "not json", raw: `<html>`, want: ErrInvalidJSON},
		{name: "no audits", raw: `{"categories": {}}`, want: ErrMissingAudits},
		{name: "audits not object", raw: `{"audits": []}`, want: ErrMissingAudits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Metrics([]byte(tt.raw), audit.DualMode)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, errkind.ErrExtraction)
		})
	}
}

func TestReportMeta(t *testing.T) {
	meta, err := ReportMeta([]byte(desktopReport))
	require.NoError(t, err)
	assert.Equal(t, "9.6.8", meta.LighthouseVersion)
	assert.Equal(t, "https://example.com/", meta.FinalURL)
	assert.Nil(t, meta.RuntimeError)

	raw := `{"runtimeError": {"code": "NO_FCP", "message": "The page did not paint"}, "audits": {}}`

	meta, err = ReportMeta([]byte(raw))
	require.NoError(t, err)
	require.NotNil(t, meta.RuntimeError)
	assert.Equal(t, "NO_FCP", meta.RuntimeError.Code)

	_, err = ReportMeta([]byte("nope"))
	assert.ErrorIs(t, err, errkind.ErrExtraction)
}
