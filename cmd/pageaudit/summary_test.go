package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethpandaops/pageaudit/pkg/aggregate"
	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

func summaryRecord(runID audit.RunID, name string, mode audit.Mode, fcp float64) audit.Record {
	metrics := make(map[audit.MetricKey]audit.Value)
	for _, key := range audit.DualMode.Keys() {
		metrics[key] = audit.Value{}
	}

	metrics[audit.FirstContentfulPaint] = audit.Value{
		Score:        null.FloatFrom(fcp),
		DisplayValue: null.StringFrom("1.2 s"),
	}

	return audit.Record{RunID: runID, Name: name, Mode: mode, Variant: audit.DualMode, Metrics: metrics}
}

func summaryRuns() []aggregate.Run {
	return aggregate.GroupByRun([]audit.Record{
		summaryRecord(1700000000000, "homepage", audit.ModeMobile, 0.1),
		summaryRecord(1700000600000, "homepage", audit.ModeMobile, 0.95),
		summaryRecord(1700000600000, "forum", audit.ModeMobile, 0.93),
		summaryRecord(1700000600000, "homepage", audit.ModeDesktop, 0.5),
	})
}

func TestRenderSummary_Text(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	require.NoError(t, renderSummary(&buf, summaryRuns(), summaryOptions{
		Mode:  audit.ModeMobile,
		Bands: aggregate.DualModeBands,
	}))

	out := buf.String()
	assert.Contains(t, out, "Run 1700000600000")
	assert.Contains(t, out, "2 records, modes: mobile, desktop, showing mobile")
	assert.Contains(t, out, "First Contentful Paint")
	assert.Contains(t, out, "94%")
	// The widget average of a metric no row scored is zero, not n/a.
	assert.Contains(t, out, "Time to Interactive")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	header := lines[len(lines)-3]
	assert.True(t, strings.HasPrefix(strings.TrimSpace(header), "PAGE"), header)
	assert.Contains(t, header, "CLS")
	assert.NotContains(t, header, "FMP")

	assert.Contains(t, lines[len(lines)-2], "homepage")
	assert.Contains(t, lines[len(lines)-2], "0.95 (1.2 s)")
	assert.Contains(t, lines[len(lines)-1], "forum")
	assert.NotContains(t, out, "desktop  ")
}

func TestRenderSummary_Markdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderSummary(&buf, summaryRuns(), summaryOptions{
		RunID:  1700000000000,
		Bands:  aggregate.DualModeBands,
		Format: "markdown",
	}))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "## Run 1700000000000"))
	assert.Contains(t, out, "| First Contentful Paint | 🔴 10% |")
	assert.Contains(t, out, "| homepage | mobile | 🔴 0.10 (1.2 s) |")
}

func TestRenderSummary_Errors(t *testing.T) {
	var buf bytes.Buffer

	assert.Error(t, renderSummary(&buf, nil, summaryOptions{}))
	assert.Error(t, renderSummary(&buf, summaryRuns(), summaryOptions{RunID: 42}))
	assert.Error(t, renderSummary(&buf, summaryRuns(), summaryOptions{Format: "html"}))
}

func TestFilterPages(t *testing.T) {
	pages := []audit.Page{
		{Name: "homepage", URL: "https://example.com/"},
		{Name: "forum", URL: "https://example.com/forum"},
		{Name: "blogs", URL: "https://example.com/blogs"},
	}

	got, err := filterPages(pages, nil)
	require.NoError(t, err)
	assert.Equal(t, pages, got)

	got, err = filterPages(pages, []string{"blogs", "homepage"})
	require.NoError(t, err)
	assert.Equal(t, []audit.Page{pages[0], pages[2]}, got)

	_, err = filterPages(pages, []string{"forum", "market"})
	assert.ErrorContains(t, err, "market")
}
