package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethpandaops/pageaudit/pkg/aggregate"
	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/reportstore"
	"github.com/ethpandaops/pageaudit/pkg/snapshot"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	summarySnapshot string
	summaryRunID    string
	summaryMode     string
	summaryFormat   string
	summaryNoColor  bool
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the averages and per-page breakdown of a run",
	Long: `Print the dashboard view of one run (the latest by default): average
scores of the headline metrics and every page's scores, colored by severity.`,
	RunE: runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
	summaryCmd.Flags().StringVar(&summarySnapshot, "snapshot", "",
		"Read records from this snapshot file instead of the database")
	summaryCmd.Flags().StringVar(&summaryRunID, "run-id", "",
		"Run to summarize (default: latest)")
	summaryCmd.Flags().StringVar(&summaryMode, "mode", "",
		"Only include this mode (mobile, desktop)")
	summaryCmd.Flags().StringVar(&summaryFormat, "format", "text",
		"Output format (text or markdown)")
	summaryCmd.Flags().BoolVar(&summaryNoColor, "no-color", false,
		"Disable colored output")
}

func runSummary(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := summaryOptions{Format: summaryFormat}

	if opts.Bands, err = aggregate.BandsByName(cfg.API.SeverityBands); err != nil {
		return err
	}

	if summaryMode != "" {
		if opts.Mode, err = audit.ParseMode(summaryMode); err != nil {
			return err
		}
	}

	if summaryRunID != "" {
		if opts.RunID, err = audit.ParseRunID(summaryRunID); err != nil {
			return err
		}
	}

	var records []audit.Record

	if summarySnapshot != "" {
		if records, err = snapshot.ReadFile(summarySnapshot); err != nil {
			return err
		}
	} else {
		store, _, err := storageFor(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		defer func() {
			if err := store.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop report store")
			}
		}()

		if records, err = store.QueryMetricRecords(cmd.Context(), reportstore.MaxQueryLimit); err != nil {
			return err
		}
	}

	color.NoColor = summaryNoColor || !isatty.IsTerminal(os.Stdout.Fd())

	return renderSummary(cmd.OutOrStdout(), aggregate.GroupByRun(records), opts)
}

type summaryOptions struct {
	RunID  audit.RunID
	Mode   audit.Mode
	Bands  aggregate.Bands
	Format string
}

var (
	metricTitles = map[audit.MetricKey]string{
		audit.FirstContentfulPaint:   "First Contentful Paint",
		audit.LargestContentfulPaint: "Largest Contentful Paint",
		audit.FirstMeaningfulPaint:   "First Meaningful Paint",
		audit.CumulativeLayoutShift:  "Cumulative Layout Shift",
		audit.LoadFastEnoughForPwa:   "Fast Enough for PWA",
		audit.SpeedIndex:             "Speed Index",
		audit.Interactive:            "Time to Interactive",
	}

	metricColumns = map[audit.MetricKey]string{
		audit.FirstContentfulPaint:   "FCP",
		audit.LargestContentfulPaint: "LCP",
		audit.FirstMeaningfulPaint:   "FMP",
		audit.CumulativeLayoutShift:  "CLS",
		audit.LoadFastEnoughForPwa:   "PWA",
		audit.SpeedIndex:             "SI",
		audit.Interactive:            "TTI",
	}

	severityColors = map[aggregate.Severity]*color.Color{
		aggregate.Bad:      color.New(color.FgRed),
		aggregate.Moderate: color.New(color.FgYellow),
		aggregate.Good:     color.New(color.FgGreen),
		aggregate.Neutral:  color.New(),
	}

	severityMarks = map[aggregate.Severity]string{
		aggregate.Bad:      "🔴 ",
		aggregate.Moderate: "🟠 ",
		aggregate.Good:     "🟢 ",
	}
)

// renderSummary prints one run in the requested format.
func renderSummary(w io.Writer, runs []aggregate.Run, opts summaryOptions) error {
	if len(runs) == 0 {
		return fmt.Errorf("no runs recorded yet")
	}

	var (
		run   aggregate.Run
		found bool
	)

	if opts.RunID == 0 {
		run, found = aggregate.Latest(runs)
	} else {
		run, found = aggregate.Find(runs, opts.RunID)
	}

	if !found {
		return fmt.Errorf("run %s not found", opts.RunID)
	}

	switch opts.Format {
	case "", "text":
		renderText(w, run, opts)
	case "markdown":
		renderMarkdown(w, run, opts)
	default:
		return fmt.Errorf("unknown format %q (use text or markdown)", opts.Format)
	}

	return nil
}

func runHeader(run aggregate.Run, opts summaryOptions) string {
	modes := make([]string, 0, 2)
	for _, m := range aggregate.Modes(run) {
		modes = append(modes, m.String())
	}

	header := fmt.Sprintf("Run %s (%s), %d records",
		run.ID, run.ID.Time().UTC().Format("2006-01-02 15:04:05 MST"), len(aggregate.Rows(run, opts.Mode)))

	if len(modes) > 0 {
		header += ", modes: " + strings.Join(modes, ", ")
	}

	if opts.Mode != "" {
		header += ", showing " + opts.Mode.String()
	}

	return header
}

func formatAverage(m aggregate.MetricSummary) string {
	if !m.Defined() {
		return "n/a"
	}

	return fmt.Sprintf("%.0f%%", m.Average)
}

func formatCell(v audit.Value) string {
	if !v.Score.Valid {
		return "-"
	}

	s := fmt.Sprintf("%.2f", v.Score.Float64)
	if v.DisplayValue.Valid && v.DisplayValue.String != "" {
		s += " (" + v.DisplayValue.String + ")"
	}

	return s
}

// breakdownKeys returns the metric columns present in the run.
func breakdownKeys(run aggregate.Run) []audit.MetricKey {
	keys := make([]audit.MetricKey, 0, len(aggregate.AllKeys))

	for _, key := range aggregate.AllKeys {
		for _, rec := range run.Records {
			if rec.Variant.Has(key) {
				keys = append(keys, key)

				break
			}
		}
	}

	return keys
}

func renderText(w io.Writer, run aggregate.Run, opts summaryOptions) {
	fmt.Fprintln(w, runHeader(run, opts))
	fmt.Fprintln(w)

	for _, m := range aggregate.Summarize(run, aggregate.WidgetKeys, opts.Mode, opts.Bands) {
		fmt.Fprintf(w, "  %-26s %s\n", metricTitles[m.Key],
			severityColors[m.Severity].Sprint(formatAverage(m)))
	}

	fmt.Fprintln(w)

	keys := breakdownKeys(run)
	rows := aggregate.Rows(run, opts.Mode)

	header := []string{"PAGE", "MODE"}
	for _, key := range keys {
		header = append(header, metricColumns[key])
	}

	cells := make([][]string, 0, len(rows))
	severities := make([][]aggregate.Severity, 0, len(rows))

	for i := range rows {
		line := []string{rows[i].Name, rows[i].Mode.String()}
		sev := []aggregate.Severity{aggregate.Neutral, aggregate.Neutral}

		for _, key := range keys {
			v := rows[i].Metric(key)
			line = append(line, formatCell(v))
			sev = append(sev, opts.Bands.ClassifyValue(v))
		}

		cells = append(cells, line)
		severities = append(severities, sev)
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}

	for _, line := range cells {
		for i, c := range line {
			widths[i] = max(widths[i], len(c))
		}
	}

	// Pad before coloring so escape codes do not skew alignment.
	writeLine := func(line []string, sev []aggregate.Severity) {
		parts := make([]string, len(line))
		for i, c := range line {
			padded := fmt.Sprintf("%-*s", widths[i], c)
			if sev != nil {
				padded = severityColors[sev[i]].Sprint(padded)
			}

			parts[i] = padded
		}

		fmt.Fprintln(w, strings.TrimRight("  "+strings.Join(parts, "  "), " "))
	}

	writeLine(header, nil)

	for i := range cells {
		writeLine(cells[i], severities[i])
	}
}

func renderMarkdown(w io.Writer, run aggregate.Run, opts summaryOptions) {
	fmt.Fprintf(w, "## %s\n\n", runHeader(run, opts))

	fmt.Fprintln(w, "| Metric | Average |")
	fmt.Fprintln(w, "| --- | ---: |")

	for _, m := range aggregate.Summarize(run, aggregate.WidgetKeys, opts.Mode, opts.Bands) {
		fmt.Fprintf(w, "| %s | %s%s |\n", metricTitles[m.Key], severityMarks[m.Severity], formatAverage(m))
	}

	fmt.Fprintln(w)

	keys := breakdownKeys(run)

	fmt.Fprint(w, "| Page | Mode |")

	for _, key := range keys {
		fmt.Fprintf(w, " %s |", metricColumns[key])
	}

	fmt.Fprint(w, "\n| --- | --- |")
	fmt.Fprint(w, strings.Repeat(" --- |", len(keys)))
	fmt.Fprintln(w)

	rows := aggregate.Rows(run, opts.Mode)
	for i := range rows {
		fmt.Fprintf(w, "| %s | %s |", rows[i].Name, rows[i].Mode)

		for _, key := range keys {
			v := rows[i].Metric(key)
			fmt.Fprintf(w, " %s%s |", severityMarks[opts.Bands.ClassifyValue(v)], formatCell(v))
		}

		fmt.Fprintln(w)
	}
}
