package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/pageaudit/pkg/aggregate"
	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/config"
	"github.com/ethpandaops/pageaudit/pkg/errkind"
	"github.com/ethpandaops/pageaudit/pkg/hostinfo"
	"github.com/ethpandaops/pageaudit/pkg/reportstore"
	"github.com/ethpandaops/pageaudit/pkg/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testPages = []audit.Page{
		{Name: "homepage", URL: "https://www.example.com/"},
		{Name: "forum", URL: "https://www.example.com/forum/"},
	}
	bothModes = []audit.Mode{audit.ModeMobile, audit.ModeDesktop}
	fixedTime = time.UnixMilli(1700000000000)
)

func report(score float64) []byte {
	return []byte(fmt.Sprintf(`{
		"lighthouseVersion": "9.6.8",
		"requestedUrl": "https://www.example.com/",
		"finalUrl": "https://www.example.com/",
		"audits": {
			"first-contentful-paint": {"score": %[1]v, "displayValue": "1.0 s"},
			"largest-contentful-paint": {"score": %[1]v, "displayValue": "2.0 s"},
			"first-meaningful-paint": {"score": %[1]v, "displayValue": "1.1 s"},
			"cumulative-layout-shift": {"score": 1, "displayValue": "0"},
			"speed-index": {"score": %[1]v, "displayValue": "1.5 s"},
			"interactive": {"score": %[1]v, "displayValue": "3.0 s"}
		}
	}`, score))
}

type call struct {
	url  string
	mode audit.Mode
}

// stubAuditor returns canned reports and records its lifecycle.
type stubAuditor struct {
	mu     sync.Mutex
	starts int
	stops  int
	calls  []call

	// respond overrides the default report for a call index.
	respond func(ctx context.Context, i int, p audit.Profile) ([]byte, error)
}

func (s *stubAuditor) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.starts++

	return nil
}

func (s *stubAuditor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stops++

	return nil
}

func (s *stubAuditor) Audit(ctx context.Context, p audit.Profile) ([]byte, error) {
	s.mu.Lock()
	i := len(s.calls)
	s.calls = append(s.calls, call{url: p.URL, mode: p.Mode})
	s.mu.Unlock()

	if s.respond != nil {
		return s.respond(ctx, i, p)
	}

	return report(0.5), nil
}

type stubProbe struct{ sampled int }

func (p *stubProbe) Sample(context.Context) (*hostinfo.Snapshot, error) {
	p.sampled++

	return &hostinfo.Snapshot{CPUs: 4, CPUPercent: 90}, nil
}

type stubUploader struct{ dirs []string }

func (u *stubUploader) Preflight(context.Context) error { return nil }

func (u *stubUploader) UploadRun(_ context.Context, dir string) (int, error) {
	u.dirs = append(u.dirs, dir)

	return 4, nil
}

func (u *stubUploader) UploadSnapshot(context.Context, string, []byte) error { return nil }

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func setupStore(t *testing.T) (reportstore.Store, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "reports")
	s := reportstore.NewStore(testLogger(), &config.StorageConfig{
		ReportsDir: dir,
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
		},
	}, nil)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s, dir
}

func newTestRunner(
	aud *stubAuditor, store reportstore.Store, policy string, opts ...Option,
) Runner {
	opts = append([]Option{WithClock(func() time.Time { return fixedTime })}, opts...)

	return NewRunner(testLogger(), &Config{
		Variant:       audit.DualMode,
		Throttling:    audit.DefaultThrottling,
		FailurePolicy: policy,
		AuditTimeout:  time.Second,
	}, aud, store, opts...)
}

func TestRunSweep_FullMatrix(t *testing.T) {
	store, dir := setupStore(t)
	aud := &stubAuditor{}
	probe := &stubProbe{}
	uploader := &stubUploader{}
	metrics := telemetry.New()

	r := newTestRunner(aud, store, config.FailurePolicyFailFast,
		WithHostProbe(probe), WithUploader(uploader), WithMetrics(metrics))

	result, err := r.RunSweep(context.Background(), testPages, bothModes)
	require.NoError(t, err)

	assert.Equal(t, audit.RunID(1700000000000), result.RunID)
	assert.Equal(t, 4, result.Recorded())
	assert.Empty(t, result.Failures())

	// Modes outer, pages inner.
	assert.Equal(t, []call{
		{url: "https://www.example.com/", mode: audit.ModeMobile},
		{url: "https://www.example.com/forum/", mode: audit.ModeMobile},
		{url: "https://www.example.com/", mode: audit.ModeDesktop},
		{url: "https://www.example.com/forum/", mode: audit.ModeDesktop},
	}, aud.calls)

	assert.Equal(t, 1, aud.starts)
	assert.Equal(t, 1, aud.stops)
	assert.Equal(t, 1, probe.sampled)

	entries, err := os.ReadDir(filepath.Join(dir, "1700000000000"))
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	assert.ElementsMatch(t, []string{
		"1700000000000-homepage-mobile.json",
		"1700000000000-forum-mobile.json",
		"1700000000000-homepage-desktop.json",
		"1700000000000-forum-desktop.json",
	}, names)

	records, err := store.QueryMetricRecords(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 4)

	for _, rec := range records {
		assert.Equal(t, result.RunID, rec.RunID)
		assert.Equal(t, 0.5, rec.Metric(audit.FirstContentfulPaint).Score.Float64)
		assert.FileExists(t, filepath.Join(dir, rec.RunID.String(), rec.JSONFile))
	}

	runs := aggregate.GroupByRun(records)
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].ID)
	assert.Equal(t, 50.0, aggregate.Average(runs[0], audit.FirstContentfulPaint, ""))
	assert.Equal(t, 50.0, aggregate.Average(runs[0], audit.Interactive, audit.ModeDesktop))
	assert.Equal(t, 100.0, aggregate.Average(runs[0], audit.CumulativeLayoutShift, audit.ModeMobile))
	assert.Len(t, aggregate.Rows(runs[0], audit.ModeMobile), 2)

	assert.Equal(t, []string{filepath.Join(dir, "1700000000000")}, uploader.dirs)
	assert.Equal(t, 4, result.Uploaded)
}

func TestRunSweep_LegacyVariant(t *testing.T) {
	store, dir := setupStore(t)

	r := NewRunner(testLogger(), &Config{Variant: audit.LegacySingleMode}, &stubAuditor{}, store,
		WithClock(func() time.Time { return fixedTime }))

	_, err := r.RunSweep(context.Background(), testPages, bothModes)
	require.Error(t, err, "legacy requires one mode")

	result, err := r.RunSweep(context.Background(), testPages, []audit.Mode{audit.ModeDesktop})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Recorded())
	assert.FileExists(t, filepath.Join(dir, "1700000000000", "1700000000000-homepage.json"))

	records, err := store.QueryMetricRecords(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, audit.LegacySingleMode, records[0].Variant)
	assert.True(t, records[0].Metric(audit.FirstMeaningfulPaint).Present())
}

func TestRunSweep_FailFastKeepsPartialResults(t *testing.T) {
	store, _ := setupStore(t)
	aud := &stubAuditor{
		respond: func(_ context.Context, i int, _ audit.Profile) ([]byte, error) {
			if i == 2 {
				return nil, errkind.New(errkind.Audit, "lighthouse", errors.New("chrome crashed"))
			}

			return report(0.8), nil
		},
	}

	result, err := newTestRunner(aud, store, config.FailurePolicyFailFast).
		RunSweep(context.Background(), testPages, bothModes)
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrAudit)
	require.NotNil(t, result)

	assert.Len(t, aud.calls, 3, "sweep stops at the failing cell")
	assert.Equal(t, 2, result.Recorded())
	assert.Equal(t, 1, aud.stops, "auditor released on failure")

	records, err := store.QueryMetricRecords(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRunSweep_IsolateContinues(t *testing.T) {
	store, _ := setupStore(t)
	aud := &stubAuditor{
		respond: func(_ context.Context, i int, _ audit.Profile) ([]byte, error) {
			if i == 1 {
				return []byte(`<html>not a report</html>`), nil
			}

			return report(0.8), nil
		},
	}

	result, err := newTestRunner(aud, store, config.FailurePolicyIsolate).
		RunSweep(context.Background(), testPages, bothModes)
	require.NoError(t, err)

	assert.Len(t, aud.calls, 4)
	assert.Equal(t, 3, result.Recorded())

	failures := result.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "forum", failures[0].Page)
	assert.ErrorIs(t, failures[0].Err, errkind.ErrExtraction)
	assert.NotEmpty(t, failures[0].Path, "raw report kept for inspection")
}

func TestRunSweep_IsolateAllFailed(t *testing.T) {
	store, _ := setupStore(t)
	aud := &stubAuditor{
		respond: func(context.Context, int, audit.Profile) ([]byte, error) {
			return nil, errors.New("unreachable")
		},
	}

	result, err := newTestRunner(aud, store, config.FailurePolicyIsolate).
		RunSweep(context.Background(), testPages, bothModes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 4 audits failed")
	assert.ErrorIs(t, err, errkind.ErrAudit)
	assert.Equal(t, 0, result.Recorded())
}

func TestRunSweep_AuditTimeout(t *testing.T) {
	store, _ := setupStore(t)
	aud := &stubAuditor{
		respond: func(ctx context.Context, _ int, _ audit.Profile) ([]byte, error) {
			<-ctx.Done()

			return nil, ctx.Err()
		},
	}

	r := NewRunner(testLogger(), &Config{AuditTimeout: 20 * time.Millisecond}, aud, store)

	_, err := r.RunSweep(context.Background(), testPages[:1], []audit.Mode{audit.ModeMobile})
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrTimeout)
	assert.Equal(t, 1, aud.stops)
}

func TestRunSweep_Cancellation(t *testing.T) {
	store, _ := setupStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aud := &stubAuditor{
		respond: func(_ context.Context, i int, _ audit.Profile) ([]byte, error) {
			if i == 0 {
				cancel()
			}

			return report(0.4), nil
		},
	}

	result, err := newTestRunner(aud, store, config.FailurePolicyIsolate).
		RunSweep(ctx, testPages, bothModes)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, aud.calls, 1)
	assert.Equal(t, 1, aud.stops)
	require.NotNil(t, result)
}

func TestRunSweep_Validation(t *testing.T) {
	store, _ := setupStore(t)
	aud := &stubAuditor{}
	r := newTestRunner(aud, store, "")

	_, err := r.RunSweep(context.Background(), nil, bothModes)
	assert.Error(t, err)

	_, err = r.RunSweep(context.Background(), testPages, nil)
	assert.Error(t, err)

	_, err = r.RunSweep(context.Background(), []audit.Page{{Name: "../etc", URL: "x"}}, bothModes)
	assert.Error(t, err)

	samePage := []audit.Page{
		{Name: "homepage", URL: "https://www.example.com/a"},
		{Name: "homepage", URL: "https://www.example.com/b"},
	}
	_, err = r.RunSweep(context.Background(), samePage, []audit.Mode{audit.ModeMobile})
	assert.ErrorContains(t, err, "duplicate page name")

	_, err = r.RunSweep(context.Background(), testPages, []audit.Mode{audit.ModeMobile, audit.ModeMobile})
	assert.ErrorContains(t, err, "duplicate mode")

	records, err := store.QueryMetricRecords(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)

	assert.Zero(t, aud.starts, "auditor never started for invalid input")
}
