package auditor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/errkind"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBrowser struct {
	port     int
	launched int
	closed   int
}

func (b *stubBrowser) Launch(context.Context) (int, error) {
	b.launched++

	return b.port, nil
}

func (b *stubBrowser) Close() error {
	b.closed++

	return nil
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// fakeLighthouse writes an executable shell script standing in for the CLI.
func fakeLighthouse(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "lighthouse")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))

	return path
}

func TestBuildArgs(t *testing.T) {
	page := audit.Page{Name: "homepage", URL: "https://example.com/"}

	mobile := buildArgs(audit.NewProfile(page, audit.ModeMobile, audit.DefaultThrottling), 9222, nil)
	assert.Equal(t, []string{
		"https://example.com/",
		"--port=9222",
		"--output=json",
		"--output-path=stdout",
		"--quiet",
		"--throttling.rttMs=50",
		"--throttling.throughputKbps=3840",
		"--throttling.cpuSlowdownMultiplier=1",
		"--only-categories=performance",
	}, mobile)

	throttling := audit.Throttling{RTTMs: 150, ThroughputKbps: 1638.4, CPUSlowdownMultiplier: 4}
	desktop := buildArgs(
		audit.NewProfile(page, audit.ModeDesktop, throttling), 9333, []string{"--locale=sk"},
	)
	assert.Contains(t, desktop, "--preset=desktop")
	assert.Contains(t, desktop, "--throttling.throughputKbps=1638.4")
	assert.Equal(t, "--locale=sk", desktop[len(desktop)-1])
	assert.NotContains(t, mobile, "--preset=desktop")
}

func TestDebugPort(t *testing.T) {
	port, err := debugPort("ws://127.0.0.1:41235/devtools/browser/3f0c")
	require.NoError(t, err)
	assert.Equal(t, 41235, port)

	_, err = debugPort("ws://127.0.0.1/devtools/browser/3f0c")
	assert.Error(t, err)
}

func TestParseFlag(t *testing.T) {
	tests := []struct {
		in, name, value string
	}{
		{in: "--no-sandbox", name: "no-sandbox"},
		{in: "--window-size=1350,940", name: "window-size", value: "1350,940"},
		{in: "disable-gpu", name: "disable-gpu"},
		{in: "  ", name: ""},
	}

	for _, tt := range tests {
		name, value := parseFlag(tt.in)
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.value, value, tt.in)
	}
}

func TestLighthouse_Lifecycle(t *testing.T) {
	browser := &stubBrowser{port: 9222}
	bin := fakeLighthouse(t, `echo '{"audits":{}}'`)
	a := NewLighthouse(testLogger(), &Config{LighthouseBin: bin}, browser)

	profile := audit.NewProfile(audit.Page{Name: "p", URL: "https://example.com/"}, audit.ModeMobile, audit.DefaultThrottling)

	_, err := a.Audit(context.Background(), profile)
	require.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, a.Start(context.Background()))
	assert.Error(t, a.Start(context.Background()), "double start")

	raw, err := a.Audit(context.Background(), profile)
	require.NoError(t, err)
	assert.JSONEq(t, `{"audits":{}}`, string(raw))

	require.NoError(t, a.Stop())
	require.NoError(t, a.Stop())

	assert.Equal(t, 1, browser.launched)
	assert.Equal(t, 1, browser.closed)
}

func TestLighthouse_PassesArguments(t *testing.T) {
	// The fake CLI echoes its port argument back inside a report.
	bin := fakeLighthouse(t, `printf '{"port":"%s"}' "$2"`)
	a := NewLighthouse(testLogger(), &Config{LighthouseBin: bin}, &stubBrowser{port: 4444})

	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop() })

	raw, err := a.Audit(context.Background(), audit.Profile{URL: "https://example.com/", Mode: audit.ModeDesktop})
	require.NoError(t, err)
	assert.JSONEq(t, `{"port":"--port=4444"}`, string(raw))
}

func TestLighthouse_Failures(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		timeout time.Duration
		kind    error
		message string
	}{
		{
			name:    "non-zero exit",
			script:  "echo 'Runtime error encountered: net::ERR_NAME_NOT_RESOLVED' >&2\nexit 1",
			kind:    errkind.ErrAudit,
			message: "ERR_NAME_NOT_RESOLVED",
		},
		{
			name:    "empty output",
			script:  "exit 0",
			kind:    errkind.ErrAudit,
			message: "empty report",
		},
		{
			name:    "deadline",
			script:  "exec sleep 5",
			timeout: 100 * time.Millisecond,
			kind:    errkind.ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewLighthouse(testLogger(), &Config{LighthouseBin: fakeLighthouse(t, tt.script)}, &stubBrowser{port: 1})
			require.NoError(t, a.Start(context.Background()))
			t.Cleanup(func() { _ = a.Stop() })

			ctx := context.Background()

			if tt.timeout > 0 {
				var cancel context.CancelFunc

				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}

			_, err := a.Audit(ctx, audit.Profile{URL: "https://unreachable.invalid/"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}
}

func TestTailWriter_KeepsLastLines(t *testing.T) {
	w := &tailWriter{log: testLogger(), max: 2}

	_, _ = w.Write([]byte("one\ntwo\nthr"))
	_, _ = w.Write([]byte("ee\nfour"))

	assert.Equal(t, "three; four", w.Tail())
}
