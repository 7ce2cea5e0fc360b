package auditor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/errkind"
	"github.com/sirupsen/logrus"
)

// stderrTailLines is how much Lighthouse stderr is kept for error messages.
const stderrTailLines = 20

// buildArgs renders the Lighthouse CLI arguments for a profile.
func buildArgs(profile audit.Profile, port int, extra []string) []string {
	args := []string{
		profile.URL,
		"--port=" + strconv.Itoa(port),
		"--output=json",
		"--output-path=stdout",
		"--quiet",
		"--throttling.rttMs=" + formatFloat(profile.Throttling.RTTMs),
		"--throttling.throughputKbps=" + formatFloat(profile.Throttling.ThroughputKbps),
		"--throttling.cpuSlowdownMultiplier=" + formatFloat(profile.Throttling.CPUSlowdownMultiplier),
	}

	if len(profile.Categories) > 0 {
		args = append(args, "--only-categories="+strings.Join(profile.Categories, ","))
	}

	// Mobile is the Lighthouse default emulation.
	if profile.Mode == audit.ModeDesktop {
		args = append(args, "--preset=desktop")
	}

	return append(args, extra...)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// run executes the CLI and returns its stdout.
func (l *lighthouse) run(ctx context.Context, args []string) ([]byte, error) {
	log := l.log.WithField("url", args[0])

	var stdout bytes.Buffer

	stderr := &tailWriter{log: log, max: stderrTailLines}

	cmd := exec.CommandContext(ctx, l.cfg.LighthouseBin, args...) //nolint:gosec // operator configured binary
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	started := time.Now()

	log.WithField("args", strings.Join(args[1:], " ")).Debug("Running lighthouse")

	if err := cmd.Run(); err != nil {
		if tail := stderr.Tail(); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}

		return nil, errkind.FromContext(ctx, errkind.Audit, "lighthouse "+args[0], err)
	}

	if stdout.Len() == 0 {
		return nil, errkind.New(errkind.Audit, "lighthouse "+args[0], fmt.Errorf("empty report"))
	}

	log.WithFields(logrus.Fields{
		"duration": time.Since(started).Round(time.Millisecond),
		"size":     units.HumanSize(float64(stdout.Len())),
	}).Debug("Lighthouse finished")

	return stdout.Bytes(), nil
}

// tailWriter forwards Lighthouse stderr to the debug log line by line and
// keeps the last lines for error reporting.
type tailWriter struct {
	log logrus.FieldLogger
	max int

	mu    sync.Mutex
	buf   []byte
	lines []string
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)

	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}

		w.push(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}

	return len(p), nil
}

func (w *tailWriter) push(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}

	w.log.Debug("[lighthouse] " + line)

	w.lines = append(w.lines, line)
	if len(w.lines) > w.max {
		w.lines = w.lines[len(w.lines)-w.max:]
	}
}

// Tail returns the retained stderr lines, including an unterminated one.
func (w *tailWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.push(string(w.buf))
		w.buf = nil
	}

	return strings.Join(w.lines, "; ")
}
