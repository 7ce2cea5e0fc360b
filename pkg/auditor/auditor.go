// Package auditor runs Lighthouse performance audits against a Chrome
// instance owned for the duration of a sweep.
package auditor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/sirupsen/logrus"
)

// ErrNotStarted is returned by Audit before Start or after Stop.
var ErrNotStarted = errors.New("auditor not started")

// Auditor produces raw audit reports.
type Auditor interface {
	// Start acquires the browser. It must be paired with Stop.
	Start(ctx context.Context) error
	Stop() error

	// Audit runs one audit and returns the raw JSON report.
	Audit(ctx context.Context, profile audit.Profile) ([]byte, error)
}

// Config for the Lighthouse auditor.
type Config struct {
	LighthouseBin string
	ChromeBin     string
	ChromeFlags   []string
	ExtraArgs     []string
}

// Browser is the debuggable Chrome instance Lighthouse attaches to.
type Browser interface {
	// Launch starts the browser and returns its remote debugging port.
	Launch(ctx context.Context) (int, error)
	Close() error
}

// NewLighthouse creates an auditor that shells out to the Lighthouse CLI.
// A nil browser launches a local headless Chrome.
func NewLighthouse(log logrus.FieldLogger, cfg *Config, browser Browser) Auditor {
	log = log.WithField("component", "auditor")

	if browser == nil {
		browser = NewChrome(log, cfg.ChromeBin, cfg.ChromeFlags)
	}

	return &lighthouse{
		log:     log,
		cfg:     cfg,
		browser: browser,
	}
}

type lighthouse struct {
	log     logrus.FieldLogger
	cfg     *Config
	browser Browser

	mu   sync.Mutex
	port int
}

// Ensure interface compliance.
var _ Auditor = (*lighthouse)(nil)

// Start launches the browser.
func (l *lighthouse) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port != 0 {
		return fmt.Errorf("auditor already started")
	}

	started := time.Now()

	port, err := l.browser.Launch(ctx)
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}

	l.port = port

	l.log.WithFields(logrus.Fields{
		"port":     port,
		"duration": time.Since(started),
	}).Info("Browser launched")

	return nil
}

// Stop closes the browser. Calling Stop without Start is a no-op.
func (l *lighthouse) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == 0 {
		return nil
	}

	l.port = 0

	if err := l.browser.Close(); err != nil {
		return fmt.Errorf("closing browser: %w", err)
	}

	l.log.Debug("Browser closed")

	return nil
}

// Audit runs Lighthouse against the profile's URL.
func (l *lighthouse) Audit(ctx context.Context, profile audit.Profile) ([]byte, error) {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()

	if port == 0 {
		return nil, ErrNotStarted
	}

	return l.run(ctx, buildArgs(profile, port, l.cfg.ExtraArgs))
}
