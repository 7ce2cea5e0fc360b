package auditor

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/sirupsen/logrus"
)

// NewChrome returns a Browser that launches a local headless Chrome.
// An empty bin lets the launcher find or download a browser.
func NewChrome(log logrus.FieldLogger, bin string, extraFlags []string) Browser {
	return &chrome{
		log:   log.WithField("browser", "chrome"),
		bin:   bin,
		flags: extraFlags,
	}
}

type chrome struct {
	log   logrus.FieldLogger
	bin   string
	flags []string

	mu      sync.Mutex
	lnch    *launcher.Launcher
	browser *rod.Browser
}

// Launch starts Chrome with remote debugging enabled and returns the port.
func (c *chrome) Launch(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := launcher.New().Context(ctx).Headless(true)
	if c.bin != "" {
		l = l.Bin(c.bin)
	}

	for _, f := range c.flags {
		name, value := parseFlag(f)
		if name == "" {
			continue
		}

		if value == "" {
			l = l.Set(flags.Flag(name))
		} else {
			l = l.Set(flags.Flag(name), value)
		}
	}

	wsURL, err := l.Launch()
	if err != nil {
		return 0, fmt.Errorf("launch: %w", err)
	}

	port, err := debugPort(wsURL)
	if err != nil {
		l.Kill()
		l.Cleanup()

		return 0, err
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()

		return 0, fmt.Errorf("connect: %w", err)
	}

	if v, err := b.Version(); err == nil {
		c.log.WithFields(logrus.Fields{
			"product":    v.Product,
			"user_agent": v.UserAgent,
		}).Debug("Connected to chrome")
	}

	c.lnch = l
	c.browser = b

	return port, nil
}

// Close shuts the browser down and removes its temporary profile.
func (c *chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var closeErr error

	if c.browser != nil {
		closeErr = c.browser.Close()
		c.browser = nil
	}

	if c.lnch != nil {
		c.lnch.Kill()
		c.lnch.Cleanup()
		c.lnch = nil
	}

	return closeErr
}

// parseFlag splits "--name=value" into its parts.
func parseFlag(s string) (string, string) {
	s = strings.TrimLeft(strings.TrimSpace(s), "-")
	name, value, _ := strings.Cut(s, "=")

	return name, value
}

// debugPort extracts the port from a DevTools websocket URL.
func debugPort(wsURL string) (int, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return 0, fmt.Errorf("parsing devtools url %q: %w", wsURL, err)
	}

	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("devtools url %q has no port", wsURL)
	}

	return port, nil
}
