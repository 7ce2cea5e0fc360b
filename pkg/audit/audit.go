// Package audit holds the data model shared by the sweep pipeline: device
// modes, pages, audit profiles, run identifiers and extracted metric records.
package audit

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Mode is a device emulation profile.
type Mode string

const (
	// ModeDesktop emulates a desktop browser.
	ModeDesktop Mode = "desktop"

	// ModeMobile emulates a mobile device. It is the auditor default.
	ModeMobile Mode = "mobile"
)

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDesktop, ModeMobile:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (use %q or %q)", s, ModeDesktop, ModeMobile)
	}
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	return string(m)
}

// pageNamePattern restricts page names to characters that are safe in
// artifact file names.
var pageNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Page is a single audited page.
type Page struct {
	Name string `yaml:"name" mapstructure:"name" json:"name"`
	URL  string `yaml:"url" mapstructure:"url" json:"url"`
}

// Validate checks that the page can be audited and named on disk.
func (p Page) Validate() error {
	if !pageNamePattern.MatchString(p.Name) {
		return fmt.Errorf("invalid page name %q", p.Name)
	}

	if p.URL == "" {
		return fmt.Errorf("page %q: url is required", p.Name)
	}

	return nil
}

// Throttling describes the simulated network and CPU conditions.
type Throttling struct {
	RTTMs                 float64 `yaml:"rtt_ms" mapstructure:"rtt_ms" json:"rttMs"`
	ThroughputKbps        float64 `yaml:"throughput_kbps" mapstructure:"throughput_kbps" json:"throughputKbps"`
	CPUSlowdownMultiplier float64 `yaml:"cpu_slowdown_multiplier" mapstructure:"cpu_slowdown_multiplier" json:"cpuSlowdownMultiplier"`
}

// DefaultThrottling is the fast-broadband profile audits run with unless
// configured otherwise.
var DefaultThrottling = Throttling{
	RTTMs:                 50,
	ThroughputKbps:        3840,
	CPUSlowdownMultiplier: 1,
}

// CategoryPerformance is the only audit category requested.
const CategoryPerformance = "performance"

// Profile is the configuration of one audit invocation.
type Profile struct {
	URL        string
	Mode       Mode
	Throttling Throttling
	Categories []string
}

// NewProfile builds the profile for one page x mode cell.
func NewProfile(page Page, mode Mode, throttling Throttling) Profile {
	return Profile{
		URL:        page.URL,
		Mode:       mode,
		Throttling: throttling,
		Categories: []string{CategoryPerformance},
	}
}

// RunID identifies a sweep. It is the sweep start time in Unix milliseconds.
type RunID int64

// NewRunID derives a run id from a wall-clock time.
func NewRunID(t time.Time) RunID {
	return RunID(t.UnixMilli())
}

// ParseRunID parses the decimal form of a run id.
func ParseRunID(s string) (RunID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid run id %q", s)
	}

	return RunID(v), nil
}

// String returns the decimal form used in paths and file names.
func (r RunID) String() string {
	return strconv.FormatInt(int64(r), 10)
}

// Time returns the wall-clock time the run started.
func (r RunID) Time() time.Time {
	return time.UnixMilli(int64(r))
}
