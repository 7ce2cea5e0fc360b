// Package hostinfo samples host load before a sweep. Audit scores depend on
// available CPU, so a busy host is reported next to the results.
package hostinfo

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/docker/go-units"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

// DefaultSampleInterval is how long CPU usage is measured.
const DefaultSampleInterval = time.Second

// Snapshot is a point-in-time view of host resources.
type Snapshot struct {
	CPUs           int
	CPUPercent     float64
	Load1          float64
	Load5          float64
	MemTotal       uint64
	MemAvailable   uint64
	MemUsedPercent float64
}

// Busy reports whether CPU usage exceeds threshold percent. A threshold
// <= 0 disables the check.
func (s *Snapshot) Busy(threshold float64) bool {
	return threshold > 0 && s.CPUPercent > threshold
}

// Fields renders the snapshot for structured logging.
func (s *Snapshot) Fields() logrus.Fields {
	return logrus.Fields{
		"cpus":          s.CPUs,
		"cpu_percent":   fmt.Sprintf("%.1f", s.CPUPercent),
		"load1":         s.Load1,
		"load5":         s.Load5,
		"mem_total":     units.BytesSize(float64(s.MemTotal)),
		"mem_available": units.BytesSize(float64(s.MemAvailable)),
		"mem_used":      fmt.Sprintf("%.1f%%", s.MemUsedPercent),
	}
}

// Probe samples host resources.
type Probe interface {
	Sample(ctx context.Context) (*Snapshot, error)
}

// NewProbe creates a gopsutil backed probe.
func NewProbe(log logrus.FieldLogger, interval time.Duration) Probe {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}

	return &probe{
		log:      log.WithField("component", "hostinfo"),
		interval: interval,
	}
}

type probe struct {
	log      logrus.FieldLogger
	interval time.Duration
}

// Ensure interface compliance.
var _ Probe = (*probe)(nil)

// Sample measures CPU over the probe interval. Load averages are optional
// since not every platform reports them.
func (p *probe) Sample(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CPUs: runtime.NumCPU()}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		snap.CPUs = n
	}

	percents, err := cpu.PercentWithContext(ctx, p.interval, false)
	if err != nil {
		return nil, fmt.Errorf("sampling cpu usage: %w", err)
	}

	if len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading memory stats: %w", err)
	}

	snap.MemTotal = vm.Total
	snap.MemAvailable = vm.Available
	snap.MemUsedPercent = vm.UsedPercent

	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.Load1 = avg.Load1
		snap.Load5 = avg.Load5
	} else {
		p.log.WithError(err).Debug("Load average unavailable")
	}

	return snap, nil
}
