// Package selfstatus collects the daemon's own process metrics (CPU, RSS,
// goroutine count, uptime) for the STATUS control command and the optional
// HTTP status endpoint. It never touches the registry or buckets directly —
// those are read separately by whatever assembles the STATUS response —
// this package only knows about the OS process the daemon is running in.
package selfstatus

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is one point-in-time read of the daemon's own resource usage.
type Snapshot struct {
	UptimeSeconds      int64
	Goroutines         int
	CPUPercent         float64
	MemoryRSSBytes     uint64
	MemoryRSSFormatted string
	Status             string // "healthy" or "degraded"
}

// Collector gathers self-process metrics with short-lived caching, so a
// burst of STATUS commands doesn't hammer gopsutil's /proc reads.
type Collector struct {
	startTime time.Time

	mu            sync.RWMutex
	cached        *Snapshot
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewCollector creates a Collector whose uptime is measured from now.
func NewCollector() *Collector {
	return &Collector{
		startTime:     time.Now(),
		cacheDuration: time.Second,
	}
}

// Snapshot returns the current self-process metrics, cached for up to one
// second.
func (c *Collector) Snapshot(ctx context.Context) Snapshot {
	c.mu.RLock()
	if c.cached != nil && time.Now().Before(c.cacheExpiry) {
		snap := *c.cached
		c.mu.RUnlock()
		return snap
	}
	c.mu.RUnlock()

	snap := c.collect()

	c.mu.Lock()
	c.cached = &snap
	c.cacheExpiry = time.Now().Add(c.cacheDuration)
	c.mu.Unlock()

	return snap
}

func (c *Collector) collect() Snapshot {
	snap := Snapshot{
		Status:        "healthy",
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			snap.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			snap.MemoryRSSBytes = mem.RSS
			snap.MemoryRSSFormatted = formatBytes(int64(mem.RSS))
		}
	}

	if snap.CPUPercent > 90 {
		snap.Status = "degraded"
	}

	return snap
}

// formatBytes converts bytes to a human-readable string. The daemon's own
// RSS never approaches a size where comma-grouped digits would matter, so
// unlike a multi-tenant store's formatBytes this has no need to hand-roll
// integer/float formatting; fmt.Sprintf covers it.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return formatUnit(float64(bytes)/GB, "GB")
	case bytes >= MB:
		return formatUnit(float64(bytes)/MB, "MB")
	case bytes >= KB:
		return formatUnit(float64(bytes)/KB, "KB")
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatUnit renders a scaled value with a precision that shrinks as the
// value grows, so "1.50 KB" stays readable next to "10.0 KB" and "512 MB"
// without ever printing more significant digits than the number warrants.
func formatUnit(v float64, unit string) string {
	switch {
	case v >= 100:
		return fmt.Sprintf("%.0f %s", v, unit)
	case v >= 10:
		return fmt.Sprintf("%.1f %s", v, unit)
	default:
		return fmt.Sprintf("%.2f %s", v, unit)
	}
}
