// Package health samples host resource usage for the operator health view.
package health

import (
	"context"
	"path/filepath"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// DefaultCPUSample is how long Collect measures CPU usage.
const DefaultCPUSample = 200 * time.Millisecond

// Metrics is one sample of host and process usage.
type Metrics struct {
	CPUUsage       float64 `json:"cpu_usage"`
	MemoryUsage    float64 `json:"memory_usage"`
	DiskPath       string  `json:"disk_path"`
	DiskUsage      float64 `json:"disk_usage"`
	DiskFreeBytes  uint64  `json:"disk_free_bytes"`
	DiskTotalBytes uint64  `json:"disk_total_bytes"`
	Goroutines     int     `json:"goroutines"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
}

// Collector samples the volume that holds the data directory.
type Collector struct {
	startTime time.Time
	diskPath  string
	cpuSample time.Duration
}

// NewCollector creates a Collector for dataPath. A file path is reduced to its
// directory; an empty path samples the root filesystem.
func NewCollector(dataPath string) *Collector {
	return &Collector{
		startTime: time.Now(),
		diskPath:  diskPathFor(dataPath),
		cpuSample: DefaultCPUSample,
	}
}

func diskPathFor(dataPath string) string {
	if dataPath == "" {
		if runtime.GOOS == "windows" {
			return "C:\\"
		}
		return "/"
	}
	abs, err := filepath.Abs(dataPath)
	if err != nil {
		return filepath.Dir(dataPath)
	}
	return filepath.Dir(abs)
}

// Collect gathers a sample. Individual probes that fail leave their fields zero.
func (c *Collector) Collect(ctx context.Context) (*Metrics, error) {
	m := &Metrics{
		DiskPath:      c.diskPath,
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
	}

	if pct, err := cpu.PercentWithContext(ctx, c.cpuSample, false); err == nil && len(pct) > 0 {
		m.CPUUsage = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemoryUsage = vm.UsedPercent
	}

	if du, err := disk.UsageWithContext(ctx, c.diskPath); err == nil {
		m.DiskUsage = du.UsedPercent
		m.DiskFreeBytes = du.Free
		m.DiskTotalBytes = du.Total
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m, nil
}
