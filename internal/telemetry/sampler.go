package telemetry

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sampler is the default Source, reading live host utilization via
// gopsutil.
type Sampler struct {
	// DiskPath is the mount point to report disk usage for. Defaults to "/"
	// (or the OS equivalent root) when empty.
	DiskPath string
}

func NewSampler(diskPath string) *Sampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Sampler{DiskPath: diskPath}
}

// Sample reads a one-shot CPU/RAM/disk snapshot. The CPU read uses a zero
// measurement interval: it does not block, and the percentage is computed
// against the CPU times seen by the previous call.
func (s *Sampler) Sample() (Sample, error) {
	percents, err := cpu.PercentWithContext(context.Background(), 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("telemetry: cpu sample failed: %w", err)
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(context.Background())
	if err != nil {
		return Sample{}, fmt.Errorf("telemetry: memory sample failed: %w", err)
	}

	du, err := disk.UsageWithContext(context.Background(), s.DiskPath)
	if err != nil {
		return Sample{}, fmt.Errorf("telemetry: disk sample failed: %w", err)
	}

	return Sample{
		CPUPercent:  cpuPct,
		RAMPercent:  vm.UsedPercent,
		DiskPercent: du.UsedPercent,
	}, nil
}
