// Package telemetry samples host resource utilization for the
// status.update event.
package telemetry

// Sample is one CPU/RAM/disk utilization snapshot, each as a percentage.
type Sample struct {
	CPUPercent  float64
	RAMPercent  float64
	DiskPercent float64
}

// Source supplies utilization samples. Sampler is the default
// implementation; tests substitute fakes.
type Source interface {
	Sample() (Sample, error)
}
