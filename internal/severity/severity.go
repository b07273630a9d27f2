// Package severity classifies derived metric values against warning and
// critical thresholds.
package severity

import "math"

// Level is the severity of a single metric value.
type Level int

const (
	Normal Level = iota
	Warning
	Critical
)

// String returns the lowercase name of the level.
func (l Level) String() string {
	switch l {
	case Normal:
		return "normal"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText lets levels appear by name in JSON output.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Default percentage thresholds, matching the green/yellow/red scheme.
const (
	WarningThreshold  = 70.0
	CriticalThreshold = 90.0
)

// Thresholds is a warning/critical pair. When Descending is set, lower values
// are worse (battery charge).
type Thresholds struct {
	Warning    float64 `mapstructure:"warning" json:"warning"`
	Critical   float64 `mapstructure:"critical" json:"critical"`
	Descending bool    `mapstructure:"descending" json:"descending,omitempty"`
}

// Percent is the default threshold pair for percentage metrics.
var Percent = Thresholds{Warning: WarningThreshold, Critical: CriticalThreshold}

// Classify maps value to a Level. NaN is Normal.
func Classify(value float64, t Thresholds) Level {
	if math.IsNaN(value) {
		return Normal
	}
	if t.Descending {
		switch {
		case value <= t.Critical:
			return Critical
		case value <= t.Warning:
			return Warning
		default:
			return Normal
		}
	}
	switch {
	case value >= t.Critical:
		return Critical
	case value >= t.Warning:
		return Warning
	default:
		return Normal
	}
}

// Table maps metric names to thresholds. Metrics without an entry are
// display-only.
type Table map[string]Thresholds

// Metric names with default thresholds.
const (
	CPUUsage   = "cpu_usage"
	CPUCore    = "cpu_core"
	CPUTemp    = "cpu_temp"
	MemUsage   = "mem_usage"
	SwapUsage  = "swap_usage"
	DiskUsage  = "disk_usage"
	GPUUtil    = "gpu_util"
	GPUMem     = "gpu_mem"
	GPUTemp    = "gpu_temp"
	Battery    = "battery"
	ProcessCPU = "proc_cpu"
	ProcessMem = "proc_mem"
)

// DefaultTable returns the built-in threshold table.
func DefaultTable() Table {
	temp := Thresholds{Warning: 60, Critical: 80}
	return Table{
		CPUUsage:   Percent,
		CPUCore:    Percent,
		CPUTemp:    temp,
		MemUsage:   Percent,
		SwapUsage:  Percent,
		DiskUsage:  Percent,
		GPUUtil:    Percent,
		GPUMem:     Percent,
		GPUTemp:    temp,
		Battery:    {Warning: 50, Critical: 20, Descending: true},
		ProcessCPU: Percent,
		ProcessMem: Percent,
	}
}

// Merge returns a copy of t with overrides applied on top.
func (t Table) Merge(overrides Table) Table {
	out := make(Table, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Classify looks up name and classifies value. ok is false when name has no
// thresholds.
func (t Table) Classify(name string, value float64) (level Level, ok bool) {
	th, ok := t[name]
	if !ok {
		return Normal, false
	}
	return Classify(value, th), true
}
