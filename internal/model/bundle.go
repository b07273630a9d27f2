package model

import (
	"time"

	"github.com/Dicklesworthstone/sysmoni/internal/severity"
)

// Unit is the display unit of a Metric value.
type Unit string

const (
	UnitPercent     Unit = "%"
	UnitBytes       Unit = "B"
	UnitBytesPerSec Unit = "B/s"
	UnitOpsPerSec   Unit = "ops/s"
	UnitCelsius     Unit = "°C"
	UnitMHz         Unit = "MHz"
	UnitNone        Unit = ""
)

// Metric names. Classified names share their key with the threshold table.
const (
	MetricCPUUsage   = severity.CPUUsage
	MetricCPUCore    = severity.CPUCore
	MetricCPUTemp    = severity.CPUTemp
	MetricCPUFreq    = "cpu_freq"
	MetricLoad1      = "load1"
	MetricLoad5      = "load5"
	MetricLoad15     = "load15"
	MetricMemUsage   = severity.MemUsage
	MetricMemUsed    = "mem_used"
	MetricMemTotal   = "mem_total"
	MetricSwapUsage  = severity.SwapUsage
	MetricSwapUsed   = "swap_used"
	MetricSwapTotal  = "swap_total"
	MetricDiskUsage  = severity.DiskUsage
	MetricDiskUsed   = "disk_used"
	MetricDiskTotal  = "disk_total"
	MetricDiskRead   = "disk_read"
	MetricDiskWrite  = "disk_write"
	MetricDiskROps   = "disk_read_ops"
	MetricDiskWOps   = "disk_write_ops"
	MetricNetTx      = "net_tx"
	MetricNetRx      = "net_rx"
	MetricGPUUtil    = severity.GPUUtil
	MetricGPUMem     = severity.GPUMem
	MetricGPUTemp    = severity.GPUTemp
	MetricBattery    = severity.Battery
	MetricProcessCPU = severity.ProcessCPU
	MetricProcessMem = severity.ProcessMem
)

// Metric is one derived, display-ready value.
type Metric struct {
	Name       string         `json:"name"`
	Label      string         `json:"label,omitempty"`
	Value      float64        `json:"value"`
	Unit       Unit           `json:"unit,omitempty"`
	Severity   severity.Level `json:"severity"`
	Classified bool           `json:"classified"`
	Available  bool           `json:"available"`
}

// NewMetric returns an available, unclassified metric.
func NewMetric(name string, value float64, unit Unit) Metric {
	return Metric{Name: name, Value: value, Unit: unit, Available: true}
}

// GPUMetrics groups the derived values of one GPU.
type GPUMetrics struct {
	Index      int      `json:"index"`
	Name       string   `json:"name"`
	Util       Metric   `json:"util"`
	Mem        Metric   `json:"mem"`
	Temp       Metric   `json:"temp"`
	MemUsedMB  *float64 `json:"mem_used_mb,omitempty"`
	MemTotalMB *float64 `json:"mem_total_mb,omitempty"`
}

// InterfaceMetrics groups throughput of one network interface.
type InterfaceMetrics struct {
	Name string `json:"name"`
	Addr string `json:"addr,omitempty"`
	Up   bool   `json:"up"`
	Tx   Metric `json:"tx"`
	Rx   Metric `json:"rx"`
}

// ProcessMetrics is one row of the top process table.
type ProcessMetrics struct {
	PID  int32  `json:"pid"`
	Name string `json:"name"`
	CPU  Metric `json:"cpu"`
	Mem  Metric `json:"mem"`
}

// HostInfo is static host identity for the header.
type HostInfo struct {
	Hostname string        `json:"hostname"`
	OS       string        `json:"os"`
	Kernel   string        `json:"kernel,omitempty"`
	Uptime   time.Duration `json:"uptime_ns"`
	Procs    uint64        `json:"procs"`
}

// BatteryInfo is the battery charge plus charging state.
type BatteryInfo struct {
	Charge   Metric `json:"charge"`
	Charging bool   `json:"charging"`
	State    string `json:"state,omitempty"`
}

// Regression records a cumulative counter that went backwards.
type Regression struct {
	Counter  string  `json:"counter"`
	Previous float64 `json:"previous"`
	Current  float64 `json:"current"`
}

// Bundle is the complete set of derived metrics for one tick.
type Bundle struct {
	Taken       time.Time          `json:"taken"`
	Elapsed     time.Duration      `json:"elapsed_ns"`
	First       bool               `json:"first"`
	Metrics     map[string]Metric  `json:"metrics"`
	Cores       []Metric           `json:"cores,omitempty"`
	GPUs        []GPUMetrics       `json:"gpus,omitempty"`
	Interfaces  []InterfaceMetrics `json:"interfaces,omitempty"`
	Processes   []ProcessMetrics   `json:"processes,omitempty"`
	Host        *HostInfo          `json:"host,omitempty"`
	Battery     *BatteryInfo       `json:"battery,omitempty"`
	Omitted     []Family           `json:"omitted,omitempty"`
	Regressions []Regression       `json:"regressions,omitempty"`
}

// Get returns the named metric, or an unavailable Metric if it was omitted.
func (b Bundle) Get(name string) Metric {
	if m, ok := b.Metrics[name]; ok {
		return m
	}
	return Metric{Name: name}
}

// Has reports whether the named metric is present.
func (b Bundle) Has(name string) bool {
	_, ok := b.Metrics[name]
	return ok
}

// Omits reports whether family f was left out of this bundle.
func (b Bundle) Omits(f Family) bool {
	for _, o := range b.Omitted {
		if o == f {
			return true
		}
	}
	return false
}

// ApplySeverity tags every metric that has an entry in t.
func (b *Bundle) ApplySeverity(t severity.Table) {
	for name, m := range b.Metrics {
		tag(&m, t)
		b.Metrics[name] = m
	}
	for i := range b.Cores {
		tag(&b.Cores[i], t)
	}
	for i := range b.GPUs {
		tag(&b.GPUs[i].Util, t)
		tag(&b.GPUs[i].Mem, t)
		tag(&b.GPUs[i].Temp, t)
	}
	for i := range b.Interfaces {
		tag(&b.Interfaces[i].Tx, t)
		tag(&b.Interfaces[i].Rx, t)
	}
	for i := range b.Processes {
		tag(&b.Processes[i].CPU, t)
		tag(&b.Processes[i].Mem, t)
	}
	if b.Battery != nil {
		tag(&b.Battery.Charge, t)
	}
}

func tag(m *Metric, t severity.Table) {
	if !m.Available {
		return
	}
	m.Severity, m.Classified = t.Classify(m.Name, m.Value)
}
