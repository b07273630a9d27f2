package model

import "time"

// Family names one independently acquired group of raw counters.
type Family string

const (
	FamilyCPU         Family = "cpu"
	FamilyFrequency   Family = "frequency"
	FamilyTemperature Family = "temperature"
	FamilyLoad        Family = "load"
	FamilyMemory      Family = "memory"
	FamilyDiskUsage   Family = "disk_usage"
	FamilyDiskIO      Family = "disk_io"
	FamilyNetwork     Family = "network"
	FamilyGPU         Family = "gpu"
	FamilyBattery     Family = "battery"
	FamilyHost        Family = "host"
	FamilyProcesses   Family = "processes"
)

// Families lists every family in display order.
var Families = []Family{
	FamilyCPU,
	FamilyFrequency,
	FamilyTemperature,
	FamilyLoad,
	FamilyMemory,
	FamilyDiskUsage,
	FamilyDiskIO,
	FamilyNetwork,
	FamilyGPU,
	FamilyBattery,
	FamilyHost,
	FamilyProcesses,
}

// Ticks holds cumulative CPU time in seconds. CPU is the name the OS gives
// the core ("cpu3"); per-core deltas pair ticks by it.
type Ticks struct {
	CPU   string
	Busy  float64
	Total float64
}

// CPU holds aggregate and per-core cumulative CPU time.
type CPU struct {
	Total   Ticks
	PerCore []Ticks
}

// Load holds the 1/5/15 minute load averages.
type Load struct {
	Load1  float64
	Load5  float64
	Load15 float64
}

// Memory captures RAM and swap usage in bytes.
type Memory struct {
	TotalBytes     uint64
	UsedBytes      uint64
	AvailableBytes uint64
	SwapTotal      uint64
	SwapUsed       uint64
}

// DiskUsage is the capacity of the root filesystem.
type DiskUsage struct {
	Path       string
	UsedBytes  uint64
	TotalBytes uint64
}

// DiskIO holds cumulative counters for the device backing the root mount.
type DiskIO struct {
	Device     string
	ReadBytes  uint64
	WriteBytes uint64
	ReadOps    uint64
	WriteOps   uint64
}

// Interface holds cumulative byte counters for one network interface.
type Interface struct {
	Name      string
	Addr      string // first IPv4 address, if any
	Up        bool
	BytesSent uint64
	BytesRecv uint64
}

// GPU holds a single device reading. A nil field is one the driver did not
// report ("[N/A]", "[Not Supported]").
type GPU struct {
	Index      int
	Name       string
	Util       *float64 // percent
	MemUsedMB  *float64
	MemTotalMB *float64
	TempC      *float64
}

// Battery shows power state.
type Battery struct {
	Percent  float64
	Charging bool
	State    string
}

// Host is static identity plus the running process count.
type Host struct {
	Hostname string
	OS       string
	Kernel   string
	BootTime time.Time
	Procs    uint64
}

// Process is the cumulative CPU time of one process.
type Process struct {
	PID        int32
	Name       string
	CPUSeconds float64
	MemPercent float64
}

// Snapshot is one capture of raw counters. Unreadable families are nil (or a
// nil slice) and have an entry in Missing.
type Snapshot struct {
	// Taken carries the monotonic reading used for elapsed time only.
	Taken time.Time

	CPU          *CPU
	FrequencyMHz *float64
	TemperatureC *float64
	Load         *Load
	Memory       *Memory
	DiskUsage    *DiskUsage
	DiskIO       *DiskIO
	Network      []Interface
	GPUs         []GPU
	Battery      *Battery
	Host         *Host
	Processes    []Process

	Missing map[Family]error
}

// Has reports whether family f was read successfully.
func (s *Snapshot) Has(f Family) bool {
	if _, missing := s.Missing[f]; missing {
		return false
	}
	switch f {
	case FamilyCPU:
		return s.CPU != nil
	case FamilyFrequency:
		return s.FrequencyMHz != nil
	case FamilyTemperature:
		return s.TemperatureC != nil
	case FamilyLoad:
		return s.Load != nil
	case FamilyMemory:
		return s.Memory != nil
	case FamilyDiskUsage:
		return s.DiskUsage != nil
	case FamilyDiskIO:
		return s.DiskIO != nil
	case FamilyNetwork:
		return s.Network != nil
	case FamilyGPU:
		return len(s.GPUs) > 0
	case FamilyBattery:
		return s.Battery != nil
	case FamilyHost:
		return s.Host != nil
	case FamilyProcesses:
		return s.Processes != nil
	default:
		return false
	}
}

// MarkMissing records that f could not be read.
func (s *Snapshot) MarkMissing(f Family, err error) {
	if s.Missing == nil {
		s.Missing = make(map[Family]error)
	}
	s.Missing[f] = err
}
