// Package sampler reads raw, point-in-time counters from the operating system.
//
// Every family is read independently. A family that cannot be read is
// recorded in Snapshot.Missing and never fails the whole capture; only when
// none of the core families can be read does Capture return an error.
package sampler

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/Dicklesworthstone/sysmoni/internal/errors"
	"github.com/Dicklesworthstone/sysmoni/internal/model"
)

// Source captures snapshots. Implementations must be safe to Close once.
type Source interface {
	Capture() (model.Snapshot, error)
	Close() error
}

// Options selects what System reads.
type Options struct {
	Root       string // mount point for disk capacity and device I/O
	EnableGPU  bool
	EnableBatt bool
}

// coreFamilies must not all fail, or the OS interface is considered unusable.
var coreFamilies = []model.Family{model.FamilyCPU, model.FamilyMemory, model.FamilyLoad, model.FamilyHost}

var errDisabled = fmt.Errorf("disabled by configuration")

// System is the gopsutil-backed Source for the local machine.
type System struct {
	opts Options

	// sysfs is the root for battery, thermal and cpufreq files.
	sysfs    string
	now      func() time.Time
	lookPath func(string) (string, error)
	run      func(timeout time.Duration, name string, args ...string) (string, error)

	mu         sync.Mutex
	rootDevice string
	closed     bool
}

// New returns a System reading the local machine.
func New(opts Options) *System {
	if opts.Root == "" {
		opts.Root = "/"
	}
	return &System{
		opts:     opts,
		sysfs:    "/sys",
		now:      time.Now,
		lookPath: lookPath,
		run:      runCmd,
	}
}

type familyReader struct {
	family model.Family
	read   func(*model.Snapshot) error
}

func (s *System) readers() []familyReader {
	return []familyReader{
		// Cumulative counters come first so they sit close to Taken; rates
		// divide their deltas by the gap between two Taken stamps.
		{model.FamilyCPU, s.readCPU},
		{model.FamilyDiskIO, s.readDiskIO},
		{model.FamilyNetwork, s.readNetwork},
		{model.FamilyProcesses, s.readProcesses},
		{model.FamilyFrequency, s.readFrequency},
		{model.FamilyTemperature, s.readTemperature},
		{model.FamilyLoad, s.readLoad},
		{model.FamilyMemory, s.readMemory},
		{model.FamilyDiskUsage, s.readDiskUsage},
		{model.FamilyHost, s.readHost},
		// nvidia-smi can take up to gpuTimeout.
		{model.FamilyGPU, s.readGPU},
		{model.FamilyBattery, s.readBattery},
	}
}

// Capture reads every family once.
func (s *System) Capture() (model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return model.Snapshot{}, errors.New(errors.ErrAcquisition, "Sampler is closed", "")
	}

	snap := model.Snapshot{Taken: s.now()}
	for _, r := range s.readers() {
		if err := r.read(&snap); err != nil {
			snap.MarkMissing(r.family, errors.Unavailable(string(r.family), err))
		}
	}

	if err := fatal(&snap); err != nil {
		return model.Snapshot{}, err
	}
	return snap, nil
}

// fatal returns an acquisition error when every core family is missing.
func fatal(snap *model.Snapshot) error {
	var first error
	for _, f := range coreFamilies {
		if snap.Has(f) {
			return nil
		}
		if first == nil {
			first = snap.Missing[f]
		}
	}
	return errors.WrapWithCode(first, errors.ErrAcquisition,
		"Cannot read system metrics",
		"Check that /proc and /sys are mounted and readable by this user")
}

// Close releases the sampler. Further captures fail.
func (s *System) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.rootDevice = ""
	return nil
}

func (s *System) readCPU(snap *model.Snapshot) error {
	total, err := cpu.Times(false)
	if err != nil {
		return err
	}
	if len(total) == 0 {
		return fmt.Errorf("no cpu times reported")
	}
	perCore, err := cpu.Times(true)
	if err != nil {
		return err
	}

	c := &model.CPU{Total: ticks(total[0]), PerCore: make([]model.Ticks, len(perCore))}
	for i, t := range perCore {
		c.PerCore[i] = ticks(t)
	}
	snap.CPU = c
	return nil
}

// ticks splits a TimesStat into busy and total seconds.
func ticks(t cpu.TimesStat) model.Ticks {
	total := t.Total()
	return model.Ticks{CPU: t.CPU, Busy: total - t.Idle - t.Iowait, Total: total}
}

func (s *System) readFrequency(snap *model.Snapshot) error {
	if khz, err := readFloat(filepath.Join(s.sysfs, "devices/system/cpu/cpu0/cpufreq/scaling_cur_freq")); err == nil && khz > 0 {
		mhz := khz / 1000
		snap.FrequencyMHz = &mhz
		return nil
	}
	info, err := cpu.Info()
	if err != nil {
		return err
	}
	if len(info) == 0 || info[0].Mhz <= 0 {
		return fmt.Errorf("cpu frequency not reported")
	}
	mhz := info[0].Mhz
	snap.FrequencyMHz = &mhz
	return nil
}

func (s *System) readTemperature(snap *model.Snapshot) error {
	// SensorsTemperatures may return partial readings together with warnings.
	temps, _ := host.SensorsTemperatures()
	var sum float64
	var n int
	for _, t := range temps {
		if isCPUSensor(t.SensorKey) && t.Temperature > 0 {
			sum += t.Temperature
			n++
		}
	}
	if n > 0 {
		avg := sum / float64(n)
		snap.TemperatureC = &avg
		return nil
	}

	avg, err := s.thermalZones()
	if err != nil {
		return err
	}
	snap.TemperatureC = &avg
	return nil
}

var cpuSensorPrefixes = []string{"coretemp", "k10temp", "zenpower", "cpu_thermal", "x86_pkg_temp", "cpu-thermal"}

func isCPUSensor(key string) bool {
	key = strings.ToLower(key)
	for _, p := range cpuSensorPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func (s *System) readLoad(snap *model.Snapshot) error {
	avg, err := load.Avg()
	if err != nil {
		return err
	}
	snap.Load = &model.Load{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}
	return nil
}

func (s *System) readMemory(snap *model.Snapshot) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return err
	}
	m := &model.Memory{
		TotalBytes:     vm.Total,
		UsedBytes:      vm.Used,
		AvailableBytes: vm.Available,
	}
	// Swap is optional; a failed read leaves it at zero, which derive omits.
	if sw, err := mem.SwapMemory(); err == nil {
		m.SwapTotal = sw.Total
		m.SwapUsed = sw.Used
	}
	snap.Memory = m
	return nil
}

func (s *System) readDiskUsage(snap *model.Snapshot) error {
	u, err := disk.Usage(s.opts.Root)
	if err != nil {
		return err
	}
	snap.DiskUsage = &model.DiskUsage{Path: u.Path, UsedBytes: u.Used, TotalBytes: u.Total}
	return nil
}

func (s *System) readDiskIO(snap *model.Snapshot) error {
	dev := s.rootDevice
	if dev == "" {
		found, err := rootDevice(s.opts.Root)
		if err != nil {
			return err
		}
		dev = found
	}

	counters, err := disk.IOCounters(dev)
	if err != nil {
		s.rootDevice = ""
		return err
	}
	c, ok := counters[dev]
	if !ok {
		s.rootDevice = ""
		return fmt.Errorf("no I/O counters for device %s", dev)
	}
	s.rootDevice = dev
	snap.DiskIO = &model.DiskIO{
		Device:     dev,
		ReadBytes:  c.ReadBytes,
		WriteBytes: c.WriteBytes,
		ReadOps:    c.ReadCount,
		WriteOps:   c.WriteCount,
	}
	return nil
}

// rootDevice returns the kernel block device name mounted at root.
func rootDevice(root string) (string, error) {
	parts, err := disk.Partitions(false)
	if err != nil {
		return "", err
	}
	for _, p := range parts {
		if p.Mountpoint != root {
			continue
		}
		dev := p.Device
		if resolved, err := filepath.EvalSymlinks(dev); err == nil {
			dev = resolved
		}
		return filepath.Base(dev), nil
	}
	return "", fmt.Errorf("no block device mounted at %s", root)
}

func (s *System) readNetwork(snap *model.Snapshot) error {
	counters, err := psnet.IOCounters(true)
	if err != nil {
		return err
	}

	// Interface metadata is best effort; counters alone are still useful.
	meta := make(map[string]psnet.InterfaceStat)
	if ifaces, err := psnet.Interfaces(); err == nil {
		for _, iface := range ifaces {
			meta[iface.Name] = iface
		}
	}

	list := make([]model.Interface, 0, len(counters))
	for _, c := range counters {
		m, known := meta[c.Name]
		if (known && hasFlag(m.Flags, "loopback")) || c.Name == "lo" {
			continue
		}
		iface := model.Interface{Name: c.Name, BytesSent: c.BytesSent, BytesRecv: c.BytesRecv}
		if known {
			iface.Up = hasFlag(m.Flags, "up")
			iface.Addr = firstIPv4(m.Addrs)
		}
		list = append(list, iface)
	}
	snap.Network = list
	return nil
}

func (s *System) readHost(snap *model.Snapshot) error {
	info, err := host.Info()
	if err != nil {
		return err
	}
	osName := strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	if osName == "" {
		osName = info.OS
	}
	snap.Host = &model.Host{
		Hostname: info.Hostname,
		OS:       osName,
		Kernel:   info.KernelVersion,
		BootTime: time.Unix(int64(info.BootTime), 0),
		Procs:    info.Procs,
	}
	return nil
}

func (s *System) readProcesses(snap *model.Snapshot) error {
	procs, err := process.Processes()
	if err != nil {
		return err
	}
	list := make([]model.Process, 0, len(procs))
	for _, p := range procs {
		// Skip kernel threads without name and processes that exited mid-read.
		name, err := p.Name()
		if err != nil || name == "" {
			continue
		}
		times, err := p.Times()
		if err != nil {
			continue
		}
		memPct, _ := p.MemoryPercent()
		list = append(list, model.Process{
			PID:        p.Pid,
			Name:       name,
			CPUSeconds: times.User + times.System,
			MemPercent: float64(memPct),
		})
	}
	snap.Processes = list
	return nil
}
