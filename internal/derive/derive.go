// Package derive turns two consecutive snapshots into a Bundle of
// percentages and rates.
//
// Rate metrics need a previous snapshot and are omitted on the first tick.
// Ratio metrics (memory, swap, disk capacity, temperature, load) only use the
// current snapshot. A cumulative counter that goes backwards yields a zero
// rate for that tick and is listed in Bundle.Regressions; the current value
// becomes the next baseline when the caller keeps cur as its previous
// snapshot.
package derive

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
)

// MinElapsed is the floor applied to the elapsed time between snapshots.
const MinElapsed = time.Millisecond

// Sort columns for the process table.
const (
	SortCPU = "cpu"
	SortMem = "mem"
)

// DefaultTop is the number of processes kept in a bundle.
const DefaultTop = 5

// Options tunes the process table.
type Options struct {
	Sort   string
	Filter *regexp.Regexp
	Top    int // <= 0 keeps every process
}

// Derive computes the bundle for cur. prev is nil on the first tick.
func Derive(prev *model.Snapshot, cur model.Snapshot, elapsed time.Duration, opts Options) model.Bundle {
	if elapsed < MinElapsed {
		elapsed = MinElapsed
	}

	b := model.Bundle{
		Taken:   cur.Taken,
		Elapsed: elapsed,
		First:   prev == nil,
		Metrics: make(map[string]model.Metric),
	}
	for _, f := range model.Families {
		if !cur.Has(f) {
			b.Omitted = append(b.Omitted, f)
		}
	}

	d := &deriver{prev: prev, cur: &cur, secs: elapsed.Seconds(), b: &b}
	d.cpu()
	d.scalars()
	d.memory()
	d.disk()
	d.network()
	d.gpus()
	d.battery()
	d.host()
	d.processes(opts)
	return b
}

type deriver struct {
	prev *model.Snapshot
	cur  *model.Snapshot
	secs float64
	b    *model.Bundle
}

// baseline reports whether prev can serve as the delta baseline for f.
func (d *deriver) baseline(f model.Family) bool {
	return d.prev != nil && d.prev.Has(f) && d.cur.Has(f)
}

func (d *deriver) put(m model.Metric) {
	d.b.Metrics[m.Name] = m
}

// counter returns the non-negative delta of a cumulative counter, recording a
// regression and returning 0 when it went backwards.
func (d *deriver) counter(name string, prev, cur uint64) float64 {
	if cur < prev {
		d.b.Regressions = append(d.b.Regressions, model.Regression{
			Counter:  name,
			Previous: float64(prev),
			Current:  float64(cur),
		})
		return 0
	}
	return float64(cur - prev)
}

func (d *deriver) rate(name string, prev, cur uint64) float64 {
	return d.counter(name, prev, cur) / d.secs
}

func (d *deriver) cpu() {
	if !d.baseline(model.FamilyCPU) {
		return
	}
	prev, cur := d.prev.CPU, d.cur.CPU

	d.put(model.NewMetric(model.MetricCPUUsage, d.usage("cpu", prev.Total, cur.Total), model.UnitPercent))

	// Cores pair by name so a core going offline does not shift the rest.
	prevCores := make(map[string]model.Ticks, len(prev.PerCore))
	for i, c := range prev.PerCore {
		prevCores[coreKey(i, c)] = c
	}
	d.b.Cores = make([]model.Metric, len(cur.PerCore))
	for i, c := range cur.PerCore {
		key := coreKey(i, c)
		label := coreLabel(key)
		var pct float64
		if p, ok := prevCores[key]; ok {
			pct = d.usage(label, p, c)
		}
		m := model.NewMetric(model.MetricCPUCore, pct, model.UnitPercent)
		m.Label = label
		d.b.Cores[i] = m
	}
}

// coreKey is the OS name of a core, or its position when the name is unknown.
func coreKey(i int, t model.Ticks) string {
	if t.CPU != "" {
		return t.CPU
	}
	return fmt.Sprintf("cpu%d", i)
}

// coreLabel turns "cpu3" into "core 3".
func coreLabel(key string) string {
	if n, err := strconv.Atoi(strings.TrimPrefix(key, "cpu")); err == nil && n >= 0 {
		return fmt.Sprintf("core %d", n)
	}
	return key
}

// usage is busy delta over total delta as a percentage in [0, 100].
func (d *deriver) usage(name string, prev, cur model.Ticks) float64 {
	dBusy := cur.Busy - prev.Busy
	dTotal := cur.Total - prev.Total
	if dBusy < 0 || dTotal < 0 {
		d.b.Regressions = append(d.b.Regressions, model.Regression{
			Counter:  name,
			Previous: prev.Total,
			Current:  cur.Total,
		})
		return 0
	}
	if dTotal == 0 {
		return 0
	}
	return clampPercent(dBusy / dTotal * 100)
}

func (d *deriver) scalars() {
	if d.cur.Has(model.FamilyFrequency) {
		d.put(model.NewMetric(model.MetricCPUFreq, *d.cur.FrequencyMHz, model.UnitMHz))
	}
	if d.cur.Has(model.FamilyTemperature) {
		d.put(model.NewMetric(model.MetricCPUTemp, *d.cur.TemperatureC, model.UnitCelsius))
	}
	if d.cur.Has(model.FamilyLoad) {
		l := d.cur.Load
		d.put(model.NewMetric(model.MetricLoad1, l.Load1, model.UnitNone))
		d.put(model.NewMetric(model.MetricLoad5, l.Load5, model.UnitNone))
		d.put(model.NewMetric(model.MetricLoad15, l.Load15, model.UnitNone))
	}
}

func (d *deriver) memory() {
	if !d.cur.Has(model.FamilyMemory) {
		return
	}
	m := d.cur.Memory
	if m.TotalBytes > 0 {
		d.put(model.NewMetric(model.MetricMemUsage, ratio(m.UsedBytes, m.TotalBytes), model.UnitPercent))
		d.put(model.NewMetric(model.MetricMemUsed, float64(m.UsedBytes), model.UnitBytes))
		d.put(model.NewMetric(model.MetricMemTotal, float64(m.TotalBytes), model.UnitBytes))
	}
	if m.SwapTotal > 0 {
		d.put(model.NewMetric(model.MetricSwapUsage, ratio(m.SwapUsed, m.SwapTotal), model.UnitPercent))
		d.put(model.NewMetric(model.MetricSwapUsed, float64(m.SwapUsed), model.UnitBytes))
		d.put(model.NewMetric(model.MetricSwapTotal, float64(m.SwapTotal), model.UnitBytes))
	}
}

func (d *deriver) disk() {
	if d.cur.Has(model.FamilyDiskUsage) && d.cur.DiskUsage.TotalBytes > 0 {
		u := d.cur.DiskUsage
		pct := model.NewMetric(model.MetricDiskUsage, ratio(u.UsedBytes, u.TotalBytes), model.UnitPercent)
		pct.Label = u.Path
		d.put(pct)
		d.put(model.NewMetric(model.MetricDiskUsed, float64(u.UsedBytes), model.UnitBytes))
		d.put(model.NewMetric(model.MetricDiskTotal, float64(u.TotalBytes), model.UnitBytes))
	}

	if !d.baseline(model.FamilyDiskIO) {
		return
	}
	prev, cur := d.prev.DiskIO, d.cur.DiskIO
	if prev.Device != cur.Device {
		prev = &model.DiskIO{Device: cur.Device, ReadBytes: cur.ReadBytes, WriteBytes: cur.WriteBytes,
			ReadOps: cur.ReadOps, WriteOps: cur.WriteOps}
	}
	d.put(labeled(model.NewMetric(model.MetricDiskRead, d.rate(model.MetricDiskRead, prev.ReadBytes, cur.ReadBytes), model.UnitBytesPerSec), cur.Device))
	d.put(labeled(model.NewMetric(model.MetricDiskWrite, d.rate(model.MetricDiskWrite, prev.WriteBytes, cur.WriteBytes), model.UnitBytesPerSec), cur.Device))
	d.put(labeled(model.NewMetric(model.MetricDiskROps, d.rate(model.MetricDiskROps, prev.ReadOps, cur.ReadOps), model.UnitOpsPerSec), cur.Device))
	d.put(labeled(model.NewMetric(model.MetricDiskWOps, d.rate(model.MetricDiskWOps, prev.WriteOps, cur.WriteOps), model.UnitOpsPerSec), cur.Device))
}

func (d *deriver) network() {
	if !d.cur.Has(model.FamilyNetwork) {
		return
	}
	haveBase := d.baseline(model.FamilyNetwork)
	prevByName := make(map[string]model.Interface)
	if haveBase {
		for _, iface := range d.prev.Network {
			prevByName[iface.Name] = iface
		}
	}

	var txTotal, rxTotal float64
	d.b.Interfaces = make([]model.InterfaceMetrics, 0, len(d.cur.Network))
	for _, iface := range d.cur.Network {
		im := model.InterfaceMetrics{
			Name: iface.Name,
			Addr: iface.Addr,
			Up:   iface.Up,
			Tx:   model.Metric{Name: model.MetricNetTx, Label: iface.Name, Unit: model.UnitBytesPerSec},
			Rx:   model.Metric{Name: model.MetricNetRx, Label: iface.Name, Unit: model.UnitBytesPerSec},
		}
		if haveBase {
			var tx, rx float64
			if p, ok := prevByName[iface.Name]; ok {
				tx = d.rate(model.MetricNetTx+":"+iface.Name, p.BytesSent, iface.BytesSent)
				rx = d.rate(model.MetricNetRx+":"+iface.Name, p.BytesRecv, iface.BytesRecv)
			}
			im.Tx.Value, im.Tx.Available = tx, true
			im.Rx.Value, im.Rx.Available = rx, true
			txTotal += tx
			rxTotal += rx
		}
		d.b.Interfaces = append(d.b.Interfaces, im)
	}

	if haveBase {
		d.put(model.NewMetric(model.MetricNetTx, txTotal, model.UnitBytesPerSec))
		d.put(model.NewMetric(model.MetricNetRx, rxTotal, model.UnitBytesPerSec))
	}
}

func (d *deriver) gpus() {
	if !d.cur.Has(model.FamilyGPU) {
		return
	}
	d.b.GPUs = make([]model.GPUMetrics, 0, len(d.cur.GPUs))
	for _, g := range d.cur.GPUs {
		gm := model.GPUMetrics{
			Index:      g.Index,
			Name:       g.Name,
			Util:       reported(model.MetricGPUUtil, g.Util, model.UnitPercent, g.Name),
			Temp:       reported(model.MetricGPUTemp, g.TempC, model.UnitCelsius, g.Name),
			Mem:        model.Metric{Name: model.MetricGPUMem, Label: g.Name, Unit: model.UnitPercent},
			MemUsedMB:  g.MemUsedMB,
			MemTotalMB: g.MemTotalMB,
		}
		if gm.Util.Available {
			gm.Util.Value = clampPercent(gm.Util.Value)
		}
		if g.MemUsedMB != nil && g.MemTotalMB != nil && *g.MemTotalMB > 0 {
			gm.Mem.Value = clampPercent(*g.MemUsedMB / *g.MemTotalMB * 100)
			gm.Mem.Available = true
		}
		d.b.GPUs = append(d.b.GPUs, gm)
	}
}

// reported builds a labeled metric from a driver value; nil stays unavailable.
func reported(name string, v *float64, unit model.Unit, label string) model.Metric {
	if v == nil {
		return model.Metric{Name: name, Label: label, Unit: unit}
	}
	return labeled(model.NewMetric(name, *v, unit), label)
}

func (d *deriver) battery() {
	if !d.cur.Has(model.FamilyBattery) {
		return
	}
	bt := d.cur.Battery
	d.b.Battery = &model.BatteryInfo{
		Charge:   model.NewMetric(model.MetricBattery, clampPercent(bt.Percent), model.UnitPercent),
		Charging: bt.Charging,
		State:    bt.State,
	}
}

func (d *deriver) host() {
	if !d.cur.Has(model.FamilyHost) {
		return
	}
	h := d.cur.Host
	info := &model.HostInfo{
		Hostname: h.Hostname,
		OS:       h.OS,
		Kernel:   h.Kernel,
		Procs:    h.Procs,
	}
	if !h.BootTime.IsZero() {
		if up := d.cur.Taken.Sub(h.BootTime); up > 0 {
			info.Uptime = up.Truncate(time.Second)
		}
	}
	d.b.Host = info
}

func (d *deriver) processes(opts Options) {
	if !d.cur.Has(model.FamilyProcesses) {
		return
	}
	haveBase := d.baseline(model.FamilyProcesses)
	prevByPID := make(map[int32]model.Process)
	if haveBase {
		for _, p := range d.prev.Processes {
			prevByPID[p.PID] = p
		}
	}

	rows := make([]model.ProcessMetrics, 0, len(d.cur.Processes))
	for _, p := range d.cur.Processes {
		if opts.Filter != nil && !opts.Filter.MatchString(p.Name) {
			continue
		}
		label := fmt.Sprintf("%d", p.PID)
		row := model.ProcessMetrics{
			PID:  p.PID,
			Name: p.Name,
			CPU:  model.Metric{Name: model.MetricProcessCPU, Label: label, Unit: model.UnitPercent},
			Mem:  labeled(model.NewMetric(model.MetricProcessMem, clampPercent(p.MemPercent), model.UnitPercent), label),
		}
		if haveBase {
			var pct float64
			if prev, ok := prevByPID[p.PID]; ok && prev.Name == p.Name {
				delta := p.CPUSeconds - prev.CPUSeconds
				if delta < 0 {
					d.b.Regressions = append(d.b.Regressions, model.Regression{
						Counter:  "proc:" + label,
						Previous: prev.CPUSeconds,
						Current:  p.CPUSeconds,
					})
					delta = 0
				}
				pct = delta / d.secs * 100
			}
			row.CPU.Value, row.CPU.Available = pct, true
		}
		rows = append(rows, row)
	}

	sortProcesses(rows, opts.Sort)
	if opts.Top > 0 && len(rows) > opts.Top {
		rows = rows[:opts.Top]
	}
	d.b.Processes = rows
}

func sortProcesses(rows []model.ProcessMetrics, by string) {
	key := func(r model.ProcessMetrics) float64 { return r.CPU.Value }
	if by == SortMem {
		key = func(r model.ProcessMetrics) float64 { return r.Mem.Value }
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ki, kj := key(rows[i]), key(rows[j])
		if ki != kj {
			return ki > kj
		}
		return rows[i].PID < rows[j].PID
	})
}

func labeled(m model.Metric, label string) model.Metric {
	m.Label = label
	return m
}

func ratio(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return clampPercent(float64(used) * 100 / float64(total))
}

func clampPercent(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
