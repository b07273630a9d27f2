package sampler

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
)

const nvidiaSMI = "nvidia-smi"

// gpuTimeout bounds a single nvidia-smi query.
const gpuTimeout = 400 * time.Millisecond

func (s *System) readGPU(snap *model.Snapshot) error {
	if !s.opts.EnableGPU {
		return errDisabled
	}
	// Presence is re-checked every tick so a driver install or eGPU dock is picked up.
	if _, err := s.lookPath(nvidiaSMI); err != nil {
		return err
	}
	out, err := s.run(gpuTimeout, nvidiaSMI,
		"--query-gpu=index,name,utilization.gpu,memory.used,memory.total,temperature.gpu",
		"--format=csv,noheader,nounits")
	if err != nil {
		return fmt.Errorf("%s: %w", nvidiaSMI, err)
	}
	gpus := parseGPUs(out)
	if len(gpus) == 0 {
		return fmt.Errorf("%s reported no GPUs", nvidiaSMI)
	}
	snap.GPUs = gpus
	return nil
}

// parseGPUs parses nvidia-smi CSV output, one device per line.
func parseGPUs(out string) []model.GPU {
	var gpus []model.GPU
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		parts := strings.Split(sc.Text(), ",")
		if len(parts) < 6 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		gpus = append(gpus, model.GPU{
			Index:      idx,
			Name:       strings.TrimSpace(parts[1]),
			Util:       optionalFloat(parts[2]),
			MemUsedMB:  optionalFloat(parts[3]),
			MemTotalMB: optionalFloat(parts[4]),
			TempC:      optionalFloat(parts[5]),
		})
	}
	return gpus
}

func (s *System) readBattery(snap *model.Snapshot) error {
	if !s.opts.EnableBatt {
		return errDisabled
	}
	battPaths, _ := filepath.Glob(filepath.Join(s.sysfs, "class/power_supply/BAT*/capacity"))
	for _, capPath := range battPaths {
		// An empty or garbled capacity is skipped rather than read as 0%.
		percent, err := readFloat(capPath)
		if err != nil {
			continue
		}
		stateBytes, _ := os.ReadFile(filepath.Join(filepath.Dir(capPath), "status"))
		state := strings.TrimSpace(string(stateBytes))
		snap.Battery = &model.Battery{
			Percent:  percent,
			Charging: pluggedIn(state),
			State:    state,
		}
		return nil
	}
	if len(battPaths) > 0 {
		return fmt.Errorf("no readable battery capacity")
	}
	return fmt.Errorf("no battery found")
}

// pluggedIn reports whether a power_supply status implies external power.
func pluggedIn(state string) bool {
	switch state {
	case "Charging", "Full", "Not charging":
		return true
	default:
		return false
	}
}

var cpuZoneTypes = []string{"x86_pkg_temp", "cpu", "soc", "pkg"}

// thermalZones averages the CPU thermal zones under sysfs, in °C.
func (s *System) thermalZones() (float64, error) {
	paths, _ := filepath.Glob(filepath.Join(s.sysfs, "class/thermal/thermal_zone*/temp"))
	var sum float64
	var n int
	for _, p := range paths {
		zoneType, err := os.ReadFile(filepath.Join(filepath.Dir(p), "type"))
		if err != nil || !isCPUZone(string(zoneType)) {
			continue
		}
		milli, err := readFloat(p)
		if err != nil || milli <= 0 {
			continue
		}
		sum += milli / 1000
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("no cpu temperature sensor")
	}
	return sum / float64(n), nil
}

func isCPUZone(zoneType string) bool {
	zoneType = strings.ToLower(strings.TrimSpace(zoneType))
	for _, t := range cpuZoneTypes {
		if strings.Contains(zoneType, t) {
			return true
		}
	}
	return false
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func firstIPv4(addrs psnet.InterfaceAddrList) string {
	for _, a := range addrs {
		ip, _, err := net.ParseCIDR(a.Addr)
		if err != nil {
			ip = net.ParseIP(a.Addr)
		}
		if ip != nil && ip.To4() != nil {
			return ip.String()
		}
	}
	return ""
}

// Helpers

// optionalFloat parses a driver-reported number. Placeholders such as
// "[N/A]" or "[Not Supported]" yield nil.
func optionalFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func readFloat(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
}

func lookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func runCmd(timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if ctx.Err() == context.DeadlineExceeded {
		return "", ctx.Err()
	}
	return string(out), err
}
