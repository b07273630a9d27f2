package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/sysmoni/internal/config"
	"github.com/Dicklesworthstone/sysmoni/internal/errors"
	"github.com/Dicklesworthstone/sysmoni/internal/model"
	"github.com/Dicklesworthstone/sysmoni/internal/sampler"
)

// stubSource yields CPU and memory snapshots one second apart. onCapture,
// when set, runs after every capture.
type stubSource struct {
	calls     int
	err       error
	onCapture func(n int)
}

func (s *stubSource) Capture() (model.Snapshot, error) {
	s.calls++
	if s.err != nil {
		return model.Snapshot{}, s.err
	}
	n := float64(s.calls)
	snap := model.Snapshot{
		Taken:  time.Date(2024, 1, 1, 0, 0, s.calls, 0, time.UTC),
		CPU:    &model.CPU{Total: model.Ticks{Busy: 25 * n, Total: 100 * n}},
		Memory: &model.Memory{TotalBytes: 8 << 30, UsedBytes: 2 << 30},
		Host:   &model.Host{Hostname: "stub"},
	}
	if s.onCapture != nil {
		s.onCapture(s.calls)
	}
	return snap, nil
}

func (s *stubSource) Close() error { return nil }

func useSource(t *testing.T, src sampler.Source) {
	t.Helper()
	orig := newSource
	newSource = func(config.Config) sampler.Source { return src }
	t.Cleanup(func() { newSource = orig })
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	origVersion, origCommit, origDate := version, commit, date
	defer SetVersionInfo(origVersion, origCommit, origDate)
	SetVersionInfo("1.2.3", "abc1234", "2025-01-08T12:00:00Z")

	out, _, err := execute(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sysmoni v1.2.3")
	assert.Contains(t, out, "commit: abc1234")
	assert.Contains(t, out, "built: 2025-01-08T12:00:00Z")
	assert.Contains(t, out, "os/arch: "+runtime.GOOS+"/"+runtime.GOARCH)

	out, _, err = execute(t, context.Background(), "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)
}

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"dev", "dev"},
		{"", ""},
		{"1.0.0", "v1.0.0"},
		{"v2.1.0", "v2.1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, formatVersion(tt.in))
		})
	}
}

func TestRoot_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "bad sort", args: []string{"--sort", "pid"}},
		{name: "bad filter", args: []string{"--filter", "(", "--json"}},
		{name: "conflicting modes", args: []string{"--json", "--json-stream"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &stubSource{}
			useSource(t, src)

			_, _, err := execute(t, context.Background(), tt.args...)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrConfig), "got %v", err)
			assert.Zero(t, src.calls, "nothing is sampled on a config error")
		})
	}
}

func TestRoot_RejectsArguments(t *testing.T) {
	_, _, err := execute(t, context.Background(), "extra")
	assert.Error(t, err)
}

func TestRoot_JSONOneShot(t *testing.T) {
	src := &stubSource{}
	useSource(t, src)

	out, _, err := execute(t, context.Background(), "--json", "--interval", "1ms")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	var doc struct {
		First   bool `json:"first"`
		Metrics map[string]struct {
			Value    float64 `json:"value"`
			Severity string  `json:"severity"`
		} `json:"metrics"`
		Host struct {
			Hostname string `json:"hostname"`
		} `json:"host"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc), "output: %s", out)
	assert.False(t, doc.First)
	assert.InDelta(t, 25.0, doc.Metrics[model.MetricCPUUsage].Value, 1e-9)
	assert.Equal(t, "normal", doc.Metrics[model.MetricMemUsage].Severity)
	assert.Equal(t, "stub", doc.Host.Hostname)
}

func TestRoot_JSONStreamUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &stubSource{onCapture: func(n int) {
		if n == 3 {
			cancel()
		}
	}}
	useSource(t, src)

	out, _, err := execute(t, ctx, "--json-stream", "--interval", "1ms")
	require.NoError(t, err, "interrupt is a clean exit")

	var lines int
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &doc))
		lines++
	}
	assert.Equal(t, 3, lines, "the tick in flight is still published")
}

func TestRoot_FatalAcquisition(t *testing.T) {
	useSource(t, &stubSource{err: errors.New(errors.ErrAcquisition, "Cannot read system metrics", "")})

	_, _, err := execute(t, context.Background(), "--json")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrAcquisition))
}

func TestRoot_LogFile(t *testing.T) {
	useSource(t, &stubSource{})
	path := filepath.Join(t.TempDir(), "sysmoni.log")

	_, stderr, err := execute(t, context.Background(), "--json", "--interval", "1ms", "--debug", "--log-file", path)
	require.NoError(t, err)
	assert.Empty(t, stderr)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sampling every 1ms")
}

func TestRoot_StartupLoggedAtInfo(t *testing.T) {
	useSource(t, &stubSource{})
	path := filepath.Join(t.TempDir(), "sysmoni.log")

	_, _, err := execute(t, context.Background(), "--json", "--interval", "1ms", "--log-file", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "INFO")
	assert.Contains(t, string(data), "sampling every 1ms", "logged without --debug")
}

func TestOpenLogger_BadPath(t *testing.T) {
	cfg := config.Default()
	cfg.LogFile = filepath.Join(t.TempDir(), "missing", "dir", "log")
	_, _, err := openLogger(cfg, os.Stderr)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}
