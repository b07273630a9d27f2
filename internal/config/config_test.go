package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/sysmoni/internal/errors"
	"github.com/Dicklesworthstone/sysmoni/internal/severity"
)

// isolate points HOME at an empty directory so a developer's global config
// does not leak into tests.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("sysmoni", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, time.Second, cfg.Interval)
	assert.Equal(t, "cpu", cfg.Sort)
	assert.Equal(t, 5, cfg.Top)
	assert.Equal(t, "/", cfg.Root)
	assert.True(t, cfg.EnableGPU)
	assert.True(t, cfg.EnableBatt)
	assert.False(t, cfg.JSON)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(newFlags(t), "")
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Interval)
	assert.Equal(t, severity.DefaultTable(), cfg.Thresholds)
}

func TestLoad_NilFlags(t *testing.T) {
	isolate(t)

	cfg, err := Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, Default().Interval, cfg.Interval)
}

func TestLoad_Flags(t *testing.T) {
	isolate(t)

	cfg, err := Load(newFlags(t,
		"--interval", "250ms",
		"--sort", "mem",
		"--top", "10",
		"--gpu=false",
		"--json-stream",
		"--filter", "^go",
	), "")
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
	assert.Equal(t, "mem", cfg.Sort)
	assert.Equal(t, 10, cfg.Top)
	assert.False(t, cfg.EnableGPU)
	assert.True(t, cfg.JSONStream)

	opts := cfg.DeriveOptions()
	require.NotNil(t, opts.Filter)
	assert.True(t, opts.Filter.MatchString("gopls"))
	assert.Equal(t, "mem", opts.Sort)
	assert.Equal(t, 10, opts.Top)
}

func TestLoad_Env(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		verify func(t *testing.T, cfg Config)
	}{
		{
			name: "interval as duration",
			env:  map[string]string{"SYSMONI_INTERVAL": "500ms"},
			verify: func(t *testing.T, cfg Config) {
				assert.Equal(t, 500*time.Millisecond, cfg.Interval)
			},
		},
		{
			name: "interval as bare seconds",
			env:  map[string]string{"SYSMONI_INTERVAL": "2"},
			verify: func(t *testing.T, cfg Config) {
				assert.Equal(t, 2*time.Second, cfg.Interval)
			},
		},
		{
			name: "gpu and battery disabled with 0",
			env:  map[string]string{"SYSMONI_GPU": "0", "SYSMONI_BATTERY": "0"},
			verify: func(t *testing.T, cfg Config) {
				assert.False(t, cfg.EnableGPU)
				assert.False(t, cfg.EnableBatt)
			},
		},
		{
			name: "json stream",
			env:  map[string]string{"SYSMONI_JSON_STREAM": "true"},
			verify: func(t *testing.T, cfg Config) {
				assert.True(t, cfg.JSONStream)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(newFlags(t), "")
			require.NoError(t, err)
			tt.verify(t, cfg)
		})
	}
}

func TestLoad_FlagBeatsEnv(t *testing.T) {
	isolate(t)
	t.Setenv("SYSMONI_INTERVAL", "5s")

	cfg, err := Load(newFlags(t, "--interval", "3s"), "")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Interval)
}

func TestLoad_ConfigFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, t.TempDir(), `
interval: 2s
sort: mem
top: 3
thresholds:
  mem_usage:
    warning: 80
    critical: 95
  net_rx:
    warning: 1000000
    critical: 10000000
`)

	cfg, err := Load(newFlags(t), path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Interval)
	assert.Equal(t, "mem", cfg.Sort)
	assert.Equal(t, 3, cfg.Top)
	assert.Equal(t, severity.Thresholds{Warning: 80, Critical: 95}, cfg.Thresholds[severity.MemUsage])
	assert.Equal(t, 1e6, cfg.Thresholds["net_rx"].Warning)
	assert.Equal(t, severity.Percent, cfg.Thresholds[severity.CPUUsage], "defaults are kept")
}

func TestLoad_GlobalConfigFile(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, GlobalConfigDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeConfig(t, dir, "top: 7\n")

	cfg, err := Load(newFlags(t), "")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Top)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		file string
	}{
		{name: "bad sort", args: []string{"--sort", "pid"}},
		{name: "bad filter", args: []string{"--filter", "("}},
		{name: "negative top", args: []string{"--top", "-1"}},
		{name: "zero interval", args: []string{"--interval", "0s"}},
		{name: "both json modes", args: []string{"--json", "--json-stream"}},
		{name: "unparseable interval", file: "interval: soon\n"},
		{name: "thresholds out of order", file: "thresholds:\n  cpu_usage:\n    warning: 95\n    critical: 90\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			path := ""
			if tt.file != "" {
				path = writeConfig(t, t.TempDir(), tt.file)
			}
			_, err := Load(newFlags(t, tt.args...), path)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrConfig), "got %v", err)
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	isolate(t)

	_, err := Load(newFlags(t), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestValidate_DescendingThresholds(t *testing.T) {
	cfg := Default()
	cfg.Thresholds = severity.Table{"battery": {Warning: 20, Critical: 50, Descending: true}}
	assert.Error(t, cfg.Validate())

	cfg.Thresholds = severity.Table{"battery": {Warning: 40, Critical: 10, Descending: true}}
	assert.NoError(t, cfg.Validate())
}
