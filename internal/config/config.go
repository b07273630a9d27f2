package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Dicklesworthstone/sysmoni/internal/derive"
	"github.com/Dicklesworthstone/sysmoni/internal/errors"
	"github.com/Dicklesworthstone/sysmoni/internal/severity"
)

const (
	// EnvPrefix is prepended to every environment override (SYSMONI_INTERVAL).
	EnvPrefix = "SYSMONI"
	// GlobalConfigDir is the directory searched for config.yaml under $HOME.
	GlobalConfigDir = ".config/sysmoni"
)

// Config carries runtime options for sysmoni.
type Config struct {
	Interval   time.Duration  `mapstructure:"interval"`
	Sort       string         `mapstructure:"sort"`
	Filter     string         `mapstructure:"filter"`
	Top        int            `mapstructure:"top"`
	Root       string         `mapstructure:"root"`
	JSON       bool           `mapstructure:"json"`
	JSONStream bool           `mapstructure:"json_stream"`
	EnableGPU  bool           `mapstructure:"gpu"`
	EnableBatt bool           `mapstructure:"battery"`
	LogFile    string         `mapstructure:"log_file"`
	Debug      bool           `mapstructure:"debug"`
	Thresholds severity.Table `mapstructure:"thresholds"`
}

func Default() Config {
	return Config{
		Interval:   time.Second,
		Sort:       derive.SortCPU,
		Filter:     "",
		Top:        derive.DefaultTop,
		Root:       "/",
		JSON:       false,
		JSONStream: false,
		EnableGPU:  true,
		EnableBatt: true,
		Thresholds: severity.DefaultTable(),
	}
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"interval":    "interval",
	"sort":        "sort",
	"filter":      "filter",
	"top":         "top",
	"root":        "root",
	"json":        "json",
	"json-stream": "json_stream",
	"gpu":         "gpu",
	"battery":     "battery",
	"log-file":    "log_file",
	"debug":       "debug",
}

// RegisterFlags defines the sysmoni flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.Duration("interval", def.Interval, "refresh interval")
	fs.String("sort", def.Sort, "sort column: cpu|mem")
	fs.String("filter", def.Filter, "regex filter for process names")
	fs.Int("top", def.Top, "number of processes to show (0 = all)")
	fs.String("root", def.Root, "filesystem whose capacity and device I/O are shown")
	fs.Bool("json", def.JSON, "output one-shot JSON and exit")
	fs.Bool("json-stream", def.JSONStream, "stream NDJSON until interrupted")
	fs.Bool("gpu", def.EnableGPU, "enable GPU sampling")
	fs.Bool("battery", def.EnableBatt, "enable battery sampling")
	fs.String("log-file", def.LogFile, "write logs to this file")
	fs.Bool("debug", def.Debug, "enable debug logging")
}

// Load merges defaults, the config file, SYSMONI_* environment variables and
// the flags in fs (highest precedence). path may be empty to search
// ~/.config/sysmoni/config.yaml; fs may be nil.
func Load(fs *pflag.FlagSet, path string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("interval", def.Interval.String())
	v.SetDefault("sort", def.Sort)
	v.SetDefault("filter", def.Filter)
	v.SetDefault("top", def.Top)
	v.SetDefault("root", def.Root)
	v.SetDefault("json", def.JSON)
	v.SetDefault("json_stream", def.JSONStream)
	v.SetDefault("gpu", def.EnableGPU)
	v.SetDefault("battery", def.EnableBatt)
	v.SetDefault("log_file", def.LogFile)
	v.SetDefault("debug", def.Debug)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, errors.WrapWithCode(err, errors.ErrConfig,
						"Cannot bind flag --"+name, "")
				}
			}
		}
	}

	if err := readConfigFile(v, path); err != nil {
		return Config{}, err
	}

	interval, err := parseInterval(v.GetString("interval"))
	if err != nil {
		return Config{}, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Invalid interval: %s", v.GetString("interval")),
			"Use a duration like 500ms, 2s or 1m")
	}
	v.Set("interval", interval)

	cfg := def
	cfg.Thresholds = nil
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax of your config file")
	}
	cfg.Thresholds = severity.DefaultTable().Merge(cfg.Thresholds)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return errors.WrapWithCode(err, errors.ErrConfig,
					"Config file not found: "+path,
					"Check the path passed to --config")
			}
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to read config file",
				"Check the file exists and is valid YAML")
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(home, GlobalConfigDir))
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read "+filepath.Join("~", GlobalConfigDir, "config.yaml"),
			"Fix the YAML syntax or remove the file")
	}
	return nil
}

// parseInterval accepts Go durations and bare numbers of seconds.
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if parsed, err := time.ParseDuration(s); err == nil {
		return parsed, nil
	}
	return time.ParseDuration(s + "s")
}

// Validate checks option values and threshold ordering.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Interval must be positive, got %s", c.Interval),
			"Use a duration like 500ms, 2s or 1m")
	}
	if c.Sort != derive.SortCPU && c.Sort != derive.SortMem {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown sort column '%s'", c.Sort),
			"Use --sort cpu or --sort mem")
	}
	if _, err := c.FilterRegexp(); err != nil {
		return err
	}
	if c.Top < 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Process count must not be negative, got %d", c.Top),
			"Use --top 0 to show every process")
	}
	if c.JSON && c.JSONStream {
		return errors.New(errors.ErrConfig,
			"--json and --json-stream cannot be combined",
			"Pick one output mode")
	}
	for name, th := range c.Thresholds {
		if (!th.Descending && th.Warning > th.Critical) || (th.Descending && th.Warning < th.Critical) {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Thresholds for '%s' are out of order (warning %v, critical %v)", name, th.Warning, th.Critical),
				"Warning must come before critical")
		}
	}
	return nil
}

// FilterRegexp compiles Filter. It returns nil when no filter is set.
func (c Config) FilterRegexp() (*regexp.Regexp, error) {
	if c.Filter == "" {
		return nil, nil
	}
	re, err := regexp.Compile(c.Filter)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Invalid process filter '%s'", c.Filter),
			"Use a Go regular expression, e.g. '^postgres'")
	}
	return re, nil
}

// DeriveOptions returns the process table options for derive.Derive.
func (c Config) DeriveOptions() derive.Options {
	re, _ := c.FilterRegexp()
	return derive.Options{Sort: c.Sort, Filter: re, Top: c.Top}
}
