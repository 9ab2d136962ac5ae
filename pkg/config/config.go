// Package config loads covstat run configuration from defaults, an optional
// YAML file, COVSTAT_ environment variables and command-line overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/eunmann/covstat/pkg/covstats"
	"github.com/eunmann/covstat/pkg/membudget"
	"github.com/eunmann/covstat/pkg/sink"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nested keys: COVSTAT_OUTPUT__FORMAT sets output.format.
const EnvPrefix = "COVSTAT_"

// Config is a complete run configuration.
type Config struct {
	Mode    string `koanf:"mode"`
	BinSize int64  `koanf:"bin_size"`
	Input   string `koanf:"input"`

	Output OutputConfig `koanf:"output"`
	Engine EngineConfig `koanf:"engine"`
	Log    LogConfig    `koanf:"log"`
}

type OutputConfig struct {
	Dest   string `koanf:"dest"`
	Format string `koanf:"format"`
	Index  string `koanf:"index"`
}

type EngineConfig struct {
	Shards        int    `koanf:"shards"`
	BatchSize     int    `koanf:"batch_size"`
	ProgressEvery int64  `koanf:"progress_every"`
	MemBudget     string `koanf:"mem_budget"` // "4GiB", "512MiB", bytes; empty = 50% of RAM
}

type LogConfig struct {
	Debug     bool   `koanf:"debug"`
	Human     bool   `koanf:"human"`
	MemDebug  bool   `koanf:"mem_debug"`
	PprofAddr string `koanf:"pprof_addr"`
}

// Defaults returns the default configuration values by key.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"mode":                  covstats.ModeChrom,
		"bin_size":              0,
		"input":                 "-",
		"output.dest":           "-",
		"output.format":         sink.FormatTSV,
		"output.index":          "",
		"engine.shards":         1,
		"engine.batch_size":     covstats.DefaultBatchSize,
		"engine.progress_every": 0,
		"engine.mem_budget":     "",
		"log.debug":             false,
		"log.human":             false,
		"log.mem_debug":         false,
		"log.pprof_addr":        "",
	}
}

// Load layers defaults, the YAML file at configPath (if non-empty),
// environment variables and overrides, in that order, and validates the
// result. overrides holds values set explicitly on the command line.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	for key, value := range Defaults() {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	for key, value := range overrides {
		k.Set(key, value)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting, wrapping
// covstats.ErrInvalidConfiguration.
func (c *Config) Validate() error {
	switch c.Mode {
	case covstats.ModeChrom:
	case covstats.ModeBin:
		if c.BinSize <= 0 {
			return invalid("bin_size must be > 0 in bin mode, got %d", c.BinSize)
		}
	default:
		return invalid("unknown mode %q (must be %s or %s)", c.Mode, covstats.ModeChrom, covstats.ModeBin)
	}

	if strings.TrimSpace(c.Input) == "" {
		return invalid("input is required")
	}
	if !sink.ValidFormat(c.Output.Format) {
		return invalid("unknown output.format %q (must be %s or %s)", c.Output.Format, sink.FormatTSV, sink.FormatParquet)
	}
	if c.Output.Format == sink.FormatParquet && (c.Output.Dest == "" || c.Output.Dest == "-") {
		return invalid("parquet output needs a file or s3:// destination")
	}

	if c.Engine.Shards < 1 {
		return invalid("engine.shards must be >= 1, got %d", c.Engine.Shards)
	}
	if c.Engine.BatchSize <= 0 {
		return invalid("engine.batch_size must be > 0, got %d", c.Engine.BatchSize)
	}
	if c.Engine.ProgressEvery < 0 {
		return invalid("engine.progress_every must be >= 0, got %d", c.Engine.ProgressEvery)
	}
	if c.Engine.MemBudget != "" {
		if _, err := membudget.ParseHumanSize(c.Engine.MemBudget); err != nil {
			return invalid("engine.mem_budget: %v", err)
		}
	}
	return nil
}

// Strategy builds the grouping strategy for the configured mode.
func (c *Config) Strategy() (covstats.Strategy, error) {
	return covstats.NewStrategy(c.Mode, c.BinSize)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", covstats.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
