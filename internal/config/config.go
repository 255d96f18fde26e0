package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rotisserie/eris"
)

type Config struct {
	Engine      EngineConfig      `toml:"engine"`
	Logging     LoggingConfig     `toml:"logging"`
	Profiling   ProfilingConfig   `toml:"profiling"`
	Observation ObservationConfig `toml:"observation"`
}

type EngineConfig struct {
	TickRate    time.Duration `toml:"tick_rate"` // simulated delta per tick
	Ticks       int           `toml:"ticks"`
	Workers     int           `toml:"workers"` // 0 = one per CPU
	Seed        uint64        `toml:"seed"`    // 0 = random
	MaxEntities int           `toml:"max_entities"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type ProfilingConfig struct {
	Enabled bool   `toml:"enabled"`
	Mode    string `toml:"mode"` // cpu, mem or trace
	Path    string `toml:"path"`
}

type ObservationConfig struct {
	StructuredLogging bool   `toml:"structured_logging"`
	LogFormat         string `toml:"log_format"` // "json" or "kv"
	Prometheus        bool   `toml:"prometheus"`
	MetricsPath       string `toml:"metrics_path"`
}

var (
	profilingModes = map[string]bool{"cpu": true, "mem": true, "trace": true}
	logFormats     = map[string]bool{"json": true, "kv": true}
)

// Load reads a TOML file over the defaults. Missing keys keep their default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read config %s", path)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, eris.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.validate(); err != nil {
		return nil, eris.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Engine.TickRate <= 0:
		return eris.Errorf("engine.tick_rate must be positive, got %s", c.Engine.TickRate)
	case c.Engine.Ticks < 0:
		return eris.Errorf("engine.ticks must not be negative, got %d", c.Engine.Ticks)
	case c.Engine.Workers < 0:
		return eris.Errorf("engine.workers must not be negative, got %d", c.Engine.Workers)
	case c.Engine.MaxEntities <= 0:
		return eris.Errorf("engine.max_entities must be positive, got %d", c.Engine.MaxEntities)
	case c.Profiling.Enabled && !profilingModes[c.Profiling.Mode]:
		return eris.Errorf("profiling.mode %q is not one of cpu, mem, trace", c.Profiling.Mode)
	case !logFormats[c.Observation.LogFormat]:
		return eris.Errorf("observation.log_format %q is not one of json, kv", c.Observation.LogFormat)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			TickRate:    16 * time.Millisecond,
			Ticks:       600,
			MaxEntities: 65536,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Profiling: ProfilingConfig{
			Mode: "cpu",
			Path: ".",
		},
		Observation: ObservationConfig{
			LogFormat:   "kv",
			MetricsPath: "metrics.prom",
		},
	}
}
