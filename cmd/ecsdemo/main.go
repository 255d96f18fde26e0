package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/pkg/profile"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	ecs "github.com/DangerosoDavo/rowecs"
	"github.com/DangerosoDavo/rowecs/internal/config"
	"github.com/DangerosoDavo/rowecs/internal/layout"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/engine.toml", "engine configuration (TOML)")
	layoutPath := flag.String("layout", "config/layout.yaml", "component and system layout (YAML)")
	emitRate := flag.Int("rate", 8, "particles spawned per emitter per tick")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	lay, err := layout.Load(*layoutPath)
	if err != nil {
		return fmt.Errorf("load layout: %w", err)
	}

	if cfg.Profiling.Enabled {
		defer startProfile(cfg.Profiling).Stop()
	}

	// 3. Build the world
	sim, err := newSimulation(cfg, lay, log)
	if err != nil {
		return fmt.Errorf("build world: %w", err)
	}
	if err := sim.seed(*emitRate); err != nil {
		return fmt.Errorf("seed emitters: %w", err)
	}

	// 4. Scheduler
	var collector *ecs.PrometheusGroupCollector
	if cfg.Observation.Prometheus {
		collector = ecs.NewPrometheusGroupCollector(nil)
	}
	sched, err := newScheduler(sim.world, cfg, log, collector)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	defer sched.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info("simulation starting",
		zap.Int("ticks", cfg.Engine.Ticks),
		zap.Duration("tick_rate", cfg.Engine.TickRate),
		zap.Int("systems", len(sim.world.Systems())),
	)
	start := time.Now()
	ticks := 0
	for ; ticks < cfg.Engine.Ticks; ticks++ {
		sim.advance(cfg.Engine.TickRate)
		if err := sched.Tick(ctx, cfg.Engine.TickRate); err != nil {
			if ctx.Err() != nil {
				log.Info("interrupted", zap.Int("tick", ticks))
				break
			}
			return fmt.Errorf("tick %d: %w", ticks, err)
		}
	}

	stats := sim.world.IterationStats()
	log.Info("simulation finished",
		zap.Int("ticks", ticks),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("entities", sim.world.EntityCount()),
		zap.Uint64("removals", stats.Removals),
		zap.Uint64("holds", stats.Holds),
	)
	for _, s := range sim.world.Systems() {
		timing, ok := s.Timing()
		if !ok {
			continue
		}
		log.Info("system timing",
			zap.String("system", s.Name()),
			zap.Uint64("runs", timing.Runs),
			zap.Duration("avg", timing.AverageRun()),
			zap.Duration("max", timing.MaxRun),
			zap.Duration("max_item", timing.MaxItem),
		)
	}

	if collector != nil {
		if err := writeMetrics(collector, cfg.Observation.MetricsPath); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		log.Info("metrics written", zap.String("path", cfg.Observation.MetricsPath))
	}
	return nil
}

// groups maps scheduler groups onto layout system names, in commit order.
var groups = []struct {
	id      ecs.GroupID
	systems []string
	policy  ecs.ErrorPolicy
}{
	{id: "spawn", systems: []string{"emit"}},
	{id: "simulate", systems: []string{"move", "jitter", "age"}},
	{id: "report", systems: []string{"census"}, policy: ecs.ErrorPolicyContinue},
}

func newScheduler(w *ecs.World, cfg *config.Config, log *zap.Logger, collector *ecs.PrometheusGroupCollector) (ecs.Scheduler, error) {
	sched, err := ecs.NewScheduler(w)
	if err != nil {
		return nil, err
	}
	workers := cfg.Engine.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	format := ecs.ObservationLogFormatKeyValue
	if cfg.Observation.LogFormat == "json" {
		format = ecs.ObservationLogFormatJSON
	}
	obs := ecs.ObservationSettings{
		EnableStructuredLogging: cfg.Observation.StructuredLogging,
		LoggingFormat:           format,
		StructuredLogger:        ecs.NewZapLogger(log.Named("groups")),
	}
	if collector != nil {
		obs.EnablePrometheus = true
		obs.PrometheusCollector = collector
	}
	builder := sched.Builder().
		WithWorkers(workers).
		WithLogger(ecs.NewZapLogger(log.Named("scheduler"))).
		WithInstrumentation(ecs.InstrumentationConfig{Observation: obs})

	for _, g := range groups {
		systems := make([]*ecs.System, 0, len(g.systems))
		for _, name := range g.systems {
			s, ok := w.System(name)
			if !ok {
				return nil, fmt.Errorf("group %s: system %s missing from layout", g.id, name)
			}
			systems = append(systems, s)
		}
		if _, err := sched.RegisterGroup(ecs.GroupConfig{ID: g.id, Systems: systems, ErrorPolicy: g.policy}); err != nil {
			return nil, err
		}
	}
	return builder.Build(nil)
}

func startProfile(cfg config.ProfilingConfig) interface{ Stop() } {
	mode := profile.CPUProfile
	switch cfg.Mode {
	case "mem":
		mode = profile.MemProfileAllocs
	case "trace":
		mode = profile.TraceProfile
	}
	return profile.Start(mode, profile.ProfilePath(cfg.Path), profile.NoShutdownHook, profile.Quiet)
}

func writeMetrics(collector *ecs.PrometheusGroupCollector, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := collector.WriteMetrics(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
