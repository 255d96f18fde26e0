package main

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	ecs "github.com/DangerosoDavo/rowecs"
	"github.com/DangerosoDavo/rowecs/internal/config"
	"github.com/DangerosoDavo/rowecs/internal/layout"
)

type Position struct{ X, Y float64 }

type Velocity struct{ DX, DY float64 }

type Lifetime struct{ Remaining time.Duration }

// Emitter spawns Rate particles per tick at (X, Y).
type Emitter struct {
	X, Y  float64
	Rate  int
	Speed float64
}

const (
	arena    = 1000.0
	emitters = 4
)

// simulation is a particle field: emitters spawn particles, move integrates
// them, jitter nudges a random sample, age expires them.
type simulation struct {
	world *ecs.World
	log   *zap.Logger
	rng   *rand.Rand
	clock time.Time

	pos  *ecs.Component[Position]
	vel  *ecs.Component[Velocity]
	life *ecs.Component[Lifetime]
	emit *ecs.Component[Emitter]

	maxParticles int
}

func newSimulation(cfg *config.Config, lay *layout.Layout, log *zap.Logger) (*simulation, error) {
	sim := &simulation{log: log, clock: time.Unix(0, 0)}
	seed := cfg.Engine.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	sim.rng = rand.New(rand.NewPCG(seed, seed>>1))
	sim.world = ecs.NewWorld(
		ecs.WithLogger(ecs.NewZapLogger(log)),
		ecs.WithSeed(seed),
		ecs.WithMaxEntities(cfg.Engine.MaxEntities),
		ecs.WithClock(sim.now),
	)

	var err error
	if sim.pos, err = register[Position](sim.world, lay, "position"); err != nil {
		return nil, err
	}
	if sim.vel, err = register[Velocity](sim.world, lay, "velocity"); err != nil {
		return nil, err
	}
	if sim.life, err = register[Lifetime](sim.world, lay, "lifetime"); err != nil {
		return nil, err
	}
	if sim.emit, err = register[Emitter](sim.world, lay, "emitter"); err != nil {
		return nil, err
	}
	sim.maxParticles = cfg.Engine.MaxEntities - emitters
	if format := sim.pos.Format(); format.Capacity > 0 && format.Capacity < sim.maxParticles {
		sim.maxParticles = format.Capacity
	}

	bodies := map[string]ecs.SystemBody{
		"emit":   sim.emitParticles,
		"move":   sim.move,
		"jitter": sim.jitter,
		"age":    sim.age,
		"census": sim.census,
	}
	for _, name := range lay.Systems() {
		body, ok := bodies[name]
		if !ok {
			return nil, fmt.Errorf("layout system %s has no body", name)
		}
		sc, err := lay.SystemConfig(sim.world, name)
		if err != nil {
			return nil, err
		}
		sc.Body = body
		if _, err := sim.world.NewSystem(sc); err != nil {
			return nil, fmt.Errorf("system %s: %w", name, err)
		}
	}
	return sim, nil
}

func register[T any](w *ecs.World, lay *layout.Layout, name string) (*ecs.Component[T], error) {
	format, err := lay.Component(name)
	if err != nil {
		return nil, err
	}
	c, err := ecs.RegisterComponent[T](w, name, format)
	if err != nil {
		return nil, fmt.Errorf("component %s: %w", name, err)
	}
	return c, nil
}

func (sim *simulation) now() time.Time { return sim.clock }

func (sim *simulation) advance(dt time.Duration) { sim.clock = sim.clock.Add(dt) }

// seed places the emitters at the arena's quarter points.
func (sim *simulation) seed(rate int) error {
	for i := 0; i < emitters; i++ {
		x := arena * float64(1+2*(i%2)) / 4
		y := arena * float64(1+2*(i/2)) / 4
		if _, err := sim.world.NewEntity(sim.emit.Value(Emitter{X: x, Y: y, Rate: rate, Speed: 120})); err != nil {
			return err
		}
	}
	return nil
}

func (sim *simulation) emitParticles(_ context.Context, s *ecs.System, exec ecs.ExecutionContext) error {
	budget := sim.maxParticles - exec.World().EntityCount()
	return s.All(func(it *ecs.Item) {
		em := sim.emit.Of(it)
		for i := 0; i < em.Rate && budget > 0; i++ {
			angle := sim.rng.Float64() * 2 * math.Pi
			speed := em.Speed * (0.5 + sim.rng.Float64())
			exec.Defer(ecs.NewCreateEntityCommand(nil,
				sim.pos.Value(Position{X: em.X, Y: em.Y}),
				sim.vel.Value(Velocity{DX: speed * math.Cos(angle), DY: speed * math.Sin(angle)}),
				sim.life.Value(Lifetime{Remaining: time.Second + time.Duration(sim.rng.Int64N(int64(2*time.Second)))}),
			))
			budget--
		}
	})
}

func (sim *simulation) move(ctx context.Context, s *ecs.System, exec ecs.ExecutionContext) error {
	dt := exec.TimeDelta().Seconds()
	return s.Distribute(ctx, exec.Pool(), func(it *ecs.Item) {
		p, v := sim.pos.Of(it), sim.vel.Of(it)
		p.X += v.DX * dt
		p.Y += v.DY * dt
		if p.X < 0 || p.X > arena {
			v.DX = -v.DX
			p.X = clamp(p.X)
		}
		if p.Y < 0 || p.Y > arena {
			v.DY = -v.DY
			p.Y = clamp(p.Y)
		}
	})
}

func (sim *simulation) jitter(_ context.Context, s *ecs.System, _ ecs.ExecutionContext) error {
	_, err := s.Stream(ecs.StreamStochastic, 0, func(it *ecs.Item) {
		v := sim.vel.Of(it)
		v.DX += sim.rng.NormFloat64() * 4
		v.DY += sim.rng.NormFloat64() * 4
	})
	return err
}

func (sim *simulation) age(_ context.Context, s *ecs.System, exec ecs.ExecutionContext) error {
	dt := exec.TimeDelta()
	return s.All(func(it *ecs.Item) {
		l := sim.life.Of(it)
		l.Remaining -= dt
		if l.Remaining <= 0 {
			it.Delete()
		}
	})
}

func (sim *simulation) census(_ context.Context, s *ecs.System, exec ecs.ExecutionContext) error {
	stats := exec.World().IterationStats()
	exec.Logger().Info("census",
		"tick", exec.TickIndex(),
		"particles", s.Count(),
		"entities", exec.World().EntityCount(),
		"holds", stats.Holds,
		"revisits", stats.Revisits,
	)
	return nil
}

func clamp(v float64) float64 {
	return max(0, min(arena, v))
}
