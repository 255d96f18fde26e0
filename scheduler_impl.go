package ecs

import (
	"context"
	"fmt"
	"io"
	"runtime/trace"
	"slices"
	"sync"
	"time"
)

// NewScheduler constructs a scheduler bound to world. Groups run in
// registration order unless an explicit order is set before the first tick.
func NewScheduler(world *World) (Scheduler, error) {
	if world == nil {
		world = NewWorld()
	}
	s := &tickScheduler{
		world:    world,
		groups:   make(map[GroupID]*group),
		policies: make(map[GroupID]ErrorPolicy),
		owners:   make(map[*System]GroupID),
		buffers:  NewCommandBufferPool(),
		logger:   world.Logger(),
	}
	s.instrument(InstrumentationConfig{})
	return s, nil
}

type tickScheduler struct {
	mu       sync.RWMutex
	world    *World
	groups   map[GroupID]*group
	order    []*group // resolved run order
	commit   []GroupID
	explicit []GroupID
	policies map[GroupID]ErrorPolicy // overrides set through the builder
	owners   map[*System]GroupID
	buffers  *CommandBufferPool
	workers  *WorkerPool
	logger   Logger
	tracer   Tracer
	observer SchedulerObserver
	instr    InstrumentationConfig
	tick     uint64
	started  bool
}

type group struct {
	id       GroupID
	systems  []*System
	interval TickInterval
	policy   ErrorPolicy
}

func (g *group) due(tick uint64) bool {
	every := uint64(g.interval.Every)
	if every == 0 {
		return true
	}
	return (tick+uint64(g.interval.Offset)%every)%every == 0
}

type groupHandle GroupID

func (h groupHandle) ID() GroupID { return GroupID(h) }

func (s *tickScheduler) instrument(cfg InstrumentationConfig) {
	s.instr = cfg
	s.tracer = noopTracer{}
	if cfg.EnableTrace {
		s.tracer = taskTracer{}
	}
	s.observer = buildObserverChain(s.logger, cfg)
}

func (s *tickScheduler) policyFor(id GroupID, declared ErrorPolicy) ErrorPolicy {
	if p, ok := s.policies[id]; ok {
		return p
	}
	return declared
}

func (s *tickScheduler) resolveOrder() {
	order := make([]*group, 0, len(s.groups))
	for _, id := range slices.Concat(s.explicit, s.commit) {
		g, ok := s.groups[id]
		if ok && !slices.Contains(order, g) {
			order = append(order, g)
		}
	}
	s.order = order
}

func (s *tickScheduler) RegisterGroup(cfg GroupConfig) (GroupHandle, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("ecs: group requires non-empty ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.groups[cfg.ID]; exists {
		return nil, fmt.Errorf("ecs: group %s already registered", cfg.ID)
	}

	g := &group{
		id:       cfg.ID,
		systems:  make([]*System, 0, len(cfg.Systems)),
		interval: cfg.Interval,
		policy:   s.policyFor(cfg.ID, cfg.ErrorPolicy),
	}
	for _, sys := range cfg.Systems {
		switch {
		case sys == nil:
			continue
		case sys.world != s.world:
			return nil, fmt.Errorf("%w: %s", ErrForeignSystem, sys.name)
		case slices.Contains(g.systems, sys):
			return nil, fmt.Errorf("%w: %s listed twice in %s", ErrSystemAlreadyScheduled, sys.name, cfg.ID)
		}
		if owner, ok := s.owners[sys]; ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrSystemAlreadyScheduled, sys.name, owner)
		}
		g.systems = append(g.systems, sys)
	}

	s.groups[g.id] = g
	s.commit = append(s.commit, g.id)
	for _, sys := range g.systems {
		s.owners[sys] = g.id
	}
	s.resolveOrder()
	return groupHandle(g.id), nil
}

// tickPlan is the state a tick reads under the lock.
type tickPlan struct {
	groups   []*group
	tick     uint64
	logger   Logger
	tracer   Tracer
	observer SchedulerObserver
	workers  *WorkerPool
}

func (s *tickScheduler) plan() tickPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return tickPlan{
		groups:   slices.Clone(s.order),
		tick:     s.tick,
		logger:   s.logger,
		tracer:   s.tracer,
		observer: s.observer,
		workers:  s.workers,
	}
}

// Tick runs every due group, then applies the commands deferred during the
// tick. A failing group under ErrorPolicyAbort ends the tick without applying
// commands or advancing the tick index.
func (s *tickScheduler) Tick(ctx context.Context, dt time.Duration) error {
	if err := s.world.Seal(); err != nil {
		return err
	}
	p := s.plan()
	buf := s.buffers.Get()
	defer s.buffers.Put(buf)

	for _, g := range p.groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !g.due(p.tick) {
			continue
		}
		summary, err := s.runGroup(ctx, g, p, dt, buf)
		p.observer.GroupCompleted(summary)
		if err == nil {
			continue
		}
		if g.policy != ErrorPolicyContinue {
			return err
		}
		p.logger.Error("group error", "group", string(g.id), "err", err)
	}

	if err := buf.Apply(s.world); err != nil {
		return err
	}
	s.mu.Lock()
	s.tick++
	s.mu.Unlock()
	return nil
}

func (s *tickScheduler) runGroup(ctx context.Context, g *group, p tickPlan, dt time.Duration, buf *CommandBuffer) (GroupSummary, error) {
	ctx, span := p.tracer.Start(ctx, "group:"+string(g.id))
	defer span.End()

	logger := p.logger.With("group", string(g.id))
	exec := &execContext{world: s.world, dt: dt, tick: p.tick, commands: buf, workers: p.workers}
	summary := GroupSummary{
		GroupID: g.id,
		Tick:    p.tick,
		Systems: make([]SystemSummary, 0, len(g.systems)),
	}
	start := time.Now()
	fail := func(err error) (GroupSummary, error) {
		summary.Error = err
		summary.Duration = time.Since(start)
		return summary, err
	}

	for _, sys := range g.systems {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		summary.SystemsTotal++
		exec.logger = logger.With("system", sys.name)

		mark := buf.Mark()
		sysCtx, sysSpan := p.tracer.Start(ctx, "system:"+sys.name)
		began := time.Now()
		res := sys.Run(sysCtx, exec)
		sysSpan.End()
		summary.Systems = append(summary.Systems, SystemSummary{
			Name:     sys.name,
			Rows:     sys.Count(),
			Duration: time.Since(began),
			Skipped:  res.Skipped,
			Err:      res.Err,
		})

		switch {
		case res.Err != nil:
			buf.Rewind(mark)
			return fail(fmt.Errorf("ecs: system %s failed: %w", sys.name, res.Err))
		case res.Skipped:
			summary.SystemsSkipped++
		default:
			summary.SystemsExecuted++
		}
	}
	summary.Duration = time.Since(start)
	return summary, nil
}

func (s *tickScheduler) Run(ctx context.Context, steps int, dt time.Duration) error {
	for i := 0; i < steps; i++ {
		if err := s.Tick(ctx, dt); err != nil {
			return err
		}
	}
	return nil
}

// RunWithTrace wraps fn in a runtime/trace capture written to w when tracing
// is enabled.
func (s *tickScheduler) RunWithTrace(_ context.Context, w io.Writer, fn func() error) error {
	s.mu.RLock()
	enabled := s.instr.EnableTrace
	s.mu.RUnlock()
	if enabled && w != nil {
		if err := trace.Start(w); err != nil {
			return err
		}
		defer trace.Stop()
	}
	return fn()
}

func (s *tickScheduler) TickIndex() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick
}

// Close releases the worker pool.
func (s *tickScheduler) Close() {
	s.mu.Lock()
	workers := s.workers
	s.workers = nil
	s.mu.Unlock()
	workers.Close()
}

func (s *tickScheduler) Builder() SchedulerBuilder {
	return &schedulerBuilder{s: s}
}

type schedulerBuilder struct {
	s *tickScheduler
}

func (b *schedulerBuilder) WithOrder(order []GroupID) SchedulerBuilder {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if b.s.started {
		b.s.logger.Error("group order ignored after first tick")
		return b
	}
	b.s.explicit = slices.Clone(order)
	b.s.resolveOrder()
	return b
}

// WithWorkers replaces the pool handed to systems through
// ExecutionContext.Pool. A count of zero removes it.
func (b *schedulerBuilder) WithWorkers(count int) SchedulerBuilder {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.workers.Close()
	b.s.workers = nil
	if count > 0 {
		b.s.workers = NewWorkerPool(count)
	}
	return b
}

func (b *schedulerBuilder) WithErrorPolicy(id GroupID, policy ErrorPolicy) SchedulerBuilder {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.policies[id] = policy
	if g, ok := b.s.groups[id]; ok {
		g.policy = policy
	}
	return b
}

func (b *schedulerBuilder) WithInstrumentation(cfg InstrumentationConfig) SchedulerBuilder {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.instrument(cfg)
	return b
}

func (b *schedulerBuilder) WithLogger(logger Logger) SchedulerBuilder {
	if logger == nil {
		return b
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.logger = logger
	b.s.instrument(b.s.instr)
	return b
}

func (b *schedulerBuilder) Build(world *World) (Scheduler, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if world != nil && world != b.s.world {
		if len(b.s.groups) > 0 {
			return nil, fmt.Errorf("%w: groups already registered against another world", ErrForeignSystem)
		}
		b.s.world = world
	}
	return b.s, nil
}

// execContext is the ExecutionContext handed to each system body.
type execContext struct {
	world    *World
	dt       time.Duration
	tick     uint64
	logger   Logger
	commands *CommandBuffer
	workers  *WorkerPool
}

func (c *execContext) World() *World            { return c.world }
func (c *execContext) TimeDelta() time.Duration { return c.dt }
func (c *execContext) TickIndex() uint64        { return c.tick }
func (c *execContext) Logger() Logger           { return c.logger }
func (c *execContext) Defer(cmd Command)        { c.commands.Push(cmd) }
func (c *execContext) Pool() *WorkerPool        { return c.workers }

type noopLogger struct{}

func (noopLogger) With(string, any) Logger { return noopLogger{} }
func (noopLogger) Info(string, ...any)     {}
func (noopLogger) Error(string, ...any)    {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End() {}

// taskTracer records groups and systems as runtime/trace tasks.
type taskTracer struct{}

func (taskTracer) Start(ctx context.Context, name string) (context.Context, TraceSpan) {
	return trace.NewTask(ctx, name)
}

type noopObserver struct{}

func (noopObserver) GroupCompleted(GroupSummary) {}
