package ecs

import (
	"context"
	"io"
	"time"
)

// Scheduler runs groups of systems once per tick in commit order.
type Scheduler interface {
	Tick(ctx context.Context, dt time.Duration) error
	Run(ctx context.Context, steps int, dt time.Duration) error
	RunWithTrace(ctx context.Context, w io.Writer, fn func() error) error
	RegisterGroup(cfg GroupConfig) (GroupHandle, error)
	Builder() SchedulerBuilder
	TickIndex() uint64
	Close()
}

// SchedulerBuilder configures scheduler options prior to the first tick.
type SchedulerBuilder interface {
	WithOrder(order []GroupID) SchedulerBuilder
	WithWorkers(count int) SchedulerBuilder
	WithErrorPolicy(id GroupID, policy ErrorPolicy) SchedulerBuilder
	WithInstrumentation(cfg InstrumentationConfig) SchedulerBuilder
	WithLogger(logger Logger) SchedulerBuilder
	Build(world *World) (Scheduler, error)
}

// GroupConfig declares an ordered set of systems run together.
type GroupConfig struct {
	ID          GroupID
	Systems     []*System
	Interval    TickInterval
	ErrorPolicy ErrorPolicy
}

// GroupID uniquely identifies a group within the scheduler.
type GroupID string

// GroupHandle references a registered group.
type GroupHandle interface {
	ID() GroupID
}

// TickInterval controls how frequently a group runs.
type TickInterval struct {
	Every  uint32
	Offset uint32
}

// ErrorPolicy defines how the scheduler responds to system failures.
type ErrorPolicy uint8

const (
	ErrorPolicyAbort ErrorPolicy = iota
	ErrorPolicyContinue
)

func (p ErrorPolicy) String() string {
	if p == ErrorPolicyContinue {
		return "continue"
	}
	return "abort"
}

// InstrumentationConfig configures tracing and observers.
type InstrumentationConfig struct {
	EnableTrace bool
	Observer    SchedulerObserver
	Observation ObservationSettings
}

// ObservationSettings toggles built-in observer integrations.
type ObservationSettings struct {
	EnableStructuredLogging bool
	LoggingFormat           ObservationLogFormat
	StructuredLogger        Logger
	EnablePrometheus        bool
	PrometheusCollector     PrometheusCollector
	PrometheusOptions       *PrometheusCollectorOptions
}

// ObservationLogFormat controls structured logging encoding.
type ObservationLogFormat uint8

const (
	ObservationLogFormatJSON ObservationLogFormat = iota
	ObservationLogFormatKeyValue
)

// SchedulerObserver receives summaries after groups complete.
type SchedulerObserver interface {
	GroupCompleted(summary GroupSummary)
}

// PrometheusCollector handles group summaries for Prometheus-style metrics.
type PrometheusCollector interface {
	ObserveGroup(summary GroupSummary)
}

type PrometheusCollectorOptions struct {
	Writer          io.Writer
	DurationBuckets []time.Duration
}

// GroupSummary captures execution metadata for one group run.
type GroupSummary struct {
	GroupID         GroupID
	Tick            uint64
	Duration        time.Duration
	SystemsTotal    int
	SystemsExecuted int
	SystemsSkipped  int
	Error           error
	Systems         []SystemSummary
}

// SystemSummary describes one system invocation inside a group run.
type SystemSummary struct {
	Name     string
	Rows     int
	Duration time.Duration
	Skipped  bool
	Err      error
}

// SystemResult indicates how a system behaved during execution.
type SystemResult struct {
	Skipped bool
	Err     error
}

// ExecutionContext supplies a system body with scoped access to the tick.
type ExecutionContext interface {
	World() *World
	TimeDelta() time.Duration
	TickIndex() uint64
	Logger() Logger
	Defer(cmd Command)
	Pool() *WorkerPool
}

// Command represents a deferred mutation applied after the tick's groups run.
type Command interface {
	Apply(world *World) error
}

// Logger captures structured log output.
type Logger interface {
	With(key string, value any) Logger
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Tracer coordinates tracing spans for observability tooling.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, TraceSpan)
}

// TraceSpan represents an active tracing region.
type TraceSpan interface {
	End()
}
