package ecs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type compositeObserver struct {
	observers []SchedulerObserver
}

func (c compositeObserver) GroupCompleted(summary GroupSummary) {
	for _, observer := range c.observers {
		observer.GroupCompleted(summary)
	}
}

type loggingObserver struct {
	logger Logger
	format ObservationLogFormat
}

func newLoggingObserver(logger Logger, format ObservationLogFormat) SchedulerObserver {
	if logger == nil {
		return noopObserver{}
	}
	if format != ObservationLogFormatKeyValue {
		format = ObservationLogFormatJSON
	}
	return loggingObserver{logger: logger, format: format}
}

func (o loggingObserver) GroupCompleted(summary GroupSummary) {
	switch o.format {
	case ObservationLogFormatKeyValue:
		o.logKeyValue(summary)
	default:
		o.logJSON(summary)
	}
}

func (o loggingObserver) logJSON(summary GroupSummary) {
	systems := make([]map[string]any, 0, len(summary.Systems))
	for _, sys := range summary.Systems {
		entry := map[string]any{
			"name":        sys.Name,
			"rows":        sys.Rows,
			"duration_ms": float64(sys.Duration) / float64(time.Millisecond),
			"skipped":     sys.Skipped,
		}
		if sys.Err != nil {
			entry["error"] = sys.Err.Error()
		}
		systems = append(systems, entry)
	}
	payload := map[string]any{
		"group_id":         summary.GroupID,
		"tick":             summary.Tick,
		"duration_ms":      float64(summary.Duration) / float64(time.Millisecond),
		"systems_total":    summary.SystemsTotal,
		"systems_executed": summary.SystemsExecuted,
		"systems_skipped":  summary.SystemsSkipped,
		"systems":          systems,
	}
	if summary.Error != nil {
		payload["error"] = summary.Error.Error()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.With("group", summary.GroupID).Error("group summary marshal error", "err", err)
		return
	}
	o.logger.Info(string(data))
}

func (o loggingObserver) logKeyValue(summary GroupSummary) {
	builder := o.logger.With("group", summary.GroupID)
	rows := make([]string, 0, len(summary.Systems))
	for _, sys := range summary.Systems {
		rows = append(rows, fmt.Sprintf("%s=%d", sys.Name, sys.Rows))
	}
	args := []any{
		"tick", summary.Tick,
		"duration", summary.Duration,
		"systems_total", summary.SystemsTotal,
		"systems_executed", summary.SystemsExecuted,
		"systems_skipped", summary.SystemsSkipped,
		"rows", strings.Join(rows, ","),
	}
	if summary.Error != nil {
		args = append(args, "error", summary.Error.Error())
	}
	builder.Info("group summary", args...)
}

type prometheusObserver struct {
	collector PrometheusCollector
}

func newPrometheusObserver(collector PrometheusCollector) SchedulerObserver {
	if collector == nil {
		return noopObserver{}
	}
	return prometheusObserver{collector: collector}
}

func (o prometheusObserver) GroupCompleted(summary GroupSummary) {
	o.collector.ObserveGroup(summary)
}

func buildObserverChain(logger Logger, cfg InstrumentationConfig) SchedulerObserver {
	var observers []SchedulerObserver

	if cfg.Observer != nil {
		observers = append(observers, cfg.Observer)
	}

	obs := cfg.Observation

	if obs.EnableStructuredLogging {
		structuredLogger := obs.StructuredLogger
		if structuredLogger == nil {
			structuredLogger = logger
		}
		observers = append(observers, newLoggingObserver(structuredLogger, obs.LoggingFormat))
	}

	if obs.EnablePrometheus {
		collector := obs.PrometheusCollector
		if collector == nil {
			collector = NewPrometheusGroupCollector(obs.PrometheusOptions)
		}
		observers = append(observers, newPrometheusObserver(collector))
	}

	if len(observers) == 0 {
		return noopObserver{}
	}
	if len(observers) == 1 {
		return observers[0]
	}
	return compositeObserver{observers: observers}
}

// PrometheusGroupCollector aggregates group and system summaries and renders
// them in the Prometheus text exposition format.
type PrometheusGroupCollector struct {
	options *PrometheusCollectorOptions
	mu      sync.Mutex
	groups  map[GroupID]*groupSample
	systems map[string]*systemSample
}

type groupSample struct {
	durationSum   float64
	durationCount float64
	buckets       []float64
	executed      float64
	skipped       float64
	errors        float64
}

type systemSample struct {
	group       GroupID
	rows        float64
	durationSum float64
	runs        float64
}

func NewPrometheusGroupCollector(opts *PrometheusCollectorOptions) *PrometheusGroupCollector {
	if opts == nil {
		opts = &PrometheusCollectorOptions{}
	}
	return &PrometheusGroupCollector{
		options: opts,
		groups:  make(map[GroupID]*groupSample),
		systems: make(map[string]*systemSample),
	}
}

func (c *PrometheusGroupCollector) ObserveGroup(summary GroupSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sample, ok := c.groups[summary.GroupID]
	if !ok {
		sample = &groupSample{}
		if buckets := c.options.DurationBuckets; len(buckets) > 0 {
			sample.buckets = make([]float64, len(buckets))
		}
		c.groups[summary.GroupID] = sample
	}
	durSeconds := summary.Duration.Seconds()
	sample.durationSum += durSeconds
	sample.durationCount++
	for i := range sample.buckets {
		if durSeconds <= c.options.DurationBuckets[i].Seconds() {
			sample.buckets[i]++
		}
	}
	sample.executed += float64(summary.SystemsExecuted)
	sample.skipped += float64(summary.SystemsSkipped)
	if summary.Error != nil {
		sample.errors++
	}

	for _, sys := range summary.Systems {
		ss, ok := c.systems[sys.Name]
		if !ok {
			ss = &systemSample{group: summary.GroupID}
			c.systems[sys.Name] = ss
		}
		ss.rows = float64(sys.Rows)
		if !sys.Skipped {
			ss.durationSum += sys.Duration.Seconds()
			ss.runs++
		}
	}

	if writer := c.options.Writer; writer != nil {
		_ = c.writeMetricsLocked(writer)
	}
}

// WriteMetrics renders the current samples to w.
func (c *PrometheusGroupCollector) WriteMetrics(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeMetricsLocked(w)
}

func (c *PrometheusGroupCollector) writeMetricsLocked(w io.Writer) error {
	if w == nil {
		return nil
	}
	var buf bytes.Buffer
	ids := make([]GroupID, 0, len(c.groups))
	for id := range c.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	buf.WriteString("# HELP ecs_group_duration_seconds Group execution duration.\n")
	buf.WriteString("# TYPE ecs_group_duration_seconds summary\n")
	for _, id := range ids {
		sample := c.groups[id]
		labels := fmt.Sprintf("group=\"%s\"", id)
		fmt.Fprintf(&buf, "ecs_group_duration_seconds_sum{%s} %f\n", labels, sample.durationSum)
		fmt.Fprintf(&buf, "ecs_group_duration_seconds_count{%s} %f\n", labels, sample.durationCount)
		for i, bucket := range sample.buckets {
			le := c.options.DurationBuckets[i].Seconds()
			fmt.Fprintf(&buf, "ecs_group_duration_seconds_bucket{%s,le=\"%.6f\"} %f\n", labels, le, bucket)
		}
	}

	c.writeGroupCounter(&buf, ids, "ecs_group_systems_executed_total", "Systems executed per group.", func(s *groupSample) float64 { return s.executed })
	c.writeGroupCounter(&buf, ids, "ecs_group_systems_skipped_total", "Systems skipped per group.", func(s *groupSample) float64 { return s.skipped })
	c.writeGroupCounter(&buf, ids, "ecs_group_errors_total", "Group error count.", func(s *groupSample) float64 { return s.errors })

	names := make([]string, 0, len(c.systems))
	for name := range c.systems {
		names = append(names, name)
	}
	sort.Strings(names)

	buf.WriteString("# HELP ecs_system_rows Rows held by a system after its last run.\n")
	buf.WriteString("# TYPE ecs_system_rows gauge\n")
	for _, name := range names {
		ss := c.systems[name]
		fmt.Fprintf(&buf, "ecs_system_rows{group=\"%s\",system=\"%s\"} %f\n", ss.group, name, ss.rows)
	}
	buf.WriteString("# HELP ecs_system_duration_seconds System body duration.\n")
	buf.WriteString("# TYPE ecs_system_duration_seconds summary\n")
	for _, name := range names {
		ss := c.systems[name]
		labels := fmt.Sprintf("group=\"%s\",system=\"%s\"", ss.group, name)
		fmt.Fprintf(&buf, "ecs_system_duration_seconds_sum{%s} %f\n", labels, ss.durationSum)
		fmt.Fprintf(&buf, "ecs_system_duration_seconds_count{%s} %f\n", labels, ss.runs)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func (c *PrometheusGroupCollector) writeGroupCounter(buf *bytes.Buffer, ids []GroupID, name, help string, value func(*groupSample) float64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	for _, id := range ids {
		fmt.Fprintf(buf, "%s{group=\"%s\"} %f\n", name, id, value(c.groups[id]))
	}
}
