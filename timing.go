package ecs

import "time"

// Timing accumulates per-invocation profiling for a system.
type Timing struct {
	Runs uint64

	LastRun time.Duration
	MinRun  time.Duration
	MaxRun  time.Duration
	// TotalRun is the sum of all recorded invocations.
	TotalRun time.Duration

	LastItem time.Duration
	MinItem  time.Duration
	MaxItem  time.Duration
}

// AverageRun returns the mean invocation time.
func (t Timing) AverageRun() time.Duration {
	if t.Runs == 0 {
		return 0
	}
	return t.TotalRun / time.Duration(t.Runs)
}

func (t *Timing) record(run time.Duration, rows int) {
	var item time.Duration
	if rows > 0 {
		item = run / time.Duration(rows)
	}
	if t.Runs == 0 {
		t.MinRun, t.MaxRun = run, run
		t.MinItem, t.MaxItem = item, item
	} else {
		t.MinRun = min(t.MinRun, run)
		t.MaxRun = max(t.MaxRun, run)
		t.MinItem = min(t.MinItem, item)
		t.MaxItem = max(t.MaxItem, item)
	}
	t.Runs++
	t.LastRun = run
	t.LastItem = item
	t.TotalRun += run
}

func (t *Timing) reset() {
	*t = Timing{}
}

// Timing returns a copy of the profiling counters. ok is false when the
// system was configured without profiling.
func (s *System) Timing() (Timing, bool) {
	if s.timing == nil {
		return Timing{}, false
	}
	return *s.timing, true
}

// ResetTiming clears the running min/max counters.
func (s *System) ResetTiming() {
	if s.timing != nil {
		s.timing.reset()
	}
}
