package ecs

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

// Item is the view of one system row handed to iteration callbacks. It is
// only valid for the duration of the callback.
type Item struct {
	sys    *System
	row    int
	entity EntityRef
}

// Entity returns the entity owning the row.
func (it *Item) Entity() EntityRef { return it.entity }

// Row returns the row position being visited.
func (it *Item) Row() int { return it.row }

// System returns the system being iterated.
func (it *Item) System() *System { return it.sys }

// Ref returns the component reference stored for t on the entity.
func (it *Item) Ref(t ComponentTypeID) (ComponentRef, bool) {
	if slot, ok := it.sys.refSlot[t]; ok {
		return it.sys.group.rowRefs(it.row)[slot], true
	}
	return it.sys.world.ComponentRef(it.entity, t)
}

// Delete queues the row's entity for deletion once the system finishes.
func (it *Item) Delete() { it.sys.DeferDelete(it.entity) }

// StreamMode selects how Stream picks rows.
type StreamMode uint8

const (
	// StreamSequential walks forward from LastIndex and stops at the end.
	// A call that starts with LastIndex at or past the end restarts from row 0.
	StreamSequential StreamMode = iota
	// StreamMultipass walks forward from LastIndex, wrapping around.
	StreamMultipass
	// StreamStochastic picks rows uniformly at random.
	StreamStochastic
)

func (m StreamMode) String() string {
	switch m {
	case StreamSequential:
		return "sequential"
	case StreamMultipass:
		return "multipass"
	case StreamStochastic:
		return "stochastic"
	default:
		return fmt.Sprintf("StreamMode(%d)", uint8(m))
	}
}

// ParseStreamMode resolves a mode by name.
func ParseStreamMode(name string) (StreamMode, error) {
	switch name {
	case "", "sequential":
		return StreamSequential, nil
	case "multipass":
		return StreamMultipass, nil
	case "stochastic":
		return StreamStochastic, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStreamMode, name)
}

// iterState replaces process-wide iteration flags with per-world state.
type iterState struct {
	removals     uint64
	distributing bool
	visits       uint64
	holds        uint64
	revisits     uint64
}

// IterationStats reports cumulative iteration counters for a world.
type IterationStats struct {
	Removals uint64
	Visits   uint64
	Holds    uint64
	Revisits uint64
}

// IterationStats returns the world's iteration counters.
func (w *World) IterationStats() IterationStats {
	return IterationStats{
		Removals: w.iter.removals,
		Visits:   w.iter.visits,
		Holds:    w.iter.holds,
		Revisits: w.iter.revisits,
	}
}

func (s *System) enter() error {
	if s.iterating {
		return fmt.Errorf("%w: %s", ErrNestedIteration, s.name)
	}
	s.iterating = true
	return nil
}

func (s *System) leave() {
	s.iterating = false
	s.cursor = -1
	s.revisit = s.revisit[:0]
}

// All visits every row. Rows removed while the pass runs are handled so each
// entity that was a member when the pass reached it is visited exactly once;
// rows added during the pass are visited too.
func (s *System) All(fn func(it *Item)) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	w := s.world
	it := Item{sys: s}
	idx := 0
	for idx < s.group.count() {
		e := s.group.entities[idx]
		epoch := w.iter.removals
		s.cursor = idx
		it.row, it.entity = idx, e
		fn(&it)
		w.iter.visits++
		if w.iter.removals != epoch && idx < s.group.count() && s.group.entities[idx] != e {
			// a different entity was swapped into this row
			w.iter.holds++
			continue
		}
		idx++
	}

	// Everything still in the store has been visited.
	s.cursor = s.group.count()
	for len(s.revisit) > 0 {
		last := len(s.revisit) - 1
		e := s.revisit[last]
		s.revisit = s.revisit[:last]
		row, ok := s.group.rowOf(e)
		if !ok {
			continue
		}
		it.row, it.entity = row, e
		fn(&it)
		w.iter.visits++
		w.iter.revisits++
		s.cursor = s.group.count()
	}
	return nil
}

// Stream visits up to amount rows, resuming from LastIndex. A non-positive
// amount uses the system's stream rate. It returns the number of rows visited.
func (s *System) Stream(mode StreamMode, amount int, fn func(it *Item)) (int, error) {
	if mode > StreamStochastic {
		return 0, fmt.Errorf("%w: %d", ErrUnknownStreamMode, mode)
	}
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.leave()

	if amount <= 0 {
		amount = s.streamRate
	}
	if amount <= 0 || s.group.count() == 0 {
		return 0, nil
	}

	w := s.world
	it := Item{sys: s}
	visit := func(row int) {
		it.row, it.entity = row, s.group.entities[row]
		fn(&it)
		w.iter.visits++
	}

	processed := 0
	switch mode {
	case StreamSequential:
		if s.lastIndex < 0 || s.lastIndex >= s.group.count() {
			s.lastIndex = 0
		}
		for processed < amount && s.lastIndex < s.group.count() {
			visit(s.lastIndex)
			s.lastIndex++
			processed++
		}
	case StreamMultipass:
		for processed < amount {
			count := s.group.count()
			if count == 0 {
				break
			}
			if s.lastIndex < 0 || s.lastIndex >= count {
				s.lastIndex %= count
				if s.lastIndex < 0 {
					s.lastIndex += count
				}
			}
			visit(s.lastIndex)
			processed++
			if count = s.group.count(); count > 0 {
				s.lastIndex = (s.lastIndex + 1) % count
			}
		}
	case StreamStochastic:
		for processed < amount {
			count := s.group.count()
			if count == 0 {
				break
			}
			s.lastIndex = w.rng.IntN(count)
			visit(s.lastIndex)
			processed++
		}
	}
	return processed, nil
}

// Distribute splits the rows into contiguous ranges and runs fn over them on
// the pool, returning once every range is done. Structural changes to the
// world fail while the ranges run. A nil pool runs everything inline.
func (s *System) Distribute(ctx context.Context, pool *WorkerPool, fn func(it *Item)) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	count := s.group.count()
	if count == 0 {
		return nil
	}
	w := s.world
	w.iter.distributing = true
	defer func() { w.iter.distributing = false }()

	workers := pool.Size()
	chunk := (count + workers - 1) / workers
	handles := make([]*jobHandle, 0, workers)
	for lo := 0; lo < count; lo += chunk {
		lo, hi := lo, min(lo+chunk, count)
		handles = append(handles, pool.Submit(ctx, func(context.Context) jobResult {
			it := Item{sys: s}
			for row := lo; row < hi; row++ {
				it.row, it.entity = row, s.group.entities[row]
				fn(&it)
			}
			return jobResult{rows: hi - lo}
		}))
	}

	var err error
	for _, h := range handles {
		res := h.Wait()
		w.iter.visits += uint64(res.rows)
		err = multierr.Append(err, res.Err())
	}
	if err != nil {
		return fmt.Errorf("ecs: distribute %s: %w", s.name, err)
	}
	return nil
}
