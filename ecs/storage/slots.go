package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrZeroCapacity is returned when a fixed-capacity structure is configured without room.
	ErrZeroCapacity = errors.New("storage: fixed capacity must be positive")
	// ErrCapacityExceeded is returned when a fixed-capacity structure has no free slot left.
	ErrCapacityExceeded = errors.New("storage: capacity exceeded")
	// ErrUnknownFormat is returned for format values outside the declared set.
	ErrUnknownFormat = errors.New("storage: unknown format")
)

// Format selects how component instances are laid out.
type Format uint8

const (
	// FormatSeq grows on demand and cannot exhaust.
	FormatSeq Format = iota
	// FormatArray is preallocated to a fixed capacity.
	FormatArray
)

func (f Format) String() string {
	switch f {
	case FormatSeq:
		return "seq"
	case FormatArray:
		return "array"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// ParseFormat maps a layout name onto a Format.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "", "seq":
		return FormatSeq, nil
	case "array":
		return FormatArray, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Slots is a generational instance allocator for one component type.
//
// Index 0 is reserved as the invalid sentinel and is never handed out. Freed
// slots are kept on a LIFO stack so the most recently released slot is reused
// first. A slot's generation is bumped on every allocation and never reset, so
// a handle captured before a delete can never match the slot's next tenant.
type Slots[T any] struct {
	format   Format
	capacity int
	values   []T
	alive    []bool
	gens     []uint32
	free     []uint32
	used     int // one past the highest slot ever handed out and not trimmed
	live     int

	// OnDelete runs before a live slot is released.
	OnDelete func(index uint32, value *T)
}

// NewSlots constructs an allocator. Capacity bounds FormatArray and is only a
// preallocation hint for FormatSeq.
func NewSlots[T any](format Format, capacity int) (*Slots[T], error) {
	s := &Slots[T]{format: format, capacity: capacity, used: 1}
	switch format {
	case FormatArray:
		if capacity <= 0 {
			return nil, fmt.Errorf("%w: got %d", ErrZeroCapacity, capacity)
		}
		s.values = make([]T, capacity+1)
		s.alive = make([]bool, capacity+1)
		s.gens = make([]uint32, capacity+1)
		s.free = make([]uint32, 0, capacity)
	case FormatSeq:
		hint := capacity
		if hint < 0 {
			hint = 0
		}
		s.values = make([]T, 1, hint+1)
		s.alive = make([]bool, 1, hint+1)
		s.gens = make([]uint32, 1, hint+1)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, uint8(format))
	}
	return s, nil
}

// Format reports the layout of the allocator.
func (s *Slots[T]) Format() Format { return s.format }

// Capacity returns the fixed bound for FormatArray and the current backing
// length for FormatSeq.
func (s *Slots[T]) Capacity() int {
	if s.format == FormatArray {
		return s.capacity
	}
	return len(s.values) - 1
}

// Create allocates a slot, reusing the most recently freed one when possible.
func (s *Slots[T]) Create() (uint32, error) {
	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		if s.format == FormatArray && s.used > s.capacity {
			return 0, fmt.Errorf("%w: %d slots in use", ErrCapacityExceeded, s.capacity)
		}
		idx = uint32(s.used)
		if s.used == len(s.values) {
			var zero T
			s.values = append(s.values, zero)
			s.alive = append(s.alive, false)
			s.gens = append(s.gens, 0)
		}
		s.used++
	}

	s.alive[idx] = true
	s.gens[idx]++
	if s.gens[idx] == 0 {
		// zero is the invalid generation marker
		s.gens[idx] = 1
	}
	s.live++
	return idx, nil
}

// Delete releases a slot. Deleting a slot that is not alive is a no-op and
// returns false.
func (s *Slots[T]) Delete(idx uint32) bool {
	if !s.Alive(idx) {
		return false
	}
	if s.OnDelete != nil {
		s.OnDelete(idx, &s.values[idx])
	}
	var zero T
	s.values[idx] = zero
	s.alive[idx] = false
	s.live--

	// Trim only when the tail slot goes and nothing is waiting for reuse.
	if int(idx) == s.used-1 && len(s.free) == 0 {
		s.used--
		return true
	}
	s.free = append(s.free, idx)
	return true
}

// At returns the storage cell for idx without liveness checks.
func (s *Slots[T]) At(idx uint32) *T {
	return &s.values[idx]
}

// Valid reports whether idx is structurally a slot handle.
func (s *Slots[T]) Valid(idx uint32) bool {
	return idx != 0 && int(idx) < s.used
}

// Alive reports whether idx currently holds a live instance.
func (s *Slots[T]) Alive(idx uint32) bool {
	return s.Valid(idx) && s.alive[idx]
}

// Generation returns the generation last assigned to idx, zero if never used.
func (s *Slots[T]) Generation(idx uint32) uint32 {
	if int(idx) >= len(s.gens) {
		return 0
	}
	return s.gens[idx]
}

// Len returns the number of live instances.
func (s *Slots[T]) Len() int {
	return s.live
}

// High returns the highest slot index currently in the used range.
func (s *Slots[T]) High() int {
	return s.used - 1
}

// FreeLen reports how many released slots are pending reuse.
func (s *Slots[T]) FreeLen() int {
	return len(s.free)
}

// Iterate visits live instances in slot order until fn returns false.
func (s *Slots[T]) Iterate(fn func(uint32, *T) bool) {
	for idx := 1; idx < s.used; idx++ {
		if !s.alive[idx] {
			continue
		}
		if !fn(uint32(idx), &s.values[idx]) {
			return
		}
	}
}
