package ecs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DangerosoDavo/rowecs/ecs/storage"
)

// SystemBody is the per-tick logic of a system.
type SystemBody func(ctx context.Context, sys *System, exec ExecutionContext) error

// ItemHook observes a row during a membership transition.
type ItemHook func(it *Item)

// SystemConfig declares a system's signature and storage layout.
type SystemConfig struct {
	Name     string
	Requires []ComponentTypeID
	Negates  []ComponentTypeID
	// Owns lists types whose only storage is this system's rows. Owned types
	// are implicitly required.
	Owns []ComponentTypeID

	Index       storage.IndexFormat
	MaxEntities int // bound for storage.IndexArray; falls back to the world limit
	Capacity    int // fixed row capacity; zero means growable

	StreamRate int
	Profile    bool
	RunEvery   time.Duration

	Init func(sys *System) error
	Body SystemBody
}

// System is a processor over the entities matching its signature.
type System struct {
	world     *World
	order     int
	name      string
	required  []ComponentTypeID
	negated   []ComponentTypeID
	owned     []ComponentTypeID
	refSlot   map[ComponentTypeID]int
	ownedSlot map[ComponentTypeID]int
	group     *groupStore
	body      SystemBody
	init      func(*System) error

	disabled    bool
	paused      bool
	initialised bool
	lastIndex   int
	streamRate  int
	iterating   bool

	// deleteMu guards deleteList; Distribute ranges queue deletes concurrently.
	deleteMu   sync.Mutex
	deleteList []EntityRef
	// cursor is the row an All pass is visiting, -1 outside All.
	cursor  int
	revisit []EntityRef

	timing   *Timing
	runEvery time.Duration
	lastRun  time.Time

	added            []ItemHook
	removed          []ItemHook
	addedCallbacks   []ItemHook
	removedCallbacks []ItemHook
}

// NewSystem validates cfg and registers a system. Systems run in the order
// they were registered unless a scheduler overrides it.
func (w *World) NewSystem(cfg SystemConfig) (*System, error) {
	if w.sealed {
		return nil, fmt.Errorf("%w: register system %q", ErrSealed, cfg.Name)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("ecs: system requires a name")
	}
	if _, exists := w.systemsByName[cfg.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSystemAlreadyRegistered, cfg.Name)
	}
	if len(cfg.Requires)+len(cfg.Owns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySignature, cfg.Name)
	}
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("%w: system %s capacity %d", ErrZeroCapacity, cfg.Name, cfg.Capacity)
	}
	if err := w.validateSignature(cfg); err != nil {
		return nil, err
	}

	maxEntities := cfg.MaxEntities
	if maxEntities <= 0 {
		maxEntities = w.maxEntities
	}
	index, err := storage.NewIndex(cfg.Index, maxEntities)
	if err != nil {
		return nil, fmt.Errorf("ecs: system %s: %w", cfg.Name, err)
	}

	s := &System{
		world:      w,
		order:      len(w.systems),
		name:       cfg.Name,
		required:   append([]ComponentTypeID(nil), cfg.Requires...),
		negated:    append([]ComponentTypeID(nil), cfg.Negates...),
		owned:      append([]ComponentTypeID(nil), cfg.Owns...),
		refSlot:    make(map[ComponentTypeID]int, len(cfg.Requires)),
		ownedSlot:  make(map[ComponentTypeID]int, len(cfg.Owns)),
		body:       cfg.Body,
		init:       cfg.Init,
		streamRate: cfg.StreamRate,
		runEvery:   cfg.RunEvery,
		cursor:     -1,
	}
	if cfg.Profile {
		s.timing = &Timing{}
	}
	for i, t := range s.required {
		s.refSlot[t] = i
	}
	s.group = newGroupStore(cfg.Capacity, len(s.required), index)
	for i, t := range s.owned {
		col, err := w.components[t].bindOwner(s)
		if err != nil {
			return nil, err
		}
		s.ownedSlot[t] = i
		s.group.owned = append(s.group.owned, col)
	}

	w.systems = append(w.systems, s)
	w.systemsByName[s.name] = s
	for _, list := range [][]ComponentTypeID{s.required, s.negated, s.owned} {
		for _, t := range list {
			w.interested[t] = append(w.interested[t], s)
		}
	}
	w.logger.Info("system registered",
		"system", s.name,
		"requires", len(s.required),
		"negates", len(s.negated),
		"owns", len(s.owned),
		"index", cfg.Index.String(),
		"capacity", cfg.Capacity,
	)
	return s, nil
}

func (w *World) validateSignature(cfg SystemConfig) error {
	const (
		roleRequire = iota + 1
		roleNegate
		roleOwn
	)
	roles := make(map[ComponentTypeID]int)
	check := func(t ComponentTypeID, role int) error {
		if !w.registered(t) {
			return fmt.Errorf("%w: system %s references type %d", ErrComponentNotRegistered, cfg.Name, t)
		}
		prev, seen := roles[t]
		if !seen {
			roles[t] = role
			return nil
		}
		name := w.components[t].Name()
		if prev == roleNegate || role == roleNegate {
			if prev != role {
				return fmt.Errorf("%w: system %s, component %s", ErrRequiredAndNegated, cfg.Name, name)
			}
		}
		return fmt.Errorf("%w: system %s, component %s", ErrDuplicateComponent, cfg.Name, name)
	}
	for _, t := range cfg.Requires {
		if err := check(t, roleRequire); err != nil {
			return err
		}
	}
	for _, t := range cfg.Owns {
		if err := check(t, roleOwn); err != nil {
			return err
		}
	}
	for _, t := range cfg.Negates {
		if err := check(t, roleNegate); err != nil {
			return err
		}
	}
	for _, t := range cfg.Owns {
		info := w.components[t]
		if owner := info.Owner(); owner != nil {
			return fmt.Errorf("%w: %s owned by %s, claimed by %s", ErrOwnershipConflict, info.Name(), owner.name, cfg.Name)
		}
		if n := info.Count(); n > 0 {
			return fmt.Errorf("%w: %s has %d instances", ErrOwnedHasInstances, info.Name(), n)
		}
	}
	return nil
}

// Name returns the system's name.
func (s *System) Name() string { return s.name }

// Order returns the registration position of the system.
func (s *System) Order() int { return s.order }

// World returns the world the system belongs to.
func (s *System) World() *World { return s.world }

// Count returns the number of member rows.
func (s *System) Count() int { return s.group.count() }

// High returns the highest valid row index, -1 when empty.
func (s *System) High() int { return s.group.high() }

// Contains reports whether the entity is currently a member.
func (s *System) Contains(e EntityRef) bool {
	_, ok := s.group.rowOf(e)
	return ok
}

// Row returns the entity's current row. Rows move when other rows are removed.
func (s *System) Row(e EntityRef) (int, bool) {
	return s.group.rowOf(e)
}

// EntityAt returns the entity occupying row.
func (s *System) EntityAt(row int) EntityRef {
	return s.group.entities[row]
}

// Entities returns a snapshot of member entities in row order.
func (s *System) Entities() []EntityRef {
	return append([]EntityRef(nil), s.group.entities...)
}

// Requires returns the non-owned required component types in row order.
func (s *System) Requires() []ComponentTypeID { return append([]ComponentTypeID(nil), s.required...) }

// Negates returns the negated component types.
func (s *System) Negates() []ComponentTypeID { return append([]ComponentTypeID(nil), s.negated...) }

// Owns returns the owned component types.
func (s *System) Owns() []ComponentTypeID { return append([]ComponentTypeID(nil), s.owned...) }

// Clear deletes every entity that is a member of this system.
func (s *System) Clear() error {
	for _, e := range s.Entities() {
		if err := s.world.DeleteEntity(e); err != nil {
			return err
		}
	}
	return nil
}

// Remove detaches the given component types from every member entity.
func (s *System) Remove(types ...ComponentTypeID) error {
	for _, e := range s.Entities() {
		if !s.world.Alive(e) {
			continue
		}
		if err := s.world.RemoveComponents(e, types...); err != nil {
			return err
		}
	}
	return nil
}

// DeferDelete queues an entity for deletion once the system finishes its
// current invocation.
// It is safe to call from Distribute callbacks.
func (s *System) DeferDelete(e EntityRef) {
	s.deleteMu.Lock()
	s.deleteList = append(s.deleteList, e)
	s.deleteMu.Unlock()
}

// Pending returns how many deferred deletes are queued.
func (s *System) Pending() int {
	s.deleteMu.Lock()
	defer s.deleteMu.Unlock()
	return len(s.deleteList)
}

// Paused reports whether future invocations are suspended.
func (s *System) Paused() bool { return s.paused }

// SetPaused suspends or resumes future invocations.
func (s *System) SetPaused(paused bool) { s.paused = paused }

// Disabled reports whether the system is switched off.
func (s *System) Disabled() bool { return s.disabled }

// SetDisabled switches the system off or on for future invocations.
func (s *System) SetDisabled(disabled bool) { s.disabled = disabled }

// Initialised reports whether Init has run.
func (s *System) Initialised() bool { return s.initialised }

// StreamRate returns the default row budget for Stream.
func (s *System) StreamRate() int { return s.streamRate }

// SetStreamRate changes the default row budget for Stream.
func (s *System) SetStreamRate(rate int) { s.streamRate = rate }

// LastIndex returns the streaming cursor.
func (s *System) LastIndex() int { return s.lastIndex }

// SetLastIndex moves the streaming cursor.
func (s *System) SetLastIndex(idx int) { s.lastIndex = idx }

// OnAdded registers a hook fired after an entity joins the system.
func (s *System) OnAdded(hook ItemHook) error { return s.addHook(&s.added, hook, "added") }

// OnRemoved registers a hook fired before an entity leaves the system.
func (s *System) OnRemoved(hook ItemHook) error { return s.addHook(&s.removed, hook, "removed") }

// OnAddedCallback registers an external handler fired after the added hooks.
func (s *System) OnAddedCallback(hook ItemHook) error {
	return s.addHook(&s.addedCallbacks, hook, "addedCallback")
}

// OnRemovedCallback registers an external handler fired after the removed hooks.
func (s *System) OnRemovedCallback(hook ItemHook) error {
	return s.addHook(&s.removedCallbacks, hook, "removedCallback")
}

func (s *System) addHook(list *[]ItemHook, hook ItemHook, kind string) error {
	if s.world.sealed {
		return fmt.Errorf("%w: %s hook on %s", ErrSealed, kind, s.name)
	}
	if hook != nil {
		*list = append(*list, hook)
	}
	return nil
}

func (s *System) matches(rec *entityRecord) bool {
	for _, t := range s.required {
		if !rec.has(t) {
			return false
		}
	}
	for _, t := range s.owned {
		if !rec.has(t) {
			return false
		}
	}
	for _, t := range s.negated {
		if rec.has(t) {
			return false
		}
	}
	return true
}

// matchesWith reports whether the system would match once extra is attached.
func (s *System) matchesWith(rec *entityRecord, extra []ComponentTypeID) bool {
	has := func(t ComponentTypeID) bool {
		if rec.has(t) {
			return true
		}
		for _, x := range extra {
			if x == t {
				return true
			}
		}
		return false
	}
	for _, t := range s.required {
		if !has(t) {
			return false
		}
	}
	for _, t := range s.owned {
		if !has(t) {
			return false
		}
	}
	for _, t := range s.negated {
		if has(t) {
			return false
		}
	}
	return true
}

func (s *System) addRow(e EntityRef, rec *entityRecord, owned map[ComponentTypeID]ComponentValue) error {
	refs := make([]ComponentRef, len(s.required))
	for i, t := range s.required {
		refs[i], _ = rec.ref(t)
	}
	values := make([]ComponentValue, len(s.owned))
	for i, t := range s.owned {
		v, ok := owned[t]
		if !ok {
			return fmt.Errorf("%w: %s missing owned %s", ErrOwnedRequirementsUnmet, s.name, s.world.components[t].Name())
		}
		values[i] = v
	}
	row, err := s.group.append(e, refs, values)
	if err != nil {
		return fmt.Errorf("ecs: system %s: %w", s.name, err)
	}
	s.fire(s.added, row, e)
	s.fire(s.addedCallbacks, row, e)
	return nil
}

func (s *System) removeRow(e EntityRef) {
	row, ok := s.group.rowOf(e)
	if !ok {
		return
	}
	s.fire(s.removed, row, e)
	s.fire(s.removedCallbacks, row, e)
	// hooks may have moved rows
	if row, ok = s.group.rowOf(e); !ok {
		return
	}
	// An unvisited tail row swapped behind the All cursor is visited after the
	// main pass.
	if last := s.group.high(); row < s.cursor && last > s.cursor {
		s.revisit = append(s.revisit, s.group.entities[last])
	}
	s.group.swapRemove(row)
	s.world.iter.removals++
}

func (s *System) fire(hooks []ItemHook, row int, e EntityRef) {
	for _, hook := range hooks {
		if row >= s.group.count() || s.group.entities[row] != e {
			var ok bool
			if row, ok = s.group.rowOf(e); !ok {
				return
			}
		}
		hook(&Item{sys: s, row: row, entity: e})
	}
}

// Run executes one invocation: gating, init, the body under optional timing,
// then the deferred delete flush.
func (s *System) Run(ctx context.Context, exec ExecutionContext) SystemResult {
	if s.disabled || s.paused {
		return SystemResult{Skipped: true}
	}
	now := s.world.now()
	if s.runEvery > 0 && !s.lastRun.IsZero() && now.Sub(s.lastRun) < s.runEvery {
		return SystemResult{Skipped: true}
	}
	s.lastRun = now

	if !s.initialised {
		if s.init != nil {
			if err := s.init(s); err != nil {
				return SystemResult{Err: err}
			}
		}
		s.initialised = true
	}

	var err error
	if s.body != nil {
		if s.timing != nil && s.group.count() > 0 {
			start := time.Now()
			err = s.body(ctx, s, exec)
			s.timing.record(time.Since(start), s.group.count())
		} else {
			err = s.body(ctx, s, exec)
		}
	}
	if ferr := s.finish(); ferr != nil && err == nil {
		err = ferr
	}
	return SystemResult{Err: err}
}

func (s *System) finish() error {
	s.deleteMu.Lock()
	pending := s.deleteList
	s.deleteList = nil
	s.deleteMu.Unlock()
	for _, e := range pending {
		if err := s.world.DeleteEntity(e); err != nil {
			return err
		}
	}
	return nil
}
