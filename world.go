package ecs

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"
)

// World owns entities, component types and systems. It is driven by a single
// goroutine; Distribute is the only place rows are read concurrently.
type World struct {
	registry         *EntityRegistry
	components       []componentInfo // index 0 is the invalid type
	componentsByName map[string]ComponentTypeID
	systems          []*System
	systemsByName    map[string]*System
	interested       [][]*System // per type, systems that mention it
	records          []entityRecord
	sealed           bool
	iter             iterState
	rng              *rand.Rand
	logger           Logger
	now              func() time.Time
	maxEntities      int
}

// entityRecord lists the components attached to one entity.
type entityRecord struct {
	refs []ComponentRef
}

func (r *entityRecord) ref(t ComponentTypeID) (ComponentRef, bool) {
	for _, ref := range r.refs {
		if ref.Type == t {
			return ref, true
		}
	}
	return ComponentRef{}, false
}

func (r *entityRecord) has(t ComponentTypeID) bool {
	_, ok := r.ref(t)
	return ok
}

func (r *entityRecord) remove(t ComponentTypeID) (ComponentRef, bool) {
	for i, ref := range r.refs {
		if ref.Type == t {
			r.refs = slices.Delete(r.refs, i, i+1)
			return ref, true
		}
	}
	return ComponentRef{}, false
}

type WorldOption func(*World)

// NewWorld constructs an empty, unsealed world.
func NewWorld(opts ...WorldOption) *World {
	w := &World{
		components:       []componentInfo{nil},
		componentsByName: make(map[string]ComponentTypeID),
		systemsByName:    make(map[string]*System),
		interested:       [][]*System{nil},
		records:          make([]entityRecord, 1, 64),
		logger:           noopLogger{},
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.registry == nil {
		w.registry = NewEntityRegistry(w.maxEntities)
	}
	if w.rng == nil {
		w.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return w
}

// WithEntityRegistry overrides the default registry.
func WithEntityRegistry(registry *EntityRegistry) WorldOption {
	return func(w *World) {
		if registry != nil {
			w.registry = registry
		}
	}
}

// WithLogger sets the logger used for world and system lifecycle events.
func WithLogger(logger Logger) WorldOption {
	return func(w *World) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithSeed makes stochastic streaming reproducible.
func WithSeed(seed uint64) WorldOption {
	return func(w *World) {
		w.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithRand supplies the random source used for stochastic streaming.
func WithRand(rng *rand.Rand) WorldOption {
	return func(w *World) {
		if rng != nil {
			w.rng = rng
		}
	}
}

// WithMaxEntities bounds the entity id space. It is also the default bound
// for array entity indexes.
func WithMaxEntities(n int) WorldOption {
	return func(w *World) {
		if n > 0 {
			w.maxEntities = n
		}
	}
}

// WithClock replaces the clock used for RunEvery gating.
func WithClock(now func() time.Time) WorldOption {
	return func(w *World) {
		if now != nil {
			w.now = now
		}
	}
}

// Registry exposes the backing entity registry.
func (w *World) Registry() *EntityRegistry {
	return w.registry
}

// Logger returns the world's logger.
func (w *World) Logger() Logger {
	return w.logger
}

// Sealed reports whether configuration is closed.
func (w *World) Sealed() bool {
	return w.sealed
}

// Seal closes configuration: no further component types, systems or hooks may
// be registered. Creating the first entity seals implicitly.
func (w *World) Seal() error {
	if w.sealed {
		return nil
	}
	w.sealed = true
	w.logger.Info("world sealed",
		"components", len(w.components)-1,
		"systems", len(w.systems),
	)
	return nil
}

func (w *World) registered(t ComponentTypeID) bool {
	return t != InvalidComponentType && int(t) < len(w.components)
}

func (w *World) structural(op string) error {
	if w.iter.distributing {
		return fmt.Errorf("%w: %s", ErrStructuralChangeDuringDistribute, op)
	}
	return nil
}

// NewEntity creates an entity and attaches values to it.
func (w *World) NewEntity(values ...ComponentValue) (EntityRef, error) {
	if err := w.structural("create entity"); err != nil {
		return EntityRef{}, err
	}
	if err := w.Seal(); err != nil {
		return EntityRef{}, err
	}
	e, err := w.registry.Create()
	if err != nil {
		return EntityRef{}, err
	}
	if need := int(e.ID) + 1; need > len(w.records) {
		w.records = append(w.records, make([]entityRecord, need-len(w.records))...)
	}
	w.records[e.ID] = entityRecord{}
	if len(values) == 0 {
		return e, nil
	}
	if err := w.AddComponents(e, values...); err != nil {
		_ = w.DeleteEntity(e)
		return EntityRef{}, err
	}
	return e, nil
}

// AddComponents attaches values to a live entity and updates system
// membership. Values for owned types must complete the owner's signature in
// the same call.
func (w *World) AddComponents(e EntityRef, values ...ComponentValue) error {
	if err := w.structural("add components"); err != nil {
		return err
	}
	if !w.registry.IsAlive(e) {
		return fmt.Errorf("%w: %v", ErrEntityNotAlive, e)
	}
	if len(values) == 0 {
		return nil
	}
	rec := &w.records[e.ID]

	types := make([]ComponentTypeID, 0, len(values))
	for _, v := range values {
		if v == nil || v.world() != w {
			return fmt.Errorf("%w: value from another world", ErrComponentNotRegistered)
		}
		t := v.ComponentType()
		name := w.components[t].Name()
		if slices.Contains(types, t) {
			return fmt.Errorf("%w: %s added twice to %v", ErrDuplicateComponent, name, e)
		}
		if rec.has(t) {
			return fmt.Errorf("%w: %s on %v", ErrComponentAlreadyAttached, name, e)
		}
		types = append(types, t)
	}

	var owned map[ComponentTypeID]ComponentValue
	for _, v := range values {
		t := v.ComponentType()
		owner := w.components[t].Owner()
		if owner == nil {
			continue
		}
		if !owner.matchesWith(rec, types) {
			return fmt.Errorf("%w: %s for %v does not satisfy %s", ErrOwnedRequirementsUnmet, w.components[t].Name(), e, owner.name)
		}
		if owned == nil {
			owned = make(map[ComponentTypeID]ComponentValue)
		}
		owned[t] = v
	}

	attached := make([]ComponentRef, 0, len(values))
	for _, v := range values {
		t := v.ComponentType()
		if _, ok := owned[t]; ok {
			attached = append(attached, ownedRef(t, e))
			continue
		}
		ref, err := v.attach(e)
		if err != nil {
			for _, done := range attached {
				w.components[done.Type].detach(done)
			}
			return err
		}
		attached = append(attached, ref)
	}
	rec.refs = append(rec.refs, attached...)

	if err := w.refresh(e, types, owned); err != nil {
		w.rollbackAdd(e, types)
		return err
	}
	for t := range owned {
		if owner := w.components[t].Owner(); !owner.Contains(e) {
			w.records[e.ID].remove(t)
		}
	}
	return nil
}

// rollbackAdd undoes an AddComponents whose membership refresh failed: the
// new types come off the record, membership is recomputed and their
// instances are released.
func (w *World) rollbackAdd(e EntityRef, types []ComponentTypeID) {
	if !w.registry.IsAlive(e) {
		return
	}
	rec := &w.records[e.ID]
	removed := make([]ComponentRef, 0, len(types))
	for _, t := range types {
		if ref, ok := rec.remove(t); ok {
			removed = append(removed, ref)
		}
	}
	if err := w.refresh(e, types, nil); err != nil {
		w.logger.Error("membership rollback failed", "entity", e.String(), "error", err)
	}
	for _, ref := range removed {
		w.components[ref.Type].detach(ref)
	}
}

// RemoveComponents detaches the given types from an entity. Types the entity
// does not carry are ignored, as are stale entities.
func (w *World) RemoveComponents(e EntityRef, types ...ComponentTypeID) error {
	if err := w.structural("remove components"); err != nil {
		return err
	}
	if !w.registry.IsAlive(e) {
		return nil
	}
	for _, t := range types {
		if !w.registered(t) {
			return fmt.Errorf("%w: type %d", ErrComponentNotRegistered, t)
		}
	}
	rec := &w.records[e.ID]
	removed := make([]ComponentRef, 0, len(types))
	changed := make([]ComponentTypeID, 0, len(types))
	for _, t := range types {
		if ref, ok := rec.remove(t); ok {
			removed = append(removed, ref)
			changed = append(changed, t)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	err := w.refresh(e, changed, nil)
	for _, ref := range removed {
		w.components[ref.Type].detach(ref)
	}
	return err
}

// DeleteEntity removes every component of e, retires it from every system and
// releases its id. Deleting a stale entity is a no-op.
func (w *World) DeleteEntity(e EntityRef) error {
	if err := w.structural("delete entity"); err != nil {
		return err
	}
	if !w.registry.IsAlive(e) {
		return nil
	}
	rec := &w.records[e.ID]
	refs := rec.refs
	rec.refs = nil
	changed := make([]ComponentTypeID, len(refs))
	for i, ref := range refs {
		changed[i] = ref.Type
	}
	err := w.refresh(e, changed, nil)
	for _, ref := range refs {
		w.components[ref.Type].detach(ref)
	}
	w.registry.Destroy(e)
	return err
}

// refresh recomputes membership of e in every system that mentions one of the
// changed types. Rows dropped by an owning system take the owned components
// with them, which can in turn change other memberships.
func (w *World) refresh(e EntityRef, changed []ComponentTypeID, owned map[ComponentTypeID]ComponentValue) error {
	work := w.affected(nil, 0, changed)
	for i := 0; i < len(work); i++ {
		if !w.registry.IsAlive(e) {
			return nil
		}
		sys := work[i]
		rec := &w.records[e.ID]
		member := sys.Contains(e)
		want := sys.matches(rec)
		switch {
		case want && !member:
			if err := sys.addRow(e, rec, owned); err != nil {
				return err
			}
		case !want && member:
			sys.removeRow(e)
			if len(sys.owned) == 0 {
				continue
			}
			rec = &w.records[e.ID]
			lost := make([]ComponentTypeID, 0, len(sys.owned))
			for _, t := range sys.owned {
				if _, ok := rec.remove(t); ok {
					lost = append(lost, t)
				}
			}
			work = w.affected(work, i+1, lost)
		}
	}
	return nil
}

// affected appends to work the systems interested in types, skipping those
// already pending at or after from, keeping registration order among the
// newly added ones.
func (w *World) affected(work []*System, from int, types []ComponentTypeID) []*System {
	start := len(work)
	for _, t := range types {
		for _, sys := range w.interested[t] {
			if slices.Contains(work[from:], sys) {
				continue
			}
			work = append(work, sys)
		}
	}
	added := work[start:]
	slices.SortFunc(added, func(a, b *System) int { return a.order - b.order })
	return work
}

// Alive reports whether e names a live entity.
func (w *World) Alive(e EntityRef) bool {
	return w.registry.IsAlive(e)
}

// Has reports whether e carries every listed type.
func (w *World) Has(e EntityRef, types ...ComponentTypeID) bool {
	if !w.registry.IsAlive(e) {
		return false
	}
	rec := &w.records[e.ID]
	for _, t := range types {
		if !rec.has(t) {
			return false
		}
	}
	return true
}

// ComponentRef returns the reference of type t attached to e. Owned types
// report the entity id and generation; their value lives in the owner's row
// and Component.Get resolves it from there.
func (w *World) ComponentRef(e EntityRef, t ComponentTypeID) (ComponentRef, bool) {
	if !w.registry.IsAlive(e) {
		return ComponentRef{}, false
	}
	return w.records[e.ID].ref(t)
}

// Components lists the types attached to e.
func (w *World) Components(e EntityRef) []ComponentTypeID {
	if !w.registry.IsAlive(e) {
		return nil
	}
	refs := w.records[e.ID].refs
	out := make([]ComponentTypeID, len(refs))
	for i, ref := range refs {
		out[i] = ref.Type
	}
	return out
}

// EntityCount returns the number of live entities.
func (w *World) EntityCount() int {
	return w.registry.Count()
}

// System looks up a system by name.
func (w *World) System(name string) (*System, bool) {
	s, ok := w.systemsByName[name]
	return s, ok
}

// Systems returns the systems in registration order.
func (w *World) Systems() []*System {
	return append([]*System(nil), w.systems...)
}

// ComponentID looks up a component type by name.
func (w *World) ComponentID(name string) (ComponentTypeID, bool) {
	id, ok := w.componentsByName[name]
	return id, ok
}

// ComponentName returns the registered name of t.
func (w *World) ComponentName(t ComponentTypeID) string {
	if !w.registered(t) {
		return ""
	}
	return w.components[t].Name()
}

// ApplyCommands executes deferred commands in order, stopping at the first
// failure.
func (w *World) ApplyCommands(commands []Command) error {
	for i, cmd := range commands {
		if cmd == nil {
			continue
		}
		if err := cmd.Apply(w); err != nil {
			return fmt.Errorf("ecs: command %d: %w", i, err)
		}
	}
	return nil
}
