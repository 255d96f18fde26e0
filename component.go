package ecs

import (
	"fmt"
	"math"

	"github.com/DangerosoDavo/rowecs/ecs/storage"
)

// ComponentTypeID identifies a registered component type within a world.
type ComponentTypeID uint16

// InvalidComponentType is never assigned to a registered type.
const InvalidComponentType ComponentTypeID = 0

// ComponentIndex addresses one instance slot of a component type. For owned
// types Access, Alive and Generation take a row of the owning system, while a
// ComponentRef to an owned value carries the entity id.
type ComponentIndex uint32

// InvalidGeneration marks a handle that was never issued.
const InvalidGeneration uint32 = 0

// ComponentRef identifies a specific component instance.
type ComponentRef struct {
	Type       ComponentTypeID
	Index      ComponentIndex
	Generation uint32
}

// Valid reports whether the reference is structurally well formed. It does
// not say the instance is still alive; use Component.Get for that.
func (r ComponentRef) Valid() bool {
	return r.Type != InvalidComponentType && r.Generation != InvalidGeneration
}

func (r ComponentRef) String() string {
	return fmt.Sprintf("ComponentRef(%d:%d:%d)", r.Type, r.Index, r.Generation)
}

// ComponentFormat selects the storage layout for a component type.
type ComponentFormat struct {
	Storage  storage.Format
	Capacity int
}

// ArrayFormat is a fixed-capacity layout.
func ArrayFormat(capacity int) ComponentFormat {
	return ComponentFormat{Storage: storage.FormatArray, Capacity: capacity}
}

// SeqFormat is a growable layout.
func SeqFormat() ComponentFormat {
	return ComponentFormat{Storage: storage.FormatSeq}
}

// DeleteHook runs before a component instance's storage is released.
type DeleteHook[T any] func(index ComponentIndex, value *T)

// componentInfo is the type-erased face of a Component kept by the world.
type componentInfo interface {
	ID() ComponentTypeID
	Name() string
	Owner() *System
	Count() int
	bindOwner(sys *System) (ownedColumn, error)
	detach(ref ComponentRef)
}

// componentStore is the access capability selected once per type: either
// independent slots or a column inside the owning system's rows.
type componentStore[T any] interface {
	create(value T) (ComponentRef, error)
	access(idx ComponentIndex) *T
	valid(idx ComponentIndex) bool
	alive(idx ComponentIndex) bool
	generation(idx ComponentIndex) uint32
	count() int
}

// Component is a registered component type holding values of T.
type Component[T any] struct {
	world    *World
	id       ComponentTypeID
	name     string
	format   ComponentFormat
	store    componentStore[T]
	slots    *storage.Slots[T]
	entities []EntityRef
	owner    *System
	column   *columnOf[T]
	onDelete []DeleteHook[T]
}

// RegisterComponent declares a component type on the world. It must be called
// before the world is sealed.
func RegisterComponent[T any](w *World, name string, format ComponentFormat) (*Component[T], error) {
	if w.sealed {
		return nil, fmt.Errorf("%w: register component %q", ErrSealed, name)
	}
	if name == "" {
		return nil, fmt.Errorf("ecs: component requires a name")
	}
	if _, exists := w.componentsByName[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrComponentAlreadyRegistered, name)
	}
	if len(w.components) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: too many component types", ErrCapacityExceeded)
	}

	slots, err := storage.NewSlots[T](format.Storage, format.Capacity)
	if err != nil {
		return nil, fmt.Errorf("ecs: component %s: %w", name, err)
	}

	c := &Component[T]{
		world:  w,
		id:     ComponentTypeID(len(w.components)),
		name:   name,
		format: format,
		slots:  slots,
	}
	slots.OnDelete = c.fireDelete
	c.store = slotStore[T]{c: c}

	w.components = append(w.components, c)
	w.interested = append(w.interested, nil)
	w.componentsByName[name] = c.id
	return c, nil
}

// ID returns the component's type id.
func (c *Component[T]) ID() ComponentTypeID { return c.id }

// Name returns the registered name.
func (c *Component[T]) Name() string { return c.name }

// Format returns the declared storage layout. Owned types keep the declared
// format for reference, but their values live in the owner's rows.
func (c *Component[T]) Format() ComponentFormat { return c.format }

// Owner returns the owning system, nil when the type has independent storage.
func (c *Component[T]) Owner() *System { return c.owner }

// Create allocates a standalone instance not attached to any entity.
func (c *Component[T]) Create(value T) (ComponentRef, error) {
	return c.store.create(value)
}

// Delete releases an instance. Instances attached to an entity are detached
// from it first, which updates system membership. Deleting a dead instance is
// a no-op returning false.
func (c *Component[T]) Delete(idx ComponentIndex) bool {
	if !c.store.alive(idx) {
		return false
	}
	var holder EntityRef
	if c.owner != nil {
		holder = c.owner.group.entities[idx]
	} else if int(idx) < len(c.entities) {
		holder = c.entities[idx]
	}
	if !holder.IsZero() {
		return c.world.RemoveComponents(holder, c.id) == nil
	}
	return c.slots.Delete(uint32(idx))
}

// Access returns the storage cell for idx. Callers check Alive first; stale
// indexes return whatever now occupies the slot.
func (c *Component[T]) Access(idx ComponentIndex) *T {
	return c.store.access(idx)
}

// Get resolves a reference, returning false when it is stale. Owned
// references resolve through the owner's row for the entity they name.
func (c *Component[T]) Get(ref ComponentRef) (*T, bool) {
	if ref.Type != c.id {
		return nil, false
	}
	if c.owner != nil {
		row, ok := c.owner.group.rowOf(ownedEntity(ref))
		if !ok {
			return nil, false
		}
		return &c.column.values[row], true
	}
	if !c.store.alive(ref.Index) {
		return nil, false
	}
	if c.store.generation(ref.Index) != ref.Generation {
		return nil, false
	}
	return c.store.access(ref.Index), true
}

// Valid reports whether idx is structurally a handle for this type.
func (c *Component[T]) Valid(idx ComponentIndex) bool { return c.store.valid(idx) }

// Alive reports whether idx currently holds a live instance.
func (c *Component[T]) Alive(idx ComponentIndex) bool { return c.store.alive(idx) }

// Generation returns the generation currently stored at idx.
func (c *Component[T]) Generation(idx ComponentIndex) uint32 { return c.store.generation(idx) }

// Count returns the number of live instances.
func (c *Component[T]) Count() int { return c.store.count() }

// For returns the value attached to an entity.
func (c *Component[T]) For(e EntityRef) (*T, bool) {
	ref, ok := c.world.ComponentRef(e, c.id)
	if !ok {
		return nil, false
	}
	if c.owner != nil {
		row, ok := c.owner.group.rowOf(e)
		if !ok {
			return nil, false
		}
		return &c.column.values[row], true
	}
	return c.slots.At(uint32(ref.Index)), true
}

// Of returns the value for the row an Item is bound to, nil when the row's
// entity does not carry the component.
func (c *Component[T]) Of(it *Item) *T {
	if c.owner != nil && c.owner == it.sys {
		return &c.column.values[it.row]
	}
	if c.owner == nil {
		if slot, ok := it.sys.refSlot[c.id]; ok {
			ref := it.sys.group.rowRefs(it.row)[slot]
			return c.slots.At(uint32(ref.Index))
		}
	}
	v, _ := c.For(it.entity)
	return v
}

// Value packages a value for AddComponents and NewEntity.
func (c *Component[T]) Value(value T) ComponentValue {
	return componentValue[T]{c: c, v: value}
}

// Add attaches value to an entity.
func (c *Component[T]) Add(e EntityRef, value T) error {
	return c.world.AddComponents(e, c.Value(value))
}

// Remove detaches the component from an entity.
func (c *Component[T]) Remove(e EntityRef) error {
	return c.world.RemoveComponents(e, c.id)
}

// OnDelete registers a hook fired before an instance is released.
func (c *Component[T]) OnDelete(hook DeleteHook[T]) error {
	if c.world.sealed {
		return fmt.Errorf("%w: delete hook on %s", ErrSealed, c.name)
	}
	if hook != nil {
		c.onDelete = append(c.onDelete, hook)
	}
	return nil
}

func (c *Component[T]) fireDelete(idx uint32, value *T) {
	for _, hook := range c.onDelete {
		hook(ComponentIndex(idx), value)
	}
}

func (c *Component[T]) bindOwner(sys *System) (ownedColumn, error) {
	if c.owner != nil {
		return nil, fmt.Errorf("%w: %s owned by %s, claimed by %s", ErrOwnershipConflict, c.name, c.owner.name, sys.name)
	}
	if c.slots.Len() > 0 {
		return nil, fmt.Errorf("%w: %s has %d instances", ErrOwnedHasInstances, c.name, c.slots.Len())
	}
	col := &columnOf[T]{comp: c}
	if sys.group.capacity > 0 {
		col.values = make([]T, 0, sys.group.capacity)
	}
	c.owner = sys
	c.column = col
	c.store = ownedStore[T]{c: c}
	return col, nil
}

func (c *Component[T]) detach(ref ComponentRef) {
	if c.owner != nil {
		return
	}
	if int(ref.Index) < len(c.entities) {
		c.entities[ref.Index] = EntityRef{}
	}
	c.slots.Delete(uint32(ref.Index))
}

func (c *Component[T]) attach(e EntityRef, value T) (ComponentRef, error) {
	ref, err := c.store.create(value)
	if err != nil {
		return ComponentRef{}, err
	}
	if need := int(ref.Index) + 1; need > len(c.entities) {
		grown := make([]EntityRef, max(need, len(c.entities)*2))
		copy(grown, c.entities)
		c.entities = grown
	}
	c.entities[ref.Index] = e
	return ref, nil
}

type slotStore[T any] struct {
	c *Component[T]
}

func (s slotStore[T]) create(value T) (ComponentRef, error) {
	idx, err := s.c.slots.Create()
	if err != nil {
		return ComponentRef{}, fmt.Errorf("ecs: component %s: %w", s.c.name, err)
	}
	*s.c.slots.At(idx) = value
	return ComponentRef{Type: s.c.id, Index: ComponentIndex(idx), Generation: s.c.slots.Generation(idx)}, nil
}

func (s slotStore[T]) access(idx ComponentIndex) *T { return s.c.slots.At(uint32(idx)) }

func (s slotStore[T]) valid(idx ComponentIndex) bool { return s.c.slots.Valid(uint32(idx)) }

func (s slotStore[T]) alive(idx ComponentIndex) bool { return s.c.slots.Alive(uint32(idx)) }

func (s slotStore[T]) generation(idx ComponentIndex) uint32 {
	return s.c.slots.Generation(uint32(idx))
}

func (s slotStore[T]) count() int { return s.c.slots.Len() }

// ownedStore redirects every access to the owner's row column; the index is
// the row position.
type ownedStore[T any] struct {
	c *Component[T]
}

func (s ownedStore[T]) create(T) (ComponentRef, error) {
	return ComponentRef{}, fmt.Errorf("%w: %s", ErrOwnedStandalone, s.c.name)
}

func (s ownedStore[T]) access(idx ComponentIndex) *T { return &s.c.column.values[idx] }

func (s ownedStore[T]) valid(idx ComponentIndex) bool {
	return int(idx) < s.c.owner.group.count()
}

func (s ownedStore[T]) alive(idx ComponentIndex) bool { return s.valid(idx) }

func (s ownedStore[T]) generation(idx ComponentIndex) uint32 {
	if !s.valid(idx) {
		return InvalidGeneration
	}
	return s.c.owner.group.entities[idx].Generation
}

func (s ownedStore[T]) count() int { return s.c.owner.group.count() }

// ownedRef is the record reference for an owned type: Index carries the
// entity id, Generation the entity generation.
func ownedRef(t ComponentTypeID, e EntityRef) ComponentRef {
	return ComponentRef{Type: t, Index: ComponentIndex(e.ID), Generation: e.Generation}
}

func ownedEntity(ref ComponentRef) EntityRef {
	return EntityRef{ID: EntityID(ref.Index), Generation: ref.Generation}
}

// ComponentValue is a typed value waiting to be attached to an entity.
type ComponentValue interface {
	ComponentType() ComponentTypeID
	world() *World
	attach(e EntityRef) (ComponentRef, error)
	push(col ownedColumn)
}

type componentValue[T any] struct {
	c *Component[T]
	v T
}

func (cv componentValue[T]) ComponentType() ComponentTypeID { return cv.c.id }

func (cv componentValue[T]) world() *World { return cv.c.world }

func (cv componentValue[T]) attach(e EntityRef) (ComponentRef, error) {
	return cv.c.attach(e, cv.v)
}

func (cv componentValue[T]) push(col ownedColumn) {
	typed := col.(*columnOf[T])
	typed.values = append(typed.values, cv.v)
}

var (
	_ componentInfo       = (*Component[int])(nil)
	_ componentStore[int] = slotStore[int]{}
	_ componentStore[int] = ownedStore[int]{}
	_ ComponentValue      = componentValue[int]{}
)
