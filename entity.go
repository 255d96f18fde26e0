package ecs

import (
	"fmt"
	"math"
)

// EntityID identifies an entity slot. Ids are 1-based; 0 is the invalid id.
type EntityID uint32

// InvalidEntity is the reserved zero id.
const InvalidEntity EntityID = 0

// EntityRef pairs an id with the generation it was issued under so stale
// references can be detected after the slot is recycled.
type EntityRef struct {
	ID         EntityID
	Generation uint32
}

// IsZero reports whether the reference is the zero value.
func (r EntityRef) IsZero() bool {
	return r.ID == InvalidEntity
}

// String renders the entity reference for debugging purposes.
func (r EntityRef) String() string {
	if r.IsZero() {
		return "Entity(0:0)"
	}
	return fmt.Sprintf("Entity(%d:%d)", r.ID, r.Generation)
}

// NewEntityRegistry constructs an empty registry. maxEntities bounds the id
// space; zero means unbounded.
func NewEntityRegistry(maxEntities int) *EntityRegistry {
	return &EntityRegistry{
		generations: make([]uint32, 1, 64),
		max:         maxEntities,
	}
}

// EntityRegistry coordinates entity allocation and recycling.
//
// A slot's generation is bumped on create and again on destroy, so a live
// entity always carries an odd generation and any released reference stops
// matching immediately.
type EntityRegistry struct {
	generations []uint32
	free        []EntityID
	alive       int
	max         int
}

// Create issues a new entity reference, recycling slots when possible.
func (r *EntityRegistry) Create() (EntityRef, error) {
	var id EntityID
	if n := len(r.free); n > 0 {
		id = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		next := len(r.generations)
		if (r.max > 0 && next > r.max) || uint64(next) > math.MaxUint32 {
			return EntityRef{}, fmt.Errorf("%w: entity limit %d", ErrCapacityExceeded, r.max)
		}
		id = EntityID(next)
		r.generations = append(r.generations, 0)
	}

	r.generations[id]++
	r.alive++
	return EntityRef{ID: id, Generation: r.generations[id]}, nil
}

// Destroy releases the entity, returning true when it was alive.
func (r *EntityRegistry) Destroy(ref EntityRef) bool {
	if !r.IsAlive(ref) {
		return false
	}
	r.alive--
	r.generations[ref.ID]++
	r.free = append(r.free, ref.ID)
	return true
}

// IsAlive reports whether the reference names a currently allocated entity.
func (r *EntityRegistry) IsAlive(ref EntityRef) bool {
	if ref.IsZero() || int(ref.ID) >= len(r.generations) {
		return false
	}
	return r.generations[ref.ID] == ref.Generation
}

// Current returns the live reference for id, if any.
func (r *EntityRegistry) Current(id EntityID) (EntityRef, bool) {
	if id == InvalidEntity || int(id) >= len(r.generations) {
		return EntityRef{}, false
	}
	gen := r.generations[id]
	if gen%2 == 0 {
		return EntityRef{}, false
	}
	return EntityRef{ID: id, Generation: gen}, true
}

// Count returns the number of live entities.
func (r *EntityRegistry) Count() int {
	return r.alive
}

// High returns the largest id ever issued.
func (r *EntityRegistry) High() EntityID {
	return EntityID(len(r.generations) - 1)
}
