package ecs

import (
	"fmt"

	"github.com/DangerosoDavo/rowecs/ecs/storage"
)

// ownedColumn holds the values of one owned component type, parallel to the
// owning system's rows.
type ownedColumn interface {
	componentID() ComponentTypeID
	len() int
	move(dst, src int)
	pop()
	release(row int)
}

type columnOf[T any] struct {
	comp   *Component[T]
	values []T
}

func (c *columnOf[T]) componentID() ComponentTypeID { return c.comp.id }

func (c *columnOf[T]) len() int { return len(c.values) }

func (c *columnOf[T]) move(dst, src int) { c.values[dst] = c.values[src] }

func (c *columnOf[T]) pop() {
	last := len(c.values) - 1
	var zero T
	c.values[last] = zero
	c.values = c.values[:last]
}

func (c *columnOf[T]) release(row int) {
	c.comp.fireDelete(uint32(row), &c.values[row])
}

// groupStore keeps one row per member entity of a system. Rows are packed:
// removal moves the last row into the hole, so positions are not stable.
type groupStore struct {
	capacity int // zero means growable
	entities []EntityRef
	refs     []ComponentRef
	stride   int
	owned    []ownedColumn
	index    storage.Index
}

func newGroupStore(capacity, stride int, index storage.Index) *groupStore {
	g := &groupStore{capacity: capacity, stride: stride, index: index}
	if capacity > 0 {
		g.entities = make([]EntityRef, 0, capacity)
		g.refs = make([]ComponentRef, 0, capacity*stride)
	}
	return g
}

func (g *groupStore) count() int { return len(g.entities) }

func (g *groupStore) high() int { return len(g.entities) - 1 }

func (g *groupStore) rowOf(e EntityRef) (int, bool) {
	row, ok := g.index.Row(uint32(e.ID))
	if !ok || row >= len(g.entities) || g.entities[row] != e {
		return 0, false
	}
	return row, true
}

func (g *groupStore) rowRefs(row int) []ComponentRef {
	return g.refs[row*g.stride : (row+1)*g.stride]
}

// append writes a new row. owned is aligned with g.owned.
func (g *groupStore) append(e EntityRef, refs []ComponentRef, owned []ComponentValue) (int, error) {
	if g.capacity > 0 && len(g.entities) >= g.capacity {
		return 0, fmt.Errorf("%w: %d rows", ErrCapacityExceeded, g.capacity)
	}
	row := len(g.entities)
	if err := g.index.Insert(uint32(e.ID), row); err != nil {
		return 0, err
	}
	g.entities = append(g.entities, e)
	g.refs = append(g.refs, refs...)
	for i, col := range g.owned {
		owned[i].push(col)
	}
	return row, nil
}

// swapRemove drops row by overwriting it with the last row.
func (g *groupStore) swapRemove(row int) {
	last := len(g.entities) - 1
	gone := g.entities[row]

	for _, col := range g.owned {
		col.release(row)
	}
	if row != last {
		moved := g.entities[last]
		g.entities[row] = moved
		copy(g.rowRefs(row), g.rowRefs(last))
		for _, col := range g.owned {
			col.move(row, last)
		}
		g.index.Update(uint32(moved.ID), row)
	}

	g.entities[last] = EntityRef{}
	g.entities = g.entities[:last]
	g.refs = g.refs[:last*g.stride]
	for _, col := range g.owned {
		col.pop()
	}
	g.index.Remove(uint32(gone.ID))
}
