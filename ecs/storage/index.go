package storage

import (
	"errors"
	"fmt"

	"github.com/kamstrup/intmap"
)

var (
	// ErrInvalidEntity is returned when the reserved id 0 is inserted.
	ErrInvalidEntity = errors.New("storage: entity id 0 is reserved")
	// ErrEntityOutOfRange is returned when a fixed index cannot address an id.
	ErrEntityOutOfRange = errors.New("storage: entity id outside fixed index bound")
)

// Index maps an entity id to its row in one system's group store.
//
// All implementations agree on containment for identical operation
// sequences; they differ only in memory and time tradeoffs.
type Index interface {
	Contains(id uint32) bool
	Row(id uint32) (int, bool)
	Insert(id uint32, row int) error
	Update(id uint32, row int)
	Remove(id uint32) bool
	Len() int
	Clear()
}

// IndexFormat selects an Index implementation.
type IndexFormat uint8

const (
	// IndexSeq is a growable array of (exists, row) pairs keyed by id.
	IndexSeq IndexFormat = iota
	// IndexArray is preallocated for ids up to a maximum entity count.
	IndexArray
	// IndexTable hashes ids and handles an unbounded id space.
	IndexTable
)

func (f IndexFormat) String() string {
	switch f {
	case IndexSeq:
		return "seq"
	case IndexArray:
		return "array"
	case IndexTable:
		return "table"
	default:
		return fmt.Sprintf("IndexFormat(%d)", uint8(f))
	}
}

// ParseIndexFormat maps a layout name onto an IndexFormat.
func ParseIndexFormat(name string) (IndexFormat, error) {
	switch name {
	case "", "seq":
		return IndexSeq, nil
	case "array":
		return IndexArray, nil
	case "table":
		return IndexTable, nil
	}
	return 0, fmt.Errorf("%w: index %q", ErrUnknownFormat, name)
}

// NewIndex builds an index. maxEntities bounds IndexArray and sizes the
// initial allocation of the other formats.
func NewIndex(format IndexFormat, maxEntities int) (Index, error) {
	switch format {
	case IndexSeq:
		return NewSeqIndex(maxEntities), nil
	case IndexArray:
		return NewArrayIndex(maxEntities)
	case IndexTable:
		return NewTableIndex(maxEntities), nil
	}
	return nil, fmt.Errorf("%w: index %d", ErrUnknownFormat, uint8(format))
}

type indexEntry struct {
	exists bool
	row    int32
}

// SeqIndex grows to fit the largest id inserted.
type SeqIndex struct {
	entries []indexEntry
	count   int
}

// NewSeqIndex constructs a growable index with an optional size hint.
func NewSeqIndex(hint int) *SeqIndex {
	if hint < 0 {
		hint = 0
	}
	return &SeqIndex{entries: make([]indexEntry, 1, hint+1)}
}

func (x *SeqIndex) Contains(id uint32) bool {
	return int(id) < len(x.entries) && x.entries[id].exists
}

func (x *SeqIndex) Row(id uint32) (int, bool) {
	if !x.Contains(id) {
		return 0, false
	}
	return int(x.entries[id].row), true
}

func (x *SeqIndex) Insert(id uint32, row int) error {
	if id == 0 {
		return ErrInvalidEntity
	}
	if need := int(id) + 1; need > len(x.entries) {
		size := max(len(x.entries)*2, need)
		grown := make([]indexEntry, size)
		copy(grown, x.entries)
		x.entries = grown
	}
	if !x.entries[id].exists {
		x.count++
	}
	x.entries[id] = indexEntry{exists: true, row: int32(row)}
	return nil
}

func (x *SeqIndex) Update(id uint32, row int) {
	if x.Contains(id) {
		x.entries[id].row = int32(row)
	}
}

func (x *SeqIndex) Remove(id uint32) bool {
	if !x.Contains(id) {
		return false
	}
	x.entries[id] = indexEntry{}
	x.count--
	return true
}

func (x *SeqIndex) Len() int { return x.count }

func (x *SeqIndex) Clear() {
	clear(x.entries)
	x.count = 0
}

// ArrayIndex is sized once for a maximum entity id and never allocates again.
type ArrayIndex struct {
	entries []indexEntry
	count   int
}

// NewArrayIndex constructs a fixed index addressing ids 1..maxEntities.
func NewArrayIndex(maxEntities int) (*ArrayIndex, error) {
	if maxEntities <= 0 {
		return nil, fmt.Errorf("%w: array index needs max entities, got %d", ErrZeroCapacity, maxEntities)
	}
	return &ArrayIndex{entries: make([]indexEntry, maxEntities+1)}, nil
}

func (x *ArrayIndex) Contains(id uint32) bool {
	return int(id) < len(x.entries) && x.entries[id].exists
}

func (x *ArrayIndex) Row(id uint32) (int, bool) {
	if !x.Contains(id) {
		return 0, false
	}
	return int(x.entries[id].row), true
}

func (x *ArrayIndex) Insert(id uint32, row int) error {
	if id == 0 {
		return ErrInvalidEntity
	}
	if int(id) >= len(x.entries) {
		return fmt.Errorf("%w: id %d, bound %d", ErrEntityOutOfRange, id, len(x.entries)-1)
	}
	if !x.entries[id].exists {
		x.count++
	}
	x.entries[id] = indexEntry{exists: true, row: int32(row)}
	return nil
}

func (x *ArrayIndex) Update(id uint32, row int) {
	if x.Contains(id) {
		x.entries[id].row = int32(row)
	}
}

func (x *ArrayIndex) Remove(id uint32) bool {
	if !x.Contains(id) {
		return false
	}
	x.entries[id] = indexEntry{}
	x.count--
	return true
}

func (x *ArrayIndex) Len() int { return x.count }

func (x *ArrayIndex) Clear() {
	clear(x.entries)
	x.count = 0
}

// TableIndex hashes ids; memory follows membership rather than id range.
type TableIndex struct {
	rows *intmap.Map[uint32, int]
	hint int
}

// NewTableIndex constructs a hashed index with an initial capacity hint.
func NewTableIndex(hint int) *TableIndex {
	if hint <= 0 {
		hint = 64
	}
	return &TableIndex{rows: intmap.New[uint32, int](hint), hint: hint}
}

func (x *TableIndex) Contains(id uint32) bool {
	_, ok := x.rows.Get(id)
	return ok
}

func (x *TableIndex) Row(id uint32) (int, bool) {
	return x.rows.Get(id)
}

func (x *TableIndex) Insert(id uint32, row int) error {
	if id == 0 {
		return ErrInvalidEntity
	}
	x.rows.Put(id, row)
	return nil
}

func (x *TableIndex) Update(id uint32, row int) {
	if _, ok := x.rows.Get(id); ok {
		x.rows.Put(id, row)
	}
}

func (x *TableIndex) Remove(id uint32) bool {
	if _, ok := x.rows.Get(id); !ok {
		return false
	}
	x.rows.Del(id)
	return true
}

func (x *TableIndex) Len() int { return x.rows.Len() }

func (x *TableIndex) Clear() {
	x.rows = intmap.New[uint32, int](x.hint)
}

var (
	_ Index = (*SeqIndex)(nil)
	_ Index = (*ArrayIndex)(nil)
	_ Index = (*TableIndex)(nil)
)
