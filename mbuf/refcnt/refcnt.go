// Package refcnt provides the reference counters behind shared external
// storage. A counter lives either in a dense Table indexed by pool slot (for
// pooled clusters) or in an owned cell (for caller-supplied buffers). Both
// kinds are reached through Ref and behave identically.
package refcnt

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Table is a dense array of counters, one per pooled slot.
type Table struct {
	cells []atomic.Int32
}

// NewTable creates a table with n zeroed counters.
func NewTable(n int) *Table {
	return &Table{cells: make([]atomic.Int32, n)}
}

// Len returns the number of counters.
func (t *Table) Len() int { return len(t.cells) }

// Load returns the counter at slot i.
func (t *Table) Load(i int) int32 { return t.cells[i].Load() }

// Ref returns a handle to the counter at slot i.
func (t *Table) Ref(i int) Ref {
	if i < 0 || i >= len(t.cells) {
		panic(fmt.Sprintf("refcnt: slot %d out of range [0,%d)", i, len(t.cells)))
	}
	return Ref{c: &t.cells[i], pooled: true}
}

var cellPool = sync.Pool{
	New: func() any { return new(atomic.Int32) },
}

// Ref is a handle to a single counter.
type Ref struct {
	c      *atomic.Int32
	pooled bool
}

// NewOwned returns a handle to a fresh zeroed counter cell that does not
// belong to any table. Recycle returns the cell once its count reached zero.
func NewOwned() Ref {
	c := cellPool.Get().(*atomic.Int32) //nolint:errcheck // pool only holds *atomic.Int32
	c.Store(0)
	return Ref{c: c}
}

// IsNil reports whether r refers to no counter.
func (r Ref) IsNil() bool { return r.c == nil }

// Pooled reports whether the counter is a table cell.
func (r Ref) Pooled() bool { return r.pooled }

// Load returns the current count.
func (r Ref) Load() int32 { return r.c.Load() }

// Acquire adds one reference and returns the new count.
func (r Ref) Acquire() int32 { return r.c.Add(1) }

// Release drops one reference and reports whether it was the last one.
// Exactly one caller observes true for each transition to zero.
func (r Ref) Release() bool {
	n := r.c.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("refcnt: release of unreferenced counter (count=%d)", n))
	}
	return n == 0
}

// Recycle hands an owned cell back for reuse. Table cells are left alone.
// The count must be zero.
func (r Ref) Recycle() {
	if r.c == nil || r.pooled {
		return
	}
	if n := r.c.Load(); n != 0 {
		panic(fmt.Sprintf("refcnt: recycle of live counter (count=%d)", n))
	}
	cellPool.Put(r.c)
}
