package alloc

import (
	"fmt"
	"math/bits"
	"sync/atomic"
)

// globalID is the container id of a class's global container.
const globalID int32 = -1

// ownerState tells whether a bucket is on its owner's list.
type ownerState uint8

const (
	// owned: linked into the owner's bucket list (it has free objects).
	owned ownerState = iota
	// floating: fully allocated and on no list, still owned.
	floating
)

// ownerTag is the ownership of a bucket: Owned(id) or Floating(id).
type ownerTag struct {
	id    int32
	state ownerState
}

func (t ownerTag) String() string {
	who := fmt.Sprintf("cpu%d", t.id)
	if t.id == globalID {
		who = "global"
	}
	if t.state == floating {
		return "floating(" + who + ")"
	}
	return "owned(" + who + ")"
}

// bucket is a batch of same-size objects carved from one page source region.
//
// owner is read without a lock to find the container whose lock guards the
// bucket; everything else is only touched with that lock held.
type bucket struct {
	owner atomic.Int32

	linked bool
	next   *bucket

	index int     // position in the class bucket table
	base  int     // arena offset of slot 0
	free  []int32 // stack of free slot numbers
	avail []uint64

	// live counts this bucket's outstanding objects per sub-type. Migration
	// moves exactly this vector between containers.
	live [NumSubTypes]int32
}

func newBucket(index, base, perBucket int, owner int32) *bucket {
	b := &bucket{
		index: index,
		base:  base,
		free:  make([]int32, perBucket),
		avail: make([]uint64, (perBucket+63)/64),
	}
	// Pop order hands out the lowest slot first.
	for i := range b.free {
		b.free[i] = int32(perBucket - 1 - i)
	}
	for i := 0; i < perBucket; i++ {
		b.avail[i/64] |= 1 << (uint(i) % 64)
	}
	b.owner.Store(owner)
	return b
}

// tag returns the ownership tag. The owner's lock must be held.
func (b *bucket) tag() ownerTag {
	t := ownerTag{id: b.owner.Load(), state: owned}
	if !b.linked {
		t.state = floating
	}
	return t
}

func (b *bucket) numFree() int { return len(b.free) }

// pop removes one free slot.
func (b *bucket) pop() int {
	n := len(b.free) - 1
	slot := int(b.free[n])
	b.free = b.free[:n]
	b.avail[slot/64] &^= 1 << (uint(slot) % 64)
	return slot
}

// isFree reports whether slot is on the free stack.
func (b *bucket) isFree(slot int) bool {
	return b.avail[slot/64]&(1<<(uint(slot)%64)) != 0
}

// push returns a slot. Returning a slot that is already free is fatal.
func (b *bucket) push(slot int) {
	if b.isFree(slot) {
		panic(fmt.Sprintf("alloc: double free of slot %d in bucket %d", slot, b.index))
	}
	b.avail[slot/64] |= 1 << (uint(slot) % 64)
	b.free = append(b.free, int32(slot))
}

// countFree recounts free slots from the bitmap. Used by consistency checks.
func (b *bucket) countFree() int {
	n := 0
	for _, w := range b.avail {
		n += bits.OnesCount64(w)
	}
	return n
}
