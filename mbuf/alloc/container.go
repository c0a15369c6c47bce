package alloc

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// container is a lock-protected list of buckets with free objects plus the
// running counters for every bucket it owns. The counters are atomics so
// stats can read them without the lock; they are only written with it held.
type container struct {
	id int32
	mu *sync.Mutex

	head *bucket

	free    atomic.Int64 // free objects across owned buckets
	buckets atomic.Int64 // owned buckets, linked or floating
	live    [NumSubTypes]atomic.Int64

	// starved counts objects stolen from this per-CPU container by starving
	// allocators since its last migration to the global container.
	starved atomic.Int32

	// waitq is set on global containers only.
	waitq *waitQueue
}

func newContainer(id int32, mu *sync.Mutex) *container {
	c := &container{id: id, mu: mu}
	if id == globalID {
		c.waitq = &waitQueue{}
	}
	return c
}

func (c *container) link(b *bucket) {
	b.next = c.head
	b.linked = true
	c.head = b
}

func (c *container) unlinkHead() *bucket {
	b := c.head
	if b == nil {
		return nil
	}
	c.head = b.next
	b.next = nil
	b.linked = false
	return b
}

// adopt takes ownership of a freshly carved bucket.
func (c *container) adopt(b *bucket) {
	b.owner.Store(c.id)
	c.buckets.Add(1)
	c.free.Add(int64(b.numFree()))
	c.link(b)
}

// take hands out one object from the head bucket and accounts it under typ.
// A bucket that runs empty is unlinked and left floating.
func (c *container) take(typ SubType) (int, *bucket, bool) {
	b := c.head
	if b == nil {
		return 0, nil, false
	}
	slot := b.pop()
	c.free.Add(-1)
	b.live[typ]++
	c.live[typ].Add(1)
	if b.numFree() == 0 {
		c.unlinkHead()
	}
	return slot, b, true
}

// give returns slot to b and reports whether b was floating. The caller
// decides whether a floating bucket is relinked here or migrated. A bad
// free panics before anything is changed.
func (c *container) give(b *bucket, slot int, typ SubType) bool {
	if b.isFree(slot) {
		panic(fmt.Sprintf("alloc: double free of slot %d in bucket %d", slot, b.index))
	}
	if b.live[typ] == 0 {
		panic(fmt.Sprintf("alloc: free of %s object not live in bucket %d", typ, b.index))
	}
	wasFloating := !b.linked
	b.push(slot)
	c.free.Add(1)
	b.live[typ]--
	c.live[typ].Add(-1)
	return wasFloating
}

// moveBucket transfers b and its counters from src to dst. Both locks must
// be held. b must be src's head or floating.
func moveBucket(src, dst *container, b *bucket) {
	if b.linked {
		if src.head != b {
			panic(fmt.Sprintf("alloc: migrating bucket %d that is not the list head", b.index))
		}
		src.unlinkHead()
	}
	n := int64(b.numFree())
	src.free.Add(-n)
	dst.free.Add(n)
	src.buckets.Add(-1)
	dst.buckets.Add(1)
	for t, v := range b.live {
		if v != 0 {
			src.live[t].Add(-int64(v))
			dst.live[t].Add(int64(v))
		}
	}
	b.owner.Store(dst.id)
	if n > 0 {
		dst.link(b)
	}
}

// liveTotal sums the live counters.
func (c *container) liveTotal() int64 {
	var n int64
	for i := range c.live {
		n += c.live[i].Load()
	}
	return n
}
