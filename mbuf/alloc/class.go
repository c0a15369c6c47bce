package alloc

import (
	"fmt"
	"sync/atomic"

	"github.com/joshuapare/mbpool/internal/buf"
	"github.com/joshuapare/mbpool/internal/format"
	"github.com/joshuapare/mbpool/mbuf/refcnt"
)

// class manages one object class: its page source, the table resolving
// arena offsets to buckets, one container per online CPU and the global
// container.
type class struct {
	id   Class
	pool *Pool

	size      int
	perBucket int
	stride    int
	high, low int

	src PageSource
	mem []byte

	table  []atomic.Pointer[bucket]
	carved atomic.Int64

	// mapFull is set once the page source refuses; later misses skip it.
	mapFull atomic.Bool

	pcpu []*container // nil entries are offline CPUs
	gen  *container

	// refs holds the dense reference counters of a cluster class.
	refs *refcnt.Table
	// ext holds the external storage attached to each slot of an mbuf class.
	ext []atomic.Pointer[extData]
}

func newClass(p *Pool, id Class, cc *ClassConfig, src PageSource) (*class, error) {
	c := &class{
		id:        id,
		pool:      p,
		size:      cc.ObjectSize,
		perBucket: cc.PerBucket,
		stride:    cc.stride(),
		high:      cc.HighWatermark,
		low:       cc.LowWatermark,
		src:       src,
		mem:       src.Bytes(),
	}
	maxBuckets := len(c.mem) / c.stride
	if maxBuckets == 0 {
		return nil, fmt.Errorf("%w: %s: page source holds %d bytes, one bucket needs %d",
			ErrBadConfig, id, len(c.mem), c.stride)
	}
	c.table = make([]atomic.Pointer[bucket], maxBuckets)

	c.pcpu = make([]*container, len(p.cpus))
	for i := range p.cpus {
		if p.online[i] {
			c.pcpu[i] = newContainer(int32(i), &p.cpus[i].mu)
		}
	}
	c.gen = newContainer(globalID, &p.global.mu)

	slots := maxBuckets * c.perBucket
	switch id {
	case ClassCluster:
		c.refs = refcnt.NewTable(slots)
	case ClassMbuf:
		c.ext = make([]atomic.Pointer[extData], slots)
	}
	return c, nil
}

// container returns the container a bucket owner id names.
func (c *class) container(id int32) *container {
	if id == globalID {
		return c.gen
	}
	return c.pcpu[id]
}

// object builds the handle for slot in b.
func (c *class) object(b *bucket, slot int, typ SubType) Object {
	return Object{c: c, off: b.base + slot*c.size, typ: typ}
}

// resolve maps an arena offset to its bucket and slot by address
// arithmetic. Offsets that cannot name a handed-out object are fatal.
func (c *class) resolve(off int) (*bucket, int) {
	if off < 0 || off >= len(c.mem) {
		panic(fmt.Sprintf("alloc: %s offset %#x outside arena", c.id, off))
	}
	idx, rem := off/c.stride, off%c.stride
	if rem%c.size != 0 || rem/c.size >= c.perBucket {
		panic(fmt.Sprintf("alloc: %s offset %#x is not an object boundary", c.id, off))
	}
	b := c.table[idx].Load()
	if b == nil {
		panic(fmt.Sprintf("alloc: %s offset %#x lies in an uncarved region", c.id, off))
	}
	return b, rem / c.size
}

// slotIndex is the dense index of the object at off across the class.
func (c *class) slotIndex(off int) int {
	return (off/c.stride)*c.perBucket + (off%c.stride)/c.size
}

// carve asks the page source for one more bucket on behalf of owner. No
// container lock may be held.
func (c *class) carve(owner int32) (*bucket, error) {
	if c.mapFull.Load() {
		return nil, ErrExhausted
	}
	off, err := c.src.Carve(c.stride)
	if err == nil && off%c.stride != 0 {
		err = fmt.Errorf("page source returned misaligned region at %#x", off)
	}
	if err == nil {
		if _, rerr := buf.CheckRegion(len(c.mem), off, 1, c.stride); rerr != nil {
			err = fmt.Errorf("page source region at %#x: %w", off, rerr)
		}
	}
	if err != nil {
		if c.mapFull.CompareAndSwap(false, true) {
			c.pool.log.Warn("object map full", "class", c.id.String(),
				"buckets", c.carved.Load(), "error", err)
		}
		return nil, err
	}
	b := newBucket(off/c.stride, off, c.perBucket, owner)
	c.table[b.index].Store(b)
	c.carved.Add(1)
	c.pool.stats.arenaPulls.Add(1)
	if c.pool.debug {
		c.pool.log.Debug("bucket carved", "class", c.id.String(), "bucket", b.index, "cpu", owner)
	}
	return b, nil
}

// capacity is the most objects the class can ever hold.
func (c *class) capacity() int { return len(c.table) * c.perBucket }

// mlen is the data length of an mbuf without external storage.
func (c *class) mlen() int { return c.size - format.MHeaderLen }
