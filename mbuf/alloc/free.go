package alloc

import "fmt"

// maxOwnerRetries bounds how often free re-resolves a bucket whose owner
// changed between reading it and locking the named container.
const maxOwnerRetries = 1 << 12

// Free returns o to its class. An mbuf still carrying external storage drops
// its reference first. Freeing a nil, foreign or already free object, or a
// cluster still shared through external storage, panics.
func (p *Pool) Free(o Object) {
	c := p.ours(o)
	b, _ := c.resolve(o.off)
	switch c.id {
	case ClassMbuf:
		if c.ext[c.slotIndex(o.off)].Load() != nil {
			// DropRef only fails when nothing is attached.
			_ = p.DropRef(o)
		}
	case ClassCluster:
		if n := c.refs.Load(c.slotIndex(o.off)); n != 0 {
			panic(fmt.Sprintf("alloc: free of %s still shared by %d references (bucket %d)", o, n, b.index))
		}
	}
	p.free(c, o.off, o.typ)
}

// testHookOwnerRead runs between reading a bucket's owner and locking the
// container it names.
var testHookOwnerRead func()

// free puts the object at off back into whichever container owns its bucket.
func (p *Pool) free(c *class, off int, typ SubType) {
	b, slot := c.resolve(off)

	for try := 0; try < maxOwnerRetries; try++ {
		if p.freeOwned(c, b, slot, typ) {
			return
		}
		p.stats.ownerRetries.Add(1)
	}
	panic(fmt.Sprintf("alloc: %s bucket %d owner kept changing over %d retries", c.id, b.index, maxOwnerRetries))
}

// freeOwned frees slot into the container b's owner names. It reports false
// when b migrated while the container lock was being acquired.
func (p *Pool) freeOwned(c *class, b *bucket, slot int, typ SubType) bool {
	id := b.owner.Load()
	if testHookOwnerRead != nil {
		testHookOwnerRead()
	}
	owner := c.container(id)
	owner.mu.Lock()
	defer owner.mu.Unlock()
	if b.owner.Load() != id {
		return false
	}

	if id == globalID {
		p.freeGlobal(owner, b, slot, typ)
	} else {
		p.freeLocal(c, owner, b, slot, typ)
	}
	return true
}

// freeGlobal returns a slot to a globally owned bucket. g is locked.
func (p *Pool) freeGlobal(g *container, b *bucket, slot int, typ SubType) {
	if g.give(b, slot, typ) {
		g.link(b)
	}
	if g.waitq.waiters.Load() > 0 && g.waitq.signalOne() {
		p.stats.wakeups.Add(1)
	}
}

// freeLocal returns a slot to a bucket owned by pc, which is locked, and
// migrates a bucket to the global container when pc is starved or above
// its high watermark.
func (p *Pool) freeLocal(c *class, pc *container, b *bucket, slot int, typ SubType) {
	wasFloating := pc.give(b, slot, typ)

	starved := pc.starved.Load() > 0
	if !starved && pc.free.Load() <= int64(c.high) {
		if wasFloating {
			pc.link(b)
		}
		return
	}

	// Prefer the bucket we just refilled; it is on no list yet.
	mb := b
	if !wasFloating {
		mb = pc.head
	}
	p.migrate(c, pc, mb, starved)

	if p.debug {
		p.log.Debug("bucket migrated", "class", c.id.String(), "bucket", mb.index,
			"cpu", pc.id, "starved", starved, "free", pc.free.Load())
	}
}

// migrate moves mb from pc, which is locked, to the global container and
// wakes one starving allocator.
func (p *Pool) migrate(c *class, pc *container, mb *bucket, starved bool) {
	g := c.gen
	g.mu.Lock()
	defer g.mu.Unlock()

	moveBucket(pc, g, mb)
	p.stats.migrations.Add(1)
	if starved {
		pc.starved.Add(-1)
	}
	if g.waitq.waiters.Load() > 0 && g.waitq.signalOne() {
		p.stats.wakeups.Add(1)
	}
}
