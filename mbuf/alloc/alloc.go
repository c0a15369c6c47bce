package alloc

import (
	"fmt"
	"sync"
)

// hold is a CPU lock that may stay held across several allocations.
type hold struct {
	mu     *sync.Mutex
	locked bool
}

func (h *hold) lock() {
	if !h.locked {
		h.mu.Lock()
		h.locked = true
	}
}

func (h *hold) unlock() {
	if h.locked {
		h.mu.Unlock()
		h.locked = false
	}
}

// Alloc returns one object of class cls, accounted under typ, from cpu's
// containers. With DontWait it fails with ErrExhausted when nothing is
// available; with TryWait it drains, steals and waits first, failing with
// ErrWaitTimeout.
func (p *Pool) Alloc(cpu CPU, cls Class, typ SubType, how How) (Object, error) {
	c, err := p.class(cls)
	if err != nil {
		return Object{}, err
	}
	if typ >= NumSubTypes {
		return Object{}, fmt.Errorf("%w: %d", ErrBadType, typ)
	}
	pc, err := p.pcpu(c, cpu)
	if err != nil {
		return Object{}, err
	}
	h := hold{mu: pc.mu}
	return p.alloc(c, pc, typ, how, &h, false)
}

// Get allocates an mbuf.
func (p *Pool) Get(cpu CPU, typ SubType, how How) (Object, error) {
	return p.Alloc(cpu, ClassMbuf, typ, how)
}

// GetHdr allocates an mbuf accounted as a packet header.
func (p *Pool) GetHdr(cpu CPU, how How) (Object, error) {
	return p.Alloc(cpu, ClassMbuf, TypeHeader, how)
}

// GetCluster allocates a bare cluster.
func (p *Pool) GetCluster(cpu CPU, how How) (Object, error) {
	return p.Alloc(cpu, ClassCluster, TypeNotMbuf, how)
}

// alloc is the allocation path. h guards pc. With persist the CPU lock is
// still held on a successful return from the fast, global or arena path. It
// is released on failure, around page source calls and by the blocking path.
func (p *Pool) alloc(c *class, pc *container, typ SubType, how How, h *hold, persist bool) (Object, error) {
	h.lock()

	// Fast path: this CPU's list.
	if slot, b, ok := pc.take(typ); ok {
		if !persist {
			h.unlock()
		}
		return c.object(b, slot, typ), nil
	}

	// Pull from the global list. A bucket with objects left after the take
	// moves to this CPU whole.
	g := c.gen
	g.mu.Lock()
	if slot, b, ok := g.take(typ); ok {
		if b.numFree() > 0 {
			moveBucket(g, pc, b)
		}
		g.mu.Unlock()
		if !persist {
			h.unlock()
		}
		return c.object(b, slot, typ), nil
	}
	g.mu.Unlock()

	// Ask the page source for a new bucket, without holding any lock.
	if !c.mapFull.Load() {
		h.unlock()
		b, err := c.carve(pc.id)
		h.lock()
		if err == nil {
			pc.adopt(b)
			slot, _, _ := pc.take(typ)
			if !persist {
				h.unlock()
			}
			return c.object(b, slot, typ), nil
		}
	}
	h.unlock()

	if how == TryWait {
		return p.allocWait(c, typ)
	}
	p.stats.exhausted.Add(1)
	p.stats.drops.Add(1)
	p.exhaustLog[c.id].Do(func() {
		p.log.Warn("all objects exhausted; raise the map size or use TryWait",
			"class", c.id.String(), "buckets", c.carved.Load())
	})
	return Object{}, ErrExhausted
}

// allocWait is the blocking path: run drains, steal from any CPU, then wait
// on the global container once.
func (p *Pool) allocWait(c *class, typ SubType) (Object, error) {
	p.stats.waits.Add(1)
	p.stats.drains.Add(1)
	ran := p.drains.Run()
	if p.debug {
		p.log.Debug("starving", "class", c.id.String(), "drains", ran)
	}

	for _, pc := range c.pcpu {
		if pc == nil {
			continue
		}
		pc.mu.Lock()
		if slot, b, ok := pc.take(typ); ok {
			pc.starved.Add(1)
			pc.mu.Unlock()
			p.stats.steals.Add(1)
			return c.object(b, slot, typ), nil
		}
		pc.mu.Unlock()
	}

	g := c.gen
	g.mu.Lock()
	if slot, b, ok := g.take(typ); ok {
		g.mu.Unlock()
		return c.object(b, slot, typ), nil
	}

	g.waitq.waiters.Add(1)
	g.waitq.wait(g.mu, p.cfg.MaxWait)
	g.waitq.waiters.Add(-1)

	if slot, b, ok := g.take(typ); ok {
		g.mu.Unlock()
		return c.object(b, slot, typ), nil
	}
	g.mu.Unlock()

	p.stats.timeouts.Add(1)
	p.stats.drops.Add(1)
	p.exhaustLog[c.id].Do(func() {
		p.log.Warn("starvation wait timed out", "class", c.id.String(), "wait", p.cfg.MaxWait)
	})
	return Object{}, ErrWaitTimeout
}
