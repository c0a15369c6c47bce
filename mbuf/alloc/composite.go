package alloc

import (
	"fmt"
)

// GetCl allocates an mbuf and a cluster under a single hold of cpu's lock
// and attaches the cluster to the mbuf as external storage. Freeing the mbuf
// releases the cluster. If the cluster cannot be had, the mbuf is freed again
// and the call fails like a plain allocation.
func (p *Pool) GetCl(cpu CPU, typ SubType, how How) (m, cl Object, err error) {
	if typ >= NumSubTypes {
		return Object{}, Object{}, fmt.Errorf("%w: %d", ErrBadType, typ)
	}
	mc, cc := p.classes[ClassMbuf], p.classes[ClassCluster]
	mpc, err := p.pcpu(mc, cpu)
	if err != nil {
		return Object{}, Object{}, err
	}
	cpc := cc.pcpu[cpu]

	// Both classes' per-CPU containers share the CPU lock.
	h := hold{mu: mpc.mu}
	defer h.unlock()

	m, err = p.alloc(mc, mpc, typ, how, &h, true)
	if err != nil {
		return Object{}, Object{}, err
	}
	cl, err = p.alloc(cc, cpc, TypeNotMbuf, how, &h, true)
	if err != nil {
		h.unlock()
		p.Free(m)
		return Object{}, Object{}, err
	}
	p.attachCluster(m, cl)
	return m, cl, nil
}

// chainPlan splits total bytes into full clusters plus a remainder. A
// remainder that does not fit the data area of a plain mbuf takes one more
// cluster.
func chainPlan(total, clSize, mlen int) (clusters int, small bool) {
	clusters, rem := total/clSize, total%clSize
	switch {
	case rem > mlen:
		clusters++
	case rem > 0:
		small = true
	}
	return clusters, small
}

// AllocChain allocates a chain able to carry total bytes: one mbuf with a
// cluster per full cluster of data, and a plain mbuf for a remainder small
// enough to fit one. The CPU lock is held across the whole chain. On failure
// everything allocated so far is freed and no chain is returned. A chain
// longer than the pool could ever supply fails with ErrExhausted up front.
func (p *Pool) AllocChain(cpu CPU, total int, typ SubType, how How) (Chain, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadLength, total)
	}
	if typ >= NumSubTypes {
		return nil, fmt.Errorf("%w: %d", ErrBadType, typ)
	}
	mc, cc := p.classes[ClassMbuf], p.classes[ClassCluster]
	mpc, err := p.pcpu(mc, cpu)
	if err != nil {
		return nil, err
	}
	cpc := cc.pcpu[cpu]

	clusters, small := chainPlan(total, cc.size, mc.mlen())
	n := clusters
	if small {
		n++
	}
	if clusters > cc.capacity() || n > mc.capacity() {
		return nil, fmt.Errorf("%w: chain of %d bytes needs %d clusters and %d mbufs", ErrExhausted, total, clusters, n)
	}
	ch := make(Chain, 0, n)

	h := hold{mu: mpc.mu}
	fail := func(err error) (Chain, error) {
		h.unlock()
		p.FreeChain(ch)
		return nil, err
	}

	for i := 0; i < clusters; i++ {
		m, err := p.alloc(mc, mpc, typ, how, &h, true)
		if err != nil {
			return fail(err)
		}
		cl, err := p.alloc(cc, cpc, TypeNotMbuf, how, &h, true)
		if err != nil {
			ch = append(ch, Segment{M: m, Cap: mc.mlen()})
			return fail(err)
		}
		p.attachCluster(m, cl)
		ch = append(ch, Segment{M: m, Cl: cl, Cap: cc.size})
	}
	if small {
		m, err := p.alloc(mc, mpc, typ, how, &h, true)
		if err != nil {
			return fail(err)
		}
		ch = append(ch, Segment{M: m, Cap: mc.mlen()})
	}
	h.unlock()
	return ch, nil
}

// FreeChain frees every segment of ch. Clusters attached to the mbufs are
// released through their references.
func (p *Pool) FreeChain(ch Chain) {
	for _, s := range ch {
		if !s.M.IsNil() {
			p.Free(s.M)
		}
	}
}
