package alloc

import (
	"fmt"

	"github.com/joshuapare/mbpool/mbuf/refcnt"
)

// ExtKind identifies where an mbuf's external storage comes from.
type ExtKind uint8

const (
	// ExtCluster is a pooled cluster counted in the dense table.
	ExtCluster ExtKind = iota + 1
	// ExtExternal is a caller-supplied buffer with its own counter cell.
	ExtExternal
)

func (k ExtKind) String() string {
	switch k {
	case ExtCluster:
		return "cluster"
	case ExtExternal:
		return "external"
	default:
		return fmt.Sprintf("ext(%d)", uint8(k))
	}
}

// FreeFunc releases a caller-supplied buffer once no mbuf refers to it.
type FreeFunc func(buf []byte, arg any)

// extData is external storage shared by every mbuf attached to it.
type extData struct {
	kind ExtKind
	buf  []byte
	ref  refcnt.Ref

	cl   Object // ExtCluster
	free FreeFunc
	arg  any
}

// mbufSlot validates m as one of this pool's mbufs and returns its ext cell index.
func (p *Pool) mbufSlot(m Object) (int, error) {
	if m.c == nil || m.c.pool != p || m.c.id != ClassMbuf {
		return 0, fmt.Errorf("%w: %s", ErrNotMbuf, m)
	}
	m.c.resolve(m.off)
	return m.c.slotIndex(m.off), nil
}

// attach publishes e on m as its first holder.
func (p *Pool) attach(m Object, e *extData) error {
	slot, err := p.mbufSlot(m)
	if err != nil {
		return err
	}
	e.ref.Acquire()
	if !m.c.ext[slot].CompareAndSwap(nil, e) {
		e.ref.Release()
		return fmt.Errorf("%w: %s", ErrHasExt, m)
	}
	return nil
}

// AttachCluster makes cl the external storage of m. Freeing m, or dropping
// its reference, frees cl once no other mbuf shares it.
func (p *Pool) AttachCluster(m, cl Object) error {
	if cl.c == nil || cl.c.pool != p || cl.c.id != ClassCluster {
		return fmt.Errorf("%w: %s", ErrNotCluster, cl)
	}
	cl.c.resolve(cl.off)
	ref := cl.c.refs.Ref(cl.c.slotIndex(cl.off))
	if ref.Load() != 0 {
		return fmt.Errorf("%w: %s already attached", ErrHasExt, cl)
	}
	return p.attach(m, &extData{kind: ExtCluster, buf: cl.Bytes(), ref: ref, cl: cl})
}

// attachCluster is AttachCluster for a cluster and mbuf just allocated together.
func (p *Pool) attachCluster(m, cl Object) {
	if err := p.AttachCluster(m, cl); err != nil {
		panic(fmt.Sprintf("alloc: attach fresh cluster: %v", err))
	}
}

// AttachExternal makes buf the external storage of m. free runs with buf and
// arg once no mbuf refers to buf any more.
func (p *Pool) AttachExternal(m Object, buf []byte, free FreeFunc, arg any) error {
	if free == nil {
		return fmt.Errorf("alloc: AttachExternal needs a free function")
	}
	ref := refcnt.NewOwned()
	err := p.attach(m, &extData{kind: ExtExternal, buf: buf, ref: ref, free: free, arg: arg})
	if err != nil {
		ref.Recycle()
	}
	return err
}

// Share attaches src's external storage to dst as well.
func (p *Pool) Share(src, dst Object) error {
	sslot, err := p.mbufSlot(src)
	if err != nil {
		return err
	}
	dslot, err := p.mbufSlot(dst)
	if err != nil {
		return err
	}
	e := src.c.ext[sslot].Load()
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNoExt, src)
	}
	e.ref.Acquire()
	if !dst.c.ext[dslot].CompareAndSwap(nil, e) {
		// src still holds a reference, so this cannot be the last one.
		e.ref.Release()
		return fmt.Errorf("%w: %s", ErrHasExt, dst)
	}
	return nil
}

// DropRef detaches m's external storage and releases it if m was the last
// holder: a cluster goes back to the pool, an external buffer to its free
// function.
func (p *Pool) DropRef(m Object) error {
	slot, err := p.mbufSlot(m)
	if err != nil {
		return err
	}
	e := m.c.ext[slot].Swap(nil)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNoExt, m)
	}
	if !e.ref.Release() {
		return nil
	}
	switch e.kind {
	case ExtCluster:
		p.free(e.cl.c, e.cl.off, e.cl.typ)
	case ExtExternal:
		e.free(e.buf, e.arg)
		e.ref.Recycle()
	}
	return nil
}

// RefCount returns how many mbufs share m's external storage, or 0.
func (p *Pool) RefCount(m Object) int32 {
	slot, err := p.mbufSlot(m)
	if err != nil {
		return 0
	}
	if e := m.c.ext[slot].Load(); e != nil {
		return e.ref.Load()
	}
	return 0
}

// ExtBytes returns m's external storage, or nil.
func (p *Pool) ExtBytes(m Object) []byte {
	slot, err := p.mbufSlot(m)
	if err != nil {
		return nil
	}
	if e := m.c.ext[slot].Load(); e != nil {
		return e.buf
	}
	return nil
}

// ExtKindOf returns the kind of m's external storage, or 0.
func (p *Pool) ExtKindOf(m Object) ExtKind {
	slot, err := p.mbufSlot(m)
	if err != nil {
		return 0
	}
	if e := m.c.ext[slot].Load(); e != nil {
		return e.kind
	}
	return 0
}
