package alloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFree_WatermarkMigratesOneBucket allocates 20 objects from one CPU with
// 8 objects per bucket and a high watermark of 16, then frees 18 of them in
// allocation order. Exactly one bucket must cross to the global container.
func TestFree_WatermarkMigratesOneBucket(t *testing.T) {
	p := newTestPool(t, testConfig())

	objs := make([]Object, 20)
	for i := range objs {
		objs[i] = mustAlloc(t, p, 0, ClassMbuf, TypeData)
	}
	for _, o := range objs[:18] {
		p.Free(o)
	}

	s := p.Stats()
	cs := s.Classes[ClassMbuf]
	assert.Equal(t, uint64(1), s.Migrations)
	assert.LessOrEqual(t, cs.CPUs[0].Free, int64(16))
	assert.Equal(t, int64(14), cs.CPUs[0].Free)
	assert.Equal(t, int64(8), cs.Global.Free)
	assert.Equal(t, int64(1), cs.Global.Buckets)
	assert.Equal(t, int64(2), cs.CPUs[0].Buckets)
	assert.Equal(t, int64(2), cs.CPUs[0].Live[TypeData])
	assert.Zero(t, cs.Global.LiveTotal())

	checkInvariants(t, p)
	checkConservation(t, p)
}

// TestFree_MigrationCarriesLiveCounts verifies a migrated bucket takes its
// outstanding objects' per-type counts along, so the global container can
// account for their later frees.
func TestFree_MigrationCarriesLiveCounts(t *testing.T) {
	cfg := testConfig()
	cfg.Mbuf.HighWatermark = 4
	p := newTestPool(t, cfg)

	types := []SubType{TypeData, TypeHeader, TypeControl, TypeTag}
	objs := make([]Object, 16)
	for i := range objs {
		objs[i] = mustAlloc(t, p, 0, ClassMbuf, types[i%len(types)])
	}
	// Free every other object. The first free into the second bucket takes
	// the CPU past the watermark while that bucket still has seven objects out.
	for i := 0; i < 16; i += 2 {
		p.Free(objs[i])
		checkInvariants(t, p)
	}
	s := p.Stats()
	require.Positive(t, s.Migrations)
	cs := s.Classes[ClassMbuf]
	require.Positive(t, cs.Global.LiveTotal(), "migrated bucket carries outstanding objects")

	live := cs.LiveByType()
	assert.Zero(t, live[TypeData])
	assert.Zero(t, live[TypeControl])
	assert.Equal(t, int64(4), live[TypeHeader])
	assert.Equal(t, int64(4), live[TypeTag])

	for i := 1; i < 16; i += 2 {
		p.Free(objs[i])
		checkInvariants(t, p)
	}
	for _, cs := range p.Stats().Classes {
		assert.Zero(t, cs.LiveTotal())
		for _, c := range cs.CPUs {
			assert.GreaterOrEqual(t, c.Free, int64(0))
		}
	}
	checkConservation(t, p)
}

// TestFree_DoubleFreePanics verifies freeing an already free object is fatal.
func TestFree_DoubleFreePanics(t *testing.T) {
	p := newTestPool(t, testConfig())

	keep := mustAlloc(t, p, 0, ClassMbuf, TypeData)
	o := mustAlloc(t, p, 0, ClassMbuf, TypeData)
	p.Free(o)
	_ = keep

	assert.PanicsWithValue(t, "alloc: double free of slot 1 in bucket 0", func() {
		p.Free(o)
	})
}

// TestFree_InvalidObjectsPanic verifies objects the pool never handed out
// are rejected.
func TestFree_InvalidObjectsPanic(t *testing.T) {
	p := newTestPool(t, testConfig())
	other := newTestPool(t, testConfig())

	o := mustAlloc(t, p, 0, ClassMbuf, TypeData)
	foreign := mustAlloc(t, other, 0, ClassMbuf, TypeData)

	tests := []struct {
		name string
		obj  Object
	}{
		{"nil", Object{}},
		{"foreign", foreign},
		{"misaligned", Object{c: o.c, off: o.off + 1, typ: TypeData}},
		{"past bucket slots", Object{c: o.c, off: 8 * o.c.size, typ: TypeData}},
		{"uncarved", Object{c: o.c, off: 3 * o.c.stride, typ: TypeData}},
		{"outside arena", Object{c: o.c, off: len(o.c.mem), typ: TypeData}},
		{"wrong type", Object{c: o.c, off: o.off, typ: TypeHeader}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() { p.Free(tt.obj) })
		})
	}
}

// TestFree_StarvedCPUMigrates verifies the first free into a CPU that was
// stolen from migrates a bucket to the global container regardless of the
// watermark.
func TestFree_StarvedCPUMigrates(t *testing.T) {
	cfg := testConfig()
	limitBuckets(&cfg.Mbuf, 1)
	p := newTestPool(t, cfg)

	first := mustAlloc(t, p, 0, ClassMbuf, TypeData)
	_, err := p.Alloc(1, ClassMbuf, TypeData, DontWait)
	require.ErrorIs(t, err, ErrExhausted)

	stolen, err := p.Alloc(1, ClassMbuf, TypeData, TryWait)
	require.NoError(t, err)

	s := p.Stats()
	assert.Equal(t, uint64(1), s.Steals)
	assert.Equal(t, int32(1), s.Classes[ClassMbuf].CPUs[0].Starved)

	p.Free(first)
	s = p.Stats()
	cs := s.Classes[ClassMbuf]
	assert.Equal(t, uint64(1), s.Migrations)
	assert.Zero(t, cs.CPUs[0].Starved)
	assert.Equal(t, int64(7), cs.Global.Free)
	assert.Equal(t, int64(1), cs.Global.Live[TypeData])

	p.Free(stolen)
	cs = p.Stats().Classes[ClassMbuf]
	assert.Equal(t, int64(8), cs.Global.Free)
	assert.Zero(t, cs.LiveTotal())
	checkInvariants(t, p)
}

// TestFree_ClusterOwnerTags walks a cluster bucket through its ownership
// states.
func TestFree_ClusterOwnerTags(t *testing.T) {
	cfg := testConfig()
	cfg.Cluster.HighWatermark = 1
	p := newTestPool(t, cfg)

	a := mustAlloc(t, p, 0, ClassCluster, TypeNotMbuf)
	b, _ := a.c.resolve(a.off)
	tag := func(mu sync.Locker) string {
		mu.Lock()
		defer mu.Unlock()
		return b.tag().String()
	}
	assert.Equal(t, "owned(cpu0)", tag(&p.cpus[0].mu))

	c := mustAlloc(t, p, 0, ClassCluster, TypeNotMbuf)
	assert.Equal(t, "floating(cpu0)", tag(&p.cpus[0].mu))

	p.Free(a)
	assert.Equal(t, "owned(cpu0)", tag(&p.cpus[0].mu))

	// Two free clusters exceed the watermark of one.
	p.Free(c)
	assert.Equal(t, "owned(global)", tag(&p.global.mu))
	checkInvariants(t, p)
}

// TestFree_WrongTypeLeavesBucketIntact verifies a free rejected for its
// sub-type changes nothing, so the object can still be freed correctly.
func TestFree_WrongTypeLeavesBucketIntact(t *testing.T) {
	p := newTestPool(t, testConfig())

	o := mustAlloc(t, p, 0, ClassMbuf, TypeData)
	before := p.Stats().Classes[ClassMbuf]

	assert.PanicsWithValue(t, "alloc: free of header object not live in bucket 0", func() {
		p.Free(Object{c: o.c, off: o.off, typ: TypeHeader})
	})
	assert.Equal(t, before, p.Stats().Classes[ClassMbuf])
	checkInvariants(t, p)

	assert.NotPanics(t, func() { p.Free(o) })
	checkInvariants(t, p)
	checkConservation(t, p)
}

// TestFree_OwnerChangedWhileLocking migrates a bucket to the global container
// between the free reading its owner and taking that owner's lock. The free
// must look the owner up again and land in the global container.
func TestFree_OwnerChangedWhileLocking(t *testing.T) {
	p := newTestPool(t, testConfig())

	keep := mustAlloc(t, p, 0, ClassMbuf, TypeData)
	o := mustAlloc(t, p, 0, ClassMbuf, TypeHeader)
	c := o.c
	b, _ := c.resolve(o.off)
	pc := c.pcpu[0]

	moved := 0
	testHookOwnerRead = func() {
		if moved > 0 {
			return
		}
		moved++
		pc.mu.Lock()
		c.gen.mu.Lock()
		moveBucket(pc, c.gen, b)
		c.gen.mu.Unlock()
		pc.mu.Unlock()
	}
	t.Cleanup(func() { testHookOwnerRead = nil })

	p.Free(o)
	require.Equal(t, 1, moved)

	s := p.Stats()
	assert.Equal(t, uint64(1), s.OwnerRetries)
	cs := s.Classes[ClassMbuf]
	assert.Equal(t, int64(7), cs.Global.Free)
	assert.Equal(t, int64(1), cs.Global.Buckets)
	assert.Equal(t, int64(1), cs.Global.Live[TypeData])
	assert.Zero(t, cs.Global.Live[TypeHeader])
	assert.Zero(t, cs.CPUs[0].Buckets)
	assert.Zero(t, cs.CPUs[0].Free)

	c.gen.mu.Lock()
	assert.Equal(t, "owned(global)", b.tag().String())
	c.gen.mu.Unlock()
	checkInvariants(t, p)

	p.Free(keep)
	assert.Equal(t, uint64(1), p.Stats().OwnerRetries)
	checkInvariants(t, p)
	checkConservation(t, p)
}
