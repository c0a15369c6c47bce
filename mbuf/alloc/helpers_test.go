package alloc

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/mbpool/internal/arena"
	"github.com/joshuapare/mbpool/internal/format"
)

// ============================================================================
// Test Helpers
// ============================================================================

// testConfig returns a small two-CPU configuration: 8 mbufs per bucket with
// a high watermark of 16, 2 clusters per bucket with a high watermark of 8.
func testConfig() Config {
	return Config{
		NumCPU:  2,
		Online:  []bool{true, true},
		MaxWait: 20 * time.Millisecond,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Mbuf: ClassConfig{
			ObjectSize:    format.MSize,
			PerBucket:     8,
			HighWatermark: 16,
			MapSize:       64 * format.PageSize,
		},
		Cluster: ClassConfig{
			ObjectSize:    format.MClBytes,
			PerBucket:     2,
			HighWatermark: 8,
			MapSize:       64 * format.PageSize,
		},
	}
}

// limitBuckets gives cc a heap page source holding exactly n buckets.
func limitBuckets(cc *ClassConfig, n int) {
	cc.Source = arena.NewHeap(n * cc.stride())
}

func newTestPool(t testing.TB, cfg Config) *Pool {
	t.Helper()
	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// mustAlloc allocates or fails the test.
func mustAlloc(t testing.TB, p *Pool, cpu CPU, cls Class, typ SubType) Object {
	t.Helper()
	o, err := p.Alloc(cpu, cls, typ, DontWait)
	require.NoError(t, err)
	require.False(t, o.IsNil())
	return o
}

// lockAll takes every lock of the pool in the allocator's order.
func lockAll(p *Pool) func() {
	for i := range p.cpus {
		p.cpus[i].mu.Lock()
	}
	p.global.mu.Lock()
	return func() {
		p.global.mu.Unlock()
		for i := range p.cpus {
			p.cpus[i].mu.Unlock()
		}
	}
}

// checkInvariants verifies bucket and container bookkeeping against each
// other. The pool must be quiescent.
func checkInvariants(t testing.TB, p *Pool) {
	t.Helper()
	unlock := lockAll(p)
	defer unlock()

	for _, c := range p.classes {
		type tally struct {
			free, buckets int64
			live          [NumSubTypes]int64
		}
		sums := map[int32]*tally{globalID: {}}
		for id, pc := range c.pcpu {
			if pc != nil {
				sums[int32(id)] = &tally{}
			}
		}

		carved := int64(0)
		for i := range c.table {
			b := c.table[i].Load()
			if b == nil {
				continue
			}
			carved++
			require.Equal(t, b.countFree(), b.numFree(), "%s bucket %d: bitmap and stack disagree", c.id, i)
			require.Equal(t, b.numFree() > 0, b.linked, "%s bucket %d: %s with %d free", c.id, i, b.tag(), b.numFree())

			s, ok := sums[b.owner.Load()]
			require.True(t, ok, "%s bucket %d owned by unknown container %d", c.id, i, b.owner.Load())
			s.free += int64(b.numFree())
			s.buckets++
			outstanding := 0
			for ty, v := range b.live {
				require.GreaterOrEqual(t, v, int32(0))
				s.live[ty] += int64(v)
				outstanding += int(v)
			}
			require.Equal(t, c.perBucket, outstanding+b.numFree(), "%s bucket %d: live + free", c.id, i)
		}
		require.Equal(t, carved, c.carved.Load())

		for id, s := range sums {
			cont := c.container(id)
			require.Equal(t, s.free, cont.free.Load(), "%s container %d free", c.id, id)
			require.Equal(t, s.buckets, cont.buckets.Load(), "%s container %d buckets", c.id, id)
			for ty := range s.live {
				require.Equal(t, s.live[ty], cont.live[ty].Load(), "%s container %d live[%s]", c.id, id, SubType(ty))
			}
			for b := cont.head; b != nil; b = b.next {
				require.Equal(t, id, b.owner.Load(), "%s bucket %d on list of %d", c.id, b.index, id)
			}
		}
	}
}

// checkConservation verifies outstanding + free == carved for every class.
func checkConservation(t testing.TB, p *Pool) {
	t.Helper()
	s := p.Stats()
	for _, cs := range s.Classes {
		require.Equal(t, cs.Objects(), cs.FreeTotal()+cs.LiveTotal(), "%s: carved != free + live", cs.Class)
	}
}

// countingSource wraps a page source and counts Carve calls.
type countingSource struct {
	*arena.Arena
	calls int
}

func (s *countingSource) Carve(n int) (int, error) {
	s.calls++
	return s.Arena.Carve(n)
}
