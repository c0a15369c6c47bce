package alloc

import "sync/atomic"

// poolStats holds cumulative event counters.
type poolStats struct {
	waits      atomic.Uint64
	drops      atomic.Uint64
	exhausted  atomic.Uint64
	timeouts   atomic.Uint64
	drains     atomic.Uint64
	arenaPulls atomic.Uint64
	migrations atomic.Uint64
	steals     atomic.Uint64
	wakeups    atomic.Uint64

	ownerRetries atomic.Uint64
}

// ContainerStats is a snapshot of one container.
type ContainerStats struct {
	CPU     int  // -1 for the global container
	Online  bool // false for CPU slots without containers
	Free    int64
	Buckets int64
	Live    [NumSubTypes]int64
	Starved int32 // per-CPU: steals not yet answered by a migration
	Waiters int32 // global: allocators in a starvation wait
}

// LiveTotal returns the number of outstanding objects accounted here.
func (s ContainerStats) LiveTotal() int64 {
	var n int64
	for _, v := range s.Live {
		n += v
	}
	return n
}

// ClassStats is a snapshot of one object class.
type ClassStats struct {
	Class         Class
	ObjectSize    int
	PerBucket     int
	Stride        int
	HighWatermark int
	LowWatermark  int
	Carved        int64 // buckets carved from the page source
	MaxBuckets    int64
	MapFull       bool
	Global        ContainerStats
	CPUs          []ContainerStats
}

// Objects returns the number of objects ever carved.
func (s ClassStats) Objects() int64 { return s.Carved * int64(s.PerBucket) }

// FreeTotal returns the free objects across all containers.
func (s ClassStats) FreeTotal() int64 {
	n := s.Global.Free
	for _, c := range s.CPUs {
		n += c.Free
	}
	return n
}

// LiveTotal returns the outstanding objects across all containers.
func (s ClassStats) LiveTotal() int64 {
	n := s.Global.LiveTotal()
	for _, c := range s.CPUs {
		n += c.LiveTotal()
	}
	return n
}

// LiveByType returns outstanding objects per sub-type across all containers.
func (s ClassStats) LiveByType() [NumSubTypes]int64 {
	out := s.Global.Live
	for _, c := range s.CPUs {
		for t, v := range c.Live {
			out[t] += v
		}
	}
	return out
}

// Stats is a point-in-time view of the pool. Counters are read without
// locks, so a snapshot taken under load is only eventually consistent.
type Stats struct {
	Classes [NumClasses]ClassStats

	Waits      uint64 // TryWait allocations that entered the blocking path
	Drops      uint64 // allocations that failed, either way
	Exhausted  uint64 // DontWait allocations that failed
	Timeouts   uint64 // TryWait allocations that failed after waiting
	Drains     uint64 // rounds of drain callbacks
	ArenaPulls uint64 // buckets carved
	Migrations uint64 // buckets moved from a CPU to the global container
	Steals     uint64 // objects a starving allocator took from any CPU
	Wakeups    uint64 // waiters woken by a free

	// OwnerRetries counts frees that found their bucket migrated while
	// taking the owner's lock and looked it up again.
	OwnerRetries uint64
}

// Stats returns a snapshot of every counter.
func (p *Pool) Stats() Stats {
	s := Stats{
		Waits:      p.stats.waits.Load(),
		Drops:      p.stats.drops.Load(),
		Exhausted:  p.stats.exhausted.Load(),
		Timeouts:   p.stats.timeouts.Load(),
		Drains:     p.stats.drains.Load(),
		ArenaPulls: p.stats.arenaPulls.Load(),
		Migrations: p.stats.migrations.Load(),
		Steals:     p.stats.steals.Load(),
		Wakeups:    p.stats.wakeups.Load(),

		OwnerRetries: p.stats.ownerRetries.Load(),
	}
	for i, c := range p.classes {
		cs := ClassStats{
			Class:         c.id,
			ObjectSize:    c.size,
			PerBucket:     c.perBucket,
			Stride:        c.stride,
			HighWatermark: c.high,
			LowWatermark:  c.low,
			Carved:        c.carved.Load(),
			MaxBuckets:    int64(len(c.table)),
			MapFull:       c.mapFull.Load(),
			Global:        snapshot(c.gen, -1),
			CPUs:          make([]ContainerStats, len(c.pcpu)),
		}
		for id, pc := range c.pcpu {
			cs.CPUs[id] = snapshot(pc, id)
		}
		s.Classes[i] = cs
	}
	return s
}

func snapshot(c *container, id int) ContainerStats {
	s := ContainerStats{CPU: id}
	if c == nil {
		return s
	}
	s.Online = true
	s.Free = c.free.Load()
	s.Buckets = c.buckets.Load()
	for t := range c.live {
		s.Live[t] = c.live[t].Load()
	}
	s.Starved = c.starved.Load()
	if c.waitq != nil {
		s.Waiters = c.waitq.waiters.Load()
	}
	return s
}
