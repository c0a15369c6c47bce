// Package alloc is a per-CPU sharded allocator for the two fixed-size object
// classes of a network stack: mbufs (small headers) and clusters (payload
// buffers).
//
// # Overview
//
// Each class carves its page source into buckets: batches of same-size
// objects with an embedded free-slot stack. Buckets with free objects sit on
// the list of exactly one container. Every online CPU has a container per
// class, and each class has one global container shared by all CPUs. The
// containers of one CPU share a lock, as do the global containers.
//
// # Allocation
//
//	p, err := alloc.New(alloc.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	m, err := p.Get(cpu, alloc.TypeHeader, alloc.DontWait)
//	if err != nil {
//	    // drop the packet
//	}
//	defer p.Free(m)
//
// An allocation first takes from the caller's CPU container, then pulls from
// the global container (moving a bucket that still has free objects to the
// CPU), then carves a new bucket from the page source without holding any
// lock. Once the page source refuses, the class is marked full and never asks
// again. A DontWait allocation then fails with ErrExhausted; a TryWait
// allocation runs the registered drain callbacks, steals one object from any
// CPU, and finally waits on the global container for at most Config.MaxWait
// before failing with ErrWaitTimeout.
//
// # Free and Migration
//
// Free finds the bucket by address arithmetic and locks whichever container
// the bucket's owner names, retrying if the owner changed in between. When a
// CPU container ends up above its high watermark, or a starving allocator
// stole from it, a whole bucket (with the live counts of its objects) moves to
// the global container and one waiter is woken.
//
// Freeing an object twice, or an object this pool never handed out, panics.
//
// # Composite Allocation
//
// GetCl allocates an mbuf and a cluster under one hold of the CPU lock and
// attaches the cluster to the mbuf. AllocChain builds a whole chain for a byte
// count the same way. Neither ever returns a partial result.
//
// # External Storage
//
// AttachCluster and AttachExternal give an mbuf shared storage with a
// reference count; Share adds another mbuf, DropRef (or Free of the mbuf)
// removes one. The last holder releases the storage exactly once. Cluster
// counters live in a dense table indexed by cluster slot.
//
// # Thread Safety
//
// Every Pool method is safe for concurrent use. Stats reads counters without
// locking and is only eventually consistent under load.
package alloc
