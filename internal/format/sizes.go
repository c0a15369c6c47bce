// Package format holds the fixed geometry of the allocator's objects: the
// mbuf and cluster sizes, the page size the page sources carve in, and the
// alignment helpers used when computing bucket strides.
package format

const (
	// PageSize is the granularity a page source carves regions in.
	PageSize = 0x1000

	// PageMask is PageSize - 1.
	PageMask = PageSize - 1

	// MSize is the size of one mbuf object (MSIZE).
	MSize = 256

	// MHeaderLen is the space at the front of an mbuf reserved for its
	// header fields. The consumer owns the layout; the allocator only uses
	// it to compute the data length available inside a plain mbuf.
	MHeaderLen = 32

	// MLen is the data length carried by an mbuf without external storage.
	MLen = MSize - MHeaderLen

	// MClBytes is the size of one cluster object (MCLBYTES).
	MClBytes = 2048

	// CacheLine is the assumed cache line width used for object alignment.
	CacheLine = 64

	// CacheLineMask is CacheLine - 1.
	CacheLineMask = CacheLine - 1
)

const (
	// DefaultMbufHighWatermark is the per-CPU free mbuf count above which a
	// free migrates a bucket to the global container.
	DefaultMbufHighWatermark = 512

	// DefaultMbufLowWatermark is advisory.
	DefaultMbufLowWatermark = 128

	// DefaultClusterHighWatermark is the per-CPU cluster high watermark.
	DefaultClusterHighWatermark = 128

	// DefaultClusterLowWatermark is advisory.
	DefaultClusterLowWatermark = 16

	// DefaultNMbClusters is the default number of clusters the cluster map
	// can hold.
	DefaultNMbClusters = 1024 * 32

	// DefaultNMbufs is the default number of mbufs the mbuf map can hold.
	DefaultNMbufs = DefaultNMbClusters * 4

	// DefaultWaitMillis is the default bound on a starvation wait (64 ticks
	// at hz=1000).
	DefaultWaitMillis = 64
)
