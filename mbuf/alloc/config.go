package alloc

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/joshuapare/mbpool/internal/buf"
	"github.com/joshuapare/mbpool/internal/format"
)

// maxPerBucket bounds ClassConfig.PerBucket.
const maxPerBucket = 1 << 16

// PageSource supplies raw memory to a class. Regions are never given back.
type PageSource interface {
	// Carve returns the offset into Bytes of a fresh region of at least n
	// bytes, or an error when the source refuses.
	Carve(n int) (int, error)

	// Bytes returns the memory all offsets refer to.
	Bytes() []byte
}

// ClassConfig configures one object class. It is immutable once the pool
// is created.
type ClassConfig struct {
	ObjectSize int // bytes per object
	PerBucket  int // objects carved together into one bucket

	// HighWatermark is the per-CPU free object count above which a free
	// migrates one bucket to the global container.
	HighWatermark int

	// LowWatermark is advisory: buckets are never given back to the page
	// source, so nothing acts on it.
	LowWatermark int

	// MapSize is the number of bytes reserved for the class when Source
	// is nil.
	MapSize int

	// Source overrides the reserved arena. The pool does not close it.
	Source PageSource
}

// Config configures a Pool.
type Config struct {
	// NumCPU is the number of per-CPU container slots. Zero means
	// runtime.NumCPU().
	NumCPU int

	// Online marks which CPU slots get containers. Nil means discover from
	// the scheduler affinity of the process.
	Online []bool

	// MaxWait bounds one starvation wait of a TryWait allocation.
	MaxWait time.Duration

	Mbuf    ClassConfig
	Cluster ClassConfig

	// Logger receives diagnostics. Nil means logger.L.
	Logger *slog.Logger
}

// DefaultConfig returns the stock mbuf/cluster geometry: page-sized buckets,
// 256-byte mbufs, 2 KiB clusters.
func DefaultConfig() Config {
	return Config{
		NumCPU:  runtime.NumCPU(),
		MaxWait: format.DefaultWaitMillis * time.Millisecond,
		Mbuf: ClassConfig{
			ObjectSize:    format.MSize,
			PerBucket:     format.PageSize / format.MSize,
			HighWatermark: format.DefaultMbufHighWatermark,
			LowWatermark:  format.DefaultMbufLowWatermark,
			MapSize:       format.DefaultNMbufs * format.MSize,
		},
		Cluster: ClassConfig{
			ObjectSize:    format.MClBytes,
			PerBucket:     format.PageSize / format.MClBytes,
			HighWatermark: format.DefaultClusterHighWatermark,
			LowWatermark:  format.DefaultClusterLowWatermark,
			MapSize:       format.DefaultNMbClusters * format.MClBytes,
		},
	}
}

// class returns the configuration of cls.
func (c *Config) class(cls Class) *ClassConfig {
	if cls == ClassMbuf {
		return &c.Mbuf
	}
	return &c.Cluster
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.NumCPU <= 0 {
		return fmt.Errorf("%w: NumCPU must be positive, got %d", ErrBadConfig, c.NumCPU)
	}
	if c.Online != nil && len(c.Online) != c.NumCPU {
		return fmt.Errorf("%w: Online has %d entries, NumCPU is %d", ErrBadConfig, len(c.Online), c.NumCPU)
	}
	if c.Online != nil {
		up := false
		for _, on := range c.Online {
			up = up || on
		}
		if !up {
			return fmt.Errorf("%w: no CPU online", ErrBadConfig)
		}
	}
	if c.MaxWait <= 0 {
		return fmt.Errorf("%w: MaxWait must be positive, got %s", ErrBadConfig, c.MaxWait)
	}
	for cls := Class(0); cls < NumClasses; cls++ {
		if err := c.class(cls).validate(); err != nil {
			return fmt.Errorf("%w: %s: %s", ErrBadConfig, cls, err.Error())
		}
	}
	if c.Mbuf.ObjectSize <= format.MHeaderLen {
		return fmt.Errorf("%w: mbuf ObjectSize must exceed the %d byte header", ErrBadConfig, format.MHeaderLen)
	}
	return nil
}

func (cc *ClassConfig) validate() error {
	if cc.ObjectSize <= 0 {
		return fmt.Errorf("ObjectSize must be positive, got %d", cc.ObjectSize)
	}
	if format.AlignCacheLine(cc.ObjectSize) != cc.ObjectSize {
		return fmt.Errorf("ObjectSize %d is not a multiple of the %d byte cache line", cc.ObjectSize, format.CacheLine)
	}
	if cc.PerBucket <= 0 || cc.PerBucket > maxPerBucket {
		return fmt.Errorf("PerBucket must be in [1,%d], got %d", maxPerBucket, cc.PerBucket)
	}
	if cc.HighWatermark < 0 || cc.LowWatermark < 0 {
		return fmt.Errorf("watermarks must not be negative")
	}
	if cc.LowWatermark > cc.HighWatermark {
		return fmt.Errorf("LowWatermark %d exceeds HighWatermark %d", cc.LowWatermark, cc.HighWatermark)
	}
	if _, ok := buf.MulOverflowSafe(cc.ObjectSize, cc.PerBucket); !ok {
		return fmt.Errorf("bucket size overflows: %d x %d", cc.ObjectSize, cc.PerBucket)
	}
	if cc.Source == nil && cc.MapSize < cc.stride() {
		return fmt.Errorf("MapSize %d smaller than one bucket (%d)", cc.MapSize, cc.stride())
	}
	return nil
}

// stride is the arena distance between consecutive buckets.
func (cc *ClassConfig) stride() int {
	return format.AlignPage(cc.ObjectSize * cc.PerBucket)
}
