package alloc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	syscpu "golang.org/x/sys/cpu"
	"golang.org/x/time/rate"

	"github.com/joshuapare/mbpool/internal/arena"
	"github.com/joshuapare/mbpool/internal/cpuinfo"
	"github.com/joshuapare/mbpool/internal/logger"
	"github.com/joshuapare/mbpool/mbuf/drain"
)

// Runtime debug flag for slow-path logging - controlled by MBPOOL_LOG_ALLOC env var.
var logAlloc = os.Getenv("MBPOOL_LOG_ALLOC") != ""

// cpuLock guards the containers of every class for one CPU.
type cpuLock struct {
	mu sync.Mutex
	_  syscpu.CacheLinePad
}

// Pool is the mbuf and cluster allocator. All methods are safe for
// concurrent use.
type Pool struct {
	cfg    Config
	online []bool

	cpus   []cpuLock
	global cpuLock // guards every class's global container

	classes [NumClasses]*class
	drains  *drain.Registry

	log        *slog.Logger
	debug      bool
	exhaustLog [NumClasses]rate.Sometimes

	stats  poolStats
	nextRR atomic.Uint32

	closers []func() error
}

// New creates a pool. Classes without a configured Source get an arena of
// MapSize bytes that Close releases.
func New(cfg Config) (*Pool, error) {
	if cfg.NumCPU == 0 {
		cfg.NumCPU = runtime.NumCPU()
		if cfg.Online != nil {
			cfg.NumCPU = len(cfg.Online)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	online := cfg.Online
	if online == nil {
		online = cpuinfo.Online(cfg.NumCPU)
	}

	p := &Pool{
		cfg:    cfg,
		online: append([]bool(nil), online...),
		cpus:   make([]cpuLock, cfg.NumCPU),
		log:    cfg.Logger,
		debug:  logAlloc,
	}
	if p.log == nil {
		p.log = logger.L
	}
	p.drains = drain.New(p.log)
	p.drains.SetFatal(isViolation)
	for i := range p.exhaustLog {
		p.exhaustLog[i].Interval = time.Second
	}

	for cls := Class(0); cls < NumClasses; cls++ {
		cc := cfg.class(cls)
		src := cc.Source
		if src == nil {
			a, err := arena.New(cc.MapSize)
			if err != nil {
				_ = p.Close()
				return nil, fmt.Errorf("alloc: %s map: %w", cls, err)
			}
			p.closers = append(p.closers, a.Close)
			src = a
		}
		c, err := newClass(p, cls, cc, src)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.classes[cls] = c
	}

	p.log.Debug("pool created",
		"cpus", cfg.NumCPU, "online", cpuinfo.Count(p.online),
		"mbuf_buckets", len(p.classes[ClassMbuf].table),
		"cluster_buckets", len(p.classes[ClassCluster].table))
	return p, nil
}

// Close releases the arenas the pool reserved itself. Objects still
// outstanding become invalid.
func (p *Pool) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	p.closers = nil
	return errors.Join(errs...)
}

// CPUs returns the number of CPU slots.
func (p *Pool) CPUs() int { return len(p.cpus) }

// Online reports whether cpu has containers.
func (p *Pool) Online(cpu CPU) bool {
	return cpu >= 0 && int(cpu) < len(p.online) && p.online[cpu]
}

// PickCPU returns online CPUs round-robin, for callers with no affinity.
func (p *Pool) PickCPU() CPU {
	n := len(p.online)
	start := int(p.nextRR.Add(1)-1) % n
	for i := 0; i < n; i++ {
		if id := (start + i) % n; p.online[id] {
			return CPU(id)
		}
	}
	return 0
}

// RegisterDrain adds a callback run when a TryWait allocation starves. The
// returned function removes it.
func (p *Pool) RegisterDrain(name string, fn func()) (unregister func()) {
	return p.drains.Register(name, fn)
}

// class validates cls and returns its manager.
func (p *Pool) class(cls Class) (*class, error) {
	if cls >= NumClasses {
		return nil, fmt.Errorf("%w: %d", ErrBadClass, cls)
	}
	return p.classes[cls], nil
}

// pcpu validates cpu and returns its container for c.
func (p *Pool) pcpu(c *class, cpu CPU) (*container, error) {
	if cpu < 0 || int(cpu) >= len(p.cpus) {
		return nil, fmt.Errorf("%w: %d", ErrBadCPU, cpu)
	}
	pc := c.pcpu[cpu]
	if pc == nil {
		return nil, fmt.Errorf("%w: %d", ErrCPUOffline, cpu)
	}
	return pc, nil
}

// isViolation reports whether a recovered panic value is one of the pool's
// protocol-violation panics. Those are never contained by the drain registry.
func isViolation(v any) bool {
	s, ok := v.(string)
	return ok && (strings.HasPrefix(s, "alloc: ") || strings.HasPrefix(s, "refcnt: "))
}

// ours panics unless o was handed out by this pool.
func (p *Pool) ours(o Object) *class {
	if o.c == nil {
		panic("alloc: free of nil object")
	}
	if o.c.pool != p {
		panic(fmt.Sprintf("alloc: %s belongs to another pool", o))
	}
	return o.c
}
