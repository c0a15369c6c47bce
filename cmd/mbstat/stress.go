package main

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/mbpool/internal/logger"
	"github.com/joshuapare/mbpool/mbuf/alloc"
)

// stressOptions controls one stress run.
type stressOptions struct {
	workers  int
	ops      int
	duration time.Duration
	hold     int
	wait     bool
	seed     uint64
}

var stressOpts stressOptions

func init() {
	cmd := newStressCmd()
	fs := cmd.Flags()
	fs.IntVar(&stressOpts.workers, "workers", 8, "Concurrent allocators")
	fs.IntVar(&stressOpts.ops, "ops", 100000, "Allocations per worker (0: run until --duration)")
	fs.DurationVar(&stressOpts.duration, "duration", 0, "Stop after this long")
	fs.IntVar(&stressOpts.hold, "hold", 64, "Objects a worker keeps outstanding")
	fs.BoolVar(&stressOpts.wait, "wait", false, "Allocate with TryWait instead of DontWait")
	fs.Uint64Var(&stressOpts.seed, "seed", 1, "Random seed")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Drive a pool with concurrent allocators",
		Long: `The stress command runs workers pinned to the pool's online CPUs. Each
allocates a mix of mbufs, clusters, mbuf+cluster pairs and chains, keeps up
to --hold of them outstanding and passes the rest to other workers to free,
so buckets migrate between CPUs and the global containers.

Example:
  mbstat stress --workers 16 --ops 500000
  mbstat stress --mbufs 4096 --clusters 512 --wait --duration 5s
  mbstat stress --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStressCmd(cmd)
		},
	}
}

type stressResult struct {
	Ops       uint64  `json:"ops"`
	Failed    uint64  `json:"failed"`
	Elapsed   string  `json:"elapsed"`
	OpsPerSec float64 `json:"ops_per_sec"`
	Report    report  `json:"report"`
}

func runStressCmd(cmd *cobra.Command) error {
	cfg, err := pool.config()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := runStress(ctx, cfg, stressOpts)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cmd, res)
	}
	if quiet {
		return nil
	}
	p := newPrinter()
	printInfo(cmd, "%s\n\n", p.Sprintf("%d allocations, %d failed, %s (%.0f/s)",
		res.Ops, res.Failed, res.Elapsed, res.OpsPerSec))
	return writeReport(cmd.OutOrStdout(), res.Report)
}

// held is one outstanding allocation: an object or a chain.
type held struct {
	o  alloc.Object
	ch alloc.Chain
}

func (h held) release(p *alloc.Pool) {
	if h.ch != nil {
		p.FreeChain(h.ch)
		return
	}
	p.Free(h.o)
}

// runStress drives a fresh pool and returns its final snapshot. Every
// allocation is freed before the snapshot is taken.
func runStress(ctx context.Context, cfg alloc.Config, opts stressOptions) (stressResult, error) {
	p, err := alloc.New(cfg)
	if err != nil {
		return stressResult{}, err
	}
	defer p.Close()

	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}
	how := alloc.DontWait
	if opts.wait {
		how = alloc.TryWait
	}

	var ops, failed atomic.Uint64
	handoff := make(chan held, opts.workers*4)

	// A starving allocator asks the workers' handoff queue first.
	unregister := p.RegisterDrain("stress-handoff", func() {
		for i := 0; i < 4; i++ {
			select {
			case h, ok := <-handoff:
				if !ok {
					return
				}
				h.release(p)
			default:
				return
			}
		}
	})
	defer unregister()

	logger.Info("stress started", "workers", opts.workers, "ops", opts.ops,
		"duration", opts.duration, "how", how.String())
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < opts.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cpu := p.PickCPU()
			rng := rand.New(rand.NewPCG(opts.seed, uint64(w)))
			var mine []held
			defer func() {
				for _, h := range mine {
					h.release(p)
				}
			}()

			for i := 0; opts.ops == 0 || i < opts.ops; i++ {
				if ctx.Err() != nil {
					return
				}
				h, err := stressAlloc(p, rng, cpu, how)
				ops.Add(1)
				if err != nil {
					failed.Add(1)
					continue
				}
				mine = append(mine, h)
				if len(mine) <= opts.hold {
					continue
				}

				// Pass a random object to whichever worker frees next.
				k := rng.IntN(len(mine))
				out := mine[k]
				mine[k] = mine[len(mine)-1]
				mine = mine[:len(mine)-1]
				select {
				case handoff <- out:
				default:
					out.release(p)
				}
				select {
				case in := <-handoff:
					in.release(p)
				default:
				}
			}
		}()
	}
	wg.Wait()
	close(handoff)
	for h := range handoff {
		h.release(p)
	}

	elapsed := time.Since(start)
	res := stressResult{
		Ops:     ops.Load(),
		Failed:  failed.Load(),
		Elapsed: elapsed.Round(time.Millisecond).String(),
		Report:  buildReport(p.Stats()),
	}
	if elapsed > 0 {
		res.OpsPerSec = float64(res.Ops) / elapsed.Seconds()
	}
	logger.Info("stress finished", "ops", res.Ops, "failed", res.Failed, "elapsed", res.Elapsed,
		"migrations", res.Report.Counters.Migrations)
	return res, nil
}

// stressAlloc performs one randomly chosen allocation.
func stressAlloc(p *alloc.Pool, rng *rand.Rand, cpu alloc.CPU, how alloc.How) (held, error) {
	switch n := rng.IntN(10); {
	case n < 6:
		o, err := p.Get(cpu, alloc.TypeData, how)
		return held{o: o}, err
	case n < 8:
		m, _, err := p.GetCl(cpu, alloc.TypeHeader, how)
		return held{o: m}, err
	case n < 9:
		ch, err := p.AllocChain(cpu, 1+rng.IntN(9000), alloc.TypeData, how)
		return held{ch: ch}, err
	default:
		o, err := p.GetCluster(cpu, how)
		return held{o: o}, err
	}
}
