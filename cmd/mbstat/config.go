package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/mbpool/internal/format"
	"github.com/joshuapare/mbpool/mbuf/alloc"
)

// poolFlags are the geometry flags shared by every command that builds a pool.
type poolFlags struct {
	cpus        int
	mbufs       int
	clusters    int
	mbufHigh    int
	clusterHigh int
	maxWait     time.Duration
}

var pool poolFlags

func init() {
	pool.register(rootCmd)
	rootCmd.AddCommand(newConfigCmd())
}

func (f *poolFlags) register(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.IntVar(&f.cpus, "cpus", 0, "Per-CPU container slots (default: all CPUs)")
	fs.IntVar(&f.mbufs, "mbufs", format.DefaultNMbufs, "Mbufs the mbuf map can hold")
	fs.IntVar(&f.clusters, "clusters", format.DefaultNMbClusters, "Clusters the cluster map can hold")
	fs.IntVar(&f.mbufHigh, "mbuf-high", format.DefaultMbufHighWatermark, "Per-CPU free mbuf high watermark")
	fs.IntVar(&f.clusterHigh, "cluster-high", format.DefaultClusterHighWatermark, "Per-CPU free cluster high watermark")
	fs.DurationVar(&f.maxWait, "max-wait", format.DefaultWaitMillis*time.Millisecond, "Bound on one starvation wait")
}

// config turns the flags into a validated allocator configuration.
func (f *poolFlags) config() (alloc.Config, error) {
	cfg := alloc.DefaultConfig()
	if f.cpus > 0 {
		cfg.NumCPU = f.cpus
		cfg.Online = make([]bool, f.cpus)
		for i := range cfg.Online {
			cfg.Online[i] = true
		}
	}
	cfg.MaxWait = f.maxWait
	cfg.Mbuf.MapSize = f.mbufs * cfg.Mbuf.ObjectSize
	cfg.Cluster.MapSize = f.clusters * cfg.Cluster.ObjectSize
	cfg.Mbuf.HighWatermark = f.mbufHigh
	cfg.Cluster.HighWatermark = f.clusterHigh
	cfg.Mbuf.LowWatermark = min(cfg.Mbuf.LowWatermark, f.mbufHigh)
	cfg.Cluster.LowWatermark = min(cfg.Cluster.LowWatermark, f.clusterHigh)
	if err := cfg.Validate(); err != nil {
		return alloc.Config{}, err
	}
	return cfg, nil
}

type classConfigView struct {
	ObjectSize    int `json:"object_size"`
	PerBucket     int `json:"per_bucket"`
	HighWatermark int `json:"high_watermark"`
	LowWatermark  int `json:"low_watermark"`
	MapSize       int `json:"map_size"`
	Objects       int `json:"objects"`
}

type configView struct {
	NumCPU  int             `json:"num_cpu"`
	MaxWait string          `json:"max_wait"`
	Mbuf    classConfigView `json:"mbuf"`
	Cluster classConfigView `json:"cluster"`
}

func viewClassConfig(cc alloc.ClassConfig) classConfigView {
	return classConfigView{
		ObjectSize:    cc.ObjectSize,
		PerBucket:     cc.PerBucket,
		HighWatermark: cc.HighWatermark,
		LowWatermark:  cc.LowWatermark,
		MapSize:       cc.MapSize,
		Objects:       cc.MapSize / cc.ObjectSize,
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate and print the effective pool configuration",
		Long: `The config command resolves the geometry flags into an allocator
configuration, validates it and prints it without creating a pool.

Example:
  mbstat config
  mbstat config --cpus 4 --mbufs 65536 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd)
		},
	}
}

func runConfig(cmd *cobra.Command) error {
	cfg, err := pool.config()
	if err != nil {
		return err
	}
	v := configView{
		NumCPU:  cfg.NumCPU,
		MaxWait: cfg.MaxWait.String(),
		Mbuf:    viewClassConfig(cfg.Mbuf),
		Cluster: viewClassConfig(cfg.Cluster),
	}
	if jsonOut {
		return printJSON(cmd, v)
	}

	p := newPrinter()
	printInfo(cmd, "CPUs: %d\n", v.NumCPU)
	printInfo(cmd, "Max wait: %s\n", v.MaxWait)
	for _, c := range []struct {
		name string
		v    classConfigView
	}{{"mbuf", v.Mbuf}, {"cluster", v.Cluster}} {
		printInfo(cmd, "%s\n", p.Sprintf("%-8s size=%d per-bucket=%d high=%d low=%d objects=%d",
			c.name, c.v.ObjectSize, c.v.PerBucket, c.v.HighWatermark, c.v.LowWatermark, c.v.Objects))
	}
	return nil
}
