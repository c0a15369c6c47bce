package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/mbpool/mbuf/alloc"
)

var statsWarm int

func init() {
	cmd := newStatsCmd()
	cmd.Flags().IntVar(&statsWarm, "warm", 0, "Mbufs to allocate across CPUs before the snapshot (a quarter as many clusters)")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the container layout of a pool",
		Long: `The stats command creates a pool, optionally allocates objects
round-robin across the online CPUs, and prints the per-CPU and global
container counters while those objects are outstanding.

Example:
  mbstat stats
  mbstat stats --cpus 4 --warm 10000
  mbstat stats --warm 500 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd)
		},
	}
}

func runStats(cmd *cobra.Command) error {
	cfg, err := pool.config()
	if err != nil {
		return err
	}
	p, err := alloc.New(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	var held []alloc.Object
	defer func() {
		for _, o := range held {
			p.Free(o)
		}
	}()
	for i := 0; i < statsWarm; i++ {
		o, err := p.Get(p.PickCPU(), alloc.TypeData, alloc.DontWait)
		if err != nil {
			return err
		}
		held = append(held, o)
		if i%4 == 0 {
			cl, err := p.GetCluster(p.PickCPU(), alloc.DontWait)
			if err != nil {
				return err
			}
			held = append(held, cl)
		}
	}

	r := buildReport(p.Stats())
	if jsonOut {
		return printJSON(cmd, r)
	}
	if quiet {
		return nil
	}
	return writeReport(cmd.OutOrStdout(), r)
}
