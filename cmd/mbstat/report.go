package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/mbpool/mbuf/alloc"
)

// newPrinter returns a printer that groups digits in counters.
func newPrinter() *message.Printer {
	return message.NewPrinter(language.English)
}

type containerReport struct {
	CPU     int              `json:"cpu"`
	Free    int64            `json:"free"`
	Buckets int64            `json:"buckets"`
	Live    map[string]int64 `json:"live,omitempty"`
	Starved int32            `json:"starved,omitempty"`
	Waiters int32            `json:"waiters,omitempty"`
}

type classReport struct {
	Class         string            `json:"class"`
	ObjectSize    int               `json:"object_size"`
	PerBucket     int               `json:"per_bucket"`
	HighWatermark int               `json:"high_watermark"`
	Carved        int64             `json:"carved_buckets"`
	MaxBuckets    int64             `json:"max_buckets"`
	Objects       int64             `json:"objects"`
	Free          int64             `json:"free"`
	Live          int64             `json:"live"`
	MapFull       bool              `json:"map_full"`
	Global        containerReport   `json:"global"`
	CPUs          []containerReport `json:"cpus"`
}

type counterReport struct {
	Waits      uint64 `json:"waits"`
	Drops      uint64 `json:"drops"`
	Exhausted  uint64 `json:"exhausted"`
	Timeouts   uint64 `json:"timeouts"`
	Drains     uint64 `json:"drains"`
	ArenaPulls uint64 `json:"arena_pulls"`
	Migrations uint64 `json:"migrations"`
	Steals     uint64 `json:"steals"`
	Wakeups    uint64 `json:"wakeups"`

	OwnerRetries uint64 `json:"owner_retries"`
}

type report struct {
	Classes  []classReport `json:"classes"`
	Counters counterReport `json:"counters"`
}

func viewContainer(c alloc.ContainerStats) containerReport {
	r := containerReport{
		CPU:     c.CPU,
		Free:    c.Free,
		Buckets: c.Buckets,
		Starved: c.Starved,
		Waiters: c.Waiters,
	}
	for t, n := range c.Live {
		if n == 0 {
			continue
		}
		if r.Live == nil {
			r.Live = make(map[string]int64)
		}
		r.Live[alloc.SubType(t).String()] = n
	}
	return r
}

// buildReport flattens a snapshot. Offline CPU slots are left out.
func buildReport(s alloc.Stats) report {
	r := report{Counters: counterReport{
		Waits:      s.Waits,
		Drops:      s.Drops,
		Exhausted:  s.Exhausted,
		Timeouts:   s.Timeouts,
		Drains:     s.Drains,
		ArenaPulls: s.ArenaPulls,
		Migrations: s.Migrations,
		Steals:     s.Steals,
		Wakeups:    s.Wakeups,

		OwnerRetries: s.OwnerRetries,
	}}
	for _, cs := range s.Classes {
		cr := classReport{
			Class:         cs.Class.String(),
			ObjectSize:    cs.ObjectSize,
			PerBucket:     cs.PerBucket,
			HighWatermark: cs.HighWatermark,
			Carved:        cs.Carved,
			MaxBuckets:    cs.MaxBuckets,
			Objects:       cs.Objects(),
			Free:          cs.FreeTotal(),
			Live:          cs.LiveTotal(),
			MapFull:       cs.MapFull,
			Global:        viewContainer(cs.Global),
		}
		for _, c := range cs.CPUs {
			if c.Online {
				cr.CPUs = append(cr.CPUs, viewContainer(c))
			}
		}
		r.Classes = append(r.Classes, cr)
	}
	return r
}

func liveTotal(c containerReport) int64 {
	var n int64
	for _, v := range c.Live {
		n += v
	}
	return n
}

// writeReport renders r as one table per class followed by the counters.
func writeReport(w io.Writer, r report) error {
	p := newPrinter()
	for _, cr := range r.Classes {
		full := ""
		if cr.MapFull {
			full = ", map full"
		}
		p.Fprintf(w, "%s: %d B objects, %d per bucket, %d of %d buckets carved%s\n",
			cr.Class, cr.ObjectSize, cr.PerBucket, cr.Carved, cr.MaxBuckets, full)

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "container\tfree\tbuckets\tlive\tstarved\twaiters\t")
		row := func(name string, c containerReport) {
			p.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t\n", name, c.Free, c.Buckets, liveTotal(c), c.Starved, c.Waiters)
		}
		row("global", cr.Global)
		for _, c := range cr.CPUs {
			row(fmt.Sprintf("cpu%d", c.CPU), c)
		}
		p.Fprintf(tw, "total\t%d\t%d\t%d\t\t\t\n", cr.Free, cr.Carved, cr.Live)
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	c := r.Counters
	p.Fprintf(w, "arena pulls %d, migrations %d, steals %d, owner retries %d\n",
		c.ArenaPulls, c.Migrations, c.Steals, c.OwnerRetries)
	p.Fprintf(w, "waits %d, drains %d, wakeups %d\n", c.Waits, c.Drains, c.Wakeups)
	_, err := p.Fprintf(w, "drops %d (exhausted %d, timed out %d)\n", c.Drops, c.Exhausted, c.Timeouts)
	return err
}
