package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/mbpool/internal/format"
	"github.com/joshuapare/mbpool/mbuf/alloc"
)

// runCmd executes the root command with args and fresh flag values, and
// returns everything it wrote.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	jsonOut, quiet, verbose, logDir = false, false, false, ""
	pool = poolFlags{
		mbufs:       format.DefaultNMbufs,
		clusters:    format.DefaultNMbClusters,
		mbufHigh:    format.DefaultMbufHighWatermark,
		clusterHigh: format.DefaultClusterHighWatermark,
		maxWait:     format.DefaultWaitMillis * time.Millisecond,
	}
	statsWarm = 0
	stressOpts = stressOptions{workers: 8, ops: 100000, hold: 64, seed: 1}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func smallConfig(t *testing.T) alloc.Config {
	t.Helper()
	f := poolFlags{
		cpus:        2,
		mbufs:       2048,
		clusters:    256,
		mbufHigh:    32,
		clusterHigh: 8,
		maxWait:     50 * time.Millisecond,
	}
	cfg, err := f.config()
	require.NoError(t, err)
	return cfg
}

func TestConfigCommand_JSON(t *testing.T) {
	out, err := runCmd(t, "config", "--cpus", "3", "--mbufs", "1024", "--json")
	require.NoError(t, err)

	var v configView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, 3, v.NumCPU)
	assert.Equal(t, 1024, v.Mbuf.Objects)
	assert.Equal(t, format.MSize, v.Mbuf.ObjectSize)
	assert.Equal(t, format.DefaultNMbClusters, v.Cluster.Objects)
	assert.Equal(t, "64ms", v.MaxWait)
}

func TestConfigCommand_Text(t *testing.T) {
	out, err := runCmd(t, "config", "--cpus", "2", "--mbufs", "65536")
	require.NoError(t, err)
	assert.Contains(t, out, "CPUs: 2")
	assert.Contains(t, out, "objects=65,536")
}

func TestConfigCommand_Invalid(t *testing.T) {
	_, err := runCmd(t, "config", "--max-wait", "0s")
	require.ErrorIs(t, err, alloc.ErrBadConfig)

	_, err = runCmd(t, "config", "--mbufs", "1")
	require.ErrorIs(t, err, alloc.ErrBadConfig)
}

func TestStatsCommand_Warm(t *testing.T) {
	out, err := runCmd(t, "stats", "--cpus", "2", "--mbufs", "4096", "--clusters", "512", "--warm", "100", "--json")
	require.NoError(t, err)

	var r report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	require.Len(t, r.Classes, 2)
	assert.Equal(t, "mbuf", r.Classes[0].Class)
	assert.Equal(t, int64(100), r.Classes[0].Live)
	assert.Equal(t, int64(25), r.Classes[1].Live)
	assert.Len(t, r.Classes[0].CPUs, 2)
	assert.Equal(t, r.Classes[0].Objects, r.Classes[0].Free+r.Classes[0].Live)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mbstat dev")
}

func TestBuildReport_OfflineCPUs(t *testing.T) {
	cfg := smallConfig(t)
	cfg.NumCPU = 3
	cfg.Online = []bool{true, false, true}
	p, err := alloc.New(cfg)
	require.NoError(t, err)
	defer p.Close()

	o, err := p.GetHdr(2, alloc.DontWait)
	require.NoError(t, err)
	defer p.Free(o)

	r := buildReport(p.Stats())
	mb := r.Classes[0]
	require.Len(t, mb.CPUs, 2)
	assert.Equal(t, 0, mb.CPUs[0].CPU)
	assert.Equal(t, 2, mb.CPUs[1].CPU)
	assert.Equal(t, map[string]int64{"header": 1}, mb.CPUs[1].Live)
	assert.Nil(t, mb.CPUs[0].Live)
	assert.Equal(t, -1, mb.Global.CPU)
	assert.Equal(t, uint64(1), r.Counters.ArenaPulls)

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, r))
	for _, want := range []string{"mbuf: 256 B objects", "cluster: 2,048 B objects", "global", "cpu2", "total", "arena pulls 1"} {
		assert.Contains(t, buf.String(), want)
	}
	assert.NotContains(t, buf.String(), "cpu1")
}

func TestRunStress(t *testing.T) {
	opts := stressOptions{workers: 4, ops: 2000, hold: 16, wait: true, seed: 42}
	res, err := runStress(context.Background(), smallConfig(t), opts)
	require.NoError(t, err)

	assert.Equal(t, uint64(4*2000), res.Ops)
	for _, cr := range res.Report.Classes {
		assert.Zero(t, cr.Live, "%s left outstanding", cr.Class)
		assert.Equal(t, cr.Objects, cr.Free, "%s", cr.Class)
	}
	assert.Positive(t, res.Report.Counters.ArenaPulls)
}

func TestRunStress_Duration(t *testing.T) {
	opts := stressOptions{workers: 2, ops: 0, duration: 50 * time.Millisecond, hold: 4, seed: 1}
	res, err := runStress(context.Background(), smallConfig(t), opts)
	require.NoError(t, err)
	assert.Positive(t, res.Ops)
}
