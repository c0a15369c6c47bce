package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Logger_DisabledDiscards(t *testing.T) {
	require.NoError(t, Init(Options{Enabled: false}))
	require.False(t, L.Enabled(t.Context(), slog.LevelError))
}

func Test_Logger_Writer(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Init(Options{Enabled: true, Writer: &out, Level: slog.LevelDebug}))
	t.Cleanup(func() { _ = Init(Options{}) })

	Debug("bucket migrated", "class", "mbuf", "cpu", 3)
	require.Contains(t, out.String(), "bucket migrated")
	require.Contains(t, out.String(), "cpu=3")
}

func Test_Logger_FileAndRetention(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	stale := filepath.Join(dir, logPrefix+now.AddDate(0, 0, -retentionDays-2).Format("2006-01-02")+logSuffix)
	fresh := filepath.Join(dir, logPrefix+now.AddDate(0, 0, -1).Format("2006-01-02")+logSuffix)
	other := filepath.Join(dir, "unrelated.txt")
	for _, p := range []string{stale, fresh, other} {
		require.NoError(t, os.WriteFile(p, nil, 0o600))
	}

	require.NoError(t, Init(Options{Enabled: true, LogDir: dir}))
	t.Cleanup(func() { _ = Init(Options{}) })

	Info("arena full", "class", "cluster")

	_, err := os.Stat(stale)
	require.True(t, os.IsNotExist(err), "stale log should be removed")
	_, err = os.Stat(fresh)
	require.NoError(t, err)
	_, err = os.Stat(other)
	require.NoError(t, err)

	today := filepath.Join(dir, logPrefix+now.Format("2006-01-02")+logSuffix)
	data, err := os.ReadFile(today)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"arena full"`)
}
