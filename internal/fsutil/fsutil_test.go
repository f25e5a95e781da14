package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMkdirTemp_UniqueAndSalted(t *testing.T) {
	base := t.TempDir()
	d1, err := MkdirTemp(base, "job-1")
	require.NoError(t, err)
	d2, err := MkdirTemp(base, "job-1")
	require.NoError(t, err)
	require.NotEqual(t, d1, d2)
	require.Contains(t, filepath.Base(d1), "job-1")
}

func TestRemoveAll_ToleratesMissing(t *testing.T) {
	require.NoError(t, RemoveAll(filepath.Join(t.TempDir(), "does-not-exist")))
}

func TestMove_SameDevice(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))

	dst := filepath.Join(base, "nested", "dst.bin")
	require.NoError(t, Move(src, dst))

	require.False(t, Exists(src))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestEnsureDir_Idempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir))
	require.True(t, Exists(dir))
}
