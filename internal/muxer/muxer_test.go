package muxer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_MuxerNotFound(t *testing.T) {
	_, err := New(Config{BinaryPath: filepath.Join(t.TempDir(), "no-such-binary")})
	require.Error(t, err)
	muxErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, MuxerNotFound, muxErr.Kind)
}

func TestWriteManifest_ListsFilesInOrderAndEscapesQuotes(t *testing.T) {
	dir := t.TempDir()
	seg0 := filepath.Join(dir, "seg_000000.ts")
	seg1 := filepath.Join(dir, "it's_001.ts")
	require.NoError(t, os.WriteFile(seg0, []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(seg1, []byte("b"), 0o600))

	manifestPath, err := WriteManifest(dir, []SegmentFile{{Path: seg0}, {Path: seg1}})
	require.NoError(t, err)

	content, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "file '"))
	require.Contains(t, lines[1], `it'\''s_001.ts`)
}

func TestDefaultBinaryPath_NeverEmpty(t *testing.T) {
	require.NotEmpty(t, DefaultBinaryPath())
}
