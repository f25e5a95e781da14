// Package muxer invokes an external muxer binary (ffmpeg's concat
// demuxer, by convention) to concatenate downloaded segments into one
// playable container (spec §4.5). It never re-encodes: stream copy
// only.
//
// Grounded on the teacher's internal/upscaler.VideoUpscaler ffmpeg
// invocation (DefaultVideoConfig's binary probing, verifyFFmpeg's
// existence check at construction, exec.CommandContext with captured
// stderr). The concat-manifest mechanism itself is new — the teacher
// never concatenates segments — and follows the same ffmpeg "concat
// demuxer + stream copy" invocation shape used across the retrieval
// pack's other HLS tooling.
package muxer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ErrorKind classifies muxer failures (MuxerError in spec §7).
type ErrorKind int

const (
	MuxerNotFound ErrorKind = iota
	MuxingFailed
)

func (k ErrorKind) String() string {
	if k == MuxerNotFound {
		return "MuxerNotFound"
	}
	return "MuxingFailed"
}

// Error is the error type raised by this package.
type Error struct {
	Kind   ErrorKind
	Stderr string
	Cause  error
}

func (e *Error) Error() string {
	if e.Kind == MuxerNotFound {
		return fmt.Sprintf("muxer: binary not found: %v", e.Cause)
	}
	return fmt.Sprintf("muxer: muxing failed: %s", e.Stderr)
}

func (e *Error) Unwrap() error { return e.Cause }

// Config holds the muxer binary location and default output shape.
type Config struct {
	BinaryPath   string // empty uses DefaultBinaryPath; a binary that cannot be found is MuxerNotFound
	OutputFormat string // defaults to "mp4"
}

// DefaultBinaryPath probes the common locations the teacher's
// DefaultVideoConfig checks for ffmpeg (internal/upscaler/video.go),
// falling back to relying on PATH.
func DefaultBinaryPath() string {
	path := "ffmpeg"
	if runtime.GOOS == "darwin" {
		if _, err := os.Stat("/opt/homebrew/bin/ffmpeg"); err == nil {
			return "/opt/homebrew/bin/ffmpeg"
		}
		if _, err := os.Stat("/usr/local/bin/ffmpeg"); err == nil {
			return "/usr/local/bin/ffmpeg"
		}
	}
	return path
}

// Adapter builds concat manifests and invokes the muxer binary.
type Adapter struct {
	cfg Config
}

// New verifies the muxer binary is present (spec §4.5: "its absence at
// job-start time is a fatal MuxerNotFound") and returns an Adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp4"
	}
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = DefaultBinaryPath()
	}
	if _, err := exec.LookPath(cfg.BinaryPath); err != nil {
		if _, statErr := os.Stat(cfg.BinaryPath); statErr != nil {
			return nil, &Error{Kind: MuxerNotFound, Cause: err}
		}
	}
	return &Adapter{cfg: cfg}, nil
}

// SegmentFile is one entry to write into the concat manifest, in
// concatenation order.
type SegmentFile struct {
	Path string
}

// WriteManifest writes an ffmpeg concat-demuxer manifest listing files
// in order, returning its path.
func WriteManifest(dir string, files []SegmentFile) (string, error) {
	var buf bytes.Buffer
	for _, f := range files {
		abs, err := filepath.Abs(f.Path)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&buf, "file '%s'\n", escapeSingleQuotes(abs))
	}
	manifestPath := filepath.Join(dir, "concat.txt")
	if err := os.WriteFile(manifestPath, buf.Bytes(), 0o600); err != nil {
		return "", err
	}
	return manifestPath, nil
}

func escapeSingleQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

// Mux concatenates the segments listed in files (already in
// concatenation order) into outputPath via the concat demuxer with
// stream copy — no re-encoding.
func (a *Adapter) Mux(ctx context.Context, dir string, files []SegmentFile, outputPath string) error {
	manifestPath, err := WriteManifest(dir, files)
	if err != nil {
		return &Error{Kind: MuxingFailed, Cause: err}
	}

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c", "copy",
		filepath.Clean(outputPath),
	}

	// #nosec G204 -- binary path is application-controlled configuration, not user input
	cmd := exec.CommandContext(ctx, a.cfg.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &Error{Kind: MuxingFailed, Stderr: stderr.String(), Cause: err}
	}
	return nil
}
