package engine

import (
	"time"

	"github.com/alvarorichard/hlsfalcon/internal/muxer"
	"github.com/alvarorichard/hlsfalcon/internal/segment"
)

// Config is the engine's immutable-after-construction configuration
// (spec §6, §5 "the configuration object is immutable after
// orchestrator construction"). Grounded on the teacher's plain-struct
// DownloadConfig / VideoUpscaleConfig pattern rather than a DI
// container (design note §9).
type Config struct {
	MuxerPath string // filesystem path to the muxer binary; empty probes common locations

	MaxConcurrentDownloads int // 1-20, default 5
	MaxConcurrentTasks     int // >= 1

	DownloadTimeout time.Duration
	ResourceTimeout time.Duration

	DefaultHeaders map[string]string

	// DefaultKeyHex / DefaultIVHex, when set, override every segment's
	// playlist-declared key/IV for the whole job (spec §4.4, §8
	// invariant 5: the playlist's key URI is never fetched when an
	// override is supplied).
	DefaultKeyHex string
	DefaultIVHex  string

	Verbose bool
}

// Default returns the spec's documented defaults (§6).
func Default() Config {
	return Config{
		MaxConcurrentDownloads: segment.DefaultConcurrentDownloads,
		MaxConcurrentTasks:     1,
		DownloadTimeout:        60 * time.Second,
		ResourceTimeout:        5 * time.Minute,
		DefaultHeaders:         map[string]string{},
	}
}

func (c Config) normalized() Config {
	if c.MaxConcurrentDownloads <= 0 {
		c.MaxConcurrentDownloads = segment.DefaultConcurrentDownloads
	}
	c.MaxConcurrentDownloads = segment.ClampConcurrency(c.MaxConcurrentDownloads)
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 1
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 60 * time.Second
	}
	if c.ResourceTimeout <= 0 {
		c.ResourceTimeout = 5 * time.Minute
	}
	if c.DefaultHeaders == nil {
		c.DefaultHeaders = map[string]string{}
	}
	return c
}

func (c Config) muxerConfig() muxer.Config {
	return muxer.Config{BinaryPath: c.MuxerPath}
}
