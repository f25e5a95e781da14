// Package engine implements the task orchestrator: the state machine
// that composes parse -> fetch -> (decrypt) -> concatenate, enforces a
// global cap on simultaneous jobs, exposes status, supports
// cancellation, and cleans up intermediate artifacts on every exit
// path (spec §4.7).
//
// Grounded on the teacher's constructor-config-then-verb shape
// (EpisodeDownloader / MovieDownloader in internal/downloader),
// generalized into a long-lived singleton per design note §9: the
// teacher builds a fresh downloader per call, but this spec requires a
// process-wide job table, so Engine is constructed once by Configure
// and reused.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alvarorichard/hlsfalcon/internal/crypto"
	"github.com/alvarorichard/hlsfalcon/internal/engine/log"
	"github.com/alvarorichard/hlsfalcon/internal/fsutil"
	"github.com/alvarorichard/hlsfalcon/internal/m3u8"
	"github.com/alvarorichard/hlsfalcon/internal/muxer"
	"github.com/alvarorichard/hlsfalcon/internal/netclient"
	"github.com/alvarorichard/hlsfalcon/internal/segment"
)

// Engine is the process-wide orchestrator singleton. The job table and
// admission counter share one mutex held only for O(1) operations
// (spec §5); the network client's connection pool is the only other
// resource shared across jobs and is internally synchronized.
type Engine struct {
	cfg Config

	client *netclient.Client

	mu      sync.Mutex
	jobs    map[string]*Job
	running int
}

var (
	singletonMu sync.Mutex
	singleton   *Engine
)

// Configure (re)initializes the process-wide engine singleton. It is
// idempotent: calling it again reconfigures services from scratch,
// matching design note §9's "global singleton, reset on reconfigure"
// guidance. It never touches in-flight jobs from a prior configuration;
// callers are expected to configure once at startup.
func Configure(cfg Config) *Engine {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	cfg = cfg.normalized()
	log.Init(cfg.Verbose)

	e := &Engine{
		cfg:  cfg,
		jobs: make(map[string]*Job),
		client: netclient.New(netclient.Config{
			MaxConns:       cfg.MaxConcurrentDownloads,
			RequestTimeout: cfg.DownloadTimeout,
			DefaultHeaders: cfg.DefaultHeaders,
		}),
	}
	singleton = e
	return e
}

// Current returns the process-wide engine, configuring it with
// defaults on first use.
func Current() *Engine {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		singletonMu.Unlock()
		Configure(Default())
		singletonMu.Lock()
	}
	return singleton
}

// Submit admits req as a new job and returns its id immediately
// (spec §6). Admission and the running-counter increment are a single
// critical section (spec §4.7/§5): if admitting would exceed
// MaxConcurrentTasks, Submit rejects synchronously and the counter is
// left unchanged (spec §8 invariant 4).
func (e *Engine) Submit(req Request) (string, error) {
	job := newJob(req)

	e.mu.Lock()
	if e.running >= e.cfg.MaxConcurrentTasks {
		e.mu.Unlock()
		return "", &Error{Kind: MaxConcurrentTasksReached}
	}
	e.running++
	e.jobs[job.ID] = job
	e.mu.Unlock()

	job.setState(Running)
	go e.run(job)

	return job.ID, nil
}

// Status returns a job's current state, or ok=false if job_id is
// unknown (spec §6: "Unknown job_id on status returns absent").
func (e *Engine) Status(jobID string) (State, bool) {
	e.mu.Lock()
	job, ok := e.jobs[jobID]
	e.mu.Unlock()
	if !ok {
		return 0, false
	}
	state, _ := job.snapshot()
	return state, true
}

// Cancel requests cancellation of job_id. It is idempotent: a second
// call observes the same already-Cancelled (or otherwise terminal)
// state and performs no additional work (spec §8). Unknown job_id
// returns JobNotFound.
func (e *Engine) Cancel(jobID string) error {
	e.mu.Lock()
	job, ok := e.jobs[jobID]
	e.mu.Unlock()
	if !ok {
		return &Error{Kind: JobNotFound, JobID: jobID}
	}
	job.requestCancel()
	return nil
}

// Parse fetches and parses a playlist without submitting a download
// job, for callers that want to inspect a playlist first (spec §6).
func (e *Engine) Parse(ref string, hint m3u8.PlaylistType) (any, error) {
	text, baseURL, err := e.fetchPlaylistText(context.Background(), ref, nil)
	if err != nil {
		return nil, err
	}
	return m3u8.Parse(text, baseURL, hint)
}

func (e *Engine) finish(job *Job) {
	e.mu.Lock()
	e.running--
	e.mu.Unlock()
}

// run executes the full per-job sequence described in spec §4.7,
// short-circuiting to cleanup on any failure or cancellation.
func (e *Engine) run(job *Job) {
	defer e.finish(job)

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ResourceTimeout)
	defer cancel()
	job.setCancelFn(cancel)

	err := e.sequence(ctx, job)

	switch {
	case job.isCanceled():
		job.setState(Cancelled)
	case err != nil:
		job.setFailed(err)
	default:
		job.setState(Succeeded)
	}

	if job.TempDir != "" {
		if rmErr := fsutil.RemoveAll(job.TempDir); rmErr != nil {
			log.Warnf("job %s: failed to remove temp dir %s: %v", job.ID, job.TempDir, rmErr)
		}
	}
}

func (e *Engine) canceledErr(job *Job) bool {
	return job.isCanceled()
}

// sequence implements spec §4.7 steps 1-9. Step 10 (remove temp
// directory) happens unconditionally in run once sequence returns.
func (e *Engine) sequence(ctx context.Context, job *Job) error {
	req := job.Request

	// (1) Ensure output directory exists.
	log.Stage(req.Verbose, "job %s: ensuring output directory %s", job.ID, req.OutputDir)
	if err := fsutil.EnsureDir(req.OutputDir); err != nil {
		return e.wrap(job, CodeFileSystem, "creating output directory", err)
	}
	if e.canceledErr(job) {
		return nil
	}

	// (2) Create temp directory.
	tempDir, err := fsutil.MkdirTemp("", job.ID)
	if err != nil {
		return e.wrap(job, CodeFileSystem, "creating temp directory", err)
	}
	job.TempDir = tempDir
	log.Stage(req.Verbose, "job %s: working in %s", job.ID, tempDir)
	if e.canceledErr(job) {
		return nil
	}

	// (3) Fetch playlist text.
	log.Stage(req.Verbose, "job %s: fetching playlist from %s", job.ID, req.Source)
	text, baseURL, err := e.fetchPlaylistText(ctx, req.Source, req.Headers)
	if err != nil {
		return e.wrap(job, CodeNetwork, "fetching playlist", err)
	}
	if e.canceledErr(job) {
		return nil
	}

	// (4) Parse with the media hint. Master playlists are out of core
	// scope (spec §9 open question): callers that receive a master
	// playlist are expected to call Parse/SelectBestVariant themselves
	// and resubmit with a media playlist URL.
	parsed, err := m3u8.Parse(text, baseURL, m3u8.Media)
	if err != nil {
		return e.wrap(job, CodeParse, "parsing playlist", err)
	}
	playlist, ok := parsed.(*m3u8.MediaPlaylist)
	if !ok {
		return e.wrap(job, CodeParse, "parsing playlist", fmt.Errorf("expected media playlist"))
	}
	log.Stage(req.Verbose, "job %s: parsed %d segments", job.ID, len(playlist.Segments))
	if e.canceledErr(job) {
		return nil
	}

	// (5) Resolve absolute segment URLs, (6) resolve keys.
	descriptors, err := e.resolveSegments(ctx, job, playlist)
	if err != nil {
		return err
	}
	if e.canceledErr(job) {
		return nil
	}

	// (7) Run segment fetcher.
	log.Stage(req.Verbose, "job %s: fetching %d segments (max concurrency %d)", job.ID, len(descriptors), e.cfg.MaxConcurrentDownloads)
	fetcher := segment.NewFetcher(e.client, e.cfg.MaxConcurrentDownloads, nil)
	if err := fetcher.Fetch(ctx, tempDir, descriptors, req.Headers, nil); err != nil {
		return e.wrap(job, CodeNetwork, "fetching segments", err)
	}
	if e.canceledErr(job) {
		return nil
	}

	// Decryption is a distinct pass between fetch and mux (design note
	// §9: "keep decryption as a distinct pass... do not fold it into
	// either, to preserve testability"), not folded into the fetcher
	// or the muxer adapter.
	log.Stage(req.Verbose, "job %s: decrypting segments", job.ID)
	files, err := decryptSegments(tempDir, descriptors)
	if err != nil {
		return e.wrap(job, CodeCrypto, "decrypting segments", err)
	}
	if e.canceledErr(job) {
		return nil
	}

	// (8) Run muxer adapter.
	adapter, err := muxer.New(e.cfg.muxerConfig())
	if err != nil {
		return e.wrap(job, CodeMuxer, "locating muxer binary", err)
	}
	outputName := req.OutputName
	if outputName == "" {
		outputName = "output"
	}
	muxedPath := filepath.Join(tempDir, outputName+".mp4")
	log.Stage(req.Verbose, "job %s: muxing into %s", job.ID, muxedPath)
	if err := adapter.Mux(ctx, tempDir, files, muxedPath); err != nil {
		return e.wrap(job, CodeMuxer, "muxing segments", err)
	}
	if e.canceledErr(job) {
		return nil
	}

	// (9) Atomically move output to destination.
	finalPath := filepath.Join(req.OutputDir, outputName+".mp4")
	log.Stage(req.Verbose, "job %s: moving output to %s", job.ID, finalPath)
	if err := fsutil.Move(muxedPath, finalPath); err != nil {
		return e.wrap(job, CodeFileSystem, "moving output to destination", err)
	}

	return nil
}

func (e *Engine) wrap(job *Job, code int, message string, cause error) error {
	return &ProcessingError{JobID: job.ID, Code: code, Message: message, Cause: cause}
}

// fetchPlaylistText reads playlist text either from a remote URL (via
// the network client) or a local file, and derives the playlist's base
// URL: its own absolute URL with the last path segment removed (spec
// §4.1 "URI resolution"). Only http and https remote schemes are
// accepted (spec §6).
func (e *Engine) fetchPlaylistText(ctx context.Context, ref string, headers map[string]string) (text, baseURL string, err error) {
	if isRemote(ref) {
		body, err := e.client.Request(ctx, ref, headers)
		if err != nil {
			return "", "", err
		}
		return string(body), baseOf(ref), nil
	}

	body, err := os.ReadFile(ref)
	if err != nil {
		return "", "", &fsutil.Error{Kind: fsutil.NotFound, Path: ref, Cause: err}
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		abs = ref
	}
	return string(body), baseOf("file://" + filepath.ToSlash(filepath.Dir(abs)) + "/"), nil
}

func isRemote(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// baseOf returns the playlist's own URL with its last path segment
// removed, per spec's Base URL definition.
func baseOf(ref string) string {
	if idx := strings.LastIndexByte(ref, '/'); idx >= 0 {
		return ref[:idx+1]
	}
	return ref
}

func resolveURI(base, uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	if u.IsAbs() {
		return uri
	}
	b, err := url.Parse(base)
	if err != nil {
		return uri
	}
	return b.ResolveReference(u).String()
}

// resolveSegments builds the ordered segment descriptors (spec §3):
// absolute URL resolution against the playlist's base URL, and key
// resolution per segment (spec §4.4). A caller-supplied key override
// takes precedence over every segment's playlist-declared key, a
// caller-supplied IV override over every playlist-declared or
// sequence-derived IV, and — per spec §8 invariant 5 — the playlist's key URI is never
// fetched when an override is present.
func (e *Engine) resolveSegments(ctx context.Context, job *Job, playlist *m3u8.MediaPlaylist) ([]segment.Descriptor, error) {
	var overrideKey, overrideIV []byte
	hasOverride := false

	keyHex := job.Request.KeyHex
	if keyHex == "" {
		keyHex = e.cfg.DefaultKeyHex
	}
	ivHex := job.Request.IVHex
	if ivHex == "" {
		ivHex = e.cfg.DefaultIVHex
	}
	if keyHex != "" {
		k, err := crypto.NormalizeHex(keyHex, 16)
		if err != nil {
			return nil, e.wrap(job, CodeCrypto, "normalizing override key", err)
		}
		overrideKey, hasOverride = k, true
	}
	if ivHex != "" {
		iv, err := crypto.NormalizeHex(ivHex, 16)
		if err != nil {
			return nil, e.wrap(job, CodeCrypto, "normalizing override IV", err)
		}
		overrideIV = iv
	}

	keyCache := make(map[string][]byte)
	descriptors := make([]segment.Descriptor, 0, len(playlist.Segments))

	for i, seg := range playlist.Segments {
		absURL := resolveURI(playlist.BaseURL, seg.URI)
		key := playlist.EffectiveKey(i)

		var ref segment.KeyRef
		switch {
		case hasOverride:
			ref = segment.KeyRef{
				Encrypted: true,
				Key:       overrideKey,
				IV:        effectiveIV(overrideIV, playlist, i),
			}
		case key.Method == m3u8.KeyMethodNone:
			ref = segment.KeyRef{}
		default:
			if key.URI == "" {
				return nil, e.wrap(job, CodeParse, "resolving segment key",
					fmt.Errorf("segment %d: EXT-X-KEY missing URI and no override key was supplied", i))
			}
			keyBytes, ok := keyCache[key.URI]
			if !ok {
				raw, err := e.client.Request(ctx, resolveURI(playlist.BaseURL, key.URI), job.Request.Headers)
				if err != nil {
					return nil, e.wrap(job, CodeNetwork, "fetching segment key", err)
				}
				keyBytes, err = crypto.NormalizeHex(rawKeyToHex(raw), 16)
				if err != nil {
					keyBytes = raw // key delivered as raw 16 bytes, not hex text
				}
				keyCache[key.URI] = keyBytes
			}
			var iv []byte
			if overrideIV != nil {
				iv = overrideIV
			} else if key.IVHex != "" {
				ivBytes, err := crypto.NormalizeHex(key.IVHex, 16)
				if err != nil {
					return nil, e.wrap(job, CodeCrypto, "parsing EXT-X-KEY IV", err)
				}
				iv = ivBytes
			} else {
				iv = crypto.IVFromSequence(uint64(playlist.MediaSequence + i))
			}
			ref = segment.KeyRef{Encrypted: true, Key: keyBytes, IV: iv}
		}

		descriptors = append(descriptors, segment.Descriptor{Index: i, URL: absURL, Key: ref})
	}

	return descriptors, nil
}

func effectiveIV(overrideIV []byte, playlist *m3u8.MediaPlaylist, index int) []byte {
	if overrideIV != nil {
		return overrideIV
	}
	return crypto.IVFromSequence(uint64(playlist.MediaSequence + index))
}

// rawKeyToHex assumes a key response that looks like ASCII hex is
// hex-encoded text; binary 16-byte key responses (the common case for
// AES-128 key delivery per RFC 8216) are detected by NormalizeHex
// failing and are used as-is by the caller.
func rawKeyToHex(raw []byte) string {
	return string(raw)
}
