package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alvarorichard/hlsfalcon/internal/m3u8"
)

const simpleMediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:6.0,
seg0.ts
#EXTINF:6.0,
seg1.ts
#EXT-X-ENDLIST
`

func testConfig() Config {
	cfg := Default()
	cfg.MuxerPath = "/no/such/ffmpeg-binary"
	return cfg
}

func TestSubmit_StatusUnknownJobIDReturnsNotOK(t *testing.T) {
	eng := Configure(testConfig())
	_, ok := eng.Status("does-not-exist")
	require.False(t, ok)
}

func TestCancel_UnknownJobIDReturnsJobNotFound(t *testing.T) {
	eng := Configure(testConfig())
	err := eng.Cancel("does-not-exist")
	require.Error(t, err)
	engErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, JobNotFound, engErr.Kind)
}

func TestSubmit_RejectsAtMaxConcurrentTasks(t *testing.T) {
	var release = make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release // held open until the test releases it
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig()
	cfg.MaxConcurrentTasks = 1
	eng := Configure(cfg)

	first, err := eng.Submit(Request{Source: srv.URL, OutputDir: t.TempDir()})
	require.NoError(t, err)
	require.NotEmpty(t, first)

	require.Eventually(t, func() bool {
		state, ok := eng.Status(first)
		return ok && state == Running
	}, time.Second, 5*time.Millisecond)

	_, err = eng.Submit(Request{Source: srv.URL, OutputDir: t.TempDir()})
	require.Error(t, err)
	engErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, MaxConcurrentTasksReached, engErr.Kind)

	require.NoError(t, eng.Cancel(first))
}

func TestRun_ClientErrorFailsWithoutRetrying(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	eng := Configure(testConfig())
	jobID, err := eng.Submit(Request{Source: srv.URL, OutputDir: t.TempDir()})
	require.NoError(t, err)

	state := waitTerminal(t, eng, jobID)
	require.Equal(t, Failed, state)
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestRun_MalformedPlaylistFailsWithParseCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a playlist"))
	}))
	defer srv.Close()

	eng := Configure(testConfig())
	jobID, err := eng.Submit(Request{Source: srv.URL, OutputDir: t.TempDir()})
	require.NoError(t, err)

	require.Equal(t, Failed, waitTerminal(t, eng, jobID))

	eng.mu.Lock()
	job := eng.jobs[jobID]
	eng.mu.Unlock()
	_, jobErr := job.snapshot()
	require.Error(t, jobErr)
	procErr, ok := jobErr.(*ProcessingError)
	require.True(t, ok)
	require.Equal(t, CodeParse, procErr.Code)
}

func TestRun_CancelMidDownloadTransitionsToCancelled(t *testing.T) {
	release := make(chan struct{})
	playlistServed := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/playlist.m3u8" {
			_, _ = w.Write([]byte(simpleMediaPlaylist))
			select {
			case playlistServed <- struct{}{}:
			default:
			}
			return
		}
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	eng := Configure(testConfig())
	jobID, err := eng.Submit(Request{Source: srv.URL + "/playlist.m3u8", OutputDir: t.TempDir()})
	require.NoError(t, err)

	<-playlistServed
	require.NoError(t, eng.Cancel(jobID))

	require.Equal(t, Cancelled, waitTerminal(t, eng, jobID))
}

func TestEngine_ParseReturnsTypedMediaPlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(simpleMediaPlaylist))
	}))
	defer srv.Close()

	eng := Configure(testConfig())
	result, err := eng.Parse(srv.URL, m3u8.Media)
	require.NoError(t, err)
	playlist, ok := result.(*m3u8.MediaPlaylist)
	require.True(t, ok)
	require.Len(t, playlist.Segments, 2)
}

func TestResolveSegments_OverrideKeySkipsPlaylistKeyFetch(t *testing.T) {
	var keyFetched int32
	keySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&keyFetched, 1)
		_, _ = w.Write(make([]byte, 16))
	}))
	defer keySrv.Close()

	text := "#EXTM3U\n" +
		"#EXT-X-TARGETDURATION:6\n" +
		"#EXT-X-KEY:METHOD=AES-128,URI=\"" + keySrv.URL + "\"\n" +
		"#EXTINF:6.0,\nseg0.ts\n" +
		"#EXT-X-ENDLIST\n"

	parsed, err := m3u8.Parse(text, "https://cdn.example.com/stream/", m3u8.Media)
	require.NoError(t, err)
	playlist := parsed.(*m3u8.MediaPlaylist)

	eng := Configure(testConfig())
	job := newJob(Request{KeyHex: "00112233445566778899aabbccddeeff", OutputDir: t.TempDir()})

	descriptors, err := eng.resolveSegments(context.Background(), job, playlist)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	require.True(t, descriptors[0].Key.Encrypted)
	require.EqualValues(t, 0, atomic.LoadInt32(&keyFetched))
}

func waitTerminal(t *testing.T, eng *Engine, jobID string) State {
	t.Helper()
	var last State
	require.Eventually(t, func() bool {
		state, ok := eng.Status(jobID)
		if !ok {
			return false
		}
		last = state
		return state.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return last
}
