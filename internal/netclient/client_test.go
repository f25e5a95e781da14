package netclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClient_ClientErrorDoesNotRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{Retry: FixedBackoff{Attempts: 3, Delay: time.Millisecond}})
	_, err := c.Request(context.Background(), srv.URL, nil)
	require.Error(t, err)

	netErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ClientError, netErr.Kind)
	require.Equal(t, http.StatusNotFound, netErr.Status)
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestClient_ServerErrorRetriesThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(Config{Retry: FixedBackoff{Attempts: 3, Delay: time.Millisecond}})
	body, err := c.Request(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	require.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestClient_CancellationIsNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Config{Retry: FixedBackoff{Attempts: 5, Delay: time.Millisecond}})
	_, err := c.Request(ctx, srv.URL, nil)
	require.Error(t, err)
}

func TestExponentialBackoff_DelayNonNegativeAndBounded(t *testing.T) {
	s := DefaultExponentialBackoff()
	for attempt := 0; attempt < 10; attempt++ {
		d := s.DelayBeforeRetry(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, s.Cap)
	}
}

func TestExponentialBackoff_S3Scenario(t *testing.T) {
	s := ExponentialBackoff{Attempts: 3, Base: 500 * time.Millisecond, Cap: 30 * time.Second, JitterFactor: 0.1}
	d0 := s.DelayBeforeRetry(0)
	require.GreaterOrEqual(t, d0, 450*time.Millisecond)
	require.LessOrEqual(t, d0, 550*time.Millisecond)

	d1 := s.DelayBeforeRetry(1)
	require.GreaterOrEqual(t, d1, 900*time.Millisecond)
	require.LessOrEqual(t, d1, 1100*time.Millisecond)
}

func TestClient_MonitorReceivesMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	var metrics []Metric
	c := New(Config{Monitor: func(m Metric) { metrics = append(metrics, m) }})
	_, err := c.Request(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.NotEmpty(t, metrics)

	var sawSuccess bool
	for _, m := range metrics {
		if m.Name == "netclient.success" && m.Value == 1 {
			sawSuccess = true
		}
	}
	require.True(t, sawSuccess)
}
