// Package netclient implements the engine's HTTP client: a pooled,
// retrying request/response contract used by every fetch in the
// pipeline (playlist text, segment bodies, key bytes).
//
// Grounded on the teacher's internal/downloader/hls.Downloader
// transport (internal/downloader/hls/hls.go): HTTP/1.1 is forced by
// clearing TLSNextProto, since CDNs have been observed resetting
// multiplexed HTTP/2 streams under many concurrent segment fetches.
package netclient

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Metric is one sample reported through an optional Monitor hook:
// request duration, bytes transferred, attempt count, or a
// success/failure flag (spec §4.2).
type Metric struct {
	Name  string
	Value float64
	Unit  string
}

// Monitor receives Metric samples as requests complete.
type Monitor func(Metric)

// Config holds the fixed parameters of a Client.
type Config struct {
	MaxConns          int // sizes the per-host connection pool; 5 when <= 0, otherwise used as given
	RequestTimeout    time.Duration
	DefaultHeaders    map[string]string
	Retry             RetryStrategy
	Monitor           Monitor
}

// Client issues HTTP requests with retry, backoff, and a bounded
// connection pool. The pool is the only resource this engine shares
// across concurrent jobs (spec §5); it is internally synchronized by
// net/http and requires no additional locking here.
type Client struct {
	http    *http.Client
	headers map[string]string
	retry   RetryStrategy
	monitor Monitor
}

// New builds a Client from cfg. Cookies are disabled, per spec §4.2.
// Accept-Encoding is deliberately left unset here: net/http.Transport
// only auto-decompresses gzip responses (and strips Content-Encoding)
// when it adds that header itself — a caller-set Accept-Encoding header
// makes decompression the caller's job, and this client does not decode
// bodies, so setting it here would silently hand the parser and muxer
// compressed bytes.
func New(cfg Config) *Client {
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 5
	}
	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
		MaxIdleConns:        maxConns * 2,
		MaxIdleConnsPerHost: maxConns,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	retry := cfg.Retry
	if retry == nil {
		retry = DefaultExponentialBackoff()
	}

	headers := cfg.DefaultHeaders
	if headers == nil {
		headers = map[string]string{}
	}

	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			// Cookies disabled by default: no Jar is set.
		},
		headers: headers,
		retry:   retry,
		monitor: cfg.Monitor,
	}
}

func (c *Client) emit(name string, value float64, unit string) {
	if c.monitor != nil {
		c.monitor(Metric{Name: name, Value: value, Unit: unit})
	}
}

// Request performs a GET, retrying per the configured RetryStrategy,
// and returns the full response body. Cancellation via ctx is checked
// before each attempt (a suspension point per spec §5) and is never
// retried.
func (c *Client) Request(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	var lastErr *Error
	attempts := c.retry.MaxAttempts()
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		start := time.Now()
		body, classified := c.attempt(ctx, url, headers)
		c.emit("netclient.attempt", float64(attempt+1), "count")

		if classified == nil {
			c.emit("netclient.duration", time.Since(start).Seconds(), "seconds")
			c.emit("netclient.bytes", float64(len(body)), "bytes")
			c.emit("netclient.success", 1, "bool")
			return body, nil
		}

		lastErr = classified
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !c.retry.ShouldRetry(classified, attempt) {
			break
		}

		delay := c.retry.DelayBeforeRetry(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	c.emit("netclient.success", 0, "bool")
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, url string, headers map[string]string) ([]byte, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: InvalidResponse, URL: url, Cause: err}
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: Timeout, URL: url, Cause: err}
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, &Error{Kind: Timeout, URL: url, Cause: err}
		}
		return nil, &Error{Kind: ConnectionFailed, URL: url, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ConnectionFailed, URL: url, Cause: errors.Wrap(err, "reading response body")}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &Error{Kind: ClientError, Status: resp.StatusCode, URL: url}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: ServerError, Status: resp.StatusCode, URL: url}
	default:
		return nil, &Error{Kind: InvalidResponse, Status: resp.StatusCode, URL: url}
	}
}

// RequestStream performs a GET and streams the response body to w
// without buffering the whole body in memory, for the segment
// fetcher's streaming-I/O requirement (spec §4.3). It does not retry
// internally: the caller (segment fetcher) owns the retry loop so a
// partial write can be discarded before a retry.
func (c *Client) RequestStream(ctx context.Context, url string, headers map[string]string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &Error{Kind: InvalidResponse, URL: url, Cause: err}
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, &Error{Kind: Timeout, URL: url, Cause: err}
		}
		return 0, &Error{Kind: ConnectionFailed, URL: url, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		n, err := io.Copy(w, resp.Body)
		if err != nil {
			return n, &Error{Kind: ConnectionFailed, URL: url, Cause: err}
		}
		return n, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return 0, &Error{Kind: ClientError, Status: resp.StatusCode, URL: url}
	case resp.StatusCode >= 500:
		return 0, &Error{Kind: ServerError, Status: resp.StatusCode, URL: url}
	default:
		return 0, &Error{Kind: InvalidResponse, Status: resp.StatusCode, URL: url}
	}
}
