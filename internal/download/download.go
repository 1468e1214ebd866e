// Package download implements the bottle download pool (C5): bounded
// parallel I/O over a shared HTTP client, deterministic on-disk caching
// keyed by expected SHA-256, and linear-backoff retry for transient
// network errors.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tsukumogami/cellar/internal/cellarerr"
	"github.com/tsukumogami/cellar/internal/httputil"
	"github.com/tsukumogami/cellar/internal/log"
)

// concurrency bounds simultaneous in-flight downloads — parallel
// I/O-bound tasks, bounded by a semaphore so a large install plan
// doesn't open hundreds of sockets at once.
const concurrency = 8

// maxAttempts is the total number of tries per request (1 initial +
// retries) before giving up with cellarerr.DownloadFailed.
const maxAttempts = 3

// bottleRegistryHost is the only host that receives the anonymous
// bearer token; injecting it elsewhere would leak it to third parties.
const bottleRegistryHost = "ghcr.io"

// bottleRegistryToken is Homebrew's well-known public anonymous-pull
// token for GHCR, not a secret: every client uses the same string.
const bottleRegistryToken = "QQ=="

// Request describes one file to fetch.
type Request struct {
	URL         string
	SHA256      string
	DisplayName string
}

// Result pairs a Request with the local path it was cached at.
type Result struct {
	Request   Request
	LocalPath string
}

// ProgressFunc receives download progress for one request as bytes
// arrive. total is 0 when the server didn't send Content-Length.
type ProgressFunc func(req Request, bytesRead, total int64)

// Pool fetches bottles into a content-addressed download cache.
type Pool struct {
	client     *http.Client
	cacheDir   string
	logger     log.Logger
	onProgress ProgressFunc
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger overrides the pool's logger.
func WithLogger(l log.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithProgress sets the callback invoked as bytes are read for each
// request. The CLI wires this to a progress bar; the core contract
// doesn't mandate a particular bar style.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Pool) { p.onProgress = fn }
}

// WithHTTPClient overrides the shared HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pool) { p.client = c }
}

// clientOptions returns the shared-client options for bottle downloads.
// ResponseHeaderTimeout bounds how long the initial response may take
// (≈10s); the overall Timeout is set generously high
// rather than left at httputil's 30s default, since body streaming for
// a large bottle on a slow link must not be killed mid-transfer.
func clientOptions() httputil.ClientOptions {
	opts := httputil.DefaultOptions()
	opts.Timeout = 24 * time.Hour
	opts.ResponseHeaderTimeout = 10 * time.Second
	return opts
}

// NewPool creates a Pool that caches downloads under cacheDir.
func NewPool(cacheDir string, opts ...Option) *Pool {
	p := &Pool{
		cacheDir: cacheDir,
		client:   httputil.NewSecureClient(clientOptions()),
		logger:   log.Component(log.Default(), "download"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FetchAll fetches every request in requests, in parallel bounded by
// concurrency, and returns one Result per request in the same order
// requests were given. A single request's terminal failure fails the
// whole call.
func (p *Pool) FetchAll(ctx context.Context, requests []Request) ([]Result, error) {
	results := make([]Result, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			path, err := p.fetchWithRetry(gctx, req)
			if err != nil {
				return err
			}
			results[i] = Result{Request: req, LocalPath: path}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fetchWithRetry tries fetchOne up to maxAttempts times for transient
// network errors, waiting a linearly increasing delay between
// attempts. HTTP 4xx responses are not retried.
func (p *Pool) fetchWithRetry(ctx context.Context, req Request) (string, error) {
	// Burst covers every WaitN below; draining it up front makes the n-th
	// wait take about n seconds.
	limiter := rate.NewLimiter(rate.Limit(1), maxAttempts)
	limiter.AllowN(time.Now(), maxAttempts)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		path, err := p.fetchOne(ctx, req)
		if err == nil {
			return path, nil
		}
		lastErr = err

		if he, ok := err.(*httpStatusError); ok && he.StatusCode >= 400 && he.StatusCode < 500 {
			break
		}

		if attempt < maxAttempts {
			p.logger.Warn("download attempt failed, retrying", "name", req.DisplayName, "attempt", attempt, "error", err)
			if waitErr := limiter.WaitN(ctx, attempt); waitErr != nil {
				return "", cellarerr.DownloadFailed(req.DisplayName, waitErr)
			}
		}
	}

	return "", cellarerr.DownloadFailed(req.DisplayName, lastErr)
}

// fetchOne returns the cached local path for req if a file with the
// expected checksum is already present, otherwise downloads it fresh.
func (p *Pool) fetchOne(ctx context.Context, req Request) (string, error) {
	localPath := p.cachePath(req.SHA256)

	if matchesChecksum(localPath, req.SHA256) {
		return localPath, nil
	}
	// A present-but-mismatched file is stale; remove it before
	// re-fetching so a half-written file never passes the check above.
	_ = os.Remove(localPath)

	if err := os.MkdirAll(p.cacheDir, 0755); err != nil {
		return "", cellarerr.PermissionDenied(p.cacheDir, err)
	}

	if err := p.download(ctx, req, localPath); err != nil {
		return "", err
	}

	if !matchesChecksum(localPath, req.SHA256) {
		got := fileChecksum(localPath)
		_ = os.Remove(localPath)
		return "", cellarerr.ChecksumMismatch(req.DisplayName, req.URL, req.SHA256, got)
	}

	return localPath, nil
}

// httpStatusError reports a non-2xx HTTP response so the retry loop can
// distinguish it from a transient network error.
type httpStatusError struct {
	StatusCode int
	URL        string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d fetching %s", e.StatusCode, e.URL)
}

// download streams req.URL to a temp file beside destPath, renaming it
// into place on success, so a mid-download interruption never leaves a
// file at destPath that matchesChecksum could mistake for a good cache
// entry.
func (p *Pool) download(ctx context.Context, req Request, destPath string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return err
	}
	if isBottleRegistryHost(httpReq.URL.Hostname()) {
		httpReq.Header.Set("Authorization", "Bearer "+bottleRegistryToken)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{StatusCode: resp.StatusCode, URL: req.URL}
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return cellarerr.PermissionDenied(filepath.Dir(destPath), err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var written int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				tmp.Close()
				return werr
			}
			written += int64(n)
			if p.onProgress != nil {
				p.onProgress(req, written, resp.ContentLength)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			tmp.Close()
			return readErr
		}
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, destPath)
}

// cachePath returns the deterministic local filename for a SHA-256, so
// the cache entry for a given expected checksum is always the same path.
func (p *Pool) cachePath(sha256Hex string) string {
	return filepath.Join(p.cacheDir, sha256Hex+".bottle")
}

func matchesChecksum(path, expected string) bool {
	if expected == "" {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return fileChecksum(path) == expected
}

func fileChecksum(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

func isBottleRegistryHost(host string) bool {
	return host == bottleRegistryHost
}
