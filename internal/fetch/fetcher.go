package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Static errors for download operations.
var (
	// ErrURLRequired is returned when the source URL is not provided.
	ErrURLRequired = errors.New("fetch: source URL is required")
	// ErrInvalidIntegrity is returned when the expected digest is not a hex-encoded SHA-256 sum.
	ErrInvalidIntegrity = errors.New("fetch: integrity digest must be a hex-encoded SHA-256 sum")
	// ErrTooLarge is returned when the payload exceeds the configured byte limit.
	ErrTooLarge = errors.New("fetch: payload exceeds size limit")
	// ErrUnexpectedStatus is returned when the server responds with a non-2xx status code.
	ErrUnexpectedStatus = errors.New("fetch: request failed")
	// ErrIntegrityMismatch is returned when the downloaded bytes hash differently than expected.
	ErrIntegrityMismatch = errors.New("fetch: content hash does not match expected digest")
)

// DownloadError is returned when all download attempts for a source have
// been exhausted. Err holds the error from the last attempt.
type DownloadError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("fetch: download of %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Fetcher downloads remote animated images.
type Fetcher interface {
	// Fetch downloads the source payload, enforcing the size limit and
	// verifying the integrity digest when one is set.
	Fetch(ctx context.Context, src Source) (Result, error)
}

// HTTPFetcher is the HTTP implementation of the Fetcher interface.
type HTTPFetcher struct {
	httpClient     *http.Client
	maxBytes       int64
	maxRetries     int
	backoffUnit    time.Duration
	attemptTimeout time.Duration
	userAgent      string
	logger         *slog.Logger
}

// Option is a function that configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *HTTPFetcher) {
		f.httpClient = c
	}
}

// WithMaxBytes sets the maximum payload size in bytes.
func WithMaxBytes(n int64) Option {
	return func(f *HTTPFetcher) {
		f.maxBytes = n
	}
}

// WithMaxRetries sets the number of retries after the initial attempt.
func WithMaxRetries(n int) Option {
	return func(f *HTTPFetcher) {
		f.maxRetries = n
	}
}

// WithBackoffUnit sets the base delay between attempts. The delay before
// retry n is n times this unit.
func WithBackoffUnit(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		f.backoffUnit = d
	}
}

// WithAttemptTimeout sets the timeout applied to each individual attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		f.attemptTimeout = d
	}
}

// WithUserAgent sets the User-Agent header sent with each request.
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

// WithLogger sets the logger for download diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(f *HTTPFetcher) {
		f.logger = l
	}
}

// NewHTTPFetcher creates a new HTTP fetcher with the given options.
func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		httpClient:     &http.Client{},
		maxBytes:       25 * 1024 * 1024,
		maxRetries:     3,
		backoffUnit:    500 * time.Millisecond,
		attemptTimeout: 15 * time.Second,
		userAgent:      "gifpipe/1.0",
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch downloads the source payload. Every failure class is retried:
// timeouts, non-2xx statuses, oversize payloads, transport errors, and
// integrity mismatches. After maxRetries+1 attempts the last error is
// surfaced wrapped in a DownloadError.
func (f *HTTPFetcher) Fetch(ctx context.Context, src Source) (Result, error) {
	if src.URL == "" {
		return Result{}, ErrURLRequired
	}

	expected := strings.ToLower(src.Integrity)
	if expected != "" {
		if _, err := hex.DecodeString(expected); err != nil || len(expected) != sha256.Size*2 {
			return Result{}, fmt.Errorf("%w: %q", ErrInvalidIntegrity, src.Integrity)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := f.backoffFor(attempt)
			f.logger.Debug("retrying download",
				slog.String("url", src.URL),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return Result{}, fmt.Errorf("fetch: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		res, err := f.fetchOnce(ctx, src, expected)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}

	return Result{}, &DownloadError{URL: src.URL, Attempts: f.maxRetries + 1, Err: lastErr}
}

// backoffFor returns the delay before retry attempt n. Delays grow
// linearly: unit, 2*unit, 3*unit, and so on.
func (f *HTTPFetcher) backoffFor(attempt int) time.Duration {
	return f.backoffUnit * time.Duration(attempt)
}

// fetchOnce performs a single download attempt.
func (f *HTTPFetcher) fetchOnce(ctx context.Context, src Source, expected string) (Result, error) {
	if f.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.attemptTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/gif, image/*;q=0.8, */*;q=0.5")
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("%w with status %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	// Reject on the declared length before reading any of the body. The
	// streaming limit below still applies when the header is absent or lies.
	if resp.ContentLength > f.maxBytes {
		return Result{}, fmt.Errorf("%w: declared length %d, limit %d", ErrTooLarge, resp.ContentLength, f.maxBytes)
	}

	hasher := sha256.New()
	limited := io.LimitReader(resp.Body, f.maxBytes+1)
	buf, err := io.ReadAll(io.TeeReader(limited, hasher))
	if err != nil {
		return Result{}, fmt.Errorf("fetch: read body: %w", err)
	}
	if int64(len(buf)) > f.maxBytes {
		return Result{}, fmt.Errorf("%w: body larger than %d bytes", ErrTooLarge, f.maxBytes)
	}

	if expected != "" {
		sum := hex.EncodeToString(hasher.Sum(nil))
		if sum != expected {
			return Result{}, fmt.Errorf("%w: got %s, want %s", ErrIntegrityMismatch, sum, expected)
		}
	}

	return Result{
		Buffer:        buf,
		ContentLength: int64(len(buf)),
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
	}, nil
}
