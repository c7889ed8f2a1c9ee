package align

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultFetchTimeout bounds one electrode download.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts.
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	// Electrode exports are a few kB; anything near this is not an electrode file.
	maxResponseBytes = 8 << 20
)

// FetchOption configures FetchElectrodes.
type FetchOption func(*electrodeFetcher)

// electrodeFetcher downloads digitizer exports served over HTTP.
type electrodeFetcher struct {
	client   *http.Client
	timeout  time.Duration
	attempts int
	backoff  time.Duration
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) FetchOption {
	return func(f *electrodeFetcher) { f.timeout = d }
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(f *electrodeFetcher) { f.attempts = n }
}

// WithBaseBackoff sets the delay before the second attempt; it doubles after that.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(f *electrodeFetcher) { f.backoff = d }
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(f *electrodeFetcher) { f.client = client }
}

// IsRemote reports whether source names an HTTP(S) location rather than a file.
func IsRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// errNotRetryable marks responses that another attempt cannot fix (4xx).
var errNotRetryable = errors.New("not retryable")

// FetchElectrodes downloads an electrode file and parses it with the given scale.
// Server and transport failures are retried with exponential backoff; client
// errors (4xx) and malformed records are returned at once.
func FetchElectrodes(ctx context.Context, url string, scale float64, opts ...FetchOption) (*LabeledPointSet, error) {
	if url == "" {
		return nil, fmt.Errorf("fetch electrodes: URL is empty")
	}

	f := &electrodeFetcher{
		timeout:  DefaultFetchTimeout,
		attempts: DefaultMaxRetries,
		backoff:  defaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.attempts < 1 {
		f.attempts = 1
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: f.timeout}
	}

	body, err := f.download(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch electrodes: %w", err)
	}
	set, err := ParseElectrodes(bytes.NewReader(body), scale)
	if err != nil {
		return nil, fmt.Errorf("fetch electrodes from %s: %w", url, err)
	}
	return set, nil
}

func (f *electrodeFetcher) download(ctx context.Context, url string) ([]byte, error) {
	delay := f.backoff
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		body, err := f.get(ctx, url)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, errNotRetryable) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt == f.attempts {
			break
		}

		log.Printf("[FETCH] attempt %d/%d failed: %v; retrying in %v", attempt, f.attempts, err, delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("all %d attempts failed: %w", f.attempts, lastErr)
}

// get performs one GET and returns the size-limited body.
func (f *electrodeFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotRetryable, err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%s: %s (%w)", url, resp.Status, errNotRetryable)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("%s: response exceeds %d bytes (%w)", url, maxResponseBytes, errNotRetryable)
	}
	return body, nil
}
