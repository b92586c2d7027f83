// Package httpfetch implements [fetch.Fetcher] with a plain HTTP GET.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/voicebridge/pkg/provider/fetch"
)

const (
	// DefaultMaxBytes caps a download at 10 MiB, roughly five minutes of
	// 8 kHz 16-bit mono audio.
	DefaultMaxBytes = 10 << 20

	defaultTimeout = 20 * time.Second
)

// ErrTooLarge is returned when a body exceeds the configured size limit.
var ErrTooLarge = errors.New("httpfetch: response body too large")

// Compile-time assertion that Fetcher implements fetch.Fetcher.
var _ fetch.Fetcher = (*Fetcher)(nil)

// Option is a functional option for configuring a Fetcher.
type Option func(*Fetcher)

// WithMaxBytes sets the maximum accepted body size. Values <= 0 are ignored.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

// Fetcher downloads http and https URLs.
type Fetcher struct {
	maxBytes   int64
	timeout    time.Duration
	httpClient *http.Client
}

// New returns a Fetcher with the given options applied.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{maxBytes: DefaultMaxBytes, timeout: defaultTimeout}
	for _, o := range opts {
		o(f)
	}
	if f.httpClient == nil {
		f.httpClient = &http.Client{
			Timeout:   f.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return f
}

// Name returns "http".
func (f *Fetcher) Name() string { return "http" }

// Fetch implements fetch.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("httpfetch: unsupported scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("httpfetch: server returned HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("httpfetch: read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, f.maxBytes)
	}
	return data, nil
}
