// Package mock provides a test double for [fetch.Fetcher].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicebridge/pkg/provider/fetch"
)

// Fetcher is a mock implementation of fetch.Fetcher.
type Fetcher struct {
	mu sync.Mutex

	// Data is returned by every Fetch call.
	Data []byte

	// Err, if non-nil, is returned instead of Data.
	Err error

	// URLs records the URL of every Fetch call in order.
	URLs []string
}

// Fetch records the call and returns Data, Err.
func (f *Fetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.URLs = append(f.URLs, rawURL)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Data, nil
}

// Name returns "mock".
func (f *Fetcher) Name() string { return "mock" }

// CallCount returns the number of Fetch calls. Thread-safe.
func (f *Fetcher) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.URLs)
}

// Ensure Fetcher implements fetch.Fetcher at compile time.
var _ fetch.Fetcher = (*Fetcher)(nil)
