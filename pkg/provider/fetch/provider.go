// Package fetch defines the Fetcher interface used to download synthesized
// reply audio referenced by the conversation backend.
package fetch

import "context"

// Fetcher retrieves the raw bytes behind a URL.
//
// Implementations must be safe for concurrent use.
type Fetcher interface {
	// Fetch downloads rawURL and returns its body unchanged.
	Fetch(ctx context.Context, rawURL string) ([]byte, error)

	// Name identifies the implementation in logs and metrics.
	Name() string
}
