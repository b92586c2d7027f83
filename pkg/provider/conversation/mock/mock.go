// Package mock provides a test double for [conversation.Provider].
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voicebridge/pkg/provider/conversation"
)

// Provider is a mock implementation of conversation.Provider.
type Provider struct {
	mu sync.Mutex

	// Reply is returned by every Converse call.
	Reply []byte

	// Err, if non-nil, is returned instead of Reply.
	Err error

	// Delay is slept (respecting ctx) before returning.
	Delay time.Duration

	// Calls records every request passed to Converse.
	Calls []conversation.Request
}

// Converse records the call and returns Reply, Err.
func (p *Provider) Converse(ctx context.Context, req conversation.Request) ([]byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	delay := p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Reply, nil
}

// Name returns "mock".
func (p *Provider) Name() string { return "mock" }

// CallCount returns the number of Converse calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements conversation.Provider at compile time.
var _ conversation.Provider = (*Provider)(nil)
