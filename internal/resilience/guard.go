package resilience

import (
	"context"

	"github.com/MrWong99/voicebridge/pkg/provider/conversation"
	"github.com/MrWong99/voicebridge/pkg/provider/fetch"
	"github.com/MrWong99/voicebridge/pkg/provider/stt"
)

// GuardedTranscriber implements [stt.Transcriber] behind a circuit breaker.
type GuardedTranscriber struct {
	next stt.Transcriber
	cb   *CircuitBreaker
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*GuardedTranscriber)(nil)

// GuardTranscriber wraps next with cb. An empty transcript counts as a
// success; only errors trip the breaker.
func GuardTranscriber(next stt.Transcriber, cb *CircuitBreaker) *GuardedTranscriber {
	return &GuardedTranscriber{next: next, cb: cb}
}

// Transcribe implements stt.Transcriber.
func (g *GuardedTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	var text string
	err := g.cb.Do(ctx, func(ctx context.Context) error {
		var err error
		text, err = g.next.Transcribe(ctx, wav)
		return err
	})
	return text, err
}

// Name returns the wrapped provider's name.
func (g *GuardedTranscriber) Name() string { return g.next.Name() }

// Breaker returns the breaker guarding the provider.
func (g *GuardedTranscriber) Breaker() *CircuitBreaker { return g.cb }

// GuardedConversation implements [conversation.Provider] behind a circuit
// breaker.
type GuardedConversation struct {
	next conversation.Provider
	cb   *CircuitBreaker
}

var _ conversation.Provider = (*GuardedConversation)(nil)

// GuardConversation wraps next with cb.
func GuardConversation(next conversation.Provider, cb *CircuitBreaker) *GuardedConversation {
	return &GuardedConversation{next: next, cb: cb}
}

// Converse implements conversation.Provider.
func (g *GuardedConversation) Converse(ctx context.Context, req conversation.Request) ([]byte, error) {
	var reply []byte
	err := g.cb.Do(ctx, func(ctx context.Context) error {
		var err error
		reply, err = g.next.Converse(ctx, req)
		return err
	})
	return reply, err
}

// Name returns the wrapped provider's name.
func (g *GuardedConversation) Name() string { return g.next.Name() }

// Breaker returns the breaker guarding the provider.
func (g *GuardedConversation) Breaker() *CircuitBreaker { return g.cb }

// GuardedFetcher implements [fetch.Fetcher] behind a circuit breaker.
type GuardedFetcher struct {
	next fetch.Fetcher
	cb   *CircuitBreaker
}

var _ fetch.Fetcher = (*GuardedFetcher)(nil)

// GuardFetcher wraps next with cb.
func GuardFetcher(next fetch.Fetcher, cb *CircuitBreaker) *GuardedFetcher {
	return &GuardedFetcher{next: next, cb: cb}
}

// Fetch implements fetch.Fetcher.
func (g *GuardedFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var data []byte
	err := g.cb.Do(ctx, func(ctx context.Context) error {
		var err error
		data, err = g.next.Fetch(ctx, rawURL)
		return err
	})
	return data, err
}

// Name returns the wrapped fetcher's name.
func (g *GuardedFetcher) Name() string { return g.next.Name() }

// Breaker returns the breaker guarding the fetcher.
func (g *GuardedFetcher) Breaker() *CircuitBreaker { return g.cb }
