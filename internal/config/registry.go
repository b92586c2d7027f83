package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voicebridge/pkg/provider/conversation"
	"github.com/MrWong99/voicebridge/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// gateway type. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	stt          map[string]func(ProviderEntry) (stt.Transcriber, error)
	conversation map[string]func(ProviderEntry) (conversation.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:          make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		conversation: make(map[string]func(ProviderEntry) (conversation.Provider, error)),
	}
}

// RegisterSTT registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterConversation registers a conversation gateway factory under name.
func (r *Registry) RegisterConversation(name string, factory func(ProviderEntry) (conversation.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversation[name] = factory
}

// CreateSTT instantiates a transcriber using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateConversation instantiates a conversation gateway using the factory
// registered under entry.Name.
func (r *Registry) CreateConversation(entry ProviderEntry) (conversation.Provider, error) {
	r.mu.RLock()
	factory, ok := r.conversation[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: conversation/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
