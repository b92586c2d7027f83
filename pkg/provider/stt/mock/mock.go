// Package mock provides a test double for [stt.Transcriber].
//
// Set Text/Err to control the result and Delay to simulate a slow backend.
// Calls records every invocation, including a copy of the audio.
//
// Example:
//
//	tr := &mock.Transcriber{Text: "hello"}
//	text, _ := tr.Transcribe(ctx, wav)
package mock

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voicebridge/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// WAV is a copy of the audio that was submitted.
	WAV []byte
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by every Transcribe call.
	Text string

	// Err, if non-nil, is returned instead of Text.
	Err error

	// Delay is slept (respecting ctx) before returning.
	Delay time.Duration

	// OnTranscribe, if set, is invoked at the start of every call.
	OnTranscribe func()

	// Calls records every call to Transcribe.
	Calls []TranscribeCall

	inFlight    int
	maxInFlight int
}

// Transcribe records the call and returns Text, Err.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, TranscribeCall{WAV: bytes.Clone(wav)})
	t.inFlight++
	t.maxInFlight = max(t.maxInFlight, t.inFlight)
	hook, delay := t.OnTranscribe, t.Delay
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inFlight--
		t.mu.Unlock()
	}()

	if hook != nil {
		hook()
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return "", t.Err
	}
	return t.Text, nil
}

// Name returns "mock".
func (t *Transcriber) Name() string { return "mock" }

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// MaxConcurrent returns the highest number of overlapping Transcribe calls
// observed so far. Thread-safe.
func (t *Transcriber) MaxConcurrent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxInFlight
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
	t.maxInFlight = 0
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
