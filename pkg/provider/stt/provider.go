// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber performs one batch recognition round trip: a complete WAV
// utterance goes in, a transcript comes out. Streaming recognition is not
// needed by the bridge because audio is buffered per call before it is sent.
//
// Implementations must be safe for concurrent use; many calls share one
// Transcriber.
package stt

import "context"

// Transcriber converts a WAV-encoded utterance into text.
type Transcriber interface {
	// Transcribe sends wav to the backend and returns the recognised text.
	// An utterance without speech yields an empty string and a nil error.
	// Transport and decoding failures are returned as errors; callers treat
	// both outcomes as "nothing was said".
	Transcribe(ctx context.Context, wav []byte) (string, error)

	// Name identifies the backend in logs and metrics (e.g. "sarvam").
	Name() string
}
