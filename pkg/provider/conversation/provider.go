// Package conversation defines the Provider interface for the dialogue
// backend that answers a caller's transcribed question, together with the
// decoder for the structured action the backend replies with.
//
// The backend owns dialogue history; callers only pass a stable session
// identifier with every request so the backend can key its context on it.
package conversation

import "context"

// Request is a single conversational turn.
type Request struct {
	// Question is the caller's transcribed utterance.
	Question string

	// SessionID is stable for the lifetime of a call.
	SessionID string
}

// Provider sends one turn to the conversation backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Converse posts req and returns the raw reply body. Interpretation of the
	// body is left to [DecodeAction] so the provider stays a plain round trip.
	Converse(ctx context.Context, req Request) ([]byte, error)

	// Name identifies the backend in logs and metrics (e.g. "flowise").
	Name() string
}
