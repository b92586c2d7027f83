// Package session holds per-call state for the media-stream bridge.
//
// A [Session] is an explicit state machine (Idle → Buffering → Processing →
// Buffering/Idle, and Closing from anywhere) guarded by its own mutex. The
// decision to start a processing pass is taken atomically with the frame that
// reaches the threshold, so two frames can never both start a pass for the
// same call.
//
// A [Store] maps call ids to live sessions and is the only state shared
// across calls.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned when an event arrives for a session that is closing.
var ErrClosed = errors.New("session: closed")

// State is the lifecycle state of a [Session].
type State int

const (
	// StateIdle: the session exists and holds no buffered audio.
	StateIdle State = iota

	// StateBuffering: frames are accumulating towards the next pass.
	StateBuffering

	// StateProcessing: a pass is in flight. Frames still accumulate but no
	// second pass may start.
	StateProcessing

	// StateClosing is terminal.
	StateClosing
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateProcessing:
		return "processing"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Session is the state of one call.
type Session struct {
	callID    string
	openedAt  time.Time
	threshold int

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	streamID   string
	pending    [][]byte
	closeTimer *time.Timer
}

// New creates a session in [StateIdle]. A pass is triggered once threshold
// frames are pending (minimum 1). The session's context derives from parent
// and is cancelled by [Session.Close].
func New(parent context.Context, callID, streamID string, threshold int) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		callID:    callID,
		streamID:  streamID,
		openedAt:  time.Now(),
		threshold: max(threshold, 1),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
	}
}

// CallID returns the call identifier.
func (s *Session) CallID() string { return s.callID }

// OpenedAt returns when the session was created.
func (s *Session) OpenedAt() time.Time { return s.openedAt }

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// StreamID returns the identifier used to tag outbound frames.
func (s *Session) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alive reports whether the session has not been closed.
func (s *Session) Alive() bool {
	return s.State() != StateClosing
}

// Pending returns the number of buffered frames.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Start handles the stream start: pending audio is discarded and the session
// begins buffering. A pass already in flight keeps running. streamID is
// adopted only when the session has none yet.
func (s *Session) Start(streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosing:
		return ErrClosed
	case StateIdle, StateBuffering:
		s.state = StateBuffering
	case StateProcessing:
	}
	s.pending = nil
	if s.streamID == "" {
		s.streamID = streamID
	}
	return nil
}

// Append buffers one inbound frame. When the buffer reaches the threshold and
// no pass is in flight, Append moves to [StateProcessing] and hands the whole
// buffer to the caller, who must run exactly one pass and then call
// [Session.Finish].
func (s *Session) Append(frame []byte) (batch [][]byte, trigger bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosing:
		return nil, false, ErrClosed
	case StateIdle:
		s.state = StateBuffering
	}
	s.pending = append(s.pending, frame)

	if s.state == StateProcessing || len(s.pending) < s.threshold {
		return nil, false, nil
	}
	batch, s.pending = s.pending, nil
	s.state = StateProcessing
	return batch, true, nil
}

// Finish ends the pass started by [Session.Append]. A closed session stays
// closed.
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateProcessing {
		return
	}
	if len(s.pending) > 0 {
		s.state = StateBuffering
	} else {
		s.state = StateIdle
	}
}

// ScheduleClose arranges for fn to run after d unless the session closes
// first. Only the first schedule is kept; later calls return false, as do
// calls on a closed session.
func (s *Session) ScheduleClose(d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosing || s.closeTimer != nil {
		return false
	}
	s.closeTimer = time.AfterFunc(d, func() {
		if s.Alive() {
			fn()
		}
	})
	return true
}

// CloseScheduled reports whether a delayed close is pending.
func (s *Session) CloseScheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeTimer != nil && s.state != StateClosing
}

// Close moves the session to [StateClosing], drops buffered audio, cancels
// its context and any scheduled close. It reports whether this call did the
// closing.
func (s *Session) Close() bool {
	s.mu.Lock()
	if s.state == StateClosing {
		s.mu.Unlock()
		return false
	}
	s.state = StateClosing
	s.pending = nil
	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	return true
}
