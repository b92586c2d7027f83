// Package bridge connects telephony calls to the speech and conversation
// backends.
//
// A [Bridge] owns the session store and the gateways. Each transport
// connection obtains a [Call] through [Bridge.Attach] and feeds it the
// protocol events it decodes. Media frames accumulate in the call's
// [session.Session]; once enough audio is pending a processing pass runs on
// its own goroutine (see pass.go) so the read loop never blocks on a backend.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voicebridge/internal/observe"
	"github.com/MrWong99/voicebridge/internal/session"
	"github.com/MrWong99/voicebridge/pkg/audio"
	"github.com/MrWong99/voicebridge/pkg/provider/conversation"
	"github.com/MrWong99/voicebridge/pkg/provider/fetch"
	"github.com/MrWong99/voicebridge/pkg/provider/stt"
)

// Conn is the outbound half of a telephony connection.
//
// Implementations must be safe for concurrent use: passes send media from
// their own goroutines and escalation closes from a timer.
type Conn interface {
	// SendMedia writes one outbound audio frame tagged with streamID.
	SendMedia(ctx context.Context, streamID string, pcm []byte) error

	// Close terminates the connection with a human-readable reason.
	Close(reason string) error
}

// Config tunes the per-call pipeline.
type Config struct {
	// BufferFrames is the number of pending inbound frames that triggers a
	// pass. Default: 20.
	BufferFrames int

	// Format describes the PCM carried in both directions.
	Format audio.Format

	// Pacer chunks and paces outbound reply audio.
	Pacer audio.Pacer

	// EscalationDelay is the grace period between an escalation reply and
	// closing the connection. Default: 1s.
	EscalationDelay time.Duration
}

// DefaultConfig returns the pipeline settings telephony media streams use.
func DefaultConfig() Config {
	return Config{
		BufferFrames:    20,
		Format:          audio.Telephony,
		Pacer:           audio.Pacer{FrameBytes: 1280, Interval: 100 * time.Millisecond},
		EscalationDelay: time.Second,
	}
}

// Option is a functional option for [New].
type Option func(*Bridge)

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithStore uses st instead of a fresh [session.Store].
func WithStore(st *session.Store) Option {
	return func(b *Bridge) { b.store = st }
}

// Bridge routes protocol events to sessions and runs processing passes.
// It is safe for concurrent use by any number of connections.
type Bridge struct {
	cfg     Config
	store   *session.Store
	stt     stt.Transcriber
	conv    conversation.Provider
	fetch   fetch.Fetcher
	metrics *observe.Metrics

	// mu orders session registration and pass launches against Shutdown,
	// so passes.Add never races passes.Wait.
	mu      sync.Mutex
	closing bool
	calls   map[*Call]struct{}
	owners  map[*session.Session]Conn
	passes  sync.WaitGroup
}

// New creates a Bridge backed by the given gateways. Zero fields in cfg are
// filled from [DefaultConfig].
func New(transcriber stt.Transcriber, conv conversation.Provider, fetcher fetch.Fetcher, cfg Config, opts ...Option) *Bridge {
	def := DefaultConfig()
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = def.BufferFrames
	}
	if cfg.Format == (audio.Format{}) {
		cfg.Format = def.Format
	}
	if cfg.Pacer.FrameBytes <= 0 {
		cfg.Pacer = def.Pacer
	}
	if cfg.EscalationDelay <= 0 {
		cfg.EscalationDelay = def.EscalationDelay
	}

	b := &Bridge{
		cfg:   cfg,
		stt:   transcriber,
		conv:  conv,
		fetch: fetcher,
		calls:  make(map[*Call]struct{}),
		owners: make(map[*session.Session]Conn),
	}
	for _, o := range opts {
		o(b)
	}
	if b.store == nil {
		b.store = session.NewStore()
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// ActiveSessions returns the number of live calls.
func (b *Bridge) ActiveSessions() int { return b.store.Len() }

// Session returns the live session for callID.
func (b *Bridge) Session(callID string) (*session.Session, bool) {
	return b.store.Get(callID)
}

// Attach binds a new transport connection to the bridge.
func (b *Bridge) Attach(conn Conn) *Call {
	c := &Call{b: b, conn: conn, id: uuid.NewString()}
	b.mu.Lock()
	b.calls[c] = struct{}{}
	b.mu.Unlock()
	return c
}

// Shutdown closes every live session, hangs up every attached connection and
// waits for in-flight passes to return, or for ctx to expire. Sessions and
// passes are refused from then on.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.closing = true
	conns := make([]Conn, 0, len(b.calls))
	for c := range b.calls {
		conns = append(conns, c.conn)
	}
	b.mu.Unlock()

	for _, sess := range b.store.Drain() {
		b.closeSession(sess, "shutdown")
	}
	// Each close waits for the peer's close frame, so hang up in parallel.
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Go(func() {
			if err := conn.Close("server shutting down"); err != nil {
				slog.Debug("close on shutdown", "err", err)
			}
		})
	}
	wg.Wait()
	return b.Wait(ctx)
}

// Wait blocks until no pass is in flight or ctx expires.
func (b *Bridge) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.passes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeSession moves sess to closing and settles the session gauge exactly
// once per session.
func (b *Bridge) closeSession(sess *session.Session, reason string) {
	if !sess.Close() {
		return
	}
	b.mu.Lock()
	delete(b.owners, sess)
	b.mu.Unlock()
	b.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("session closed",
		"call_id", sess.CallID(),
		"reason", reason,
		"duration", time.Since(sess.OpenedAt()).Round(time.Millisecond),
	)
}

// endSession removes sess from the store and closes it.
func (b *Bridge) endSession(sess *session.Session, reason string) {
	b.store.Remove(sess)
	b.closeSession(sess, reason)
}

// Call is one transport connection's view of the bridge. Its event methods
// are called from the connection's read loop and must not be called
// concurrently with each other.
type Call struct {
	b    *Bridge
	conn Conn
	id   string
	sess *session.Session

	// dropLogged is set once a frame for a closed session has been logged.
	dropLogged bool
}

// ID returns the connection identifier used in logs.
func (c *Call) ID() string { return c.id }

// Session returns the session bound to this connection, if any.
func (c *Call) Session() *session.Session { return c.sess }

// Connected opens a session for callID. A session already bound to this
// connection is ended. A session registered under the same call id by another
// connection is closed and that connection is hung up. The session lives until
// [Call.Stop], [Call.Closed] or escalation, and derives its values (but not
// its lifetime) from ctx.
//
// An empty callID is malformed and leaves the call untouched.
func (c *Call) Connected(ctx context.Context, callID, streamID string) {
	if callID == "" {
		slog.Warn("ignoring connected without call id", "conn_id", c.id)
		return
	}
	if c.sess != nil {
		c.b.endSession(c.sess, "reconnected")
	}

	sess := session.New(context.WithoutCancel(ctx), callID, streamID, c.b.cfg.BufferFrames)

	c.b.mu.Lock()
	if c.b.closing {
		c.b.mu.Unlock()
		slog.Warn("ignoring connected during shutdown", "conn_id", c.id, "call_id", callID)
		return
	}
	old := c.b.store.Put(sess)
	c.b.owners[sess] = c.conn
	oldConn := c.b.owners[old]
	c.b.mu.Unlock()

	c.b.metrics.ActiveSessions.Add(ctx, 1)
	c.sess = sess
	c.dropLogged = false
	if old != nil {
		c.b.closeSession(old, "replaced")
		if oldConn != nil {
			go func() {
				if err := oldConn.Close("call taken over by another stream"); err != nil {
					slog.Debug("close replaced connection", "call_id", callID, "err", err)
				}
			}()
		}
	}

	slog.Info("call connected", "conn_id", c.id, "call_id", callID, "stream_id", streamID)
}

// Start resets the session's pending audio at the beginning of the stream.
func (c *Call) Start(streamID string) {
	if c.sess == nil {
		slog.Debug("start before connected", "conn_id", c.id)
		return
	}
	if err := c.sess.Start(streamID); err != nil {
		slog.Debug("start on closed session", "conn_id", c.id, "call_id", c.sess.CallID())
		return
	}
	slog.Info("stream started", "call_id", c.sess.CallID(), "stream_id", c.sess.StreamID())
}

// Media buffers one decoded inbound frame and launches a processing pass when
// the threshold is reached, unless the call is about to be escalated.
func (c *Call) Media(frame []byte) {
	if c.sess == nil {
		slog.Debug("media before connected", "conn_id", c.id)
		return
	}
	batch, trigger, err := c.sess.Append(frame)
	if err != nil {
		if !c.dropLogged {
			c.dropLogged = true
			slog.Debug("dropping media for closed session", "conn_id", c.id, "call_id", c.sess.CallID())
		}
		return
	}
	c.b.metrics.FramesReceived.Add(c.sess.Context(), 1)
	if !trigger {
		return
	}
	if c.sess.CloseScheduled() {
		// The call is being handed to an agent.
		c.sess.Finish()
		slog.Debug("skipping pass during escalation", "call_id", c.sess.CallID())
		return
	}

	c.b.mu.Lock()
	if c.b.closing {
		c.b.mu.Unlock()
		c.sess.Finish()
		return
	}
	c.b.passes.Add(1)
	c.b.mu.Unlock()
	go c.b.runPass(c.sess, c.conn, batch)
}

// Stop ends the call on request of the telephony side.
func (c *Call) Stop() {
	if c.sess == nil {
		return
	}
	c.b.endSession(c.sess, "stop")
}

// Closed ends the call after the transport has gone away.
func (c *Call) Closed() {
	c.b.mu.Lock()
	delete(c.b.calls, c)
	c.b.mu.Unlock()

	if c.sess == nil {
		return
	}
	c.b.endSession(c.sess, "disconnected")
}
