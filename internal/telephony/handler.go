package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicebridge/internal/bridge"
)

const (
	// defaultReadLimit bounds a single inbound message. Media frames are a few
	// KiB of base64; the limit only guards against runaway peers.
	defaultReadLimit = 1 << 20

	defaultWriteTimeout = 5 * time.Second
)

// Option is a functional option for [NewHandler].
type Option func(*Handler)

// WithReadLimit sets the maximum size of an inbound message in bytes.
func WithReadLimit(n int64) Option {
	return func(h *Handler) { h.readLimit = n }
}

// WithWriteTimeout bounds every outbound write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) { h.writeTimeout = d }
}

// WithOriginPatterns allows browser origins matching the given host patterns.
// Telephony providers connect without an Origin header and need none.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.originPatterns = patterns }
}

// Handler upgrades HTTP requests to media-stream WebSockets and runs one read
// loop per connection.
type Handler struct {
	bridge         *bridge.Bridge
	readLimit      int64
	writeTimeout   time.Duration
	originPatterns []string
}

// NewHandler returns a Handler feeding events into b.
func NewHandler(b *bridge.Bridge, opts ...Option) *Handler {
	h := &Handler{
		bridge:       b,
		readLimit:    defaultReadLimit,
		writeTimeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(h.readLimit)

	conn := &wsConn{ws: ws, writeTimeout: h.writeTimeout}
	call := h.bridge.Attach(conn)
	defer call.Closed()

	slog.Info("media stream opened", "conn_id", call.ID(), "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			logReadEnd(call.ID(), err)
			return
		}
		h.dispatch(ctx, call, data)
	}
}

// dispatch routes one inbound message. Malformed messages are logged and
// dropped; they never end the connection.
func (h *Handler) dispatch(ctx context.Context, call *bridge.Call, data []byte) {
	ev, err := ParseEvent(data)
	if err != nil {
		slog.Warn("ignoring malformed message", "conn_id", call.ID(), "err", err)
		return
	}

	switch ev.Event {
	case EventConnected:
		call.Connected(ctx, ev.CallSID, ev.StreamID())
	case EventStart:
		call.Start(ev.StreamID())
	case EventMedia:
		pcm, err := ev.Audio()
		if err != nil {
			slog.Warn("ignoring malformed media", "conn_id", call.ID(), "err", err)
			return
		}
		call.Media(pcm)
	case EventStop:
		call.Stop()
	case EventMark, EventDTMF, EventClear:
		slog.Debug("ignoring event", "conn_id", call.ID(), "event", ev.Event)
	default:
		slog.Debug("unknown event", "conn_id", call.ID(), "event", ev.Event)
	}
}

func logReadEnd(connID string, err error) {
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		slog.Info("media stream closed", "conn_id", connID, "status", status)
	case errors.Is(err, context.Canceled):
		slog.Info("media stream closed", "conn_id", connID)
	default:
		slog.Warn("media stream read failed", "conn_id", connID, "err", err)
	}
}

// wsConn adapts a WebSocket to [bridge.Conn]. websocket.Conn serialises
// concurrent writers itself.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

var _ bridge.Conn = (*wsConn)(nil)

// SendMedia implements bridge.Conn.
func (c *wsConn) SendMedia(ctx context.Context, streamID string, pcm []byte) error {
	msg, err := EncodeMedia(streamID, pcm)
	if err != nil {
		return fmt.Errorf("telephony: encode media: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("telephony: write media: %w", err)
	}
	return nil
}

// Close implements bridge.Conn.
func (c *wsConn) Close(reason string) error {
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}
