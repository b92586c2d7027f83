// Package telephony speaks the media-stream protocol telephony providers use
// to fork call audio over a WebSocket, and hands decoded events to the
// [bridge].
//
// Every message is a JSON object with an "event" discriminator. Audio travels
// as base64 PCM16LE in media.payload in both directions.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
	EventClear     = "clear"
)

// ErrNoEvent is returned by [ParseEvent] for objects without an event name.
var ErrNoEvent = errors.New("telephony: message has no event")

// Event is one inbound protocol message. Only the fields the bridge uses are
// decoded.
type Event struct {
	Event     string     `json:"event"`
	CallSID   string     `json:"call_sid,omitempty"`
	StreamSID string     `json:"stream_sid,omitempty"`
	Start     *StartInfo `json:"start,omitempty"`
	Media     *Media     `json:"media,omitempty"`
}

// StartInfo is the metadata block of a start event.
type StartInfo struct {
	CallSID   string `json:"call_sid,omitempty"`
	StreamSID string `json:"stream_sid,omitempty"`
}

// Media carries one base64 audio frame.
type Media struct {
	Payload string `json:"payload"`
}

// ParseEvent decodes a single inbound message.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("telephony: parse event: %w", err)
	}
	if ev.Event == "" {
		return Event{}, ErrNoEvent
	}
	return ev, nil
}

// StreamID returns the stream identifier carried by the event, preferring the
// start block.
func (e Event) StreamID() string {
	if e.Start != nil && e.Start.StreamSID != "" {
		return e.Start.StreamSID
	}
	return e.StreamSID
}

// Audio decodes the media payload.
func (e Event) Audio() ([]byte, error) {
	if e.Media == nil {
		return nil, errors.New("telephony: media event without payload")
	}
	pcm, err := base64.StdEncoding.DecodeString(e.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("telephony: decode media payload: %w", err)
	}
	return pcm, nil
}

// outbound is the only message the bridge sends.
type outbound struct {
	Event     string `json:"event"`
	StreamSID string `json:"stream_sid"`
	Media     Media  `json:"media"`
}

// EncodeMedia builds an outbound media message for streamID.
func EncodeMedia(streamID string, pcm []byte) ([]byte, error) {
	return json.Marshal(outbound{
		Event:     EventMedia,
		StreamSID: streamID,
		Media:     Media{Payload: base64.StdEncoding.EncodeToString(pcm)},
	})
}
