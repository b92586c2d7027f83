package conversation

import (
	"bytes"
	"encoding/json"
)

// Kind is the routing tag of a reply.
type Kind string

const (
	// KindContinue keeps the bot on the line.
	KindContinue Kind = "continue"

	// KindConnect hands the caller over to a human agent.
	KindConnect Kind = "connect"
)

// Action is the decoded reply of the conversation backend.
type Action struct {
	// Text is the reply in words. Informational only.
	Text string `json:"text"`

	// AudioURL points at synthesized speech for the reply, if any.
	AudioURL string `json:"audio_url"`

	// Kind is the routing tag. Unknown values behave like [KindContinue].
	Kind Kind `json:"action"`

	// NeedsAgent requests escalation independently of Kind.
	NeedsAgent bool `json:"needsAgent"`
}

// Escalate reports whether the call should be handed to a human agent.
func (a Action) Escalate() bool {
	return a.Kind == KindConnect || a.NeedsAgent
}

// DecodeAction interprets a reply body. Strategies are tried in order:
//
//  1. a JSON object whose "text" field is a string holding a JSON-encoded
//     action object: the nested action is used;
//  2. a JSON object: its top-level fields are the action, with a prose
//     "text" kept as the reply text;
//  3. anything else: the whole body is plain text with [KindContinue].
//
// DecodeAction never fails. A missing action tag defaults to continue.
func DecodeAction(body []byte) Action {
	if a, ok := decodeNested(body); ok {
		return a.withDefaults()
	}
	if a, ok := decodeTopLevel(body); ok {
		return a.withDefaults()
	}
	return Action{Text: string(bytes.TrimSpace(body)), Kind: KindContinue}
}

func decodeNested(body []byte) (Action, bool) {
	var outer struct {
		Text json.RawMessage `json:"text"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return Action{}, false
	}
	var inner string
	if err := json.Unmarshal(outer.Text, &inner); err != nil {
		return Action{}, false
	}
	var a Action
	if !isObject([]byte(inner)) || json.Unmarshal([]byte(inner), &a) != nil {
		return Action{}, false
	}
	return a, true
}

func decodeTopLevel(body []byte) (Action, bool) {
	if !isObject(body) {
		return Action{}, false
	}
	var fields struct {
		Text       json.RawMessage `json:"text"`
		AudioURL   string          `json:"audio_url"`
		Kind       Kind            `json:"action"`
		NeedsAgent bool            `json:"needsAgent"`
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		return Action{}, false
	}

	a := Action{
		AudioURL:   fields.AudioURL,
		Kind:       fields.Kind,
		NeedsAgent: fields.NeedsAgent,
	}
	// A non-string "text" is ignored rather than failing the whole reply.
	_ = json.Unmarshal(fields.Text, &a.Text)
	return a, true
}

func (a Action) withDefaults() Action {
	if a.Kind == "" {
		a.Kind = KindContinue
	}
	return a
}

func isObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{'
}
