package turn

import (
	"encoding/base64"

	"github.com/brightpath-ai/tutor/internal/session"
)

// EventType discriminates streaming turn events.
type EventType string

const (
	// EventText carries an incremental fragment of the reply text.
	EventText EventType = "text"

	// EventAudio carries synthesized audio for one completed sentence.
	EventAudio EventType = "audio"

	// EventComplete closes a successful turn with its accounting. Always
	// the last event of a successful stream.
	EventComplete EventType = "complete"

	// EventError terminates a failed turn. Always the last event of a
	// failed stream.
	EventError EventType = "error"
)

// Event is one element of a streaming turn. Exactly one of the payload
// groups is populated, selected by Type.
type Event struct {
	Type EventType `json:"type"`

	// Data is the incremental reply fragment (EventText) or the
	// base64-encoded audio payload (EventAudio).
	Data string `json:"data,omitempty"`

	// Text is the source sentence of an audio payload (EventAudio).
	Text string `json:"text,omitempty"`

	// Format is the audio container/codec, e.g. "mp3" (EventAudio).
	Format string `json:"format,omitempty"`

	// Cached reports the audio was served from the speech cache (EventAudio).
	Cached bool `json:"cached,omitempty"`

	// SessionID identifies the session the turn belongs to (EventComplete).
	SessionID string `json:"sessionId,omitempty"`

	// Filtered reports the reply came from a redirect template rather than
	// the model (EventComplete).
	Filtered bool `json:"filtered,omitempty"`

	// Costs is this turn's USD spend by backend (EventComplete).
	Costs *session.Costs `json:"costs,omitempty"`

	// Tokens is this turn's token accounting (EventComplete).
	Tokens *session.TokenUsage `json:"tokens,omitempty"`

	// LatencyMs is the end-to-end turn latency (EventComplete).
	LatencyMs int64 `json:"latencyMs,omitempty"`

	// Error is the failure description (EventError).
	Error string `json:"error,omitempty"`
}

// textEvent builds an incremental reply text event.
func textEvent(text string) Event {
	return Event{Type: EventText, Data: text}
}

// audioEvent builds a sentence audio event with the payload base64-encoded
// for transport.
func audioEvent(sentence string, data []byte, format string, cached bool) Event {
	return Event{
		Type:   EventAudio,
		Text:   sentence,
		Data:   base64.StdEncoding.EncodeToString(data),
		Format: format,
		Cached: cached,
	}
}

// completeEvent builds the terminal event of a successful turn.
func completeEvent(sessionID string, filtered bool, costs session.Costs, tokens session.TokenUsage, latencyMs int64) Event {
	return Event{
		Type:      EventComplete,
		SessionID: sessionID,
		Filtered:  filtered,
		Costs:     &costs,
		Tokens:    &tokens,
		LatencyMs: latencyMs,
	}
}

// errorEvent builds the terminal event of a failed turn.
func errorEvent(msg string) Event {
	return Event{Type: EventError, Error: msg}
}
