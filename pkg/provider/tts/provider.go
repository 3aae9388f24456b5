// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A TTS synthesizer wraps a speech synthesis service (e.g., the OpenAI speech
// API or a local Piper instance). Synthesis is per-sentence: the tutoring
// pipeline splits streamed LLM output at sentence boundaries and submits each
// sentence as its own request, which keeps time-to-first-audio low and makes
// each sentence independently cacheable by its text content.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Quality selects the synthesis tier. Higher tiers cost more per character.
type Quality string

const (
	// QualityStandard is the default low-latency tier.
	QualityStandard Quality = "standard"

	// QualityHD is the high-fidelity tier at roughly double the per-character
	// price.
	QualityHD Quality = "hd"
)

// Request carries one piece of text to synthesise.
type Request struct {
	// Text is the text to speak. Must be non-empty.
	Text string

	// Voice is the backend voice identifier (e.g., "nova", "alloy"). Empty
	// selects the implementation default.
	Voice string

	// Quality selects the synthesis tier. Empty means QualityStandard.
	Quality Quality

	// Speed is the playback rate multiplier in [0.25, 4.0]. Zero means 1.0.
	Speed float64
}

// Audio is the result of a synthesis request.
type Audio struct {
	// Data is the encoded audio payload.
	Data []byte

	// Format is the container/codec of Data (e.g., "mp3", "opus", "wav").
	Format string
}

// Synthesizer is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use and must honour ctx
// cancellation.
type Synthesizer interface {
	// Synthesize converts req.Text to speech and returns the encoded audio.
	//
	// Returns an error if the backend rejects the request or ctx is
	// cancelled before the audio arrives.
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}
