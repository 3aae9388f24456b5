// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A transcriber wraps a batch transcription service (e.g., the OpenAI Whisper
// API or a local whisper.cpp server) and converts a recorded audio clip into
// text. The tutoring pipeline uses it to turn a learner's voice question into
// the text that drives the rest of the turn.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Request carries one audio clip to transcribe.
type Request struct {
	// Audio is the encoded audio payload (e.g., a WAV, MP3, WebM, or M4A
	// file). The bytes are uploaded as-is; implementations do not transcode.
	Audio []byte

	// Filename hints the container format to the backend via its extension
	// (e.g., "question.webm"). Defaults to "audio.wav" when empty.
	Filename string

	// Language is an optional ISO-639-1 hint (e.g., "en"). Empty lets the
	// backend auto-detect.
	Language string

	// Prompt is optional context text that biases recognition toward
	// expected vocabulary, such as chapter keywords.
	Prompt string
}

// Result is the outcome of a transcription.
type Result struct {
	// Text is the transcribed text, whitespace-trimmed.
	Text string

	// Duration is the length of the audio clip as reported by the backend.
	// Zero when the backend does not report duration.
	Duration time.Duration

	// Language is the detected (or confirmed) language, when reported.
	Language string
}

// Transcriber is the abstraction over any batch STT backend.
//
// Implementations must be safe for concurrent use and must honour ctx
// cancellation.
type Transcriber interface {
	// Transcribe uploads req.Audio and returns the recognised text.
	//
	// Returns an error if the upload fails, the backend rejects the audio,
	// or ctx is cancelled.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
