// Package mock provides a test double for the tts.Synthesizer interface.
//
// The mock returns deterministic audio derived from the request text so tests
// can assert which sentence produced which audio payload.
package mock

import (
	"context"
	"sync"

	"github.com/brightpath-ai/tutor/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the Request passed to Synthesize.
	Req tts.Request
}

// Synthesizer is a mock implementation of tts.Synthesizer.
//
// If AudioFor is set it is invoked per request to produce the response.
// Otherwise Audio is returned for every call. Set Err to inject errors.
type Synthesizer struct {
	mu sync.Mutex

	// AudioFor, if non-nil, computes the response for each request.
	AudioFor func(req tts.Request) *tts.Audio

	// Audio is returned by Synthesize when AudioFor is nil. May be nil.
	Audio *tts.Audio

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns the configured audio or error.
func (m *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, SynthesizeCall{Ctx: ctx, Req: req})
	if m.Err != nil {
		return nil, m.Err
	}
	if m.AudioFor != nil {
		return m.AudioFor(req), nil
	}
	return m.Audio, nil
}

// CallCount returns the number of recorded Synthesize calls. Thread-safe.
func (m *Synthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (m *Synthesizer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
