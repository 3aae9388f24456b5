// Package openaispeech provides a tts.Synthesizer backed by the OpenAI speech
// endpoint (POST /v1/audio/speech).
//
// Quality maps onto the model: QualityStandard uses tts-1 and QualityHD uses
// tts-1-hd. Audio comes back as MP3 unless overridden with WithFormat.
//
// Usage:
//
//	s, err := openaispeech.New(apiKey, openaispeech.WithVoice("nova"))
//	audio, err := s.Synthesize(ctx, tts.Request{Text: "A noun names a thing."})
package openaispeech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brightpath-ai/tutor/pkg/provider/tts"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultVoice   = "nova"
	defaultFormat  = "mp3"

	modelStandard = "tts-1"
	modelHD       = "tts-1-hd"

	// maxInputChars is the OpenAI per-request input limit.
	maxInputChars = 4096
)

// Compile-time assertion that Synthesizer implements tts.Synthesizer.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(s *Synthesizer) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithVoice sets the default voice used when a request leaves Voice empty.
func WithVoice(voice string) Option {
	return func(s *Synthesizer) {
		s.voice = voice
	}
}

// WithFormat sets the response audio format (e.g., "mp3", "opus", "aac",
// "flac"). Defaults to "mp3".
func WithFormat(format string) Option {
	return func(s *Synthesizer) {
		s.format = format
	}
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(s *Synthesizer) {
		s.httpClient = c
	}
}

// Synthesizer implements tts.Synthesizer against the OpenAI API.
type Synthesizer struct {
	apiKey     string
	baseURL    string
	voice      string
	format     string
	httpClient *http.Client
}

// New creates a new Synthesizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("openaispeech: apiKey must not be empty")
	}
	s := &Synthesizer{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		voice:      defaultVoice,
		format:     defaultFormat,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// speechRequest is the JSON body for POST /v1/audio/speech.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if req.Text == "" {
		return nil, errors.New("openaispeech: text must not be empty")
	}
	if len(req.Text) > maxInputChars {
		return nil, fmt.Errorf("openaispeech: text exceeds %d character limit", maxInputChars)
	}

	voice := req.Voice
	if voice == "" {
		voice = s.voice
	}
	model := modelStandard
	if req.Quality == tts.QualityHD {
		model = modelHD
	}

	body := speechRequest{
		Model:          model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: s.format,
		Speed:          req.Speed,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openaispeech: marshal request: %w", err)
	}

	endpoint := s.baseURL + "/audio/speech"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openaispeech: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openaispeech: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("openaispeech: server returned HTTP %d: %s", resp.StatusCode, msg)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openaispeech: read audio body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("openaispeech: empty audio response")
	}

	return &tts.Audio{Data: data, Format: s.format}, nil
}
