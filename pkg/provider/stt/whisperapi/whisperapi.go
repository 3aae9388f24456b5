// Package whisperapi provides an stt.Transcriber backed by the OpenAI audio
// transcription endpoint (POST /v1/audio/transcriptions).
//
// The provider requests the verbose_json response format so that the audio
// duration comes back with the text; duration drives per-minute transcription
// cost accounting upstream.
//
// Usage:
//
//	t, err := whisperapi.New(apiKey, whisperapi.WithModel("whisper-1"))
//	res, err := t.Transcribe(ctx, stt.Request{Audio: clip, Filename: "q.webm"})
package whisperapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/brightpath-ai/tutor/pkg/provider/stt"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "whisper-1"
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithBaseURL overrides the default OpenAI API base URL. Useful for proxies
// and for local whisper servers exposing an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(t *Transcriber) {
		t.baseURL = strings.TrimRight(url, "/")
	}
}

// WithModel sets the transcription model (e.g., "whisper-1"). Defaults to
// "whisper-1".
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) {
		t.httpClient = c
	}
}

// Transcriber implements stt.Transcriber against the OpenAI API.
type Transcriber struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates a new Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("whisperapi: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe implements stt.Transcriber. It uploads the audio as
// multipart/form-data and parses the verbose_json response.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, errors.New("whisperapi: audio must not be empty")
	}

	filename := req.Filename
	if filename == "" {
		filename = "audio.wav"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("whisperapi: create form file: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("whisperapi: write audio data: %w", err)
	}

	fields := map[string]string{
		"model":           t.model,
		"response_format": "verbose_json",
	}
	if req.Language != "" {
		fields["language"] = req.Language
	}
	if req.Prompt != "" {
		fields["prompt"] = req.Prompt
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("whisperapi: write %s field: %w", k, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisperapi: close multipart writer: %w", err)
	}

	endpoint := t.baseURL + "/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("whisperapi: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisperapi: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisperapi: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisperapi: server returned HTTP %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var result struct {
		Text     string  `json:"text"`
		Duration float64 `json:"duration"`
		Language string  `json:"language"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whisperapi: parse JSON response: %w", err)
	}

	return &stt.Result{
		Text:     strings.TrimSpace(result.Text),
		Duration: time.Duration(result.Duration * float64(time.Second)),
		Language: result.Language,
	}, nil
}

// truncate limits error payloads quoted in messages.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
