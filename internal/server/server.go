// Package server exposes the tutoring pipeline over HTTP: a non-streaming
// turn endpoint, a WebSocket streaming endpoint, and the operational
// endpoints (/metrics, /healthz, /readyz).
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brightpath-ai/tutor/internal/curriculum"
	"github.com/brightpath-ai/tutor/internal/health"
	"github.com/brightpath-ai/tutor/internal/observe"
	"github.com/brightpath-ai/tutor/internal/session"
	"github.com/brightpath-ai/tutor/internal/turn"
	"github.com/brightpath-ai/tutor/internal/tutor"
	"github.com/brightpath-ai/tutor/pkg/provider/tts"
)

// maxAudioBytes caps uploaded question audio at 25 MiB, matching the hosted
// transcription endpoint's own limit.
const maxAudioBytes = 25 << 20

// Pipeline runs tutoring turns. Satisfied by [turn.Orchestrator].
type Pipeline interface {
	Turn(ctx context.Context, req turn.Request) (*turn.Response, error)
	StreamTurn(ctx context.Context, req turn.Request) <-chan turn.Event
}

// Option is a functional option for Server.
type Option func(*Server)

// WithHealth mounts the health handler's /healthz and /readyz routes.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithMetrics enables the HTTP middleware and the active-stream gauge.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// Server is the HTTP front of the tutoring pipeline.
type Server struct {
	pipeline Pipeline
	health   *health.Handler
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// New creates a Server over the given pipeline.
func New(pipeline Pipeline, opts ...Option) *Server {
	s := &Server{
		pipeline: pipeline,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the route table. Metrics middleware wraps everything when
// configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turns", s.handleTurn)
	mux.HandleFunc("GET /v1/turns/stream", s.handleStream)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		s.health.Register(mux)
	}

	var h http.Handler = mux
	if s.metrics != nil {
		h = observe.Middleware(s.metrics)(h)
	}
	return h
}

// turnPayload is the JSON body of a turn request. Audio is base64-encoded;
// multipart requests carry it as a file part instead.
type turnPayload struct {
	Message   string `json:"message,omitempty"`
	Audio     string `json:"audio,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	ChapterID string `json:"chapterId"`
	UserID    string `json:"userId,omitempty"`
	Voice     string `json:"voice,omitempty"`
	Quality   string `json:"quality,omitempty"`
}

// turnResponse is the non-streaming response body.
type turnResponse struct {
	SessionID       string             `json:"sessionId"`
	Message         string             `json:"message"`
	Audio           string             `json:"audio,omitempty"`
	AudioFormat     string             `json:"audioFormat,omitempty"`
	Transcript      string             `json:"transcript,omitempty"`
	InScope         bool               `json:"inScope"`
	ScopeConfidence float64            `json:"scopeConfidence"`
	WasFiltered     bool               `json:"wasFiltered"`
	Costs           session.Costs      `json:"costs"`
	Tokens          session.TokenUsage `json:"tokens"`
	LatencyMs       int64              `json:"latencyMs"`
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseTurnRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	resp, err := s.pipeline.Turn(r.Context(), *req)
	if err != nil {
		status := errStatus(err)
		s.logger.Error("turn failed", "chapter", req.ChapterID, "status", status, "error", err)
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	out := turnResponse{
		SessionID:       resp.SessionID,
		Message:         resp.Text,
		Transcript:      resp.Transcript,
		InScope:         resp.InScope,
		ScopeConfidence: resp.ScopeConfidence,
		WasFiltered:     resp.Filtered,
		Costs:           resp.Costs,
		Tokens:          resp.Tokens,
		LatencyMs:       resp.LatencyMs,
	}
	if len(resp.Audio) > 0 {
		out.Audio = base64.StdEncoding.EncodeToString(resp.Audio)
		out.AudioFormat = resp.AudioFormat
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStream upgrades to WebSocket, reads one turn request, and pushes the
// typed event sequence. The connection closes after the terminal event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected exit")

	ctx := r.Context()
	if s.metrics != nil {
		s.metrics.ActiveStreams.Add(ctx, 1)
		defer s.metrics.ActiveStreams.Add(ctx, -1)
	}

	var payload turnPayload
	if err := wsjson.Read(ctx, conn, &payload); err != nil {
		conn.Close(websocket.StatusInvalidFramePayloadData, "invalid turn request")
		return
	}
	req, err := payloadToRequest(payload)
	if err != nil {
		_ = wsjson.Write(ctx, conn, turn.Event{Type: turn.EventError, Error: err.Error()})
		conn.Close(websocket.StatusInvalidFramePayloadData, "invalid turn request")
		return
	}

	for ev := range s.pipeline.StreamTurn(ctx, *req) {
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			// Client gone; the orchestrator sees the cancelled context.
			s.logger.Info("stream write failed, client disconnected", "error", err)
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "turn complete")
}

// parseTurnRequest accepts JSON or multipart/form-data bodies.
func (s *Server) parseTurnRequest(r *http.Request) (*turn.Request, error) {
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil && ct != "" {
		return nil, fmt.Errorf("invalid content type: %w", err)
	}

	if mediaType == "multipart/form-data" {
		return s.parseMultipart(r)
	}

	var payload turnPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxAudioBytes*2)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}
	return payloadToRequest(payload)
}

func (s *Server) parseMultipart(r *http.Request) (*turn.Request, error) {
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}

	req := &turn.Request{
		SessionID: r.FormValue("session_id"),
		UserID:    r.FormValue("user_id"),
		ChapterID: r.FormValue("chapter_id"),
		Message:   r.FormValue("message"),
		Voice:     r.FormValue("voice"),
		Quality:   tts.Quality(r.FormValue("quality")),
	}
	if req.ChapterID == "" {
		return nil, errors.New("chapter_id is required")
	}

	file, header, err := r.FormFile("audio")
	if err == nil {
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxAudioBytes))
		if err != nil {
			return nil, fmt.Errorf("read audio part: %w", err)
		}
		req.Audio = data
		req.AudioFilename = header.Filename
	} else if !errors.Is(err, http.ErrMissingFile) {
		return nil, fmt.Errorf("audio part: %w", err)
	}

	return req, nil
}

func payloadToRequest(p turnPayload) (*turn.Request, error) {
	if p.ChapterID == "" {
		return nil, errors.New("chapterId is required")
	}
	req := &turn.Request{
		SessionID: p.SessionID,
		UserID:    p.UserID,
		ChapterID: p.ChapterID,
		Message:   p.Message,
		Voice:     p.Voice,
		Quality:   tts.Quality(p.Quality),
	}
	if p.Audio != "" {
		data, err := base64.StdEncoding.DecodeString(p.Audio)
		if err != nil {
			return nil, fmt.Errorf("decode audio: %w", err)
		}
		req.Audio = data
	}
	return req, nil
}

// errStatus maps pipeline errors to HTTP status codes without leaking
// internal details beyond the error message itself.
func errStatus(err error) int {
	switch {
	case errors.Is(err, curriculum.ErrChapterNotFound):
		return http.StatusNotFound
	case errors.Is(err, turn.ErrNoInput), errors.Is(err, turn.ErrNoTranscriber):
		return http.StatusBadRequest
	case errors.Is(err, tutor.ErrGenerationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully within the given timeout. certFile/keyFile enable TLS when
// both are non-empty.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if certFile != "" && keyFile != "" {
			errCh <- srv.ListenAndServeTLS(certFile, keyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
