// Package turn drives one tutoring exchange end to end: transcription,
// scope classification, cost-gated generation, incremental speech synthesis,
// and session bookkeeping.
//
// A turn moves through fixed stages. Transcription and generation failures
// terminate the turn with an error event, but any cost already incurred is
// still flushed to the session. A client disconnect mid-stream likewise
// flushes partial accounting on a background context so spend is never lost.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brightpath-ai/tutor/internal/curriculum"
	"github.com/brightpath-ai/tutor/internal/observe"
	"github.com/brightpath-ai/tutor/internal/scope"
	"github.com/brightpath-ai/tutor/internal/session"
	"github.com/brightpath-ai/tutor/internal/speech"
	"github.com/brightpath-ai/tutor/internal/transcript"
	"github.com/brightpath-ai/tutor/internal/tutor"
	"github.com/brightpath-ai/tutor/pkg/provider/llm"
	"github.com/brightpath-ai/tutor/pkg/provider/stt"
	"github.com/brightpath-ai/tutor/pkg/provider/tts"
)

// whisperUSDPerMinute is the transcription price per audio minute.
const whisperUSDPerMinute = 0.006

// TranscriptionCost returns the USD cost of transcribing audio of the given
// duration.
func TranscriptionCost(d time.Duration) float64 {
	return d.Minutes() * whisperUSDPerMinute
}

const (
	defaultHistoryLimit = 20
	defaultFlushTimeout = 5 * time.Second
)

// ErrNoInput is returned when a turn carries neither audio nor text.
var ErrNoInput = errors.New("turn: no audio or message provided")

// ErrNoTranscriber is returned when a turn carries audio but the
// orchestrator has no speech-to-text provider configured.
var ErrNoTranscriber = errors.New("turn: audio input but no transcriber configured")

// ChapterSource loads chapters by id. Satisfied by [curriculum.Cache].
type ChapterSource interface {
	Get(ctx context.Context, chapterID string) (*curriculum.Chapter, error)
}

// Request describes one learner turn.
type Request struct {
	// SessionID continues an existing session; blank starts a new one.
	SessionID string

	// UserID identifies the learner; blank disables progress tracking.
	UserID string

	// ChapterID selects the active chapter.
	ChapterID string

	// Message is the question as text. Ignored when Audio is set.
	Message string

	// Audio is an encoded voice recording of the question.
	Audio []byte

	// AudioFilename hints the audio container to the transcriber.
	AudioFilename string

	// Voice selects the synthesis voice; blank uses the service default.
	Voice string

	// Quality selects the synthesis tier; blank means standard.
	Quality tts.Quality
}

// Response is the outcome of a non-streaming turn.
type Response struct {
	SessionID string

	// Transcript is the recognised question text when the input was audio.
	Transcript string

	// Text is the full reply.
	Text string

	// Audio is the synthesized reply audio; nil when synthesis failed or
	// was skipped. A missing audio payload is not an error.
	Audio       []byte
	AudioFormat string
	AudioCached bool

	InScope         bool
	ScopeConfidence float64
	ScopeReason     string
	Filtered        bool

	// Costs is this turn's spend, not the session total.
	Costs     session.Costs
	Tokens    session.TokenUsage
	LatencyMs int64
}

// Option is a functional option for Orchestrator.
type Option func(*Orchestrator)

// WithTranscriber enables audio input.
func WithTranscriber(t stt.Transcriber) Option {
	return func(o *Orchestrator) {
		o.transcriber = t
	}
}

// WithCorrector enables chapter-vocabulary correction of transcripts before
// scope classification.
func WithCorrector(c *transcript.Corrector) Option {
	return func(o *Orchestrator) {
		o.corrector = c
	}
}

// WithProgress enables per-learner chapter progress tracking.
func WithProgress(p session.ProgressStore) Option {
	return func(o *Orchestrator) {
		o.progress = p
	}
}

// WithMetrics installs metric instruments. No metrics are recorded without it.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithHistoryLimit caps the number of prior messages handed to the model.
// Defaults to 20.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) {
		o.historyLimit = n
	}
}

// WithFlushTimeout bounds the background persistence window after a
// disconnect or failure. Defaults to 5s.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.flushTimeout = d
	}
}

// Orchestrator coordinates the turn pipeline over its collaborators.
//
// Safe for concurrent use; every turn carries its own state.
type Orchestrator struct {
	chapters  ChapterSource
	generator *tutor.Generator
	speech    *speech.Service
	sessions  session.Store

	transcriber stt.Transcriber
	corrector   *transcript.Corrector
	progress    session.ProgressStore
	metrics     *observe.Metrics
	logger      *slog.Logger

	historyLimit int
	flushTimeout time.Duration
}

// New creates an Orchestrator over the required collaborators.
func New(chapters ChapterSource, generator *tutor.Generator, speechSvc *speech.Service, sessions session.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		chapters:     chapters,
		generator:    generator,
		speech:       speechSvc,
		sessions:     sessions,
		logger:       slog.Default(),
		historyLimit: defaultHistoryLimit,
		flushTimeout: defaultFlushTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// turnState is the accounting of a single in-flight turn.
type turnState struct {
	start   time.Time
	sess    *session.Session
	chapter *curriculum.Chapter

	question      string
	transcript    string
	audioDuration time.Duration

	decision scope.Decision
	filtered bool

	costs  session.Costs
	tokens session.TokenUsage
	stats  session.SpeechStats

	answer strings.Builder
}

// prepare runs the stages shared by both turn modes: chapter load, session
// resolution, transcription, and scope classification.
func (o *Orchestrator) prepare(ctx context.Context, req Request) (*turnState, error) {
	st := &turnState{start: time.Now()}

	if len(req.Audio) == 0 && strings.TrimSpace(req.Message) == "" {
		return nil, ErrNoInput
	}

	chapter, err := o.chapters.Get(ctx, req.ChapterID)
	if err != nil {
		return nil, fmt.Errorf("load chapter %q: %w", req.ChapterID, err)
	}
	st.chapter = chapter

	sess, err := o.sessions.GetOrCreate(ctx, req.SessionID, req.UserID, req.ChapterID, chapter.Subject)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	st.sess = sess

	st.question = req.Message
	if len(req.Audio) > 0 {
		if o.transcriber == nil {
			return nil, ErrNoTranscriber
		}
		sttStart := time.Now()
		res, err := o.transcriber.Transcribe(ctx, stt.Request{
			Audio:    req.Audio,
			Filename: req.AudioFilename,
		})
		if o.metrics != nil {
			o.metrics.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
		}
		if err != nil {
			if o.metrics != nil {
				o.metrics.RecordProviderError(ctx, "whisper", "stt")
			}
			return nil, fmt.Errorf("transcribe audio: %w", err)
		}
		st.transcript = res.Text
		st.audioDuration = res.Duration
		st.costs.Add(session.Costs{Transcription: TranscriptionCost(res.Duration)})

		if o.corrector != nil {
			corrected, corrections := o.corrector.Correct(st.transcript, chapterVocabulary(chapter))
			for _, c := range corrections {
				o.logger.Debug("transcript term corrected",
					"original", c.Original, "corrected", c.Corrected, "confidence", c.Confidence)
			}
			st.transcript = corrected
		}
		st.question = st.transcript
	}
	if strings.TrimSpace(st.question) == "" {
		return nil, ErrNoInput
	}

	st.decision = scope.Classify(st.question, chapter)
	st.filtered = !st.decision.InScope || st.decision.Confidence < scope.Threshold
	return st, nil
}

// generationRequest assembles the generator request including conversation
// history. History failures degrade to an empty history.
func (o *Orchestrator) generationRequest(ctx context.Context, st *turnState) tutor.Request {
	var history []llm.Message
	msgs, err := o.sessions.History(ctx, st.sess.ID, o.historyLimit)
	if err != nil {
		o.logger.Warn("history load failed, generating without context",
			"session", st.sess.ID, "error", err)
	} else {
		history = make([]llm.Message, 0, len(msgs))
		for _, m := range msgs {
			history = append(history, llm.Message{Role: m.Role, Content: m.Content})
		}
	}

	return tutor.Request{
		Question: st.question,
		Chapter:  st.chapter,
		History:  history,
		Scope:    st.decision,
		// The streak includes the current question.
		OffTopicCount: st.sess.OffTopicAttempts + 1,
	}
}

// StreamTurn runs the turn pipeline and emits events on the returned channel.
// The channel closes after a terminal complete or error event. Audio events
// follow sentence order; the complete event is always last.
//
// When ctx is cancelled mid-turn the stream stops without a terminal event
// and partial accounting is flushed on a background context.
func (o *Orchestrator) StreamTurn(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		o.runStream(ctx, req, events)
	}()
	return events
}

// send delivers ev unless ctx is cancelled first.
func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) runStream(ctx context.Context, req Request, events chan<- Event) {
	st, err := o.prepare(ctx, req)
	if err != nil {
		o.logger.Error("turn setup failed", "error", err)
		o.recordTurn(ctx, st, "error")
		send(ctx, events, errorEvent(err.Error()))
		return
	}

	llmStart := time.Now()
	deltas, err := o.generator.GenerateStream(ctx, o.generationRequest(ctx, st))
	if err != nil {
		o.failStream(ctx, st, req, events, err)
		return
	}

	// Completed sentences flow from the delta loop into incremental
	// synthesis; audio events are emitted in sentence order.
	fragments := make(chan string, 32)
	audioCh := o.speech.SynthesizeStream(ctx, fragments, req.Voice, req.Quality)

	// Synthesis accounting stays goroutine-local until the audio stream is
	// drained; the final delta writes st.costs concurrently.
	var (
		audioWG   sync.WaitGroup
		synthCost float64
		synthStat session.SpeechStats
	)
	audioWG.Add(1)
	go func() {
		defer audioWG.Done()
		for sa := range audioCh {
			if sa.Err != nil {
				// Degrade to text-only for this sentence.
				o.logger.Warn("sentence synthesis failed, continuing without audio",
					"session", st.sess.ID, "error", sa.Err)
				if o.metrics != nil {
					o.metrics.RecordProviderError(ctx, "openai", "tts")
				}
				continue
			}
			synthCost += sa.Result.Cost
			synthStat.Characters += sa.Result.Characters
			if sa.Result.Cached {
				synthStat.CacheHits++
			} else {
				synthStat.CacheMisses++
			}
			if o.metrics != nil {
				observe.RecordCacheLookup(ctx, o.metrics.SpeechCacheLookups, sa.Result.Cached)
			}
			if !send(ctx, events, audioEvent(sa.Text, sa.Result.Audio, sa.Result.Format, sa.Result.Cached)) {
				return
			}
		}
	}()

	var genErr error
	for d := range deltas {
		switch {
		case d.Err != nil:
			genErr = d.Err
		case d.Final:
			st.tokens = session.TokenUsage{
				InputTokens:       d.Usage.InputTokens,
				OutputTokens:      d.Usage.OutputTokens,
				CachedInputTokens: d.Usage.CachedInputTokens,
			}
			st.costs.Add(session.Costs{Generation: d.Cost})
		default:
			st.answer.WriteString(d.Text)
			send(ctx, events, textEvent(d.Text))
			select {
			case fragments <- d.Text:
			case <-ctx.Done():
			}
		}
	}
	close(fragments)
	audioWG.Wait()
	st.costs.Add(session.Costs{Synthesis: synthCost})
	st.stats.Add(synthStat)

	if o.metrics != nil && genErr == nil {
		o.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
	}

	if ctx.Err() != nil {
		// Client went away; keep the spend.
		o.logger.Info("turn interrupted, flushing partial accounting", "session", st.sess.ID)
		o.flushPartial(st)
		o.recordTurn(context.Background(), st, "disconnected")
		return
	}
	if genErr != nil {
		o.failStream(ctx, st, req, events, genErr)
		return
	}

	o.finalize(ctx, st)
	o.recordTurn(ctx, st, outcome(st))
	send(ctx, events, completeEvent(st.sess.ID, st.filtered, st.costs, st.tokens, time.Since(st.start).Milliseconds()))
}

// failStream records what the failed turn already cost, then terminates the
// stream with an error event.
func (o *Orchestrator) failStream(ctx context.Context, st *turnState, req Request, events chan<- Event, err error) {
	o.logger.Error("generation failed", "session", st.sess.ID, "error", err)
	if o.metrics != nil {
		o.metrics.RecordProviderError(ctx, "claude", "llm")
	}
	o.flushPartial(st)
	o.recordTurn(ctx, st, "error")
	send(ctx, events, errorEvent(err.Error()))
}

// Turn runs the pipeline without streaming: the reply is generated and
// synthesized whole. Synthesis failure degrades to a text-only response.
func (o *Orchestrator) Turn(ctx context.Context, req Request) (*Response, error) {
	st, err := o.prepare(ctx, req)
	if err != nil {
		o.recordTurn(ctx, st, "error")
		return nil, err
	}

	llmStart := time.Now()
	res, err := o.generator.Generate(ctx, o.generationRequest(ctx, st))
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordProviderError(ctx, "claude", "llm")
		}
		o.flushPartial(st)
		o.recordTurn(ctx, st, "error")
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
	}

	st.answer.WriteString(res.Text)
	st.filtered = res.WasFiltered
	st.tokens = session.TokenUsage{
		InputTokens:       res.Usage.InputTokens,
		OutputTokens:      res.Usage.OutputTokens,
		CachedInputTokens: res.Usage.CachedInputTokens,
	}
	st.costs.Add(session.Costs{Generation: res.Cost})

	resp := &Response{
		SessionID:       st.sess.ID,
		Transcript:      st.transcript,
		Text:            res.Text,
		InScope:         st.decision.InScope,
		ScopeConfidence: st.decision.Confidence,
		ScopeReason:     st.decision.Reason,
		Filtered:        st.filtered,
	}

	ttsStart := time.Now()
	audio, synthErr := o.speech.Synthesize(ctx, res.Text, req.Voice, req.Quality)
	if synthErr != nil {
		o.logger.Warn("synthesis failed, returning text only",
			"session", st.sess.ID, "error", synthErr)
		if o.metrics != nil {
			o.metrics.RecordProviderError(ctx, "openai", "tts")
		}
	} else {
		if o.metrics != nil {
			o.metrics.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds())
			observe.RecordCacheLookup(ctx, o.metrics.SpeechCacheLookups, audio.Cached)
		}
		resp.Audio = audio.Audio
		resp.AudioFormat = audio.Format
		resp.AudioCached = audio.Cached
		st.costs.Synthesis += audio.Cost
		st.stats.Characters += audio.Characters
		if audio.Cached {
			st.stats.CacheHits++
		} else {
			st.stats.CacheMisses++
		}
	}

	o.finalize(ctx, st)
	o.recordTurn(ctx, st, outcome(st))

	resp.Costs = st.costs
	resp.Tokens = st.tokens
	resp.LatencyMs = time.Since(st.start).Milliseconds()
	return resp, nil
}

// finalize persists the exchange: both messages, the session aggregate
// delta, and chapter progress. Persistence failures are logged; the reply
// already delivered to the learner is not withdrawn.
func (o *Orchestrator) finalize(ctx context.Context, st *turnState) {
	latency := time.Since(st.start)

	userMsg := session.Message{
		Role:            "user",
		Content:         st.question,
		InScope:         st.decision.InScope,
		ScopeConfidence: st.decision.Confidence,
		ScopeReason:     st.decision.Reason,
		AudioDurationMs: st.audioDuration.Milliseconds(),
	}
	asstMsg := session.Message{
		Role:             "assistant",
		Content:          st.answer.String(),
		TokensUsed:       st.tokens.InputTokens + st.tokens.OutputTokens,
		CachedTokens:     st.tokens.CachedInputTokens,
		LatencyMs:        latency.Milliseconds(),
		SpeechCharacters: st.stats.Characters,
		SpeechCached:     st.stats.CacheHits > 0 && st.stats.CacheMisses == 0,
	}
	if err := o.sessions.AppendMessages(ctx, st.sess.ID, userMsg, asstMsg); err != nil {
		o.logger.Error("message persistence failed", "session", st.sess.ID, "error", err)
	}

	delta := session.TurnDelta{
		Costs:    st.costs,
		Tokens:   st.tokens,
		Speech:   st.stats,
		OffTopic: st.filtered,
	}
	if err := o.sessions.ApplyTurn(ctx, st.sess.ID, delta); err != nil {
		o.logger.Error("session aggregate update failed", "session", st.sess.ID, "error", err)
	}

	if o.progress != nil && st.sess.UserID != "" {
		if err := o.progress.RecordQuestion(ctx, st.sess.UserID, st.sess.ChapterID, !st.filtered); err != nil {
			o.logger.Error("progress update failed", "session", st.sess.ID, "error", err)
		}
	}
}

// flushPartial persists whatever a terminated turn already cost on a fresh
// background context, so cancellation of the turn context cannot void spend.
func (o *Orchestrator) flushPartial(st *turnState) {
	ctx, cancel := context.WithTimeout(context.Background(), o.flushTimeout)
	defer cancel()

	userMsg := session.Message{
		Role:            "user",
		Content:         st.question,
		InScope:         st.decision.InScope,
		ScopeConfidence: st.decision.Confidence,
		ScopeReason:     st.decision.Reason,
		AudioDurationMs: st.audioDuration.Milliseconds(),
	}
	msgs := []session.Message{userMsg}
	if partial := st.answer.String(); partial != "" {
		msgs = append(msgs, session.Message{Role: "assistant", Content: partial})
	}
	if err := o.sessions.AppendMessages(ctx, st.sess.ID, msgs...); err != nil {
		o.logger.Error("partial message flush failed", "session", st.sess.ID, "error", err)
	}

	delta := session.TurnDelta{
		Costs:    st.costs,
		Tokens:   st.tokens,
		Speech:   st.stats,
		OffTopic: st.filtered,
	}
	if err := o.sessions.ApplyTurn(ctx, st.sess.ID, delta); err != nil {
		o.logger.Error("partial accounting flush failed", "session", st.sess.ID, "error", err)
	}
}

// outcome maps a finished turn to its metrics label.
func outcome(st *turnState) string {
	if st.filtered {
		return "filtered"
	}
	return "answered"
}

// recordTurn emits the per-turn metrics. st may be nil when setup failed
// before any state existed.
func (o *Orchestrator) recordTurn(ctx context.Context, st *turnState, result string) {
	if o.metrics == nil {
		return
	}
	var seconds float64
	if st != nil {
		seconds = time.Since(st.start).Seconds()
		o.metrics.RecordCost(ctx, "whisper", st.costs.Transcription)
		o.metrics.RecordCost(ctx, "claude", st.costs.Generation)
		o.metrics.RecordCost(ctx, "tts", st.costs.Synthesis)
		if st.filtered && result == "filtered" {
			o.metrics.RecordFiltered(ctx, string(scope.DetectCategory(st.question, st.sess.OffTopicAttempts+1)))
		}
	}
	o.metrics.RecordTurn(ctx, result, seconds)
}

// chapterVocabulary collects the terms worth realigning transcripts against:
// the scope keywords plus the chapter and section titles.
func chapterVocabulary(ch *curriculum.Chapter) []string {
	vocab := make([]string, 0, len(ch.Content.Keywords)+len(ch.Content.Sections)+1)
	vocab = append(vocab, ch.Content.Keywords...)
	vocab = append(vocab, ch.Title)
	for _, s := range ch.Content.Sections {
		if s.Title != "" {
			vocab = append(vocab, s.Title)
		}
	}
	return vocab
}
