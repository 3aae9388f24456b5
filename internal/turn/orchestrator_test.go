package turn

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/brightpath-ai/tutor/internal/curriculum"
	"github.com/brightpath-ai/tutor/internal/session"
	"github.com/brightpath-ai/tutor/internal/speech"
	"github.com/brightpath-ai/tutor/internal/transcript"
	"github.com/brightpath-ai/tutor/internal/transcript/phonetic"
	"github.com/brightpath-ai/tutor/internal/tutor"
	"github.com/brightpath-ai/tutor/pkg/provider/llm"
	llmmock "github.com/brightpath-ai/tutor/pkg/provider/llm/mock"
	"github.com/brightpath-ai/tutor/pkg/provider/stt"
	sttmock "github.com/brightpath-ai/tutor/pkg/provider/stt/mock"
	"github.com/brightpath-ai/tutor/pkg/provider/tts"
	ttsmock "github.com/brightpath-ai/tutor/pkg/provider/tts/mock"
)

// chapterMap is an in-memory ChapterSource.
type chapterMap map[string]*curriculum.Chapter

func (m chapterMap) Get(_ context.Context, id string) (*curriculum.Chapter, error) {
	ch, ok := m[id]
	if !ok {
		return nil, curriculum.ErrChapterNotFound
	}
	return ch, nil
}

func grammarChapter() *curriculum.Chapter {
	return &curriculum.Chapter{
		ID:      "english-grammar-basics",
		Subject: "English",
		Grade:   6,
		Title:   "Grammar Basics",
		Order:   1,
		Content: curriculum.Content{
			Introduction: "Words have jobs.",
			Keywords:     []string{"noun", "verb", "adjective", "sentence"},
		},
	}
}

// fixture wires an orchestrator over mocks and returns the pieces tests
// inspect afterwards.
type fixture struct {
	orch  *Orchestrator
	llm   *llmmock.Provider
	tts   *ttsmock.Synthesizer
	stt   *sttmock.Transcriber
	store *session.MemStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	llmProv := &llmmock.Provider{}
	ttsProv := &ttsmock.Synthesizer{
		AudioFor: func(req tts.Request) *tts.Audio {
			return &tts.Audio{Data: []byte("audio:" + req.Text), Format: "mp3"}
		},
	}
	sttProv := &sttmock.Transcriber{}
	store := session.NewMemStore()

	gen := tutor.NewGenerator(llmProv)
	svc := speech.NewService(ttsProv, speech.NewMemoryCache())

	orch := New(chapterMap{"english-grammar-basics": grammarChapter()}, gen, svc, store,
		WithTranscriber(sttProv),
		WithProgress(store),
	)
	return &fixture{orch: orch, llm: llmProv, tts: ttsProv, stt: sttProv, store: store}
}

// drain collects all events, guarding against a stream that never closes.
func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("stream did not close; %d events so far", len(got))
		}
	}
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func approx(t *testing.T, got, want float64, what string) {
	t.Helper()
	if diff := got - want; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("%s = %v, want %v", what, got, want)
	}
}

func TestStreamTurnInScope(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.llm.StreamChunks = []llm.Chunk{
		{Text: "Nouns name "},
		{Text: "things. Verbs do things."},
		{FinishReason: "stop", Usage: &llm.Usage{
			InputTokens:       1000,
			CachedInputTokens: 500,
			OutputTokens:      200,
		}},
	}

	events := drain(t, f.orch.StreamTurn(context.Background(), Request{
		UserID:    "learner-1",
		ChapterID: "english-grammar-basics",
		Message:   "What is a noun?",
	}))

	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("last event type = %q, want complete", last.Type)
	}
	if last.Filtered {
		t.Error("turn marked filtered")
	}
	if last.SessionID == "" {
		t.Error("complete event missing session id")
	}

	texts := eventsOfType(events, EventText)
	var reply strings.Builder
	for _, ev := range texts {
		reply.WriteString(ev.Data)
	}
	if got, want := reply.String(), "Nouns name things. Verbs do things."; got != want {
		t.Errorf("assembled reply = %q, want %q", got, want)
	}

	audios := eventsOfType(events, EventAudio)
	if len(audios) != 2 {
		t.Fatalf("audio events = %d, want 2", len(audios))
	}
	if audios[0].Text != "Nouns name things." || audios[1].Text != "Verbs do things." {
		t.Errorf("audio sentence order = %q, %q", audios[0].Text, audios[1].Text)
	}

	wantGen := tutor.GenerationCost(1000, 500, 200)
	chars := len("Nouns name things.") + len("Verbs do things.")
	wantTTS := speech.SynthesisCost(chars, tts.QualityStandard)
	approx(t, last.Costs.Generation, wantGen, "generation cost")
	approx(t, last.Costs.Synthesis, wantTTS, "synthesis cost")
	approx(t, last.Costs.Total, wantGen+wantTTS, "total cost")
	if last.Tokens.CachedInputTokens != 500 {
		t.Errorf("cached tokens = %d, want 500", last.Tokens.CachedInputTokens)
	}

	sess, err := f.store.Get(context.Background(), last.SessionID)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if sess.OffTopicAttempts != 0 {
		t.Errorf("off-topic streak = %d, want 0", sess.OffTopicAttempts)
	}
	approx(t, sess.Costs.Total, wantGen+wantTTS, "persisted session total")

	history, err := f.store.History(context.Background(), last.SessionID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != "user" || history[0].Content != "What is a noun?" {
		t.Errorf("user message = %+v", history[0])
	}
	if history[1].Role != "assistant" || history[1].Content != reply.String() {
		t.Errorf("assistant message = %+v", history[1])
	}
}

func TestStreamTurnFilteredSkipsModel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	events := drain(t, f.orch.StreamTurn(context.Background(), Request{
		ChapterID: "english-grammar-basics",
		Message:   "Tell me about the French Revolution",
	}))

	if got := len(f.llm.StreamCalls) + len(f.llm.CompleteCalls); got != 0 {
		t.Fatalf("model invocations = %d, want 0", got)
	}

	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("last event type = %q, want complete", last.Type)
	}
	if !last.Filtered {
		t.Error("turn not marked filtered")
	}
	approx(t, last.Costs.Generation, 0, "generation cost")
	if last.Tokens.InputTokens != 0 || last.Tokens.OutputTokens != 0 {
		t.Errorf("tokens = %+v, want zero", *last.Tokens)
	}

	texts := eventsOfType(events, EventText)
	if len(texts) != 1 {
		t.Fatalf("text events = %d, want 1", len(texts))
	}
	if !strings.Contains(texts[0].Data, `"Grammar Basics"`) {
		t.Errorf("redirect does not name the chapter: %q", texts[0].Data)
	}

	// The redirect is still spoken.
	if audios := eventsOfType(events, EventAudio); len(audios) == 0 {
		t.Error("no audio events for redirect")
	}

	sess, err := f.store.Get(context.Background(), last.SessionID)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if sess.OffTopicAttempts != 1 {
		t.Errorf("off-topic streak = %d, want 1", sess.OffTopicAttempts)
	}
}

func TestStreamTurnAudioInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.stt.Result = &stt.Result{Text: "What is a verb?", Duration: 2 * time.Minute}
	f.llm.StreamChunks = []llm.Chunk{
		{Text: "Verbs are action words."},
		{FinishReason: "stop", Usage: &llm.Usage{InputTokens: 100, OutputTokens: 10}},
	}

	events := drain(t, f.orch.StreamTurn(context.Background(), Request{
		ChapterID:     "english-grammar-basics",
		Audio:         []byte("fake-wav"),
		AudioFilename: "question.wav",
	}))

	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("last event type = %q, want complete", last.Type)
	}
	approx(t, last.Costs.Transcription, 2*whisperUSDPerMinute, "transcription cost")

	history, err := f.store.History(context.Background(), last.SessionID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if history[0].Content != "What is a verb?" {
		t.Errorf("user message content = %q, want transcript", history[0].Content)
	}
	if history[0].AudioDurationMs != (2 * time.Minute).Milliseconds() {
		t.Errorf("audio duration ms = %d", history[0].AudioDurationMs)
	}
}

func TestStreamTurnGenerationErrorKeepsTranscriptionCost(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.stt.Result = &stt.Result{Text: "What is a noun?", Duration: time.Minute}
	f.llm.StreamChunks = []llm.Chunk{
		{FinishReason: "error", Text: "backend unavailable"},
	}

	events := drain(t, f.orch.StreamTurn(context.Background(), Request{
		ChapterID: "english-grammar-basics",
		Audio:     []byte("fake-wav"),
	}))

	last := events[len(events)-1]
	if last.Type != EventError {
		t.Fatalf("last event type = %q, want error", last.Type)
	}
	if len(eventsOfType(events, EventComplete)) != 0 {
		t.Error("complete event emitted for failed turn")
	}

	// The transcription already happened and must be billed.
	sessions := f.store.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	approx(t, sessions[0].Costs.Transcription, whisperUSDPerMinute, "flushed transcription cost")
}

func TestStreamTurnSynthesisFailureDegradesToText(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.tts.AudioFor = nil
	f.tts.Err = errors.New("tts down")
	f.llm.StreamChunks = []llm.Chunk{
		{Text: "Nouns name things."},
		{FinishReason: "stop", Usage: &llm.Usage{InputTokens: 10, OutputTokens: 5}},
	}

	events := drain(t, f.orch.StreamTurn(context.Background(), Request{
		ChapterID: "english-grammar-basics",
		Message:   "What is a noun?",
	}))

	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("last event type = %q, want complete", last.Type)
	}
	if audios := eventsOfType(events, EventAudio); len(audios) != 0 {
		t.Errorf("audio events = %d, want 0", len(audios))
	}
	if texts := eventsOfType(events, EventText); len(texts) == 0 {
		t.Error("no text events despite synthesis failure")
	}
	approx(t, last.Costs.Synthesis, 0, "synthesis cost")
}

func TestStreamTurnSpeechCacheReuse(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.llm.StreamChunks = []llm.Chunk{
		{Text: "Nouns name things."},
		{FinishReason: "stop", Usage: &llm.Usage{InputTokens: 10, OutputTokens: 5}},
	}

	first := drain(t, f.orch.StreamTurn(context.Background(), Request{
		ChapterID: "english-grammar-basics",
		Message:   "What is a noun?",
	}))
	firstAudio := eventsOfType(first, EventAudio)
	if len(firstAudio) != 1 || firstAudio[0].Cached {
		t.Fatalf("first turn audio = %+v, want one uncached event", firstAudio)
	}

	second := drain(t, f.orch.StreamTurn(context.Background(), Request{
		ChapterID: "english-grammar-basics",
		Message:   "What is a noun?",
	}))
	secondAudio := eventsOfType(second, EventAudio)
	if len(secondAudio) != 1 || !secondAudio[0].Cached {
		t.Fatalf("second turn audio = %+v, want one cached event", secondAudio)
	}
	last := second[len(second)-1]
	approx(t, last.Costs.Synthesis, 0, "cached synthesis cost")
	if got := f.tts.CallCount(); got != 1 {
		t.Errorf("synthesizer calls = %d, want 1", got)
	}
}

func TestStreamTurnOffTopicEscalation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var sessionID string
	var lastText string
	for i := 0; i < 4; i++ {
		events := drain(t, f.orch.StreamTurn(context.Background(), Request{
			SessionID: sessionID,
			ChapterID: "english-grammar-basics",
			Message:   "what is the weather like today",
		}))
		last := events[len(events)-1]
		if last.Type != EventComplete {
			t.Fatalf("turn %d last event = %q", i+1, last.Type)
		}
		sessionID = last.SessionID
		texts := eventsOfType(events, EventText)
		if len(texts) != 1 {
			t.Fatalf("turn %d text events = %d", i+1, len(texts))
		}
		lastText = texts[0].Data
	}

	if !strings.HasPrefix(lastText, "I notice we're getting sidetracked. ") {
		t.Errorf("fourth redirect lacks escalation prefix: %q", lastText)
	}
	sess, err := f.store.Get(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if sess.OffTopicAttempts != 4 {
		t.Errorf("off-topic streak = %d, want 4", sess.OffTopicAttempts)
	}
}

func TestStreamTurnChapterNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	events := drain(t, f.orch.StreamTurn(context.Background(), Request{
		ChapterID: "missing",
		Message:   "What is a noun?",
	}))

	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v, want single error event", events)
	}
}

func TestStreamTurnNoInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	events := drain(t, f.orch.StreamTurn(context.Background(), Request{
		ChapterID: "english-grammar-basics",
	}))

	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v, want single error event", events)
	}
}

func TestTurnNonStreaming(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.llm.CompleteResponse = &llm.CompletionResponse{
		Content: "A noun names a person, place, or thing.",
		Usage:   llm.Usage{InputTokens: 400, CachedInputTokens: 100, OutputTokens: 50},
	}

	resp, err := f.orch.Turn(context.Background(), Request{
		UserID:    "learner-1",
		ChapterID: "english-grammar-basics",
		Message:   "What is a noun?",
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if resp.Filtered {
		t.Error("turn marked filtered")
	}
	if resp.Text != "A noun names a person, place, or thing." {
		t.Errorf("reply = %q", resp.Text)
	}
	if len(resp.Audio) == 0 {
		t.Error("no audio returned")
	}
	wantGen := tutor.GenerationCost(400, 100, 50)
	wantTTS := speech.SynthesisCost(len(resp.Text), tts.QualityStandard)
	approx(t, resp.Costs.Generation, wantGen, "generation cost")
	approx(t, resp.Costs.Synthesis, wantTTS, "synthesis cost")
	approx(t, resp.Costs.Total, wantGen+wantTTS, "total cost")

	history, err := f.store.History(context.Background(), resp.SessionID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("history length = %d, want 2", len(history))
	}
}

func TestTurnHistoryFlowsToModel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.llm.CompleteResponse = &llm.CompletionResponse{Content: "Verbs are action words."}

	first, err := f.orch.Turn(context.Background(), Request{
		ChapterID: "english-grammar-basics",
		Message:   "What is a noun?",
	})
	if err != nil {
		t.Fatalf("first Turn: %v", err)
	}

	if _, err := f.orch.Turn(context.Background(), Request{
		SessionID: first.SessionID,
		ChapterID: "english-grammar-basics",
		Message:   "And what is a verb?",
	}); err != nil {
		t.Fatalf("second Turn: %v", err)
	}

	if len(f.llm.CompleteCalls) != 2 {
		t.Fatalf("complete calls = %d, want 2", len(f.llm.CompleteCalls))
	}
	second := f.llm.CompleteCalls[1].Req
	// Two prior messages plus the fresh question.
	if len(second.Messages) != 3 {
		t.Fatalf("message count = %d, want 3", len(second.Messages))
	}
	if second.Messages[0].Content != "What is a noun?" {
		t.Errorf("history[0] = %q", second.Messages[0].Content)
	}
	if !second.SystemCacheable {
		t.Error("system prompt not marked cacheable")
	}
}

func TestTranscriptionCost(t *testing.T) {
	t.Parallel()
	approx(t, TranscriptionCost(time.Minute), 0.006, "one minute")
	approx(t, TranscriptionCost(30*time.Second), 0.003, "thirty seconds")
	approx(t, TranscriptionCost(0), 0, "zero")
}

func TestStreamTurnCorrectsMisheardTranscript(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.orch.corrector = transcript.NewCorrector(phonetic.New())
	f.stt.Result = &stt.Result{Text: "What is a none?", Duration: time.Minute}
	f.llm.StreamChunks = []llm.Chunk{
		{Text: "A noun names a person, place, or thing."},
		{FinishReason: "stop", Usage: &llm.Usage{InputTokens: 100, OutputTokens: 12}},
	}

	events := drain(t, f.orch.StreamTurn(context.Background(), Request{
		ChapterID:     "english-grammar-basics",
		Audio:         []byte("fake-wav"),
		AudioFilename: "question.wav",
	}))

	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("last event type = %q, want complete", last.Type)
	}
	if last.Filtered {
		t.Error("corrected question was filtered as off-topic")
	}

	history, err := f.store.History(context.Background(), last.SessionID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if history[0].Content != "What is a noun?" {
		t.Errorf("stored question = %q, want corrected transcript", history[0].Content)
	}
}

// stallingProvider emits one chunk and then holds the stream open until the
// caller's context ends, so a test can cancel a turn mid-generation.
type stallingProvider struct {
	first llm.Chunk
}

func (p *stallingProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("streaming only")
}

func (p *stallingProvider) StreamCompletion(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, 1)
	go func() {
		defer close(ch)
		ch <- p.first
		<-ctx.Done()
	}()
	return ch, nil
}

func TestStreamTurnClientDisconnectFlushesSpend(t *testing.T) {
	t.Parallel()

	llmProv := &stallingProvider{first: llm.Chunk{Text: "Nouns name things."}}
	ttsProv := &ttsmock.Synthesizer{
		AudioFor: func(req tts.Request) *tts.Audio {
			return &tts.Audio{Data: []byte("audio:" + req.Text), Format: "mp3"}
		},
	}
	sttProv := &sttmock.Transcriber{
		Result: &stt.Result{Text: "What is a noun?", Duration: 2 * time.Minute},
	}
	store := session.NewMemStore()

	orch := New(chapterMap{"english-grammar-basics": grammarChapter()},
		tutor.NewGenerator(llmProv),
		speech.NewService(ttsProv, speech.NewMemoryCache()),
		store,
		WithTranscriber(sttProv),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := orch.StreamTurn(ctx, Request{
		ChapterID:     "english-grammar-basics",
		Audio:         []byte("fake-wav"),
		AudioFilename: "question.wav",
	})

	timeout := time.After(5 * time.Second)
waitText:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("stream closed before any text event")
			}
			if ev.Type == EventText {
				break waitText
			}
		case <-timeout:
			t.Fatal("no text event before timeout")
		}
	}
	cancel()

	rest := drain(t, events)
	if got := eventsOfType(rest, EventComplete); len(got) != 0 {
		t.Fatalf("got %d complete events after disconnect, want 0", len(got))
	}
	if got := eventsOfType(rest, EventError); len(got) != 0 {
		t.Fatalf("got %d error events after disconnect, want 0", len(got))
	}

	sessions := store.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("session count = %d, want 1", len(sessions))
	}
	sess := sessions[0]
	approx(t, sess.Costs.Transcription, 2*whisperUSDPerMinute, "persisted transcription cost")

	history, err := store.History(context.Background(), sess.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) == 0 || history[0].Content != "What is a noun?" {
		t.Fatalf("history = %+v, want the flushed user message first", history)
	}
}
