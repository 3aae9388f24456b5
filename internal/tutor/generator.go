// Package tutor produces chapter-grounded answers while keeping paid model
// calls behind an admission-control gate.
//
// The Generator wraps an llm.Provider. Off-topic questions (as judged by the
// scope classifier) are answered from canned redirect templates at zero cost;
// only in-scope questions reach the backend. Token usage and USD cost are
// computed per call, with cached prompt tokens billed at the discounted rate.
package tutor

import (
	"context"
	"errors"
	"fmt"

	"github.com/brightpath-ai/tutor/internal/curriculum"
	"github.com/brightpath-ai/tutor/internal/scope"
	"github.com/brightpath-ai/tutor/pkg/provider/llm"
)

// ErrGenerationFailed marks backend failures during completion. Callers
// decide whether to retry; the generator never retries on its own.
var ErrGenerationFailed = errors.New("tutor: generation failed")

const (
	defaultMaxTokens   = 2048
	defaultTemperature = 0.7
)

// Request carries one question through the generation service.
type Request struct {
	// Question is the learner's question text.
	Question string

	// Chapter is the active chapter grounding the reply.
	Chapter *curriculum.Chapter

	// History is the prior conversation, oldest first, excluding Question.
	History []llm.Message

	// Scope is the classifier's decision for Question.
	Scope scope.Decision

	// OffTopicCount is the learner's consecutive off-topic streak, used to
	// escalate the redirect tone.
	OffTopicCount int
}

// Result is the outcome of a generation call.
type Result struct {
	// Text is the reply text, whether generated or templated.
	Text string

	// Usage is the token accounting; all zero when WasFiltered.
	Usage llm.Usage

	// Cost is the USD cost of the call; zero when WasFiltered.
	Cost float64

	// WasFiltered reports that the admission gate answered the question from
	// a template and no backend call was made.
	WasFiltered bool

	// Scope echoes the classifier decision the call was made under.
	Scope scope.Decision
}

// Delta is one fragment of a streamed generation.
type Delta struct {
	// Text is incremental reply text. Empty on the final delta.
	Text string

	// Final marks the last delta of the stream. Usage and Cost are only
	// meaningful here.
	Final bool

	// Usage is the cumulative token accounting, set on the final delta.
	Usage llm.Usage

	// Cost is the USD cost of the completed call, set on the final delta.
	Cost float64

	// Err is set instead of Text when the backend fails mid-stream. The
	// stream ends after an error delta.
	Err error
}

// Option is a functional option for Generator.
type Option func(*Generator)

// WithMaxTokens caps completion length. Defaults to 2048.
func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		g.maxTokens = n
	}
}

// WithTemperature sets the sampling temperature. Defaults to 0.7.
func WithTemperature(t float64) Option {
	return func(g *Generator) {
		g.temperature = t
	}
}

// Generator is the chapter-grounded generation service.
//
// Safe for concurrent use.
type Generator struct {
	provider    llm.Provider
	maxTokens   int
	temperature float64
}

// NewGenerator creates a Generator on the given provider.
func NewGenerator(provider llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		provider:    provider,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// filtered returns the zero-cost templated result for an off-topic question.
func filtered(req Request) *Result {
	redirect := scope.SelectRedirect(req.Question, req.Chapter.Title, req.Chapter.Subject, req.OffTopicCount)
	return &Result{
		Text:        redirect.Text,
		WasFiltered: true,
		Scope:       req.Scope,
	}
}

// admitted reports whether the question may reach the paid backend. Checked
// before any provider invocation.
func admitted(d scope.Decision) bool {
	return d.InScope && d.Confidence >= scope.Threshold
}

// Generate answers req in a single shot. Off-topic questions short-circuit to
// a redirect template without touching the backend.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if !admitted(req.Scope) {
		return filtered(req), nil
	}

	resp, err := g.provider.Complete(ctx, g.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	return &Result{
		Text:  resp.Content,
		Usage: resp.Usage,
		Cost:  GenerationCost(resp.Usage.InputTokens, resp.Usage.CachedInputTokens, resp.Usage.OutputTokens),
		Scope: req.Scope,
	}, nil
}

// GenerateStream answers req incrementally. The returned channel emits text
// deltas as the backend produces them and closes after a final delta carrying
// usage and cost. Filtered questions yield their full redirect text as one
// delta followed by a zero-cost final delta.
//
// Callers must drain the channel.
func (g *Generator) GenerateStream(ctx context.Context, req Request) (<-chan Delta, error) {
	if !admitted(req.Scope) {
		res := filtered(req)
		ch := make(chan Delta, 2)
		ch <- Delta{Text: res.Text}
		ch <- Delta{Final: true}
		close(ch)
		return ch, nil
	}

	chunks, err := g.provider.StreamCompletion(ctx, g.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	out := make(chan Delta, 32)
	go func() {
		defer close(out)

		var usage llm.Usage
		for chunk := range chunks {
			if chunk.FinishReason == "error" {
				out <- Delta{Err: fmt.Errorf("%w: %s", ErrGenerationFailed, chunk.Text)}
				return
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			if chunk.Text == "" {
				continue
			}
			select {
			case out <- Delta{Text: chunk.Text}:
			case <-ctx.Done():
				return
			}
		}

		final := Delta{
			Final: true,
			Usage: usage,
			Cost:  GenerationCost(usage.InputTokens, usage.CachedInputTokens, usage.OutputTokens),
		}
		select {
		case out <- final:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

// buildRequest assembles the provider request: cacheable chapter-grounded
// system instruction, prior turns, then the new question.
func (g *Generator) buildRequest(req Request) llm.CompletionRequest {
	messages := make([]llm.Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: "user", Content: req.Question})

	return llm.CompletionRequest{
		SystemPrompt:    BuildSystemPrompt(req.Chapter),
		SystemCacheable: true,
		Messages:        messages,
		Temperature:     g.temperature,
		MaxTokens:       g.maxTokens,
	}
}
