package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry in a [FallbackGroup] produced a
// successful call, whether by failing or by having an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the breaker given to each entry of a
// [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type member[T any] struct {
	name     string
	provider T
	breaker  *CircuitBreaker
}

// FallbackGroup holds an ordered chain of same-typed providers, each behind
// its own [CircuitBreaker]. Calls go to the first entry whose breaker admits
// them and which does not fail.
//
// Safe for concurrent use once the chain is assembled; AddFallback is not
// safe to call concurrently with Execute.
type FallbackGroup[T any] struct {
	chain []member[T]
	cfg   FallbackConfig
}

// NewFallbackGroup starts a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.append(primaryName, primary)
	return g
}

// AddFallback appends another provider to the chain. Order of calls follows
// order of registration.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.append(name, fallback)
}

func (fg *FallbackGroup[T]) append(name string, provider T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.chain = append(fg.chain, member[T]{
		name:     name,
		provider: provider,
		breaker:  NewCircuitBreaker(bc),
	})
}

// Execute runs fn against each entry in turn until one call succeeds.
// Entries with open breakers are skipped. When no entry succeeds the last
// error is wrapped in [ErrAllFailed].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(p T) (struct{}, error) {
		return struct{}{}, fn(p)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that return a
// value. A package-level function because methods cannot introduce their
// own type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.chain {
		m := &fg.chain[i]
		var out R
		err := m.breaker.Execute(func() error {
			var callErr error
			out, callErr = fn(m.provider)
			return callErr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("provider skipped, circuit open", "provider", m.name)
		} else {
			slog.Warn("provider failed, trying next in chain",
				"provider", m.name, "error", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
