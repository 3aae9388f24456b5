package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/brightpath-ai/tutor/pkg/provider/stt"
	sttmock "github.com/brightpath-ai/tutor/pkg/provider/stt/mock"
)

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Transcriber{
		Result: &stt.Result{Text: "from primary"},
	}
	secondary := &sttmock.Transcriber{
		Result: &stt.Result{Text: "from secondary"},
	}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	res, err := fb.Transcribe(context.Background(), stt.Request{Audio: []byte("wav")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "from primary" {
		t.Fatalf("text = %q, want 'from primary'", res.Text)
	}
	if len(secondary.Calls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls))
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &sttmock.Transcriber{Err: errors.New("primary down")}
	secondary := &sttmock.Transcriber{
		Result: &stt.Result{Text: "from secondary"},
	}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	res, err := fb.Transcribe(context.Background(), stt.Request{Audio: []byte("wav")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "from secondary" {
		t.Fatalf("text = %q, want 'from secondary'", res.Text)
	}
	if len(primary.Calls) != 1 || len(secondary.Calls) != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", len(primary.Calls), len(secondary.Calls))
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &sttmock.Transcriber{Err: errors.New("primary down")}
	secondary := &sttmock.Transcriber{Err: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), stt.Request{Audio: []byte("wav")})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
