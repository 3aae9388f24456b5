package transcript_test

import (
	"strings"
	"testing"

	"github.com/brightpath-ai/tutor/internal/transcript"
	"github.com/brightpath-ai/tutor/internal/transcript/phonetic"
)

// mapMatcher is a deterministic Matcher backed by a lookup table.
type mapMatcher struct {
	table map[string]string
}

func (m *mapMatcher) Match(word string, terms []string) (string, float64, bool) {
	key := strings.ToLower(word)
	for _, term := range terms {
		if strings.EqualFold(term, word) {
			return term, 1, true
		}
	}
	if corrected, ok := m.table[key]; ok {
		return corrected, 0.9, true
	}
	return word, 0, false
}

func TestCorrectReplacesMishearing(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(&mapMatcher{table: map[string]string{
		"none": "noun",
	}})

	got, corrections := c.Correct("what is a none", []string{"noun", "verb"})
	if got != "what is a noun" {
		t.Errorf("corrected text = %q", got)
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].Original != "none" || corrections[0].Corrected != "noun" {
		t.Errorf("correction = %+v", corrections[0])
	}
}

func TestCorrectKeepsPunctuation(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(&mapMatcher{table: map[string]string{
		"none": "noun",
	}})

	got, corrections := c.Correct("What is a none?", []string{"noun"})
	if got != "What is a noun?" {
		t.Errorf("corrected text = %q", got)
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
}

func TestCorrectLeavesExactTermsAlone(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(&mapMatcher{})

	got, corrections := c.Correct("A Noun names things", []string{"noun"})
	if got != "A Noun names things" {
		t.Errorf("text changed to %q", got)
	}
	if len(corrections) != 0 {
		t.Errorf("got %d corrections, want 0", len(corrections))
	}
}

func TestCorrectMultiWordTermWindow(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(&mapMatcher{table: map[string]string{
		"order of operation": "order of operations",
	}})

	got, corrections := c.Correct("explain order of operation please", []string{"order of operations"})
	if got != "explain order of operations please" {
		t.Errorf("corrected text = %q", got)
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].Original != "order of operation" {
		t.Errorf("original = %q", corrections[0].Original)
	}
}

func TestCorrectNoTermsIsNoop(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(&mapMatcher{table: map[string]string{"none": "noun"}})

	got, corrections := c.Correct("what is a none", nil)
	if got != "what is a none" || corrections != nil {
		t.Errorf("got %q, %v", got, corrections)
	}
}

func TestCorrectWithPhoneticMatcher(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(phonetic.New())

	got, corrections := c.Correct("what is a none", []string{"noun", "verb", "adjective"})
	if got != "what is a noun" {
		t.Errorf("corrected text = %q", got)
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].Confidence <= 0 {
		t.Errorf("confidence = %v", corrections[0].Confidence)
	}
}
