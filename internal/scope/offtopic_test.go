package scope

import (
	"strings"
	"testing"
)

func TestDetectCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		question      string
		offTopicCount int
		want          Category
	}{
		{"future chapter", "Can we do the next chapter instead?", 0, CategoryFutureChapter},
		{"future via later", "Can we cover fractions later?", 0, CategoryFutureChapter},
		{"past chapter", "What did we learn in the last chapter?", 0, CategoryPastChapter},
		{"past via remember", "I remember something about verbs", 0, CategoryPastChapter},
		{"different subject", "Tell me about physics", 0, CategoryDifferentSubject},
		{"different subject history", "Who won the war in history?", 0, CategoryDifferentSubject},
		{"repeated drift", "What's your favourite movie?", 2, CategoryEncourageReturn},
		{"generic", "What's your favourite movie?", 0, CategoryWayOffTopic},
		{"generic one miss", "Tell me a joke", 1, CategoryWayOffTopic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := DetectCategory(tt.question, tt.offTopicCount)
			if got != tt.want {
				t.Errorf("DetectCategory(%q, %d) = %q, want %q",
					tt.question, tt.offTopicCount, got, tt.want)
			}
		})
	}
}

func TestSelectRedirectNamesChapter(t *testing.T) {
	t.Parallel()

	const title = "Grammar Basics: Parts of Speech"
	r := SelectRedirect("What's the capital of France?", title, "English", 0)

	if r.Category != CategoryWayOffTopic {
		t.Errorf("Category = %q, want %q", r.Category, CategoryWayOffTopic)
	}
	if !strings.Contains(r.Text, title) {
		t.Errorf("Text %q does not name the chapter", r.Text)
	}
	if r.Characters != len(r.Text) {
		t.Errorf("Characters = %d, want %d", r.Characters, len(r.Text))
	}
}

func TestSelectRedirectDeterministic(t *testing.T) {
	t.Parallel()

	a := SelectRedirect("can we skip to the next chapter", "Fractions", "Maths", 0)
	b := SelectRedirect("can we skip to the next chapter", "Fractions", "Maths", 0)
	if a != b {
		t.Errorf("SelectRedirect not deterministic: %+v vs %+v", a, b)
	}
}

func TestSelectRedirectDifferentSubjectNamesBoth(t *testing.T) {
	t.Parallel()

	r := SelectRedirect("how does chemistry work?", "Fractions", "Mathematics", 0)
	if r.Category != CategoryDifferentSubject {
		t.Fatalf("Category = %q, want %q", r.Category, CategoryDifferentSubject)
	}
	if !strings.Contains(r.Text, "chemistry") {
		t.Errorf("Text %q does not name the asked subject", r.Text)
	}
	if !strings.Contains(r.Text, "Mathematics") {
		t.Errorf("Text %q does not name the current subject", r.Text)
	}
}

func TestSelectRedirectEscalation(t *testing.T) {
	t.Parallel()

	mild := SelectRedirect("random question", "Fractions", "Maths", 2)
	if mild.Category != CategoryEncourageReturn {
		t.Fatalf("Category = %q, want %q", mild.Category, CategoryEncourageReturn)
	}
	if strings.Contains(mild.Text, "sidetracked") {
		t.Errorf("count=2 reply should not yet escalate: %q", mild.Text)
	}

	firm := SelectRedirect("random question", "Fractions", "Maths", 4)
	if !strings.Contains(firm.Text, "sidetracked") {
		t.Errorf("count=4 reply should escalate: %q", firm.Text)
	}
}
