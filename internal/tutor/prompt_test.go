package tutor

import (
	"strings"
	"testing"

	"github.com/brightpath-ai/tutor/internal/curriculum"
)

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()

	ch := &curriculum.Chapter{
		Subject: "English",
		Title:   "Grammar Basics: Parts of Speech",
		Content: curriculum.Content{
			Introduction: "Words have jobs.",
			Sections: []curriculum.ConceptSection{
				{Title: "Nouns", Explanation: "A noun names a thing.", Examples: []string{"dog", "city"}},
			},
			WorkedExamples: []curriculum.WorkedExample{
				{Problem: "Find the noun in: The dog barked.", Solution: "dog"},
			},
			Keywords: []string{"noun", "verb"},
		},
		Metadata: curriculum.Metadata{
			LearningObjectives: []string{"Identify nouns"},
		},
	}

	prompt := BuildSystemPrompt(ch)

	for _, want := range []string{
		"expert tutor specializing in English",
		`"Grammar Basics: Parts of Speech"`,
		"Identify nouns",
		"Words have jobs.",
		"A noun names a thing.",
		"Find the noun in: The dog barked.",
		"noun, verb",
		"CRITICAL INSTRUCTION",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestFormatChapterPromptStableAcrossCalls(t *testing.T) {
	t.Parallel()

	ch := &curriculum.Chapter{
		Title:   "Fractions",
		Content: curriculum.Content{Keywords: []string{"fraction"}},
	}
	if FormatChapterPrompt(ch) != FormatChapterPrompt(ch) {
		t.Error("chapter prompt must be byte-identical across calls for prompt caching")
	}
}
