package tutor

import (
	"fmt"
	"strings"

	"github.com/brightpath-ai/tutor/internal/curriculum"
)

// FormatChapterPrompt renders the chapter body as the cacheable section of
// the system instruction. The text is identical for every turn of a session
// on the same chapter, which is what makes backend prompt caching effective.
func FormatChapterPrompt(ch *curriculum.Chapter) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# CHAPTER: %s\n\n", ch.Title)

	if len(ch.Metadata.LearningObjectives) > 0 {
		b.WriteString("## Learning Objectives:\n")
		for _, obj := range ch.Metadata.LearningObjectives {
			fmt.Fprintf(&b, "- %s\n", obj)
		}
		b.WriteString("\n")
	}

	if ch.Content.Introduction != "" {
		b.WriteString(ch.Content.Introduction)
		b.WriteString("\n\n")
	}

	b.WriteString("## Content:\n\n")
	for _, sec := range ch.Content.Sections {
		fmt.Fprintf(&b, "### %s\n%s\n", sec.Title, sec.Explanation)
		for _, ex := range sec.Examples {
			fmt.Fprintf(&b, "- %s\n", ex)
		}
		b.WriteString("\n")
	}

	if len(ch.Content.WorkedExamples) > 0 {
		b.WriteString("## Examples:\n\n")
		for i, ex := range ch.Content.WorkedExamples {
			fmt.Fprintf(&b, "**Example %d:**\n%s\n\nSolution:\n%s\n\n", i+1, ex.Problem, ex.Solution)
		}
	}

	fmt.Fprintf(&b, "## Keywords (for scope detection):\n%s",
		strings.Join(ch.Content.Keywords, ", "))

	return b.String()
}

// BuildSystemPrompt assembles the full system instruction: the tutor persona,
// the chapter body from FormatChapterPrompt, and the scope directive telling
// the model to redirect out-of-chapter questions instead of answering them.
func BuildSystemPrompt(ch *curriculum.Chapter) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an expert tutor specializing in %s.\n\n", ch.Subject)
	fmt.Fprintf(&b, "CURRENT ACTIVE CHAPTER: %q\n\n", ch.Title)
	b.WriteString(FormatChapterPrompt(ch))
	b.WriteString("\n\n=== CRITICAL INSTRUCTION ===\n")
	fmt.Fprintf(&b, "You MUST only answer questions related to the current chapter: %q.\n\n", ch.Title)
	b.WriteString(`If the student asks about:
1. Topics from future chapters: politely redirect: "That's covered in a future chapter. Let's master this chapter first!"
2. Topics from past chapters: offer a brief review or redirect to the current chapter.
3. Topics from different subjects: gently redirect to the current subject.
4. Completely unrelated topics: kindly redirect to the current chapter.

Your goal is to keep students focused and help them master ONE chapter at a time.
Always be encouraging, patient, and supportive!

For in-scope questions:
- Provide clear, detailed explanations and keep answers concise.
- Use examples from the chapter.
- Break down complex concepts.
- Encourage practice and application.`)

	return b.String()
}
