package scope

import (
	"fmt"
	"strings"
)

// Category tags the kind of off-topic question detected, so template text
// and category detection stay independently testable.
type Category string

const (
	// CategoryFutureChapter marks questions about material further ahead.
	CategoryFutureChapter Category = "future_chapter"

	// CategoryPastChapter marks questions about already-covered material.
	CategoryPastChapter Category = "past_chapter"

	// CategoryDifferentSubject marks questions about another school subject.
	CategoryDifferentSubject Category = "different_subject"

	// CategoryEncourageReturn marks repeated drifting after several
	// consecutive off-topic questions.
	CategoryEncourageReturn Category = "encourage_return"

	// CategoryWayOffTopic is the fallback for everything else.
	CategoryWayOffTopic Category = "way_off_topic"
)

// encourageReturnAfter is the consecutive off-topic count that switches the
// redirect to the escalating tone.
const encourageReturnAfter = 2

// subjectNames are school subjects recognised when detecting questions that
// belong to a different subject area.
var subjectNames = []string{
	"history", "science", "english", "geography", "biology", "chemistry", "physics",
}

// Redirect is a zero-cost templated reply for an off-topic question.
type Redirect struct {
	// Text is the reply shown and spoken to the learner.
	Text string

	// Category is the detected off-topic kind.
	Category Category

	// Characters is len(Text), kept for synthesis cost estimation.
	Characters int
}

// DetectCategory heuristically classifies an off-topic question by substring
// matching against small indicator word lists. Deterministic and total.
func DetectCategory(question string, offTopicCount int) Category {
	lower := strings.ToLower(question)

	if containsAny(lower, "next chapter", "after this", "later", "future") {
		return CategoryFutureChapter
	}
	if containsAny(lower, "previous", "before", "earlier", "last chapter", "remember") {
		return CategoryPastChapter
	}
	if subject := detectSubject(lower); subject != "" {
		return CategoryDifferentSubject
	}
	if offTopicCount >= encourageReturnAfter {
		return CategoryEncourageReturn
	}
	return CategoryWayOffTopic
}

// SelectRedirect picks the redirect reply for an off-topic question.
//
// chapterTitle names the active chapter and subject names its subject area
// (e.g., "English"). offTopicCount is the learner's consecutive off-topic
// streak including this question. Selection is fully deterministic so that
// replies are stable for identical inputs and cacheable by the speech layer.
func SelectRedirect(question, chapterTitle, subject string, offTopicCount int) Redirect {
	category := DetectCategory(question, offTopicCount)

	var text string
	switch category {
	case CategoryFutureChapter:
		text = fmt.Sprintf(
			"That's a great question! That topic is actually covered in a future chapter. "+
				"For now, let's focus on mastering %q first. Once you complete this chapter, "+
				"we'll move on to more advanced topics. Sound good?",
			chapterTitle)

	case CategoryPastChapter:
		text = fmt.Sprintf(
			"Good memory! We covered that topic in a previous chapter. Would you like a "+
				"quick 30-second review, or should we continue with %q? I'm here to help either way!",
			chapterTitle)

	case CategoryDifferentSubject:
		asked := detectSubject(strings.ToLower(question))
		text = fmt.Sprintf(
			"That's from %s! Right now we're focused on %s, specifically %q. Let's stick "+
				"with that for now so you can really master the material. We can explore %s "+
				"in a different session!",
			asked, subject, chapterTitle, asked)

	case CategoryEncourageReturn:
		prefix := ""
		if offTopicCount > 3 {
			prefix = "I notice we're getting sidetracked. "
		}
		text = fmt.Sprintf(
			"%sLet's bring our focus back to %q. This is important material that will help "+
				"you succeed. What would you like help with in this chapter?",
			prefix, chapterTitle)

	default:
		text = fmt.Sprintf(
			"Interesting question! But to help you learn effectively, let's stay focused on "+
				"%q for now. We'll make better progress if we master one topic at a time. "+
				"What specific part of this chapter would you like to explore?",
			chapterTitle)
	}

	return Redirect{
		Text:       text,
		Category:   category,
		Characters: len(text),
	}
}

// detectSubject returns the first recognised subject name contained in the
// lower-cased question, or "".
func detectSubject(lowerQuestion string) string {
	for _, s := range subjectNames {
		if strings.Contains(lowerQuestion, s) {
			return s
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
