// Package transcript post-processes speech-to-text output.
//
// Whisper-class models frequently mangle subject vocabulary: "noun" comes
// back as "none", "hypotenuse" as "hippo ten use". The Corrector realigns a
// transcript against the active chapter's vocabulary so that scope detection
// and prompt grounding see the terms the learner actually said.
package transcript

import "strings"

// Matcher finds the vocabulary term most similar to a transcribed word.
// Implemented by [phonetic.Matcher].
//
// When matched is false, corrected equals word unchanged and confidence is 0.
type Matcher interface {
	Match(word string, terms []string) (corrected string, confidence float64, matched bool)
}

// Correction records one replacement the corrector applied.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Corrector rewrites misheard vocabulary terms in transcripts. Safe for
// concurrent use; it is read-only after construction.
type Corrector struct {
	matcher Matcher
}

// NewCorrector creates a Corrector over the given matcher.
func NewCorrector(m Matcher) *Corrector {
	return &Corrector{matcher: m}
}

// Correct matches term-sized windows of text against terms and replaces the
// windows that align. Multi-word terms take precedence over single-word
// matches at the same position. Windows that already equal a term are left
// alone and not reported.
//
// Returns the corrected text and the list of applied corrections. With no
// terms or an empty transcript the text is returned unchanged.
func (c *Corrector) Correct(text string, terms []string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(terms) == 0 {
		return text, nil
	}

	maxTermWords := 1
	for _, term := range terms {
		if n := len(strings.Fields(term)); n > maxTermWords {
			maxTermWords = n
		}
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			core, prefix, suffix := trimPunct(window)
			if core == "" {
				continue
			}
			term, conf, ok := c.matcher.Match(core, terms)
			if !ok {
				continue
			}
			if strings.EqualFold(term, core) {
				// Already said correctly; keep the learner's casing.
				break
			}
			output = append(output, strings.Fields(prefix+term+suffix)...)
			corrections = append(corrections, Correction{
				Original:   core,
				Corrected:  term,
				Confidence: conf,
			})
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(output, " "), corrections
}

// trimPunct splits surrounding punctuation off a window so "noun?" matches
// the term "noun" and the question mark survives the replacement.
func trimPunct(s string) (core, prefix, suffix string) {
	isWord := func(r rune) bool {
		return r == ' ' || r == '-' || r == '\'' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r > 127
	}
	start := 0
	for start < len(s) && !isWord(rune(s[start])) {
		start++
	}
	end := len(s)
	for end > start && !isWord(rune(s[end-1])) {
		end--
	}
	return s[start:end], s[:start], s[end:]
}
