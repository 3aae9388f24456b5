package speech

import "strings"

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// character that is immediately followed by a whitespace character (' ', '\n',
// '\r', or '\t'). Returns -1 if no such boundary exists in s.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// SplitIntoSentences segments text at sentence-terminal punctuation followed
// by whitespace or end-of-string. A trailing fragment without terminal
// punctuation is still emitted as the final segment so no text is dropped.
// Stateless; safe to call from any goroutine.
func SplitIntoSentences(text string) []string {
	var out []string
	rest := text
	for {
		rest = strings.TrimLeft(rest, " \t\n\r")
		if rest == "" {
			return out
		}
		idx := firstSentenceBoundary(rest)
		if idx < 0 {
			// Either a trailing fragment or a final sentence whose terminal
			// punctuation sits at end-of-string.
			out = append(out, strings.TrimRight(rest, " \t\n\r"))
			return out
		}
		out = append(out, rest[:idx+1])
		rest = rest[idx+1:]
	}
}

// StreamSentences consumes incremental text fragments and emits complete
// sentences as soon as each boundary is seen, carrying partial sentences
// across fragment boundaries. When in closes, any buffered remainder is
// flushed as a final segment even without terminal punctuation.
//
// The returned channel is closed when in is exhausted or done is closed.
func StreamSentences(done <-chan struct{}, in <-chan string) <-chan string {
	out := make(chan string, 8)
	go func() {
		defer close(out)

		var buf strings.Builder
		for {
			select {
			case <-done:
				return
			case fragment, ok := <-in:
				if !ok {
					if rest := strings.TrimSpace(buf.String()); rest != "" {
						select {
						case out <- rest:
						case <-done:
						}
					}
					return
				}
				buf.WriteString(fragment)

				for {
					idx := firstSentenceBoundary(buf.String())
					if idx < 0 {
						break
					}
					sentence := buf.String()[:idx+1]
					rest := buf.String()[idx+1:]
					buf.Reset()
					buf.WriteString(strings.TrimLeft(rest, " \t\n\r"))
					select {
					case out <- sentence:
					case <-done:
						return
					}
				}
			}
		}
	}()
	return out
}
