// Package textseg extracts complete sentences from incrementally growing
// text. The relay uses it to cut streamed narration into TTS-sized pieces:
// each time a new token batch arrives, Extract returns every sentence that is
// now complete plus the unfinished remainder to carry into the next call.
package textseg

import "strings"

// Extract splits s into complete sentences and an unfinished remainder. A
// sentence is complete at the first '.', '!' or '?' that is followed by
// whitespace or ends the text; the terminator stays with its sentence, the
// whitespace is dropped. Text ending without a terminator is returned as
// remaining. Input consisting only of already-terminal sentences therefore
// yields an empty remainder.
func Extract(s string) (sentences []string, remaining string) {
	for {
		idx := firstBoundary(s)
		if idx < 0 {
			return sentences, s
		}
		sentence := strings.TrimLeft(s[:idx+1], " \t\n\r")
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		s = strings.TrimLeft(s[idx+1:], " \t\n\r")
	}
}

// firstBoundary returns the index of the first sentence terminator that is
// followed by whitespace or ends the text, or -1 if the text contains no
// complete sentence. A terminator followed by anything else (a digit in
// "3.5", a closing quote) is not a boundary.
func firstBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i == len(s)-1 {
				return i
			}
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
