// Package transcript corrects speech-to-text output against a story lexicon.
//
// Batch STT reliably mangles invented proper nouns ("Veyra's Hollow" comes
// back as "vera's hollow" or "fairest hollow"). The Corrector re-aligns such
// words using Double Metaphone phonetic encoding combined with Jaro-Winkler
// string similarity:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each transcript token and each lexicon entry. Overlapping codes make an
//     entry a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the entry with the
//     highest Jaro-Winkler similarity (case-insensitive) wins — provided its
//     score exceeds the phonetic threshold. Without a phonetic candidate, a
//     secondary pass tests pure Jaro-Winkler similarity against the whole
//     lexicon using a stricter fuzzy threshold.
//
// Multi-word entries (e.g., "Tower of Whispers") are matched against sliding
// token windows of the same width.
//
// The Corrector is read-only after construction and safe for concurrent use.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Correction records one replaced span.
type Correction struct {
	// Original is the transcript text that was replaced.
	Original string `json:"original"`
	// Replacement is the lexicon entry it was replaced with.
	Replacement string `json:"replacement"`
	// Confidence is the Jaro-Winkler score of the accepted match.
	Confidence float64 `json:"confidence"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched entry to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the corrector falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.fuzzyThreshold = threshold
	}
}

// Corrector aligns transcript tokens to a fixed lexicon of story names.
type Corrector struct {
	lexicon           []string
	maxEntryTokens    int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Corrector for the given lexicon. An empty lexicon yields a
// corrector whose Correct is the identity function.
func New(lexicon []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, entry := range lexicon {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		c.lexicon = append(c.lexicon, entry)
		if n := len(strings.Fields(entry)); n > c.maxEntryTokens {
			c.maxEntryTokens = n
		}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct replaces lexicon-like spans in text and returns the corrected text
// together with the applied corrections. Tokens that already match a lexicon
// entry exactly (case-insensitive) are left alone.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if len(c.lexicon) == 0 || strings.TrimSpace(text) == "" {
		return text, nil
	}

	tokens := strings.Fields(text)
	var corrections []Correction

	// Widest windows first so "tower of whispers" wins over "tower".
	for width := c.maxEntryTokens; width >= 1; width-- {
		for i := 0; i+width <= len(tokens); i++ {
			span := strings.Join(tokens[i:i+width], " ")
			if c.isExact(span) {
				continue
			}
			replacement, score, ok := c.match(span)
			if !ok {
				continue
			}
			corrections = append(corrections, Correction{
				Original:    span,
				Replacement: replacement,
				Confidence:  score,
			})
			// Collapse the span into one token; the loop increment moves past it.
			tokens = append(tokens[:i], append([]string{replacement}, tokens[i+width:]...)...)
		}
	}

	return strings.Join(tokens, " "), corrections
}

// isExact reports whether span equals a lexicon entry ignoring case and
// surrounding punctuation.
func (c *Corrector) isExact(span string) bool {
	cleaned := strings.ToLower(strings.Trim(span, ".,!?;:'\""))
	for _, entry := range c.lexicon {
		if cleaned == strings.ToLower(entry) {
			return true
		}
	}
	return false
}

// match finds the lexicon entry most phonetically similar to span, following
// the two-stage filter-then-rank strategy described in the package comment.
func (c *Corrector) match(span string) (corrected string, confidence float64, matched bool) {
	spanLower := strings.ToLower(strings.Trim(span, ".,!?;:'\""))
	spanTokens := strings.Fields(spanLower)
	if len(spanTokens) == 0 {
		return "", 0, false
	}

	inputCodes := codesForTokens(spanTokens)

	type candidate struct {
		entry    string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, entry := range c.lexicon {
		entryLower := strings.ToLower(entry)
		entryTokens := strings.Fields(entryLower)

		phoneticMatch := codesOverlap(inputCodes, codesForTokens(entryTokens))
		jwScore := bestJWScore(spanTokens, entryTokens, spanLower, entryLower)

		if phoneticMatch {
			if jwScore >= c.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{entry: entry, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= c.fuzzyThreshold && jwScore > best.score {
				best = candidate{entry: entry, score: jwScore, phonetic: false}
			}
		}
	}

	if best.entry != "" {
		return best.entry, best.score, true
	}
	return "", 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or contains
// no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the entry using three strategies: full strings, space-stripped strings,
// and the best pairwise token score.
func bestJWScore(inputTokens, entryTokens []string, inputFull, entryFull string) float64 {
	score := matchr.JaroWinkler(inputFull, entryFull, false)

	if len(inputTokens) > 1 || len(entryTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(entryTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, et := range entryTokens {
			if s := matchr.JaroWinkler(it, et, false); s > score {
				score = s
			}
		}
	}

	return score
}
