// Package resolve turns normalized segment text into an eSpeak phoneme
// string, greedily matching the longest dictionary phrase at each
// position before falling back token-by-token, and finally to an
// external Phonemizer (optionally auto-learning the result) when a
// single token has no dictionary entry.
package resolve

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/unalkalkan/pronounce/internal/dict"
	"github.com/unalkalkan/pronounce/internal/provider"
)

// maxPhraseWords bounds the greedy phrase-matching window; dictionary
// phrases longer than this are never attempted, keeping resolution O(n).
const maxPhraseWords = 4

// Resolver resolves text against a dict.Store, optionally falling back to
// a Phonemizer for unmatched single tokens.
type Resolver struct {
	store      *dict.Store
	phonemizer provider.Phonemizer
}

// New creates a Resolver bound to store; phonemizer may be nil, in which
// case unmatched tokens pass through unresolved.
func New(store *dict.Store, phonemizer provider.Phonemizer) *Resolver {
	return &Resolver{store: store, phonemizer: phonemizer}
}

// Result is one segment's resolution outcome.
type Result struct {
	Phonemes     string
	UsedPhonemes bool // true if at least one token resolved to phonemes
	SourceCounts map[string]int
}

// ErrFallbackUnavailable is returned when preferPhonemes is set but no
// phonemizer is registered to resolve at least one unmatched token, or the
// phonemizer itself failed for every unmatched token it saw. The caller
// still receives a usable (literal-token-fallback) Result alongside it.
var ErrFallbackUnavailable = fmt.Errorf("resolver.fallback_unavailable: no phonemizer available to resolve requested text")

// Resolve walks text word by word, matching the longest dictionary phrase
// starting at each position; unmatched single tokens fall back to the
// Phonemizer when preferPhonemes is set and are auto-learned on success. If
// preferPhonemes is set and every such fallback attempt fails (or no
// Phonemizer is registered at all), Resolve still returns a literal-token
// Result but also returns ErrFallbackUnavailable.
func (r *Resolver) Resolve(ctx context.Context, text string, preferPhonemes bool) (Result, error) {
	words := tokenize(text)
	result := Result{SourceCounts: map[string]int{}}

	var out []string
	fallbackNeeded := false
	fallbackSatisfied := false
	for i := 0; i < len(words); {
		matchLen, phon, source := r.longestMatch(words, i)
		if matchLen > 0 {
			out = append(out, phon)
			result.SourceCounts[source]++
			result.UsedPhonemes = true
			i += matchLen
			continue
		}

		// No dictionary hit for a single token.
		token := strings.Trim(words[i], punctuationCutset)
		if token == "" {
			out = append(out, words[i])
			i++
			continue
		}
		if preferPhonemes {
			fallbackNeeded = true
			if r.phonemizer != nil {
				resp, err := r.phonemizer.Phonemize(ctx, provider.PhonemizeRequest{Text: token})
				if err == nil && resp.Phonemes != "" {
					out = append(out, resp.Phonemes)
					result.SourceCounts["phonemizer"]++
					result.UsedPhonemes = true
					fallbackSatisfied = true
					_ = r.store.Learn(strings.ToLower(token), resp.Phonemes)
					i++
					continue
				}
			}
		}

		// Fall back to the literal token; the synthesizer receives plain
		// text for this word.
		out = append(out, token)
		i++
	}

	result.Phonemes = strings.Join(out, " ")
	if fallbackNeeded && !fallbackSatisfied {
		return result, ErrFallbackUnavailable
	}
	return result, nil
}

// longestMatch tries progressively shorter windows starting at i, from
// maxPhraseWords down to 1, returning the number of words consumed, the
// matched phoneme string, and the pack it came from. Returns (0, "", "")
// on no match.
func (r *Resolver) longestMatch(words []string, i int) (int, string, string) {
	maxWindow := maxPhraseWords
	if remaining := len(words) - i; remaining < maxWindow {
		maxWindow = remaining
	}

	for window := maxWindow; window >= 1; window-- {
		trimmed := make([]string, window)
		for j := 0; j < window; j++ {
			trimmed[j] = strings.Trim(words[i+j], punctuationCutset)
		}
		phrase := strings.Join(trimmed, " ")
		if phrase == "" {
			continue
		}
		if result, ok := r.store.Lookup(phrase); ok {
			return window, result.Phonemes, result.SourcePack
		}
		lower := strings.ToLower(phrase)
		if lower != phrase {
			if result, ok := r.store.Lookup(lower); ok {
				return window, result.Phonemes, result.SourcePack
			}
		}
	}
	return 0, "", ""
}

// punctuationCutset is trimmed from each token before dictionary lookup,
// so "Naruto," and "Naruto" resolve to the same entry.
const punctuationCutset = ".,!?;:\"'()[]{}"

// tokenize splits on whitespace; punctuation is stripped per-token only
// at lookup time (see longestMatch). Resolve joins its output with single
// spaces, so the segment's original spacing is not kept.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, unicode.IsSpace)
}
