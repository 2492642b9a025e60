// Package chunk splits normalized text into ordered segments that respect
// chunk_target_chars/chunk_max_chars, breaking preferentially at sentence
// boundaries, then clause boundaries, then word boundaries, grounded in
// the teacher's internal/parser/txt.go paragraph-accumulation state
// machine generalized from "paragraph" to "segment".
package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Config carries the two thresholds a split decision needs.
type Config struct {
	TargetChars int
	MaxChars    int
}

// sentenceEnders is the set of runes that can end a sentence.
var sentenceEnders = map[rune]bool{'.': true, '!': true, '?': true}

// clauseBreakers is the set of runes that can end a clause.
var clauseBreakers = map[rune]bool{',': true, ';': true, ':': true}

// Split breaks text into a sequence of segment strings, each no longer
// than cfg.MaxChars runes. It splits on paragraph breaks (the blank lines
// normalize.Text preserves) first, then within each paragraph prefers to
// end near cfg.TargetChars at a sentence boundary, falling back to a
// clause boundary, then a word boundary, then a hard cut as a last
// resort. Paragraph boundaries are never crossed by a single segment.
func Split(text string, cfg Config) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 500
	}
	if cfg.TargetChars <= 0 || cfg.TargetChars > cfg.MaxChars {
		cfg.TargetChars = cfg.MaxChars
	}

	var segments []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		segments = append(segments, splitParagraph(para, cfg)...)
	}
	return segments
}

// splitParagraph applies the sentence/clause/word-boundary cut cascade to
// a single paragraph (no embedded blank lines).
func splitParagraph(text string, cfg Config) []string {
	var segments []string
	remaining := []rune(text)

	for len(remaining) > 0 {
		if len(remaining) <= cfg.MaxChars {
			segments = append(segments, strings.TrimSpace(string(remaining)))
			break
		}

		cut := findCut(remaining, cfg)
		segment := strings.TrimSpace(string(remaining[:cut]))
		if segment != "" {
			segments = append(segments, segment)
		}
		remaining = trimLeadingSpace(remaining[cut:])
	}

	return segments
}

// findCut picks the rune index to cut remaining at, preferring the last
// sentence boundary at or before cfg.MaxChars that is past cfg.TargetChars
// (so segments don't come out unnecessarily short), then the last clause
// boundary, then the last word boundary, then a hard cut at cfg.MaxChars.
func findCut(remaining []rune, cfg Config) int {
	limit := cfg.MaxChars
	if limit > len(remaining) {
		limit = len(remaining)
	}

	if cut := lastBoundary(remaining, cfg.TargetChars, limit, sentenceEnders, true); cut > 0 {
		return cut
	}
	if cut := lastBoundary(remaining, cfg.TargetChars, limit, clauseBreakers, true); cut > 0 {
		return cut
	}
	if cut := lastWordBoundary(remaining, limit); cut > 0 {
		return cut
	}
	return limit
}

// lastBoundary scans remaining[0:limit] for the last index right after a
// rune in set, preferring one at or past from; if none exists past from,
// falls back to the last one anywhere within the window.
func lastBoundary(remaining []rune, from, limit int, set map[rune]bool, includeTrailingQuote bool) int {
	bestAfterFrom := -1
	bestAny := -1
	for i := 0; i < limit; i++ {
		if !set[remaining[i]] {
			continue
		}
		end := i + 1
		if includeTrailingQuote && end < limit && isClosingQuote(remaining[end]) {
			end++
		}
		bestAny = end
		if i >= from {
			bestAfterFrom = end
		}
	}
	if bestAfterFrom > 0 {
		return bestAfterFrom
	}
	return bestAny
}

func isClosingQuote(r rune) bool {
	switch r {
	case '"', '\'', '”', '’':
		return true
	}
	return false
}

// lastWordBoundary finds the last whitespace rune at or before limit.
func lastWordBoundary(remaining []rune, limit int) int {
	for i := limit - 1; i > 0; i-- {
		if unicode.IsSpace(remaining[i]) {
			return i
		}
	}
	return 0
}

func trimLeadingSpace(r []rune) []rune {
	i := 0
	for i < len(r) && unicode.IsSpace(r[i]) {
		i++
	}
	return r[i:]
}

// RuneLen returns the rune count of s, exported for callers validating
// min_segment_chars against a candidate segment.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// MergeShort folds any segment shorter than minChars into its neighbor,
// preferring the following segment, so tiny trailing fragments (a lone
// closing quote, a one-word sentence after a hard cut) never become their
// own synthesis unit. The last segment, if still short, merges backward.
func MergeShort(segments []string, minChars int) []string {
	if minChars <= 0 || len(segments) < 2 {
		return segments
	}

	merged := make([]string, 0, len(segments))
	for i := 0; i < len(segments); i++ {
		seg := segments[i]
		if RuneLen(seg) >= minChars || i == len(segments)-1 {
			merged = append(merged, seg)
			continue
		}
		segments[i+1] = seg + " " + segments[i+1]
	}

	if len(merged) >= 2 && RuneLen(merged[len(merged)-1]) < minChars {
		last := merged[len(merged)-1]
		merged = merged[:len(merged)-1]
		merged[len(merged)-1] = merged[len(merged)-1] + " " + last
	}

	return merged
}
