// Package normalize turns raw client-submitted text into the canonical
// form the resolver and chunker operate on: NFKC-normalized, with smart
// quotes and dashes folded to their plain-ASCII equivalents for every
// job, whatever its reading profile.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/unalkalkan/pronounce/pkg/types"
)

var quoteFolds = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
	"«", `"`, "»", `"`,
	"…", "...",
)

var dashFolds = strings.NewReplacer(
	"—", " - ",
	"–", " - ",
	"−", " - ",
)

// paragraphBreak matches a blank line (a newline, optional trailing
// whitespace, then one or more further newlines), the boundary
// collapseWhitespace preserves instead of flattening.
var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n+`)

// Text applies baseline normalization every job gets regardless of
// reading profile: NFKC, smart quotes/guillemets/ellipses folded to
// their plain-ASCII equivalents, em/en dashes folded to " - ", and
// whitespace collapsed within (but not across) paragraph breaks.
// profile.QuoteMode does not gate any of this — it only varies
// synthesis pause lengths around punctuation, handled downstream.
func Text(input string, profile types.ReadingProfile) string {
	out := norm.NFKC.String(input)
	out = quoteFolds.Replace(out)
	out = dashFolds.Replace(out)
	return collapseWhitespace(out)
}

// collapseWhitespace replaces runs of whitespace within a paragraph with a
// single space, trims each paragraph's ends, and drops blank paragraphs,
// but preserves the paragraph breaks themselves as a single "\n\n".
func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	paragraphs := paragraphBreak.Split(s, -1)
	out := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		collapsed := collapseInline(p)
		if collapsed != "" {
			out = append(out, collapsed)
		}
	}
	return strings.Join(out, "\n\n")
}

// collapseInline flattens every whitespace run within a single paragraph
// (no blank lines) to one space and trims the ends.
func collapseInline(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastWasSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\v' || r == '\f' {
			if !lastWasSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			lastWasSpace = true
			continue
		}
		b.WriteRune(r)
		lastWasSpace = false
	}
	return strings.TrimSpace(b.String())
}
