// ABOUTME: Text canonicalization for the trigram index — lowercase, NFKC, collapse non-alphanumerics
// ABOUTME: Two indexed strings that normalize the same way must extract the same trigram set

package trigram

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Canonicalize lowercases, NFKC-normalizes, and collapses runs of
// non-alphanumeric characters to a single space (spec.md §4.F "Trigram
// extraction"). Two texts that a case- and punctuation-insensitive LIKE
// would treat as equal must canonicalize identically.
func Canonicalize(s string) string {
	folded := strings.ToLower(s)
	normalized := norm.NFKC.String(folded)

	var b strings.Builder
	b.Grow(len(normalized))
	inRun := false
	for _, r := range normalized {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte(' ')
			inRun = true
		}
	}
	return b.String()
}
