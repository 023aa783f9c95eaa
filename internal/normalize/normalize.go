// Package normalize provides the canonical text normalization used for
// matching keys across the lexicon: cluster keys, highlight terms, and
// concept labels all go through the same transform so lookups agree.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var lowerGerman = cases.Lower(language.German)

// Key returns the normalized matching key for a term: NFC-composed,
// case-folded with German rules, whitespace-trimmed and collapsed.
func Key(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	s = lowerGerman.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Words splits text into the set of unique normalized words, stripping
// surrounding punctuation. Order follows first appearance.
func Words(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range strings.Fields(text) {
		w := strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if w == "" {
			continue
		}
		w = Key(w)
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
