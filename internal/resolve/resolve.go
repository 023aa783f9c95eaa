// Package resolve maps dirty free-text references onto canonical
// concept ids. References coming back from the oracle carry footnote
// markers, parenthetical qualifiers, slash alternations and inflected
// forms; the cascade tries progressively looser strategies until one
// hits.
package resolve

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/lexbook/lexipipe/internal/model"
)

// ConceptLookup is the read-only store surface the cascade queries.
type ConceptLookup interface {
	ConceptIDByLabel(ctx context.Context, label string, lang model.Language) (int64, bool, error)
	ConceptIDByForeignTerm(ctx context.Context, term string) (int64, bool, error)
}

// Resolver runs the cascade. It is read-only and idempotent; a miss is
// reported, never an error.
type Resolver struct {
	lookup   ConceptLookup
	lang     model.Language
	suffixes []string
}

// defaultSuffixes are the inflectional endings stripped by the
// de-suffixing strategy, most specific first.
var defaultSuffixes = []string{"en", "er", "e", "n", "s"}

// New creates a Resolver querying labels in the source language.
func New(lookup ConceptLookup) *Resolver {
	return &Resolver{lookup: lookup, lang: model.LanguageSource, suffixes: defaultSuffixes}
}

// NewWithSuffixes creates a Resolver with a tuned suffix list.
func NewWithSuffixes(lookup ConceptLookup, suffixes []string) *Resolver {
	r := New(lookup)
	if len(suffixes) > 0 {
		r.suffixes = suffixes
	}
	return r
}

type strategy struct {
	name string
	fn   func(ctx context.Context, term string) (int64, bool, error)
}

// Resolve maps a dirty term to a concept id. Strategies run in order
// of decreasing precision; the first hit wins and later strategies are
// never consulted.
func (r *Resolver) Resolve(ctx context.Context, term string) (int64, bool, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return 0, false, nil
	}

	strategies := []strategy{
		{"exact", r.exact},
		{"cleaned", r.cleaned},
		{"alternation", r.alternation},
		{"desuffix", r.desuffix},
		{"first_word", r.firstWord},
		{"cross_language", r.crossLanguage},
	}

	for _, s := range strategies {
		id, ok, err := s.fn(ctx, term)
		if err != nil {
			return 0, false, err
		}
		if ok {
			zap.L().Debug("resolve: reference matched",
				zap.String("term", term),
				zap.String("strategy", s.name),
				zap.Int64("concept_id", id))
			return id, true, nil
		}
	}

	zap.L().Debug("resolve: unresolved reference", zap.String("term", term))
	return 0, false, nil
}

func (r *Resolver) exact(ctx context.Context, term string) (int64, bool, error) {
	return r.lookup.ConceptIDByLabel(ctx, term, r.lang)
}

func (r *Resolver) cleaned(ctx context.Context, term string) (int64, bool, error) {
	c := cleanTerm(term)
	if c == "" || c == term {
		return 0, false, nil
	}
	return r.lookup.ConceptIDByLabel(ctx, c, r.lang)
}

// alternation expands slash-separated alternatives and tries each
// side. A side ending in a hyphen is a truncated compound sharing its
// tail with the other side ("Haupt-/Nebeneingang"); completion is
// lookup-guided: candidate tails of the full side are tried longest
// first until one forms a known label.
func (r *Resolver) alternation(ctx context.Context, term string) (int64, bool, error) {
	c := cleanTerm(term)
	if !strings.Contains(c, "/") {
		return 0, false, nil
	}
	parts := strings.Split(c, "/")
	if len(parts) != 2 {
		return 0, false, nil
	}
	left, right := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

	for _, candidate := range expandSides(left, right) {
		id, ok, err := r.lookup.ConceptIDByLabel(ctx, candidate, r.lang)
		if err != nil || ok {
			return id, ok, err
		}
	}
	return 0, false, nil
}

// desuffix strips common inflectional endings and retries the exact
// lookup. A crude lemmatizer, tried late because it trades precision
// for recall.
func (r *Resolver) desuffix(ctx context.Context, term string) (int64, bool, error) {
	c := cleanTerm(term)
	for _, suffix := range r.suffixes {
		stem, found := strings.CutSuffix(c, suffix)
		if !found || len([]rune(stem)) < 3 {
			continue
		}
		id, ok, err := r.lookup.ConceptIDByLabel(ctx, stem, r.lang)
		if err != nil || ok {
			return id, ok, err
		}
	}
	return 0, false, nil
}

// firstWord retries with just the first token of a multi-word phrase,
// catching "Hund, Genitiv Hundes" style references.
func (r *Resolver) firstWord(ctx context.Context, term string) (int64, bool, error) {
	fields := strings.Fields(cleanTerm(term))
	if len(fields) < 2 {
		return 0, false, nil
	}
	first := strings.TrimRight(fields[0], ",;:")
	if first == "" {
		return 0, false, nil
	}
	return r.lookup.ConceptIDByLabel(ctx, first, r.lang)
}

func (r *Resolver) crossLanguage(ctx context.Context, term string) (int64, bool, error) {
	return r.lookup.ConceptIDByForeignTerm(ctx, cleanTerm(term))
}

// superscripts as they appear in dictionary footnote markers.
const superscriptDigits = "⁰¹²³⁴⁵⁶⁷⁸⁹"

// cleanTerm strips the decorations dictionary-style references carry:
// parenthetical asides, a trailing reflexive marker, footnote digits
// and superscripts, trailing punctuation.
func cleanTerm(term string) string {
	out := stripParentheticals(term)

	lower := strings.ToLower(out)
	for _, marker := range []string{"+ sich", "+sich"} {
		if strings.HasSuffix(strings.TrimSpace(lower), marker) {
			idx := strings.LastIndex(lower, marker)
			out = out[:idx]
			break
		}
	}

	out = strings.TrimRightFunc(out, func(r rune) bool {
		return unicode.IsDigit(r) || strings.ContainsRune(superscriptDigits, r) ||
			unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	return strings.Join(strings.Fields(out), " ")
}

func stripParentheticals(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// expandSides turns the two halves of a slash alternation into lookup
// candidates. "Haupt-" with "Nebeneingang" yields Haupt+eingang,
// Haupt+beneingang, ... longest tail first; the caller stops at the
// first candidate that resolves.
func expandSides(left, right string) []string {
	var out []string

	if stem, ok := strings.CutSuffix(left, "-"); ok {
		out = append(out, tailCompletions(stem, right)...)
	} else if left != "" {
		out = append(out, left)
	}

	if stem, ok := strings.CutPrefix(right, "-"); ok {
		out = append(out, headCompletions(left, stem)...)
	} else if right != "" {
		out = append(out, right)
	}

	return out
}

// tailCompletions appends every tail of full (longest first, minimum
// three runes) to stem.
func tailCompletions(stem, full string) []string {
	runes := []rune(full)
	var out []string
	for i := 1; i <= len(runes)-3; i++ {
		out = append(out, stem+string(runes[i:]))
	}
	return out
}

// headCompletions prepends every head of full (longest first, minimum
// three runes) to stem, for the mirrored "Haupteingang/-ausgang" form.
func headCompletions(full, stem string) []string {
	runes := []rune(full)
	var out []string
	for i := len(runes) - 1; i >= 3; i-- {
		out = append(out, string(runes[:i])+stem)
	}
	return out
}
