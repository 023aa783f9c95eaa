// Package dedupe clusters near-duplicate raw lexical records so the
// oracle is paid once per cluster instead of once per record.
//
// The engine is batch-local: clustering is O(n²) over its input, which
// is fine for batches of a few hundred records but quadratic in corpus
// size if fed everything at once. Callers chunk the record set first.
package dedupe

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/lexbook/lexipipe/internal/model"
	"github.com/lexbook/lexipipe/internal/normalize"
)

// NotesSeparator joins the explanations of merged duplicates. Kept
// explicit so downstream prompts (or a human) can split them back out.
const NotesSeparator = " | "

// Config holds the fuzzy-match thresholds.
type Config struct {
	// KeyThreshold is the minimum edit-distance ratio between two
	// keys for a fuzzy match.
	KeyThreshold float64
	// NotesThreshold is the minimum ratio between the records'
	// free-text notes; both must clear their bar.
	NotesThreshold float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{KeyThreshold: 0.8, NotesThreshold: 0.7}
}

// Engine clusters records within one batch.
type Engine struct {
	cfg Config
}

// New creates an Engine. Zero thresholds fall back to the defaults.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.KeyThreshold <= 0 {
		cfg.KeyThreshold = def.KeyThreshold
	}
	if cfg.NotesThreshold <= 0 {
		cfg.NotesThreshold = def.NotesThreshold
	}
	return &Engine{cfg: cfg}
}

// Similar reports whether two records belong in the same cluster. It
// is symmetric. A record pair qualifies on any of:
//
//  1. equal normalized keys,
//  2. one key contained in the other bounded by delimiters, so "Hog"
//     matches "Hog/Pig" but not "Hoggwash",
//  3. edit-distance ratio above the key threshold together with the
//     notes ratio above the notes threshold.
func (e *Engine) Similar(a, b model.RawRecord) bool {
	ka, kb := normalize.Key(a.Key), normalize.Key(b.Key)
	if ka == "" || kb == "" {
		return false
	}
	if ka == kb {
		return true
	}
	if containsBounded(ka, kb) || containsBounded(kb, ka) {
		return true
	}
	if ratio(ka, kb) >= e.cfg.KeyThreshold &&
		ratio(normalize.Key(a.Notes), normalize.Key(b.Notes)) >= e.cfg.NotesThreshold {
		return true
	}
	return false
}

// Cluster partitions records into clusters: greedy single pass in
// input order, each record landing in exactly one cluster. The first
// record of a cluster is its primary; duplicate notes are merged into
// MergedNotes.
func (e *Engine) Cluster(records []model.RawRecord) []model.Cluster {
	clusters := make([]model.Cluster, 0, len(records))
	used := make([]bool, len(records))

	for i, rec := range records {
		if used[i] {
			continue
		}
		used[i] = true
		c := model.Cluster{Primary: rec}

		for j := i + 1; j < len(records); j++ {
			if used[j] {
				continue
			}
			if e.matchesCluster(c, records[j]) {
				used[j] = true
				c.Duplicates = append(c.Duplicates, records[j])
			}
		}

		c.MergedNotes = mergeNotes(c)
		clusters = append(clusters, c)
	}
	return clusters
}

// matchesCluster checks a candidate against every current member, so a
// chain like "Hog" -> "Hog/Pig" -> "Pig" still lands in one cluster.
func (e *Engine) matchesCluster(c model.Cluster, rec model.RawRecord) bool {
	if e.Similar(c.Primary, rec) {
		return true
	}
	for _, d := range c.Duplicates {
		if e.Similar(d, rec) {
			return true
		}
	}
	return false
}

func mergeNotes(c model.Cluster) string {
	var parts []string
	seen := make(map[string]bool)
	for _, m := range c.Members() {
		note := strings.TrimSpace(m.Notes)
		if note == "" || seen[note] {
			continue
		}
		seen[note] = true
		parts = append(parts, note)
	}
	return strings.Join(parts, NotesSeparator)
}

// containsBounded reports whether needle occurs in haystack with a
// delimiter or string boundary on both sides.
func containsBounded(haystack, needle string) bool {
	if len(needle) >= len(haystack) {
		return false
	}
	for from := 0; ; {
		idx := strings.Index(haystack[from:], needle)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(needle)
		if (start == 0 || isDelimiter(rune(haystack[start-1]))) &&
			(end == len(haystack) || isDelimiter(rune(haystack[end]))) {
			return true
		}
		from = start + 1
	}
}

func isDelimiter(r rune) bool {
	switch r {
	case ' ', '\t', '/', ',', ';', '(', ')':
		return true
	}
	return false
}

// ratio converts edit distance to a 0..1 similarity score.
func ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}
