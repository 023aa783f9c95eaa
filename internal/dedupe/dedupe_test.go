package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexbook/lexipipe/internal/model"
)

func rec(id int64, key, notes string) model.RawRecord {
	return model.RawRecord{ID: id, Key: key, Notes: notes}
}

func TestSimilar_ExactNormalizedKey(t *testing.T) {
	e := New(DefaultConfig())
	assert.True(t, e.Similar(rec(1, "Hog", ""), rec(2, "  hog ", "")))
	assert.True(t, e.Similar(rec(1, "KÄSE", ""), rec(2, "käse", "")))
}

func TestSimilar_DelimiterBoundedContainment(t *testing.T) {
	e := New(DefaultConfig())

	assert.True(t, e.Similar(rec(1, "Hog", ""), rec(2, "Hog/Pig", "")))
	assert.True(t, e.Similar(rec(1, "Hog/Pig", ""), rec(2, "Hog", "")), "containment is symmetric")
	assert.True(t, e.Similar(rec(1, "wild boar", ""), rec(2, "boar", "")))
	assert.True(t, e.Similar(rec(1, "Schwein (Tier)", ""), rec(2, "Schwein", "")))

	// Substring without a delimiter boundary is not containment.
	assert.False(t, e.Similar(rec(1, "Hog", ""), rec(2, "Hoggwash", "")))
	assert.False(t, e.Similar(rec(1, "rat", ""), rec(2, "grate", "")))
}

func TestSimilar_FuzzyNeedsBothThresholds(t *testing.T) {
	e := New(DefaultConfig())

	// One-letter difference on a long key, matching notes.
	a := rec(1, "Regenschirm", "umbrella, carried in rain")
	b := rec(2, "Regenschirme", "umbrella, carried in rain")
	assert.True(t, e.Similar(a, b))

	// Same keys but completely different notes still pass via the
	// exact-key test; force the fuzzy path with near keys and
	// divergent notes.
	c := rec(3, "Regenschirn", "a kind of alpine goat")
	assert.False(t, e.Similar(a, c), "close keys with unrelated notes must not merge")
}

func TestSimilar_Symmetric(t *testing.T) {
	e := New(DefaultConfig())
	pairs := [][2]model.RawRecord{
		{rec(1, "Hog", "x"), rec(2, "Hog/Pig", "x")},
		{rec(1, "Haus", "building"), rec(2, "Häuser", "building")},
		{rec(1, "Hog", ""), rec(2, "Hoggwash", "")},
	}
	for _, p := range pairs {
		assert.Equal(t, e.Similar(p[0], p[1]), e.Similar(p[1], p[0]))
	}
}

func TestSimilar_EmptyKeyNeverMatches(t *testing.T) {
	e := New(DefaultConfig())
	assert.False(t, e.Similar(rec(1, "", ""), rec(2, "", "")))
	assert.False(t, e.Similar(rec(1, "Hog", ""), rec(2, "  ", "")))
}

func TestCluster_Partition(t *testing.T) {
	e := New(DefaultConfig())
	records := []model.RawRecord{
		rec(1, "Hog", "farm animal"),
		rec(2, "Hog/Pig", "farm animal"),
		rec(3, "Hoggwash", "nonsense"),
		rec(4, "Katze", "house cat"),
		rec(5, "katze", "a cat"),
	}

	clusters := e.Cluster(records)
	require.Len(t, clusters, 3)

	// Every record in exactly one cluster, input order preserved.
	seen := make(map[int64]int)
	total := 0
	for _, c := range clusters {
		for _, m := range c.Members() {
			seen[m.ID]++
			total++
		}
	}
	assert.Equal(t, len(records), total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "record %d must appear exactly once", id)
	}

	assert.Equal(t, int64(1), clusters[0].Primary.ID)
	require.Len(t, clusters[0].Duplicates, 1)
	assert.Equal(t, int64(2), clusters[0].Duplicates[0].ID)
	assert.Equal(t, int64(3), clusters[1].Primary.ID)
	assert.Empty(t, clusters[1].Duplicates)
	assert.Equal(t, int64(4), clusters[2].Primary.ID)
}

func TestCluster_TransitiveViaMember(t *testing.T) {
	e := New(DefaultConfig())
	// "Pig" is not similar to "Hog" directly but joins through the
	// "Hog/Pig" member already in the cluster.
	records := []model.RawRecord{
		rec(1, "Hog", ""),
		rec(2, "Hog/Pig", ""),
		rec(3, "Pig", ""),
	}

	clusters := e.Cluster(records)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Duplicates, 2)
}

func TestCluster_MergedNotes(t *testing.T) {
	e := New(DefaultConfig())
	records := []model.RawRecord{
		rec(1, "Hog", "farm animal"),
		rec(2, "Hog/Pig", "also slang for a motorcycle"),
		rec(3, "hog", "farm animal"),
	}

	clusters := e.Cluster(records)
	require.Len(t, clusters, 1)
	assert.Equal(t, "farm animal | also slang for a motorcycle", clusters[0].MergedNotes,
		"notes are concatenated with the separator, duplicates collapsed")
}

func TestCluster_Empty(t *testing.T) {
	e := New(DefaultConfig())
	assert.Empty(t, e.Cluster(nil))
}

func TestNew_ZeroConfigGetsDefaults(t *testing.T) {
	e := New(Config{})
	assert.InDelta(t, 0.8, e.cfg.KeyThreshold, 1e-9)
	assert.InDelta(t, 0.7, e.cfg.NotesThreshold, 1e-9)
}
