package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexbook/lexipipe/internal/model"
	"github.com/lexbook/lexipipe/internal/normalize"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeLookup resolves against two in-memory maps, normalizing the way
// the real store does.
type fakeLookup struct {
	labels  map[string]int64
	foreign map[string]int64
	queries []string
}

func (f *fakeLookup) ConceptIDByLabel(_ context.Context, label string, _ model.Language) (int64, bool, error) {
	f.queries = append(f.queries, label)
	id, ok := f.labels[normalize.Key(label)]
	return id, ok, nil
}

func (f *fakeLookup) ConceptIDByForeignTerm(_ context.Context, term string) (int64, bool, error) {
	id, ok := f.foreign[normalize.Key(term)]
	return id, ok, nil
}

func newFake(labels map[string]int64) *fakeLookup {
	return &fakeLookup{labels: labels, foreign: map[string]int64{}}
}

func TestResolve_Exact(t *testing.T) {
	r := New(newFake(map[string]int64{"haus": 1}))
	id, ok, err := r.Resolve(context.Background(), "Haus")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
}

func TestResolve_CleanedFootnoteMarker(t *testing.T) {
	r := New(newFake(map[string]int64{"haus": 1}))

	for _, dirty := range []string{"Haus²", "Haus3", "Haus.", "Haus (Gebäude)"} {
		id, ok, err := r.Resolve(context.Background(), dirty)
		require.NoError(t, err)
		require.True(t, ok, "should resolve %q", dirty)
		assert.Equal(t, int64(1), id)
	}
}

func TestResolve_CleanedReflexiveMarker(t *testing.T) {
	r := New(newFake(map[string]int64{"anziehen": 4}))

	for _, dirty := range []string{"anziehen + sich", "anziehen +sich"} {
		id, ok, err := r.Resolve(context.Background(), dirty)
		require.NoError(t, err)
		require.True(t, ok, "should resolve %q", dirty)
		assert.Equal(t, int64(4), id)
	}
}

func TestResolve_AlternationPlainSides(t *testing.T) {
	r := New(newFake(map[string]int64{"schwein": 9}))
	id, ok, err := r.Resolve(context.Background(), "Hog/Schwein")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(9), id)
}

func TestResolve_AlternationSharedTail(t *testing.T) {
	r := New(newFake(map[string]int64{"haupteingang": 7}))
	id, ok, err := r.Resolve(context.Background(), "Haupt-/Nebeneingang")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), id)
}

func TestResolve_AlternationSharedHead(t *testing.T) {
	r := New(newFake(map[string]int64{"hauptausgang": 8}))
	id, ok, err := r.Resolve(context.Background(), "Haupteingang/-ausgang")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(8), id)
}

func TestResolve_Desuffix(t *testing.T) {
	r := New(newFake(map[string]int64{"hund": 3}))

	for _, dirty := range []string{"Hunden", "Hunde", "Hunds"} {
		id, ok, err := r.Resolve(context.Background(), dirty)
		require.NoError(t, err)
		require.True(t, ok, "should resolve %q", dirty)
		assert.Equal(t, int64(3), id)
	}
}

func TestResolve_DesuffixKeepsShortStemsOut(t *testing.T) {
	r := New(newFake(map[string]int64{"ei": 5}))
	_, ok, err := r.Resolve(context.Background(), "Eis")
	require.NoError(t, err)
	assert.False(t, ok, "stems shorter than three runes are not tried")
}

func TestResolve_FirstWord(t *testing.T) {
	r := New(newFake(map[string]int64{"hund": 3}))
	id, ok, err := r.Resolve(context.Background(), "Hund, Genitiv Hundes")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), id)
}

func TestResolve_CrossLanguage(t *testing.T) {
	fake := newFake(map[string]int64{})
	fake.foreign["dog"] = 3
	r := New(fake)

	id, ok, err := r.Resolve(context.Background(), "dog")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), id)
}

func TestResolve_Miss(t *testing.T) {
	r := New(newFake(map[string]int64{}))
	id, ok, err := r.Resolve(context.Background(), "völlig unbekannt")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, id)
}

func TestResolve_EmptyTerm(t *testing.T) {
	fake := newFake(map[string]int64{})
	r := New(fake)
	_, ok, err := r.Resolve(context.Background(), "   ")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, fake.queries, "blank input must not hit the store")
}

func TestResolve_EarlierStrategyWins(t *testing.T) {
	// "Hunde" resolves exactly AND via de-suffixing; the exact hit
	// must win and stop the cascade.
	fake := newFake(map[string]int64{"hunde": 10, "hund": 3})
	r := New(fake)

	id, ok, err := r.Resolve(context.Background(), "Hunde")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), id)
	require.Len(t, fake.queries, 1)
}

func TestResolve_Idempotent(t *testing.T) {
	r := New(newFake(map[string]int64{"haus": 1}))
	for i := 0; i < 3; i++ {
		id, ok, err := r.Resolve(context.Background(), "Haus²")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(1), id)
	}
}

func TestCleanTerm(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Haus²", "Haus"},
		{"Haus3", "Haus"},
		{"Haus.", "Haus"},
		{"gehen (zu Fuß)", "gehen"},
		{"anziehen + sich", "anziehen"},
		{"schon sauber", "schon sauber"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanTerm(tt.in), "cleanTerm(%q)", tt.in)
	}
}

func TestExpandSides(t *testing.T) {
	got := expandSides("Haupt-", "Nebeneingang")
	assert.Contains(t, got, "Haupteingang")
	assert.Contains(t, got, "Nebeneingang")

	got = expandSides("Haupteingang", "-ausgang")
	assert.Contains(t, got, "Hauptausgang")
	assert.Contains(t, got, "Haupteingang")

	// Longest completion first keeps greedy resolution precise.
	got = expandSides("A-", "BCDEF")
	assert.Equal(t, []string{"ACDEF", "ADEF", "BCDEF"}, got)
}
