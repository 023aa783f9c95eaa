package assemble

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexbook/lexipipe/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeStore struct {
	senses       map[string][]model.Sense
	highlights   []model.Highlight
	window       []model.WorkItem
	sensesCalls  int
	windowCalls  int
	queriedWords []string
}

func (f *fakeStore) SensesByLabels(_ context.Context, labels []string) (map[string][]model.Sense, error) {
	f.sensesCalls++
	f.queriedWords = labels
	out := make(map[string][]model.Sense)
	for _, l := range labels {
		if s, ok := f.senses[l]; ok {
			out[l] = s
		}
	}
	return out, nil
}

func (f *fakeStore) HighlightsWithin(_ context.Context, text string) ([]model.Highlight, error) {
	var out []model.Highlight
	for _, h := range f.highlights {
		if strings.Contains(strings.ToLower(text), strings.ToLower(h.Term)) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeStore) Window(_ context.Context, conceptID int64, seqNum, radius int) ([]model.WorkItem, error) {
	f.windowCalls++
	return f.window, nil
}

func TestBatch_OneDictionaryQueryPerBatch(t *testing.T) {
	store := &fakeStore{
		senses: map[string][]model.Sense{
			"hund":  {{ConceptID: 1, Label: "Hund", Gloss: "dog"}},
			"katze": {{ConceptID: 2, Label: "Katze", Gloss: "cat"}},
		},
	}
	a := New(store, 0)

	items := []model.WorkItem{
		{ID: 1, SourceText: "Der Hund bellt."},
		{ID: 2, SourceText: "Die Katze schläft."},
		{ID: 3, SourceText: "Der Hund und die Katze."},
	}

	contexts, err := a.Batch(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, contexts, 3)
	assert.Equal(t, 1, store.sensesCalls, "dictionary hit once per batch, not per item")

	// Each item sees only its own words' senses.
	assert.Contains(t, contexts[0].Senses, "hund")
	assert.NotContains(t, contexts[0].Senses, "katze")
	assert.Contains(t, contexts[1].Senses, "katze")
	assert.Contains(t, contexts[2].Senses, "hund")
	assert.Contains(t, contexts[2].Senses, "katze")
}

func TestBatch_DuplicateWordsQueriedOnce(t *testing.T) {
	store := &fakeStore{}
	a := New(store, 0)

	_, err := a.Batch(context.Background(), []model.WorkItem{
		{ID: 1, SourceText: "Hund Hund Hund"},
		{ID: 2, SourceText: "hund"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hund"}, store.queriedWords)
}

func TestBatch_IdiomsBySubstring(t *testing.T) {
	store := &fakeStore{
		highlights: []model.Highlight{
			{Term: "ins Gras beißen", Gloss: "to bite the dust"},
			{Term: "Hals- und Beinbruch", Gloss: "break a leg"},
		},
	}
	a := New(store, 0)

	contexts, err := a.Batch(context.Background(), []model.WorkItem{
		{ID: 1, SourceText: "Der alte Hund musste ins Gras beißen."},
	})
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	require.Len(t, contexts[0].Idioms, 1)
	assert.Equal(t, "ins Gras beißen", contexts[0].Idioms[0].Term)
}

func TestBatch_NeighborWindow(t *testing.T) {
	store := &fakeStore{
		window: []model.WorkItem{{ID: 10, SeqNum: 3}, {ID: 11, SeqNum: 5}},
	}
	a := New(store, 2)

	contexts, err := a.Batch(context.Background(), []model.WorkItem{
		{ID: 1, ConceptID: 7, SeqNum: 4, SourceText: "mitten im Text"},
	})
	require.NoError(t, err)
	require.Len(t, contexts[0].Neighbors, 2)
	assert.Equal(t, 1, store.windowCalls)
}

func TestBatch_ZeroRadiusSkipsWindow(t *testing.T) {
	store := &fakeStore{window: []model.WorkItem{{ID: 10}}}
	a := New(store, 0)

	contexts, err := a.Batch(context.Background(), []model.WorkItem{
		{ID: 1, ConceptID: 7, SeqNum: 4, SourceText: "egal"},
	})
	require.NoError(t, err)
	assert.Empty(t, contexts[0].Neighbors)
	assert.Zero(t, store.windowCalls)
}

func TestBatch_Empty(t *testing.T) {
	a := New(&fakeStore{}, 2)
	contexts, err := a.Batch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, contexts)
}
