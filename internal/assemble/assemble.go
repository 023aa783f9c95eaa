// Package assemble builds the per-item context handed to the oracle:
// dictionary senses for the words in the text, idioms known to occur
// inside it, and a window of neighboring items from the same concept.
package assemble

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lexbook/lexipipe/internal/model"
	"github.com/lexbook/lexipipe/internal/normalize"
)

// DefaultWindowRadius is how many neighbors on each side of an item
// are pulled in for discourse context.
const DefaultWindowRadius = 2

// Store is the read-only surface the assembler needs.
type Store interface {
	SensesByLabels(ctx context.Context, labels []string) (map[string][]model.Sense, error)
	HighlightsWithin(ctx context.Context, text string) ([]model.Highlight, error)
	Window(ctx context.Context, conceptID int64, seqNum, radius int) ([]model.WorkItem, error)
}

// ItemContext is everything the oracle gets to see about one item
// beyond its raw text.
type ItemContext struct {
	Item      model.WorkItem
	Senses    map[string][]model.Sense
	Idioms    []model.Highlight
	Neighbors []model.WorkItem
}

// Assembler gathers context for batches of work items.
type Assembler struct {
	store        Store
	windowRadius int
}

// New creates an Assembler. A radius of zero disables the neighbor
// window.
func New(store Store, windowRadius int) *Assembler {
	return &Assembler{store: store, windowRadius: windowRadius}
}

// Batch assembles context for a batch of items with a single
// dictionary query. Per-item lookups (idioms, neighbors) still run
// once per item but stay read-only.
func (a *Assembler) Batch(ctx context.Context, items []model.WorkItem) ([]ItemContext, error) {
	if len(items) == 0 {
		return nil, nil
	}

	// One senses query for the whole batch.
	var words []string
	seen := make(map[string]bool)
	for _, it := range items {
		for _, w := range normalize.Words(it.SourceText) {
			if !seen[w] {
				seen[w] = true
				words = append(words, w)
			}
		}
	}

	senses, err := a.store.SensesByLabels(ctx, words)
	if err != nil {
		return nil, eris.Wrap(err, "assemble: senses lookup")
	}

	out := make([]ItemContext, 0, len(items))
	for _, it := range items {
		ic := ItemContext{Item: it, Senses: sensesFor(it.SourceText, senses)}

		ic.Idioms, err = a.store.HighlightsWithin(ctx, it.SourceText)
		if err != nil {
			return nil, eris.Wrapf(err, "assemble: idiom lookup for item %d", it.ID)
		}

		if a.windowRadius > 0 && it.ConceptID != 0 {
			ic.Neighbors, err = a.store.Window(ctx, it.ConceptID, it.SeqNum, a.windowRadius)
			if err != nil {
				return nil, eris.Wrapf(err, "assemble: window for item %d", it.ID)
			}
		}

		out = append(out, ic)
	}

	zap.L().Debug("assemble: batch context built",
		zap.Int("items", len(items)),
		zap.Int("dictionary_words", len(words)))
	return out, nil
}

// sensesFor filters the batch-wide senses map down to the words of one
// item.
func sensesFor(text string, all map[string][]model.Sense) map[string][]model.Sense {
	out := make(map[string][]model.Sense)
	for _, w := range normalize.Words(text) {
		if s, ok := all[w]; ok {
			out[w] = s
		}
	}
	return out
}
