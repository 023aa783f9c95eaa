package pipeline

import (
	"fmt"
	"strings"

	"github.com/lexbook/lexipipe/internal/assemble"
)

const systemPrompt = `You are a bilingual lexicographer cleaning a German-English corpus.
For the given German entry, correct spelling and grammar, produce the best
English translation, and annotate noteworthy idioms or collocations.
Respond with a single JSON object and nothing else:
{
  "corrected": "cleaned German text",
  "translation": "best English translation",
  "confidence": 0.0-1.0,
  "notes": "optional remarks",
  "alternates": [{"text": "...", "translation": "...", "confidence": 0.0}],
  "highlights": [{"term": "...", "gloss": "...", "explanation": "...", "category": "idiom|collocation|false_friend", "relevance": 1-10}],
  "relations": [{"target": "headword this refers to", "type": "synonym|antonym|see_also", "note": "..."}]
}`

// buildPrompt renders one item's context into the user message.
func buildPrompt(ic assemble.ItemContext, mergedNotes string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Entry: %s\n", ic.Item.SourceText)
	if ic.Item.TargetHint != "" {
		fmt.Fprintf(&b, "Existing translation hint: %s\n", ic.Item.TargetHint)
	}
	if mergedNotes != "" {
		fmt.Fprintf(&b, "Merged notes from near-duplicate entries: %s\n", mergedNotes)
	}

	if len(ic.Senses) > 0 {
		b.WriteString("\nKnown dictionary senses for words in the entry:\n")
		for word, senses := range ic.Senses {
			for _, s := range senses {
				fmt.Fprintf(&b, "- %s: %s (%s) = %s\n", word, s.Label, s.PartOfSpeech, s.Gloss)
			}
		}
	}

	if len(ic.Idioms) > 0 {
		b.WriteString("\nIdioms already known to occur in this entry:\n")
		for _, h := range ic.Idioms {
			fmt.Fprintf(&b, "- %s = %s\n", h.Term, h.Gloss)
		}
	}

	if len(ic.Neighbors) > 0 {
		b.WriteString("\nSurrounding entries for discourse context:\n")
		for _, n := range ic.Neighbors {
			fmt.Fprintf(&b, "- [%d] %s\n", n.SeqNum, n.SourceText)
		}
	}

	return b.String()
}
