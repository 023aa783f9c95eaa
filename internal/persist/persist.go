// Package persist validates oracle output and writes it to the
// lexicon. A response missing the required shape fails its work item;
// everything written is traceable back to the item id.
package persist

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lexbook/lexipipe/internal/model"
	"github.com/lexbook/lexipipe/internal/resilience"
)

// Store is the write surface the persister needs.
type Store interface {
	MarkCompleted(ctx context.Context, id int64) error
	MarkError(ctx context.Context, id int64, message string) error
	SaveResult(ctx context.Context, res model.EnrichedResult) error
	UpsertHighlight(ctx context.Context, h model.Highlight) (bool, error)
	InsertRelation(ctx context.Context, r model.Relation) error
}

// Resolver maps a dirty reference to a concept id.
type Resolver interface {
	Resolve(ctx context.Context, term string) (int64, bool, error)
}

// Persister writes validated results.
type Persister struct {
	store    Store
	resolver Resolver
}

// New creates a Persister.
func New(store Store, resolver Resolver) *Persister {
	return &Persister{store: store, resolver: resolver}
}

// payload is the JSON shape the oracle is asked to produce.
type payload struct {
	Corrected   string   `json:"corrected"`
	Translation string   `json:"translation"`
	Confidence  *float64 `json:"confidence"`
	Notes       string   `json:"notes"`
	Alternates  []struct {
		Text        string  `json:"text"`
		Translation string  `json:"translation"`
		Confidence  float64 `json:"confidence"`
	} `json:"alternates"`
	Highlights []struct {
		Term        string `json:"term"`
		Gloss       string `json:"gloss"`
		Explanation string `json:"explanation"`
		Category    string `json:"category"`
		Relevance   int    `json:"relevance"`
	} `json:"highlights"`
	Relations []struct {
		Target string `json:"target"`
		Type   string `json:"type"`
		Note   string `json:"note"`
	} `json:"relations"`
}

// Parse turns raw oracle text into a validated result. A non-parseable
// or structurally incomplete payload returns an InvalidPayloadError.
func Parse(itemID int64, raw string) (*model.EnrichedResult, []model.RelationRef, error) {
	cleaned := cleanJSON(raw)
	if cleaned == "" {
		return nil, nil, resilience.NewInvalidPayloadError(eris.New("empty response body"))
	}

	var p payload
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return nil, nil, resilience.NewInvalidPayloadError(eris.Wrap(err, "unmarshal oracle payload"))
	}

	switch {
	case strings.TrimSpace(p.Corrected) == "":
		return nil, nil, resilience.NewInvalidPayloadError(eris.New("payload missing corrected text"))
	case strings.TrimSpace(p.Translation) == "":
		return nil, nil, resilience.NewInvalidPayloadError(eris.New("payload missing translation"))
	case p.Confidence == nil:
		return nil, nil, resilience.NewInvalidPayloadError(eris.New("payload missing confidence"))
	}

	res := &model.EnrichedResult{
		WorkItemID:  itemID,
		Corrected:   strings.TrimSpace(p.Corrected),
		Translation: strings.TrimSpace(p.Translation),
		Confidence:  *p.Confidence,
		Notes:       p.Notes,
	}
	for _, a := range p.Alternates {
		res.Alternates = append(res.Alternates, model.Alternate{
			Text:        a.Text,
			Translation: a.Translation,
			Confidence:  a.Confidence,
		})
	}
	for _, h := range p.Highlights {
		if strings.TrimSpace(h.Term) == "" {
			continue
		}
		res.Highlights = append(res.Highlights, model.Highlight{
			WorkItemID:  itemID,
			Term:        h.Term,
			Gloss:       h.Gloss,
			Explanation: h.Explanation,
			Category:    h.Category,
			Relevance:   h.Relevance,
		})
	}

	var refs []model.RelationRef
	for _, r := range p.Relations {
		if strings.TrimSpace(r.Target) == "" {
			continue
		}
		refs = append(refs, model.RelationRef{
			TargetRef: r.Target,
			Type:      r.Type,
			Note:      r.Note,
		})
	}
	return res, refs, nil
}

// Persist validates and writes one oracle response. A validation
// failure marks the item error, writes nothing else, and reports
// ok=false; unresolved relation references are logged and skipped. The
// returned error means the store itself failed.
func (p *Persister) Persist(ctx context.Context, item model.WorkItem, rawText string) (bool, error) {
	log := zap.L().With(zap.Int64("work_item_id", item.ID))

	res, refs, err := Parse(item.ID, rawText)
	if err != nil {
		log.Warn("persist: rejecting oracle response", zap.Error(err))
		if markErr := p.store.MarkError(ctx, item.ID, err.Error()); markErr != nil {
			return false, eris.Wrapf(markErr, "persist: mark error for item %d", item.ID)
		}
		return false, nil
	}

	if err := p.store.SaveResult(ctx, *res); err != nil {
		return false, eris.Wrapf(err, "persist: save result for item %d", item.ID)
	}

	for _, h := range res.Highlights {
		written, err := p.store.UpsertHighlight(ctx, h)
		if err != nil {
			return false, eris.Wrapf(err, "persist: upsert highlight %q", h.Term)
		}
		if !written {
			log.Debug("persist: highlight kept at higher relevance", zap.String("term", h.Term))
		}
	}

	p.persistRelations(ctx, log, item, refs)

	if err := p.store.MarkCompleted(ctx, item.ID); err != nil {
		return false, eris.Wrapf(err, "persist: mark completed for item %d", item.ID)
	}
	return true, nil
}

// persistRelations resolves and writes discovered cross-references.
// Failures here never fail the item: a missed reference is a lost
// edge, not lost enrichment.
func (p *Persister) persistRelations(ctx context.Context, log *zap.Logger, item model.WorkItem, refs []model.RelationRef) {
	if len(refs) == 0 {
		return
	}
	if item.ConceptID == 0 {
		log.Debug("persist: item has no concept, skipping relations", zap.Int("refs", len(refs)))
		return
	}

	for _, ref := range refs {
		targetID, ok, err := p.resolver.Resolve(ctx, ref.TargetRef)
		if err != nil {
			log.Warn("persist: relation resolution failed",
				zap.String("target", ref.TargetRef), zap.Error(err))
			continue
		}
		if !ok {
			log.Info("persist: unresolved relation reference",
				zap.String("target", ref.TargetRef), zap.String("type", ref.Type))
			continue
		}
		rel := model.Relation{
			SourceID: item.ConceptID,
			TargetID: targetID,
			Type:     ref.Type,
			Note:     ref.Note,
		}
		if err := p.store.InsertRelation(ctx, rel); err != nil {
			log.Warn("persist: insert relation failed",
				zap.Int64("target_id", targetID), zap.Error(err))
		}
	}
}

// cleanJSON strips markdown fences and trims to the outermost object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
