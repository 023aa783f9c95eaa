package model

// Highlight is a discovered idiom, place name, or cultural note
// extracted from a sentence. Highlights are deduplicated by normalized
// term; a stored highlight is only replaced by one with a strictly
// higher relevance score.
type Highlight struct {
	WorkItemID  int64  `json:"work_item_id"`
	Term        string `json:"term"`
	Gloss       string `json:"gloss"`
	Explanation string `json:"explanation,omitempty"`
	Category    string `json:"category,omitempty"`
	Relevance   int    `json:"relevance"`
}

// Alternate is a secondary cleaned/translated rendering of a sentence.
type Alternate struct {
	Text        string  `json:"text"`
	Translation string  `json:"translation"`
	Confidence  float64 `json:"confidence"`
}

// EnrichedResult is the validated output of one oracle call, owned by
// the work item that produced it.
type EnrichedResult struct {
	WorkItemID  int64         `json:"work_item_id"`
	Corrected   string        `json:"corrected"`
	Translation string        `json:"translation"`
	Confidence  float64       `json:"confidence"`
	Notes       string        `json:"notes,omitempty"`
	Alternates  []Alternate   `json:"alternates,omitempty"`
	Highlights  []Highlight   `json:"highlights,omitempty"`
	Relations   []RelationRef `json:"relations,omitempty"`
}
