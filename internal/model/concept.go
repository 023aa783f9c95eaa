package model

// Language identifies which side of the bilingual corpus a label
// belongs to.
type Language string

const (
	LanguageSource Language = "de"
	LanguageTarget Language = "en"
)

// Concept is a canonical headword/sense with a stable identifier.
// Concepts are upserted by normalized label; everything else in the
// knowledge base hangs off a concept id.
type Concept struct {
	ID           int64    `json:"id"`
	Label        string   `json:"label"`
	PartOfSpeech string   `json:"part_of_speech,omitempty"`
	Language     Language `json:"language"`
}

// Relation is a directed typed edge between two concepts. Relations
// are only created once the target concept has been resolved.
type Relation struct {
	SourceID int64  `json:"source_id"`
	TargetID int64  `json:"target_id"`
	Type     string `json:"type"`
	Note     string `json:"note,omitempty"`
}

// RelationRef is a relation as discovered in oracle output: the target
// is still a dirty free-text term that must go through the resolution
// cascade before a Relation can be written.
type RelationRef struct {
	SourceID  int64  `json:"source_id"`
	TargetRef string `json:"target_ref"`
	Type      string `json:"type"`
	Note      string `json:"note,omitempty"`
}

// Sense carries structured linguistic metadata for one dictionary
// sense, returned by batched term lookups in the context assembler.
type Sense struct {
	ConceptID    int64  `json:"concept_id"`
	Label        string `json:"label"`
	PartOfSpeech string `json:"part_of_speech,omitempty"`
	Gloss        string `json:"gloss,omitempty"`
}
