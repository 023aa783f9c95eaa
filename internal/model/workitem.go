package model

import "time"

// Status represents the ledger state of a work item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsValid reports whether s is one of the known ledger states.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s is an end state for a run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// WorkItem is one raw unit of text awaiting enrichment: a sentence pair
// or a dictionary example attached to a headword. The ledger row is the
// single source of truth for what remains to be done.
type WorkItem struct {
	ID           int64     `json:"id"`
	ConceptID    int64     `json:"concept_id"`
	SeqNum       int       `json:"seq_num"`
	SourceText   string    `json:"source_text"`
	TargetHint   string    `json:"target_hint,omitempty"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RawRecord is one raw lexical record fed to the clustering engine.
// Key is the headword-ish text used for similarity; Notes carries the
// free-text explanation that travels with it.
type RawRecord struct {
	ID    int64  `json:"id"`
	Key   string `json:"key"`
	Notes string `json:"notes,omitempty"`
}

// Cluster groups near-duplicate raw records so they are enriched as
// one unit. Duplicate notes are merged, not discarded.
type Cluster struct {
	Primary     RawRecord   `json:"primary"`
	Duplicates  []RawRecord `json:"duplicates,omitempty"`
	MergedNotes string      `json:"merged_notes,omitempty"`
}

// Members returns the primary record followed by its duplicates.
func (c Cluster) Members() []RawRecord {
	out := make([]RawRecord, 0, 1+len(c.Duplicates))
	out = append(out, c.Primary)
	out = append(out, c.Duplicates...)
	return out
}
