// Package store persists the job ledger and the derived lexicon
// tables. The ledger is the single source of truth for what remains to
// be done; everything else is an append/upsert target driven by ledger
// transitions. Two backends are provided: Postgres (pgx) for the
// shared deployment and SQLite (modernc) for local runs.
package store

import (
	"context"

	"github.com/lexbook/lexipipe/internal/model"
)

// selectPageSize bounds each internal page when selecting pending
// items, so backends with per-request row caps still return every
// matching row up to the caller's limit.
const selectPageSize = 1000

// Ledger tracks work items through their lifecycle. MarkProcessing,
// MarkCompleted, and MarkError are the only legal transitions; an
// errored item is never deleted, so the next run's ResetStale pass can
// pick it up again.
type Ledger interface {
	// ResetStale moves every processing or error item back to pending.
	// Idempotent; run at pipeline start to recover from a crashed run.
	ResetStale(ctx context.Context) (int64, error)

	// SelectPending returns up to limit pending items ordered by
	// (concept_id, seq_num), paginating internally.
	SelectPending(ctx context.Context, limit int) ([]model.WorkItem, error)

	MarkProcessing(ctx context.Context, ids []int64) error
	MarkCompleted(ctx context.Context, id int64) error
	MarkError(ctx context.Context, id int64, message string) error

	// MarkPending returns items to the queue, used when a run's call
	// budget stops dispatch after items were already claimed.
	MarkPending(ctx context.Context, ids []int64) error

	// CountByStatus reports ledger totals for progress and status output.
	CountByStatus(ctx context.Context) (map[model.Status]int, error)

	// Window returns work items sharing conceptID whose seq_num lies
	// within radius of seqNum, ordered by seq_num. Read-only; used by
	// the context assembler for surrounding discourse.
	Window(ctx context.Context, conceptID int64, seqNum, radius int) ([]model.WorkItem, error)

	// InsertWorkItems seeds the ledger from an upstream ingestion step.
	InsertWorkItems(ctx context.Context, items []model.WorkItem) error
}

// Lexicon reads and writes the derived knowledge-base tables. All
// lookups are read-only; writes are upsert-oriented and scoped to a
// single work item so concurrent sub-batch members never collide.
type Lexicon interface {
	// UpsertConcept inserts or updates a concept keyed by its
	// normalized label and language, returning the concept id.
	UpsertConcept(ctx context.Context, c model.Concept) (int64, error)

	// ConceptIDByLabel resolves a normalized-exact label match.
	ConceptIDByLabel(ctx context.Context, label string, lang model.Language) (int64, bool, error)

	// ConceptIDByForeignTerm resolves a target-language term to its
	// linked concept (the cascade's cross-language fallback).
	ConceptIDByForeignTerm(ctx context.Context, term string) (int64, bool, error)

	// AddForeignTerm links a target-language term to a concept.
	AddForeignTerm(ctx context.Context, conceptID int64, term string) error

	// SensesByLabels returns linguistic metadata for each normalized
	// label, batched into one query per call.
	SensesByLabels(ctx context.Context, labels []string) (map[string][]model.Sense, error)

	// HighlightsWithin returns known highlights whose term occurs as a
	// substring of text.
	HighlightsWithin(ctx context.Context, text string) ([]model.Highlight, error)

	// UpsertHighlight writes a highlight keyed by normalized term,
	// overwriting an existing row only when the new relevance is
	// strictly higher. Returns whether the row was written.
	UpsertHighlight(ctx context.Context, h model.Highlight) (bool, error)

	// HighlightByTerm fetches a stored highlight, nil if absent.
	HighlightByTerm(ctx context.Context, term string) (*model.Highlight, error)

	// InsertRelation records a typed edge; duplicate edges are ignored.
	InsertRelation(ctx context.Context, r model.Relation) error

	// SaveResult writes the enriched result for a work item. Writing
	// twice for the same item replaces the previous row, keeping
	// persistence idempotent under at-least-once oracle calls.
	SaveResult(ctx context.Context, res model.EnrichedResult) error

	// ListConcepts and ListHighlights page through the derived tables
	// for the export surface.
	ListConcepts(ctx context.Context, offset, limit int) ([]model.Concept, error)
	ListHighlights(ctx context.Context, offset, limit int) ([]model.Highlight, error)
}

// Store is the full persistence surface for the pipeline.
type Store interface {
	Ledger
	Lexicon

	Migrate(ctx context.Context) error
	Close() error
}
