package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/lexbook/lexipipe/internal/model"
	"github.com/lexbook/lexipipe/internal/normalize"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures
// WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS work_items (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	concept_id    INTEGER NOT NULL DEFAULT 0,
	seq_num       INTEGER NOT NULL DEFAULT 0,
	source_text   TEXT NOT NULL,
	target_hint   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT NOT NULL DEFAULT '',
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);
CREATE INDEX IF NOT EXISTS idx_work_items_order ON work_items(concept_id, seq_num);

CREATE TABLE IF NOT EXISTS concepts (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	label            TEXT NOT NULL,
	normalized_label TEXT NOT NULL,
	part_of_speech   TEXT NOT NULL DEFAULT '',
	language         TEXT NOT NULL DEFAULT 'de',
	UNIQUE (normalized_label, language)
);

CREATE TABLE IF NOT EXISTS concept_translations (
	concept_id      INTEGER NOT NULL REFERENCES concepts(id),
	term            TEXT NOT NULL,
	normalized_term TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS relations (
	source_id INTEGER NOT NULL,
	target_id INTEGER NOT NULL,
	rel_type  TEXT NOT NULL,
	note      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (source_id, target_id, rel_type)
);

CREATE TABLE IF NOT EXISTS highlights (
	normalized_term TEXT PRIMARY KEY,
	term            TEXT NOT NULL,
	gloss           TEXT NOT NULL DEFAULT '',
	explanation     TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	relevance       INTEGER NOT NULL DEFAULT 0,
	work_item_id    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS enriched_results (
	work_item_id INTEGER PRIMARY KEY,
	corrected    TEXT NOT NULL,
	translation  TEXT NOT NULL,
	confidence   REAL NOT NULL,
	notes        TEXT NOT NULL DEFAULT '',
	alternates   TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Ledger ---

func (s *SQLiteStore) ResetStale(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET status = ?, error_message = '', updated_at = ?
		 WHERE status IN (?, ?)`,
		string(model.StatusPending), time.Now().UTC(),
		string(model.StatusProcessing), string(model.StatusError),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reset stale")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: reset stale rows affected")
}

func (s *SQLiteStore) SelectPending(ctx context.Context, limit int) ([]model.WorkItem, error) {
	var items []model.WorkItem
	for offset := 0; limit <= 0 || len(items) < limit; offset += selectPageSize {
		page := selectPageSize
		if limit > 0 && limit-len(items) < page {
			page = limit - len(items)
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT id, concept_id, seq_num, source_text, target_hint, status, error_message, updated_at
			 FROM work_items WHERE status = ?
			 ORDER BY concept_id, seq_num, id
			 LIMIT ? OFFSET ?`,
			string(model.StatusPending), page, offset,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: select pending")
		}

		got := 0
		for rows.Next() {
			var it model.WorkItem
			if err := rows.Scan(&it.ID, &it.ConceptID, &it.SeqNum, &it.SourceText,
				&it.TargetHint, &it.Status, &it.ErrorMessage, &it.UpdatedAt); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "sqlite: scan work item")
			}
			items = append(items, it)
			got++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: select pending iterate")
		}
		rows.Close()

		if got < page {
			break // last page
		}
	}
	return items, nil
}

func (s *SQLiteStore) MarkProcessing(ctx context.Context, ids []int64) error {
	return eris.Wrap(s.markMany(ctx, ids, model.StatusProcessing), "sqlite: mark processing")
}

func (s *SQLiteStore) MarkPending(ctx context.Context, ids []int64) error {
	return eris.Wrap(s.markMany(ctx, ids, model.StatusPending), "sqlite: mark pending")
}

func (s *SQLiteStore) markMany(ctx context.Context, ids []int64, status model.Status) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+2)
	args = append(args, string(status), time.Now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET status = ?, updated_at = ? WHERE id IN (`+placeholders+`)`,
		args...,
	)
	return err
}

func (s *SQLiteStore) MarkCompleted(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET status = ?, error_message = '', updated_at = ? WHERE id = ?`,
		string(model.StatusCompleted), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark completed %d", id)
	}
	return checkRowsAffected(res, "work item", id)
}

func (s *SQLiteStore) MarkError(ctx context.Context, id int64, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(model.StatusError), message, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark error %d", id)
	}
	return checkRowsAffected(res, "work item", id)
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.Status(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by status iterate")
}

func (s *SQLiteStore) Window(ctx context.Context, conceptID int64, seqNum, radius int) ([]model.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, concept_id, seq_num, source_text, target_hint, status, error_message, updated_at
		 FROM work_items
		 WHERE concept_id = ? AND seq_num BETWEEN ? AND ? AND seq_num != ?
		 ORDER BY seq_num`,
		conceptID, seqNum-radius, seqNum+radius, seqNum,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: window for concept %d", conceptID)
	}
	defer rows.Close()

	var items []model.WorkItem
	for rows.Next() {
		var it model.WorkItem
		if err := rows.Scan(&it.ID, &it.ConceptID, &it.SeqNum, &it.SourceText,
			&it.TargetHint, &it.Status, &it.ErrorMessage, &it.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan window item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: window iterate")
}

func (s *SQLiteStore) InsertWorkItems(ctx context.Context, items []model.WorkItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert work items")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO work_items (concept_id, seq_num, source_text, target_hint, status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert work items")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, it := range items {
		status := it.Status
		if status == "" {
			status = model.StatusPending
		}
		if _, err := stmt.ExecContext(ctx,
			it.ConceptID, it.SeqNum, it.SourceText, it.TargetHint, string(status), now); err != nil {
			return eris.Wrap(err, "sqlite: insert work item")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert work items")
}

// --- Lexicon ---

func (s *SQLiteStore) UpsertConcept(ctx context.Context, c model.Concept) (int64, error) {
	key := normalize.Key(c.Label)
	lang := c.Language
	if lang == "" {
		lang = model.LanguageSource
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO concepts (label, normalized_label, part_of_speech, language)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (normalized_label, language) DO UPDATE SET
		   label = excluded.label,
		   part_of_speech = CASE WHEN excluded.part_of_speech != '' THEN excluded.part_of_speech ELSE concepts.part_of_speech END`,
		c.Label, key, c.PartOfSpeech, string(lang),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: upsert concept %q", c.Label)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM concepts WHERE normalized_label = ? AND language = ?`,
		key, string(lang),
	).Scan(&id)
	return id, eris.Wrapf(err, "sqlite: upsert concept %q id", c.Label)
}

func (s *SQLiteStore) ConceptIDByLabel(ctx context.Context, label string, lang model.Language) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM concepts WHERE normalized_label = ? AND language = ?`,
		normalize.Key(label), string(lang),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrapf(err, "sqlite: concept by label %q", label)
	}
	return id, true, nil
}

func (s *SQLiteStore) ConceptIDByForeignTerm(ctx context.Context, term string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT concept_id FROM concept_translations WHERE normalized_term = ?`,
		normalize.Key(term),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrapf(err, "sqlite: concept by foreign term %q", term)
	}
	return id, true, nil
}

func (s *SQLiteStore) AddForeignTerm(ctx context.Context, conceptID int64, term string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO concept_translations (concept_id, term, normalized_term)
		 VALUES (?, ?, ?)
		 ON CONFLICT (normalized_term) DO NOTHING`,
		conceptID, term, normalize.Key(term),
	)
	return eris.Wrapf(err, "sqlite: add foreign term %q", term)
}

func (s *SQLiteStore) SensesByLabels(ctx context.Context, labels []string) (map[string][]model.Sense, error) {
	out := make(map[string][]model.Sense)
	if len(labels) == 0 {
		return out, nil
	}

	keys := make([]any, 0, len(labels))
	for _, l := range labels {
		keys = append(keys, normalize.Key(l))
	}
	placeholders := strings.Repeat("?,", len(keys))
	placeholders = placeholders[:len(placeholders)-1]

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.label, c.normalized_label, c.part_of_speech,
		        COALESCE(t.term, '')
		 FROM concepts c
		 LEFT JOIN concept_translations t ON t.concept_id = c.id
		 WHERE c.normalized_label IN (`+placeholders+`)`,
		keys...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: senses by labels")
	}
	defer rows.Close()

	for rows.Next() {
		var s model.Sense
		var key string
		if err := rows.Scan(&s.ConceptID, &s.Label, &key, &s.PartOfSpeech, &s.Gloss); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sense")
		}
		out[key] = append(out[key], s)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: senses iterate")
}

func (s *SQLiteStore) HighlightsWithin(ctx context.Context, text string) ([]model.Highlight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT work_item_id, term, gloss, explanation, category, relevance
		 FROM highlights WHERE instr(?, normalized_term) > 0`,
		normalize.Key(text),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: highlights within")
	}
	defer rows.Close()

	return scanHighlights(rows)
}

// UpsertHighlight never lowers relevance. The conflict key is the bare
// normalized term, which can merge unrelated senses of a homonym; a
// homonym-safe key would need the concept id folded in.
func (s *SQLiteStore) UpsertHighlight(ctx context.Context, h model.Highlight) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO highlights (normalized_term, term, gloss, explanation, category, relevance, work_item_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (normalized_term) DO UPDATE SET
		   term = excluded.term,
		   gloss = excluded.gloss,
		   explanation = excluded.explanation,
		   category = excluded.category,
		   relevance = excluded.relevance,
		   work_item_id = excluded.work_item_id
		 WHERE excluded.relevance > highlights.relevance`,
		normalize.Key(h.Term), h.Term, h.Gloss, h.Explanation, h.Category, h.Relevance, h.WorkItemID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: upsert highlight %q", h.Term)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: upsert highlight rows affected")
}

func (s *SQLiteStore) HighlightByTerm(ctx context.Context, term string) (*model.Highlight, error) {
	var h model.Highlight
	err := s.db.QueryRowContext(ctx,
		`SELECT work_item_id, term, gloss, explanation, category, relevance
		 FROM highlights WHERE normalized_term = ?`,
		normalize.Key(term),
	).Scan(&h.WorkItemID, &h.Term, &h.Gloss, &h.Explanation, &h.Category, &h.Relevance)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: highlight by term %q", term)
	}
	return &h, nil
}

func (s *SQLiteStore) InsertRelation(ctx context.Context, r model.Relation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relations (source_id, target_id, rel_type, note)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (source_id, target_id, rel_type) DO NOTHING`,
		r.SourceID, r.TargetID, r.Type, r.Note,
	)
	return eris.Wrapf(err, "sqlite: insert relation %d->%d", r.SourceID, r.TargetID)
}

func (s *SQLiteStore) SaveResult(ctx context.Context, res model.EnrichedResult) error {
	alternates, err := json.Marshal(res.Alternates)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal alternates")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enriched_results (work_item_id, corrected, translation, confidence, notes, alternates, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (work_item_id) DO UPDATE SET
		   corrected = excluded.corrected,
		   translation = excluded.translation,
		   confidence = excluded.confidence,
		   notes = excluded.notes,
		   alternates = excluded.alternates,
		   created_at = excluded.created_at`,
		res.WorkItemID, res.Corrected, res.Translation, res.Confidence, res.Notes,
		string(alternates), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save result for item %d", res.WorkItemID)
}

func (s *SQLiteStore) ListConcepts(ctx context.Context, offset, limit int) ([]model.Concept, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, part_of_speech, language FROM concepts
		 ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list concepts")
	}
	defer rows.Close()

	var out []model.Concept
	for rows.Next() {
		var c model.Concept
		var lang string
		if err := rows.Scan(&c.ID, &c.Label, &c.PartOfSpeech, &lang); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan concept")
		}
		c.Language = model.Language(lang)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list concepts iterate")
}

func (s *SQLiteStore) ListHighlights(ctx context.Context, offset, limit int) ([]model.Highlight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT work_item_id, term, gloss, explanation, category, relevance
		 FROM highlights ORDER BY normalized_term LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list highlights")
	}
	defer rows.Close()

	return scanHighlights(rows)
}

// --- helpers ---

func scanHighlights(rows *sql.Rows) ([]model.Highlight, error) {
	var out []model.Highlight
	for rows.Next() {
		var h model.Highlight
		if err := rows.Scan(&h.WorkItemID, &h.Term, &h.Gloss, &h.Explanation, &h.Category, &h.Relevance); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan highlight")
		}
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: highlights iterate")
}

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %d", entity, id)
	}
	return nil
}
