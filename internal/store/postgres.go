package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/lexbook/lexipipe/internal/model"
	"github.com/lexbook/lexipipe/internal/normalize"
)

// Pool is the subset of pgxpool.Pool the store uses; satisfied by
// *pgxpool.Pool and by pgxmock pools in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS work_items (
	id            BIGSERIAL PRIMARY KEY,
	concept_id    BIGINT NOT NULL DEFAULT 0,
	seq_num       INT NOT NULL DEFAULT 0,
	source_text   TEXT NOT NULL,
	target_hint   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);
CREATE INDEX IF NOT EXISTS idx_work_items_order ON work_items(concept_id, seq_num);

CREATE TABLE IF NOT EXISTS concepts (
	id               BIGSERIAL PRIMARY KEY,
	label            TEXT NOT NULL,
	normalized_label TEXT NOT NULL,
	part_of_speech   TEXT NOT NULL DEFAULT '',
	language         TEXT NOT NULL DEFAULT 'de',
	UNIQUE (normalized_label, language)
);

CREATE TABLE IF NOT EXISTS concept_translations (
	concept_id      BIGINT NOT NULL REFERENCES concepts(id),
	term            TEXT NOT NULL,
	normalized_term TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS relations (
	source_id BIGINT NOT NULL,
	target_id BIGINT NOT NULL,
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
	relevance       INT NOT NULL DEFAULT 0,
	work_item_id    BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS enriched_results (
	work_item_id BIGINT PRIMARY KEY,
	corrected    TEXT NOT NULL,
	translation  TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	notes        TEXT NOT NULL DEFAULT '',
	alternates   JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Ledger ---

func (s *PostgresStore) ResetStale(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE work_items SET status = $1, error_message = '', updated_at = now()
		 WHERE status = ANY($2)`,
		string(model.StatusPending),
		[]string{string(model.StatusProcessing), string(model.StatusError)},
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reset stale")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) SelectPending(ctx context.Context, limit int) ([]model.WorkItem, error) {
	var items []model.WorkItem
	for offset := 0; limit <= 0 || len(items) < limit; offset += selectPageSize {
		page := selectPageSize
		if limit > 0 && limit-len(items) < page {
			page = limit - len(items)
		}

		rows, err := s.pool.Query(ctx,
			`SELECT id, concept_id, seq_num, source_text, target_hint, status, error_message, updated_at
			 FROM work_items WHERE status = $1
			 ORDER BY concept_id, seq_num, id
			 LIMIT $2 OFFSET $3`,
			string(model.StatusPending), page, offset,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: select pending")
		}

		got := 0
		for rows.Next() {
			var it model.WorkItem
			if err := rows.Scan(&it.ID, &it.ConceptID, &it.SeqNum, &it.SourceText,
				&it.TargetHint, &it.Status, &it.ErrorMessage, &it.UpdatedAt); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "postgres: scan work item")
			}
			items = append(items, it)
			got++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: select pending iterate")
		}
		rows.Close()

		if got < page {
			break
		}
	}
	return items, nil
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, ids []int64) error {
	return eris.Wrap(s.markMany(ctx, ids, model.StatusProcessing), "postgres: mark processing")
}

func (s *PostgresStore) MarkPending(ctx context.Context, ids []int64) error {
	return eris.Wrap(s.markMany(ctx, ids, model.StatusPending), "postgres: mark pending")
}

func (s *PostgresStore) markMany(ctx context.Context, ids []int64, status model.Status) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE work_items SET status = $1, updated_at = now() WHERE id = ANY($2)`,
		string(status), ids,
	)
	return err
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE work_items SET status = $1, error_message = '', updated_at = now() WHERE id = $2`,
		string(model.StatusCompleted), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark completed %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("work item not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) MarkError(ctx context.Context, id int64, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE work_items SET status = $1, error_message = $2, updated_at = now() WHERE id = $3`,
		string(model.StatusError), message, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark error %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("work item not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.Status(status)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count by status iterate")
}

func (s *PostgresStore) Window(ctx context.Context, conceptID int64, seqNum, radius int) ([]model.WorkItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, concept_id, seq_num, source_text, target_hint, status, error_message, updated_at
		 FROM work_items
		 WHERE concept_id = $1 AND seq_num BETWEEN $2 AND $3 AND seq_num != $4
		 ORDER BY seq_num`,
		conceptID, seqNum-radius, seqNum+radius, seqNum,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: window for concept %d", conceptID)
	}
	defer rows.Close()

	var items []model.WorkItem
	for rows.Next() {
		var it model.WorkItem
		if err := rows.Scan(&it.ID, &it.ConceptID, &it.SeqNum, &it.SourceText,
			&it.TargetHint, &it.Status, &it.ErrorMessage, &it.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan window item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: window iterate")
}

func (s *PostgresStore) InsertWorkItems(ctx context.Context, items []model.WorkItem) error {
	for _, it := range items {
		status := it.Status
		if status == "" {
			status = model.StatusPending
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO work_items (concept_id, seq_num, source_text, target_hint, status, updated_at)
			 VALUES ($1, $2, $3, $4, $5, now())`,
			it.ConceptID, it.SeqNum, it.SourceText, it.TargetHint, string(status),
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert work item")
		}
	}
	return nil
}

// --- Lexicon ---

func (s *PostgresStore) UpsertConcept(ctx context.Context, c model.Concept) (int64, error) {
	key := normalize.Key(c.Label)
	lang := c.Language
	if lang == "" {
		lang = model.LanguageSource
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO concepts (label, normalized_label, part_of_speech, language)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (normalized_label, language) DO UPDATE SET
		   label = EXCLUDED.label,
		   part_of_speech = CASE WHEN EXCLUDED.part_of_speech != '' THEN EXCLUDED.part_of_speech ELSE concepts.part_of_speech END
		 RETURNING id`,
		c.Label, key, c.PartOfSpeech, string(lang),
	).Scan(&id)
	return id, eris.Wrapf(err, "postgres: upsert concept %q", c.Label)
}

func (s *PostgresStore) ConceptIDByLabel(ctx context.Context, label string, lang model.Language) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM concepts WHERE normalized_label = $1 AND language = $2`,
		normalize.Key(label), string(lang),
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrapf(err, "postgres: concept by label %q", label)
	}
	return id, true, nil
}

func (s *PostgresStore) ConceptIDByForeignTerm(ctx context.Context, term string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT concept_id FROM concept_translations WHERE normalized_term = $1`,
		normalize.Key(term),
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrapf(err, "postgres: concept by foreign term %q", term)
	}
	return id, true, nil
}

func (s *PostgresStore) AddForeignTerm(ctx context.Context, conceptID int64, term string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO concept_translations (concept_id, term, normalized_term)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (normalized_term) DO NOTHING`,
		conceptID, term, normalize.Key(term),
	)
	return eris.Wrapf(err, "postgres: add foreign term %q", term)
}

func (s *PostgresStore) SensesByLabels(ctx context.Context, labels []string) (map[string][]model.Sense, error) {
	out := make(map[string][]model.Sense)
	if len(labels) == 0 {
		return out, nil
	}

	keys := make([]string, 0, len(labels))
	for _, l := range labels {
		keys = append(keys, normalize.Key(l))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.label, c.normalized_label, c.part_of_speech,
		        COALESCE(t.term, '')
		 FROM concepts c
		 LEFT JOIN concept_translations t ON t.concept_id = c.id
		 WHERE c.normalized_label = ANY($1)`,
		keys,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: senses by labels")
	}
	defer rows.Close()

	for rows.Next() {
		var sense model.Sense
		var key string
		if err := rows.Scan(&sense.ConceptID, &sense.Label, &key, &sense.PartOfSpeech, &sense.Gloss); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sense")
		}
		out[key] = append(out[key], sense)
	}
	return out, eris.Wrap(rows.Err(), "postgres: senses iterate")
}

func (s *PostgresStore) HighlightsWithin(ctx context.Context, text string) ([]model.Highlight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT work_item_id, term, gloss, explanation, category, relevance
		 FROM highlights WHERE strpos($1, normalized_term) > 0`,
		normalize.Key(text),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: highlights within")
	}
	defer rows.Close()

	return scanPgHighlights(rows)
}

// UpsertHighlight never lowers relevance. Same homonym caveat as the
// SQLite backend: the conflict key is the bare normalized term.
func (s *PostgresStore) UpsertHighlight(ctx context.Context, h model.Highlight) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO highlights (normalized_term, term, gloss, explanation, category, relevance, work_item_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (normalized_term) DO UPDATE SET
		   term = EXCLUDED.term,
		   gloss = EXCLUDED.gloss,
		   explanation = EXCLUDED.explanation,
		   category = EXCLUDED.category,
		   relevance = EXCLUDED.relevance,
		   work_item_id = EXCLUDED.work_item_id
		 WHERE EXCLUDED.relevance > highlights.relevance`,
		normalize.Key(h.Term), h.Term, h.Gloss, h.Explanation, h.Category, h.Relevance, h.WorkItemID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert highlight %q", h.Term)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) HighlightByTerm(ctx context.Context, term string) (*model.Highlight, error) {
	var h model.Highlight
	err := s.pool.QueryRow(ctx,
		`SELECT work_item_id, term, gloss, explanation, category, relevance
		 FROM highlights WHERE normalized_term = $1`,
		normalize.Key(term),
	).Scan(&h.WorkItemID, &h.Term, &h.Gloss, &h.Explanation, &h.Category, &h.Relevance)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: highlight by term %q", term)
	}
	return &h, nil
}

func (s *PostgresStore) InsertRelation(ctx context.Context, r model.Relation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO relations (source_id, target_id, rel_type, note)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (source_id, target_id, rel_type) DO NOTHING`,
		r.SourceID, r.TargetID, r.Type, r.Note,
	)
	return eris.Wrapf(err, "postgres: insert relation %d->%d", r.SourceID, r.TargetID)
}

func (s *PostgresStore) SaveResult(ctx context.Context, res model.EnrichedResult) error {
	alternates, err := json.Marshal(res.Alternates)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal alternates")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO enriched_results (work_item_id, corrected, translation, confidence, notes, alternates, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (work_item_id) DO UPDATE SET
		   corrected = EXCLUDED.corrected,
		   translation = EXCLUDED.translation,
		   confidence = EXCLUDED.confidence,
		   notes = EXCLUDED.notes,
		   alternates = EXCLUDED.alternates,
		   created_at = EXCLUDED.created_at`,
		res.WorkItemID, res.Corrected, res.Translation, res.Confidence, res.Notes, alternates,
	)
	return eris.Wrapf(err, "postgres: save result for item %d", res.WorkItemID)
}

func (s *PostgresStore) ListConcepts(ctx context.Context, offset, limit int) ([]model.Concept, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, label, part_of_speech, language FROM concepts
		 ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list concepts")
	}
	defer rows.Close()

	var out []model.Concept
	for rows.Next() {
		var c model.Concept
		var lang string
		if err := rows.Scan(&c.ID, &c.Label, &c.PartOfSpeech, &lang); err != nil {
			return nil, eris.Wrap(err, "postgres: scan concept")
		}
		c.Language = model.Language(lang)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list concepts iterate")
}

func (s *PostgresStore) ListHighlights(ctx context.Context, offset, limit int) ([]model.Highlight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT work_item_id, term, gloss, explanation, category, relevance
		 FROM highlights ORDER BY normalized_term LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list highlights")
	}
	defer rows.Close()

	return scanPgHighlights(rows)
}

func scanPgHighlights(rows pgx.Rows) ([]model.Highlight, error) {
	var out []model.Highlight
	for rows.Next() {
		var h model.Highlight
		if err := rows.Scan(&h.WorkItemID, &h.Term, &h.Gloss, &h.Explanation, &h.Category, &h.Relevance); err != nil {
			return nil, eris.Wrap(err, "postgres: scan highlight")
		}
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "postgres: highlights iterate")
}
