package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over forms and response values using the 'simple'
// configuration the GIN indexes are built with. A response matches once,
// through its best-ranked value.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultForm {
		formWhere := "to_tsvector('simple', f.title || ' ' || f.description) @@ " + tsQuery
		if q.FilterFormID != "" {
			formWhere += fmt.Sprintf(" AND f.id = $%d", argN)
			args = append(args, q.FilterFormID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'form'::text AS type, f.id, f.title,
				ts_headline('simple', f.description, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				f.id AS form_id, f.status,
				ts_rank(to_tsvector('simple', f.title || ' ' || f.description), %s) AS rank
			FROM forms f
			WHERE %s`, tsQuery, tsQuery, formWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultResponse {
		valueWhere := "to_tsvector('simple', COALESCE(v.value, '')) @@ " + tsQuery
		if q.FilterFormID != "" {
			valueWhere += fmt.Sprintf(" AND v.form_id = $%d", argN)
			args = append(args, q.FilterFormID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'response'::text AS type, m.response_id AS id, f.title,
				ts_headline('simple', m.value, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				m.form_id, ''::text AS status, m.rank
			FROM (
				SELECT DISTINCT ON (v.response_id) v.response_id, v.form_id, COALESCE(v.value, '') AS value,
					ts_rank(to_tsvector('simple', COALESCE(v.value, '')), %s) AS rank
				FROM response_values v
				WHERE %s
				ORDER BY v.response_id, rank DESC
			) m
			JOIN forms f ON f.id = m.form_id`, tsQuery, tsQuery, valueWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, form_id, status
		FROM (%s) sub
		ORDER BY rank DESC, id ASC
		LIMIT %d OFFSET %d`, union, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.FormID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
// Response answers are ordered by field position.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]FormRecord, []ResponseRecord, error) {
	formRows, err := p.db.QueryContext(ctx, `SELECT id, title, description, slug, status FROM forms`)
	if err != nil {
		return nil, nil, fmt.Errorf("load forms: %w", err)
	}
	defer formRows.Close()

	forms := make([]FormRecord, 0)
	for formRows.Next() {
		var f FormRecord
		if err := formRows.Scan(&f.ID, &f.Title, &f.Description, &f.Slug, &f.Status); err != nil {
			return nil, nil, fmt.Errorf("scan form: %w", err)
		}
		forms = append(forms, f)
	}
	if err := formRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate forms: %w", err)
	}

	responseRows, err := p.db.QueryContext(ctx, `
		SELECT r.id, r.form_id, f.title,
			COALESCE(string_agg(v.value, E'\n' ORDER BY ff.position), ''),
			EXTRACT(EPOCH FROM r.submitted_at)::bigint
		FROM responses r
		JOIN forms f ON f.id = r.form_id
		LEFT JOIN response_values v ON v.response_id = r.id
		LEFT JOIN form_fields ff ON ff.id = v.field_id
		GROUP BY r.id, r.form_id, f.title, r.submitted_at
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load responses: %w", err)
	}
	defer responseRows.Close()

	responses := make([]ResponseRecord, 0)
	for responseRows.Next() {
		var r ResponseRecord
		if err := responseRows.Scan(&r.ID, &r.FormID, &r.FormTitle, &r.Answers, &r.SubmittedAt); err != nil {
			return nil, nil, fmt.Errorf("scan response: %w", err)
		}
		responses = append(responses, r)
	}
	if err := responseRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate responses: %w", err)
	}

	return forms, responses, nil
}
