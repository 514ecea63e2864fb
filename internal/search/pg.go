package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch implements Searcher directly against Postgres as a fallback.
// Danish stemming support in to_tsvector is weak for legislative shorthand
// like "L 123", so plain ILIKE matching over the few text columns is used
// instead.
type PgSearch struct {
	db *sql.DB
}

// NewPgSearch creates a Postgres-backed searcher.
func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

// Search runs an ILIKE query over titel, nummer and resume.
func (p *PgSearch) Search(q Query) ([]Result, int, error) {
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

	where := "(p.titel ILIKE $1 OR p.nummer ILIKE $1 OR COALESCE(p.resume, '') ILIKE $1)"
	args := []any{"%" + q.Text + "%"}
	argN := 2

	if q.NummerPrefix != "" {
		where += fmt.Sprintf(" AND p.nummerprefix = $%d", argN)
		args = append(args, q.NummerPrefix)
		argN++
	}
	if q.ITRelevant != nil {
		where += fmt.Sprintf(" AND l.it_relevant = $%d", argN)
		args = append(args, *q.ITRelevant)
		argN++
	}

	countQuery := `
		SELECT COUNT(*)
		FROM proposals p
		LEFT JOIN proposal_labels l ON l.proposal_id = p.id
		WHERE ` + where

	var total int
	if err := p.db.QueryRowContext(context.Background(), countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pg search count: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT p.id, p.nummer, p.nummerprefix, p.titel, LEFT(COALESCE(p.resume, ''), 200)
		FROM proposals p
		LEFT JOIN proposal_labels l ON l.proposal_id = p.id
		WHERE %s
		ORDER BY p.opdateringsdato DESC, p.id DESC
		LIMIT $%d OFFSET $%d`, where, argN, argN+1)
	args = append(args, limit, offset)

	rows, err := p.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Nummer, &r.NummerPrefix, &r.Titel, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pg search scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords reads every proposal with its label for reindexing into
// Meilisearch.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]ProposalRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.nummer, p.nummerprefix, p.titel, COALESCE(p.resume, ''),
			COALESCE(l.it_relevant, false),
			COALESCE(array_to_json(l.it_topics)::text, '[]')
		FROM proposals p
		LEFT JOIN proposal_labels l ON l.proposal_id = p.id`)
	if err != nil {
		return nil, fmt.Errorf("load proposals for reindex: %w", err)
	}
	defer rows.Close()

	var records []ProposalRecord
	for rows.Next() {
		var rec ProposalRecord
		var topicsJSON string
		if err := rows.Scan(&rec.ID, &rec.Nummer, &rec.NummerPrefix, &rec.Titel, &rec.Resume, &rec.ITRelevant, &topicsJSON); err != nil {
			return nil, fmt.Errorf("scan proposal for reindex: %w", err)
		}
		rec.Topics = decodeTopics(topicsJSON)
		records = append(records, rec)
	}
	return records, rows.Err()
}
