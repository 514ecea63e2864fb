package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) UpsertProposal(ctx context.Context, p Proposal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, periodeid, nummerprefix, nummernumerisk, nummer, titel, resume, opdateringsdato, raw_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			periodeid=EXCLUDED.periodeid,
			nummerprefix=EXCLUDED.nummerprefix,
			nummernumerisk=EXCLUDED.nummernumerisk,
			nummer=EXCLUDED.nummer,
			titel=EXCLUDED.titel,
			resume=EXCLUDED.resume,
			opdateringsdato=EXCLUDED.opdateringsdato,
			raw_json=EXCLUDED.raw_json,
			updated_at=NOW()
	`, p.ID, p.PeriodeID, p.NummerPrefix, p.NummerNumerisk, p.Nummer, p.Titel, p.Resume, p.Opdateringsdato, string(p.RawJSON))
	if err != nil {
		return fmt.Errorf("upsert proposal %d: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateProposalRawJSON(ctx context.Context, proposalID int64, raw json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET raw_json=$2, updated_at=NOW() WHERE id=$1
	`, proposalID, string(raw))
	if err != nil {
		return fmt.Errorf("update proposal raw_json %d: %w", proposalID, err)
	}
	return nil
}

const proposalColumns = `
	p.id, p.periodeid, p.nummerprefix, p.nummernumerisk, p.nummer, p.titel, p.resume,
	p.opdateringsdato, p.raw_json::text, p.created_at, p.updated_at,
	l.proposal_id, l.it_relevant, COALESCE(array_to_json(l.it_topics)::text, '[]'),
	l.it_summary_da, l.why_it_relevant_da, l.confidence, l.model, l.prompt_version, l.created_at,
	a.proposal_id, a.analysis::text, a.model, a.prompt_version, a.created_at, a.updated_at,
	t.proposal_id, t.source_url, t.sha256, t.extracted_text, t.extracted_at, t.error, t.created_at, t.updated_at`

const proposalJoins = `
	FROM proposals p
	LEFT JOIN proposal_labels l ON l.proposal_id = p.id
	LEFT JOIN proposal_policy_analyses a ON a.proposal_id = p.id
	LEFT JOIN proposal_pdf_texts t ON t.proposal_id = p.id`

// ListProposals applies the filters the database can answer directly. A
// purely numeric query is treated as an exact ID lookup so unlabeled
// proposals still resolve (the it_relevant/topic filters would otherwise
// hide them behind the label join).
func (s *PostgresStore) ListProposals(ctx context.Context, filter ProposalFilter) ([]ProposalDetail, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	q := strings.TrimSpace(filter.Query)
	idLookup := int64(0)
	if q != "" {
		if parsed, err := strconv.ParseInt(q, 10, 64); err == nil {
			idLookup = parsed
		}
	}

	if filter.Type != "" {
		where = append(where, "p.nummerprefix = "+arg(filter.Type))
	}

	if idLookup > 0 {
		where = append(where, "p.id = "+arg(idLookup))
	} else {
		if filter.ITRelevant != nil {
			where = append(where, "l.it_relevant = "+arg(*filter.ITRelevant))
		}
		if topic := strings.TrimSpace(filter.Topic); topic != "" {
			// The dropdown is fed by TopicCounts, which merges label topics
			// and policy-analysis tags; match against the same merged set.
			placeholder := arg(topic)
			where = append(where, fmt.Sprintf(`(
				EXISTS (SELECT 1 FROM unnest(COALESCE(l.it_topics, '{}')) lt WHERE LOWER(lt) = LOWER(%[1]s))
				OR EXISTS (
					SELECT 1 FROM jsonb_array_elements(`+policyTagArraySQL+`) elem
					WHERE LOWER(TRIM(`+policyTagTextSQL+`)) = LOWER(%[1]s)
				))`, placeholder))
		}
		if q != "" {
			pattern := "%" + q + "%"
			placeholder := arg(pattern)
			where = append(where, fmt.Sprintf(
				"(p.titel ILIKE %[1]s OR p.nummer ILIKE %[1]s OR COALESCE(p.resume,'') ILIKE %[1]s)", placeholder))
		}
	}

	query := "SELECT " + proposalColumns + proposalJoins
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.opdateringsdato DESC, p.id DESC"
	query += " LIMIT " + arg(filter.Limit) + " OFFSET " + arg(filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	items := make([]ProposalDetail, 0)
	for rows.Next() {
		item, err := scanProposalDetail(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID int64) (ProposalDetail, error) {
	query := "SELECT " + proposalColumns + proposalJoins + " WHERE p.id = $1"
	rows, err := s.db.QueryContext(ctx, query, proposalID)
	if err != nil {
		return ProposalDetail{}, fmt.Errorf("get proposal %d: %w", proposalID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ProposalDetail{}, fmt.Errorf("get proposal %d: %w", proposalID, err)
		}
		return ProposalDetail{}, sql.ErrNoRows
	}
	return scanProposalDetail(rows)
}

// ProposalsPage returns a lightweight id+raw_json page for maintenance
// tasks such as the PDF URL backfill.
func (s *PostgresStore) ProposalsPage(ctx context.Context, limit, offset int) ([]Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, raw_json::text FROM proposals ORDER BY id ASC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("page proposals: %w", err)
	}
	defer rows.Close()

	items := make([]Proposal, 0)
	for rows.Next() {
		var item Proposal
		var raw string
		if err := rows.Scan(&item.ID, &raw); err != nil {
			return nil, fmt.Errorf("scan proposal page: %w", err)
		}
		item.RawJSON = json.RawMessage(raw)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposal page: %w", err)
	}
	return items, nil
}

// ProposalsMissingPolicy lists proposals that have extracted PDF text but no
// policy analysis yet.
func (s *PostgresStore) ProposalsMissingPolicy(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.proposal_id
		FROM proposal_pdf_texts t
		LEFT JOIN proposal_policy_analyses a ON a.proposal_id = t.proposal_id
		WHERE t.error IS NULL AND t.extracted_text <> '' AND a.proposal_id IS NULL
		ORDER BY t.proposal_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("proposals missing policy: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan proposal id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposal ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) UpsertLabel(ctx context.Context, label ProposalLabel) error {
	topics, err := json.Marshal(label.ITTopics)
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposal_labels (proposal_id, it_relevant, it_topics, it_summary_da, why_it_relevant_da, confidence, model, prompt_version)
		VALUES ($1, $2, ARRAY(SELECT json_array_elements_text($3::json)), $4, $5, $6, $7, $8)
		ON CONFLICT (proposal_id) DO UPDATE SET
			it_relevant=EXCLUDED.it_relevant,
			it_topics=EXCLUDED.it_topics,
			it_summary_da=EXCLUDED.it_summary_da,
			why_it_relevant_da=EXCLUDED.why_it_relevant_da,
			confidence=EXCLUDED.confidence,
			model=EXCLUDED.model,
			prompt_version=EXCLUDED.prompt_version
	`, label.ProposalID, label.ITRelevant, string(topics), label.ITSummaryDA, label.WhyITRelevantDA, label.Confidence, label.Model, label.PromptVersion)
	if err != nil {
		return fmt.Errorf("upsert label %d: %w", label.ProposalID, err)
	}
	return nil
}

func (s *PostgresStore) UpsertPolicyAnalysis(ctx context.Context, analysis PolicyAnalysis) (PolicyAnalysis, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO proposal_policy_analyses (proposal_id, analysis, model, prompt_version)
		VALUES ($1, $2::jsonb, $3, $4)
		ON CONFLICT (proposal_id) DO UPDATE SET
			analysis=EXCLUDED.analysis,
			model=EXCLUDED.model,
			prompt_version=EXCLUDED.prompt_version,
			updated_at=NOW()
		RETURNING proposal_id, analysis::text, model, prompt_version, created_at, updated_at
	`, analysis.ProposalID, string(analysis.Analysis), analysis.Model, analysis.PromptVersion)

	var saved PolicyAnalysis
	var raw string
	if err := row.Scan(&saved.ProposalID, &raw, &saved.Model, &saved.PromptVersion, &saved.CreatedAt, &saved.UpdatedAt); err != nil {
		return PolicyAnalysis{}, fmt.Errorf("upsert policy analysis %d: %w", analysis.ProposalID, err)
	}
	saved.Analysis = json.RawMessage(raw)
	return saved, nil
}

func (s *PostgresStore) UpsertPDFText(ctx context.Context, text ProposalPDFText) (ProposalPDFText, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO proposal_pdf_texts (proposal_id, source_url, sha256, extracted_text, extracted_at, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (proposal_id) DO UPDATE SET
			source_url=EXCLUDED.source_url,
			sha256=EXCLUDED.sha256,
			extracted_text=EXCLUDED.extracted_text,
			extracted_at=EXCLUDED.extracted_at,
			error=EXCLUDED.error,
			updated_at=NOW()
		RETURNING proposal_id, source_url, sha256, extracted_text, extracted_at, error, created_at, updated_at
	`, text.ProposalID, text.SourceURL, text.SHA256, text.ExtractedText, text.ExtractedAt, text.Error)

	var saved ProposalPDFText
	if err := row.Scan(&saved.ProposalID, &saved.SourceURL, &saved.SHA256, &saved.ExtractedText, &saved.ExtractedAt, &saved.Error, &saved.CreatedAt, &saved.UpdatedAt); err != nil {
		return ProposalPDFText{}, fmt.Errorf("upsert pdf text %d: %w", text.ProposalID, err)
	}
	return saved, nil
}

func (s *PostgresStore) LastWatermark(ctx context.Context) (*time.Time, error) {
	var watermark time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT last_watermark_after FROM ingestion_runs
		WHERE last_watermark_after IS NOT NULL
		ORDER BY last_watermark_after DESC
		LIMIT 1
	`).Scan(&watermark)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last watermark: %w", err)
	}
	return &watermark, nil
}

func (s *PostgresStore) InsertIngestionRun(ctx context.Context, run IngestionRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (id, started_at, last_watermark_before)
		VALUES ($1, $2, $3)
	`, run.ID, run.StartedAt, run.LastWatermarkBefore)
	if err != nil {
		return fmt.Errorf("insert ingestion run: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishIngestionRun(ctx context.Context, run IngestionRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_runs
		SET finished_at=$2, fetched_count=$3, updated_count=$4, last_watermark_after=$5, error=$6
		WHERE id=$1
	`, run.ID, run.FinishedAt, run.FetchedCount, run.UpdatedCount, run.LastWatermarkAfter, run.Error)
	if err != nil {
		return fmt.Errorf("finish ingestion run: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListIngestionRuns(ctx context.Context, limit int) ([]IngestionRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, last_watermark_before, last_watermark_after, fetched_count, updated_count, error, created_at
		FROM ingestion_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list ingestion runs: %w", err)
	}
	defer rows.Close()

	items := make([]IngestionRun, 0)
	for rows.Next() {
		var item IngestionRun
		if err := rows.Scan(&item.ID, &item.StartedAt, &item.FinishedAt, &item.LastWatermarkBefore, &item.LastWatermarkAfter, &item.FetchedCount, &item.UpdatedCount, &item.Error, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ingestion run: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingestion runs: %w", err)
	}
	return items, nil
}

// policyTagArraySQL selects the effective topic array of a policy analysis
// (aliased a): the tags array when present and non-empty, otherwise the
// democratic_it_concerns list that older analyses carry instead.
const policyTagArraySQL = `CASE
	WHEN jsonb_typeof(a.analysis->'tags') = 'array' AND jsonb_array_length(a.analysis->'tags') > 0
		THEN a.analysis->'tags'
	WHEN jsonb_typeof(a.analysis->'democratic_it_concerns') = 'array'
		THEN a.analysis->'democratic_it_concerns'
	ELSE '[]'::jsonb
END`

// policyTagTextSQL extracts the topic string from one array element (aliased
// elem). Depending on what the model returned, an element is a plain string,
// a {tag: ...} object, or a {topic: ...} object.
const policyTagTextSQL = `CASE
	WHEN jsonb_typeof(elem) = 'object' THEN COALESCE(elem->>'tag', elem->>'topic')
	ELSE elem #>> '{}'
END`

// TopicCounts aggregates topics across IT labels and policy-analysis tags
// for the dashboard's filter dropdown.
func (s *PostgresStore) TopicCounts(ctx context.Context, limit int) ([]TopicCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT LOWER(TRIM(tag)) AS topic, COUNT(DISTINCT proposal_id) AS n
		FROM (
			SELECT l.proposal_id, unnest(COALESCE(l.it_topics, '{}')) AS tag
			FROM proposal_labels l
			UNION ALL
			SELECT a.proposal_id, `+policyTagTextSQL+` AS tag
			FROM proposal_policy_analyses a,
				jsonb_array_elements(`+policyTagArraySQL+`) elem
		) merged
		WHERE tag IS NOT NULL AND TRIM(tag) <> '' AND LOWER(TRIM(tag)) <> 'not_applicable'
		GROUP BY 1
		ORDER BY n DESC, topic ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("topic counts: %w", err)
	}
	defer rows.Close()

	items := make([]TopicCount, 0)
	for rows.Next() {
		var item TopicCount
		if err := rows.Scan(&item.Topic, &item.Count); err != nil {
			return nil, fmt.Errorf("scan topic count: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic counts: %w", err)
	}
	return items, nil
}

func scanProposalDetail(rows *sql.Rows) (ProposalDetail, error) {
	var item ProposalDetail
	var rawJSON string

	var labelID sql.NullInt64
	var labelRelevant sql.NullBool
	var labelTopics sql.NullString
	var labelSummary, labelWhy sql.NullString
	var labelConfidence sql.NullFloat64
	var labelModel, labelPrompt sql.NullString
	var labelCreated sql.NullTime

	var policyID sql.NullInt64
	var policyAnalysis sql.NullString
	var policyModel, policyPrompt sql.NullString
	var policyCreated, policyUpdated sql.NullTime

	var textID sql.NullInt64
	var textSource, textSHA sql.NullString
	var textBody sql.NullString
	var textExtracted sql.NullTime
	var textError sql.NullString
	var textCreated, textUpdated sql.NullTime

	err := rows.Scan(
		&item.ID, &item.PeriodeID, &item.NummerPrefix, &item.NummerNumerisk, &item.Nummer, &item.Titel, &item.Resume,
		&item.Opdateringsdato, &rawJSON, &item.CreatedAt, &item.UpdatedAt,
		&labelID, &labelRelevant, &labelTopics, &labelSummary, &labelWhy, &labelConfidence, &labelModel, &labelPrompt, &labelCreated,
		&policyID, &policyAnalysis, &policyModel, &policyPrompt, &policyCreated, &policyUpdated,
		&textID, &textSource, &textSHA, &textBody, &textExtracted, &textError, &textCreated, &textUpdated,
	)
	if err != nil {
		return ProposalDetail{}, fmt.Errorf("scan proposal: %w", err)
	}
	item.RawJSON = json.RawMessage(rawJSON)

	if labelID.Valid {
		label := ProposalLabel{
			ProposalID: labelID.Int64,
			ITRelevant: labelRelevant.Bool,
		}
		if labelTopics.Valid {
			if err := json.Unmarshal([]byte(labelTopics.String), &label.ITTopics); err != nil {
				return ProposalDetail{}, fmt.Errorf("decode label topics: %w", err)
			}
		}
		label.ITSummaryDA = nullableString(labelSummary)
		label.WhyITRelevantDA = nullableString(labelWhy)
		if labelConfidence.Valid {
			label.Confidence = &labelConfidence.Float64
		}
		label.Model = nullableString(labelModel)
		label.PromptVersion = nullableString(labelPrompt)
		if labelCreated.Valid {
			label.CreatedAt = labelCreated.Time
		}
		item.Label = &label
	}

	if policyID.Valid {
		policy := PolicyAnalysis{
			ProposalID: policyID.Int64,
			Analysis:   json.RawMessage(policyAnalysis.String),
		}
		policy.Model = nullableString(policyModel)
		policy.PromptVersion = nullableString(policyPrompt)
		if policyCreated.Valid {
			policy.CreatedAt = policyCreated.Time
		}
		if policyUpdated.Valid {
			policy.UpdatedAt = policyUpdated.Time
		}
		item.Policy = &policy
	}

	if textID.Valid {
		text := ProposalPDFText{
			ProposalID:    textID.Int64,
			ExtractedText: textBody.String,
		}
		text.SourceURL = nullableString(textSource)
		text.SHA256 = nullableString(textSHA)
		if textExtracted.Valid {
			text.ExtractedAt = &textExtracted.Time
		}
		text.Error = nullableString(textError)
		if textCreated.Valid {
			text.CreatedAt = textCreated.Time
		}
		if textUpdated.Valid {
			text.UpdatedAt = textUpdated.Time
		}
		item.PDFText = &text
	}

	return item, nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
