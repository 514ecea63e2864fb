// Package ingest pulls bills from the ODA API into Postgres and runs the
// enrichment pipeline over them.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"billradar/api/internal/enrich"
	"billradar/api/internal/oda"
	"billradar/api/internal/search"
	"billradar/api/internal/store"
)

// Sag.statusid values treated as closed: vedtaget, forkastet, bortfaldet,
// tilbagetaget/udgået, afsluttet/behandlet/foretaget/taget til efterretning,
// stadfæstet.
var closedStatusIDs = map[int64]bool{
	1: true, 8: true, 10: true, 25: true, 44: true,
	29: true, 6: true, 9: true,
	22: true, 41: true, 43: true,
	14: true, 17: true, 27: true, 40: true,
	38: true,
}

// Store is the subset of the Postgres store the ingestion pipeline writes to.
type Store interface {
	UpsertProposal(ctx context.Context, p store.Proposal) error
	UpdateProposalRawJSON(ctx context.Context, proposalID int64, raw json.RawMessage) error
	UpsertLabel(ctx context.Context, label store.ProposalLabel) error
	UpsertPolicyAnalysis(ctx context.Context, analysis store.PolicyAnalysis) (store.PolicyAnalysis, error)
	LastWatermark(ctx context.Context) (*time.Time, error)
	InsertIngestionRun(ctx context.Context, run store.IngestionRun) error
	FinishIngestionRun(ctx context.Context, run store.IngestionRun) error
	ProposalsPage(ctx context.Context, limit, offset int) ([]store.Proposal, error)
	ProposalsMissingPolicy(ctx context.Context, limit int) ([]int64, error)
	GetProposal(ctx context.Context, proposalID int64) (store.ProposalDetail, error)
}

// ODAClient fetches bills and their PDF URLs from oda.ft.dk.
type ODAClient interface {
	FetchSagerSince(ctx context.Context, since *time.Time) ([]oda.Sag, error)
	FetchPDFURLs(ctx context.Context, sagID int64) (oda.PDFResult, error)
}

// PDFFetcher retrieves and extracts law text from a remote PDF. Optional.
type PDFFetcher interface {
	DownloadAndExtract(ctx context.Context, url string, maxPages int) (string, int, error)
}

// Indexer pushes proposals into the search index. Optional.
type Indexer interface {
	IndexProposal(record search.ProposalRecord)
}

type Config struct {
	FetchPDFURLs bool
	// OldBillCutoff drops "zombie" bills whose last update predates it and
	// that never reached a final status.
	OldBillCutoff time.Time
	PDFMaxPages   int
}

type Service struct {
	store    Store
	oda      ODAClient
	enricher *enrich.Enricher
	policy   *enrich.PolicyAnalyzer
	fetcher  PDFFetcher
	indexer  Indexer
	cfg      Config
	now      func() time.Time
}

func NewService(st Store, client ODAClient, enricher *enrich.Enricher, policy *enrich.PolicyAnalyzer, cfg Config) *Service {
	return &Service{
		store:    st,
		oda:      client,
		enricher: enricher,
		policy:   policy,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetPDFFetcher enables remote law-text fetches for policy analysis.
func (s *Service) SetPDFFetcher(f PDFFetcher) {
	s.fetcher = f
}

// SetIndexer enables search indexing of upserted proposals.
func (s *Service) SetIndexer(idx Indexer) {
	s.indexer = idx
}

// IsClosed reports whether a bill should be skipped as closed or irrelevant.
// lovnummerdato is the strongest signal (the bill received a law number);
// known final statuses come next; the cutoff date filters bills that never
// progressed.
func (s *Service) IsClosed(sag oda.Sag) bool {
	if sag.Lovnummerdato != "" {
		return true
	}
	if sag.StatusID != nil && closedStatusIDs[*sag.StatusID] {
		return true
	}
	if sag.TypeID != nil && *sag.TypeID == oda.BillTypeID &&
		!sag.Opdateringsdato.IsZero() && !s.cfg.OldBillCutoff.IsZero() &&
		sag.Opdateringsdato.Before(s.cfg.OldBillCutoff) {
		return true
	}
	return false
}

// Result summarizes one ingestion run.
type Result struct {
	RunID              string  `json:"run_id"`
	FetchedCount       int     `json:"fetched_count"`
	UpdatedCount       int     `json:"updated_count"`
	EnrichedCount      int     `json:"enriched_count"`
	SkippedClosedCount int     `json:"skipped_closed_count"`
	RelevantCount      int     `json:"relevant_count"`
	DurationSeconds    float64 `json:"duration_seconds"`
}

// Run executes a full ingestion: fetch bills updated since the last
// watermark, skip closed ones, resolve PDFs, upsert and enrich.
func (s *Service) Run(ctx context.Context) (Result, error) {
	start := s.now().UTC()

	lastWatermark, err := s.store.LastWatermark(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read last watermark: %w", err)
	}

	run := store.IngestionRun{
		ID:                  uuid.NewString(),
		StartedAt:           start,
		LastWatermarkBefore: lastWatermark,
	}
	if err := s.store.InsertIngestionRun(ctx, run); err != nil {
		return Result{}, fmt.Errorf("insert ingestion run: %w", err)
	}

	result, err := s.runFetch(ctx, &run, lastWatermark, start)
	if err != nil {
		msg := err.Error()
		run.Error = &msg
		finished := s.now().UTC()
		run.FinishedAt = &finished
		if finishErr := s.store.FinishIngestionRun(ctx, run); finishErr != nil {
			log.Printf("ingest: record run failure: %v", finishErr)
		}
		return Result{}, err
	}
	return result, nil
}

func (s *Service) runFetch(ctx context.Context, run *store.IngestionRun, since *time.Time, start time.Time) (Result, error) {
	sager, err := s.oda.FetchSagerSince(ctx, since)
	if err != nil {
		return Result{}, fmt.Errorf("fetch proposals: %w", err)
	}
	fetched := len(sager)

	var relevant []oda.Sag
	skippedClosed := 0
	for _, sag := range sager {
		if s.IsClosed(sag) {
			skippedClosed++
			continue
		}
		relevant = append(relevant, sag)
	}
	log.Printf("ingest: /Sag fetched=%d relevant=%d skipped_closed=%d", fetched, len(relevant), skippedClosed)

	if s.cfg.FetchPDFURLs {
		for i := range relevant {
			pdfs, err := s.oda.FetchPDFURLs(ctx, relevant[i].ID)
			if err != nil {
				log.Printf("ingest: fetch PDFs for Sag %d: %v", relevant[i].ID, err)
				pdfs = oda.PDFResult{SagID: relevant[i].ID, PDFURLs: []string{}, Documents: []oda.DocumentInfo{}}
			}
			relevant[i].AttachPDFInfo(pdfs)
		}
	}

	updated := 0
	enriched := 0
	for _, sag := range relevant {
		if err := s.processSag(ctx, sag, &updated, &enriched); err != nil {
			log.Printf("ingest: process proposal %d: %v", sag.ID, err)
		}
	}

	finished := s.now().UTC()
	run.FinishedAt = &finished
	run.FetchedCount = fetched
	run.UpdatedCount = updated
	run.LastWatermarkAfter = &start
	if err := s.store.FinishIngestionRun(ctx, *run); err != nil {
		return Result{}, fmt.Errorf("finish ingestion run: %w", err)
	}

	return Result{
		RunID:              run.ID,
		FetchedCount:       fetched,
		UpdatedCount:       updated,
		EnrichedCount:      enriched,
		SkippedClosedCount: skippedClosed,
		RelevantCount:      len(relevant),
		DurationSeconds:    finished.Sub(start).Seconds(),
	}, nil
}

func (s *Service) processSag(ctx context.Context, sag oda.Sag, updated, enriched *int) error {
	if sag.ID == 0 {
		log.Printf("ingest: skipping proposal without ID")
		return nil
	}

	proposal, err := proposalFromSag(sag)
	if err != nil {
		return err
	}
	if err := s.store.UpsertProposal(ctx, proposal); err != nil {
		return fmt.Errorf("upsert proposal: %w", err)
	}
	*updated++

	var label *store.ProposalLabel
	if s.enricher != nil && s.enricher.ShouldEnrich(sag.Titel, sag.Resume) {
		log.Printf("ingest: enriching proposal %d", sag.ID)
		res := s.enricher.Enrich(ctx, sag.Titel, sag.Resume)
		l := labelFromResult(sag.ID, res)
		if err := s.store.UpsertLabel(ctx, l); err != nil {
			log.Printf("ingest: upsert label for %d: %v", sag.ID, err)
		} else {
			label = &l
			*enriched++
		}
	}

	if s.policy != nil && s.policy.Enabled() {
		if err := s.analyzePolicy(ctx, sag); err != nil {
			log.Printf("ingest: policy analysis for %d: %v", sag.ID, err)
		}
	}

	if s.indexer != nil {
		s.indexer.IndexProposal(indexRecord(proposal, label))
	}
	return nil
}

func (s *Service) analyzePolicy(ctx context.Context, sag oda.Sag) error {
	lawText := s.lawTextForSag(ctx, sag)
	analysis, err := s.policy.Analyze(ctx, sag.Titel, sag.Resume, lawText)
	if err != nil {
		return err
	}

	model := s.policy.ModelID()
	version := s.policy.PromptVersion()
	_, err = s.store.UpsertPolicyAnalysis(ctx, store.PolicyAnalysis{
		ProposalID:    sag.ID,
		Analysis:      analysis,
		Model:         &model,
		PromptVersion: &version,
	})
	return err
}

// lawTextForSag prefers already-extracted PDF text over a remote fetch,
// since ft.dk's WAF often blocks server-side downloads.
func (s *Service) lawTextForSag(ctx context.Context, sag oda.Sag) string {
	detail, err := s.store.GetProposal(ctx, sag.ID)
	if err == nil && detail.PDFText != nil && detail.PDFText.ExtractedText != "" {
		return detail.PDFText.ExtractedText
	}

	if s.fetcher == nil {
		return ""
	}
	mainURL, _ := mainPDFURL(sag)
	if mainURL == "" {
		return ""
	}
	text, _, err := s.fetcher.DownloadAndExtract(ctx, mainURL, s.cfg.PDFMaxPages)
	if err != nil {
		log.Printf("ingest: fetch law text for %d: %v", sag.ID, err)
		return ""
	}
	return text
}

func mainPDFURL(sag oda.Sag) (string, bool) {
	if sag.Raw == nil {
		return "", false
	}
	if url, ok := sag.Raw["mainPdfUrl"].(string); ok && url != "" {
		return url, true
	}
	return "", false
}

func proposalFromSag(sag oda.Sag) (store.Proposal, error) {
	raw, err := json.Marshal(sag.Raw)
	if err != nil {
		return store.Proposal{}, fmt.Errorf("marshal raw sag: %w", err)
	}

	prefix := sag.NummerPrefix
	if prefix == "" {
		prefix = "L"
	}
	var periodeID int64
	if sag.PeriodeID != nil {
		periodeID = *sag.PeriodeID
	}
	var resume *string
	if sag.Resume != "" {
		r := sag.Resume
		resume = &r
	}

	return store.Proposal{
		ID:              sag.ID,
		PeriodeID:       periodeID,
		NummerPrefix:    prefix,
		NummerNumerisk:  sag.NummerNumerisk,
		Nummer:          sag.Nummer,
		Titel:           sag.Titel,
		Resume:          resume,
		Opdateringsdato: sag.Opdateringsdato,
		RawJSON:         raw,
	}, nil
}

func labelFromResult(proposalID int64, res enrich.Result) store.ProposalLabel {
	conf := res.Confidence
	model := res.Model
	version := res.PromptVersion
	return store.ProposalLabel{
		ProposalID:      proposalID,
		ITRelevant:      res.ITRelevant,
		ITTopics:        res.ITTopics,
		ITSummaryDA:     res.ITSummaryDA,
		WhyITRelevantDA: res.WhyITRelevantDA,
		Confidence:      &conf,
		Model:           &model,
		PromptVersion:   &version,
	}
}

func indexRecord(p store.Proposal, label *store.ProposalLabel) search.ProposalRecord {
	rec := search.ProposalRecord{
		ID:           p.ID,
		Nummer:       p.Nummer,
		NummerPrefix: p.NummerPrefix,
		Titel:        p.Titel,
	}
	if p.Resume != nil {
		rec.Resume = *p.Resume
	}
	if label != nil {
		rec.ITRelevant = label.ITRelevant
		rec.Topics = label.ITTopics
	}
	return rec
}
