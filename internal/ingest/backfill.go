package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"billradar/api/internal/store"
)

// BackfillOptions controls the PDF URL backfill over existing rows.
type BackfillOptions struct {
	Limit       int
	Offset      int
	OnlyMissing bool
	// MaxRows bounds the total rows examined; 0 means no bound.
	MaxRows int
}

// BackfillStats reports what a backfill pass did.
type BackfillStats struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
}

// BackfillPDFURLs resolves PDF URLs for proposals ingested before PDF
// enrichment existed, patching them into raw_json.
func (s *Service) BackfillPDFURLs(ctx context.Context, opts BackfillOptions) (BackfillStats, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	var stats BackfillStats
	offset := opts.Offset
	for {
		if opts.MaxRows > 0 && stats.Processed >= opts.MaxRows {
			break
		}

		page, err := s.store.ProposalsPage(ctx, opts.Limit, offset)
		if err != nil {
			return stats, fmt.Errorf("fetch proposals page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, row := range page {
			if opts.MaxRows > 0 && stats.Processed >= opts.MaxRows {
				break
			}
			stats.Processed++

			var raw map[string]any
			if err := json.Unmarshal(row.RawJSON, &raw); err != nil || raw == nil {
				stats.Skipped++
				continue
			}

			if opts.OnlyMissing {
				if existing, ok := raw["pdfUrls"].([]any); ok && len(existing) > 0 {
					stats.Skipped++
					continue
				}
			}

			result, err := s.oda.FetchPDFURLs(ctx, row.ID)
			if err != nil {
				log.Printf("ingest: backfill PDFs for proposal %d: %v", row.ID, err)
				continue
			}

			if result.MainPDFURL != nil {
				raw["mainPdfUrl"] = *result.MainPDFURL
			} else {
				raw["mainPdfUrl"] = nil
			}
			urls := make([]any, len(result.PDFURLs))
			for i, u := range result.PDFURLs {
				urls[i] = u
			}
			raw["pdfUrls"] = urls
			docs := make([]any, len(result.Documents))
			for i, d := range result.Documents {
				docs[i] = d
			}
			raw["pdfDocuments"] = docs

			patched, err := json.Marshal(raw)
			if err != nil {
				log.Printf("ingest: marshal raw_json for proposal %d: %v", row.ID, err)
				continue
			}
			if err := s.store.UpdateProposalRawJSON(ctx, row.ID, patched); err != nil {
				log.Printf("ingest: update raw_json for proposal %d: %v", row.ID, err)
				continue
			}
			stats.Updated++
		}

		offset += opts.Limit
	}

	return stats, nil
}

// BackfillPolicy runs policy analysis over proposals that have none yet.
func (s *Service) BackfillPolicy(ctx context.Context, limit int) (BackfillStats, error) {
	if s.policy == nil || !s.policy.Enabled() {
		return BackfillStats{}, fmt.Errorf("policy analysis is not enabled")
	}
	if limit <= 0 {
		limit = 50
	}

	ids, err := s.store.ProposalsMissingPolicy(ctx, limit)
	if err != nil {
		return BackfillStats{}, fmt.Errorf("list proposals missing policy analysis: %w", err)
	}

	var stats BackfillStats
	for _, id := range ids {
		stats.Processed++

		detail, err := s.store.GetProposal(ctx, id)
		if err != nil {
			log.Printf("ingest: load proposal %d for policy backfill: %v", id, err)
			stats.Skipped++
			continue
		}

		lawText := ""
		if detail.PDFText != nil {
			lawText = detail.PDFText.ExtractedText
		}
		if lawText == "" && s.fetcher != nil {
			if mainURL, _ := detail.PDFLinks(); mainURL != "" {
				text, _, err := s.fetcher.DownloadAndExtract(ctx, mainURL, s.cfg.PDFMaxPages)
				if err != nil {
					log.Printf("ingest: fetch law text for %d: %v", id, err)
				} else {
					lawText = text
				}
			}
		}

		resume := ""
		if detail.Resume != nil {
			resume = *detail.Resume
		}
		analysis, err := s.policy.Analyze(ctx, detail.Titel, resume, lawText)
		if err != nil {
			log.Printf("ingest: policy analysis for %d: %v", id, err)
			stats.Skipped++
			continue
		}

		model := s.policy.ModelID()
		version := s.policy.PromptVersion()
		if _, err := s.store.UpsertPolicyAnalysis(ctx, store.PolicyAnalysis{
			ProposalID:    id,
			Analysis:      analysis,
			Model:         &model,
			PromptVersion: &version,
		}); err != nil {
			log.Printf("ingest: upsert policy analysis for %d: %v", id, err)
			stats.Skipped++
			continue
		}
		stats.Updated++
	}

	return stats, nil
}
