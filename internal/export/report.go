// Package export renders proposal reports as PDF via headless Chrome.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"billradar/api/internal/store"
)

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates the headless Chrome runtime is unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// ProposalReport renders a bill, its relevance label and its policy analysis
// into a printable report.
func (s *Service) ProposalReport(detail store.ProposalDetail) (*Result, error) {
	data := reportData(detail)
	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, err
	}
	return exportPDF(html, detail.Nummer+" "+detail.Titel)
}

func reportData(detail store.ProposalDetail) ReportData {
	data := ReportData{
		Nummer:          detail.Nummer,
		Titel:           detail.Titel,
		Opdateringsdato: detail.Opdateringsdato,
		GeneratedAt:     time.Now(),
	}
	if detail.Resume != nil {
		data.Resume = *detail.Resume
	}
	if mainURL, _ := detail.PDFLinks(); mainURL != "" {
		data.MainPDFURL = mainURL
	}

	if label := detail.Label; label != nil {
		rl := &ReportLabel{
			ITRelevant: label.ITRelevant,
			Topics:     label.ITTopics,
		}
		if label.ITSummaryDA != nil {
			rl.Summary = *label.ITSummaryDA
		}
		if label.WhyITRelevantDA != nil {
			rl.Why = *label.WhyITRelevantDA
		}
		if label.Confidence != nil {
			rl.Confidence = *label.Confidence
		}
		if label.Model != nil {
			rl.Model = *label.Model
		}
		data.Label = rl
	}

	if policy := detail.Policy; policy != nil {
		rp := &ReportPolicy{AnalysisJSON: prettyJSON(policy.Analysis)}
		if policy.Model != nil {
			rp.Model = *policy.Model
		}
		if policy.PromptVersion != nil {
			rp.PromptVersion = *policy.PromptVersion
		}
		rp.UpdatedAt = policy.UpdatedAt
		data.Policy = rp
	}

	if text := detail.PDFText; text != nil && text.ExtractedText != "" {
		data.HasPDFText = true
		data.PDFTextChars = len(text.ExtractedText)
	}
	return data
}

func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
