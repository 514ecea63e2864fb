package store

import (
	"encoding/json"
	"time"
)

// Proposal mirrors one row from Folketinget's /Sag feed (typeid 3). Field
// names stay Danish because they are ODA's own column names.
type Proposal struct {
	ID              int64
	PeriodeID       int64
	NummerPrefix    string
	NummerNumerisk  string
	Nummer          string
	Titel           string
	Resume          *string
	Opdateringsdato time.Time
	RawJSON         json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ProposalLabel struct {
	ProposalID      int64
	ITRelevant      bool
	ITTopics        []string
	ITSummaryDA     *string
	WhyITRelevantDA *string
	Confidence      *float64
	Model           *string
	PromptVersion   *string
	CreatedAt       time.Time
}

type PolicyAnalysis struct {
	ProposalID    int64
	Analysis      json.RawMessage
	Model         *string
	PromptVersion *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ProposalPDFText struct {
	ProposalID    int64
	SourceURL     *string
	SHA256        *string
	ExtractedText string
	ExtractedAt   *time.Time
	Error         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProposalDetail is a proposal with its optional 1:1 attachments.
type ProposalDetail struct {
	Proposal
	Label   *ProposalLabel
	Policy  *PolicyAnalysis
	PDFText *ProposalPDFText
}

// PDFLinks pulls mainPdfUrl and pdfUrls out of raw_json. The ODA /Sag rows
// carry no file URLs; ingestion writes them into raw_json after resolving
// the document chain.
func (p Proposal) PDFLinks() (mainURL string, urls []string) {
	if len(p.RawJSON) == 0 {
		return "", nil
	}
	var raw struct {
		MainPDFURL *string  `json:"mainPdfUrl"`
		PDFURLs    []string `json:"pdfUrls"`
	}
	if err := json.Unmarshal(p.RawJSON, &raw); err != nil {
		return "", nil
	}
	if raw.MainPDFURL != nil {
		mainURL = *raw.MainPDFURL
	}
	return mainURL, raw.PDFURLs
}

type IngestionRun struct {
	ID                  string
	StartedAt           time.Time
	FinishedAt          *time.Time
	LastWatermarkBefore *time.Time
	LastWatermarkAfter  *time.Time
	FetchedCount        int
	UpdatedCount        int
	Error               *string
	CreatedAt           time.Time
}

// ProposalFilter is the server-side portion of the list query. Merged-topic
// and PDF/analysis flag filters are applied by the caller on scan batches.
type ProposalFilter struct {
	Type       string // "L" or "B", empty for all
	ITRelevant *bool
	Topic      string
	Query      string
	Limit      int
	Offset     int
}

type TopicCount struct {
	Topic string
	Count int
}

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
