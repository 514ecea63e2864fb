// Package enrich computes IT-relevance labels and policy analyses for
// proposals, using the Gemini API when configured and falling back to the
// keyword heuristic otherwise.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"billradar/api/internal/llm"
	"billradar/api/internal/relevance"
)

const PromptVersion = "1.0"

const enrichmentPrompt = `
Du er en ekspert i dansk IT-politik og skal analysere et lovforslag eller beslutningsforslag fra Folketinget.

Analyser følgende forslag og giv en vurdering af dets IT-relevans:

Titel: %s
Resume: %s

Besvar følgende på dansk:
1. Er forslaget IT-relevant? (ja/nej)
2. Hvis ja, hvilke IT-emner dækker det? (kommasepareret liste)
3. Giv en kort opsummering af forslagets IT-aspekter (max 200 ord)
4. Forklar hvorfor forslaget er IT-relevant (max 300 ord)

Svar i følgende JSON format:
{
    "it_relevant": true/false,
    "it_topics": ["emne1", "emne2"],
    "it_summary_da": "kort opsummering på dansk",
    "why_it_relevant_da": "forklaring på dansk"
}
`

// chatClient is the slice of llm.Client the enricher needs.
type chatClient interface {
	Complete(ctx context.Context, system, user string, temperature float64) (string, error)
	Model() string
}

type Result struct {
	ITRelevant      bool
	ITTopics        []string
	ITSummaryDA     *string
	WhyITRelevantDA *string
	Confidence      float64
	Model           string
	PromptVersion   string
}

type Enricher struct {
	llm chatClient
}

// NewEnricher wraps an optional LLM client. A nil client restricts the
// enricher to the keyword heuristic.
func NewEnricher(client *llm.Client) *Enricher {
	e := &Enricher{}
	if client != nil {
		e.llm = client
	}
	return e
}

// newEnricherWithChat is used by tests to inject a fake client.
func newEnricherWithChat(c chatClient) *Enricher {
	return &Enricher{llm: c}
}

// ShouldEnrich reports whether a proposal looks IT-relevant enough to be
// worth an LLM call.
func (e *Enricher) ShouldEnrich(titel, resume string) bool {
	return relevance.Relevant(titel + " " + resume)
}

// Enrich labels a proposal. It never fails: LLM errors degrade to the
// keyword heuristic with a lower confidence.
func (e *Enricher) Enrich(ctx context.Context, titel, resume string) Result {
	if e.llm == nil {
		return e.keywordResult(titel, resume, 0.7, 0.3, "keyword-matching")
	}

	result, err := e.llmEnrich(ctx, titel, resume)
	if err != nil {
		log.Printf("llm enrichment failed, falling back to keywords: %v", err)
		return e.keywordResult(titel, resume, 0.5, 0.5, "keyword-matching-fallback")
	}
	return result
}

func (e *Enricher) keywordResult(titel, resume string, relevantConf, irrelevantConf float64, model string) Result {
	text := titel + " " + resume
	relevant := relevance.Relevant(text)
	conf := irrelevantConf
	if relevant {
		conf = relevantConf
	}
	return Result{
		ITRelevant:    relevant,
		ITTopics:      relevance.Topics(text),
		Confidence:    conf,
		Model:         model,
		PromptVersion: PromptVersion,
	}
}

func (e *Enricher) llmEnrich(ctx context.Context, titel, resume string) (Result, error) {
	if resume == "" {
		resume = "Ingen resume tilgængelig"
	}
	prompt := fmt.Sprintf(enrichmentPrompt, titel, resume)

	raw, err := e.llm.Complete(ctx,
		"Du er en ekspert i dansk IT-politik. Svar kun med valid JSON.",
		prompt, 0.3)
	if err != nil {
		return Result{}, err
	}

	body := strings.TrimSpace(raw)
	if obj, ok := llm.ExtractJSONObject(body); ok {
		body = obj
	}

	var parsed struct {
		ITRelevant      *bool    `json:"it_relevant"`
		ITTopics        []string `json:"it_topics"`
		ITSummaryDA     *string  `json:"it_summary_da"`
		WhyITRelevantDA *string  `json:"why_it_relevant_da"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return Result{}, fmt.Errorf("parse enrichment response: %w", err)
	}
	if parsed.ITRelevant == nil {
		return Result{}, fmt.Errorf("enrichment response missing it_relevant")
	}

	topics := parsed.ITTopics
	if topics == nil {
		topics = []string{}
	}

	return Result{
		ITRelevant:      *parsed.ITRelevant,
		ITTopics:        topics,
		ITSummaryDA:     parsed.ITSummaryDA,
		WhyITRelevantDA: parsed.WhyITRelevantDA,
		Confidence:      0.9,
		Model:           e.llm.Model(),
		PromptVersion:   PromptVersion,
	}, nil
}
