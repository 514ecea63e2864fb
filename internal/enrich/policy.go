package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"billradar/api/internal/llm"
)

const DefaultPolicyPromptVersion = "1.1"

const policyAnalysisPrompt = `
Du er en analytiker med fokus på demokrati, digital suverænitet, borgerrettigheder og offentlig IT.

Analyser den følgende lov / lovforslag ud fra et menneske-, samfunds- og demokratiperspektiv.
Fokusér på konsekvenser, magtforskydninger og risici – ikke kun intentioner.

VIGTIGT:
- Dit svar skal være VALID JSON og KUN JSON.
- Ingen markdown, ingen forklaringstekst.
- Skriv på dansk.
- Hvis information mangler, skriv det eksplicit.

INPUT:
Titel: %s
Resumé: %s
Lovtekst (PDF-uddrag, kan være afkortet): %s

OUTPUTFORMAT (skal følges præcist):

{
  "meta": {
    "title": "",
    "jurisdiction": "",
    "law_type": "law|bill|regulation|directive|unknown",
    "analysis_timestamp_iso": ""
  },

  "summary": {
    "one_paragraph": "",
    "what_problem_it_addresses": "",
    "who_is_affected": {
      "citizens": true,
      "public_sector": true,
      "private_companies": true
    }
  },

  "tags": [
    {
      "tag": "",
      "category": "privatliv|demokrati|digital_suveraenitet|offentlig_it|sikkerhed|okonomi|adgang|AI|andet",
      "confidence": 0.0,
      "evidence": ""
    }
  ],

  "attention_points": [
    {
      "topic": "privatliv|demokrati|ejerskab|økonomi|sikkerhed|klima|adgang|AI|andet",
      "issue": "",
      "why_it_matters": "",
      "risk_level": "low|medium|high"
    }
  ],

  "red_flags": [
    ""
  ],

  "positive_elements": [
    ""
  ],

  "open_questions": [
    ""
  ],

  "overall_assessment": {
    "direction": "strengthens|weakens|mixed|neutral|unclear",
    "score": 0,
    "score_explanation": "",
    "who_benefits_most": "",
    "who_loses_most": ""
  },

  "recommendation": {
    "position": "support|support_with_changes|neutral|oppose|unclear",
    "rationale": "",
    "key_changes_if_any": [
      ""
    ]
  }
}
`

// PolicyAnalyzer runs the policy-analysis prompt against a proposal. Enabled
// only when both an LLM client and the feature flag are present.
type PolicyAnalyzer struct {
	llm           chatClient
	enabled       bool
	temperature   float64
	promptVersion string
	now           func() time.Time
}

type PolicyConfig struct {
	Enabled       bool
	Temperature   float64
	PromptVersion string
}

func NewPolicyAnalyzer(client chatClient, cfg PolicyConfig) *PolicyAnalyzer {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.PromptVersion == "" {
		cfg.PromptVersion = DefaultPolicyPromptVersion
	}
	return &PolicyAnalyzer{
		llm:           client,
		enabled:       cfg.Enabled,
		temperature:   cfg.Temperature,
		promptVersion: cfg.PromptVersion,
		now:           time.Now,
	}
}

func (p *PolicyAnalyzer) Enabled() bool {
	return p.enabled && p.llm != nil
}

// ModelID identifies the provider and model that produced an analysis.
func (p *PolicyAnalyzer) ModelID() string {
	if p.llm == nil {
		return ""
	}
	return "gemini:" + p.llm.Model()
}

func (p *PolicyAnalyzer) PromptVersion() string {
	return p.promptVersion
}

// Analyze runs the prompt and returns the normalized analysis document.
// lawText should be the extracted PDF text when available; the resume is
// used when no law text exists.
func (p *PolicyAnalyzer) Analyze(ctx context.Context, titel, resume, lawText string) (json.RawMessage, error) {
	if p.llm == nil {
		return nil, fmt.Errorf("policy analysis requires an LLM client")
	}

	titel = strings.TrimSpace(titel)
	resume = strings.TrimSpace(resume)
	if resume == "" {
		resume = "Ingen resumé tilgængelig"
	}
	lawText = strings.TrimSpace(lawText)
	if lawText == "" {
		lawText = resume
	}

	prompt := fmt.Sprintf(policyAnalysisPrompt, titel, resume, lawText)

	raw, err := p.llm.Complete(ctx,
		"Du svarer kun med valid JSON og følger det angivne outputformat.",
		prompt, p.temperature)
	if err != nil {
		return nil, fmt.Errorf("policy analysis: %w", err)
	}

	body := strings.TrimSpace(raw)
	if obj, ok := llm.ExtractJSONObject(body); ok {
		body = obj
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("parse policy analysis response: %w", err)
	}

	// Fill in meta fields the model tends to leave blank so downstream
	// consumers can rely on them.
	meta, ok := doc["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		doc["meta"] = meta
	}
	if title, ok := meta["title"].(string); !ok || title == "" {
		meta["title"] = titel
	}
	if ts, ok := meta["analysis_timestamp_iso"].(string); !ok || ts == "" {
		meta["analysis_timestamp_iso"] = p.now().UTC().Format(time.RFC3339)
	}
	if _, ok := doc["tags"].([]any); !ok {
		doc["tags"] = []any{}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal policy analysis: %w", err)
	}
	return out, nil
}
