// Package llm wraps the Gemini API for the structured-output prompts used
// during proposal enrichment and policy analysis.
package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type Config struct {
	APIKey   string
	Model    string
	JSONMode bool
	TopP     float64
}

// Client is a thin wrapper around the Gemini SDK. A nil Client means LLM
// features are disabled and callers fall back to the keyword heuristic.
type Client struct {
	client   *genai.Client
	model    string
	jsonMode bool
	topP     float64
}

// NewClient creates a Gemini client. Returns (nil, nil) when no API key is
// configured so callers can treat the absence of a key as "disabled".
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Client{
		client:   client,
		model:    model,
		jsonMode: cfg.JSONMode,
		topP:     cfg.TopP,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Complete sends a system + user prompt pair and returns the raw response text.
func (c *Client) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temperature)),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if c.topP > 0 {
		config.TopP = genai.Ptr(float32(c.topP))
	}
	if c.jsonMode {
		config.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{
		genai.NewContentFromText(user, genai.RoleUser),
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty response")
	}
	return text, nil
}

// ExtractJSONObject returns the first balanced {...} block in the text.
// Model responses sometimes wrap JSON in prose or markdown fences even in
// JSON mode, so the block is located by brace counting rather than parsing
// the whole response.
func ExtractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
