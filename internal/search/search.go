// Package search provides full-text search over proposals, backed by
// Meilisearch with a Postgres fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID           int64  `json:"id"`
	Nummer       string `json:"nummer"`
	NummerPrefix string `json:"nummerprefix"`
	Titel        string `json:"titel"`
	Snippet      string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text         string
	NummerPrefix string // "" = all, otherwise "L" or "B"
	ITRelevant   *bool
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// ProposalRecord is the data indexed per proposal.
type ProposalRecord struct {
	ID           int64    `json:"id"`
	Nummer       string   `json:"nummer"`
	NummerPrefix string   `json:"nummerprefix"`
	Titel        string   `json:"titel"`
	Resume       string   `json:"resume"`
	ITRelevant   bool     `json:"it_relevant"`
	Topics       []string `json:"topics"`
}

// Searcher can execute a full-text search over proposals.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}
