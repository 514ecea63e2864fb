// Package oda is a client for Folketingets open data API (oda.ft.dk).
// It fetches bills from the /Sag feed and resolves their law-text PDFs via
// the Sag -> SagDokument -> Dokument -> Fil chain.
package oda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	DefaultBaseURL = "https://oda.ft.dk/api"

	// Sag.typeid for lovforslag (bills).
	BillTypeID = 3

	pageSize = 100

	// The primary law-text document is identified by Dokument.typeid
	// and/or Dokument.kategoriid rather than title matching.
	mainDokumentTypeID     = 21
	mainDokumentKategoriID = 31
)

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	// DocDelay is inserted before each per-Sag document lookup to avoid
	// hammering ODA when iterating many Sager.
	DocDelay   time.Duration
	DocRetries int
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	docDelay   time.Duration
	docRetries int
	sleep      func(time.Duration)
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.DocRetries == 0 {
		cfg.DocRetries = 2
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		docDelay:   cfg.DocDelay,
		docRetries: cfg.DocRetries,
		sleep:      time.Sleep,
	}
}

// FormatODataTime renders a timestamp the way ODA's $filter expects:
// UTC with millisecond precision and no zone suffix.
func FormatODataTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000")
}

// ParseODATime parses ODA timestamps, which come with or without fractional
// seconds and usually without a zone. Naive values are taken as UTC.
func ParseODATime(value string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized ODA timestamp %q", value)
}

// FetchSagerSince fetches all bills updated after since (nil means no lower
// bound), paging through the /Sag feed.
func (c *Client) FetchSagerSince(ctx context.Context, since *time.Time) ([]Sag, error) {
	filter := fmt.Sprintf("typeid eq %d", BillTypeID)
	if since != nil {
		filter += fmt.Sprintf(" and opdateringsdato gt datetime'%s'", FormatODataTime(*since))
	}

	params := url.Values{}
	params.Set("$format", "json")
	params.Set("$orderby", "opdateringsdato desc")
	params.Set("$top", strconv.Itoa(pageSize))
	params.Set("$filter", filter)

	var sager []Sag
	skip := 0
	for {
		params.Set("$skip", strconv.Itoa(skip))
		page, err := c.getPage(ctx, c.baseURL+"/Sag", params)
		if err != nil {
			return nil, fmt.Errorf("fetch /Sag: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, raw := range page {
			sager = append(sager, sagFromRaw(raw))
		}
		skip += pageSize
	}
	return sager, nil
}

// PDFResult carries the resolved PDF URLs for a Sag, plus per-document
// debug metadata kept in raw_json for later inspection.
type PDFResult struct {
	SagID      int64          `json:"sagId"`
	MainPDFURL *string        `json:"mainPdfUrl"`
	PDFURLs    []string       `json:"pdfUrls"`
	Documents  []DocumentInfo `json:"documents"`
}

type DocumentInfo struct {
	DokumentID      int64    `json:"dokumentId"`
	TypeID          *int64   `json:"typeid"`
	KategoriID      *int64   `json:"kategoriid"`
	Titel           *string  `json:"titel"`
	Frigivelsesdato *string  `json:"sagDokumentFrigivelsesdato"`
	IsMainCandidate bool     `json:"isMainCandidate"`
	PDFURLs         []string `json:"pdfUrls"`
}

// FetchPDFURLs resolves the law-text PDFs for a Sag. The main document is
// chosen among main candidates by earliest SagDokument.frigivelsesdato; when
// no main candidate has PDFs, the first document with any PDF wins.
func (c *Client) FetchPDFURLs(ctx context.Context, sagID int64) (PDFResult, error) {
	result := PDFResult{SagID: sagID, PDFURLs: []string{}, Documents: []DocumentInfo{}}

	if c.docDelay > 0 {
		c.sleep(c.docDelay)
	}

	rows, err := c.fetchSagDokumentRows(ctx, sagID)
	if err != nil {
		return result, err
	}

	type candidate struct {
		hasDate bool
		date    string
		index   int
		urls    []string
	}
	var best *candidate

	for idx, row := range rows {
		dokumentID, ok := coerceInt(row["dokumentid"])
		if !ok {
			continue
		}

		dokument, err := c.fetchDokumentWithFil(ctx, dokumentID)
		if err != nil || dokument == nil {
			continue
		}

		isMain := isMainBillDokument(dokument)
		urls := extractPDFURLs(dokument)
		if len(urls) == 0 {
			// The expand can come back empty; fall back to /Fil directly.
			filRows, err := c.fetchFilRows(ctx, dokumentID)
			if err == nil && len(filRows) > 0 {
				withFallback := make(map[string]any, len(dokument)+1)
				for k, v := range dokument {
					withFallback[k] = v
				}
				withFallback["Fil"] = anySlice(filRows)
				urls = extractPDFURLs(withFallback)
			}
		}

		info := DocumentInfo{
			DokumentID:      dokumentID,
			TypeID:          optInt(dokument["typeid"]),
			KategoriID:      optInt(dokument["kategoriid"]),
			Titel:           optString(dokument["titel"]),
			Frigivelsesdato: optString(row["frigivelsesdato"]),
			IsMainCandidate: isMain,
			PDFURLs:         urls,
		}
		if id, ok := coerceInt(dokument["id"]); ok {
			info.DokumentID = id
		}
		result.Documents = append(result.Documents, info)

		if !isMain || len(urls) == 0 {
			continue
		}

		cand := candidate{index: idx, urls: urls}
		if date, ok := row["frigivelsesdato"].(string); ok && date != "" {
			cand.hasDate = true
			cand.date = date
		}
		if best == nil || candidateLess(cand.hasDate, cand.date, cand.index, best.hasDate, best.date, best.index) {
			b := cand
			best = &b
		}
	}

	if best != nil {
		result.PDFURLs = best.urls
	} else {
		// Main-document heuristic failed; returning some PDFs beats none.
		for _, doc := range result.Documents {
			if len(doc.PDFURLs) > 0 {
				result.PDFURLs = doc.PDFURLs
				break
			}
		}
	}
	if len(result.PDFURLs) > 0 {
		result.MainPDFURL = &result.PDFURLs[0]
	}
	return result, nil
}

// candidateLess orders by (has release date, date, row index), dated first.
func candidateLess(aHas bool, aDate string, aIdx int, bHas bool, bDate string, bIdx int) bool {
	if aHas != bHas {
		return aHas
	}
	if aDate != bDate {
		return aDate < bDate
	}
	return aIdx < bIdx
}

func (c *Client) fetchSagDokumentRows(ctx context.Context, sagID int64) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("sagid eq %d", sagID))
	params.Set("$format", "json")
	params.Set("$top", strconv.Itoa(pageSize))

	var rows []map[string]any
	skip := 0
	for {
		params.Set("$skip", strconv.Itoa(skip))
		page, err := c.getPage(ctx, c.baseURL+"/SagDokument", params)
		if err != nil {
			return nil, fmt.Errorf("fetch /SagDokument: %w", err)
		}
		if len(page) == 0 {
			break
		}
		rows = append(rows, page...)
		skip += pageSize
	}
	return rows, nil
}

// fetchDokumentWithFil fetches a single Dokument expanded with Fil.
// Filtering /Fil by dokumentid directly is unreliable, so the expand is the
// primary path.
func (c *Client) fetchDokumentWithFil(ctx context.Context, dokumentID int64) (map[string]any, error) {
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("id eq %d", dokumentID))
	params.Set("$expand", "Fil")
	params.Set("$format", "json")

	page, err := c.getPage(ctx, c.baseURL+"/Dokument", params)
	if err != nil {
		return nil, fmt.Errorf("fetch /Dokument: %w", err)
	}
	if len(page) == 0 {
		return nil, nil
	}
	return page[0], nil
}

func (c *Client) fetchFilRows(ctx context.Context, dokumentID int64) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("dokumentid eq %d", dokumentID))
	params.Set("$format", "json")
	params.Set("$top", strconv.Itoa(pageSize))

	var rows []map[string]any
	skip := 0
	for {
		params.Set("$skip", strconv.Itoa(skip))
		page, err := c.getPage(ctx, c.baseURL+"/Fil", params)
		if err != nil {
			return nil, fmt.Errorf("fetch /Fil: %w", err)
		}
		if len(page) == 0 {
			break
		}
		rows = append(rows, page...)
		skip += pageSize
	}
	return rows, nil
}

// getPage performs a GET with retry on transient errors (429, 5xx, network
// failures), using exponential backoff with jitter.
func (c *Client) getPage(ctx context.Context, endpoint string, params url.Values) ([]map[string]any, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		page, err := c.getOnce(ctx, endpoint, params)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if attempt >= c.docRetries {
			return nil, lastErr
		}
		backoff := time.Duration(float64(time.Second) * (0.5*float64(int(1)<<attempt) + rand.Float64()*0.25))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		c.sleep(backoff)
	}
}

func (c *Client) getOnce(ctx context.Context, endpoint string, params url.Values) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oda request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("oda status %d from %s", resp.StatusCode, endpoint)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read oda response: %w", err)
	}

	var envelope struct {
		Value []map[string]any `json:"value"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode oda response: %w", err)
	}
	return envelope.Value, nil
}

func anySlice(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
