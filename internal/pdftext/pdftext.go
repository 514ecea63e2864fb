// Package pdftext downloads proposal PDFs from ft.dk and extracts their
// text for LLM analysis.
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

const defaultReferer = "https://www.ft.dk/"

// Normalize strips NUL bytes, trims each line and drops blank lines, keeping
// the output compact for LLM context windows.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// ExtractText pulls plain text from PDF bytes. maxPages <= 0 means all
// pages. Pages that fail to decode are skipped. Returns the normalized text
// and the total page count of the document.
func ExtractText(data []byte, maxPages int) (string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}

	total := reader.NumPage()
	limit := total
	if maxPages > 0 && maxPages < limit {
		limit = maxPages
	}

	var chunks []string
	for i := 1; i <= limit; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil || text == "" {
			continue
		}
		chunks = append(chunks, text)
	}

	return Normalize(strings.Join(chunks, "\n\n")), total, nil
}

// Fetcher downloads PDFs with browser-like headers. ft.dk sits behind a WAF
// that serves HTML block pages to unadorned clients.
type Fetcher struct {
	client    *http.Client
	userAgent string
	referer   string
}

func NewFetcher(userAgent, referer string, timeout time.Duration) *Fetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if referer == "" {
		referer = defaultReferer
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		referer:   referer,
	}
}

// Download fetches PDF bytes, trying two header profiles before giving up.
// An HTML content type is treated as a block page, not a PDF.
func (f *Fetcher) Download(ctx context.Context, url string) ([]byte, error) {
	profiles := []map[string]string{
		{
			"User-Agent":      f.userAgent,
			"Accept":          "application/pdf,application/octet-stream;q=0.9,*/*;q=0.8",
			"Accept-Language": "da,en-US;q=0.8,en;q=0.7",
			"Referer":         f.referer,
		},
		{
			"User-Agent":      f.userAgent,
			"Accept":          "*/*",
			"Accept-Language": "da,en-US;q=0.8,en;q=0.7",
		},
	}

	var lastErr error
	for _, headers := range profiles {
		data, err := f.fetch(ctx, url, headers)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (f *Fetcher) fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pdf: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch pdf: status %d", resp.StatusCode)
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "text/html") {
		return nil, fmt.Errorf("fetch pdf: got content-type %q, likely a block page", contentType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read pdf body: %w", err)
	}
	return data, nil
}

// DownloadAndExtract is the remote-fetch path used by the backfill jobs.
func (f *Fetcher) DownloadAndExtract(ctx context.Context, url string, maxPages int) (string, int, error) {
	data, err := f.Download(ctx, url)
	if err != nil {
		return "", 0, err
	}
	return ExtractText(data, maxPages)
}
