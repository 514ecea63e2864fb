package oda

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestClient(baseURL string) *Client {
	c := NewClient(Config{BaseURL: baseURL, DocRetries: 2})
	c.sleep = func(time.Duration) {}
	return c
}

func writePage(w http.ResponseWriter, rows []map[string]any) {
	json.NewEncoder(w).Encode(map[string]any{"value": rows})
}

func TestFormatODataTime(t *testing.T) {
	ts := time.Date(2026, 3, 12, 16, 10, 0, 123_000_000, time.UTC)
	if got := FormatODataTime(ts); got != "2026-03-12T16:10:00.123" {
		t.Fatalf("FormatODataTime = %q", got)
	}
}

func TestParseODATime(t *testing.T) {
	for _, in := range []string{
		"2026-03-12T16:10:00",
		"2026-03-12T16:10:00.123",
		"2026-03-12T16:10:00Z",
		"2026-03-12T16:10:00.123+00:00",
	} {
		got, err := ParseODATime(in)
		if err != nil {
			t.Fatalf("ParseODATime(%q): %v", in, err)
		}
		if got.Year() != 2026 || got.Minute() != 10 {
			t.Fatalf("ParseODATime(%q) = %v", in, got)
		}
	}
	if _, err := ParseODATime("yesterday"); err == nil {
		t.Fatal("expected error for garbage timestamp")
	}
}

func TestFetchSagerSincePagesAndFilters(t *testing.T) {
	var filters []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Sag" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		filters = append(filters, r.URL.Query().Get("$filter"))
		switch r.URL.Query().Get("$skip") {
		case "0":
			rows := make([]map[string]any, 100)
			for i := range rows {
				rows[i] = map[string]any{
					"id":              float64(1000 + i),
					"titel":           "  Forslag  ",
					"typeid":          float64(3),
					"opdateringsdato": "2026-03-12T16:10:00",
				}
			}
			writePage(w, rows)
		case "100":
			writePage(w, []map[string]any{{
				"id":             float64(2000),
				"titel":          "Sidste forslag",
				"nummerprefix":   "B",
				"nummernumerisk": "12",
				"nummer":         "B 12",
				"resume":         " resume ",
				"statusid":       float64(11),
				"lovnummerdato":  "",
			}})
		default:
			writePage(w, nil)
		}
	}))
	defer srv.Close()

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	client := newTestClient(srv.URL)
	sager, err := client.FetchSagerSince(context.Background(), &since)
	if err != nil {
		t.Fatalf("FetchSagerSince: %v", err)
	}
	if len(sager) != 101 {
		t.Fatalf("got %d sager, want 101", len(sager))
	}
	if sager[0].Titel != "Forslag" {
		t.Fatalf("title not trimmed: %q", sager[0].Titel)
	}
	if sager[0].Opdateringsdato.IsZero() {
		t.Fatal("opdateringsdato not parsed")
	}

	last := sager[100]
	if last.ID != 2000 || last.NummerPrefix != "B" || last.Resume != "resume" {
		t.Fatalf("last sag = %+v", last)
	}
	if last.StatusID == nil || *last.StatusID != 11 {
		t.Fatalf("statusid = %v", last.StatusID)
	}

	want := "typeid eq 3 and opdateringsdato gt datetime'2026-03-01T00:00:00.000'"
	if filters[0] != want {
		t.Fatalf("filter = %q, want %q", filters[0], want)
	}
}

func TestFetchSagerSinceNoWatermark(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("$filter"); got != "typeid eq 3" {
			t.Fatalf("filter = %q", got)
		}
		writePage(w, nil)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).FetchSagerSince(context.Background(), nil); err != nil {
		t.Fatalf("FetchSagerSince: %v", err)
	}
}

func TestGetPageRetriesTransientErrors(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writePage(w, nil)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).FetchSagerSince(context.Background(), nil); err != nil {
		t.Fatalf("expected retries to succeed: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestGetPageGivesUpAfterRetries(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).FetchSagerSince(context.Background(), nil); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (initial + 2 retries)", attempts)
	}
}

// odaFixture serves a small SagDokument/Dokument/Fil graph.
func odaFixture(t *testing.T, dokumenter map[int64]map[string]any, sagDokumenter []map[string]any, filRows map[int64][]map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("$filter")
		switch r.URL.Path {
		case "/SagDokument":
			if r.URL.Query().Get("$skip") != "0" {
				writePage(w, nil)
				return
			}
			writePage(w, sagDokumenter)
		case "/Dokument":
			for id, doc := range dokumenter {
				if strings.Contains(filter, "id eq "+itoa(id)) {
					writePage(w, []map[string]any{doc})
					return
				}
			}
			writePage(w, nil)
		case "/Fil":
			if r.URL.Query().Get("$skip") != "0" {
				writePage(w, nil)
				return
			}
			for id, rows := range filRows {
				if strings.Contains(filter, "dokumentid eq "+itoa(id)) {
					writePage(w, rows)
					return
				}
			}
			writePage(w, nil)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func TestFetchPDFURLsPrefersMainDocumentAndPrimaryVariant(t *testing.T) {
	sagDokumenter := []map[string]any{
		{"dokumentid": float64(10), "frigivelsesdato": "2026-02-01T00:00:00"},
		{"dokumentid": float64(20), "frigivelsesdato": "2026-01-01T00:00:00"},
	}
	dokumenter := map[int64]map[string]any{
		10: {
			"id": float64(10), "typeid": float64(21),
			"Fil": []any{
				map[string]any{"format": "PDF", "variantkode": "P", "filurl": "https://ft.dk/later.pdf"},
			},
		},
		20: {
			"id": float64(20), "kategoriid": float64(31),
			"Fil": []any{
				map[string]any{"format": "DOCX", "filurl": "https://ft.dk/skip.docx"},
				map[string]any{"format": "PDF", "variantkode": "X", "filurl": "https://ft.dk/other.pdf"},
				map[string]any{"format": "PDF", "variantkode": "P", "filurl": "https://ft.dk/main.pdf"},
				map[string]any{"format": "PDF", "variantkode": "P", "filurl": "https://ft.dk/main.pdf"},
			},
		},
	}

	srv := odaFixture(t, dokumenter, sagDokumenter, nil)
	defer srv.Close()

	result, err := newTestClient(srv.URL).FetchPDFURLs(context.Background(), 77)
	if err != nil {
		t.Fatalf("FetchPDFURLs: %v", err)
	}

	// Dokument 20 has the earlier release date, so it wins; only the "P"
	// variant URL survives and the duplicate is dropped.
	if result.MainPDFURL == nil || *result.MainPDFURL != "https://ft.dk/main.pdf" {
		t.Fatalf("mainPdfUrl = %v", result.MainPDFURL)
	}
	if len(result.PDFURLs) != 1 {
		t.Fatalf("pdfUrls = %v", result.PDFURLs)
	}
	if len(result.Documents) != 2 {
		t.Fatalf("documents = %d", len(result.Documents))
	}
}

func TestFetchPDFURLsFallsBackToFilEndpoint(t *testing.T) {
	sagDokumenter := []map[string]any{{"dokumentid": float64(30)}}
	dokumenter := map[int64]map[string]any{
		30: {"id": float64(30), "typeid": float64(21)}, // no Fil in the expand
	}
	filRows := map[int64][]map[string]any{
		30: {{"format": "PDF", "filurl": "https://ft.dk/fallback.pdf"}},
	}

	srv := odaFixture(t, dokumenter, sagDokumenter, filRows)
	defer srv.Close()

	result, err := newTestClient(srv.URL).FetchPDFURLs(context.Background(), 88)
	if err != nil {
		t.Fatalf("FetchPDFURLs: %v", err)
	}
	if result.MainPDFURL == nil || *result.MainPDFURL != "https://ft.dk/fallback.pdf" {
		t.Fatalf("mainPdfUrl = %v", result.MainPDFURL)
	}
}

func TestFetchPDFURLsNonMainFallback(t *testing.T) {
	sagDokumenter := []map[string]any{{"dokumentid": float64(40)}}
	dokumenter := map[int64]map[string]any{
		40: {
			"id": float64(40), "typeid": float64(5), // not a main candidate
			"Fil": []any{map[string]any{"format": "PDF", "filurl": "https://ft.dk/any.pdf"}},
		},
	}

	srv := odaFixture(t, dokumenter, sagDokumenter, nil)
	defer srv.Close()

	result, err := newTestClient(srv.URL).FetchPDFURLs(context.Background(), 99)
	if err != nil {
		t.Fatalf("FetchPDFURLs: %v", err)
	}
	if result.MainPDFURL == nil || *result.MainPDFURL != "https://ft.dk/any.pdf" {
		t.Fatalf("mainPdfUrl = %v", result.MainPDFURL)
	}
}

func TestExtractFileURLFallsBackToAnyURLField(t *testing.T) {
	url := extractFileURL(map[string]any{"someWeirdUrlField": " https://ft.dk/x.pdf "})
	if url != "https://ft.dk/x.pdf" {
		t.Fatalf("extractFileURL = %q", url)
	}
	if extractFileURL(map[string]any{"name": "x"}) != "" {
		t.Fatal("expected empty for object without url fields")
	}
}

func TestAttachPDFInfo(t *testing.T) {
	main := "https://ft.dk/a.pdf"
	sag := Sag{Raw: map[string]any{"id": float64(1)}}
	sag.AttachPDFInfo(PDFResult{
		SagID:      1,
		MainPDFURL: &main,
		PDFURLs:    []string{main, "https://ft.dk/b.pdf"},
	})

	if sag.Raw["mainPdfUrl"] != main {
		t.Fatalf("mainPdfUrl = %v", sag.Raw["mainPdfUrl"])
	}
	urls, ok := sag.Raw["pdfUrls"].([]any)
	if !ok || len(urls) != 2 {
		t.Fatalf("pdfUrls = %v", sag.Raw["pdfUrls"])
	}
}
