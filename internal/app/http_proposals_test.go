package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"billradar/api/internal/ingest"
	"billradar/api/internal/store"
)

func testProposal(id int64, prefix string, itRelevant *bool, raw string) store.ProposalDetail {
	detail := store.ProposalDetail{
		Proposal: store.Proposal{
			ID:              id,
			NummerPrefix:    prefix,
			NummerNumerisk:  strconv.FormatInt(id, 10),
			Nummer:          prefix + " " + strconv.FormatInt(id, 10),
			Titel:           "Forslag til lov nr. " + strconv.FormatInt(id, 10),
			Opdateringsdato: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			RawJSON:         json.RawMessage(raw),
		},
	}
	if itRelevant != nil {
		detail.Label = &store.ProposalLabel{ProposalID: id, ITRelevant: *itRelevant, ITTopics: []string{"it"}}
	}
	return detail
}

func getWithToken(t *testing.T, server *HTTPServer, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func TestListProposalsDefaults(t *testing.T) {
	fs := newFakeStore()
	yes := true
	fs.addProposal(testProposal(101, "L", &yes, `{}`))
	fs.addProposal(testProposal(102, "B", nil, `{}`))
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	rr := getWithToken(t, server, "/api/proposals", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	response := decodeJSON(t, rr)
	proposals, _ := response["proposals"].([]any)
	if len(proposals) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(proposals))
	}
	if response["limit"] != float64(50) {
		t.Errorf("expected default limit 50, got %v", response["limit"])
	}

	first, _ := proposals[0].(map[string]any)
	if first["nummer"] != "L 101" {
		t.Errorf("expected nummer 'L 101', got %v", first["nummer"])
	}
	label, _ := first["label"].(map[string]any)
	if label == nil || label["itRelevant"] != true {
		t.Errorf("expected itRelevant label, got %v", first["label"])
	}
}

func TestListProposalsRejectsBadType(t *testing.T) {
	fs := newFakeStore()
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	rr := getWithToken(t, server, "/api/proposals?type=X", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestListProposalsClampsLimit(t *testing.T) {
	fs := newFakeStore()
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	rr := getWithToken(t, server, "/api/proposals?limit=99999", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	response := decodeJSON(t, rr)
	if response["limit"] != float64(1000) {
		t.Errorf("expected limit clamped to 1000, got %v", response["limit"])
	}
}

func TestListProposalsPDFLinkFlagFilter(t *testing.T) {
	fs := newFakeStore()
	yes := true
	fs.addProposal(testProposal(1, "L", &yes, `{"mainPdfUrl":"https://www.ft.dk/a.pdf","pdfUrls":["https://www.ft.dk/a.pdf"]}`))
	fs.addProposal(testProposal(2, "L", &yes, `{}`))
	fs.addProposal(testProposal(3, "L", &yes, `{"pdfUrls":["https://www.ft.dk/c.pdf"]}`))
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	rr := getWithToken(t, server, "/api/proposals?has_pdf_link=true", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeJSON(t, rr)
	proposals, _ := response["proposals"].([]any)
	if len(proposals) != 2 {
		t.Fatalf("expected 2 proposals with PDF links, got %d", len(proposals))
	}

	// Offset counts filtered rows, not scanned rows.
	rr = getWithToken(t, server, "/api/proposals?has_pdf_link=true&offset=1&limit=1", "")
	response = decodeJSON(t, rr)
	proposals, _ = response["proposals"].([]any)
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal at offset 1, got %d", len(proposals))
	}
	item, _ := proposals[0].(map[string]any)
	if item["id"] != float64(3) {
		t.Errorf("expected proposal 3 at offset 1, got %v", item["id"])
	}
}

func TestListProposalsPolicyFlagFilter(t *testing.T) {
	fs := newFakeStore()
	detail := testProposal(7, "L", nil, `{}`)
	detail.Policy = &store.PolicyAnalysis{ProposalID: 7, Analysis: json.RawMessage(`{"tags":[]}`)}
	fs.addProposal(detail)
	fs.addProposal(testProposal(8, "L", nil, `{}`))
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	rr := getWithToken(t, server, "/api/proposals?has_policy_analysis=false", "")
	response := decodeJSON(t, rr)
	proposals, _ := response["proposals"].([]any)
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal without analysis, got %d", len(proposals))
	}
	item, _ := proposals[0].(map[string]any)
	if item["id"] != float64(8) {
		t.Errorf("expected proposal 8, got %v", item["id"])
	}
}

func TestGetProposalNotFound(t *testing.T) {
	fs := newFakeStore()
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	rr := getWithToken(t, server, "/api/proposals/999", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	response := decodeJSON(t, rr)
	if response["code"] != "NOT_FOUND" {
		t.Errorf("expected code NOT_FOUND, got %v", response["code"])
	}
}

func TestGetProposalIncludesExtractedText(t *testing.T) {
	fs := newFakeStore()
	fs.addProposal(testProposal(12, "L", nil, `{}`))
	now := time.Now()
	fs.pdfTexts[12] = store.ProposalPDFText{ProposalID: 12, ExtractedText: "Lovens tekst", ExtractedAt: &now}
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	rr := getWithToken(t, server, "/api/proposals/12", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	response := decodeJSON(t, rr)
	pdfText, _ := response["pdfText"].(map[string]any)
	if pdfText == nil || pdfText["extractedText"] != "Lovens tekst" {
		t.Errorf("expected extractedText in detail payload, got %v", response["pdfText"])
	}
}

func TestTopicsEndpoint(t *testing.T) {
	fs := newFakeStore()
	fs.topicCounts = []store.TopicCount{{Topic: "cybersikkerhed", Count: 4}, {Topic: "ai", Count: 2}}
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	rr := getWithToken(t, server, "/api/topics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	response := decodeJSON(t, rr)
	topics, _ := response["topics"].([]any)
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}
}

func TestIngestTokenTrigger(t *testing.T) {
	fs := newFakeStore()
	svc, _, _ := newTestService(fs)
	runner := &fakeRunner{result: ingest.Result{RunID: "run-1", FetchedCount: 3}}
	svc.ingest = runner
	server := NewHTTPServer(svc, "*")

	rr := postJSON(t, server, "/api/ingest?token=wrong", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: expected 401, got %d", rr.Code)
	}
	if runner.calls != 0 {
		t.Fatalf("runner must not run on bad token")
	}

	rr = postJSON(t, server, "/api/ingest?token=ingest-secret", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeJSON(t, rr)
	if response["run_id"] != "run-1" {
		t.Errorf("expected run_id, got %v", response)
	}
	if runner.calls != 1 {
		t.Errorf("expected one run, got %d", runner.calls)
	}
}

func TestIngestTokenDisabledWhenUnset(t *testing.T) {
	fs := newFakeStore()
	sessions := newFakeSessions()
	cfg := testConfig()
	cfg.IngestToken = ""
	svc := New(cfg, fs, sessions, nil, nil)
	svc.ingest = &fakeRunner{}
	server := NewHTTPServer(svc, "*")

	rr := postJSON(t, server, "/api/ingest?token=", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when trigger token unset, got %d", rr.Code)
	}
}

func TestAdminIngestRequiresAdminRole(t *testing.T) {
	fs := newFakeStore()
	svc, _, _ := newTestService(fs)
	runner := &fakeRunner{result: ingest.Result{RunID: "run-2"}}
	svc.ingest = runner
	server := NewHTTPServer(svc, "*")

	rr := postJSON(t, server, "/api/admin/ingest", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no session: expected 401, got %d", rr.Code)
	}

	viewerToken := sessionTokenFor(t, svc, fs, "viewer")
	rr = postJSON(t, server, "/api/admin/ingest", "", viewerToken)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer: expected 403, got %d", rr.Code)
	}

	adminToken := sessionTokenFor(t, svc, fs, "admin")
	rr = postJSON(t, server, "/api/admin/ingest", "", adminToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if runner.calls != 1 {
		t.Errorf("expected one run, got %d", runner.calls)
	}
}

func TestIngestionRunsAdminOnly(t *testing.T) {
	fs := newFakeStore()
	fs.runs = []store.IngestionRun{{ID: "run-1", FetchedCount: 10}}
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	viewerToken := sessionTokenFor(t, svc, fs, "viewer")
	rr := getWithToken(t, server, "/api/ingestion-runs", viewerToken)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer: expected 403, got %d", rr.Code)
	}

	adminToken := sessionTokenFor(t, svc, fs, "admin")
	rr = getWithToken(t, server, "/api/ingestion-runs", adminToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", rr.Code)
	}
	response := decodeJSON(t, rr)
	runs, _ := response["runs"].([]any)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
}

func TestPolicyAnalysisDisabled(t *testing.T) {
	fs := newFakeStore()
	fs.addProposal(testProposal(5, "L", nil, `{}`))
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	adminToken := sessionTokenFor(t, svc, fs, "admin")
	rr := postJSON(t, server, "/api/proposals/5/policy-analysis", "", adminToken)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when disabled, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeJSON(t, rr)
	if response["code"] != "POLICY_DISABLED" {
		t.Errorf("expected POLICY_DISABLED, got %v", response["code"])
	}
}

func TestPolicyAnalysisRunsFromStoredText(t *testing.T) {
	fs := newFakeStore()
	fs.addProposal(testProposal(5, "L", nil, `{}`))
	fs.pdfTexts[5] = store.ProposalPDFText{ProposalID: 5, ExtractedText: "Lovens fulde tekst"}
	svc, _, _ := newTestService(fs)
	policy := &fakePolicy{enabled: true, response: json.RawMessage(`{"meta":{"title":"x"},"tags":[]}`)}
	svc.policy = policy
	server := NewHTTPServer(svc, "*")

	adminToken := sessionTokenFor(t, svc, fs, "admin")
	rr := postJSON(t, server, "/api/proposals/5/policy-analysis", "", adminToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(policy.lawTexts) != 1 || policy.lawTexts[0] != "Lovens fulde tekst" {
		t.Errorf("expected stored text passed to analyzer, got %v", policy.lawTexts)
	}
	saved, ok := fs.policies[5]
	if !ok {
		t.Fatalf("expected analysis saved")
	}
	if saved.Model == nil || *saved.Model != "gemini:gemini-2.0-flash" {
		t.Errorf("expected model id recorded, got %v", saved.Model)
	}
}

func TestPolicyAnalysisLLMFailure(t *testing.T) {
	fs := newFakeStore()
	fs.addProposal(testProposal(5, "L", nil, `{}`))
	svc, _, _ := newTestService(fs)
	svc.policy = &fakePolicy{enabled: true, err: errDummy("model overloaded")}
	server := NewHTTPServer(svc, "*")

	adminToken := sessionTokenFor(t, svc, fs, "admin")
	rr := postJSON(t, server, "/api/proposals/5/policy-analysis", "", adminToken)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	response := decodeJSON(t, rr)
	if response["code"] != "LLM_FAILED" {
		t.Errorf("expected LLM_FAILED, got %v", response["code"])
	}
}

type errDummy string

func (e errDummy) Error() string { return string(e) }

func multipartUpload(t *testing.T, server *HTTPServer, path, filename, token string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("write form field %s: %v", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func TestUploadPDFTextRejectsNonPDF(t *testing.T) {
	fs := newFakeStore()
	fs.addProposal(testProposal(9, "L", nil, `{}`))
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	adminToken := sessionTokenFor(t, svc, fs, "admin")
	rr := multipartUpload(t, server, "/api/proposals/9/pdf-text", "notes.txt", adminToken, []byte("hello"), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-pdf, got %d", rr.Code)
	}
}

func TestUploadPDFTextRecordsExtractionFailure(t *testing.T) {
	fs := newFakeStore()
	fs.addProposal(testProposal(9, "L", nil, `{}`))
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	adminToken := sessionTokenFor(t, svc, fs, "admin")
	rr := multipartUpload(t, server, "/api/proposals/9/pdf-text", "garbage.pdf", adminToken, []byte("not a real pdf"), nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeJSON(t, rr)
	if response["code"] != "PDF_EXTRACTION_FAILED" {
		t.Errorf("expected PDF_EXTRACTION_FAILED, got %v", response["code"])
	}

	row, ok := fs.pdfTexts[9]
	if !ok {
		t.Fatalf("expected failure row stored")
	}
	if row.Error == nil || *row.Error == "" {
		t.Errorf("expected error recorded on row")
	}
	if row.SHA256 == nil || len(*row.SHA256) != 64 {
		t.Errorf("expected sha256 recorded, got %v", row.SHA256)
	}
}

func TestUploadPDFTextRejectsOversizedFile(t *testing.T) {
	fs := newFakeStore()
	fs.addProposal(testProposal(9, "L", nil, `{}`))
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	adminToken := sessionTokenFor(t, svc, fs, "admin")
	big := make([]byte, 2<<20) // 2MB against a 1MB cap
	rr := multipartUpload(t, server, "/api/proposals/9/pdf-text", "big.pdf", adminToken, big, nil)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

// textlessPDF builds a valid single-page PDF without any text content, the
// shape a scanned document parses into.
func textlessPDF(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	offsets := make([]int, 5)
	buf.WriteString("%PDF-1.4\n")
	offsets[1] = buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	offsets[2] = buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	offsets[3] = buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents 4 0 R >>\nendobj\n")
	offsets[4] = buf.Len()
	buf.WriteString("4 0 obj\n<< /Length 0 >>\nstream\n\nendstream\nendobj\n")
	xref := buf.Len()
	buf.WriteString("xref\n0 5\n0000000000 65535 f \n")
	for i := 1; i <= 4; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 5 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return buf.Bytes()
}

func TestUploadPDFTextRejectsTextlessPDF(t *testing.T) {
	fs := newFakeStore()
	fs.addProposal(testProposal(9, "L", nil, `{}`))
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	adminToken := sessionTokenFor(t, svc, fs, "admin")
	rr := multipartUpload(t, server, "/api/proposals/9/pdf-text", "scan.pdf", adminToken, textlessPDF(t), nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for textless PDF, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeJSON(t, rr)
	if response["code"] != "PDF_EXTRACTION_FAILED" {
		t.Errorf("expected PDF_EXTRACTION_FAILED, got %v", response["code"])
	}

	row, ok := fs.pdfTexts[9]
	if !ok {
		t.Fatal("expected failure row stored")
	}
	if row.Error == nil || *row.Error == "" {
		t.Errorf("expected error recorded on row")
	}
	if row.ExtractedText != "" {
		t.Errorf("expected no extracted text stored, got %q", row.ExtractedText)
	}
}

func TestUploadPDFTextRejectsEmptyExtraction(t *testing.T) {
	fs := newFakeStore()
	fs.addProposal(testProposal(9, "L", nil, `{}`))
	svc, _, _ := newTestService(fs)
	// Extraction succeeds but yields only whitespace.
	svc.extract = func(data []byte, maxPages int) (string, int, error) {
		return "  \n  ", 2, nil
	}
	server := NewHTTPServer(svc, "*")

	adminToken := sessionTokenFor(t, svc, fs, "admin")
	rr := multipartUpload(t, server, "/api/proposals/9/pdf-text", "scan.pdf", adminToken, []byte("%PDF-"), nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
	row, ok := fs.pdfTexts[9]
	if !ok {
		t.Fatal("expected failure row stored")
	}
	if row.Error == nil || !strings.Contains(*row.Error, "No extractable text") {
		t.Errorf("expected extraction error on row, got %v", row.Error)
	}
}

func TestUploadPDFTextHonorsFormFields(t *testing.T) {
	fs := newFakeStore()
	fs.addProposal(testProposal(9, "L", nil, `{}`))
	svc, _, _ := newTestService(fs)
	svc.extract = func(data []byte, maxPages int) (string, int, error) {
		return "Lovens fulde tekst", 3, nil
	}
	policy := &fakePolicy{enabled: true, response: json.RawMessage(`{"meta":{"title":"x"},"tags":[]}`)}
	svc.policy = policy
	server := NewHTTPServer(svc, "*")

	adminToken := sessionTokenFor(t, svc, fs, "admin")
	rr := multipartUpload(t, server, "/api/proposals/9/pdf-text", "l9.pdf", adminToken, []byte("%PDF-"), map[string]string{
		"source_url":          "https://www.ft.dk/ripdf/l9.pdf",
		"run_policy_analysis": "false",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeJSON(t, rr)
	if _, ok := response["policyAnalysis"]; ok {
		t.Error("policy analysis should not run when disabled by the form field")
	}
	if len(policy.lawTexts) != 0 {
		t.Errorf("analyzer should not be called, got %v", policy.lawTexts)
	}
	row, ok := fs.pdfTexts[9]
	if !ok {
		t.Fatal("expected pdf-text row stored")
	}
	if row.SourceURL == nil || *row.SourceURL != "https://www.ft.dk/ripdf/l9.pdf" {
		t.Errorf("expected source_url stored, got %v", row.SourceURL)
	}

	// Without the field, analysis runs and the filename is the source.
	rr = multipartUpload(t, server, "/api/proposals/9/pdf-text", "l9.pdf", adminToken, []byte("%PDF-"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	response = decodeJSON(t, rr)
	if _, ok := response["policyAnalysis"]; !ok {
		t.Error("policy analysis should run by default")
	}
	if len(policy.lawTexts) != 1 || policy.lawTexts[0] != "Lovens fulde tekst" {
		t.Errorf("expected extracted text passed to analyzer, got %v", policy.lawTexts)
	}
	row = fs.pdfTexts[9]
	if row.SourceURL == nil || *row.SourceURL != "l9.pdf" {
		t.Errorf("expected filename fallback source, got %v", row.SourceURL)
	}
}

func TestUploadPDFTextRequiresUploadPermission(t *testing.T) {
	fs := newFakeStore()
	fs.addProposal(testProposal(9, "L", nil, `{}`))
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	viewerToken := sessionTokenFor(t, svc, fs, "viewer")
	rr := multipartUpload(t, server, "/api/proposals/9/pdf-text", "a.pdf", viewerToken, []byte("x"), nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", rr.Code)
	}
}
