package oda

import (
	"strconv"
	"strings"
	"time"
)

// Sag is one row from the /Sag feed. Known fields are parsed out; Raw holds
// the full ODA payload so it can be stored verbatim.
type Sag struct {
	ID              int64
	PeriodeID       *int64
	NummerPrefix    string
	NummerNumerisk  string
	Nummer          string
	Titel           string
	Resume          string
	Opdateringsdato time.Time
	StatusID        *int64
	TypeID          *int64
	Lovnummerdato   string
	Raw             map[string]any
}

func sagFromRaw(raw map[string]any) Sag {
	s := Sag{Raw: raw}
	if id, ok := coerceInt(raw["id"]); ok {
		s.ID = id
	}
	s.PeriodeID = optInt(raw["periodeid"])
	s.StatusID = optInt(raw["statusid"])
	s.TypeID = optInt(raw["typeid"])
	if v, ok := raw["nummerprefix"].(string); ok {
		s.NummerPrefix = v
	}
	if v, ok := raw["nummernumerisk"].(string); ok {
		s.NummerNumerisk = v
	}
	if v, ok := raw["nummer"].(string); ok {
		s.Nummer = v
	}
	if v, ok := raw["titel"].(string); ok {
		s.Titel = strings.TrimSpace(v)
	}
	if v, ok := raw["resume"].(string); ok {
		s.Resume = strings.TrimSpace(v)
	}
	if v, ok := raw["lovnummerdato"].(string); ok {
		s.Lovnummerdato = strings.TrimSpace(v)
	}
	if v, ok := raw["opdateringsdato"].(string); ok {
		if t, err := ParseODATime(v); err == nil {
			s.Opdateringsdato = t
		}
	}
	return s
}

// AttachPDFInfo merges resolved PDF URLs into the raw payload so they persist
// in raw_json alongside the Sag fields.
func (s *Sag) AttachPDFInfo(result PDFResult) {
	if s.Raw == nil {
		s.Raw = map[string]any{}
	}
	if result.MainPDFURL != nil {
		s.Raw["mainPdfUrl"] = *result.MainPDFURL
	} else {
		s.Raw["mainPdfUrl"] = nil
	}
	urls := make([]any, len(result.PDFURLs))
	for i, u := range result.PDFURLs {
		urls[i] = u
	}
	s.Raw["pdfUrls"] = urls

	docs := make([]any, len(result.Documents))
	for i, d := range result.Documents {
		docs[i] = d
	}
	s.Raw["pdfDocuments"] = docs
}

func isMainBillDokument(dokument map[string]any) bool {
	if typeid, ok := coerceInt(dokument["typeid"]); ok && typeid == mainDokumentTypeID {
		return true
	}
	if kategoriid, ok := coerceInt(dokument["kategoriid"]); ok && kategoriid == mainDokumentKategoriID {
		return true
	}
	return false
}

// extractPDFURLs pulls downloadable URLs from Dokument.Fil, keeping only
// format == "PDF" rows and preferring variantkode "P" (the primary variant)
// when present. Order is preserved and duplicates dropped.
func extractPDFURLs(dokument map[string]any) []string {
	files, ok := dokument["Fil"].([]any)
	if !ok {
		files, ok = dokument["fil"].([]any)
		if !ok {
			return nil
		}
	}

	var pdfFiles []map[string]any
	for _, f := range files {
		obj, ok := f.(map[string]any)
		if !ok {
			continue
		}
		if format, ok := obj["format"].(string); ok && strings.EqualFold(strings.TrimSpace(format), "PDF") {
			pdfFiles = append(pdfFiles, obj)
		}
	}
	if len(pdfFiles) == 0 {
		return nil
	}

	var primary []map[string]any
	for _, f := range pdfFiles {
		if v, ok := f["variantkode"].(string); ok && strings.EqualFold(v, "P") {
			primary = append(primary, f)
		}
	}
	chosen := pdfFiles
	if len(primary) > 0 {
		chosen = primary
	}

	seen := make(map[string]bool)
	var urls []string
	for _, f := range chosen {
		url := extractFileURL(f)
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		urls = append(urls, url)
	}
	return urls
}

// extractFileURL handles the varying URL field names across ODA schema
// shapes: common candidates first, then any *url* string field.
func extractFileURL(fileObj map[string]any) string {
	for _, key := range []string{"url", "filurl", "downloadurl", "link"} {
		if v, ok := fileObj[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	for key, value := range fileObj {
		if !strings.Contains(strings.ToLower(key), "url") {
			continue
		}
		if v, ok := value.(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// coerceInt accepts the numeric shapes JSON decoding produces plus digit
// strings, which ODA occasionally emits for ID fields.
func coerceInt(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		raw := strings.TrimSpace(v)
		if raw == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func optInt(value any) *int64 {
	if n, ok := coerceInt(value); ok {
		return &n
	}
	return nil
}

func optString(value any) *string {
	if v, ok := value.(string); ok {
		return &v
	}
	return nil
}
