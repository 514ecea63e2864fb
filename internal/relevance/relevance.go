// Package relevance contains the keyword heuristic used to flag Danish
// parliamentary proposals as IT-relevant when no language model is available.
package relevance

import "strings"

// itKeywords is matched as lowercase substrings against the proposal text.
// Multi-word entries match across word boundaries.
var itKeywords = []string{
	// Danish IT terms
	"it", "digital", "internet", "software", "hardware", "computer", "computere",
	"databehandling", "data", "datasikkerhed", "cyber", "cybersikkerhed",
	"elektronisk", "elektroniske", "digitalisering", "digitaliserings",
	"algoritme", "algoritmer", "kunstig intelligens", "ai", "maskinlæring",
	"big data", "cloud", "skyen", "server", "servere", "netværk", "datanet",
	"programmering", "kodning", "open source", "fri software",

	// Privacy and GDPR related
	"persondata", "personoplysninger", "gdpr", "databeskyttelse",
	"privatlivets fred", "overvågning", "sporing",

	// Telecom and infrastructure
	"telekommunikation", "bredbånd", "fibernet", "mobilnet", "5g", "6g",
	"internetudbyder", "teleudbyder",

	// Public sector IT
	"offentlig digitalisering", "e-government", "digital forvaltning",
	"elektronisk sagsbehandling", "digital post", "nemid", "mitid",

	// Security terms
	"sikkerhed", "kryptering", "certifikat", "certifikater", "hacking",
	"dataintrusion", "malware", "virus", "trojan", "ransomware",

	// Emerging tech
	"blockchain", "kryptovaluta", "bitcoin", "nft", "metaverse",
	"quantum computing", "kvantecomputer",

	// Platform regulation
	"platform", "platforme", "sociale medier", "facebook", "google",
	"amazon", "microsoft", "apple", "tech-giganter", "tech giganter",
}

// Relevant reports whether the text contains at least one IT keyword.
func Relevant(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range itKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Topics returns the IT keywords found in the text, in a stable order.
func Topics(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var matched []string
	for _, kw := range itKeywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}
