package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"billradar/api/internal/auth"
	"billradar/api/internal/authpw"
	"billradar/api/internal/blob"
	"billradar/api/internal/config"
	"billradar/api/internal/email"
	"billradar/api/internal/enrich"
	"billradar/api/internal/export"
	"billradar/api/internal/ingest"
	"billradar/api/internal/pdftext"
	"billradar/api/internal/rbac"
	"billradar/api/internal/search"
	"billradar/api/internal/store"
	"billradar/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// ProposalListFilter is the full set of list-endpoint filters. The flag
// filters cannot be answered by the database directly because they live in
// raw_json and the optional 1:1 attachments, so they are applied on ordered
// scan batches.
type ProposalListFilter struct {
	Type              string
	ITRelevant        *bool
	Topic             string
	Query             string
	HasPDFLink        *bool
	HasPDFText        *bool
	HasPolicyAnalysis *bool
	Limit             int
	Offset            int
}

// scanCap bounds how many rows a flag-filtered list request may walk.
const scanCap = 20000

type dataStore interface {
	Ping(ctx context.Context) error
	ListProposals(ctx context.Context, filter store.ProposalFilter) ([]store.ProposalDetail, error)
	GetProposal(ctx context.Context, proposalID int64) (store.ProposalDetail, error)
	TopicCounts(ctx context.Context, limit int) ([]store.TopicCount, error)
	ListIngestionRuns(ctx context.Context, limit int) ([]store.IngestionRun, error)
	UpsertPDFText(ctx context.Context, text store.ProposalPDFText) (store.ProposalPDFText, error)
	UpsertPolicyAnalysis(ctx context.Context, analysis store.PolicyAnalysis) (store.PolicyAnalysis, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// sessionStore holds refresh tokens. Redis when configured, Postgres
// otherwise.
type sessionStore interface {
	SaveRefreshSessionUser(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// PGSessionStore adapts the Postgres refresh-session queries to the
// sessionStore shape the Redis store exposes.
type PGSessionStore struct {
	store *store.PostgresStore
}

func NewPGSessionStore(st *store.PostgresStore) *PGSessionStore {
	return &PGSessionStore{store: st}
}

func (p *PGSessionStore) SaveRefreshSessionUser(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return p.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (p *PGSessionStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return p.store.LookupRefreshSession(ctx, tokenHash)
}

func (p *PGSessionStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.store.RevokeRefreshSession(ctx, tokenHash)
}

// ingestRunner triggers one ingestion run.
type ingestRunner interface {
	Run(ctx context.Context) (ingest.Result, error)
}

// policyAnalyzer re-runs the policy analysis prompt for one proposal.
type policyAnalyzer interface {
	Enabled() bool
	ModelID() string
	PromptVersion() string
	Analyze(ctx context.Context, titel, resume, lawText string) (json.RawMessage, error)
}

// pdfArchive stores uploaded PDF bytes. Optional.
type pdfArchive interface {
	PutPDF(ctx context.Context, proposalID int64, sha256Hex string, data []byte) (string, error)
}

// exporter renders one proposal as a downloadable report.
type exporter interface {
	ProposalReport(detail store.ProposalDetail) (*export.Result, error)
}

// searcher answers the /api/search endpoint.
type searcher interface {
	Search(q search.Query) search.Response
	IndexProposal(record search.ProposalRecord)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	mail     *email.Service

	search   searcher
	ingest   ingestRunner
	policy   policyAnalyzer
	archive  pdfArchive
	exporter exporter

	extract func(data []byte, maxPages int) (string, int, error)
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, authSvc *authpw.Service, mail *email.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authSvc,
		mail:     mail,
		extract:  pdftext.ExtractText,
	}
}

func (s *Service) SetSearch(sv *search.Service) {
	if sv != nil {
		s.search = sv
	}
}

func (s *Service) SetIngest(sv *ingest.Service) {
	if sv != nil {
		s.ingest = sv
	}
}

func (s *Service) SetPolicyAnalyzer(p *enrich.PolicyAnalyzer) {
	if p != nil {
		s.policy = p
	}
}

func (s *Service) SetBlobStore(b *blob.Store) {
	if b != nil {
		s.archive = b
	}
}

func (s *Service) SetExporter(e *export.Service) {
	if e != nil {
		s.exporter = e
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

// SendVerificationEmail is best effort; signup already succeeded.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := strings.TrimRight(s.cfg.CORSOrigin, "/") + "/verify-email?token=" + token
	if err := s.mail.SendVerificationEmail(to, userName, url); err != nil {
		log.Printf("app: send verification email: %v", err)
	}
}

func (s *Service) SendPasswordResetEmail(to, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := strings.TrimRight(s.cfg.CORSOrigin, "/") + "/reset-password?token=" + token
	if err := s.mail.SendPasswordResetEmail(to, "", url); err != nil {
		log.Printf("app: send reset email: %v", err)
	}
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// IngestTokenMatches checks the shared-secret trigger token. A blank
// configured token disables the trigger entirely.
func (s *Service) IngestTokenMatches(token string) bool {
	return s.cfg.IngestToken != "" && token == s.cfg.IngestToken
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  user.DisplayName,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.RandomToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSessionUser(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ListProposals answers the filtered list. When only database-answerable
// filters are present it is a single query; flag filters walk ordered scan
// batches so offset counts filtered rows, capped at scanCap.
func (s *Service) ListProposals(ctx context.Context, filter ProposalListFilter) ([]map[string]any, error) {
	base := store.ProposalFilter{
		Type:       filter.Type,
		ITRelevant: filter.ITRelevant,
		Topic:      filter.Topic,
		Query:      filter.Query,
	}

	if filter.HasPDFLink == nil && filter.HasPDFText == nil && filter.HasPolicyAnalysis == nil {
		base.Limit = filter.Limit
		base.Offset = filter.Offset
		details, err := s.store.ListProposals(ctx, base)
		if err != nil {
			return nil, err
		}
		return proposalPayloads(details), nil
	}

	batch := filter.Limit * 5
	if batch < 100 {
		batch = 100
	}
	if batch > 500 {
		batch = 500
	}

	matched := make([]store.ProposalDetail, 0, filter.Limit)
	skip := filter.Offset
	scanned := 0
	for scanOffset := 0; scanned < scanCap; scanOffset += batch {
		base.Limit = batch
		base.Offset = scanOffset
		page, err := s.store.ListProposals(ctx, base)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		scanned += len(page)
		for _, detail := range page {
			if !matchesFlags(detail, filter) {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			matched = append(matched, detail)
			if len(matched) >= filter.Limit {
				return proposalPayloads(matched), nil
			}
		}
		if len(page) < batch {
			break
		}
	}
	return proposalPayloads(matched), nil
}

func matchesFlags(detail store.ProposalDetail, filter ProposalListFilter) bool {
	if filter.HasPDFLink != nil {
		mainURL, urls := detail.PDFLinks()
		has := mainURL != "" || len(urls) > 0
		if has != *filter.HasPDFLink {
			return false
		}
	}
	if filter.HasPDFText != nil {
		has := detail.PDFText != nil && detail.PDFText.ExtractedText != ""
		if has != *filter.HasPDFText {
			return false
		}
	}
	if filter.HasPolicyAnalysis != nil {
		if (detail.Policy != nil) != *filter.HasPolicyAnalysis {
			return false
		}
	}
	return true
}

func (s *Service) GetProposal(ctx context.Context, proposalID int64) (map[string]any, error) {
	detail, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return proposalPayload(detail, true), nil
}

func (s *Service) GetProposalDetail(ctx context.Context, proposalID int64) (store.ProposalDetail, error) {
	return s.store.GetProposal(ctx, proposalID)
}

func (s *Service) Topics(ctx context.Context) ([]map[string]any, error) {
	counts, err := s.store.TopicCounts(ctx, 200)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(counts))
	for _, c := range counts {
		items = append(items, map[string]any{"topic": c.Topic, "count": c.Count})
	}
	return items, nil
}

func (s *Service) IngestionRuns(ctx context.Context) ([]map[string]any, error) {
	runs, err := s.store.ListIngestionRuns(ctx, 50)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		items = append(items, map[string]any{
			"id":                  run.ID,
			"startedAt":           run.StartedAt,
			"finishedAt":          run.FinishedAt,
			"lastWatermarkBefore": run.LastWatermarkBefore,
			"lastWatermarkAfter":  run.LastWatermarkAfter,
			"fetchedCount":        run.FetchedCount,
			"updatedCount":        run.UpdatedCount,
			"error":               run.Error,
		})
	}
	return items, nil
}

func (s *Service) RunIngestion(ctx context.Context) (ingest.Result, error) {
	if s.ingest == nil {
		return ingest.Result{}, domainError(http.StatusServiceUnavailable, "INGEST_UNAVAILABLE", "Ingestion is not configured", nil)
	}
	return s.ingest.Run(ctx)
}

func (s *Service) SearchProposals(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// UploadPDFText extracts text from an uploaded bill PDF and stores it.
// Extraction failures are recorded as a pdf-text row carrying the error so
// the admin panel can show which uploads need attention. An extraction that
// parses but yields no text (a scanned PDF) counts as a failure too.
func (s *Service) UploadPDFText(ctx context.Context, proposalID int64, source string, data []byte, runPolicy bool) (map[string]any, error) {
	detail, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	shaHex := hex.EncodeToString(sum[:])
	now := time.Now().UTC()

	text, pages, err := s.extract(data, s.cfg.PDFMaxPages)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("No extractable text found (scanned PDF?)")
	}
	if err != nil {
		msg := err.Error()
		if _, storeErr := s.store.UpsertPDFText(ctx, store.ProposalPDFText{
			ProposalID: proposalID,
			SourceURL:  &source,
			SHA256:     &shaHex,
			Error:      &msg,
		}); storeErr != nil {
			return nil, storeErr
		}
		return nil, domainError(http.StatusUnprocessableEntity, "PDF_EXTRACTION_FAILED", "Could not extract text from PDF", map[string]any{"error": msg})
	}

	truncated := false
	if s.cfg.PDFTextMaxChars > 0 && len(text) > s.cfg.PDFTextMaxChars {
		text = text[:s.cfg.PDFTextMaxChars] + "\n\n[... afkortet ...]"
		truncated = true
	}

	saved, err := s.store.UpsertPDFText(ctx, store.ProposalPDFText{
		ProposalID:    proposalID,
		SourceURL:     &source,
		SHA256:        &shaHex,
		ExtractedText: text,
		ExtractedAt:   &now,
	})
	if err != nil {
		return nil, err
	}

	if s.archive != nil {
		if _, err := s.archive.PutPDF(ctx, proposalID, shaHex, data); err != nil {
			log.Printf("app: archive pdf for %d: %v", proposalID, err)
		}
	}

	payload := map[string]any{
		"pdfText":   pdfTextPayload(&saved, false),
		"pages":     pages,
		"chars":     len(text),
		"truncated": truncated,
	}

	if runPolicy && s.policy != nil && s.policy.Enabled() {
		analysis, err := s.analyzePolicy(ctx, detail, text)
		if err != nil {
			log.Printf("app: policy analysis after upload for %d: %v", proposalID, err)
		} else {
			payload["policyAnalysis"] = policyPayload(&analysis)
		}
	}

	return payload, nil
}

// RunPolicyAnalysis re-runs the analysis from stored text (or the resume
// when no text was extracted yet).
func (s *Service) RunPolicyAnalysis(ctx context.Context, proposalID int64) (map[string]any, error) {
	if s.policy == nil || !s.policy.Enabled() {
		return nil, domainError(http.StatusBadRequest, "POLICY_DISABLED", "Policy analysis is not enabled", nil)
	}

	detail, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	lawText := ""
	if detail.PDFText != nil {
		lawText = detail.PDFText.ExtractedText
	}

	saved, err := s.analyzePolicy(ctx, detail, lawText)
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			return nil, err
		}
		return nil, domainError(http.StatusBadGateway, "LLM_FAILED", "Policy analysis failed", map[string]any{"error": err.Error()})
	}
	return map[string]any{"policyAnalysis": policyPayload(&saved)}, nil
}

// ExportProposal renders the proposal report PDF.
func (s *Service) ExportProposal(ctx context.Context, proposalID int64) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	detail, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	result, err := s.exporter.ProposalReport(detail)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF renderer unavailable", nil)
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) analyzePolicy(ctx context.Context, detail store.ProposalDetail, lawText string) (store.PolicyAnalysis, error) {
	resume := ""
	if detail.Resume != nil {
		resume = *detail.Resume
	}
	analysis, err := s.policy.Analyze(ctx, detail.Titel, resume, lawText)
	if err != nil {
		return store.PolicyAnalysis{}, err
	}
	model := s.policy.ModelID()
	version := s.policy.PromptVersion()
	saved, err := s.store.UpsertPolicyAnalysis(ctx, store.PolicyAnalysis{
		ProposalID:    detail.ID,
		Analysis:      analysis,
		Model:         &model,
		PromptVersion: &version,
	})
	if err != nil {
		return store.PolicyAnalysis{}, fmt.Errorf("save policy analysis: %w", err)
	}
	return saved, nil
}

// Payload shaping. The dashboard consumes camelCase attachments around the
// ODA column names.

func proposalPayloads(details []store.ProposalDetail) []map[string]any {
	items := make([]map[string]any, 0, len(details))
	for _, detail := range details {
		items = append(items, proposalPayload(detail, false))
	}
	return items
}

func proposalPayload(detail store.ProposalDetail, includeText bool) map[string]any {
	mainURL, urls := detail.PDFLinks()
	if urls == nil {
		urls = []string{}
	}
	payload := map[string]any{
		"id":              detail.ID,
		"periodeid":       detail.PeriodeID,
		"nummerprefix":    detail.NummerPrefix,
		"nummernumerisk":  detail.NummerNumerisk,
		"nummer":          detail.Nummer,
		"titel":           detail.Titel,
		"resume":          detail.Resume,
		"opdateringsdato": detail.Opdateringsdato,
		"mainPdfUrl":      nullableStr(mainURL),
		"pdfUrls":         urls,
		"label":           labelPayload(detail.Label),
		"policyAnalysis":  policyPayload(detail.Policy),
		"pdfText":         pdfTextPayload(detail.PDFText, includeText),
	}
	return payload
}

func labelPayload(label *store.ProposalLabel) any {
	if label == nil {
		return nil
	}
	topics := label.ITTopics
	if topics == nil {
		topics = []string{}
	}
	return map[string]any{
		"itRelevant":      label.ITRelevant,
		"itTopics":        topics,
		"itSummaryDa":     label.ITSummaryDA,
		"whyItRelevantDa": label.WhyITRelevantDA,
		"confidence":      label.Confidence,
		"model":           label.Model,
		"promptVersion":   label.PromptVersion,
	}
}

func policyPayload(policy *store.PolicyAnalysis) any {
	if policy == nil {
		return nil
	}
	return map[string]any{
		"analysis":      json.RawMessage(policy.Analysis),
		"model":         policy.Model,
		"promptVersion": policy.PromptVersion,
		"updatedAt":     policy.UpdatedAt,
	}
}

func pdfTextPayload(text *store.ProposalPDFText, includeText bool) any {
	if text == nil {
		return nil
	}
	payload := map[string]any{
		"sourceUrl":   text.SourceURL,
		"sha256":      text.SHA256,
		"chars":       len(text.ExtractedText),
		"extractedAt": text.ExtractedAt,
		"error":       text.Error,
	}
	if includeText {
		payload["extractedText"] = text.ExtractedText
	}
	return payload
}

func nullableStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
