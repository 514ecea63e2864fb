package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"billradar/api/internal/authpw"
	"billradar/api/internal/config"
	"billradar/api/internal/ingest"
	"billradar/api/internal/store"
)

// fakeStore is an in-memory dataStore.
type fakeStore struct {
	proposals   map[int64]store.ProposalDetail
	order       []int64
	users       map[string]store.User
	revoked     map[string]bool
	pdfTexts    map[int64]store.ProposalPDFText
	policies    map[int64]store.PolicyAnalysis
	runs        []store.IngestionRun
	topicCounts []store.TopicCount
	pingErr     error
	listCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		proposals: make(map[int64]store.ProposalDetail),
		users:     make(map[string]store.User),
		revoked:   make(map[string]bool),
		pdfTexts:  make(map[int64]store.ProposalPDFText),
		policies:  make(map[int64]store.PolicyAnalysis),
	}
}

func (f *fakeStore) addProposal(detail store.ProposalDetail) {
	f.proposals[detail.ID] = detail
	f.order = append(f.order, detail.ID)
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStore) ListProposals(ctx context.Context, filter store.ProposalFilter) ([]store.ProposalDetail, error) {
	f.listCalls++
	var matched []store.ProposalDetail
	for _, id := range f.order {
		detail := f.proposals[id]
		if filter.Type != "" && detail.NummerPrefix != filter.Type {
			continue
		}
		if filter.ITRelevant != nil {
			if detail.Label == nil || detail.Label.ITRelevant != *filter.ITRelevant {
				continue
			}
		}
		if filter.Query != "" && !strings.Contains(strings.ToLower(detail.Titel), strings.ToLower(filter.Query)) {
			continue
		}
		matched = append(matched, detail)
	}
	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (f *fakeStore) GetProposal(ctx context.Context, proposalID int64) (store.ProposalDetail, error) {
	detail, ok := f.proposals[proposalID]
	if !ok {
		return store.ProposalDetail{}, sql.ErrNoRows
	}
	if text, ok := f.pdfTexts[proposalID]; ok {
		detail.PDFText = &text
	}
	if policy, ok := f.policies[proposalID]; ok {
		detail.Policy = &policy
	}
	return detail, nil
}

func (f *fakeStore) TopicCounts(ctx context.Context, limit int) ([]store.TopicCount, error) {
	return f.topicCounts, nil
}

func (f *fakeStore) ListIngestionRuns(ctx context.Context, limit int) ([]store.IngestionRun, error) {
	return f.runs, nil
}

func (f *fakeStore) UpsertPDFText(ctx context.Context, text store.ProposalPDFText) (store.ProposalPDFText, error) {
	f.pdfTexts[text.ProposalID] = text
	return text, nil
}

func (f *fakeStore) UpsertPolicyAnalysis(ctx context.Context, analysis store.PolicyAnalysis) (store.PolicyAnalysis, error) {
	analysis.UpdatedAt = time.Now()
	f.policies[analysis.ProposalID] = analysis
	return analysis, nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}

// fakeSessions is an in-memory refresh-token store.
type fakeSessions struct {
	tokens map[string]store.User
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: make(map[string]store.User)}
}

func (f *fakeSessions) SaveRefreshSessionUser(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	f.tokens[tokenHash] = user
	return nil
}

func (f *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	user, ok := f.tokens[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	delete(f.tokens, tokenHash)
	return nil
}

// fakeUserStore backs the password auth service.
type fakeUserStore struct {
	byEmail map[string]store.User
	byID    map[string]store.User
	resets  map[string]string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		byEmail: make(map[string]store.User),
		byID:    make(map[string]store.User),
		resets:  make(map[string]string),
	}
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	user, ok := f.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	user, ok := f.byID[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user store.User) error {
	f.byEmail[strings.ToLower(strings.TrimSpace(user.Email))] = user
	f.byID[user.ID] = user
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	user := f.byID[userID]
	user.VerificationToken = token
	f.byID[userID] = user
	f.byEmail[user.Email] = user
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	for id, user := range f.byID {
		if user.VerificationToken == token && token != "" {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.byID[id] = user
			f.byEmail[user.Email] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	user := f.byID[userID]
	user.PasswordHash = passwordHash
	f.byID[userID] = user
	f.byEmail[user.Email] = user
	return nil
}

func (f *fakeUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.resets[token] = userID
	return nil
}

func (f *fakeUserStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	delete(f.resets, token)
	return nil
}

// fakeRunner answers ingestion triggers.
type fakeRunner struct {
	result ingest.Result
	err    error
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context) (ingest.Result, error) {
	f.calls++
	return f.result, f.err
}

// fakePolicy is an app-level policy analyzer stub.
type fakePolicy struct {
	enabled  bool
	response json.RawMessage
	err      error
	lawTexts []string
}

func (f *fakePolicy) Enabled() bool          { return f.enabled }
func (f *fakePolicy) ModelID() string        { return "gemini:gemini-2.0-flash" }
func (f *fakePolicy) PromptVersion() string  { return "1.1" }
func (f *fakePolicy) Analyze(ctx context.Context, titel, resume, lawText string) (json.RawMessage, error) {
	f.lawTexts = append(f.lawTexts, lawText)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:       "test-secret",
		IngestToken:     "ingest-secret",
		AccessTTL:       time.Hour,
		RefreshTTL:      24 * time.Hour,
		PDFUploadMaxMB:  1,
		PDFMaxPages:     5,
		PDFTextMaxChars: 1000,
	}
}

func newTestService(fs *fakeStore) (*Service, *fakeSessions, *fakeUserStore) {
	sessions := newFakeSessions()
	userStore := newFakeUserStore()
	authSvc := authpw.NewService(userStore, nil)
	svc := New(testConfig(), fs, sessions, authSvc, nil)
	return svc, sessions, userStore
}

func sessionTokenFor(t *testing.T, svc *Service, fs *fakeStore, role string) string {
	t.Helper()
	user := store.User{
		ID:          "usr_" + role,
		DisplayName: "Test " + role,
		Email:       role + "@billradar.dk",
		Role:        role,
	}
	fs.users[user.ID] = user
	session, err := svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session.Token
}
