package auth

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/tokengate/internal/model"
	"github.com/hitoshi/tokengate/internal/repository"
)

// --- モック定義 ---

type mockOAuthClient struct {
	buildAuthorizationURLFn func(state string) string
	exchangeCodeFn          func(ctx context.Context, code string) (*model.TokenSet, error)
	verifyIdentityFn        func(ctx context.Context, idToken string) (*model.IdentityClaims, error)
	refreshAccessTokenFn    func(ctx context.Context, refreshToken string) (*model.RefreshedToken, error)

	mu           sync.Mutex
	refreshCalls int
}

func (m *mockOAuthClient) BuildAuthorizationURL(state string) string {
	if m.buildAuthorizationURLFn != nil {
		return m.buildAuthorizationURLFn(state)
	}
	return ""
}

func (m *mockOAuthClient) ExchangeCode(ctx context.Context, code string) (*model.TokenSet, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

func (m *mockOAuthClient) VerifyIdentity(ctx context.Context, idToken string) (*model.IdentityClaims, error) {
	if m.verifyIdentityFn != nil {
		return m.verifyIdentityFn(ctx, idToken)
	}
	return nil, nil
}

func (m *mockOAuthClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*model.RefreshedToken, error) {
	m.mu.Lock()
	m.refreshCalls++
	m.mu.Unlock()
	if m.refreshAccessTokenFn != nil {
		return m.refreshAccessTokenFn(ctx, refreshToken)
	}
	return nil, nil
}

func (m *mockOAuthClient) RefreshCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCalls
}

type mockIdentityRepo struct {
	findBySubjectFn func(ctx context.Context, subjectID string) (*model.IdentityRecord, error)
	upsertFn        func(ctx context.Context, subjectID string, fields model.IdentityFields) (*model.IdentityRecord, error)

	mu          sync.Mutex
	upsertCalls int
}

func (m *mockIdentityRepo) FindBySubject(ctx context.Context, subjectID string) (*model.IdentityRecord, error) {
	if m.findBySubjectFn != nil {
		return m.findBySubjectFn(ctx, subjectID)
	}
	return nil, nil
}

func (m *mockIdentityRepo) Upsert(ctx context.Context, subjectID string, fields model.IdentityFields) (*model.IdentityRecord, error) {
	m.mu.Lock()
	m.upsertCalls++
	m.mu.Unlock()
	if m.upsertFn != nil {
		return m.upsertFn(ctx, subjectID, fields)
	}
	return nil, nil
}

func (m *mockIdentityRepo) UpsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertCalls
}

type mockSessionStore struct {
	createFn     func(ctx context.Context, session *model.Session) error
	findByIDFn   func(ctx context.Context, id string) (*model.Session, error)
	replaceFn    func(ctx context.Context, id string, snapshot model.SessionSnapshot) error
	deleteByIDFn func(ctx context.Context, id string) error

	mu           sync.Mutex
	replaceCalls int
}

func (m *mockSessionStore) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionStore) Replace(ctx context.Context, id string, snapshot model.SessionSnapshot) error {
	m.mu.Lock()
	m.replaceCalls++
	m.mu.Unlock()
	if m.replaceFn != nil {
		return m.replaceFn(ctx, id, snapshot)
	}
	return nil
}

func (m *mockSessionStore) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionStore) ReplaceCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaceCalls
}

type mockMetrics struct {
	mu        sync.Mutex
	logins    []string
	refreshes []string
	latencies []time.Duration
}

func (m *mockMetrics) RecordLogin(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins = append(m.logins, outcome)
}

func (m *mockMetrics) RecordRefresh(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes = append(m.refreshes, outcome)
}

func (m *mockMetrics) RecordRefreshLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, d)
}

func (m *mockMetrics) RecordHTTPStatus(int) {}

// --- compile-time interface checks ---
var (
	_ OAuthClient                   = (*mockOAuthClient)(nil)
	_ repository.IdentityRepository = (*mockIdentityRepo)(nil)
	_ repository.SessionStore       = (*mockSessionStore)(nil)
)
