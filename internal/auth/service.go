// Package auth はOAuth認証フロー、トークンのライフサイクル管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/tokengate/internal/metrics"
	"github.com/hitoshi/tokengate/internal/model"
	"github.com/hitoshi/tokengate/internal/repository"
)

// OAuthClient はOAuthプロバイダーとのやり取りを抽象化するインターフェース。
type OAuthClient interface {
	// BuildAuthorizationURL は同意画面へのURLを生成する。副作用を持たない。
	BuildAuthorizationURL(state string) string
	// ExchangeCode は認可コードをトークン一式に交換する。
	ExchangeCode(ctx context.Context, code string) (*model.TokenSet, error)
	// VerifyIdentity はIDトークンを検証し、ユーザー情報を返す。
	VerifyIdentity(ctx context.Context, idToken string) (*model.IdentityClaims, error)
	// RefreshAccessToken はリフレッシュトークンで新しいアクセストークンを取得する。
	RefreshAccessToken(ctx context.Context, refreshToken string) (*model.RefreshedToken, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge        int           // セッション有効期間（秒）
	RefreshTokenLifetime time.Duration // リフレッシュトークンの想定有効期間（記録のみ）
	StoreTimeout         time.Duration // リポジトリ・セッションストア呼び出しごとの期限。0の場合はDefaultStoreTimeout
}

// Service はログイン・ログアウトに関するビジネスロジックを提供する。
type Service struct {
	oauth      OAuthClient
	identities repository.IdentityRepository
	sessions   repository.SessionStore
	metrics    metrics.MetricsCollector
	config     ServiceConfig
	now        func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthClient,
	identities repository.IdentityRepository,
	sessions repository.SessionStore,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if config.StoreTimeout == 0 {
		config.StoreTimeout = DefaultStoreTimeout
	}
	return &Service{
		oauth:      oauth,
		identities: identities,
		sessions:   sessions,
		metrics:    collector,
		config:     config,
		now:        time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.BuildAuthorizationURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// レコードはsubject_idをキーにUPSERTされ、セッションにはリポジトリが返したレコードを保持する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換
	tokens, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginOutcomeProviderError)
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}
	issuedAt := s.now()

	// 2. IDトークンを検証してユーザー情報を取得
	claims, err := s.oauth.VerifyIdentity(ctx, tokens.IDToken)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginOutcomeProviderError)
		return nil, fmt.Errorf("failed to verify identity: %w", err)
	}

	// 3. レコードをUPSERT
	// リフレッシュトークンは初回同意時にしか返らないため、返らなかった場合は保存済みの値を維持する。
	accessExpiresAt := issuedAt.Add(time.Duration(tokens.ExpiresIn) * time.Second)
	fields := model.IdentityFields{
		DisplayName:          &claims.Name,
		Email:                &claims.Email,
		AccessToken:          &tokens.AccessToken,
		AccessTokenExpiresAt: &accessExpiresAt,
	}
	if tokens.RefreshToken != "" {
		refreshExpiresAt := issuedAt.Add(s.config.RefreshTokenLifetime)
		fields.RefreshToken = &tokens.RefreshToken
		fields.RefreshTokenExpiresAt = &refreshExpiresAt
	}

	upsertCtx, cancel := withStoreTimeout(ctx, s.config.StoreTimeout)
	record, err := s.identities.Upsert(upsertCtx, claims.SubjectID, fields)
	cancel()
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginOutcomeRepositoryError)
		return nil, fmt.Errorf("failed to upsert identity record: %w", err)
	}

	if record.RefreshToken == "" {
		slog.Warn("identity has no refresh token, access will end when the current token expires",
			slog.String("subject_id", record.SubjectID),
		)
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, record)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginOutcomeSessionError)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordLogin(metrics.LoginOutcomeSuccess)
	slog.Info("user logged in",
		slog.String("subject_id", record.SubjectID),
		slog.Time("access_token_expires_at", record.AccessTokenExpiresAt),
	)

	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("session ID is required")
	}

	deleteCtx, cancel := withStoreTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	if err := s.sessions.DeleteByID(deleteCtx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// createSession はレコードのスナップショットを持つセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, record *model.IdentityRecord) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		Snapshot:  model.NewSessionSnapshot(record),
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	createCtx, cancel := withStoreTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	if err := s.sessions.Create(createCtx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
