package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hitoshi/tokengate/internal/metrics"
	"github.com/hitoshi/tokengate/internal/model"
	"github.com/hitoshi/tokengate/internal/repository"
)

// State はリクエストごとに評価されるトークンの状態。
type State int

const (
	// StateUnauthenticated はセッションにレコードがない状態。
	StateUnauthenticated State = iota
	// StateValid はアクセストークンが有効期限内の状態。
	StateValid
	// StateExpired はアクセストークンが有効期限切れの状態。
	StateExpired
	// StateRefreshing はリフレッシュ処理中の状態。
	StateRefreshing
	// StateFailed はリフレッシュに失敗した状態。セッションは変更されない。
	StateFailed
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Decision はAuthenticateの判定結果。
type Decision struct {
	State State
	// Snapshot はStateValidのときに下流へ渡す最新のスナップショット。
	Snapshot *model.SessionSnapshot
	// Refreshed はこのリクエストでリフレッシュが行われたかどうか。
	Refreshed bool
}

// TokenRefresher はアクセストークンのリフレッシュを行うインターフェース。
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*model.RefreshedToken, error)
}

// IdentityUpserter はレコードの部分更新を行うインターフェース。
type IdentityUpserter interface {
	Upsert(ctx context.Context, subjectID string, fields model.IdentityFields) (*model.IdentityRecord, error)
}

// SessionReplacer はセッションのスナップショットを置き換えるインターフェース。
type SessionReplacer interface {
	Replace(ctx context.Context, id string, snapshot model.SessionSnapshot) error
}

// LifecycleOption はTokenLifecycleManagerの設定オプション。
type LifecycleOption func(*TokenLifecycleManager)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) LifecycleOption {
	return func(m *TokenLifecycleManager) {
		m.now = now
	}
}

// DefaultStoreTimeout はリポジトリとセッションストアの1回の呼び出しに与える既定の期限。
const DefaultStoreTimeout = 5 * time.Second

// WithStoreTimeout はリポジトリとセッションストアの呼び出しごとの期限を設定する。
// 0以下を指定すると呼び出し元のコンテキストの期限のみに従う。
func WithStoreTimeout(d time.Duration) LifecycleOption {
	return func(m *TokenLifecycleManager) {
		m.storeTimeout = d
	}
}

// WithMetrics はメトリクスコレクターを設定する。
func WithMetrics(collector metrics.MetricsCollector) LifecycleOption {
	return func(m *TokenLifecycleManager) {
		m.metrics = collector
	}
}

// TokenLifecycleManager はリクエストごとにアクセストークンの有効性を判定し、
// 期限切れであればリフレッシュしてレコードとセッションを更新する。
// リクエストをまたいだ状態は持たず、同一subjectへの並行リフレッシュも排他しない（後勝ち）。
type TokenLifecycleManager struct {
	refresher  TokenRefresher
	identities IdentityUpserter
	sessions   SessionReplacer
	metrics    metrics.MetricsCollector
	now        func() time.Time

	storeTimeout time.Duration
}

// NewTokenLifecycleManager はTokenLifecycleManagerを生成する。
func NewTokenLifecycleManager(
	refresher TokenRefresher,
	identities IdentityUpserter,
	sessions SessionReplacer,
	opts ...LifecycleOption,
) *TokenLifecycleManager {
	m := &TokenLifecycleManager{
		refresher:  refresher,
		identities: identities,
		sessions:   sessions,
		metrics:    metrics.Nop{},
		now:        time.Now,

		storeTimeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authenticate はセッションのスナップショットからトークンの状態を判定する。
// 有効期限内であれば外部呼び出しを一切行わない。
// 期限切れの場合はリフレッシュし、リポジトリが返したレコードでセッションを置き換える。
// 失敗した場合はStateFailedとエラーを返し、セッションは変更しない。
func (m *TokenLifecycleManager) Authenticate(ctx context.Context, sessionID string, snapshot *model.SessionSnapshot) (*Decision, error) {
	if snapshot == nil {
		return &Decision{State: StateUnauthenticated}, nil
	}

	now := m.now()
	if !snapshot.AccessTokenExpired(now) {
		return &Decision{State: StateValid, Snapshot: snapshot}, nil
	}

	refreshed, err := m.refresh(ctx, sessionID, snapshot, now)
	if err != nil {
		return &Decision{State: StateFailed}, err
	}
	return &Decision{State: StateValid, Snapshot: refreshed, Refreshed: true}, nil
}

// refresh はExpired→Refreshingの遷移を実行する。
func (m *TokenLifecycleManager) refresh(ctx context.Context, sessionID string, snapshot *model.SessionSnapshot, now time.Time) (*model.SessionSnapshot, error) {
	ctx, span := tracer.Start(ctx, "token.refresh")
	defer span.End()
	span.SetAttributes(attribute.String("subject_id", snapshot.SubjectID))

	start := time.Now()
	defer func() {
		m.metrics.RecordRefreshLatency(time.Since(start))
	}()

	logger := slog.With(
		slog.String("subject_id", snapshot.SubjectID),
		slog.String("state", StateRefreshing.String()),
	)

	if !snapshot.RefreshTokenExpiresAt.IsZero() && !now.Before(snapshot.RefreshTokenExpiresAt) {
		// 有効期限は記録用の推定値のため、判定はプロバイダーに任せる
		logger.Warn("refresh token is past its recorded expiry, attempting refresh anyway",
			slog.Time("refresh_token_expires_at", snapshot.RefreshTokenExpiresAt),
		)
	}

	// 1. プロバイダーでリフレッシュ
	token, err := m.refresher.RefreshAccessToken(ctx, snapshot.RefreshToken)
	if err != nil {
		m.metrics.RecordRefresh(metrics.RefreshOutcomeProviderError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider refresh failed")
		logger.Error("access token refresh failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to refresh access token: %w", err)
	}

	// 2. 有効期限はリフレッシュ時刻 + expires_in
	expiresAt := now.Add(time.Duration(token.ExpiresIn) * time.Second)

	// 3. アクセストークンのみをUPSERT（リフレッシュトークンは変更しない）
	upsertCtx, cancel := withStoreTimeout(ctx, m.storeTimeout)
	record, err := m.identities.Upsert(upsertCtx, snapshot.SubjectID, model.AccessTokenFields(token.AccessToken, expiresAt))
	cancel()
	if err != nil {
		m.metrics.RecordRefresh(metrics.RefreshOutcomeRepositoryError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity upsert failed")
		logger.Error("failed to persist refreshed access token", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	// 4. リポジトリが返したレコードでセッションを置き換える
	updated := model.NewSessionSnapshot(record)
	replaceCtx, cancel := withStoreTimeout(ctx, m.storeTimeout)
	err = m.sessions.Replace(replaceCtx, sessionID, updated)
	cancel()
	if err != nil {
		m.metrics.RecordRefresh(metrics.RefreshOutcomeSessionError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "session replace failed")
		logger.Error("failed to replace session snapshot", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to replace session: %w", err)
	}

	m.metrics.RecordRefresh(metrics.RefreshOutcomeSuccess)
	logger.Info("access token refreshed",
		slog.Time("access_token_expires_at", updated.AccessTokenExpiresAt),
	)
	return &updated, nil
}

// withStoreTimeout はストア呼び出し用に期限付きのコンテキストを返す。
// dが0以下の場合は期限を追加しない。
func withStoreTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// compile-time interface check
var (
	_ TokenRefresher   = (OAuthClient)(nil)
	_ IdentityUpserter = (repository.IdentityRepository)(nil)
	_ SessionReplacer  = (repository.SessionStore)(nil)
)
