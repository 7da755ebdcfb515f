package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/tokengate/internal/model"
)

// MemorySessionStore はプロセス内メモリを使用したセッションストア。
// 開発環境とテスト用。プロセスの再起動でセッションは失われる。
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	now      func() time.Time
}

// MemoryStoreOption はMemorySessionStoreの設定オプション。
type MemoryStoreOption func(*MemorySessionStore)

// WithMemoryClock は有効期限の判定に使う現在時刻の取得関数を差し替える。
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemorySessionStore) {
		s.now = now
	}
}

// NewMemorySessionStore はMemorySessionStoreを生成する。
func NewMemorySessionStore(opts ...MemoryStoreOption) *MemorySessionStore {
	s := &MemorySessionStore{
		sessions: make(map[string]model.Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create はセッションを作成する。
func (s *MemorySessionStore) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkNotExpired(session, s.now()); err != nil {
		return err
	}

	s.sessions[session.ID] = *session
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (s *MemorySessionStore) FindByID(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok || !s.now().Before(session.ExpiresAt) {
		return nil, nil
	}
	return &session, nil
}

// Replace はセッションのスナップショットを丸ごと置き換える。
// セッションが存在しない場合は何もしない。
func (s *MemorySessionStore) Replace(_ context.Context, id string, snapshot model.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	session.Snapshot = snapshot
	s.sessions[id] = session
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (s *MemorySessionStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// DeleteExpired は有効期限切れのセッションを削除し、削除件数を返す。
func (s *MemorySessionStore) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var deleted int64
	for id, session := range s.sessions {
		if !now.Before(session.ExpiresAt) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// compile-time interface check
var (
	_ SessionStore          = (*MemorySessionStore)(nil)
	_ ExpiredSessionCleaner = (*MemorySessionStore)(nil)
)
