package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/tokengate/internal/model"
)

const sessionKeyPrefix = "session:"

// redisSession はRedisに保存するセッションのJSON表現。
type redisSession struct {
	Snapshot  model.SessionSnapshot `json:"snapshot"`
	ExpiresAt time.Time             `json:"expires_at"`
	CreatedAt time.Time             `json:"created_at"`
}

// RedisSessionStore はRedisを使用したセッションストア。
// キーの有効期限をセッションの残り寿命に合わせるため、期限切れセッションの掃除は不要。
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore はRedisSessionStoreを生成する。
// クライアントのライフサイクルは呼び出し側で管理する。
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

// Create はセッションを作成する。キーのTTLはセッションの残り寿命とする。
func (s *RedisSessionStore) Create(ctx context.Context, session *model.Session) error {
	now := time.Now()
	if err := checkNotExpired(session, now); err != nil {
		return err
	}
	ttl := session.ExpiresAt.Sub(now)

	data, err := json.Marshal(redisSession{
		Snapshot:  session.Snapshot,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.client.Set(ctx, sessionKeyPrefix+session.ID, data, ttl).Err(); err != nil {
		return wrapErr("failed to create session", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (s *RedisSessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("failed to find session", err)
	}

	var stored redisSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	return &model.Session{
		ID:        id,
		Snapshot:  stored.Snapshot,
		ExpiresAt: stored.ExpiresAt,
		CreatedAt: stored.CreatedAt,
	}, nil
}

// Replace はセッションのスナップショットを丸ごと置き換える。
// キーが存在する場合のみ書き込み（XX）、残りのTTLは維持する（KEEPTTL）。
func (s *RedisSessionStore) Replace(ctx context.Context, id string, snapshot model.SessionSnapshot) error {
	key := sessionKeyPrefix + id

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return wrapErr("failed to load session", err)
	}

	var stored redisSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to decode session: %w", err)
	}
	stored.Snapshot = snapshot

	updated, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	err = s.client.SetArgs(ctx, key, updated, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return wrapErr("failed to replace session", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (s *RedisSessionStore) DeleteByID(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return wrapErr("failed to delete session", err)
	}
	return nil
}

// compile-time interface check
var _ SessionStore = (*RedisSessionStore)(nil)
