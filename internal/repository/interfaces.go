// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/tokengate/internal/model"
)

var (
	// ErrIdentityNotFound は作成に必要なフィールドが揃っていない部分更新で、
	// 対象のレコードが存在しない場合に返される。
	ErrIdentityNotFound = errors.New("identity record not found")

	// ErrRepository はストレージ層の失敗を表す。errors.Isで判定する。
	ErrRepository = errors.New("repository failure")

	// ErrSessionExpired は作成時点ですでに有効期限を過ぎたセッションを保存しようとした場合に返される。
	ErrSessionExpired = errors.New("session already expired")
)

// IdentityRepository はsubject単位の認証情報レコードの永続化インターフェース。
type IdentityRepository interface {
	// FindBySubject はsubject_idでレコードを取得する。見つからない場合はnilを返す。
	FindBySubject(ctx context.Context, subjectID string) (*model.IdentityRecord, error)

	// Upsert はsubject_idをキーにレコードを冪等に作成または部分更新する。
	// nilフィールドは変更せず、既存の値を維持する。
	// 更新後のレコード全体を返す。
	Upsert(ctx context.Context, subjectID string, fields model.IdentityFields) (*model.IdentityRecord, error)
}

// SessionStore はセッションデータの永続化インターフェース。
type SessionStore interface {
	// Create はセッションを作成する。有効期限を過ぎたセッションはErrSessionExpiredを返す。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Replace はセッションのスナップショットを丸ごと置き換える。有効期限は変更しない。
	Replace(ctx context.Context, id string, snapshot model.SessionSnapshot) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// ExpiredSessionCleaner は期限切れセッションを一括削除できるストアのインターフェース。
// TTLで自動的に失効するストアは実装しない。
type ExpiredSessionCleaner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// checkNotExpired は作成しようとしているセッションが有効期限内であることを確認する。
func checkNotExpired(session *model.Session, now time.Time) error {
	if !now.Before(session.ExpiresAt) {
		return fmt.Errorf("%w: id=%s expires_at=%s", ErrSessionExpired, session.ID, session.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// wrapErr はストレージ層のエラーをErrRepositoryでラップする。
func wrapErr(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, ErrRepository, err)
}
