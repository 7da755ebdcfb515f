package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/tokengate/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// スナップショットはJSONBのdataカラムに保存する。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if err := checkNotExpired(session, time.Now()); err != nil {
		return err
	}

	data, err := json.Marshal(session.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, subject_id, data, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.Snapshot.SubjectID, string(data), session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return wrapErr("failed to create session", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, data, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &data, &session.ExpiresAt, &session.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("failed to find session", err)
	}

	if err := json.Unmarshal(data, &session.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	return session, nil
}

// Replace はセッションのスナップショットを丸ごと置き換える。
// セッションが既に削除されている場合は何もしない。
func (r *PostgresSessionRepo) Replace(ctx context.Context, id string, snapshot model.SessionSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE sessions SET data = $2, subject_id = $3 WHERE id = $1`,
		id, string(data), snapshot.SubjectID,
	)
	if err != nil {
		return wrapErr("failed to replace session", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return wrapErr("failed to delete session", err)
	}
	return nil
}

// DeleteExpired は有効期限切れのセッションを一括削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= $1`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, wrapErr("failed to delete expired sessions", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var (
	_ SessionStore          = (*PostgresSessionRepo)(nil)
	_ ExpiredSessionCleaner = (*PostgresSessionRepo)(nil)
)
