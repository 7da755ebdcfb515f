package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/tokengate/internal/model"
)

// SQLiteIdentityRepo はSQLiteを使用したidentityリポジトリ。
// 日時はUNIXエポックミリ秒のINTEGERとして保存する。
type SQLiteIdentityRepo struct {
	db *sql.DB
}

// NewSQLiteIdentityRepo はSQLiteIdentityRepoを生成する。
func NewSQLiteIdentityRepo(db *sql.DB) *SQLiteIdentityRepo {
	return &SQLiteIdentityRepo{db: db}
}

// FindBySubject はsubject_idでレコードを取得する。見つからない場合はnilを返す。
func (r *SQLiteIdentityRepo) FindBySubject(ctx context.Context, subjectID string) (*model.IdentityRecord, error) {
	record, err := scanSQLiteIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+`
		 FROM identity_records
		 WHERE subject_id = ?1`,
		subjectID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("failed to find identity record", err)
	}
	return record, nil
}

// Upsert はsubject_idをキーにレコードを冪等に作成または部分更新する。
// updated_atは値が実際に変わった場合のみ更新する。
// SET句の右辺はすべて更新前の行で評価される。
func (r *SQLiteIdentityRepo) Upsert(ctx context.Context, subjectID string, fields model.IdentityFields) (*model.IdentityRecord, error) {
	now := time.Now().UTC().UnixMilli()
	accessExpiresAt := toMillis(fields.AccessTokenExpiresAt)
	refreshExpiresAt := toMillis(fields.RefreshTokenExpiresAt)

	if fields.CanCreate() {
		record, err := scanSQLiteIdentity(r.db.QueryRowContext(ctx,
			`INSERT INTO identity_records (`+identityColumns+`)
			 VALUES (?1, ?2, ?3, ?4, ?5, ?6, COALESCE(?7, ''), ?8, ?9, ?9)
			 ON CONFLICT (subject_id) DO UPDATE SET
			     display_name = COALESCE(?3, display_name),
			     email = COALESCE(?4, email),
			     access_token = COALESCE(?5, access_token),
			     access_token_expires_at = COALESCE(?6, access_token_expires_at),
			     refresh_token = COALESCE(?7, refresh_token),
			     refresh_token_expires_at = COALESCE(?8, refresh_token_expires_at),
			     updated_at = CASE WHEN
			         COALESCE(?3, display_name) IS NOT display_name OR
			         COALESCE(?4, email) IS NOT email OR
			         COALESCE(?5, access_token) IS NOT access_token OR
			         COALESCE(?6, access_token_expires_at) IS NOT access_token_expires_at OR
			         COALESCE(?7, refresh_token) IS NOT refresh_token OR
			         COALESCE(?8, refresh_token_expires_at) IS NOT refresh_token_expires_at
			     THEN ?9 ELSE updated_at END
			 RETURNING `+identityColumns,
			uuid.New().String(), subjectID,
			fields.DisplayName, fields.Email,
			fields.AccessToken, accessExpiresAt,
			fields.RefreshToken, refreshExpiresAt,
			now,
		))
		if err != nil {
			return nil, wrapErr("failed to upsert identity record", err)
		}
		return record, nil
	}

	record, err := scanSQLiteIdentity(r.db.QueryRowContext(ctx,
		`UPDATE identity_records SET
		     display_name = COALESCE(?2, display_name),
		     email = COALESCE(?3, email),
		     access_token = COALESCE(?4, access_token),
		     access_token_expires_at = COALESCE(?5, access_token_expires_at),
		     refresh_token = COALESCE(?6, refresh_token),
		     refresh_token_expires_at = COALESCE(?7, refresh_token_expires_at),
		     updated_at = CASE WHEN
		         COALESCE(?2, display_name) IS NOT display_name OR
		         COALESCE(?3, email) IS NOT email OR
		         COALESCE(?4, access_token) IS NOT access_token OR
		         COALESCE(?5, access_token_expires_at) IS NOT access_token_expires_at OR
		         COALESCE(?6, refresh_token) IS NOT refresh_token OR
		         COALESCE(?7, refresh_token_expires_at) IS NOT refresh_token_expires_at
		     THEN ?8 ELSE updated_at END
		 WHERE subject_id = ?1
		 RETURNING `+identityColumns,
		subjectID,
		fields.DisplayName, fields.Email,
		fields.AccessToken, accessExpiresAt,
		fields.RefreshToken, refreshExpiresAt,
		now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, wrapErr("failed to update identity record", err)
	}
	return record, nil
}

func scanSQLiteIdentity(row *sql.Row) (*model.IdentityRecord, error) {
	record := &model.IdentityRecord{}
	var accessExpiresAt, createdAt, updatedAt int64
	var refreshExpiresAt sql.NullInt64

	err := row.Scan(
		&record.ID, &record.SubjectID, &record.DisplayName, &record.Email,
		&record.AccessToken, &accessExpiresAt,
		&record.RefreshToken, &refreshExpiresAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.AccessTokenExpiresAt = time.UnixMilli(accessExpiresAt).UTC()
	if refreshExpiresAt.Valid {
		record.RefreshTokenExpiresAt = time.UnixMilli(refreshExpiresAt.Int64).UTC()
	}
	record.CreatedAt = time.UnixMilli(createdAt).UTC()
	record.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return record, nil
}

// toMillis はnilを維持したままUNIXエポックミリ秒に変換する。
func toMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

// compile-time interface check
var _ IdentityRepository = (*SQLiteIdentityRepo)(nil)
