package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/tokengate/internal/model"
)

const identityColumns = `id, subject_id, display_name, email,
	access_token, access_token_expires_at,
	refresh_token, refresh_token_expires_at,
	created_at, updated_at`

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindBySubject はsubject_idでレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindBySubject(ctx context.Context, subjectID string) (*model.IdentityRecord, error) {
	record, err := scanPostgresIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+`
		 FROM identity_records
		 WHERE subject_id = $1`,
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
// 作成に必要なフィールドが揃っている場合はINSERT ON CONFLICTの1文で処理し、
// 揃っていない場合は既存レコードのUPDATEのみを行う。
// updated_atは値が実際に変わった場合のみ更新する。
func (r *PostgresIdentityRepo) Upsert(ctx context.Context, subjectID string, fields model.IdentityFields) (*model.IdentityRecord, error) {
	now := time.Now().UTC()

	if fields.CanCreate() {
		record, err := scanPostgresIdentity(r.db.QueryRowContext(ctx,
			`INSERT INTO identity_records (`+identityColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, ''), $8, $9, $9)
			 ON CONFLICT (subject_id) DO UPDATE SET
			     display_name = COALESCE($3, identity_records.display_name),
			     email = COALESCE($4, identity_records.email),
			     access_token = COALESCE($5, identity_records.access_token),
			     access_token_expires_at = COALESCE($6, identity_records.access_token_expires_at),
			     refresh_token = COALESCE($7, identity_records.refresh_token),
			     refresh_token_expires_at = COALESCE($8, identity_records.refresh_token_expires_at),
			     updated_at = CASE WHEN
			         COALESCE($3, identity_records.display_name) IS DISTINCT FROM identity_records.display_name OR
			         COALESCE($4, identity_records.email) IS DISTINCT FROM identity_records.email OR
			         COALESCE($5, identity_records.access_token) IS DISTINCT FROM identity_records.access_token OR
			         COALESCE($6, identity_records.access_token_expires_at) IS DISTINCT FROM identity_records.access_token_expires_at OR
			         COALESCE($7, identity_records.refresh_token) IS DISTINCT FROM identity_records.refresh_token OR
			         COALESCE($8, identity_records.refresh_token_expires_at) IS DISTINCT FROM identity_records.refresh_token_expires_at
			     THEN $9 ELSE identity_records.updated_at END
			 RETURNING `+identityColumns,
			uuid.New().String(), subjectID,
			fields.DisplayName, fields.Email,
			fields.AccessToken, fields.AccessTokenExpiresAt,
			fields.RefreshToken, fields.RefreshTokenExpiresAt,
			now,
		))
		if err != nil {
			return nil, wrapErr("failed to upsert identity record", err)
		}
		return record, nil
	}

	record, err := scanPostgresIdentity(r.db.QueryRowContext(ctx,
		`UPDATE identity_records SET
		     display_name = COALESCE($2, display_name),
		     email = COALESCE($3, email),
		     access_token = COALESCE($4, access_token),
		     access_token_expires_at = COALESCE($5, access_token_expires_at),
		     refresh_token = COALESCE($6, refresh_token),
		     refresh_token_expires_at = COALESCE($7, refresh_token_expires_at),
		     updated_at = CASE WHEN
		         COALESCE($2, display_name) IS DISTINCT FROM display_name OR
		         COALESCE($3, email) IS DISTINCT FROM email OR
		         COALESCE($4, access_token) IS DISTINCT FROM access_token OR
		         COALESCE($5, access_token_expires_at) IS DISTINCT FROM access_token_expires_at OR
		         COALESCE($6, refresh_token) IS DISTINCT FROM refresh_token OR
		         COALESCE($7, refresh_token_expires_at) IS DISTINCT FROM refresh_token_expires_at
		     THEN $8 ELSE updated_at END
		 WHERE subject_id = $1
		 RETURNING `+identityColumns,
		subjectID,
		fields.DisplayName, fields.Email,
		fields.AccessToken, fields.AccessTokenExpiresAt,
		fields.RefreshToken, fields.RefreshTokenExpiresAt,
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

func scanPostgresIdentity(row *sql.Row) (*model.IdentityRecord, error) {
	record := &model.IdentityRecord{}
	var refreshExpiresAt sql.NullTime

	err := row.Scan(
		&record.ID, &record.SubjectID, &record.DisplayName, &record.Email,
		&record.AccessToken, &record.AccessTokenExpiresAt,
		&record.RefreshToken, &refreshExpiresAt,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if refreshExpiresAt.Valid {
		record.RefreshTokenExpiresAt = refreshExpiresAt.Time
	}
	return record, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
