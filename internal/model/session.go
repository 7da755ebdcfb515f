package model

import "time"

// SessionSnapshot はセッションに保持するIdentityRecordのコピー。
// 永続レコードより古い可能性があり、リフレッシュのたびに置き換えられる。
type SessionSnapshot struct {
	SubjectID             string    `json:"subject_id"`
	DisplayName           string    `json:"display_name"`
	Email                 string    `json:"email"`
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

// NewSessionSnapshot はIdentityRecordからセッション用スナップショットを生成する。
func NewSessionSnapshot(record *IdentityRecord) SessionSnapshot {
	return SessionSnapshot{
		SubjectID:             record.SubjectID,
		DisplayName:           record.DisplayName,
		Email:                 record.Email,
		AccessToken:           record.AccessToken,
		AccessTokenExpiresAt:  record.AccessTokenExpiresAt,
		RefreshToken:          record.RefreshToken,
		RefreshTokenExpiresAt: record.RefreshTokenExpiresAt,
	}
}

// Record はスナップショットをIdentityRecordに変換する。
// ID、CreatedAt、UpdatedAtはセッションに保持しないためゼロ値になる。
func (s SessionSnapshot) Record() IdentityRecord {
	return IdentityRecord{
		SubjectID:             s.SubjectID,
		DisplayName:           s.DisplayName,
		Email:                 s.Email,
		AccessToken:           s.AccessToken,
		AccessTokenExpiresAt:  s.AccessTokenExpiresAt,
		RefreshToken:          s.RefreshToken,
		RefreshTokenExpiresAt: s.RefreshTokenExpiresAt,
	}
}

// AccessTokenExpired は指定時刻においてアクセストークンが期限切れかどうかを返す。
// now >= AccessTokenExpiresAt を期限切れとみなす。
func (s SessionSnapshot) AccessTokenExpired(now time.Time) bool {
	return !now.Before(s.AccessTokenExpiresAt)
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	Snapshot  SessionSnapshot
	ExpiresAt time.Time
	CreatedAt time.Time
}
