// Package model はドメインモデルを定義する。
package model

import "time"

// IdentityRecord はプロバイダーのsubject単位で永続化される認証情報レコード。
// subject_idは作成後に変更されない。
type IdentityRecord struct {
	ID                    string
	SubjectID             string
	DisplayName           string
	Email                 string
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IdentityFields はIdentityRecordの部分更新に使うフィールド集合。
// nilのフィールドは変更せず、既存の値を維持する。
type IdentityFields struct {
	DisplayName           *string
	Email                 *string
	AccessToken           *string
	AccessTokenExpiresAt  *time.Time
	RefreshToken          *string
	RefreshTokenExpiresAt *time.Time
}

// CanCreate はこのフィールド集合だけで新規レコードを作成できるかを返す。
// リフレッシュトークンは初回同意時にしか発行されないため必須としない。
func (f IdentityFields) CanCreate() bool {
	return f.DisplayName != nil &&
		f.Email != nil &&
		f.AccessToken != nil &&
		f.AccessTokenExpiresAt != nil
}

// AccessTokenFields はアクセストークンのリフレッシュ結果だけを更新するフィールド集合を返す。
// リフレッシュトークン関連のフィールドは常にnilになる。
func AccessTokenFields(accessToken string, expiresAt time.Time) IdentityFields {
	return IdentityFields{
		AccessToken:          &accessToken,
		AccessTokenExpiresAt: &expiresAt,
	}
}

// TokenSet は認可コード交換で得られるトークン一式。
type TokenSet struct {
	AccessToken  string
	RefreshToken string // 再同意なしのログインでは空になる
	ExpiresIn    int    // 秒
	IDToken      string
}

// RefreshedToken はリフレッシュで得られるアクセストークン。
// プロバイダーはリフレッシュトークンを再発行しない前提で扱う。
type RefreshedToken struct {
	AccessToken string
	ExpiresIn   int // 秒
}

// IdentityClaims はIDトークンの検証で得られるユーザー情報。
type IdentityClaims struct {
	SubjectID string
	Name      string
	Email     string
}
