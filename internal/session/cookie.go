// Package session はセッションCookieの値の署名と検証を提供する。
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName はセッションIDを運ぶCookie名。
const CookieName = "session_id"

// ErrInvalidCookie は改ざん、期限切れ、形式不正のいずれかでCookieを受け付けられないことを表す。
var ErrInvalidCookie = errors.New("invalid session cookie")

// claims はセッションCookieに載せるJWTのクレーム。
type claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// CookieCodec はセッションIDをHS256署名付きJWTとしてCookie値に変換する。
type CookieCodec struct {
	secret []byte
	now    func() time.Time
}

// NewCookieCodec はCookieCodecを生成する。
func NewCookieCodec(secret string) *CookieCodec {
	return &CookieCodec{secret: []byte(secret), now: time.Now}
}

// Encode はセッションIDと有効期限から署名済みのCookie値を生成する。
func (c *CookieCodec) Encode(sessionID string, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(c.now()),
		},
		SessionID: sessionID,
	})

	value, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session cookie: %w", err)
	}
	return value, nil
}

// Decode はCookie値を検証し、セッションIDを返す。
// 署名不一致、期限切れ、sid欠落の場合はErrInvalidCookieを返す。
func (c *CookieCodec) Decode(value string) (string, error) {
	parsed := &claims{}
	_, err := jwt.ParseWithClaims(value, parsed, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCookie, err)
	}
	if parsed.SessionID == "" {
		return "", fmt.Errorf("%w: missing sid", ErrInvalidCookie)
	}
	return parsed.SessionID, nil
}
