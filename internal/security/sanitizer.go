// Package security はプロバイダーから受け取った値をHTMLに埋め込む前の無害化を提供する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxDisplayNameRunes は表示名として出力する最大文字数。
const maxDisplayNameRunes = 100

// TextSanitizer はタグを一切含まないテキストを返すサニタイザー。
type TextSanitizer interface {
	// SanitizeText はHTMLタグを除去し、特殊文字をエスケープしたテキストを返す。
	// 同一入力に対して常に同一出力を返す。
	SanitizeText(raw string) string
}

// displayNameSanitizer はbluemondayのStrictPolicyでタグをすべて除去する。
// Policyは生成後に変更しなければ並行利用できる。
type displayNameSanitizer struct {
	policy *bluemonday.Policy
}

// NewDisplayNameSanitizer はプロバイダーの表示名用のサニタイザーを生成する。
func NewDisplayNameSanitizer() TextSanitizer {
	return &displayNameSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はタグを除去し、前後の空白を取り除いて最大文字数で切り詰める。
func (s *displayNameSanitizer) SanitizeText(raw string) string {
	clean := strings.TrimSpace(s.policy.Sanitize(raw))
	if runes := []rune(clean); len(runes) > maxDisplayNameRunes {
		clean = string(runes[:maxDisplayNameRunes])
	}
	return clean
}
