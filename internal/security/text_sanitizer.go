package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はスクレイプ結果のキャプションや本文からマークアップを除去し、
// プレーンテキストに変換する。ハッシュタグ抽出と保存の前に適用する。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグをすべて除去するポリシーでTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを取り除き、エスケープされた文字参照を元に戻して前後の空白を削る。
// script・styleの中身は出力に残らない。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyはテキスト中の & < > をエスケープして返すため、
	// 保存用のプレーンテキストとして戻す。
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
