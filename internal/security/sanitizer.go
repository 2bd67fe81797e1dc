// Package security はパスワードハッシュ、シークレット生成などの
// 認証基盤のセキュリティプリミティブを提供する。
//
// ValueSanitizer はユーザー入力値（ユーザー名等）をHTMLメール本文や
// 検証完了ページに埋め込む前にサニタイズし、マークアップの混入を防ぐ。
// bluemondayの厳格ポリシーを使用し、タグを一切許可しない。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// ValueSanitizer はHTML文書に埋め込むユーザー入力値のサニタイズ機能のインターフェースを定義する。
type ValueSanitizer interface {
	// Sanitize は入力値からすべてのHTMLマークアップを除去して返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(value string) string
}

// valueSanitizer はValueSanitizerの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type valueSanitizer struct {
	policy *bluemonday.Policy
}

// NewValueSanitizer はValueSanitizerの新しいインスタンスを生成する。
// StrictPolicyはタグ・属性を一切許可せず、テキストのみを通過させる。
func NewValueSanitizer() *valueSanitizer {
	return &valueSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力値からすべてのHTMLマークアップを除去して返す。
func (s *valueSanitizer) Sanitize(value string) string {
	return s.policy.Sanitize(value)
}
