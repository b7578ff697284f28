// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer は登録時に入力された氏名からHTMLマークアップを除去し、
// プロフィールに保存される名・姓にタグやスクリプトが混入しないようにする。
// bluemondayのStrictPolicyを使用し、すべてのタグを除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizer は氏名のサニタイズ機能のインターフェースを定義する。
type NameSanitizer interface {
	// Sanitize は氏名からすべてのタグを除去したプレーンテキストを返す。
	// script, styleタグは中身ごと除去される。
	// アポストロフィ等の文字はエスケープせずにそのまま残す（例: O'Brien）。
	// 前後の空白は除去する。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// nameSanitizer はNameSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに利用できる。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerの新しいインスタンスを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// maxSanitizePasses はエンティティの多重エンコードを展開する最大回数。
const maxSanitizePasses = 8

// Sanitize は氏名からタグを除去する。
// StrictPolicyは出力をHTMLエスケープするため、プレーンテキストに戻してから返す。
// 戻した結果に `&lt;script&gt;` 由来のタグが現れうるので、出力が変化しなくなるまで繰り返す。
// 上限回数で収束しない場合は残った山括弧を除去する。
func (s *nameSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	out := raw
	for range maxSanitizePasses {
		next := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(out)))
		if next == out {
			return out
		}
		out = next
	}
	return strings.TrimSpace(angleBrackets.Replace(out))
}

var angleBrackets = strings.NewReplacer("<", "", ">", "")

// compile-time interface check
var _ NameSanitizer = (*nameSanitizer)(nil)
