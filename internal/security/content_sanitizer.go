// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService は上流サービス由来の表示文字列（商品タイトル、
// バリアント名など）をサニタイズし、ポータルUIへのXSS混入を防止する。
// bluemondayライブラリの厳格ポリシーで、タグをすべて除去したプレーン
// テキストのみを通過させる。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は表示文字列のサニタイズ機能のインターフェースを定義する。
// 上流応答のキャッシュ書き込み前およびパッチマージ前に使用される。
type ContentSanitizerService interface {
	// Sanitize は入力からHTMLタグをすべて除去したプレーンテキストを返す。
	// ポータルの表示文字列はマークアップを含まない前提であり、
	// 上流から混入したタグは攻撃または事故とみなして落とす。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayの厳格ポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyはすべてのタグと属性を除去する。scriptやon*イベント属性の
// 個別対応は不要（許可リストが空であるため自動的に落ちる）。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力からタグを除去し、前後の空白を詰めて返す。
func (s *contentSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
