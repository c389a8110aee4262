// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"
)

// KeyValueRepository はキャッシュエントリ永続化の能力インターフェース。
// ブラウザのローカルストレージに相当する役割を抽象化し、
// インメモリ実装（単一ノード・テスト用）とPostgreSQL実装を差し替え可能にする。
// Setは単一のアトミックな書き込みであること。並行する読み取りは
// 書き込み前か書き込み後のスナップショットのみを観測する。
type KeyValueRepository interface {
	// Get は指定キーの値を取得する。キーが存在しない場合は (nil, nil) を返す。
	Get(ctx context.Context, key string) ([]byte, error)

	// Set は指定キーに値をアトミックに保存する（upsert）。
	Set(ctx context.Context, key string, value []byte) error

	// Remove は指定キーのエントリを削除する。キーが存在しなくてもエラーにしない。
	Remove(ctx context.Context, key string) error
}

// StaleEntryPurger は期限切れエントリの一括削除インターフェース。
// クリーンアップワーカーから利用する。
type StaleEntryPurger interface {
	// DeleteOlderThan は最終更新がcutoffより古いエントリを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
