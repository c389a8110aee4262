package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresKVRepo はPostgreSQLを使用したキー/値リポジトリ。
// cache_entriesテーブルにJSONスナップショットを保存する。
type PostgresKVRepo struct {
	db *sql.DB
}

// NewPostgresKVRepo はPostgresKVRepoを生成する。
func NewPostgresKVRepo(db *sql.DB) *PostgresKVRepo {
	return &PostgresKVRepo{db: db}
}

// Get は指定キーの値を取得する。キーが存在しない場合は (nil, nil) を返す。
func (r *PostgresKVRepo) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE key = $1`,
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("キャッシュエントリの取得に失敗しました: %w", err)
	}

	return value, nil
}

// Set は指定キーに値をアトミックにupsertする。
func (r *PostgresKVRepo) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("キャッシュエントリの保存に失敗しました: %w", err)
	}
	return nil
}

// Remove は指定キーのエントリを削除する。
func (r *PostgresKVRepo) Remove(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("キャッシュエントリの削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteOlderThan は最終更新がcutoffより古いエントリを削除し、削除件数を返す。
func (r *PostgresKVRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れキャッシュエントリの削除に失敗しました: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return count, nil
}
