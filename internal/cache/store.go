// Package cache はサブスクリプション一覧スナップショットのTTL付きキャッシュを提供する。
// リモートサービスが真実の源であり、キャッシュは作業セットとして
// ミューテーションのたびにパッチをその場で適用して更新される。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/subportal/internal/model"
	"github.com/hitoshi/subportal/internal/repository"
)

const (
	// DefaultHomeTTL は軽量な死活/ホームペイロードの鮮度ウィンドウ。
	DefaultHomeTTL = 1 * time.Minute
	// DefaultListTTL はサブスクリプション一覧の鮮度ウィンドウ。
	// 一覧はパッチをその場で適用される対象であり、連続するユーザー操作の間
	// 再フェッチなしで生き残る必要があるため、ホームより長く設定する。
	DefaultListTTL = 10 * time.Minute
)

// HomeKey は顧客ごとのホームキャッシュのキーを返す。
func HomeKey(customerID string) string {
	return fmt.Sprintf("portal:%s:home", customerID)
}

// ListKey は顧客ごとのサブスクリプション一覧キャッシュのキーを返す。
func ListKey(customerID string) string {
	return fmt.Sprintf("portal:%s:subscriptions", customerID)
}

// Payload はキャッシュされるスナップショットの本体。
// OKがfalseのペイロードは鮮度判定で常に古いものとして扱われる。
type Payload struct {
	OK            bool                 `json:"ok"`
	Subscriptions []model.Subscription `json:"subscriptions,omitempty"`
	Home          json.RawMessage      `json:"home,omitempty"`
}

// Entry は1つのキャッシュエントリを表す。
// Timestampは書き込み時刻（unixミリ秒）で、Writeのたびに現在時刻が打刻される。
// これによりパッチ書き込みごとにTTLが再装填される。
type Entry struct {
	Timestamp int64   `json:"timestamp"`
	Payload   Payload `json:"payload"`
}

// IsFresh はエントリが鮮度ウィンドウ内かどうかを判定する純粋関数。
// 失敗フェッチを表すエントリ（Payload.OK != true）はタイムスタンプに
// かかわらず決して新鮮とみなさない。
func IsFresh(entry *Entry, ttl time.Duration, now time.Time) bool {
	if entry == nil || !entry.Payload.OK || entry.Timestamp <= 0 {
		return false
	}
	return now.UnixMilli()-entry.Timestamp < ttl.Milliseconds()
}

// Recorder はキャッシュ操作のメトリクス記録インターフェース。
type Recorder interface {
	RecordCacheHit(key string)
	RecordCacheMiss(key string)
	RecordCacheWriteFailure(key string)
}

// NopRecorder は何も記録しないRecorder。テストおよびメトリクス無効時用。
type NopRecorder struct{}

func (NopRecorder) RecordCacheHit(key string)          {}
func (NopRecorder) RecordCacheMiss(key string)         {}
func (NopRecorder) RecordCacheWriteFailure(key string) {}

// Store はキー/値リポジトリ上のキャッシュストア。
// 永続化エラーは飲み込み、bool戻り値とログで報告する。
// リモートミューテーション成功後のキャッシュ書き込み失敗は致命的ではないため、
// 例外を投げる設計にはしない。
type Store struct {
	repo    repository.KeyValueRepository
	logger  *slog.Logger
	metrics Recorder
	now     func() time.Time // テスト用に差し替え可能
}

// NewStore はStoreを生成する。
func NewStore(repo repository.KeyValueRepository, logger *slog.Logger, metrics Recorder) *Store {
	return &Store{
		repo:    repo,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Read は指定キーのエントリを読み出す。
// キー欠損、パース失敗、構造不一致（タイムスタンプ欠落など）はすべて
// nil（キャッシュミス）として扱い、エラーは返さない。
func (s *Store) Read(ctx context.Context, key string) *Entry {
	data, err := s.repo.Get(ctx, key)
	if err != nil {
		s.logger.Warn("キャッシュの読み出しに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordCacheMiss(key)
		return nil
	}
	if data == nil {
		s.metrics.RecordCacheMiss(key)
		return nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("キャッシュエントリのパースに失敗したため破棄します",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		s.Invalidate(ctx, key)
		s.metrics.RecordCacheMiss(key)
		return nil
	}

	// 構造チェック: 数値タイムスタンプを持たないエントリは不正
	if entry.Timestamp <= 0 {
		s.Invalidate(ctx, key)
		s.metrics.RecordCacheMiss(key)
		return nil
	}

	s.metrics.RecordCacheHit(key)
	return &entry
}

// Write はペイロードに現在時刻を打刻して永続化する。
// タイムスタンプは常にnow()で上書きする（TTL再装填のセマンティクス）。
// 永続化エラー（容量超過、ストレージ無効）は飲み込み、falseを返す。
func (s *Store) Write(ctx context.Context, key string, payload Payload) bool {
	entry := Entry{
		Timestamp: s.now().UnixMilli(),
		Payload:   payload,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("キャッシュエントリのシリアライズに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordCacheWriteFailure(key)
		return false
	}

	if err := s.repo.Set(ctx, key, data); err != nil {
		s.logger.Warn("キャッシュの書き込みに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordCacheWriteFailure(key)
		return false
	}

	return true
}

// Invalidate は指定キーのエントリを削除する。キーが存在しなくてもエラーにしない。
func (s *Store) Invalidate(ctx context.Context, key string) {
	if err := s.repo.Remove(ctx, key); err != nil {
		s.logger.Warn("キャッシュの無効化に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// SetClock はテスト用に時刻取得関数を差し替える。
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}
