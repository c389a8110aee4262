// Package cleanup はキャッシュエントリの自動削除ジョブを提供する。
// 保持期間（デフォルト24時間）を超過して更新されていないキャッシュエントリを
// 定期バッチで削除する。TTL切れエントリは読み取り時に再取得されるため、
// ここでの削除は容量回収のみを目的とする。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/subportal/internal/repository"
)

// CleanupJob は保持期間を超過したキャッシュエントリの自動削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	purger    repository.StaleEntryPurger
	logger    *slog.Logger
	Retention time.Duration // エントリの保持期間（デフォルト: 24時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持期間は24時間。
func NewCleanupJob(purger repository.StaleEntryPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		purger:    purger,
		logger:    logger,
		Retention: 24 * time.Hour,
	}
}

// Run は保持期間を超過したキャッシュエントリを削除する。
// 最終更新がRetention前より古いエントリを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := start.Add(-j.Retention)

	deletedCount, err := j.purger.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("キャッシュクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.String("retention", j.Retention.String()),
		)
		return fmt.Errorf("キャッシュクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("キャッシュクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.String("retention", j.Retention.String()),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// RunLoop はintervalごとにRunを実行し続ける。コンテキストのキャンセルで停止する。
func (j *CleanupJob) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				// エラーはログ済み。次の周期で再試行する。
				continue
			}
		}
	}
}
