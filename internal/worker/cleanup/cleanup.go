// Package cleanup はコンテンツデータの自動削除ジョブを提供する。
// 保持期間（デフォルト365日）より前に取得されたコンテンツを日次バッチで削除する。
// スナップショット・インフルエンサー・候補は集計済みの履歴として保持する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ContentPruner は取得日時で古いコンテンツを削除する操作。
// repository.ContentRepositoryが満たす。
type ContentPruner interface {
	DeleteScrapedBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過したコンテンツの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	content       ContentPruner
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // コンテンツの保持日数（デフォルト: 365）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は365日。
func NewCleanupJob(content ContentPruner, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		content:       content,
		logger:        logger,
		now:           time.Now,
		RetentionDays: 365,
	}
}

// Run はscraped_atがRetentionDays日前より古いコンテンツを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.content.DeleteScrapedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("コンテンツクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("コンテンツクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("コンテンツクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後と以降interval毎にRunを実行する。コンテキストのキャンセルで終了する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
