// Package cleanup は有効期限切れセッションの定期削除ジョブを提供する。
// キーのTTLで自動失効するRedisストアでは不要。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Cleaner は有効期限切れセッションの一括削除を抽象化するインターフェース。
type Cleaner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は有効期限切れセッションの削除ジョブ。
// 冪等な削除処理のため、複数のworkerから同時に実行しても問題ない。
type CleanupJob struct {
	sessions Cleaner
	logger   *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions Cleaner, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		logger:   logger,
	}
}

// Run は有効期限切れのセッションを1回削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、その後intervalごとにRunを繰り返す。
// ctxがキャンセルされるまでブロックする。個々の実行の失敗ではループを止めない。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session cleanup stopped")
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
