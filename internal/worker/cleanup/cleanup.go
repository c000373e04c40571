// Package cleanup は期限切れ・使用済みOTPの定期削除ジョブを提供する。
// 削除は条件付きDELETEのみで行い、ロックを保持しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval はスイープの既定の実行間隔。
const DefaultInterval = time.Hour

// Sweeper はOTPの削除処理を抽象化するインターフェース。
// 削除件数を返す。
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// SweepJob は期限切れOTPの定期削除ジョブ。
// 冪等な削除処理のため、複数プロセスで同時に実行しても結果は変わらない。
type SweepJob struct {
	sweeper  Sweeper
	logger   *slog.Logger
	Interval time.Duration // 実行間隔（デフォルト: 1時間）
}

// NewSweepJob は新しいSweepJobを生成する。
func NewSweepJob(sweeper Sweeper, logger *slog.Logger) *SweepJob {
	return &SweepJob{
		sweeper:  sweeper,
		logger:   logger,
		Interval: DefaultInterval,
	}
}

// Run はスイープを1回実行する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *SweepJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.sweeper.Sweep(ctx)
	if err != nil {
		j.logger.Error("OTPスイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("OTPスイープの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("OTPスイープが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はIntervalごとにスイープを実行する。起動直後に1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *SweepJob) Start(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("OTPスイープジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// 失敗は次の周期で再実行されるためログのみ
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("OTPスイープジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
