// Package cleanup は期限切れのログイン状態とセッションを定期削除するジョブを提供する。
// 読み取り時の期限判定とは独立しており、放置されたレコードの蓄積を防ぐだけの役割を持つ。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval はクリーンアップの実行間隔のデフォルト値。
const DefaultInterval = 5 * time.Minute

// ExpiredDeleter は期限切れレコードを一括削除できるストアのインターフェース。
// repository.PendingLoginRepositoryとrepository.SessionRepositoryが満たす。
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int, error)
}

// SweepRecorder はクリーンアップ結果を記録するインターフェース。
type SweepRecorder interface {
	RecordSweep(store string, deleted int)
	RecordSweepError(store string)
}

// Target はクリーンアップ対象のストア。
type Target struct {
	Name  string
	Store ExpiredDeleter
}

// SweepJob は期限切れレコードの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type SweepJob struct {
	targets  []Target
	logger   *slog.Logger
	recorder SweepRecorder
}

// NewSweepJob は新しいSweepJobを生成する。
func NewSweepJob(logger *slog.Logger, targets ...Target) *SweepJob {
	return &SweepJob{
		targets: targets,
		logger:  logger,
	}
}

// WithRecorder はメトリクス記録先を設定したSweepJobを返す。
func (j *SweepJob) WithRecorder(recorder SweepRecorder) *SweepJob {
	j.recorder = recorder
	return j
}

// Run は全ストアの期限切れレコードを削除する。
// 1つのストアで失敗しても残りのストアは処理し、最初のエラーを返す。
func (j *SweepJob) Run(ctx context.Context) error {
	start := time.Now()

	var firstErr error
	total := 0
	for _, target := range j.targets {
		deleted, err := target.Store.DeleteExpired(ctx)
		if err != nil {
			j.logger.Error("期限切れレコードの削除に失敗しました",
				slog.String("store", target.Name),
				slog.String("error", err.Error()),
			)
			if j.recorder != nil {
				j.recorder.RecordSweepError(target.Name)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to sweep %s: %w", target.Name, err)
			}
			continue
		}

		total += deleted
		if j.recorder != nil {
			j.recorder.RecordSweep(target.Name, deleted)
		}
		j.logger.Debug("期限切れレコードを削除しました",
			slog.String("store", target.Name),
			slog.Int("deleted_count", deleted),
		)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int("deleted_count", total),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return firstErr
}

// Start はintervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
func (j *SweepJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			// エラーはRun内でログ出力済み
			_ = j.Run(ctx)
		}
	}
}
