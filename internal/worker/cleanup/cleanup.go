// Package cleanup は設定ドキュメントのバックアップの世代管理ジョブを提供する。
// 保持数（デフォルト10世代）を超えた古いバックアップを削除する。
// 設定の保存ごとに同期的に実行されるほか、prune-backups コマンドから単独でも実行できる。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// BackupStore はバックアップの列挙と削除を抽象化するインターフェース。
// objectstore.Client が実装する。
type BackupStore interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	DeleteObject(ctx context.Context, key string) error
}

// BackupCleanupJob は保持数を超えたバックアップの削除ジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type BackupCleanupJob struct {
	store     BackupStore
	logger    *slog.Logger
	prefix    string
	Retention int // 保持する世代数（デフォルト: 10）
}

// NewBackupCleanupJob は新しいBackupCleanupJobを生成する。
func NewBackupCleanupJob(store BackupStore, logger *slog.Logger, prefix string) *BackupCleanupJob {
	return &BackupCleanupJob{
		store:     store,
		logger:    logger,
		prefix:    prefix,
		Retention: 10,
	}
}

// Run はprefixで始まるキーを列挙し、新しい順にRetention件を残して削除する。
// キーはタイムスタンプを含むため、辞書順が時系列順になる。
// 一部の削除に失敗しても残りの削除は続行し、失敗をまとめて返す。
func (j *BackupCleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	keys, err := j.store.ListKeys(ctx, j.prefix)
	if err != nil {
		j.logger.Error("バックアップ一覧の取得に失敗しました",
			slog.String("error", err.Error()),
			slog.String("prefix", j.prefix),
		)
		return fmt.Errorf("バックアップ一覧の取得に失敗: %w", err)
	}

	expired := ExpiredKeys(keys, j.Retention)

	var errs []error
	deleted := 0
	for _, key := range expired {
		if err := j.store.DeleteObject(ctx, key); err != nil {
			j.logger.Error("バックアップの削除に失敗しました",
				slog.String("error", err.Error()),
				slog.String("key", key),
			)
			errs = append(errs, err)
			continue
		}
		deleted++
	}

	duration := time.Since(start)
	j.logger.Info("バックアップクリーンアップジョブが完了しました",
		slog.Int("total_count", len(keys)),
		slog.Int("deleted_count", deleted),
		slog.Int("retention", j.Retention),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	if len(errs) > 0 {
		return fmt.Errorf("%d件のバックアップ削除に失敗: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// ExpiredKeys は新しい順にretention件を除いた残りのキーを返す。
// 入力のスライスは変更しない。
func ExpiredKeys(keys []string, retention int) []string {
	if retention < 0 {
		retention = 0
	}
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))

	if len(sorted) <= retention {
		return nil
	}
	return sorted[retention:]
}
