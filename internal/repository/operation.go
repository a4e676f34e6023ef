package repository

import (
	"context"
	"fmt"
	"log/slog"
)

// critical は失敗を呼び出し元に返す必要がある操作。
type critical func(ctx context.Context) error

// run は操作を実行し、失敗をラップして返す。
func (op critical) run(ctx context.Context, name string) error {
	if err := op(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// bestEffort は失敗しても主処理を止めない付随操作。
// 失敗はログに記録して破棄する。
type bestEffort func(ctx context.Context) error

// run は操作を実行する。戻り値はなく、失敗はログとメトリクスにのみ残る。
func (op bestEffort) run(ctx context.Context, name string, logger *slog.Logger, recorder WriteRecorder) {
	if err := op(ctx); err != nil {
		logger.Error("non-critical operation failed",
			slog.String("op", name),
			slog.String("error", err.Error()),
		)
		if recorder != nil {
			recorder.RecordBestEffortFailure(name)
		}
	}
}
