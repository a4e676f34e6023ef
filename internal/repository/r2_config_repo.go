package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/navgate/internal/model"
	"github.com/hitoshi/navgate/internal/objectstore"
)

const (
	// ConfigKey は設定ドキュメントのオブジェクトキー。
	ConfigKey = "config.yml"
	// BackupPrefix はバックアップのオブジェクトキーの接頭辞。
	BackupPrefix = "config.backup."

	configContentType = "text/yaml"
)

var timestampKeyReplacer = strings.NewReplacer(":", "-", ".", "-")

// BackupKey は時刻からバックアップのオブジェクトキーを生成する。
// 例: config.backup.2024-05-01T09-30-00-000Z.yml
// 辞書順に並べると時系列順になる。
func BackupKey(t time.Time) string {
	return BackupPrefix + timestampKeyReplacer.Replace(model.FormatTimestamp(t)) + ".yml"
}

// R2ConfigRepo はR2上の設定ドキュメントを扱うConfigRepositoryの実装。
type R2ConfigRepo struct {
	store    ObjectStore
	pruner   BackupPruner
	logger   *slog.Logger
	recorder WriteRecorder
	now      func() time.Time

	// 同時に発生した読み込みを1回の取得にまとめる
	readGroup singleflight.Group
}

// NewR2ConfigRepo はR2ConfigRepoを生成する。recorderはnilでもよい。
func NewR2ConfigRepo(store ObjectStore, pruner BackupPruner, logger *slog.Logger, recorder WriteRecorder) *R2ConfigRepo {
	return &R2ConfigRepo{
		store:    store,
		pruner:   pruner,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Read は公開URLから設定ドキュメントを取得する。
// 実行中の取得がある場合はその結果を共有する。
// 共有される取得は呼び出し元のキャンセルの影響を受けず、各呼び出し元は自分のctxでのみ待機をやめる。
func (r *R2ConfigRepo) Read(ctx context.Context) (string, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.readGroup.DoChan(ConfigKey, func() (interface{}, error) {
		body, err := r.store.GetPublicObject(fetchCtx, ConfigKey)
		if err != nil {
			return nil, err
		}
		return string(body), nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("failed to read config: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("failed to read config: %w", res.Err)
		}
		return res.Val.(string), nil
	}
}

// ReadFresh は他の読み込みと共有せずに公開URLから設定ドキュメントを取得する。
func (r *R2ConfigRepo) ReadFresh(ctx context.Context) (string, error) {
	body, err := r.store.GetPublicObject(ctx, ConfigKey)
	if err != nil {
		return "", fmt.Errorf("failed to read config: %w", err)
	}
	return string(body), nil
}

// Write は設定ドキュメントを保存する。
//
//  1. 現在のドキュメントをバックアップ（失敗してもログのみ）
//  2. config.yml を上書き（失敗はエラーとして返す）
//  3. 保持数を超えたバックアップを削除（失敗してもログのみ）
//
// バックアップと削除はレスポンスを返す前に同期的に完了する。
func (r *R2ConfigRepo) Write(ctx context.Context, content string) error {
	backup := bestEffort(r.createBackup)
	save := critical(func(ctx context.Context) error {
		return r.store.PutObject(ctx, ConfigKey, []byte(content), configContentType)
	})

	backup.run(ctx, "create_backup", r.logger, r.recorder)

	if err := save.run(ctx, "save_config"); err != nil {
		r.record("failure")
		return err
	}
	r.record("success")
	// 保存前に始まった読み込みに後続の読み込みを合流させない
	r.readGroup.Forget(ConfigKey)

	if r.pruner != nil {
		bestEffort(r.pruner.Run).run(ctx, "prune_backups", r.logger, r.recorder)
	}
	return nil
}

// createBackup は現在のドキュメントをタイムスタンプ付きのキーに複製する。
// まだドキュメントが存在しない場合は何もしない。
func (r *R2ConfigRepo) createBackup(ctx context.Context) error {
	current, err := r.store.GetObject(ctx, ConfigKey)
	if err != nil {
		if objectstore.IsNotFound(err) {
			r.logger.Info("no existing config to back up")
			return nil
		}
		return fmt.Errorf("failed to read current config: %w", err)
	}

	key := BackupKey(r.now())
	if err := r.store.PutObject(ctx, key, current, configContentType); err != nil {
		return fmt.Errorf("failed to put backup %s: %w", key, err)
	}

	r.logger.Info("config backup created", slog.String("key", key))
	return nil
}

func (r *R2ConfigRepo) record(result string) {
	if r.recorder != nil {
		r.recorder.RecordConfigWrite(result)
	}
}

// compile-time interface check
var _ ConfigRepository = (*R2ConfigRepo)(nil)
