// Package repository は設定ドキュメントの永続化を提供する。
package repository

import "context"

// ConfigRepository は設定ドキュメント（config.yml）の永続化インターフェース。
type ConfigRepository interface {
	// Read は現在の設定ドキュメントを取得する。同時の読み込みとは結果を共有することがある。
	Read(ctx context.Context) (string, error)
	// ReadFresh は他の読み込みと共有せずに設定ドキュメントを取得する。更新前の読み込みに使う。
	ReadFresh(ctx context.Context) (string, error)
	// Write は設定ドキュメントを保存する。保存前にバックアップを作成し、保存後に古いバックアップを削除する。
	Write(ctx context.Context, content string) error
}

// ObjectStore はオブジェクトストレージの操作のうち、リポジトリが使う部分集合。
// objectstore.Clientが実装する。
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	GetPublicObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

// BackupPruner は保持数を超えた古いバックアップを削除する。
type BackupPruner interface {
	Run(ctx context.Context) error
}

// WriteRecorder は書き込み結果をメトリクスに記録する。
type WriteRecorder interface {
	RecordConfigWrite(result string)
	RecordBestEffortFailure(op string)
}
