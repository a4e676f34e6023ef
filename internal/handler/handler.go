// Package handler はゲートのHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/navgate/internal/auth"
	"github.com/hitoshi/navgate/internal/model"
)

// SessionFlow はセッション方式（認証サービス委譲 / Lark直接認可）ごとに異なる処理を抽象化する。
// auth.WorkerSession と auth.LarkSession が実装する。
type SessionFlow interface {
	// Identify はリクエストの識別情報を返す。未認証の場合は nil, nil。
	Identify(ctx context.Context, r *http.Request) (*model.Identity, error)
	// Verify は /verify 互換の検証結果を返す。
	Verify(ctx context.Context, r *http.Request) (*auth.VerifyResult, error)
	// LoginURL はログイン開始URLを返す。targetはログイン後の戻り先。
	LoginURL(target string) string
	// Logout はログアウト処理を行い、リダイレクト先を返す。
	Logout(w http.ResponseWriter, r *http.Request) string
}

// ConfigServiceInterface は設定ドキュメントのハンドラーが必要とするサービスインターフェース。
type ConfigServiceInterface interface {
	IsAdmin(identity *model.Identity) bool
	Read(ctx context.Context) (string, error)
	Replace(ctx context.Context, identity *model.Identity, content string) error
	UpdateServiceMemo(ctx context.Context, serviceID, memo string) error
	UpdateGlobalMemo(ctx context.Context, identity *model.Identity, content string) (*model.GlobalMemo, error)
}
