// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/navgate/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに識別情報を格納するためのキー。
var identityContextKey = contextKey("identity")

// IdentityResolver はリクエストから識別情報を解決する。
// 未認証の場合は nil, nil を返す。
type IdentityResolver interface {
	Identify(ctx context.Context, r *http.Request) (*model.Identity, error)
}

// ResolveIdentity は識別情報を解決し、アクセスログにメールアドレスを記録する。
// 解決に失敗した場合は未認証として扱う。
func ResolveIdentity(resolver IdentityResolver, r *http.Request) *model.Identity {
	identity, err := resolver.Identify(r.Context(), r)
	if err != nil {
		slog.Warn("failed to resolve identity",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
		return nil
	}
	if identity != nil {
		SetIdentityEmail(r.Context(), identity.ResolvedEmail())
	}
	return identity
}

// NewSessionMiddleware はセッションから識別情報を解決するミドルウェアを返す。
// 認証済みの識別情報をリクエストコンテキストに注入する。
// 未認証リクエストには401 {"error":"Not authenticated"} を返す。
func NewSessionMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := ResolveIdentity(resolver, r)
			if identity == nil {
				WriteError(w, model.NewUnauthenticatedError("Not authenticated"))
				return
			}

			ctx := ContextWithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext はリクエストコンテキストから識別情報を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil {
		return nil, errors.New("identity not found in context")
	}
	return identity, nil
}

// ContextWithIdentity はコンテキストに識別情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
