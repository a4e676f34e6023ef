package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/navgate/internal/auth"
	"github.com/hitoshi/navgate/internal/model"
)

// NewSameOriginMiddleware は状態変更メソッドのクロスサイトリクエストを403で拒否するミドルウェアを返す。
// 安全なメソッド（GET, HEAD, OPTIONS）は検証しない。
//
// Sec-Fetch-Site があればそれを優先し、なければ Origin をリクエスト先のオリジンと比較する。
// どちらもないリクエスト（ブラウザ以外のクライアント）は通す。
func NewSameOriginMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) || isSameOrigin(r) {
				next.ServeHTTP(w, r)
				return
			}

			slog.Warn("cross-site request rejected",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("origin", r.Header.Get("Origin")),
				slog.String("sec_fetch_site", r.Header.Get("Sec-Fetch-Site")),
			)
			WriteError(w, model.NewForbiddenError("Cross-site request rejected"))
		})
	}
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func isSameOrigin(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "same-origin", "none":
		return true
	case "":
	default:
		return false
	}

	origin := r.Header.Get("Origin")
	return origin == "" || origin == auth.RequestOrigin(r)
}
