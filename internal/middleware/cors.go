package middleware

import (
	"net/http"

	"github.com/hitoshi/navgate/internal/auth"
)

// NewPreflightHandler はAPIへのCORSプリフライト（OPTIONS）に204で応答するハンドラーを返す。
// credentials送信と共存するため、ワイルドカード(*)ではなくリクエスト先のオリジンを返す。
func NewPreflightHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", auth.RequestOrigin(r))
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Max-Age", "86400")
		h.Add("Vary", "Origin")
		w.WriteHeader(http.StatusNoContent)
	})
}
