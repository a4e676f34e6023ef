package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/navgate/internal/middleware"
)

// SessionHandler はログアウト・セッション検証・管理者判定のHTTPハンドラー。
type SessionHandler struct {
	flow   SessionFlow
	config ConfigServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(flow SessionFlow, config ConfigServiceInterface) *SessionHandler {
	return &SessionHandler{flow: flow, config: config}
}

// verifyErrorResponse は検証失敗時のレスポンス。
type verifyErrorResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error"`
}

// adminCheckResponse は管理者判定のレスポンス。
type adminCheckResponse struct {
	IsAdmin bool   `json:"isAdmin"`
	Email   string `json:"email,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Logout はセッションを終了し、ログアウト後の遷移先へリダイレクトする。
// GET /logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	target := h.flow.Logout(w, r)
	w.Header().Set("Cache-Control", "no-cache")
	http.Redirect(w, r, target, http.StatusFound)
}

// Verify はセッションの検証結果を返す。
// 上流がリダイレクトまたは401を返した場合も、クライアント側でJSONとして扱えるよう200で応答する。
// GET /api/auth/verify
func (h *SessionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	result, err := h.flow.Verify(r.Context(), r)
	if err != nil {
		slog.Error("verify proxy failed", slog.String("error", err.Error()))
		middleware.WriteJSON(w, http.StatusInternalServerError, verifyErrorResponse{Valid: false, Error: "Proxy Error"})
		return
	}

	if isRedirectStatus(result.StatusCode) || result.StatusCode == http.StatusUnauthorized {
		middleware.WriteJSON(w, http.StatusOK, verifyErrorResponse{
			Valid: false,
			Error: fmt.Sprintf("Upstream status: %d", result.StatusCode),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)
}

// AdminCheck はリクエストしたユーザーが管理者かを返す。
// GET /api/admin/check
func (h *SessionHandler) AdminCheck(w http.ResponseWriter, r *http.Request) {
	identity := middleware.ResolveIdentity(h.flow, r)
	if identity == nil {
		middleware.WriteJSON(w, http.StatusUnauthorized, adminCheckResponse{IsAdmin: false, Error: "Not authenticated"})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, adminCheckResponse{
		IsAdmin: h.config.IsAdmin(identity),
		Email:   identity.ResolvedEmail(),
	})
}

func isRedirectStatus(code int) bool {
	return code >= 300 && code < 400
}
