package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/navgate/internal/auth"
	"github.com/hitoshi/navgate/internal/middleware"
)

const managedConfigSuffix = "/assets/config.yml"

// SessionCheck はページリクエストでのセッション判定方式。
type SessionCheck int

const (
	// SessionCheckIdentity はSessionFlowで識別情報を解決できた場合に有効とみなす。
	SessionCheckIdentity SessionCheck = iota
	// SessionCheckPresence はセッションCookieが空でなければ有効とみなす。
	SessionCheckPresence
	// SessionCheckSentinel はセッションCookieの値が auth.SentinelValue の場合に有効とみなす。
	SessionCheckSentinel
)

// PageHandler は分類に当てはまらないリクエスト（ページとアセット）を処理する。
// セッションが有効ならオリジンへ転送し、無効ならログインへリダイレクトする。
type PageHandler struct {
	flow          SessionFlow
	config        ConfigServiceInterface
	origin        http.Handler
	cookieName string
	check      SessionCheck
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(flow SessionFlow, config ConfigServiceInterface, origin http.Handler, cookieName string, check SessionCheck) *PageHandler {
	return &PageHandler{
		flow:       flow,
		config:     config,
		origin:     origin,
		cookieName: cookieName,
		check:      check,
	}
}

// ServeHTTP はhttp.Handlerを実装する。
func (h *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.hasValidSession(r) {
		w.Header().Set("Cache-Control", "no-cache")
		http.Redirect(w, r, h.flow.LoginURL(auth.AbsoluteURL(r)), http.StatusFound)
		return
	}

	if strings.HasSuffix(r.URL.Path, managedConfigSuffix) {
		h.serveConfig(w, r)
		return
	}

	h.origin.ServeHTTP(w, r)
}

func (h *PageHandler) hasValidSession(r *http.Request) bool {
	switch h.check {
	case SessionCheckPresence:
		return auth.HasSessionCookie(r, h.cookieName)
	case SessionCheckSentinel:
		return auth.IsSentinelSession(r, h.cookieName)
	default:
		return middleware.ResolveIdentity(h.flow, r) != nil
	}
}

// serveConfig は公開URLから取得した設定ドキュメントを返す。
func (h *PageHandler) serveConfig(w http.ResponseWriter, r *http.Request) {
	content, err := h.config.Read(r.Context())
	if err != nil {
		slog.Error("failed to proxy config document", slog.String("error", err.Error()))
		http.Error(w, "Failed to load configuration", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/yaml")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Auth-Status", "logged_in")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(content))
}
