package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/navgate/internal/auth"
	"github.com/hitoshi/navgate/internal/middleware"
	"github.com/hitoshi/navgate/internal/model"
)

const (
	oauthStateCookie    = "navgate_oauth_state"
	oauthRedirectCookie = "navgate_oauth_redirect"
	oauthCookieMaxAge   = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*auth.CallbackResult, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Cookies auth.CookieSettings
	// DebugPages がtrueの場合、エラーページにプロフィールのJSONを表示する。
	DebugPages bool
}

// AuthHandler はLark OAuthの認可コードフローのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Login はLark OAuthフローを開始する。
// GET /auth/login?redirect_to=<戻り先>
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		h.renderError(w, http.StatusInternalServerError, errorPage{Title: "Login failed", Message: "Internal Server Error"})
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, h.flowCookie(oauthStateCookie, state, oauthCookieMaxAge))
	http.SetCookie(w, h.flowCookie(oauthRedirectCookie, url.QueryEscape(safeRedirectTarget(r, r.URL.Query().Get("redirect_to"))), oauthCookieMaxAge))

	w.Header().Set("Cache-Control", "no-cache")
	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// どの失敗もブラウザ向けのエラーページとして返す。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. 認可コードの確認（外部呼び出しの前に行う）
	code := r.URL.Query().Get("code")
	if code == "" {
		h.renderError(w, http.StatusBadRequest, errorPage{Title: "Login failed", Message: "Authorization code is missing"})
		return
	}

	// 2. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		h.renderError(w, http.StatusBadRequest, errorPage{Title: "Login failed", Message: "Invalid state parameter"})
		return
	}

	target := "/"
	if c, err := r.Cookie(oauthRedirectCookie); err == nil {
		if v, err := url.QueryUnescape(c.Value); err == nil {
			target = safeRedirectTarget(r, v)
		}
	}

	// フロー用のCookieを削除
	http.SetCookie(w, h.flowCookie(oauthStateCookie, "", -1))
	http.SetCookie(w, h.flowCookie(oauthRedirectCookie, "", -1))

	// 3. 認証処理
	result, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		h.renderCallbackError(w, err)
		return
	}

	// 4. セッションCookieを設定してリダイレクト
	http.SetCookie(w, auth.SessionCookie(h.config.Cookies, result.SessionToken))
	w.Header().Set("Cache-Control", "no-cache")
	http.Redirect(w, r, target, http.StatusFound)
}

// renderCallbackError はエラーの種類に応じたステータスでエラーページを返す。
func (h *AuthHandler) renderCallbackError(w http.ResponseWriter, err error) {
	slog.Error("oauth callback failed", slog.String("error", err.Error()))

	page := errorPage{Title: "Login failed", Message: "Authentication failed"}
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		page.Message = appErr.Message
	}

	var denied *auth.DomainError
	if errors.As(err, &denied) {
		page.Title = "Access denied"
		page.Email = denied.Email
		page.EnterpriseEmail = denied.EnterpriseEmail
		page.AllowedDomain = denied.AllowedDomain
		if h.config.DebugPages && denied.Profile != nil {
			page.ProfileJSON = profileJSON(denied.Profile)
		}
	}

	status := http.StatusInternalServerError
	switch model.KindOf(err) {
	case model.KindInputInvalid:
		status = http.StatusBadRequest
	case model.KindUnauthenticated:
		status = http.StatusUnauthorized
	case model.KindForbidden:
		status = http.StatusForbidden
	case model.KindUpstreamFailure:
		status = http.StatusBadGateway
	default:
		page.Message = "Authentication failed"
	}
	h.renderError(w, status, page)
}

// flowCookie は認可フローの間だけ使う短命なCookieを生成する。
// IdPからのトップレベル遷移で送信されるようSameSite=Laxに固定する。
func (h *AuthHandler) flowCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.Cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// safeRedirectTarget はログイン後の戻り先を同一ホスト内のパスに制限する。
// 絶対URLの場合はホストが一致するときのみパス以降を採用する。
func safeRedirectTarget(r *http.Request, raw string) string {
	if raw == "" {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "/"
	}
	if u.IsAbs() || u.Host != "" {
		if u.Host != r.Host || (u.Scheme != "http" && u.Scheme != "https") {
			return "/"
		}
		return u.RequestURI()
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	return raw
}

// generateState はOAuth stateパラメータ用のランダム文字列を生成する。
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func profileJSON(profile *auth.LarkProfile) string {
	raw := profile.Raw
	if len(raw) == 0 {
		b, err := json.Marshal(profile)
		if err != nil {
			return ""
		}
		raw = b
	}
	var pretty strings.Builder
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	enc := json.NewEncoder(&pretty)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// errorPage はエラーページのテンプレートに渡す値。
type errorPage struct {
	Title           string
	Message         string
	Email           string
	EnterpriseEmail string
	AllowedDomain   string
	ProfileJSON     string
}

var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 40rem; margin: 4rem auto; padding: 0 1rem; color: #222; }
dt { font-weight: bold; margin-top: .5rem; }
pre { background: #f4f4f4; padding: 1rem; overflow-x: auto; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if or .Email .EnterpriseEmail}}<dl>
<dt>Email</dt><dd>{{if .Email}}{{.Email}}{{else}}(none){{end}}</dd>
<dt>Enterprise email</dt><dd>{{if .EnterpriseEmail}}{{.EnterpriseEmail}}{{else}}(none){{end}}</dd>
{{if .AllowedDomain}}<dt>Allowed domain</dt><dd>{{.AllowedDomain}}</dd>{{end}}
</dl>{{end}}
{{if .ProfileJSON}}<pre>{{.ProfileJSON}}</pre>{{end}}
<p><a href="/auth/login">Try again</a></p>
</body>
</html>
`))

func (h *AuthHandler) renderError(w http.ResponseWriter, status int, page errorPage) {
	middleware.SetSecurityHeaders(w.Header())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := errorPageTemplate.Execute(w, page); err != nil {
		slog.Error("failed to render error page", slog.String("error", err.Error()))
	}
}
