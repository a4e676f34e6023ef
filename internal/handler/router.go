package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/navgate/internal/middleware"
	"github.com/hitoshi/navgate/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	Observer    middleware.HTTPObserver // nil可
	Recorder    GateRecorder            // nil可
	RateLimiter *middleware.RateLimiter

	// セッション
	SessionFlow  SessionFlow
	CookieName   string
	SessionCheck SessionCheck

	// Lark OAuth（nilの場合は /auth/login, /auth/callback を扱わない）
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 設定ドキュメント
	ConfigService ConfigServiceInterface

	// オリジン
	Origin *OriginProxy
}

// NewRouter はゲート全体のハンドラーを構成する。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Gate
//
// 設定ドキュメントAPIはさらに以下を通る（405の判定は認証より先に行う）:
//
//	SecurityHeaders → Session → SameOrigin → RateLimit（変更系のみ）
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Observer))

	sessionHandler := NewSessionHandler(deps.SessionFlow, deps.ConfigService)
	apiHeaders := middleware.NewSecurityHeadersMiddleware()
	configAPI := newConfigAPIRouter(deps)

	handlers := map[Route]http.Handler{
		RouteHealth:      http.HandlerFunc(health),
		RouteStatic:      deps.Origin.Static(),
		RoutePreflight:   middleware.NewPreflightHandler(),
		RouteLogout:      http.HandlerFunc(sessionHandler.Logout),
		RouteVerify:      apiHeaders(http.HandlerFunc(sessionHandler.Verify)),
		RouteAdminCheck:  apiHeaders(http.HandlerFunc(sessionHandler.AdminCheck)),
		RouteConfigAPI:   configAPI,
		RouteServiceMemo: configAPI,
		RouteGlobalMemo:  configAPI,
		RoutePage: NewPageHandler(
			deps.SessionFlow, deps.ConfigService, deps.Origin.Authenticated(),
			deps.CookieName, deps.SessionCheck,
		),
	}

	oauthEnabled := deps.AuthService != nil
	if oauthEnabled {
		authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
		handlers[RouteLogin] = http.HandlerFunc(authHandler.Login)
		handlers[RouteCallback] = http.HandlerFunc(authHandler.Callback)
	}

	r.Handle("/*", &Gate{
		oauthEnabled: oauthEnabled,
		handlers:     handlers,
		recorder:     deps.Recorder,
	})

	return r
}

// newConfigAPIRouter は設定ドキュメントAPIのルーティングを構成する。
// メソッドの判定をセッション検証より先に行うため、ミドルウェアはルートごとに付与する。
func newConfigAPIRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, model.NewMethodNotAllowedError())
	})

	h := NewConfigHandler(deps.ConfigService)
	session := middleware.NewSessionMiddleware(deps.SessionFlow)
	mutation := []func(http.Handler) http.Handler{
		session,
		middleware.NewSameOriginMiddleware(),
	}
	if deps.RateLimiter != nil {
		mutation = append(mutation, deps.RateLimiter.Middleware())
	}

	r.With(session).Get(configAPIPath, h.GetConfig)
	r.With(mutation...).Put(configAPIPath, h.PutConfig)
	r.With(mutation...).Patch(serviceMemoPath, h.PatchServiceMemo)
	r.With(mutation...).Patch(globalMemoPath, h.PatchGlobalMemo)

	return r
}

// health はヘルスチェックに応答する。オリジンには問い合わせない。
// GET /health
func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
