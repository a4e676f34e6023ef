package handler

import (
	"net/http"
	"strings"

	"github.com/hitoshi/navgate/internal/middleware"
)

// Route はゲートが判定したリクエストの種別。
type Route string

const (
	RouteHealth      Route = "health"
	RouteStatic      Route = "static"
	RoutePreflight   Route = "preflight"
	RouteLogout      Route = "logout"
	RouteLogin       Route = "login"
	RouteCallback    Route = "callback"
	RouteVerify      Route = "verify"
	RouteAdminCheck  Route = "admin_check"
	RouteConfigAPI   Route = "config_api"
	RouteServiceMemo Route = "service_memo"
	RouteGlobalMemo  Route = "global_memo"
	RoutePage        Route = "page"
)

const (
	healthPath       = "/health"
	loginPath        = "/auth/login"
	callbackPath     = "/auth/callback"
	verifyPrefix     = "/api/auth/verify"
	adminCheckPath   = "/api/admin/check"
	configAPIPath    = "/api/config"
	serviceMemoPath  = "/api/config/memo"
	globalMemoPath   = "/api/config/global-memo"
	managedConfigRef = "config.yml"
)

// staticPrefixes は認証を評価せずにオリジンへ転送するパスの接頭辞。
var staticPrefixes = []string{
	"/favicon.ico",
	"/robots.txt",
	"/assets/",
	"/resources/",
	"/icons/",
	"/manifest.json",
}

// Classify はメソッドとパスからリクエストの種別を判定する。最初に一致したものを採用する。
// oauthEnabledがfalseの場合、/auth/login と /auth/callback は通常のページとして扱う。
func Classify(method, path string, oauthEnabled bool) Route {
	if path == healthPath {
		return RouteHealth
	}

	if isStaticPath(path) {
		return RouteStatic
	}

	if method == http.MethodOptions && strings.HasPrefix(path, "/api/") {
		return RoutePreflight
	}

	switch {
	case path == "/logout" || path == "/logout/":
		return RouteLogout
	case oauthEnabled && path == loginPath:
		return RouteLogin
	case oauthEnabled && path == callbackPath:
		return RouteCallback
	case strings.HasPrefix(path, verifyPrefix):
		return RouteVerify
	case path == adminCheckPath:
		return RouteAdminCheck
	case path == configAPIPath:
		return RouteConfigAPI
	case path == serviceMemoPath:
		return RouteServiceMemo
	case path == globalMemoPath:
		return RouteGlobalMemo
	}

	return RoutePage
}

// isStaticPath は静的アセットのパスかを判定する。
// 管理対象の設定ドキュメントを参照するパスは除外し、認証付きで配信する。
func isStaticPath(path string) bool {
	if strings.Contains(path, managedConfigRef) {
		return false
	}
	for _, prefix := range staticPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// GateRecorder はゲートの判定結果を記録する。metrics.Collectorが実装する。
type GateRecorder interface {
	RecordGateDecision(route string, outcome string)
}

// Gate は全リクエストの入口となるハンドラー。
// 判定した種別ごとに1つのハンドラーへ振り分ける。
type Gate struct {
	oauthEnabled bool
	handlers     map[Route]http.Handler
	recorder     GateRecorder
}

// ServeHTTP はhttp.Handlerを実装する。
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := Classify(r.Method, r.URL.Path, g.oauthEnabled)
	middleware.SetRoute(r.Context(), string(route))

	h, ok := g.handlers[route]
	if !ok {
		http.NotFound(w, r)
		g.record(route, "unhandled")
		return
	}

	rec := &outcomeRecorder{ResponseWriter: w}
	h.ServeHTTP(rec, r)
	g.record(route, rec.outcome())
}

func (g *Gate) record(route Route, outcome string) {
	if g.recorder != nil {
		g.recorder.RecordGateDecision(string(route), outcome)
	}
}

// outcomeRecorder はゲートの判定結果をメトリクスのラベルに落とすため、ステータスを記録する。
type outcomeRecorder struct {
	http.ResponseWriter
	status int
}

func (o *outcomeRecorder) WriteHeader(code int) {
	if o.status == 0 {
		o.status = code
	}
	o.ResponseWriter.WriteHeader(code)
}

func (o *outcomeRecorder) Write(b []byte) (int, error) {
	if o.status == 0 {
		o.status = http.StatusOK
	}
	return o.ResponseWriter.Write(b)
}

// Unwrap は元のResponseWriterを返す。
func (o *outcomeRecorder) Unwrap() http.ResponseWriter {
	return o.ResponseWriter
}

func (o *outcomeRecorder) outcome() string {
	switch {
	case o.status == 0, o.status < 300:
		return "allowed"
	case o.status < 400:
		return "redirected"
	case o.status == http.StatusUnauthorized, o.status == http.StatusForbidden:
		return "denied"
	case o.status < 500:
		return "rejected"
	default:
		return "failed"
	}
}
