package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// OriginProxy は静的サイト（オリジン）への転送を行う。
type OriginProxy struct {
	static        *httputil.ReverseProxy
	authenticated *httputil.ReverseProxy
}

// NewOriginProxy はOriginProxyを生成する。transportがnilの場合はhttp.DefaultTransportを使う。
func NewOriginProxy(originURL string, transport http.RoundTripper) (*OriginProxy, error) {
	target, err := url.Parse(originURL)
	if err != nil {
		return nil, fmt.Errorf("invalid origin url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid origin url: %q", originURL)
	}

	static := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport:    transport,
		ErrorHandler: originErrorHandler,
	}

	authenticated := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			// Content-Encodingを外して返すため、圧縮されていないレスポンスを要求する
			pr.Out.Header.Set("Accept-Encoding", "identity")
		},
		Transport:      transport,
		ModifyResponse: markAuthenticated,
		ErrorHandler:   originErrorHandler,
	}

	return &OriginProxy{static: static, authenticated: authenticated}, nil
}

// Static はレスポンスに手を加えずにオリジンへ転送するハンドラーを返す。
func (p *OriginProxy) Static() http.Handler {
	return p.static
}

// Authenticated は認証済みリクエストをオリジンへ転送するハンドラーを返す。
// レスポンスはキャッシュさせない。
func (p *OriginProxy) Authenticated() http.Handler {
	return p.authenticated
}

// markAuthenticated は認証済みレスポンスのヘッダーを書き換える。
func markAuthenticated(resp *http.Response) error {
	h := resp.Header
	h.Del("Content-Encoding")
	h.Del("Content-Length")
	h.Set("X-Auth-Status", "logged_in")
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	return nil
}

func originErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("origin request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	http.Error(w, "Bad Gateway", http.StatusBadGateway)
}
