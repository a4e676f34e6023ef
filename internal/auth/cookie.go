package auth

import (
	"net/http"
	"strings"
)

// SentinelValue は単純なCookie存在チェック方式でのセッション値。
const SentinelValue = "valid"

// CookieSettings はセッションCookieの属性。
type CookieSettings struct {
	Name     string
	MaxAge   int // 秒
	Secure   bool
	SameSite http.SameSite
}

// ParseSameSite は "Strict" / "Lax" をhttp.SameSiteに変換する。
// それ以外はLaxとして扱う。
func ParseSameSite(s string) http.SameSite {
	if strings.EqualFold(s, "strict") {
		return http.SameSiteStrictMode
	}
	return http.SameSiteLaxMode
}

// SessionCookie はセッションCookieを生成する。
func SessionCookie(settings CookieSettings, value string) *http.Cookie {
	return &http.Cookie{
		Name:     settings.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   settings.MaxAge,
		HttpOnly: true,
		Secure:   settings.Secure,
		SameSite: settings.SameSite,
	}
}

// ExpiredSessionCookie はセッションを破棄するためのCookie（Max-Age=0）を生成する。
func ExpiredSessionCookie(settings CookieSettings) *http.Cookie {
	c := SessionCookie(settings, "")
	c.MaxAge = -1 // Set-Cookie ヘッダーでは Max-Age=0 として出力される
	return c
}

// SessionValue は指定名のCookieの値を返す。存在しない場合は空文字列。
func SessionValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// HasSessionCookie は指定名のCookieが空でない値で存在するかを返す。
func HasSessionCookie(r *http.Request, name string) bool {
	return SessionValue(r, name) != ""
}

// IsSentinelSession はCookieの値がSentinelValueと一致するかを返す。
func IsSentinelSession(r *http.Request, name string) bool {
	return SessionValue(r, name) == SentinelValue
}
