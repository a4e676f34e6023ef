package auth

import (
	"net/http"
	"strings"
)

// RequestScheme はリクエストのスキームを返す。
// TLS終端がリバースプロキシにある場合は X-Forwarded-Proto を参照する。
func RequestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		// "https, http" のように複数段のプロキシを経由した場合は先頭を採用する
		proto = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
		if proto == "https" || proto == "http" {
			return proto
		}
	}
	return "http"
}

// RequestOrigin はリクエストのオリジン（scheme://host）を返す。
func RequestOrigin(r *http.Request) string {
	return RequestScheme(r) + "://" + r.Host
}

// AbsoluteURL はリクエストされた絶対URLを返す。
func AbsoluteURL(r *http.Request) string {
	return RequestOrigin(r) + r.URL.RequestURI()
}
