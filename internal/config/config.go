package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// AuthMode はセッションの検証方式を表す。
type AuthMode string

const (
	// AuthModeWorker は外部の認証サービス（/login, /logout, /verify）に検証を委譲する。
	AuthModeWorker AuthMode = "worker"
	// AuthModeLark はLarkの認可コードを直接交換し、署名付きセッショントークンを発行する。
	AuthModeLark AuthMode = "lark"
)

// SessionCheck はページリクエストでのセッション判定の強度を表す。
type SessionCheck string

const (
	// SessionCheckVerify は識別情報の解決まで行う。
	SessionCheckVerify SessionCheck = "verify"
	// SessionCheckPresence はCookieの存在のみを確認する。
	SessionCheckPresence SessionCheck = "presence"
	// SessionCheckSentinel はCookieの値が固定値 "valid" であることを確認する。
	SessionCheckSentinel SessionCheck = "sentinel"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort  string
	MetricsPort string
	LogLevel    string

	// Origin
	OriginURL string

	// Auth
	AuthMode      AuthMode
	AuthWorkerURL string
	SessionCheck  SessionCheck

	// Lark OAuth
	LarkAppID       string
	LarkAppSecret   string
	LarkRedirectURL string
	LarkAuthURL     string
	LarkTokenURL    string
	LarkUserInfoURL string

	// Domain policy
	AllowedEmailDomain    string
	StrictEnterpriseEmail bool

	// Session
	SessionSecret     string
	SessionCookieName string
	SessionMaxAge     int
	CookieSecure      bool
	CookieSameSite    string

	// Object store
	R2PublicURL       string
	R2Endpoint        string
	R2Bucket          string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2Region          string

	// Config document
	AdminEmails      []string
	BackupRetention  int
	GlobalMemoAnchor string

	// Rate Limit
	RateLimitConfigWrite int

	UpstreamTimeout time.Duration
	DebugPages      bool
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string
	require := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.OriginURL = require("ORIGIN_URL")
	cfg.R2PublicURL = require("R2_PUBLIC_URL")
	cfg.R2Endpoint = require("R2_ENDPOINT")
	cfg.R2Bucket = require("R2_BUCKET_NAME")
	cfg.R2AccessKeyID = require("R2_ACCESS_KEY_ID")
	cfg.R2SecretAccessKey = require("R2_SECRET_ACCESS_KEY")

	cfg.AuthMode = AuthMode(getEnvString("AUTH_MODE", string(AuthModeWorker)))
	switch cfg.AuthMode {
	case AuthModeWorker:
		cfg.AuthWorkerURL = require("AUTH_WORKER_URL")
	case AuthModeLark:
		cfg.LarkAppID = require("LARK_APP_ID")
		cfg.LarkAppSecret = require("LARK_APP_SECRET")
		cfg.LarkRedirectURL = require("LARK_REDIRECT_URL")
		cfg.SessionSecret = require("SESSION_SECRET")
		cfg.AllowedEmailDomain = require("ALLOWED_EMAIL_DOMAIN")
	default:
		return nil, fmt.Errorf("unsupported AUTH_MODE: %q", cfg.AuthMode)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.SessionCheck = SessionCheck(getEnvString("SESSION_CHECK", string(SessionCheckVerify)))
	switch cfg.SessionCheck {
	case SessionCheckPresence, SessionCheckSentinel:
	default:
		cfg.SessionCheck = SessionCheckVerify
	}
	cfg.LarkAuthURL = getEnvString("LARK_AUTH_URL", "")
	cfg.LarkTokenURL = getEnvString("LARK_TOKEN_URL", "")
	cfg.LarkUserInfoURL = getEnvString("LARK_USERINFO_URL", "")
	cfg.StrictEnterpriseEmail = getEnvBool("STRICT_ENTERPRISE_EMAIL", true)
	cfg.SessionCookieName = getEnvString("SESSION_COOKIE_NAME", "auth_token")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 2592000)
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", true)
	cfg.CookieSameSite = getEnvString("COOKIE_SAMESITE", "Lax")
	cfg.R2Region = getEnvString("R2_REGION", "auto")
	cfg.AdminEmails = parseEmailList(os.Getenv("ADMIN_EMAILS"))
	cfg.BackupRetention = getEnvInt("BACKUP_RETENTION", 10)
	cfg.GlobalMemoAnchor = getEnvString("GLOBAL_MEMO_ANCHOR", "links")
	cfg.RateLimitConfigWrite = getEnvInt("RATE_LIMIT_CONFIG_WRITE", 30)
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.DebugPages = getEnvBool("DEBUG_PAGES", false)

	urls := map[string]string{
		"ORIGIN_URL":    cfg.OriginURL,
		"R2_PUBLIC_URL": cfg.R2PublicURL,
		"R2_ENDPOINT":   cfg.R2Endpoint,
	}
	if cfg.AuthMode == AuthModeWorker {
		urls["AUTH_WORKER_URL"] = cfg.AuthWorkerURL
	} else {
		urls["LARK_REDIRECT_URL"] = cfg.LarkRedirectURL
	}
	for key, raw := range urls {
		if err := validateBaseURL(raw); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	cfg.OriginURL = strings.TrimRight(cfg.OriginURL, "/")
	cfg.AuthWorkerURL = strings.TrimRight(cfg.AuthWorkerURL, "/")
	cfg.R2PublicURL = strings.TrimRight(cfg.R2PublicURL, "/")
	cfg.R2Endpoint = strings.TrimRight(cfg.R2Endpoint, "/")

	return cfg, nil
}

// validateBaseURL はhttp/httpsスキームとホストを持つURLかを検証する。
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is empty")
	}
	return nil
}

// parseEmailList はカンマ区切りのメールアドレスを小文字化して返す。
func parseEmailList(v string) []string {
	var emails []string
	for _, e := range strings.Split(v, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			emails = append(emails, e)
		}
	}
	return emails
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
