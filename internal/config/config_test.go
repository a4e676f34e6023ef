package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_MODE", "")
	t.Setenv("ORIGIN_URL", "http://origin.internal:8081/")
	t.Setenv("AUTH_WORKER_URL", "https://auth.example.com/")
	t.Setenv("R2_PUBLIC_URL", "https://pub.example.r2.dev")
	t.Setenv("R2_ENDPOINT", "https://account.r2.cloudflarestorage.com")
	t.Setenv("R2_BUCKET_NAME", "navigation")
	t.Setenv("R2_ACCESS_KEY_ID", "test-access-key")
	t.Setenv("R2_SECRET_ACCESS_KEY", "test-secret-key")
}

func setLarkEnvVars(t *testing.T) {
	t.Helper()
	setRequiredEnvVars(t)
	t.Setenv("AUTH_MODE", "lark")
	t.Setenv("AUTH_WORKER_URL", "")
	t.Setenv("LARK_APP_ID", "cli_test")
	t.Setenv("LARK_APP_SECRET", "lark-secret")
	t.Setenv("LARK_REDIRECT_URL", "https://nav.example.com/auth/callback")
	t.Setenv("SESSION_SECRET", "test-session-secret-32bytes-long!")
	t.Setenv("ALLOWED_EMAIL_DOMAIN", "example.com")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.AuthMode != AuthModeWorker {
		t.Errorf("AuthMode = %q, want %q", cfg.AuthMode, AuthModeWorker)
	}
	// 末尾のスラッシュは取り除かれる
	if cfg.OriginURL != "http://origin.internal:8081" {
		t.Errorf("OriginURL = %q, want %q", cfg.OriginURL, "http://origin.internal:8081")
	}
	if cfg.AuthWorkerURL != "https://auth.example.com" {
		t.Errorf("AuthWorkerURL = %q, want %q", cfg.AuthWorkerURL, "https://auth.example.com")
	}
	if cfg.R2Bucket != "navigation" {
		t.Errorf("R2Bucket = %q, want %q", cfg.R2Bucket, "navigation")
	}
	if cfg.R2AccessKeyID != "test-access-key" {
		t.Errorf("R2AccessKeyID = %q, want %q", cfg.R2AccessKeyID, "test-access-key")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
	if cfg.MetricsPort != "" {
		t.Errorf("MetricsPort = %q, want empty", cfg.MetricsPort)
	}
	if cfg.SessionCheck != SessionCheckVerify {
		t.Errorf("SessionCheck = %q, want %q", cfg.SessionCheck, SessionCheckVerify)
	}
	if cfg.SessionCookieName != "auth_token" {
		t.Errorf("SessionCookieName = %q, want %q", cfg.SessionCookieName, "auth_token")
	}
	if cfg.SessionMaxAge != 2592000 {
		t.Errorf("SessionMaxAge = %d, want %d", cfg.SessionMaxAge, 2592000)
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure should default to true")
	}
	if cfg.CookieSameSite != "Lax" {
		t.Errorf("CookieSameSite = %q, want %q", cfg.CookieSameSite, "Lax")
	}
	if !cfg.StrictEnterpriseEmail {
		t.Error("StrictEnterpriseEmail should default to true")
	}
	if cfg.R2Region != "auto" {
		t.Errorf("R2Region = %q, want %q", cfg.R2Region, "auto")
	}
	if cfg.BackupRetention != 10 {
		t.Errorf("BackupRetention = %d, want %d", cfg.BackupRetention, 10)
	}
	if cfg.GlobalMemoAnchor != "links" {
		t.Errorf("GlobalMemoAnchor = %q, want %q", cfg.GlobalMemoAnchor, "links")
	}
	if cfg.RateLimitConfigWrite != 30 {
		t.Errorf("RateLimitConfigWrite = %d, want %d", cfg.RateLimitConfigWrite, 30)
	}
	if cfg.UpstreamTimeout != 10*time.Second {
		t.Errorf("UpstreamTimeout = %v, want %v", cfg.UpstreamTimeout, 10*time.Second)
	}
	if cfg.DebugPages {
		t.Error("DebugPages should default to false")
	}
	if len(cfg.AdminEmails) != 0 {
		t.Errorf("AdminEmails = %v, want empty", cfg.AdminEmails)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnvVars(t)

	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("METRICS_PORT", "9090")
	t.Setenv("SESSION_CHECK", "presence")
	t.Setenv("SESSION_MAX_AGE", "3600")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("BACKUP_RETENTION", "5")
	t.Setenv("UPSTREAM_TIMEOUT", "3s")
	t.Setenv("DEBUG_PAGES", "true")
	t.Setenv("ADMIN_EMAILS", " Alice@Example.com, bob@example.com ,,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ServerPort != "3000" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "3000")
	}
	if cfg.MetricsPort != "9090" {
		t.Errorf("MetricsPort = %q, want %q", cfg.MetricsPort, "9090")
	}
	if cfg.SessionCheck != SessionCheckPresence {
		t.Errorf("SessionCheck = %q, want %q", cfg.SessionCheck, SessionCheckPresence)
	}
	if cfg.SessionMaxAge != 3600 {
		t.Errorf("SessionMaxAge = %d, want %d", cfg.SessionMaxAge, 3600)
	}
	if cfg.CookieSecure {
		t.Error("CookieSecure = true, want false")
	}
	if cfg.BackupRetention != 5 {
		t.Errorf("BackupRetention = %d, want %d", cfg.BackupRetention, 5)
	}
	if cfg.UpstreamTimeout != 3*time.Second {
		t.Errorf("UpstreamTimeout = %v, want %v", cfg.UpstreamTimeout, 3*time.Second)
	}
	if !cfg.DebugPages {
		t.Error("DebugPages = false, want true")
	}

	want := []string{"alice@example.com", "bob@example.com"}
	if !reflect.DeepEqual(cfg.AdminEmails, want) {
		t.Errorf("AdminEmails = %v, want %v", cfg.AdminEmails, want)
	}
}

func TestLoad_InvalidOptionalValues_FallBackToDefaults(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SESSION_MAX_AGE", "thirty-days")
	t.Setenv("UPSTREAM_TIMEOUT", "soon")
	t.Setenv("COOKIE_SECURE", "maybe")
	t.Setenv("SESSION_CHECK", "sometimes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.SessionMaxAge != 2592000 {
		t.Errorf("SessionMaxAge = %d, want %d", cfg.SessionMaxAge, 2592000)
	}
	if cfg.UpstreamTimeout != 10*time.Second {
		t.Errorf("UpstreamTimeout = %v, want %v", cfg.UpstreamTimeout, 10*time.Second)
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure should fall back to true")
	}
	if cfg.SessionCheck != SessionCheckVerify {
		t.Errorf("SessionCheck = %q, want %q", cfg.SessionCheck, SessionCheckVerify)
	}
}

func TestLoad_MissingRequiredVars_ListsAll(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("ORIGIN_URL", "")
	t.Setenv("R2_BUCKET_NAME", "")
	t.Setenv("AUTH_WORKER_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing variables, got nil")
	}
	for _, key := range []string{"ORIGIN_URL", "R2_BUCKET_NAME", "AUTH_WORKER_URL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q should mention %s", err.Error(), key)
		}
	}
}

func TestLoad_LarkMode_RequiresOAuthSettings(t *testing.T) {
	setLarkEnvVars(t)
	t.Setenv("LARK_APP_SECRET", "")
	t.Setenv("SESSION_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing lark settings, got nil")
	}
	if !strings.Contains(err.Error(), "LARK_APP_SECRET") || !strings.Contains(err.Error(), "SESSION_SECRET") {
		t.Errorf("error %q should mention LARK_APP_SECRET and SESSION_SECRET", err.Error())
	}
}

func TestLoad_LarkMode_DoesNotRequireAuthWorker(t *testing.T) {
	setLarkEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.AuthMode != AuthModeLark {
		t.Errorf("AuthMode = %q, want %q", cfg.AuthMode, AuthModeLark)
	}
	if cfg.AllowedEmailDomain != "example.com" {
		t.Errorf("AllowedEmailDomain = %q, want %q", cfg.AllowedEmailDomain, "example.com")
	}
}

func TestLoad_UnknownAuthMode_ReturnsError(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("AUTH_MODE", "basic")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown AUTH_MODE, got nil")
	}
}

func TestLoad_InvalidURL_ReturnsError(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"ftpスキーム", "ORIGIN_URL", "ftp://origin.internal"},
		{"ホストなし", "R2_ENDPOINT", "https://"},
		{"スキームなし", "AUTH_WORKER_URL", "auth.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnvVars(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%q, got nil", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q should mention %s", err.Error(), tt.key)
			}
		})
	}
}

func TestLoad_SessionCheckSentinel(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SESSION_CHECK", "sentinel")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.SessionCheck != SessionCheckSentinel {
		t.Errorf("SessionCheck = %q, want %q", cfg.SessionCheck, SessionCheckSentinel)
	}
}
