// Package auth はセッションの検証、Lark OAuthの認可コードフロー、メールドメインによる認可を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/navgate/internal/model"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、プロフィールを取得する。
	ExchangeCode(ctx context.Context, code string) (*LarkProfile, error)
}

// DomainPolicy はメールドメインによるアクセス制限。
type DomainPolicy struct {
	AllowedDomain string
	// StrictEnterpriseEmail がtrueの場合、enterprise_emailがないプロフィールは拒否する。
	StrictEnterpriseEmail bool
}

// DomainError はドメイン制限により拒否されたことを表す。
// 診断のため両方のメールアドレスを保持する。
type DomainError struct {
	Email           string
	EnterpriseEmail string
	AllowedDomain   string
	Profile         *LarkProfile
}

// Error はerrorインターフェースを実装する。
func (e *DomainError) Error() string {
	if e.EnterpriseEmail == "" {
		return fmt.Sprintf("enterprise email is missing (email: %s, allowed domain: %s)", e.Email, e.AllowedDomain)
	}
	return fmt.Sprintf("email domain is not allowed (enterprise_email: %s, email: %s, allowed domain: %s)",
		e.EnterpriseEmail, e.Email, e.AllowedDomain)
}

// Authorize はプロフィールがドメイン制限を満たすかを判定し、識別情報を返す。
// ドメインの比較は大文字小文字を区別する。
func (p DomainPolicy) Authorize(profile *LarkProfile) (*model.Identity, error) {
	denied := &DomainError{
		Email:           profile.Email,
		EnterpriseEmail: profile.EnterpriseEmail,
		AllowedDomain:   p.AllowedDomain,
		Profile:         profile,
	}

	authoritative := profile.EnterpriseEmail
	if authoritative == "" {
		if p.StrictEnterpriseEmail {
			return nil, &model.AppError{Kind: model.KindForbidden, Message: "Enterprise email is required", Err: denied}
		}
		authoritative = profile.Email
	}

	if emailDomain(authoritative) != p.AllowedDomain {
		return nil, &model.AppError{
			Kind:    model.KindForbidden,
			Message: fmt.Sprintf("Only %s accounts are allowed", p.AllowedDomain),
			Err:     denied,
		}
	}

	return &model.Identity{Email: profile.Email, EnterpriseEmail: profile.EnterpriseEmail}, nil
}

// emailDomain は最後の@以降を返す。@がない場合は空文字列。
func emailDomain(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 {
		return ""
	}
	return email[i+1:]
}

// CallbackResult は認可コードフロー完了時の結果。
type CallbackResult struct {
	Identity     *model.Identity
	SessionToken string
	Profile      *LarkProfile
}

// Service はLarkモードの認証に関するビジネスロジックを提供する。
type Service struct {
	oauth  OAuthProvider
	policy DomainPolicy
	tokens *SessionTokens
}

// NewService はServiceを生成する。
func NewService(oauth OAuthProvider, policy DomainPolicy, tokens *SessionTokens) *Service {
	return &Service{
		oauth:  oauth,
		policy: policy,
		tokens: tokens,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッショントークンを発行する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*CallbackResult, error) {
	if code == "" {
		return nil, model.NewInputInvalidError("Authorization code is missing")
	}

	// 1. 認可コードをトークンに交換し、プロフィールを取得
	profile, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. ドメイン制限
	identity, err := s.policy.Authorize(profile)
	if err != nil {
		slog.Warn("login rejected by domain policy",
			slog.String("email", profile.Email),
			slog.String("enterprise_email", profile.EnterpriseEmail),
		)
		return nil, err
	}

	// 3. セッショントークンを発行
	token, err := s.tokens.Issue(*identity)
	if err != nil {
		return nil, model.NewInternalError("Failed to issue session", err)
	}

	slog.Info("user logged in", slog.String("email", identity.ResolvedEmail()))
	return &CallbackResult{Identity: identity, SessionToken: token, Profile: profile}, nil
}

// LarkSession は署名付きセッショントークンをCookieに保持するセッション方式。
type LarkSession struct {
	tokens  *SessionTokens
	cookies CookieSettings
}

// NewLarkSession はLarkSessionを生成する。
func NewLarkSession(tokens *SessionTokens, cookies CookieSettings) *LarkSession {
	return &LarkSession{tokens: tokens, cookies: cookies}
}

// Identify はCookieのトークンを検証し、識別情報を返す。未認証の場合は nil, nil。
func (s *LarkSession) Identify(ctx context.Context, r *http.Request) (*model.Identity, error) {
	raw := SessionValue(r, s.cookies.Name)
	if raw == "" {
		return nil, nil
	}
	identity, err := s.tokens.Parse(raw)
	if err != nil {
		slog.Debug("session token rejected", slog.String("error", err.Error()))
		return nil, nil
	}
	return identity, nil
}

// Verify は /verify 互換のJSONをローカルで生成する。
func (s *LarkSession) Verify(ctx context.Context, r *http.Request) (*VerifyResult, error) {
	identity, _ := s.Identify(ctx, r)
	body, err := marshalVerify(identity)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{StatusCode: http.StatusOK, Body: body}, nil
}

// LoginURL はゲート自身のログイン開始URLを返す。
func (s *LarkSession) LoginURL(target string) string {
	return "/auth/login?" + url.Values{"redirect_to": {target}}.Encode()
}

// Logout はセッションCookieを削除し、トップページを戻り先として返す。
func (s *LarkSession) Logout(w http.ResponseWriter, r *http.Request) string {
	http.SetCookie(w, ExpiredSessionCookie(s.cookies))
	return "/"
}
