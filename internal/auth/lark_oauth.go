package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/navgate/internal/model"
)

const (
	defaultLarkAuthURL     = "https://open.larksuite.com/open-apis/authen/v1/index"
	defaultLarkTokenURL    = "https://open.larksuite.com/open-apis/authen/v1/access_token"
	defaultLarkUserInfoURL = "https://passport.larksuite.com/suite/passport/oauth/userinfo"

	maxLarkResponseBody = 1 << 20
)

// LarkOAuthConfig はLark OAuthプロバイダーの設定。
type LarkOAuthConfig struct {
	AppID       string
	AppSecret   string
	RedirectURL string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// LarkProfile はLarkのユーザー情報エンドポイントから取得したプロフィール。
type LarkProfile struct {
	Email           string          `json:"email"`
	EnterpriseEmail string          `json:"enterprise_email"`
	Name            string          `json:"name"`
	OpenID          string          `json:"open_id"`
	Raw             json.RawMessage `json:"-"` // 診断ページ用
}

// LarkOAuthProvider はLarkの認可コードフローによる認証を提供する。
// Larkのトークンエンドポイントは標準のフォーム形式ではなくJSONを受け付け、
// 失敗をHTTPステータスではなくボディの code で返すため、交換は独自に行う。
type LarkOAuthProvider struct {
	config     LarkOAuthConfig
	oauth      *oauth2.Config
	httpClient *http.Client
}

// NewLarkOAuthProvider はLarkOAuthProviderを生成する。
func NewLarkOAuthProvider(config LarkOAuthConfig, httpClient *http.Client) *LarkOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultLarkAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultLarkTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultLarkUserInfoURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LarkOAuthProvider{
		config: config,
		oauth: &oauth2.Config{
			ClientID:     config.AppID,
			ClientSecret: config.AppSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  config.AuthURL,
				TokenURL: config.TokenURL,
			},
		},
		httpClient: httpClient,
	}
}

// GetLoginURL はLarkの認可URLを生成する。
// Larkはclient_idではなくapp_idを参照するため、両方を付与する。
func (p *LarkOAuthProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("app_id", p.config.AppID))
}

// larkTokenResponse はトークンエンドポイントのレスポンス。
// 旧形式ではaccess_tokenがトップレベルに置かれる。
type larkTokenResponse struct {
	Code        int    `json:"code"`
	Msg         string `json:"msg"`
	AccessToken string `json:"access_token"`
	Data        *struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	} `json:"data"`
}

// larkUserInfoEnvelope はユーザー情報のレスポンス。
// フラットな形式と {code, data} で包まれた形式の両方を受け付ける。
type larkUserInfoEnvelope struct {
	Code *int         `json:"code"`
	Msg  string       `json:"msg"`
	Data *LarkProfile `json:"data"`
	LarkProfile
}

// ExchangeCode は認可コードをアクセストークンに交換し、プロフィールを取得する。
func (p *LarkOAuthProvider) ExchangeCode(ctx context.Context, code string) (*LarkProfile, error) {
	// 1. 認可コードをアクセストークンに交換
	token, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, err
	}

	// 2. アクセストークンでユーザー情報を取得
	return p.fetchUserInfo(ctx, token)
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (p *LarkOAuthProvider) exchangeToken(ctx context.Context, code string) (*oauth2.Token, error) {
	payload, err := json.Marshal(map[string]string{
		"grant_type": "authorization_code",
		"app_id":     p.config.AppID,
		"app_secret": p.config.AppSecret,
		"code":       code,
	})
	if err != nil {
		return nil, model.NewInternalError("failed to encode token request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, model.NewInternalError("failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, model.NewUpstreamError("token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLarkResponseBody))
	if err != nil {
		return nil, model.NewUpstreamError("failed to read token response", err)
	}

	var tr larkTokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, model.NewUpstreamError(
			fmt.Sprintf("token endpoint returned status %d with unparseable body", resp.StatusCode), err)
	}

	// HTTP 200でもcodeが0以外なら失敗
	if tr.Code != 0 {
		return nil, &model.AppError{
			Kind:    model.KindUnauthenticated,
			Message: fmt.Sprintf("Lark token exchange failed: %s (code: %d)", tr.Msg, tr.Code),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.NewUpstreamError(
			fmt.Sprintf("token endpoint returned status %d", resp.StatusCode),
			fmt.Errorf("%s", string(body)))
	}

	token := &oauth2.Token{AccessToken: tr.AccessToken, TokenType: "Bearer"}
	if tr.Data != nil && tr.Data.AccessToken != "" {
		token.AccessToken = tr.Data.AccessToken
		if tr.Data.ExpiresIn > 0 {
			token.Expiry = time.Now().Add(time.Duration(tr.Data.ExpiresIn) * time.Second)
		}
	}
	if token.AccessToken == "" {
		msg := tr.Msg
		if msg == "" {
			msg = "empty access token in response"
		}
		return nil, model.NewUnauthenticatedError("Lark token exchange failed: " + msg)
	}

	return token, nil
}

// fetchUserInfo はアクセストークンでユーザー情報を取得する。
func (p *LarkOAuthProvider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*LarkProfile, error) {
	// oauth2のTransportがAuthorization: Bearerを付与する
	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, p.httpClient),
		oauth2.StaticTokenSource(token),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, model.NewInternalError("failed to create user info request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, model.NewUpstreamError("user info request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLarkResponseBody))
	if err != nil {
		return nil, model.NewUpstreamError("failed to read user info response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, model.NewUnauthenticatedError(
			fmt.Sprintf("Lark user info rejected the access token (status %d)", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.NewUpstreamError(
			fmt.Sprintf("user info endpoint returned status %d", resp.StatusCode),
			fmt.Errorf("%s", string(body)))
	}

	var envelope larkUserInfoEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, model.NewUpstreamError("failed to parse user info response", err)
	}
	if envelope.Code != nil && *envelope.Code != 0 {
		return nil, model.NewUnauthenticatedError(
			fmt.Sprintf("Lark user info failed: %s (code: %d)", envelope.Msg, *envelope.Code))
	}

	profile := envelope.LarkProfile
	if envelope.Data != nil {
		profile = *envelope.Data
	}
	profile.Raw = json.RawMessage(body)

	if profile.Email == "" {
		return nil, model.NewUnauthenticatedError("Lark user info does not contain an email address")
	}

	return &profile, nil
}

// compile-time interface check
var _ OAuthProvider = (*LarkOAuthProvider)(nil)
