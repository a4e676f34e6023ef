package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/navgate/internal/model"
)

// maxVerifyBody は /verify のレスポンスとして読み込む最大バイト数。
const maxVerifyBody = 1 << 20

// VerifyResult は /verify 呼び出しのステータスとボディ。
type VerifyResult struct {
	StatusCode int
	Body       []byte
}

// verifyResponse は認証サービスの /verify レスポンス。
type verifyResponse struct {
	Valid   bool            `json:"valid"`
	Payload *model.Identity `json:"payload"`
}

// WorkerClient は外部の認証サービス（/login, /logout, /verify）のクライアント。
// リダイレクトは追従しない。
type WorkerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewWorkerClient はWorkerClientを生成する。
// httpClientのTransportとTimeoutはそのまま使い、リダイレクト追従だけを無効にする。
func NewWorkerClient(baseURL string, httpClient *http.Client) *WorkerClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := *httpClient
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &WorkerClient{baseURL: baseURL, httpClient: &c}
}

// Verify はCookieヘッダーを転送して /verify を呼び出し、結果をそのまま返す。
func (c *WorkerClient) Verify(ctx context.Context, cookieHeader string) (*VerifyResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/verify", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Cookie", cookieHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVerifyBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read verify response: %w", err)
	}

	return &VerifyResult{StatusCode: resp.StatusCode, Body: body}, nil
}

// ResolveIdentity は /verify の結果から識別情報を取り出す。
// 未認証（2xx以外、valid=false、payloadなし）の場合は nil, nil を返す。
func (c *WorkerClient) ResolveIdentity(ctx context.Context, cookieHeader string) (*model.Identity, error) {
	result, err := c.Verify(ctx, cookieHeader)
	if err != nil {
		return nil, err
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return nil, nil
	}

	var vr verifyResponse
	if err := json.Unmarshal(result.Body, &vr); err != nil {
		return nil, fmt.Errorf("failed to parse verify response: %w", err)
	}
	if !vr.Valid || vr.Payload == nil || vr.Payload.ResolvedEmail() == "" {
		return nil, nil
	}
	return vr.Payload, nil
}

// LoginURL は認証サービスのログインURLを返す。targetはログイン後の戻り先。
func (c *WorkerClient) LoginURL(target string) string {
	return c.baseURL + "/login?" + url.Values{"redirect_to": {target}}.Encode()
}

// LogoutURL は認証サービスのログアウトURLを返す。originはログアウト後の戻り先。
func (c *WorkerClient) LogoutURL(origin string) string {
	return c.baseURL + "/logout?" + url.Values{"redirect_to": {origin}}.Encode()
}

// WorkerSession は認証サービスに検証を委譲するセッション方式。
type WorkerSession struct {
	client     *WorkerClient
	cookieName string
}

// NewWorkerSession はWorkerSessionを生成する。
func NewWorkerSession(client *WorkerClient, cookieName string) *WorkerSession {
	return &WorkerSession{client: client, cookieName: cookieName}
}

// Identify はリクエストの識別情報を返す。未認証の場合は nil, nil。
// セッションCookieがない場合は認証サービスを呼び出さない。
func (s *WorkerSession) Identify(ctx context.Context, r *http.Request) (*model.Identity, error) {
	if !HasSessionCookie(r, s.cookieName) {
		return nil, nil
	}
	return s.client.ResolveIdentity(ctx, r.Header.Get("Cookie"))
}

// Verify は受信したCookieヘッダーを認証サービスの /verify に転送する。
func (s *WorkerSession) Verify(ctx context.Context, r *http.Request) (*VerifyResult, error) {
	return s.client.Verify(ctx, r.Header.Get("Cookie"))
}

// LoginURL はログイン開始URLを返す。
func (s *WorkerSession) LoginURL(target string) string {
	return s.client.LoginURL(target)
}

// Logout は認証サービスのログアウトURLを返す。Cookieの削除は認証サービスが行う。
func (s *WorkerSession) Logout(w http.ResponseWriter, r *http.Request) string {
	slog.Info("logout redirected to auth worker", slog.String("origin", RequestOrigin(r)))
	return s.client.LogoutURL(RequestOrigin(r))
}

// marshalVerify は識別情報を /verify 互換のJSONに変換する。
func marshalVerify(identity *model.Identity) ([]byte, error) {
	resp := verifyResponse{Valid: identity != nil, Payload: identity}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode verify response: %w", err)
	}
	return body, nil
}
