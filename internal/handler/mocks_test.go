package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/navgate/internal/auth"
	"github.com/hitoshi/navgate/internal/model"
)

// --- モック定義 ---

type mockSessionFlow struct {
	identifyFn func(ctx context.Context, r *http.Request) (*model.Identity, error)
	verifyFn   func(ctx context.Context, r *http.Request) (*auth.VerifyResult, error)
	loginBase  string
	logoutTo   string
}

func (m *mockSessionFlow) Identify(ctx context.Context, r *http.Request) (*model.Identity, error) {
	if m.identifyFn != nil {
		return m.identifyFn(ctx, r)
	}
	return nil, nil
}

func (m *mockSessionFlow) Verify(ctx context.Context, r *http.Request) (*auth.VerifyResult, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, r)
	}
	return &auth.VerifyResult{StatusCode: http.StatusOK, Body: []byte(`{"valid":false}`)}, nil
}

func (m *mockSessionFlow) LoginURL(target string) string {
	base := m.loginBase
	if base == "" {
		base = "https://auth.example.com/login"
	}
	return base + "?redirect_to=" + url.QueryEscape(target)
}

func (m *mockSessionFlow) Logout(w http.ResponseWriter, r *http.Request) string {
	if m.logoutTo == "" {
		return "/"
	}
	return m.logoutTo
}

// cookieFlow は "auth_token" Cookieの値をメールアドレスとして扱うモック。
func cookieFlow() *mockSessionFlow {
	return &mockSessionFlow{
		identifyFn: func(ctx context.Context, r *http.Request) (*model.Identity, error) {
			c, err := r.Cookie("auth_token")
			if err != nil || c.Value == "" {
				return nil, nil
			}
			return &model.Identity{Email: c.Value}, nil
		},
	}
}

type mockConfigService struct {
	isAdminFn           func(identity *model.Identity) bool
	readFn              func(ctx context.Context) (string, error)
	replaceFn           func(ctx context.Context, identity *model.Identity, content string) error
	updateServiceMemoFn func(ctx context.Context, serviceID, memo string) error
	updateGlobalMemoFn  func(ctx context.Context, identity *model.Identity, content string) (*model.GlobalMemo, error)
}

func (m *mockConfigService) IsAdmin(identity *model.Identity) bool {
	if m.isAdminFn != nil {
		return m.isAdminFn(identity)
	}
	return false
}

func (m *mockConfigService) Read(ctx context.Context) (string, error) {
	if m.readFn != nil {
		return m.readFn(ctx)
	}
	return "", nil
}

func (m *mockConfigService) Replace(ctx context.Context, identity *model.Identity, content string) error {
	if m.replaceFn != nil {
		return m.replaceFn(ctx, identity, content)
	}
	return nil
}

func (m *mockConfigService) UpdateServiceMemo(ctx context.Context, serviceID, memo string) error {
	if m.updateServiceMemoFn != nil {
		return m.updateServiceMemoFn(ctx, serviceID, memo)
	}
	return nil
}

func (m *mockConfigService) UpdateGlobalMemo(ctx context.Context, identity *model.Identity, content string) (*model.GlobalMemo, error) {
	if m.updateGlobalMemoFn != nil {
		return m.updateGlobalMemoFn(ctx, identity, content)
	}
	return &model.GlobalMemo{Content: content, UpdatedBy: identity.ResolvedEmail()}, nil
}

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*auth.CallbackResult, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://open.larksuite.com/open-apis/authen/v1/index?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*auth.CallbackResult, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

type mockGateRecorder struct {
	decisions []string
}

func (m *mockGateRecorder) RecordGateDecision(route string, outcome string) {
	m.decisions = append(m.decisions, route+":"+outcome)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
