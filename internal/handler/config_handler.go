package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hitoshi/navgate/internal/middleware"
	"github.com/hitoshi/navgate/internal/model"
)

// maxConfigBodyBytes はリクエストボディの上限。
const maxConfigBodyBytes = 5 << 20

// ConfigHandler は設定ドキュメントAPIのHTTPハンドラー。
type ConfigHandler struct {
	service ConfigServiceInterface
}

// NewConfigHandler はConfigHandlerを生成する。
func NewConfigHandler(service ConfigServiceInterface) *ConfigHandler {
	return &ConfigHandler{service: service}
}

type configResponse struct {
	Content string `json:"content"`
}

type replaceConfigRequest struct {
	Content string `json:"content"`
}

type serviceMemoRequest struct {
	ServiceID string `json:"serviceId"`
	Memo      string `json:"memo"`
}

// globalMemoRequest はcontentの未指定と空文字列を区別するためポインタで受ける。
type globalMemoRequest struct {
	Content *string `json:"content"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type globalMemoResponse struct {
	Success   bool   `json:"success"`
	UpdatedAt string `json:"updatedAt"`
	UpdatedBy string `json:"updatedBy"`
}

// GetConfig は設定ドキュメントを返す。
// GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	content, err := h.service.Read(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, configResponse{Content: content})
}

// PutConfig は設定ドキュメント全体を置き換える。管理者のみ。
// PUT /api/config
func (h *ConfigHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthenticatedError("Not authenticated"))
		return
	}
	if !h.service.IsAdmin(identity) {
		middleware.WriteError(w, model.NewForbiddenError("Admin access required"))
		return
	}

	var req replaceConfigRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	if err := h.service.Replace(r.Context(), identity, req.Content); err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

// PatchServiceMemo はサービスのメモを更新する。認証済みユーザーであれば管理者でなくてもよい。
// PATCH /api/config/memo
func (h *ConfigHandler) PatchServiceMemo(w http.ResponseWriter, r *http.Request) {
	var req serviceMemoRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	if err := h.service.UpdateServiceMemo(r.Context(), req.ServiceID, req.Memo); err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

// PatchGlobalMemo は全体告知のメモを更新する。
// PATCH /api/config/global-memo
func (h *ConfigHandler) PatchGlobalMemo(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthenticatedError("Not authenticated"))
		return
	}

	var req globalMemoRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if req.Content == nil {
		middleware.WriteError(w, model.NewInputInvalidError("content is required"))
		return
	}

	memo, err := h.service.UpdateGlobalMemo(r.Context(), identity, *req.Content)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, globalMemoResponse{
		Success:   true,
		UpdatedAt: memo.UpdatedAtString(),
		UpdatedBy: memo.UpdatedBy,
	})
}

// decodeJSONBody はリクエストボディをJSONとして読み込む。
// 空のボディはフィールド未指定として扱う。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxConfigBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return model.NewInputInvalidError("Request body is too large")
	}
	return &model.AppError{Kind: model.KindInputInvalid, Message: "Invalid JSON body", Err: err}
}
