package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/selahapp/identity/internal/auth"
	"github.com/selahapp/identity/internal/middleware"
	"github.com/selahapp/identity/internal/model"
)

// defaultLockMinutes は期間指定なしの手動ロックに適用する分数（24時間）。
const defaultLockMinutes = 24 * 60

// AdminServiceInterface は管理者ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	LockUser(ctx context.Context, admin model.Identity, targetID int64, until time.Time, meta auth.RequestMeta) error
	UnlockUser(ctx context.Context, admin model.Identity, targetID int64, meta auth.RequestMeta) error
}

// AdminHandler はユーザーの手動ロック・解除を提供するHTTPハンドラー。
// RequireAdminミドルウェアの内側に配置すること。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// LockUser は指定ユーザーを一時的にロックする。
// POST /api/admin/users/{id}/lock
func (h *AdminHandler) LockUser(w http.ResponseWriter, r *http.Request) {
	targetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeServiceError(w, model.NewValidationError("ユーザーIDが正しくありません"))
		return
	}

	var req struct {
		Minutes int `json:"minutes"`
	}
	// ボディは省略可能
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Minutes <= 0 {
		req.Minutes = defaultLockMinutes
	}

	identity, _ := middleware.IdentityFromContext(r.Context())
	until := time.Now().Add(time.Duration(req.Minutes) * time.Minute)

	if err := h.service.LockUser(r.Context(), identity, targetID, until, requestMeta(r)); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"locked_until": until.Format(time.RFC3339),
	})
}

// UnlockUser は指定ユーザーのロックと失敗カウンタを解除する。
// POST /api/admin/users/{id}/unlock
func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	targetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeServiceError(w, model.NewValidationError("ユーザーIDが正しくありません"))
		return
	}

	identity, _ := middleware.IdentityFromContext(r.Context())

	if err := h.service.UnlockUser(r.Context(), identity, targetID, requestMeta(r)); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"unlocked": true,
	})
}
