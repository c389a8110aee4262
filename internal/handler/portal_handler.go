// Package handler はポータルAPIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/subportal/internal/middleware"
	"github.com/hitoshi/subportal/internal/model"
	"github.com/hitoshi/subportal/internal/portal"
)

// PortalServiceInterface はポータルハンドラーが必要とするサービスインターフェース。
type PortalServiceInterface interface {
	// List は契約一覧を返す。キャッシュが新鮮ならネットワークを介さない。
	List(ctx context.Context, session *model.Session) ([]model.Subscription, error)
	// Detail は契約詳細を返す。短縮IDでも検索できる。
	Detail(ctx context.Context, session *model.Session, id string) (*model.Subscription, error)
	// Home はホーム画面ペイロードを返す。
	Home(ctx context.Context, session *model.Session) (json.RawMessage, error)
	// Dispatch はアクションを実行する。
	Dispatch(ctx context.Context, session *model.Session, action portal.ActionName, req *portal.ActionRequest) *portal.Result
	// BusyState は実行中アクションの有無と進行メッセージを返す。
	BusyState() (bool, string)
}

// PortalHandler は契約ポータルのHTTPハンドラー。
type PortalHandler struct {
	service PortalServiceInterface
}

// NewPortalHandler はPortalHandlerを生成する。
func NewPortalHandler(service PortalServiceInterface) *PortalHandler {
	return &PortalHandler{service: service}
}

// subscriptionListResponse は契約一覧のAPIレスポンス。
type subscriptionListResponse struct {
	Subscriptions []model.Subscription `json:"subscriptions"`
}

// actionResponse はアクション実行結果のAPIレスポンス。
type actionResponse struct {
	OK           bool                `json:"ok"`
	Noop         bool                `json:"noop,omitempty"`
	Toast        string              `json:"toast,omitempty"`
	Subscription *model.Subscription `json:"subscription,omitempty"`
}

// statusResponse は実行中アクションの状態レスポンス。
type statusResponse struct {
	Busy    bool   `json:"busy"`
	Message string `json:"message,omitempty"`
}

// Home はホーム画面ペイロードを返す。
// GET /api/portal/home
func (h *PortalHandler) Home(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	payload, err := h.service.Home(r.Context(), session)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

// ListSubscriptions は契約一覧を返す。
// GET /api/portal/subscriptions
func (h *PortalHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	subs, err := h.service.List(r.Context(), session)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(subscriptionListResponse{Subscriptions: subs})
}

// GetSubscription は契約詳細を返す。
// GET /api/portal/subscriptions/{id}
func (h *PortalHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	id := chi.URLParam(r, "id")
	sub, err := h.service.Detail(r.Context(), session, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sub)
}

// Action はアクションを実行する。
// POST /api/portal/subscriptions/{id}/actions/{action}
func (h *PortalHandler) Action(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req portal.ActionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "リクエストボディの解析に失敗しました。",
				Category: "validation",
				Action:   "正しいJSON形式でリクエストしてください。",
			})
			return
		}
	}
	req.SubscriptionID = chi.URLParam(r, "id")

	action := portal.ActionName(chi.URLParam(r, "action"))
	result := h.service.Dispatch(r.Context(), session, action, &req)

	if result.Err != nil {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(result.Err), result.Err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(actionResponse{
		OK:           result.OK,
		Noop:         result.Noop,
		Toast:        result.Toast,
		Subscription: result.Record,
	})
}

// Status は実行中アクションの状態を返す。
// GET /api/portal/status
func (h *PortalHandler) Status(w http.ResponseWriter, r *http.Request) {
	busy, message := h.service.BusyState()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{Busy: busy, Message: message})
}

// --- ヘルパー関数 ---

// writeUnauthorized は401レスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "カスタマートークンを添えて再度お試しください。",
	})
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"code":     apiErr.Code,
		"message":  apiErr.Message,
		"category": apiErr.Category,
		"action":   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	writeAPIErrorResponse(w, http.StatusBadGateway, &model.APIError{
		Code:     model.ErrCodeNetwork,
		Message:  "上流サービスとの通信に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeBusy:
		return http.StatusConflict
	case model.ErrCodeMissingField, model.ErrCodeUnknownAction:
		return http.StatusBadRequest
	case model.ErrCodeNotInCache, model.ErrCodeLineNotFound, model.ErrCodeSubscriptionUnknown:
		return http.StatusNotFound
	case model.ErrCodeCannotRemoveLastItem,
		model.ErrCodeProtectionNeedsItems,
		model.ErrCodeProtectionUnresolved,
		model.ErrCodeCouponRecentlyFailed,
		model.ErrCodeCouponInvalid,
		model.ErrCodeDiscountNotRemovable,
		model.ErrCodeVariantUnavailable:
		return http.StatusUnprocessableEntity
	case model.ErrCodeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
