package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/subportal/internal/middleware"
	"github.com/hitoshi/subportal/internal/model"
	"github.com/hitoshi/subportal/internal/portal"
)

// --- モック定義 ---

type mockPortalService struct {
	listFn      func(ctx context.Context, session *model.Session) ([]model.Subscription, error)
	detailFn    func(ctx context.Context, session *model.Session, id string) (*model.Subscription, error)
	homeFn      func(ctx context.Context, session *model.Session) (json.RawMessage, error)
	dispatchFn  func(ctx context.Context, session *model.Session, action portal.ActionName, req *portal.ActionRequest) *portal.Result
	busyStateFn func() (bool, string)
}

func (m *mockPortalService) List(ctx context.Context, session *model.Session) ([]model.Subscription, error) {
	if m.listFn != nil {
		return m.listFn(ctx, session)
	}
	return nil, nil
}

func (m *mockPortalService) Detail(ctx context.Context, session *model.Session, id string) (*model.Subscription, error) {
	if m.detailFn != nil {
		return m.detailFn(ctx, session, id)
	}
	return nil, nil
}

func (m *mockPortalService) Home(ctx context.Context, session *model.Session) (json.RawMessage, error) {
	if m.homeFn != nil {
		return m.homeFn(ctx, session)
	}
	return json.RawMessage(`{}`), nil
}

func (m *mockPortalService) Dispatch(ctx context.Context, session *model.Session, action portal.ActionName, req *portal.ActionRequest) *portal.Result {
	if m.dispatchFn != nil {
		return m.dispatchFn(ctx, session, action, req)
	}
	return &portal.Result{OK: true}
}

func (m *mockPortalService) BusyState() (bool, string) {
	if m.busyStateFn != nil {
		return m.busyStateFn()
	}
	return false, ""
}

// --- ヘルパー ---

func authedRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	session := &model.Session{Token: "tok", CustomerID: "cust-1"}
	return req.WithContext(middleware.ContextWithSession(req.Context(), session))
}

// urlParamRequest はchiのURLパラメータをリクエストコンテキストに注入する。
func urlParamRequest(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// --- テスト ---

func TestPortalHandler_ListSubscriptions_ReturnsList(t *testing.T) {
	service := &mockPortalService{
		listFn: func(ctx context.Context, session *model.Session) ([]model.Subscription, error) {
			if session.CustomerID != "cust-1" {
				t.Errorf("customerID = %q, want cust-1", session.CustomerID)
			}
			return []model.Subscription{{ID: "sub-1"}, {ID: "sub-2"}}, nil
		},
	}
	h := NewPortalHandler(service)

	w := httptest.NewRecorder()
	h.ListSubscriptions(w, authedRequest(http.MethodGet, "/api/portal/subscriptions", ""))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body subscriptionListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body.Subscriptions) != 2 {
		t.Errorf("subscriptions = %d, want 2", len(body.Subscriptions))
	}
}

func TestPortalHandler_ListSubscriptions_NoSession_Returns401(t *testing.T) {
	h := NewPortalHandler(&mockPortalService{})

	req := httptest.NewRequest(http.MethodGet, "/api/portal/subscriptions", nil)
	w := httptest.NewRecorder()
	h.ListSubscriptions(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestPortalHandler_GetSubscription_PassesID(t *testing.T) {
	service := &mockPortalService{
		detailFn: func(ctx context.Context, session *model.Session, id string) (*model.Subscription, error) {
			if id != "sub-42" {
				t.Errorf("id = %q, want sub-42", id)
			}
			return &model.Subscription{ID: "sub-42"}, nil
		},
	}
	h := NewPortalHandler(service)

	req := urlParamRequest(
		authedRequest(http.MethodGet, "/api/portal/subscriptions/sub-42", ""),
		map[string]string{"id": "sub-42"},
	)
	w := httptest.NewRecorder()
	h.GetSubscription(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var sub model.Subscription
	if err := json.NewDecoder(w.Result().Body).Decode(&sub); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if sub.ID != "sub-42" {
		t.Errorf("ID = %q, want sub-42", sub.ID)
	}
}

func TestPortalHandler_GetSubscription_NotInCache_Returns404(t *testing.T) {
	service := &mockPortalService{
		detailFn: func(ctx context.Context, session *model.Session, id string) (*model.Subscription, error) {
			return nil, model.NewNotInCacheError(id)
		},
	}
	h := NewPortalHandler(service)

	req := urlParamRequest(
		authedRequest(http.MethodGet, "/api/portal/subscriptions/missing", ""),
		map[string]string{"id": "missing"},
	)
	w := httptest.NewRecorder()
	h.GetSubscription(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

func TestPortalHandler_Home_ReturnsRawPayload(t *testing.T) {
	service := &mockPortalService{
		homeFn: func(ctx context.Context, session *model.Session) (json.RawMessage, error) {
			return json.RawMessage(`{"banner":"hello"}`), nil
		},
	}
	h := NewPortalHandler(service)

	w := httptest.NewRecorder()
	h.Home(w, authedRequest(http.MethodGet, "/api/portal/home", ""))

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if got := w.Body.String(); got != `{"banner":"hello"}` {
		t.Errorf("body = %q, want raw payload", got)
	}
}

func TestPortalHandler_Action_DispatchesWithPathParams(t *testing.T) {
	var gotAction portal.ActionName
	var gotReq *portal.ActionRequest
	service := &mockPortalService{
		dispatchFn: func(ctx context.Context, session *model.Session, action portal.ActionName, req *portal.ActionRequest) *portal.Result {
			gotAction = action
			gotReq = req
			return &portal.Result{OK: true, Toast: "完了しました。", Record: &model.Subscription{ID: req.SubscriptionID}}
		},
	}
	h := NewPortalHandler(service)

	req := urlParamRequest(
		authedRequest(http.MethodPost, "/api/portal/subscriptions/sub-1/actions/pause", `{"days":30}`),
		map[string]string{"id": "sub-1", "action": "pause"},
	)
	w := httptest.NewRecorder()
	h.Action(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if gotAction != portal.ActionName("pause") {
		t.Errorf("action = %q, want pause", gotAction)
	}
	if gotReq.SubscriptionID != "sub-1" {
		t.Errorf("subscriptionID = %q, want sub-1", gotReq.SubscriptionID)
	}
	if gotReq.Days != 30 {
		t.Errorf("days = %d, want 30", gotReq.Days)
	}

	var body actionResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !body.OK {
		t.Error("ok should be true")
	}
	if body.Toast != "完了しました。" {
		t.Errorf("toast = %q", body.Toast)
	}
	if body.Subscription == nil || body.Subscription.ID != "sub-1" {
		t.Errorf("subscription = %+v", body.Subscription)
	}
}

func TestPortalHandler_Action_EmptyBody_Allowed(t *testing.T) {
	service := &mockPortalService{
		dispatchFn: func(ctx context.Context, session *model.Session, action portal.ActionName, req *portal.ActionRequest) *portal.Result {
			return &portal.Result{OK: true}
		},
	}
	h := NewPortalHandler(service)

	req := urlParamRequest(
		authedRequest(http.MethodPost, "/api/portal/subscriptions/sub-1/actions/resume", ""),
		map[string]string{"id": "sub-1", "action": "resume"},
	)
	w := httptest.NewRecorder()
	h.Action(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestPortalHandler_Action_InvalidJSON_Returns400(t *testing.T) {
	h := NewPortalHandler(&mockPortalService{
		dispatchFn: func(ctx context.Context, session *model.Session, action portal.ActionName, req *portal.ActionRequest) *portal.Result {
			t.Fatal("dispatch should not be called")
			return nil
		},
	})

	req := urlParamRequest(
		authedRequest(http.MethodPost, "/api/portal/subscriptions/sub-1/actions/pause", `{invalid`),
		map[string]string{"id": "sub-1", "action": "pause"},
	)
	w := httptest.NewRecorder()
	h.Action(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestPortalHandler_Action_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        *model.APIError
		wantStatus int
	}{
		{"ロック競合", model.NewBusyError(), http.StatusConflict},
		{"必須フィールド欠落", model.NewMissingFieldError("days"), http.StatusBadRequest},
		{"キャッシュ未登録", model.NewNotInCacheError("sub-1"), http.StatusNotFound},
		{"最終商品の削除", model.NewCannotRemoveLastItemError(), http.StatusUnprocessableEntity},
		{"クーポン再試行の抑止", model.NewCouponRecentlyFailedError("SAVE10"), http.StatusUnprocessableEntity},
		{"ネットワーク障害", model.NewNetworkError(), http.StatusBadGateway},
		{"不明なアクション", model.NewUnknownActionError("explode"), http.StatusBadRequest},
		{"不明なエラー", model.NewUnknownError(), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPortalHandler(&mockPortalService{
				dispatchFn: func(ctx context.Context, session *model.Session, action portal.ActionName, req *portal.ActionRequest) *portal.Result {
					return &portal.Result{Err: tt.err}
				},
			})

			req := urlParamRequest(
				authedRequest(http.MethodPost, "/api/portal/subscriptions/sub-1/actions/pause", `{}`),
				map[string]string{"id": "sub-1", "action": "pause"},
			)
			w := httptest.NewRecorder()
			h.Action(w, req)

			if w.Result().StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.wantStatus)
			}

			var body map[string]string
			if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body["code"] != tt.err.Code {
				t.Errorf("code = %q, want %q", body["code"], tt.err.Code)
			}
		})
	}
}

func TestPortalHandler_Status_ReportsBusyState(t *testing.T) {
	h := NewPortalHandler(&mockPortalService{
		busyStateFn: func() (bool, string) {
			return true, "お届けを一時停止しています…"
		},
	})

	w := httptest.NewRecorder()
	h.Status(w, authedRequest(http.MethodGet, "/api/portal/status", ""))

	var body statusResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !body.Busy {
		t.Error("busy should be true")
	}
	if body.Message == "" {
		t.Error("message should not be empty")
	}
}
