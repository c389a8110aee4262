package handler

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/subportal/internal/middleware"
	"github.com/hitoshi/subportal/internal/model"
	"github.com/hitoshi/subportal/internal/notify"
)

func newTestBridge() *notify.Bridge {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return notify.NewBridge(logger, nil)
}

func TestEventsHandler_StreamsMatchingEvents(t *testing.T) {
	bridge := newTestBridge()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := NewEventsHandler(bridge, logger)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := &model.Session{Token: "tok", CustomerID: middleware.DeriveCustomerID("tok")}
		h.Stream(w, r.WithContext(middleware.ContextWithSession(r.Context(), session)))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/portal/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// 購読者の登録を待ってからイベントを送出する
	deadline := time.Now().Add(2 * time.Second)
	for bridge.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	customerID := middleware.DeriveCustomerID("tok")
	bridge.Notify(context.Background(), notify.Event{
		CustomerID: customerID,
		RecordID:   "sub-1",
		Action:     "pause",
	})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
	}

	if len(lines) != 2 {
		t.Fatalf("lines = %v, want event + data", lines)
	}
	if lines[0] != "event: mutation" {
		t.Errorf("event line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "data: ") {
		t.Errorf("data line = %q", lines[1])
	}
	if !strings.Contains(lines[1], `"recordId":"sub-1"`) {
		t.Errorf("data should contain recordId: %q", lines[1])
	}
}

func TestEventsHandler_FiltersOtherCustomers(t *testing.T) {
	bridge := newTestBridge()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := NewEventsHandler(bridge, logger)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := &model.Session{Token: "tok", CustomerID: "cust-mine"}
		h.Stream(w, r.WithContext(middleware.ContextWithSession(r.Context(), session)))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bridge.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// 他カスタマーのイベントは転送されない
	bridge.Notify(context.Background(), notify.Event{CustomerID: "cust-other", RecordID: "x", Action: "pause"})
	// 自分のイベントは転送される
	bridge.Notify(context.Background(), notify.Event{CustomerID: "cust-mine", RecordID: "sub-9", Action: "cancel"})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}
	data, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}

	if !strings.HasPrefix(line, "event: mutation") {
		t.Errorf("event line = %q", line)
	}
	if strings.Contains(data, "cust-other") {
		t.Errorf("event for other customer should be filtered: %q", data)
	}
	if !strings.Contains(data, `"recordId":"sub-9"`) {
		t.Errorf("own event should be delivered: %q", data)
	}
}

func TestEventsHandler_NoSession_Returns401(t *testing.T) {
	bridge := newTestBridge()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := NewEventsHandler(bridge, logger)

	req := httptest.NewRequest(http.MethodGet, "/api/portal/events", nil)
	w := httptest.NewRecorder()
	h.Stream(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestEventsHandler_ClientDisconnect_Unsubscribes(t *testing.T) {
	bridge := newTestBridge()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := NewEventsHandler(bridge, logger)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := &model.Session{Token: "tok", CustomerID: "cust-1"}
		h.Stream(w, r.WithContext(middleware.ContextWithSession(r.Context(), session)))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bridge.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()

	deadline = time.Now().Add(2 * time.Second)
	for bridge.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
