package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/subportal/internal/middleware"
	"github.com/hitoshi/subportal/internal/notify"
)

// EventSource はイベントハンドラーが必要とする購読インターフェース。
// notify.Bridgeの部分集合として定義する。
type EventSource interface {
	Subscribe() (string, <-chan notify.Event)
	Unsubscribe(id string)
}

// EventsHandler は変更完了イベントをServer-Sent Eventsで配信するハンドラー。
type EventsHandler struct {
	source EventSource
	logger *slog.Logger
}

// NewEventsHandler はEventsHandlerを生成する。
func NewEventsHandler(source EventSource, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{source: source, logger: logger}
}

// Stream は変更完了イベントをSSEとして配信する。
// GET /api/portal/events
//
// イベントはブリッジ全体にブロードキャストされるため、
// 接続中のカスタマーに属するイベントだけを転送する。
// クライアント切断（コンテキストキャンセル）で購読を解除する。
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id, events := h.source.Subscribe()
	defer h.source.Unsubscribe(id)

	h.logger.Debug("event stream opened",
		slog.String("customer_id", session.CustomerID),
		slog.String("subscriber_id", id),
	)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.CustomerID != session.CustomerID {
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", slog.String("error", err.Error()))
				continue
			}

			fmt.Fprintf(w, "event: mutation\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
