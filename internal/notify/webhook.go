package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// webhookTimeout はWebhook送信の上限時間。UI通知の付随機能であり、
// 遅いWebhook先がポータル本体を遅らせてはならない。
const webhookTimeout = 5 * time.Second

// WebhookSender は通知イベントを外部URLへPOSTする。
// HTTPクライアントはSSRF防止機能付きのものを渡すこと
// （security.WebhookGuardService.NewSafeClientで生成される）。
type WebhookSender struct {
	httpClient *http.Client
	logger     *slog.Logger
	url        string
}

// NewWebhookSender はWebhookSenderの新しいインスタンスを生成する。
func NewWebhookSender(httpClient *http.Client, logger *slog.Logger, url string) *WebhookSender {
	return &WebhookSender{
		httpClient: httpClient,
		logger:     logger,
		url:        url,
	}
}

// Send はイベントをJSONとしてWebhook URLへPOSTする。
// 失敗はログに記録するだけでリトライしない（通知は配送保証のない補助機能）。
func (w *WebhookSender) Send(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	if err := w.send(ctx, event); err != nil {
		w.logger.Warn("Webhook通知の送信に失敗しました",
			slog.String("record_id", event.RecordID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *WebhookSender) send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("Webhook先がステータス %d を返しました", resp.StatusCode)
	}
	return nil
}
