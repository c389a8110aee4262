// Package notify はミューテーション完了をUIへ伝える通知ブリッジを提供する。
// 特定の画面から切り離されたイベント発行であり、購読者（SSEハンドラなど）は
// 通知を受けて最新のキャッシュスナップショットを再描画する。
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Event は1件の再描画トリガー。どのレコードが更新されたかだけを運ぶ。
// ペイロード本体は運ばない（購読側がキャッシュストアから読み直す）。
type Event struct {
	CustomerID string `json:"customerId"`
	RecordID   string `json:"recordId"`
	Action     string `json:"action"`
}

// Bridge は購読者へのファンアウトを行う。
// 各購読者チャネルはサイズ1のバッファを持ち、送信時に滞留イベントを
// 破棄してから積む。ミューテーションロックが重複実行を防いでいるため、
// 複数のnotify間の順序保証は「最後の書き込みが勝つ」以上を要求しない。
type Bridge struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	logger      *slog.Logger
	webhook     *WebhookSender // nilなら無効
}

// NewBridge はBridgeの新しいインスタンスを生成する。
// webhookはnil可（Webhook通知無効）。
func NewBridge(logger *slog.Logger, webhook *WebhookSender) *Bridge {
	return &Bridge{
		subscribers: make(map[string]chan Event),
		logger:      logger,
		webhook:     webhook,
	}
}

// Subscribe は新しい購読者を登録し、購読者IDとイベントチャネルを返す。
// 購読者はUnsubscribeで必ず解除すること。
func (b *Bridge) Subscribe() (string, <-chan Event) {
	id := uuid.New().String()
	ch := make(chan Event, 1)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return id, ch
}

// Unsubscribe は購読者を解除しチャネルを閉じる。未知のIDは無視する。
func (b *Bridge) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// SubscriberCount は現在の購読者数を返す。
func (b *Bridge) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Notify はイベントを全購読者へ配送する。ブロックしない。
// 購読者のバッファに未消費のイベントが残っている場合は破棄してから
// 新しいイベントを積む（last write wins）。
// Webhookが設定されていれば非同期で送信する。
func (b *Bridge) Notify(ctx context.Context, event Event) {
	b.mu.RLock()
	for _, ch := range b.subscribers {
		// 滞留イベントを捨ててから積む
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}
	b.mu.RUnlock()

	if b.webhook != nil {
		// 呼び出し元リクエストの終了でWebhook送信が巻き添えにならないよう切り離す
		go b.webhook.Send(context.WithoutCancel(ctx), event)
	}

	b.logger.Debug("通知イベントを配送しました",
		slog.String("record_id", event.RecordID),
		slog.String("action", event.Action),
	)
}
