package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/hitoshi/subportal/internal/cache"
	"github.com/hitoshi/subportal/internal/model"
)

// List はサブスクリプション一覧を返す。
// 鮮度ウィンドウ内のキャッシュがあればそれを返し、なければゲートウェイ経由で
// フェッチする（成功すればゲートウェイがライトスルーする）。
func (s *Service) List(ctx context.Context, session *model.Session) ([]model.Subscription, error) {
	key := cache.ListKey(session.CustomerID)

	entry := s.store.Read(ctx, key)
	if cache.IsFresh(entry, s.opts.ListTTL, s.now()) {
		return entry.Payload.Subscriptions, nil
	}

	if _, err := s.gw.Get(ctx, session, model.RouteSubscriptions, nil); err != nil {
		// 古いスナップショットでも失敗応答よりは価値があるため、最後の手段として返す
		if entry != nil && entry.Payload.OK {
			return entry.Payload.Subscriptions, nil
		}
		return nil, fmt.Errorf("サブスクリプション一覧の取得に失敗しました: %w", err)
	}

	entry = s.store.Read(ctx, key)
	if entry == nil || !entry.Payload.OK {
		return nil, fmt.Errorf("サブスクリプション一覧の応答を解釈できませんでした")
	}
	return entry.Payload.Subscriptions, nil
}

// Detail は単一レコードを返す。
// キャッシュ済み一覧にあればそれを返し、なければ単一レコードの直接フェッチを
// 行って一覧へアップサートする（レコード全体が置き換わる唯一の経路）。
// いずれの場合も「現在表示中レコード」参照を更新する。
func (s *Service) Detail(ctx context.Context, session *model.Session, id string) (*model.Subscription, error) {
	key := cache.ListKey(session.CustomerID)

	entry := s.store.Read(ctx, key)
	if entry != nil && entry.Payload.OK {
		for i := range entry.Payload.Subscriptions {
			if entry.Payload.Subscriptions[i].ID == id || entry.Payload.Subscriptions[i].ShortID() == id {
				record := entry.Payload.Subscriptions[i]
				s.setCurrent(session.CustomerID, &record)
				return &record, nil
			}
		}
	}

	params := url.Values{}
	params.Set("id", id)
	body, err := s.gw.Get(ctx, session, model.RouteSubscriptionDetail, params)
	if err != nil {
		return nil, fmt.Errorf("サブスクリプション詳細の取得に失敗しました: %w", err)
	}

	record, err := parseDetail(body)
	if err != nil {
		return nil, fmt.Errorf("サブスクリプション詳細の応答を解釈できませんでした: %w", err)
	}
	s.sanitizeRecord(record)

	// 取得したレコードを一覧キャッシュへアップサートする
	var list []model.Subscription
	if entry != nil && entry.Payload.OK {
		list = entry.Payload.Subscriptions
	}
	list = upsertRecord(list, record)
	s.writeList(ctx, session, list)

	s.setCurrent(session.CustomerID, record)
	return record, nil
}

// Home は軽量なホーム/死活ペイロードを返す。
func (s *Service) Home(ctx context.Context, session *model.Session) (json.RawMessage, error) {
	key := cache.HomeKey(session.CustomerID)

	entry := s.store.Read(ctx, key)
	if cache.IsFresh(entry, s.opts.HomeTTL, s.now()) {
		return entry.Payload.Home, nil
	}

	body, err := s.gw.Get(ctx, session, model.RouteHome, nil)
	if err != nil {
		return nil, fmt.Errorf("ホームの取得に失敗しました: %w", err)
	}
	return json.RawMessage(body), nil
}

// parseDetail は単一レコード応答をパースする。
// 上流は {subscription:{...}} 形式とベタオブジェクト形式の両方を返しうる。
func parseDetail(body []byte) (*model.Subscription, error) {
	trimmed := bytes.TrimSpace(body)

	var wrapped struct {
		Subscription *model.Subscription `json:"subscription"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err == nil && wrapped.Subscription != nil {
		return wrapped.Subscription, nil
	}

	var record model.Subscription
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, err
	}
	if record.ID == "" {
		return nil, fmt.Errorf("レコードIDが空です")
	}
	return &record, nil
}

// upsertRecord は一覧内のIDが一致するレコードを置換し、なければ末尾に追加する。
func upsertRecord(list []model.Subscription, record *model.Subscription) []model.Subscription {
	for i := range list {
		if list[i].ID == record.ID {
			out := make([]model.Subscription, len(list))
			copy(out, list)
			out[i] = *record
			return out
		}
	}
	out := make([]model.Subscription, len(list), len(list)+1)
	copy(out, list)
	return append(out, *record)
}

// sanitizeRecord は上流由来の表示文字列をサニタイズする。
func (s *Service) sanitizeRecord(record *model.Subscription) {
	if s.sanitizer == nil || record.Lines == nil {
		return
	}
	for i := range record.Lines.Nodes {
		record.Lines.Nodes[i].Title = s.sanitizer.Sanitize(record.Lines.Nodes[i].Title)
		record.Lines.Nodes[i].VariantTitle = s.sanitizer.Sanitize(record.Lines.Nodes[i].VariantTitle)
	}
}
