// Package portal はセルフサービスポータルのアクションパイプラインと
// 読み取りパスを提供する。すべてのミューテーションは共有のミューテーション
// ロックで直列化され、キャッシュ済みレコードへのパッチ適用で完結する。
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/hitoshi/subportal/internal/cache"
	"github.com/hitoshi/subportal/internal/gateway"
	"github.com/hitoshi/subportal/internal/lock"
	"github.com/hitoshi/subportal/internal/merge"
	"github.com/hitoshi/subportal/internal/model"
	"github.com/hitoshi/subportal/internal/notify"
)

// DefaultCouponRetryTTL は失敗したクーポンコードの再投入を抑止する期間。
const DefaultCouponRetryTTL = 2 * time.Minute

// Gateway はアクションパイプラインが利用する上流ゲートウェイのインターフェース。
type Gateway interface {
	Get(ctx context.Context, session *model.Session, route string, params url.Values) ([]byte, error)
	Post(ctx context.Context, session *model.Session, route string, params url.Values, payload any) (*gateway.MutationResponse, error)
}

// Recorder はミューテーションのメトリクス記録インターフェース。
type Recorder interface {
	RecordMutation(action string, outcome string)
	RecordMutationLatency(action string, duration time.Duration)
	RecordLockBusyRejection()
}

// NopRecorder は何も記録しないRecorder。テストおよびメトリクス無効時用。
type NopRecorder struct{}

func (NopRecorder) RecordMutation(action string, outcome string) {}

func (NopRecorder) RecordMutationLatency(action string, duration time.Duration) {}

func (NopRecorder) RecordLockBusyRejection() {}

// Options はServiceの動作設定。
type Options struct {
	ListTTL             time.Duration
	HomeTTL             time.Duration
	CouponRetryTTL      time.Duration
	ProtectionVariantID string
}

// withDefaults はゼロ値の項目にデフォルトを補う。
func (o Options) withDefaults() Options {
	if o.ListTTL <= 0 {
		o.ListTTL = cache.DefaultListTTL
	}
	if o.HomeTTL <= 0 {
		o.HomeTTL = cache.DefaultHomeTTL
	}
	if o.CouponRetryTTL <= 0 {
		o.CouponRetryTTL = DefaultCouponRetryTTL
	}
	return o
}

// Result はアクション実行の結果。失敗もここに畳み込まれ、
// 呼び出し側へエラーとして伝播することはない。
type Result struct {
	OK     bool
	Noop   bool // ネットワーク呼び出しなしで成功扱いになった場合
	Record *model.Subscription
	Toast  string
	Err    *model.APIError
}

func failure(err *model.APIError) *Result {
	return &Result{OK: false, Err: err}
}

// Service はポータルのドメインサービス。
// キャッシュストアを作業セットとして、アクションごとのガードレール評価、
// 上流呼び出し、パッチマージ、書き戻し、通知までを担う。
type Service struct {
	store     *cache.Store
	gw        Gateway
	gate      *lock.Gate
	bridge    *notify.Bridge
	sanitizer gateway.Sanitizer
	metrics   Recorder
	logger    *slog.Logger
	opts      Options
	now       func() time.Time

	mu sync.Mutex
	// current は顧客ごとの「現在表示中レコード」参照。
	// マージ後にIDが一致すればここも同期される。
	current map[string]*model.Subscription
	// inFlight はアクション種別ごとの二重送信ガード。
	// 共有ロック取得前のUI連打に対する冗長な第二の防壁。
	inFlight map[string]bool
	// failedCoupons は直近に失敗したクーポンコードの記録。
	// キーは顧客ID+コード、アクセス時にTTL超過分を掃除する。
	failedCoupons map[string]time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store *cache.Store, gw Gateway, gate *lock.Gate, bridge *notify.Bridge, sanitizer gateway.Sanitizer, metrics Recorder, logger *slog.Logger, opts Options) *Service {
	return &Service{
		store:         store,
		gw:            gw,
		gate:          gate,
		bridge:        bridge,
		sanitizer:     sanitizer,
		metrics:       metrics,
		logger:        logger,
		opts:          opts.withDefaults(),
		now:           time.Now,
		current:       make(map[string]*model.Subscription),
		inFlight:      make(map[string]bool),
		failedCoupons: make(map[string]time.Time),
	}
}

// SetClock はテスト用に時刻取得関数を差し替える。
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// BusyState はミューテーション進行中インジケーターの状態を返す。
func (s *Service) BusyState() (bool, string) {
	return s.gate.Busy()
}

// CurrentRecord は顧客の「現在表示中レコード」参照を返す。未設定ならnil。
func (s *Service) CurrentRecord(customerID string) *model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current[customerID]
}

func (s *Service) setCurrent(customerID string, record *model.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[customerID] = record
}

// resyncCurrent はマージ後レコードとIDが一致する場合のみ現在参照を上書きする。
func (s *Service) resyncCurrent(customerID string, merged *model.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.current[customerID]; ok && cur != nil && cur.ID == merged.ID {
		s.current[customerID] = merged
	}
}

// loadRecord はキャッシュ済み一覧から対象レコードを取り出す。
// キャッシュミスは論理エラー（一覧取得前にアクションが実行された）を示すため、
// 暗黙の再フェッチは行わずキャッシュ不整合エラーを返す。
func (s *Service) loadRecord(ctx context.Context, session *model.Session, id string) (*model.Subscription, []model.Subscription, *model.APIError) {
	entry := s.store.Read(ctx, cache.ListKey(session.CustomerID))
	if entry == nil || !entry.Payload.OK {
		return nil, nil, model.NewNotInCacheError(id)
	}

	for i := range entry.Payload.Subscriptions {
		if entry.Payload.Subscriptions[i].ID == id {
			return &entry.Payload.Subscriptions[i], entry.Payload.Subscriptions, nil
		}
	}
	return nil, nil, model.NewNotInCacheError(id)
}

// parsePatch は応答のパッチオブジェクトをパースする。
// 欠損・パース不能なパッチは空パッチにフォールバックする
// （「削除対象なしの削除」など、空パッチが正当なケースがあるため）。
func (s *Service) parsePatch(raw json.RawMessage, subscriptionID string) *model.Patch {
	patch := &model.Patch{}
	if len(raw) == 0 {
		return patch
	}
	if err := json.Unmarshal(raw, patch); err != nil {
		s.logger.Warn("パッチのパースに失敗したため空パッチとして扱います",
			slog.String("subscription_id", subscriptionID),
			slog.String("error", err.Error()),
		)
		return &model.Patch{}
	}
	return patch
}

// replaceInList は一覧のコピーを作り、IDが一致するレコードを差し替える。
func replaceInList(list []model.Subscription, record *model.Subscription) []model.Subscription {
	newList := make([]model.Subscription, len(list))
	copy(newList, list)
	for i := range newList {
		if newList[i].ID == record.ID {
			newList[i] = *record
			break
		}
	}
	return newList
}

// writeList は一覧キャッシュを書き戻す。失敗は致命的ではない
// （真実の源はリモートサービス側）ため、ログに残すだけにする。
func (s *Service) writeList(ctx context.Context, session *model.Session, list []model.Subscription) {
	if ok := s.store.Write(ctx, cache.ListKey(session.CustomerID), cache.Payload{
		OK:            true,
		Subscriptions: list,
	}); !ok {
		s.logger.Warn("一覧キャッシュの書き戻しに失敗しました",
			slog.String("customer_id", session.CustomerID),
		)
	}
}

// commit はミューテーション成功後の後半パイプラインを実行する。
// 表示文字列サニタイズ → パッチ適用 → 一覧キャッシュ書き戻し（TTL再装填）→
// 現在参照の同期 → 通知。キャッシュ書き込み失敗があっても成功を返す
// （次回描画が再フェッチになるだけで、ミューテーション自体は完了している）。
func (s *Service) commit(ctx context.Context, session *model.Session, existing *model.Subscription, list []model.Subscription, patch *model.Patch, action ActionName, toast string) *Result {
	s.sanitizePatch(patch)
	merged := merge.Apply(existing, patch, s.now())

	s.writeList(ctx, session, replaceInList(list, merged))

	// 構造が変わるアイテム系ミューテーションはホームキャッシュも無効化する
	if action.invalidatesHome() {
		s.store.Invalidate(ctx, cache.HomeKey(session.CustomerID))
	}

	s.resyncCurrent(session.CustomerID, merged)

	s.bridge.Notify(ctx, notify.Event{
		CustomerID: session.CustomerID,
		RecordID:   merged.ID,
		Action:     string(action),
	})

	return &Result{OK: true, Record: merged, Toast: toast}
}

// sanitizePatch は上流由来の表示文字列をマージ前にサニタイズする。
func (s *Service) sanitizePatch(patch *model.Patch) {
	if s.sanitizer == nil {
		return
	}
	for i := range patch.Lines {
		patch.Lines[i].Title = s.sanitizer.Sanitize(patch.Lines[i].Title)
		patch.Lines[i].VariantTitle = s.sanitizer.Sanitize(patch.Lines[i].VariantTitle)
	}
}

// classifyError は上流呼び出しの失敗をユーザー向けエラーに分類する。
func classifyError(err error) *model.APIError {
	var httpErr *gateway.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Code != "" {
			return model.NewUpstreamError(httpErr.Code)
		}
		return model.NewUnknownError()
	}
	return model.NewNetworkError()
}
