package portal

import (
	"context"
	"log/slog"

	"github.com/hitoshi/subportal/internal/metrics"
	"github.com/hitoshi/subportal/internal/model"
)

// ActionName はアクションレジストリのキー。完全一致で照合され、
// フォールバックは存在しない。
type ActionName string

const (
	ActionPause         ActionName = "pause"
	ActionResume        ActionName = "resume"
	ActionCancel        ActionName = "cancel"
	ActionAddress       ActionName = "address"
	ActionProtectionOn  ActionName = "protection_on"
	ActionProtectionOff ActionName = "protection_off"
	ActionItemAdd       ActionName = "item_add"
	ActionItemSwap      ActionName = "item_swap"
	ActionItemRemove    ActionName = "item_remove"
	ActionQuantity      ActionName = "quantity"
	ActionCouponApply   ActionName = "coupon_apply"
	ActionCouponRemove  ActionName = "coupon_remove"
	ActionFrequency     ActionName = "frequency"
)

// invalidatesHome はレコードの構造（ラインアイテム構成）が変わるアクション
// かどうかを返す。該当する場合はホームキャッシュも無効化される。
func (a ActionName) invalidatesHome() bool {
	switch a {
	case ActionProtectionOn, ActionProtectionOff, ActionItemAdd, ActionItemSwap, ActionItemRemove:
		return true
	}
	return false
}

// busyMessage はロック保持中にUIへ表示する進行中メッセージ。
func (a ActionName) busyMessage() string {
	switch a {
	case ActionPause:
		return "一時停止を処理しています…"
	case ActionResume:
		return "再開を処理しています…"
	case ActionCancel:
		return "解約を処理しています…"
	case ActionAddress:
		return "お届け先を変更しています…"
	case ActionProtectionOn, ActionProtectionOff:
		return "配送保険の設定を変更しています…"
	case ActionItemAdd, ActionItemSwap, ActionItemRemove, ActionQuantity:
		return "商品内容を変更しています…"
	case ActionCouponApply, ActionCouponRemove:
		return "クーポンを処理しています…"
	case ActionFrequency:
		return "お届け頻度を変更しています…"
	default:
		return "処理しています…"
	}
}

// ActionRequest はアクション実行の入力。アクションごとに使うフィールドが異なる。
type ActionRequest struct {
	SubscriptionID string         `json:"subscriptionId"`
	Days           int            `json:"days,omitempty"`          // pause
	Address        *model.Address `json:"address,omitempty"`       // address
	LineID         string         `json:"lineId,omitempty"`        // item_swap, item_remove, quantity
	VariantID      string         `json:"variantId,omitempty"`     // item_add, item_swap
	Quantity       int            `json:"quantity,omitempty"`      // item_add, quantity
	CouponCode     string         `json:"couponCode,omitempty"`    // coupon_apply
	Interval       string         `json:"interval,omitempty"`      // frequency
	IntervalCount  int            `json:"intervalCount,omitempty"` // frequency
}

// ActionHandler は1つのアクションパイプライン本体。
// ロック取得後に呼び出され、ガードレール評価から上流呼び出し、
// コミットまでを実行する。
type ActionHandler func(s *Service, ctx context.Context, session *model.Session, req *ActionRequest) *Result

// actionRegistry はアクション名からハンドラへの明示的な対応表。
var actionRegistry = map[ActionName]ActionHandler{
	ActionPause:         (*Service).pause,
	ActionResume:        (*Service).resume,
	ActionCancel:        (*Service).cancel,
	ActionAddress:       (*Service).changeAddress,
	ActionProtectionOn:  (*Service).protectionOn,
	ActionProtectionOff: (*Service).protectionOff,
	ActionItemAdd:       (*Service).addItem,
	ActionItemSwap:      (*Service).swapItem,
	ActionItemRemove:    (*Service).removeItem,
	ActionQuantity:      (*Service).changeQuantity,
	ActionCouponApply:   (*Service).applyCoupon,
	ActionCouponRemove:  (*Service).removeCoupon,
	ActionFrequency:     (*Service).changeFrequency,
}

// Dispatch はアクションを名前で解決して実行する。
// 実行順序: アクション種別ごとの二重送信ガード → 共有ミューテーションロック →
// ハンドラ本体。結果は常にResultとして返り、エラーが伝播することはない。
func (s *Service) Dispatch(ctx context.Context, session *model.Session, action ActionName, req *ActionRequest) *Result {
	handler, ok := actionRegistry[action]
	if !ok {
		return failure(model.NewUnknownActionError(string(action)))
	}

	// UI連打に対する第二の防壁。共有ロックより先に評価する。
	guardKey := session.CustomerID + ":" + string(action)
	if !s.markInFlight(guardKey) {
		s.metrics.RecordMutation(string(action), metrics.OutcomeRejected)
		return failure(model.NewBusyError())
	}
	defer s.clearInFlight(guardKey)

	token, acquired := s.gate.TryAcquire(action.busyMessage())
	if !acquired {
		s.metrics.RecordLockBusyRejection()
		s.metrics.RecordMutation(string(action), metrics.OutcomeRejected)
		return failure(model.NewBusyError())
	}
	defer s.gate.Release(token)

	start := s.now()
	result := handler(s, ctx, session, req)
	s.metrics.RecordMutationLatency(string(action), s.now().Sub(start))

	switch {
	case result.OK && result.Noop:
		s.metrics.RecordMutation(string(action), metrics.OutcomeNoop)
	case result.OK:
		s.metrics.RecordMutation(string(action), metrics.OutcomeSuccess)
	case result.Err != nil && result.Err.Category == "validation":
		s.metrics.RecordMutation(string(action), metrics.OutcomeRejected)
	default:
		s.metrics.RecordMutation(string(action), metrics.OutcomeFailure)
	}

	if result.Err != nil {
		s.logger.Info("アクションが失敗しました",
			slog.String("action", string(action)),
			slog.String("subscription_id", req.SubscriptionID),
			slog.String("error_code", result.Err.Code),
		)
	}

	return result
}

func (s *Service) markInFlight(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[key] {
		return false
	}
	s.inFlight[key] = true
	return true
}

func (s *Service) clearInFlight(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}
