package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: lock, validation, cache, network, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeBusy                 = "MUTATION_IN_FLIGHT"
	ErrCodeNotInCache           = "RECORD_NOT_IN_CACHE"
	ErrCodeCannotRemoveLastItem = "CANNOT_REMOVE_LAST_ITEM"
	ErrCodeLineNotFound         = "LINE_NOT_FOUND"
	ErrCodeMissingField         = "MISSING_REQUIRED_FIELD"
	ErrCodeProtectionNeedsItems = "PROTECTION_REQUIRES_ITEMS"
	ErrCodeProtectionUnresolved = "PROTECTION_VARIANT_UNRESOLVED"
	ErrCodeCouponRecentlyFailed = "COUPON_RECENTLY_FAILED"
	ErrCodeCouponInvalid        = "COUPON_INVALID_OR_EXPIRED"
	ErrCodeDiscountNotRemovable = "DISCOUNT_NOT_REMOVABLE"
	ErrCodeVariantUnavailable   = "VARIANT_UNAVAILABLE"
	ErrCodeSubscriptionUnknown  = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeUnknownAction        = "UNKNOWN_ACTION"
	ErrCodeNetwork              = "NETWORK_ERROR"
	ErrCodeUnknown              = "UNKNOWN_ERROR"
)

// NewBusyError はミューテーションロック競合エラーを生成する。
// リトライ可能なエラーであり、進行中の操作が完了すれば再実行できる。
func NewBusyError() *APIError {
	return &APIError{
		Code:     ErrCodeBusy,
		Message:  "別の操作を処理中です。",
		Category: "lock",
		Action:   "現在の操作が完了してから再度お試しください。",
	}
}

// NewNotInCacheError はキャッシュ不整合エラーを生成する。
// 呼び出し元画面が状態のシード（一覧取得）を済ませていないことを示す。
func NewNotInCacheError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotInCache,
		Message:  fmt.Sprintf("サブスクリプションがキャッシュに見つかりません: %s", id),
		Category: "cache",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewCannotRemoveLastItemError は最終アイテム削除の拒否エラーを生成する。
func NewCannotRemoveLastItemError() *APIError {
	return &APIError{
		Code:     ErrCodeCannotRemoveLastItem,
		Message:  "最後の商品は削除できません。",
		Category: "validation",
		Action:   "商品をすべて外したい場合は、サブスクリプションの解約をご利用ください。",
	}
}

// NewLineNotFoundError は指定ラインアイテムが見つからない場合のエラーを生成する。
func NewLineNotFoundError(lineID string) *APIError {
	return &APIError{
		Code:     ErrCodeLineNotFound,
		Message:  fmt.Sprintf("指定された商品ラインが見つかりません: %s", lineID),
		Category: "validation",
		Action:   "ページを再読み込みして最新の内容をご確認ください。",
	}
}

// NewMissingFieldError は必須フィールド欠落エラーを生成する。
func NewMissingFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingField,
		Message:  fmt.Sprintf("必須項目が不足しています: %s", field),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewProtectionNeedsItemsError は配送保険の単体付与拒否エラーを生成する。
func NewProtectionNeedsItemsError() *APIError {
	return &APIError{
		Code:     ErrCodeProtectionNeedsItems,
		Message:  "配送保険は商品が1つ以上あるサブスクリプションにのみ追加できます。",
		Category: "validation",
		Action:   "先に商品を追加してください。",
	}
}

// NewProtectionUnresolvedError は配送保険バリアント未解決エラーを生成する。
func NewProtectionUnresolvedError() *APIError {
	return &APIError{
		Code:     ErrCodeProtectionUnresolved,
		Message:  "配送保険の商品設定が見つかりません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCouponRecentlyFailedError はクーポン連続投入の抑止エラーを生成する。
// 直近に失敗したコードはリモートサービスを呼ばずにローカルで拒否する。
func NewCouponRecentlyFailedError(code string) *APIError {
	return &APIError{
		Code:     ErrCodeCouponRecentlyFailed,
		Message:  fmt.Sprintf("このクーポンコードは直前に失敗しています: %s", code),
		Category: "validation",
		Action:   "コードを確認するか、しばらく待ってから再度お試しください。",
	}
}

// NewUnknownActionError はレジストリに存在しないアクション名のエラーを生成する。
func NewUnknownActionError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownAction,
		Message:  fmt.Sprintf("未対応のアクションです: %s", name),
		Category: "validation",
		Action:   "アクション名を確認してください。",
	}
}

// NewNetworkError はネットワーク/トランスポート障害エラーを生成する。
func NewNetworkError() *APIError {
	return &APIError{
		Code:     ErrCodeNetwork,
		Message:  "通信に失敗しました。",
		Category: "network",
		Action:   "接続状況を確認して再度お試しください。",
	}
}

// NewUnknownError は分類不能なエラーを生成する。
func NewUnknownError() *APIError {
	return &APIError{
		Code:     ErrCodeUnknown,
		Message:  "エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUpstreamError はリモートサービスが返す固定語彙のエラーコードを
// ユーザー向けメッセージにマップする。未知のコードは汎用メッセージになる。
func NewUpstreamError(code string) *APIError {
	switch code {
	case "coupon_invalid_or_expired":
		return &APIError{
			Code:     ErrCodeCouponInvalid,
			Message:  "クーポンコードが無効か、有効期限が切れています。",
			Category: "upstream",
			Action:   "コードを確認して再度お試しください。",
		}
	case "discount_not_removable":
		return &APIError{
			Code:     ErrCodeDiscountNotRemovable,
			Message:  "このディスカウントは削除できません。",
			Category: "upstream",
			Action:   "サポートにお問い合わせください。",
		}
	case "variant_unavailable":
		return &APIError{
			Code:     ErrCodeVariantUnavailable,
			Message:  "指定された商品は現在ご利用いただけません。",
			Category: "upstream",
			Action:   "別の商品をお選びください。",
		}
	case "subscription_not_found":
		return &APIError{
			Code:     ErrCodeSubscriptionUnknown,
			Message:  "サブスクリプションが見つかりません。",
			Category: "upstream",
			Action:   "ページを再読み込みしてください。",
		}
	default:
		return NewUnknownError()
	}
}
