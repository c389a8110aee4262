package model

// リモートサービスのルート名。すべての呼び出しは
// GET|POST <base>?route=<name>&...params の形式で発行される。
const (
	// RouteHome は軽量な死活/ホームペイロードの読み取りルート。
	RouteHome = "home"
	// RouteSubscriptions はサブスクリプション全件一覧の読み取りルート。
	RouteSubscriptions = "subscriptions"
	// RouteSubscriptionDetail はID指定の単一レコード読み取りルート。
	RouteSubscriptionDetail = "subscriptionDetail"

	// ミューテーションルート。成功応答は {ok:true, patch:{...}}。
	RoutePause           = "pause"
	RouteResume          = "resume"
	RouteCancel          = "cancel"
	RouteAddress         = "address"
	RouteReplaceVariants = "replaceVariants"
	RouteCoupon          = "coupon"
	RouteFrequency       = "frequency"
)
