// Package model はドメインモデルを定義する。
package model

import "strings"

// SubscriptionStatus はリモートサービス上のサブスクリプション状態を表す。
type SubscriptionStatus string

const (
	// StatusActive は契約が有効であることを示す。
	StatusActive SubscriptionStatus = "ACTIVE"
	// StatusPaused はリモートサービス上でネイティブに一時停止されていることを示す。
	StatusPaused SubscriptionStatus = "PAUSED"
	// StatusCancelled は契約が解約済みであることを示す。
	StatusCancelled SubscriptionStatus = "CANCELLED"
)

// Money は通貨金額を表す。
type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

// Address は配送先住所を表す。
type Address struct {
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	Province    string `json:"province,omitempty"`
	Zip         string `json:"zip"`
	CountryCode string `json:"countryCode"`
	Phone       string `json:"phone,omitempty"`
}

// DeliveryPolicy は請求・配送間隔のポリシーを表す。
type DeliveryPolicy struct {
	Interval      string `json:"interval"` // DAY, WEEK, MONTH
	IntervalCount int    `json:"intervalCount"`
}

// Attribute はポータル固有のフラグを保持する自由形式のキー/値属性。
// リモートサービスにはネイティブの一時停止概念がないため、
// 「最後に実行したアクション」「停止日数」「停止期限」などをここに記録する。
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Discount はサブスクリプションに適用されたディスカウントを表す。
type Discount struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Subscription は顧客ポータルの中心エンティティ。
// リモートサービスが真実の源であり、ローカルにはキャッシュとして保持される。
type Subscription struct {
	ID              string             `json:"id"`
	Status          SubscriptionStatus `json:"status"`
	NextBillingDate string             `json:"nextBillingDate,omitempty"` // RFC3339
	DeliveryAddress *Address           `json:"deliveryAddress,omitempty"`
	DeliveryPolicy  *DeliveryPolicy    `json:"deliveryPolicy,omitempty"`
	DeliveryPrice   *Money             `json:"deliveryPrice,omitempty"`
	Lines           *LineCollection    `json:"lines,omitempty"`
	Discounts       []Discount         `json:"discounts,omitempty"`
	Attributes      []Attribute        `json:"customAttributes,omitempty"`
	PortalState     *PortalState       `json:"portalState,omitempty"`
	UpdatedAt       string             `json:"updatedAt,omitempty"`
}

// ShortID はグローバルIDからローカル表示用の短縮IDを導出する。
// リモートサービスのIDは "gid://commerce/SubscriptionContract/123456" の形式で
// 名前空間プレフィックスを持つ場合がある。最後のパスセグメントを返す。
func (s *Subscription) ShortID() string {
	if idx := strings.LastIndex(s.ID, "/"); idx >= 0 {
		return s.ID[idx+1:]
	}
	return s.ID
}

// FindAttribute は属性リストからキーに一致する値を検索する。
// キーは大文字小文字を区別する。最初に一致したエントリの値を返す。
func FindAttribute(attrs []Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
