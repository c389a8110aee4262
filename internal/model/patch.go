package model

// Patch はミューテーション成功時にリモートサービスが返す部分更新オブジェクト。
// 変更されたフィールドのみを含み、nilポインタ/nilスライスは「変更なし」を意味する。
// JSONで明示的に空配列が送られた場合（例: lines: []）は空への置換として扱う。
type Patch struct {
	Status          *SubscriptionStatus `json:"status,omitempty"`
	NextBillingDate *string             `json:"nextBillingDate,omitempty"`
	DeliveryAddress *Address            `json:"deliveryAddress,omitempty"`
	DeliveryPolicy  *DeliveryPolicy     `json:"deliveryPolicy,omitempty"`
	DeliveryPrice   *Money              `json:"deliveryPrice,omitempty"`
	Lines           []LineItem          `json:"lines,omitempty"`
	Discounts       *[]Discount         `json:"discounts,omitempty"`
	Attributes      []Attribute         `json:"attributes,omitempty"`
	UpdatedAt       *string             `json:"updatedAt,omitempty"`
}

// Session はポータルの顧客セッションを表す。
// Tokenはリモートサービスへそのまま転送される不透明な認証トークン、
// CustomerIDはキャッシュキーの名前空間に使う安定した識別子。
type Session struct {
	Token      string
	CustomerID string
}
