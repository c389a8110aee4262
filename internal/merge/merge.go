// Package merge はリモートサービスの部分更新（パッチ）を
// キャッシュ済みレコードへ適用するロジックを提供する。
package merge

import (
	"time"

	"github.com/hitoshi/subportal/internal/model"
)

// Apply は既存レコードの浅いコピーに対し、パッチに含まれるフィールドだけを
// 上書きした新しいレコードを返す。パッチにないフィールドは削除されない。
//
// ラインアイテムは既存コレクションの形状（ベタ配列/ページネーションラッパー）を
// 保存したままノードだけを置き換える。属性リストはキー単位のupsertでマージする。
// パッチがupdatedAtを含まない場合は現在時刻を打刻する。
// ポータル状態はパッチの値を信用せず、マージ後の{ステータス, 属性マップ}から
// 常に再計算する。
func Apply(existing *model.Subscription, patch *model.Patch, now time.Time) *model.Subscription {
	merged := *existing

	if patch.Status != nil {
		merged.Status = *patch.Status
	}
	if patch.NextBillingDate != nil {
		merged.NextBillingDate = *patch.NextBillingDate
	}
	if patch.DeliveryAddress != nil {
		merged.DeliveryAddress = patch.DeliveryAddress
	}
	if patch.DeliveryPolicy != nil {
		merged.DeliveryPolicy = patch.DeliveryPolicy
	}
	if patch.DeliveryPrice != nil {
		merged.DeliveryPrice = patch.DeliveryPrice
	}
	if patch.Lines != nil {
		merged.Lines = existing.Lines.Merge(patch.Lines)
	}
	if patch.Discounts != nil {
		merged.Discounts = *patch.Discounts
	}
	if len(patch.Attributes) > 0 {
		merged.Attributes = MergeAttributes(existing.Attributes, patch.Attributes)
	}

	if patch.UpdatedAt != nil {
		merged.UpdatedAt = *patch.UpdatedAt
	} else {
		merged.UpdatedAt = now.UTC().Format(time.RFC3339)
	}

	state := model.DerivePortalState(merged.Status, merged.Attributes, merged.NextBillingDate, now)
	merged.PortalState = &state

	return &merged
}

// MergeAttributes は属性リストをキー単位でupsertマージする。
// ベースリストの重複キーは最初の出現が勝つ。パッチが同じキーを持つ場合は
// 値を上書きし、新しいキーはパッチの順序で末尾に追加する。
// キーは大文字小文字を区別する。
func MergeAttributes(base, patch []model.Attribute) []model.Attribute {
	merged := make([]model.Attribute, 0, len(base)+len(patch))
	index := make(map[string]int, len(base))

	for _, a := range base {
		if _, seen := index[a.Key]; seen {
			// ベース内の重複キーは最初の出現が勝つ
			continue
		}
		index[a.Key] = len(merged)
		merged = append(merged, a)
	}

	for _, p := range patch {
		if i, ok := index[p.Key]; ok {
			merged[i].Value = p.Value
			continue
		}
		index[p.Key] = len(merged)
		merged = append(merged, p)
	}

	return merged
}
