package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DiscountAllocation はラインアイテムに配分されたディスカウント額を表す。
type DiscountAllocation struct {
	Amount *Money `json:"amount,omitempty"`
}

// LineItem はサブスクリプション内の1つのラインアイテムを表す。
type LineItem struct {
	ID                  string               `json:"id"`
	VariantID           string               `json:"variantId,omitempty"`
	SKU                 string               `json:"sku,omitempty"`
	Title               string               `json:"title"`
	VariantTitle        string               `json:"variantTitle,omitempty"`
	Quantity            int                  `json:"quantity"`
	CurrentPrice        *Money               `json:"currentPrice,omitempty"`
	LineDiscountedPrice *Money               `json:"lineDiscountedPrice,omitempty"`
	DiscountAllocations []DiscountAllocation `json:"discountAllocations,omitempty"`
	ImageURL            string               `json:"imageUrl,omitempty"`
}

// protectionSKUPrefix は配送保険ラインのSKUプレフィックス。
const protectionSKUPrefix = "SHIP-PROTECT"

// IsProtection はこのラインが配送保険ラインかどうかをSKU/タイトルの
// ヒューリスティックで判定する。配送保険ラインは「実アイテム」の
// カウント規則から除外される。
func (l *LineItem) IsProtection() bool {
	if strings.HasPrefix(strings.ToUpper(l.SKU), protectionSKUPrefix) {
		return true
	}
	return strings.Contains(strings.ToLower(l.Title), "shipping protection")
}

// RealItemCount は配送保険を除いたラインアイテム数を返す。
func RealItemCount(lines []LineItem) int {
	count := 0
	for i := range lines {
		if !lines[i].IsProtection() {
			count++
		}
	}
	return count
}

// CollectionShape はラインコレクションのワイヤ上の形状を表す。
type CollectionShape int

const (
	// ShapePlain はベタ配列 [ ... ] 形式。
	ShapePlain CollectionShape = iota
	// ShapePaged はページネーションラッパー { nodes: [...], pageInfo: {...} } 形式。
	ShapePaged
)

// defaultPageInfo はラッパー新規合成時の安全なページネーションメタデータ。
var defaultPageInfo = json.RawMessage(`{"hasNextPage":false,"hasPreviousPage":false}`)

// LineCollection はラインアイテムのコレクションをタグ付きユニオンとして表す。
// リモートサービスは同じコレクションをベタ配列とページネーションラッパーの
// 2形式で返すことがあり、呼び出し側は元の形状を前提にしているため、
// マージ後も元の形状を保存しなければならない。
type LineCollection struct {
	Shape CollectionShape
	Nodes []LineItem

	// wrapper はページネーションラッパーのnodes以外のフィールドを
	// 受信時のまま保持する（pageInfoやカーソルなど）。
	wrapper map[string]json.RawMessage
}

// NewPlainCollection はベタ配列形状のコレクションを生成する。
func NewPlainCollection(nodes []LineItem) *LineCollection {
	return &LineCollection{Shape: ShapePlain, Nodes: nodes}
}

// NewPagedCollection はラッパー形状のコレクションをデフォルトの
// ページネーションメタデータ付きで生成する。
func NewPagedCollection(nodes []LineItem) *LineCollection {
	return &LineCollection{
		Shape: ShapePaged,
		Nodes: nodes,
		wrapper: map[string]json.RawMessage{
			"pageInfo": defaultPageInfo,
		},
	}
}

// Items はコレクション内のラインアイテムを返す。nilセーフ。
func (c *LineCollection) Items() []LineItem {
	if c == nil {
		return nil
	}
	return c.Nodes
}

// Merge は既存コレクションの形状を保存したまま、ラインアイテムを
// patchNodesで置き換えた新しいコレクションを返す。
//   - 既存がベタ配列: ベタ配列のまま全置換
//   - 既存がラッパー: nodesのみ置換し、それ以外のラッパーフィールドは不変
//   - 既存がnil（欠損・不正）: デフォルトのpageInfo付きラッパーを新規合成
func (c *LineCollection) Merge(patchNodes []LineItem) *LineCollection {
	if c == nil {
		return NewPagedCollection(patchNodes)
	}
	switch c.Shape {
	case ShapePlain:
		return NewPlainCollection(patchNodes)
	case ShapePaged:
		wrapper := make(map[string]json.RawMessage, len(c.wrapper))
		for k, v := range c.wrapper {
			wrapper[k] = v
		}
		if _, ok := wrapper["pageInfo"]; !ok {
			wrapper["pageInfo"] = defaultPageInfo
		}
		return &LineCollection{Shape: ShapePaged, Nodes: patchNodes, wrapper: wrapper}
	default:
		return NewPagedCollection(patchNodes)
	}
}

// UnmarshalJSON はベタ配列とラッパーオブジェクトの両形式を受理し、
// どちらで受信したかをShapeに記録する。
func (c *LineCollection) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = LineCollection{Shape: ShapePlain}
		return nil
	}

	switch trimmed[0] {
	case '[':
		var nodes []LineItem
		if err := json.Unmarshal(trimmed, &nodes); err != nil {
			return fmt.Errorf("ラインアイテム配列のパースに失敗しました: %w", err)
		}
		*c = LineCollection{Shape: ShapePlain, Nodes: nodes}
		return nil
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return fmt.Errorf("ラインコレクションラッパーのパースに失敗しました: %w", err)
		}
		var nodes []LineItem
		if nodesRaw, ok := raw["nodes"]; ok {
			if err := json.Unmarshal(nodesRaw, &nodes); err != nil {
				return fmt.Errorf("ラッパー内nodesのパースに失敗しました: %w", err)
			}
			delete(raw, "nodes")
		}
		*c = LineCollection{Shape: ShapePaged, Nodes: nodes, wrapper: raw}
		return nil
	default:
		return fmt.Errorf("ラインコレクションの形式が不正です")
	}
}

// MarshalJSON は受信時の形状でコレクションを書き出す。
func (c *LineCollection) MarshalJSON() ([]byte, error) {
	nodes := c.Nodes
	if nodes == nil {
		nodes = []LineItem{}
	}

	if c.Shape == ShapePlain {
		return json.Marshal(nodes)
	}

	out := make(map[string]json.RawMessage, len(c.wrapper)+1)
	for k, v := range c.wrapper {
		out[k] = v
	}
	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("ラインアイテムのシリアライズに失敗しました: %w", err)
	}
	out["nodes"] = nodesJSON
	return json.Marshal(out)
}
