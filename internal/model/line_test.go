package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestLineCollection_UnmarshalJSON_PlainArray(t *testing.T) {
	data := `[{"id":"line-1","title":"コーヒー豆","quantity":2}]`

	var c LineCollection
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		t.Fatalf("パースに失敗した: %v", err)
	}

	if c.Shape != ShapePlain {
		t.Errorf("Shape = %d, want ShapePlain", c.Shape)
	}
	if len(c.Nodes) != 1 || c.Nodes[0].ID != "line-1" {
		t.Errorf("Nodes = %+v", c.Nodes)
	}
}

func TestLineCollection_UnmarshalJSON_PagedWrapper(t *testing.T) {
	data := `{"nodes":[{"id":"line-1","title":"A","quantity":1}],"pageInfo":{"hasNextPage":true,"endCursor":"abc"}}`

	var c LineCollection
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		t.Fatalf("パースに失敗した: %v", err)
	}

	if c.Shape != ShapePaged {
		t.Errorf("Shape = %d, want ShapePaged", c.Shape)
	}
	if len(c.Nodes) != 1 {
		t.Fatalf("Nodes数 = %d, want 1", len(c.Nodes))
	}
}

func TestLineCollection_MarshalJSON_RoundTripPreservesShape(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string // 出力に含まれるべき部分文字列
	}{
		{"ベタ配列はベタ配列のまま", `[{"id":"l1","title":"A","quantity":1}]`, `[{`},
		{"ラッパーはpageInfoを保持", `{"nodes":[],"pageInfo":{"hasNextPage":true,"endCursor":"xyz"}}`, `"endCursor":"xyz"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c LineCollection
			if err := json.Unmarshal([]byte(tt.data), &c); err != nil {
				t.Fatalf("パースに失敗した: %v", err)
			}

			out, err := json.Marshal(&c)
			if err != nil {
				t.Fatalf("シリアライズに失敗した: %v", err)
			}
			if !strings.Contains(string(out), tt.want) {
				t.Errorf("出力 %s に %q が含まれていない", out, tt.want)
			}
		})
	}
}

func TestLineCollection_Merge_PlainStaysPlain(t *testing.T) {
	base := NewPlainCollection([]LineItem{{ID: "a"}, {ID: "b"}})

	merged := base.Merge([]LineItem{{ID: "c"}})

	if merged.Shape != ShapePlain {
		t.Errorf("Shape = %d, want ShapePlain", merged.Shape)
	}
	if len(merged.Nodes) != 1 || merged.Nodes[0].ID != "c" {
		t.Errorf("Nodes = %+v, want [c]", merged.Nodes)
	}
}

func TestLineCollection_Merge_PagedKeepsWrapperFields(t *testing.T) {
	var base LineCollection
	data := `{"nodes":[{"id":"a","title":"A","quantity":1},{"id":"b","title":"B","quantity":1}],"pageInfo":{"hasNextPage":true,"endCursor":"cur-99"}}`
	if err := json.Unmarshal([]byte(data), &base); err != nil {
		t.Fatalf("パースに失敗した: %v", err)
	}

	merged := base.Merge([]LineItem{{ID: "c", Title: "C", Quantity: 1}})

	if merged.Shape != ShapePaged {
		t.Fatalf("Shape = %d, want ShapePaged", merged.Shape)
	}
	out, err := json.Marshal(merged)
	if err != nil {
		t.Fatalf("シリアライズに失敗した: %v", err)
	}
	if !strings.Contains(string(out), `"endCursor":"cur-99"`) {
		t.Errorf("pageInfoのカーソルが保存されていない: %s", out)
	}
	if len(merged.Nodes) != 1 || merged.Nodes[0].ID != "c" {
		t.Errorf("Nodes = %+v, want [c]", merged.Nodes)
	}
}

func TestLineCollection_Merge_NilSynthesizesPagedWrapper(t *testing.T) {
	var base *LineCollection

	merged := base.Merge([]LineItem{{ID: "c"}})

	if merged.Shape != ShapePaged {
		t.Fatalf("Shape = %d, want ShapePaged", merged.Shape)
	}
	out, err := json.Marshal(merged)
	if err != nil {
		t.Fatalf("シリアライズに失敗した: %v", err)
	}
	if !strings.Contains(string(out), `"hasNextPage":false`) {
		t.Errorf("デフォルトpageInfoが合成されていない: %s", out)
	}
}

func TestLineItem_IsProtection(t *testing.T) {
	tests := []struct {
		name string
		line LineItem
		want bool
	}{
		{"SKUプレフィックス一致", LineItem{SKU: "SHIP-PROTECT-01", Title: "何でも"}, true},
		{"SKU小文字でも一致", LineItem{SKU: "ship-protect-01", Title: "X"}, true},
		{"タイトル一致", LineItem{SKU: "OTHER", Title: "Premium Shipping Protection"}, true},
		{"通常アイテム", LineItem{SKU: "COFFEE-250", Title: "コーヒー豆 250g"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.line.IsProtection(); got != tt.want {
				t.Errorf("IsProtection() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRealItemCount_ExcludesProtection(t *testing.T) {
	lines := []LineItem{
		{ID: "a", SKU: "COFFEE-250"},
		{ID: "b", SKU: "SHIP-PROTECT-01"},
		{ID: "c", SKU: "TEA-100"},
	}

	if got := RealItemCount(lines); got != 2 {
		t.Errorf("RealItemCount = %d, want 2", got)
	}
}

func TestSubscription_ShortID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"gid://commerce/SubscriptionContract/123456", "123456"},
		{"plain-id", "plain-id"},
	}

	for _, tt := range tests {
		s := &Subscription{ID: tt.id}
		if got := s.ShortID(); got != tt.want {
			t.Errorf("ShortID(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
