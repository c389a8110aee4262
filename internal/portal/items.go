package portal

import (
	"context"

	"github.com/hitoshi/subportal/internal/model"
)

// variantLine はreplaceVariantsルートに送る希望ライン構成の1行。
type variantLine struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

// desiredLines はキャッシュ済みレコードの現行ライン構成を
// replaceVariantsのペイロード形式に落とす。
// UI側の古い状態ではなく、常にキャッシュの現在値から構築する。
func desiredLines(lines []model.LineItem) []variantLine {
	out := make([]variantLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, variantLine{VariantID: l.VariantID, Quantity: l.Quantity})
	}
	return out
}

// postReplaceVariants はライン構成の全置換ミューテーションを発行してコミットする。
func (s *Service) postReplaceVariants(ctx context.Context, session *model.Session, existing *model.Subscription, list []model.Subscription, lines []variantLine, action ActionName, toast string) *Result {
	resp, err := s.gw.Post(ctx, session, model.RouteReplaceVariants, nil, map[string]any{
		"subscriptionId": existing.ID,
		"lines":          lines,
	})
	if err != nil {
		return failure(classifyError(err))
	}
	if !resp.OK {
		return failure(model.NewUpstreamError(resp.ErrorCode))
	}

	patch := s.parsePatch(resp.Patch, existing.ID)
	return s.commit(ctx, session, existing, list, patch, action, toast)
}

// findLine はラインIDでラインアイテムを検索する。
func findLine(lines []model.LineItem, lineID string) *model.LineItem {
	for i := range lines {
		if lines[i].ID == lineID {
			return &lines[i]
		}
	}
	return nil
}

// protectionOn は配送保険ラインを追加する。
// 商品が1つもないサブスクリプションへの単体付与は拒否する。
// すでに付与済みの場合はネットワーク呼び出しなしの成功として扱う（冪等）。
func (s *Service) protectionOn(ctx context.Context, session *model.Session, req *ActionRequest) *Result {
	if s.opts.ProtectionVariantID == "" {
		return failure(model.NewProtectionUnresolvedError())
	}

	existing, list, apiErr := s.loadRecord(ctx, session, req.SubscriptionID)
	if apiErr != nil {
		return failure(apiErr)
	}

	lines := existing.Lines.Items()
	if model.RealItemCount(lines) == 0 {
		return failure(model.NewProtectionNeedsItemsError())
	}
	for i := range lines {
		if lines[i].IsProtection() {
			return &Result{OK: true, Noop: true, Record: existing, Toast: "配送保険はすでに追加されています。"}
		}
	}

	desired := append(desiredLines(lines), variantLine{VariantID: s.opts.ProtectionVariantID, Quantity: 1})
	return s.postReplaceVariants(ctx, session, existing, list, desired, ActionProtectionOn, "配送保険を追加しました。")
}

// protectionOff は配送保険ラインを外す。
// 外す対象がない場合は即時成功の無操作として扱い、合成空パッチで
// コミットだけを行う（冪等）。
func (s *Service) protectionOff(ctx context.Context, session *model.Session, req *ActionRequest) *Result {
	existing, list, apiErr := s.loadRecord(ctx, session, req.SubscriptionID)
	if apiErr != nil {
		return failure(apiErr)
	}

	lines := existing.Lines.Items()
	hasProtection := false
	desired := make([]variantLine, 0, len(lines))
	for i := range lines {
		if lines[i].IsProtection() {
			hasProtection = true
			continue
		}
		desired = append(desired, variantLine{VariantID: lines[i].VariantID, Quantity: lines[i].Quantity})
	}

	if !hasProtection {
		result := s.commit(ctx, session, existing, list, &model.Patch{}, ActionProtectionOff, "配送保険は設定されていません。")
		result.Noop = true
		return result
	}

	return s.postReplaceVariants(ctx, session, existing, list, desired, ActionProtectionOff, "配送保険を外しました。")
}

// addItem は商品ラインを追加する。
func (s *Service) addItem(ctx context.Context, session *model.Session, req *ActionRequest) *Result {
	if req.VariantID == "" {
		return failure(model.NewMissingFieldError("variantId"))
	}
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	existing, list, apiErr := s.loadRecord(ctx, session, req.SubscriptionID)
	if apiErr != nil {
		return failure(apiErr)
	}

	desired := append(desiredLines(existing.Lines.Items()), variantLine{VariantID: req.VariantID, Quantity: quantity})
	return s.postReplaceVariants(ctx, session, existing, list, desired, ActionItemAdd, "商品を追加しました。")
}

// swapItem は既存ラインの商品を別のバリアントに入れ替える。
func (s *Service) swapItem(ctx context.Context, session *model.Session, req *ActionRequest) *Result {
	if req.LineID == "" {
		return failure(model.NewMissingFieldError("lineId"))
	}
	if req.VariantID == "" {
		return failure(model.NewMissingFieldError("variantId"))
	}

	existing, list, apiErr := s.loadRecord(ctx, session, req.SubscriptionID)
	if apiErr != nil {
		return failure(apiErr)
	}

	lines := existing.Lines.Items()
	target := findLine(lines, req.LineID)
	if target == nil {
		return failure(model.NewLineNotFoundError(req.LineID))
	}

	desired := make([]variantLine, 0, len(lines))
	for i := range lines {
		if lines[i].ID == req.LineID {
			desired = append(desired, variantLine{VariantID: req.VariantID, Quantity: lines[i].Quantity})
			continue
		}
		desired = append(desired, variantLine{VariantID: lines[i].VariantID, Quantity: lines[i].Quantity})
	}

	return s.postReplaceVariants(ctx, session, existing, list, desired, ActionItemSwap, "商品を入れ替えました。")
}

// removeItem は商品ラインを削除する。
// 最後の（配送保険を除く）商品は削除できない。すべて外したい場合の
// 正規の導線は解約である。
func (s *Service) removeItem(ctx context.Context, session *model.Session, req *ActionRequest) *Result {
	if req.LineID == "" {
		return failure(model.NewMissingFieldError("lineId"))
	}

	existing, list, apiErr := s.loadRecord(ctx, session, req.SubscriptionID)
	if apiErr != nil {
		return failure(apiErr)
	}

	lines := existing.Lines.Items()
	target := findLine(lines, req.LineID)
	if target == nil {
		return failure(model.NewLineNotFoundError(req.LineID))
	}
	if !target.IsProtection() && model.RealItemCount(lines) <= 1 {
		return failure(model.NewCannotRemoveLastItemError())
	}

	desired := make([]variantLine, 0, len(lines))
	for i := range lines {
		if lines[i].ID == req.LineID {
			continue
		}
		desired = append(desired, variantLine{VariantID: lines[i].VariantID, Quantity: lines[i].Quantity})
	}

	return s.postReplaceVariants(ctx, session, existing, list, desired, ActionItemRemove, "商品を削除しました。")
}

// changeQuantity は商品ラインの数量を変更する。
// 新しい数量がキャッシュ上の現在値と同じ場合は、ネットワーク呼び出しなしで
// 成功として扱う。
func (s *Service) changeQuantity(ctx context.Context, session *model.Session, req *ActionRequest) *Result {
	if req.LineID == "" {
		return failure(model.NewMissingFieldError("lineId"))
	}
	if req.Quantity <= 0 {
		return failure(model.NewMissingFieldError("quantity"))
	}

	existing, list, apiErr := s.loadRecord(ctx, session, req.SubscriptionID)
	if apiErr != nil {
		return failure(apiErr)
	}

	lines := existing.Lines.Items()
	target := findLine(lines, req.LineID)
	if target == nil {
		return failure(model.NewLineNotFoundError(req.LineID))
	}
	if target.Quantity == req.Quantity {
		return &Result{OK: true, Noop: true, Record: existing, Toast: "数量は変更されていません。"}
	}

	desired := make([]variantLine, 0, len(lines))
	for i := range lines {
		quantity := lines[i].Quantity
		if lines[i].ID == req.LineID {
			quantity = req.Quantity
		}
		desired = append(desired, variantLine{VariantID: lines[i].VariantID, Quantity: quantity})
	}

	return s.postReplaceVariants(ctx, session, existing, list, desired, ActionQuantity, "数量を変更しました。")
}
