package portal

import (
	"context"

	"github.com/hitoshi/subportal/internal/model"
)

// pause はお届けの一時停止を実行する。
// リモートサービスにはネイティブの一時停止概念がないため、上流ルートは
// 次回請求日を先送りし、停止状態を属性として記録したパッチを返す。
func (s *Service) pause(ctx context.Context, session *model.Session, req *ActionRequest) *Result {
	if req.Days <= 0 {
		return failure(model.NewMissingFieldError("days"))
	}

	existing, list, apiErr := s.loadRecord(ctx, session, req.SubscriptionID)
	if apiErr != nil {
		return failure(apiErr)
	}

	resp, err := s.gw.Post(ctx, session, model.RoutePause, nil, map[string]any{
		"subscriptionId": existing.ID,
		"days":           req.Days,
	})
	if err != nil {
		return failure(classifyError(err))
	}
	if !resp.OK {
		return failure(model.NewUpstreamError(resp.ErrorCode))
	}

	patch := s.parsePatch(resp.Patch, existing.ID)
	return s.commit(ctx, session, existing, list, patch, ActionPause, "お届けを一時停止しました。")
}

// resume は一時停止中のお届けを再開する。
func (s *Service) resume(ctx context.Context, session *model.Session, req *ActionRequest) *Result {
	existing, list, apiErr := s.loadRecord(ctx, session, req.SubscriptionID)
	if apiErr != nil {
		return failure(apiErr)
	}

	resp, err := s.gw.Post(ctx, session, model.RouteResume, nil, map[string]any{
		"subscriptionId": existing.ID,
	})
	if err != nil {
		return failure(classifyError(err))
	}
	if !resp.OK {
		return failure(model.NewUpstreamError(resp.ErrorCode))
	}

	patch := s.parsePatch(resp.Patch, existing.ID)
	return s.commit(ctx, session, existing, list, patch, ActionResume, "お届けを再開しました。")
}

// cancel はサブスクリプションを解約する。
// パッチの内容にかかわらずステータスを解約済みに強制し、ポータル状態の
// 再計算で必ず解約バケットに落とす。
func (s *Service) cancel(ctx context.Context, session *model.Session, req *ActionRequest) *Result {
	existing, list, apiErr := s.loadRecord(ctx, session, req.SubscriptionID)
	if apiErr != nil {
		return failure(apiErr)
	}

	resp, err := s.gw.Post(ctx, session, model.RouteCancel, nil, map[string]any{
		"subscriptionId": existing.ID,
	})
	if err != nil {
		return failure(classifyError(err))
	}
	if !resp.OK {
		return failure(model.NewUpstreamError(resp.ErrorCode))
	}

	patch := s.parsePatch(resp.Patch, existing.ID)
	cancelled := model.StatusCancelled
	patch.Status = &cancelled

	return s.commit(ctx, session, existing, list, patch, ActionCancel, "サブスクリプションを解約しました。")
}

// changeAddress はお届け先住所を変更する。
func (s *Service) changeAddress(ctx context.Context, session *model.Session, req *ActionRequest) *Result {
	if req.Address == nil {
		return failure(model.NewMissingFieldError("address"))
	}
	for field, value := range map[string]string{
		"address1":    req.Address.Address1,
		"city":        req.Address.City,
		"zip":         req.Address.Zip,
		"countryCode": req.Address.CountryCode,
	} {
		if value == "" {
			return failure(model.NewMissingFieldError(field))
		}
	}

	existing, list, apiErr := s.loadRecord(ctx, session, req.SubscriptionID)
	if apiErr != nil {
		return failure(apiErr)
	}

	resp, err := s.gw.Post(ctx, session, model.RouteAddress, nil, map[string]any{
		"subscriptionId": existing.ID,
		"address":        req.Address,
	})
	if err != nil {
		return failure(classifyError(err))
	}
	if !resp.OK {
		return failure(model.NewUpstreamError(resp.ErrorCode))
	}

	patch := s.parsePatch(resp.Patch, existing.ID)
	return s.commit(ctx, session, existing, list, patch, ActionAddress, "お届け先を変更しました。")
}

// changeFrequency はお届け頻度を変更する。
// 要求された間隔がキャッシュ上の現行ポリシーと同一の場合は、リモートサービスが
// 冗長な送信を拒否するため、ネットワーク呼び出しなしで成功として扱う。
func (s *Service) changeFrequency(ctx context.Context, session *model.Session, req *ActionRequest) *Result {
	if req.Interval == "" {
		return failure(model.NewMissingFieldError("interval"))
	}
	if req.IntervalCount <= 0 {
		return failure(model.NewMissingFieldError("intervalCount"))
	}

	existing, list, apiErr := s.loadRecord(ctx, session, req.SubscriptionID)
	if apiErr != nil {
		return failure(apiErr)
	}

	if p := existing.DeliveryPolicy; p != nil && p.Interval == req.Interval && p.IntervalCount == req.IntervalCount {
		return &Result{OK: true, Noop: true, Record: existing, Toast: "お届け頻度は変更されていません。"}
	}

	resp, err := s.gw.Post(ctx, session, model.RouteFrequency, nil, map[string]any{
		"subscriptionId": existing.ID,
		"interval":       req.Interval,
		"intervalCount":  req.IntervalCount,
	})
	if err != nil {
		return failure(classifyError(err))
	}
	if !resp.OK {
		return failure(model.NewUpstreamError(resp.ErrorCode))
	}

	patch := s.parsePatch(resp.Patch, existing.ID)
	return s.commit(ctx, session, existing, list, patch, ActionFrequency, "お届け頻度を変更しました。")
}
