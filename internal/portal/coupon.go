package portal

import (
	"context"

	"github.com/hitoshi/subportal/internal/merge"
	"github.com/hitoshi/subportal/internal/model"
)

// couponFailedRecently は失敗クーポンの抑止メモリを照会する。
// アクセスのたびにTTLを超過したエントリを掃除する。
func (s *Service) couponFailedRecently(customerID, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, failedAt := range s.failedCoupons {
		if now.Sub(failedAt) >= s.opts.CouponRetryTTL {
			delete(s.failedCoupons, key)
		}
	}

	_, found := s.failedCoupons[customerID+":"+code]
	return found
}

// rememberCouponFailure は上流に拒否されたクーポンコードを記録する。
func (s *Service) rememberCouponFailure(customerID, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedCoupons[customerID+":"+code] = s.now()
}

// forgetCouponFailure は成功したコードの失敗記録を消す。
func (s *Service) forgetCouponFailure(customerID, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failedCoupons, customerID+":"+code)
}

// applyCoupon はクーポンコードを適用する。
// 直近に失敗したコードはリモートサービスを呼ばずに即座に拒否する（連打抑止）。
// すでにディスカウントが適用されている場合は、ユーザーに先の削除を要求せず、
// 暗黙の削除→適用シーケンス（2回のミューテーション）を実行する。
func (s *Service) applyCoupon(ctx context.Context, session *model.Session, req *ActionRequest) *Result {
	if req.CouponCode == "" {
		return failure(model.NewMissingFieldError("couponCode"))
	}
	if s.couponFailedRecently(session.CustomerID, req.CouponCode) {
		return failure(model.NewCouponRecentlyFailedError(req.CouponCode))
	}

	existing, list, apiErr := s.loadRecord(ctx, session, req.SubscriptionID)
	if apiErr != nil {
		return failure(apiErr)
	}

	working := existing
	removed := false

	if len(existing.Discounts) > 0 {
		resp, err := s.gw.Post(ctx, session, model.RouteCoupon, nil, map[string]any{
			"subscriptionId": existing.ID,
			"op":             "remove",
		})
		if err != nil {
			return failure(classifyError(err))
		}
		if !resp.OK {
			return failure(model.NewUpstreamError(resp.ErrorCode))
		}

		removePatch := s.parsePatch(resp.Patch, existing.ID)
		s.sanitizePatch(removePatch)
		working = merge.Apply(existing, removePatch, s.now())
		list = replaceInList(list, working)
		removed = true
	}

	resp, err := s.gw.Post(ctx, session, model.RouteCoupon, nil, map[string]any{
		"subscriptionId": existing.ID,
		"op":             "apply",
		"code":           req.CouponCode,
	})
	if err != nil {
		// 先行する削除はリモート側で完了しているため、キャッシュだけは合わせておく
		if removed {
			s.writeList(ctx, session, list)
		}
		return failure(classifyError(err))
	}
	if !resp.OK {
		if removed {
			s.writeList(ctx, session, list)
		}
		s.rememberCouponFailure(session.CustomerID, req.CouponCode)
		return failure(model.NewUpstreamError(resp.ErrorCode))
	}

	s.forgetCouponFailure(session.CustomerID, req.CouponCode)

	patch := s.parsePatch(resp.Patch, working.ID)
	return s.commit(ctx, session, working, list, patch, ActionCouponApply, "クーポンを適用しました。")
}

// removeCoupon は適用中のディスカウントを削除する。
// 削除対象がない場合はネットワーク呼び出しなしの即時成功とし、
// 合成空パッチでコミットだけを行う（冪等）。
func (s *Service) removeCoupon(ctx context.Context, session *model.Session, req *ActionRequest) *Result {
	existing, list, apiErr := s.loadRecord(ctx, session, req.SubscriptionID)
	if apiErr != nil {
		return failure(apiErr)
	}

	if len(existing.Discounts) == 0 {
		result := s.commit(ctx, session, existing, list, &model.Patch{}, ActionCouponRemove, "クーポンは適用されていません。")
		result.Noop = true
		return result
	}

	resp, err := s.gw.Post(ctx, session, model.RouteCoupon, nil, map[string]any{
		"subscriptionId": existing.ID,
		"op":             "remove",
	})
	if err != nil {
		return failure(classifyError(err))
	}
	if !resp.OK {
		return failure(model.NewUpstreamError(resp.ErrorCode))
	}

	patch := s.parsePatch(resp.Patch, existing.ID)
	return s.commit(ctx, session, existing, list, patch, ActionCouponRemove, "クーポンを外しました。")
}
