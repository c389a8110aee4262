package model

import (
	"strconv"
	"strings"
	"time"
)

// Bucket はポータル表示上の粗い分類カテゴリ。
type Bucket string

const (
	BucketActive    Bucket = "active"
	BucketPaused    Bucket = "paused"
	BucketCancelled Bucket = "cancelled"
	BucketOther     Bucket = "other"
)

// ポータル固有フラグを記録する属性キー。
// リモートサービスにはネイティブの一時停止状態がないため、
// ソフト一時停止はこれらの属性と次回請求日の操作で模擬される。
const (
	AttrLastAction   = "last_action"
	AttrPauseDays    = "pause_days"
	AttrPausedUntil  = "paused_until"
	AttrLastActionAt = "last_action_at"
)

// PortalState はステータスと属性マップから導出されるポータル表示状態。
// リモートサービスのレスポンスを信用せず、常にDerivePortalStateで再計算する。
type PortalState struct {
	Bucket           Bucket `json:"bucket"`
	IsSoftPaused     bool   `json:"isSoftPaused"`
	LastAction       string `json:"lastAction,omitempty"`
	PauseDays        int    `json:"pauseDays,omitempty"`
	PausedUntil      string `json:"pausedUntil,omitempty"`
	LastActionAt     string `json:"lastActionAt,omitempty"`
	NeedsAttention   bool   `json:"needsAttention"`
	AttentionReason  string `json:"attentionReason,omitempty"`
	AttentionMessage string `json:"attentionMessage,omitempty"`
}

// DerivePortalState は{ステータス, 属性マップ}の純粋関数としてポータル状態を導出する。
// 解約済みステータスの場合は一時停止系フィールドをすべてクリアした
// cancelledバケットを返す。それ以外では、最後のアクションが一時停止系で、
// 正の停止日数が記録されており、かつ記録された停止期限が現在より厳密に
// 未来の場合に限りソフト一時停止と判定する。
// 停止期限の属性が欠けている場合は次回請求日をフォールバックとして使う。
func DerivePortalState(status SubscriptionStatus, attrs []Attribute, nextBillingDate string, now time.Time) PortalState {
	if status == StatusCancelled {
		state := PortalState{Bucket: BucketCancelled}
		if v, ok := FindAttribute(attrs, AttrLastAction); ok {
			state.LastAction = v
		}
		if v, ok := FindAttribute(attrs, AttrLastActionAt); ok {
			state.LastActionAt = v
		}
		return state
	}

	state := PortalState{}

	lastAction, _ := FindAttribute(attrs, AttrLastAction)
	state.LastAction = lastAction
	if v, ok := FindAttribute(attrs, AttrLastActionAt); ok {
		state.LastActionAt = v
	}

	pauseDays := 0
	if v, ok := FindAttribute(attrs, AttrPauseDays); ok {
		if n, err := strconv.Atoi(v); err == nil {
			pauseDays = n
		}
	}
	state.PauseDays = pauseDays

	pausedUntil, hasPausedUntil := FindAttribute(attrs, AttrPausedUntil)
	if !hasPausedUntil || pausedUntil == "" {
		// 停止期限の属性がない場合は次回請求日から導出する
		pausedUntil = nextBillingDate
	}
	state.PausedUntil = pausedUntil

	untilInFuture := false
	if t, ok := parsePortalTime(pausedUntil); ok {
		untilInFuture = t.After(now)
	}

	state.IsSoftPaused = strings.HasPrefix(lastAction, "pause") && pauseDays > 0 && untilInFuture

	switch {
	case state.IsSoftPaused || status == StatusPaused:
		state.Bucket = BucketPaused
	case status == StatusActive:
		state.Bucket = BucketActive
	default:
		state.Bucket = BucketOther
		state.NeedsAttention = true
		state.AttentionReason = "unknown_status"
		state.AttentionMessage = "このサブスクリプションは通常と異なる状態です。サポートにお問い合わせください。"
	}

	if !state.IsSoftPaused {
		// ソフト一時停止でなければ停止系フィールドは表示しない
		state.PauseDays = 0
		state.PausedUntil = ""
	}

	return state
}

// parsePortalTime はリモートサービスが返す日時文字列をパースする。
// RFC3339の完全形式と日付のみの形式の両方を受理する。
func parsePortalTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
