package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/subportal/internal/model"
	"github.com/hitoshi/subportal/internal/repository"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// --- 鮮度判定 ---

func TestIsFresh_WithinTTL(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	entry := &Entry{
		Timestamp: now.Add(-1 * time.Minute).UnixMilli(),
		Payload:   Payload{OK: true, Subscriptions: []model.Subscription{{ID: "X", Status: model.StatusActive}}},
	}

	if !IsFresh(entry, 10*time.Minute, now) {
		t.Error("TTL内のエントリは新鮮であるべき")
	}
}

func TestIsFresh_ExpiredEntry(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	entry := &Entry{
		Timestamp: now.Add(-11 * time.Minute).UnixMilli(),
		Payload:   Payload{OK: true},
	}

	if IsFresh(entry, 10*time.Minute, now) {
		t.Error("TTL超過のエントリは新鮮であってはならない")
	}
}

// 失敗フェッチのエントリはタイムスタンプにかかわらず新鮮とみなさない
func TestIsFresh_FailedPayloadNeverFresh(t *testing.T) {
	now := time.Now()
	entry := &Entry{
		Timestamp: now.UnixMilli(),
		Payload:   Payload{OK: false},
	}

	if IsFresh(entry, 10*time.Minute, now) {
		t.Error("OK=falseのペイロードは決して新鮮であってはならない")
	}
}

func TestIsFresh_NilEntry(t *testing.T) {
	if IsFresh(nil, 10*time.Minute, time.Now()) {
		t.Error("nilエントリは新鮮であってはならない")
	}
}

// --- Read/Write/Invalidate ---

func TestStore_WriteStampsTimestampAlways(t *testing.T) {
	var buf bytes.Buffer
	repo := repository.NewMemoryKVRepo()
	store := NewStore(repo, newTestLogger(&buf), NopRecorder{})

	fixed := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return fixed })

	ok := store.Write(context.Background(), "k", Payload{OK: true})
	if !ok {
		t.Fatal("Writeが失敗した")
	}

	entry := store.Read(context.Background(), "k")
	if entry == nil {
		t.Fatal("書き込んだエントリが読めない")
	}
	if entry.Timestamp != fixed.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", entry.Timestamp, fixed.UnixMilli())
	}
}

// Writeのたびにタイムスタンプが打刻し直され、TTLが再装填されること
func TestStore_WriteRearmsTTL(t *testing.T) {
	var buf bytes.Buffer
	repo := repository.NewMemoryKVRepo()
	store := NewStore(repo, newTestLogger(&buf), NopRecorder{})

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	current := base
	store.SetClock(func() time.Time { return current })

	store.Write(context.Background(), "k", Payload{OK: true})

	// 9分後に再書き込み → タイムスタンプは9分後の時刻
	current = base.Add(9 * time.Minute)
	store.Write(context.Background(), "k", Payload{OK: true})

	entry := store.Read(context.Background(), "k")
	// 元の書き込みから15分後でも、再書き込みから6分しか経っていないため新鮮
	if !IsFresh(entry, 10*time.Minute, base.Add(15*time.Minute)) {
		t.Error("再書き込みでTTLが再装填されていない")
	}
}

func TestStore_ReadMissingKey_ReturnsNil(t *testing.T) {
	var buf bytes.Buffer
	store := NewStore(repository.NewMemoryKVRepo(), newTestLogger(&buf), NopRecorder{})

	if entry := store.Read(context.Background(), "missing"); entry != nil {
		t.Errorf("存在しないキーはnilを返すべき: %+v", entry)
	}
}

func TestStore_ReadMalformedJSON_ReturnsNilAndInvalidates(t *testing.T) {
	var buf bytes.Buffer
	repo := repository.NewMemoryKVRepo()
	store := NewStore(repo, newTestLogger(&buf), NopRecorder{})
	ctx := context.Background()

	_ = repo.Set(ctx, "k", []byte("{not json"))

	if entry := store.Read(ctx, "k"); entry != nil {
		t.Errorf("不正JSONはnilを返すべき: %+v", entry)
	}

	// 不正エントリは破棄されていること
	data, _ := repo.Get(ctx, "k")
	if data != nil {
		t.Error("不正エントリが破棄されていない")
	}
}

func TestStore_ReadStructuralMismatch_ReturnsNil(t *testing.T) {
	var buf bytes.Buffer
	repo := repository.NewMemoryKVRepo()
	store := NewStore(repo, newTestLogger(&buf), NopRecorder{})
	ctx := context.Background()

	// タイムスタンプ欠落
	data, _ := json.Marshal(map[string]any{"payload": map[string]any{"ok": true}})
	_ = repo.Set(ctx, "k", data)

	if entry := store.Read(ctx, "k"); entry != nil {
		t.Errorf("タイムスタンプ欠落のエントリはnilを返すべき: %+v", entry)
	}
}

// 永続化エラーは飲み込んでfalseを返すこと（例外を投げない）
func TestStore_WriteFailure_ReturnsFalse(t *testing.T) {
	var buf bytes.Buffer
	store := NewStore(&failingRepo{}, newTestLogger(&buf), NopRecorder{})

	if ok := store.Write(context.Background(), "k", Payload{OK: true}); ok {
		t.Error("永続化エラー時はfalseを返すべき")
	}
}

func TestStore_InvalidateMissingKey_NoPanic(t *testing.T) {
	var buf bytes.Buffer
	store := NewStore(repository.NewMemoryKVRepo(), newTestLogger(&buf), NopRecorder{})

	store.Invalidate(context.Background(), "missing")
}

func TestStore_RoundTripPreservesSubscriptions(t *testing.T) {
	var buf bytes.Buffer
	store := NewStore(repository.NewMemoryKVRepo(), newTestLogger(&buf), NopRecorder{})
	ctx := context.Background()

	payload := Payload{
		OK: true,
		Subscriptions: []model.Subscription{
			{ID: "gid://commerce/SubscriptionContract/1", Status: model.StatusActive},
			{ID: "gid://commerce/SubscriptionContract/2", Status: model.StatusCancelled},
		},
	}
	store.Write(ctx, "k", payload)

	entry := store.Read(ctx, "k")
	if entry == nil {
		t.Fatal("エントリが読めない")
	}
	if len(entry.Payload.Subscriptions) != 2 {
		t.Fatalf("件数 = %d, want 2", len(entry.Payload.Subscriptions))
	}
	if entry.Payload.Subscriptions[1].Status != model.StatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", entry.Payload.Subscriptions[1].Status)
	}
}

func TestKeyBuilders_NamespacePerCustomer(t *testing.T) {
	if HomeKey("c1") == HomeKey("c2") {
		t.Error("顧客ごとにホームキーが分かれるべき")
	}
	if ListKey("c1") == ListKey("c2") {
		t.Error("顧客ごとに一覧キーが分かれるべき")
	}
	if HomeKey("c1") == ListKey("c1") {
		t.Error("ホームと一覧のキーは異なるべき")
	}
}

// --- モック ---

type failingRepo struct{}

func (f *failingRepo) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("storage disabled")
}
func (f *failingRepo) Set(ctx context.Context, key string, value []byte) error {
	return errors.New("quota exceeded")
}
func (f *failingRepo) Remove(ctx context.Context, key string) error {
	return errors.New("storage disabled")
}
