package lock

import (
	"errors"
	"sync"
	"testing"

	"github.com/hitoshi/subportal/internal/model"
)

func TestGate_TryAcquire_SecondAttemptRejected(t *testing.T) {
	g := NewGate()

	token, ok := g.TryAcquire("処理中…")
	if !ok {
		t.Fatal("1回目の取得は成功すべき")
	}

	if _, ok := g.TryAcquire("別の処理"); ok {
		t.Error("保持中の2回目の取得は拒否されるべき")
	}

	g.Release(token)

	if _, ok := g.TryAcquire("再取得"); !ok {
		t.Error("解放後の取得は成功すべき")
	}
}

func TestGate_Busy_ReflectsHeldState(t *testing.T) {
	g := NewGate()

	if busy, _ := g.Busy(); busy {
		t.Error("初期状態はビジーでないべき")
	}

	token, _ := g.TryAcquire("一時停止を処理しています…")
	busy, msg := g.Busy()
	if !busy {
		t.Error("取得後はビジーであるべき")
	}
	if msg != "一時停止を処理しています…" {
		t.Errorf("message = %q", msg)
	}

	g.Release(token)
	if busy, _ := g.Busy(); busy {
		t.Error("解放後はビジーでないべき")
	}
}

func TestGate_Release_IgnoresNilAndStaleTokens(t *testing.T) {
	g := NewGate()

	// nilトークンの解放は何もしない
	g.Release(nil)

	token, _ := g.TryAcquire("a")
	g.Release(token)

	// 期限切れトークンの二重解放後も正常に動作する
	token2, ok := g.TryAcquire("b")
	if !ok {
		t.Fatal("取得に失敗した")
	}
	g.Release(token) // 古いトークン: 無視される
	if busy, _ := g.Busy(); !busy {
		t.Error("古いトークンの解放で現在のロックが外れてはならない")
	}
	g.Release(token2)
}

func TestGate_Do_ReleasesOnError(t *testing.T) {
	g := NewGate()

	err := g.Do("処理中", func() error {
		return errors.New("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Errorf("fnのエラーがそのまま返るべき: %v", err)
	}

	if busy, _ := g.Busy(); busy {
		t.Error("エラー時もロックが解放されるべき")
	}
}

func TestGate_Do_ReleasesOnPanic(t *testing.T) {
	g := NewGate()

	func() {
		defer func() { _ = recover() }()
		_ = g.Do("処理中", func() error {
			panic("boom")
		})
	}()

	if busy, _ := g.Busy(); busy {
		t.Error("panic時もロックが解放されるべき")
	}
}

func TestGate_Do_ReturnsBusyErrorWhenHeld(t *testing.T) {
	g := NewGate()
	token, _ := g.TryAcquire("先行処理")
	defer g.Release(token)

	err := g.Do("後続処理", func() error { return nil })

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorが返るべき: %v", err)
	}
	if apiErr.Code != model.ErrCodeBusy {
		t.Errorf("Code = %s, want %s", apiErr.Code, model.ErrCodeBusy)
	}
}

// 並行に取得を試みても成功するのは常に1つだけであること
func TestGate_ConcurrentAcquire_ExactlyOneWins(t *testing.T) {
	g := NewGate()

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := g.TryAcquire("並行"); ok {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != 1 {
		t.Errorf("取得成功数 = %d, want 1", acquired)
	}
}
