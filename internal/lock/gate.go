// Package lock はミューテーションの直列化を提供する。
// ポータル全体で同時に実行できるミューテーションは1つだけであり、
// 競合する試行はキューイングせず即座に拒否される。
package lock

import (
	"sync"

	"github.com/google/uuid"
	"github.com/hitoshi/subportal/internal/model"
)

// Token は取得済みロックの所有証。Releaseで消費する。
// トークンを要求することで、取得していない側が誤ってロックを
// 解放してしまう事故を防ぐ。
type Token struct {
	id string
}

// Gate はプロセス全体で1つのミューテーションゲート。
// アクション種別ごとでもレコードごとでもなく、ポータル全体で1つ。
// ユーザーにサブスクリプション状態への並行ミューテーションを
// 決して許さないというプロダクト要件に対応する。
type Gate struct {
	mu      sync.Mutex
	held    bool
	tokenID string
	message string
}

// NewGate はGateを生成する。
func NewGate() *Gate {
	return &Gate{}
}

// TryAcquire はロックの取得を試みる。
// 取得できた場合はトークンとtrueを返す。すでに保持されている場合は
// ブロックせずに即座に (nil, false) を返す。
// messageは保持中にBusy()で観測できる進行中表示用メッセージ。
func (g *Gate) TryAcquire(message string) (*Token, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held {
		return nil, false
	}

	token := &Token{id: uuid.NewString()}
	g.held = true
	g.tokenID = token.id
	g.message = message
	return token, true
}

// Release はロックを解放する。
// 現在の保持トークンと一致しない（nilや期限切れの）トークンは無視する。
// すべての出口経路で呼び出しを保証するため、deferで使うこと。
func (g *Gate) Release(token *Token) {
	if token == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.held || g.tokenID != token.id {
		return
	}

	g.held = false
	g.tokenID = ""
	g.message = ""
}

// Busy はロックの保持状態と進行中メッセージを返す。
// UIのブロッキングインジケーター表示に使う。
func (g *Gate) Busy() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held, g.message
}

// Do はスコープ付きのロック取得ヘルパー。
// 取得できない場合はビジーエラーを返し、取得できた場合は
// fnの結果にかかわらず（panic時を含め）ロックを解放する。
func (g *Gate) Do(message string, fn func() error) error {
	token, ok := g.TryAcquire(message)
	if !ok {
		return model.NewBusyError()
	}
	defer g.Release(token)

	return fn()
}
