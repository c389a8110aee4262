package repository

import (
	"context"
	"sync"
	"time"
)

// memoryEntry は値と最終更新時刻を保持する。
type memoryEntry struct {
	value     []byte
	updatedAt time.Time
}

// MemoryKVRepo はインメモリのキー/値リポジトリ。
// 単一ノード運用のデフォルトバックエンドであり、テストのフェイクとしても使う。
type MemoryKVRepo struct {
	mu   sync.RWMutex
	data map[string]memoryEntry
}

// NewMemoryKVRepo はMemoryKVRepoを生成する。
func NewMemoryKVRepo() *MemoryKVRepo {
	return &MemoryKVRepo{
		data: make(map[string]memoryEntry),
	}
}

// Get は指定キーの値を取得する。値はコピーを返す。
func (r *MemoryKVRepo) Get(ctx context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.data[key]
	if !ok {
		return nil, nil
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set は指定キーに値を保存する。値はコピーして保持する。
func (r *MemoryKVRepo) Set(ctx context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = memoryEntry{value: stored, updatedAt: time.Now()}
	return nil
}

// Remove は指定キーのエントリを削除する。
func (r *MemoryKVRepo) Remove(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, key)
	return nil
}

// DeleteOlderThan は最終更新がcutoffより古いエントリを削除する。
func (r *MemoryKVRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for key, entry := range r.data {
		if entry.updatedAt.Before(cutoff) {
			delete(r.data, key)
			count++
		}
	}
	return count, nil
}

// Len は現在のエントリ数を返す。テストおよびメトリクス用。
func (r *MemoryKVRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}
