package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/fedlogin/internal/clock"
	"github.com/hitoshi/fedlogin/internal/model"
)

// MemoryPendingLoginRepo はプロセス内メモリを使用したPendingLoginリポジトリ。
type MemoryPendingLoginRepo struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]model.PendingLogin
}

// NewMemoryPendingLoginRepo はMemoryPendingLoginRepoを生成する。
func NewMemoryPendingLoginRepo(c clock.Clock) *MemoryPendingLoginRepo {
	return &MemoryPendingLoginRepo{
		clock:   c,
		entries: make(map[string]model.PendingLogin),
	}
}

// Put はstateをキーにnonceを保存する。
func (r *MemoryPendingLoginRepo) Put(_ context.Context, state, nonce string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[state]; exists {
		return ErrDuplicateKey
	}
	r.entries[state] = model.PendingLogin{
		State:     state,
		Nonce:     nonce,
		ExpiresAt: r.clock.Now().Add(ttl),
	}
	return nil
}

// TakeIfValid はstateのレコードを取り出して削除し、nonceを返す。
// 期限判定より先に削除することで、期限切れでも再利用できないようにする。
func (r *MemoryPendingLoginRepo) TakeIfValid(_ context.Context, state string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, ok := r.entries[state]
	if !ok {
		return "", ErrNotFound
	}
	delete(r.entries, state)

	if pending.IsExpiredAt(r.clock.Now()) {
		return "", ErrExpired
	}
	return pending.Nonce, nil
}

// DeleteExpired は期限切れのレコードを削除する。
func (r *MemoryPendingLoginRepo) DeleteExpired(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	deleted := 0
	for state, pending := range r.entries {
		if pending.IsExpiredAt(now) {
			delete(r.entries, state)
			deleted++
		}
	}
	return deleted, nil
}

// Len は保持しているレコード数を返す。テストおよびメトリクス用。
func (r *MemoryPendingLoginRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// compile-time interface check
var _ PendingLoginRepository = (*MemoryPendingLoginRepo)(nil)
