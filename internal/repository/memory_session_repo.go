package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/fedlogin/internal/clock"
	"github.com/hitoshi/fedlogin/internal/model"
)

// MemorySessionRepo はプロセス内メモリを使用したセッションリポジトリ。
type MemorySessionRepo struct {
	clock clock.Clock

	mu       sync.RWMutex
	sessions map[string]model.Session
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo(c clock.Clock) *MemorySessionRepo {
	return &MemorySessionRepo{
		clock:    c,
		sessions: make(map[string]model.Session),
	}
}

// Put はセッションを作成する。
func (r *MemorySessionRepo) Put(_ context.Context, token, userID string, ttl time.Duration) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[token]; exists {
		return nil, ErrDuplicateKey
	}

	now := r.clock.Now()
	session := model.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	r.sessions[token] = session
	return &session, nil
}

// Get はトークンのセッションを返す。期限切れの場合は削除してErrExpiredを返す。
func (r *MemorySessionRepo) Get(_ context.Context, token string) (*model.Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[token]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !session.IsExpiredAt(r.clock.Now()) {
		return &session, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// 読み取りロック解放後に差し替えられていない場合のみ削除する
	if current, ok := r.sessions[token]; ok && current.ExpiresAt.Equal(session.ExpiresAt) {
		delete(r.sessions, token)
	}
	return nil, ErrExpired
}

// Revoke はセッションを削除する。
func (r *MemorySessionRepo) Revoke(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, token)
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	deleted := 0
	for token, session := range r.sessions {
		if session.IsExpiredAt(now) {
			delete(r.sessions, token)
			deleted++
		}
	}
	return deleted, nil
}

// Len は保持しているセッション数を返す。テストおよびメトリクス用。
func (r *MemorySessionRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// compile-time interface check
var _ SessionRepository = (*MemorySessionRepo)(nil)
