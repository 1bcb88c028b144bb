package repository

import (
	"context"
	"sync"

	"github.com/hitoshi/fedlogin/internal/clock"
	"github.com/hitoshi/fedlogin/internal/model"
)

// MemoryUserRepo はプロセス内メモリを使用したユーザーリポジトリ。
type MemoryUserRepo struct {
	clock clock.Clock

	mu    sync.RWMutex
	users map[string]model.User
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo(c clock.Clock) *MemoryUserRepo {
	return &MemoryUserRepo{
		clock: c,
		users: make(map[string]model.User),
	}
}

// Upsert は既存ユーザーを返すか、新規ユーザーを作成して返す。
func (r *MemoryUserRepo) Upsert(_ context.Context, id, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user, ok := r.users[id]; ok {
		return &user, nil
	}

	user := model.User{
		ID:        id,
		Email:     email,
		CreatedAt: r.clock.Now(),
	}
	r.users[id] = user
	return &user, nil
}

// FindByID は指定IDのユーザーを取得する。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

// Len は登録済みユーザー数を返す。テスト用。
func (r *MemoryUserRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// compile-time interface check
var _ UserRepository = (*MemoryUserRepo)(nil)
