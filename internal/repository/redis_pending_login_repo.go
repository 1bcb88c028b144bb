package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/fedlogin/internal/clock"
)

const pendingLoginKeyPrefix = "fedlogin:state:"

// pendingLoginRecord はRedisに保存するPendingLoginの表現。
type pendingLoginRecord struct {
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expires_at"` // UNIXミリ秒
}

// RedisPendingLoginRepo はRedisを使用したPendingLoginリポジトリ。
// 取り出しはGETDELで行い、同じstateを2回取り出せないことをRedis側で保証する。
type RedisPendingLoginRepo struct {
	rdb   redis.UniversalClient
	clock clock.Clock
}

// NewRedisPendingLoginRepo はRedisPendingLoginRepoを生成する。
func NewRedisPendingLoginRepo(rdb redis.UniversalClient, c clock.Clock) *RedisPendingLoginRepo {
	return &RedisPendingLoginRepo{rdb: rdb, clock: c}
}

// Put はstateをキーにnonceを保存する。
func (r *RedisPendingLoginRepo) Put(ctx context.Context, state, nonce string, ttl time.Duration) error {
	data, err := json.Marshal(pendingLoginRecord{
		Nonce:     nonce,
		ExpiresAt: r.clock.Now().Add(ttl).UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode pending login: %w", err)
	}

	ok, err := r.rdb.SetNX(ctx, pendingLoginKeyPrefix+state, data, ttl+expiredRecordGrace).Result()
	if err != nil {
		return fmt.Errorf("failed to save pending login: %w", err)
	}
	if !ok {
		return ErrDuplicateKey
	}
	return nil
}

// TakeIfValid はstateのレコードを取り出して削除し、nonceを返す。
func (r *RedisPendingLoginRepo) TakeIfValid(ctx context.Context, state string) (string, error) {
	data, err := r.rdb.GetDel(ctx, pendingLoginKeyPrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to take pending login: %w", err)
	}

	var rec pendingLoginRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("failed to decode pending login: %w", err)
	}

	if r.clock.Now().UnixMilli() >= rec.ExpiresAt {
		return "", ErrExpired
	}
	return rec.Nonce, nil
}

// DeleteExpired は期限切れのレコードを削除する。
func (r *RedisPendingLoginRepo) DeleteExpired(ctx context.Context) (int, error) {
	return deleteExpiredWithPrefix(ctx, r.rdb, pendingLoginKeyPrefix, r.clock.Now())
}

// compile-time interface check
var _ PendingLoginRepository = (*RedisPendingLoginRepo)(nil)
