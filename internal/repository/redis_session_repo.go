package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/fedlogin/internal/clock"
	"github.com/hitoshi/fedlogin/internal/model"
)

const sessionKeyPrefix = "fedlogin:session:"

// sessionRecord はRedisに保存するSessionの表現。
type sessionRecord struct {
	UserID    string `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"` // UNIXミリ秒
	CreatedAt int64  `json:"created_at"` // UNIXミリ秒
}

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
type RedisSessionRepo struct {
	rdb   redis.UniversalClient
	clock clock.Clock
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(rdb redis.UniversalClient, c clock.Clock) *RedisSessionRepo {
	return &RedisSessionRepo{rdb: rdb, clock: c}
}

// Put はセッションを作成する。
func (r *RedisSessionRepo) Put(ctx context.Context, token, userID string, ttl time.Duration) (*model.Session, error) {
	now := r.clock.Now()
	session := &model.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.UnixMilli(now.Add(ttl).UnixMilli()),
		CreatedAt: time.UnixMilli(now.UnixMilli()),
	}

	data, err := json.Marshal(sessionRecord{
		UserID:    userID,
		ExpiresAt: session.ExpiresAt.UnixMilli(),
		CreatedAt: session.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	ok, err := r.rdb.SetNX(ctx, sessionKeyPrefix+token, data, ttl+expiredRecordGrace).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if !ok {
		return nil, ErrDuplicateKey
	}
	return session, nil
}

// Get はトークンのセッションを返す。期限切れの場合は削除してErrExpiredを返す。
func (r *RedisSessionRepo) Get(ctx context.Context, token string) (*model.Session, error) {
	key := sessionKeyPrefix + token

	data, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	session := &model.Session{
		Token:     token,
		UserID:    rec.UserID,
		ExpiresAt: time.UnixMilli(rec.ExpiresAt),
		CreatedAt: time.UnixMilli(rec.CreatedAt),
	}
	if session.IsExpiredAt(r.clock.Now()) {
		if _, err := deleteIfExpiredLua.Run(ctx, r.rdb, []string{key}, r.clock.Now().UnixMilli()).Result(); err != nil {
			return nil, fmt.Errorf("failed to delete expired session: %w", err)
		}
		return nil, ErrExpired
	}
	return session, nil
}

// Revoke はセッションを削除する。
func (r *RedisSessionRepo) Revoke(ctx context.Context, token string) error {
	if err := r.rdb.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *RedisSessionRepo) DeleteExpired(ctx context.Context) (int, error) {
	return deleteExpiredWithPrefix(ctx, r.rdb, sessionKeyPrefix, r.clock.Now())
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
