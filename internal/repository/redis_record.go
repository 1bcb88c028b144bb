package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// expiredRecordGrace はRedisキーのTTLに上乗せする猶予時間。
// 論理的な有効期限を過ぎたレコードを読み出し時にErrExpiredとして判別できるよう、
// キー自体はこの時間だけ長く残す。
const expiredRecordGrace = time.Hour

// deleteIfExpiredLua はレコードのexpires_at（UNIXミリ秒）がARGV[1]以下なら削除する。
// KEYS[1] = レコードのキー
// ARGV[1] = 現在時刻（UNIXミリ秒）
var deleteIfExpiredLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return 0
end
local rec = cjson.decode(data)
if tonumber(rec.expires_at) <= tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// deleteExpiredWithPrefix はprefixに一致するキーを走査し、期限切れのレコードを削除する。
// 判定と削除はLuaスクリプトで1キーずつアトミックに行う。
func deleteExpiredWithPrefix(ctx context.Context, rdb redis.UniversalClient, prefix string, now time.Time) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	nowMs := now.UnixMilli()

	for {
		keys, next, err := rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}

		for _, key := range keys {
			n, err := deleteIfExpiredLua.Run(ctx, rdb, []string{key}, nowMs).Int()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete expired key: %w", err)
			}
			deleted += n
		}

		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
