package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// 固定窗口限流：首次计数（或 key 丢失 TTL）时设置过期
// KEYS[1] = rate key
// ARGV[1] = windowMs
// 返回：窗口内计数
const luaRateLimit = `
local v = redis.call("INCR", KEYS[1])
if v == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return v
`

const dedupPending = "pending"

// ===== 去重 =====

func (s *RedisStore) ClaimDedup(ctx context.Context, hash string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.dedupKey(hash), dedupPending, s.opts.DedupTTL).Result()
	return ok, errors.Wrap(err, "claim dedup")
}

func (s *RedisStore) IsDuplicate(ctx context.Context, hash string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.dedupKey(hash)).Result()
	return n == 1, errors.Wrap(err, "check dedup")
}

func (s *RedisStore) MarkSent(ctx context.Context, hash, messageID string) error {
	return errors.Wrap(s.rdb.Set(ctx, s.dedupKey(hash), messageID, s.opts.DedupTTL).Err(), "mark sent")
}

func (s *RedisStore) ReleaseDedup(ctx context.Context, hash string) error {
	return errors.Wrap(s.rdb.Del(ctx, s.dedupKey(hash)).Err(), "release dedup")
}

// ===== 限流 =====

func (s *RedisStore) CheckRateLimit(ctx context.Context, userID string, limit int64, window time.Duration) (bool, error) {
	n, err := s.luaRateLimit.Run(ctx, s.rdb, []string{s.rateKey(userID)}, window.Milliseconds()).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "rate limit user=%s", userID)
	}
	return n <= limit, nil
}
