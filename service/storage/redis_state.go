package storage

import (
	"context"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// 先清理过期的输入中条目再读取
// KEYS[1] = typing zset（member=userID, score=expireAtMs）
// ARGV[1] = nowMs
const luaListTyping = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
return redis.call("ZRANGE", KEYS[1], 0, -1)
`

// 未读 +1，只作用于已存在的计数；未命中返回 -1，保持未命中以便读取时回源
// KEYS[1] = unread key
const luaIncrUnread = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("INCR", KEYS[1])
`

// 减未读，下限为 0；未命中返回 -1
// KEYS[1] = unread key
// ARGV[1] = n
const luaDecrUnread = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local v = redis.call("DECRBY", KEYS[1], ARGV[1])
if v < 0 then
  redis.call("SET", KEYS[1], 0)
  return 0
end
return v
`

// ===== 输入中 =====

func (s *RedisStore) AddTyping(ctx context.Context, conversationID, userID string) error {
	key := s.typingKey(conversationID)
	expAt := s.opts.Clock().Add(s.opts.TypingTTL).UnixMilli()
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(expAt), Member: userID})
		p.PExpire(ctx, key, s.opts.TypingTTL)
		return nil
	})
	return errors.Wrapf(err, "add typing conversation=%s", conversationID)
}

func (s *RedisStore) RemoveTyping(ctx context.Context, conversationID, userID string) error {
	err := s.rdb.ZRem(ctx, s.typingKey(conversationID), userID).Err()
	return errors.Wrapf(err, "remove typing conversation=%s", conversationID)
}

func (s *RedisStore) ListTyping(ctx context.Context, conversationID string) ([]string, error) {
	users, err := s.luaListTyping.Run(ctx, s.rdb,
		[]string{s.typingKey(conversationID)},
		s.opts.Clock().UnixMilli(),
	).StringSlice()
	if err != nil {
		return nil, errors.Wrapf(err, "list typing conversation=%s", conversationID)
	}
	return users, nil
}

// ===== 未读 =====

func (s *RedisStore) IncrementUnread(ctx context.Context, userID string) (int64, bool, error) {
	v, err := s.luaIncrUnread.Run(ctx, s.rdb, []string{s.unreadKey(userID)}).Int64()
	if err != nil {
		return 0, false, errors.Wrapf(err, "incr unread user=%s", userID)
	}
	if v < 0 {
		return 0, false, nil
	}
	return v, true, nil
}

func (s *RedisStore) DecrementUnread(ctx context.Context, userID string, n int64) (int64, bool, error) {
	if n <= 0 {
		return s.GetUnread(ctx, userID)
	}
	v, err := s.luaDecrUnread.Run(ctx, s.rdb, []string{s.unreadKey(userID)}, n).Int64()
	if err != nil {
		return 0, false, errors.Wrapf(err, "decr unread user=%s", userID)
	}
	if v < 0 {
		return 0, false, nil
	}
	return v, true, nil
}

func (s *RedisStore) GetUnread(ctx context.Context, userID string) (int64, bool, error) {
	raw, err := s.rdb.Get(ctx, s.unreadKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "get unread user=%s", userID)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "parse unread user=%s", userID)
	}
	return n, true, nil
}

func (s *RedisStore) SetUnread(ctx context.Context, userID string, n int64) error {
	if n < 0 {
		n = 0
	}
	return errors.Wrapf(s.rdb.Set(ctx, s.unreadKey(userID), n, 0).Err(), "set unread user=%s", userID)
}

func (s *RedisStore) ResetUnread(ctx context.Context, userID string) error {
	return s.SetUnread(ctx, userID, 0)
}

// ===== 会话成员缓存 =====

func (s *RedisStore) AddMembers(ctx context.Context, conversationID string, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	key := s.membersKey(conversationID)
	members := make([]interface{}, 0, len(userIDs))
	for _, u := range userIDs {
		members = append(members, u)
	}
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, key, members...)
		p.Expire(ctx, key, s.opts.MembershipTTL)
		return nil
	})
	return errors.Wrapf(err, "add members conversation=%s", conversationID)
}

func (s *RedisStore) RemoveMember(ctx context.Context, conversationID, userID string) error {
	err := s.rdb.SRem(ctx, s.membersKey(conversationID), userID).Err()
	return errors.Wrapf(err, "remove member conversation=%s", conversationID)
}

func (s *RedisStore) Members(ctx context.Context, conversationID string) ([]string, error) {
	users, err := s.rdb.SMembers(ctx, s.membersKey(conversationID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "members conversation=%s", conversationID)
	}
	sort.Strings(users)
	return users, nil
}
