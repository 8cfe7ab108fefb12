package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ===== Lua 脚本 =====

// 登记/续期一条连接，并刷新在线记录
// KEYS[1] = conns zset（member=connID, score=expireAtMs）
// KEYS[2] = presence hash
// ARGV[1] = connID
// ARGV[2] = device
// ARGV[3] = nowMs
// ARGV[4] = ttlMs
// ARGV[5] = expireAtMs
// 返回：当前有效连接数
const luaSetOnline = `
local connsZ = KEYS[1]
local rec    = KEYS[2]

redis.call("ZADD", connsZ, ARGV[5], ARGV[1])
redis.call("ZREMRANGEBYSCORE", connsZ, "-inf", ARGV[3])
redis.call("PEXPIRE", connsZ, ARGV[4])
redis.call("HSET", rec, "connectionId", ARGV[1], "device", ARGV[2], "lastSeen", ARGV[3])
redis.call("PEXPIRE", rec, ARGV[4])
return redis.call("ZCARD", connsZ)
`

// 移除一条连接；最后一条移除时删除在线记录
// KEYS[1] = conns zset
// KEYS[2] = presence hash
// ARGV[1] = connID
// ARGV[2] = nowMs
// 返回：1 用户已离线；0 仍有其它连接
const luaSetOffline = `
local connsZ = KEYS[1]
local rec    = KEYS[2]

redis.call("ZREM", connsZ, ARGV[1])
redis.call("ZREMRANGEBYSCORE", connsZ, "-inf", ARGV[2])
if redis.call("ZCARD", connsZ) == 0 then
  redis.call("DEL", connsZ)
  redis.call("DEL", rec)
  return 1
end
if redis.call("HGET", rec, "connectionId") == ARGV[1] then
  local rest = redis.call("ZRANGE", connsZ, -1, -1)
  redis.call("HSET", rec, "connectionId", rest[1])
end
return 0
`

// 先清理过期连接，再读在线记录
// KEYS[1] = conns zset
// KEYS[2] = presence hash
// ARGV[1] = nowMs
// 返回：HGETALL 结果；离线为空数组
const luaOnlineStatus = `
local connsZ = KEYS[1]
local rec    = KEYS[2]

redis.call("ZREMRANGEBYSCORE", connsZ, "-inf", ARGV[1])
if redis.call("ZCARD", connsZ) == 0 then
  redis.call("DEL", rec)
  return {}
end
return redis.call("HGETALL", rec)
`

// RedisStore Store 的 Redis 实现
type RedisStore struct {
	rdb  redis.UniversalClient
	opts Options

	luaSetOnline    *redis.Script
	luaSetOffline   *redis.Script
	luaOnlineStatus *redis.Script
	luaListTyping   *redis.Script
	luaIncrUnread   *redis.Script
	luaDecrUnread   *redis.Script
	luaRateLimit    *redis.Script
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb redis.UniversalClient, opts Options) *RedisStore {
	opts.norm()
	return &RedisStore{
		rdb:             rdb,
		opts:            opts,
		luaSetOnline:    redis.NewScript(luaSetOnline),
		luaSetOffline:   redis.NewScript(luaSetOffline),
		luaOnlineStatus: redis.NewScript(luaOnlineStatus),
		luaListTyping:   redis.NewScript(luaListTyping),
		luaIncrUnread:   redis.NewScript(luaIncrUnread),
		luaDecrUnread:   redis.NewScript(luaDecrUnread),
		luaRateLimit:    redis.NewScript(luaRateLimit),
	}
}

// ===== 在线状态 =====

func (s *RedisStore) SetOnline(ctx context.Context, userID, connID, device string) error {
	now := s.opts.Clock()
	err := s.luaSetOnline.Run(ctx, s.rdb,
		[]string{s.connsKey(userID), s.presenceKey(userID)},
		connID, device, now.UnixMilli(), s.opts.PresenceTTL.Milliseconds(), now.Add(s.opts.PresenceTTL).UnixMilli(),
	).Err()
	return errors.Wrapf(err, "set online user=%s", userID)
}

func (s *RedisStore) SetOffline(ctx context.Context, userID, connID string) (bool, error) {
	n, err := s.luaSetOffline.Run(ctx, s.rdb,
		[]string{s.connsKey(userID), s.presenceKey(userID)},
		connID, s.opts.Clock().UnixMilli(),
	).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "set offline user=%s", userID)
	}
	return n == 1, nil
}

func (s *RedisStore) OnlineStatus(ctx context.Context, userID string) (*Presence, error) {
	kv, err := s.luaOnlineStatus.Run(ctx, s.rdb,
		[]string{s.connsKey(userID), s.presenceKey(userID)},
		s.opts.Clock().UnixMilli(),
	).StringSlice()
	if err != nil {
		return nil, errors.Wrapf(err, "online status user=%s", userID)
	}
	if len(kv) == 0 {
		return nil, nil
	}
	p := &Presence{UserID: userID}
	for i := 0; i+1 < len(kv); i += 2 {
		switch kv[i] {
		case "connectionId":
			p.ConnectionID = kv[i+1]
		case "device":
			p.Device = kv[i+1]
		case "lastSeen":
			if ms, err := strconv.ParseInt(kv[i+1], 10, 64); err == nil {
				p.LastSeen = time.UnixMilli(ms)
			}
		}
	}
	return p, nil
}

// ===== key =====

func (s *RedisStore) presenceKey(user string) string { return s.opts.KeyPrefix + "user:online:" + user }
func (s *RedisStore) connsKey(user string) string    { return s.opts.KeyPrefix + "user:conns:" + user }
func (s *RedisStore) typingKey(conv string) string   { return s.opts.KeyPrefix + "conversation:typing:" + conv }
func (s *RedisStore) unreadKey(user string) string   { return s.opts.KeyPrefix + "user:unread_count:" + user }
func (s *RedisStore) membersKey(conv string) string  { return s.opts.KeyPrefix + "conversation:users:" + conv }
func (s *RedisStore) dedupKey(hash string) string    { return s.opts.KeyPrefix + "message:dedup:" + hash }
func (s *RedisStore) rateKey(user string) string {
	return s.opts.KeyPrefix + "rate_limit:user:" + user + ":messages"
}

func (s *RedisStore) queueKey(p Partition) string {
	switch p {
	case PartitionHigh:
		return s.opts.KeyPrefix + "queue:messages:priority"
	case PartitionDead:
		return s.opts.KeyPrefix + "queue:messages:dead_letter"
	default:
		return s.opts.KeyPrefix + "queue:messages"
	}
}
