package storage

import (
	"context"
	"encoding/json"

	"PChat/module/chat/model"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// 队列：LPUSH 入队尾，RPOP 取队头，分区内先进先出

func (s *RedisStore) Enqueue(ctx context.Context, p Partition, msg *model.QueuedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal queued message")
	}
	err = s.rdb.LPush(ctx, s.queueKey(p), data).Err()
	return errors.Wrapf(err, "enqueue partition=%s message=%s", p, msg.ID)
}

func (s *RedisStore) Dequeue(ctx context.Context, p Partition) (*model.QueuedMessage, error) {
	raw, err := s.rdb.RPop(ctx, s.queueKey(p)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dequeue partition=%s", p)
	}
	var msg model.QueuedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, errors.Wrapf(err, "unmarshal queued message partition=%s raw=%q", p, raw)
	}
	return &msg, nil
}

func (s *RedisStore) QueueLen(ctx context.Context, p Partition) (int64, error) {
	n, err := s.rdb.LLen(ctx, s.queueKey(p)).Result()
	return n, errors.Wrapf(err, "queue len partition=%s", p)
}

// PeekDeadLetters 按入队先后返回最早的 limit 条
func (s *RedisStore) PeekDeadLetters(ctx context.Context, limit int64) ([]*model.QueuedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	raws, err := s.rdb.LRange(ctx, s.queueKey(PartitionDead), -limit, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "peek dead letters")
	}
	out := make([]*model.QueuedMessage, 0, len(raws))
	// 队头在列表尾部，倒序遍历得到入队顺序
	for i := len(raws) - 1; i >= 0; i-- {
		var msg model.QueuedMessage
		if err := json.Unmarshal([]byte(raws[i]), &msg); err != nil {
			return nil, errors.Wrap(err, "unmarshal dead letter")
		}
		out = append(out, &msg)
	}
	return out, nil
}
