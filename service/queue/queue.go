package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"PChat/logger"
	"PChat/module/chat/model"
	"PChat/module/chat/store"
	"PChat/service/observability"
	"PChat/service/push"
	"PChat/service/storage"
	"PChat/tools/safe"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Broadcaster 网关对外的写通道
type Broadcaster interface {
	SendToUser(userID, event string, payload any) error
}

// RecipientResolver 会话接收者（不含发送者）
type RecipientResolver interface {
	Recipients(ctx context.Context, conversationID, senderID string) ([]string, error)
}

// UnreadCounter 未读数，未命中时回源
type UnreadCounter interface {
	Count(ctx context.Context, userID string) (int64, error)
}

// Archiver 死信归档，可选
type Archiver interface {
	Archive(ctx context.Context, msgs []*model.QueuedMessage) error
}

type Deps struct {
	Store      storage.Store
	Repo       store.Repo
	Gateway    Broadcaster
	Push       push.Notifier
	Recipients RecipientResolver
	Unread     UnreadCounter
	Archive    Archiver
	Metrics    *observability.Metrics
}

// Stats 各分区积压
type Stats struct {
	HighCount       int64 `json:"highCount"`
	NormalCount     int64 `json:"normalCount"`
	DeadLetterCount int64 `json:"deadLetterCount"`
}

// Queue 优先级投递队列：high 独立 worker，normal 一组 worker，失败退避重试，超限进死信
type Queue struct {
	cfg Config
	d   Deps

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config, d Deps) *Queue {
	cfg.norm()
	safe.MustNotNil(d.Store, "queue store")
	safe.MustNotNil(d.Repo, "queue repo")
	safe.MustNotNil(d.Gateway, "queue gateway")
	safe.MustNotNil(d.Push, "queue push")
	safe.MustNotNil(d.Recipients, "queue recipients")
	safe.MustNotNil(d.Unread, "queue unread")
	return &Queue{cfg: cfg, d: d}
}

// Enqueue 按优先级追加到分区尾部
func (q *Queue) Enqueue(ctx context.Context, msg *model.QueuedMessage) error {
	if msg.Priority == "" {
		msg.Priority = model.PriorityFor(msg.Kind)
	}
	return q.d.Store.Enqueue(ctx, storage.PartitionFor(msg.Priority), msg)
}

// Start 启动 worker 和死信巡检；重复调用无效果
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running.Load() {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running.Store(true)

	for i := 0; i < q.cfg.HighWorkers; i++ {
		q.spawn(ctx, storage.PartitionHigh, i)
	}
	for i := 0; i < q.cfg.NormalWorkers; i++ {
		q.spawn(ctx, storage.PartitionNormal, i)
	}
	q.wg.Add(1)
	safe.Go("queue-dlq-sweep", func() {
		defer q.wg.Done()
		q.sweepLoop(ctx)
	})
	logger.Info("[queue] started",
		zap.Int("high", q.cfg.HighWorkers),
		zap.Int("normal", q.cfg.NormalWorkers),
		zap.Int("maxRetries", q.cfg.MaxRetries))
}

func (q *Queue) spawn(ctx context.Context, p storage.Partition, idx int) {
	q.wg.Add(1)
	safe.Go("queue-worker-"+string(p), func() {
		defer q.wg.Done()
		q.worker(ctx, p, idx)
	})
}

// Stop 通知 worker 退出并等待；处理中的消息会跑完，退避中的消息立即回队
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running.Load() {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.running.Store(false)
	logger.Info("[queue] stopped")
}

func (q *Queue) IsRunning() bool { return q.running.Load() }

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	var err error
	if s.HighCount, err = q.d.Store.QueueLen(ctx, storage.PartitionHigh); err != nil {
		return s, errors.Wrap(err, "high len")
	}
	if s.NormalCount, err = q.d.Store.QueueLen(ctx, storage.PartitionNormal); err != nil {
		return s, errors.Wrap(err, "normal len")
	}
	if s.DeadLetterCount, err = q.d.Store.QueueLen(ctx, storage.PartitionDead); err != nil {
		return s, errors.Wrap(err, "dead letter len")
	}
	return s, nil
}

// DeadLetters 只读查看死信，最早的在前
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]*model.QueuedMessage, error) {
	return q.d.Store.PeekDeadLetters(ctx, limit)
}

func (q *Queue) worker(ctx context.Context, p storage.Partition, idx int) {
	log := logger.Log.With(zap.String("partition", string(p)), zap.Int("worker", idx))
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := q.d.Store.Dequeue(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("[queue] dequeue failed", zap.Error(err))
			sleep(ctx, q.cfg.PollInterval)
			continue
		}
		if msg == nil {
			sleep(ctx, q.cfg.PollInterval)
			continue
		}
		if ctx.Err() != nil {
			// 已在停机，放回去
			if err := q.d.Store.Enqueue(context.WithoutCancel(ctx), p, msg); err != nil {
				log.Error("[queue] requeue on shutdown failed", zap.String("messageId", msg.ID), zap.Error(err))
			}
			return
		}
		q.handle(ctx, p, msg)
	}
}

// handle 处理一条；失败则退避重试或进死信
func (q *Queue) handle(ctx context.Context, p storage.Partition, msg *model.QueuedMessage) {
	start := time.Now()
	// 处理本身不随 Stop 中断
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.ProcessTimeout)
	err := q.process(pctx, msg)
	cancel()
	q.d.Metrics.Processed(string(p), time.Since(start).Seconds())
	if err == nil {
		return
	}

	msg.RetryCount++
	fields := []zap.Field{
		zap.String("messageId", msg.ID),
		zap.String("conversationId", msg.ConversationID),
		zap.Int("retryCount", msg.RetryCount),
		zap.Error(err),
	}
	bg := context.WithoutCancel(ctx)
	if msg.RetryCount >= q.cfg.MaxRetries {
		if derr := q.d.Store.Enqueue(bg, storage.PartitionDead, msg); derr != nil {
			logger.Error("[queue] dead letter write failed", append(fields, zap.NamedError("dlqErr", derr))...)
			return
		}
		q.d.Metrics.DeadLetter()
		logger.Error("[queue] message dead-lettered", fields...)
		return
	}

	delay := q.cfg.Backoff(msg.RetryCount)
	logger.Warn("[queue] delivery failed, retrying", append(fields, zap.Duration("backoff", delay))...)
	q.d.Metrics.Retry()
	sleep(ctx, delay)
	if rerr := q.d.Store.Enqueue(bg, p, msg); rerr != nil {
		logger.Error("[queue] re-enqueue failed", append(fields, zap.NamedError("enqueueErr", rerr))...)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
