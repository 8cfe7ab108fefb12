package queue

import (
	"context"
	"time"

	"PChat/logger"
	"PChat/service/storage"

	"go.uber.org/zap"
)

func (q *Queue) sweepLoop(ctx context.Context) {
	t := time.NewTicker(q.cfg.DeadLetterSweep)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := q.SweepDeadLetters(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("[queue] dead letter sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepDeadLetters 只观测和归档，不自动重试
func (q *Queue) SweepDeadLetters(ctx context.Context) error {
	n, err := q.d.Store.QueueLen(ctx, storage.PartitionDead)
	if err != nil {
		return err
	}
	q.d.Metrics.DeadLetterDepth(n)
	if n == 0 {
		return nil
	}
	logger.Warn("[queue] dead letters pending", zap.Int64("count", n))
	if q.d.Archive == nil {
		return nil
	}
	msgs, err := q.d.Store.PeekDeadLetters(ctx, q.cfg.DeadLetterBatch)
	if err != nil {
		return err
	}
	return q.d.Archive.Archive(ctx, msgs)
}
