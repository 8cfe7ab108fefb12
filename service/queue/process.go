package queue

import (
	"context"

	"PChat/logger"
	"PChat/module/chat/model"
	"PChat/service/observability"
	"PChat/tools/errs"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	channelLive = "live"
	channelPush = "push"
)

// process 对每个接收者独立投递；单个失败不打断其它接收者，最后汇总
func (q *Queue) process(ctx context.Context, qm *model.QueuedMessage) (err error) {
	ctx, span := observability.StartSpan(ctx, "queue.process", trace.SpanKindConsumer,
		attribute.String("message.id", qm.ID),
		attribute.String("conversation.id", qm.ConversationID),
		attribute.Int("retry.count", qm.RetryCount))
	defer func() { observability.EndSpan(span, err) }()

	msg, err := q.d.Repo.LoadMessage(ctx, qm.ID)
	if err != nil {
		return errors.Wrapf(err, "load message %s", qm.ID)
	}
	recipients, err := q.d.Recipients.Recipients(ctx, qm.ConversationID, qm.SenderID)
	if err != nil {
		return errors.Wrap(err, "resolve recipients")
	}

	var merr error
	for _, uid := range recipients {
		merr = multierr.Append(merr, q.deliver(ctx, qm, msg, uid))
	}
	if err := q.d.Repo.MarkDelivered(ctx, qm.ID, qm.SenderID); err != nil {
		merr = multierr.Append(merr, errors.Wrap(err, "mark sender copy delivered"))
	}
	return merr
}

func (q *Queue) deliver(ctx context.Context, qm *model.QueuedMessage, msg *model.Message, uid string) error {
	p, err := q.d.Store.OnlineStatus(ctx, uid)
	if err != nil {
		return errors.Wrapf(err, "presence %s", uid)
	}
	if p != nil {
		err = q.deliverLive(ctx, msg, uid)
		if err == nil || !errors.Is(err, errs.ErrNotConnected) {
			q.d.Metrics.Delivery(channelLive, err)
			return err
		}
		// 在线记录还没过期，但本进程已没有连接，走推送
		logger.Debug("[queue] stale presence, falling back to push", zap.String("userId", uid))
	}
	err = q.d.Push.NotifyOffline(ctx, qm, uid)
	q.d.Metrics.Delivery(channelPush, err)
	return err
}

func (q *Queue) deliverLive(ctx context.Context, msg *model.Message, uid string) error {
	payload := model.MessageReceived{Message: msg, ConversationID: msg.ConversationID}
	if err := q.d.Gateway.SendToUser(uid, model.EventMessageReceived, payload); err != nil {
		return errors.Wrapf(err, "live deliver to %s", uid)
	}
	if err := q.d.Repo.MarkDelivered(ctx, msg.ID, uid); err != nil {
		return errors.Wrapf(err, "mark delivered %s", uid)
	}
	// 消息已送达，未读数推送失败不触发重试
	n, err := q.d.Unread.Count(ctx, uid)
	if err != nil {
		logger.Warn("[queue] unread count failed", zap.String("messageId", msg.ID), zap.String("userId", uid), zap.Error(err))
		return nil
	}
	if err := q.d.Gateway.SendToUser(uid, model.EventUnreadCount, model.UnreadCount{Count: n}); err != nil {
		logger.Warn("[queue] unread push failed", zap.String("messageId", msg.ID), zap.String("userId", uid), zap.Error(err))
	}
	return nil
}
