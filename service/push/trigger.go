package push

import (
	"context"
	"encoding/json"

	"PChat/logger"
	"PChat/module/chat/model"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Publisher 推送平台投递端（nats/kafka/log）
type Publisher interface {
	Publish(ctx context.Context, n *Notification, payload []byte) error
	Close() error
}

// Notifier 供投递 worker 调用
type Notifier interface {
	NotifyOffline(ctx context.Context, msg *model.QueuedMessage, recipient string) error
}

// Trigger 把离线消息转成推送并交给 Publisher
type Trigger struct {
	pub        Publisher
	previewLen int
	onSent     func(n *Notification)
}

type Option func(*Trigger)

func WithPreviewLen(n int) Option { return func(t *Trigger) { t.previewLen = n } }

// WithOnSent 成功回调（metrics）
func WithOnSent(f func(n *Notification)) Option { return func(t *Trigger) { t.onSent = f } }

func NewTrigger(pub Publisher, opts ...Option) *Trigger {
	t := &Trigger{pub: pub, previewLen: DefaultPreviewLen}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Trigger) NotifyOffline(ctx context.Context, msg *model.QueuedMessage, recipient string) error {
	n := Build(msg, recipient, t.previewLen)
	payload, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	if err := t.pub.Publish(ctx, n, payload); err != nil {
		return errors.Wrapf(err, "push to %s", recipient)
	}
	logger.Debug("[push] queued",
		zap.String("userId", recipient),
		zap.String("messageId", msg.ID),
		zap.String("conversationId", msg.ConversationID))
	if t.onSent != nil {
		t.onSent(n)
	}
	return nil
}

func (t *Trigger) Close() error { return t.pub.Close() }
