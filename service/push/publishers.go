package push

import (
	"context"

	"PChat/logger"
	"PChat/service/kafka"
	"PChat/service/natsx"

	"go.uber.org/zap"
)

const BizPush = "push.notification"

// NatsPublisher 推送写入 NATS，JetStream 下按 messageId:userId 去重
type NatsPublisher struct {
	c *natsx.Client
	p *natsx.Producer
}

// NewNatsPublisher 注册推送路由；stream 为空走 Core
func NewNatsPublisher(c *natsx.Client, subject, stream string) (*NatsPublisher, error) {
	r := natsx.Route{Biz: BizPush, Subject: subject, Mode: natsx.Core}
	if stream != "" {
		r.Mode = natsx.JetStream
		r.Stream = stream
	}
	if err := c.RegisterRoute(r); err != nil {
		return nil, err
	}
	return &NatsPublisher{c: c, p: natsx.NewProducer(c)}, nil
}

func (p *NatsPublisher) Publish(ctx context.Context, n *Notification, payload []byte) error {
	hdr := map[string]string{"type": n.Data.Type, "userId": n.UserID}
	return p.p.PublishOnce(ctx, BizPush, payload, hdr, n.DedupID())
}

func (p *NatsPublisher) Close() error { return p.c.Close() }

// KafkaPublisher 推送写入 Kafka，Key=userId
type KafkaPublisher struct {
	s     *kafka.SyncSender
	topic string
}

func NewKafkaPublisher(s *kafka.SyncSender, topic string) *KafkaPublisher {
	return &KafkaPublisher{s: s, topic: topic}
}

func (p *KafkaPublisher) Publish(_ context.Context, n *Notification, payload []byte) error {
	_, _, err := p.s.Send(p.topic, n.UserID, payload, map[string]string{"dedupId": n.DedupID()})
	return err
}

func (p *KafkaPublisher) Close() error { return p.s.Close() }

// LogPublisher 本地开发用，只打日志
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, n *Notification, payload []byte) error {
	logger.Info("[push] notification", zap.String("userId", n.UserID), zap.ByteString("payload", payload))
	return nil
}

func (LogPublisher) Close() error { return nil }
