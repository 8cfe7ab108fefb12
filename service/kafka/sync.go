package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

// SyncSender 同步发送，等待 broker ack
type SyncSender struct {
	p sarama.SyncProducer
}

func NewSyncSender(client sarama.Client) (*SyncSender, error) {
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, errors.Wrap(err, "sync producer")
	}
	return &SyncSender{p: p}, nil
}

// WrapSyncProducer 包装现成的 producer（测试里传 mocks）
func WrapSyncProducer(p sarama.SyncProducer) *SyncSender { return &SyncSender{p: p} }

// Send 以 key 做分区
func (s *SyncSender) Send(topic, key string, value []byte, headers map[string]string) (int32, int64, error) {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	partition, offset, err := s.p.SendMessage(msg)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "kafka send %s", topic)
	}
	return partition, offset, nil
}

func (s *SyncSender) Close() error { return s.p.Close() }
