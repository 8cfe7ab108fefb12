package kafka

import (
	"PChat/logger"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EnsureTopic 不存在就创建；已存在且分区数不足时扩分区（Kafka 只能增加分区）
func EnsureTopic(admin sarama.ClusterAdmin, topic string, partitions int32, rf int16) error {
	if partitions <= 0 {
		partitions = 1
	}
	if rf <= 0 {
		rf = 1
	}
	descs, err := admin.DescribeTopics([]string{topic})
	if err != nil {
		return errors.Wrapf(err, "describe topic %s", topic)
	}
	if len(descs) == 1 && descs[0].Err == sarama.ErrNoError {
		cur := int32(len(descs[0].Partitions))
		if cur >= partitions {
			logger.Info("[kafka] topic exists", zap.String("topic", topic), zap.Int32("partitions", cur))
			return nil
		}
		if err := admin.CreatePartitions(topic, partitions, nil, false); err != nil {
			return errors.Wrapf(err, "expand partitions %s", topic)
		}
		logger.Info("[kafka] partitions expanded", zap.String("topic", topic), zap.Int32("from", cur), zap.Int32("to", partitions))
		return nil
	}

	td := &sarama.TopicDetail{
		NumPartitions:     partitions,
		ReplicationFactor: rf,
		ConfigEntries:     topicConfig(rf),
	}
	if err := admin.CreateTopic(topic, td, false); err != nil {
		var te *sarama.TopicError
		if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
			return nil
		}
		if errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return nil
		}
		return errors.Wrapf(err, "create topic %s", topic)
	}
	logger.Info("[kafka] topic created", zap.String("topic", topic), zap.Int32("partitions", partitions), zap.Int16("rf", rf))
	return nil
}

func topicConfig(rf int16) map[string]*string {
	minISR := "1"
	if rf >= 3 {
		minISR = "2"
	}
	return map[string]*string{
		"cleanup.policy":                 strPtr("delete"),
		"min.insync.replicas":            strPtr(minISR),
		"unclean.leader.election.enable": strPtr("false"),
		"compression.type":               strPtr("producer"),
	}
}

func strPtr(s string) *string { return &s }
