package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

// NewClient 建立集群连接，按需建 topic
func NewClient(c Config) (sarama.Client, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka brokers missing")
	}
	cfg, err := BuildBaseConfig(c)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "kafka client")
	}
	if c.EnsureTopic && c.Topic != "" {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "kafka admin")
		}
		// admin 与 client 共用连接，这里不关闭 admin
		if err := EnsureTopic(admin, c.Topic, c.Partitions, c.ReplicationFactor); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}
