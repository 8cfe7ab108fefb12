package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

// Config 推送 topic 的生产端配置
type Config struct {
	Brokers           []string `mapstructure:"brokers" env:"BROKERS" envSeparator:","`
	Topic             string   `mapstructure:"topic" env:"TOPIC"`
	Version           string   `mapstructure:"version" env:"VERSION"`         // 例如 "2.1.0"
	Compression       string   `mapstructure:"compression" env:"COMPRESSION"` // none/snappy/lz4/zstd
	Retries           int      `mapstructure:"retries" env:"RETRIES"`
	Partitions        int32    `mapstructure:"partitions" env:"PARTITIONS"`
	ReplicationFactor int16    `mapstructure:"replicationFactor" env:"REPLICATION_FACTOR"`
	EnsureTopic       bool     `mapstructure:"ensureTopic" env:"ENSURE_TOPIC"`
}

// DefaultConfig 单机演示参数
func DefaultConfig() Config {
	return Config{
		Brokers:           []string{"127.0.0.1:9092"},
		Topic:             "pchat.push",
		Version:           "2.1.0",
		Compression:       "snappy",
		Retries:           5,
		Partitions:        8,
		ReplicationFactor: 1,
		EnsureTopic:       true,
	}
}

// BuildBaseConfig 生成 sarama 配置
func BuildBaseConfig(c Config) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, errors.Wrapf(err, "kafka version %q", c.Version)
		}
		cfg.Version = v
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.Retries <= 0 {
		c.Retries = 1
	}
	cfg.Producer.Retry.Max = c.Retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key=userId，同一用户落同一分区
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg, nil
}
