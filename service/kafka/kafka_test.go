package kafka

import (
	"os"
	"strings"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBaseConfig(t *testing.T) {
	cfg, err := BuildBaseConfig(Config{Version: "2.1.0", Compression: "LZ4", Retries: 0})
	require.NoError(t, err)
	assert.Equal(t, sarama.V2_1_0_0, cfg.Version)
	assert.Equal(t, sarama.CompressionLZ4, cfg.Producer.Compression)
	assert.Equal(t, 1, cfg.Producer.Retry.Max)
	assert.True(t, cfg.Producer.Return.Successes)

	_, err = BuildBaseConfig(Config{Version: "not-a-version"})
	assert.Error(t, err)
}

func TestTopicConfigMinISR(t *testing.T) {
	assert.Equal(t, "1", *topicConfig(1)["min.insync.replicas"])
	assert.Equal(t, "2", *topicConfig(3)["min.insync.replicas"])
}

func TestSyncSenderSend(t *testing.T) {
	p := mocks.NewSyncProducer(t, nil)
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"userId":"u2"}` {
			return assert.AnError
		}
		return nil
	})
	p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s := WrapSyncProducer(p)
	_, _, err := s.Send("pchat.push", "u2", []byte(`{"userId":"u2"}`), map[string]string{"type": "new_message"})
	require.NoError(t, err)

	_, _, err = s.Send("pchat.push", "u3", []byte(`{}`), nil)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, s.Close())
}

// 需要真实 Kafka：PCHAT_TEST_KAFKA_BROKERS=127.0.0.1:9092
func TestSendToBroker(t *testing.T) {
	brokers := os.Getenv("PCHAT_TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("PCHAT_TEST_KAFKA_BROKERS not set")
	}
	c := DefaultConfig()
	c.Brokers = strings.Split(brokers, ",")
	c.Topic = "pchat.push.test"
	client, err := NewClient(c)
	require.NoError(t, err)
	defer client.Close()

	s, err := NewSyncSender(client)
	require.NoError(t, err)
	defer s.Close()
	_, _, err = s.Send(c.Topic, "u1", []byte("hello"), nil)
	require.NoError(t, err)
}
