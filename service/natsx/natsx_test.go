package natsx

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresServers(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestToMsgCarriesHeaders(t *testing.T) {
	m := toMsg("push.notifications", []byte("x"), map[string]string{HeaderMsgID: "m1:u2"})
	assert.Equal(t, "push.notifications", m.Subject)
	assert.Equal(t, "m1:u2", m.Header.Get(HeaderMsgID))
}

func TestGenMsgIDUnique(t *testing.T) {
	a, b := genMsgID(), genMsgID()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

// 需要真实 NATS：PCHAT_TEST_NATS_URL=nats://127.0.0.1:4222
func TestPublishCoreRoundTrip(t *testing.T) {
	url := os.Getenv("PCHAT_TEST_NATS_URL")
	if url == "" {
		t.Skip("PCHAT_TEST_NATS_URL not set")
	}
	c, err := NewClient(Config{Servers: strings.Split(url, ","), Name: "pchat-test"})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.RegisterRoute(Route{Biz: "push", Subject: "pchat.test.push", Mode: Core}))

	got := make(chan *nats.Msg, 1)
	sub, err := c.nc.ChanSubscribe("pchat.test.push", got)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, c.nc.Flush())

	require.NoError(t, NewProducer(c).PublishOnce(context.Background(), "push", []byte("hello"), nil, "id-1"))
	select {
	case m := <-got:
		assert.Equal(t, "hello", string(m.Data))
		assert.Equal(t, "id-1", m.Header.Get(HeaderMsgID))
	case <-time.After(3 * time.Second):
		t.Fatal("no message")
	}
}
