package push

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"PChat/module/chat/model"
	"PChat/service/kafka"

	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	got  []*Notification
	fail error
}

func (r *recorder) Publish(_ context.Context, n *Notification, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.got = append(r.got, n)
	return nil
}

func (r *recorder) Close() error { return nil }

func queued(content string) *model.QueuedMessage {
	return &model.QueuedMessage{
		ID: "m1", ConversationID: "c1", SenderID: "u1",
		Content: content, Kind: model.KindText, CreatedAt: time.Now(),
	}
}

func TestPreview(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 50, "hello"},
		{strings.Repeat("a", 50), 50, strings.Repeat("a", 50)},
		{strings.Repeat("a", 51), 50, strings.Repeat("a", 50) + "..."},
		{"你好世界", 2, "你好..."},
		{"abc", 0, "abc"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Preview(c.in, c.n))
	}
}

func TestBuildShape(t *testing.T) {
	n := Build(queued("hi there"), "u2", 50)
	b, err := json.Marshal(n)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "u2", m["userId"])
	assert.Equal(t, "m1", m["messageId"])
	assert.Equal(t, "c1", m["conversationId"])
	assert.Equal(t, "New Message", m["title"])
	assert.Equal(t, "hi there", m["body"])
	data := m["data"].(map[string]any)
	assert.Equal(t, "new_message", data["type"])
	assert.Equal(t, "c1", data["conversationId"])
	assert.Equal(t, "m1", data["messageId"])
	assert.Equal(t, "m1:u2", n.DedupID())
}

func TestTriggerNotify(t *testing.T) {
	rec := &recorder{}
	var sent int
	tr := NewTrigger(rec, WithPreviewLen(3), WithOnSent(func(*Notification) { sent++ }))

	require.NoError(t, tr.NotifyOffline(context.Background(), queued("abcdef"), "u2"))
	require.Len(t, rec.got, 1)
	assert.Equal(t, "abc...", rec.got[0].Body)
	assert.Equal(t, 1, sent)

	rec.fail = errors.New("broker down")
	err := tr.NotifyOffline(context.Background(), queued("x"), "u3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, 1, sent)
}

func TestKafkaPublisher(t *testing.T) {
	p := mocks.NewSyncProducer(t, nil)
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var n Notification
		if err := json.Unmarshal(val, &n); err != nil {
			return err
		}
		if n.UserID != "u2" || n.MessageID != "m1" {
			return errors.New("unexpected payload")
		}
		return nil
	})
	tr := NewTrigger(NewKafkaPublisher(kafka.WrapSyncProducer(p), "pchat.push"))
	require.NoError(t, tr.NotifyOffline(context.Background(), queued("hello"), "u2"))
	require.NoError(t, tr.Close())
}

func TestLogPublisher(t *testing.T) {
	tr := NewTrigger(LogPublisher{})
	assert.NoError(t, tr.NotifyOffline(context.Background(), queued("hello"), "u2"))
}
