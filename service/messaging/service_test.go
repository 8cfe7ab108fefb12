package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PChat/module/chat/model"
	"PChat/module/chat/store"
	"PChat/service/storage"
	"PChat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu   sync.Mutex
	msgs []*model.QueuedMessage
	fail error
}

func (q *fakeQueue) Enqueue(_ context.Context, m *model.QueuedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return q.fail
	}
	q.msgs = append(q.msgs, m)
	return nil
}

type fixture struct {
	svc  *Service
	repo *store.MemRepo
	st   *storage.MemStore
	q    *fakeQueue
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMemRepo()
	require.NoError(t, repo.UpsertUser(ctx, model.UserSummary{ID: "alice", Name: "Alice"}))
	require.NoError(t, repo.UpsertUser(ctx, model.UserSummary{ID: "bob", Name: "Bob"}))
	require.NoError(t, repo.CreateConversation(ctx, "c1", "alice", "bob"))
	st := storage.NewMemStore(storage.Options{})
	q := &fakeQueue{}
	return fixture{svc: NewService(cfg, repo, st, q, nil), repo: repo, st: st, q: q}
}

func TestSendMessageQueues(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	msg, err := f.svc.SendMessage(ctx, model.NewMessage{SenderID: "alice", ConversationID: "c1", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", msg.Sender.Name)
	assert.Equal(t, model.KindText, msg.Kind)

	require.Len(t, f.q.msgs, 1)
	assert.Equal(t, msg.ID, f.q.msgs[0].ID)
	assert.Equal(t, model.PriorityNormal, f.q.msgs[0].Priority)
	assert.Equal(t, 0, f.q.msgs[0].RetryCount)

	// 冷缓存不被 +1 创建
	_, found, err := f.st.GetUnread(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, found)
	n, err := f.svc.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	members, err := f.st.Members(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members)
}

func TestSystemNotificationIsHighPriority(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.svc.SendMessage(context.Background(), model.NewMessage{
		SenderID: "alice", ConversationID: "c1", Content: "listing sold", Kind: model.KindSystemNotification,
	})
	require.NoError(t, err)
	assert.Equal(t, model.PriorityHigh, f.q.msgs[0].Priority)
}

func TestSendMessageRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate", func(t *testing.T) {
		f := newFixture(t, Config{})
		in := model.NewMessage{SenderID: "alice", ConversationID: "c1", Content: "same"}
		_, err := f.svc.SendMessage(ctx, in)
		require.NoError(t, err)
		_, err = f.svc.SendMessage(ctx, in)
		assert.True(t, errors.Is(err, errs.ErrDuplicate))
		assert.Len(t, f.q.msgs, 1)
	})

	t.Run("not participant", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, err := f.svc.SendMessage(ctx, model.NewMessage{SenderID: "mallory", ConversationID: "c1", Content: "x"})
		assert.True(t, errors.Is(err, errs.ErrNotParticipant))
		assert.Empty(t, f.q.msgs)
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newFixture(t, Config{RateLimit: 2, RateWindow: time.Minute})
		for _, c := range []string{"a", "b"} {
			_, err := f.svc.SendMessage(ctx, model.NewMessage{SenderID: "alice", ConversationID: "c1", Content: c})
			require.NoError(t, err)
		}
		_, err := f.svc.SendMessage(ctx, model.NewMessage{SenderID: "alice", ConversationID: "c1", Content: "c"})
		assert.True(t, errors.Is(err, errs.ErrRateLimited))
		assert.Len(t, f.q.msgs, 2)
	})

	t.Run("invalid", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, err := f.svc.SendMessage(ctx, model.NewMessage{SenderID: "alice", ConversationID: "c1", Content: "  "})
		assert.True(t, errors.Is(err, errs.ErrInvalidPayload))
		_, err = f.svc.SendMessage(ctx, model.NewMessage{SenderID: "alice", ConversationID: "c1", Content: "x", Kind: "VIDEO"})
		assert.True(t, errors.Is(err, errs.ErrInvalidPayload))
	})
}

func TestPersistFailureReleasesDedup(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	in := model.NewMessage{SenderID: "alice", ConversationID: "c1", Content: "reply", ParentID: "missing"}

	_, err := f.svc.SendMessage(ctx, in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	dup, err := f.st.IsDuplicate(ctx, storage.DedupHash("alice", "c1", "reply"))
	require.NoError(t, err)
	assert.False(t, dup)

	in.ParentID = ""
	_, err = f.svc.SendMessage(ctx, in)
	assert.NoError(t, err)
}

func TestEnqueueFailurePropagates(t *testing.T) {
	f := newFixture(t, Config{})
	f.q.fail = errors.New("redis down")
	_, err := f.svc.SendMessage(context.Background(), model.NewMessage{SenderID: "alice", ConversationID: "c1", Content: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

func TestMarkConversationRead(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	for _, c := range []string{"one", "two", "three"} {
		_, err := f.svc.SendMessage(ctx, model.NewMessage{SenderID: "alice", ConversationID: "c1", Content: c})
		require.NoError(t, err)
	}

	marked, unread, err := f.svc.MarkConversationRead(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(3), marked)
	assert.Equal(t, int64(0), unread)

	marked, _, err = f.svc.MarkConversationRead(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), marked)

	_, _, err = f.svc.MarkConversationRead(ctx, "c1", "mallory")
	assert.True(t, errors.Is(err, errs.ErrNotParticipant))
}

func TestMarkMessageRead(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	msg, err := f.svc.SendMessage(ctx, model.NewMessage{SenderID: "alice", ConversationID: "c1", Content: "x"})
	require.NoError(t, err)

	changed, err := f.svc.MarkMessageRead(ctx, msg.ID, "bob")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.svc.MarkMessageRead(ctx, msg.ID, "bob")
	require.NoError(t, err)
	assert.False(t, changed)

	n, _, _ := f.st.GetUnread(ctx, "bob")
	assert.Equal(t, int64(0), n)
}

func TestUnreadCountFallsBackOnMiss(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	for _, c := range []string{"one", "two"} {
		_, err := f.svc.SendMessage(ctx, model.NewMessage{SenderID: "alice", ConversationID: "c1", Content: c})
		require.NoError(t, err)
	}
	// 缓存清零
	require.NoError(t, f.st.ResetUnread(ctx, "bob"))

	n, err := f.svc.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	cached, found, err := f.st.GetUnread(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2), cached)

	// 缓存为 0 也回源
	require.NoError(t, f.st.SetUnread(ctx, "bob", 0))
	n, err = f.svc.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestUnreadColdCacheResyncsAfterSend(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	for _, c := range []string{"a", "b", "c"} {
		_, err := f.repo.PersistMessage(ctx, model.NewMessage{SenderID: "alice", ConversationID: "c1", Content: c, Kind: model.KindText})
		require.NoError(t, err)
	}

	_, err := f.svc.SendMessage(ctx, model.NewMessage{SenderID: "alice", ConversationID: "c1", Content: "d"})
	require.NoError(t, err)

	n, err := f.svc.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	// 已缓存后按 +1 累加
	_, err = f.svc.SendMessage(ctx, model.NewMessage{SenderID: "alice", ConversationID: "c1", Content: "e"})
	require.NoError(t, err)
	cached, found, err := f.st.GetUnread(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(5), cached)
	n, err = f.svc.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestListConversations(t *testing.T) {
	f := newFixture(t, Config{})
	convs, err := f.svc.ListConversations(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, convs)
}

func TestRecipientsExcludeSender(t *testing.T) {
	f := newFixture(t, Config{})
	got, err := f.svc.Resolver().Recipients(context.Background(), "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, got)
}
