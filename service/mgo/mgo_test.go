package mgo

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"PChat/data/database/mgo/mongoutil"
	"PChat/module/chat/model"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestUpsertModels(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msgs := []*model.QueuedMessage{
		{ID: "m1", ConversationID: "c1", RetryCount: 3},
		nil,
		{ID: "m2", ConversationID: "c1", RetryCount: 3},
	}
	models := upsertModels(msgs, at)
	require.Len(t, models, 2)

	r, ok := models[0].(*mongo.ReplaceOneModel)
	require.True(t, ok)
	assert.Equal(t, bson.M{"message_id": "m1"}, r.Filter)
	require.NotNil(t, r.Upsert)
	assert.True(t, *r.Upsert)
	doc := r.Replacement.(DeadLetterDoc)
	assert.Equal(t, "m1", doc.ID)
	assert.Equal(t, at, doc.ArchivedAt)
}

func TestDeadLetterDocInline(t *testing.T) {
	raw, err := bson.Marshal(DeadLetterDoc{QueuedMessage: model.QueuedMessage{ID: "m1", RetryCount: 3}})
	require.NoError(t, err)
	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	assert.Equal(t, "m1", m["message_id"])
	assert.EqualValues(t, 3, m["retry_count"])
	assert.Contains(t, m, "archived_at")
}

func TestManagerNotReady(t *testing.T) {
	m := NewManager(&mongoutil.Config{Database: "x"})
	m.connect = func(context.Context, *mongoutil.Config) (*mongoutil.Client, error) {
		return nil, errors.New("dial refused")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartAsync(ctx)

	assert.Eventually(t, func() bool { return m.Err() != nil }, time.Second, 10*time.Millisecond)
	_, err := m.TryGetDB()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "dial refused")

	wctx, wcancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer wcancel()
	assert.ErrorIs(t, m.WaitReady(wctx), context.DeadlineExceeded)

	err = NewArchive(m).Archive(context.Background(), []*model.QueuedMessage{{ID: "m1"}})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestManagerStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(&mongoutil.Config{Database: "x"})
	m.connect = func(context.Context, *mongoutil.Config) (*mongoutil.Client, error) {
		calls.Add(1)
		return nil, errors.New("down")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.StartAsync(ctx)
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	time.Sleep(300 * time.Millisecond)
	n := calls.Load()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}

func TestArchiveEmpty(t *testing.T) {
	a := NewArchive(NewManager(&mongoutil.Config{}))
	assert.NoError(t, a.Archive(context.Background(), nil))
}

func TestArchiveIntegration(t *testing.T) {
	uri := os.Getenv("PCHAT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PCHAT_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	m := NewManager(&mongoutil.Config{Uri: uri, Database: "pchat_test"})
	m.StartAsync(ctx)
	require.NoError(t, m.WaitReady(ctx))

	a := NewArchive(m)
	db, err := m.TryGetDB()
	require.NoError(t, err)
	_ = db.Collection(DeadLetterCollection).Drop(ctx)

	msg := &model.QueuedMessage{ID: "dl-1", ConversationID: "c1", RetryCount: 3}
	require.NoError(t, a.Archive(ctx, []*model.QueuedMessage{msg}))
	require.NoError(t, a.Archive(ctx, []*model.QueuedMessage{msg}))

	docs, err := a.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "dl-1", docs[0].ID)
}
