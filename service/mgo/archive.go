package mgo

import (
	"context"
	"sync/atomic"
	"time"

	"PChat/module/chat/model"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DeadLetterCollection = "dead_letters"

// DeadLetterDoc 归档文档；同一消息重复巡检只覆盖
type DeadLetterDoc struct {
	model.QueuedMessage `bson:",inline"`
	ArchivedAt          time.Time `bson:"archived_at"`
}

// Archive 把死信快照写入 Mongo，供事后排查
type Archive struct {
	m          *Manager
	collection string
	indexed    atomic.Bool
	now        func() time.Time
}

func NewArchive(m *Manager) *Archive {
	return &Archive{m: m, collection: DeadLetterCollection, now: time.Now}
}

func (a *Archive) coll() (*mongo.Collection, error) {
	db, err := a.m.TryGetDB()
	if err != nil {
		return nil, err
	}
	return db.Collection(a.collection), nil
}

// EnsureIndex message_id 唯一
func (a *Archive) EnsureIndex(ctx context.Context) error {
	c, err := a.coll()
	if err != nil {
		return err
	}
	_, err = c.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_message_id"),
	})
	return errors.Wrap(err, "create dead letter index")
}

func (a *Archive) Archive(ctx context.Context, msgs []*model.QueuedMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	c, err := a.coll()
	if err != nil {
		return err
	}
	if !a.indexed.Load() {
		if err := a.EnsureIndex(ctx); err != nil {
			return err
		}
		a.indexed.Store(true)
	}
	_, err = c.BulkWrite(ctx, upsertModels(msgs, a.now()), options.BulkWrite().SetOrdered(false))
	return errors.Wrapf(err, "archive %d dead letters", len(msgs))
}

func upsertModels(msgs []*model.QueuedMessage, at time.Time) []mongo.WriteModel {
	out := make([]mongo.WriteModel, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		out = append(out, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"message_id": m.ID}).
			SetReplacement(DeadLetterDoc{QueuedMessage: *m, ArchivedAt: at}).
			SetUpsert(true))
	}
	return out
}

// List 按归档时间倒序
func (a *Archive) List(ctx context.Context, limit int64) ([]DeadLetterDoc, error) {
	c, err := a.coll()
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, bson.M{}, options.Find().
		SetSort(bson.D{{Key: "archived_at", Value: -1}}).
		SetLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "find dead letters")
	}
	var out []DeadLetterDoc
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode dead letters")
	}
	return out, nil
}
