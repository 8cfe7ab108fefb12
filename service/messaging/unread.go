package messaging

import (
	"context"

	"PChat/logger"
	"PChat/module/chat/store"
	"PChat/service/storage"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Unread 未读数缓存。计数只在缓存命中时增减，未命中保持未命中，下次读取时从库回源。
type Unread struct {
	st   storage.Store
	repo store.Repo
}

func NewUnread(st storage.Store, repo store.Repo) *Unread {
	return &Unread{st: st, repo: repo}
}

func (u *Unread) Incr(ctx context.Context, userID string) {
	if _, _, err := u.st.IncrementUnread(ctx, userID); err != nil {
		logger.Warn("[messaging] unread incr failed", zap.String("userId", userID), zap.Error(err))
	}
}

func (u *Unread) Decr(ctx context.Context, userID string, n int64) {
	if _, _, err := u.st.DecrementUnread(ctx, userID, n); err != nil {
		logger.Warn("[messaging] unread decr failed", zap.String("userId", userID), zap.Error(err))
	}
}

// Count 缓存未命中或为 0 时回源，一次 SET 回写
func (u *Unread) Count(ctx context.Context, userID string) (int64, error) {
	n, found, err := u.st.GetUnread(ctx, userID)
	if err != nil {
		logger.Warn("[messaging] unread cache read failed", zap.String("userId", userID), zap.Error(err))
		found = false
	}
	if found && n > 0 {
		return n, nil
	}
	durable, err := u.repo.UnreadCount(ctx, userID)
	if err != nil {
		return 0, errors.Wrap(err, "unread count")
	}
	if !found || durable != n {
		if err := u.st.SetUnread(ctx, userID, durable); err != nil {
			logger.Warn("[messaging] unread cache sync failed", zap.String("userId", userID), zap.Error(err))
		}
	}
	return durable, nil
}
