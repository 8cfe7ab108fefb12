package messaging

import (
	"context"

	"PChat/logger"
	"PChat/module/chat/store"
	"PChat/service/storage"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Resolver 会话成员：先查缓存，未命中回源并回填
type Resolver struct {
	st   storage.Store
	repo store.Repo
}

func NewResolver(st storage.Store, repo store.Repo) *Resolver {
	return &Resolver{st: st, repo: repo}
}

func (r *Resolver) Members(ctx context.Context, conversationID string) ([]string, error) {
	members, err := r.st.Members(ctx, conversationID)
	if err != nil {
		logger.Warn("[messaging] membership cache read failed", zap.String("conversationId", conversationID), zap.Error(err))
	}
	if len(members) > 0 {
		return members, nil
	}
	members, err = r.repo.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrapf(err, "list participants %s", conversationID)
	}
	if len(members) > 0 {
		if err := r.st.AddMembers(ctx, conversationID, members...); err != nil {
			logger.Warn("[messaging] membership cache fill failed", zap.String("conversationId", conversationID), zap.Error(err))
		}
	}
	return members, nil
}

// Recipients 成员中去掉发送者
func (r *Resolver) Recipients(ctx context.Context, conversationID, senderID string) ([]string, error) {
	members, err := r.Members(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(members))
	for _, u := range members {
		if u != senderID {
			out = append(out, u)
		}
	}
	return out, nil
}
