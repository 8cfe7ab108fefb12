package handlers

import (
	"context"
	"time"

	"PChat/logger"
	"PChat/module/chat/model"
	"PChat/service/chat"
	"PChat/service/messaging"
	"PChat/service/storage"
	"PChat/tools/decode"
	"PChat/tools/errs"

	"go.uber.org/zap"
)

type Deps struct {
	Server *chat.Server
	Svc    *messaging.Service
	Store  storage.Store
	Clock  func() time.Time
}

// Register 挂载所有入站事件和连接钩子
func Register(d Deps) {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	b := &base{Deps: d, mgr: d.Server.ConnMgr()}
	disp := d.Server.Disp()
	disp.Register(&JoinHandler{b})
	disp.Register(&LeaveHandler{b})
	disp.Register(&SendMessageHandler{b})
	disp.Register(&TypingHandler{b})
	disp.Register(&MarkAsReadHandler{b})
	disp.Register(&HeartbeatHandler{b})
	d.Server.SetLifecycle(&ConnectHandler{b})
}

type base struct {
	Deps
	mgr *chat.ConnManager
}

// decodeData 入站 data -> 结构体（json tag）
func decodeData[T any](data map[string]any) (*T, error) {
	v, err := decode.Decode[T](data)
	if err != nil {
		return nil, errs.ErrInvalidPayload.WrapMsg("decode", "err", err.Error())
	}
	return v, nil
}

func requireConversation(id string) error {
	if id == "" {
		return errs.ErrInvalidPayload.WrapMsg("conversationId required")
	}
	return nil
}

// broadcastTyping 读取当前输入中的用户并广播给整个房间
func (b *base) broadcastTyping(ctx context.Context, conversationID string) {
	users, err := b.Store.ListTyping(ctx, conversationID)
	if err != nil {
		logger.Warn("[WS] list typing failed", zap.String("conversationId", conversationID), zap.Error(err))
		return
	}
	if users == nil {
		users = []string{}
	}
	_ = b.mgr.SendToConversation(conversationID, model.EventTypingUpdate,
		model.TypingUpdate{ConversationID: conversationID, TypingUsers: users})
}

func (b *base) clearTyping(ctx context.Context, conversationID, userID string) {
	if err := b.Store.RemoveTyping(ctx, conversationID, userID); err != nil {
		logger.Warn("[WS] remove typing failed", zap.String("conversationId", conversationID), zap.Error(err))
		return
	}
	b.broadcastTyping(ctx, conversationID)
}
