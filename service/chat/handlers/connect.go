package handlers

import (
	"context"

	"PChat/logger"
	"PChat/module/chat/model"
	"PChat/service/chat"

	"go.uber.org/zap"
)

// ConnectHandler 连接建立/断开时维护在线状态
type ConnectHandler struct{ *base }

// OnConnect 写在线状态，并只给这条新连接推未读数
func (h *ConnectHandler) OnConnect(ctx context.Context, c *chat.WsConn) error {
	if err := h.Store.SetOnline(ctx, c.UserID, c.SnowID, c.Device); err != nil {
		return err
	}
	n, err := h.Svc.UnreadCount(ctx, c.UserID)
	if err != nil {
		logger.Warn("[WS] initial unread failed", zap.String("user", c.UserID), zap.Error(err))
		return nil
	}
	return h.mgr.Send(c, model.EventUnreadCount, model.UnreadCount{Count: n})
}

// OnDisconnect 最后一条连接断开时清理输入状态并广播
func (h *ConnectHandler) OnDisconnect(ctx context.Context, c *chat.WsConn, rooms []string, last bool) {
	offline, err := h.Store.SetOffline(ctx, c.UserID, c.SnowID)
	if err != nil {
		logger.Warn("[WS] set offline failed", zap.String("user", c.UserID), zap.Error(err))
	}
	if !last {
		return
	}
	// 其它设备先断开时留下的输入状态也要清掉，所以按用户参与的全部会话清理
	convs := rooms
	if all, err := h.Svc.ListConversations(ctx, c.UserID); err != nil {
		logger.Warn("[WS] list conversations failed", zap.String("user", c.UserID), zap.Error(err))
	} else {
		convs = mergeRooms(rooms, all)
	}
	for _, conv := range convs {
		h.clearTyping(ctx, conv, c.UserID)
	}
	logger.Debug("[WS] user offline", zap.String("user", c.UserID), zap.Bool("presenceCleared", offline), zap.Int("conversations", len(convs)))
}

func mergeRooms(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
