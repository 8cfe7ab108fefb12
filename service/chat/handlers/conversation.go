package handlers

import (
	"context"

	"PChat/logger"
	"PChat/module/chat/model"
	"PChat/service/chat"
	"PChat/tools/errs"

	"go.uber.org/zap"
)

// JoinHandler 校验参与者后加入房间
type JoinHandler struct{ *base }

func (h *JoinHandler) Event() string { return model.EventJoinConversation }

func (h *JoinHandler) Handle(ctx context.Context, c *chat.WsConn, data map[string]any) error {
	req, err := decodeData[model.ConversationRef](data)
	if err != nil {
		return err
	}
	if err := requireConversation(req.ConversationID); err != nil {
		return err
	}
	ok, err := h.Svc.IsParticipant(ctx, req.ConversationID, c.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotParticipant.WrapMsg("", "conversation", req.ConversationID, "user", c.UserID)
	}
	h.mgr.Join(c.SnowID, req.ConversationID)
	// 成员缓存只整体回填，不单独写入加入者
	if _, err := h.Svc.Resolver().Members(ctx, req.ConversationID); err != nil {
		logger.Warn("[WS] membership cache warm failed", zap.String("conversationId", req.ConversationID), zap.Error(err))
	}
	logger.Debug("[WS] joined", zap.String("user", c.UserID), zap.String("conversationId", req.ConversationID))
	return h.mgr.Send(c, model.EventJoinedConversation, model.ConversationRef{ConversationID: req.ConversationID})
}

// LeaveHandler 离开房间并清除输入状态
type LeaveHandler struct{ *base }

func (h *LeaveHandler) Event() string { return model.EventLeaveConversation }

func (h *LeaveHandler) Handle(ctx context.Context, c *chat.WsConn, data map[string]any) error {
	req, err := decodeData[model.ConversationRef](data)
	if err != nil {
		return err
	}
	if err := requireConversation(req.ConversationID); err != nil {
		return err
	}
	h.mgr.Leave(c.SnowID, req.ConversationID)
	h.clearTyping(ctx, req.ConversationID, c.UserID)
	return h.mgr.Send(c, model.EventLeftConversation, model.ConversationRef{ConversationID: req.ConversationID})
}
