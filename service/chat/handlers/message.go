package handlers

import (
	"context"
	"time"

	"PChat/logger"
	"PChat/module/chat/model"
	"PChat/service/chat"

	"go.uber.org/zap"
)

// SendMessageHandler 提交消息，投递由队列完成
type SendMessageHandler struct{ *base }

func (h *SendMessageHandler) Event() string { return model.EventSendMessage }

func (h *SendMessageHandler) Handle(ctx context.Context, c *chat.WsConn, data map[string]any) error {
	req, err := decodeData[model.SendMessageReq](data)
	if err != nil {
		return err
	}
	if err := requireConversation(req.ConversationID); err != nil {
		return err
	}
	msg, err := h.Svc.SendMessage(ctx, model.NewMessage{
		SenderID:       c.UserID,
		ConversationID: req.ConversationID,
		Content:        req.Content,
		Kind:           req.MessageType,
		ParentID:       req.ParentMessageID,
	})
	if err != nil {
		return err
	}
	if err := h.mgr.Send(c, model.EventMessageSent, model.MessageSent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		CreatedAt:      msg.CreatedAt,
	}); err != nil {
		logger.Debug("[WS] ack dropped", zap.String("messageId", msg.ID), zap.Error(err))
	}
	h.clearTyping(ctx, req.ConversationID, c.UserID)
	return nil
}

// MarkAsReadHandler 会话已读：本人刷新未读数，房间内其他连接收到已读通知
type MarkAsReadHandler struct{ *base }

func (h *MarkAsReadHandler) Event() string { return model.EventMarkAsRead }

func (h *MarkAsReadHandler) Handle(ctx context.Context, c *chat.WsConn, data map[string]any) error {
	req, err := decodeData[model.ConversationRef](data)
	if err != nil {
		return err
	}
	if err := requireConversation(req.ConversationID); err != nil {
		return err
	}
	marked, unread, err := h.Svc.MarkConversationRead(ctx, req.ConversationID, c.UserID)
	if err != nil {
		return err
	}
	_ = h.mgr.SendToUser(c.UserID, model.EventUnreadCount, model.UnreadCount{Count: unread})
	if marked > 0 {
		_ = h.mgr.SendToConversationExcept(req.ConversationID, c.SnowID, model.EventMessagesRead, model.MessagesRead{
			ConversationID: req.ConversationID,
			UserID:         c.UserID,
			ReadAt:         h.Clock().UTC().Format(time.RFC3339),
		})
	}
	return nil
}
