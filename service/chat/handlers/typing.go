package handlers

import (
	"context"

	"PChat/module/chat/model"
	"PChat/service/chat"
	"PChat/tools/errs"
)

type TypingHandler struct{ *base }

func (h *TypingHandler) Event() string { return model.EventTyping }

func (h *TypingHandler) Handle(ctx context.Context, c *chat.WsConn, data map[string]any) error {
	req, err := decodeData[model.TypingReq](data)
	if err != nil {
		return err
	}
	if err := requireConversation(req.ConversationID); err != nil {
		return err
	}
	if !h.mgr.InRoom(c.SnowID, req.ConversationID) {
		return errs.ErrNotJoined.WrapMsg("", "conversation", req.ConversationID)
	}
	if req.IsTyping {
		err = h.Store.AddTyping(ctx, req.ConversationID, c.UserID)
	} else {
		err = h.Store.RemoveTyping(ctx, req.ConversationID, c.UserID)
	}
	if err != nil {
		return err
	}
	h.broadcastTyping(ctx, req.ConversationID)
	return nil
}
