package handlers

import (
	"context"

	"PChat/module/chat/model"
	"PChat/service/chat"
)

// HeartbeatHandler 只续期在线状态，不改变房间
type HeartbeatHandler struct{ *base }

func (h *HeartbeatHandler) Event() string { return model.EventHeartbeat }

func (h *HeartbeatHandler) Handle(ctx context.Context, c *chat.WsConn, _ map[string]any) error {
	if err := h.Store.SetOnline(ctx, c.UserID, c.SnowID, c.Device); err != nil {
		return err
	}
	h.mgr.Touch(c.SnowID)
	return h.mgr.Send(c, model.EventHeartbeatAck, model.HeartbeatAck{Timestamp: h.Clock().UnixMilli()})
}
