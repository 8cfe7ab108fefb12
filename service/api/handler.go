package api

import (
	"net/http"
	"strings"
	"time"

	"PChat/logger"
	"PChat/middleware/security"
	"PChat/module/chat/model"
	"PChat/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EventReq 服务端主动推送
type EventReq struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type SendReq struct {
	Content         string            `json:"content"`
	MessageType     model.MessageKind `json:"messageType,omitempty"`
	ParentMessageID string            `json:"parentMessageId,omitempty"`
}

type ReadResp struct {
	Marked      int64 `json:"marked"`
	UnreadCount int64 `json:"unreadCount"`
}

func writeErr(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("[API] request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	code := errs.ErrInternal.Code
	if ce, ok := errs.As(err); ok {
		code = ce.Code
	}
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": errs.Message(err)})
}

func bindEvent(c *gin.Context) (EventReq, bool) {
	var req EventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, errs.ErrInvalidPayload.WrapMsg(err.Error()))
		return req, false
	}
	req.Event = strings.TrimSpace(req.Event)
	if req.Event == "" {
		writeErr(c, errs.ErrInvalidPayload.WrapMsg("event required"))
		return req, false
	}
	return req, true
}

// PushToUser 用户不在线时 delivered=false，不算错误
func (a *API) PushToUser(c *gin.Context) {
	req, ok := bindEvent(c)
	if !ok {
		return
	}
	userID := c.Param("id")
	err := a.Gateway.SendToUser(userID, req.Event, req.Payload)
	if err != nil && !errors.Is(err, errs.ErrNotConnected) {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": err == nil})
}

func (a *API) PushToConversation(c *gin.Context) {
	req, ok := bindEvent(c)
	if !ok {
		return
	}
	if err := a.Gateway.SendToConversation(c.Param("id"), req.Event, req.Payload); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SendMessage 与 send_message 事件走同一条链路
func (a *API) SendMessage(c *gin.Context) {
	var req SendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, errs.ErrInvalidPayload.WrapMsg(err.Error()))
		return
	}
	msg, err := a.Svc.SendMessage(c.Request.Context(), model.NewMessage{
		SenderID:       security.UserID(c),
		ConversationID: c.Param("id"),
		Content:        req.Content,
		Kind:           req.MessageType,
		ParentID:       req.ParentMessageID,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (a *API) MarkRead(c *gin.Context) {
	userID := security.UserID(c)
	conversationID := c.Param("id")
	marked, unread, err := a.Svc.MarkConversationRead(c.Request.Context(), conversationID, userID)
	if err != nil {
		writeErr(c, err)
		return
	}
	_ = a.Gateway.SendToUser(userID, model.EventUnreadCount, model.UnreadCount{Count: unread})
	if marked > 0 {
		_ = a.Gateway.SendToConversation(conversationID, model.EventMessagesRead, model.MessagesRead{
			ConversationID: conversationID,
			UserID:         userID,
			ReadAt:         time.Now().UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, ReadResp{Marked: marked, UnreadCount: unread})
}

func (a *API) Unread(c *gin.Context) {
	n, err := a.Svc.UnreadCount(c.Request.Context(), security.UserID(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, model.UnreadCount{Count: n})
}
