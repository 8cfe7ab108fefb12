package push

import (
	"PChat/module/chat/model"
)

const (
	DefaultTitle      = "New Message"
	DefaultPreviewLen = 50
	TypeNewMessage    = "new_message"
)

// Notification 离线推送载荷，交给推送平台
type Notification struct {
	UserID         string `json:"userId"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	Data           Data   `json:"data"`
}

type Data struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// DedupID 同一消息对同一用户只推一次
func (n *Notification) DedupID() string { return n.MessageID + ":" + n.UserID }

// Build 由队列消息生成推送
func Build(msg *model.QueuedMessage, recipient string, previewLen int) *Notification {
	return &Notification{
		UserID:         recipient,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Title:          DefaultTitle,
		Body:           Preview(msg.Content, previewLen),
		Data: Data{
			Type:           TypeNewMessage,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
		},
	}
}

// Preview 按 rune 截断，超长补 "..."
func Preview(content string, n int) string {
	if n <= 0 {
		n = DefaultPreviewLen
	}
	r := []rune(content)
	if len(r) <= n {
		return content
	}
	return string(r[:n]) + "..."
}
