package model

import "time"

// 客户端 -> 服务端
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTyping            = "typing"
	EventMarkAsRead        = "mark_as_read"
	EventHeartbeat         = "heartbeat"
)

// 服务端 -> 客户端
const (
	EventMessageReceived    = "message_received"
	EventMessageSent        = "message_sent"
	EventTypingUpdate       = "typing_update"
	EventUnreadCount        = "unread_count"
	EventMessagesRead       = "messages_read"
	EventJoinedConversation = "joined_conversation"
	EventLeftConversation   = "left_conversation"
	EventHeartbeatAck       = "heartbeat_ack"
	EventError              = "error"
)

// Frame 线上帧：{"event": "...", "data": {...}}
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

type SendMessageReq struct {
	ConversationID  string      `json:"conversationId"`
	Content         string      `json:"content"`
	MessageType     MessageKind `json:"messageType,omitempty"`
	ParentMessageID string      `json:"parentMessageId,omitempty"`
}

type TypingReq struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type MessageReceived struct {
	Message        *Message `json:"message"`
	ConversationID string   `json:"conversationId"`
}

type MessageSent struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
}

type TypingUpdate struct {
	ConversationID string   `json:"conversationId"`
	TypingUsers    []string `json:"typingUsers"`
}

type UnreadCount struct {
	Count int64 `json:"count"`
}

type MessagesRead struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	ReadAt         string `json:"readAt"` // RFC3339
}

type HeartbeatAck struct {
	Timestamp int64 `json:"timestamp"` // unix ms
}

type ErrorEvent struct {
	Message string `json:"message"`
}
